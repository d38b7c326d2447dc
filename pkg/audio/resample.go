package audio

import (
	"fmt"
	"log/slog"
	"sync"
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns e.g. "48000Hz stereo".
func (f Format) String() string {
	ch := "mono"
	switch {
	case f.Channels == 2:
		ch = "stereo"
	case f.Channels > 2:
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// Resampler brings mono PCM16 frames to a target sample rate. It logs once on
// the first rate mismatch. A [Framer] owns one per capture stream; it is not
// safe for concurrent use.
type Resampler struct {
	Target int

	warnOnce sync.Once
}

// Resample returns frame at the target rate. A frame already at the target
// rate is returned unchanged. A frame with an odd byte count is dropped: the
// result has no data.
func (r *Resampler) Resample(frame AudioFrame) AudioFrame {
	if len(frame.Data)%2 != 0 {
		slog.Warn("audio: dropping frame with odd byte count", "bytes", len(frame.Data))
		return AudioFrame{SampleRate: r.Target, Channels: 1, Timestamp: frame.Timestamp}
	}
	if frame.SampleRate == r.Target {
		return frame
	}
	r.warnOnce.Do(func() {
		slog.Info("audio: resampling capture",
			"from", Format{frame.SampleRate, 1}, "to", Format{r.Target, 1})
	})
	return AudioFrame{
		Data:       ResampleMono16(frame.Data, frame.SampleRate, r.Target),
		SampleRate: r.Target,
		Channels:   1,
		Timestamp:  frame.Timestamp,
	}
}

// ResampleMono16 resamples little-endian mono PCM16 from srcRate to dstRate
// by linear interpolation. Equal or non-positive rates return pcm unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	sample := func(i int) int16 { return int16(pcm[i*2]) | int16(pcm[i*2+1])<<8 }

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstSamples {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)

		s0 := sample(idx)
		s1 := s0
		if idx+1 < srcSamples {
			s1 = sample(idx + 1)
		}
		v := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}
