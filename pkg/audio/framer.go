package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// Framer turns a [Microphone] into fixed-size mono PCM16 frames at a target
// sample rate. Each call to Next reads exactly one frame's worth of source
// samples, downmixes, quantises and resamples it. Not safe for concurrent use.
type Framer struct {
	mic        Microphone
	src        Format
	target     Format
	frameSize  int
	resampler  *Resampler
	buf        []float32
	sent       int
	sourceDone bool
}

// NewFramer returns a Framer producing frames of frameSize samples at
// targetRate. The source is read in chunks that resample to frameSize.
func NewFramer(mic Microphone, targetRate, frameSize int) (*Framer, error) {
	src := mic.Format()
	if src.SampleRate <= 0 || src.Channels <= 0 {
		return nil, fmt.Errorf("audio: framer: invalid source format %s", src)
	}
	if targetRate <= 0 || frameSize <= 0 {
		return nil, fmt.Errorf("audio: framer: invalid target rate %d or frame size %d", targetRate, frameSize)
	}
	srcFrames := frameSize * src.SampleRate / targetRate
	if srcFrames == 0 {
		srcFrames = 1
	}
	target := Format{SampleRate: targetRate, Channels: 1}
	return &Framer{
		mic:       mic,
		src:       src,
		target:    target,
		frameSize: frameSize,
		resampler: &Resampler{Target: targetRate},
		buf:       make([]float32, srcFrames*src.Channels),
	}, nil
}

// Next blocks until one frame has been captured. The final frame may be
// shorter than the frame size. It returns io.EOF once the source is exhausted.
func (f *Framer) Next(ctx context.Context) (AudioFrame, error) {
	if f.sourceDone {
		return AudioFrame{}, io.EOF
	}

	filled := 0
	for filled < len(f.buf) {
		n, err := f.mic.ReadSamples(ctx, f.buf[filled:])
		filled += n
		if errors.Is(err, io.EOF) {
			f.sourceDone = true
			break
		}
		if err != nil {
			return AudioFrame{}, fmt.Errorf("audio: framer: read: %w", err)
		}
	}
	// Drop a trailing partial multi-channel frame.
	filled -= filled % f.src.Channels
	if filled == 0 {
		return AudioFrame{}, io.EOF
	}

	mono := DownmixFloat32(f.buf[:filled], f.src.Channels)
	frame := f.resampler.Resample(AudioFrame{
		Data:       Float32ToPCM16(mono),
		SampleRate: f.src.SampleRate,
		Channels:   1,
		Timestamp:  time.Duration(f.sent) * time.Second / time.Duration(f.target.SampleRate),
	})
	f.sent += len(frame.Data) / 2
	return frame, nil
}
