package audio_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/lionelramela/deafcare/pkg/audio"
)

func constSamples(n int, v float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func pcmMic(samples []int16, format audio.Format) *audio.ReaderMicrophone {
	return audio.NewReaderMicrophone(bytes.NewReader(samplesToBytes(samples)), format)
}

func TestFramer_FixedFrames(t *testing.T) {
	t.Parallel()

	samples := make([]int16, 4096*2+100)
	for i := range samples {
		samples[i] = int16(i % 1000)
	}
	mic := pcmMic(samples, audio.Format{SampleRate: 16000, Channels: 1})
	f, err := audio.NewFramer(mic, 16000, 4096)
	if err != nil {
		t.Fatalf("NewFramer: %v", err)
	}

	var sizes []int
	var all []int16
	for {
		frame, err := f.Next(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if frame.SampleRate != 16000 || frame.Channels != 1 {
			t.Errorf("frame format = %dHz %dch, want 16000Hz mono", frame.SampleRate, frame.Channels)
		}
		sizes = append(sizes, len(frame.Data)/2)
		all = append(all, bytesToSamples(frame.Data)...)
	}

	want := []int{4096, 4096, 100}
	if len(sizes) != len(want) {
		t.Fatalf("frame sizes = %v, want %v", sizes, want)
	}
	for i := range want {
		if sizes[i] != want[i] {
			t.Errorf("frame %d size = %d, want %d", i, sizes[i], want[i])
		}
	}
	// Capture order is preserved across frames.
	for i := range samples {
		if all[i] != samples[i] {
			t.Fatalf("sample %d = %d, want %d", i, all[i], samples[i])
		}
	}
}

func TestFramer_DownmixesStereo(t *testing.T) {
	t.Parallel()

	// L=16384, R=0 averages to 8192.
	stereo := make([]int16, 8)
	for i := 0; i < len(stereo); i += 2 {
		stereo[i] = 16384
	}
	mic := pcmMic(stereo, audio.Format{SampleRate: 16000, Channels: 2})
	f, err := audio.NewFramer(mic, 16000, 4)
	if err != nil {
		t.Fatalf("NewFramer: %v", err)
	}
	frame, err := f.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	got := bytesToSamples(frame.Data)
	if len(got) != 4 {
		t.Fatalf("got %d samples, want 4", len(got))
	}
	for i, s := range got {
		if s != 8192 {
			t.Errorf("sample %d = %d, want 8192", i, s)
		}
	}
}

func TestFramer_ResamplesToTarget(t *testing.T) {
	t.Parallel()

	mic := pcmMic(make([]int16, 48000), audio.Format{SampleRate: 48000, Channels: 1})
	f, err := audio.NewFramer(mic, 16000, 4096)
	if err != nil {
		t.Fatalf("NewFramer: %v", err)
	}
	frame, err := f.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if frame.SampleRate != 16000 {
		t.Errorf("SampleRate = %d, want 16000", frame.SampleRate)
	}
	if n := len(frame.Data) / 2; n != 4096 {
		t.Errorf("frame size = %d, want 4096", n)
	}
}

func TestFramer_EmptySource(t *testing.T) {
	t.Parallel()

	mic := pcmMic(nil, audio.Format{SampleRate: 16000, Channels: 1})
	f, err := audio.NewFramer(mic, 16000, 4096)
	if err != nil {
		t.Fatalf("NewFramer: %v", err)
	}
	if _, err := f.Next(context.Background()); !errors.Is(err, io.EOF) {
		t.Fatalf("err = %v, want io.EOF", err)
	}
}

func TestNewFramer_InvalidFormat(t *testing.T) {
	t.Parallel()

	mic := pcmMic(nil, audio.Format{})
	if _, err := audio.NewFramer(mic, 16000, 4096); err == nil {
		t.Fatal("expected error for zero source format")
	}
}
