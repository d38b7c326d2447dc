package audio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
)

// ErrPermissionDenied is returned by an [Acquirer] when the user or the
// operating system refused access to the capture device.
var ErrPermissionDenied = errors.New("audio: microphone permission denied")

// Microphone is an open capture device delivering interleaved float32 samples.
type Microphone interface {
	// Format reports the native sample rate and channel count.
	Format() Format

	// ReadSamples fills buf with interleaved samples in [-1, 1] and returns
	// the number written. It returns io.EOF when the source is exhausted.
	ReadSamples(ctx context.Context, buf []float32) (int, error)

	// Close releases the device. Idempotent and safe to call while a
	// ReadSamples call is blocked.
	Close() error
}

// Acquirer opens a microphone. want is a hint; implementations may return a
// device with a different native format. Implementations must honour ctx
// cancellation and return [ErrPermissionDenied] on refusal.
type Acquirer func(ctx context.Context, want Format) (Microphone, error)

// ── File-backed microphone ────────────────────────────────────────────────────

// ReaderMicrophone reads little-endian PCM16 from an io.Reader. It backs the
// CLI's capture from a WAV file or a raw stream piped on stdin.
type ReaderMicrophone struct {
	r      *bufio.Reader
	closer io.Closer
	format Format
	raw    []byte
	closed atomic.Bool
}

// NewReaderMicrophone wraps r, which must carry raw PCM16 in format.
func NewReaderMicrophone(r io.Reader, format Format) *ReaderMicrophone {
	m := &ReaderMicrophone{r: bufio.NewReader(r), format: format}
	if c, ok := r.(io.Closer); ok {
		m.closer = c
	}
	return m
}

// FileAcquirer returns an Acquirer that captures from path. A path of "-"
// reads raw PCM16 from stdin in the requested format. Files with a RIFF/WAVE
// header use the header's format; other files are treated as raw PCM16.
func FileAcquirer(path string) Acquirer {
	return func(ctx context.Context, want Format) (Microphone, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if path == "-" {
			return NewReaderMicrophone(os.Stdin, want), nil
		}
		f, err := os.Open(path)
		if err != nil {
			if errors.Is(err, os.ErrPermission) {
				return nil, fmt.Errorf("%w: %w", ErrPermissionDenied, err)
			}
			return nil, fmt.Errorf("audio: open capture source: %w", err)
		}
		format, ok, err := readWAVHeader(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		if !ok {
			if _, err := f.Seek(0, io.SeekStart); err != nil {
				f.Close()
				return nil, fmt.Errorf("audio: rewind capture source: %w", err)
			}
			format = want
		}
		return NewReaderMicrophone(f, format), nil
	}
}

// Format implements Microphone.
func (m *ReaderMicrophone) Format() Format { return m.format }

// ReadSamples implements Microphone. Short reads are possible; a final odd
// byte is discarded.
func (m *ReaderMicrophone) ReadSamples(ctx context.Context, buf []float32) (int, error) {
	if m.closed.Load() {
		return 0, io.ErrClosedPipe
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if cap(m.raw) < len(buf)*2 {
		m.raw = make([]byte, len(buf)*2)
	}
	raw := m.raw[:len(buf)*2]
	n, err := io.ReadFull(m.r, raw)
	n -= n % 2
	copy(buf, PCM16ToFloat32(raw[:n]))
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = nil
		if n == 0 {
			err = io.EOF
		}
	}
	return n / 2, err
}

// Close implements Microphone.
func (m *ReaderMicrophone) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	if m.closer != nil && m.closer != os.Stdin {
		return m.closer.Close()
	}
	return nil
}
