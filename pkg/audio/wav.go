package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const wavHeaderSize = 44

// EncodeWAV wraps little-endian PCM16 in a canonical 44-byte RIFF/WAVE header.
func EncodeWAV(pcm []byte, format Format) []byte {
	channels := max(format.Channels, 1)
	blockAlign := channels * 2
	byteRate := format.SampleRate * blockAlign

	out := make([]byte, wavHeaderSize+len(pcm))
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+len(pcm)))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(out[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:28], uint32(format.SampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:36], 16)
	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(pcm)))
	copy(out[wavHeaderSize:], pcm)
	return out
}

// readWAVHeader consumes a RIFF/WAVE header from r up to the start of the
// data chunk. ok is false when r does not start with a RIFF/WAVE header.
func readWAVHeader(r io.ReadSeeker) (format Format, ok bool, err error) {
	header := make([]byte, 12)
	if _, err := io.ReadFull(r, header); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Format{}, false, nil
		}
		return Format{}, false, fmt.Errorf("audio: read wav header: %w", err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return Format{}, false, nil
	}

	var bitsPerSample uint16
	for {
		var chunk [8]byte
		if _, err := io.ReadFull(r, chunk[:]); err != nil {
			return Format{}, true, fmt.Errorf("audio: read wav chunk: %w", err)
		}
		id := string(chunk[0:4])
		size := binary.LittleEndian.Uint32(chunk[4:8])

		switch id {
		case "fmt ":
			buf := make([]byte, size)
			if _, err := io.ReadFull(r, buf); err != nil {
				return Format{}, true, fmt.Errorf("audio: read wav fmt: %w", err)
			}
			if len(buf) < 16 {
				return Format{}, true, errors.New("audio: invalid wav fmt chunk")
			}
			format.Channels = int(binary.LittleEndian.Uint16(buf[2:4]))
			format.SampleRate = int(binary.LittleEndian.Uint32(buf[4:8]))
			bitsPerSample = binary.LittleEndian.Uint16(buf[14:16])
		case "data":
			if format.SampleRate == 0 || format.Channels == 0 {
				return Format{}, true, errors.New("audio: wav data before fmt chunk")
			}
			if bitsPerSample != 16 {
				return Format{}, true, fmt.Errorf("audio: unsupported wav bit depth %d", bitsPerSample)
			}
			return format, true, nil
		default:
			skip := int64(size)
			if skip%2 == 1 {
				skip++
			}
			if _, err := r.Seek(skip, io.SeekCurrent); err != nil {
				return Format{}, true, fmt.Errorf("audio: skip wav chunk: %w", err)
			}
		}
	}
}
