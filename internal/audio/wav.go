package audio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

const (
	numChannels   = 1
	bitsPerSample = 16
	pcmFormat     = 1
)

var ErrNotWAV = errors.New("not a PCM16LE WAV object")

// EncodeWAV wraps raw PCM16LE mono audio bytes in a WAV container.
// A nil or empty pcm slice yields a valid zero-length recording.
func EncodeWAV(pcm []byte, sampleRate int) []byte {
	var buf bytes.Buffer
	// bytes.Buffer writes cannot fail.
	_ = WriteWAVTo(&buf, pcm, sampleRate)
	return buf.Bytes()
}

// WriteWAVTo writes raw PCM16LE mono audio bytes to out as a WAV stream.
func WriteWAVTo(out io.Writer, pcm []byte, sampleRate int) error {
	if sampleRate <= 0 {
		sampleRate = 16000
	}

	dataSize := uint32(len(pcm))
	byteRate := uint32(sampleRate * numChannels * bitsPerSample / 8)
	blockAlign := uint16(numChannels * bitsPerSample / 8)

	w := bufio.NewWriter(out)

	if _, err := w.WriteString("RIFF"); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(36)+dataSize); err != nil {
		return err
	}
	if _, err := w.WriteString("WAVE"); err != nil {
		return err
	}

	if _, err := w.WriteString("fmt "); err != nil {
		return err
	}
	for _, v := range []any{
		uint32(16),
		uint16(pcmFormat),
		uint16(numChannels),
		uint32(sampleRate),
		byteRate,
		blockAlign,
		uint16(bitsPerSample),
	} {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}

	if _, err := w.WriteString("data"); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, dataSize); err != nil {
		return err
	}
	if _, err := w.Write(pcm); err != nil {
		return err
	}
	return w.Flush()
}

// DecodeWAV extracts the PCM16LE payload and sample rate from a WAV object
// produced by EncodeWAV or any compatible mono PCM encoder.
func DecodeWAV(data []byte) (pcm []byte, sampleRate int, err error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, ErrNotWAV
	}

	rest := data[12:]
	var rate int
	for len(rest) >= 8 {
		id := string(rest[0:4])
		size := int(binary.LittleEndian.Uint32(rest[4:8]))
		body := rest[8:]
		if size > len(body) {
			return nil, 0, fmt.Errorf("%w: truncated %q chunk", ErrNotWAV, id)
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, fmt.Errorf("%w: short fmt chunk", ErrNotWAV)
			}
			if binary.LittleEndian.Uint16(body[0:2]) != pcmFormat {
				return nil, 0, fmt.Errorf("%w: unsupported audio format", ErrNotWAV)
			}
			rate = int(binary.LittleEndian.Uint32(body[4:8]))
		case "data":
			if rate <= 0 {
				return nil, 0, fmt.Errorf("%w: data chunk before fmt", ErrNotWAV)
			}
			return body[:size], rate, nil
		}
		// Chunks are word aligned.
		if size%2 == 1 {
			size++
		}
		if size > len(body) {
			break
		}
		rest = body[size:]
	}
	return nil, 0, fmt.Errorf("%w: missing data chunk", ErrNotWAV)
}

// PCMDuration reports the play time of raw PCM16LE mono audio bytes.
func PCMDuration(pcm []byte, sampleRate int) time.Duration {
	if sampleRate <= 0 || len(pcm) == 0 {
		return 0
	}
	samples := len(pcm) / (bitsPerSample / 8)
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
