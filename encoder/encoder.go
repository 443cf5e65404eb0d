package encoder

import (
	"fmt"
	"strings"
)

const (
	SampleRate    = 16000
	Channels      = 1
	BitsPerSample = 16
	BlockSize     = 4096
)

// Format names an upload container.
type Format string

const (
	WAV  Format = "wav"
	FLAC Format = "flac"
)

func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case WAV:
		return WAV, nil
	case FLAC:
		return FLAC, nil
	}
	return "", fmt.Errorf("unknown audio format %q (want wav or flac)", s)
}

func (f Format) ContentType() string {
	if f == FLAC {
		return "audio/flac"
	}
	return "audio/wav"
}

func (f Format) Filename() string { return "audio." + string(f) }

type Encoder interface {
	EncodeBlock(block []int16) error
	Close() error
	Bytes() []byte
	TotalFrames() uint64
}

func New(format Format, sampleRate int) (Encoder, error) {
	switch format {
	case WAV:
		return NewWAV(sampleRate), nil
	case FLAC:
		return NewFlac(sampleRate)
	}
	return nil, fmt.Errorf("unknown audio format %q", format)
}

// Encode encodes a whole mono clip in one call.
func Encode(format Format, samples []int16, sampleRate int) ([]byte, error) {
	enc, err := New(format, sampleRate)
	if err != nil {
		return nil, err
	}
	for i := 0; i < len(samples); i += BlockSize {
		end := min(i+BlockSize, len(samples))
		if err := enc.EncodeBlock(samples[i:end]); err != nil {
			return nil, err
		}
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("closing %s encoder: %w", format, err)
	}
	return enc.Bytes(), nil
}
