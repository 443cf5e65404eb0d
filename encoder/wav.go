package encoder

import (
	"errors"
	"fmt"
	"io"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const wavFormatPCM = 1

// seekBuffer is an in-memory io.WriteSeeker, which the wav encoder needs to
// patch chunk sizes on Close.
type seekBuffer struct {
	buf []byte
	pos int
}

func (s *seekBuffer) Write(p []byte) (int, error) {
	if end := s.pos + len(p); end > len(s.buf) {
		s.buf = append(s.buf, make([]byte, end-len(s.buf))...)
	}
	n := copy(s.buf[s.pos:], p)
	s.pos += n
	return n, nil
}

func (s *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(s.pos) + offset
	case io.SeekEnd:
		abs = int64(len(s.buf)) + offset
	default:
		return 0, errors.New("seekBuffer: invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("seekBuffer: negative position")
	}
	s.pos = int(abs)
	return abs, nil
}

type WAVEncoder struct {
	out         *seekBuffer
	enc         *wav.Encoder
	format      *audio.Format
	totalFrames uint64
}

func NewWAV(sampleRate int) *WAVEncoder {
	out := &seekBuffer{}
	return &WAVEncoder{
		out:    out,
		enc:    wav.NewEncoder(out, sampleRate, BitsPerSample, Channels, wavFormatPCM),
		format: &audio.Format{NumChannels: Channels, SampleRate: sampleRate},
	}
}

func (e *WAVEncoder) EncodeBlock(block []int16) error {
	if len(block) == 0 {
		return nil
	}
	data := make([]int, len(block))
	for i, s := range block {
		data[i] = int(s)
	}
	buf := &audio.IntBuffer{Format: e.format, Data: data, SourceBitDepth: BitsPerSample}
	if err := e.enc.Write(buf); err != nil {
		return fmt.Errorf("writing wav samples: %w", err)
	}
	e.totalFrames += uint64(len(block))
	return nil
}

// Close finalises the header. A clip with no samples still gets a header.
func (e *WAVEncoder) Close() error {
	if e.totalFrames == 0 {
		if err := e.enc.Write(&audio.IntBuffer{Format: e.format, SourceBitDepth: BitsPerSample}); err != nil {
			return err
		}
	}
	return e.enc.Close()
}

func (e *WAVEncoder) Bytes() []byte       { return e.out.buf }
func (e *WAVEncoder) TotalFrames() uint64 { return e.totalFrames }

// DecodeWAV reads a PCM WAV into mono int16 samples. Multi-channel input is
// downmixed and other bit depths are rescaled to 16 bits.
func DecodeWAV(r io.ReadSeeker) ([]int16, int, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		if err := dec.Err(); err != nil {
			return nil, 0, fmt.Errorf("invalid wav: %w", err)
		}
		return nil, 0, errors.New("invalid wav")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("reading wav samples: %w", err)
	}
	channels := max(buf.Format.NumChannels, 1)
	depth := buf.SourceBitDepth
	if depth == 0 {
		depth = int(dec.BitDepth)
	}

	samples := make([]int16, len(buf.Data)/channels)
	for i := range samples {
		var sum int
		for c := 0; c < channels; c++ {
			sum += rescale(buf.Data[i*channels+c], depth)
		}
		samples[i] = int16(sum / channels)
	}
	return samples, buf.Format.SampleRate, nil
}

func rescale(v, depth int) int {
	switch {
	case depth == 8:
		// 8-bit wav is unsigned
		return (v - 128) << 8
	case depth > BitsPerSample:
		return v >> (depth - BitsPerSample)
	}
	return v
}
