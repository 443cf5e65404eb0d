// Package transcriber turns a recorded clip into text using a hosted
// speech-to-text API.
package transcriber

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"murmur/encoder"
	"murmur/log"
	"murmur/recorder"
)

type NetworkMetrics struct {
	DNS         time.Duration
	ConnWait    time.Duration
	TCP         time.Duration
	TLS         time.Duration
	ReqHeaders  time.Duration
	ReqBody     time.Duration
	TTFB        time.Duration
	Download    time.Duration
	Total       time.Duration
	ConnReused  bool
	TLSProtocol string
}

func (m *NetworkMetrics) Sum() time.Duration {
	return m.ConnWait + m.DNS + m.TCP + m.TLS + m.ReqHeaders + m.ReqBody + m.TTFB + m.Download
}

func firstNonEmpty(h http.Header, keys ...string) string {
	for _, k := range keys {
		if v := h.Get(k); v != "" {
			return v
		}
	}
	return "?"
}

type Transcriber interface {
	Name() string
	Transcribe(ctx context.Context, clip recorder.AudioClip) (string, error)
}

// Warmer is implemented by transcribers that can pre-open their connection
// while the user is still speaking.
type Warmer interface {
	Warm(ctx context.Context)
}

// APIError is a non-2xx reply from a provider.
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error %d: %s", e.Provider, e.StatusCode, e.Message)
}

var ErrNoAPIKey = errors.New("no API key configured")

type Config struct {
	Provider string
	APIKey   string
	BaseURL  string
	Model    string
	Language string
	Format   encoder.Format
}

func New(cfg Config) (Transcriber, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s: %w", cfg.Provider, ErrNoAPIKey)
	}
	if cfg.Format == "" {
		cfg.Format = encoder.WAV
	}
	switch cfg.Provider {
	case "groq", "":
		return NewGroq(cfg), nil
	case "openai":
		return NewOpenAI(cfg), nil
	}
	return nil, fmt.Errorf("unknown transcription provider %q", cfg.Provider)
}

// encodedClip is a clip ready for upload.
type encodedClip struct {
	data       []byte
	format     encoder.Format
	audioS     float64
	rawKB      float64
	encodeTime time.Duration
}

func encodeClip(clip recorder.AudioClip, format encoder.Format) (*encodedClip, error) {
	if len(clip.Samples) == 0 {
		return nil, recorder.ErrEmptyRecording
	}
	start := time.Now()
	data, err := encoder.Encode(format, clip.Samples, clip.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", format, err)
	}
	return &encodedClip{
		data:       data,
		format:     format,
		audioS:     clip.Duration().Seconds(),
		rawKB:      float64(len(clip.Samples)*2) / 1024,
		encodeTime: time.Since(start),
	}, nil
}

func logUpload(provider string, ec *encodedClip, m *NetworkMetrics, rateLimit string) {
	u := log.Upload{
		Provider:  provider,
		Format:    string(ec.format),
		AudioS:    ec.audioS,
		RawKB:     ec.rawKB,
		EncodedKB: float64(len(ec.data)) / 1024,
		EncodeMs:  ms(ec.encodeTime),
		RateLimit: rateLimit,
	}
	if m != nil {
		u.DNSMs = ms(m.DNS)
		u.TLSMs = ms(m.TLS)
		u.TTFBMs = ms(m.TTFB)
		u.TotalMs = ms(m.Total)
		u.ConnReused = m.ConnReused
		u.TLSProto = m.TLSProtocol
	}
	log.UploadMetrics(u)
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
