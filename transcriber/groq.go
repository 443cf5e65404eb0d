package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"

	"murmur/encoder"
	"murmur/recorder"
)

const (
	groqBaseURL      = "https://api.groq.com/openai/v1"
	groqDefaultModel = "whisper-large-v3-turbo"
)

type Segment struct {
	Text         string
	NoSpeechProb float64
	AvgLogProb   float64
	Start        float64
	End          float64
}

type Result struct {
	Text         string
	Metrics      *NetworkMetrics
	RateLimit    string
	NoSpeechProb float64
	AvgLogProb   float64
	Duration     float64
	Segments     []Segment
}

type Groq struct {
	client *TracedClient
	apiURL string
	apiKey string
	model  string
	lang   string
	format encoder.Format
}

func NewGroq(cfg Config) *Groq {
	base := cfg.BaseURL
	if base == "" {
		base = groqBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = groqDefaultModel
	}
	format := cfg.Format
	if format == "" {
		format = encoder.WAV
	}
	return &Groq{
		client: NewTracedClient(),
		apiURL: strings.TrimSuffix(base, "/") + "/audio/transcriptions",
		apiKey: cfg.APIKey,
		model:  model,
		lang:   cfg.Language,
		format: format,
	}
}

func (g *Groq) Name() string { return "groq" }

func (g *Groq) Warm(ctx context.Context) { g.client.WarmConnection(ctx, g.apiURL) }

func (g *Groq) Transcribe(ctx context.Context, clip recorder.AudioClip) (string, error) {
	res, err := g.TranscribeResult(ctx, clip)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

type groqResponse struct {
	Text     string  `json:"text"`
	Duration float64 `json:"duration"`
	Segments []struct {
		Text         string  `json:"text"`
		Start        float64 `json:"start"`
		End          float64 `json:"end"`
		NoSpeechProb float64 `json:"no_speech_prob"`
		AvgLogProb   float64 `json:"avg_logprob"`
	} `json:"segments"`
}

type groqError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// TranscribeResult uploads the clip and returns the full verbose reply.
func (g *Groq) TranscribeResult(ctx context.Context, clip recorder.AudioClip) (*Result, error) {
	ec, err := encodeClip(clip, g.format)
	if err != nil {
		return nil, err
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", g.format.Filename())
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(ec.data); err != nil {
		return nil, err
	}
	writer.WriteField("model", g.model)
	writer.WriteField("response_format", "verbose_json")
	writer.WriteField("temperature", "0")
	if g.lang != "" {
		writer.WriteField("language", g.lang)
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.apiURL, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("groq request: %w", err)
	}

	rateLimit := firstNonEmpty(resp.Header, "x-ratelimit-remaining-requests") + "/" +
		firstNonEmpty(resp.Header, "x-ratelimit-limit-requests")
	logUpload(g.Name(), ec, resp.Metrics, rateLimit)

	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(resp.Body))
		var ge groqError
		if json.Unmarshal(resp.Body, &ge) == nil && ge.Error.Message != "" {
			msg = ge.Error.Message
		}
		return nil, &APIError{Provider: g.Name(), StatusCode: resp.StatusCode, Message: msg}
	}

	var gResp groqResponse
	if err := json.Unmarshal(resp.Body, &gResp); err != nil {
		return nil, fmt.Errorf("groq response parse error: %w", err)
	}

	res := &Result{
		Text:      strings.TrimSpace(gResp.Text),
		Metrics:   resp.Metrics,
		RateLimit: rateLimit,
		Duration:  gResp.Duration,
	}
	if len(gResp.Segments) > 0 {
		var logProbSum float64
		for _, seg := range gResp.Segments {
			res.NoSpeechProb = max(res.NoSpeechProb, seg.NoSpeechProb)
			logProbSum += seg.AvgLogProb
			res.Segments = append(res.Segments, Segment{
				Text:         seg.Text,
				NoSpeechProb: seg.NoSpeechProb,
				AvgLogProb:   seg.AvgLogProb,
				Start:        seg.Start,
				End:          seg.End,
			})
		}
		res.AvgLogProb = logProbSum / float64(len(gResp.Segments))
	}
	return res, nil
}
