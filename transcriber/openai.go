package transcriber

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"murmur/encoder"
	"murmur/recorder"
)

const openAIDefaultModel = "gpt-4o-transcribe"

type OpenAI struct {
	client  openai.Client
	traced  *TracedClient
	baseURL string
	model   string
	lang    string
	format  encoder.Format
}

func NewOpenAI(cfg Config) *OpenAI {
	traced := NewTracedClient()
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(traced.HTTPClient()),
		option.WithMaxRetries(0),
	}
	base := "https://api.openai.com/v1"
	if cfg.BaseURL != "" {
		base = cfg.BaseURL
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.Model
	if model == "" {
		model = openAIDefaultModel
	}
	format := cfg.Format
	if format == "" {
		format = encoder.WAV
	}
	return &OpenAI{
		client:  openai.NewClient(opts...),
		traced:  traced,
		baseURL: base,
		model:   model,
		lang:    cfg.Language,
		format:  format,
	}
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) Warm(ctx context.Context) { o.traced.WarmConnection(ctx, o.baseURL) }

func (o *OpenAI) Transcribe(ctx context.Context, clip recorder.AudioClip) (string, error) {
	ec, err := encodeClip(clip, o.format)
	if err != nil {
		return "", err
	}

	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(ec.data), o.format.Filename(), o.format.ContentType()),
		Model: openai.AudioModel(o.model),
	}
	if o.lang != "" {
		params.Language = openai.String(o.lang)
	}

	start := time.Now()
	resp, err := o.client.Audio.Transcriptions.New(ctx, params)
	logUpload(o.Name(), ec, &NetworkMetrics{Total: time.Since(start)}, "")
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", &APIError{Provider: o.Name(), StatusCode: apiErr.StatusCode, Message: apiErr.Message}
		}
		return "", fmt.Errorf("openai request: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}
