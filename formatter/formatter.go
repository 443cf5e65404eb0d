// Package formatter cleans up raw transcripts with a chat model.
package formatter

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	DefaultModel       = "gpt-4o-mini"
	DefaultTemperature = 0.2
	DefaultMaxTokens   = 128

	DefaultPrompt = "Format this dictated transcript: add punctuation and fix capitalization. " +
		"Do not change the meaning or the words and do not add any commentary."
)

var ErrEmptyOutput = errors.New("formatter returned no text")

type Formatter interface {
	Format(ctx context.Context, text string) (string, error)
}

// Instructed is implemented by formatters that accept a per-call system
// prompt in place of the default cleanup prompt.
type Instructed interface {
	FormatWith(ctx context.Context, text, instruction string) (string, error)
}

// Passthrough returns its input unchanged.
type Passthrough struct{}

func (Passthrough) Format(_ context.Context, text string) (string, error) { return text, nil }

func (Passthrough) FormatWith(_ context.Context, text, _ string) (string, error) { return text, nil }

type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Prompt      string
	Temperature float64
	MaxTokens   int64
}

type OpenAI struct {
	client openai.Client
	cfg    Config
}

func NewOpenAI(cfg Config) *OpenAI {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Prompt == "" {
		cfg.Prompt = DefaultPrompt
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAI{client: openai.NewClient(opts...), cfg: cfg}
}

func (o *OpenAI) Format(ctx context.Context, text string) (string, error) {
	return o.FormatWith(ctx, text, "")
}

// FormatWith runs one completion. Blank input is returned as is without a
// request.
func (o *OpenAI) FormatWith(ctx context.Context, text, instruction string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return text, nil
	}
	prompt := o.cfg.Prompt
	if instruction != "" {
		prompt = instruction
	}

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.cfg.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(prompt),
			openai.UserMessage(text),
		},
		Temperature: openai.Float(o.cfg.Temperature),
		MaxTokens:   openai.Int(o.cfg.MaxTokens),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyOutput
	}
	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	if out == "" {
		return "", ErrEmptyOutput
	}
	return out, nil
}
