package formatter

import (
	"context"
	"sync"
)

// Fake returns Text (or the input when Text is empty) and records calls.
type Fake struct {
	Text string
	Err  error

	mu           sync.Mutex
	calls        int
	lastInput    string
	lastPrompted string
}

func (f *Fake) Format(ctx context.Context, text string) (string, error) {
	return f.FormatWith(ctx, text, "")
}

func (f *Fake) FormatWith(ctx context.Context, text, instruction string) (string, error) {
	f.mu.Lock()
	f.calls++
	f.lastInput = text
	f.lastPrompted = instruction
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if f.Err != nil {
		return "", f.Err
	}
	if f.Text == "" {
		return text, nil
	}
	return f.Text, nil
}

func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *Fake) LastInput() (text, instruction string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastInput, f.lastPrompted
}
