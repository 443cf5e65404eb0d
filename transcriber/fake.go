package transcriber

import (
	"context"
	"sync"
	"time"

	"murmur/recorder"
)

// Fake returns a fixed transcript. Delay is honoured against ctx so tests
// can exercise timeouts.
type Fake struct {
	Text  string
	Err   error
	Delay time.Duration

	mu    sync.Mutex
	calls int
	last  recorder.AudioClip
}

func NewFake(text string, err error) *Fake {
	return &Fake{Text: text, Err: err}
}

func (f *Fake) Name() string { return "fake" }

func (f *Fake) Transcribe(ctx context.Context, clip recorder.AudioClip) (string, error) {
	f.mu.Lock()
	f.calls++
	f.last = clip
	f.mu.Unlock()

	if f.Delay > 0 {
		select {
		case <-time.After(f.Delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.Err != nil {
		return "", f.Err
	}
	return f.Text, nil
}

func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *Fake) LastClip() recorder.AudioClip {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}
