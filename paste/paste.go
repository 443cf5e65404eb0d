// Package paste delivers finished text into the focused application through
// the clipboard.
package paste

import (
	"context"
	"fmt"
	"sync"
	"time"

	"murmur/clipboard"
)

const DefaultRestoreDelay = 600 * time.Millisecond

type Clipboard interface {
	Read() (string, error)
	Copy(text string) error
}

type systemClipboard struct{}

func (systemClipboard) Read() (string, error)  { return clipboard.Read() }
func (systemClipboard) Copy(text string) error { return clipboard.Copy(text) }

// Sink copies text, presses the paste chord and optionally puts the previous
// clipboard content back afterwards.
type Sink struct {
	clip         Clipboard
	chord        func() error
	restore      bool
	restoreDelay time.Duration

	wg sync.WaitGroup
}

// New returns a Sink on the system clipboard.
func New(restore bool) *Sink {
	return NewSink(systemClipboard{}, clipboard.Paste, restore)
}

func NewSink(clip Clipboard, chord func() error, restore bool) *Sink {
	return &Sink{clip: clip, chord: chord, restore: restore, restoreDelay: DefaultRestoreDelay}
}

// SetRestoreDelay changes how long the pasted text stays on the clipboard.
func (s *Sink) SetRestoreDelay(d time.Duration) { s.restoreDelay = d }

func (s *Sink) Deliver(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var prev string
	if s.restore {
		prev, _ = s.clip.Read()
	}
	if err := s.clip.Copy(text); err != nil {
		return fmt.Errorf("copying to clipboard: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- s.chord() }()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("sending paste keystroke: %w", err)
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	if s.restore && prev != "" && prev != text {
		s.wg.Add(1)
		time.AfterFunc(s.restoreDelay, func() {
			defer s.wg.Done()
			s.clip.Copy(prev)
		})
	}
	return nil
}

// Wait blocks until pending clipboard restores have run.
func (s *Sink) Wait() { s.wg.Wait() }

// Recorder is a sink that only remembers what it was given.
type Recorder struct {
	Err error

	mu    sync.Mutex
	texts []string
}

func (r *Recorder) Deliver(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.texts = append(r.texts, text)
	return nil
}

func (r *Recorder) Texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.texts...)
}
