package hotkey

import (
	"context"
	"sync"
	"time"
)

// FakeSource is a Source driven by the caller. Used by tests and the
// headless test mode.
type FakeSource struct {
	StartErr error

	mu   sync.Mutex
	emit func(KeyEvent)
	now  time.Time
}

func NewFake() *FakeSource {
	return &FakeSource{now: time.Unix(0, 0)}
}

func (f *FakeSource) Start(_ context.Context, emit func(KeyEvent)) error {
	if f.StartErr != nil {
		return &TapError{Err: f.StartErr}
	}
	f.mu.Lock()
	f.emit = emit
	f.mu.Unlock()
	return nil
}

func (f *FakeSource) Close() {
	f.mu.Lock()
	f.emit = nil
	f.mu.Unlock()
}

// Advance moves the fake clock used to stamp simulated events.
func (f *FakeSource) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func (f *FakeSource) send(b Binding, down bool) {
	f.mu.Lock()
	emit, at := f.emit, f.now
	f.mu.Unlock()
	if emit != nil {
		emit(KeyEvent{Code: b.Code, Mods: b.Mods, Down: down, At: at})
	}
}

func (f *FakeSource) SimKeydown(b Binding) { f.send(b, true) }
func (f *FakeSource) SimKeyup(b Binding)   { f.send(b, false) }

// SimPress sends a down followed by an up.
func (f *FakeSource) SimPress(b Binding) {
	f.send(b, true)
	f.send(b, false)
}
