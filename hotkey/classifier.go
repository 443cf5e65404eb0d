package hotkey

import (
	"sync"
	"time"
)

type Intent int

const (
	HoldDown Intent = iota + 1
	HoldUp
	TogglePress
	DoubleTap
)

func (i Intent) String() string {
	switch i {
	case HoldDown:
		return "hold_down"
	case HoldUp:
		return "hold_up"
	case TogglePress:
		return "toggle_press"
	case DoubleTap:
		return "double_tap"
	}
	return "unknown"
}

const DefaultDoubleTapInterval = 350 * time.Millisecond

// Classifier turns raw key transitions into intents. A down for a watched key
// that is already down is an auto-repeat and never produces an intent.
type Classifier struct {
	keys     Bindings
	interval time.Duration

	mu         sync.Mutex
	holdDown   bool
	toggleDown bool
	tapDown    bool
	lastTap    time.Time
}

func NewClassifier(keys Bindings, interval time.Duration) *Classifier {
	if interval <= 0 {
		interval = DefaultDoubleTapInterval
	}
	return &Classifier{keys: keys, interval: interval}
}

func (c *Classifier) Classify(ev KeyEvent) (Intent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev.Code {
	case c.keys.Hold.Code:
		return c.hold(ev)
	case c.keys.Toggle.Code:
		return c.toggle(ev)
	case c.keys.Tap.Code:
		return c.tap(ev)
	}
	return 0, false
}

func (c *Classifier) hold(ev KeyEvent) (Intent, bool) {
	if !ev.Down {
		if !c.holdDown {
			return 0, false
		}
		c.holdDown = false
		return HoldUp, true
	}
	if c.holdDown || ev.Mods&c.keys.Hold.Mods != c.keys.Hold.Mods {
		return 0, false
	}
	c.holdDown = true
	return HoldDown, true
}

func (c *Classifier) toggle(ev KeyEvent) (Intent, bool) {
	if !ev.Down {
		c.toggleDown = false
		return 0, false
	}
	if c.toggleDown {
		return 0, false
	}
	c.toggleDown = true
	if ev.Mods != c.keys.Toggle.Mods {
		return 0, false
	}
	return TogglePress, true
}

func (c *Classifier) tap(ev KeyEvent) (Intent, bool) {
	if !ev.Down {
		c.tapDown = false
		return 0, false
	}
	if c.tapDown {
		return 0, false
	}
	c.tapDown = true
	if ev.Mods&c.keys.Tap.Mods != c.keys.Tap.Mods {
		return 0, false
	}
	if !c.lastTap.IsZero() && ev.At.Sub(c.lastTap) < c.interval {
		c.lastTap = time.Time{}
		return DoubleTap, true
	}
	c.lastTap = ev.At
	return 0, false
}

// Handler returns an emit callback for a Source that forwards every intent to
// submit. submit must not block.
func (c *Classifier) Handler(submit func(Intent) bool) func(KeyEvent) {
	return func(ev KeyEvent) {
		if in, ok := c.Classify(ev); ok {
			submit(in)
		}
	}
}
