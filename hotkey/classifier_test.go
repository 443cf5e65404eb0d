package hotkey

import (
	"testing"
	"time"
)

var testKeys = Bindings{
	Hold:   Binding{Code: KeyRightCtrl},
	Toggle: Binding{Code: 19, Mods: ModCtrl | ModShift},
	Tap:    Binding{Code: KeyLeftAlt},
}

func ev(code Code, mods Mod, down bool, at time.Duration) KeyEvent {
	return KeyEvent{Code: code, Mods: mods, Down: down, At: time.Unix(100, 0).Add(at)}
}

func collect(c *Classifier, events ...KeyEvent) []Intent {
	var out []Intent
	for _, e := range events {
		if in, ok := c.Classify(e); ok {
			out = append(out, in)
		}
	}
	return out
}

func equalIntents(a, b []Intent) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestClassifier(t *testing.T) {
	ms := time.Millisecond
	for _, tt := range []struct {
		name   string
		events []KeyEvent
		want   []Intent
	}{
		{
			name:   "hold down and up",
			events: []KeyEvent{ev(KeyRightCtrl, 0, true, 0), ev(KeyRightCtrl, 0, false, 500*ms)},
			want:   []Intent{HoldDown, HoldUp},
		},
		{
			name: "hold key repeat suppressed",
			events: []KeyEvent{
				ev(KeyRightCtrl, 0, true, 0),
				ev(KeyRightCtrl, 0, true, 30*ms),
				ev(KeyRightCtrl, 0, true, 60*ms),
				ev(KeyRightCtrl, 0, false, 90*ms),
			},
			want: []Intent{HoldDown, HoldUp},
		},
		{
			name:   "stray hold up",
			events: []KeyEvent{ev(KeyRightCtrl, 0, false, 0)},
			want:   nil,
		},
		{
			name:   "toggle with exact modifiers",
			events: []KeyEvent{ev(19, ModCtrl|ModShift, true, 0), ev(19, ModCtrl|ModShift, false, 50*ms)},
			want:   []Intent{TogglePress},
		},
		{
			name:   "toggle with extra modifier ignored",
			events: []KeyEvent{ev(19, ModCtrl|ModShift|ModAlt, true, 0)},
			want:   nil,
		},
		{
			name:   "toggle missing modifier ignored",
			events: []KeyEvent{ev(19, ModCtrl, true, 0)},
			want:   nil,
		},
		{
			name: "toggle repeat suppressed",
			events: []KeyEvent{
				ev(19, ModCtrl|ModShift, true, 0),
				ev(19, ModCtrl|ModShift, true, 40*ms),
				ev(19, ModCtrl|ModShift, false, 80*ms),
				ev(19, ModCtrl|ModShift, true, 900*ms),
			},
			want: []Intent{TogglePress, TogglePress},
		},
		{
			name: "double tap within window",
			events: []KeyEvent{
				ev(KeyLeftAlt, 0, true, 0), ev(KeyLeftAlt, 0, false, 50*ms),
				ev(KeyLeftAlt, 0, true, 200*ms), ev(KeyLeftAlt, 0, false, 250*ms),
			},
			want: []Intent{DoubleTap},
		},
		{
			name: "taps too far apart",
			events: []KeyEvent{
				ev(KeyLeftAlt, 0, true, 0), ev(KeyLeftAlt, 0, false, 50*ms),
				ev(KeyLeftAlt, 0, true, 500*ms), ev(KeyLeftAlt, 0, false, 550*ms),
			},
			want: nil,
		},
		{
			name: "third tap starts a new window",
			events: []KeyEvent{
				ev(KeyLeftAlt, 0, true, 0), ev(KeyLeftAlt, 0, false, 20*ms),
				ev(KeyLeftAlt, 0, true, 100*ms), ev(KeyLeftAlt, 0, false, 120*ms),
				ev(KeyLeftAlt, 0, true, 200*ms), ev(KeyLeftAlt, 0, false, 220*ms),
			},
			want: []Intent{DoubleTap},
		},
		{
			name: "held tap key repeats are not taps",
			events: []KeyEvent{
				ev(KeyLeftAlt, 0, true, 0),
				ev(KeyLeftAlt, 0, true, 30*ms),
				ev(KeyLeftAlt, 0, true, 60*ms),
			},
			want: nil,
		},
		{
			name:   "unwatched key",
			events: []KeyEvent{ev(30, 0, true, 0), ev(30, 0, false, 10*ms)},
			want:   nil,
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClassifier(testKeys, DefaultDoubleTapInterval)
			got := collect(c, tt.events...)
			if !equalIntents(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassifierHoldRequiresModifiers(t *testing.T) {
	keys := testKeys
	keys.Hold = Binding{Code: KeySpace, Mods: ModCtrl | ModShift}
	c := NewClassifier(keys, 0)

	if _, ok := c.Classify(ev(KeySpace, ModCtrl, true, 0)); ok {
		t.Fatal("hold fired without shift")
	}
	if in, ok := c.Classify(ev(KeySpace, ModCtrl|ModShift|ModAlt, true, 0)); !ok || in != HoldDown {
		t.Fatalf("got %v %v, want HoldDown", in, ok)
	}
	// modifiers may already be released when the key comes up
	if in, ok := c.Classify(ev(KeySpace, 0, false, 0)); !ok || in != HoldUp {
		t.Fatalf("got %v %v, want HoldUp", in, ok)
	}
}

func TestClassifierHandlerDoesNotBlock(t *testing.T) {
	c := NewClassifier(testKeys, 0)
	queue := make(chan Intent, 1)
	submit := func(in Intent) bool {
		select {
		case queue <- in:
			return true
		default:
			return false
		}
	}
	h := c.Handler(submit)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			h(ev(KeyRightCtrl, 0, true, 0))
			h(ev(KeyRightCtrl, 0, false, 0))
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler blocked on a full queue")
	}
	if got := <-queue; got != HoldDown {
		t.Errorf("first queued intent = %v, want HoldDown", got)
	}
}

func TestFakeSource(t *testing.T) {
	f := NewFake()
	c := NewClassifier(testKeys, 0)
	var got []Intent
	if err := f.Start(t.Context(), c.Handler(func(in Intent) bool {
		got = append(got, in)
		return true
	})); err != nil {
		t.Fatal(err)
	}

	f.SimPress(testKeys.Tap)
	f.Advance(100 * time.Millisecond)
	f.SimPress(testKeys.Tap)
	f.SimPress(testKeys.Toggle)

	want := []Intent{DoubleTap, TogglePress}
	if !equalIntents(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}
