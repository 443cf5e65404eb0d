package hotkey

import (
	"errors"
	"fmt"
	"testing"
)

func TestParseBinding(t *testing.T) {
	for _, tt := range []struct {
		in   string
		want Binding
	}{
		{"rightctrl", Binding{Code: KeyRightCtrl}},
		{"ctrl+shift+r", Binding{Code: 19, Mods: ModCtrl | ModShift}},
		{"Ctrl+Shift+Space", Binding{Code: KeySpace, Mods: ModCtrl | ModShift}},
		{"cmd+shift+slash", Binding{Code: KeySlash, Mods: ModSuper | ModShift}},
		{"leftalt", Binding{Code: KeyLeftAlt}},
		{"f9", Binding{Code: 67}},
		{"alt+0", Binding{Code: 11, Mods: ModAlt}},
	} {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseBinding(tt.in)
			if err != nil {
				t.Fatalf("ParseBinding(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseBindingErrors(t *testing.T) {
	for _, in := range []string{"", "ctrl+", "hyper+a", "ctrl+nosuchkey"} {
		if _, err := ParseBinding(in); err == nil {
			t.Errorf("ParseBinding(%q): expected error", in)
		}
	}
}

func TestBindingStringRoundTrip(t *testing.T) {
	for _, in := range []string{"ctrl+shift+r", "rightctrl", "alt+d"} {
		b, err := ParseBinding(in)
		if err != nil {
			t.Fatal(err)
		}
		if got := b.String(); got != in {
			t.Errorf("String() = %q, want %q", got, in)
		}
	}
}

func TestModOf(t *testing.T) {
	if ModOf(KeyRightCtrl) != ModCtrl || ModOf(KeyLeftShift) != ModShift || ModOf(KeyRightMeta) != ModSuper {
		t.Error("modifier mapping wrong")
	}
	if ModOf(KeySpace) != 0 {
		t.Error("space is not a modifier")
	}
}

func TestTapError(t *testing.T) {
	cause := errors.New("permission denied")
	err := fmt.Errorf("start: %w", &TapError{Err: cause})

	if !errors.Is(err, ErrTap) {
		t.Error("errors.Is(err, ErrTap) = false")
	}
	if !errors.Is(err, cause) {
		t.Error("cause not unwrapped")
	}
	var te *TapError
	if !errors.As(err, &te) {
		t.Fatal("errors.As failed")
	}
}

func TestFakeSourceStartError(t *testing.T) {
	f := NewFake()
	f.StartErr = errors.New("no devices")
	err := f.Start(t.Context(), func(KeyEvent) {})
	if !errors.Is(err, ErrTap) {
		t.Fatalf("got %v, want TapError", err)
	}
}
