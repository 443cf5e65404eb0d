package hotkey

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Code is a physical key code in the Linux input-event code space. Sources on
// other platforms translate into the same space.
type Code uint16

const (
	KeyEsc        Code = 1
	KeyMinus      Code = 12
	KeyEqual      Code = 13
	KeyTab        Code = 15
	KeyEnter      Code = 28
	KeyLeftCtrl   Code = 29
	KeySemicolon  Code = 39
	KeyGrave      Code = 41
	KeyLeftShift  Code = 42
	KeyBackslash  Code = 43
	KeyComma      Code = 51
	KeyDot        Code = 52
	KeySlash      Code = 53
	KeyRightShift Code = 54
	KeyLeftAlt    Code = 56
	KeySpace      Code = 57
	KeyCapsLock   Code = 58
	KeyScrollLock Code = 70
	KeyRightCtrl  Code = 97
	KeyRightAlt   Code = 100
	KeyPause      Code = 119
	KeyLeftMeta   Code = 125
	KeyRightMeta  Code = 126
)

// Mod is a bitmask of held modifier groups.
type Mod uint8

const (
	ModCtrl Mod = 1 << iota
	ModShift
	ModAlt
	ModSuper
)

func (m Mod) String() string {
	var parts []string
	for _, n := range modNames {
		if m&n.mod != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "+")
}

var modNames = []struct {
	name string
	mod  Mod
}{
	{"ctrl", ModCtrl},
	{"shift", ModShift},
	{"alt", ModAlt},
	{"super", ModSuper},
}

// ModOf reports which modifier group a key belongs to, or 0.
func ModOf(c Code) Mod {
	switch c {
	case KeyLeftCtrl, KeyRightCtrl:
		return ModCtrl
	case KeyLeftShift, KeyRightShift:
		return ModShift
	case KeyLeftAlt, KeyRightAlt:
		return ModAlt
	case KeyLeftMeta, KeyRightMeta:
		return ModSuper
	}
	return 0
}

// KeyEvent is one raw key transition. Mods holds the modifiers that were down
// when the transition happened, not counting the key itself.
type KeyEvent struct {
	Code Code
	Mods Mod
	Down bool
	At   time.Time
}

type Binding struct {
	Code Code
	Mods Mod
}

func (b Binding) String() string {
	name := keyName(b.Code)
	if b.Mods == 0 {
		return name
	}
	return b.Mods.String() + "+" + name
}

// Bindings names the three watched gestures.
type Bindings struct {
	Hold   Binding
	Toggle Binding
	Tap    Binding
}

// ParseBinding parses strings like "ctrl+shift+r" or "rightctrl". The last
// token is the key; the others must be modifier names.
func ParseBinding(s string) (Binding, error) {
	tokens := strings.Split(strings.ToLower(strings.TrimSpace(s)), "+")
	if len(tokens) == 0 || tokens[len(tokens)-1] == "" {
		return Binding{}, fmt.Errorf("empty key binding %q", s)
	}
	var b Binding
	for _, tok := range tokens[:len(tokens)-1] {
		m, ok := parseMod(strings.TrimSpace(tok))
		if !ok {
			return Binding{}, fmt.Errorf("unknown modifier %q in %q", tok, s)
		}
		b.Mods |= m
	}
	key := strings.TrimSpace(tokens[len(tokens)-1])
	code, ok := keyCodes[key]
	if !ok {
		return Binding{}, fmt.Errorf("unknown key %q in %q", key, s)
	}
	b.Code = code
	return b, nil
}

func parseMod(s string) (Mod, bool) {
	switch s {
	case "ctrl", "control":
		return ModCtrl, true
	case "shift":
		return ModShift, true
	case "alt", "option", "opt":
		return ModAlt, true
	case "super", "cmd", "meta", "win":
		return ModSuper, true
	}
	return 0, false
}

var keyCodes = map[string]Code{
	"esc": KeyEsc, "minus": KeyMinus, "equal": KeyEqual, "tab": KeyTab,
	"enter": KeyEnter, "semicolon": KeySemicolon, "grave": KeyGrave,
	"backslash": KeyBackslash, "comma": KeyComma, "period": KeyDot,
	"slash": KeySlash, "space": KeySpace, "capslock": KeyCapsLock,
	"scrolllock": KeyScrollLock, "pause": KeyPause,
	"leftctrl": KeyLeftCtrl, "rightctrl": KeyRightCtrl,
	"leftshift": KeyLeftShift, "rightshift": KeyRightShift,
	"leftalt": KeyLeftAlt, "rightalt": KeyRightAlt,
	"leftmeta": KeyLeftMeta, "rightmeta": KeyRightMeta,
}

func init() {
	for i, r := range "qwertyuiop" {
		keyCodes[string(r)] = Code(16 + i)
	}
	for i, r := range "asdfghjkl" {
		keyCodes[string(r)] = Code(30 + i)
	}
	for i, r := range "zxcvbnm" {
		keyCodes[string(r)] = Code(44 + i)
	}
	for i, r := range "1234567890" {
		keyCodes[string(r)] = Code(2 + i)
	}
	for i := 1; i <= 10; i++ {
		keyCodes[fmt.Sprintf("f%d", i)] = Code(58 + i)
	}
	keyCodes["f11"] = 87
	keyCodes["f12"] = 88
}

func keyName(c Code) string {
	for name, code := range keyCodes {
		if code == c {
			return name
		}
	}
	return fmt.Sprintf("key%d", c)
}

// Source delivers raw key transitions. emit is called from a single goroutine.
type Source interface {
	Start(ctx context.Context, emit func(KeyEvent)) error
	Close()
}

// ErrTap matches any *TapError.
var ErrTap = errors.New("hotkey source unavailable")

// TapError reports that the raw key source could not be opened. The daemon
// keeps running with only the control gateway when this happens.
type TapError struct {
	Err error
}

func (e *TapError) Error() string        { return "hotkey tap: " + e.Err.Error() }
func (e *TapError) Unwrap() error        { return e.Err }
func (e *TapError) Is(target error) bool { return target == ErrTap }
