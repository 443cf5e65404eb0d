//go:build !linux

package hotkey

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.design/x/hotkey"
)

// comboSource registers each binding as a global hotkey and replays its
// keydown/keyup as raw transitions. Bare modifier keys cannot be grabbed this
// way, so every binding needs a regular key.
type comboSource struct {
	keys Bindings
	hks  []*hotkey.Hotkey
	once sync.Once
}

func New(keys Bindings) Source {
	return &comboSource{keys: keys}
}

var comboKeys = map[Code]hotkey.Key{
	KeySpace: hotkey.KeySpace, KeyEnter: hotkey.KeyReturn, KeyTab: hotkey.KeyTab, KeyEsc: hotkey.KeyEscape,
	16: hotkey.KeyQ, 17: hotkey.KeyW, 18: hotkey.KeyE, 19: hotkey.KeyR, 20: hotkey.KeyT,
	21: hotkey.KeyY, 22: hotkey.KeyU, 23: hotkey.KeyI, 24: hotkey.KeyO, 25: hotkey.KeyP,
	30: hotkey.KeyA, 31: hotkey.KeyS, 32: hotkey.KeyD, 33: hotkey.KeyF, 34: hotkey.KeyG,
	35: hotkey.KeyH, 36: hotkey.KeyJ, 37: hotkey.KeyK, 38: hotkey.KeyL,
	44: hotkey.KeyZ, 45: hotkey.KeyX, 46: hotkey.KeyC, 47: hotkey.KeyV, 48: hotkey.KeyB,
	49: hotkey.KeyN, 50: hotkey.KeyM,
	2: hotkey.Key1, 3: hotkey.Key2, 4: hotkey.Key3, 5: hotkey.Key4, 6: hotkey.Key5,
	7: hotkey.Key6, 8: hotkey.Key7, 9: hotkey.Key8, 10: hotkey.Key9, 11: hotkey.Key0,
	59: hotkey.KeyF1, 60: hotkey.KeyF2, 61: hotkey.KeyF3, 62: hotkey.KeyF4, 63: hotkey.KeyF5,
	64: hotkey.KeyF6, 65: hotkey.KeyF7, 66: hotkey.KeyF8, 67: hotkey.KeyF9, 68: hotkey.KeyF10,
	87: hotkey.KeyF11, 88: hotkey.KeyF12,
}

func comboMods(m Mod) ([]hotkey.Modifier, error) {
	if m&^(ModCtrl|ModShift) != 0 {
		return nil, fmt.Errorf("modifier %s not supported here, use ctrl or shift", m)
	}
	var mods []hotkey.Modifier
	if m&ModCtrl != 0 {
		mods = append(mods, hotkey.ModCtrl)
	}
	if m&ModShift != 0 {
		mods = append(mods, hotkey.ModShift)
	}
	return mods, nil
}

func (s *comboSource) Start(ctx context.Context, emit func(KeyEvent)) error {
	events := make(chan KeyEvent, 16)
	for _, b := range []Binding{s.keys.Hold, s.keys.Toggle, s.keys.Tap} {
		key, ok := comboKeys[b.Code]
		if !ok {
			s.Close()
			return &TapError{Err: fmt.Errorf("key %s cannot be registered as a global hotkey", b)}
		}
		mods, err := comboMods(b.Mods)
		if err != nil {
			s.Close()
			return &TapError{Err: err}
		}
		hk := hotkey.New(mods, key)
		if err := hk.Register(); err != nil {
			s.Close()
			return &TapError{Err: fmt.Errorf("register %s: %w", b, err)}
		}
		s.hks = append(s.hks, hk)
		go forward(ctx, hk, b, events)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				s.Close()
				return
			case ev := <-events:
				emit(ev)
			}
		}
	}()
	return nil
}

func forward(ctx context.Context, hk *hotkey.Hotkey, b Binding, out chan<- KeyEvent) {
	for {
		var down bool
		select {
		case <-ctx.Done():
			return
		case <-hk.Keydown():
			down = true
		case <-hk.Keyup():
		}
		select {
		case out <- KeyEvent{Code: b.Code, Mods: b.Mods, Down: down, At: time.Now()}:
		default:
		}
	}
}

func (s *comboSource) Close() {
	s.once.Do(func() {
		for _, hk := range s.hks {
			hk.Unregister()
		}
	})
}

func Diagnose() (string, error) {
	return "global hotkey registration available (ctrl/shift combinations)", nil
}
