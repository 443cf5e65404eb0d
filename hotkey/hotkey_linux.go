//go:build linux

package hotkey

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	evKey       = 1
	valRelease  = 0
	valPress    = 1
	valRepeat   = 2
	inputEvSize = 24
)

// evdevSource reads every keyboard under /dev/input. Events from all devices
// are merged onto one goroutine before emit is called.
type evdevSource struct {
	files []*os.File
	once  sync.Once
}

func New(Bindings) Source {
	return &evdevSource{}
}

type rawKey struct {
	code  Code
	value int32
	at    time.Time
}

func (s *evdevSource) Start(ctx context.Context, emit func(KeyEvent)) error {
	keyboards, err := findKeyboards()
	if err != nil {
		return &TapError{Err: fmt.Errorf("finding keyboards: %w", err)}
	}
	if len(keyboards) == 0 {
		return &TapError{Err: fmt.Errorf("no keyboard devices found (is user in 'input' group?)")}
	}

	raw := make(chan rawKey, 64)
	for _, path := range keyboards {
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		s.files = append(s.files, f)
		go readEvents(f, raw)
	}
	if len(s.files) == 0 {
		return &TapError{Err: fmt.Errorf("could not open any keyboard device (run: sudo usermod -aG input $USER, then re-login)")}
	}

	go func() {
		<-ctx.Done()
		s.Close()
	}()
	go merge(ctx, raw, emit)
	return nil
}

func merge(ctx context.Context, raw <-chan rawKey, emit func(KeyEvent)) {
	held := make(map[Code]bool)
	for {
		var k rawKey
		select {
		case <-ctx.Done():
			return
		case k = <-raw:
		}

		var mods Mod
		for code, down := range held {
			if down && code != k.code {
				mods |= ModOf(code)
			}
		}
		down := k.value == valPress || k.value == valRepeat
		if ModOf(k.code) != 0 {
			held[k.code] = down
		}
		emit(KeyEvent{Code: k.code, Mods: mods, Down: down, At: k.at})
	}
}

func readEvents(f *os.File, out chan<- rawKey) {
	buf := make([]byte, inputEvSize*16)
	for {
		n, err := f.Read(buf)
		if err != nil {
			return
		}
		for i := 0; i+inputEvSize <= n; i += inputEvSize {
			evType := binary.LittleEndian.Uint16(buf[i+16:])
			if evType != evKey {
				continue
			}
			sec := int64(binary.LittleEndian.Uint64(buf[i:]))
			usec := int64(binary.LittleEndian.Uint64(buf[i+8:]))
			value := int32(binary.LittleEndian.Uint32(buf[i+20:]))
			if value != valPress && value != valRelease && value != valRepeat {
				continue
			}
			select {
			case out <- rawKey{
				code:  Code(binary.LittleEndian.Uint16(buf[i+18:])),
				value: value,
				at:    time.Unix(sec, usec*1000),
			}:
			default:
			}
		}
	}
}

func (s *evdevSource) Close() {
	s.once.Do(func() {
		for _, f := range s.files {
			f.Close()
		}
	})
}

func findKeyboards() ([]string, error) {
	entries, err := os.ReadDir("/dev/input")
	if err != nil {
		return nil, err
	}

	var keyboards []string
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), "event") {
			continue
		}
		if isKeyboard(e.Name()) {
			keyboards = append(keyboards, filepath.Join("/dev/input", e.Name()))
		}
	}
	return keyboards, nil
}

func isKeyboard(eventName string) bool {
	capsPath := filepath.Join("/sys/class/input", eventName, "device", "capabilities", "key")
	data, err := os.ReadFile(capsPath)
	if err != nil {
		return false
	}
	return len(strings.TrimSpace(string(data))) > 10
}

// Diagnose reports whether a keyboard device can be opened.
func Diagnose() (string, error) {
	keyboards, err := findKeyboards()
	if err != nil {
		return "", fmt.Errorf("cannot scan input devices: %w", err)
	}
	if len(keyboards) == 0 {
		return "", fmt.Errorf("no keyboard devices found (is user in 'input' group?)")
	}

	for _, path := range keyboards {
		if f, err := os.Open(path); err == nil {
			f.Close()
			return fmt.Sprintf("%d keyboard(s) found, opened %s", len(keyboards), path), nil
		}
	}
	return "", fmt.Errorf("found %d keyboard(s) but cannot open any (run: sudo usermod -aG input $USER)", len(keyboards))
}
