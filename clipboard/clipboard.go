// Package clipboard reads and writes the system clipboard and sends the
// platform paste chord to the focused window.
package clipboard

import (
	"sync"

	cb "github.com/atotto/clipboard"
	"github.com/micmonay/keybd_event"
)

var (
	kb     keybd_event.KeyBonding
	kbOnce sync.Once
	kbErr  error
)

func Read() (string, error) {
	return cb.ReadAll()
}

func Copy(text string) error {
	return cb.WriteAll(text)
}

// Init creates the virtual keyboard used by Paste. It is safe to call more
// than once; later calls return the first result.
func Init() error {
	kbOnce.Do(func() {
		kb, kbErr = keybd_event.NewKeyBonding()
		if kbErr == nil {
			settle()
		}
	})
	return kbErr
}

// Paste presses the paste chord once.
func Paste() error {
	if err := Init(); err != nil {
		return err
	}
	kb.Clear()
	kb.SetKeys(keybd_event.VK_V)
	pasteModifier(&kb)
	return kb.Launching()
}
