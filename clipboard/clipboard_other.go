//go:build !darwin

package clipboard

import (
	"runtime"
	"time"

	"github.com/micmonay/keybd_event"
)

// settle waits for the compositor to pick up the new uinput device.
func settle() {
	if runtime.GOOS == "linux" {
		time.Sleep(2 * time.Second)
	}
}

func pasteModifier(kb *keybd_event.KeyBonding) {
	kb.HasCTRL(true)
}
