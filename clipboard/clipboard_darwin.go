package clipboard

import "github.com/micmonay/keybd_event"

func settle() {}

func pasteModifier(kb *keybd_event.KeyBonding) {
	kb.HasSuper(true) // Cmd+V
}
