//go:build windows

package beep

import "errors"

func newPlayer() (player, error) {
	return nil, errors.New("no PCM playback on windows")
}
