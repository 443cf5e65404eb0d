package log

import (
	"os"
	"path/filepath"
	"runtime"
)

const appName = "murmur"

// defaultDir is where logs go when neither --logpath nor MURMUR_LOG_PATH is
// set: ~/Library/Logs on macOS, the local cache dir on Windows and
// $XDG_STATE_HOME elsewhere.
func defaultDir() (string, error) {
	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "Library", "Logs", appName), nil
	case "windows":
		base, err := os.UserCacheDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(base, appName, "logs"), nil
	}
	if state := os.Getenv("XDG_STATE_HOME"); filepath.IsAbs(state) {
		return filepath.Join(state, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "state", appName), nil
}
