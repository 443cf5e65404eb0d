//go:build !linux

package config

// Registered hotkeys need a non-modifier key.
const (
	defaultHold   = "ctrl+shift+space"
	defaultToggle = "ctrl+shift+r"
	defaultTap    = "ctrl+shift+d"
)
