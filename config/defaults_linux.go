//go:build linux

package config

// evdev sees every key, but bare modifiers collide with chords and alt-tab,
// so the defaults sit on keys nothing else uses.
const (
	defaultHold   = "scrolllock"
	defaultToggle = "ctrl+shift+r"
	defaultTap    = "pause"
)
