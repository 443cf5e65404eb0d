package orchestrator

import "fmt"

type State int32

const (
	Idle State = iota
	RecordingHold
	RecordingToggle
	Busy
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case RecordingHold:
		return "recording_hold"
	case RecordingToggle:
		return "recording_toggle"
	case Busy:
		return "busy"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

func (s State) Recording() bool { return s == RecordingHold || s == RecordingToggle }

// Action is a control request from the gateway.
type Action string

const (
	ActionActivate Action = "activate"
	ActionIdle     Action = "idle"
	ActionMute     Action = "mute"
)

func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionActivate, ActionIdle, ActionMute:
		return a, nil
	}
	return "", fmt.Errorf("unknown action %q", s)
}
