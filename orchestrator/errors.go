package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"murmur/hotkey"
	"murmur/recorder"
)

var (
	ErrEmptyRecording = recorder.ErrEmptyRecording
	ErrTimeout        = errors.New("timed out")
	ErrNoSpeech       = errors.New("no speech detected")
	ErrBusy           = errors.New("busy")
	ErrMuted          = errors.New("muted")
	ErrStopped        = errors.New("orchestrator stopped")
)

// HotkeyTapError means the global key source could not be opened.
type HotkeyTapError = hotkey.TapError

type TranscriptionError struct{ Err error }

func (e *TranscriptionError) Error() string { return "transcription failed: " + e.Err.Error() }
func (e *TranscriptionError) Unwrap() error { return e.Err }

type FormattingError struct{ Err error }

func (e *FormattingError) Error() string { return "formatting failed: " + e.Err.Error() }
func (e *FormattingError) Unwrap() error { return e.Err }

type PasteError struct{ Err error }

func (e *PasteError) Error() string { return "paste failed: " + e.Err.Error() }
func (e *PasteError) Unwrap() error { return e.Err }

// deadline marks err with ErrTimeout when ctx's own deadline fired.
func deadline(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, ErrTimeout) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}
