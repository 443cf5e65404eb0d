package audio

import (
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// ErrCancelled is returned when the picker is aborted with Ctrl+C.
var ErrCancelled = errors.New("device selection cancelled")

type pickAction int

const (
	pickNone pickAction = iota
	pickConfirm
	pickCancel
)

// pickKey applies one raw terminal read to the cursor position.
func pickKey(buf []byte, cursor, count int) (int, pickAction) {
	switch {
	case len(buf) == 1:
		switch buf[0] {
		case '\r', '\n':
			return cursor, pickConfirm
		case 3: // Ctrl+C
			return cursor, pickCancel
		case 'j':
			if cursor < count-1 {
				cursor++
			}
		case 'k':
			if cursor > 0 {
				cursor--
			}
		}
	case len(buf) == 3 && buf[0] == 0x1b && buf[1] == '[':
		switch buf[2] {
		case 'A':
			if cursor > 0 {
				cursor--
			}
		case 'B':
			if cursor < count-1 {
				cursor++
			}
		}
	}
	return cursor, pickNone
}

func renderDevices(w io.Writer, devices []DeviceInfo, cursor int) {
	fmt.Fprint(w, "\r\x1b[J")
	fmt.Fprint(w, "Select input device (↑/↓, Enter to confirm):\r\n\r\n")
	for i, d := range devices {
		btTag := ""
		if IsBluetooth(d.Name) {
			btTag = " \x1b[33m[⚠ Lower audio quality]\x1b[0m"
		}
		if i == cursor {
			fmt.Fprintf(w, "  \x1b[1;36m▶ %s%s\x1b[0m\r\n", d.Name, btTag)
		} else {
			fmt.Fprintf(w, "    %s%s\r\n", d.Name, btTag)
		}
	}
}

// SelectDevice presents an interactive device picker on the terminal and
// returns the chosen device. A single device is returned without prompting.
func SelectDevice(ctx Context) (*DeviceInfo, error) {
	devices, err := ctx.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerating devices: %w", err)
	}
	if len(devices) == 0 {
		return nil, errors.New("no capture devices found")
	}
	if len(devices) == 1 {
		return &devices[0], nil
	}

	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("setting raw mode: %w", err)
	}
	defer term.Restore(fd, oldState)

	out := os.Stdout
	cursor := 0
	renderDevices(out, devices, cursor)

	buf := make([]byte, 3)
	for {
		n, err := os.Stdin.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("reading input: %w", err)
		}
		var action pickAction
		cursor, action = pickKey(buf[:n], cursor, len(devices))
		switch action {
		case pickConfirm:
			fmt.Fprint(out, "\r\n")
			return &devices[cursor], nil
		case pickCancel:
			fmt.Fprint(out, "\r\n")
			return nil, ErrCancelled
		}
		fmt.Fprintf(out, "\x1b[%dA", len(devices)+2)
		renderDevices(out, devices, cursor)
	}
}
