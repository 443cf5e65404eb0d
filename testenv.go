package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"murmur/audio"
	"murmur/config"
	"murmur/hotkey"
	"murmur/log"
	"murmur/orchestrator"
)

const waitTimeout = 30 * time.Second

// testDriver turns stdin commands into simulated key events for the headless
// test mode. Every finished dictation is printed as a RESULT line.
type testDriver struct {
	keys    *hotkey.FakeSource
	binds   hotkey.Bindings
	audio   *audio.FakeContext
	results <-chan orchestrator.Result
	out     io.Writer
}

// runTestMode replays wavPath as the microphone and reads commands from in:
//
//	KEYDOWN, KEYUP    press or release the hold key
//	TOGGLE            press the toggle key
//	DOUBLETAP         tap the tap key twice
//	WAIT              block until the next dictation finishes
//	WAIT_AUDIO_DONE   block until the whole clip has been captured
//	SLEEP <ms>
//	QUIT
func runTestMode(ctx context.Context, cfg config.Config, wavPath string, in io.Reader, out io.Writer) error {
	fctx, err := audio.NewFakeContextFromWAV(wavPath, true)
	if err != nil {
		return fmt.Errorf("loading %s: %w", wavPath, err)
	}

	cfg.Hotkey.Enabled = true
	cfg.UI = config.UIConfig{}
	keys := hotkey.NewFake()
	a, err := newApp(cfg, fctx, nil, keys)
	if err != nil {
		return err
	}

	results := make(chan orchestrator.Result, 16)
	a.orch.OnResult(func(r orchestrator.Result) {
		select {
		case results <- r:
		default:
			log.Warn("test mode: result dropped")
		}
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- a.run(ctx) }()

	d := &testDriver{keys: keys, binds: a.binds, audio: fctx, results: results, out: out}
	derr := d.drive(ctx, in)
	cancel()
	if err := <-errc; err != nil {
		return err
	}
	return derr
}

func (d *testDriver) drive(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		quit, err := d.exec(ctx, strings.TrimSpace(scanner.Text()))
		if err != nil || quit {
			return err
		}
	}
	return scanner.Err()
}

func (d *testDriver) exec(ctx context.Context, line string) (quit bool, err error) {
	cmd, arg, _ := strings.Cut(line, " ")
	switch cmd {
	case "":
	case "KEYDOWN":
		d.keys.SimKeydown(d.binds.Hold)
	case "KEYUP":
		d.keys.SimKeyup(d.binds.Hold)
	case "TOGGLE":
		d.keys.SimPress(d.binds.Toggle)
	case "DOUBLETAP":
		d.keys.SimPress(d.binds.Tap)
		d.keys.Advance(50 * time.Millisecond)
		d.keys.SimPress(d.binds.Tap)
		d.keys.Advance(time.Second)
	case "WAIT":
		select {
		case r := <-d.results:
			d.print(r)
		case <-time.After(waitTimeout):
			return false, fmt.Errorf("WAIT: no result after %s", waitTimeout)
		case <-ctx.Done():
			return true, nil
		}
	case "WAIT_AUDIO_DONE":
		return false, d.waitAudio(ctx)
	case "SLEEP":
		n, err := strconv.Atoi(arg)
		if err != nil {
			return false, fmt.Errorf("SLEEP %q: %w", arg, err)
		}
		select {
		case <-time.After(time.Duration(n) * time.Millisecond):
		case <-ctx.Done():
			return true, nil
		}
	case "QUIT":
		return true, nil
	default:
		return false, fmt.Errorf("unknown command %q", line)
	}
	return false, nil
}

func (d *testDriver) waitAudio(ctx context.Context) error {
	deadline := time.After(waitTimeout)
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for {
		if c := d.audio.Capture(); c != nil {
			select {
			case <-c.AudioDone():
				return nil
			case <-deadline:
				return fmt.Errorf("WAIT_AUDIO_DONE: clip not consumed after %s", waitTimeout)
			case <-ctx.Done():
				return nil
			}
		}
		select {
		case <-tick.C:
		case <-deadline:
			return fmt.Errorf("WAIT_AUDIO_DONE: capture never opened")
		case <-ctx.Done():
			return nil
		}
	}
}

func (d *testDriver) print(r orchestrator.Result) {
	if r.Err != nil {
		fmt.Fprintf(d.out, "RESULT failed %s: %v\n", r.Source, r.Err)
		return
	}
	fmt.Fprintf(d.out, "RESULT ok %s: %s\n", r.Source, r.Text)
}
