// Package doctor walks the user through interactive checks of every piece a
// dictation depends on.
package doctor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"murmur/audio"
	"murmur/clipboard"
	"murmur/config"
	"murmur/formatter"
	"murmur/hotkey"
	"murmur/paste"
	"murmur/recorder"
	"murmur/transcriber"
)

const (
	hotkeyWait  = 10 * time.Second
	listenFor   = 3 * time.Second
	levelPoll   = 50 * time.Millisecond
	doctorToken = "murmur-doctor-test"
)

type doctor struct {
	cfg config.Config
	in  *bufio.Reader
	out io.Writer

	clip recorder.AudioClip
}

// Run executes the checks and returns an exit code (0=all pass, 1=any fail).
func Run(ctx context.Context, cfg config.Config, in io.Reader, out io.Writer) int {
	restore := saveTerminal()
	defer restore()

	d := &doctor{cfg: cfg, in: bufio.NewReader(in), out: out}
	fmt.Fprintln(out, "murmur doctor - interactive system diagnostics")
	fmt.Fprintln(out, "==============================================")

	steps := []struct {
		name string
		run  func(context.Context) bool
	}{
		{"Hotkey detection", d.checkHotkey},
		{"Microphone level", d.checkMicrophone},
		{"Transcription", d.checkTranscription},
		{"Formatting", d.checkFormatter},
		{"Clipboard and paste", d.checkClipboard},
	}

	failed := 0
	for i, s := range steps {
		if ctx.Err() != nil {
			fmt.Fprintln(out, "\nInterrupted")
			return 1
		}
		fmt.Fprintf(out, "\n[%d/%d] %s\n", i+1, len(steps), s.name)
		if !s.run(ctx) {
			failed++
		}
		restore()
	}

	fmt.Fprintln(out)
	if failed == 0 {
		fmt.Fprintln(out, "All checks passed!")
		return 0
	}
	fmt.Fprintf(out, "%d check(s) failed. See details above.\n", failed)
	return 1
}

func (d *doctor) pass(format string, args ...any) bool {
	fmt.Fprintf(d.out, "  PASS: "+format+"\n", args...)
	return true
}

func (d *doctor) fail(format string, args ...any) bool {
	fmt.Fprintf(d.out, "  FAIL: "+format+"\n", args...)
	return false
}

func (d *doctor) confirm(question string) bool {
	fmt.Fprintf(d.out, "%s [y/n]: ", question)
	return yes(d.in)
}

func yes(r *bufio.Reader) bool {
	answer, _ := r.ReadString('\n')
	answer = strings.TrimSpace(strings.ToLower(answer))
	return answer == "y" || answer == "yes"
}

func (d *doctor) checkHotkey(ctx context.Context) bool {
	if !d.cfg.Hotkey.Enabled {
		fmt.Fprintln(d.out, "  SKIP: hotkeys disabled in config")
		return true
	}
	msg, err := hotkey.Diagnose()
	if err != nil {
		return d.fail("%v", err)
	}
	fmt.Fprintf(d.out, "  %s\n", msg)
	keys, err := d.cfg.Bindings()
	if err != nil {
		return d.fail("%v", err)
	}

	fmt.Fprintf(d.out, "Press %s...\n", keys.Toggle)
	in, err := waitIntent(ctx, hotkey.New(keys), keys, d.cfg.Hotkey.DoubleTapInterval.Duration, hotkeyWait)
	if err != nil {
		return d.fail("%v", err)
	}
	return d.pass("hotkey detected (%s)", in)
}

// waitIntent starts src and returns the first intent the bindings produce.
func waitIntent(ctx context.Context, src hotkey.Source, keys hotkey.Bindings, interval, timeout time.Duration) (hotkey.Intent, error) {
	got := make(chan hotkey.Intent, 1)
	c := hotkey.NewClassifier(keys, interval)
	if err := src.Start(ctx, c.Handler(func(in hotkey.Intent) bool {
		select {
		case got <- in:
		default:
		}
		return true
	})); err != nil {
		return 0, err
	}
	defer src.Close()

	select {
	case in := <-got:
		return in, nil
	case <-time.After(timeout):
		return 0, errors.New("timeout waiting for hotkey")
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (d *doctor) checkMicrophone(ctx context.Context) bool {
	actx, err := audio.NewContext()
	if err != nil {
		return d.fail("cannot connect to audio: %v", err)
	}
	defer actx.Close()

	rc := d.cfg.RecorderConfig()
	if name := d.cfg.Audio.Device; name != "" {
		dev, err := audio.FindDevice(actx, name)
		if err != nil {
			return d.fail("%v", err)
		}
		rc.Device = dev
		if audio.IsBluetooth(dev.Name) {
			fmt.Fprintln(d.out, "  Warning: Bluetooth headsets drop to low quality audio while recording")
		}
	}
	// silence must not end the check early
	rc.Hangover = time.Hour
	rec := recorder.New(actx, rc)

	fmt.Fprintf(d.out, "Press Enter and speak for %.0f seconds...", listenFor.Seconds())
	d.in.ReadString('\n')

	peak, clip, err := measure(ctx, rec, listenFor)
	if err != nil {
		return d.fail("recording error: %v", err)
	}
	d.clip = clip
	fmt.Fprintf(d.out, "  Recorded %.1fs, loudest block %.1f dBFS (threshold %.1f)\n",
		clip.Duration().Seconds(), peak, rc.ThresholdDB)

	ok, advice := levelVerdict(peak, rc.ThresholdDB)
	if !ok {
		return d.fail("%s", advice)
	}
	return d.pass("%s", advice)
}

// measure records for dur and reports the loudest analysed block.
func measure(ctx context.Context, rec *recorder.Recorder, dur time.Duration) (float64, recorder.AudioClip, error) {
	if err := rec.Start(ctx); err != nil {
		return 0, recorder.AudioClip{}, err
	}
	peak := recorder.LevelDB(nil)
	ticker := time.NewTicker(levelPoll)
	defer ticker.Stop()
	deadline := time.After(dur)

loop:
	for {
		select {
		case <-ticker.C:
			peak = max(peak, rec.Level())
		case <-deadline:
			break loop
		case <-ctx.Done():
			break loop
		}
	}
	peak = max(peak, rec.Level())
	clip, err := rec.Stop()
	return peak, clip, err
}

func levelVerdict(peak, threshold float64) (bool, string) {
	switch {
	case peak <= threshold:
		return false, "no speech above the silence threshold; check the input device or lower silence.threshold_db"
	case peak < threshold+10:
		return true, "speech is barely above the threshold; sessions may end early"
	}
	return true, "speech level is well above the threshold"
}

func (d *doctor) checkTranscription(ctx context.Context) bool {
	if len(d.clip.Samples) == 0 {
		fmt.Fprintln(d.out, "  SKIP: no recording from the previous step")
		return true
	}
	tr, err := transcriber.New(d.cfg.TranscriberConfig())
	if err != nil {
		return d.fail("%v", err)
	}
	tctx, cancel := context.WithTimeout(ctx, d.cfg.Transcriber.Timeout.Duration)
	defer cancel()

	fmt.Fprintf(d.out, "  Transcribing with %s...\n", tr.Name())
	text, err := tr.Transcribe(tctx, d.clip)
	if err != nil {
		return d.fail("transcription error: %v", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		text = "(no speech detected)"
	}
	fmt.Fprintf(d.out, "\n  Transcribed text: %s\n\n", text)
	if !d.confirm("Is this correct?") {
		return d.fail("transcription not confirmed")
	}
	return d.pass("transcription verified by user")
}

func (d *doctor) checkFormatter(ctx context.Context) bool {
	if !d.cfg.Formatter.Enabled {
		fmt.Fprintln(d.out, "  SKIP: formatting disabled")
		return true
	}
	fc := d.cfg.FormatterConfig()
	if fc.APIKey == "" {
		return d.fail("formatting is enabled but OPENAI_API_KEY is not set")
	}
	fm := formatter.NewOpenAI(fc)
	fctx, cancel := context.WithTimeout(ctx, d.cfg.Formatter.Timeout.Duration)
	defer cancel()

	const sample = "um so this is uh a test of the the formatter"
	out, err := fm.Format(fctx, sample)
	if err != nil {
		return d.fail("formatter error: %v", err)
	}
	fmt.Fprintf(d.out, "  %q\n  -> %q\n", sample, out)
	return d.pass("formatter responded")
}

func (d *doctor) checkClipboard(ctx context.Context) bool {
	if !d.cfg.Paste.Enabled {
		fmt.Fprintln(d.out, "  SKIP: paste disabled")
		return true
	}
	if err := clipboard.Init(); err != nil {
		fmt.Fprintf(d.out, "  Warning: paste init: %v\n", err)
	}

	const sentinel = "murmur-preserve-check"
	if err := clipboard.Copy(sentinel); err != nil {
		return d.fail("clipboard copy failed: %v", err)
	}

	fmt.Fprintln(d.out, "Focus on a text editor window...")
	for i := 5; i > 0; i-- {
		fmt.Fprintf(d.out, "  %d...\n", i)
		time.Sleep(time.Second)
	}

	sink := paste.New(true)
	sink.SetRestoreDelay(300 * time.Millisecond)
	pctx, cancel := context.WithTimeout(ctx, d.cfg.Paste.Timeout.Duration)
	defer cancel()
	if err := sink.Deliver(pctx, doctorToken); err != nil {
		return d.fail("paste failed: %v", err)
	}
	sink.Wait()

	if !d.confirm(fmt.Sprintf("Did the text %q appear?", doctorToken)) {
		return d.fail("clipboard/paste not confirmed")
	}
	d.pass("clipboard and paste verified by user")

	restored, err := clipboard.Read()
	if err != nil {
		return d.fail("could not read clipboard after restore: %v", err)
	}
	if restored != sentinel {
		return d.fail("clipboard not preserved (got %q, want %q)", restored, sentinel)
	}
	return d.pass("clipboard preservation verified")
}

// saveTerminal snapshots the terminal mode. Key grabbing can leave it raw.
func saveTerminal() func() {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return func() {}
	}
	state, err := term.GetState(fd)
	if err != nil {
		return func() {}
	}
	return func() { term.Restore(fd, state) }
}
