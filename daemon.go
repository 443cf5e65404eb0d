package main

import (
	"context"
	"errors"
	"fmt"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"murmur/audio"
	"murmur/beep"
	"murmur/clipboard"
	"murmur/config"
	"murmur/formatter"
	"murmur/gateway"
	"murmur/hotkey"
	"murmur/log"
	"murmur/orchestrator"
	"murmur/paste"
	"murmur/recorder"
	"murmur/status"
	"murmur/transcriber"
)

const subscriberBuf = 16

// app is one wired daemon: audio in, hotkeys and gateway as intent sources,
// status out to cues and the TUI.
type app struct {
	cfg     config.Config
	keys    hotkey.Source
	binds   hotkey.Bindings
	status  *status.Broadcaster
	rec     *recorder.Recorder
	orch    *orchestrator.Orchestrator
	gateway *gateway.Server
	cues    *beep.Cues
}

func newApp(cfg config.Config, actx audio.Context, device *audio.DeviceInfo, keys hotkey.Source) (*app, error) {
	if !cfg.Gateway.Enabled && (!cfg.Hotkey.Enabled || keys == nil) {
		return nil, errors.New("hotkeys and gateway are both disabled, nothing can start a dictation")
	}
	tr, err := transcriber.New(cfg.TranscriberConfig())
	if err != nil {
		return nil, err
	}

	var fm orchestrator.Formatter
	if cfg.Formatter.Enabled {
		if cfg.Formatter.APIKey == "" {
			log.Warn("formatter enabled without OPENAI_API_KEY, pasting raw transcripts")
			cfg.Formatter.Enabled = false
		} else {
			fm = formatter.NewOpenAI(cfg.FormatterConfig())
		}
	}

	// a nil *paste.Sink inside the interface would not read as "no sink"
	var sink orchestrator.PasteSink
	if cfg.Paste.Enabled {
		if err := clipboard.Init(); err != nil {
			log.Warnf("virtual keyboard unavailable, text stays on the clipboard: %v", err)
		}
		sink = paste.New(cfg.Paste.RestoreClipboard)
	}

	rc := cfg.RecorderConfig()
	rc.Device = device
	rec := recorder.New(actx, rc)
	st := status.NewBroadcaster(cfg.Status.Revert.Duration)
	orch := orchestrator.New(rec, tr, fm, sink, st, cfg.OrchestratorConfig())

	a := &app{cfg: cfg, keys: keys, status: st, rec: rec, orch: orch}
	if cfg.Hotkey.Enabled && keys != nil {
		if a.binds, err = cfg.Bindings(); err != nil {
			return nil, err
		}
	}
	if cfg.Gateway.Enabled {
		a.gateway = gateway.New(cfg.Gateway.Listen, orch, st)
	}
	if cfg.UI.Beep || cfg.UI.Notify {
		a.cues = beep.New(cfg.UI.Beep, cfg.UI.Notify)
	}
	return a, nil
}

// run blocks until ctx is cancelled. A hotkey source that cannot be opened
// leaves the gateway as the only way in; it is fatal only without one.
func (a *app) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.orch.Run(ctx)
	}()

	if a.cues != nil {
		updates, unsubscribe := a.status.Subscribe(subscriberBuf)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer unsubscribe()
			a.cues.Run(ctx, updates)
		}()
	}

	errc := make(chan error, 1)
	if a.gateway != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.gateway.Run(ctx); err != nil {
				errc <- err
			}
		}()
	}

	if a.cfg.Hotkey.Enabled && a.keys != nil {
		classifier := hotkey.NewClassifier(a.binds, a.cfg.Hotkey.DoubleTapInterval.Duration)
		err := a.keys.Start(ctx, classifier.Handler(a.orch.Submit))
		switch {
		case errors.Is(err, hotkey.ErrTap) && a.gateway != nil:
			log.Warnf("%v; continuing with the control gateway only", err)
			a.status.Fail(err)
		case err != nil:
			cancel()
			wg.Wait()
			return err
		default:
			defer a.keys.Close()
			log.Infof("hotkeys: hold=%s toggle=%s tap=%s", a.binds.Hold, a.binds.Toggle, a.binds.Tap)
		}
	}

	var err error
	select {
	case <-ctx.Done():
	case err = <-errc:
		cancel()
	}
	wg.Wait()
	a.status.Close()
	return err
}

func (a *app) info(device *audio.DeviceInfo) []string {
	lines := []string{fmt.Sprintf("[%s | %s | format %s]",
		a.cfg.Transcriber.Provider, a.cfg.Transcriber.Format, onOff(a.cfg.Formatter.Enabled))}
	if device != nil {
		lines = append(lines, "mic: "+device.Name)
	} else {
		lines = append(lines, "mic: system default")
	}
	if a.gateway != nil {
		lines = append(lines, "gateway: http://"+a.gateway.Addr())
	}
	return lines
}

func (a *app) help() string {
	if !a.cfg.Hotkey.Enabled {
		return "hotkeys off, q to quit"
	}
	return fmt.Sprintf("hold %s, toggle %s, double-tap %s", a.binds.Hold, a.binds.Toggle, a.binds.Tap)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// attachTUI builds the terminal UI and routes results into it. Call before
// run; status updates are forwarded by forwardStatus.
func (a *app) attachTUI(device *audio.DeviceInfo) *tea.Program {
	p := newTUI(newTUIModel(a.rec.Level, a.info(device), a.help()))
	a.orch.OnResult(func(r orchestrator.Result) {
		go p.Send(resultMsg(r))
	})
	return p
}

func (a *app) forwardStatus(ctx context.Context, p *tea.Program) {
	updates, unsubscribe := a.status.Subscribe(subscriberBuf)
	go func() {
		defer unsubscribe()
		p.Send(statusMsg(a.status.Current()))
		for {
			select {
			case <-ctx.Done():
				return
			case u := <-updates:
				p.Send(statusMsg(u))
			}
		}
	}()
}
