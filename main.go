package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"murmur/audio"
	"murmur/config"
	"murmur/doctor"
	"murmur/hotkey"
	"murmur/log"
	"murmur/shutdown"
)

var version = "dev"

// errQuiet exits non-zero without printing anything more.
var errQuiet = errors.New("")

type rootOptions struct {
	config  string
	logPath string
	device  string
	test    string
	setup   bool
	noTUI   bool
	noKeys  bool
}

func execute() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errQuiet) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "murmur",
		Short: "Push-to-talk dictation: speak, and the text lands where your cursor is",
		Long: `murmur records while a hotkey is held (or between two presses), transcribes
the audio with Groq or OpenAI, optionally cleans the text up with an LLM and
pastes it into the focused window.

A local HTTP gateway exposes the same pipeline to other programs.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemon(cmd, opts)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.config, "config", config.DefaultPath(), "config file")
	pf.StringVar(&opts.logPath, "logpath", "", "log directory (default: OS-specific location, use ./ for current dir)")

	f := root.Flags()
	f.StringVar(&opts.device, "device", "", "use the named microphone")
	f.BoolVar(&opts.setup, "setup", false, "pick the microphone interactively")
	f.BoolVar(&opts.noTUI, "no-tui", false, "log to file only, no terminal UI")
	f.BoolVar(&opts.noKeys, "no-hotkey", false, "disable global hotkeys, gateway only")
	f.StringVar(&opts.test, "test", "", "headless test mode: replay this WAV as the microphone, commands on stdin")

	root.AddCommand(
		newDoctorCmd(opts),
		newConfigCmd(opts),
		newBenchCmd(opts),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "murmur %s\n", version)
			},
		},
	)
	return root
}

func newDoctorCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check hotkeys, microphone, transcription, formatting and paste interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.config)
			if err != nil {
				return err
			}
			defer startLogging(opts.logPath)()
			ctx, cancel := shutdown.Context(cmd.Context())
			defer cancel()
			if doctor.Run(ctx, cfg, cmd.InOrStdin(), cmd.OutOrStdout()) != 0 {
				return errQuiet
			}
			return nil
		},
	}
}

func newConfigCmd(opts *rootOptions) *cobra.Command {
	var showPath bool
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as TOML (API keys omitted)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if showPath {
				fmt.Fprintln(cmd.OutOrStdout(), opts.config)
				return nil
			}
			cfg, err := config.Load(opts.config)
			if err != nil {
				return err
			}
			return cfg.WriteTOML(cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&showPath, "path", false, "print the config file path instead")
	return cmd
}

func newBenchCmd(opts *rootOptions) *cobra.Command {
	var runs int
	cmd := &cobra.Command{
		Use:   "bench <wav-file>",
		Short: "Transcribe a WAV file repeatedly and report latency",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if runs < 1 {
				return fmt.Errorf("--runs must be at least 1")
			}
			cfg, err := config.Load(opts.config)
			if err != nil {
				return err
			}
			defer startLogging(opts.logPath)()
			ctx, cancel := shutdown.Context(cmd.Context())
			defer cancel()
			return runBench(ctx, cfg, args[0], runs, cmd.OutOrStdout())
		},
	}
	cmd.Flags().IntVar(&runs, "runs", 3, "number of uploads")
	return cmd
}

// startLogging opens the log files. Failure only costs diagnostics, so it is
// reported and the command carries on.
func startLogging(flagPath string) func() {
	dir, err := log.ResolveDir(flagPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not resolve log directory: %v\n", err)
		return func() {}
	}
	log.SetDir(dir)
	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
		return func() {}
	}
	return log.Close
}

func runDaemon(cmd *cobra.Command, opts *rootOptions) error {
	cfg, err := config.Load(opts.config)
	if err != nil {
		return err
	}
	if opts.noKeys {
		cfg.Hotkey.Enabled = false
	}
	if opts.noTUI {
		cfg.UI.TUI = false
	}

	defer startLogging(opts.logPath)()
	log.SessionStart(cfg.Transcriber.Provider, cfg.Transcriber.Format, cfg.Formatter.Enabled)

	ctx, cancel := shutdown.Context(cmd.Context())
	defer cancel()

	if opts.test != "" {
		return runTestMode(ctx, cfg, opts.test, cmd.InOrStdin(), cmd.OutOrStdout())
	}

	actx, err := audio.NewContext()
	if err != nil {
		return fmt.Errorf("initializing audio: %w", err)
	}
	defer actx.Close()

	device, err := resolveDevice(actx, cfg, opts)
	if err != nil {
		return err
	}

	var keys hotkey.Source
	if cfg.Hotkey.Enabled {
		binds, err := cfg.Bindings()
		if err != nil {
			return err
		}
		keys = hotkey.New(binds)
	}

	a, err := newApp(cfg, actx, device, keys)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if !cfg.UI.TUI || !term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Fprintf(out, "murmur %s running, logs in %s\n", version, log.Dir())
		for _, line := range a.info(device) {
			fmt.Fprintln(out, "  "+line)
		}
		return a.run(ctx)
	}

	p := a.attachTUI(device)
	ctx, stop := context.WithCancel(ctx)
	defer stop()
	a.forwardStatus(ctx, p)

	errc := make(chan error, 1)
	go func() {
		errc <- a.run(ctx)
		stop()
	}()
	go func() {
		<-ctx.Done()
		p.Quit()
	}()

	if _, err := p.Run(); err != nil {
		log.Errorf("tui: %v", err)
	}
	stop()
	return <-errc
}

// resolveDevice picks the microphone: --setup, then --device, then
// audio.device from the config. nil means the system default.
func resolveDevice(actx audio.Context, cfg config.Config, opts *rootOptions) (*audio.DeviceInfo, error) {
	var (
		dev *audio.DeviceInfo
		err error
	)
	switch {
	case opts.setup:
		dev, err = audio.SelectDevice(actx)
		if errors.Is(err, audio.ErrCancelled) {
			return nil, errQuiet
		}
	case opts.device != "":
		dev, err = audio.FindDevice(actx, opts.device)
	case cfg.Audio.Device != "":
		dev, err = audio.FindDevice(actx, cfg.Audio.Device)
		if err != nil {
			log.Warnf("%v, using the system default", err)
			return nil, nil
		}
	}
	if err != nil {
		return nil, err
	}
	if dev != nil && audio.IsBluetooth(dev.Name) {
		log.Warnf("%s looks like a Bluetooth headset; its mic is usually narrowband", dev.Name)
	}
	return dev, nil
}
