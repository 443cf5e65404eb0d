// Package config loads murmur's settings from TOML, .env and the environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"murmur/encoder"
	"murmur/formatter"
	"murmur/hotkey"
	"murmur/orchestrator"
	"murmur/recorder"
	"murmur/transcriber"
)

type Config struct {
	Audio       AudioConfig       `toml:"audio"`
	Silence     SilenceConfig     `toml:"silence"`
	Hotkey      HotkeyConfig      `toml:"hotkey"`
	Transcriber TranscriberConfig `toml:"transcriber"`
	Formatter   FormatterConfig   `toml:"formatter"`
	Paste       PasteConfig       `toml:"paste"`
	Gateway     GatewayConfig     `toml:"gateway"`
	UI          UIConfig          `toml:"ui"`
	Status      StatusConfig      `toml:"status"`
}

type AudioConfig struct {
	SampleRate int    `toml:"sample_rate"`
	Channels   int    `toml:"channels"`
	Device     string `toml:"device"`
}

type SilenceConfig struct {
	ThresholdDB float64  `toml:"threshold_db"`
	Hangover    Duration `toml:"hangover"`
}

type HotkeyConfig struct {
	Enabled           bool     `toml:"enabled"`
	Hold              string   `toml:"hold"`
	Toggle            string   `toml:"toggle"`
	Tap               string   `toml:"tap"`
	DoubleTapInterval Duration `toml:"double_tap_interval"`
}

type TranscriberConfig struct {
	Provider string   `toml:"provider"`
	Model    string   `toml:"model,omitempty"`
	BaseURL  string   `toml:"base_url,omitempty"`
	APIKey   string   `toml:"api_key,omitempty"`
	Language string   `toml:"language"`
	Format   string   `toml:"format"`
	Timeout  Duration `toml:"timeout"`
}

type FormatterConfig struct {
	Enabled bool     `toml:"enabled"`
	Model   string   `toml:"model"`
	BaseURL string   `toml:"base_url,omitempty"`
	APIKey  string   `toml:"api_key,omitempty"`
	Prompt  string   `toml:"prompt,omitempty"`
	Timeout Duration `toml:"timeout"`
}

type PasteConfig struct {
	Enabled          bool     `toml:"enabled"`
	Timeout          Duration `toml:"timeout"`
	RestoreClipboard bool     `toml:"restore_clipboard"`
}

type GatewayConfig struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
}

type UIConfig struct {
	TUI    bool `toml:"tui"`
	Beep   bool `toml:"beep"`
	Notify bool `toml:"notify"`
}

type StatusConfig struct {
	Revert Duration `toml:"revert"`
}

// Duration wraps time.Duration for TOML parsing
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func Default() Config {
	return Config{
		Audio: AudioConfig{SampleRate: recorder.DefaultSampleRate, Channels: 1},
		Silence: SilenceConfig{
			ThresholdDB: recorder.DefaultThresholdDB,
			Hangover:    Duration{recorder.DefaultHangover},
		},
		Hotkey: HotkeyConfig{
			Enabled:           true,
			Hold:              defaultHold,
			Toggle:            defaultToggle,
			Tap:               defaultTap,
			DoubleTapInterval: Duration{hotkey.DefaultDoubleTapInterval},
		},
		Transcriber: TranscriberConfig{
			Provider: "groq",
			Language: "en",
			Format:   string(encoder.WAV),
			Timeout:  Duration{orchestrator.DefaultTranscribeTimeout},
		},
		Formatter: FormatterConfig{
			Model:   formatter.DefaultModel,
			Timeout: Duration{orchestrator.DefaultFormatTimeout},
		},
		Paste: PasteConfig{
			Enabled:          true,
			Timeout:          Duration{orchestrator.DefaultPasteTimeout},
			RestoreClipboard: true,
		},
		Gateway: GatewayConfig{Enabled: true, Listen: "127.0.0.1:8237"},
		UI:      UIConfig{TUI: true, Beep: true, Notify: true},
		Status:  StatusConfig{Revert: Duration{time.Second}},
	}
}

// DefaultPath is config.toml in the user config directory.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "config.toml"
	}
	return filepath.Join(dir, "murmur", "config.toml")
}

// Load reads path over the defaults, then applies .env and environment
// overrides. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("reading %s: %w", path, err)
		default:
			if undecoded := md.Undecoded(); len(undecoded) > 0 {
				keys := make([]string, len(undecoded))
				for i, k := range undecoded {
					keys[i] = k.String()
				}
				return cfg, fmt.Errorf("%s: unknown keys %s", path, strings.Join(keys, ", "))
			}
		}
	}

	// .env never overrides variables that are already set
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("loading .env: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	if v, ok := os.LookupEnv("MURMUR_PROVIDER"); ok && v != "" {
		c.Transcriber.Provider = strings.ToLower(v)
	}
	if v, ok := os.LookupEnv("MURMUR_LANGUAGE"); ok {
		c.Transcriber.Language = v
	}
	if v, ok := os.LookupEnv("MURMUR_LISTEN"); ok && v != "" {
		c.Gateway.Listen = v
	}
	if v, ok := os.LookupEnv("MURMUR_FORMAT_ENABLED"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("MURMUR_FORMAT_ENABLED: %w", err)
		}
		c.Formatter.Enabled = b
	}

	openaiKey := os.Getenv("OPENAI_API_KEY")
	if c.Transcriber.APIKey == "" {
		switch c.Transcriber.Provider {
		case "groq":
			c.Transcriber.APIKey = os.Getenv("GROQ_API_KEY")
		case "openai":
			c.Transcriber.APIKey = openaiKey
		}
	}
	if c.Formatter.APIKey == "" {
		c.Formatter.APIKey = openaiKey
	}
	return nil
}

// Validate returns the first invalid setting.
func (c Config) Validate() error {
	switch {
	case c.Audio.SampleRate < 8000 || c.Audio.SampleRate > 48000:
		return fmt.Errorf("audio.sample_rate %d out of range [8000, 48000]", c.Audio.SampleRate)
	case c.Audio.Channels != 1:
		return fmt.Errorf("audio.channels must be 1, got %d", c.Audio.Channels)
	case c.Silence.ThresholdDB >= 0 || c.Silence.ThresholdDB < -120:
		return fmt.Errorf("silence.threshold_db %.1f out of range [-120, 0)", c.Silence.ThresholdDB)
	case c.Silence.Hangover.Duration <= 0:
		return errors.New("silence.hangover must be positive")
	case c.Hotkey.DoubleTapInterval.Duration <= 0 || c.Hotkey.DoubleTapInterval.Duration > 2*time.Second:
		return fmt.Errorf("hotkey.double_tap_interval %s out of range (0, 2s]", c.Hotkey.DoubleTapInterval)
	case c.Transcriber.Provider != "groq" && c.Transcriber.Provider != "openai":
		return fmt.Errorf("transcriber.provider %q: want groq or openai", c.Transcriber.Provider)
	case c.Transcriber.Timeout.Duration <= 0:
		return errors.New("transcriber.timeout must be positive")
	case c.Formatter.Timeout.Duration <= 0:
		return errors.New("formatter.timeout must be positive")
	case c.Paste.Timeout.Duration <= 0:
		return errors.New("paste.timeout must be positive")
	case c.Status.Revert.Duration <= 0:
		return errors.New("status.revert must be positive")
	}
	if _, err := encoder.ParseFormat(c.Transcriber.Format); err != nil {
		return fmt.Errorf("transcriber.format: %w", err)
	}
	if c.Gateway.Enabled {
		if _, _, err := net.SplitHostPort(c.Gateway.Listen); err != nil {
			return fmt.Errorf("gateway.listen: %w", err)
		}
	}
	if c.Hotkey.Enabled {
		if _, err := c.Bindings(); err != nil {
			return err
		}
	}
	return nil
}

// Bindings parses the three hotkeys. Each must use a different key.
func (c Config) Bindings() (hotkey.Bindings, error) {
	var b hotkey.Bindings
	for _, f := range []struct {
		name string
		in   string
		out  *hotkey.Binding
	}{
		{"hotkey.hold", c.Hotkey.Hold, &b.Hold},
		{"hotkey.toggle", c.Hotkey.Toggle, &b.Toggle},
		{"hotkey.tap", c.Hotkey.Tap, &b.Tap},
	} {
		parsed, err := hotkey.ParseBinding(f.in)
		if err != nil {
			return b, fmt.Errorf("%s: %w", f.name, err)
		}
		*f.out = parsed
	}
	if b.Hold.Code == b.Toggle.Code || b.Hold.Code == b.Tap.Code || b.Toggle.Code == b.Tap.Code {
		return b, fmt.Errorf("hotkeys %q, %q and %q must use different keys", c.Hotkey.Hold, c.Hotkey.Toggle, c.Hotkey.Tap)
	}
	return b, nil
}

func (c Config) RecorderConfig() recorder.Config {
	return recorder.Config{
		SampleRate:  c.Audio.SampleRate,
		Channels:    c.Audio.Channels,
		ThresholdDB: c.Silence.ThresholdDB,
		Hangover:    c.Silence.Hangover.Duration,
	}
}

func (c Config) TranscriberConfig() transcriber.Config {
	format, _ := encoder.ParseFormat(c.Transcriber.Format)
	return transcriber.Config{
		Provider: c.Transcriber.Provider,
		APIKey:   c.Transcriber.APIKey,
		BaseURL:  c.Transcriber.BaseURL,
		Model:    c.Transcriber.Model,
		Language: c.Transcriber.Language,
		Format:   format,
	}
}

func (c Config) FormatterConfig() formatter.Config {
	return formatter.Config{
		APIKey:  c.Formatter.APIKey,
		BaseURL: c.Formatter.BaseURL,
		Model:   c.Formatter.Model,
		Prompt:  c.Formatter.Prompt,
	}
}

func (c Config) OrchestratorConfig() orchestrator.Config {
	return orchestrator.Config{
		Formatting:        c.Formatter.Enabled,
		TranscribeTimeout: c.Transcriber.Timeout.Duration,
		FormatTimeout:     c.Formatter.Timeout.Duration,
		PasteTimeout:      c.Paste.Timeout.Duration,
		QueueSize:         orchestrator.DefaultQueueSize,
	}
}

// WriteTOML encodes the effective configuration with API keys left out.
func (c Config) WriteTOML(w io.Writer) error {
	c.Transcriber.APIKey = ""
	c.Formatter.APIKey = ""
	return toml.NewEncoder(w).Encode(c)
}
