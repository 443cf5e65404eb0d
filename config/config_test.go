package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"murmur/encoder"
	"murmur/hotkey"
)

var envKeys = []string{
	"GROQ_API_KEY", "OPENAI_API_KEY", "MURMUR_PROVIDER",
	"MURMUR_FORMAT_ENABLED", "MURMUR_LISTEN", "MURMUR_LANGUAGE",
}

// isolate runs the test in an empty directory with no murmur variables set.
func isolate(t *testing.T) string {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatal(err)
	}
	if _, err := Default().Bindings(); err != nil {
		t.Fatal(err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	dir := isolate(t)
	cfg, err := Load(filepath.Join(dir, "nope.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Transcriber.Provider != "groq" || cfg.Gateway.Listen != "127.0.0.1:8237" {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}

func TestLoadFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.toml")
	writeFile(t, path, `
[silence]
threshold_db = -50.5
hangover = "1.2s"

[transcriber]
provider = "openai"
format = "flac"
language = ""

[formatter]
enabled = true

[gateway]
listen = "127.0.0.1:9000"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Silence.ThresholdDB != -50.5 || cfg.Silence.Hangover.Duration != 1200*time.Millisecond {
		t.Errorf("silence = %+v", cfg.Silence)
	}
	if cfg.Transcriber.Provider != "openai" || cfg.Transcriber.Language != "" {
		t.Errorf("transcriber = %+v", cfg.Transcriber)
	}
	if cfg.TranscriberConfig().Format != encoder.FLAC {
		t.Errorf("format = %v", cfg.TranscriberConfig().Format)
	}
	if !cfg.OrchestratorConfig().Formatting {
		t.Error("formatting not enabled")
	}
	if cfg.Gateway.Listen != "127.0.0.1:9000" {
		t.Errorf("listen = %q", cfg.Gateway.Listen)
	}
	// untouched sections keep their defaults
	if cfg.Audio.SampleRate != 16000 || !cfg.Paste.RestoreClipboard {
		t.Errorf("defaults lost: %+v %+v", cfg.Audio, cfg.Paste)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.toml")
	writeFile(t, path, "[silence]\nthreshhold_db = -40\n")
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "silence.threshhold_db") {
		t.Fatalf("got %v, want unknown key error", err)
	}
}

func TestLoadBadSyntax(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.toml")
	writeFile(t, path, "[audio\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestEnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("MURMUR_PROVIDER", "OpenAI")
	t.Setenv("OPENAI_API_KEY", "sk-openai")
	t.Setenv("GROQ_API_KEY", "gsk-groq")
	t.Setenv("MURMUR_FORMAT_ENABLED", "true")
	t.Setenv("MURMUR_LISTEN", "127.0.0.1:7000")
	t.Setenv("MURMUR_LANGUAGE", "de")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	tc := cfg.TranscriberConfig()
	if tc.Provider != "openai" || tc.APIKey != "sk-openai" || tc.Language != "de" {
		t.Errorf("transcriber = %+v", tc)
	}
	if cfg.FormatterConfig().APIKey != "sk-openai" || !cfg.Formatter.Enabled {
		t.Errorf("formatter = %+v", cfg.Formatter)
	}
	if cfg.Gateway.Listen != "127.0.0.1:7000" {
		t.Errorf("listen = %q", cfg.Gateway.Listen)
	}
}

func TestEnvBadBool(t *testing.T) {
	isolate(t)
	t.Setenv("MURMUR_FORMAT_ENABLED", "sometimes")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error")
	}
}

func TestDotEnv(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, ".env"), "GROQ_API_KEY=gsk-dotenv\nOPENAI_API_KEY=sk-dotenv\n")
	t.Setenv("OPENAI_API_KEY", "sk-real")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Transcriber.APIKey != "gsk-dotenv" {
		t.Errorf("groq key = %q", cfg.Transcriber.APIKey)
	}
	if cfg.Formatter.APIKey != "sk-real" {
		t.Errorf(".env overrode the environment: %q", cfg.Formatter.APIKey)
	}
}

func TestValidate(t *testing.T) {
	for _, tt := range []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"sample rate", func(c *Config) { c.Audio.SampleRate = 100 }, "audio.sample_rate"},
		{"stereo", func(c *Config) { c.Audio.Channels = 2 }, "audio.channels"},
		{"positive threshold", func(c *Config) { c.Silence.ThresholdDB = 3 }, "silence.threshold_db"},
		{"zero hangover", func(c *Config) { c.Silence.Hangover.Duration = 0 }, "silence.hangover"},
		{"long double tap", func(c *Config) { c.Hotkey.DoubleTapInterval.Duration = 5 * time.Second }, "double_tap_interval"},
		{"provider", func(c *Config) { c.Transcriber.Provider = "deepgram" }, "transcriber.provider"},
		{"format", func(c *Config) { c.Transcriber.Format = "mp3" }, "transcriber.format"},
		{"timeout", func(c *Config) { c.Paste.Timeout.Duration = -time.Second }, "paste.timeout"},
		{"listen", func(c *Config) { c.Gateway.Listen = "localhost" }, "gateway.listen"},
		{"bad hotkey", func(c *Config) { c.Hotkey.Toggle = "ctrl+nosuchkey" }, "hotkey.toggle"},
		{"duplicate hotkeys", func(c *Config) { c.Hotkey.Tap = c.Hotkey.Toggle }, "different keys"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(&c)
			err := c.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("got %v, want error mentioning %q", err, tt.want)
			}
		})
	}
}

func TestDisabledSectionsSkipValidation(t *testing.T) {
	c := Default()
	c.Hotkey.Enabled = false
	c.Hotkey.Hold = "not a key"
	c.Gateway.Enabled = false
	c.Gateway.Listen = ""
	if err := c.Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestRecorderConfig(t *testing.T) {
	c := Default()
	c.Silence.ThresholdDB = -40
	rc := c.RecorderConfig()
	if rc.SampleRate != 16000 || rc.Channels != 1 || rc.ThresholdDB != -40 || rc.Hangover != 800*time.Millisecond {
		t.Errorf("recorder config = %+v", rc)
	}
}

func TestWriteTOMLLeavesOutKeys(t *testing.T) {
	c := Default()
	c.Transcriber.APIKey = "gsk-secret"
	c.Formatter.APIKey = "sk-secret"

	var buf bytes.Buffer
	if err := c.WriteTOML(&buf); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if strings.Contains(out, "secret") {
		t.Errorf("API key written:\n%s", out)
	}
	for _, want := range []string{`hangover = "800ms"`, `listen = "127.0.0.1:8237"`, "[transcriber]"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
	if c.Transcriber.APIKey != "gsk-secret" {
		t.Error("WriteTOML modified the receiver")
	}
}

func TestDefaultBindingsAvoidBareModifiers(t *testing.T) {
	b, err := Default().Bindings()
	if err != nil {
		t.Fatal(err)
	}
	for name, k := range map[string]hotkey.Binding{"hold": b.Hold, "toggle": b.Toggle, "tap": b.Tap} {
		if hotkey.ModOf(k.Code) != 0 {
			t.Errorf("default %s key %v is a modifier", name, k)
		}
	}
}
