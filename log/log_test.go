package log

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func setupLogDir(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	SetDir(tmp)
	t.Cleanup(func() { Close(); SetDir("") })
	return tmp
}

func TestResolveDirFlag(t *testing.T) {
	got, err := ResolveDir("/tmp/mylog")
	if err != nil {
		t.Fatal(err)
	}
	if got != "/tmp/mylog" {
		t.Errorf("got %q, want /tmp/mylog", got)
	}
}

func TestResolveDirFlagRelative(t *testing.T) {
	got, err := ResolveDir("logs")
	if err != nil {
		t.Fatal(err)
	}
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(wd, "logs")
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestResolveDirEnv(t *testing.T) {
	t.Setenv("MURMUR_LOG_PATH", "/tmp/murmur-env-log")
	got, err := ResolveDir("")
	if err != nil {
		t.Fatal(err)
	}
	if got != "/tmp/murmur-env-log" {
		t.Errorf("got %q, want /tmp/murmur-env-log", got)
	}
}

func TestResolveDirDefault(t *testing.T) {
	t.Setenv("MURMUR_LOG_PATH", "")
	got, err := ResolveDir("")
	if err != nil {
		t.Fatal(err)
	}
	if got == "" {
		t.Error("expected non-empty default directory")
	}
}

func TestDefaultDirXDGState(t *testing.T) {
	if runtime.GOOS == "darwin" || runtime.GOOS == "windows" {
		t.Skip("XDG layout only")
	}
	t.Setenv("XDG_STATE_HOME", "/tmp/state")
	got, err := defaultDir()
	if err != nil {
		t.Fatal(err)
	}
	if got != "/tmp/state/murmur" {
		t.Errorf("got %q, want /tmp/state/murmur", got)
	}

	t.Setenv("XDG_STATE_HOME", "relative")
	home, _ := os.UserHomeDir()
	if got, _ := defaultDir(); got != filepath.Join(home, ".local", "state", "murmur") {
		t.Errorf("relative XDG_STATE_HOME not ignored: %q", got)
	}
}

func TestInitCreatesFiles(t *testing.T) {
	tmp := setupLogDir(t)

	if err := Init(); err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{"diagnostics_log.txt", "transcribe_log.txt", "crash_log.txt"} {
		path := filepath.Join(tmp, name)
		if _, err := os.Stat(path); err != nil {
			t.Errorf("%s not created: %v", name, err)
		}
	}
}

func TestTranscriptionText(t *testing.T) {
	tmp := setupLogDir(t)

	if err := Init(); err != nil {
		t.Fatal(err)
	}

	TranscriptionText("hello world")

	data, err := os.ReadFile(filepath.Join(tmp, "transcribe_log.txt"))
	if err != nil {
		t.Fatal(err)
	}
	line := string(data)
	if !strings.Contains(line, "hello world") {
		t.Errorf("transcribe_log.txt missing text, got: %q", line)
	}
	// format: "2006-01-02 15:04:05\t[pid]\ttext\n"
	if !strings.Contains(line, "\t") {
		t.Errorf("expected tab-separated format, got: %q", line)
	}
}

func TestCloseIdempotent(t *testing.T) {
	setupLogDir(t)

	if err := Init(); err != nil {
		t.Fatal(err)
	}
	Close()
	Close() // should not panic
}

func TestHelpersBeforeInit(t *testing.T) {
	Close()
	// must not panic or write anywhere
	Info("x")
	Errorf("x %d", 1)
	PipelineDone(Pipeline{ID: "a"})
	Request("GET", "/healthz", 200, 0)
	TranscriptionText("x")
	l := Logger()
	l.Info().Msg("dropped")
}

func TestStructuredEvents(t *testing.T) {
	tmp := setupLogDir(t)
	if err := Init(); err != nil {
		t.Fatal(err)
	}

	SessionStart("groq", "wav", true)
	Transition("idle", "recording_hold", "hold_down")
	PipelineDone(Pipeline{ID: "abc", Source: "hotkey", Outcome: "success", Chars: 12})
	PipelineDone(Pipeline{ID: "def", Outcome: "failed", Err: errors.New("upstream 500")})
	Request("POST", "/action", 200, 3*time.Millisecond)
	UploadMetrics(Upload{Provider: "groq", Format: "flac", ConnReused: true})
	SessionEnd(2)

	data, err := os.ReadFile(filepath.Join(tmp, "diagnostics_log.txt"))
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	for _, want := range []string{
		"session_start", "provider=groq", "formatting=true",
		"transition", "from=idle", "intent=hold_down",
		"pipeline", "session=abc", "outcome=success", "chars=12",
		"upstream 500", "WRN",
		"request", "path=/action", "status=200",
		"conn=reused", "session_end", "count=2",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("diagnostics log missing %q:\n%s", want, out)
		}
	}
}
