package log

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const envLogPath = "MURMUR_LOG_PATH"

var (
	diagLog        zerolog.Logger
	diagFile       *os.File
	transcribeFile *os.File
	crashFile      *os.File
	logMu          sync.Mutex
	logReady       bool
	pid            int
	dir            string
)

// Upload describes one transcription request.
type Upload struct {
	Provider   string
	Format     string
	AudioS     float64
	RawKB      float64
	EncodedKB  float64
	EncodeMs   float64
	DNSMs      float64
	TLSMs      float64
	TTFBMs     float64
	TotalMs    float64
	ConnReused bool
	TLSProto   string
	RateLimit  string
}

// Pipeline describes one finished dictation.
type Pipeline struct {
	ID           string
	Source       string
	Outcome      string
	AudioS       float64
	TranscribeMs float64
	FormatMs     float64
	PasteMs      float64
	Chars        int
	Err          error
}

func ResolveDir(flagPath string) (string, error) {
	// Priority 1: --logpath flag
	if flagPath != "" {
		return absPath(flagPath)
	}
	// Priority 2: MURMUR_LOG_PATH
	if envPath := os.Getenv(envLogPath); envPath != "" {
		return absPath(envPath)
	}
	return defaultDir()
}

func absPath(p string) (string, error) {
	if filepath.IsAbs(p) {
		return p, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, p), nil
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}

	pid = os.Getpid()

	var err error
	diagFile, err = os.OpenFile(filepath.Join(dir, "diagnostics_log.txt"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	transcribeFile, err = os.OpenFile(filepath.Join(dir, "transcribe_log.txt"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		diagFile.Close()
		return err
	}

	crashFile, err = os.OpenFile(filepath.Join(dir, "crash_log.txt"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err == nil {
		_ = debug.SetCrashOutput(crashFile, debug.CrashOptions{})
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        diagFile,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}
	diagLog = zerolog.New(consoleWriter).With().Timestamp().Int("pid", pid).Logger()

	logReady = true
	return nil
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
	if transcribeFile != nil {
		transcribeFile.Close()
		transcribeFile = nil
	}
	if crashFile != nil {
		_ = debug.SetCrashOutput(nil, debug.CrashOptions{})
		crashFile.Close()
		crashFile = nil
	}
	logReady = false
}

// Logger returns the diagnostics logger, or a disabled one before Init.
func Logger() zerolog.Logger {
	if !logReady {
		return zerolog.Nop()
	}
	return diagLog
}

func Info(msg string) {
	if logReady {
		diagLog.Info().Msg(msg)
	}
}

func Infof(format string, args ...any) {
	if logReady {
		diagLog.Info().Msg(fmt.Sprintf(format, args...))
	}
}

func Error(msg string) {
	if logReady {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if logReady {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if logReady {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if logReady {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

func UploadMetrics(u Upload) {
	if !logReady {
		return
	}

	connStatus := "new"
	if u.ConnReused {
		connStatus = "reused"
	}

	ev := diagLog.Info().
		Str("provider", u.Provider).
		Str("format", u.Format).
		Str("conn", connStatus)
	if u.TLSProto != "" {
		ev = ev.Str("tls_proto", u.TLSProto)
	}
	if u.RateLimit != "" {
		ev = ev.Str("rate_limit", u.RateLimit)
	}
	ev.Float64("audio_s", u.AudioS).
		Float64("raw_kb", u.RawKB).
		Float64("encoded_kb", u.EncodedKB).
		Float64("encode_ms", u.EncodeMs).
		Float64("dns_ms", u.DNSMs).
		Float64("tls_ms", u.TLSMs).
		Float64("ttfb_ms", u.TTFBMs).
		Float64("total_ms", u.TotalMs).
		Msg("transcription")
}

func PipelineDone(p Pipeline) {
	if !logReady {
		return
	}
	ev := diagLog.Info()
	if p.Err != nil {
		ev = diagLog.Warn().Err(p.Err)
	}
	ev.Str("session", p.ID).
		Str("source", p.Source).
		Str("outcome", p.Outcome).
		Float64("audio_s", p.AudioS).
		Float64("transcribe_ms", p.TranscribeMs).
		Float64("format_ms", p.FormatMs).
		Float64("paste_ms", p.PasteMs).
		Int("chars", p.Chars).
		Msg("pipeline")
}

func Transition(from, to, intent string) {
	if !logReady {
		return
	}
	diagLog.Debug().
		Str("from", from).
		Str("to", to).
		Str("intent", intent).
		Msg("transition")
}

func Request(method, path string, status int, latency time.Duration) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("method", method).
		Str("path", path).
		Int("status", status).
		Dur("latency", latency).
		Msg("request")
}

func TranscriptionText(text string) {
	if !logReady {
		return
	}
	logMu.Lock()
	defer logMu.Unlock()
	line := fmt.Sprintf("%s\t[%d]\t%s\n", time.Now().Format("2006-01-02 15:04:05"), pid, text)
	transcribeFile.WriteString(line)
}

func SessionStart(provider, format string, formatting bool) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("provider", provider).
		Str("format", format).
		Bool("formatting", formatting).
		Msg("session_start")
}

func SessionEnd(count int) {
	if !logReady {
		return
	}
	diagLog.Info().
		Int("count", count).
		Msg("session_end")
}
