package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"murmur/audio"
	"murmur/encoder"
	"murmur/formatter"
	"murmur/orchestrator"
	"murmur/paste"
	"murmur/recorder"
	"murmur/status"
	"murmur/transcriber"
)

type env struct {
	o   *orchestrator.Orchestrator
	st  *status.Broadcaster
	tr  *transcriber.Fake
	fm  *formatter.Fake
	srv *httptest.Server
}

func newEnv(t *testing.T, formatting bool, setup func(e *env)) *env {
	t.Helper()
	e := &env{
		st: status.NewBroadcaster(time.Hour),
		tr: transcriber.NewFake("hello world", nil),
		fm: &formatter.Fake{Text: "Hello world."},
	}
	t.Cleanup(e.st.Close)
	if setup != nil {
		setup(e)
	}

	rec := recorder.New(audio.NewFakeContext(nil, recorder.DefaultSampleRate, false), recorder.DefaultConfig())
	cfg := orchestrator.DefaultConfig()
	cfg.Formatting = formatting
	e.o = orchestrator.New(rec, e.tr, e.fm, &paste.Recorder{}, e.st, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	go e.o.Run(ctx)
	t.Cleanup(cancel)

	s := New("", e.o, e.st)
	e.srv = httptest.NewServer(s.Handler())
	t.Cleanup(e.srv.Close)
	t.Cleanup(func() { close(s.quit) })
	return e
}

func (e *env) do(t *testing.T, method, path, contentType string, body io.Reader) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, body)
	if err != nil {
		t.Fatal(err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := e.srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	out := map[string]any{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("%s %s: decoding body: %v", method, path, err)
	}
	return resp.StatusCode, out
}

func (e *env) postJSON(t *testing.T, path, body string) (int, map[string]any) {
	return e.do(t, http.MethodPost, path, "application/json", strings.NewReader(body))
}

func (e *env) postAudio(t *testing.T, path, field string, data []byte) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, "audio.wav")
	if err != nil {
		t.Fatal(err)
	}
	fw.Write(data)
	mw.Close()
	return e.do(t, http.MethodPost, path, mw.FormDataContentType(), &buf)
}

func speechWAV(t *testing.T, n int) []byte {
	t.Helper()
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(1000 * (i%7 - 3))
	}
	data, err := encoder.Encode(encoder.WAV, samples, 16000)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

// settle waits for the orchestrator to return to Idle after a request
// released it.
func (e *env) settle(t *testing.T, want status.Status) status.Update {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		cur := e.st.Current()
		if cur.Status == want && e.o.State() == orchestrator.Idle {
			return cur
		}
		if time.Now().After(deadline) {
			t.Fatalf("status %v / state %v, want %v / idle", cur.Status, e.o.State(), want)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestHealthz(t *testing.T) {
	e := newEnv(t, false, nil)
	code, body := e.do(t, http.MethodGet, "/healthz", "", nil)
	if code != http.StatusOK || body["ok"] != true || body["state"] != "idle" {
		t.Fatalf("got %d %v", code, body)
	}

	e.st.Publish(status.Muted)
	if _, body := e.do(t, http.MethodGet, "/healthz", "", nil); body["state"] != "muted" {
		t.Errorf("state = %v, want muted", body["state"])
	}
}

func TestTranscribe(t *testing.T) {
	e := newEnv(t, false, nil)
	code, body := e.postAudio(t, "/transcribe", "audio", speechWAV(t, 1600))
	if code != http.StatusOK || body["text"] != "hello world" {
		t.Fatalf("got %d %v", code, body)
	}
	clip := e.tr.LastClip()
	if clip.SampleRate != 16000 || len(clip.Samples) != 1600 || clip.ID == "" {
		t.Errorf("clip = rate %d, %d samples, id %q", clip.SampleRate, len(clip.Samples), clip.ID)
	}
	e.settle(t, status.Success)
}

func TestTranscribeBadInput(t *testing.T) {
	e := newEnv(t, false, nil)
	for _, tt := range []struct {
		name  string
		field string
		data  []byte
	}{
		{"missing field", "file", speechWAV(t, 160)},
		{"not a wav", "audio", []byte("definitely not audio")},
	} {
		t.Run(tt.name, func(t *testing.T) {
			code, body := e.postAudio(t, "/transcribe", tt.field, tt.data)
			if code != http.StatusBadRequest || body["error"] != "bad_audio" {
				t.Errorf("got %d %v", code, body)
			}
		})
	}
	if e.tr.Calls() != 0 {
		t.Error("transcriber called for bad input")
	}
}

func TestTranscribeWhileBusy(t *testing.T) {
	e := newEnv(t, false, nil)
	release, err := e.o.Acquire(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	defer release(nil)

	for _, path := range []string{"/transcribe", "/stt_and_format"} {
		code, body := e.postAudio(t, path, "audio", speechWAV(t, 1600))
		if code != http.StatusConflict || body["error"] != "busy" {
			t.Errorf("%s: got %d %v", path, code, body)
		}
	}
	if code, body := e.postJSON(t, "/action", `{"action":"activate"}`); code != http.StatusConflict {
		t.Errorf("activate while busy: %d %v", code, body)
	}
	if e.tr.Calls() != 0 {
		t.Error("transcriber called while busy")
	}
}

func TestTranscribeUpstreamError(t *testing.T) {
	e := newEnv(t, false, func(e *env) {
		e.tr.Err = &transcriber.APIError{Provider: "groq", StatusCode: 500, Message: "overloaded"}
	})
	code, body := e.postAudio(t, "/transcribe", "audio", speechWAV(t, 1600))
	if code != http.StatusBadGateway || body["error"] != "transcription_failed" {
		t.Fatalf("got %d %v", code, body)
	}
	if msg, _ := body["message"].(string); !strings.Contains(msg, "overloaded") {
		t.Errorf("message = %q", msg)
	}
	if cur := e.settle(t, status.Failed); !strings.Contains(cur.Reason, "overloaded") {
		t.Errorf("failure reason %q", cur.Reason)
	}
}

func TestSttAndFormat(t *testing.T) {
	e := newEnv(t, true, nil)
	code, body := e.postAudio(t, "/stt_and_format", "audio", speechWAV(t, 1600))
	if code != http.StatusOK || body["text"] != "Hello world." || body["raw_text"] != "hello world" {
		t.Fatalf("got %d %v", code, body)
	}
}

func TestSttAndFormatFallsBackToRaw(t *testing.T) {
	e := newEnv(t, true, func(e *env) { e.fm.Err = errors.New("model overloaded") })
	code, body := e.postAudio(t, "/stt_and_format", "audio", speechWAV(t, 1600))
	if code != http.StatusOK || body["text"] != "hello world" {
		t.Fatalf("got %d %v", code, body)
	}
}

func TestFormat(t *testing.T) {
	e := newEnv(t, true, nil)
	code, body := e.postJSON(t, "/format", `{"text":"hello world","instruction":"make it a title"}`)
	if code != http.StatusOK || body["text"] != "Hello world." {
		t.Fatalf("got %d %v", code, body)
	}
	if text, instr := e.fm.LastInput(); text != "hello world" || instr != "make it a title" {
		t.Errorf("formatter got %q / %q", text, instr)
	}

	if code, body := e.postJSON(t, "/format", `{"text":"  "}`); code != http.StatusBadRequest {
		t.Errorf("blank text: %d %v", code, body)
	}
	if code, body := e.postJSON(t, "/format", `{"text":`); code != http.StatusBadRequest {
		t.Errorf("broken json: %d %v", code, body)
	}
}

func TestFormatDisabledPassesThrough(t *testing.T) {
	e := newEnv(t, false, nil)
	code, body := e.postJSON(t, "/format", `{"text":"hello world"}`)
	if code != http.StatusOK || body["text"] != "hello world" {
		t.Fatalf("got %d %v", code, body)
	}
	if e.fm.Calls() != 0 {
		t.Error("formatter called while disabled")
	}
}

func TestFormatError(t *testing.T) {
	e := newEnv(t, true, func(e *env) { e.fm.Err = errors.New("quota exceeded") })
	code, body := e.postJSON(t, "/format", `{"text":"hello"}`)
	if code != http.StatusBadGateway || body["error"] != "formatting_failed" {
		t.Fatalf("got %d %v", code, body)
	}
}

func TestAction(t *testing.T) {
	e := newEnv(t, false, nil)
	for _, tt := range []struct {
		body      string
		wantCode  int
		wantState string
	}{
		{`{"action":"activate"}`, http.StatusOK, "listening"},
		{`{"action":"mute"}`, http.StatusOK, "muted"},
		{`{"action":"idle"}`, http.StatusOK, "idle"},
		{`{"action":"reboot"}`, http.StatusBadRequest, ""},
		{`not json`, http.StatusBadRequest, ""},
	} {
		code, body := e.postJSON(t, "/action", tt.body)
		if code != tt.wantCode {
			t.Errorf("%s: code %d, want %d (%v)", tt.body, code, tt.wantCode, body)
			continue
		}
		if tt.wantState != "" && (body["state"] != tt.wantState || body["ok"] != true) {
			t.Errorf("%s: body %v, want state %s", tt.body, body, tt.wantState)
		}
	}
}

func TestEventsSendsCurrentStateFirst(t *testing.T) {
	e := newEnv(t, false, nil)
	e.st.Publish(status.Muted)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, e.srv.URL+"/events", nil)
	resp, err := e.srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type %q", ct)
	}

	r := bufio.NewReader(resp.Body)
	next := func() string {
		t.Helper()
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				t.Fatalf("reading stream: %v", err)
			}
			if line = strings.TrimSpace(line); line != "" {
				return line
			}
		}
	}

	if got := next(); got != `data: {"state":"muted"}` {
		t.Fatalf("first event %q", got)
	}
	e.st.Publish(status.Idle)
	if got := next(); got != `data: {"state":"idle"}` {
		t.Errorf("second event %q", got)
	}
	e.st.Fail(errors.New("no microphone"))
	if got := next(); got != `data: {"state":"failed","reason":"no microphone"}` {
		t.Errorf("third event %q", got)
	}
}

func TestStatusWebSocket(t *testing.T) {
	e := newEnv(t, false, nil)
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var ev statusEvent
	if err := conn.ReadJSON(&ev); err != nil || ev.State != "idle" {
		t.Fatalf("initial frame %+v, %v", ev, err)
	}
	e.st.Publish(status.Listening)
	if err := conn.ReadJSON(&ev); err != nil || ev.State != "listening" {
		t.Fatalf("second frame %+v, %v", ev, err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	st := status.NewBroadcaster(time.Hour)
	defer st.Close()
	s := New("127.0.0.1:0", nil, st)

	ctx, cancel := context.WithCancel(t.Context())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for s.e.ListenerAddr() == nil {
		if time.Now().After(deadline) {
			t.Fatal("server never started listening")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}
