package gateway

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"murmur/encoder"
	"murmur/log"
	"murmur/orchestrator"
	"murmur/recorder"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	OK    bool   `json:"ok"`
	State string `json:"state"`
}

type textResponse struct {
	Text    string `json:"text"`
	RawText string `json:"raw_text,omitempty"`
}

type formatRequest struct {
	Text        string `json:"text"`
	Instruction string `json:"instruction,omitempty"`
}

type actionRequest struct {
	Action string `json:"action"`
}

func fail(c echo.Context, code int, kind string, err error) error {
	resp := errorResponse{Error: kind}
	if err != nil {
		resp.Message = err.Error()
	}
	return c.JSON(code, resp)
}

func (s *Server) healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{OK: true, State: s.status.Current().Status.String()})
}

// readClip decodes the multipart "audio" field into a clip.
func readClip(c echo.Context) (recorder.AudioClip, error) {
	fh, err := c.FormFile("audio")
	if err != nil {
		return recorder.AudioClip{}, errors.New(`missing multipart field "audio"`)
	}
	f, err := fh.Open()
	if err != nil {
		return recorder.AudioClip{}, err
	}
	defer f.Close()

	samples, rate, err := encoder.DecodeWAV(f)
	if err != nil {
		return recorder.AudioClip{}, err
	}
	if len(samples) == 0 {
		return recorder.AudioClip{}, recorder.ErrEmptyRecording
	}
	return recorder.AudioClip{
		ID:         uuid.NewString(),
		SampleRate: rate,
		Channels:   1,
		Samples:    samples,
	}, nil
}

// acquire maps a refused Acquire to a response. It returns a nil release
// when the response has been written.
func (s *Server) acquire(c echo.Context) (func(error), error) {
	release, err := s.pipe.Acquire(c.Request().Context())
	switch {
	case err == nil:
		return release, nil
	case errors.Is(err, orchestrator.ErrBusy):
		return nil, c.JSON(http.StatusConflict, errorResponse{Error: "busy"})
	case errors.Is(err, orchestrator.ErrMuted):
		return nil, c.JSON(http.StatusConflict, errorResponse{Error: "muted"})
	case errors.Is(err, orchestrator.ErrStopped):
		return nil, fail(c, http.StatusServiceUnavailable, "stopped", err)
	}
	return nil, err
}

// transcribeClip runs the transcription step for a gateway request. A blank
// transcript is an empty result, not an error.
func (s *Server) transcribeClip(c echo.Context, clip recorder.AudioClip) (string, error) {
	text, err := s.pipe.Transcribe(c.Request().Context(), clip)
	if errors.Is(err, orchestrator.ErrNoSpeech) {
		return "", nil
	}
	return text, err
}

func (s *Server) transcribe(c echo.Context) error {
	clip, err := readClip(c)
	if err != nil {
		return fail(c, http.StatusBadRequest, "bad_audio", err)
	}
	release, err := s.acquire(c)
	if release == nil {
		return err
	}

	text, err := s.transcribeClip(c, clip)
	release(err)
	if err != nil {
		log.Errorf("gateway transcription: %v", err)
		return fail(c, http.StatusBadGateway, "transcription_failed", err)
	}
	return c.JSON(http.StatusOK, textResponse{Text: text})
}

func (s *Server) sttAndFormat(c echo.Context) error {
	clip, err := readClip(c)
	if err != nil {
		return fail(c, http.StatusBadRequest, "bad_audio", err)
	}
	release, err := s.acquire(c)
	if release == nil {
		return err
	}

	raw, err := s.transcribeClip(c, clip)
	if err != nil {
		release(err)
		log.Errorf("gateway transcription: %v", err)
		return fail(c, http.StatusBadGateway, "transcription_failed", err)
	}
	text := raw
	if raw != "" {
		if formatted, ferr := s.pipe.Format(c.Request().Context(), raw, c.FormValue("instruction")); ferr != nil {
			log.Warnf("%v, returning raw transcript", ferr)
		} else {
			text = formatted
		}
	}
	release(nil)
	return c.JSON(http.StatusOK, textResponse{Text: text, RawText: raw})
}

func (s *Server) format(c echo.Context) error {
	var req formatRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "invalid_request", err)
	}
	if strings.TrimSpace(req.Text) == "" {
		return fail(c, http.StatusBadRequest, "invalid_request", errors.New("text is required"))
	}
	text, err := s.pipe.Format(c.Request().Context(), req.Text, req.Instruction)
	if err != nil {
		log.Errorf("gateway format: %v", err)
		return fail(c, http.StatusBadGateway, "formatting_failed", err)
	}
	return c.JSON(http.StatusOK, textResponse{Text: text})
}

func (s *Server) action(c echo.Context) error {
	var req actionRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "invalid_request", err)
	}
	a, err := orchestrator.ParseAction(req.Action)
	if err != nil {
		return fail(c, http.StatusBadRequest, "unknown_action", err)
	}
	if err := s.pipe.Action(c.Request().Context(), a); err != nil {
		switch {
		case errors.Is(err, orchestrator.ErrBusy):
			return c.JSON(http.StatusConflict, errorResponse{Error: "busy"})
		case errors.Is(err, orchestrator.ErrStopped):
			return fail(c, http.StatusServiceUnavailable, "stopped", err)
		}
		return fail(c, http.StatusInternalServerError, "action_failed", err)
	}
	return c.JSON(http.StatusOK, healthResponse{OK: true, State: s.status.Current().Status.String()})
}
