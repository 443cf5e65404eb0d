// Package gateway exposes the dictation pipeline and its status over a
// loopback HTTP server.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"murmur/log"
	"murmur/orchestrator"
	"murmur/recorder"
	"murmur/status"
)

const (
	DefaultListen   = "127.0.0.1:8237"
	maxUpload       = "25M"
	shutdownTimeout = 5 * time.Second
	subscriberBuf   = 16
)

// Pipeline is the part of the orchestrator the gateway drives.
type Pipeline interface {
	Acquire(ctx context.Context) (func(error), error)
	Action(ctx context.Context, a orchestrator.Action) error
	Transcribe(ctx context.Context, clip recorder.AudioClip) (string, error)
	Format(ctx context.Context, text, instruction string) (string, error)
}

type Statuses interface {
	Current() status.Update
	Subscribe(buf int) (<-chan status.Update, func())
}

type Server struct {
	e      *echo.Echo
	addr   string
	pipe   Pipeline
	status Statuses
	quit   chan struct{}
}

func New(addr string, pipe Pipeline, st Statuses) *Server {
	if addr == "" {
		addr = DefaultListen
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURIPath: true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Request(v.Method, v.URIPath, v.Status, v.Latency)
			return nil
		},
	}))
	e.Use(middleware.BodyLimit(maxUpload))

	s := &Server{e: e, addr: addr, pipe: pipe, status: st, quit: make(chan struct{})}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.e.GET("/healthz", s.healthz)
	s.e.POST("/transcribe", s.transcribe)
	s.e.POST("/format", s.format)
	s.e.POST("/stt_and_format", s.sttAndFormat)
	s.e.POST("/action", s.action)
	s.e.GET("/events", s.eventStream)
	s.e.GET("/ws", s.statusSocket)
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.e }

func (s *Server) Addr() string { return s.addr }

// Run serves until ctx is cancelled, then ends open streams and shuts the
// server down.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() { errc <- s.e.Start(s.addr) }()
	log.Infof("gateway listening on %s", s.addr)

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("gateway: %w", err)
	case <-ctx.Done():
	}

	close(s.quit)
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.e.Shutdown(sctx); err != nil {
		return fmt.Errorf("gateway shutdown: %w", err)
	}
	return nil
}
