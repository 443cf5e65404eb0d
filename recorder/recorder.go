// Package recorder captures one dictation session at a time and ends it on
// sustained silence.
package recorder

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"murmur/audio"
)

const (
	BlockSamples       = 1024
	DefaultSampleRate  = 16000
	DefaultThresholdDB = -45.0
	DefaultHangover    = 800 * time.Millisecond
)

var (
	ErrEmptyRecording   = errors.New("recording is empty")
	ErrAlreadyRecording = errors.New("recorder is already capturing")
	ErrNotRecording     = errors.New("recorder is not capturing")
)

// AudioClip is a finished mono recording. It is not modified after Stop
// returns it.
type AudioClip struct {
	ID         string
	SampleRate int
	Channels   int
	Samples    []int16
}

func (c AudioClip) Duration() time.Duration {
	if c.SampleRate == 0 {
		return 0
	}
	return time.Duration(len(c.Samples)) * time.Second / time.Duration(c.SampleRate)
}

type Config struct {
	SampleRate  int
	Channels    int
	ThresholdDB float64
	Hangover    time.Duration
	Device      *audio.DeviceInfo
}

func DefaultConfig() Config {
	return Config{
		SampleRate:  DefaultSampleRate,
		Channels:    1,
		ThresholdDB: DefaultThresholdDB,
		Hangover:    DefaultHangover,
	}
}

type Recorder struct {
	audio audio.Context
	cfg   Config
	level atomic.Uint64

	mu      sync.Mutex
	sess    *session
	capture audio.CaptureDevice
}

func New(ctx audio.Context, cfg Config) *Recorder {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.Channels == 0 {
		cfg.Channels = 1
	}
	r := &Recorder{audio: ctx, cfg: cfg}
	r.level.Store(math.Float64bits(LevelDB(nil)))
	return r
}

type session struct {
	id        string
	startedAt time.Time
	gate      *silenceGate

	mu      sync.Mutex
	pending []int16
	queue   [][]int16
	blocks  [][]int16
	halted  bool
	auto    bool

	wake        chan struct{}
	quit        chan struct{}
	done        chan struct{}
	autoStopped chan struct{}
}

// SetDevice changes the capture device used by the next Start.
func (r *Recorder) SetDevice(d *audio.DeviceInfo) {
	r.mu.Lock()
	r.cfg.Device = d
	r.mu.Unlock()
}

// Start opens the microphone and begins a new session. ctx bounds the
// background analysis; cancelling it halts capture without an auto-stop.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sess != nil {
		return ErrAlreadyRecording
	}

	capture, err := r.audio.NewCapture(r.cfg.Device, audio.CaptureConfig{
		SampleRate: uint32(r.cfg.SampleRate),
		Channels:   uint32(r.cfg.Channels),
	})
	if err != nil {
		return fmt.Errorf("opening capture: %w", err)
	}

	s := &session{
		id:          uuid.NewString(),
		startedAt:   time.Now(),
		gate:        newSilenceGate(r.cfg.ThresholdDB, r.cfg.Hangover, r.cfg.SampleRate),
		wake:        make(chan struct{}, 1),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
		autoStopped: make(chan struct{}),
	}
	capture.SetCallback(s.onData)
	if err := capture.Start(); err != nil {
		capture.ClearCallback()
		capture.Close()
		return fmt.Errorf("starting capture on %s: %w", capture.DeviceName(), err)
	}

	r.sess, r.capture = s, capture
	go r.analyze(ctx, s, capture)
	return nil
}

func (s *session) onData(data []byte, _ uint32) {
	s.mu.Lock()
	if s.halted {
		s.mu.Unlock()
		return
	}
	for i := 0; i+1 < len(data); i += 2 {
		s.pending = append(s.pending, int16(binary.LittleEndian.Uint16(data[i:])))
	}
	queued := false
	for len(s.pending) >= BlockSamples {
		block := append([]int16(nil), s.pending[:BlockSamples]...)
		s.queue = append(s.queue, block)
		s.pending = append(s.pending[:0], s.pending[BlockSamples:]...)
		queued = true
	}
	s.mu.Unlock()

	if queued {
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
}

func (r *Recorder) analyze(ctx context.Context, s *session, capture audio.CaptureDevice) {
	defer close(s.done)
	for {
		select {
		case <-s.wake:
			if r.drain(s) {
				capture.Stop()
				close(s.autoStopped)
				return
			}
		case <-s.quit:
			r.drain(s)
			return
		case <-ctx.Done():
			s.mu.Lock()
			s.halted = true
			s.mu.Unlock()
			capture.Stop()
			r.drain(s)
			return
		}
	}
}

// drain evaluates queued blocks in order. It returns true when the silence
// hangover was exceeded; later blocks are discarded.
func (r *Recorder) drain(s *session) bool {
	s.mu.Lock()
	queued := s.queue
	s.queue = nil
	s.mu.Unlock()

	for _, block := range queued {
		db, stop := s.gate.feed(block)
		r.level.Store(math.Float64bits(db))

		s.mu.Lock()
		s.blocks = append(s.blocks, block)
		if stop {
			s.halted = true
			s.auto = true
			s.queue = nil
		}
		s.mu.Unlock()
		if stop {
			return true
		}
	}
	return false
}

// AutoStopped is closed when the current session halted on silence. It is nil
// while idle.
func (r *Recorder) AutoStopped() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sess == nil {
		return nil
	}
	return r.sess.autoStopped
}

// Stop ends the session and returns the clip. It works the same after an
// auto-stop.
func (r *Recorder) Stop() (AudioClip, error) {
	r.mu.Lock()
	s, capture := r.sess, r.capture
	r.sess, r.capture = nil, nil
	r.mu.Unlock()
	if s == nil {
		return AudioClip{}, ErrNotRecording
	}

	capture.Stop()
	capture.ClearCallback()
	close(s.quit)
	<-s.done
	capture.Close()

	s.mu.Lock()
	defer s.mu.Unlock()

	// the tail only rides along with at least one whole block
	if len(s.blocks) == 0 {
		return AudioClip{}, ErrEmptyRecording
	}
	n := len(s.pending)
	if s.auto {
		n = 0
	}
	for _, b := range s.blocks {
		n += len(b)
	}

	samples := make([]int16, 0, n)
	for _, b := range s.blocks {
		samples = append(samples, b...)
	}
	if !s.auto {
		samples = append(samples, s.pending...)
	}
	return AudioClip{
		ID:         s.id,
		SampleRate: r.cfg.SampleRate,
		Channels:   r.cfg.Channels,
		Samples:    samples,
	}, nil
}

// Capturing reports whether a session is open.
func (r *Recorder) Capturing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sess != nil
}

// SessionID returns the open session's id, or "".
func (r *Recorder) SessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sess == nil {
		return ""
	}
	return r.sess.id
}

// Level returns the loudness of the most recently analysed block in dBFS.
func (r *Recorder) Level() float64 {
	return math.Float64frombits(r.level.Load())
}
