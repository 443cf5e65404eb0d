// Package orchestrator sequences a dictation session: capture, transcription,
// optional cleanup and delivery. One worker goroutine owns the state and
// consumes every input from a single ordered queue.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"murmur/formatter"
	"murmur/hotkey"
	"murmur/log"
	"murmur/recorder"
	"murmur/status"
)

const (
	DefaultTranscribeTimeout = 30 * time.Second
	DefaultFormatTimeout     = 15 * time.Second
	DefaultPasteTimeout      = 5 * time.Second
	DefaultQueueSize         = 32

	warmTimeout = 5 * time.Second
)

type Recorder interface {
	Start(ctx context.Context) error
	Stop() (recorder.AudioClip, error)
	AutoStopped() <-chan struct{}
}

type Transcriber interface {
	Transcribe(ctx context.Context, clip recorder.AudioClip) (string, error)
}

type Formatter interface {
	Format(ctx context.Context, text string) (string, error)
}

type PasteSink interface {
	Deliver(ctx context.Context, text string) error
}

type Publisher interface {
	Publish(s status.Status)
	Fail(err error)
}

type Config struct {
	Formatting        bool
	TranscribeTimeout time.Duration
	FormatTimeout     time.Duration
	PasteTimeout      time.Duration
	QueueSize         int
}

func DefaultConfig() Config {
	return Config{
		TranscribeTimeout: DefaultTranscribeTimeout,
		FormatTimeout:     DefaultFormatTimeout,
		PasteTimeout:      DefaultPasteTimeout,
		QueueSize:         DefaultQueueSize,
	}
}

// Result describes one finished pipeline run.
type Result struct {
	ID      string
	Source  string
	RawText string
	Text    string
	Audio   time.Duration

	Err       error // abort reason, nil on success
	FormatErr error
	PasteErr  error

	TranscribeTime time.Duration
	FormatTime     time.Duration
	PasteTime      time.Duration
}

func (r Result) Succeeded() bool { return r.Err == nil }

type eventKind int

const (
	evIntent eventKind = iota
	evAutoStop
	evAction
	evPipelineDone
	evAcquire
	evRelease
)

type event struct {
	kind   eventKind
	intent hotkey.Intent
	action Action
	gen    uint64
	err    error
	result Result
	reply  chan error
}

type Orchestrator struct {
	rec    Recorder
	tr     Transcriber
	fm     Formatter
	sink   PasteSink
	status Publisher
	cfg    Config

	events   chan event
	done     chan struct{}
	state    atomic.Int32
	muted    atomic.Bool
	onResult func(Result)
}

func New(rec Recorder, tr Transcriber, fm Formatter, sink PasteSink, pub Publisher, cfg Config) *Orchestrator {
	def := DefaultConfig()
	if cfg.TranscribeTimeout <= 0 {
		cfg.TranscribeTimeout = def.TranscribeTimeout
	}
	if cfg.FormatTimeout <= 0 {
		cfg.FormatTimeout = def.FormatTimeout
	}
	if cfg.PasteTimeout <= 0 {
		cfg.PasteTimeout = def.PasteTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if fm == nil {
		fm = formatter.Passthrough{}
	}
	return &Orchestrator{
		rec:    rec,
		tr:     tr,
		fm:     fm,
		sink:   sink,
		status: pub,
		cfg:    cfg,
		events: make(chan event, cfg.QueueSize),
		done:   make(chan struct{}),
	}
}

// OnResult registers a callback for finished pipelines. It runs on the worker
// goroutine and must not block. Call before Run.
func (o *Orchestrator) OnResult(fn func(Result)) { o.onResult = fn }

// State returns a snapshot of the worker state.
func (o *Orchestrator) State() State { return State(o.state.Load()) }

func (o *Orchestrator) Muted() bool { return o.muted.Load() }

// Submit queues a hotkey intent without blocking. It reports false when the
// queue is full and the intent was dropped.
func (o *Orchestrator) Submit(in hotkey.Intent) bool {
	select {
	case o.events <- event{kind: evIntent, intent: in}:
		return true
	default:
		log.Warnf("intent queue full, dropped %s", in)
		return false
	}
}

// Action runs a gateway control action and waits for the worker to apply it.
func (o *Orchestrator) Action(ctx context.Context, a Action) error {
	return o.request(ctx, event{kind: evAction, action: a})
}

// Acquire takes exclusive use of the pipeline for a gateway request. It
// succeeds only while Idle; release must be called exactly once with the
// request outcome.
//
// Once the request is queued the worker's answer is awaited even if ctx ends,
// and a grant that arrives for a cancelled caller is released straight away.
func (o *Orchestrator) Acquire(ctx context.Context) (release func(error), err error) {
	ev := event{kind: evAcquire, reply: make(chan error, 1)}
	select {
	case o.events <- ev:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-o.done:
		return nil, ErrStopped
	}
	select {
	case err = <-ev.reply:
	case <-o.done:
		return nil, ErrStopped
	}
	if err != nil {
		return nil, err
	}

	var once sync.Once
	release = func(outcome error) {
		once.Do(func() {
			select {
			case o.events <- event{kind: evRelease, err: outcome}:
			case <-o.done:
			}
		})
	}
	if err := ctx.Err(); err != nil {
		release(err)
		return nil, err
	}
	return release, nil
}

func (o *Orchestrator) request(ctx context.Context, ev event) error {
	ev.reply = make(chan error, 1)
	select {
	case o.events <- ev:
	case <-ctx.Done():
		return ctx.Err()
	case <-o.done:
		return ErrStopped
	}
	select {
	case err := <-ev.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-o.done:
		return ErrStopped
	}
}

// Run processes the queue until ctx is cancelled. An in-flight pipeline is
// cancelled and awaited before Run returns.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer close(o.done)
	w := &worker{o: o, ctx: ctx}
	for {
		select {
		case <-ctx.Done():
			w.shutdown()
			return nil
		case ev := <-o.events:
			w.handle(ev)
		}
	}
}

type worker struct {
	o   *Orchestrator
	ctx context.Context

	state    State
	gen      uint64
	sessDone chan struct{}
	source   string
	pipes    sync.WaitGroup
	sessions int
}

func (w *worker) setState(to State, cause string) {
	if w.state != to {
		log.Transition(w.state.String(), to.String(), cause)
	}
	w.state = to
	w.o.state.Store(int32(to))
}

func (w *worker) handle(ev event) {
	switch ev.kind {
	case evIntent:
		w.onIntent(ev.intent)
	case evAutoStop:
		if ev.gen == w.gen && w.state.Recording() {
			w.source = "silence"
			w.runPipeline("auto_stop")
		}
	case evAction:
		ev.reply <- w.onAction(ev.action)
	case evAcquire:
		ev.reply <- w.onAcquire()
	case evRelease:
		if w.state == Busy && w.source == "gateway" {
			w.setState(Idle, "release")
			if ev.err != nil {
				w.o.status.Fail(ev.err)
			} else {
				w.o.status.Publish(status.Success)
			}
		}
	case evPipelineDone:
		w.finish(ev.result)
	}
}

func (w *worker) onIntent(in hotkey.Intent) {
	if w.state == Busy {
		log.Infof("busy, ignoring %s", in)
		return
	}
	if w.o.muted.Load() {
		log.Infof("muted, ignoring %s", in)
		return
	}

	switch w.state {
	case Idle:
		switch in {
		case hotkey.HoldDown:
			w.startRecording(RecordingHold, in.String())
		case hotkey.TogglePress, hotkey.DoubleTap:
			w.startRecording(RecordingToggle, in.String())
		}
	case RecordingHold:
		if in == hotkey.HoldUp {
			w.source = "hotkey"
			w.runPipeline(in.String())
		}
	case RecordingToggle:
		if in == hotkey.TogglePress || in == hotkey.DoubleTap {
			w.source = "hotkey"
			w.runPipeline(in.String())
		}
	}
}

func (w *worker) onAction(a Action) error {
	if w.state == Busy {
		return ErrBusy
	}
	switch a {
	case ActionActivate:
		w.o.muted.Store(false)
		if w.state.Recording() {
			w.source = "gateway"
			w.runPipeline("activate")
			return nil
		}
		return w.startRecording(RecordingToggle, "activate")
	case ActionIdle:
		w.discard("idle")
		w.o.muted.Store(false)
		w.o.status.Publish(status.Idle)
		return nil
	case ActionMute:
		w.discard("mute")
		w.o.muted.Store(true)
		w.o.status.Publish(status.Muted)
		return nil
	}
	return fmt.Errorf("unknown action %q", a)
}

func (w *worker) onAcquire() error {
	if w.state != Idle {
		return ErrBusy
	}
	if w.o.muted.Load() {
		return ErrMuted
	}
	w.source = "gateway"
	w.setState(Busy, "acquire")
	w.o.status.Publish(status.Thinking)
	return nil
}

func (w *worker) startRecording(to State, cause string) error {
	if err := w.o.rec.Start(w.ctx); err != nil {
		err = fmt.Errorf("starting recorder: %w", err)
		log.Error(err.Error())
		w.o.status.Fail(err)
		return err
	}
	w.gen++
	w.sessDone = make(chan struct{})
	w.setState(to, cause)
	w.o.status.Publish(status.Listening)

	go w.watchAutoStop(w.gen, w.o.rec.AutoStopped(), w.sessDone)
	if warmer, ok := w.o.tr.(interface{ Warm(context.Context) }); ok {
		go func() {
			ctx, cancel := context.WithTimeout(w.ctx, warmTimeout)
			defer cancel()
			warmer.Warm(ctx)
		}()
	}
	return nil
}

func (w *worker) watchAutoStop(gen uint64, auto <-chan struct{}, sessDone <-chan struct{}) {
	select {
	case <-auto:
	case <-sessDone:
		return
	}
	select {
	case w.o.events <- event{kind: evAutoStop, gen: gen}:
	case <-sessDone:
	case <-w.ctx.Done():
	}
}

func (w *worker) endSession() {
	if w.sessDone != nil {
		close(w.sessDone)
		w.sessDone = nil
	}
}

// discard ends a capture without running the pipeline.
func (w *worker) discard(cause string) {
	if !w.state.Recording() {
		return
	}
	w.endSession()
	if _, err := w.o.rec.Stop(); err != nil && !errors.Is(err, recorder.ErrEmptyRecording) {
		log.Warnf("discarding capture: %v", err)
	}
	w.setState(Idle, cause)
}

func (w *worker) runPipeline(cause string) {
	w.endSession()
	w.setState(Busy, cause)
	w.o.status.Publish(status.Thinking)

	source := w.source
	w.pipes.Add(1)
	go func() {
		defer w.pipes.Done()
		res := w.o.pipeline(w.ctx)
		res.Source = source
		select {
		case w.o.events <- event{kind: evPipelineDone, result: res}:
		case <-w.ctx.Done():
		}
	}()
}

func (w *worker) finish(res Result) {
	w.sessions++
	w.setState(Idle, "pipeline_done")
	if res.Err != nil {
		w.o.status.Fail(res.Err)
	} else {
		w.o.status.Publish(status.Success)
	}
	log.PipelineDone(log.Pipeline{
		ID:           res.ID,
		Source:       res.Source,
		Outcome:      outcome(res),
		AudioS:       res.Audio.Seconds(),
		TranscribeMs: ms(res.TranscribeTime),
		FormatMs:     ms(res.FormatTime),
		PasteMs:      ms(res.PasteTime),
		Chars:        len(res.Text),
		Err:          res.Err,
	})
	if res.Err == nil {
		log.TranscriptionText(res.Text)
	}
	if w.o.onResult != nil {
		w.o.onResult(res)
	}
}

func (w *worker) shutdown() {
	if w.state.Recording() {
		w.discard("shutdown")
	}
	w.pipes.Wait()
	log.SessionEnd(w.sessions)
}

func outcome(r Result) string {
	switch {
	case r.Err != nil:
		return "failed"
	case r.FormatErr != nil:
		return "success_raw"
	case r.PasteErr != nil:
		return "success_no_paste"
	}
	return "success"
}

func ms(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }

// pipeline runs one session from the stopped recorder to delivery.
func (o *Orchestrator) pipeline(ctx context.Context) Result {
	clip, err := o.rec.Stop()
	if err != nil {
		return Result{Err: err}
	}
	res := Result{ID: clip.ID, Audio: clip.Duration()}

	start := time.Now()
	res.RawText, res.Err = o.Transcribe(ctx, clip)
	res.TranscribeTime = time.Since(start)
	if res.Err != nil {
		return res
	}

	res.Text = res.RawText
	if o.cfg.Formatting {
		start = time.Now()
		formatted, err := o.Format(ctx, res.RawText, "")
		res.FormatTime = time.Since(start)
		if err != nil {
			log.Warnf("%v, pasting raw transcript", err)
			res.FormatErr = err
		} else {
			res.Text = formatted
		}
	}

	start = time.Now()
	if err := o.Deliver(ctx, res.Text); err != nil {
		log.Warn(err.Error())
		res.PasteErr = err
	}
	res.PasteTime = time.Since(start)
	return res
}

// Transcribe runs the transcriber under the transcription timeout. A blank
// transcript is ErrNoSpeech.
func (o *Orchestrator) Transcribe(ctx context.Context, clip recorder.AudioClip) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, o.cfg.TranscribeTimeout)
	defer cancel()
	text, err := o.tr.Transcribe(cctx, clip)
	if err != nil {
		return "", &TranscriptionError{Err: deadline(cctx, err)}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrNoSpeech
	}
	return text, nil
}

// Format runs the formatter under the formatting timeout. With formatting
// disabled the text is returned unchanged. A non-empty instruction replaces
// the cleanup prompt when the formatter supports it.
func (o *Orchestrator) Format(ctx context.Context, text, instruction string) (string, error) {
	if !o.cfg.Formatting {
		return text, nil
	}
	cctx, cancel := context.WithTimeout(ctx, o.cfg.FormatTimeout)
	defer cancel()

	var out string
	var err error
	if in, ok := o.fm.(formatter.Instructed); ok && instruction != "" {
		out, err = in.FormatWith(cctx, text, instruction)
	} else {
		out, err = o.fm.Format(cctx, text)
	}
	if err != nil {
		return "", &FormattingError{Err: deadline(cctx, err)}
	}
	return out, nil
}

func (o *Orchestrator) Deliver(ctx context.Context, text string) error {
	if o.sink == nil {
		return nil
	}
	cctx, cancel := context.WithTimeout(ctx, o.cfg.PasteTimeout)
	defer cancel()
	if err := o.sink.Deliver(cctx, text); err != nil {
		return &PasteError{Err: deadline(cctx, err)}
	}
	return nil
}
