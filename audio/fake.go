package audio

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-audio/wav"
)

const fakeFrameSize = 1024

// FakeContext hands out FakeCaptures that replay a fixed PCM clip. With no
// clip, captures only produce audio through Push.
type FakeContext struct {
	samples    []int16
	sampleRate int
	realtime   bool

	mu   sync.Mutex
	last *FakeCapture
}

func NewFakeContext(samples []int16, sampleRate int, realtime bool) *FakeContext {
	return &FakeContext{samples: samples, sampleRate: sampleRate, realtime: realtime}
}

// NewFakeContextFromWAV loads a 16-bit mono WAV file to replay.
func NewFakeContextFromWAV(path string, realtime bool) (*FakeContext, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%s: not a valid WAV file", path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if buf.Format == nil || buf.Format.NumChannels != 1 {
		return nil, fmt.Errorf("%s: want mono audio", path)
	}
	samples := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = int16(v)
	}
	return NewFakeContext(samples, buf.Format.SampleRate, realtime), nil
}

func (f *FakeContext) Devices() ([]DeviceInfo, error) {
	return []DeviceInfo{{ID: "fake", Name: "fake"}}, nil
}

func (f *FakeContext) Close() {}

func (f *FakeContext) NewCapture(_ *DeviceInfo, config CaptureConfig) (CaptureDevice, error) {
	rate := f.sampleRate
	if rate == 0 {
		rate = int(config.SampleRate)
	}
	c := &FakeCapture{
		samples:   f.samples,
		rate:      rate,
		realtime:  f.realtime,
		audioDone: make(chan struct{}),
	}
	f.mu.Lock()
	f.last = c
	f.mu.Unlock()
	return c, nil
}

// Capture returns the most recently created capture, or nil.
func (f *FakeContext) Capture() *FakeCapture {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

type FakeCapture struct {
	samples  []int16
	rate     int
	realtime bool

	mu        sync.Mutex
	cb        DataCallback
	started   bool
	stopCh    chan struct{}
	feedDone  chan struct{}
	audioDone chan struct{}
	doneOnce  sync.Once
}

// AudioDone is closed once the whole clip has been delivered.
func (f *FakeCapture) AudioDone() <-chan struct{} { return f.audioDone }

func (f *FakeCapture) SetCallback(cb DataCallback) {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
}

func (f *FakeCapture) ClearCallback() {
	f.mu.Lock()
	f.cb = nil
	f.mu.Unlock()
}

func (f *FakeCapture) DeviceName() string { return "fake" }

// Started reports whether the capture is running.
func (f *FakeCapture) Started() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

// Push delivers samples to the current callback synchronously.
func (f *FakeCapture) Push(samples []int16) {
	f.mu.Lock()
	cb := f.cb
	f.mu.Unlock()
	if cb == nil || len(samples) == 0 {
		return
	}
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	cb(data, uint32(len(samples)))
}

func (f *FakeCapture) Start() error {
	f.mu.Lock()
	if f.started {
		f.mu.Unlock()
		return fmt.Errorf("fake capture already started")
	}
	f.started = true
	f.stopCh = make(chan struct{})
	f.feedDone = make(chan struct{})
	f.mu.Unlock()

	if f.samples == nil {
		close(f.feedDone)
		return nil
	}

	interval := time.Duration(fakeFrameSize) * time.Second / time.Duration(f.rate)
	if !f.realtime {
		interval = time.Millisecond
	}
	go f.feed(f.stopCh, f.feedDone, interval)
	return nil
}

// feed replays the clip in frame-sized chunks, then keeps the stream alive
// with silence the way a real microphone would.
func (f *FakeCapture) feed(stop, done chan struct{}, interval time.Duration) {
	defer close(done)
	silence := make([]int16, fakeFrameSize)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	pos := 0
	for {
		if pos < len(f.samples) {
			end := min(pos+fakeFrameSize, len(f.samples))
			f.Push(f.samples[pos:end])
			pos = end
		} else {
			f.doneOnce.Do(func() { close(f.audioDone) })
			f.Push(silence)
		}
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}

func (f *FakeCapture) Stop() {
	f.mu.Lock()
	if !f.started {
		f.mu.Unlock()
		return
	}
	f.started = false
	stop, done := f.stopCh, f.feedDone
	f.mu.Unlock()

	close(stop)
	<-done
}

func (f *FakeCapture) Close() { f.Stop() }
