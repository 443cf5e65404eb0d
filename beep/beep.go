// Package beep turns status changes into short audio cues and desktop
// notifications.
package beep

import (
	"context"
	"math"

	"github.com/gen2brain/beeep"

	"murmur/log"
	"murmur/status"
)

const sampleRate = 44100

type Cue int

const (
	CueStart Cue = iota // mic opened
	CueEnd              // capture finished, pipeline running
	CueError
)

type toneSpec struct {
	freq     float64
	duration float64 // seconds
	volume   float64
	decay    float64
	double   bool
}

var tones = map[Cue]toneSpec{
	CueStart: {freq: 1200, duration: 0.05, volume: 0.5, decay: 60},
	CueEnd:   {freq: 900, duration: 0.08, volume: 0.5, decay: 40},
	CueError: {freq: 350, duration: 0.08, volume: 0.6, decay: 30, double: true},
}

// cueFor maps a status transition to the cue it should sound.
func cueFor(prev, next status.Status) (Cue, bool) {
	switch {
	case next == status.Listening && prev != status.Listening:
		return CueStart, true
	case next == status.Thinking && prev == status.Listening:
		return CueEnd, true
	case next == status.Failed:
		return CueError, true
	}
	return 0, false
}

// tone renders a decaying sine as mono 16-bit PCM.
func tone(freq, duration, volume, decay float64) []int16 {
	n := int(sampleRate * duration)
	out := make([]int16, n)
	for i := range out {
		t := float64(i) / sampleRate
		out[i] = int16(math.Sin(2*math.Pi*freq*t) * 32767 * volume * math.Exp(-t*decay))
	}
	return out
}

func render(s toneSpec) []int16 {
	one := tone(s.freq, s.duration, s.volume, s.decay)
	if !s.double {
		return one
	}
	gap := make([]int16, int(sampleRate*0.05))
	out := make([]int16, 0, 2*len(one)+len(gap))
	out = append(out, one...)
	out = append(out, gap...)
	return append(out, one...)
}

type player interface {
	Play(samples []int16) error
	Close()
}

// Cues plays a sound for each relevant status change and raises a desktop
// notification when a dictation fails.
type Cues struct {
	sound  bool
	notify bool

	player  player
	samples map[Cue][]int16
	beep    func(freq float64, ms int) error
	alert   func(title, msg string) error
}

func New(sound, notify bool) *Cues {
	beeep.AppName = "murmur"
	c := &Cues{
		sound:   sound,
		notify:  notify,
		samples: make(map[Cue][]int16, len(tones)),
		beep:    beeep.Beep,
		alert:   func(title, msg string) error { return beeep.Notify(title, msg, "") },
	}
	for cue, spec := range tones {
		c.samples[cue] = render(spec)
	}
	if sound {
		p, err := newPlayer()
		if err != nil {
			log.Warnf("audio cues fall back to system beep: %v", err)
		} else {
			c.player = p
		}
	}
	return c
}

func (c *Cues) Play(cue Cue) {
	if !c.sound {
		return
	}
	if c.player != nil {
		err := c.player.Play(c.samples[cue])
		if err == nil {
			return
		}
		log.Warnf("playing cue: %v", err)
	}
	spec := tones[cue]
	if err := c.beep(spec.freq, int(spec.duration*1000)); err != nil {
		log.Warnf("beep: %v", err)
	}
}

// Run consumes updates until the channel closes or ctx is done.
func (c *Cues) Run(ctx context.Context, updates <-chan status.Update) {
	defer c.Close()
	prev := status.Idle
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			if cue, ok := cueFor(prev, u.Status); ok {
				c.Play(cue)
			}
			if u.Status == status.Failed && c.notify {
				if err := c.alert("murmur", u.Reason); err != nil {
					log.Warnf("notification: %v", err)
				}
			}
			prev = u.Status
		}
	}
}

func (c *Cues) Close() {
	if c.player != nil {
		c.player.Close()
		c.player = nil
	}
}
