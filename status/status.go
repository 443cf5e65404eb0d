// Package status publishes the user-visible dictation status.
package status

import (
	"fmt"
	"sync"
	"time"
)

type Status int

const (
	Idle Status = iota
	Listening
	Thinking
	Success
	Failed
	Muted
)

const DefaultRevert = time.Second

var names = [...]string{"idle", "listening", "thinking", "success", "failed", "muted"}

func (s Status) String() string {
	if s < 0 || int(s) >= len(names) {
		return fmt.Sprintf("status(%d)", int(s))
	}
	return names[s]
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func Parse(name string) (Status, error) {
	for i, n := range names {
		if n == name {
			return Status(i), nil
		}
	}
	return Idle, fmt.Errorf("unknown status %q", name)
}

// Update is one published status. Reason is set for Failed.
type Update struct {
	Status Status
	Reason string
	At     time.Time
}

// Broadcaster holds the current status and fans changes out to subscribers.
// Success and Failed fall back to Idle after the revert delay unless
// something newer was published first.
type Broadcaster struct {
	revert time.Duration

	mu     sync.Mutex
	cur    Update
	seq    uint64
	timer  *time.Timer
	subs   map[int]chan Update
	nextID int
}

func NewBroadcaster(revert time.Duration) *Broadcaster {
	if revert <= 0 {
		revert = DefaultRevert
	}
	return &Broadcaster{
		revert: revert,
		cur:    Update{Status: Idle, At: time.Now()},
		subs:   make(map[int]chan Update),
	}
}

func (b *Broadcaster) Publish(s Status) { b.publish(s, "") }

// Fail publishes Failed with err's text.
func (b *Broadcaster) Fail(err error) {
	reason := ""
	if err != nil {
		reason = err.Error()
	}
	b.publish(Failed, reason)
}

func (b *Broadcaster) publish(s Status, reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	transient := s == Success || s == Failed
	if !transient && s == b.cur.Status && reason == b.cur.Reason {
		return
	}

	b.seq++
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.setLocked(Update{Status: s, Reason: reason, At: time.Now()})

	if transient {
		seq := b.seq
		b.timer = time.AfterFunc(b.revert, func() { b.revertTo(seq) })
	}
}

func (b *Broadcaster) revertTo(seq uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.seq != seq {
		return
	}
	b.seq++
	b.timer = nil
	b.setLocked(Update{Status: Idle, At: time.Now()})
}

func (b *Broadcaster) setLocked(u Update) {
	b.cur = u
	for _, ch := range b.subs {
		select {
		case ch <- u:
		default:
		}
	}
}

func (b *Broadcaster) Current() Update {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cur
}

// Subscribe returns a channel of future updates and a func that ends the
// subscription. A subscriber that falls more than buf updates behind misses
// updates.
func (b *Broadcaster) Subscribe(buf int) (<-chan Update, func()) {
	if buf < 1 {
		buf = 1
	}
	ch := make(chan Update, buf)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Close stops a pending revert.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}
