// Package presence tracks who is typing in which conversation.
package presence

import (
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultTypingTimeout clears an indicator when no further event arrives.
	DefaultTypingTimeout = 3 * time.Second

	// DefaultThrottleWindow is the minimum gap between outgoing typing events.
	DefaultThrottleWindow = 1 * time.Second
)

// Typist is the member shown as typing in a channel.
type Typist struct {
	MemberID string
	Name     string
	Since    time.Time
}

// ChangeFunc is called after a channel's indicator is set or cleared.
type ChangeFunc func(channelID string, typist Typist, typing bool)

// Tracker holds one typing indicator per channel. Every new event for a
// channel stops the previous timer and starts a new one, so an old timeout
// can never clear a newer indicator.
type Tracker struct {
	mu       sync.Mutex
	timeout  time.Duration
	active   map[string]Typist
	timers   map[string]*time.Timer
	seq      map[string]uint64
	onChange ChangeFunc
	logger   *slog.Logger
	closed   bool
}

// Option is a function that configures a Tracker.
type Option func(*Tracker)

// WithTimeout sets how long an indicator stays without a new event.
func WithTimeout(d time.Duration) Option {
	return func(t *Tracker) {
		t.timeout = d
	}
}

// WithOnChange registers the change callback. It runs without the tracker
// lock held.
func WithOnChange(fn ChangeFunc) Option {
	return func(t *Tracker) {
		t.onChange = fn
	}
}

// NewTracker creates a tracker.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		timeout: DefaultTypingTimeout,
		active:  make(map[string]Typist),
		timers:  make(map[string]*time.Timer),
		seq:     make(map[string]uint64),
		logger:  slog.Default().With("service", "presence"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Observe records a typing event and (re)starts the channel's timer.
func (t *Tracker) Observe(channelID, memberID, name string) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}

	if timer, exists := t.timers[channelID]; exists {
		timer.Stop()
	}
	t.seq[channelID]++
	token := t.seq[channelID]

	typist := Typist{MemberID: memberID, Name: name, Since: time.Now().UTC()}
	t.active[channelID] = typist
	t.timers[channelID] = time.AfterFunc(t.timeout, func() {
		t.expire(channelID, token)
	})
	t.mu.Unlock()

	t.notify(channelID, typist, true)
}

func (t *Tracker) expire(channelID string, token uint64) {
	t.mu.Lock()
	// A newer event replaced this timer after it had already fired.
	if t.seq[channelID] != token {
		t.mu.Unlock()
		return
	}
	typist, ok := t.active[channelID]
	delete(t.active, channelID)
	delete(t.timers, channelID)
	t.mu.Unlock()

	if ok {
		t.logger.Debug("Typing indicator expired", "channel_id", channelID, "member_id", typist.MemberID)
		t.notify(channelID, typist, false)
	}
}

// Clear drops a channel's indicator immediately, e.g. when that member's
// message arrives.
func (t *Tracker) Clear(channelID string) {
	t.mu.Lock()
	if timer, exists := t.timers[channelID]; exists {
		timer.Stop()
		delete(t.timers, channelID)
	}
	t.seq[channelID]++
	typist, ok := t.active[channelID]
	delete(t.active, channelID)
	t.mu.Unlock()

	if ok {
		t.notify(channelID, typist, false)
	}
}

// Get returns the channel's current typist.
func (t *Tracker) Get(channelID string) (Typist, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	typist, ok := t.active[channelID]
	return typist, ok
}

// Close stops every timer.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	for ch, timer := range t.timers {
		timer.Stop()
		delete(t.timers, ch)
	}
	t.active = make(map[string]Typist)
}

func (t *Tracker) notify(channelID string, typist Typist, typing bool) {
	if t.onChange != nil {
		t.onChange(channelID, typist, typing)
	}
}
