// Package notify polls the member's unread summary and plays the notification
// sound when it grows.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nfrund/fellowship/internal/domain"
	"github.com/nfrund/fellowship/internal/freshness"
	"github.com/nfrund/fellowship/internal/metrics"
)

// Refresh reasons.
const (
	ReasonEvent    = "event"
	ReasonMarkRead = "mark-read"
)

const (
	DefaultInterval = 5 * time.Second
	DefaultLimit    = 10
)

// Source is the part of the content API the poller needs.
type Source interface {
	Unread(ctx context.Context, memberID string, limit int) (domain.UnreadSummary, error)
	MarkRead(ctx context.Context, memberID, channelID string) error
}

// Player plays the notification sound. Play must not block for the length of
// the sound, and a new call restarts playback from the beginning.
type Player interface {
	Play(ctx context.Context) error
}

// Preferences reports whether sound is enabled.
type Preferences interface {
	SoundEnabled() bool
}

// Poller keeps the unread summary of one member fresh.
type Poller struct {
	source   Source
	memberID string
	name     string
	limit    int
	interval time.Duration
	timeout  time.Duration
	player   Player
	prefs    Preferences
	logger   *slog.Logger
	metrics  *metrics.Metrics
	onUpdate func(domain.UnreadSummary)

	reconciler *freshness.Reconciler
	wg         sync.WaitGroup

	mu      sync.Mutex
	summary domain.UnreadSummary
	polled  bool
}

// Option is a function that configures a Poller.
type Option func(*Poller)

// WithName labels the poller in logs and metrics.
func WithName(name string) Option {
	return func(p *Poller) {
		p.name = name
	}
}

// WithInterval sets the polling period. Zero disables the ticker, leaving
// only explicit triggers.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		p.interval = d
	}
}

// WithLimit caps the number of previews.
func WithLimit(n int) Option {
	return func(p *Poller) {
		p.limit = n
	}
}

// WithTimeout bounds each network call.
func WithTimeout(d time.Duration) Option {
	return func(p *Poller) {
		p.timeout = d
	}
}

// WithPlayer sets the notification sound player. Without one the poller is silent.
func WithPlayer(pl Player) Option {
	return func(p *Poller) {
		p.player = pl
	}
}

// WithPreferences mutes the player when sound is disabled.
func WithPreferences(prefs Preferences) Option {
	return func(p *Poller) {
		p.prefs = prefs
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Poller) {
		p.logger = l
	}
}

// WithMetrics records poll outcomes and sounds.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Poller) {
		p.metrics = m
	}
}

// WithOnUpdate is called after every successful poll.
func WithOnUpdate(fn func(domain.UnreadSummary)) Option {
	return func(p *Poller) {
		p.onUpdate = fn
	}
}

// NewPoller creates a poller for memberID.
func NewPoller(source Source, memberID string, opts ...Option) *Poller {
	p := &Poller{
		source:   source,
		memberID: memberID,
		name:     "unread",
		limit:    DefaultLimit,
		interval: DefaultInterval,
		timeout:  10 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default().With("component", "notify", "poller", p.name)
	}

	p.reconciler = freshness.New(p.name, func(ctx context.Context, _ string) error {
		return p.Poll(ctx)
	}, freshness.WithInterval(p.interval), freshness.WithLogger(p.logger))
	return p
}

// Run polls immediately, then every interval and on every trigger, until ctx
// is canceled. It waits for pending mark-read calls before returning.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Debug("Starting unread poller", "member_id", p.memberID, "interval", p.interval)
	p.reconciler.Run(ctx)
	p.wg.Wait()
}

// Trigger asks for an early poll.
func (p *Poller) Trigger(reason string) {
	p.reconciler.Trigger(reason)
}

// Poll fetches the summary once. On failure the previous summary stays.
func (p *Poller) Poll(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	summary, err := p.source.Unread(ctx, p.memberID, p.limit)
	p.metrics.Poll(p.name, err, summary.Total)
	if err != nil {
		return err
	}

	p.mu.Lock()
	previous := p.summary.Total
	p.summary = summary
	p.polled = true
	p.mu.Unlock()

	if ShouldNotify(previous, summary.Total) {
		p.notify(ctx)
	}
	if p.onUpdate != nil {
		p.onUpdate(summary)
	}
	return nil
}

// ShouldNotify reports whether a change in the unread total deserves a sound:
// the total grew and the member already had unread messages.
func ShouldNotify(previous, next int) bool {
	return next > previous && previous > 0
}

func (p *Poller) notify(ctx context.Context) {
	if p.player == nil {
		return
	}
	if p.prefs != nil && !p.prefs.SoundEnabled() {
		p.logger.Debug("Notification sound muted")
		return
	}
	p.metrics.Sound()
	if err := p.player.Play(context.WithoutCancel(ctx)); err != nil {
		p.logger.Warn("Failed to play notification sound", "error", err)
	}
}

// MarkRead marks a channel read in the background and polls again once the
// server accepted it. The badge is not decremented locally.
func (p *Poller) MarkRead(ctx context.Context, channelID string) {
	if channelID == "" {
		return
	}
	ctx = context.WithoutCancel(ctx)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()

		if err := p.source.MarkRead(ctx, p.memberID, channelID); err != nil {
			p.logger.Warn("Failed to mark channel read", "channel_id", channelID, "error", err)
			return
		}
		p.Trigger(ReasonMarkRead)
	}()
}

// Summary returns the last fetched summary and whether any poll succeeded.
func (p *Poller) Summary() (domain.UnreadSummary, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.summary, p.polled
}

// Badge returns the badge text for the last fetched total.
func (p *Poller) Badge() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.summary.Badge()
}
