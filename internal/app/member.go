package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/nfrund/fellowship/internal/chat"
	"github.com/nfrund/fellowship/internal/config"
	"github.com/nfrund/fellowship/internal/contentapi"
	"github.com/nfrund/fellowship/internal/domain"
	"github.com/nfrund/fellowship/internal/metrics"
	"github.com/nfrund/fellowship/internal/notify"
	"github.com/nfrund/fellowship/internal/realtime"
	"github.com/nfrund/fellowship/internal/storage"
	"github.com/samber/do/v2"
)

var scopeSeq atomic.Uint64

// SignInOption customizes a member scope.
type SignInOption func(*signIn)

type signIn struct {
	status   bool
	onUnread func(domain.UnreadSummary)
}

// WithStatusPolling selects the slower live-stream status poll instead of the
// messages dropdown poll.
func WithStatusPolling() SignInOption {
	return func(s *signIn) {
		s.status = true
	}
}

// WithUnreadUpdates is called after every successful unread poll.
func WithUnreadUpdates(fn func(domain.UnreadSummary)) SignInOption {
	return func(s *signIn) {
		s.onUnread = fn
	}
}

// Member is the scope of one signed-in member. It owns the single realtime
// connection of that member and everything riding on it.
type Member struct {
	identity  domain.Identity
	scope     do.Injector
	cfg       *config.Config
	client    *contentapi.Client
	logger    *slog.Logger
	metrics   *metrics.Metrics
	manager   *realtime.Manager
	poller    *notify.Poller
	directory *chat.Directory

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions []*chat.Session
	closed   bool
}

// SignIn opens the member's connection, subscribes to their notification
// topic and starts the unread poller.
func SignIn(ctx context.Context, root do.Injector, identity domain.Identity, opts ...SignInOption) (*Member, error) {
	if !identity.Valid() {
		return nil, domain.ErrNoIdentity
	}
	var so signIn
	for _, opt := range opts {
		opt(&so)
	}

	cfg := do.MustInvoke[*config.Config](root)
	logger := do.MustInvoke[*slog.Logger](root).With("member_id", identity.MemberID)
	mt, err := do.Invoke[*metrics.Metrics](root)
	if err != nil {
		return nil, err
	}
	client, err := do.Invoke[*contentapi.Client](root)
	if err != nil {
		return nil, err
	}
	prefs, err := do.Invoke[*storage.Preferences](root)
	if err != nil {
		return nil, fmt.Errorf("load preferences: %w", err)
	}
	player, err := do.Invoke[notify.Player](root)
	if err != nil {
		logger.Warn("Notification sound unavailable", "error", err)
		player = nil
	}
	factory, err := do.Invoke[TransportFactory](root)
	if err != nil {
		return nil, err
	}

	transport, err := factory(identity)
	if err != nil {
		return nil, err
	}
	manager := realtime.NewManager(transport,
		realtime.WithLogger(logger.With("component", "realtime")),
		realtime.WithMetrics(mt),
	)
	if err := manager.Open(ctx, identity); err != nil {
		return nil, err
	}

	pollerOpts := []notify.Option{
		notify.WithLimit(cfg.UnreadLimit),
		notify.WithTimeout(cfg.RequestTimeout),
		notify.WithPreferences(prefs),
		notify.WithMetrics(mt),
		notify.WithOnUpdate(so.onUnread),
	}
	if player != nil {
		pollerOpts = append(pollerOpts, notify.WithPlayer(player))
	}
	if so.status {
		pollerOpts = append(pollerOpts, notify.WithName("status"), notify.WithInterval(cfg.StatusInterval))
	} else {
		pollerOpts = append(pollerOpts, notify.WithInterval(cfg.UnreadInterval))
	}
	poller := notify.NewPoller(client, identity.MemberID, pollerOpts...)

	m := &Member{
		identity:  identity,
		scope:     root.Scope(fmt.Sprintf("member-%s-%d", identity.MemberID, scopeSeq.Add(1))),
		cfg:       cfg,
		client:    client,
		logger:    logger,
		metrics:   mt,
		manager:   manager,
		poller:    poller,
		directory: chat.NewDirectory(client, identity.MemberID, logger.With("component", "directory")),
	}
	do.ProvideValue(m.scope, identity)
	do.ProvideValue(m.scope, manager)
	do.ProvideValue(m.scope, poller)
	do.ProvideValue(m.scope, m.directory)

	// Any message for this member is a hint that the unread summary moved.
	manager.Subscribe(realtime.MemberTopic(identity.MemberID), realtime.Handlers{
		realtime.EventNewMessage: func(realtime.Event) {
			poller.Trigger(notify.ReasonEvent)
		},
	})

	runCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		poller.Run(runCtx)
	}()

	logger.Info("Member signed in", "name", identity.Name())
	return m, nil
}

// Identity returns the signed-in member.
func (m *Member) Identity() domain.Identity { return m.identity }

// Connection returns the member's realtime connection manager.
func (m *Member) Connection() *realtime.Manager { return m.manager }

// Poller returns the member's unread poller.
func (m *Member) Poller() *notify.Poller { return m.poller }

// Directory returns the member's channel directory.
func (m *Member) Directory() *chat.Directory { return m.directory }

// Preferences returns the shared preferences store.
func (m *Member) Preferences() *storage.Preferences {
	return do.MustInvoke[*storage.Preferences](m.scope)
}

// NewSession opens a chat session on the member's connection. Sessions are
// closed by SignOut.
func (m *Member) NewSession(opts ...chat.Option) (*chat.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, domain.ErrTransportNotReady
	}

	base := []chat.Option{
		chat.WithLogger(m.logger.With("component", "chat")),
		chat.WithMetrics(m.metrics),
		chat.WithTypingTimeout(m.cfg.TypingTimeout),
		chat.WithPersistTimeout(m.cfg.RequestTimeout),
	}
	s := chat.NewSession(m.client, m.manager, m.identity, append(base, opts...)...)
	m.sessions = append(m.sessions, s)
	return s, nil
}

// SignOut stops polling, closes every session and then the connection, which
// unsubscribes all topics before the transport goes away. It is idempotent.
func (m *Member) SignOut() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	sessions := m.sessions
	m.sessions = nil
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
	for _, s := range sessions {
		s.Close()
	}
	err := m.manager.Close()
	m.scope.Shutdown()
	m.logger.Info("Member signed out")
	return err
}
