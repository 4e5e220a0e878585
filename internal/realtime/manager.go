package realtime

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/nfrund/fellowship/internal/domain"
	"github.com/nfrund/fellowship/internal/metrics"
	"github.com/nfrund/fellowship/internal/topicmgr"
)

// Topic is a subscribed topic handle.
type Topic struct {
	name     string
	sub      Subscription
	released atomic.Bool
}

// Name returns the topic name.
func (t *Topic) Name() string {
	return t.name
}

// Manager keeps exactly one transport per identity and a registry of
// subscribed topics. It does not retry connecting; that is the transport's job.
type Manager struct {
	transport Transport
	logger    *slog.Logger
	validator *topicmgr.Validator
	metrics   *metrics.Metrics

	mu        sync.Mutex
	identity  domain.Identity
	open      bool
	closed    bool
	state     State
	topics    map[string]*Topic
	listeners map[int]func(State)
	nextID    int
}

// Option is a function that configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithMetrics records dispatched events and the connection state.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// WithValidator overrides the channel name rules.
func WithValidator(v *topicmgr.Validator) Option {
	return func(m *Manager) {
		m.validator = v
	}
}

// NewManager wraps a transport that has not been opened yet.
func NewManager(t Transport, opts ...Option) *Manager {
	m := &Manager{
		transport: t,
		logger:    slog.Default().With("component", "realtime"),
		validator: topicmgr.NewValidator(),
		state:     StateDisconnected,
		topics:    make(map[string]*Topic),
		listeners: make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open starts the transport with identity-scoped authentication.
func (m *Manager) Open(ctx context.Context, identity domain.Identity) error {
	if !identity.Valid() {
		return domain.ErrNoIdentity
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return domain.ErrTransportNotReady
	}
	if m.open {
		m.mu.Unlock()
		return nil
	}
	m.identity = identity
	m.mu.Unlock()

	m.setState(StateConnecting)
	if err := m.transport.Open(ctx, identity, m.setState); err != nil {
		m.logger.Error("Failed to open realtime transport", "member_id", identity.MemberID, "error", err)
		m.setState(StateDisconnected)
		return err
	}

	m.mu.Lock()
	m.open = true
	m.mu.Unlock()
	m.logger.Info("Realtime transport opened", "member_id", identity.MemberID)
	return nil
}

// Subscribe binds handlers to a topic. A topic that is already subscribed is
// returned unchanged and the new handlers are ignored. It returns nil when
// the transport is not open or the subscription could not be created.
func (m *Manager) Subscribe(name string, handlers Handlers) *Topic {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.open || m.closed {
		m.logger.Debug("Subscribe before transport is open", "topic", name)
		return nil
	}
	if t, ok := m.topics[name]; ok {
		return t
	}
	if err := m.validator.ValidateChannel(name); err != nil {
		m.logger.Warn("Refusing to subscribe to invalid topic", "topic", name, "error", err)
		return nil
	}

	sub, err := m.transport.Subscribe(name)
	if err != nil {
		m.logger.Error("Failed to subscribe", "topic", name, "error", err)
		return nil
	}

	t := &Topic{name: name, sub: sub}
	for event, h := range handlers {
		sub.Bind(event, m.guard(t, h))
	}
	m.topics[name] = t
	m.logger.Debug("Subscribed", "topic", name, "events", len(handlers))
	return t
}

// guard drops events that race with an unsubscribe.
func (m *Manager) guard(t *Topic, h Handler) Handler {
	return func(e Event) {
		if t.released.Load() {
			return
		}
		m.metrics.RealtimeEvent(e.Name)
		h(e)
	}
}

// Unsubscribe releases a topic. Unknown topics are ignored.
func (m *Manager) Unsubscribe(name string) {
	m.mu.Lock()
	t, ok := m.topics[name]
	if ok {
		delete(m.topics, name)
		t.released.Store(true)
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	if err := t.sub.Unsubscribe(); err != nil {
		m.logger.Warn("Failed to unsubscribe", "topic", name, "error", err)
	}
}

// Trigger emits a client event on a subscribed topic. It is a no-op for
// topics that are not subscribed; failures are only logged.
func (m *Manager) Trigger(name, event string, data any) {
	m.mu.Lock()
	t, ok := m.topics[name]
	m.mu.Unlock()

	if !ok {
		m.logger.Debug("Trigger on topic that is not subscribed", "topic", name, "event", event)
		return
	}
	if err := m.validator.ValidateClientEvent(event); err != nil {
		m.logger.Warn("Refusing to trigger event", "topic", name, "event", event, "error", err)
		return
	}
	if err := t.sub.Trigger(event, data); err != nil {
		m.logger.Warn("Failed to trigger event", "topic", name, "event", event, "error", err)
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connected reports whether sends can currently reach the broker.
func (m *Manager) Connected() bool {
	return m.State() == StateConnected
}

// Identity returns the member the manager was opened for.
func (m *Manager) Identity() domain.Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.identity
}

// OnStateChange registers fn for state transitions and returns a function
// that removes it.
func (m *Manager) OnStateChange(fn func(State)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// Topics lists the subscribed topic names.
func (m *Manager) Topics() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.topics))
	for name := range m.topics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close unsubscribes every topic and only then closes the transport.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	wasOpen := m.open
	m.open = false
	topics := make([]*Topic, 0, len(m.topics))
	for _, t := range m.topics {
		t.released.Store(true)
		topics = append(topics, t)
	}
	m.topics = make(map[string]*Topic)
	m.mu.Unlock()

	for _, t := range topics {
		if err := t.sub.Unsubscribe(); err != nil {
			m.logger.Warn("Failed to unsubscribe during close", "topic", t.name, "error", err)
		}
	}

	var err error
	if wasOpen {
		err = m.transport.Close()
		if err != nil {
			m.logger.Error("Failed to close realtime transport", "error", err)
		}
	}
	m.setState(StateDisconnected)

	m.mu.Lock()
	m.listeners = make(map[int]func(State))
	m.mu.Unlock()
	m.logger.Info("Realtime transport closed", "topics", len(topics))
	return err
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	if m.state == s {
		m.mu.Unlock()
		return
	}
	prev := m.state
	m.state = s
	listeners := make([]func(State), 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	m.mu.Unlock()

	m.metrics.Connected(s == StateConnected)
	m.logger.Info("Connection state changed", "from", prev, "to", s)
	for _, fn := range listeners {
		fn(s)
	}
}
