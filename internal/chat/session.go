// Package chat implements the channel session: the ordered, live message list
// of the selected conversation with optimistic sends.
package chat

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nfrund/fellowship/internal/contentapi"
	"github.com/nfrund/fellowship/internal/domain"
	"github.com/nfrund/fellowship/internal/freshness"
	"github.com/nfrund/fellowship/internal/metrics"
	"github.com/nfrund/fellowship/internal/presence"
	"github.com/nfrund/fellowship/internal/realtime"
)

// Backend is the part of the content API a session needs.
type Backend interface {
	Messages(ctx context.Context, channelID, memberID string) ([]domain.Message, error)
	SendMessage(ctx context.Context, channelID, senderID, body string) (string, error)
}

// Connection is the part of the realtime manager a session needs.
type Connection interface {
	Subscribe(name string, handlers realtime.Handlers) *realtime.Topic
	Unsubscribe(name string)
	Trigger(name, event string, data any)
	Connected() bool
	OnStateChange(fn func(realtime.State)) func()
}

// Phase is the per-channel lifecycle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseLoading
	PhaseReady
)

func (p Phase) String() string {
	switch p {
	case PhaseLoading:
		return "loading"
	case PhaseReady:
		return "ready"
	default:
		return "idle"
	}
}

// Refresh reasons.
const (
	ReasonGap       = "gap"
	ReasonReconnect = "reconnect"
)

// TypingPayload is the data of a client-typing event.
type TypingPayload struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
}

// Snapshot is a copy of the session state for rendering.
type Snapshot struct {
	Channel  domain.Channel
	Selected bool
	Phase    Phase
	Messages []domain.Message
	Typing   *presence.Typist
}

// Session keeps the message list of one selected channel in sync with the
// server. All network calls run without the session lock held.
type Session struct {
	backend  Backend
	conn     Connection
	identity domain.Identity
	logger   *slog.Logger
	metrics  *metrics.Metrics

	persistTimeout time.Duration
	typingTimeout  time.Duration
	onChange       func(Snapshot)

	typing     *presence.Tracker
	throttle   *presence.Throttle
	reconciler *freshness.Reconciler
	unwatch    func()

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu              sync.Mutex
	channel         domain.Channel
	selected        bool
	topic           string
	subscribed      bool
	phase           Phase
	messages        []domain.Message
	generation      uint64
	cancelFetch     context.CancelFunc
	wasDisconnected bool
	closed          bool
}

// Option is a function that configures a Session.
type Option func(*Session)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		s.logger = l
	}
}

// WithMetrics records sends and refetches.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

// WithTypingTimeout sets how long a remote typing indicator stays visible.
func WithTypingTimeout(d time.Duration) Option {
	return func(s *Session) {
		s.typingTimeout = d
	}
}

// WithPersistTimeout bounds the background send call.
func WithPersistTimeout(d time.Duration) Option {
	return func(s *Session) {
		s.persistTimeout = d
	}
}

// WithOnChange is called with a fresh snapshot after every state change.
// It runs without the session lock held.
func WithOnChange(fn func(Snapshot)) Option {
	return func(s *Session) {
		s.onChange = fn
	}
}

// NewSession creates a session for identity. Close releases it.
func NewSession(backend Backend, conn Connection, identity domain.Identity, opts ...Option) *Session {
	s := &Session{
		backend:        backend,
		conn:           conn,
		identity:       identity,
		logger:         slog.Default().With("component", "chat"),
		persistTimeout: 10 * time.Second,
		typingTimeout:  presence.DefaultTypingTimeout,
		throttle:       presence.NewThrottle(presence.DefaultThrottleWindow),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.typing = presence.NewTracker(
		presence.WithTimeout(s.typingTimeout),
		presence.WithOnChange(func(string, presence.Typist, bool) { s.changed() }),
	)
	s.reconciler = freshness.New("chat", s.refetch,
		freshness.WithoutInitialRun(),
		freshness.WithLogger(s.logger),
	)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.reconciler.Run(s.ctx)
	}()
	s.unwatch = conn.OnStateChange(s.onState)
	return s
}

// SelectChannel makes ch the active channel: the previous channel's topic is
// released, the list is replaced by a fresh history fetch and the channel's
// topic is subscribed. A fetch that completes after another selection is
// discarded. Fetch errors leave an empty ready list and are returned.
func (s *Session) SelectChannel(ctx context.Context, ch domain.Channel) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return context.Canceled
	}
	if s.cancelFetch != nil {
		s.cancelFetch()
	}
	prevTopic, prevChannel := s.topic, s.channel.ID
	s.generation++
	gen := s.generation
	s.channel = ch
	s.selected = true
	s.phase = PhaseLoading
	s.messages = nil
	s.topic = realtime.ChannelTopic(ch.ID)
	s.subscribed = false
	fetchCtx, cancel := context.WithCancel(ctx)
	s.cancelFetch = cancel
	topic := s.topic
	s.mu.Unlock()
	defer cancel()

	if prevChannel != "" {
		s.typing.Clear(prevChannel)
	}
	if prevTopic != "" && prevTopic != topic {
		s.conn.Unsubscribe(prevTopic)
	}
	s.subscribe(topic)
	s.changed()

	s.logger.Debug("Loading channel history", "channel_id", ch.ID)
	msgs, err := s.backend.Messages(fetchCtx, ch.ID, s.identity.MemberID)

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		s.logger.Debug("Discarding stale history", "channel_id", ch.ID)
		return nil
	}
	s.cancelFetch = nil
	s.phase = PhaseReady
	if err == nil {
		s.messages = reconcile(msgs, s.messages)
	}
	s.mu.Unlock()
	s.changed()

	if err != nil {
		s.logger.Error("Failed to load channel history", "channel_id", ch.ID, "error", err)
		return err
	}
	return nil
}

// Deselect releases the active channel and discards its messages.
func (s *Session) Deselect() {
	s.mu.Lock()
	if s.cancelFetch != nil {
		s.cancelFetch()
		s.cancelFetch = nil
	}
	topic, channelID := s.topic, s.channel.ID
	s.generation++
	s.channel = domain.Channel{}
	s.selected = false
	s.topic = ""
	s.subscribed = false
	s.phase = PhaseIdle
	s.messages = nil
	s.mu.Unlock()

	if topic != "" {
		s.conn.Unsubscribe(topic)
	}
	if channelID != "" {
		s.typing.Clear(channelID)
	}
	s.changed()
}

// subscribe binds the session to topic. The manager keeps the first handlers
// bound to a name, so they resolve the active channel on every event instead
// of capturing the selection that subscribed them.
func (s *Session) subscribe(topic string) {
	handle := s.conn.Subscribe(topic, realtime.Handlers{
		realtime.EventNewMessage: func(e realtime.Event) { s.handleNewMessage(topic, e) },
		realtime.EventTyping:     func(e realtime.Event) { s.handleTyping(topic, e) },
	})
	if handle == nil {
		s.logger.Warn("Realtime topic unavailable, waiting for connection", "topic", topic)
		return
	}
	s.mu.Lock()
	if s.selected && s.topic == topic {
		s.subscribed = true
	}
	s.mu.Unlock()
}

// active reports the channel bound to topic, if topic is still the selected one.
func (s *Session) active(topic string) (channelID string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.selected || s.topic != topic {
		return "", false
	}
	return s.channel.ID, true
}

// SendMessage appends an optimistic pending entry and persists it in the
// background. Empty text, no selected channel or a disconnected transport
// make it a no-op that returns false.
func (s *Session) SendMessage(text string) (domain.Message, bool) {
	body := strings.TrimSpace(text)
	if body == "" {
		return domain.Message{}, false
	}

	s.mu.Lock()
	if s.closed || !s.selected {
		s.mu.Unlock()
		return domain.Message{}, false
	}
	if !s.conn.Connected() {
		s.mu.Unlock()
		s.logger.Debug("Not sending while disconnected", "channel_id", s.channel.ID)
		return domain.Message{}, false
	}
	msg := domain.Message{
		ID:         domain.TempIDPrefix + uuid.NewString(),
		ChannelID:  s.channel.ID,
		SenderID:   s.identity.MemberID,
		SenderName: s.identity.Name(),
		Body:       body,
		CreatedAt:  time.Now().UTC(),
		Status:     domain.StatusPending,
	}
	s.messages = append(s.messages, msg)
	gen := s.generation
	s.mu.Unlock()

	s.throttle.Reset(msg.ChannelID)
	s.changed()
	s.persist(gen, msg)
	return msg, true
}

// Retry resends a failed message. It returns false when id is not a failed
// entry of the active channel.
func (s *Session) Retry(id string) bool {
	s.mu.Lock()
	idx := indexOf(s.messages, id)
	if s.closed || idx < 0 || s.messages[idx].Status != domain.StatusFailed {
		s.mu.Unlock()
		return false
	}
	s.messages[idx].Status = domain.StatusPending
	msg := s.messages[idx]
	gen := s.generation
	s.mu.Unlock()

	s.changed()
	s.persist(gen, msg)
	return true
}

func (s *Session) persist(gen uint64, msg domain.Message) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, s.persistTimeout)
		defer cancel()

		serverID, err := s.backend.SendMessage(ctx, msg.ChannelID, msg.SenderID, msg.Body)
		s.settle(gen, msg.ID, serverID, err)
	}()
}

// settle applies the outcome of a send. Without a server id the entry stays
// pending until the realtime echo or a refetch reconciles it.
func (s *Session) settle(gen uint64, tempID, serverID string, err error) {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	idx := indexOf(s.messages, tempID)
	switch {
	case idx < 0:
		// The echo already replaced the entry.
	case err != nil:
		s.messages[idx].Status = domain.StatusFailed
	case serverID == "":
	case indexOf(s.messages, serverID) >= 0:
		s.messages = append(s.messages[:idx], s.messages[idx+1:]...)
	default:
		s.messages[idx].ID = serverID
		s.messages[idx].Status = domain.StatusConfirmed
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("Failed to send message", "channel_id", s.channelID(), "error", err)
		s.metrics.Send("failed")
	} else {
		s.metrics.Send("confirmed")
	}
	s.changed()
}

// NotifyTyping tells peers the member is typing, at most once per second.
func (s *Session) NotifyTyping() {
	s.mu.Lock()
	topic, channelID, ok := s.topic, s.channel.ID, s.selected && s.subscribed && !s.closed
	s.mu.Unlock()

	if !ok || !s.conn.Connected() || !s.throttle.Allow(channelID) {
		return
	}
	s.conn.Trigger(topic, realtime.EventTyping, TypingPayload{UserID: s.identity.MemberID, UserName: s.identity.Name()})
}

func (s *Session) handleNewMessage(topic string, e realtime.Event) {
	channelID, ok := s.active(topic)
	if !ok {
		return
	}

	msg, err := contentapi.ParseMessage(e.Payload(), channelID)
	if err != nil {
		s.logger.Warn("Undecodable message event, refetching", "channel_id", channelID, "error", err)
		s.reconciler.Trigger(ReasonGap)
		return
	}
	if msg.ChannelID != channelID {
		return
	}

	s.mu.Lock()
	if s.closed || !s.selected || s.topic != topic || s.channel.ID != channelID {
		s.mu.Unlock()
		return
	}
	s.messages = merge(s.messages, msg, s.identity.MemberID)
	s.mu.Unlock()

	if typist, ok := s.typing.Get(channelID); ok && typist.MemberID == msg.SenderID {
		s.typing.Clear(channelID)
	}
	s.changed()
}

func (s *Session) handleTyping(topic string, e realtime.Event) {
	var p TypingPayload
	if err := e.Decode(&p); err != nil || p.UserID == "" {
		s.logger.Debug("Ignoring malformed typing event", "error", err)
		return
	}
	if p.UserID == s.identity.MemberID {
		return
	}

	channelID, ok := s.active(topic)
	if !ok {
		return
	}

	name := p.UserName
	if name == "" {
		name = p.UserID
	}
	s.typing.Observe(channelID, p.UserID, name)
}

func (s *Session) onState(st realtime.State) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	var resubscribe, refetch bool
	switch st {
	case realtime.StateDisconnected:
		s.wasDisconnected = true
	case realtime.StateConnected:
		resubscribe = s.selected && !s.subscribed
		refetch = s.selected && s.wasDisconnected
		s.wasDisconnected = false
	}
	topic := s.topic
	s.mu.Unlock()

	if resubscribe {
		s.subscribe(topic)
	}
	if refetch {
		s.logger.Info("Connection restored, refetching channel", "topic", topic)
		s.reconciler.Trigger(ReasonReconnect)
	}
}

// refetch replaces the list with server state, keeping local entries the
// server does not know about yet.
func (s *Session) refetch(ctx context.Context, reason string) error {
	s.mu.Lock()
	if !s.selected {
		s.mu.Unlock()
		return nil
	}
	ch, gen := s.channel, s.generation
	s.mu.Unlock()

	s.metrics.Refresh(reason)
	msgs, err := s.backend.Messages(ctx, ch.ID, s.identity.MemberID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return nil
	}
	s.messages = reconcile(msgs, s.messages)
	s.phase = PhaseReady
	s.mu.Unlock()
	s.changed()
	return nil
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		Channel:  s.channel,
		Selected: s.selected,
		Phase:    s.phase,
		Messages: append([]domain.Message(nil), s.messages...),
	}
	channelID := s.channel.ID
	s.mu.Unlock()

	if typist, ok := s.typing.Get(channelID); ok && snap.Selected {
		snap.Typing = &typist
	}
	return snap
}

// Close releases the channel topic and waits for background sends.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.cancelFetch != nil {
		s.cancelFetch()
	}
	topic := s.topic
	s.generation++
	s.mu.Unlock()

	s.unwatch()
	if topic != "" {
		s.conn.Unsubscribe(topic)
	}
	s.typing.Close()
	s.cancel()
	s.wg.Wait()
}

func (s *Session) channelID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channel.ID
}

func (s *Session) changed() {
	if s.onChange != nil {
		s.onChange(s.Snapshot())
	}
}
