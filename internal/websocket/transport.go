package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/nfrund/fellowship/internal/domain"
	"github.com/nfrund/fellowship/internal/realtime"
	"github.com/nfrund/fellowship/internal/topicmgr"
)

const (
	// ProtocolVersion is the Pusher protocol revision spoken by the transport.
	ProtocolVersion = 7

	defaultReconnectDelay = 2 * time.Second
	defaultDialTimeout    = 10 * time.Second
	defaultPingInterval   = 30 * time.Second
	defaultPongTimeout    = 10 * time.Second
	defaultCloseTimeout   = 2 * time.Second
	outboundBuffer        = 64
	maxMessageSize        = 1 << 20
)

// Credentials sign a private or presence subscription.
type Credentials struct {
	Auth        string
	ChannelData string
}

// Authorizer signs subscriptions on behalf of the member.
type Authorizer interface {
	Authorize(ctx context.Context, socketID, channel string, identity domain.Identity) (Credentials, error)
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(ctx context.Context, socketID, channel string, identity domain.Identity) (Credentials, error)

func (f AuthorizerFunc) Authorize(ctx context.Context, socketID, channel string, identity domain.Identity) (Credentials, error) {
	return f(ctx, socketID, channel, identity)
}

// AppURL turns a broker host URL and app key into the connection URL.
// URLs that already carry an /app/ path are only given the protocol query.
func AppURL(base, key string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported realtime scheme %q", u.Scheme)
	}
	if !strings.Contains(u.Path, "/app/") {
		u.Path = strings.TrimRight(u.Path, "/") + "/app/" + key
	}
	q := u.Query()
	q.Set("protocol", fmt.Sprint(ProtocolVersion))
	q.Set("client", "fellowship-go")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type opKind int

const (
	opSubscribe opKind = iota
	opUnsubscribe
	opSend
	opClose
)

type outbound struct {
	kind    opKind
	channel string
	frame   Frame
}

// Transport is a realtime.Transport speaking the Pusher protocol over
// WebSocket. It reconnects after a fixed delay and resubscribes every
// channel it still holds.
type Transport struct {
	url    string
	auth   Authorizer
	logger *slog.Logger

	reconnectDelay time.Duration
	dialTimeout    time.Duration
	pingInterval   time.Duration
	pongTimeout    time.Duration
	dialOptions    *websocket.DialOptions

	mu       sync.Mutex
	identity domain.Identity
	onState  func(realtime.State)
	subs     map[string]*subscription
	queue    chan outbound
	socketID string
	cancel   context.CancelFunc
	done     chan struct{}
	closed   bool
}

var _ realtime.Transport = (*Transport)(nil)

// Option is a function that configures a Transport.
type Option func(*Transport)

// WithReconnectDelay sets the pause between connection attempts.
func WithReconnectDelay(d time.Duration) Option {
	return func(t *Transport) {
		t.reconnectDelay = d
	}
}

// WithPingInterval sets how long the connection may stay silent before a
// ping is sent, and the time allowed for the answer.
func WithPingInterval(interval, timeout time.Duration) Option {
	return func(t *Transport) {
		t.pingInterval = interval
		t.pongTimeout = timeout
	}
}

// WithDialOptions passes options to the websocket dialer.
func WithDialOptions(o *websocket.DialOptions) Option {
	return func(t *Transport) {
		t.dialOptions = o
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) {
		t.logger = l
	}
}

// NewTransport creates a transport for the connection URL built by AppURL.
// auth may be nil when only public channels are used.
func NewTransport(wsURL string, auth Authorizer, opts ...Option) *Transport {
	t := &Transport{
		url:            wsURL,
		auth:           auth,
		logger:         slog.Default().With("component", "websocket"),
		reconnectDelay: defaultReconnectDelay,
		dialTimeout:    defaultDialTimeout,
		pingInterval:   defaultPingInterval,
		pongTimeout:    defaultPongTimeout,
		subs:           make(map[string]*subscription),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Open implements realtime.Transport. Connecting happens in the background.
func (t *Transport) Open(_ context.Context, identity domain.Identity, onState func(realtime.State)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return domain.ErrTransportNotReady
	}
	if t.cancel != nil {
		return errors.New("websocket transport already open")
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.identity = identity
	t.onState = onState
	t.cancel = cancel
	t.done = make(chan struct{})
	go t.run(ctx)
	return nil
}

// SocketID returns the id assigned by the server for the current connection.
func (t *Transport) SocketID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.socketID
}

// Subscribe implements realtime.Transport. While disconnected the request is
// held and sent once the connection is up.
func (t *Transport) Subscribe(channel string) (realtime.Subscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed || t.cancel == nil {
		return nil, domain.ErrTransportNotReady
	}
	if s, ok := t.subs[channel]; ok {
		return s, nil
	}

	s := &subscription{transport: t, channel: channel, handlers: make(map[string]realtime.Handler)}
	t.subs[channel] = s
	if t.queue != nil {
		_ = t.enqueueLocked(outbound{kind: opSubscribe, channel: channel})
	}
	return s, nil
}

// Close implements realtime.Transport. Pending frames, such as unsubscribes
// issued just before, are flushed before the connection is closed.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	cancel, done := t.cancel, t.done
	flush := t.queue != nil && t.enqueueLocked(outbound{kind: opClose}) == nil
	t.mu.Unlock()

	if cancel == nil {
		return nil
	}

	if flush {
		select {
		case <-done:
		case <-time.After(defaultCloseTimeout):
			t.logger.Warn("Timed out flushing websocket before close")
		}
	}
	cancel()
	<-done
	return nil
}

func (t *Transport) notify(s realtime.State) {
	t.mu.Lock()
	fn := t.onState
	t.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Transport) run(ctx context.Context) {
	defer close(t.done)

	for {
		t.notify(realtime.StateConnecting)
		err := t.session(ctx)
		t.notify(realtime.StateDisconnected)

		if ctx.Err() != nil || t.isClosed() {
			return
		}
		t.logger.Warn("Websocket connection lost, reconnecting", "error", err, "delay", t.reconnectDelay)

		select {
		case <-ctx.Done():
			return
		case <-time.After(t.reconnectDelay):
		}
	}
}

// session runs one connection from dial to failure.
func (t *Transport) session(ctx context.Context) error {
	dialCtx, cancelDial := context.WithTimeout(ctx, t.dialTimeout)
	conn, _, err := websocket.Dial(dialCtx, t.url, t.dialOptions)
	cancelDial()
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxMessageSize)

	established, err := t.handshake(ctx, conn)
	if err != nil {
		return err
	}

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	queue := make(chan outbound, outboundBuffer)
	t.mu.Lock()
	t.socketID = established.SocketID
	t.queue = queue
	for channel, s := range t.subs {
		s.subscribed.Store(false)
		_ = t.enqueueLocked(outbound{kind: opSubscribe, channel: channel})
	}
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.queue = nil
		t.socketID = ""
		t.mu.Unlock()
	}()

	t.logger.Info("Websocket connected", "socket_id", established.SocketID)
	t.notify(realtime.StateConnected)

	var lastSeen atomic.Int64
	lastSeen.Store(time.Now().UnixNano())

	writeErr := make(chan error, 1)
	go func() {
		writeErr <- t.writeLoop(sessCtx, conn, queue, established.SocketID)
		cancel()
	}()
	go t.pingLoop(sessCtx, conn, &lastSeen, interval(established, t.pingInterval))

	readErr := t.readLoop(sessCtx, conn, &lastSeen)
	cancel()
	if err := <-writeErr; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return readErr
}

func interval(e ConnectionEstablished, fallback time.Duration) time.Duration {
	if e.ActivityTimeout > 0 {
		d := time.Duration(e.ActivityTimeout) * time.Second
		if d < fallback {
			return d
		}
	}
	return fallback
}

func (t *Transport) handshake(ctx context.Context, conn *websocket.Conn) (ConnectionEstablished, error) {
	hsCtx, cancel := context.WithTimeout(ctx, t.dialTimeout)
	defer cancel()

	var f Frame
	if err := wsjson.Read(hsCtx, conn, &f); err != nil {
		return ConnectionEstablished{}, fmt.Errorf("handshake: %w", err)
	}
	if f.Event == EventError {
		var p ErrorPayload
		_ = f.DecodeData(&p)
		return ConnectionEstablished{}, fmt.Errorf("handshake refused: %d %s", p.Code, p.Message)
	}
	if f.Event != EventConnectionEstablished {
		return ConnectionEstablished{}, fmt.Errorf("handshake: unexpected event %q", f.Event)
	}
	var established ConnectionEstablished
	if err := f.DecodeData(&established); err != nil || established.SocketID == "" {
		return ConnectionEstablished{}, fmt.Errorf("handshake: malformed connection data")
	}
	return established, nil
}

func (t *Transport) readLoop(ctx context.Context, conn *websocket.Conn, lastSeen *atomic.Int64) error {
	for {
		var f Frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			return err
		}
		lastSeen.Store(time.Now().UnixNano())
		t.dispatch(f)
	}
}

func (t *Transport) dispatch(f Frame) {
	switch f.Event {
	case EventPing:
		t.mu.Lock()
		_ = t.enqueueLocked(outbound{kind: opSend, frame: Frame{Event: EventPong, Data: []byte("{}")}})
		t.mu.Unlock()
	case EventPong:
	case EventSubscriptionSucceeded:
		if s := t.lookup(f.Channel); s != nil {
			s.subscribed.Store(true)
			t.logger.Debug("Subscription succeeded", "channel", f.Channel)
		}
	case EventSubscriptionError, EventError:
		var p ErrorPayload
		_ = f.DecodeData(&p)
		t.logger.Warn("Broker reported an error", "event", f.Event, "channel", f.Channel, "code", p.Code, "message", p.Message)
	default:
		if f.Channel == "" {
			t.logger.Debug("Ignoring frame without channel", "event", f.Event)
			return
		}
		if s := t.lookup(f.Channel); s != nil {
			s.deliver(realtime.Event{Topic: f.Channel, Name: f.Event, Data: f.Data})
		}
	}
}

func (t *Transport) lookup(channel string) *subscription {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.subs[channel]
}

// writeLoop is the only writer on the connection, so frames leave in the
// order they were queued.
func (t *Transport) writeLoop(ctx context.Context, conn *websocket.Conn, queue <-chan outbound, socketID string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case op := <-queue:
			switch op.kind {
			case opClose:
				return conn.Close(websocket.StatusNormalClosure, "client closed")
			case opSubscribe:
				frame, err := t.subscribeFrame(ctx, op.channel, socketID)
				if err != nil {
					t.logger.Error("Failed to authorize subscription", "channel", op.channel, "error", err)
					continue
				}
				if err := wsjson.Write(ctx, conn, frame); err != nil {
					return err
				}
			case opUnsubscribe:
				frame, _ := NewFrame(EventUnsubscribe, "", UnsubscribeRequest{Channel: op.channel})
				if err := wsjson.Write(ctx, conn, frame); err != nil {
					return err
				}
			case opSend:
				if err := wsjson.Write(ctx, conn, op.frame); err != nil {
					return err
				}
			}
		}
	}
}

func (t *Transport) subscribeFrame(ctx context.Context, channel, socketID string) (Frame, error) {
	// The channel may have been released while the request was queued.
	if t.lookup(channel) == nil {
		return Frame{}, domain.ErrNotSubscribed
	}

	req := SubscribeRequest{Channel: channel}
	if topicmgr.RequiresAuth(channel) {
		if t.auth == nil {
			return Frame{}, errors.New("no authorizer configured")
		}
		t.mu.Lock()
		identity := t.identity
		t.mu.Unlock()

		creds, err := t.auth.Authorize(ctx, socketID, channel, identity)
		if err != nil {
			return Frame{}, err
		}
		req.Auth = creds.Auth
		req.ChannelData = creds.ChannelData
	}
	return NewFrame(EventSubscribe, "", req)
}

// pingLoop pings after every of silence and drops the connection when
// nothing arrives within pongTimeout of the ping.
func (t *Transport) pingLoop(ctx context.Context, conn *websocket.Conn, lastSeen *atomic.Int64, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	var (
		pingSent time.Time
		deadline *time.Timer
		expired  <-chan time.Time
	)
	defer func() {
		if deadline != nil {
			deadline.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-expired:
			expired = nil
			seen := time.Unix(0, lastSeen.Load())
			if seen.Before(pingSent) {
				t.logger.Warn("No answer to ping, dropping connection", "silent_for", now.Sub(seen))
				conn.CloseNow()
				return
			}
		case now := <-ticker.C:
			if expired != nil {
				continue
			}
			seen := time.Unix(0, lastSeen.Load())
			if now.Sub(seen) < every {
				continue
			}
			pingSent = now
			t.mu.Lock()
			_ = t.enqueueLocked(outbound{kind: opSend, frame: Frame{Event: EventPing, Data: []byte("{}")}})
			t.mu.Unlock()
			if deadline == nil {
				deadline = time.NewTimer(t.pongTimeout)
			} else {
				deadline.Reset(t.pongTimeout)
			}
			expired = deadline.C
		}
	}
}

// enqueueLocked must be called with t.mu held.
func (t *Transport) enqueueLocked(op outbound) error {
	if t.queue == nil {
		return domain.ErrDisconnected
	}
	select {
	case t.queue <- op:
		return nil
	default:
		t.logger.Warn("Outbound buffer full, dropping frame", "channel", op.channel)
		return errors.New("outbound buffer full")
	}
}

func (t *Transport) unsubscribe(s *subscription) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.subs[s.channel] != s {
		return
	}
	delete(t.subs, s.channel)
	if t.queue != nil {
		_ = t.enqueueLocked(outbound{kind: opUnsubscribe, channel: s.channel})
	}
}

func (t *Transport) send(f Frame) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enqueueLocked(outbound{kind: opSend, channel: f.Channel, frame: f})
}
