package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/nfrund/fellowship/internal/pubsub"
	"github.com/nfrund/fellowship/internal/realtime"
	"github.com/nfrund/fellowship/internal/topicmgr"
	ws "github.com/nfrund/fellowship/internal/websocket"
)

const (
	writeWait       = 10 * time.Second
	maxFrameSize    = 64 * 1024
	sendBufferSize  = 64
	activityTimeout = 120 * time.Second
)

// Pusher error codes used by the dev broker.
const (
	codeUnsupported = 4200
	codeAuthFailed  = 4009
	codeNotAllowed  = 4301
)

// Broker is a Pusher-protocol websocket endpoint. Channel fan-out runs on the
// message bus: each channel subscription of a connection is a bus
// subscription, and client events are published with the sender's socket id
// so they are not echoed back.
type Broker struct {
	signer    Signer
	bus       realtime.Bus
	validator *topicmgr.Validator
	logger    *slog.Logger
	upgrader  websocket.Upgrader
	timeout   time.Duration

	mu     sync.Mutex
	conns  map[*brokerConn]struct{}
	closed bool
}

// NewBroker creates a broker that verifies subscriptions with signer.
func NewBroker(signer Signer, bus realtime.Bus, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		signer:    signer,
		bus:       bus,
		validator: topicmgr.NewValidator(),
		logger:    logger.With("component", "broker"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		timeout: activityTimeout,
		conns:   make(map[*brokerConn]struct{}),
	}
}

// Publish sends a server event to every subscriber of channel.
func (b *Broker) Publish(ctx context.Context, channel, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", event, err)
	}
	return b.bus.Publish(ctx, pubsub.Message{Topic: channel, Event: event, Payload: payload})
}

// Handle is the echo handler for /app/:key.
func (b *Broker) Handle(c echo.Context) error {
	if c.Param("key") != b.signer.Key {
		return echo.NewHTTPError(http.StatusNotFound, "unknown application key")
	}
	conn, err := b.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader already wrote the error response.
		b.logger.Warn("Websocket upgrade failed", "error", err)
		return nil
	}
	b.serve(conn)
	return nil
}

// ConnCount returns the number of open connections.
func (b *Broker) ConnCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns)
}

// Close disconnects every client.
func (b *Broker) Close() {
	b.mu.Lock()
	b.closed = true
	conns := make([]*brokerConn, 0, len(b.conns))
	for c := range b.conns {
		conns = append(conns, c)
	}
	b.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
}

type brokerSub struct {
	cancel context.CancelFunc
	userID string
}

type brokerConn struct {
	broker   *Broker
	ws       *websocket.Conn
	socketID string
	logger   *slog.Logger
	send     chan ws.Frame
	ctx      context.Context
	cancel   context.CancelFunc
	once     sync.Once

	mu   sync.Mutex
	subs map[string]brokerSub
}

func (b *Broker) serve(conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(context.Background())
	socketID := fmt.Sprintf("%d.%d", rand.IntN(1_000_000_000), rand.IntN(1_000_000_000))
	c := &brokerConn{
		broker:   b,
		ws:       conn,
		socketID: socketID,
		logger:   b.logger.With("socket_id", socketID),
		send:     make(chan ws.Frame, sendBufferSize),
		ctx:      ctx,
		cancel:   cancel,
		subs:     make(map[string]brokerSub),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		c.close()
		return
	}
	b.conns[c] = struct{}{}
	b.mu.Unlock()

	established, _ := ws.NewServerFrame(ws.EventConnectionEstablished, "", ws.ConnectionEstablished{
		SocketID:        socketID,
		ActivityTimeout: int(b.timeout / time.Second),
	})
	c.enqueue(established)
	c.logger.Debug("Client connected")

	go c.writePump()
	c.readPump()

	b.mu.Lock()
	delete(b.conns, c)
	b.mu.Unlock()
	c.close()
	c.logger.Debug("Client disconnected")
}

func (c *brokerConn) close() {
	c.once.Do(func() {
		c.cancel()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing"),
			time.Now().Add(writeWait))
		_ = c.ws.Close()
	})
}

// enqueue never blocks the bus; a client that cannot keep up loses frames.
func (c *brokerConn) enqueue(f ws.Frame) {
	select {
	case c.send <- f:
	case <-c.ctx.Done():
	default:
		c.logger.Warn("Dropping frame for slow client", "event", f.Event, "channel", f.Channel)
	}
}

func (c *brokerConn) writePump() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case f := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(f); err != nil {
				c.logger.Debug("Write failed", "error", err)
				c.cancel()
				return
			}
		}
	}
}

func (c *brokerConn) readPump() {
	c.ws.SetReadLimit(maxFrameSize)
	for {
		_ = c.ws.SetReadDeadline(time.Now().Add(2 * c.broker.timeout))
		var f ws.Frame
		if err := c.ws.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("Read failed", "error", err)
			}
			return
		}
		c.handle(f)
	}
}

func (c *brokerConn) handle(f ws.Frame) {
	switch {
	case f.Event == ws.EventSubscribe:
		var req ws.SubscribeRequest
		if err := f.DecodeData(&req); err != nil {
			c.fail(ws.EventError, "", codeUnsupported, "malformed subscribe request")
			return
		}
		c.subscribe(req)
	case f.Event == ws.EventUnsubscribe:
		var req ws.UnsubscribeRequest
		if err := f.DecodeData(&req); err == nil {
			c.unsubscribe(req.Channel)
		}
	case f.Event == ws.EventPing:
		c.enqueue(ws.Frame{Event: ws.EventPong, Data: json.RawMessage(`{}`)})
	case f.Event == ws.EventPong:
	case strings.HasPrefix(f.Event, topicmgr.ClientEventPrefix):
		c.relay(f)
	default:
		c.fail(ws.EventError, "", codeUnsupported, "unsupported event "+f.Event)
	}
}

func (c *brokerConn) fail(event, channel string, code int, message string) {
	frame, _ := ws.NewServerFrame(event, channel, ws.ErrorPayload{Message: message, Code: code})
	c.enqueue(frame)
}

func (c *brokerConn) subscribe(req ws.SubscribeRequest) {
	channel := req.Channel
	if err := c.broker.validator.ValidateChannel(channel); err != nil {
		c.fail(ws.EventSubscriptionError, channel, codeNotAllowed, err.Error())
		return
	}
	if topicmgr.RequiresAuth(channel) && !c.broker.signer.Verify(req.Auth, c.socketID, channel, req.ChannelData) {
		c.logger.Warn("Rejected subscription with bad signature", "channel", channel)
		c.fail(ws.EventSubscriptionError, channel, codeAuthFailed, "invalid signature")
		return
	}

	var member struct {
		UserID string `json:"user_id"`
	}
	if req.ChannelData != "" {
		_ = json.Unmarshal([]byte(req.ChannelData), &member)
	}

	c.mu.Lock()
	if _, exists := c.subs[channel]; !exists {
		subCtx, cancel := context.WithCancel(c.ctx)
		if err := c.broker.bus.Subscribe(subCtx, channel, c.deliver); err != nil {
			c.mu.Unlock()
			cancel()
			c.logger.Error("Failed to subscribe to bus", "channel", channel, "error", err)
			c.fail(ws.EventSubscriptionError, channel, codeUnsupported, "subscription failed")
			return
		}
		c.subs[channel] = brokerSub{cancel: cancel, userID: member.UserID}
	}
	c.mu.Unlock()

	succeeded, _ := ws.NewServerFrame(ws.EventSubscriptionSucceeded, channel, struct{}{})
	c.enqueue(succeeded)
	c.logger.Debug("Client subscribed", "channel", channel)
}

func (c *brokerConn) unsubscribe(channel string) {
	c.mu.Lock()
	sub, ok := c.subs[channel]
	delete(c.subs, channel)
	c.mu.Unlock()

	if ok {
		sub.cancel()
		c.logger.Debug("Client unsubscribed", "channel", channel)
	}
}

// relay publishes a client event to the channel's other subscribers. Client
// events are only allowed on authenticated channels the sender has joined.
func (c *brokerConn) relay(f ws.Frame) {
	c.mu.Lock()
	sub, ok := c.subs[f.Channel]
	c.mu.Unlock()

	if !ok || !topicmgr.RequiresAuth(f.Channel) {
		c.fail(ws.EventError, f.Channel, codeNotAllowed, "client events require a joined private or presence channel")
		return
	}
	msg := pubsub.Message{
		Topic:   f.Channel,
		Event:   f.Event,
		Origin:  c.socketID,
		UserID:  sub.userID,
		Payload: f.Data,
	}
	if err := c.broker.bus.Publish(c.ctx, msg); err != nil {
		c.logger.Error("Failed to relay client event", "channel", f.Channel, "event", f.Event, "error", err)
	}
}

func (c *brokerConn) deliver(_ context.Context, msg pubsub.Message) error {
	if strings.HasPrefix(msg.Event, topicmgr.ClientEventPrefix) {
		if msg.Origin == c.socketID {
			return nil
		}
		frame := ws.Frame{Event: msg.Event, Channel: msg.Topic, Data: msg.Payload}
		if topicmgr.IsPresence(msg.Topic) {
			frame.UserID = msg.UserID
		}
		c.enqueue(frame)
		return nil
	}

	data, err := json.Marshal(string(msg.Payload))
	if err != nil {
		return err
	}
	c.enqueue(ws.Frame{Event: msg.Event, Channel: msg.Topic, Data: data})
	return nil
}
