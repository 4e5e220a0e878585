package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/nfrund/fellowship/internal/domain"
	"github.com/nfrund/fellowship/internal/pubsub"
	"github.com/nfrund/fellowship/internal/topicmgr"
)

// Bus is the in-process message bus the loopback transport rides on.
type Bus interface {
	pubsub.Publisher
	pubsub.Subscriber
}

// Loopback is a Transport over an in-process bus. It is used when no broker
// URL is configured and by tests; it is always connected once opened.
type Loopback struct {
	bus    Bus
	logger *slog.Logger

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	socketID string
	identity domain.Identity
	onState  func(State)
}

var _ Transport = (*Loopback)(nil)

// NewLoopback creates a transport on bus.
func NewLoopback(bus Bus) *Loopback {
	return &Loopback{
		bus:    bus,
		logger: slog.Default().With("component", "realtime.loopback"),
	}
}

// Open implements Transport.
func (l *Loopback) Open(_ context.Context, identity domain.Identity, onState func(State)) error {
	l.mu.Lock()
	if l.cancel != nil {
		l.mu.Unlock()
		return fmt.Errorf("loopback transport already open")
	}
	l.ctx, l.cancel = context.WithCancel(context.Background())
	l.socketID = uuid.NewString()
	l.identity = identity
	l.onState = onState
	l.mu.Unlock()

	if onState != nil {
		onState(StateConnected)
	}
	return nil
}

// SocketID identifies this connection on the bus.
func (l *Loopback) SocketID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.socketID
}

// Subscribe implements Transport.
func (l *Loopback) Subscribe(topic string) (Subscription, error) {
	l.mu.Lock()
	root := l.ctx
	l.mu.Unlock()
	if root == nil || root.Err() != nil {
		return nil, domain.ErrTransportNotReady
	}

	ctx, cancel := context.WithCancel(root)
	s := &loopbackSubscription{
		transport: l,
		topic:     topic,
		cancel:    cancel,
		handlers:  make(map[string]Handler),
	}
	if err := l.bus.Subscribe(ctx, topic, s.deliver); err != nil {
		cancel()
		return nil, err
	}
	return s, nil
}

// Publish emits a server-originated event, the way the content API does
// after persisting a message.
func (l *Loopback) Publish(ctx context.Context, topic, event string, data any) error {
	payload, err := EncodeData(data)
	if err != nil {
		return err
	}
	return l.bus.Publish(ctx, pubsub.Message{Topic: topic, Event: event, Payload: payload})
}

// Close implements Transport.
func (l *Loopback) Close() error {
	l.mu.Lock()
	cancel, onState := l.cancel, l.onState
	l.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	if onState != nil {
		onState(StateDisconnected)
	}
	return nil
}

type loopbackSubscription struct {
	transport *Loopback
	topic     string
	cancel    context.CancelFunc

	mu       sync.RWMutex
	handlers map[string]Handler
}

func (s *loopbackSubscription) Bind(event string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[event] = h
}

func (s *loopbackSubscription) Trigger(event string, data any) error {
	payload, err := EncodeData(data)
	if err != nil {
		return err
	}
	l := s.transport
	l.mu.Lock()
	ctx, origin, userID := l.ctx, l.socketID, l.identity.MemberID
	l.mu.Unlock()
	if ctx.Err() != nil {
		return domain.ErrDisconnected
	}
	return l.bus.Publish(ctx, pubsub.Message{
		Topic:   s.topic,
		Event:   event,
		UserID:  userID,
		Origin:  origin,
		Payload: payload,
	})
}

func (s *loopbackSubscription) Unsubscribe() error {
	s.cancel()
	return nil
}

func (s *loopbackSubscription) deliver(ctx context.Context, msg pubsub.Message) error {
	if ctx.Err() != nil {
		return nil
	}
	// Client events are never echoed to the connection that sent them.
	if strings.HasPrefix(msg.Event, topicmgr.ClientEventPrefix) && msg.Origin == s.transport.SocketID() {
		return nil
	}

	s.mu.RLock()
	h, ok := s.handlers[msg.Event]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	h(Event{Topic: msg.Topic, Name: msg.Event, Data: json.RawMessage(msg.Payload)})
	return nil
}
