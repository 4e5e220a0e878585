package websocket

import (
	"sync"
	"sync/atomic"

	"github.com/nfrund/fellowship/internal/domain"
	"github.com/nfrund/fellowship/internal/realtime"
)

// subscription is one channel on a Transport.
type subscription struct {
	transport  *Transport
	channel    string
	subscribed atomic.Bool

	mu       sync.RWMutex
	handlers map[string]realtime.Handler
	released bool
}

func (s *subscription) Bind(event string, h realtime.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[event] = h
}

// Trigger sends a client event. The server rejects client events on channels
// that are not confirmed yet, so those fail locally.
func (s *subscription) Trigger(event string, data any) error {
	if !s.subscribed.Load() {
		return domain.ErrNotSubscribed
	}
	payload, err := realtime.EncodeData(data)
	if err != nil {
		return err
	}
	return s.transport.send(Frame{Event: event, Channel: s.channel, Data: payload})
}

// Unsubscribe releases the channel; handlers stop firing immediately.
func (s *subscription) Unsubscribe() error {
	s.mu.Lock()
	s.released = true
	s.mu.Unlock()
	s.transport.unsubscribe(s)
	return nil
}

func (s *subscription) deliver(e realtime.Event) {
	s.mu.RLock()
	h, ok := s.handlers[e.Name]
	released := s.released
	s.mu.RUnlock()

	if ok && !released {
		h(e)
	}
}
