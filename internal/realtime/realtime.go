// Package realtime owns the single broker connection of a signed-in member
// and hands out topic subscriptions to the chat session and the unread poller.
package realtime

import (
	"context"
	"encoding/json"

	"github.com/nfrund/fellowship/internal/domain"
)

// State is the connection state as seen by consumers.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Event is one event delivered on a topic.
type Event struct {
	Topic string
	Name  string
	Data  json.RawMessage
}

// Payload returns the event data as JSON. Brokers often double-encode data
// as a JSON string, which is unwrapped.
func (e Event) Payload() json.RawMessage {
	var inner string
	if err := json.Unmarshal(e.Data, &inner); err == nil {
		return json.RawMessage(inner)
	}
	return e.Data
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Payload(), v)
}

// Handler receives events for one event name.
type Handler func(Event)

// Handlers maps event names to their handler.
type Handlers map[string]Handler

// Transport is the broker client library. It multiplexes topics over one
// connection and reconnects on its own.
type Transport interface {
	// Open starts connecting on behalf of identity. It must not block on the
	// network; state changes are reported through onState.
	Open(ctx context.Context, identity domain.Identity, onState func(State)) error
	Subscribe(topic string) (Subscription, error)
	Close() error
}

// Subscription is one topic on a Transport.
type Subscription interface {
	Bind(event string, h Handler)
	Trigger(event string, data any) error
	Unsubscribe() error
}

// EncodeData marshals event data for the wire. Raw JSON and byte slices are
// passed through untouched.
func EncodeData(data any) (json.RawMessage, error) {
	switch v := data.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case json.RawMessage:
		return v, nil
	case []byte:
		return json.RawMessage(v), nil
	default:
		return json.Marshal(v)
	}
}
