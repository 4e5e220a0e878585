package pubsub

import (
	"context"
)

// Message is the structure passed between components on the bus. One bus
// topic corresponds to one realtime channel name.
type Message struct {
	// Topic is the realtime channel the message belongs to (e.g., "presence-chat-12").
	Topic string
	// Event is the realtime event name (e.g., "new-message", "client-typing").
	Event string
	// UserID identifies the member who initiated the message, if any.
	UserID string
	// Origin identifies the connection that published the message so client
	// events are not echoed back to their sender.
	Origin string
	// Payload contains the raw event data, usually JSON.
	Payload []byte
	// Metadata can contain arbitrary key-value pairs for context.
	Metadata map[string]string
}

// Handler defines the function signature for processing a received message.
type Handler func(ctx context.Context, msg Message) error

// Publisher defines the contract for sending messages to the Pub/Sub system.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// Subscriber defines the contract for receiving messages from the Pub/Sub system.
type Subscriber interface {
	// Subscribe starts listening to the given topic, processing messages with the handler.
	// It returns once the subscription is active; delivery stops when ctx is canceled.
	Subscribe(ctx context.Context, topic string, handler Handler) error
	Close() error
}
