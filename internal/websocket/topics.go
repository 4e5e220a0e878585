package websocket

import "github.com/nfrund/fellowship/internal/topicmgr"

// Protocol event names.
const (
	EventConnectionEstablished = "pusher:connection_established"
	EventSubscribe             = "pusher:subscribe"
	EventUnsubscribe           = "pusher:unsubscribe"
	EventPing                  = "pusher:ping"
	EventPong                  = "pusher:pong"
	EventError                 = "pusher:error"
	EventSubscriptionSucceeded = "pusher_internal:subscription_succeeded"
	EventSubscriptionError     = "pusher:subscription_error"
)

var (
	TopicConnectionEstablished = topicmgr.DefineProtocol(topicmgr.TopicConfig{
		Name:        "pusher.connection_established",
		Kind:        topicmgr.KindEvent,
		Description: "First frame from the server, carrying the socket id and activity timeout",
		Pattern:     EventConnectionEstablished,
		Example:     `{"event":"pusher:connection_established","data":"{\"socket_id\":\"123.456\",\"activity_timeout\":120}"}`,
	})

	TopicSubscribe = topicmgr.DefineProtocol(topicmgr.TopicConfig{
		Name:        "pusher.subscribe",
		Kind:        topicmgr.KindEvent,
		Description: "Client request to join a channel, signed for private and presence channels",
		Pattern:     EventSubscribe,
		Example:     `{"event":"pusher:subscribe","data":{"channel":"private-member-42","auth":"key:signature"}}`,
	})

	TopicUnsubscribe = topicmgr.DefineProtocol(topicmgr.TopicConfig{
		Name:        "pusher.unsubscribe",
		Kind:        topicmgr.KindEvent,
		Description: "Client request to leave a channel",
		Pattern:     EventUnsubscribe,
	})

	TopicPing = topicmgr.DefineProtocol(topicmgr.TopicConfig{
		Name:        "pusher.ping",
		Kind:        topicmgr.KindEvent,
		Description: "Keepalive sent by either side after inactivity",
		Pattern:     EventPing,
	})

	TopicPong = topicmgr.DefineProtocol(topicmgr.TopicConfig{
		Name:        "pusher.pong",
		Kind:        topicmgr.KindEvent,
		Description: "Answer to a keepalive",
		Pattern:     EventPong,
	})

	TopicError = topicmgr.DefineProtocol(topicmgr.TopicConfig{
		Name:        "pusher.error",
		Kind:        topicmgr.KindEvent,
		Description: "Server side protocol error",
		Pattern:     EventError,
	})

	TopicSubscriptionSucceeded = topicmgr.DefineProtocol(topicmgr.TopicConfig{
		Name:        "pusher.subscription_succeeded",
		Kind:        topicmgr.KindEvent,
		Description: "Server confirmation that a subscription is active",
		Pattern:     EventSubscriptionSucceeded,
	})

	TopicSubscriptionError = topicmgr.DefineProtocol(topicmgr.TopicConfig{
		Name:        "pusher.subscription_error",
		Kind:        topicmgr.KindEvent,
		Description: "Server refusal of a subscription, usually a bad signature",
		Pattern:     EventSubscriptionError,
	})
)

// Topics lists the protocol catalog entries.
func Topics() []topicmgr.Topic {
	return []topicmgr.Topic{
		TopicConnectionEstablished,
		TopicSubscribe,
		TopicUnsubscribe,
		TopicPing,
		TopicPong,
		TopicError,
		TopicSubscriptionSucceeded,
		TopicSubscriptionError,
	}
}
