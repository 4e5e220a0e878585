package websocket

import "encoding/json"

// Frame is the envelope of every message on a Pusher-protocol connection.
type Frame struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	// UserID is set by the server on client events relayed on presence channels.
	UserID string `json:"user_id,omitempty"`
}

// ConnectionEstablished is the payload of pusher:connection_established.
type ConnectionEstablished struct {
	SocketID string `json:"socket_id"`
	// ActivityTimeout is in seconds.
	ActivityTimeout int `json:"activity_timeout"`
}

// SubscribeRequest is the payload of pusher:subscribe.
type SubscribeRequest struct {
	Channel     string `json:"channel"`
	Auth        string `json:"auth,omitempty"`
	ChannelData string `json:"channel_data,omitempty"`
}

// UnsubscribeRequest is the payload of pusher:unsubscribe.
type UnsubscribeRequest struct {
	Channel string `json:"channel"`
}

// ErrorPayload is the payload of pusher:error.
type ErrorPayload struct {
	Message string `json:"message"`
	Code    int    `json:"code,omitempty"`
}

// NewFrame builds a frame with an object payload.
func NewFrame(event, channel string, data any) (Frame, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Event: event, Channel: channel, Data: raw}, nil
}

// NewServerFrame builds a frame the way brokers send them: data is a
// JSON-encoded string rather than an object.
func NewServerFrame(event, channel string, data any) (Frame, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Frame{}, err
	}
	quoted, err := json.Marshal(string(raw))
	if err != nil {
		return Frame{}, err
	}
	return Frame{Event: event, Channel: channel, Data: quoted}, nil
}

// DecodeData unmarshals the payload whether it was sent as an object or as
// a JSON-encoded string.
func (f Frame) DecodeData(v any) error {
	data := []byte(f.Data)
	var inner string
	if err := json.Unmarshal(data, &inner); err == nil {
		data = []byte(inner)
	}
	return json.Unmarshal(data, v)
}
