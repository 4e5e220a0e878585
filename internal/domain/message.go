package domain

import (
	"strings"
	"time"
)

// TempIDPrefix marks ids generated locally for messages the server has not
// acknowledged yet.
const TempIDPrefix = "temp-"

// MessageStatus tracks a message through optimistic sending.
type MessageStatus int

const (
	// StatusConfirmed is the zero value: anything fetched from the server is confirmed.
	StatusConfirmed MessageStatus = iota
	StatusPending
	StatusFailed
)

func (s MessageStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusFailed:
		return "failed"
	default:
		return "confirmed"
	}
}

// Message is a single chat message within a channel.
type Message struct {
	ID         string        `json:"id"`
	ChannelID  string        `json:"channel_id"`
	SenderID   string        `json:"sender_id"`
	SenderName string        `json:"sender_name"`
	Body       string        `json:"body"`
	CreatedAt  time.Time     `json:"created_at"`
	Status     MessageStatus `json:"-"`
}

// IsTemporary reports whether the id was generated locally.
func (m Message) IsTemporary() bool {
	return strings.HasPrefix(m.ID, TempIDPrefix)
}

// Settled reports whether the server has the message.
func (m Message) Settled() bool {
	return m.Status == StatusConfirmed
}

// SameContent reports whether two messages carry the same sender and body,
// which is how an optimistic entry is matched to its persisted copy.
func (m Message) SameContent(other Message) bool {
	return m.SenderID == other.SenderID && strings.TrimSpace(m.Body) == strings.TrimSpace(other.Body)
}
