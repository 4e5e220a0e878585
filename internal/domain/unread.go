package domain

import (
	"strconv"
	"time"
)

// UnreadPreview is one entry of the unread dropdown.
type UnreadPreview struct {
	ChannelID   string          `json:"channel_id"`
	ChannelType ChannelCategory `json:"channel_type"`
	ChannelName string          `json:"channel_name,omitempty"`
	SenderID    string          `json:"sender_id"`
	SenderName  string          `json:"sender_name"`
	Snippet     string          `json:"snippet"`
	CreatedAt   time.Time       `json:"created_at"`
	// ChannelUnread is the per-channel unread count when the API reports one.
	ChannelUnread int `json:"channel_unread,omitempty"`
}

// UnreadSummary is replaced wholesale on every poll.
type UnreadSummary struct {
	Total     int             `json:"total"`
	Previews  []UnreadPreview `json:"previews"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// Badge renders the total the way the bell icon shows it.
func (s UnreadSummary) Badge() string {
	switch {
	case s.Total <= 0:
		return ""
	case s.Total > 99:
		return "99+"
	default:
		return strconv.Itoa(s.Total)
	}
}
