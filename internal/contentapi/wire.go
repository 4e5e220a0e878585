package contentapi

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/nfrund/fellowship/internal/domain"
)

// The PHP endpoints are loose about types: ids arrive as numbers or strings,
// counts as numbers or numeric strings and timestamps in several layouts.

type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	var s flexString
	if err := s.UnmarshalJSON(b); err != nil {
		return err
	}
	if s == "" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(s)))
	if err != nil {
		return err
	}
	*f = flexInt(n)
	return nil
}

// Timestamp accepts RFC 3339, MySQL DATETIME and unix seconds. Anything else
// decodes to the zero time.
type Timestamp struct {
	time.Time
}

const mysqlLayout = "2006-01-02 15:04:05"

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	var s flexString
	if err := s.UnmarshalJSON(b); err != nil {
		return err
	}
	t.Time = parseTimestamp(string(s))
	return nil
}

func parseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts
	}
	if ts, err := time.ParseInLocation(mysqlLayout, s, time.UTC); err == nil {
		return ts
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC()
	}
	return time.Time{}
}

type envelope struct {
	Success *bool  `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (e envelope) failed() bool {
	return e.Success != nil && !*e.Success
}

func (e envelope) reason() string {
	if e.Error != "" {
		return e.Error
	}
	if e.Message != "" {
		return e.Message
	}
	return "request was not successful"
}

type channelRecord struct {
	ID          flexString `json:"id" validate:"required"`
	Name        string     `json:"name"`
	Initials    string     `json:"initials"`
	OtherMember string     `json:"other_member_name"`
}

func (r channelRecord) toDomain(category domain.ChannelCategory) domain.Channel {
	return domain.Channel{
		ID:          string(r.ID),
		Name:        r.Name,
		Category:    category,
		Initials:    r.Initials,
		Counterpart: r.OtherMember,
	}
}

type channelsResponse struct {
	envelope
	Public []channelRecord `json:"public"`
	Groups []channelRecord `json:"groups"`
	Direct []channelRecord `json:"direct_messages"`
}

type messageRecord struct {
	ID         flexString `json:"id" validate:"required"`
	ChannelID  flexString `json:"channel_id"`
	SenderID   flexString `json:"sender_id" validate:"required"`
	SenderName string     `json:"sender_name"`
	Body       string     `json:"body"`
	Message    string     `json:"message"`
	CreatedAt  Timestamp  `json:"created_at"`
}

func (r messageRecord) toDomain(channelID string) domain.Message {
	body := r.Body
	if body == "" {
		body = r.Message
	}
	if r.ChannelID != "" {
		channelID = string(r.ChannelID)
	}
	return domain.Message{
		ID:         string(r.ID),
		ChannelID:  channelID,
		SenderID:   string(r.SenderID),
		SenderName: r.SenderName,
		Body:       body,
		CreatedAt:  r.CreatedAt.Time,
		Status:     domain.StatusConfirmed,
	}
}

type messagesResponse struct {
	envelope
	Messages []messageRecord `json:"messages"`
}

type sendResponse struct {
	envelope
	MessageID flexString `json:"message_id"`
	ID        flexString `json:"id"`
}

type unreadRecord struct {
	ChannelID   flexString `json:"channel_id" validate:"required"`
	ChannelType string     `json:"channel_type"`
	ChannelName string     `json:"channel_name"`
	SenderID    flexString `json:"sender_id"`
	SenderName  string     `json:"sender_name"`
	Body        string     `json:"body"`
	Message     string     `json:"message"`
	CreatedAt   Timestamp  `json:"created_at"`
	UnreadCount flexInt    `json:"unread_count"`
}

func (r unreadRecord) toDomain() domain.UnreadPreview {
	body := r.Body
	if body == "" {
		body = r.Message
	}
	return domain.UnreadPreview{
		ChannelID:     string(r.ChannelID),
		ChannelType:   normalizeCategory(r.ChannelType),
		ChannelName:   r.ChannelName,
		SenderID:      string(r.SenderID),
		SenderName:    r.SenderName,
		Snippet:       body,
		CreatedAt:     r.CreatedAt.Time,
		ChannelUnread: int(r.UnreadCount),
	}
}

type unreadResponse struct {
	envelope
	Total    *flexInt       `json:"total_unread"`
	Messages []unreadRecord `json:"messages"`
}

// Authorization is the broker auth endpoint's answer for one channel.
type Authorization struct {
	Auth        string `json:"auth" validate:"required"`
	ChannelData string `json:"channel_data,omitempty"`
}

type authResponse struct {
	envelope
	Authorization
}

func normalizeCategory(s string) domain.ChannelCategory {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dm", "direct", "direct_message", "direct_messages":
		return domain.CategoryDirect
	case "group", "groups":
		return domain.CategoryGroup
	default:
		return domain.CategoryPublic
	}
}
