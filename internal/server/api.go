package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/fellowship/internal/domain"
	"github.com/nfrund/fellowship/internal/middleware"
	"github.com/nfrund/fellowship/internal/realtime"
	"github.com/nfrund/fellowship/internal/topicmgr"
	"github.com/nfrund/fellowship/internal/view"
)

// The handlers answer in the member portal's PHP style: a "success" flag,
// loosely typed records and MySQL timestamps.
const phpTime = "2006-01-02 15:04:05"

type channelJSON struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Initials    string `json:"initials,omitempty"`
	OtherMember string `json:"other_member_name,omitempty"`
}

type messageJSON struct {
	ID         string `json:"id"`
	ChannelID  string `json:"channel_id"`
	SenderID   string `json:"sender_id"`
	SenderName string `json:"sender_name"`
	Body       string `json:"body"`
	CreatedAt  string `json:"created_at"`
}

type unreadJSON struct {
	ChannelID   string `json:"channel_id"`
	ChannelType string `json:"channel_type"`
	ChannelName string `json:"channel_name"`
	SenderID    string `json:"sender_id"`
	SenderName  string `json:"sender_name"`
	Body        string `json:"body"`
	CreatedAt   string `json:"created_at"`
	UnreadCount int    `json:"unread_count"`
}

func toMessageJSON(m domain.Message) messageJSON {
	return messageJSON{
		ID:         m.ID,
		ChannelID:  m.ChannelID,
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		Body:       m.Body,
		CreatedAt:  m.CreatedAt.UTC().Format(phpTime),
	}
}

func toChannelJSON(chs []domain.Channel) []channelJSON {
	out := make([]channelJSON, 0, len(chs))
	for _, ch := range chs {
		out = append(out, channelJSON{ID: ch.ID, Name: ch.Name, Initials: ch.Initials, OtherMember: ch.Counterpart})
	}
	return out
}

func failure(c echo.Context, status int, err error) error {
	return c.JSON(status, map[string]any{"success": false, "error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrUnknownMember), errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrUnknownChannel):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrEmptyMessage):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) getChannels(c echo.Context) error {
	list, err := s.store.ChannelsFor(middleware.MemberID(c))
	if err != nil {
		return failure(c, statusFor(err), err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success":         true,
		"public":          toChannelJSON(list.Public),
		"groups":          toChannelJSON(list.Groups),
		"direct_messages": toChannelJSON(list.Direct),
	})
}

func (s *Server) getMessages(c echo.Context) error {
	msgs, err := s.store.Messages(middleware.MemberID(c), c.FormValue("channel_id"))
	if err != nil {
		return failure(c, statusFor(err), err)
	}
	out := make([]messageJSON, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessageJSON(m))
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "messages": out})
}

// sendMessage stores the message, pushes it to the channel topic and wakes
// the unread pollers of the other members through their member topics.
func (s *Server) sendMessage(c echo.Context) error {
	ctx := c.Request().Context()
	channelID := c.FormValue("channel_id")
	m, err := s.store.Append(channelID, middleware.MemberID(c), c.FormValue("body"))
	if err != nil {
		return failure(c, statusFor(err), err)
	}

	logger := middleware.FromContext(ctx)
	event := toMessageJSON(m)
	if err := s.broker.Publish(ctx, realtime.ChannelTopic(channelID), realtime.EventNewMessage, event); err != nil {
		logger.Error("Failed to publish message", "channel_id", channelID, "error", err)
	}
	for _, memberID := range s.store.Recipients(channelID) {
		if memberID == m.SenderID {
			continue
		}
		if err := s.broker.Publish(ctx, realtime.MemberTopic(memberID), realtime.EventNewMessage, event); err != nil {
			logger.Error("Failed to notify member", "member_id", memberID, "error", err)
		}
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "message_id": m.ID})
}

func (s *Server) unread(memberID, limitParam string) (domain.UnreadSummary, error) {
	limit, err := strconv.Atoi(limitParam)
	if err != nil || limit <= 0 {
		limit = 10
	}
	total, previews, err := s.store.Unread(memberID, limit)
	if err != nil {
		return domain.UnreadSummary{}, err
	}
	summary := domain.UnreadSummary{Total: total, FetchedAt: time.Now().UTC()}
	for _, p := range previews {
		summary.Previews = append(summary.Previews, p.UnreadPreview)
	}
	return summary, nil
}

func (s *Server) getUnread(c echo.Context) error {
	summary, err := s.unread(middleware.MemberID(c), c.FormValue("limit"))
	if err != nil {
		return failure(c, statusFor(err), err)
	}
	out := make([]unreadJSON, 0, len(summary.Previews))
	for _, p := range summary.Previews {
		out = append(out, unreadJSON{
			ChannelID:   p.ChannelID,
			ChannelType: string(p.ChannelType),
			ChannelName: p.ChannelName,
			SenderID:    p.SenderID,
			SenderName:  p.SenderName,
			Body:        p.Snippet,
			CreatedAt:   p.CreatedAt.UTC().Format(phpTime),
			UnreadCount: p.ChannelUnread,
		})
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "total_unread": summary.Total, "messages": out})
}

func (s *Server) markRead(c echo.Context) error {
	if err := s.store.MarkRead(middleware.MemberID(c), c.FormValue("channel_id")); err != nil {
		return failure(c, statusFor(err), err)
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true})
}

// unreadFragment serves the htmx dropdown. The fragment's mark-read links
// post back to the mark_read endpoint.
func (s *Server) unreadFragment(c echo.Context) error {
	memberID := middleware.MemberID(c)
	summary, err := s.unread(memberID, c.FormValue("limit"))
	if err != nil {
		return failure(c, statusFor(err), err)
	}
	c.Response().Header().Set(echo.HeaderContentType, echo.MIMETextHTMLCharsetUTF8)
	c.Response().WriteHeader(http.StatusOK)
	return view.UnreadDropdown(summary, view.DropdownOptions{
		MarkReadURL: s.apiPath(s.paths.MarkRead) + "?user_id=" + memberID,
		ChannelURL:  "/chat/%s",
	}).Render(c.Response())
}

type presenceData struct {
	UserID   string            `json:"user_id"`
	UserInfo map[string]string `json:"user_info"`
}

// authorize signs a subscription for a member allowed on the channel:
// presence-chat-<id> for channel members, private-member-<id> for its owner.
func (s *Server) authorize(c echo.Context) error {
	memberID := middleware.MemberID(c)
	socketID := c.FormValue("socket_id")
	channel := c.FormValue("channel_name")
	if socketID == "" || channel == "" {
		return failure(c, http.StatusBadRequest, errors.New("socket_id and channel_name are required"))
	}

	var allowed bool
	switch {
	case strings.HasPrefix(channel, "presence-chat-"):
		allowed = s.store.CanAccess(memberID, strings.TrimPrefix(channel, "presence-chat-"))
	case strings.HasPrefix(channel, "private-member-"):
		allowed = strings.TrimPrefix(channel, "private-member-") == memberID
	}
	if !allowed {
		middleware.FromContext(c.Request().Context()).Warn("Refused channel authorization", "member_id", memberID, "channel", channel)
		return failure(c, http.StatusForbidden, ErrForbidden)
	}

	var channelData string
	if topicmgr.IsPresence(channel) {
		member, _ := s.store.Member(memberID)
		raw, err := json.Marshal(presenceData{UserID: memberID, UserInfo: map[string]string{"name": member.Name}})
		if err != nil {
			return failure(c, http.StatusInternalServerError, err)
		}
		channelData = string(raw)
	}
	resp := map[string]any{"auth": s.signer.Sign(socketID, channel, channelData)}
	if channelData != "" {
		resp["channel_data"] = channelData
	}
	return c.JSON(http.StatusOK, resp)
}
