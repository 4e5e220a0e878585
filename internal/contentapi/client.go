package contentapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-resty/resty/v2"
	"github.com/nfrund/fellowship/internal/domain"
)

// Paths are the endpoint paths relative to the API base URL.
type Paths struct {
	Channels string
	Messages string
	Send     string
	Unread   string
	MarkRead string
	Auth     string
}

// DefaultPaths returns the portal's PHP endpoint layout.
func DefaultPaths() Paths {
	return Paths{
		Channels: "chat/get_channels.php",
		Messages: "chat/get_messages.php",
		Send:     "chat/send_message.php",
		Unread:   "chat/get_unread.php",
		MarkRead: "chat/mark_read.php",
		Auth:     "pusher_auth.php",
	}
}

// APIError is returned when an endpoint answers with a non-2xx status or
// with "success": false.
type APIError struct {
	Endpoint   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %d %s", e.Endpoint, e.StatusCode, e.Message)
}

// Client talks to the content API.
type Client struct {
	http     *resty.Client
	paths    Paths
	validate *validator.Validate
	logger   *slog.Logger
}

// Option is a function that configures a Client.
type Option func(*Client)

// WithPaths overrides the endpoint layout.
func WithPaths(p Paths) Option {
	return func(c *Client) {
		c.paths = p
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.http.SetTimeout(d)
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// New creates a client for the API rooted at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(10*time.Second).
			SetHeader("Accept", "application/json"),
		paths:    DefaultPaths(),
		validate: validator.New(),
		logger:   slog.Default().With("component", "contentapi"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Channels fetches the categorized channel list for a member.
func (c *Client) Channels(ctx context.Context, memberID string) (domain.ChannelList, error) {
	var out channelsResponse
	if err := c.get(ctx, c.paths.Channels, map[string]string{"member_id": memberID}, &out); err != nil {
		return domain.ChannelList{}, err
	}
	return domain.ChannelList{
		Public: c.channels(out.Public, domain.CategoryPublic),
		Groups: c.channels(out.Groups, domain.CategoryGroup),
		Direct: c.channels(out.Direct, domain.CategoryDirect),
	}, nil
}

func (c *Client) channels(records []channelRecord, category domain.ChannelCategory) []domain.Channel {
	out := make([]domain.Channel, 0, len(records))
	for _, r := range records {
		if err := c.validate.Struct(r); err != nil {
			c.logger.Warn("Dropping malformed channel record", "category", category, "error", err)
			continue
		}
		out = append(out, r.toDomain(category))
	}
	return out
}

// Messages fetches a channel's history in chronological order.
func (c *Client) Messages(ctx context.Context, channelID, memberID string) ([]domain.Message, error) {
	var out messagesResponse
	params := map[string]string{"channel_id": channelID, "member_id": memberID}
	if err := c.get(ctx, c.paths.Messages, params, &out); err != nil {
		return nil, err
	}
	msgs := make([]domain.Message, 0, len(out.Messages))
	for _, r := range out.Messages {
		if err := c.validate.Struct(r); err != nil {
			c.logger.Warn("Dropping malformed message record", "channel_id", channelID, "error", err)
			continue
		}
		msgs = append(msgs, r.toDomain(channelID))
	}
	return msgs, nil
}

// SendMessage persists a message and returns the server-assigned id, which is
// empty when the endpoint does not report one.
func (c *Client) SendMessage(ctx context.Context, channelID, senderID, body string) (string, error) {
	var out sendResponse
	form := map[string]string{"channel_id": channelID, "sender_id": senderID, "body": body}
	if err := c.post(ctx, c.paths.Send, form, &out); err != nil {
		return "", err
	}
	if out.MessageID != "" {
		return string(out.MessageID), nil
	}
	return string(out.ID), nil
}

// Unread fetches the unread summary bounded to limit previews.
func (c *Client) Unread(ctx context.Context, memberID string, limit int) (domain.UnreadSummary, error) {
	var out unreadResponse
	params := map[string]string{"member_id": memberID, "limit": strconv.Itoa(limit)}
	if err := c.get(ctx, c.paths.Unread, params, &out); err != nil {
		return domain.UnreadSummary{}, err
	}

	summary := domain.UnreadSummary{
		Previews:  make([]domain.UnreadPreview, 0, len(out.Messages)),
		FetchedAt: time.Now().UTC(),
	}
	for _, r := range out.Messages {
		if err := c.validate.Struct(r); err != nil {
			c.logger.Warn("Dropping malformed unread record", "error", err)
			continue
		}
		summary.Previews = append(summary.Previews, r.toDomain())
	}
	if limit > 0 && len(summary.Previews) > limit {
		summary.Previews = summary.Previews[:limit]
	}
	if out.Total != nil {
		summary.Total = int(*out.Total)
	} else {
		summary.Total = len(summary.Previews)
	}
	return summary, nil
}

// MarkRead marks every message in a channel as read for the member.
func (c *Client) MarkRead(ctx context.Context, memberID, channelID string) error {
	var out envelope
	return c.post(ctx, c.paths.MarkRead, map[string]string{"user_id": memberID, "channel_id": channelID}, &out)
}

// Authorize asks the auth endpoint to sign a private or presence channel subscription.
func (c *Client) Authorize(ctx context.Context, socketID, channelName, memberID string) (Authorization, error) {
	var out authResponse
	form := map[string]string{"socket_id": socketID, "channel_name": channelName, "member_id": memberID}
	if err := c.post(ctx, c.paths.Auth, form, &out); err != nil {
		return Authorization{}, err
	}
	if err := c.validate.Struct(out.Authorization); err != nil {
		return Authorization{}, &APIError{Endpoint: c.paths.Auth, StatusCode: http.StatusOK, Message: "missing auth signature"}
	}
	return out.Authorization, nil
}

type failer interface {
	failed() bool
	reason() string
}

func (c *Client) get(ctx context.Context, path string, params map[string]string, out failer) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get(path)
	return c.decode(path, resp, err, out)
}

func (c *Client) post(ctx context.Context, path string, form map[string]string, out failer) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(form).
		Post(path)
	return c.decode(path, resp, err, out)
}

// decode ignores the response content type: the PHP endpoints do not always
// send application/json.
func (c *Client) decode(path string, resp *resty.Response, err error, out failer) error {
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if resp.IsError() {
		msg := http.StatusText(resp.StatusCode())
		if json.Unmarshal(resp.Body(), out) == nil && out.failed() {
			msg = out.reason()
		}
		return &APIError{Endpoint: path, StatusCode: resp.StatusCode(), Message: msg}
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return &APIError{Endpoint: path, StatusCode: resp.StatusCode(), Message: "malformed response: " + err.Error()}
	}
	if out.failed() {
		return &APIError{Endpoint: path, StatusCode: resp.StatusCode(), Message: out.reason()}
	}
	return nil
}
