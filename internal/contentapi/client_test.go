package contentapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/fellowship/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePortal records the form and query values each endpoint received.
type fakePortal struct {
	mu     sync.Mutex
	params map[string]map[string]string
}

func (f *fakePortal) record(path string, c echo.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	values := map[string]string{}
	for k := range c.QueryParams() {
		values[k] = c.QueryParam(k)
	}
	if form, err := c.FormParams(); err == nil {
		for k := range form {
			values[k] = form.Get(k)
		}
	}
	f.params[path] = values
}

func (f *fakePortal) got(path string) map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.params[path]
}

func newTestClient(t *testing.T, routes func(e *echo.Echo, f *fakePortal)) (*Client, *fakePortal) {
	t.Helper()
	f := &fakePortal{params: map[string]map[string]string{}}
	e := echo.New()
	routes(e, f)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/api/", WithTimeout(2*time.Second)), f
}

func TestClient_Channels(t *testing.T) {
	client, portal := newTestClient(t, func(e *echo.Echo, f *fakePortal) {
		e.GET("/api/chat/get_channels.php", func(c echo.Context) error {
			f.record("channels", c)
			// PHP sends text/html and numeric ids.
			return c.HTML(http.StatusOK, `{"success":true,
				"public":[{"id":1,"name":"General"},{"name":"no id"}],
				"groups":[{"id":"2","name":"Worship Team"}],
				"direct_messages":[{"id":3,"name":"dm","initials":"RM","other_member_name":"Ruth Miller"}]}`)
		})
	})

	list, err := client.Channels(context.Background(), "42")
	require.NoError(t, err)

	assert.Equal(t, "42", portal.got("channels")["member_id"])
	require.Len(t, list.Public, 1, "record without id is dropped")
	assert.Equal(t, domain.Channel{ID: "1", Name: "General", Category: domain.CategoryPublic}, list.Public[0])
	assert.Equal(t, domain.CategoryGroup, list.Groups[0].Category)
	assert.Equal(t, "Ruth Miller", list.Direct[0].Counterpart)
	assert.Equal(t, "RM", list.Direct[0].Initials)
}

func TestClient_Messages(t *testing.T) {
	client, portal := newTestClient(t, func(e *echo.Echo, f *fakePortal) {
		e.GET("/api/chat/get_messages.php", func(c echo.Context) error {
			f.record("messages", c)
			return c.JSONBlob(http.StatusOK, []byte(`{"success":true,"messages":[
				{"id":10,"sender_id":5,"sender_name":"Anna","body":"hi","created_at":"2024-03-01 09:30:00"},
				{"id":11,"sender_id":"6","sender_name":"Ben","message":"legacy body","created_at":1709285400},
				{"sender_id":"6","body":"no id"}]}`))
		})
	})

	msgs, err := client.Messages(context.Background(), "9", "42")
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"channel_id": "9", "member_id": "42"}, portal.got("messages"))
	require.Len(t, msgs, 2)
	assert.Equal(t, "10", msgs[0].ID)
	assert.Equal(t, "9", msgs[0].ChannelID)
	assert.Equal(t, "5", msgs[0].SenderID)
	assert.Equal(t, time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC), msgs[0].CreatedAt)
	assert.Equal(t, domain.StatusConfirmed, msgs[0].Status)
	assert.Equal(t, "legacy body", msgs[1].Body)
	assert.Equal(t, time.Unix(1709285400, 0).UTC(), msgs[1].CreatedAt)
}

func TestClient_SendMessage(t *testing.T) {
	client, portal := newTestClient(t, func(e *echo.Echo, f *fakePortal) {
		e.POST("/api/chat/send_message.php", func(c echo.Context) error {
			f.record("send", c)
			return c.JSONBlob(http.StatusOK, []byte(`{"success":true,"message_id":77}`))
		})
	})

	id, err := client.SendMessage(context.Background(), "9", "42", "hello")
	require.NoError(t, err)

	assert.Equal(t, "77", id)
	assert.Equal(t, map[string]string{"channel_id": "9", "sender_id": "42", "body": "hello"}, portal.got("send"))
}

func TestClient_Unread(t *testing.T) {
	client, portal := newTestClient(t, func(e *echo.Echo, f *fakePortal) {
		e.GET("/api/chat/get_unread.php", func(c echo.Context) error {
			f.record("unread", c)
			return c.JSONBlob(http.StatusOK, []byte(`{"success":true,"total_unread":"7","messages":[
				{"channel_id":3,"channel_type":"direct","sender_name":"Ruth","body":"see you sunday","created_at":"2024-03-01T10:00:00Z","unread_count":2},
				{"channel_id":1,"channel_type":"public","sender_name":"Ben","body":"welcome"}]}`))
		})
	})

	summary, err := client.Unread(context.Background(), "42", 10)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"member_id": "42", "limit": "10"}, portal.got("unread"))
	assert.Equal(t, 7, summary.Total)
	require.Len(t, summary.Previews, 2)
	assert.Equal(t, domain.CategoryDirect, summary.Previews[0].ChannelType)
	assert.Equal(t, 2, summary.Previews[0].ChannelUnread)
	assert.Equal(t, "see you sunday", summary.Previews[0].Snippet)
	assert.False(t, summary.FetchedAt.IsZero())
}

func TestClient_MarkReadAndAuthorize(t *testing.T) {
	client, portal := newTestClient(t, func(e *echo.Echo, f *fakePortal) {
		e.POST("/api/chat/mark_read.php", func(c echo.Context) error {
			f.record("read", c)
			return c.JSONBlob(http.StatusOK, []byte(`{"success":true}`))
		})
		e.POST("/api/pusher_auth.php", func(c echo.Context) error {
			f.record("auth", c)
			return c.JSONBlob(http.StatusOK, []byte(`{"auth":"key:abc","channel_data":"{\"user_id\":\"42\"}"}`))
		})
	})

	require.NoError(t, client.MarkRead(context.Background(), "42", "3"))
	assert.Equal(t, map[string]string{"user_id": "42", "channel_id": "3"}, portal.got("read"))

	auth, err := client.Authorize(context.Background(), "1.2", "presence-chat-3", "42")
	require.NoError(t, err)
	assert.Equal(t, "key:abc", auth.Auth)
	assert.Equal(t, `{"user_id":"42"}`, auth.ChannelData)
	assert.Equal(t, "presence-chat-3", portal.got("auth")["channel_name"])
}

func TestClient_Errors(t *testing.T) {
	client, _ := newTestClient(t, func(e *echo.Echo, f *fakePortal) {
		e.GET("/api/chat/get_channels.php", func(c echo.Context) error {
			return c.JSONBlob(http.StatusOK, []byte(`{"success":false,"error":"not a member"}`))
		})
		e.GET("/api/chat/get_messages.php", func(c echo.Context) error {
			return c.String(http.StatusInternalServerError, "boom")
		})
		e.GET("/api/chat/get_unread.php", func(c echo.Context) error {
			return c.String(http.StatusOK, "<b>Warning</b>: mysqli_connect()")
		})
		e.POST("/api/pusher_auth.php", func(c echo.Context) error {
			return c.JSONBlob(http.StatusOK, []byte(`{}`))
		})
	})

	var apiErr *APIError

	_, err := client.Channels(context.Background(), "42")
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "not a member", apiErr.Message)

	_, err = client.Messages(context.Background(), "1", "42")
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)

	_, err = client.Unread(context.Background(), "42", 10)
	require.True(t, errors.As(err, &apiErr))
	assert.Contains(t, apiErr.Message, "malformed response")

	_, err = client.Authorize(context.Background(), "1.2", "private-member-42", "42")
	assert.Error(t, err)
}

func TestParseTimestamp(t *testing.T) {
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), parseTimestamp("2024-01-02 03:04:05"))
	assert.True(t, parseTimestamp("yesterday").IsZero())
	assert.True(t, parseTimestamp("").IsZero())
}
