package websocket

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/nfrund/fellowship/internal/domain"
	"github.com/nfrund/fellowship/internal/logging"
	"github.com/nfrund/fellowship/internal/realtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBroker speaks just enough of the protocol to exercise the transport.
type fakeBroker struct {
	mu     sync.Mutex
	frames []Frame
	conns  []*websocket.Conn
}

func (b *fakeBroker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	b.mu.Lock()
	b.conns = append(b.conns, conn)
	n := len(b.conns)
	b.mu.Unlock()

	ctx := context.Background()
	est, _ := NewServerFrame(EventConnectionEstablished, "", ConnectionEstablished{SocketID: fmt.Sprintf("%d.1", n), ActivityTimeout: 120})
	if err := wsjson.Write(ctx, conn, est); err != nil {
		return
	}
	for {
		var f Frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			return
		}
		b.mu.Lock()
		b.frames = append(b.frames, f)
		b.mu.Unlock()

		if f.Event == EventSubscribe {
			var req SubscribeRequest
			_ = f.DecodeData(&req)
			ack, _ := NewServerFrame(EventSubscriptionSucceeded, req.Channel, map[string]any{})
			_ = wsjson.Write(ctx, conn, ack)
		}
	}
}

func (b *fakeBroker) received(event string) []Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Frame
	for _, f := range b.frames {
		if f.Event == event {
			out = append(out, f)
		}
	}
	return out
}

func (b *fakeBroker) conn(i int) *websocket.Conn {
	b.mu.Lock()
	defer b.mu.Unlock()
	if i >= len(b.conns) {
		return nil
	}
	return b.conns[i]
}

func (b *fakeBroker) connCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns)
}

type authCall struct {
	socketID, channel, member string
}

func startTransport(t *testing.T) (*realtime.Manager, *fakeBroker, *[]authCall, *sync.Mutex) {
	t.Helper()
	broker := &fakeBroker{}
	srv := httptest.NewServer(broker)
	t.Cleanup(srv.Close)

	wsURL, err := AppURL(srv.URL, "test-key")
	require.NoError(t, err)

	var mu sync.Mutex
	var calls []authCall
	auth := AuthorizerFunc(func(_ context.Context, socketID, channel string, id domain.Identity) (Credentials, error) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, authCall{socketID, channel, id.MemberID})
		return Credentials{Auth: "test-key:sig-" + channel, ChannelData: `{"user_id":"42"}`}, nil
	})

	transport := NewTransport(wsURL, auth,
		WithReconnectDelay(10*time.Millisecond),
		WithLogger(logging.Discard()),
	)
	m := realtime.NewManager(transport, realtime.WithLogger(logging.Discard()))
	require.NoError(t, m.Open(context.Background(), domain.Identity{MemberID: "42"}))
	require.Eventually(t, m.Connected, 2*time.Second, 5*time.Millisecond)
	return m, broker, &calls, &mu
}

func TestAppURL(t *testing.T) {
	u, err := AppURL("https://ws.example.org", "abc")
	require.NoError(t, err)
	assert.Equal(t, "wss://ws.example.org/app/abc?client=fellowship-go&protocol=7", u)

	u, err = AppURL("ws://localhost:6001/app/xyz", "ignored")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:6001/app/xyz?client=fellowship-go&protocol=7", u)

	_, err = AppURL("ftp://example.org", "abc")
	assert.Error(t, err)
}

func TestTransport_SubscribeAuthorizesAndDelivers(t *testing.T) {
	m, broker, calls, mu := startTransport(t)
	defer m.Close()

	got := make(chan realtime.Event, 1)
	topic := m.Subscribe("private-member-42", realtime.Handlers{
		realtime.EventNewMessage: func(e realtime.Event) { got <- e },
	})
	require.NotNil(t, topic)

	require.Eventually(t, func() bool { return len(broker.received(EventSubscribe)) == 1 }, 2*time.Second, 5*time.Millisecond)
	var req SubscribeRequest
	require.NoError(t, broker.received(EventSubscribe)[0].DecodeData(&req))
	assert.Equal(t, "private-member-42", req.Channel)
	assert.Equal(t, "test-key:sig-private-member-42", req.Auth)

	mu.Lock()
	assert.Equal(t, []authCall{{"1.1", "private-member-42", "42"}}, *calls)
	mu.Unlock()

	frame, err := NewServerFrame(realtime.EventNewMessage, "private-member-42", map[string]string{"channel_id": "3"})
	require.NoError(t, err)
	require.NoError(t, wsjson.Write(context.Background(), broker.conn(0), frame))

	select {
	case e := <-got:
		var payload map[string]string
		require.NoError(t, e.Decode(&payload))
		assert.Equal(t, "3", payload["channel_id"])
	case <-time.After(2 * time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestTransport_PublicChannelSkipsAuth(t *testing.T) {
	m, broker, calls, mu := startTransport(t)
	defer m.Close()

	m.Subscribe("announcements", nil)
	require.Eventually(t, func() bool { return len(broker.received(EventSubscribe)) == 1 }, 2*time.Second, 5*time.Millisecond)

	var req SubscribeRequest
	require.NoError(t, broker.received(EventSubscribe)[0].DecodeData(&req))
	assert.Empty(t, req.Auth)
	mu.Lock()
	assert.Empty(t, *calls)
	mu.Unlock()
}

func TestTransport_TriggerClientEvent(t *testing.T) {
	m, broker, _, _ := startTransport(t)
	defer m.Close()

	m.Subscribe("presence-chat-3", nil)
	// Client events are only sent once the subscription is confirmed.
	time.Sleep(100 * time.Millisecond)
	m.Trigger("presence-chat-3", realtime.EventTyping, map[string]string{"user_id": "42"})

	require.Eventually(t, func() bool { return len(broker.received(realtime.EventTyping)) == 1 }, 2*time.Second, 5*time.Millisecond)
	f := broker.received(realtime.EventTyping)[0]
	assert.Equal(t, "presence-chat-3", f.Channel)
}

func TestTransport_AnswersPing(t *testing.T) {
	m, broker, _, _ := startTransport(t)
	defer m.Close()

	ping, _ := NewServerFrame(EventPing, "", map[string]any{})
	require.NoError(t, wsjson.Write(context.Background(), broker.conn(0), ping))
	require.Eventually(t, func() bool { return len(broker.received(EventPong)) == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestTransport_DropsConnectionWhenPongIsLate(t *testing.T) {
	broker := &fakeBroker{}
	srv := httptest.NewServer(broker)
	defer srv.Close()
	wsURL, err := AppURL(srv.URL, "test-key")
	require.NoError(t, err)

	transport := NewTransport(wsURL, nil,
		WithPingInterval(300*time.Millisecond, 30*time.Millisecond),
		WithReconnectDelay(time.Minute),
		WithLogger(logging.Discard()),
	)
	m := realtime.NewManager(transport, realtime.WithLogger(logging.Discard()))
	require.NoError(t, m.Open(context.Background(), domain.Identity{MemberID: "42"}))
	defer m.Close()
	require.Eventually(t, m.Connected, 2*time.Second, 5*time.Millisecond)

	// The broker never answers pings.
	require.Eventually(t, func() bool { return len(broker.received(EventPing)) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return m.State() == realtime.StateDisconnected },
		200*time.Millisecond, 5*time.Millisecond, "the pong deadline runs from the ping, not from the next interval")
}

func TestTransport_CloseUnsubscribesFirst(t *testing.T) {
	m, broker, _, _ := startTransport(t)

	m.Subscribe("presence-chat-3", nil)
	m.Subscribe("private-member-42", nil)
	require.Eventually(t, func() bool { return len(broker.received(EventSubscribe)) == 2 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, m.Close())

	unsubs := broker.received(EventUnsubscribe)
	require.Len(t, unsubs, 2)
	var channels []string
	for _, f := range unsubs {
		var req UnsubscribeRequest
		require.NoError(t, f.DecodeData(&req))
		channels = append(channels, req.Channel)
	}
	assert.ElementsMatch(t, []string{"presence-chat-3", "private-member-42"}, channels)
	assert.Equal(t, realtime.StateDisconnected, m.State())
}

func TestTransport_ReconnectResubscribes(t *testing.T) {
	m, broker, _, _ := startTransport(t)
	defer m.Close()

	states := make(chan realtime.State, 8)
	m.OnStateChange(func(s realtime.State) { states <- s })

	m.Subscribe("presence-chat-3", nil)
	require.Eventually(t, func() bool { return len(broker.received(EventSubscribe)) == 1 }, 2*time.Second, 5*time.Millisecond)

	broker.conn(0).Close(websocket.StatusGoingAway, "restart")

	require.Eventually(t, func() bool { return broker.connCount() == 2 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(broker.received(EventSubscribe)) == 2 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, m.Connected, 2*time.Second, 5*time.Millisecond)
	assert.Contains(t, drain(states), realtime.StateDisconnected)
}

func drain(ch chan realtime.State) []realtime.State {
	var out []realtime.State
	for {
		select {
		case s := <-ch:
			out = append(out, s)
		default:
			return out
		}
	}
}

func TestFrame_DecodeData(t *testing.T) {
	obj, err := NewFrame(EventSubscribe, "", SubscribeRequest{Channel: "a"})
	require.NoError(t, err)
	str, err := NewServerFrame(EventSubscribe, "", SubscribeRequest{Channel: "b"})
	require.NoError(t, err)

	var a, b SubscribeRequest
	require.NoError(t, obj.DecodeData(&a))
	require.NoError(t, str.DecodeData(&b))
	assert.Equal(t, "a", a.Channel)
	assert.Equal(t, "b", b.Channel)
}
