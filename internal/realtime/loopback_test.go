package realtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nfrund/fellowship/internal/domain"
	"github.com/nfrund/fellowship/internal/logging"
	"github.com/nfrund/fellowship/internal/pubsub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) add(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

func (l *eventLog) get(i int) Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.events[i]
}

func TestLoopback_ClientEventsReachPeersOnly(t *testing.T) {
	bus := pubsub.NewWatermillBridge()
	defer bus.Close()

	anna := NewManager(NewLoopback(bus), WithLogger(logging.Discard()))
	ben := NewManager(NewLoopback(bus), WithLogger(logging.Discard()))
	require.NoError(t, anna.Open(context.Background(), domain.Identity{MemberID: "1"}))
	require.NoError(t, ben.Open(context.Background(), domain.Identity{MemberID: "2"}))
	defer anna.Close()
	defer ben.Close()
	assert.True(t, anna.Connected())

	annaLog, benLog := &eventLog{}, &eventLog{}
	anna.Subscribe("presence-chat-1", Handlers{EventTyping: annaLog.add})
	ben.Subscribe("presence-chat-1", Handlers{EventTyping: benLog.add})

	anna.Trigger("presence-chat-1", EventTyping, map[string]string{"user_id": "1"})

	require.Eventually(t, func() bool { return benLog.len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, annaLog.len(), "sender does not receive its own client event")

	var payload map[string]string
	require.NoError(t, benLog.get(0).Decode(&payload))
	assert.Equal(t, "1", payload["user_id"])
}

func TestLoopback_ServerEventsAndUnsubscribe(t *testing.T) {
	bus := pubsub.NewWatermillBridge()
	defer bus.Close()

	transport := NewLoopback(bus)
	m := NewManager(transport, WithLogger(logging.Discard()))
	require.NoError(t, m.Open(context.Background(), domain.Identity{MemberID: "1"}))

	log := &eventLog{}
	m.Subscribe("private-member-1", Handlers{EventNewMessage: log.add})

	require.NoError(t, transport.Publish(context.Background(), "private-member-1", EventNewMessage, map[string]string{"channel_id": "3"}))
	require.Eventually(t, func() bool { return log.len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "private-member-1", log.get(0).Topic)

	m.Unsubscribe("private-member-1")
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, transport.Publish(context.Background(), "private-member-1", EventNewMessage, map[string]string{}))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, log.len())

	require.NoError(t, m.Close())
	assert.Equal(t, StateDisconnected, m.State())
	_, err := transport.Subscribe("private-member-1")
	assert.ErrorIs(t, err, domain.ErrTransportNotReady)
}
