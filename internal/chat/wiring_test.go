package chat

import (
	"context"
	"testing"
	"time"

	"github.com/nfrund/fellowship/internal/logging"
	"github.com/nfrund/fellowship/internal/pubsub"
	"github.com/nfrund/fellowship/internal/realtime"
	"github.com/stretchr/testify/require"
)

func TestSessionOverLoopbackReceivesAfterReselect(t *testing.T) {
	bus := pubsub.NewWatermillBridge()
	defer bus.Close()

	lb := realtime.NewLoopback(bus)
	conn := realtime.NewManager(lb, realtime.WithLogger(logging.Discard()))
	require.NoError(t, conn.Open(context.Background(), me))
	defer conn.Close()

	s := NewSession(newFakeBackend(), conn, me, WithLogger(logging.Discard()))
	defer s.Close()

	require.NoError(t, s.SelectChannel(context.Background(), general))
	require.NoError(t, s.SelectChannel(context.Background(), general))

	require.NoError(t, lb.Publish(context.Background(), realtime.ChannelTopic("1"), realtime.EventNewMessage,
		map[string]any{"id": "m9", "channel_id": "1", "sender_id": "3", "body": "over the bus"}))

	require.Eventually(t, func() bool {
		msgs := s.Snapshot().Messages
		return len(msgs) == 1 && msgs[0].ID == "m9"
	}, time.Second, 5*time.Millisecond)
}
