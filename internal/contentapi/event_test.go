package contentapi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMessage(t *testing.T) {
	msg, err := ParseMessage([]byte(`{"id":81,"sender_id":7,"sender_name":"Ruth","body":"See you Sunday","created_at":"2024-03-01 10:00:00"}`), "12")
	require.NoError(t, err)
	assert.Equal(t, "81", msg.ID)
	assert.Equal(t, "12", msg.ChannelID)
	assert.Equal(t, "7", msg.SenderID)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), msg.CreatedAt)

	msg, err = ParseMessage([]byte(`{"id":"82","channel_id":"13","sender_id":"7","body":"x"}`), "12")
	require.NoError(t, err)
	assert.Equal(t, "13", msg.ChannelID)

	_, err = ParseMessage([]byte(`{"sender_id":"7","body":"no id"}`), "12")
	assert.Error(t, err)

	_, err = ParseMessage([]byte(`garbage`), "12")
	assert.Error(t, err)
}
