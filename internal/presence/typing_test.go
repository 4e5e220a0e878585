package presence

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type change struct {
	channel string
	member  string
	typing  bool
}

type changeLog struct {
	mu      sync.Mutex
	changes []change
}

func (c *changeLog) record(channelID string, typist Typist, typing bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.changes = append(c.changes, change{channelID, typist.MemberID, typing})
}

func (c *changeLog) get() []change {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]change(nil), c.changes...)
}

func TestTracker_ExpiresAfterTimeout(t *testing.T) {
	log := &changeLog{}
	tracker := NewTracker(WithTimeout(30*time.Millisecond), WithOnChange(log.record))
	defer tracker.Close()

	tracker.Observe("1", "7", "Ruth")
	typist, ok := tracker.Get("1")
	require.True(t, ok)
	assert.Equal(t, "Ruth", typist.Name)

	require.Eventually(t, func() bool {
		_, ok := tracker.Get("1")
		return !ok
	}, time.Second, time.Millisecond)
	assert.Equal(t, []change{{"1", "7", true}, {"1", "7", false}}, log.get())
}

func TestTracker_NewEventReplacesTimer(t *testing.T) {
	tracker := NewTracker(WithTimeout(150 * time.Millisecond))
	defer tracker.Close()

	tracker.Observe("1", "7", "Ruth")
	time.Sleep(100 * time.Millisecond)
	tracker.Observe("1", "8", "Ben")
	time.Sleep(100 * time.Millisecond)

	// The first timer would have fired by now; the replacement keeps Ben visible.
	typist, ok := tracker.Get("1")
	require.True(t, ok)
	assert.Equal(t, "8", typist.MemberID)

	require.Eventually(t, func() bool {
		_, ok := tracker.Get("1")
		return !ok
	}, time.Second, time.Millisecond)
}

func TestTracker_StaleExpiryIsIgnored(t *testing.T) {
	tracker := NewTracker(WithTimeout(time.Hour))
	defer tracker.Close()

	tracker.Observe("1", "7", "Ruth")
	tracker.mu.Lock()
	stale := tracker.seq["1"]
	tracker.mu.Unlock()
	tracker.Observe("1", "7", "Ruth")

	tracker.expire("1", stale)
	_, ok := tracker.Get("1")
	assert.True(t, ok)
}

func TestTracker_ClearAndClose(t *testing.T) {
	log := &changeLog{}
	tracker := NewTracker(WithTimeout(time.Hour), WithOnChange(log.record))

	tracker.Observe("1", "7", "Ruth")
	tracker.Observe("2", "8", "Ben")
	tracker.Clear("1")
	tracker.Clear("missing")

	_, ok := tracker.Get("1")
	assert.False(t, ok)
	assert.Equal(t, []change{{"1", "7", true}, {"2", "8", true}, {"1", "7", false}}, log.get())

	tracker.Close()
	_, ok = tracker.Get("2")
	assert.False(t, ok)
	tracker.Observe("3", "9", "Cy")
	_, ok = tracker.Get("3")
	assert.False(t, ok, "closed tracker ignores events")
}

func TestThrottle(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	th := NewThrottle(time.Second)
	th.now = func() time.Time { return now }

	assert.True(t, th.Allow("1"))
	assert.False(t, th.Allow("1"))
	assert.True(t, th.Allow("2"))

	now = now.Add(time.Second)
	assert.True(t, th.Allow("1"))

	th.Reset("1")
	assert.True(t, th.Allow("1"))
}
