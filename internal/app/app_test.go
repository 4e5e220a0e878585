package app

import (
	"context"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nfrund/fellowship/internal/config"
	"github.com/nfrund/fellowship/internal/contentapi"
	"github.com/nfrund/fellowship/internal/domain"
	"github.com/nfrund/fellowship/internal/logging"
	"github.com/nfrund/fellowship/internal/server"
	"github.com/nfrund/fellowship/internal/storage"
	"github.com/samber/do/v2"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	devKey    = "dev-key"
	devSecret = "dev-secret"
)

type countingPlayer struct {
	plays atomic.Int32
}

func (p *countingPlayer) Play(context.Context) error {
	p.plays.Add(1)
	return nil
}

func startDevServer(t *testing.T) (*server.Server, *httptest.Server) {
	t.Helper()
	seed, err := server.LoadSeed(nil, "")
	require.NoError(t, err)
	s, err := server.New(server.Options{Key: devKey, Secret: devSecret, Seed: seed, Logger: logging.Discard()})
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = s.Shutdown(context.Background())
	})
	return s, ts
}

func testConfig(apiURL string) *config.Config {
	return &config.Config{
		APIBaseURL:     apiURL + "/api/",
		RealtimeKey:    devKey,
		AuthPath:       "pusher_auth.php",
		UnreadInterval: time.Hour,
		StatusInterval: time.Hour,
		UnreadLimit:    10,
		TypingTimeout:  time.Second,
		RequestTimeout: 2 * time.Second,
		PrefsPath:      "prefs.json",
	}
}

var frodo = domain.Identity{MemberID: "1", DisplayName: "Frodo Baggins"}

func TestNewInjectorProvidesRootServices(t *testing.T) {
	fs := afero.NewMemMapFs()
	i := NewInjector(testConfig("http://localhost:1"), logging.Discard(), WithFs(fs))
	defer Shutdown(i)

	prefs := do.MustInvoke[*storage.Preferences](i)
	assert.True(t, prefs.SoundEnabled())
	require.NoError(t, prefs.SetSoundEnabled(false))
	exists, err := afero.Exists(fs, "prefs.json")
	require.NoError(t, err)
	assert.True(t, exists)

	assert.Same(t, do.MustInvoke[*contentapi.Client](i), do.MustInvoke[*contentapi.Client](i))

	factory := do.MustInvoke[TransportFactory](i)
	transport, err := factory(frodo)
	require.NoError(t, err)
	assert.NotNil(t, transport)
}

func TestSignInRejectsMissingIdentity(t *testing.T) {
	i := NewInjector(testConfig("http://localhost:1"), logging.Discard(), WithFs(afero.NewMemMapFs()))
	defer Shutdown(i)

	_, err := SignIn(context.Background(), i, domain.Identity{})
	assert.ErrorIs(t, err, domain.ErrNoIdentity)
}

func TestMemberOverLoopbackAgainstDevServer(t *testing.T) {
	srv, ts := startDevServer(t)
	player := &countingPlayer{}
	i := NewInjector(testConfig(ts.URL), logging.Discard(),
		WithFs(afero.NewMemMapFs()),
		WithBus(srv.Bus()),
		WithPlayer(player),
	)
	defer Shutdown(i)

	updates := make(chan domain.UnreadSummary, 16)
	member, err := SignIn(context.Background(), i, frodo, WithUnreadUpdates(func(s domain.UnreadSummary) {
		updates <- s
	}))
	require.NoError(t, err)
	defer member.SignOut()

	first := <-updates
	assert.Equal(t, 2, first.Total)
	assert.Zero(t, player.plays.Load(), "the first poll never plays")

	// Sam writes in the DM; the member topic event triggers an early poll.
	sam := contentapi.New(ts.URL+"/api", contentapi.WithLogger(logging.Discard()))
	_, err = sam.SendMessage(context.Background(), "12", "2", "Mr. Frodo?")
	require.NoError(t, err)

	select {
	case next := <-updates:
		assert.Equal(t, 3, next.Total)
	case <-time.After(2 * time.Second):
		t.Fatal("unread summary was not refreshed by the member topic event")
	}
	assert.Equal(t, int32(1), player.plays.Load())
	assert.Equal(t, "3", member.Poller().Badge())

	channels, err := member.Directory().Load(context.Background())
	require.NoError(t, err)
	council, ok := channels.Find("11")
	require.True(t, ok)

	session, err := member.NewSession()
	require.NoError(t, err)
	require.NoError(t, session.SelectChannel(context.Background(), council))
	_, ok = session.SendMessage("  One ring to rule them all  ")
	require.True(t, ok)

	require.Eventually(t, func() bool {
		msgs := session.Snapshot().Messages
		count := 0
		for _, m := range msgs {
			if m.Body == "One ring to rule them all" {
				count++
				if m.Status != domain.StatusConfirmed || m.IsTemporary() {
					return false
				}
			}
		}
		return count == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, member.SignOut())
	require.NoError(t, member.SignOut())
	assert.Empty(t, member.Connection().Topics())
	_, err = member.NewSession()
	assert.ErrorIs(t, err, domain.ErrTransportNotReady)
}

func TestMemberOverWebsocket(t *testing.T) {
	_, ts := startDevServer(t)
	cfg := testConfig(ts.URL)
	cfg.RealtimeURL = ts.URL

	i := NewInjector(cfg, logging.Discard(), WithFs(afero.NewMemMapFs()), WithPlayer(&countingPlayer{}))
	defer Shutdown(i)

	member, err := SignIn(context.Background(), i, frodo, WithStatusPolling())
	require.NoError(t, err)

	require.Eventually(t, member.Connection().Connected, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, member.Connection().Topics(), "private-member-1")
	require.NoError(t, member.SignOut())
	assert.False(t, member.Connection().Connected())
}
