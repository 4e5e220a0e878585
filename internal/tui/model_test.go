package tui

import (
	"context"
	"errors"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/nfrund/fellowship/internal/chat"
	"github.com/nfrund/fellowship/internal/domain"
	"github.com/nfrund/fellowship/internal/presence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	mu       sync.Mutex
	snap     chat.Snapshot
	selected []string
	sent     []string
	retried  []string
	typing   int
}

func (s *fakeSession) SelectChannel(_ context.Context, ch domain.Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = append(s.selected, ch.ID)
	s.snap = chat.Snapshot{Channel: ch, Selected: true, Phase: chat.PhaseReady}
	return nil
}

func (s *fakeSession) SendMessage(text string) (domain.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if text == "" {
		return domain.Message{}, false
	}
	s.sent = append(s.sent, text)
	m := domain.Message{ID: "temp-1", SenderID: "1", SenderName: "Frodo", Body: text, Status: domain.StatusPending}
	s.snap.Messages = append(s.snap.Messages, m)
	return m, true
}

func (s *fakeSession) Retry(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retried = append(s.retried, id)
	return true
}

func (s *fakeSession) NotifyTyping() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.typing++
}

func (s *fakeSession) Snapshot() chat.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snap
	snap.Messages = append([]domain.Message(nil), s.snap.Messages...)
	return snap
}

func (s *fakeSession) set(fn func(*chat.Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.snap)
}

type fakeDirectory struct {
	list domain.ChannelList
	err  error
}

func (d fakeDirectory) Load(context.Context) (domain.ChannelList, error) {
	return d.list, d.err
}

type fakeUnread struct {
	mu     sync.Mutex
	badge  string
	marked []string
}

func (u *fakeUnread) Badge() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.badge
}

func (u *fakeUnread) MarkRead(_ context.Context, channelID string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.marked = append(u.marked, channelID)
}

type fakePrefs struct {
	enabled bool
}

func (p *fakePrefs) SoundEnabled() bool { return p.enabled }

func (p *fakePrefs) SetSoundEnabled(enabled bool) error {
	p.enabled = enabled
	return nil
}

var council = domain.Channel{ID: "11", Name: "Council of Elrond", Category: domain.CategoryGroup}

func newTestModel(t *testing.T) (*Model, *fakeSession, *fakeUnread) {
	t.Helper()
	session := &fakeSession{}
	unread := &fakeUnread{badge: "2"}
	m := New(Options{
		Identity:    domain.Identity{MemberID: "1", DisplayName: "Frodo"},
		Session:     session,
		Directory:   fakeDirectory{list: domain.ChannelList{Groups: []domain.Channel{council}}},
		Unread:      unread,
		Preferences: &fakePrefs{enabled: true},
	})
	m.Update(tea.WindowSizeMsg{Width: 120, Height: 30})
	m.Update(m.loadChannels()())
	return m, session, unread
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "ctrl+r":
		return tea.KeyMsg{Type: tea.KeyCtrlR}
	case "ctrl+s":
		return tea.KeyMsg{Type: tea.KeyCtrlS}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestSelectingChannelLoadsItAndMarksRead(t *testing.T) {
	m, session, unread := newTestModel(t)
	assert.Contains(t, m.View(), "Council of Elrond")

	_, cmd := m.Update(key("enter"))
	require.NotNil(t, cmd)
	_, next := m.Update(cmd())
	assert.Nil(t, next, "a selection does not start another feed wait")

	assert.Equal(t, []string{"11"}, session.selected)
	assert.Equal(t, []string{"11"}, unread.marked)
	assert.Equal(t, focusInput, m.focus)
	view := m.View()
	assert.Contains(t, view, "No messages yet.")
	assert.Contains(t, view, "2", "unread badge")
}

func TestTypingAndSendingShowsPendingMarker(t *testing.T) {
	m, session, _ := newTestModel(t)
	_, cmd := m.Update(key("enter"))
	m.Update(cmd())

	for _, r := range "hi" {
		m.Update(key(string(r)))
	}
	assert.Equal(t, 2, session.typing)

	m.Update(key("enter"))
	assert.Equal(t, []string{"hi"}, session.sent)
	assert.Empty(t, m.input.Value())
	assert.Contains(t, m.View(), PendingMarker)
}

func TestRetryResendsNewestFailedEntry(t *testing.T) {
	m, session, _ := newTestModel(t)
	session.set(func(s *chat.Snapshot) {
		s.Selected = true
		s.Messages = []domain.Message{
			{ID: "temp-a", SenderID: "1", Body: "first", Status: domain.StatusFailed},
			{ID: "temp-b", SenderID: "1", Body: "second", Status: domain.StatusFailed},
		}
	})
	m.Update(refreshMsg{})
	assert.Contains(t, m.View(), FailedMarker)

	m.Update(key("ctrl+r"))
	assert.Equal(t, []string{"temp-b"}, session.retried)
}

func TestTypingLineAndRefreshFromFeed(t *testing.T) {
	feed := NewFeed()
	defer feed.Stop()
	session := &fakeSession{}
	m := New(Options{Identity: domain.Identity{MemberID: "1"}, Session: session, Feed: feed})
	m.Update(tea.WindowSizeMsg{Width: 100, Height: 20})

	session.set(func(s *chat.Snapshot) {
		s.Selected = true
		s.Channel = council
		s.Typing = &presence.Typist{MemberID: "3", Name: "Gandalf"}
	})
	feed.Notify()
	feed.Notify()

	msg := feed.Wait()()
	_, next := m.Update(msg)
	assert.NotNil(t, next, "the feed is re-armed")
	assert.Contains(t, m.View(), "Gandalf is typing...")
}

func TestRepeatedSelectionsKeepOneFeedWait(t *testing.T) {
	feed := NewFeed()
	defer feed.Stop()
	session := &fakeSession{}
	m := New(Options{
		Identity:  domain.Identity{MemberID: "1"},
		Session:   session,
		Directory: fakeDirectory{list: domain.ChannelList{Groups: []domain.Channel{council}}},
		Feed:      feed,
	})
	m.Update(tea.WindowSizeMsg{Width: 100, Height: 20})
	m.Update(m.loadChannels()())

	for range 3 {
		m.setFocus(focusChannels)
		_, cmd := m.Update(key("enter"))
		require.NotNil(t, cmd)
		msg := cmd()
		assert.IsType(t, selectedMsg{}, msg)
		_, next := m.Update(msg)
		assert.Nil(t, next)
	}
	assert.Equal(t, []string{"11", "11", "11"}, session.selected)

	_, next := m.Update(refreshMsg{})
	assert.NotNil(t, next, "feed refreshes still re-arm the wait")
}

func TestToggleSoundAndErrors(t *testing.T) {
	m, _, _ := newTestModel(t)
	m.Update(key("ctrl+s"))
	assert.Contains(t, m.View(), "sound muted")

	m.Update(errMsg{err: errors.New("load Council of Elrond: boom")})
	assert.Contains(t, m.View(), "boom")
}

func TestChannelLoadFailureIsShown(t *testing.T) {
	m := New(Options{Directory: fakeDirectory{err: errors.New("portal down")}})
	m.Update(tea.WindowSizeMsg{Width: 100, Height: 20})
	m.Update(m.loadChannels()())
	assert.Contains(t, m.View(), "portal down")
}
