// Package tui is the terminal chat client: a channel list, the message pane of
// the selected channel, the typing line, the unread badge and an input box.
package tui

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/nfrund/fellowship/internal/chat"
	"github.com/nfrund/fellowship/internal/domain"
)

const (
	listWidth     = 28
	selectTimeout = 15 * time.Second
)

// Session is the chat session the UI drives.
type Session interface {
	SelectChannel(ctx context.Context, ch domain.Channel) error
	SendMessage(text string) (domain.Message, bool)
	Retry(id string) bool
	NotifyTyping()
	Snapshot() chat.Snapshot
}

// Directory lists the member's channels.
type Directory interface {
	Load(ctx context.Context) (domain.ChannelList, error)
}

// Unread is the member's unread poller.
type Unread interface {
	Badge() string
	MarkRead(ctx context.Context, channelID string)
}

// Connection reports the realtime connection state.
type Connection interface {
	Connected() bool
}

// Preferences is the sound toggle.
type Preferences interface {
	SoundEnabled() bool
	SetSoundEnabled(enabled bool) error
}

// Options wires a Model.
type Options struct {
	Identity    domain.Identity
	Session     Session
	Directory   Directory
	Unread      Unread
	Connection  Connection
	Preferences Preferences
	Feed        *Feed
}

type focus int

const (
	focusChannels focus = iota
	focusInput
)

type channelsMsg struct {
	list domain.ChannelList
	err  error
}

type refreshMsg struct{}

// selectedMsg reports a finished channel selection. Unlike refreshMsg it does
// not re-arm the feed, which already has a Wait pending.
type selectedMsg struct{}

type errMsg struct {
	err error
}

type channelItem struct {
	ch domain.Channel
}

func (i channelItem) Title() string { return i.ch.Label() }

func (i channelItem) Description() string {
	return fmt.Sprintf("%s · %s", i.ch.Badge(), i.ch.Category)
}

func (i channelItem) FilterValue() string { return i.ch.Label() }

// Model is the bubbletea model of the chat screen.
type Model struct {
	opts Options

	width  int
	height int
	focus  focus

	channels list.Model
	pane     viewport.Model
	input    textinput.Model

	snap   chat.Snapshot
	badge  string
	status string
	err    error
}

// New creates the model. Feed may be nil, in which case the screen only
// refreshes on key presses.
func New(opts Options) *Model {
	l := list.New(nil, list.NewDefaultDelegate(), listWidth, 10)
	l.Title = "Channels"
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(true)
	l.SetShowHelp(false)

	in := textinput.New()
	in.Placeholder = "Write a message"
	in.CharLimit = 2000

	return &Model{
		opts:     opts,
		channels: l,
		pane:     viewport.New(40, 10),
		input:    in,
	}
}

func (m *Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.loadChannels()}
	if m.opts.Feed != nil {
		cmds = append(cmds, m.opts.Feed.Wait())
	}
	return tea.Batch(cmds...)
}

func (m *Model) loadChannels() tea.Cmd {
	dir := m.opts.Directory
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), selectTimeout)
		defer cancel()
		l, err := dir.Load(ctx)
		return channelsMsg{list: l, err: err}
	}
}

func (m *Model) selectChannel(ch domain.Channel) tea.Cmd {
	session, unread := m.opts.Session, m.opts.Unread
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), selectTimeout)
		defer cancel()
		if unread != nil {
			unread.MarkRead(ctx, ch.ID)
		}
		if err := session.SelectChannel(ctx, ch); err != nil {
			return errMsg{err: fmt.Errorf("load %s: %w", ch.Label(), err)}
		}
		return selectedMsg{}
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case channelsMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		items := make([]list.Item, 0, msg.list.Len())
		for _, ch := range msg.list.All() {
			items = append(items, channelItem{ch: ch})
		}
		cmd := m.channels.SetItems(items)
		return m, cmd

	case refreshMsg:
		m.refresh()
		if m.opts.Feed != nil {
			return m, m.opts.Feed.Wait()
		}
		return m, nil

	case selectedMsg:
		m.refresh()
		return m, nil

	case errMsg:
		m.err = msg.err
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		return m, m.handleKey(msg)
	}

	var cmd tea.Cmd
	if m.focus == focusInput {
		m.input, cmd = m.input.Update(msg)
	} else {
		m.channels, cmd = m.channels.Update(msg)
	}
	return m, cmd
}

func (m *Model) handleKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "ctrl+c":
		return tea.Quit
	case "tab":
		m.toggleFocus()
		return nil
	case "ctrl+r":
		if id, ok := lastFailed(m.opts.Session.Snapshot().Messages); ok {
			m.opts.Session.Retry(id)
			m.refresh()
		}
		return nil
	case "ctrl+s":
		m.toggleSound()
		return nil
	}

	if m.focus == focusChannels {
		if msg.String() == "q" && !m.channels.SettingFilter() {
			return tea.Quit
		}
		if msg.String() == "enter" && !m.channels.SettingFilter() {
			item, ok := m.channels.SelectedItem().(channelItem)
			if !ok {
				return nil
			}
			m.err = nil
			m.setFocus(focusInput)
			return m.selectChannel(item.ch)
		}
		var cmd tea.Cmd
		m.channels, cmd = m.channels.Update(msg)
		return cmd
	}

	switch msg.String() {
	case "esc":
		m.setFocus(focusChannels)
		return nil
	case "enter":
		if _, ok := m.opts.Session.SendMessage(m.input.Value()); ok {
			m.input.Reset()
		}
		m.refresh()
		return nil
	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.pane, cmd = m.pane.Update(msg)
		return cmd
	}

	before := m.input.Value()
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if m.input.Value() != before && m.input.Value() != "" {
		m.opts.Session.NotifyTyping()
	}
	return cmd
}

func (m *Model) toggleFocus() {
	if m.focus == focusChannels {
		m.setFocus(focusInput)
	} else {
		m.setFocus(focusChannels)
	}
}

func (m *Model) setFocus(f focus) {
	m.focus = f
	if f == focusInput {
		m.input.Focus()
	} else {
		m.input.Blur()
	}
}

func (m *Model) toggleSound() {
	prefs := m.opts.Preferences
	if prefs == nil {
		return
	}
	enabled := !prefs.SoundEnabled()
	if err := prefs.SetSoundEnabled(enabled); err != nil {
		m.err = err
		return
	}
	if enabled {
		m.status = "sound on"
	} else {
		m.status = "sound muted"
	}
}

func (m *Model) resize(w, h int) {
	m.width, m.height = w, h
	m.channels.SetSize(listWidth, max(h-2, 1))
	m.pane.Width = max(w-listWidth-6, 10)
	m.pane.Height = max(h-7, 1)
	m.input.Width = max(m.pane.Width-3, 1)
	m.refresh()
}

// refresh pulls fresh state from the session and the poller.
func (m *Model) refresh() {
	if m.opts.Session != nil {
		m.snap = m.opts.Session.Snapshot()
	}
	if m.opts.Unread != nil {
		m.badge = m.opts.Unread.Badge()
	}
	atBottom := m.pane.AtBottom()
	m.pane.SetContent(renderMessages(m.snap, m.opts.Identity.MemberID))
	if atBottom || m.focus == focusInput {
		m.pane.GotoBottom()
	}
}

func (m *Model) connected() bool {
	return m.opts.Connection == nil || m.opts.Connection.Connected()
}

func (m *Model) View() string {
	left := paneStyle
	right := paneStyle
	if m.focus == focusChannels {
		left = focusStyle
	} else {
		right = focusStyle
	}

	footer := statusStyle.Render("tab switch · enter open/send · ctrl+r retry · ctrl+s sound · ctrl+c quit")
	if m.status != "" {
		footer = statusStyle.Render(m.status) + "  " + footer
	}
	if m.err != nil {
		footer = errStyle.Render(m.err.Error())
	}

	main := lipgloss.JoinVertical(lipgloss.Left,
		renderHeader(m.snap, m.badge, m.connected()),
		m.pane.View(),
		renderTyping(m.snap),
		m.input.View(),
	)
	body := lipgloss.JoinHorizontal(lipgloss.Top,
		left.Render(m.channels.View()),
		right.Width(m.pane.Width+2).Render(main),
	)
	return lipgloss.JoinVertical(lipgloss.Left, body, footer)
}
