package tui

import tea "github.com/charmbracelet/bubbletea"

// Feed coalesces change notifications from background goroutines into
// screen refreshes. Notify never blocks; the screen reads fresh state itself,
// so dropped notifications lose nothing.
type Feed struct {
	ch   chan struct{}
	done chan struct{}
}

func NewFeed() *Feed {
	return &Feed{ch: make(chan struct{}, 1), done: make(chan struct{})}
}

// Notify marks the screen dirty.
func (f *Feed) Notify() {
	select {
	case f.ch <- struct{}{}:
	default:
	}
}

// Wait returns a command that resolves on the next notification.
func (f *Feed) Wait() tea.Cmd {
	return func() tea.Msg {
		select {
		case <-f.ch:
			return refreshMsg{}
		case <-f.done:
			return nil
		}
	}
}

// Stop releases a pending Wait.
func (f *Feed) Stop() {
	select {
	case <-f.done:
	default:
		close(f.done)
	}
}
