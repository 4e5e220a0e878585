package domain

import (
	"strings"
	"unicode"
)

// ChannelCategory groups channels the way the member portal lists them.
type ChannelCategory string

const (
	CategoryPublic ChannelCategory = "public"
	CategoryGroup  ChannelCategory = "group"
	CategoryDirect ChannelCategory = "dm"
)

// Channel is a conversation surface: a public room, a group or a direct message.
type Channel struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Category ChannelCategory `json:"category"`
	// Initials and Counterpart are only populated for direct messages.
	Initials    string `json:"initials,omitempty"`
	Counterpart string `json:"counterpart,omitempty"`
}

// Label is the name shown in channel lists. Direct messages show the other member.
func (c Channel) Label() string {
	if c.Category == CategoryDirect && c.Counterpart != "" {
		return c.Counterpart
	}
	return c.Name
}

// Badge returns the channel initials, deriving them from the label when the
// API did not send any.
func (c Channel) Badge() string {
	if c.Initials != "" {
		return c.Initials
	}
	return Initials(c.Label())
}

// Initials returns up to two upper-cased leading letters of name.
func Initials(name string) string {
	var b strings.Builder
	for _, word := range strings.Fields(name) {
		r := []rune(word)[0]
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
		if b.Len() >= 2 {
			break
		}
	}
	return b.String()
}

// ChannelList is the categorized channel list fetched per member.
type ChannelList struct {
	Public []Channel `json:"public"`
	Groups []Channel `json:"groups"`
	Direct []Channel `json:"direct_messages"`
}

// All returns every channel, public rooms first, then groups, then direct messages.
func (l ChannelList) All() []Channel {
	all := make([]Channel, 0, len(l.Public)+len(l.Groups)+len(l.Direct))
	all = append(all, l.Public...)
	all = append(all, l.Groups...)
	all = append(all, l.Direct...)
	return all
}

// Find looks a channel up by id.
func (l ChannelList) Find(id string) (Channel, bool) {
	for _, ch := range l.All() {
		if ch.ID == id {
			return ch, true
		}
	}
	return Channel{}, false
}

// Len is the total number of channels.
func (l ChannelList) Len() int {
	return len(l.Public) + len(l.Groups) + len(l.Direct)
}
