package server

import (
	"crypto/rand"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nfrund/fellowship/internal/domain"
	"github.com/oklog/ulid/v2"
)

var (
	ErrUnknownMember  = errors.New("unknown member")
	ErrUnknownChannel = errors.New("unknown channel")
	ErrForbidden      = errors.New("member is not in this channel")
)

// Member is a portal account.
type Member struct {
	ID   string
	Name string
}

type channelRow struct {
	domain.Channel
	// members is empty for public channels, which everyone can read.
	members []string
}

type storedMessage struct {
	ID        string
	ChannelID string
	SenderID  string
	Body      string
	CreatedAt time.Time
}

// Store is the dev backend's in-memory portal database. Message ids are
// ULIDs, so their string order is their creation order, and read state is a
// per member, per channel watermark.
type Store struct {
	mu       sync.RWMutex
	entropy  io.Reader
	now      func() time.Time
	members  map[string]Member
	order    []string
	channels map[string]*channelRow
	messages map[string][]storedMessage
	lastRead map[string]map[string]string
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		entropy:  ulid.Monotonic(rand.Reader, 0),
		now:      func() time.Time { return time.Now().UTC() },
		members:  make(map[string]Member),
		channels: make(map[string]*channelRow),
		messages: make(map[string][]storedMessage),
		lastRead: make(map[string]map[string]string),
	}
}

// AddMember registers a member.
func (s *Store) AddMember(m Member) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[m.ID] = m
}

// AddChannel registers a channel. members is ignored for public channels.
func (s *Store) AddChannel(ch domain.Channel, members []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch.Initials == "" {
		ch.Initials = domain.Initials(ch.Name)
	}
	if ch.Category == domain.CategoryPublic {
		members = nil
	}
	if _, exists := s.channels[ch.ID]; !exists {
		s.order = append(s.order, ch.ID)
	}
	s.channels[ch.ID] = &channelRow{Channel: ch, members: members}
}

// IsMember reports whether id is a registered member.
func (s *Store) IsMember(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.members[id]
	return ok
}

// Member looks a member up.
func (s *Store) Member(id string) (Member, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[id]
	return m, ok
}

func (r *channelRow) open(memberID string) bool {
	if r.Category == domain.CategoryPublic {
		return true
	}
	for _, id := range r.members {
		if id == memberID {
			return true
		}
	}
	return false
}

// CanAccess reports whether the member may read and post in the channel.
func (s *Store) CanAccess(memberID, channelID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.channels[channelID]
	return ok && row.open(memberID)
}

// ChannelsFor lists the channels a member can see. Direct message channels
// are named after the other participant.
func (s *Store) ChannelsFor(memberID string) (domain.ChannelList, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.members[memberID]; !ok {
		return domain.ChannelList{}, ErrUnknownMember
	}

	var list domain.ChannelList
	for _, id := range s.order {
		row := s.channels[id]
		if !row.open(memberID) {
			continue
		}
		ch := row.Channel
		switch ch.Category {
		case domain.CategoryDirect:
			ch.Counterpart = s.counterpart(row, memberID)
			list.Direct = append(list.Direct, ch)
		case domain.CategoryGroup:
			list.Groups = append(list.Groups, ch)
		default:
			list.Public = append(list.Public, ch)
		}
	}
	return list, nil
}

func (s *Store) counterpart(row *channelRow, memberID string) string {
	for _, id := range row.members {
		if id != memberID {
			return s.members[id].Name
		}
	}
	return ""
}

// Recipients lists the members who can read the channel.
func (s *Store) Recipients(channelID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.channels[channelID]
	if !ok {
		return nil
	}
	if row.Category != domain.CategoryPublic {
		return append([]string(nil), row.members...)
	}
	ids := make([]string, 0, len(s.members))
	for id := range s.members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Messages returns the channel history, oldest first.
func (s *Store) Messages(memberID, channelID string) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkLocked(memberID, channelID); err != nil {
		return nil, err
	}
	stored := s.messages[channelID]
	out := make([]domain.Message, 0, len(stored))
	for _, m := range stored {
		out = append(out, s.toDomain(m))
	}
	return out, nil
}

// Append stores a message sent now.
func (s *Store) Append(channelID, senderID, body string) (domain.Message, error) {
	return s.appendAt(channelID, senderID, body, time.Time{})
}

func (s *Store) appendAt(channelID, senderID, body string, at time.Time) (domain.Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return domain.Message{}, domain.ErrEmptyMessage
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(senderID, channelID); err != nil {
		return domain.Message{}, err
	}
	if at.IsZero() {
		at = s.now()
	}
	m := storedMessage{
		ID:        ulid.MustNew(ulid.Timestamp(at), s.entropy).String(),
		ChannelID: channelID,
		SenderID:  senderID,
		Body:      body,
		CreatedAt: at,
	}
	s.messages[channelID] = append(s.messages[channelID], m)
	// A member has read everything they wrote themselves.
	s.markLocked(senderID, channelID, m.ID)
	return s.toDomain(m), nil
}

// MarkRead moves the member's watermark to the channel's newest message.
func (s *Store) MarkRead(memberID, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(memberID, channelID); err != nil {
		return err
	}
	msgs := s.messages[channelID]
	if len(msgs) > 0 {
		s.markLocked(memberID, channelID, msgs[len(msgs)-1].ID)
	}
	return nil
}

func (s *Store) markLocked(memberID, channelID, messageID string) {
	marks, ok := s.lastRead[memberID]
	if !ok {
		marks = make(map[string]string)
		s.lastRead[memberID] = marks
	}
	if messageID > marks[channelID] {
		marks[channelID] = messageID
	}
}

// UnreadPreview is one entry of a member's unread summary.
type UnreadPreview struct {
	domain.UnreadPreview
	MessageID string
}

// Unread counts the messages other members posted after the member's
// watermark and returns the newest limit of them.
func (s *Store) Unread(memberID string, limit int) (int, []UnreadPreview, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.members[memberID]; !ok {
		return 0, nil, ErrUnknownMember
	}

	var unread []UnreadPreview
	perChannel := make(map[string]int)
	for _, id := range s.order {
		row := s.channels[id]
		if !row.open(memberID) {
			continue
		}
		mark := s.lastRead[memberID][id]
		for _, m := range s.messages[id] {
			if m.ID <= mark || m.SenderID == memberID {
				continue
			}
			perChannel[id]++
			name := row.Name
			if row.Category == domain.CategoryDirect {
				name = s.members[m.SenderID].Name
			}
			unread = append(unread, UnreadPreview{
				MessageID: m.ID,
				UnreadPreview: domain.UnreadPreview{
					ChannelID:   id,
					ChannelType: row.Category,
					ChannelName: name,
					SenderID:    m.SenderID,
					SenderName:  s.members[m.SenderID].Name,
					Snippet:     m.Body,
					CreatedAt:   m.CreatedAt,
				},
			})
		}
	}

	sort.Slice(unread, func(i, j int) bool { return unread[i].MessageID > unread[j].MessageID })
	total := len(unread)
	if limit > 0 && len(unread) > limit {
		unread = unread[:limit]
	}
	for i := range unread {
		unread[i].ChannelUnread = perChannel[unread[i].ChannelID]
	}
	return total, unread, nil
}

func (s *Store) checkLocked(memberID, channelID string) error {
	if _, ok := s.members[memberID]; !ok {
		return ErrUnknownMember
	}
	row, ok := s.channels[channelID]
	if !ok {
		return ErrUnknownChannel
	}
	if !row.open(memberID) {
		return ErrForbidden
	}
	return nil
}

func (s *Store) toDomain(m storedMessage) domain.Message {
	return domain.Message{
		ID:         m.ID,
		ChannelID:  m.ChannelID,
		SenderID:   m.SenderID,
		SenderName: s.members[m.SenderID].Name,
		Body:       m.Body,
		CreatedAt:  m.CreatedAt,
	}
}
