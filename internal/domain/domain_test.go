package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChannelList_FindAndAll(t *testing.T) {
	list := ChannelList{
		Public: []Channel{{ID: "1", Name: "General", Category: CategoryPublic}},
		Groups: []Channel{{ID: "2", Name: "Youth Group", Category: CategoryGroup}},
		Direct: []Channel{{ID: "3", Name: "dm-3", Category: CategoryDirect, Counterpart: "Ruth Miller"}},
	}

	assert.Equal(t, 3, list.Len())
	all := list.All()
	assert.Equal(t, []string{"1", "2", "3"}, []string{all[0].ID, all[1].ID, all[2].ID})

	ch, ok := list.Find("3")
	assert.True(t, ok)
	assert.Equal(t, "Ruth Miller", ch.Label())
	assert.Equal(t, "RM", ch.Badge())

	_, ok = list.Find("missing")
	assert.False(t, ok)
}

func TestInitials(t *testing.T) {
	assert.Equal(t, "YG", Initials("youth group"))
	assert.Equal(t, "G", Initials("General"))
	assert.Equal(t, "MB", Initials("Men's Bible study"))
	assert.Equal(t, "", Initials("   "))
}

func TestMessage_Temporary(t *testing.T) {
	m := Message{ID: TempIDPrefix + "123", SenderID: "7", Body: " hello ", Status: StatusPending}
	assert.True(t, m.IsTemporary())
	assert.False(t, m.Settled())
	assert.True(t, m.SameContent(Message{ID: "99", SenderID: "7", Body: "hello"}))
	assert.False(t, m.SameContent(Message{ID: "99", SenderID: "8", Body: "hello"}))
	assert.Equal(t, "pending", m.Status.String())
}

func TestUnreadSummary_Badge(t *testing.T) {
	assert.Equal(t, "", UnreadSummary{}.Badge())
	assert.Equal(t, "7", UnreadSummary{Total: 7}.Badge())
	assert.Equal(t, "99+", UnreadSummary{Total: 120}.Badge())
}

func TestIdentity(t *testing.T) {
	assert.False(t, Identity{}.Valid())
	assert.Equal(t, "42", Identity{MemberID: "42"}.Name())
	assert.Equal(t, "Anna", Identity{MemberID: "42", DisplayName: "Anna"}.Name())
}
