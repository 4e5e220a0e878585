package chat

import (
	"testing"

	"github.com/nfrund/fellowship/internal/domain"
	"github.com/stretchr/testify/assert"
)

func pending(id, sender, body string) domain.Message {
	m := msg(id, sender, body)
	m.Status = domain.StatusPending
	return m
}

func TestMerge(t *testing.T) {
	tests := []struct {
		name     string
		list     []domain.Message
		incoming domain.Message
		want     []string
	}{
		{
			name:     "appends unknown",
			list:     []domain.Message{msg("1", "3", "a")},
			incoming: msg("2", "3", "b"),
			want:     []string{"1", "2"},
		},
		{
			name:     "drops duplicate",
			list:     []domain.Message{msg("1", "3", "a")},
			incoming: msg("1", "3", "a"),
			want:     []string{"1"},
		},
		{
			name:     "replaces own pending in place",
			list:     []domain.Message{pending("temp-x", "7", "hey"), msg("1", "3", "a")},
			incoming: msg("9", "7", "hey"),
			want:     []string{"9", "1"},
		},
		{
			name:     "does not replace another sender's text",
			list:     []domain.Message{pending("temp-x", "7", "hey")},
			incoming: msg("9", "3", "hey"),
			want:     []string{"temp-x", "9"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ids(merge(tt.list, tt.incoming, "7")))
		})
	}
}

func TestReconcile(t *testing.T) {
	server := []domain.Message{msg("1", "3", "a"), msg("2", "7", "hey"), msg("3", "7", "hey")}

	t.Run("pending matched to newest unseen copy", func(t *testing.T) {
		local := []domain.Message{msg("1", "3", "a"), msg("2", "7", "hey"), pending("temp-x", "7", "hey")}
		assert.Equal(t, []string{"1", "2", "3"}, ids(reconcile(server, local)))
	})

	t.Run("unmatched local entries survive", func(t *testing.T) {
		local := []domain.Message{pending("temp-y", "7", "not yet stored"), msg("4", "3", "live only")}
		assert.Equal(t, []string{"1", "2", "3", "temp-y", "4"}, ids(reconcile(server, local)))
	})

	t.Run("each server message claims one entry", func(t *testing.T) {
		local := []domain.Message{pending("temp-a", "7", "hey"), pending("temp-b", "7", "hey"), pending("temp-c", "7", "hey")}
		assert.Equal(t, []string{"1", "2", "3", "temp-c"}, ids(reconcile(server, local)))
	})
}
