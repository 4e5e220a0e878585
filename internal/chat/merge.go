package chat

import "github.com/nfrund/fellowship/internal/domain"

func indexOf(msgs []domain.Message, id string) int {
	for i, m := range msgs {
		if m.ID == id {
			return i
		}
	}
	return -1
}

// merge folds one realtime message into the list. A known id is a duplicate.
// The member's own unsettled entry with the same body is replaced in place,
// anything else is appended.
func merge(msgs []domain.Message, incoming domain.Message, memberID string) []domain.Message {
	if indexOf(msgs, incoming.ID) >= 0 {
		return msgs
	}
	if incoming.SenderID == memberID {
		for i, m := range msgs {
			if !m.Settled() && m.SameContent(incoming) {
				msgs[i] = incoming
				return msgs
			}
		}
	}
	return append(msgs, incoming)
}

// reconcile builds the list after a history fetch: the server's list in its
// order, followed by local entries it does not contain. An unsettled local
// entry is dropped when the fetch holds a new message with the same sender
// and body, which is its persisted copy.
func reconcile(server, local []domain.Message) []domain.Message {
	out := make([]domain.Message, len(server), len(server)+len(local))
	copy(out, server)

	serverIDs := make(map[string]bool, len(server))
	for _, m := range server {
		serverIDs[m.ID] = true
	}
	known := make(map[string]bool, len(local))
	for _, m := range local {
		known[m.ID] = true
	}
	claimed := make(map[int]bool)

	for _, l := range local {
		if serverIDs[l.ID] {
			continue
		}
		if !l.Settled() {
			if j := persistedCopy(server, l, known, claimed); j >= 0 {
				claimed[j] = true
				continue
			}
		}
		out = append(out, l)
	}
	return out
}

// persistedCopy searches newest first for an unclaimed server message that
// was not already on screen and matches l.
func persistedCopy(server []domain.Message, l domain.Message, known map[string]bool, claimed map[int]bool) int {
	for j := len(server) - 1; j >= 0; j-- {
		if claimed[j] || known[server[j].ID] {
			continue
		}
		if l.SameContent(server[j]) {
			return j
		}
	}
	return -1
}
