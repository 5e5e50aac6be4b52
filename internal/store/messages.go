package store

import (
	"sort"

	"github.com/dyluth/sortie/pkg/blackboard"
)

// AppendMessage optimistically appends a message at the tail of the history.
func (s *Store) AppendMessage(m *blackboard.ChatMessage) {
	s.mu.Lock()
	if s.messageIndex(m.ID) < 0 {
		s.messages = append(s.messages, copyMessage(m))
	}
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeMessages, ID: m.ID})
}

// ReconcileMessage replaces the message with the same ID by its persisted copy (or adds
// it) and restores canonical order by server timestamp. Reactions already known locally
// are kept when the persisted copy carries none.
func (s *Store) ReconcileMessage(m *blackboard.ChatMessage) {
	if m.TeamID != s.teamID {
		return
	}

	s.mu.Lock()
	c := copyMessage(m)
	if i := s.messageIndex(m.ID); i >= 0 {
		if len(c.Reactions) == 0 {
			c.Reactions = s.messages[i].Reactions
		}
		s.messages[i] = c
	} else {
		s.messages = append(s.messages, c)
	}
	sortMessages(s.messages)
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeMessages, ID: m.ID})
}

// ReplaceMessages discards the local history and loads msgs, as after a wholesale refetch.
// Optimistic messages not yet persisted are kept at the tail.
func (s *Store) ReplaceMessages(msgs []*blackboard.ChatMessage) {
	s.mu.Lock()
	fresh := make(map[string]bool, len(msgs))
	next := make([]*blackboard.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		fresh[m.ID] = true
		next = append(next, copyMessage(m))
	}
	sortMessages(next)
	for _, m := range s.messages {
		if !fresh[m.ID] && m.CreatedAtMs > lastTimestamp(next) {
			next = append(next, m)
		}
	}
	s.messages = next
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeMessages})
}

// DropMessage removes a message, used when a send failed.
func (s *Store) DropMessage(id string) {
	s.mu.Lock()
	if i := s.messageIndex(id); i >= 0 {
		s.messages = append(s.messages[:i], s.messages[i+1:]...)
	}
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeMessages, ID: id})
}

func (s *Store) messageIndex(id string) int {
	for i, m := range s.messages {
		if m.ID == id {
			return i
		}
	}
	return -1
}

func sortMessages(msgs []*blackboard.ChatMessage) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAtMs < msgs[j].CreatedAtMs
	})
}

func lastTimestamp(msgs []*blackboard.ChatMessage) int64 {
	if len(msgs) == 0 {
		return 0
	}
	return msgs[len(msgs)-1].CreatedAtMs
}

func copyMessage(m *blackboard.ChatMessage) *blackboard.ChatMessage {
	c := *m
	c.Reactions = append([]blackboard.ReactionSummary(nil), m.Reactions...)
	return &c
}
