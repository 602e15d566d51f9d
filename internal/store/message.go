package store

import (
	"sort"
	"sync"
)

// MessageStore is the ordered message list of the open conversation. It
// never holds two entries with the same ID.
type MessageStore struct {
	mu   sync.RWMutex
	msgs []Message
}

// NewMessageStore creates an empty message store.
func NewMessageStore() *MessageStore {
	return &MessageStore{}
}

// List returns a snapshot of the messages in ascending send order.
func (s *MessageStore) List() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Message(nil), s.msgs...)
}

// Len returns the number of messages.
func (s *MessageStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.msgs)
}

// Replace swaps the contents for msgs, sorted by CreatedAt. Later duplicates
// of an ID are dropped.
func (s *MessageStore) Replace(msgs []Message) {
	next := make([]Message, 0, len(msgs))
	seen := make(map[string]bool, len(msgs))
	for _, m := range msgs {
		if m.ID != "" {
			if seen[m.ID] {
				continue
			}
			seen[m.ID] = true
		}
		next = append(next, m)
	}
	sort.SliceStable(next, func(i, j int) bool {
		return next[i].CreatedAt.Before(next[j].CreatedAt)
	})
	s.mu.Lock()
	s.msgs = next
	s.mu.Unlock()
}

// Clear removes every message.
func (s *MessageStore) Clear() {
	s.mu.Lock()
	s.msgs = nil
	s.mu.Unlock()
}

// Append adds m at the end. It returns false without changes if an entry
// with the same ID already exists.
func (s *MessageStore) Append(m Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID != "" && s.indexByID(m.ID) >= 0 {
		return false
	}
	s.msgs = append(s.msgs, m)
	return true
}

// HasID reports whether a message with the given ID is present.
func (s *MessageStore) HasID(id string) bool {
	if id == "" {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.indexByID(id) >= 0
}

// FindByTempID returns the optimistic entry with the given correlation id.
func (s *MessageStore) FindByTempID(tempID string) (Message, bool) {
	if tempID == "" {
		return Message{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexByTempID(tempID); i >= 0 {
		return s.msgs[i], true
	}
	return Message{}, false
}

// ReplaceByTempID overwrites the optimistic entry with the given correlation
// id in place. It returns false if no such entry exists or if m.ID already
// belongs to a different entry.
func (s *MessageStore) ReplaceByTempID(tempID string, m Message) bool {
	if tempID == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexByTempID(tempID)
	if i < 0 {
		return false
	}
	if m.ID != "" {
		if j := s.indexByID(m.ID); j >= 0 && j != i {
			return false
		}
	}
	s.msgs[i] = m
	return true
}

// UpdateByTempID applies fn to the optimistic entry with the given
// correlation id.
func (s *MessageStore) UpdateByTempID(tempID string, fn func(*Message)) bool {
	if tempID == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexByTempID(tempID)
	if i < 0 {
		return false
	}
	fn(&s.msgs[i])
	return true
}

// ReplaceByID overwrites the entry with the same ID as m.
func (s *MessageStore) ReplaceByID(m Message) bool {
	if m.ID == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexByID(m.ID)
	if i < 0 {
		return false
	}
	s.msgs[i] = m
	return true
}

// RemoveByID deletes the entry with the given ID.
func (s *MessageStore) RemoveByID(id string) bool {
	if id == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexByID(id)
	if i < 0 {
		return false
	}
	s.msgs = append(s.msgs[:i], s.msgs[i+1:]...)
	return true
}

// RemoveByTempID deletes the optimistic entry with the given correlation id.
func (s *MessageStore) RemoveByTempID(tempID string) bool {
	if tempID == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexByTempID(tempID)
	if i < 0 {
		return false
	}
	s.msgs = append(s.msgs[:i], s.msgs[i+1:]...)
	return true
}

func (s *MessageStore) indexByID(id string) int {
	for i := range s.msgs {
		if s.msgs[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *MessageStore) indexByTempID(tempID string) int {
	for i := range s.msgs {
		if s.msgs[i].TempID == tempID {
			return i
		}
	}
	return -1
}
