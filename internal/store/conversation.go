package store

import (
	"slices"
	"sync"
)

type convEntry struct {
	draftKey string // counterpart user id, set only for drafts
	conv     Conversation
}

// ConversationStore is an ordered in-memory list of conversation summaries.
// Persisted conversations are unique by ID. Drafts have no ID and are unique
// by counterpart user id, so they never collide with persisted entries.
type ConversationStore struct {
	mu      sync.RWMutex
	entries []*convEntry
}

// NewConversationStore creates an empty conversation store.
func NewConversationStore() *ConversationStore {
	return &ConversationStore{}
}

// List returns a snapshot of all conversations in display order.
func (s *ConversationStore) List() []Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Conversation, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.conv.Clone())
	}
	return out
}

// Len returns the number of entries, drafts included.
func (s *ConversationStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Get returns the persisted conversation with the given id.
func (s *ConversationStore) Get(id string) (Conversation, bool) {
	if id == "" {
		return Conversation{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexOf(id); i >= 0 {
		return s.entries[i].conv.Clone(), true
	}
	return Conversation{}, false
}

// Draft returns the draft conversation with the given counterpart.
func (s *ConversationStore) Draft(userID string) (Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexOfDraft(userID); i >= 0 {
		return s.entries[i].conv.Clone(), true
	}
	return Conversation{}, false
}

// FindDirect returns a persisted one-to-one conversation that includes userID.
func (s *ConversationStore) FindDirect(userID string) (Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.entries {
		c := &e.conv
		if c.IsTemp || c.ID == "" || len(c.Participants) > 2 {
			continue
		}
		if c.HasParticipant(userID) {
			return c.Clone(), true
		}
	}
	return Conversation{}, false
}

// ReplaceAll swaps every persisted entry for convs, keeping drafts at the
// front. Duplicate ids in convs keep their first occurrence.
func (s *ConversationStore) ReplaceAll(convs []Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var next []*convEntry
	for _, e := range s.entries {
		if e.draftKey != "" {
			next = append(next, e)
		}
	}
	seen := make(map[string]bool, len(convs))
	for _, c := range convs {
		if c.ID == "" || seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		c.IsTemp = false
		next = append(next, &convEntry{conv: c.Clone()})
	}
	s.entries = next
}

// PutFront inserts c at the front of its group, or replaces the existing
// entry with the same id and moves it there. Drafts stay on top, then
// pinned conversations, then the rest.
func (s *ConversationStore) PutFront(c Conversation) {
	if c.ID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexOf(c.ID); i >= 0 {
		s.entries = append(s.entries[:i], s.entries[i+1:]...)
	}
	c.IsTemp = false
	s.insertFront(&convEntry{conv: c.Clone()})
}

// Update applies fn to the persisted conversation with the given id. It
// returns false if no such conversation exists.
func (s *ConversationStore) Update(id string, fn func(*Conversation)) bool {
	if id == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return false
	}
	fn(&s.entries[i].conv)
	s.entries[i].conv.ID = id
	if s.entries[i].conv.UnreadCount < 0 {
		s.entries[i].conv.UnreadCount = 0
	}
	return true
}

// MoveToFront moves the conversation with the given id to the front of
// its group, as PutFront does.
func (s *ConversationStore) MoveToFront(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return false
	}
	e := s.entries[i]
	s.entries = append(s.entries[:i], s.entries[i+1:]...)
	s.insertFront(e)
	return true
}

// Remove deletes the persisted conversation with the given id.
func (s *ConversationStore) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return false
	}
	s.entries = append(s.entries[:i], s.entries[i+1:]...)
	return true
}

// PutDraft inserts a draft for the given counterpart at the front and
// returns it. An existing draft for the same counterpart is returned as is.
func (s *ConversationStore) PutDraft(counterpart Participant) Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexOfDraft(counterpart.UserID); i >= 0 {
		return s.entries[i].conv.Clone()
	}
	c := Conversation{
		Participants: []Participant{counterpart},
		IsTemp:       true,
	}
	s.entries = append([]*convEntry{{draftKey: counterpart.UserID, conv: c}}, s.entries...)
	return c.Clone()
}

// RemoveDraft deletes the draft for the given counterpart.
func (s *ConversationStore) RemoveDraft(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOfDraft(userID)
	if i < 0 {
		return false
	}
	s.entries = append(s.entries[:i], s.entries[i+1:]...)
	return true
}

// PromoteDraft replaces the draft for userID with the persisted conversation
// c. If c.ID is already present, the existing entry is overwritten and the
// draft is dropped instead, so exactly one entry for c.ID remains. The
// promoted entry ends up where the draft was, or at the front.
func (s *ConversationStore) PromoteDraft(userID string, c Conversation) {
	if c.ID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c.IsTemp = false
	d := s.indexOfDraft(userID)
	if i := s.indexOf(c.ID); i >= 0 {
		s.entries = append(s.entries[:i], s.entries[i+1:]...)
		if d > i {
			d--
		}
	}
	entry := &convEntry{conv: c.Clone()}
	if d >= 0 {
		s.entries[d] = entry
		return
	}
	s.entries = append([]*convEntry{entry}, s.entries...)
}

// insertFront places a persisted entry before the first entry of its group.
func (s *ConversationStore) insertFront(e *convEntry) {
	at := len(s.entries)
	for i, o := range s.entries {
		if o.draftKey == "" && (e.conv.IsPinned || !o.conv.IsPinned) {
			at = i
			break
		}
	}
	s.entries = slices.Insert(s.entries, at, e)
}

func (s *ConversationStore) indexOf(id string) int {
	for i, e := range s.entries {
		if e.draftKey == "" && e.conv.ID == id {
			return i
		}
	}
	return -1
}

func (s *ConversationStore) indexOfDraft(userID string) int {
	for i, e := range s.entries {
		if e.draftKey != "" && e.draftKey == userID {
			return i
		}
	}
	return -1
}
