package cache

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/matheus3301/chatsync/internal/store"
)

// SaveConversations replaces the cached conversation list with convs.
// Drafts are skipped since they only live for one session.
func (db *DB) SaveConversations(convs []store.Conversation) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM conversations`); err != nil {
		return fmt.Errorf("clear conversations: %w", err)
	}

	now := time.Now().UnixMilli()
	pos := 0
	for _, c := range convs {
		if c.IsTemp || c.ID == "" {
			continue
		}
		payload, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("encode conversation %s: %w", c.ID, err)
		}
		if _, err := tx.Exec(`
			INSERT INTO conversations (id, position, payload, last_message_at, is_pinned, is_archived, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING`,
			c.ID, pos, string(payload), c.LastMessageAt.UnixMilli(), c.IsPinned, c.IsArchived, now); err != nil {
			return fmt.Errorf("insert conversation %s: %w", c.ID, err)
		}
		pos++
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit conversations: %w", err)
	}
	return nil
}

// LoadConversations returns the cached conversation list in saved order.
func (db *DB) LoadConversations() ([]store.Conversation, error) {
	rows, err := db.Query(`SELECT payload FROM conversations ORDER BY position ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []store.Conversation
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var c store.Conversation
		if err := json.Unmarshal([]byte(payload), &c); err != nil {
			return nil, fmt.Errorf("decode cached conversation: %w", err)
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}
