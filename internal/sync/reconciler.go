package sync

import (
	"github.com/matheus3301/chatsync/internal/cache"
	"github.com/matheus3301/chatsync/internal/logging"
	"github.com/matheus3301/chatsync/internal/store"
	"go.uber.org/zap"
)

// CheckpointActive is the sync_state key holding the last selected
// conversation id.
const CheckpointActive = "active_conversation"

// Reconciler mirrors the conversation list and the active selection into
// the local cache so a restarted daemon can show something before the
// first fetch returns. Cache failures are logged and never surfaced.
// A nil *Reconciler does nothing.
type Reconciler struct {
	db     *cache.DB
	logger *zap.Logger
}

// NewReconciler creates a reconciler over db.
func NewReconciler(db *cache.DB, logger *zap.Logger) *Reconciler {
	return &Reconciler{db: db, logger: logging.OrNop(logger).Named("reconciler")}
}

// Hydrate fills an empty conversation store from the cache and returns the
// number of conversations loaded.
func (r *Reconciler) Hydrate(convs *store.ConversationStore) int {
	if r == nil || convs.Len() > 0 {
		return 0
	}
	cached, err := r.db.LoadConversations()
	if err != nil {
		r.logger.Warn("failed to load cached conversations", zap.Error(err))
		return 0
	}
	convs.ReplaceAll(cached)
	return len(cached)
}

// SaveConversations replaces the cached snapshot.
func (r *Reconciler) SaveConversations(convs []store.Conversation) {
	if r == nil {
		return
	}
	if err := r.db.SaveConversations(convs); err != nil {
		r.logger.Warn("failed to cache conversations", zap.Error(err))
	}
}

// SaveActive records the selected conversation id. Drafts are stored as "".
func (r *Reconciler) SaveActive(id string) {
	if r == nil {
		return
	}
	if err := r.db.SetCheckpoint(CheckpointActive, id); err != nil {
		r.logger.Warn("failed to checkpoint active conversation", zap.Error(err))
	}
}

// LastActive returns the last recorded selection.
func (r *Reconciler) LastActive() string {
	if r == nil {
		return ""
	}
	id, _, err := r.db.Checkpoint(CheckpointActive)
	if err != nil {
		r.logger.Warn("failed to read active checkpoint", zap.Error(err))
		return ""
	}
	return id
}
