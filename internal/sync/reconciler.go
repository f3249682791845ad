package sync

import (
	"context"
	"fmt"

	"github.com/matheus3301/wppsync/internal/store"
	"go.uber.org/zap"
)

// Checkpoint types, one row per conversation and type.
const (
	CheckpointLive    = "live"
	CheckpointHistory = "history"
)

// DBSource hands out the current store connection. The connection changes
// when the store is purged and initialized again.
type DBSource interface {
	DB() (*store.DB, error)
}

// Reconciler manages per-conversation message commit checkpoints.
type Reconciler struct {
	src    DBSource
	logger *zap.Logger
}

// NewReconciler creates a new reconciler.
func NewReconciler(src DBSource, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{src: src, logger: logger}
}

// Commit advances the checkpoint of msg's conversation to msg unless a newer
// commit of the same type is already recorded.
func (r *Reconciler) Commit(ctx context.Context, typ string, msg *store.Message) error {
	db, err := r.src.DB()
	if err != nil {
		return err
	}
	advanced, err := db.AdvanceCheckpoint(ctx, &store.Checkpoint{
		MessageCommitID: msg.ID,
		ConversationID:  msg.ConversationID,
		Type:            typ,
		Date:            msg.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("advance %s checkpoint: %w", typ, err)
	}
	if advanced {
		r.logger.Debug("checkpoint advanced",
			zap.String("conversation_id", msg.ConversationID),
			zap.String("type", typ),
			zap.String("message_id", msg.ID))
	}
	return nil
}

// Checkpoint returns the latest checkpoint of a conversation, or nil.
func (r *Reconciler) Checkpoint(ctx context.Context, conversationID, typ string) (*store.Checkpoint, error) {
	db, err := r.src.DB()
	if err != nil {
		return nil, err
	}
	return db.LatestCheckpoint(ctx, conversationID, typ)
}
