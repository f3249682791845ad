package sync

import (
	"context"
	"fmt"

	"github.com/matheus3301/wppsync/internal/bus"
	"github.com/matheus3301/wppsync/internal/store"
	"go.uber.org/zap"
)

// DefaultEncryptionParameters is stored for conversations first seen through
// a message.
const DefaultEncryptionParameters = `{"protocol":"signal"}`

// Engine handles idempotent ingestion of messages into the store.
// It subscribes to "wa.*" events on the bus and processes them.
type Engine struct {
	src        DBSource
	reconciler *Reconciler
	bus        *bus.Bus
	logger     *zap.Logger
	cancel     context.CancelFunc
}

// NewEngine creates a new sync engine.
func NewEngine(src DBSource, b *bus.Bus, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		src:        src,
		reconciler: NewReconciler(src, logger),
		bus:        b,
		logger:     logger,
	}
}

// Start subscribes to inbound protocol events on the bus.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	ch, unsub := e.bus.Subscribe("wa.", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handleEvent(ctx, evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Engine) handleEvent(ctx context.Context, evt bus.Event) {
	switch evt.Kind {
	case "wa.message":
		msg, ok := evt.Payload.(*store.Message)
		if !ok {
			return
		}
		if err := e.IngestMessage(ctx, msg); err != nil {
			e.logger.Error("failed to ingest message", zap.Error(err), zap.String("message_id", msg.ID))
		}
	case "wa.history_batch":
		msgs, ok := evt.Payload.([]*store.Message)
		if !ok {
			return
		}
		if err := e.IngestHistoryBatch(ctx, msgs); err != nil {
			e.logger.Error("failed to ingest history batch", zap.Error(err), zap.Int("count", len(msgs)))
		} else {
			e.logger.Info("history batch ingested", zap.Int("messages", len(msgs)))
		}
	}
}

// IngestMessage stores a live message (idempotent on message id), creating
// its conversation when missing.
func (e *Engine) IngestMessage(ctx context.Context, msg *store.Message) error {
	db, err := e.src.DB()
	if err != nil {
		return err
	}
	if err := db.EnsureConversation(ctx, msg.ConversationID, DefaultEncryptionParameters); err != nil {
		return fmt.Errorf("ensure conversation: %w", err)
	}
	if err := db.UpsertMessage(ctx, msg); err != nil {
		return fmt.Errorf("upsert message: %w", err)
	}
	if err := e.reconciler.Commit(ctx, CheckpointLive, msg); err != nil {
		return err
	}

	e.bus.Publish(bus.NewEvent("message.upserted", map[string]string{
		"conversation_id": msg.ConversationID,
		"message_id":      msg.ID,
	}))
	return nil
}

// IngestHistoryBatch stores a batch of history messages in one transaction
// and advances the history checkpoint of every conversation it touched.
func (e *Engine) IngestHistoryBatch(ctx context.Context, msgs []*store.Message) error {
	db, err := e.src.DB()
	if err != nil {
		return err
	}

	newest := make(map[string]*store.Message)
	err = db.Batch(ctx, func(tx *store.Tx) error {
		for _, m := range msgs {
			if err := tx.EnsureConversation(ctx, m.ConversationID, DefaultEncryptionParameters); err != nil {
				return fmt.Errorf("ensure conversation in batch: %w", err)
			}
			if err := tx.UpsertMessage(ctx, m); err != nil {
				return fmt.Errorf("upsert message in batch: %w", err)
			}
			if cur, ok := newest[m.ConversationID]; !ok || m.CreatedAt.After(cur.CreatedAt) {
				newest[m.ConversationID] = m
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, m := range newest {
		if err := e.reconciler.Commit(ctx, CheckpointHistory, m); err != nil {
			return err
		}
	}

	e.bus.Publish(bus.NewEvent("sync.history_batch", map[string]int{
		"messages_count":      len(msgs),
		"conversations_count": len(newest),
	}))
	return nil
}
