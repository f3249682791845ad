package wa

import (
	"context"

	"github.com/matheus3301/wppsync/internal/app"
	"github.com/matheus3301/wppsync/internal/bus"
	"github.com/matheus3301/wppsync/internal/store"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
)

// PresenceChange is the payload of presence.changed events.
type PresenceChange struct {
	UserID string
	Online bool
}

// EventHandler processes whatsmeow events. Presence and profile picture
// events update the caches directly; messages are published on the bus
// as wa.* events for the sync engine.
type EventHandler struct {
	app     *app.App
	adapter *Adapter
	logger  *zap.Logger
}

// NewEventHandler creates a new event handler. adapter may be nil, in which
// case LID JIDs are not resolved.
func NewEventHandler(a *app.App, adapter *Adapter, logger *zap.Logger) *EventHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventHandler{
		app:     a,
		adapter: adapter,
		logger:  logger,
	}
}

// Handle is the main whatsmeow event handler function.
func (h *EventHandler) Handle(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.Message:
		h.handleMessage(evt)
	case *events.Connected:
		h.handleConnected()
	case *events.Disconnected:
		h.logger.Warn("WhatsApp disconnected")
		h.app.Presence.ResetAll()
		h.app.Bus.Publish(bus.NewEvent("sync.disconnected", nil))
	case *events.HistorySync:
		h.handleHistorySync(evt)
	case *events.LoggedOut:
		h.logger.Warn("WhatsApp logged out", zap.String("reason", evt.Reason.String()))
		h.app.Bus.Publish(bus.NewEvent("session.logged_out", evt.Reason.String()))
	case *events.Presence:
		h.handlePresence(evt)
	case *events.Picture:
		h.handlePicture(evt)
	}
}

func (h *EventHandler) handleConnected() {
	h.logger.Info("WhatsApp connected")
	snapshot := map[string]bool{}
	if h.adapter != nil {
		if own := h.adapter.OwnJID(); !own.IsEmpty() {
			snapshot[own.String()] = true
		}
	}
	if err := h.app.Presence.SetBulkOnlineStatus(snapshot, true); err != nil {
		h.logger.Warn("failed to reset presence", zap.Error(err))
	}
	h.app.Bus.Publish(bus.NewEvent("sync.connected", nil))
}

func (h *EventHandler) handlePresence(evt *events.Presence) {
	id := h.resolveJID(evt.From.String())
	online := !evt.Unavailable
	if err := h.app.Presence.SetOnlineStatus(id, online); err != nil {
		h.logger.Debug("ignoring presence", zap.String("jid", id), zap.Error(err))
		return
	}
	h.app.Bus.Publish(bus.NewEvent("presence.changed", PresenceChange{UserID: id, Online: online}))
}

// handlePicture refreshes a cached profile picture. Users never looked up
// stay uncached.
func (h *EventHandler) handlePicture(evt *events.Picture) {
	id := h.resolveJID(evt.JID.String())
	if !h.app.Avatars.Has(id) {
		return
	}
	if evt.Remove {
		_ = h.app.Avatars.Remove(id)
		return
	}
	if h.app.Loader == nil {
		_ = h.app.Avatars.Remove(id)
		return
	}
	if err := h.app.Loader.Reload(id); err != nil {
		h.logger.Warn("failed to reload profile picture", zap.String("jid", id), zap.Error(err))
	}
}

func (h *EventHandler) handleMessage(evt *events.Message) {
	parsed := ParseLiveMessage(evt)
	parsed.ChatJID = h.resolveJID(parsed.ChatJID)
	if parsed.SenderJID != "" {
		parsed.SenderJID = h.resolveJID(parsed.SenderJID)
	}
	h.app.Bus.Publish(bus.NewEvent("wa.message", parsed.ToStoreMessage()))
}

func (h *EventHandler) handleHistorySync(evt *events.HistorySync) {
	data := evt.Data
	if data == nil {
		return
	}

	var msgs []*store.Message
	for _, conv := range data.GetConversations() {
		chatJID := h.resolveJID(conv.GetID())
		for _, hm := range conv.GetMessages() {
			parsed := ParseHistoryMessage(chatJID, hm.GetMessage())
			if parsed == nil {
				continue
			}
			if parsed.SenderJID != "" {
				parsed.SenderJID = h.resolveJID(parsed.SenderJID)
			}
			msgs = append(msgs, parsed.ToStoreMessage())
		}
	}

	if len(msgs) > 0 {
		h.app.Bus.Publish(bus.NewEvent("wa.history_batch", msgs))
	}
}

// resolveJID normalizes a JID string and maps LIDs to phone number JIDs when
// an adapter is available.
func (h *EventHandler) resolveJID(s string) string {
	normalized := NormalizeJID(s)
	if h.adapter == nil {
		return normalized
	}
	jid, err := types.ParseJID(normalized)
	if err != nil {
		return normalized
	}
	return h.adapter.ResolveLID(context.Background(), jid).ToNonAD().String()
}
