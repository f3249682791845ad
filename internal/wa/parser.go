package wa

import (
	"time"

	"github.com/matheus3301/wppsync/internal/store"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/proto/waWeb"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// ParsedMessage is a normalized message ready for ingestion.
type ParsedMessage struct {
	ChatJID     string
	MsgID       string
	SenderJID   string
	Body        string
	MessageType string
	Attachments []string
	FromMe      bool
	Edited      bool
	Read        *bool
	Timestamp   time.Time
}

// NormalizeJID strips the device suffix from a JID string. Strings that do
// not parse are returned unchanged.
func NormalizeJID(s string) string {
	if s == "" {
		return ""
	}
	jid, err := types.ParseJID(s)
	if err != nil {
		return s
	}
	return jid.ToNonAD().String()
}

// ParseLiveMessage normalizes a live whatsmeow message event. Edits keep the
// id of the message they replace.
func ParseLiveMessage(evt *events.Message) *ParsedMessage {
	id := evt.Info.ID
	if evt.IsEdit {
		if orig := editedMessageID(evt.RawMessage); orig != "" {
			id = orig
		}
	}
	return &ParsedMessage{
		ChatJID:     evt.Info.Chat.ToNonAD().String(),
		MsgID:       id,
		SenderJID:   evt.Info.Sender.ToNonAD().String(),
		Body:        extractTextBody(evt.Message),
		MessageType: detectMessageType(evt.Message),
		Attachments: extractAttachments(evt.Message),
		FromMe:      evt.Info.IsFromMe,
		Edited:      evt.IsEdit,
		Timestamp:   evt.Info.Timestamp,
	}
}

// ParseHistoryMessage normalizes a message of a history sync conversation.
// It returns nil for entries without content.
func ParseHistoryMessage(chatJID string, wmi *waWeb.WebMessageInfo) *ParsedMessage {
	if wmi == nil || wmi.GetMessage() == nil {
		return nil
	}
	msg := wmi.GetMessage()
	key := wmi.GetKey()

	sender := key.GetParticipant()
	if sender == "" && !key.GetFromMe() {
		sender = chatJID
	}
	p := &ParsedMessage{
		ChatJID:     NormalizeJID(chatJID),
		MsgID:       key.GetID(),
		SenderJID:   NormalizeJID(sender),
		Body:        extractTextBody(msg),
		MessageType: detectMessageType(msg),
		Attachments: extractAttachments(msg),
		FromMe:      key.GetFromMe(),
		Timestamp:   time.Unix(int64(wmi.GetMessageTimestamp()), 0),
	}
	if p.FromMe {
		read := wmi.GetStatus() >= waWeb.WebMessageInfo_READ
		p.Read = &read
	}
	return p
}

// ToStoreMessage converts a ParsedMessage to a messages row. Messages sent
// by the account owner carry no userID.
func (p *ParsedMessage) ToStoreMessage() *store.Message {
	ts := p.Timestamp.UTC()
	m := &store.Message{
		ID:               p.MsgID,
		ConversationID:   p.ChatJID,
		Type:             p.MessageType,
		Content:          p.Body,
		Attachments:      p.Attachments,
		IsEdited:         p.Edited,
		IsSignatureValid: true,
		Read:             p.Read,
		CreatedAt:        ts,
		UpdatedAt:        ts,
	}
	if !p.FromMe && p.SenderJID != "" {
		sender := p.SenderJID
		m.UserID = &sender
	}
	if m.Attachments == nil {
		m.Attachments = []string{}
	}
	return m
}

func editedMessageID(raw *waE2E.Message) string {
	if raw == nil {
		return ""
	}
	if inner := raw.GetDeviceSentMessage().GetMessage(); inner != nil {
		raw = inner
	}
	if pm := raw.GetProtocolMessage(); pm.GetType() == waE2E.ProtocolMessage_MESSAGE_EDIT {
		return pm.GetKey().GetID()
	}
	return ""
}

func extractTextBody(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if c := msg.GetConversation(); c != "" {
		return c
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	if img := msg.GetImageMessage(); img != nil {
		return img.GetCaption()
	}
	if vid := msg.GetVideoMessage(); vid != nil {
		return vid.GetCaption()
	}
	if doc := msg.GetDocumentMessage(); doc != nil {
		return doc.GetCaption()
	}
	return ""
}

// extractAttachments returns the media direct paths of a message.
func extractAttachments(msg *waE2E.Message) []string {
	if msg == nil {
		return []string{}
	}
	var paths []string
	for _, p := range []string{
		msg.GetImageMessage().GetDirectPath(),
		msg.GetVideoMessage().GetDirectPath(),
		msg.GetAudioMessage().GetDirectPath(),
		msg.GetDocumentMessage().GetDirectPath(),
		msg.GetStickerMessage().GetDirectPath(),
	} {
		if p != "" {
			paths = append(paths, p)
		}
	}
	if paths == nil {
		return []string{}
	}
	return paths
}

func detectMessageType(msg *waE2E.Message) string {
	if msg == nil {
		return "unknown"
	}
	switch {
	case msg.GetConversation() != "" || msg.GetExtendedTextMessage() != nil:
		return "text"
	case msg.GetImageMessage() != nil:
		return "image"
	case msg.GetVideoMessage() != nil:
		return "video"
	case msg.GetAudioMessage() != nil:
		return "audio"
	case msg.GetDocumentMessage() != nil:
		return "document"
	case msg.GetStickerMessage() != nil:
		return "sticker"
	case msg.GetContactMessage() != nil:
		return "contact"
	case msg.GetLocationMessage() != nil:
		return "location"
	default:
		return "unknown"
	}
}
