package wa

import (
	"testing"
	"time"

	"go.mau.fi/whatsmeow/proto/waCommon"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/proto/waWeb"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

func TestExtractTextBody(t *testing.T) {
	tests := []struct {
		name string
		msg  *waE2E.Message
		want string
	}{
		{"nil message", nil, ""},
		{"conversation", &waE2E.Message{Conversation: proto.String("hello")}, "hello"},
		{"extended text", &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("extended")}}, "extended"},
		{"image (no text)", &waE2E.Message{ImageMessage: &waE2E.ImageMessage{}}, ""},
		{"image caption", &waE2E.Message{ImageMessage: &waE2E.ImageMessage{Caption: proto.String("look")}}, "look"},
		{"empty conversation", &waE2E.Message{Conversation: proto.String("")}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractTextBody(tt.msg)
			if got != tt.want {
				t.Errorf("extractTextBody() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDetectMessageType(t *testing.T) {
	tests := []struct {
		name string
		msg  *waE2E.Message
		want string
	}{
		{"nil", nil, "unknown"},
		{"text conversation", &waE2E.Message{Conversation: proto.String("hi")}, "text"},
		{"extended text", &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("hi")}}, "text"},
		{"image", &waE2E.Message{ImageMessage: &waE2E.ImageMessage{}}, "image"},
		{"video", &waE2E.Message{VideoMessage: &waE2E.VideoMessage{}}, "video"},
		{"audio", &waE2E.Message{AudioMessage: &waE2E.AudioMessage{}}, "audio"},
		{"document", &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{}}, "document"},
		{"sticker", &waE2E.Message{StickerMessage: &waE2E.StickerMessage{}}, "sticker"},
		{"contact", &waE2E.Message{ContactMessage: &waE2E.ContactMessage{}}, "contact"},
		{"location", &waE2E.Message{LocationMessage: &waE2E.LocationMessage{}}, "location"},
		{"empty message", &waE2E.Message{}, "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := detectMessageType(tt.msg)
			if got != tt.want {
				t.Errorf("detectMessageType() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseLiveMessage(t *testing.T) {
	ts := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	evt := &events.Message{
		Info: types.MessageInfo{
			PushName:  "Alice",
			Timestamp: ts,
			MessageSource: types.MessageSource{
				Chat:     types.JID{User: "chat", Server: "s.whatsapp.net"},
				Sender:   types.JID{User: "sender", Server: "s.whatsapp.net"},
				IsFromMe: true,
			},
			ID: "MSG123",
		},
		Message: &waE2E.Message{Conversation: proto.String("hello world")},
	}

	parsed := ParseLiveMessage(evt)

	if parsed.ChatJID != "chat@s.whatsapp.net" {
		t.Errorf("ChatJID = %q, want chat@s.whatsapp.net", parsed.ChatJID)
	}
	if parsed.MsgID != "MSG123" {
		t.Errorf("MsgID = %q, want MSG123", parsed.MsgID)
	}
	if parsed.SenderJID != "sender@s.whatsapp.net" {
		t.Errorf("SenderJID = %q, want sender@s.whatsapp.net", parsed.SenderJID)
	}
	if parsed.Body != "hello world" {
		t.Errorf("Body = %q, want hello world", parsed.Body)
	}
	if parsed.MessageType != "text" {
		t.Errorf("MessageType = %q, want text", parsed.MessageType)
	}
	if !parsed.FromMe {
		t.Error("FromMe = false, want true")
	}
	if !parsed.Timestamp.Equal(ts) {
		t.Errorf("Timestamp = %v, want %v", parsed.Timestamp, ts)
	}
}

func TestParseLiveMessageEdit(t *testing.T) {
	evt := &events.Message{
		Info: types.MessageInfo{
			ID:        "EDIT1",
			Timestamp: time.Now(),
			MessageSource: types.MessageSource{
				Chat:   types.JID{User: "chat", Server: "s.whatsapp.net"},
				Sender: types.JID{User: "sender", Server: "s.whatsapp.net"},
			},
		},
		Message: &waE2E.Message{Conversation: proto.String("fixed")},
		IsEdit:  true,
		RawMessage: &waE2E.Message{
			ProtocolMessage: &waE2E.ProtocolMessage{
				Type: waE2E.ProtocolMessage_MESSAGE_EDIT.Enum(),
				Key:  &waCommon.MessageKey{ID: proto.String("ORIG1")},
			},
		},
	}

	parsed := ParseLiveMessage(evt)
	if parsed.MsgID != "ORIG1" {
		t.Errorf("MsgID = %q, want ORIG1 (edits replace the original)", parsed.MsgID)
	}
	if !parsed.Edited {
		t.Error("Edited = false, want true")
	}
	if sm := parsed.ToStoreMessage(); !sm.IsEdited || sm.Content != "fixed" {
		t.Errorf("store message = %+v", sm)
	}
}

func TestToStoreMessage(t *testing.T) {
	ts := time.UnixMilli(42000)
	p := &ParsedMessage{
		ChatJID:     "chat@s",
		MsgID:       "m1",
		SenderJID:   "sender@s",
		Body:        "test",
		MessageType: "text",
		FromMe:      false,
		Timestamp:   ts,
	}

	sm := p.ToStoreMessage()

	if sm.ID != "m1" || sm.ConversationID != "chat@s" {
		t.Errorf("ID/ConversationID = %q/%q", sm.ID, sm.ConversationID)
	}
	if sm.UserID == nil || *sm.UserID != "sender@s" {
		t.Errorf("UserID = %v, want sender@s", sm.UserID)
	}
	if sm.Content != "test" || sm.Type != "text" {
		t.Errorf("Content/Type = %q/%q", sm.Content, sm.Type)
	}
	if sm.Attachments == nil {
		t.Error("Attachments must not be nil")
	}
	if !sm.CreatedAt.Equal(ts) || sm.CreatedAt.Location() != time.UTC {
		t.Errorf("CreatedAt = %v, want %v in UTC", sm.CreatedAt, ts)
	}
	if sm.Read != nil {
		t.Errorf("Read = %v, want nil for received live messages", *sm.Read)
	}
}

func TestToStoreMessageFromMeHasNoUser(t *testing.T) {
	p := &ParsedMessage{ChatJID: "chat@s", MsgID: "m1", SenderJID: "me@s", FromMe: true, Timestamp: time.Now()}
	if sm := p.ToStoreMessage(); sm.UserID != nil {
		t.Errorf("UserID = %q, want nil for own messages", *sm.UserID)
	}
}

// TestNormalizeJID verifies that device/agent suffixes are stripped.
// Regression: history sync and live messages produced different JIDs for the
// same contact (e.g. "558592403672:0@s.whatsapp.net" vs "558592403672@s.whatsapp.net"),
// creating duplicate conversations in the database.
func TestNormalizeJID(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"558592403672@s.whatsapp.net", "558592403672@s.whatsapp.net"},
		{"558592403672:0@s.whatsapp.net", "558592403672@s.whatsapp.net"},
		{"558592403672:5@s.whatsapp.net", "558592403672@s.whatsapp.net"},
		{"120363123456@g.us", "120363123456@g.us"},
		{"", ""},
		{"invalid", "invalid"},
		// LID JIDs: NormalizeJID alone cannot resolve these (needs adapter),
		// but it must not crash and should preserve them as-is.
		{"3917077286968@lid", "3917077286968@lid"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := NormalizeJID(tt.input)
			if got != tt.want {
				t.Errorf("NormalizeJID(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// TestParseLiveMessageStripsDeviceSuffix verifies that live messages from
// device-specific JIDs are normalized to the canonical user JID.
func TestParseLiveMessageStripsDeviceSuffix(t *testing.T) {
	evt := &events.Message{
		Info: types.MessageInfo{
			ID:        "M1",
			Timestamp: time.Now(),
			MessageSource: types.MessageSource{
				Chat:   types.JID{User: "558592403672", Server: "s.whatsapp.net", Device: 1},
				Sender: types.JID{User: "558592403672", Server: "s.whatsapp.net", Device: 3},
			},
		},
		Message: &waE2E.Message{Conversation: proto.String("hi")},
	}

	parsed := ParseLiveMessage(evt)
	if parsed.ChatJID != "558592403672@s.whatsapp.net" {
		t.Errorf("ChatJID = %q, want 558592403672@s.whatsapp.net (device suffix not stripped)", parsed.ChatJID)
	}
	if parsed.SenderJID != "558592403672@s.whatsapp.net" {
		t.Errorf("SenderJID = %q, want 558592403672@s.whatsapp.net (device suffix not stripped)", parsed.SenderJID)
	}
}

func TestParseLiveMessageImageType(t *testing.T) {
	evt := &events.Message{
		Info: types.MessageInfo{
			ID:        "IMG1",
			Timestamp: time.Now(),
			MessageSource: types.MessageSource{
				Chat:   types.JID{User: "c", Server: "s"},
				Sender: types.JID{User: "s", Server: "s"},
			},
		},
		Message: &waE2E.Message{ImageMessage: &waE2E.ImageMessage{DirectPath: proto.String("/v/t62/img")}},
	}

	parsed := ParseLiveMessage(evt)
	if parsed.MessageType != "image" {
		t.Errorf("MessageType = %q, want image", parsed.MessageType)
	}
	if parsed.Body != "" {
		t.Errorf("Body = %q, want empty for image", parsed.Body)
	}
	if len(parsed.Attachments) != 1 || parsed.Attachments[0] != "/v/t62/img" {
		t.Errorf("Attachments = %v, want [/v/t62/img]", parsed.Attachments)
	}
}

func TestParseHistoryMessage(t *testing.T) {
	ts := uint64(1700000000)

	t.Run("one to one", func(t *testing.T) {
		p := ParseHistoryMessage("558592403672:0@s.whatsapp.net", &waWeb.WebMessageInfo{
			Key: &waCommon.MessageKey{
				ID:     proto.String("h1"),
				FromMe: proto.Bool(false),
			},
			MessageTimestamp: &ts,
			Message:          &waE2E.Message{Conversation: proto.String("old")},
		})
		if p == nil {
			t.Fatal("nil parse")
		}
		if p.ChatJID != "558592403672@s.whatsapp.net" || p.SenderJID != p.ChatJID {
			t.Errorf("chat/sender = %q/%q, want the normalized chat for both", p.ChatJID, p.SenderJID)
		}
		if !p.Timestamp.Equal(time.Unix(int64(ts), 0)) {
			t.Errorf("Timestamp = %v", p.Timestamp)
		}
		if p.Read != nil {
			t.Error("Read set on a received message")
		}
	})

	t.Run("own read message", func(t *testing.T) {
		p := ParseHistoryMessage("chat@s.whatsapp.net", &waWeb.WebMessageInfo{
			Key:              &waCommon.MessageKey{ID: proto.String("h2"), FromMe: proto.Bool(true)},
			MessageTimestamp: &ts,
			Status:           waWeb.WebMessageInfo_READ.Enum(),
			Message:          &waE2E.Message{Conversation: proto.String("mine")},
		})
		if p.Read == nil || !*p.Read {
			t.Errorf("Read = %v, want true", p.Read)
		}
		if sm := p.ToStoreMessage(); sm.UserID != nil {
			t.Error("own history message has a userID")
		}
	})

	t.Run("no content", func(t *testing.T) {
		if p := ParseHistoryMessage("chat@s.whatsapp.net", &waWeb.WebMessageInfo{
			Key: &waCommon.MessageKey{ID: proto.String("h3")},
		}); p != nil {
			t.Errorf("got %+v, want nil", p)
		}
	})
}
