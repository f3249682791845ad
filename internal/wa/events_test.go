package wa

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/wppsync/internal/app"
	"github.com/matheus3301/wppsync/internal/avatar"
	"github.com/matheus3301/wppsync/internal/bus"
	"github.com/matheus3301/wppsync/internal/presence"
	"github.com/matheus3301/wppsync/internal/store"
	"go.mau.fi/whatsmeow/proto/waCommon"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/proto/waHistorySync"
	"go.mau.fi/whatsmeow/proto/waWeb"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
)

type stubFetcher struct {
	mu    sync.Mutex
	calls []string
}

func (f *stubFetcher) FetchProfilePicture(_ context.Context, id string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, id)
	return "https://pps.example/" + id, nil
}

func (f *stubFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func testApp(t *testing.T) (*app.App, *stubFetcher) {
	t.Helper()
	fetcher := &stubFetcher{}
	avatars := avatar.NewRepository()
	a := &app.App{
		Bus:      bus.New(),
		Presence: presence.NewRepository(),
		Avatars:  avatars,
		Loader:   avatar.NewLoader(avatars, fetcher, zap.NewNop()),
		Logger:   zap.NewNop(),
	}
	return a, fetcher
}

func expectEvent(t *testing.T, ch <-chan bus.Event, kind string) bus.Event {
	t.Helper()
	select {
	case evt := <-ch:
		if evt.Kind != kind {
			t.Fatalf("event kind = %q, want %s", evt.Kind, kind)
		}
		return evt
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for %s event", kind)
	}
	return bus.Event{}
}

func TestHandleConnectedResetsPresence(t *testing.T) {
	a, _ := testApp(t)
	h := NewEventHandler(a, nil, zap.NewNop())

	_ = a.Presence.SetOnlineStatus("alice@s.whatsapp.net", true)

	ch, unsub := a.Bus.Subscribe("sync.", 10)
	defer unsub()

	h.Handle(&events.Connected{})

	if a.Presence.IsOnline("alice@s.whatsapp.net") {
		t.Error("stale online flag survived reconnect")
	}
	if !a.Presence.IsTracked("alice@s.whatsapp.net") {
		t.Error("reset should keep users tracked")
	}
	expectEvent(t, ch, "sync.connected")
}

func TestHandleDisconnected(t *testing.T) {
	a, _ := testApp(t)
	h := NewEventHandler(a, nil, zap.NewNop())

	_ = a.Presence.SetBulkOnlineStatus(map[string]bool{"a@s.whatsapp.net": true, "b@s.whatsapp.net": true}, false)

	ch, unsub := a.Bus.Subscribe("sync.", 10)
	defer unsub()

	h.Handle(&events.Disconnected{})

	for _, id := range a.Presence.TrackedIDs() {
		if a.Presence.IsOnline(id) {
			t.Errorf("%s still online after disconnect", id)
		}
	}
	expectEvent(t, ch, "sync.disconnected")
}

func TestHandleLoggedOut(t *testing.T) {
	a, _ := testApp(t)
	h := NewEventHandler(a, nil, zap.NewNop())

	ch, unsub := a.Bus.Subscribe("session.", 10)
	defer unsub()

	h.Handle(&events.LoggedOut{Reason: events.ConnectFailureLoggedOut})

	expectEvent(t, ch, "session.logged_out")
}

func TestHandlePresence(t *testing.T) {
	a, _ := testApp(t)
	h := NewEventHandler(a, nil, zap.NewNop())

	ch, unsub := a.Bus.Subscribe("presence.", 10)
	defer unsub()

	from := types.JID{User: "558592403672", Server: types.DefaultUserServer, Device: 2}
	h.Handle(&events.Presence{From: from})

	if !a.Presence.IsOnline("558592403672@s.whatsapp.net") {
		t.Error("user not online after available presence")
	}
	evt := expectEvent(t, ch, "presence.changed")
	if pc := evt.Payload.(PresenceChange); pc.UserID != "558592403672@s.whatsapp.net" || !pc.Online {
		t.Errorf("payload = %+v", pc)
	}

	h.Handle(&events.Presence{From: from, Unavailable: true, LastSeen: time.Now()})
	if a.Presence.IsOnline("558592403672@s.whatsapp.net") {
		t.Error("user still online after unavailable presence")
	}
}

func TestHandlePictureReloadsCachedUser(t *testing.T) {
	a, fetcher := testApp(t)
	h := NewEventHandler(a, nil, zap.NewNop())

	id := "558592403672@s.whatsapp.net"
	_ = a.Avatars.Store(id, avatar.Record{Status: avatar.Fetched, URL: "old"})

	h.Handle(&events.Picture{JID: types.JID{User: "558592403672", Server: types.DefaultUserServer}, PictureID: "2"})
	a.Loader.Wait()

	rec, ok := a.Avatars.Get(id)
	if !ok || rec.Status != avatar.Fetched || rec.URL != "https://pps.example/"+id {
		t.Errorf("record = %+v, want refetched", rec)
	}

	// Users never looked up are not fetched.
	h.Handle(&events.Picture{JID: types.JID{User: "other", Server: types.DefaultUserServer}})
	a.Loader.Wait()
	if fetcher.count() != 1 {
		t.Errorf("fetches = %d, want 1", fetcher.count())
	}
}

func TestHandlePictureRemoved(t *testing.T) {
	a, _ := testApp(t)
	h := NewEventHandler(a, nil, zap.NewNop())

	id := "558592403672@s.whatsapp.net"
	_ = a.Avatars.Store(id, avatar.Record{Status: avatar.Fetched, URL: "old"})

	h.Handle(&events.Picture{JID: types.JID{User: "558592403672", Server: types.DefaultUserServer}, Remove: true})

	if a.Avatars.Has(id) {
		t.Error("record kept after picture removal")
	}
}

// TestLiveMessageWithDeviceSuffixNormalized verifies that live messages from
// device-specific JIDs produce normalized conversation and user ids.
// Regression: device JIDs like "user:0@s.whatsapp.net" created separate conversations.
func TestLiveMessageWithDeviceSuffixNormalized(t *testing.T) {
	a, _ := testApp(t)
	h := NewEventHandler(a, nil, zap.NewNop())

	ch, unsub := a.Bus.Subscribe("wa.message", 10)
	defer unsub()

	h.Handle(&events.Message{
		Info: types.MessageInfo{
			ID:        "m1",
			Timestamp: time.Now(),
			MessageSource: types.MessageSource{
				Chat:   types.JID{User: "558592403672", Server: "s.whatsapp.net", Device: 1},
				Sender: types.JID{User: "558592403672", Server: "s.whatsapp.net", Device: 3},
			},
		},
		Message: &waE2E.Message{Conversation: proto.String("hello")},
	})

	evt := expectEvent(t, ch, "wa.message")
	msg, ok := evt.Payload.(*store.Message)
	if !ok {
		t.Fatal("payload is not *store.Message")
	}
	if msg.ConversationID != "558592403672@s.whatsapp.net" {
		t.Errorf("ConversationID = %q, want 558592403672@s.whatsapp.net (device suffix not stripped)", msg.ConversationID)
	}
	if msg.UserID == nil || *msg.UserID != "558592403672@s.whatsapp.net" {
		t.Errorf("UserID = %v, want 558592403672@s.whatsapp.net (device suffix not stripped)", msg.UserID)
	}
}

func TestHandleHistorySync(t *testing.T) {
	a, _ := testApp(t)
	h := NewEventHandler(a, nil, zap.NewNop())

	ch, unsub := a.Bus.Subscribe("wa.", 10)
	defer unsub()

	msgTS := uint64(time.Now().Unix())
	h.Handle(&events.HistorySync{
		Data: &waHistorySync.HistorySync{
			Conversations: []*waHistorySync.Conversation{
				{
					// Device-suffix JID.
					ID: proto.String("558592403672:0@s.whatsapp.net"),
					Messages: []*waHistorySync.HistorySyncMsg{
						{
							Message: &waWeb.WebMessageInfo{
								Key: &waCommon.MessageKey{
									ID:          proto.String("hm1"),
									FromMe:      proto.Bool(false),
									RemoteJID:   proto.String("558592403672:0@s.whatsapp.net"),
									Participant: proto.String("558592403672:2@s.whatsapp.net"),
								},
								MessageTimestamp: &msgTS,
								Message:          &waE2E.Message{Conversation: proto.String("hello")},
							},
						},
						// Entries without content are skipped.
						{Message: &waWeb.WebMessageInfo{Key: &waCommon.MessageKey{ID: proto.String("hm2")}}},
					},
				},
			},
		},
	})

	evt := expectEvent(t, ch, "wa.history_batch")
	msgs, ok := evt.Payload.([]*store.Message)
	if !ok || len(msgs) != 1 {
		t.Fatalf("history batch = %v, want one message", evt.Payload)
	}
	if msgs[0].ConversationID != "558592403672@s.whatsapp.net" {
		t.Errorf("ConversationID = %q, want 558592403672@s.whatsapp.net (device suffix not stripped)", msgs[0].ConversationID)
	}
	if msgs[0].UserID == nil || *msgs[0].UserID != "558592403672@s.whatsapp.net" {
		t.Errorf("UserID = %v, want 558592403672@s.whatsapp.net", msgs[0].UserID)
	}
}

func TestHandleHistorySyncNilData(t *testing.T) {
	a, _ := testApp(t)
	h := NewEventHandler(a, nil, zap.NewNop())

	ch, unsub := a.Bus.Subscribe("wa.", 10)
	defer unsub()

	// Should not panic on nil data.
	h.Handle(&events.HistorySync{Data: nil})

	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected: no events.
	}
}

// TestResolveJIDWithNilAdapter verifies that resolveJID works with nil adapter
// (fallback to NormalizeJID only: strips device suffix but cannot resolve LIDs).
func TestResolveJIDWithNilAdapter(t *testing.T) {
	a, _ := testApp(t)
	h := NewEventHandler(a, nil, zap.NewNop())

	tests := []struct {
		input string
		want  string
	}{
		{"558592403672@s.whatsapp.net", "558592403672@s.whatsapp.net"},
		{"558592403672:0@s.whatsapp.net", "558592403672@s.whatsapp.net"},
		// LID cannot be resolved without adapter, stays as-is.
		{"3917077286968@lid", "3917077286968@lid"},
	}

	for _, tt := range tests {
		got := h.resolveJID(tt.input)
		if got != tt.want {
			t.Errorf("resolveJID(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

// TestResolveLIDNonLIDPassthrough verifies that ResolveLID passes through
// non-LID JIDs unchanged.
func TestResolveLIDNonLIDPassthrough(t *testing.T) {
	a := &Adapter{}
	regular := types.JID{User: "558592403672", Server: "s.whatsapp.net"}
	got := a.ResolveLID(context.Background(), regular)
	if got != regular {
		t.Errorf("ResolveLID(regular) = %v, want %v (should pass through)", got, regular)
	}

	// Group JIDs should also pass through.
	group := types.JID{User: "120363123456", Server: "g.us"}
	got = a.ResolveLID(context.Background(), group)
	if got != group {
		t.Errorf("ResolveLID(group) = %v, want %v (should pass through)", got, group)
	}
}

// TestResolveLIDDetectsHiddenUserServer verifies that ResolveLID recognizes
// @lid JIDs. Without a LID store it returns the original JID.
func TestResolveLIDDetectsHiddenUserServer(t *testing.T) {
	a := &Adapter{}
	lid := types.JID{User: "3917077286968", Server: types.HiddenUserServer}
	got := a.ResolveLID(context.Background(), lid)
	if got != lid {
		t.Errorf("ResolveLID(lid, nil store) = %v, want %v", got, lid)
	}
}

func TestAdapterWithoutSession(t *testing.T) {
	a := &Adapter{}
	if a.IsLoggedIn() {
		t.Error("adapter without client reports logged in")
	}
	if !a.OwnJID().IsEmpty() {
		t.Error("OwnJID not empty without session")
	}
	if _, err := a.FetchUserInfo(context.Background()); err != ErrNotLoggedIn {
		t.Errorf("FetchUserInfo err = %v, want ErrNotLoggedIn", err)
	}
	if err := a.RequestHistory(context.Background(), &store.Message{ID: "m", ConversationID: "c@s.whatsapp.net"}, 10); err != ErrNotLoggedIn {
		t.Errorf("RequestHistory err = %v, want ErrNotLoggedIn", err)
	}
}
