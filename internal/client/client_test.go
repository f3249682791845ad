package client

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/wppsync/internal/api"
	"github.com/matheus3301/wppsync/internal/app"
	"github.com/matheus3301/wppsync/internal/avatar"
	"github.com/matheus3301/wppsync/internal/bus"
	"github.com/matheus3301/wppsync/internal/presence"
	"github.com/matheus3301/wppsync/internal/status"
	"github.com/matheus3301/wppsync/internal/store"
	intsync "github.com/matheus3301/wppsync/internal/sync"
	"github.com/matheus3301/wppsync/internal/wa"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

type nopUsers struct{}

func (nopUsers) FetchUserInfo(context.Context) (*store.User, error) { return nil, nil }

type nopConvs struct{}

func (nopConvs) FetchConversations(context.Context) error { return nil }

type nopImporter struct{}

func (nopImporter) StartBackgroundImport() {}

type authSession struct{}

func (authSession) IsLoggedIn() bool             { return false }
func (authSession) Logout(context.Context) error { return nil }

func (authSession) StartQRAuth(context.Context) (<-chan wa.AuthEvent, error) {
	ch := make(chan wa.AuthEvent, 2)
	ch <- wa.AuthEvent{Type: wa.AuthEventQRCode, QRCode: "2@abc"}
	ch <- wa.AuthEvent{Type: wa.AuthEventAuthenticated, Message: "authenticated"}
	close(ch)
	return ch, nil
}

func startDaemon(t *testing.T) (*Client, *app.App) {
	t.Helper()
	// Use a short path to stay under the Unix socket path limit.
	dir, err := os.MkdirTemp("/tmp", "wppsync-client-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	b := bus.New()
	gateway := store.NewGateway(filepath.Join(dir, "app.db"), store.AppSchema, zap.NewNop())
	t.Cleanup(func() { _ = gateway.Close() })
	machine := status.NewMachine(b)
	avatars := avatar.NewRepository()
	a := &app.App{
		Bus:      b,
		Store:    gateway,
		Presence: presence.NewRepository(),
		Avatars:  avatars,
		Status:   machine,
	}
	a.Orchestrator = intsync.NewOrchestrator(gateway, nopUsers{}, nopConvs{}, nopImporter{}, b, machine, nil)

	socketPath := filepath.Join(dir, "d.sock")
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatal(err)
	}
	srv := grpc.NewServer()
	api.RegisterLocalDataServer(srv, api.NewLocalDataService("test", a, authSession{}, 0, zap.NewNop()))
	go func() { _ = srv.Serve(listener) }()
	t.Cleanup(srv.Stop)

	c, err := New(socketPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, a
}

func TestUnaryCalls(t *testing.T) {
	c, a := startDaemon(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := c.Ensure(ctx)
	if err != nil {
		t.Fatalf("Ensure error = %v", err)
	}
	if got := resp.GetFields()["state"].GetStringValue(); got != "READY" {
		t.Errorf("state = %q, want READY", got)
	}

	resp, err = c.Drop(ctx, false)
	if err != nil {
		t.Fatalf("Drop error = %v", err)
	}
	if got := resp.GetFields()["state"].GetStringValue(); got != "UNLOADED" {
		t.Errorf("state = %q, want UNLOADED", got)
	}

	_ = a.Presence.SetOnlineStatus("a@s.whatsapp.net", true)
	resp, err = c.GetPresence(ctx, "a@s.whatsapp.net")
	if err != nil {
		t.Fatal(err)
	}
	if !resp.GetFields()["online"].GetBoolValue() {
		t.Error("user not online")
	}

	_, err = c.GetProfilePicture(ctx, "a@s.whatsapp.net", 20, false)
	if grpcstatus.Code(err) != codes.NotFound {
		t.Errorf("GetProfilePicture code = %v, want NotFound", grpcstatus.Code(err))
	}
}

func TestWatchEvents(t *testing.T) {
	c, a := startDaemon(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := c.WatchEvents(ctx, "localdata.")
	if err != nil {
		t.Fatal(err)
	}

	// The subscription is registered asynchronously on the server.
	deadline := time.Now().Add(2 * time.Second)
	received := make(chan string, 16)
	go func() {
		for {
			env, err := stream.Recv()
			if err != nil {
				close(received)
				return
			}
			received <- env.GetFields()["kind"].GetStringValue()
		}
	}()

	for time.Now().Before(deadline) {
		a.Bus.Publish(bus.NewEvent(intsync.KindLocalDataCleared, nil))
		a.Bus.Publish(bus.NewEvent("sync.connected", nil))
		select {
		case kind := <-received:
			if kind != intsync.KindLocalDataCleared {
				t.Fatalf("kind = %q, want %s", kind, intsync.KindLocalDataCleared)
			}
			return
		case <-time.After(50 * time.Millisecond):
		}
	}
	t.Fatal("no event received")
}

func TestStartAuth(t *testing.T) {
	c, _ := startDaemon(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := c.StartAuth(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var types []string
	for {
		evt, err := stream.Recv()
		if err != nil {
			break
		}
		types = append(types, evt.GetFields()["type"].GetStringValue())
		if evt.GetFields()["type"].GetStringValue() == string(wa.AuthEventQRCode) && evt.GetFields()["qr_code"].GetStringValue() != "2@abc" {
			t.Errorf("qr_code = %q", evt.GetFields()["qr_code"].GetStringValue())
		}
	}
	if len(types) != 2 || types[0] != "qr_code" || types[1] != "authenticated" {
		t.Errorf("auth events = %v", types)
	}
}
