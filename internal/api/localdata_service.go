package api

import (
	"context"
	"time"

	"github.com/matheus3301/wppsync/internal/app"
	"github.com/matheus3301/wppsync/internal/avatar"
	"github.com/matheus3301/wppsync/internal/validate"
	"github.com/matheus3301/wppsync/internal/wa"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Session is the protocol session as seen by the control plane.
type Session interface {
	IsLoggedIn() bool
	Logout(ctx context.Context) error
	StartQRAuth(ctx context.Context) (<-chan wa.AuthEvent, error)
}

// LocalDataService implements LocalDataServer on top of the application
// context.
type LocalDataService struct {
	sessionName string
	startedAt   time.Time
	app         *app.App
	session     Session
	pictureWait time.Duration
	logger      *zap.Logger
}

// NewLocalDataService creates the service. session may be nil when no
// protocol session is available; pictureWait <= 0 selects
// avatar.DefaultWaitTimeout.
func NewLocalDataService(sessionName string, a *app.App, session Session, pictureWait time.Duration, logger *zap.Logger) *LocalDataService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pictureWait <= 0 {
		pictureWait = avatar.DefaultWaitTimeout
	}
	return &LocalDataService{
		sessionName: sessionName,
		startedAt:   time.Now(),
		app:         a,
		session:     session,
		pictureWait: pictureWait,
		logger:      logger,
	}
}

func (s *LocalDataService) Status(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	resp := map[string]any{
		"session":          s.sessionName,
		"state":            string(s.app.Orchestrator.State()),
		"uptime_ms":        time.Since(s.startedAt).Milliseconds(),
		"logged_in":        s.session != nil && s.session.IsLoggedIn(),
		"presence_tracked": len(s.app.Presence.TrackedIDs()),
		"avatars_cached":   s.app.Avatars.Len(),
	}
	if db, err := s.app.Store.DB(); err == nil {
		counts, err := db.Counts(ctx)
		if err != nil {
			return nil, toStatus(err)
		}
		resp["counts"] = map[string]any{
			"conversations": counts.Conversations,
			"messages":      counts.Messages,
			"users":         counts.Users,
			"checkpoints":   counts.Checkpoints,
		}
	}
	return structpb.NewStruct(resp)
}

func (s *LocalDataService) Ensure(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if err := s.app.Orchestrator.EnsureLocalData(ctx); err != nil {
		return nil, toStatus(err)
	}
	return s.stateReply()
}

func (s *LocalDataService) Drop(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := s.app.Orchestrator.DropLocalData(ctx, boolField(req, "drop_schema")); err != nil {
		return nil, toStatus(err)
	}
	return s.stateReply()
}

func (s *LocalDataService) Refresh(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := s.app.Orchestrator.RefreshLocalData(ctx, boolField(req, "drop_schema")); err != nil {
		return nil, toStatus(err)
	}
	return s.stateReply()
}

func (s *LocalDataService) Purge(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if err := s.app.Orchestrator.PurgeLocalData(ctx); err != nil {
		return nil, toStatus(err)
	}
	return s.stateReply()
}

// Logout ends the protocol session and drops the local data that belonged
// to it.
func (s *LocalDataService) Logout(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if s.session == nil {
		return nil, grpcstatus.Error(codes.Unavailable, "session not initialized")
	}
	if err := s.session.Logout(ctx); err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "logout: %v", err)
	}
	if err := s.app.Orchestrator.DropLocalData(ctx, false); err != nil {
		return nil, toStatus(err)
	}
	return s.stateReply()
}

func (s *LocalDataService) GetPresence(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id := stringField(req, "user_id")
	if err := validate.UserID(id); err != nil {
		return nil, toStatus(err)
	}
	return structpb.NewStruct(map[string]any{
		"user_id": id,
		"tracked": s.app.Presence.IsTracked(id),
		"online":  s.app.Presence.IsOnline(id),
	})
}

func (s *LocalDataService) ListPresence(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	users := map[string]any{}
	for id, online := range s.app.Presence.Snapshot() {
		users[id] = online
	}
	return structpb.NewStruct(map[string]any{"users": users})
}

// GetProfilePicture starts a fetch when the user is not cached (or always
// with reload) and waits up to wait_ms for the URL. A picture that is not
// ready when the wait ends is reported as NotFound.
func (s *LocalDataService) GetProfilePicture(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id := stringField(req, "user_id")
	if err := validate.UserID(id); err != nil {
		return nil, toStatus(err)
	}
	wait := s.waitFor(req)

	if s.app.Loader != nil {
		load := s.app.Loader.Load
		if boolField(req, "reload") {
			load = s.app.Loader.Reload
		}
		if err := load(id); err != nil {
			return nil, toStatus(err)
		}
	}

	rec, err := s.app.Avatars.WaitForReady(ctx, id, wait)
	if err != nil {
		return nil, toStatus(err)
	}
	if rec == nil {
		state := "missing"
		if cur, ok := s.app.Avatars.Get(id); ok {
			state = string(cur.Status)
		}
		return nil, grpcstatus.Errorf(codes.NotFound, "profile picture of %s not ready (%s)", id, state)
	}
	return structpb.NewStruct(map[string]any{
		"user_id": id,
		"status":  string(rec.Status),
		"url":     rec.URL,
	})
}

// waitFor reads wait_ms, falling back to the configured wait. Requests are
// capped at the larger of the configured wait and avatar.DefaultWaitTimeout.
func (s *LocalDataService) waitFor(req *structpb.Struct) time.Duration {
	ms := numberField(req, "wait_ms")
	if !(ms > 0) {
		return s.pictureWait
	}
	limit := max(s.pictureWait, avatar.DefaultWaitTimeout)
	if ms >= float64(limit/time.Millisecond) {
		return limit
	}
	return max(time.Duration(ms*float64(time.Millisecond)), time.Millisecond)
}

// WatchEvents streams bus events whose kind starts with the requested
// namespace until the client goes away.
func (s *LocalDataService) WatchEvents(req *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	ch, unsub := s.app.Bus.Subscribe(stringField(req, "namespace"), 256)
	defer unsub()

	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return nil
			}
			env, err := envelope(s.sessionName, evt)
			if err != nil {
				s.logger.Warn("dropping unencodable event", zap.String("kind", evt.Kind), zap.Error(err))
				continue
			}
			if err := stream.Send(env); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

func (s *LocalDataService) StartAuth(_ *emptypb.Empty, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	if s.session == nil {
		return grpcstatus.Error(codes.Unavailable, "session not initialized")
	}
	if s.session.IsLoggedIn() {
		return grpcstatus.Error(codes.FailedPrecondition, "already logged in")
	}

	authCh, err := s.session.StartQRAuth(stream.Context())
	if err != nil {
		return grpcstatus.Errorf(codes.Internal, "start auth: %v", err)
	}

	for evt := range authCh {
		msg, err := structpb.NewStruct(map[string]any{
			"type":    string(evt.Type),
			"qr_code": evt.QRCode,
			"message": evt.Message,
		})
		if err != nil {
			return grpcstatus.Errorf(codes.Internal, "encode auth event: %v", err)
		}
		if err := stream.Send(msg); err != nil {
			return err
		}
	}
	return nil
}

func (s *LocalDataService) stateReply() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{"state": string(s.app.Orchestrator.State())})
}

func stringField(req *structpb.Struct, name string) string {
	return req.GetFields()[name].GetStringValue()
}

func boolField(req *structpb.Struct, name string) bool {
	return req.GetFields()[name].GetBoolValue()
}

func numberField(req *structpb.Struct, name string) float64 {
	return req.GetFields()[name].GetNumberValue()
}
