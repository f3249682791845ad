// Package client is the operator-side client of the local data service.
package client

import (
	"context"
	"fmt"

	"github.com/matheus3301/wppsync/internal/api"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client wraps the gRPC connection to the daemon.
type Client struct {
	conn *grpc.ClientConn
}

// New dials the daemon's Unix domain socket. The connection is established
// lazily on the first call.
func New(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) Status(ctx context.Context) (*structpb.Struct, error) {
	return c.call(ctx, api.MethodStatus, &emptypb.Empty{})
}

func (c *Client) Ensure(ctx context.Context) (*structpb.Struct, error) {
	return c.call(ctx, api.MethodEnsure, &emptypb.Empty{})
}

func (c *Client) Drop(ctx context.Context, dropSchema bool) (*structpb.Struct, error) {
	return c.callWith(ctx, api.MethodDrop, map[string]any{"drop_schema": dropSchema})
}

func (c *Client) Refresh(ctx context.Context, dropSchema bool) (*structpb.Struct, error) {
	return c.callWith(ctx, api.MethodRefresh, map[string]any{"drop_schema": dropSchema})
}

func (c *Client) Purge(ctx context.Context) (*structpb.Struct, error) {
	return c.call(ctx, api.MethodPurge, &emptypb.Empty{})
}

func (c *Client) Logout(ctx context.Context) (*structpb.Struct, error) {
	return c.call(ctx, api.MethodLogout, &emptypb.Empty{})
}

func (c *Client) GetPresence(ctx context.Context, userID string) (*structpb.Struct, error) {
	return c.callWith(ctx, api.MethodGetPresence, map[string]any{"user_id": userID})
}

func (c *Client) ListPresence(ctx context.Context) (*structpb.Struct, error) {
	return c.call(ctx, api.MethodListPresence, &emptypb.Empty{})
}

// GetProfilePicture asks for a user's picture URL. waitMs <= 0 uses the
// daemon's configured wait.
func (c *Client) GetProfilePicture(ctx context.Context, userID string, waitMs int64, reload bool) (*structpb.Struct, error) {
	return c.callWith(ctx, api.MethodGetProfilePicture, map[string]any{
		"user_id": userID,
		"wait_ms": waitMs,
		"reload":  reload,
	})
}

// WatchEvents streams event envelopes whose kind starts with namespace.
// An empty namespace matches every event.
func (c *Client) WatchEvents(ctx context.Context, namespace string) (grpc.ServerStreamingClient[structpb.Struct], error) {
	req, err := structpb.NewStruct(map[string]any{"namespace": namespace})
	if err != nil {
		return nil, err
	}
	return c.stream(ctx, 0, api.MethodWatchEvents, req)
}

// StartAuth begins QR pairing and streams auth events.
func (c *Client) StartAuth(ctx context.Context) (grpc.ServerStreamingClient[structpb.Struct], error) {
	return c.stream(ctx, 1, api.MethodStartAuth, &emptypb.Empty{})
}

func (c *Client) call(ctx context.Context, method string, req any) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, api.FullMethod(method), req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) callWith(ctx context.Context, method string, args map[string]any) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(args)
	if err != nil {
		return nil, err
	}
	return c.call(ctx, method, req)
}

func (c *Client) stream(ctx context.Context, idx int, method string, req any) (grpc.ServerStreamingClient[structpb.Struct], error) {
	s, err := c.conn.NewStream(ctx, &api.LocalDataServiceDesc.Streams[idx], api.FullMethod(method))
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: s}
	if err := x.ClientStream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
