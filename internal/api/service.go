// Package api exposes the local data control plane over gRPC. Requests and
// responses are well-known protobuf types so the service needs no generated
// code: arguments travel as a structpb.Struct, empty requests as emptypb.Empty.
package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "wppsync.v1.LocalDataService"

// Method names.
const (
	MethodStatus            = "Status"
	MethodEnsure            = "Ensure"
	MethodDrop              = "Drop"
	MethodRefresh           = "Refresh"
	MethodPurge             = "Purge"
	MethodLogout            = "Logout"
	MethodGetPresence       = "GetPresence"
	MethodListPresence      = "ListPresence"
	MethodGetProfilePicture = "GetProfilePicture"
	MethodWatchEvents       = "WatchEvents"
	MethodStartAuth         = "StartAuth"
)

// FullMethod returns the RPC path of a method, as used by ClientConn.Invoke.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// LocalDataServer is the server API for the local data service.
type LocalDataServer interface {
	Status(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Ensure(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Drop(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Refresh(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Purge(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Logout(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetPresence(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListPresence(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetProfilePicture(context.Context, *structpb.Struct) (*structpb.Struct, error)
	WatchEvents(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error
	StartAuth(*emptypb.Empty, grpc.ServerStreamingServer[structpb.Struct]) error
}

// RegisterLocalDataServer registers srv on s.
func RegisterLocalDataServer(s grpc.ServiceRegistrar, srv LocalDataServer) {
	s.RegisterService(&LocalDataServiceDesc, srv)
}

// LocalDataServiceDesc describes the local data service. Stream indexes are
// fixed: WatchEvents is 0, StartAuth is 1.
var LocalDataServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LocalDataServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodStatus, newEmpty, LocalDataServer.Status),
		unary(MethodEnsure, newEmpty, LocalDataServer.Ensure),
		unary(MethodDrop, newStruct, LocalDataServer.Drop),
		unary(MethodRefresh, newStruct, LocalDataServer.Refresh),
		unary(MethodPurge, newEmpty, LocalDataServer.Purge),
		unary(MethodLogout, newEmpty, LocalDataServer.Logout),
		unary(MethodGetPresence, newStruct, LocalDataServer.GetPresence),
		unary(MethodListPresence, newEmpty, LocalDataServer.ListPresence),
		unary(MethodGetProfilePicture, newStruct, LocalDataServer.GetProfilePicture),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    MethodWatchEvents,
			ServerStreams: true,
			Handler: func(srv any, stream grpc.ServerStream) error {
				in := new(structpb.Struct)
				if err := stream.RecvMsg(in); err != nil {
					return err
				}
				return srv.(LocalDataServer).WatchEvents(in, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
			},
		},
		{
			StreamName:    MethodStartAuth,
			ServerStreams: true,
			Handler: func(srv any, stream grpc.ServerStream) error {
				in := new(emptypb.Empty)
				if err := stream.RecvMsg(in); err != nil {
					return err
				}
				return srv.(LocalDataServer).StartAuth(in, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
			},
		},
	},
	Metadata: "wppsync/v1/localdata.proto",
}

func newEmpty() *emptypb.Empty    { return new(emptypb.Empty) }
func newStruct() *structpb.Struct { return new(structpb.Struct) }

// unary builds the method descriptor of a unary RPC answering with a Struct.
func unary[Req proto.Message](name string, newReq func() Req, call func(LocalDataServer, context.Context, Req) (*structpb.Struct, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := newReq()
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(LocalDataServer)
			if interceptor == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(s, ctx, req.(Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}
