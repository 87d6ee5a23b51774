package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "jobmatch.v1.Matching"

// MatchingServer is the server API. Requests and responses are JSON-shaped
// google.protobuf.Struct messages mirroring the HTTP bodies.
type MatchingServer interface {
	Join(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Leave(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Respond(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Recommend(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(srv MatchingServer, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

func handler(name string, call unaryMethod) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(MatchingServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(MatchingServer), ctx, req.(*structpb.Struct))
		})
	}
}

// ServiceDesc describes jobmatch.v1.Matching for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MatchingServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Join", Handler: handler("Join", MatchingServer.Join)},
		{MethodName: "Leave", Handler: handler("Leave", MatchingServer.Leave)},
		{MethodName: "Respond", Handler: handler("Respond", MatchingServer.Respond)},
		{MethodName: "Recommend", Handler: handler("Recommend", MatchingServer.Recommend)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "jobmatch/v1/matching.proto",
}

// FullMethod returns the invoke path of a method, e.g. "/jobmatch.v1.Matching/Join".
func FullMethod(name string) string { return "/" + ServiceName + "/" + name }
