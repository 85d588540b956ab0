package transport

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Sh00ty/rapidring/internal/wire"
)

// ServiceDesc registers a Server implementation with a *grpc.Server without
// requiring protoc-generated stubs; it is paired with the json codec in
// codec.go and the same method names GRPCClient dials.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "JoinPhase1", Handler: joinPhase1Handler},
		{MethodName: "JoinPhase2", Handler: joinPhase2Handler},
		{MethodName: "LinkUpdate", Handler: linkUpdateHandler},
		{MethodName: "Probe", Handler: probeHandler},
	},
	Streams: []grpc.StreamDesc{},
	Metadata: "rapidring/membership.proto",
}

func joinPhase1Handler(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	var req wire.JoinMessage
	if err := dec(&req); err != nil {
		return nil, err
	}
	resp, err := srv.(Server).HandleJoinPhase1(ctx, req)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &resp, nil
}

func joinPhase2Handler(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	var req wire.JoinMessage
	if err := dec(&req); err != nil {
		return nil, err
	}
	resp, err := srv.(Server).HandleJoinPhase2(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, status.Error(codes.DeadlineExceeded, err.Error())
		}
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &resp, nil
}

func linkUpdateHandler(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	var req wire.LinkUpdateMessage
	if err := dec(&req); err != nil {
		return nil, err
	}
	if err := srv.(Server).HandleLinkUpdate(ctx, req); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &emptyResponse{}, nil
}

func probeHandler(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	var req wire.ProbeMessage
	if err := dec(&req); err != nil {
		return nil, err
	}
	resp, err := srv.(Server).HandleProbe(ctx, req)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &resp, nil
}
