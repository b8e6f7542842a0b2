package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "dipolesim.v1.ForwardEngine"

const (
	simulateMethod = "/" + ServiceName + "/Simulate"
	describeMethod = "/" + ServiceName + "/Describe"
)

// ForwardEngineServer is the server API. Messages are protobuf Structs whose
// fields are documented on the mapping helpers in this package.
type ForwardEngineServer interface {
	Simulate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Describe(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// UnimplementedForwardEngineServer can be embedded for forward compatibility.
type UnimplementedForwardEngineServer struct{}

func (UnimplementedForwardEngineServer) Simulate(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Simulate not implemented")
}

func (UnimplementedForwardEngineServer) Describe(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Describe not implemented")
}

// RegisterForwardEngineServer attaches srv to a gRPC registrar.
func RegisterForwardEngineServer(s grpc.ServiceRegistrar, srv ForwardEngineServer) {
	s.RegisterService(&ForwardEngineServiceDesc, srv)
}

// ForwardEngineServiceDesc describes the service for grpc.Server.
var ForwardEngineServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ForwardEngineServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Simulate", Handler: simulateHandler},
		{MethodName: "Describe", Handler: describeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "dipolesim/v1/forward_engine.proto",
}

func simulateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ForwardEngineServer).Simulate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: simulateMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ForwardEngineServer).Simulate(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func describeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ForwardEngineServer).Describe(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: describeMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ForwardEngineServer).Describe(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// ForwardEngineClient calls the service over a client connection.
type ForwardEngineClient struct {
	cc grpc.ClientConnInterface
}

// NewForwardEngineClient wraps cc.
func NewForwardEngineClient(cc grpc.ClientConnInterface) *ForwardEngineClient {
	return &ForwardEngineClient{cc: cc}
}

// Simulate invokes ForwardEngine/Simulate.
func (c *ForwardEngineClient) Simulate(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, simulateMethod, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Describe invokes ForwardEngine/Describe.
func (c *ForwardEngineClient) Describe(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, describeMethod, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
