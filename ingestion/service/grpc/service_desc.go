package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "proofanchor.v1.ProofAnchor"

// Full method names
const (
	InitProofMethod      = "/" + ServiceName + "/InitProof"
	RetrieveProofsMethod = "/" + ServiceName + "/RetrieveProofs"
	SubmitProofMethod    = "/" + ServiceName + "/SubmitProof"
)

// ProofAnchorServer is the server API. Requests and responses are JSON-shaped
// structs carrying the same fields as the HTTP surface.
type ProofAnchorServer interface {
	InitProof(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RetrieveProofs(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SubmitProof(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes the ProofAnchor service for grpc.Server.RegisterService
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ProofAnchorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "InitProof", Handler: unaryHandler(InitProofMethod, ProofAnchorServer.InitProof)},
		{MethodName: "RetrieveProofs", Handler: unaryHandler(RetrieveProofsMethod, ProofAnchorServer.RetrieveProofs)},
		{MethodName: "SubmitProof", Handler: unaryHandler(SubmitProofMethod, ProofAnchorServer.SubmitProof)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "proofanchor/v1/anchor.proto",
}

// RegisterProofAnchorServer registers srv with s
func RegisterProofAnchorServer(s grpc.ServiceRegistrar, srv ProofAnchorServer) {
	s.RegisterService(&ServiceDesc, srv)
}

type unaryMethod func(ProofAnchorServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, method unaryMethod) func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return method(srv.(ProofAnchorServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return method(srv.(ProofAnchorServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ProofAnchorClient is the client API for the ProofAnchor service
type ProofAnchorClient interface {
	InitProof(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	RetrieveProofs(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	SubmitProof(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type proofAnchorClient struct {
	cc grpc.ClientConnInterface
}

// NewProofAnchorClient returns a client bound to cc
func NewProofAnchorClient(cc grpc.ClientConnInterface) ProofAnchorClient {
	return &proofAnchorClient{cc: cc}
}

func (c *proofAnchorClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts []grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *proofAnchorClient) InitProof(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, InitProofMethod, in, opts)
}

func (c *proofAnchorClient) RetrieveProofs(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, RetrieveProofsMethod, in, opts)
}

func (c *proofAnchorClient) SubmitProof(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, SubmitProofMethod, in, opts)
}
