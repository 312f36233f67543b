package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully-qualified gRPC service name
const ServiceName = "lictracker.v1.ValuationService"

const (
	methodGetInstrument  = "/" + ServiceName + "/GetInstrument"
	methodListMarket     = "/" + ServiceName + "/ListMarket"
	methodValuePortfolio = "/" + ServiceName + "/ValuePortfolio"
)

// ValuationServiceServer is the server API for ValuationService.
// Requests carry a single key (ticker or market code); responses are
// google.protobuf.Struct documents.
type ValuationServiceServer interface {
	GetInstrument(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	ListMarket(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	ValuePortfolio(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
}

// RegisterValuationServiceServer registers srv on s
func RegisterValuationServiceServer(s grpc.ServiceRegistrar, srv ValuationServiceServer) {
	s.RegisterService(&ValuationServiceDesc, srv)
}

// ValuationServiceDesc describes ValuationService for grpc.ServiceRegistrar
var ValuationServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ValuationServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetInstrument",
			Handler:    unaryHandler(methodGetInstrument, ValuationServiceServer.GetInstrument),
		},
		{
			MethodName: "ListMarket",
			Handler:    unaryHandler(methodListMarket, ValuationServiceServer.ListMarket),
		},
		{
			MethodName: "ValuePortfolio",
			Handler:    unaryHandler(methodValuePortfolio, ValuationServiceServer.ValuePortfolio),
		},
	},
	Streams: []grpc.StreamDesc{},
}

type unaryMethod func(ValuationServiceServer, context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryMethod) func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(wrapperspb.StringValue)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ValuationServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod,
		}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(ValuationServiceServer), ctx, req.(*wrapperspb.StringValue))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ValuationServiceClient is the client API for ValuationService
type ValuationServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewValuationServiceClient creates a client over cc
func NewValuationServiceClient(cc grpc.ClientConnInterface) *ValuationServiceClient {
	return &ValuationServiceClient{cc: cc}
}

// GetInstrument fetches the snapshot of one ticker
func (c *ValuationServiceClient) GetInstrument(ctx context.Context, ticker string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodGetInstrument, ticker, opts...)
}

// ListMarket fetches a market and all of its instruments
func (c *ValuationServiceClient) ListMarket(ctx context.Context, code string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodListMarket, code, opts...)
}

// ValuePortfolio recomputes and returns a portfolio's NTA
func (c *ValuationServiceClient) ValuePortfolio(ctx context.Context, ticker string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodValuePortfolio, ticker, opts...)
}

func (c *ValuationServiceClient) invoke(ctx context.Context, method, key string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, wrapperspb.String(key), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
