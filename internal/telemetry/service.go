package telemetry

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name. Messages are the
// protobuf well-known Struct and Empty types, so clients need no generated
// code: each tick report is a Struct with the JSON field names of
// pipeline.TickReport.
const ServiceName = "standoff.telemetry.v1.Telemetry"

const (
	latestMethod      = "/" + ServiceName + "/Latest"
	streamTicksMethod = "/" + ServiceName + "/StreamTicks"
)

// TelemetryServer is the server API of the telemetry service.
type TelemetryServer interface {
	// Latest returns the most recent tick report.
	Latest(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	// StreamTicks streams every tick report from now on.
	StreamTicks(*emptypb.Empty, Telemetry_StreamTicksServer) error
}

// Telemetry_StreamTicksServer is the server side of a StreamTicks call.
type Telemetry_StreamTicksServer interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type streamTicksServer struct {
	grpc.ServerStream
}

func (x *streamTicksServer) Send(m *structpb.Struct) error {
	return x.ServerStream.SendMsg(m)
}

func latestHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TelemetryServer).Latest(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: latestMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(TelemetryServer).Latest(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func streamTicksHandler(srv interface{}, stream grpc.ServerStream) error {
	m := new(emptypb.Empty)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(TelemetryServer).StreamTicks(m, &streamTicksServer{stream})
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TelemetryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Latest", Handler: latestHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "StreamTicks", Handler: streamTicksHandler, ServerStreams: true},
	},
	Metadata: "standoff/telemetry/v1/telemetry.proto",
}

// RegisterTelemetryServer registers srv with s.
func RegisterTelemetryServer(s grpc.ServiceRegistrar, srv TelemetryServer) {
	s.RegisterService(&serviceDesc, srv)
}

// Client is a client of the telemetry service.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) Latest(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, latestMethod, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// TickStream is the client side of a StreamTicks call.
type TickStream interface {
	Recv() (*structpb.Struct, error)
	grpc.ClientStream
}

type tickStreamClient struct {
	grpc.ClientStream
}

func (x *tickStreamClient) Recv() (*structpb.Struct, error) {
	m := new(structpb.Struct)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *Client) StreamTicks(ctx context.Context, opts ...grpc.CallOption) (TickStream, error) {
	stream, err := c.cc.NewStream(ctx, &serviceDesc.Streams[0], streamTicksMethod, opts...)
	if err != nil {
		return nil, err
	}
	x := &tickStreamClient{stream}
	if err := x.ClientStream.SendMsg(&emptypb.Empty{}); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
