package plugin

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-plugin"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the gRPC service plugins serve
const ServiceName = "gossip.plugin.EventSink"

// GRPCPlugin is the gRPC plugin implementation
type GRPCPlugin struct {
	plugin.Plugin
	Impl Sink
}

// GRPCServer returns the gRPC server
func (p *GRPCPlugin) GRPCServer(broker *plugin.GRPCBroker, s *grpc.Server) error {
	RegisterSinkServer(s, p.Impl)
	return nil
}

// GRPCClient returns the gRPC client
func (p *GRPCPlugin) GRPCClient(ctx context.Context, broker *plugin.GRPCBroker, c *grpc.ClientConn) (interface{}, error) {
	return NewSinkClient(c), nil
}

// RegisterSinkServer serves impl on s
func RegisterSinkServer(s grpc.ServiceRegistrar, impl Sink) {
	s.RegisterService(&sinkServiceDesc, impl)
}

// The service carries google.protobuf.Struct payloads, so no generated
// stubs are needed.
var sinkServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Sink)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Info", Handler: infoHandler},
		{MethodName: "Notify", Handler: notifyHandler},
	},
	Streams: []grpc.StreamDesc{},
}

func infoHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	call := func(ctx context.Context, _ interface{}) (interface{}, error) {
		md, err := srv.(Sink).Info(ctx)
		if err != nil {
			return nil, err
		}
		return structpb.NewStruct(map[string]interface{}{
			"name":        md.Name,
			"version":     md.Version,
			"description": md.Description,
		})
	}
	if interceptor == nil {
		return call(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Info"}
	return interceptor(ctx, in, info, call)
}

func notifyHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	call := func(ctx context.Context, req interface{}) (interface{}, error) {
		ev, err := eventFromStruct(req.(*structpb.Struct))
		if err != nil {
			return nil, err
		}
		if err := srv.(Sink).Notify(ctx, ev); err != nil {
			return nil, err
		}
		return &emptypb.Empty{}, nil
	}
	if interceptor == nil {
		return call(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Notify"}
	return interceptor(ctx, in, info, call)
}

// sinkClient calls a plugin's EventSink service
type sinkClient struct {
	conn grpc.ClientConnInterface
}

// NewSinkClient returns a Sink backed by the service on conn
func NewSinkClient(conn grpc.ClientConnInterface) Sink {
	return &sinkClient{conn: conn}
}

func (c *sinkClient) Info(ctx context.Context) (Metadata, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/Info", &emptypb.Empty{}, out); err != nil {
		return Metadata{}, err
	}
	m := out.AsMap()
	md := Metadata{}
	md.Name, _ = m["name"].(string)
	md.Version, _ = m["version"].(string)
	md.Description, _ = m["description"].(string)
	return md, nil
}

func (c *sinkClient) Notify(ctx context.Context, ev Event) error {
	in, err := eventToStruct(ev)
	if err != nil {
		return err
	}
	return c.conn.Invoke(ctx, "/"+ServiceName+"/Notify", in, new(emptypb.Empty))
}

func eventToStruct(ev Event) (*structpb.Struct, error) {
	fields := ev.Fields
	if fields == nil {
		fields = map[string]interface{}{}
	}
	s, err := structpb.NewStruct(map[string]interface{}{
		"type":   ev.Type,
		"time":   ev.Time.UTC().Format(time.RFC3339Nano),
		"fields": fields,
	})
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", ev.Type, err)
	}
	return s, nil
}

func eventFromStruct(s *structpb.Struct) (Event, error) {
	m := s.AsMap()
	ev := Event{}
	ev.Type, _ = m["type"].(string)
	if ev.Type == "" {
		return Event{}, fmt.Errorf("event without type")
	}
	if ts, ok := m["time"].(string); ok {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return Event{}, fmt.Errorf("event time: %w", err)
		}
		ev.Time = t
	}
	ev.Fields, _ = m["fields"].(map[string]interface{})
	if ev.Fields == nil {
		ev.Fields = map[string]interface{}{}
	}
	return ev, nil
}
