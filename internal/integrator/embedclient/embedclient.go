// Package embedclient talks to a remote embedding service over gRPC. No
// .proto file is compiled for this; requests and responses are carried as
// google.golang.org/protobuf/types/known/structpb.Struct, a proto.Message
// the protobuf module already ships built, so a hand-written
// grpc.ServiceDesc is enough to wire a unary RPC without running protoc.
package embedclient

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const serviceName = "codegraph.integrator.v1.Embed"

// serviceDesc describes the two unary methods a Client calls and a
// Server registers. Handler functions are only invoked server-side;
// Client uses conn.Invoke directly against the same method names so the
// two stay in lock-step without a generated stub.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*EmbedServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Embed", Handler: embedHandler},
		{MethodName: "EmbedBatch", Handler: embedBatchHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "codegraph/integrator/embedclient.proto",
}

// EmbedServer is implemented by the process hosting the embedding model;
// RegisterEmbedServer wires it into a *grpc.Server via serviceDesc.
type EmbedServer interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// RegisterEmbedServer attaches srv to registrar under serviceDesc.
func RegisterEmbedServer(registrar grpc.ServiceRegistrar, srv EmbedServer) {
	registrar.RegisterService(&serviceDesc, srv)
}

func embedHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := &structpb.Struct{}
	if err := dec(in); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req any) (any, error) {
		text := in.Fields["text"].GetStringValue()
		vals, err := srv.(EmbedServer).Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		return valuesStruct(vals), nil
	}
	if interceptor == nil {
		return handler(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Embed"}
	return interceptor(ctx, in, info, handler)
}

func embedBatchHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := &structpb.Struct{}
	if err := dec(in); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req any) (any, error) {
		texts := stringListFrom(in, "texts")
		batches, err := srv.(EmbedServer).EmbedBatch(ctx, texts)
		if err != nil {
			return nil, err
		}
		return batchStruct(batches), nil
	}
	if interceptor == nil {
		return handler(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/EmbedBatch"}
	return interceptor(ctx, in, info, handler)
}

// Client is an Embedder backed by a remote gRPC EmbedServer.
type Client struct {
	conn *grpc.ClientConn
	dim  int
}

// NewClient wraps an established connection. dim must match the remote
// service's declared embedding dimension; it is not discovered
// dynamically since this package has no reflection RPC.
func NewClient(conn *grpc.ClientConn, dim int) *Client {
	return &Client{conn: conn, dim: dim}
}

func (c *Client) Dimension() int { return c.dim }

// Embed calls the remote Embed RPC for a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	req := textStruct(text)
	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, "/"+serviceName+"/Embed", req, resp); err != nil {
		return nil, fmt.Errorf("embedclient: Embed: %w", err)
	}
	return valuesFrom(resp, "values"), nil
}

// EmbedBatch calls the remote EmbedBatch RPC.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	req := textListStruct(texts)
	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, "/"+serviceName+"/EmbedBatch", req, resp); err != nil {
		return nil, fmt.Errorf("embedclient: EmbedBatch: %w", err)
	}
	list := resp.Fields["embeddings"].GetListValue()
	if list == nil {
		return nil, nil
	}
	out := make([][]float32, len(list.Values))
	for i, v := range list.Values {
		out[i] = float32ListFromValue(v)
	}
	return out, nil
}

func textStruct(text string) *structpb.Struct {
	s, _ := structpb.NewStruct(map[string]any{"text": text})
	return s
}

func textListStruct(texts []string) *structpb.Struct {
	vals := make([]any, len(texts))
	for i, t := range texts {
		vals[i] = t
	}
	s, _ := structpb.NewStruct(map[string]any{"texts": vals})
	return s
}

func valuesStruct(vals []float32) *structpb.Struct {
	asAny := make([]any, len(vals))
	for i, v := range vals {
		asAny[i] = float64(v)
	}
	s, _ := structpb.NewStruct(map[string]any{"values": asAny})
	return s
}

func batchStruct(batches [][]float32) *structpb.Struct {
	rows := make([]any, len(batches))
	for i, b := range batches {
		row := make([]any, len(b))
		for j, v := range b {
			row[j] = float64(v)
		}
		rows[i] = row
	}
	s, _ := structpb.NewStruct(map[string]any{"embeddings": rows})
	return s
}

func valuesFrom(s *structpb.Struct, field string) []float32 {
	list := s.Fields[field].GetListValue()
	if list == nil {
		return nil
	}
	return float32sFromList(list)
}

func float32ListFromValue(v *structpb.Value) []float32 {
	return float32sFromList(v.GetListValue())
}

func float32sFromList(list *structpb.ListValue) []float32 {
	if list == nil {
		return nil
	}
	out := make([]float32, len(list.Values))
	for i, x := range list.Values {
		out[i] = float32(x.GetNumberValue())
	}
	return out
}

func stringListFrom(s *structpb.Struct, field string) []string {
	list := s.Fields[field].GetListValue()
	if list == nil {
		return nil
	}
	out := make([]string, len(list.Values))
	for i, v := range list.Values {
		out[i] = v.GetStringValue()
	}
	return out
}
