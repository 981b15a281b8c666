// Package client is the Go client for the born-serve gRPC API.
//
// A Client targets one serving process and can drive any servable it
// hosts:
//
//	c, err := client.Dial("127.0.0.1:5500")
//	if err != nil { ... }
//	defer c.Close()
//
//	results, err := c.Infer(ctx, "resnet", "classify", []client.Instance{
//		{"image": client.Float32s(pixels, 1, 3, 224, 224)},
//	})
package client

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/born-ml/serve/internal/server"
	"github.com/born-ml/serve/internal/wire"
)

// Client is a connection to one serving process.
type Client struct {
	conn *grpc.ClientConn
}

// Option configures Dial.
type Option func(*options)

type options struct {
	dialOpts []grpc.DialOption
}

// WithDialOptions appends extra gRPC dial options, for credentials or
// interceptors.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(o *options) { o.dialOpts = append(o.dialOpts, opts...) }
}

// Dial connects to a serving process. The connection is plaintext unless
// transport credentials are supplied via WithDialOptions.
func Dial(target string, opts ...Option) (*Client, error) {
	o := options{
		dialOpts: []grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithDefaultCallOptions(grpc.CallContentSubtype(wire.CodecName)),
		},
	}
	for _, opt := range opts {
		opt(&o)
	}

	conn, err := grpc.NewClient(target, o.dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", target, err)
	}
	return &Client{conn: conn}, nil
}

// Close releases the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Instance is one request instance or one result: tensors keyed by the
// servable method's field names.
type Instance map[string]Value

// InferOption adjusts one Infer call.
type InferOption func(*wire.InferRequest)

// WithVersion pins the servable version instead of using the highest
// loaded one.
func WithVersion(version int64) InferOption {
	return func(req *wire.InferRequest) { req.Version = version }
}

// Infer runs one servable method over a batch of instances and returns
// one result per instance, in order.
func (c *Client) Infer(ctx context.Context, servable, method string, instances []Instance, opts ...InferOption) ([]Instance, error) {
	req := &wire.InferRequest{Servable: servable, Method: method}
	for _, opt := range opts {
		opt(req)
	}
	for _, instance := range instances {
		in := wire.Instance{}
		for name, v := range instance {
			if v.err != nil {
				return nil, fmt.Errorf("client: tensor %s: %w", name, v.err)
			}
			t := v.tensor
			t.Name = name
			in.Tensors = append(in.Tensors, t)
		}
		req.Instances = append(req.Instances, in)
	}

	reply := &wire.InferReply{}
	if err := c.conn.Invoke(ctx, methodPath("Infer"), req, reply); err != nil {
		return nil, err
	}

	results := make([]Instance, len(reply.Results))
	for i, res := range reply.Results {
		out := make(Instance, len(res.Tensors))
		for _, t := range res.Tensors {
			out[t.Name] = Value{tensor: t}
		}
		results[i] = out
	}
	return results, nil
}

// ServableInfo describes one loaded servable.
type ServableInfo struct {
	Name     string
	Versions []int64
	Methods  []string
	Inputs   []TensorInfo
	Outputs  []TensorInfo
}

// TensorInfo describes a declared tensor boundary; -1 dims are dynamic.
type TensorInfo struct {
	Name  string
	DType string
	Dims  []int64
}

// Metadata reports one servable's versions, methods and tensors.
func (c *Client) Metadata(ctx context.Context, servable string) (ServableInfo, error) {
	reply := &wire.MetadataReply{}
	err := c.conn.Invoke(ctx, methodPath("Metadata"), &wire.MetadataRequest{Servable: servable}, reply)
	if err != nil {
		return ServableInfo{}, err
	}
	return servableInfo(reply.Info), nil
}

// ListServables reports all loaded servables.
func (c *Client) ListServables(ctx context.Context) ([]ServableInfo, error) {
	reply := &wire.ListServablesReply{}
	if err := c.conn.Invoke(ctx, methodPath("ListServables"), &wire.ListServablesRequest{}, reply); err != nil {
		return nil, err
	}
	out := make([]ServableInfo, len(reply.Servables))
	for i, si := range reply.Servables {
		out[i] = servableInfo(si)
	}
	return out, nil
}

// Health probes the server and returns the number of loaded servables.
func (c *Client) Health(ctx context.Context) (int64, error) {
	reply := &wire.HealthReply{}
	if err := c.conn.Invoke(ctx, methodPath("Health"), &wire.HealthRequest{}, reply); err != nil {
		return 0, err
	}
	if !reply.Serving {
		return reply.Servables, fmt.Errorf("client: server reports not serving")
	}
	return reply.Servables, nil
}

func methodPath(name string) string {
	return "/" + server.ServiceName + "/" + name
}

func servableInfo(si wire.ServableInfo) ServableInfo {
	out := ServableInfo{
		Name:     si.Name,
		Versions: si.Versions,
		Methods:  si.Methods,
	}
	for _, ti := range si.Inputs {
		out.Inputs = append(out.Inputs, TensorInfo{Name: ti.Name, DType: ti.DType.String(), Dims: ti.Dims})
	}
	for _, ti := range si.Outputs {
		out.Outputs = append(out.Outputs, TensorInfo{Name: ti.Name, DType: ti.DType.String(), Dims: ti.Dims})
	}
	return out
}
