package server

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/born-ml/serve/internal/servable"
	"github.com/born-ml/serve/internal/tensor"
	"github.com/born-ml/serve/internal/wire"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "serving.BornServe"

// BornServeServer is the service contract behind the hand-written
// descriptor.
type BornServeServer interface {
	Infer(ctx context.Context, req *wire.InferRequest) (*wire.InferReply, error)
	Metadata(ctx context.Context, req *wire.MetadataRequest) (*wire.MetadataReply, error)
	ListServables(ctx context.Context, req *wire.ListServablesRequest) (*wire.ListServablesReply, error)
	Health(ctx context.Context, req *wire.HealthRequest) (*wire.HealthReply, error)
}

// Service implements BornServeServer over the registry and batcher.
type Service struct {
	registry *servable.Registry
	batcher  *Batcher
	metrics  *Metrics
	logger   *zap.Logger
}

// NewService wires the serving RPCs together.
func NewService(registry *servable.Registry, batcher *Batcher, metrics *Metrics, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		registry: registry,
		batcher:  batcher,
		metrics:  metrics,
		logger:   logger,
	}
}

// Infer resolves the request target, validates the payload, and submits
// the instances to the dispatch queue.
func (s *Service) Infer(ctx context.Context, req *wire.InferRequest) (*wire.InferReply, error) {
	requestID := uuid.NewString()
	start := time.Now()
	s.metrics.inflight.Inc()
	defer s.metrics.inflight.Dec()

	reply, err := s.infer(ctx, requestID, req)
	code := codes.OK
	if err != nil {
		code = status.Code(err)
	}
	s.metrics.recordRequest("Infer", code.String())

	logger := s.logger.With(
		zap.String("request_id", requestID),
		zap.String("servable", req.Servable),
		zap.String("method", req.Method),
		zap.Int("instances", len(req.Instances)),
		zap.Duration("elapsed", time.Since(start)))
	if err != nil {
		logger.Warn("infer failed", zap.String("code", code.String()), zap.Error(err))
		return nil, err
	}
	logger.Info("infer ok")
	return reply, nil
}

func (s *Service) infer(ctx context.Context, requestID string, req *wire.InferRequest) (*wire.InferReply, error) {
	if req.Servable == "" || req.Method == "" {
		return nil, status.Error(codes.InvalidArgument, "servable and method are required")
	}
	if req.Version < 0 {
		return nil, status.Error(codes.InvalidArgument, "version must not be negative")
	}
	if len(req.Instances) == 0 {
		return nil, status.Error(codes.InvalidArgument, "at least one instance is required")
	}

	version, method, err := s.registry.Lookup(req.Servable, req.Version, req.Method)
	if err != nil {
		return nil, lookupStatus(err)
	}

	instances := make([]map[string]*tensor.RawTensor, len(req.Instances))
	for i := range req.Instances {
		instance, err := decodeInstance(&req.Instances[i])
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "instance %d: %v", i, err)
		}
		instances[i] = instance
	}

	key := batchKey{servable: req.Servable, version: version.Number, method: req.Method}
	outputs, err := s.batcher.Submit(ctx, key, method, instances)
	if err != nil {
		switch {
		case errors.Is(err, ErrQueueFull):
			return nil, status.Error(codes.ResourceExhausted, err.Error())
		case errors.Is(err, ErrBatcherStopped):
			return nil, status.Error(codes.Unavailable, err.Error())
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil, status.FromContextError(err).Err()
		default:
			return nil, status.Error(codes.Internal, err.Error())
		}
	}

	reply := &wire.InferReply{RequestID: requestID, Results: make([]wire.Instance, len(outputs))}
	for i, out := range outputs {
		reply.Results[i] = encodeInstance(out)
	}
	return reply, nil
}

// Metadata reports one servable's versions, methods and tensor boundary.
func (s *Service) Metadata(ctx context.Context, req *wire.MetadataRequest) (*wire.MetadataReply, error) {
	if req.Servable == "" {
		return nil, status.Error(codes.InvalidArgument, "servable is required")
	}
	sv, err := s.registry.Get(req.Servable)
	if err != nil {
		s.metrics.recordRequest("Metadata", codes.NotFound.String())
		return nil, lookupStatus(err)
	}
	latest, err := sv.Version(0)
	if err != nil {
		s.metrics.recordRequest("Metadata", codes.NotFound.String())
		return nil, lookupStatus(err)
	}
	s.metrics.recordRequest("Metadata", codes.OK.String())

	info := servable.Info{
		Name:     sv.Name,
		Versions: sv.Versions(),
		Methods:  latest.MethodNames(),
		Inputs:   latest.InputInfo(),
		Outputs:  latest.OutputInfo(),
	}
	return &wire.MetadataReply{Info: servableInfoWire(info)}, nil
}

// ListServables reports all loaded servables.
func (s *Service) ListServables(ctx context.Context, req *wire.ListServablesRequest) (*wire.ListServablesReply, error) {
	s.metrics.recordRequest("ListServables", codes.OK.String())
	infos := s.registry.List()
	reply := &wire.ListServablesReply{Servables: make([]wire.ServableInfo, len(infos))}
	for i, info := range infos {
		reply.Servables[i] = servableInfoWire(info)
	}
	return reply, nil
}

// Health reports serving state.
func (s *Service) Health(ctx context.Context, req *wire.HealthRequest) (*wire.HealthReply, error) {
	s.metrics.recordRequest("Health", codes.OK.String())
	return &wire.HealthReply{
		Serving:   true,
		Servables: int64(len(s.registry.List())),
	}, nil
}

func lookupStatus(err error) error {
	switch {
	case errors.Is(err, servable.ErrServableNotFound),
		errors.Is(err, servable.ErrVersionNotFound),
		errors.Is(err, servable.ErrMethodNotFound):
		return status.Error(codes.NotFound, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func decodeInstance(in *wire.Instance) (map[string]*tensor.RawTensor, error) {
	if len(in.Tensors) == 0 {
		return nil, errors.New("instance has no tensors")
	}
	fields := make(map[string]*tensor.RawTensor, len(in.Tensors))
	for i := range in.Tensors {
		t := &in.Tensors[i]
		raw, err := t.ToRaw()
		if err != nil {
			return nil, err
		}
		fields[t.Name] = raw
	}
	return fields, nil
}

func encodeInstance(fields map[string]*tensor.RawTensor) wire.Instance {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	out := wire.Instance{Tensors: make([]wire.Tensor, 0, len(fields))}
	for _, name := range names {
		out.Tensors = append(out.Tensors, wire.FromRaw(name, fields[name]))
	}
	return out
}

func servableInfoWire(info servable.Info) wire.ServableInfo {
	out := wire.ServableInfo{
		Name:     info.Name,
		Versions: info.Versions,
		Methods:  info.Methods,
	}
	for _, vi := range info.Inputs {
		out.Inputs = append(out.Inputs, wire.TensorInfo{Name: vi.Name, DType: vi.DType, Dims: vi.Dims})
	}
	for _, vi := range info.Outputs {
		out.Outputs = append(out.Outputs, wire.TensorInfo{Name: vi.Name, DType: vi.DType, Dims: vi.Dims})
	}
	return out
}

func inferHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wire.InferRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BornServeServer).Infer(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Infer"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BornServeServer).Infer(ctx, req.(*wire.InferRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func metadataHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wire.MetadataRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BornServeServer).Metadata(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Metadata"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BornServeServer).Metadata(ctx, req.(*wire.MetadataRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func listServablesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wire.ListServablesRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BornServeServer).ListServables(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/ListServables"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BornServeServer).ListServables(ctx, req.(*wire.ListServablesRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func healthHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wire.HealthRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BornServeServer).Health(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Health"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BornServeServer).Health(ctx, req.(*wire.HealthRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// ServiceDesc is the hand-written gRPC descriptor; no generated code
// backs this service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*BornServeServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Infer", Handler: inferHandler},
		{MethodName: "Metadata", Handler: metadataHandler},
		{MethodName: "ListServables", Handler: listServablesHandler},
		{MethodName: "Health", Handler: healthHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "serving/bornserve.proto",
}
