package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/born-ml/serve/internal/tensor"
	"github.com/born-ml/serve/internal/wire"
)

// HTTPService exposes the JSON surface over the same service
// implementation the gRPC server uses.
type HTTPService struct {
	service *Service
	metrics *Metrics
	logger  *zap.Logger
}

// NewHTTPService wraps the serving RPCs for JSON clients.
func NewHTTPService(service *Service, metrics *Metrics, logger *zap.Logger) *HTTPService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPService{service: service, metrics: metrics, logger: logger}
}

// RegisterRoutes mounts the JSON and probe endpoints.
func (h *HTTPService) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", h.handleHealthz)
	mux.HandleFunc("/readyz", h.handleReadyz)
	mux.Handle("/metrics", h.metrics.Handler())
	mux.HandleFunc("/v1/servables", h.handleList)
	mux.HandleFunc("/v1/servables/", h.handleServable)
}

// jsonTensor is the JSON form of a tensor payload. Numeric data rides in
// "data"; "text" carries a UTF-8 string as a uint8 tensor for tokenized
// inputs.
type jsonTensor struct {
	DType string    `json:"dtype,omitempty"`
	Shape []int64   `json:"shape,omitempty"`
	Data  []float64 `json:"data,omitempty"`
	Text  string    `json:"text,omitempty"`
}

type jsonInferRequest struct {
	Version   int64                   `json:"version,omitempty"`
	Instances []map[string]jsonTensor `json:"instances"`
}

type jsonInferReply struct {
	RequestID string                  `json:"request_id"`
	Results   []map[string]jsonTensor `json:"results"`
}

func (h *HTTPService) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	reply, _ := h.service.Health(r.Context(), &wire.HealthRequest{})
	writeJSON(w, http.StatusOK, map[string]any{
		"serving":   reply.Serving,
		"servables": reply.Servables,
	})
}

func (h *HTTPService) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	reply, _ := h.service.Health(r.Context(), &wire.HealthRequest{})
	if reply.Servables == 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ready": true})
}

func (h *HTTPService) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	reply, err := h.service.ListServables(r.Context(), &wire.ListServablesRequest{})
	if err != nil {
		writeStatusError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(reply.Servables))
	for _, si := range reply.Servables {
		out = append(out, servableInfoJSON(si))
	}
	writeJSON(w, http.StatusOK, map[string]any{"servables": out})
}

// handleServable routes /v1/servables/{name} and
// /v1/servables/{name}/methods/{method}:infer.
func (h *HTTPService) handleServable(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/servables/")
	parts := strings.Split(rest, "/")

	switch {
	case len(parts) == 1 && parts[0] != "":
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.handleMetadata(w, r, parts[0])
	case len(parts) == 3 && parts[1] == "methods" && strings.HasSuffix(parts[2], ":infer"):
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.handleInfer(w, r, parts[0], strings.TrimSuffix(parts[2], ":infer"))
	default:
		http.NotFound(w, r)
	}
}

func (h *HTTPService) handleMetadata(w http.ResponseWriter, r *http.Request, name string) {
	reply, err := h.service.Metadata(r.Context(), &wire.MetadataRequest{Servable: name})
	if err != nil {
		writeStatusError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, servableInfoJSON(reply.Info))
}

func (h *HTTPService) handleInfer(w http.ResponseWriter, r *http.Request, name, method string) {
	var body jsonInferRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON: " + err.Error()})
		return
	}

	req := &wire.InferRequest{
		Servable: name,
		Method:   method,
		Version:  body.Version,
	}
	for i, instance := range body.Instances {
		in, err := instanceFromJSON(instance)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error": fmt.Sprintf("instance %d: %v", i, err),
			})
			return
		}
		req.Instances = append(req.Instances, in)
	}

	reply, err := h.service.Infer(r.Context(), req)
	if err != nil {
		writeStatusError(w, err)
		return
	}

	out := jsonInferReply{RequestID: reply.RequestID}
	for _, result := range reply.Results {
		fields := make(map[string]jsonTensor, len(result.Tensors))
		for i := range result.Tensors {
			jt, err := tensorToJSON(&result.Tensors[i])
			if err != nil {
				writeStatusError(w, status.Error(codes.Internal, err.Error()))
				return
			}
			fields[result.Tensors[i].Name] = jt
		}
		out.Results = append(out.Results, fields)
	}
	writeJSON(w, http.StatusOK, out)
}

func instanceFromJSON(fields map[string]jsonTensor) (wire.Instance, error) {
	in := wire.Instance{}
	for name, jt := range fields {
		t, err := tensorFromJSON(name, jt)
		if err != nil {
			return wire.Instance{}, err
		}
		in.Tensors = append(in.Tensors, t)
	}
	if len(in.Tensors) == 0 {
		return wire.Instance{}, fmt.Errorf("instance has no tensors")
	}
	return in, nil
}

func tensorFromJSON(name string, jt jsonTensor) (wire.Tensor, error) {
	if jt.Text != "" {
		if len(jt.Data) > 0 {
			return wire.Tensor{}, fmt.Errorf("tensor %s: text and data are mutually exclusive", name)
		}
		raw, err := tensor.FromSlice([]byte(jt.Text), tensor.Shape{len(jt.Text)}, tensor.CPU)
		if err != nil {
			return wire.Tensor{}, err
		}
		return wire.FromRaw(name, raw), nil
	}

	dtypeName := jt.DType
	if dtypeName == "" {
		dtypeName = "float32"
	}
	dtype, err := tensor.ParseDataType(dtypeName)
	if err != nil {
		return wire.Tensor{}, fmt.Errorf("tensor %s: %w", name, err)
	}

	shape := jt.Shape
	if shape == nil {
		shape = []int64{int64(len(jt.Data))}
	}

	raw, err := rawFromFloats(jt.Data, shape, dtype)
	if err != nil {
		return wire.Tensor{}, fmt.Errorf("tensor %s: %w", name, err)
	}
	return wire.FromRaw(name, raw), nil
}

func rawFromFloats(data []float64, dims []int64, dtype tensor.DataType) (*tensor.RawTensor, error) {
	shape := make(tensor.Shape, len(dims))
	for i, d := range dims {
		if d < 0 {
			return nil, fmt.Errorf("negative dimension %d", d)
		}
		shape[i] = int(d)
	}
	if shape.NumElements() != len(data) {
		return nil, fmt.Errorf("%d values for shape %v", len(data), dims)
	}

	switch dtype {
	case tensor.Float32:
		values := make([]float32, len(data))
		for i, v := range data {
			values[i] = float32(v)
		}
		return tensor.FromSlice(values, shape, tensor.CPU)
	case tensor.Float64:
		values := make([]float64, len(data))
		copy(values, data)
		return tensor.FromSlice(values, shape, tensor.CPU)
	case tensor.Int32:
		values := make([]int32, len(data))
		for i, v := range data {
			values[i] = int32(v)
		}
		return tensor.FromSlice(values, shape, tensor.CPU)
	case tensor.Int64:
		values := make([]int64, len(data))
		for i, v := range data {
			values[i] = int64(v)
		}
		return tensor.FromSlice(values, shape, tensor.CPU)
	case tensor.Uint8:
		values := make([]uint8, len(data))
		for i, v := range data {
			values[i] = uint8(v)
		}
		return tensor.FromSlice(values, shape, tensor.CPU)
	default:
		return nil, fmt.Errorf("dtype %s is not supported over JSON", dtype)
	}
}

func tensorToJSON(t *wire.Tensor) (jsonTensor, error) {
	raw, err := t.ToRaw()
	if err != nil {
		return jsonTensor{}, err
	}

	out := jsonTensor{DType: raw.DType().String(), Shape: t.Shape}
	switch raw.DType() {
	case tensor.Float32:
		for _, v := range raw.AsFloat32() {
			out.Data = append(out.Data, float64(v))
		}
	case tensor.Float64:
		out.Data = append(out.Data, raw.AsFloat64()...)
	case tensor.Int32:
		for _, v := range raw.AsInt32() {
			out.Data = append(out.Data, float64(v))
		}
	case tensor.Int64:
		for _, v := range raw.AsInt64() {
			out.Data = append(out.Data, float64(v))
		}
	case tensor.Uint8:
		for _, v := range raw.AsUint8() {
			out.Data = append(out.Data, float64(v))
		}
	case tensor.Bool:
		for _, v := range raw.AsBool() {
			if v {
				out.Data = append(out.Data, 1)
			} else {
				out.Data = append(out.Data, 0)
			}
		}
	default:
		return jsonTensor{}, fmt.Errorf("dtype %s is not supported over JSON", raw.DType())
	}
	if out.Data == nil {
		out.Data = []float64{}
	}
	return out, nil
}

func servableInfoJSON(si wire.ServableInfo) map[string]any {
	tensorInfos := func(infos []wire.TensorInfo) []map[string]any {
		out := make([]map[string]any, 0, len(infos))
		for _, ti := range infos {
			out = append(out, map[string]any{
				"name":  ti.Name,
				"dtype": ti.DType.String(),
				"dims":  ti.Dims,
			})
		}
		return out
	}
	return map[string]any{
		"name":     si.Name,
		"versions": si.Versions,
		"methods":  si.Methods,
		"inputs":   tensorInfos(si.Inputs),
		"outputs":  tensorInfos(si.Outputs),
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeStatusError maps a gRPC status error onto an HTTP response.
func writeStatusError(w http.ResponseWriter, err error) {
	st := status.Convert(err)
	httpCode := http.StatusInternalServerError
	switch st.Code() {
	case codes.NotFound:
		httpCode = http.StatusNotFound
	case codes.InvalidArgument:
		httpCode = http.StatusBadRequest
	case codes.ResourceExhausted:
		httpCode = http.StatusTooManyRequests
	case codes.Unavailable:
		httpCode = http.StatusServiceUnavailable
	case codes.Canceled, codes.DeadlineExceeded:
		httpCode = http.StatusRequestTimeout
	}
	writeJSON(w, httpCode, map[string]any{
		"code":  st.Code().String(),
		"error": st.Message(),
	})
}
