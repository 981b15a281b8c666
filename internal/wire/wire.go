// Package wire defines the RPC messages of the serving service and their
// protobuf encoding. Messages are hand-written over the pbio wire
// reader/writer, matching how the model parsers handle their formats; no
// generated code is involved.
package wire

import (
	"fmt"

	"github.com/born-ml/serve/internal/graph"
	"github.com/born-ml/serve/internal/tensor"
)

// Tensor is one named tensor payload: dtype and shape describe Data,
// which holds raw little-endian element bytes.
type Tensor struct {
	Name  string
	DType tensor.DataType
	Shape []int64
	Data  []byte
}

// Validate checks that Data matches the declared dtype and shape.
func (t *Tensor) Validate() error {
	shape := make(tensor.Shape, len(t.Shape))
	for i, d := range t.Shape {
		if d < 0 {
			return fmt.Errorf("tensor %s: negative dimension %d", t.Name, d)
		}
		shape[i] = int(d)
	}
	if err := shape.Validate(); err != nil {
		return fmt.Errorf("tensor %s: %w", t.Name, err)
	}
	want := shape.NumElements() * t.DType.Size()
	if len(t.Data) != want {
		return fmt.Errorf("tensor %s: %d data bytes for shape %v (%s), want %d",
			t.Name, len(t.Data), t.Shape, t.DType, want)
	}
	return nil
}

// ToRaw converts the payload into a runtime tensor on the CPU device.
func (t *Tensor) ToRaw() (*tensor.RawTensor, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	shape := make(tensor.Shape, len(t.Shape))
	for i, d := range t.Shape {
		shape[i] = int(d)
	}
	return tensor.NewRawFromBytes(shape, t.DType, tensor.CPU, t.Data)
}

// FromRaw converts a runtime tensor into a payload.
func FromRaw(name string, raw *tensor.RawTensor) Tensor {
	shape := make([]int64, len(raw.Shape()))
	for i, d := range raw.Shape() {
		shape[i] = int64(d)
	}
	return Tensor{
		Name:  name,
		DType: raw.DType(),
		Shape: shape,
		Data:  raw.Data(),
	}
}

// Instance is one request instance or one result: a set of named
// tensors.
type Instance struct {
	Tensors []Tensor
}

// Get returns a tensor by name.
func (in *Instance) Get(name string) (*Tensor, bool) {
	for i := range in.Tensors {
		if in.Tensors[i].Name == name {
			return &in.Tensors[i], true
		}
	}
	return nil, false
}

// InferRequest targets one servable method with a batch of instances.
// Version 0 selects the highest loaded version.
type InferRequest struct {
	Servable  string
	Method    string
	Version   int64
	Instances []Instance
}

// InferReply carries one result per request instance, in request order.
type InferReply struct {
	RequestID string
	Results   []Instance
}

// TensorInfo describes a declared graph input or output; -1 dims are
// dynamic.
type TensorInfo struct {
	Name  string
	DType tensor.DataType
	Dims  []int64
}

// ServableInfo summarizes one loaded servable.
type ServableInfo struct {
	Name     string
	Versions []int64
	Methods  []string
	Inputs   []TensorInfo
	Outputs  []TensorInfo
}

// MetadataRequest asks for one servable's summary.
type MetadataRequest struct {
	Servable string
}

// MetadataReply answers a MetadataRequest.
type MetadataReply struct {
	Info ServableInfo
}

// ListServablesRequest asks for all loaded servables.
type ListServablesRequest struct{}

// ListServablesReply answers a ListServablesRequest.
type ListServablesReply struct {
	Servables []ServableInfo
}

// HealthRequest probes the server.
type HealthRequest struct{}

// HealthReply reports serving state and the number of loaded servables.
type HealthReply struct {
	Serving   bool
	Servables int64
}

// dtypeWire maps DataType to its wire code, shared with the model
// formats.
func dtypeWire(dt tensor.DataType) int64 {
	return int64(graph.DataTypeWire(dt))
}

func wireDType(code int64) (tensor.DataType, error) {
	return graph.WireDataType(int32(code))
}
