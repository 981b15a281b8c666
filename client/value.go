package client

import (
	"fmt"

	"github.com/born-ml/serve/internal/tensor"
	"github.com/born-ml/serve/internal/wire"
)

// Value is one tensor payload. Build request values with the typed
// constructors; read result values with the typed accessors.
type Value struct {
	tensor wire.Tensor
	err    error
}

func fromSlice[T tensor.DType](values []T, shape []int64) Value {
	if len(shape) == 0 {
		shape = []int64{int64(len(values))}
	}
	dims := make(tensor.Shape, len(shape))
	for i, d := range shape {
		if d < 0 {
			return Value{err: fmt.Errorf("negative dimension %d", d)}
		}
		dims[i] = int(d)
	}
	raw, err := tensor.FromSlice(values, dims, tensor.CPU)
	if err != nil {
		return Value{err: err}
	}
	return Value{tensor: wire.FromRaw("", raw)}
}

// Float32s builds a float32 tensor. With no shape the value is a flat
// vector.
func Float32s(values []float32, shape ...int64) Value {
	return fromSlice(values, shape)
}

// Float64s builds a float64 tensor.
func Float64s(values []float64, shape ...int64) Value {
	return fromSlice(values, shape)
}

// Int32s builds an int32 tensor.
func Int32s(values []int32, shape ...int64) Value {
	return fromSlice(values, shape)
}

// Int64s builds an int64 tensor.
func Int64s(values []int64, shape ...int64) Value {
	return fromSlice(values, shape)
}

// Text builds a uint8 tensor carrying a UTF-8 string, for methods that
// tokenize their input.
func Text(s string) Value {
	return fromSlice([]byte(s), nil)
}

// DType names the element type.
func (v Value) DType() string {
	return v.tensor.DType.String()
}

// Shape returns the tensor dimensions.
func (v Value) Shape() []int64 {
	return v.tensor.Shape
}

// Float32s decodes a float32 result.
func (v Value) Float32s() ([]float32, error) {
	raw, err := v.raw(tensor.Float32)
	if err != nil {
		return nil, err
	}
	return raw.AsFloat32(), nil
}

// Float64s decodes a float64 result.
func (v Value) Float64s() ([]float64, error) {
	raw, err := v.raw(tensor.Float64)
	if err != nil {
		return nil, err
	}
	return raw.AsFloat64(), nil
}

// Int32s decodes an int32 result.
func (v Value) Int32s() ([]int32, error) {
	raw, err := v.raw(tensor.Int32)
	if err != nil {
		return nil, err
	}
	return raw.AsInt32(), nil
}

// Int64s decodes an int64 result.
func (v Value) Int64s() ([]int64, error) {
	raw, err := v.raw(tensor.Int64)
	if err != nil {
		return nil, err
	}
	return raw.AsInt64(), nil
}

func (v Value) raw(want tensor.DataType) (*tensor.RawTensor, error) {
	if v.err != nil {
		return nil, v.err
	}
	if v.tensor.DType != want {
		return nil, fmt.Errorf("tensor is %s, not %s", v.tensor.DType, want)
	}
	return v.tensor.ToRaw()
}
