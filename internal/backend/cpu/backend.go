// Package cpu implements the pure-Go CPU compute backend.
package cpu

import (
	"fmt"
	"math"

	"github.com/born-ml/serve/internal/parallel"
	"github.com/born-ml/serve/internal/tensor"
)

// Backend implements tensor.Backend on the host CPU.
type Backend struct {
	device   tensor.Device
	parallel parallel.Config
}

// New creates a new CPU backend parallelised across all cores.
func New() *Backend {
	return &Backend{
		device:   tensor.CPU,
		parallel: parallel.DefaultConfig(),
	}
}

// Name returns the backend name.
func (cpu *Backend) Name() string {
	return "cpu"
}

// Device returns the compute device.
func (cpu *Backend) Device() tensor.Device {
	return cpu.device
}

// Add performs element-wise addition with NumPy-style broadcasting.
func (cpu *Backend) Add(a, b *tensor.RawTensor) (*tensor.RawTensor, error) {
	return cpu.binary("add", a, b, addKernel)
}

// Sub performs element-wise subtraction with broadcasting.
func (cpu *Backend) Sub(a, b *tensor.RawTensor) (*tensor.RawTensor, error) {
	return cpu.binary("sub", a, b, subKernel)
}

// Mul performs element-wise multiplication with broadcasting.
func (cpu *Backend) Mul(a, b *tensor.RawTensor) (*tensor.RawTensor, error) {
	return cpu.binary("mul", a, b, mulKernel)
}

// Div performs element-wise division with broadcasting.
func (cpu *Backend) Div(a, b *tensor.RawTensor) (*tensor.RawTensor, error) {
	return cpu.binary("div", a, b, divKernel)
}

// AddScalar adds a scalar to every element.
func (cpu *Backend) AddScalar(x *tensor.RawTensor, scalar float32) (*tensor.RawTensor, error) {
	return cpu.unaryScalar("addscalar", x, scalar, func(v, s float64) float64 { return v + s })
}

// MulScalar multiplies every element by a scalar.
func (cpu *Backend) MulScalar(x *tensor.RawTensor, scalar float32) (*tensor.RawTensor, error) {
	return cpu.unaryScalar("mulscalar", x, scalar, func(v, s float64) float64 { return v * s })
}

// Exp computes the element-wise exponential.
func (cpu *Backend) Exp(x *tensor.RawTensor) (*tensor.RawTensor, error) {
	return cpu.unaryScalar("exp", x, 0, func(v, _ float64) float64 { return math.Exp(v) })
}

// Log computes the element-wise natural logarithm.
func (cpu *Backend) Log(x *tensor.RawTensor) (*tensor.RawTensor, error) {
	return cpu.unaryScalar("log", x, 0, func(v, _ float64) float64 { return math.Log(v) })
}

// Sqrt computes the element-wise square root.
func (cpu *Backend) Sqrt(x *tensor.RawTensor) (*tensor.RawTensor, error) {
	return cpu.unaryScalar("sqrt", x, 0, func(v, _ float64) float64 { return math.Sqrt(v) })
}

func (cpu *Backend) unaryScalar(name string, x *tensor.RawTensor, scalar float32, f func(v, s float64) float64) (*tensor.RawTensor, error) {
	if x == nil {
		return nil, fmt.Errorf("%s: input tensor is nil", name)
	}
	result, err := tensor.NewRaw(x.Shape(), x.DType(), cpu.device)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	s := float64(scalar)
	switch x.DType() {
	case tensor.Float32:
		in, out := x.AsFloat32(), result.AsFloat32()
		parallel.For(len(in), func(i int) {
			out[i] = float32(f(float64(in[i]), s))
		}, cpu.parallel)
	case tensor.Float64:
		in, out := x.AsFloat64(), result.AsFloat64()
		parallel.For(len(in), func(i int) {
			out[i] = f(in[i], s)
		}, cpu.parallel)
	default:
		return nil, fmt.Errorf("%s: unsupported dtype %s", name, x.DType())
	}
	return result, nil
}
