package cpu

import (
	"fmt"

	"github.com/born-ml/serve/internal/parallel"
	"github.com/born-ml/serve/internal/tensor"
)

// binaryKernel applies one element-wise operation on already-broadcast
// operand values, per dtype family.
type binaryKernel struct {
	f32 func(a, b float32) float32
	f64 func(a, b float64) float64
	i32 func(a, b int32) int32
	i64 func(a, b int64) int64
}

var (
	addKernel = binaryKernel{
		f32: func(a, b float32) float32 { return a + b },
		f64: func(a, b float64) float64 { return a + b },
		i32: func(a, b int32) int32 { return a + b },
		i64: func(a, b int64) int64 { return a + b },
	}
	subKernel = binaryKernel{
		f32: func(a, b float32) float32 { return a - b },
		f64: func(a, b float64) float64 { return a - b },
		i32: func(a, b int32) int32 { return a - b },
		i64: func(a, b int64) int64 { return a - b },
	}
	mulKernel = binaryKernel{
		f32: func(a, b float32) float32 { return a * b },
		f64: func(a, b float64) float64 { return a * b },
		i32: func(a, b int32) int32 { return a * b },
		i64: func(a, b int64) int64 { return a * b },
	}
	divKernel = binaryKernel{
		f32: func(a, b float32) float32 { return a / b },
		f64: func(a, b float64) float64 { return a / b },
		i32: func(a, b int32) int32 { return a / b },
		i64: func(a, b int64) int64 { return a / b },
	}
)

// binary runs an element-wise binary op with broadcasting.
func (cpu *Backend) binary(name string, a, b *tensor.RawTensor, k binaryKernel) (*tensor.RawTensor, error) {
	if a == nil || b == nil {
		return nil, fmt.Errorf("%s: input tensors cannot be nil", name)
	}
	if a.DType() != b.DType() {
		return nil, fmt.Errorf("%s: dtype mismatch %s vs %s", name, a.DType(), b.DType())
	}

	outShape, needsBroadcast, err := tensor.BroadcastShapes(a.Shape(), b.Shape())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	result, err := tensor.NewRaw(outShape, a.DType(), cpu.device)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	switch a.DType() {
	case tensor.Float32:
		binaryTyped(a.AsFloat32(), b.AsFloat32(), result.AsFloat32(), a.Shape(), b.Shape(), outShape, needsBroadcast, k.f32, cpu.parallel)
	case tensor.Float64:
		binaryTyped(a.AsFloat64(), b.AsFloat64(), result.AsFloat64(), a.Shape(), b.Shape(), outShape, needsBroadcast, k.f64, cpu.parallel)
	case tensor.Int32:
		binaryTyped(a.AsInt32(), b.AsInt32(), result.AsInt32(), a.Shape(), b.Shape(), outShape, needsBroadcast, k.i32, cpu.parallel)
	case tensor.Int64:
		binaryTyped(a.AsInt64(), b.AsInt64(), result.AsInt64(), a.Shape(), b.Shape(), outShape, needsBroadcast, k.i64, cpu.parallel)
	default:
		return nil, fmt.Errorf("%s: unsupported dtype %s", name, a.DType())
	}
	return result, nil
}

func binaryTyped[T float32 | float64 | int32 | int64](
	a, b, out []T,
	aShape, bShape, outShape tensor.Shape,
	needsBroadcast bool,
	f func(a, b T) T,
	cfg parallel.Config,
) {
	if !needsBroadcast {
		// Fast path: identical shapes, flat loop.
		parallel.For(len(out), func(i int) {
			out[i] = f(a[i], b[i])
		}, cfg)
		return
	}

	rank := len(outShape)
	outStrides := outShape.ComputeStrides()
	aStrides := broadcastStrides(aShape, rank)
	bStrides := broadcastStrides(bShape, rank)

	parallel.For(len(out), func(i int) {
		rem := i
		ai, bi := 0, 0
		for d := 0; d < rank; d++ {
			idx := rem / outStrides[d]
			rem %= outStrides[d]
			ai += idx * aStrides[d]
			bi += idx * bStrides[d]
		}
		out[i] = f(a[ai], b[bi])
	}, cfg)
}

// broadcastStrides aligns a shape's strides to the output rank, with 0 for
// broadcast (size-1 or missing) dimensions.
func broadcastStrides(shape tensor.Shape, outRank int) []int {
	strides := make([]int, outRank)
	src := shape.ComputeStrides()
	offset := outRank - len(shape)
	for d := 0; d < len(shape); d++ {
		if shape[d] != 1 {
			strides[offset+d] = src[d]
		}
	}
	return strides
}
