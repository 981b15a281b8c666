package cpu

import (
	"fmt"

	"github.com/born-ml/serve/internal/parallel"
	"github.com/born-ml/serve/internal/tensor"
)

// MatMul performs matrix multiplication.
// For 2D tensors: (M, K) @ (K, N) -> (M, N).
func (cpu *Backend) MatMul(a, b *tensor.RawTensor) (*tensor.RawTensor, error) {
	if a == nil || b == nil {
		return nil, fmt.Errorf("matmul: input tensors cannot be nil")
	}
	aShape := a.Shape()
	bShape := b.Shape()

	if len(aShape) != 2 || len(bShape) != 2 {
		return nil, fmt.Errorf("matmul: only 2D tensors supported, got %dD and %dD", len(aShape), len(bShape))
	}

	m, k := aShape[0], aShape[1]
	kAlt, n := bShape[0], bShape[1]
	if k != kAlt {
		return nil, fmt.Errorf("matmul: shape mismatch [%d,%d] @ [%d,%d]", m, k, kAlt, n)
	}

	result, err := tensor.NewRaw(tensor.Shape{m, n}, a.DType(), cpu.device)
	if err != nil {
		return nil, fmt.Errorf("matmul: %w", err)
	}

	switch a.DType() {
	case tensor.Float32:
		matmulRows(result.AsFloat32(), a.AsFloat32(), b.AsFloat32(), m, k, n, cpu.parallel)
	case tensor.Float64:
		matmulRows(result.AsFloat64(), a.AsFloat64(), b.AsFloat64(), m, k, n, cpu.parallel)
	default:
		return nil, fmt.Errorf("matmul: unsupported dtype %s", a.DType())
	}
	return result, nil
}

// matmulRows computes C[i,j] = sum_k A[i,k] * B[k,j], parallel over rows.
// The inner loops run k-outermost so B is walked sequentially per row.
func matmulRows[T float32 | float64](c, a, b []T, m, k, n int, cfg parallel.Config) {
	parallel.For(m, func(i int) {
		row := c[i*n : (i+1)*n]
		for j := range row {
			row[j] = 0
		}
		for kIdx := 0; kIdx < k; kIdx++ {
			av := a[i*k+kIdx]
			if av == 0 {
				continue
			}
			bRow := b[kIdx*n : (kIdx+1)*n]
			for j, bv := range bRow {
				row[j] += av * bv
			}
		}
	}, cfg)
}

// BatchMatMul performs batched matrix multiplication for 3D/4D tensors.
// For 3D: [B, M, K] @ [B, K, N] -> [B, M, N]
// For 4D: [B, H, M, K] @ [B, H, K, N] -> [B, H, M, N]
func (cpu *Backend) BatchMatMul(a, b *tensor.RawTensor) (*tensor.RawTensor, error) {
	if a == nil || b == nil {
		return nil, fmt.Errorf("batchmatmul: input tensors cannot be nil")
	}
	aShape := a.Shape()
	bShape := b.Shape()

	if len(aShape) != len(bShape) || (len(aShape) != 3 && len(aShape) != 4) {
		return nil, fmt.Errorf("batchmatmul: need matching 3D or 4D tensors, got %v and %v", aShape, bShape)
	}

	batch := 1
	for i := 0; i < len(aShape)-2; i++ {
		if aShape[i] != bShape[i] {
			return nil, fmt.Errorf("batchmatmul: batch dimension %d mismatch: %d vs %d", i, aShape[i], bShape[i])
		}
		batch *= aShape[i]
	}

	m, k := aShape[len(aShape)-2], aShape[len(aShape)-1]
	kAlt, n := bShape[len(bShape)-2], bShape[len(bShape)-1]
	if k != kAlt {
		return nil, fmt.Errorf("batchmatmul: inner dimension mismatch %d vs %d", k, kAlt)
	}

	outShape := aShape.Clone()
	outShape[len(outShape)-1] = n
	result, err := tensor.NewRaw(outShape, a.DType(), cpu.device)
	if err != nil {
		return nil, fmt.Errorf("batchmatmul: %w", err)
	}

	seq := parallel.Config{Enabled: false}
	switch a.DType() {
	case tensor.Float32:
		av, bv, cv := a.AsFloat32(), b.AsFloat32(), result.AsFloat32()
		parallel.For(batch, func(i int) {
			matmulRows(cv[i*m*n:(i+1)*m*n], av[i*m*k:(i+1)*m*k], bv[i*k*n:(i+1)*k*n], m, k, n, seq)
		}, cpu.parallel)
	case tensor.Float64:
		av, bv, cv := a.AsFloat64(), b.AsFloat64(), result.AsFloat64()
		parallel.For(batch, func(i int) {
			matmulRows(cv[i*m*n:(i+1)*m*n], av[i*m*k:(i+1)*m*k], bv[i*k*n:(i+1)*k*n], m, k, n, seq)
		}, cpu.parallel)
	default:
		return nil, fmt.Errorf("batchmatmul: unsupported dtype %s", a.DType())
	}
	return result, nil
}
