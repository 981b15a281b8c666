package tensor

import (
	"fmt"
	"sort"
)

// axisSpans returns the outer/axis/inner element counts for reducing along
// one axis of a shape.
func axisSpans(shape Shape, axis int) (outer, size, inner int) {
	outer, size, inner = 1, shape[axis], 1
	for i := 0; i < axis; i++ {
		outer *= shape[i]
	}
	for i := axis + 1; i < len(shape); i++ {
		inner *= shape[i]
	}
	return outer, size, inner
}

// reducedShape drops or keeps the reduced axis depending on keepDims.
func reducedShape(shape Shape, axis int, keepDims bool) Shape {
	if keepDims {
		out := shape.Clone()
		out[axis] = 1
		return out
	}
	out := make(Shape, 0, len(shape)-1)
	out = append(out, shape[:axis]...)
	out = append(out, shape[axis+1:]...)
	if len(out) == 0 {
		out = Shape{1}
	}
	return out
}

// ArgMax returns the index of the maximum value along an axis as an Int64
// tensor.
func ArgMax(x *RawTensor, axis int, keepDims bool) (*RawTensor, error) {
	if x == nil {
		return nil, fmt.Errorf("ArgMax: input tensor is nil")
	}
	axis, err := normalizeAxis(axis, len(x.shape))
	if err != nil {
		return nil, fmt.Errorf("ArgMax: %w", err)
	}

	result, err := NewRaw(reducedShape(x.shape, axis, keepDims), Int64, x.device)
	if err != nil {
		return nil, fmt.Errorf("ArgMax: %w", err)
	}
	out := result.AsInt64()

	switch x.dtype {
	case Float32:
		argmaxAxis(x.AsFloat32(), out, x.shape, axis)
	case Float64:
		argmaxAxis(x.AsFloat64(), out, x.shape, axis)
	case Int32:
		argmaxAxis(x.AsInt32(), out, x.shape, axis)
	case Int64:
		argmaxAxis(x.AsInt64(), out, x.shape, axis)
	default:
		return nil, fmt.Errorf("ArgMax: unsupported dtype %v", x.dtype)
	}
	return result, nil
}

func argmaxAxis[T float32 | float64 | int32 | int64](in []T, out []int64, shape Shape, axis int) {
	outer, size, inner := axisSpans(shape, axis)
	for o := 0; o < outer; o++ {
		for i := 0; i < inner; i++ {
			best := in[o*size*inner+i]
			bestIdx := int64(0)
			for a := 1; a < size; a++ {
				v := in[o*size*inner+a*inner+i]
				if v > best {
					best = v
					bestIdx = int64(a)
				}
			}
			out[o*inner+i] = bestIdx
		}
	}
}

// ReduceMean averages values along an axis.
func ReduceMean(x *RawTensor, axis int, keepDims bool) (*RawTensor, error) {
	return reduceFloat(x, "ReduceMean", axis, keepDims, true)
}

// ReduceSum sums values along an axis.
func ReduceSum(x *RawTensor, axis int, keepDims bool) (*RawTensor, error) {
	return reduceFloat(x, "ReduceSum", axis, keepDims, false)
}

func reduceFloat(x *RawTensor, name string, axis int, keepDims, mean bool) (*RawTensor, error) {
	if x == nil {
		return nil, fmt.Errorf("%s: input tensor is nil", name)
	}
	axis, err := normalizeAxis(axis, len(x.shape))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	result, err := NewRaw(reducedShape(x.shape, axis, keepDims), x.dtype, x.device)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	switch x.dtype {
	case Float32:
		reduceAxis(x.AsFloat32(), result.AsFloat32(), x.shape, axis, mean)
	case Float64:
		reduceAxis(x.AsFloat64(), result.AsFloat64(), x.shape, axis, mean)
	default:
		return nil, fmt.Errorf("%s: unsupported dtype %v", name, x.dtype)
	}
	return result, nil
}

func reduceAxis[T float32 | float64](in, out []T, shape Shape, axis int, mean bool) {
	outer, size, inner := axisSpans(shape, axis)
	for o := 0; o < outer; o++ {
		for i := 0; i < inner; i++ {
			var sum T
			for a := 0; a < size; a++ {
				sum += in[o*size*inner+a*inner+i]
			}
			if mean {
				sum /= T(size)
			}
			out[o*inner+i] = sum
		}
	}
}

// TopK returns the k largest values along the last axis together with their
// indices, both sorted by descending value. Used by the top_k postprocess
// stage.
func TopK(x *RawTensor, k int) (values, indices *RawTensor, err error) {
	if x == nil {
		return nil, nil, fmt.Errorf("TopK: input tensor is nil")
	}
	if x.dtype != Float32 {
		return nil, nil, fmt.Errorf("TopK: unsupported dtype %v", x.dtype)
	}
	axis := len(x.shape) - 1
	if axis < 0 {
		return nil, nil, fmt.Errorf("TopK: scalar input")
	}
	size := x.shape[axis]
	if k <= 0 || k > size {
		return nil, nil, fmt.Errorf("TopK: k=%d out of range for axis size %d", k, size)
	}

	outShape := x.shape.Clone()
	outShape[axis] = k
	values, err = NewRaw(outShape, Float32, x.device)
	if err != nil {
		return nil, nil, fmt.Errorf("TopK: %w", err)
	}
	indices, err = NewRaw(outShape, Int64, x.device)
	if err != nil {
		return nil, nil, fmt.Errorf("TopK: %w", err)
	}

	in := x.AsFloat32()
	outV := values.AsFloat32()
	outI := indices.AsInt64()
	rows := x.NumElements() / size

	order := make([]int, size)
	for r := 0; r < rows; r++ {
		row := in[r*size : (r+1)*size]
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(a, b int) bool {
			return row[order[a]] > row[order[b]]
		})
		for i := 0; i < k; i++ {
			outV[r*k+i] = row[order[i]]
			outI[r*k+i] = int64(order[i])
		}
	}
	return values, indices, nil
}
