package tensor

import "fmt"

// Shape-manipulation ops operate on raw bytes with the element size taken
// from the dtype, so every supported dtype goes through one code path.

// Reshape returns a tensor with a new shape sharing the same data.
// One dimension may be -1 and is inferred from the element count.
func Reshape(x *RawTensor, newShape Shape) (*RawTensor, error) {
	if x == nil {
		return nil, fmt.Errorf("Reshape: input tensor is nil")
	}

	// Resolve a single -1 dimension.
	inferIdx := -1
	known := 1
	for i, dim := range newShape {
		switch {
		case dim == -1:
			if inferIdx >= 0 {
				return nil, fmt.Errorf("Reshape: at most one dimension may be -1, got %v", newShape)
			}
			inferIdx = i
		case dim == 0:
			// ONNX semantics: 0 copies the input dimension.
			if i >= len(x.shape) {
				return nil, fmt.Errorf("Reshape: dimension 0 at index %d has no input counterpart", i)
			}
			newShape[i] = x.shape[i]
			known *= newShape[i]
		case dim > 0:
			known *= dim
		default:
			return nil, fmt.Errorf("Reshape: invalid dimension %d", dim)
		}
	}
	if inferIdx >= 0 {
		total := x.NumElements()
		if known == 0 || total%known != 0 {
			return nil, fmt.Errorf("Reshape: cannot infer dimension for shape %v from %d elements", newShape, total)
		}
		newShape = newShape.Clone()
		newShape[inferIdx] = total / known
	}

	result, err := x.WithShape(newShape)
	if err != nil {
		return nil, fmt.Errorf("Reshape: %w", err)
	}
	return result, nil
}

// TransposeAxes permutes the tensor's axes. With no axes given the order is
// reversed (matrix transpose for 2D).
func TransposeAxes(x *RawTensor, axes ...int) (*RawTensor, error) {
	if x == nil {
		return nil, fmt.Errorf("Transpose: input tensor is nil")
	}

	rank := len(x.shape)
	if len(axes) == 0 {
		axes = make([]int, rank)
		for i := range axes {
			axes[i] = rank - 1 - i
		}
	}
	if len(axes) != rank {
		return nil, fmt.Errorf("Transpose: got %d axes for rank %d", len(axes), rank)
	}

	seen := make([]bool, rank)
	newShape := make(Shape, rank)
	for i, a := range axes {
		if a < 0 || a >= rank || seen[a] {
			return nil, fmt.Errorf("Transpose: invalid axes permutation %v", axes)
		}
		seen[a] = true
		newShape[i] = x.shape[a]
	}

	result, err := NewRaw(newShape, x.dtype, x.device)
	if err != nil {
		return nil, fmt.Errorf("Transpose: %w", err)
	}

	elemSize := x.dtype.Size()
	inStrides := x.shape.ComputeStrides()
	outStrides := newShape.ComputeStrides()
	idx := make([]int, rank)

	for flat := 0; flat < x.NumElements(); flat++ {
		// Decompose output index, map through the permutation.
		rem := flat
		for d := 0; d < rank; d++ {
			idx[d] = rem / outStrides[d]
			rem %= outStrides[d]
		}
		src := 0
		for d := 0; d < rank; d++ {
			src += idx[d] * inStrides[axes[d]]
		}
		copy(result.data[flat*elemSize:(flat+1)*elemSize], x.data[src*elemSize:(src+1)*elemSize])
	}
	return result, nil
}

// Squeeze removes dimensions of size 1. With axes given, only those
// dimensions are removed (and must be of size 1).
func Squeeze(x *RawTensor, axes ...int) (*RawTensor, error) {
	if x == nil {
		return nil, fmt.Errorf("Squeeze: input tensor is nil")
	}

	drop := make(map[int]bool, len(axes))
	for _, a := range axes {
		n, err := normalizeAxis(a, len(x.shape))
		if err != nil {
			return nil, fmt.Errorf("Squeeze: %w", err)
		}
		if x.shape[n] != 1 {
			return nil, fmt.Errorf("Squeeze: axis %d has size %d, not 1", n, x.shape[n])
		}
		drop[n] = true
	}

	newShape := make(Shape, 0, len(x.shape))
	for i, dim := range x.shape {
		if len(axes) == 0 && dim == 1 {
			continue
		}
		if drop[i] {
			continue
		}
		newShape = append(newShape, dim)
	}

	result, err := x.WithShape(newShape)
	if err != nil {
		return nil, fmt.Errorf("Squeeze: %w", err)
	}
	return result, nil
}

// Unsqueeze inserts dimensions of size 1 at the given axes (relative to the
// output rank).
func Unsqueeze(x *RawTensor, axes ...int) (*RawTensor, error) {
	if x == nil {
		return nil, fmt.Errorf("Unsqueeze: input tensor is nil")
	}
	if len(axes) == 0 {
		return nil, fmt.Errorf("Unsqueeze: requires at least one axis")
	}

	outRank := len(x.shape) + len(axes)
	insert := make(map[int]bool, len(axes))
	for _, a := range axes {
		n, err := normalizeAxis(a, outRank)
		if err != nil {
			return nil, fmt.Errorf("Unsqueeze: %w", err)
		}
		if insert[n] {
			return nil, fmt.Errorf("Unsqueeze: duplicate axis %d", n)
		}
		insert[n] = true
	}

	newShape := make(Shape, 0, outRank)
	src := 0
	for i := 0; i < outRank; i++ {
		if insert[i] {
			newShape = append(newShape, 1)
			continue
		}
		newShape = append(newShape, x.shape[src])
		src++
	}

	result, err := x.WithShape(newShape)
	if err != nil {
		return nil, fmt.Errorf("Unsqueeze: %w", err)
	}
	return result, nil
}

// Flatten collapses dimensions into 2D: [d0*...*d(axis-1), d(axis)*...*dn].
func Flatten(x *RawTensor, axis int) (*RawTensor, error) {
	if x == nil {
		return nil, fmt.Errorf("Flatten: input tensor is nil")
	}
	if axis < 0 {
		axis += len(x.shape)
	}
	if axis < 0 || axis > len(x.shape) {
		return nil, fmt.Errorf("Flatten: axis %d out of range for rank %d", axis, len(x.shape))
	}

	rows, cols := 1, 1
	for i, dim := range x.shape {
		if i < axis {
			rows *= dim
		} else {
			cols *= dim
		}
	}

	result, err := x.WithShape(Shape{rows, cols})
	if err != nil {
		return nil, fmt.Errorf("Flatten: %w", err)
	}
	return result, nil
}

// Concat concatenates tensors along the given axis. All tensors must share
// dtype and all dimensions except the concat axis.
func Concat(tensors []*RawTensor, axis int) (*RawTensor, error) {
	if len(tensors) == 0 {
		return nil, fmt.Errorf("Concat: requires at least one tensor")
	}
	first := tensors[0]
	axis, err := normalizeAxis(axis, len(first.shape))
	if err != nil {
		return nil, fmt.Errorf("Concat: %w", err)
	}

	outShape := first.shape.Clone()
	for i, t := range tensors[1:] {
		if t.dtype != first.dtype {
			return nil, fmt.Errorf("Concat: tensor %d dtype %s does not match %s", i+1, t.dtype, first.dtype)
		}
		if len(t.shape) != len(first.shape) {
			return nil, fmt.Errorf("Concat: tensor %d rank %d does not match %d", i+1, len(t.shape), len(first.shape))
		}
		for d := range t.shape {
			if d == axis {
				continue
			}
			if t.shape[d] != first.shape[d] {
				return nil, fmt.Errorf("Concat: tensor %d dimension %d mismatch: %d vs %d", i+1, d, t.shape[d], first.shape[d])
			}
		}
		outShape[axis] += t.shape[axis]
	}

	result, err := NewRaw(outShape, first.dtype, first.device)
	if err != nil {
		return nil, fmt.Errorf("Concat: %w", err)
	}

	// Copy row blocks: for each outer index, append each tensor's axis block.
	elemSize := first.dtype.Size()
	outer := 1
	for i := 0; i < axis; i++ {
		outer *= outShape[i]
	}
	inner := 1
	for i := axis + 1; i < len(outShape); i++ {
		inner *= outShape[i]
	}

	dstOff := 0
	for o := 0; o < outer; o++ {
		for _, t := range tensors {
			blockBytes := t.shape[axis] * inner * elemSize
			srcOff := o * blockBytes
			copy(result.data[dstOff:dstOff+blockBytes], t.data[srcOff:srcOff+blockBytes])
			dstOff += blockBytes
		}
	}
	return result, nil
}

// Split divides the tensor along an axis into parts of the given sizes.
// With no sizes it splits into equal parts is not supported; callers pass
// explicit sizes.
func Split(x *RawTensor, axis int, splitSizes []int) ([]*RawTensor, error) {
	if x == nil {
		return nil, fmt.Errorf("Split: input tensor is nil")
	}
	axis, err := normalizeAxis(axis, len(x.shape))
	if err != nil {
		return nil, fmt.Errorf("Split: %w", err)
	}
	if len(splitSizes) == 0 {
		return nil, fmt.Errorf("Split: requires explicit split sizes")
	}

	total := 0
	for _, s := range splitSizes {
		if s <= 0 {
			return nil, fmt.Errorf("Split: invalid split size %d", s)
		}
		total += s
	}
	if total != x.shape[axis] {
		return nil, fmt.Errorf("Split: sizes %v do not sum to axis size %d", splitSizes, x.shape[axis])
	}

	elemSize := x.dtype.Size()
	outer := 1
	for i := 0; i < axis; i++ {
		outer *= x.shape[i]
	}
	inner := 1
	for i := axis + 1; i < len(x.shape); i++ {
		inner *= x.shape[i]
	}

	results := make([]*RawTensor, len(splitSizes))
	offset := 0
	for i, size := range splitSizes {
		shape := x.shape.Clone()
		shape[axis] = size
		part, err := NewRaw(shape, x.dtype, x.device)
		if err != nil {
			return nil, fmt.Errorf("Split: %w", err)
		}
		blockBytes := size * inner * elemSize
		rowBytes := x.shape[axis] * inner * elemSize
		for o := 0; o < outer; o++ {
			src := o*rowBytes + offset*inner*elemSize
			copy(part.data[o*blockBytes:(o+1)*blockBytes], x.data[src:src+blockBytes])
		}
		results[i] = part
		offset += size
	}
	return results, nil
}

// Slice extracts a strided sub-range per axis, following ONNX Slice
// semantics: starts/ends are clamped, negative indices count from the end,
// axes defaults to [0..len(starts)), steps defaults to 1.
func Slice(x *RawTensor, starts, ends, axes, steps []int64) (*RawTensor, error) {
	if x == nil {
		return nil, fmt.Errorf("Slice: input tensor is nil")
	}
	if len(starts) != len(ends) {
		return nil, fmt.Errorf("Slice: starts and ends length mismatch: %d vs %d", len(starts), len(ends))
	}

	rank := len(x.shape)
	start := make([]int, rank)
	step := make([]int, rank)
	outShape := make(Shape, rank)
	for d := range start {
		step[d] = 1
		outShape[d] = x.shape[d]
	}

	for i := range starts {
		axis := i
		if len(axes) > 0 {
			axis = int(axes[i])
			if axis < 0 {
				axis += rank
			}
		}
		if axis < 0 || axis >= rank {
			return nil, fmt.Errorf("Slice: axis %d out of range for rank %d", axis, rank)
		}

		st := 1
		if len(steps) > 0 {
			st = int(steps[i])
		}
		if st <= 0 {
			return nil, fmt.Errorf("Slice: non-positive step %d not supported", st)
		}

		dim := x.shape[axis]
		s := clampIndex(int(starts[i]), dim, false)
		e := clampIndex(int(ends[i]), dim, true)
		if e < s {
			e = s
		}

		start[axis] = s
		step[axis] = st
		outShape[axis] = (e - s + st - 1) / st
	}

	if err := outShape.Validate(); err != nil {
		return nil, fmt.Errorf("Slice: empty result: %w", err)
	}

	result, err := NewRaw(outShape, x.dtype, x.device)
	if err != nil {
		return nil, fmt.Errorf("Slice: %w", err)
	}

	elemSize := x.dtype.Size()
	inStrides := x.shape.ComputeStrides()
	outStrides := outShape.ComputeStrides()
	idx := make([]int, rank)

	for flat := 0; flat < outShape.NumElements(); flat++ {
		rem := flat
		src := 0
		for d := 0; d < rank; d++ {
			idx[d] = rem / outStrides[d]
			rem %= outStrides[d]
			src += (start[d] + idx[d]*step[d]) * inStrides[d]
		}
		copy(result.data[flat*elemSize:(flat+1)*elemSize], x.data[src*elemSize:(src+1)*elemSize])
	}
	return result, nil
}

func clampIndex(i, dim int, isEnd bool) int {
	if i < 0 {
		i += dim
	}
	if i < 0 {
		i = 0
	}
	if isEnd && i > dim {
		i = dim
	}
	if !isEnd && i > dim-1 {
		i = dim
	}
	return i
}

// Gather selects slices from x along an axis using an integer index tensor,
// following ONNX Gather semantics.
func Gather(x, indices *RawTensor, axis int) (*RawTensor, error) {
	if x == nil || indices == nil {
		return nil, fmt.Errorf("Gather: input tensors cannot be nil")
	}
	axis, err := normalizeAxis(axis, len(x.shape))
	if err != nil {
		return nil, fmt.Errorf("Gather: %w", err)
	}

	var idx []int
	switch indices.dtype {
	case Int64:
		src := indices.AsInt64()
		idx = make([]int, len(src))
		for i, v := range src {
			idx[i] = int(v)
		}
	case Int32:
		src := indices.AsInt32()
		idx = make([]int, len(src))
		for i, v := range src {
			idx[i] = int(v)
		}
	default:
		return nil, fmt.Errorf("Gather: indices must be int32 or int64, got %s", indices.dtype)
	}

	dim := x.shape[axis]
	for i, v := range idx {
		if v < 0 {
			v += dim
			idx[i] = v
		}
		if v < 0 || v >= dim {
			return nil, fmt.Errorf("Gather: index %d out of range for axis size %d", v, dim)
		}
	}

	// Output shape: x.shape with the axis replaced by indices.shape.
	outShape := make(Shape, 0, len(x.shape)-1+len(indices.shape))
	outShape = append(outShape, x.shape[:axis]...)
	outShape = append(outShape, indices.shape...)
	outShape = append(outShape, x.shape[axis+1:]...)

	result, err := NewRaw(outShape, x.dtype, x.device)
	if err != nil {
		return nil, fmt.Errorf("Gather: %w", err)
	}

	elemSize := x.dtype.Size()
	outer := 1
	for i := 0; i < axis; i++ {
		outer *= x.shape[i]
	}
	inner := 1
	for i := axis + 1; i < len(x.shape); i++ {
		inner *= x.shape[i]
	}

	blockBytes := inner * elemSize
	dst := 0
	for o := 0; o < outer; o++ {
		for _, v := range idx {
			src := (o*dim + v) * blockBytes
			copy(result.data[dst:dst+blockBytes], x.data[src:src+blockBytes])
			dst += blockBytes
		}
	}
	return result, nil
}

// Expand broadcasts the tensor to a larger shape following broadcasting
// rules (dimensions of size 1 are repeated).
func Expand(x *RawTensor, targetShape Shape) (*RawTensor, error) {
	if x == nil {
		return nil, fmt.Errorf("Expand: input tensor is nil")
	}

	outShape, _, err := BroadcastShapes(x.shape, targetShape)
	if err != nil {
		return nil, fmt.Errorf("Expand: %w", err)
	}

	result, err := NewRaw(outShape, x.dtype, x.device)
	if err != nil {
		return nil, fmt.Errorf("Expand: %w", err)
	}

	elemSize := x.dtype.Size()
	rank := len(outShape)
	outStrides := outShape.ComputeStrides()

	// Source strides aligned to the output rank, 0 for broadcast dims.
	srcStrides := make([]int, rank)
	inStrides := x.shape.ComputeStrides()
	offset := rank - len(x.shape)
	for d := 0; d < len(x.shape); d++ {
		if x.shape[d] != 1 {
			srcStrides[offset+d] = inStrides[d]
		}
	}

	for flat := 0; flat < outShape.NumElements(); flat++ {
		rem := flat
		src := 0
		for d := 0; d < rank; d++ {
			src += (rem / outStrides[d]) * srcStrides[d]
			rem %= outStrides[d]
		}
		copy(result.data[flat*elemSize:(flat+1)*elemSize], x.data[src*elemSize:(src+1)*elemSize])
	}
	return result, nil
}
