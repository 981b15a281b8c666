package graph

import (
	"fmt"

	"github.com/born-ml/serve/internal/tensor"
)

func (r *Registry) registerShapeOps() {
	r.Register("Reshape", handleReshape)
	r.Register("Transpose", handleTranspose)
	r.Register("Squeeze", handleSqueeze)
	r.Register("Unsqueeze", handleUnsqueeze)
	r.Register("Concat", handleConcat)
	r.Register("Split", handleSplit)
	r.Register("Slice", handleSlice)
	r.Register("Gather", handleGather)
	r.Register("Flatten", handleFlatten)
	r.Register("Expand", handleExpand)
}

func toInts(v []int64) []int {
	out := make([]int, len(v))
	for i, x := range v {
		out[i] = int(x)
	}
	return out
}

// axesFrom resolves an axes list that newer opsets pass as a tensor input
// and older ones as a node attribute.
func axesFrom(node *Node, inputs []*tensor.RawTensor, attrName string) []int {
	if len(inputs) >= 2 && inputs[1] != nil {
		return toInts(inputs[1].AsInt64())
	}
	return toInts(node.AttrInts(attrName))
}

func handleReshape(_ *Context, _ *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) != 2 {
		return nil, fmt.Errorf("reshape requires 2 inputs (data, shape), got %d", len(inputs))
	}

	shapeData := inputs[1].AsInt64()
	newShape := make(tensor.Shape, len(shapeData))
	for i, v := range shapeData {
		newShape[i] = int(v)
	}

	result, err := tensor.Reshape(inputs[0], newShape)
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{result}, nil
}

func handleTranspose(_ *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("transpose requires 1 input, got %d", len(inputs))
	}

	result, err := tensor.TransposeAxes(inputs[0], toInts(node.AttrInts("perm"))...)
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{result}, nil
}

func handleSqueeze(_ *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) < 1 {
		return nil, fmt.Errorf("squeeze requires at least 1 input, got %d", len(inputs))
	}

	result, err := tensor.Squeeze(inputs[0], axesFrom(node, inputs, "axes")...)
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{result}, nil
}

func handleUnsqueeze(_ *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) < 1 {
		return nil, fmt.Errorf("unsqueeze requires at least 1 input, got %d", len(inputs))
	}

	axes := axesFrom(node, inputs, "axes")
	if len(axes) == 0 {
		return nil, fmt.Errorf("unsqueeze requires axes")
	}

	result, err := tensor.Unsqueeze(inputs[0], axes...)
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{result}, nil
}

func handleConcat(_ *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) < 1 {
		return nil, fmt.Errorf("concat requires at least 1 input")
	}

	result, err := tensor.Concat(inputs, int(node.AttrInt("axis", 0)))
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{result}, nil
}

func handleSplit(_ *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) < 1 {
		return nil, fmt.Errorf("split requires at least 1 input, got %d", len(inputs))
	}

	axis := int(node.AttrInt("axis", 0))
	splitSizes := axesFrom(node, inputs, "split")
	if len(splitSizes) == 0 {
		// Equal split across the declared outputs.
		n := len(node.Outputs)
		shape := inputs[0].Shape()
		a := axis
		if a < 0 {
			a += len(shape)
		}
		if a < 0 || a >= len(shape) {
			return nil, fmt.Errorf("split: axis %d out of range for rank %d", axis, len(shape))
		}
		dim := shape[a]
		if n == 0 || dim%n != 0 {
			return nil, fmt.Errorf("split: cannot divide axis size %d into %d parts", dim, n)
		}
		splitSizes = make([]int, n)
		for i := range splitSizes {
			splitSizes[i] = dim / n
		}
	}

	return tensor.Split(inputs[0], axis, splitSizes)
}

func handleSlice(_ *Context, _ *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) < 3 {
		return nil, fmt.Errorf("slice requires at least 3 inputs (data, starts, ends), got %d", len(inputs))
	}

	starts := inputs[1].AsInt64()
	ends := inputs[2].AsInt64()

	var axes, steps []int64
	if len(inputs) >= 4 && inputs[3] != nil {
		axes = inputs[3].AsInt64()
	}
	if len(inputs) >= 5 && inputs[4] != nil {
		steps = inputs[4].AsInt64()
	}

	result, err := tensor.Slice(inputs[0], starts, ends, axes, steps)
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{result}, nil
}

func handleGather(_ *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) != 2 {
		return nil, fmt.Errorf("gather requires 2 inputs (data, indices), got %d", len(inputs))
	}

	result, err := tensor.Gather(inputs[0], inputs[1], int(node.AttrInt("axis", 0)))
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{result}, nil
}

func handleFlatten(_ *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("flatten requires 1 input, got %d", len(inputs))
	}

	result, err := tensor.Flatten(inputs[0], int(node.AttrInt("axis", 1)))
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{result}, nil
}

func handleExpand(_ *Context, _ *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) != 2 {
		return nil, fmt.Errorf("expand requires 2 inputs (data, shape), got %d", len(inputs))
	}

	shapeData := inputs[1].AsInt64()
	targetShape := make(tensor.Shape, len(shapeData))
	for i, v := range shapeData {
		targetShape[i] = int(v)
	}

	result, err := tensor.Expand(inputs[0], targetShape)
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{result}, nil
}
