package graph

import (
	"fmt"

	"github.com/born-ml/serve/internal/tensor"
)

func (r *Registry) registerReduceOps() {
	r.Register("ArgMax", handleArgMax)
	r.Register("ReduceMean", handleReduceMean)
	r.Register("ReduceSum", handleReduceSum)
	r.Register("TopK", handleTopK)
}

func handleArgMax(_ *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("argmax requires 1 input, got %d", len(inputs))
	}

	axis := int(node.AttrInt("axis", 0))
	keepDims := node.AttrInt("keepdims", 1) != 0

	result, err := tensor.ArgMax(inputs[0], axis, keepDims)
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{result}, nil
}

// reduceAxes applies a single-axis reduction over each requested axis.
// Axes come from an attribute (older opsets) or a second input.
func reduceAxes(name string, node *Node, inputs []*tensor.RawTensor,
	reduce func(x *tensor.RawTensor, axis int, keepDims bool) (*tensor.RawTensor, error),
) ([]*tensor.RawTensor, error) {
	if len(inputs) < 1 {
		return nil, fmt.Errorf("%s requires at least 1 input, got %d", name, len(inputs))
	}

	keepDims := node.AttrInt("keepdims", 1) != 0
	axes := axesFrom(node, inputs, "axes")
	if len(axes) == 0 {
		// Default: reduce all axes.
		axes = make([]int, len(inputs[0].Shape()))
		for i := range axes {
			axes[i] = i
		}
	}

	rank := len(inputs[0].Shape())
	for i, a := range axes {
		if a < 0 {
			axes[i] = a + rank
		}
	}

	// Reduce highest axis first so earlier axis indices stay valid when
	// dimensions are dropped.
	for i := 0; i < len(axes); i++ {
		for j := i + 1; j < len(axes); j++ {
			if axes[j] > axes[i] {
				axes[i], axes[j] = axes[j], axes[i]
			}
		}
	}

	result := inputs[0]
	var err error
	for _, axis := range axes {
		if result, err = reduce(result, axis, keepDims); err != nil {
			return nil, err
		}
	}
	return []*tensor.RawTensor{result}, nil
}

func handleReduceMean(_ *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	return reduceAxes("reducemean", node, inputs, tensor.ReduceMean)
}

func handleReduceSum(_ *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	return reduceAxes("reducesum", node, inputs, tensor.ReduceSum)
}

func handleTopK(_ *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) < 1 {
		return nil, fmt.Errorf("topk requires at least 1 input, got %d", len(inputs))
	}
	if axis := node.AttrInt("axis", -1); axis != -1 && int(axis) != len(inputs[0].Shape())-1 {
		return nil, fmt.Errorf("topk: only the last axis is supported, got %d", axis)
	}

	var k int
	if len(inputs) >= 2 && inputs[1] != nil {
		k = int(inputs[1].AsInt64()[0])
	} else {
		k = int(node.AttrInt("k", 1))
	}

	values, indices, err := tensor.TopK(inputs[0], k)
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{values, indices}, nil
}
