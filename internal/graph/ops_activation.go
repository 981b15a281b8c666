package graph

import (
	"fmt"
	"math"

	"github.com/born-ml/serve/internal/tensor"
)

func (r *Registry) registerActivations() {
	r.Register("Relu", unaryTensorOp("relu", tensor.ReLU))
	r.Register("Sigmoid", unaryTensorOp("sigmoid", tensor.Sigmoid))
	r.Register("Tanh", unaryTensorOp("tanh", tensor.Tanh))
	r.Register("Gelu", unaryTensorOp("gelu", tensor.GELU))
	r.Register("Silu", unaryTensorOp("silu", tensor.SiLU))
	r.Register("LeakyRelu", handleLeakyRelu)
	r.Register("Softmax", handleSoftmax)
	r.Register("LogSoftmax", handleLogSoftmax)
	r.Register("Clip", handleClip)
}

// unaryTensorOp wraps a single-input tensor function as a handler.
func unaryTensorOp(name string, f func(*tensor.RawTensor) (*tensor.RawTensor, error)) OpHandler {
	return func(_ *Context, _ *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
		if len(inputs) != 1 {
			return nil, fmt.Errorf("%s requires 1 input, got %d", name, len(inputs))
		}
		result, err := f(inputs[0])
		if err != nil {
			return nil, err
		}
		return []*tensor.RawTensor{result}, nil
	}
}

func handleLeakyRelu(_ *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("leakyrelu requires 1 input, got %d", len(inputs))
	}
	alpha := node.AttrFloat("alpha", 0.01)
	result, err := tensor.LeakyReLU(inputs[0], alpha)
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{result}, nil
}

func handleSoftmax(_ *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("softmax requires 1 input, got %d", len(inputs))
	}
	axis := int(node.AttrInt("axis", -1))
	result, err := tensor.Softmax(inputs[0], axis)
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{result}, nil
}

func handleLogSoftmax(_ *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("logsoftmax requires 1 input, got %d", len(inputs))
	}
	axis := int(node.AttrInt("axis", -1))
	result, err := tensor.LogSoftmax(inputs[0], axis)
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{result}, nil
}

func handleClip(_ *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) < 1 {
		return nil, fmt.Errorf("clip requires at least 1 input, got %d", len(inputs))
	}

	// Bounds come from attributes (opset <11) or optional min/max inputs.
	minVal := node.AttrFloat("min", float32(math.Inf(-1)))
	maxVal := node.AttrFloat("max", float32(math.Inf(1)))
	if len(inputs) >= 2 && inputs[1] != nil {
		minVal = inputs[1].AsFloat32()[0]
	}
	if len(inputs) >= 3 && inputs[2] != nil {
		maxVal = inputs[2].AsFloat32()[0]
	}

	result, err := tensor.Clip(inputs[0], minVal, maxVal)
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{result}, nil
}
