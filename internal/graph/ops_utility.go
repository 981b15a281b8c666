package graph

import (
	"fmt"

	"github.com/born-ml/serve/internal/tensor"
)

func (r *Registry) registerUtilityOps() {
	r.Register("Identity", handleIdentity)
	r.Register("Dropout", handleDropout)
	r.Register("Constant", handleConstant)
	r.Register("ConstantOfShape", handleConstantOfShape)
	r.Register("Cast", handleCast)
	r.Register("Shape", handleShape)
	r.Register("Size", handleSize)
}

func handleIdentity(_ *Context, _ *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("identity requires 1 input, got %d", len(inputs))
	}
	return inputs, nil
}

// Dropout is identity at inference time. The optional mask output is not
// produced.
func handleDropout(_ *Context, _ *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) < 1 {
		return nil, fmt.Errorf("dropout requires at least 1 input, got %d", len(inputs))
	}
	return []*tensor.RawTensor{inputs[0]}, nil
}

func handleConstant(_ *Context, node *Node, _ []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if t := node.AttrTensor("value"); t != nil {
		return []*tensor.RawTensor{t}, nil
	}

	for i := range node.Attributes {
		attr := &node.Attributes[i]
		switch attr.Name {
		case "value_float":
			t, err := tensor.FromSlice([]float32{attr.F}, tensor.Shape{1}, tensor.CPU)
			if err != nil {
				return nil, fmt.Errorf("constant: %w", err)
			}
			return []*tensor.RawTensor{t}, nil
		case "value_int":
			t, err := tensor.FromSlice([]int64{attr.I}, tensor.Shape{1}, tensor.CPU)
			if err != nil {
				return nil, fmt.Errorf("constant: %w", err)
			}
			return []*tensor.RawTensor{t}, nil
		case "value_floats":
			t, err := tensor.FromSlice(attr.Floats, tensor.Shape{len(attr.Floats)}, tensor.CPU)
			if err != nil {
				return nil, fmt.Errorf("constant: %w", err)
			}
			return []*tensor.RawTensor{t}, nil
		case "value_ints":
			t, err := tensor.FromSlice(attr.Ints, tensor.Shape{len(attr.Ints)}, tensor.CPU)
			if err != nil {
				return nil, fmt.Errorf("constant: %w", err)
			}
			return []*tensor.RawTensor{t}, nil
		}
	}
	return nil, fmt.Errorf("constant: no value attribute found")
}

func handleConstantOfShape(_ *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("constantofshape requires 1 input (shape), got %d", len(inputs))
	}

	shapeData := inputs[0].AsInt64()
	targetShape := make(tensor.Shape, len(shapeData))
	for i, v := range shapeData {
		targetShape[i] = int(v)
	}

	// The value attribute is a one-element tensor; default is float32 zero.
	value := float32(0)
	dtype := tensor.Float32
	if t := node.AttrTensor("value"); t != nil {
		dtype = t.DType()
		switch dtype {
		case tensor.Float32:
			value = t.AsFloat32()[0]
		case tensor.Int64:
			value = float32(t.AsInt64()[0])
		default:
			return nil, fmt.Errorf("constantofshape: unsupported value dtype %s", dtype)
		}
	}

	result, err := tensor.FullRaw(targetShape, value, dtype, tensor.CPU)
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{result}, nil
}

func handleCast(_ *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("cast requires 1 input, got %d", len(inputs))
	}

	dtype, err := WireDataType(int32(node.AttrInt("to", 1)))
	if err != nil {
		return nil, fmt.Errorf("cast: %w", err)
	}

	result, err := tensor.Cast(inputs[0], dtype)
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{result}, nil
}

func handleShape(_ *Context, _ *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("shape requires 1 input, got %d", len(inputs))
	}

	shape := inputs[0].Shape()
	dims := make([]int64, len(shape))
	for i, v := range shape {
		dims[i] = int64(v)
	}
	result, err := tensor.FromSlice(dims, tensor.Shape{len(dims)}, tensor.CPU)
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{result}, nil
}

func handleSize(_ *Context, _ *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("size requires 1 input, got %d", len(inputs))
	}

	result, err := tensor.FromSlice([]int64{int64(inputs[0].NumElements())}, tensor.Shape{1}, tensor.CPU)
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{result}, nil
}
