package graph

import (
	"fmt"
	"math"

	"github.com/born-ml/serve/internal/tensor"
)

func (r *Registry) registerNNOps() {
	r.Register("Conv", handleConv)
	r.Register("MaxPool", handleMaxPool)
	r.Register("GlobalAveragePool", handleGlobalAveragePool)
	r.Register("BatchNormalization", handleBatchNormalization)
}

// uniformInt reduces a per-dimension attribute list to a single value, which
// is what the backend kernels support. Asymmetric values are rejected.
func uniformInt(name string, vals []int64, def int64) (int, error) {
	if len(vals) == 0 {
		return int(def), nil
	}
	first := vals[0]
	for _, v := range vals[1:] {
		if v != first {
			return 0, fmt.Errorf("%s: non-uniform values %v not supported", name, vals)
		}
	}
	return int(first), nil
}

func handleConv(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) < 2 {
		return nil, fmt.Errorf("conv requires at least 2 inputs (X, W), got %d", len(inputs))
	}

	if group := node.AttrInt("group", 1); group != 1 {
		return nil, fmt.Errorf("conv: grouped convolution (group=%d) not supported", group)
	}
	for _, d := range node.AttrInts("dilations") {
		if d != 1 {
			return nil, fmt.Errorf("conv: dilations %v not supported", node.AttrInts("dilations"))
		}
	}

	stride, err := uniformInt("conv strides", node.AttrInts("strides"), 1)
	if err != nil {
		return nil, err
	}
	padding, err := uniformInt("conv pads", node.AttrInts("pads"), 0)
	if err != nil {
		return nil, err
	}

	result, err := ctx.Backend.Conv2D(inputs[0], inputs[1], stride, padding)
	if err != nil {
		return nil, err
	}

	// Optional bias: [C_out], broadcast over the spatial dims.
	if len(inputs) >= 3 && inputs[2] != nil {
		bias, err := inputs[2].WithShape(tensor.Shape{1, inputs[2].NumElements(), 1, 1})
		if err != nil {
			return nil, fmt.Errorf("conv bias: %w", err)
		}
		if result, err = ctx.Backend.Add(result, bias); err != nil {
			return nil, fmt.Errorf("conv bias: %w", err)
		}
	}

	return []*tensor.RawTensor{result}, nil
}

func handleMaxPool(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("maxpool requires 1 input, got %d", len(inputs))
	}

	kernelShape := node.AttrInts("kernel_shape")
	if len(kernelShape) == 0 {
		return nil, fmt.Errorf("maxpool: kernel_shape attribute is required")
	}
	kernelSize, err := uniformInt("maxpool kernel_shape", kernelShape, 0)
	if err != nil {
		return nil, err
	}
	stride, err := uniformInt("maxpool strides", node.AttrInts("strides"), int64(kernelSize))
	if err != nil {
		return nil, err
	}
	padding, err := uniformInt("maxpool pads", node.AttrInts("pads"), 0)
	if err != nil {
		return nil, err
	}

	result, err := ctx.Backend.MaxPool2D(inputs[0], kernelSize, stride, padding)
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{result}, nil
}

// GlobalAveragePool reduces each channel's spatial dimensions to 1x1.
func handleGlobalAveragePool(_ *Context, _ *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("globalaveragepool requires 1 input, got %d", len(inputs))
	}
	x := inputs[0]
	if len(x.Shape()) != 4 {
		return nil, fmt.Errorf("globalaveragepool: expected 4D input, got %dD", len(x.Shape()))
	}

	result, err := tensor.ReduceMean(x, 3, true)
	if err != nil {
		return nil, err
	}
	result, err = tensor.ReduceMean(result, 2, true)
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{result}, nil
}

// BatchNormalization in inference mode:
// y = scale * (x - mean) / sqrt(var + eps) + bias,
// folded into one multiplier and offset per channel.
func handleBatchNormalization(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) < 5 {
		return nil, fmt.Errorf("batchnormalization requires 5 inputs (X, scale, B, mean, var), got %d", len(inputs))
	}
	x := inputs[0]
	if len(x.Shape()) != 4 {
		return nil, fmt.Errorf("batchnormalization: expected 4D input, got %dD", len(x.Shape()))
	}
	for i, name := range []string{"scale", "bias", "mean", "var"} {
		if inputs[i+1] == nil || inputs[i+1].DType() != tensor.Float32 {
			return nil, fmt.Errorf("batchnormalization: %s must be a float32 tensor", name)
		}
	}

	eps := float64(node.AttrFloat("epsilon", 1e-5))
	scale := inputs[1].AsFloat32()
	bias := inputs[2].AsFloat32()
	mean := inputs[3].AsFloat32()
	variance := inputs[4].AsFloat32()

	channels := len(scale)
	mult := make([]float32, channels)
	offset := make([]float32, channels)
	for c := 0; c < channels; c++ {
		m := scale[c] / float32(math.Sqrt(float64(variance[c])+eps))
		mult[c] = m
		offset[c] = bias[c] - mean[c]*m
	}

	multT, err := tensor.FromSlice(mult, tensor.Shape{1, channels, 1, 1}, x.Device())
	if err != nil {
		return nil, err
	}
	offsetT, err := tensor.FromSlice(offset, tensor.Shape{1, channels, 1, 1}, x.Device())
	if err != nil {
		return nil, err
	}

	result, err := ctx.Backend.Mul(x, multT)
	if err != nil {
		return nil, err
	}
	result, err = ctx.Backend.Add(result, offsetT)
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{result}, nil
}
