package graph

import (
	"fmt"

	"github.com/born-ml/serve/internal/tensor"
)

func (r *Registry) registerMathOps() {
	r.Register("Add", handleAdd)
	r.Register("Sub", handleSub)
	r.Register("Mul", handleMul)
	r.Register("Div", handleDiv)
	r.Register("MatMul", handleMatMul)
	r.Register("Gemm", handleGemm)
	r.Register("Sqrt", handleSqrt)
	r.Register("Exp", handleExp)
	r.Register("Log", handleLog)
	r.Register("Sum", handleSum)
}

// binaryOp wraps the common arity check for two-input backend ops.
func binaryOp(name string, f func(a, b *tensor.RawTensor) (*tensor.RawTensor, error)) OpHandler {
	return func(_ *Context, _ *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
		if len(inputs) != 2 {
			return nil, fmt.Errorf("%s requires 2 inputs, got %d", name, len(inputs))
		}
		result, err := f(inputs[0], inputs[1])
		if err != nil {
			return nil, err
		}
		return []*tensor.RawTensor{result}, nil
	}
}

func handleAdd(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	return binaryOp("add", ctx.Backend.Add)(ctx, node, inputs)
}

func handleSub(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	return binaryOp("sub", ctx.Backend.Sub)(ctx, node, inputs)
}

func handleMul(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	return binaryOp("mul", ctx.Backend.Mul)(ctx, node, inputs)
}

func handleDiv(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	return binaryOp("div", ctx.Backend.Div)(ctx, node, inputs)
}

func handleMatMul(ctx *Context, _ *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) != 2 {
		return nil, fmt.Errorf("matmul requires 2 inputs, got %d", len(inputs))
	}
	a, b := inputs[0], inputs[1]

	var (
		result *tensor.RawTensor
		err    error
	)
	if len(a.Shape()) > 2 || len(b.Shape()) > 2 {
		result, err = ctx.Backend.BatchMatMul(a, b)
	} else {
		result, err = ctx.Backend.MatMul(a, b)
	}
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{result}, nil
}

// handleGemm implements general matrix multiplication:
// Y = alpha*op(A)*op(B) + beta*C.
func handleGemm(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) < 2 {
		return nil, fmt.Errorf("gemm requires at least 2 inputs, got %d", len(inputs))
	}

	alpha := node.AttrFloat("alpha", 1.0)
	beta := node.AttrFloat("beta", 1.0)
	transA := node.AttrInt("transA", 0) != 0
	transB := node.AttrInt("transB", 0) != 0

	a, b := inputs[0], inputs[1]
	var err error

	if transA {
		if a, err = tensor.TransposeAxes(a); err != nil {
			return nil, fmt.Errorf("gemm transA: %w", err)
		}
	}
	if transB {
		if b, err = tensor.TransposeAxes(b); err != nil {
			return nil, fmt.Errorf("gemm transB: %w", err)
		}
	}

	result, err := ctx.Backend.MatMul(a, b)
	if err != nil {
		return nil, fmt.Errorf("gemm: %w", err)
	}

	if alpha != 1.0 {
		if result, err = ctx.Backend.MulScalar(result, alpha); err != nil {
			return nil, fmt.Errorf("gemm alpha: %w", err)
		}
	}

	if len(inputs) >= 3 && inputs[2] != nil && beta != 0 {
		c := inputs[2]
		if beta != 1.0 {
			if c, err = ctx.Backend.MulScalar(c, beta); err != nil {
				return nil, fmt.Errorf("gemm beta: %w", err)
			}
		}
		if result, err = ctx.Backend.Add(result, c); err != nil {
			return nil, fmt.Errorf("gemm bias: %w", err)
		}
	}

	return []*tensor.RawTensor{result}, nil
}

func handleSqrt(ctx *Context, _ *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("sqrt requires 1 input, got %d", len(inputs))
	}
	result, err := ctx.Backend.Sqrt(inputs[0])
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{result}, nil
}

func handleExp(ctx *Context, _ *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("exp requires 1 input, got %d", len(inputs))
	}
	result, err := ctx.Backend.Exp(inputs[0])
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{result}, nil
}

func handleLog(ctx *Context, _ *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("log requires 1 input, got %d", len(inputs))
	}
	result, err := ctx.Backend.Log(inputs[0])
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{result}, nil
}

// handleSum adds any number of tensors element-wise.
func handleSum(ctx *Context, _ *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("sum requires at least 1 input")
	}
	result := inputs[0]
	var err error
	for _, t := range inputs[1:] {
		if result, err = ctx.Backend.Add(result, t); err != nil {
			return nil, err
		}
	}
	return []*tensor.RawTensor{result}, nil
}
