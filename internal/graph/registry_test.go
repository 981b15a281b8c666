package graph

import (
	"math"
	"testing"

	"github.com/born-ml/serve/internal/backend/cpu"
	"github.com/born-ml/serve/internal/tensor"
)

func execNode(t *testing.T, node *Node, inputs ...*tensor.RawTensor) []*tensor.RawTensor {
	t.Helper()
	reg := NewRegistry()
	ctx := &Context{Backend: cpu.New()}
	outputs, err := reg.Execute(ctx, node, inputs)
	if err != nil {
		t.Fatalf("Execute(%s) failed: %v", node.OpType, err)
	}
	return outputs
}

func TestRegistrySupportedOps(t *testing.T) {
	reg := NewRegistry()
	for _, op := range []string{"Add", "MatMul", "Relu", "Softmax", "Conv", "Reshape", "Cast", "ArgMax"} {
		if _, ok := reg.Get(op); !ok {
			t.Errorf("operator %s not registered", op)
		}
	}
	if _, ok := reg.Get("Nope"); ok {
		t.Error("unexpected operator Nope")
	}
}

func TestGemm(t *testing.T) {
	a := mustTensor(t, []float32{1, 2, 3, 4}, tensor.Shape{2, 2})
	b := mustTensor(t, []float32{1, 0, 0, 1}, tensor.Shape{2, 2})
	c := mustTensor(t, []float32{10, 20}, tensor.Shape{2})

	node := &Node{
		OpType: "Gemm",
		Attributes: []Attribute{
			{Name: "alpha", Type: AttrFloat, F: 2.0},
		},
	}
	outputs := execNode(t, node, a, b, c)

	// 2*(A@I) + C broadcast over rows.
	want := []float32{12, 24, 16, 28}
	got := outputs[0].AsFloat32()
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 1e-5 {
			t.Errorf("Gemm = %v, want %v", got, want)
			break
		}
	}
}

func TestSoftmaxDefaultAxis(t *testing.T) {
	x := mustTensor(t, []float32{1, 1, 1, 1}, tensor.Shape{2, 2})
	outputs := execNode(t, &Node{OpType: "Softmax"}, x)

	for i, v := range outputs[0].AsFloat32() {
		if math.Abs(float64(v)-0.5) > 1e-5 {
			t.Errorf("softmax[%d] = %v, want 0.5", i, v)
		}
	}
}

func TestConstantFromTensorAttr(t *testing.T) {
	value := mustTensor(t, []float32{7, 8}, tensor.Shape{2})
	node := &Node{
		OpType: "Constant",
		Attributes: []Attribute{
			{Name: "value", Type: AttrTensor, Tensor: value},
		},
	}
	outputs := execNode(t, node)

	got := outputs[0].AsFloat32()
	if got[0] != 7 || got[1] != 8 {
		t.Errorf("Constant = %v, want [7 8]", got)
	}
}

func TestShapeOp(t *testing.T) {
	x := mustTensor(t, make([]float32, 6), tensor.Shape{2, 3})
	outputs := execNode(t, &Node{OpType: "Shape"}, x)

	if outputs[0].DType() != tensor.Int64 {
		t.Fatalf("Shape dtype = %v, want int64", outputs[0].DType())
	}
	got := outputs[0].AsInt64()
	if got[0] != 2 || got[1] != 3 {
		t.Errorf("Shape = %v, want [2 3]", got)
	}
}

func TestCastFloatToInt64(t *testing.T) {
	x := mustTensor(t, []float32{1.9, -2.1}, tensor.Shape{2})
	node := &Node{
		OpType: "Cast",
		Attributes: []Attribute{
			{Name: "to", Type: AttrInt, I: int64(WireInt64)},
		},
	}
	outputs := execNode(t, node, x)

	got := outputs[0].AsInt64()
	if got[0] != 1 || got[1] != -2 {
		t.Errorf("Cast = %v, want [1 -2]", got)
	}
}

func TestArgMaxKeepDims(t *testing.T) {
	x := mustTensor(t, []float32{0.1, 0.9, 0.8, 0.2}, tensor.Shape{2, 2})
	node := &Node{
		OpType: "ArgMax",
		Attributes: []Attribute{
			{Name: "axis", Type: AttrInt, I: 1},
		},
	}
	outputs := execNode(t, node, x)

	got := outputs[0].AsInt64()
	if got[0] != 1 || got[1] != 0 {
		t.Errorf("ArgMax = %v, want [1 0]", got)
	}
}

func TestNodeAttrDefaults(t *testing.T) {
	node := &Node{
		OpType: "MaxPool",
		Attributes: []Attribute{
			{Name: "kernel_shape", Type: AttrInts, Ints: []int64{2, 2}},
		},
	}
	if got := node.AttrInt("ceil_mode", 0); got != 0 {
		t.Errorf("AttrInt default = %d, want 0", got)
	}
	if got := node.AttrInts("kernel_shape"); len(got) != 2 || got[0] != 2 {
		t.Errorf("AttrInts = %v, want [2 2]", got)
	}
	if got := node.AttrFloat("alpha", 0.01); got != 0.01 {
		t.Errorf("AttrFloat default = %v, want 0.01", got)
	}
}
