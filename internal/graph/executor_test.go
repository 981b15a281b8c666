package graph

import (
	"context"
	"math"
	"testing"

	"github.com/born-ml/serve/internal/backend/cpu"
	"github.com/born-ml/serve/internal/tensor"
)

func mustTensor(t *testing.T, data []float32, shape tensor.Shape) *tensor.RawTensor {
	t.Helper()
	raw, err := tensor.FromSlice(data, shape, tensor.CPU)
	if err != nil {
		t.Fatalf("FromSlice failed: %v", err)
	}
	return raw
}

// linearGraph builds y = relu(x @ W + b) with W and b as initializers.
func linearGraph(t *testing.T) *Graph {
	t.Helper()
	return &Graph{
		Name: "linear",
		Nodes: []Node{
			{
				Name:    "matmul0",
				OpType:  "MatMul",
				Inputs:  []string{"x", "W"},
				Outputs: []string{"xw"},
			},
			{
				Name:    "add0",
				OpType:  "Add",
				Inputs:  []string{"xw", "b"},
				Outputs: []string{"pre"},
			},
			{
				Name:    "relu0",
				OpType:  "Relu",
				Inputs:  []string{"pre"},
				Outputs: []string{"y"},
			},
		},
		Inputs: []ValueInfo{
			{Name: "x", DType: tensor.Float32, Dims: []int64{-1, 2}},
			{Name: "W", DType: tensor.Float32, Dims: []int64{2, 2}},
			{Name: "b", DType: tensor.Float32, Dims: []int64{2}},
		},
		Outputs: []ValueInfo{
			{Name: "y", DType: tensor.Float32, Dims: []int64{-1, 2}},
		},
		Initializers: map[string]*tensor.RawTensor{
			"W": mustTensor(t, []float32{1, 0, 0, -1}, tensor.Shape{2, 2}),
			"b": mustTensor(t, []float32{0.5, 0.5}, tensor.Shape{2}),
		},
	}
}

func TestCompileSeparatesWeightsFromInputs(t *testing.T) {
	exec, err := Compile(linearGraph(t), cpu.New())
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	inputs := exec.InputNames()
	if len(inputs) != 1 || inputs[0] != "x" {
		t.Errorf("InputNames = %v, want [x]", inputs)
	}
	outputs := exec.OutputNames()
	if len(outputs) != 1 || outputs[0] != "y" {
		t.Errorf("OutputNames = %v, want [y]", outputs)
	}
}

func TestInfoAccessorsExcludeWeights(t *testing.T) {
	exec, err := Compile(linearGraph(t), cpu.New())
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	inputs := exec.InputInfos()
	if len(inputs) != 1 {
		t.Fatalf("InputInfos = %v, want one entry", inputs)
	}
	if inputs[0].Name != "x" || inputs[0].DType != tensor.Float32 {
		t.Errorf("input = %+v, want x float32", inputs[0])
	}
	if len(inputs[0].Dims) != 2 || inputs[0].Dims[0] != -1 || inputs[0].Dims[1] != 2 {
		t.Errorf("input dims = %v, want [-1 2]", inputs[0].Dims)
	}

	outputs := exec.OutputInfos()
	if len(outputs) != 1 || outputs[0].Name != "y" {
		t.Fatalf("OutputInfos = %v, want [y]", outputs)
	}
}

func TestRunLinear(t *testing.T) {
	exec, err := Compile(linearGraph(t), cpu.New())
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	x := mustTensor(t, []float32{1, 2}, tensor.Shape{1, 2})
	results, err := exec.Run(context.Background(), map[string]*tensor.RawTensor{"x": x})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// x@W = [1, -2]; +b = [1.5, -1.5]; relu = [1.5, 0].
	y := results["y"]
	if y == nil {
		t.Fatal("missing output y")
	}
	got := y.AsFloat32()
	want := []float32{1.5, 0}
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 1e-5 {
			t.Errorf("y = %v, want %v", got, want)
			break
		}
	}
}

func TestRunMissingInput(t *testing.T) {
	exec, err := Compile(linearGraph(t), cpu.New())
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	if _, err := exec.Run(context.Background(), nil); err == nil {
		t.Error("expected error for missing input")
	}
}

func TestRunCanceledContext(t *testing.T) {
	exec, err := Compile(linearGraph(t), cpu.New())
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	x := mustTensor(t, []float32{1, 2}, tensor.Shape{1, 2})
	if _, err := exec.Run(ctx, map[string]*tensor.RawTensor{"x": x}); err == nil {
		t.Error("expected error for canceled context")
	}
}

func TestCompileUnsupportedOperator(t *testing.T) {
	g := &Graph{
		Nodes: []Node{
			{OpType: "FancyCustomOp", Inputs: []string{"x"}, Outputs: []string{"y"}},
		},
		Inputs:  []ValueInfo{{Name: "x"}},
		Outputs: []ValueInfo{{Name: "y"}},
	}

	if _, err := Compile(g, cpu.New()); err == nil {
		t.Error("expected error for unsupported operator")
	}
}

func TestCompileCustomOperator(t *testing.T) {
	g := &Graph{
		Nodes: []Node{
			{OpType: "Double", Inputs: []string{"x"}, Outputs: []string{"y"}},
		},
		Inputs:  []ValueInfo{{Name: "x", DType: tensor.Float32}},
		Outputs: []ValueInfo{{Name: "y", DType: tensor.Float32}},
	}

	double := func(ctx *Context, _ *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
		out, err := ctx.Backend.MulScalar(inputs[0], 2)
		if err != nil {
			return nil, err
		}
		return []*tensor.RawTensor{out}, nil
	}

	exec, err := Compile(g, cpu.New(), CompileOptions{CustomOps: map[string]OpHandler{"Double": double}})
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	x := mustTensor(t, []float32{3}, tensor.Shape{1})
	results, err := exec.Run(context.Background(), map[string]*tensor.RawTensor{"x": x})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if results["y"].AsFloat32()[0] != 6 {
		t.Errorf("custom op result = %v, want 6", results["y"].AsFloat32()[0])
	}
}

func TestTopologicalSortOutOfOrderNodes(t *testing.T) {
	// Nodes listed consumer-first; the sort must still execute producers
	// before consumers.
	g := &Graph{
		Nodes: []Node{
			{Name: "second", OpType: "Relu", Inputs: []string{"mid"}, Outputs: []string{"y"}},
			{Name: "first", OpType: "Identity", Inputs: []string{"x"}, Outputs: []string{"mid"}},
		},
		Inputs:  []ValueInfo{{Name: "x", DType: tensor.Float32}},
		Outputs: []ValueInfo{{Name: "y", DType: tensor.Float32}},
	}

	exec, err := Compile(g, cpu.New())
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	x := mustTensor(t, []float32{-1, 1}, tensor.Shape{2})
	results, err := exec.Run(context.Background(), map[string]*tensor.RawTensor{"x": x})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	got := results["y"].AsFloat32()
	if got[0] != 0 || got[1] != 1 {
		t.Errorf("y = %v, want [0 1]", got)
	}
}

func TestRunConcurrent(t *testing.T) {
	exec, err := Compile(linearGraph(t), cpu.New())
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	x := mustTensor(t, []float32{1, 2}, tensor.Shape{1, 2})
	done := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() {
			_, err := exec.Run(context.Background(), map[string]*tensor.RawTensor{"x": x})
			done <- err
		}()
	}
	for i := 0; i < 8; i++ {
		if err := <-done; err != nil {
			t.Errorf("concurrent Run failed: %v", err)
		}
	}
}
