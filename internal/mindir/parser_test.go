package mindir

import (
	"context"
	"encoding/binary"
	"math"
	"testing"

	"github.com/born-ml/serve/internal/backend/cpu"
	"github.com/born-ml/serve/internal/graph"
	"github.com/born-ml/serve/internal/pbio"
	"github.com/born-ml/serve/internal/tensor"
)

func float32LE(values ...float32) []byte {
	out := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

// buildDenseModel encodes y = ReLU(x @ W + b), weights as parameters.
func buildDenseModel() []byte {
	w := pbio.NewWriter()
	w.WriteString(1, "IR_v1")
	w.WriteString(2, "mindspore")
	w.WriteString(5, "1.0.0")
	w.WriteMessage(7, func(w *pbio.Writer) { // graph
		w.WriteString(2, "dense")
		w.WriteMessage(3, func(w *pbio.Writer) { // parameter W [2,2]
			w.WriteVarint(1, 2)
			w.WriteVarint(1, 2)
			w.WriteVarint(2, 1) // float
			w.WriteString(7, "dense.weight")
			w.WriteBytes(9, float32LE(1, 0, 0, -1))
		})
		w.WriteMessage(3, func(w *pbio.Writer) { // parameter b [2]
			w.WriteVarint(1, 2)
			w.WriteVarint(2, 1)
			w.WriteString(7, "dense.bias")
			w.WriteBytes(9, float32LE(0.5, 0.5))
		})
		w.WriteMessage(1, func(w *pbio.Writer) { // MatMul
			w.WriteString(1, "x")
			w.WriteString(1, "dense.weight")
			w.WriteString(2, "xw")
			w.WriteString(3, "matmul0")
			w.WriteString(4, "MatMul")
		})
		w.WriteMessage(1, func(w *pbio.Writer) { // BiasAdd
			w.WriteString(1, "xw")
			w.WriteString(1, "dense.bias")
			w.WriteString(2, "pre")
			w.WriteString(3, "biasadd0")
			w.WriteString(4, "BiasAdd")
		})
		w.WriteMessage(1, func(w *pbio.Writer) { // ReLU
			w.WriteString(1, "pre")
			w.WriteString(2, "y")
			w.WriteString(3, "relu0")
			w.WriteString(4, "ReLU")
		})
		w.WriteMessage(5, func(w *pbio.Writer) { // input x
			w.WriteString(1, "x")
			w.WriteMessage(2, func(w *pbio.Writer) {
				w.WriteVarint(1, -1)
				w.WriteVarint(1, 2)
				w.WriteVarint(2, 1)
			})
		})
		w.WriteMessage(6, func(w *pbio.Writer) { // output y
			w.WriteString(1, "y")
			w.WriteMessage(2, func(w *pbio.Writer) {
				w.WriteVarint(1, -1)
				w.WriteVarint(1, 2)
				w.WriteVarint(2, 1)
			})
		})
	})
	return w.Bytes()
}

func TestParseDenseModel(t *testing.T) {
	model, err := Parse(buildDenseModel())
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if model.IRVersion != "IR_v1" {
		t.Errorf("IRVersion = %q, want IR_v1", model.IRVersion)
	}
	if model.ProducerName != "mindspore" || model.ModelVersion != "1.0.0" {
		t.Errorf("producer = %q version = %q", model.ProducerName, model.ModelVersion)
	}
	if model.Graph == nil {
		t.Fatal("Graph is nil")
	}
	if len(model.Graph.Parameters) != 2 {
		t.Fatalf("Parameters = %d, want 2", len(model.Graph.Parameters))
	}
	if model.Graph.Parameters[0].Name != "dense.weight" {
		t.Errorf("parameter name = %q", model.Graph.Parameters[0].Name)
	}
	if len(model.Graph.Nodes) != 3 {
		t.Fatalf("Nodes = %d, want 3", len(model.Graph.Nodes))
	}
	if model.Graph.Nodes[2].OpType != "ReLU" {
		t.Errorf("node op = %q, want ReLU", model.Graph.Nodes[2].OpType)
	}
}

func TestLowerNormalizesPrimitives(t *testing.T) {
	g, err := Load(buildDenseModel())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	ops := make([]string, 0, len(g.Nodes))
	for i := range g.Nodes {
		ops = append(ops, g.Nodes[i].OpType)
	}
	want := []string{"MatMul", "Add", "Relu"}
	for i := range want {
		if ops[i] != want[i] {
			t.Errorf("ops = %v, want %v", ops, want)
			break
		}
	}

	if len(g.Initializers) != 2 {
		t.Errorf("Initializers = %d, want 2", len(g.Initializers))
	}
	if g.Metadata["model_version"] != "1.0.0" {
		t.Errorf("Metadata = %v", g.Metadata)
	}

	if len(g.Inputs) != 1 {
		t.Fatalf("Inputs = %d, want 1", len(g.Inputs))
	}
	dims := g.Inputs[0].Dims
	if len(dims) != 2 || dims[0] != -1 || dims[1] != 2 {
		t.Errorf("input dims = %v, want [-1 2]", dims)
	}
}

func TestLoadCompileRun(t *testing.T) {
	g, err := Load(buildDenseModel())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	exec, err := graph.Compile(g, cpu.New())
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	x, err := tensor.FromSlice([]float32{1, 2}, tensor.Shape{1, 2}, tensor.CPU)
	if err != nil {
		t.Fatalf("FromSlice failed: %v", err)
	}
	results, err := exec.Run(context.Background(), map[string]*tensor.RawTensor{"x": x})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// x@W = [1 -2]; +b = [1.5 -1.5]; relu = [1.5 0].
	got := results["y"].AsFloat32()
	if got[0] != 1.5 || got[1] != 0 {
		t.Errorf("y = %v, want [1.5 0]", got)
	}
}

func TestLowerAttributeTypes(t *testing.T) {
	ap := &AttributeProto{Name: "epsilon", Type: attrDouble, D: 0.001}
	attr, err := lowerAttribute(ap)
	if err != nil {
		t.Fatalf("lowerAttribute failed: %v", err)
	}
	if attr.Type != graph.AttrFloat || math.Abs(float64(attr.F)-0.001) > 1e-9 {
		t.Errorf("attr = %+v", attr)
	}

	ap = &AttributeProto{Name: "axes", Type: attrInts, Ints: []int64{0, 1}}
	attr, err = lowerAttribute(ap)
	if err != nil {
		t.Fatalf("lowerAttribute failed: %v", err)
	}
	if attr.Type != graph.AttrInts || len(attr.Ints) != 2 {
		t.Errorf("attr = %+v", attr)
	}
}

func TestLowerNoGraph(t *testing.T) {
	if _, err := Lower(&ModelProto{}); err == nil {
		t.Error("expected error for model without graph")
	}
}
