package onnx

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

// buildAddModel encodes y = x + bias with bias as an initializer.
func buildAddModel() []byte {
	w := pbio.NewWriter()
	w.WriteVarint(1, 8) // ir_version
	w.WriteString(2, "test-exporter")
	w.WriteMessage(8, func(w *pbio.Writer) { // opset_import
		w.WriteVarint(2, 13)
	})
	w.WriteMessage(7, func(w *pbio.Writer) { // graph
		w.WriteString(2, "add_graph")
		w.WriteMessage(1, func(w *pbio.Writer) { // node
			w.WriteString(1, "x")
			w.WriteString(1, "bias")
			w.WriteString(2, "y")
			w.WriteString(3, "add0")
			w.WriteString(4, "Add")
		})
		w.WriteMessage(5, func(w *pbio.Writer) { // initializer bias [2]
			w.WriteVarint(1, 2)
			w.WriteVarint(2, 1) // float
			w.WriteString(8, "bias")
			w.WriteBytes(9, float32LE(10, 20))
		})
		w.WriteMessage(11, func(w *pbio.Writer) { // input x
			w.WriteString(1, "x")
			w.WriteMessage(2, func(w *pbio.Writer) {
				w.WriteMessage(1, func(w *pbio.Writer) {
					w.WriteVarint(1, 1) // float
					w.WriteMessage(2, func(w *pbio.Writer) {
						w.WriteMessage(1, func(w *pbio.Writer) {
							w.WriteString(2, "batch")
						})
						w.WriteMessage(1, func(w *pbio.Writer) {
							w.WriteVarint(1, 2)
						})
					})
				})
			})
		})
		w.WriteMessage(11, func(w *pbio.Writer) { // input bias (also initializer)
			w.WriteString(1, "bias")
		})
		w.WriteMessage(12, func(w *pbio.Writer) { // output y
			w.WriteString(1, "y")
			w.WriteMessage(2, func(w *pbio.Writer) {
				w.WriteMessage(1, func(w *pbio.Writer) {
					w.WriteVarint(1, 1)
				})
			})
		})
	})
	w.WriteMessage(14, func(w *pbio.Writer) { // metadata_props
		w.WriteString(1, "task")
		w.WriteString(2, "demo")
	})
	return w.Bytes()
}

func TestParseSimpleModel(t *testing.T) {
	model, err := Parse(buildAddModel())
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if model.IRVersion != 8 {
		t.Errorf("IRVersion = %d, want 8", model.IRVersion)
	}
	if model.ProducerName != "test-exporter" {
		t.Errorf("ProducerName = %q", model.ProducerName)
	}
	if len(model.OpsetImport) != 1 || model.OpsetImport[0].Version != 13 {
		t.Errorf("OpsetImport = %+v", model.OpsetImport)
	}
	if model.Graph == nil {
		t.Fatal("Graph is nil")
	}
	if len(model.Graph.Nodes) != 1 {
		t.Fatalf("Nodes = %d, want 1", len(model.Graph.Nodes))
	}

	node := model.Graph.Nodes[0]
	if node.OpType != "Add" || node.Name != "add0" {
		t.Errorf("node = %+v", node)
	}
	if len(node.Inputs) != 2 || node.Inputs[0] != "x" || node.Inputs[1] != "bias" {
		t.Errorf("node inputs = %v", node.Inputs)
	}

	if len(model.Graph.Initializers) != 1 {
		t.Fatalf("Initializers = %d, want 1", len(model.Graph.Initializers))
	}
	init := model.Graph.Initializers[0]
	if init.Name != "bias" || init.DataType != 1 || len(init.RawData) != 8 {
		t.Errorf("initializer = %+v", init)
	}
	if len(model.MetadataProps) != 1 || model.MetadataProps[0].Key != "task" {
		t.Errorf("MetadataProps = %+v", model.MetadataProps)
	}
}

func TestLowerDynamicBatchDim(t *testing.T) {
	g, err := Load(buildAddModel())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(g.Inputs) != 2 {
		t.Fatalf("Inputs = %d, want 2", len(g.Inputs))
	}
	x := g.Inputs[0]
	if x.Name != "x" || x.DType != tensor.Float32 {
		t.Errorf("input = %+v", x)
	}
	if len(x.Dims) != 2 || x.Dims[0] != -1 || x.Dims[1] != 2 {
		t.Errorf("input dims = %v, want [-1 2]", x.Dims)
	}
	if g.OpsetVersion != 13 {
		t.Errorf("OpsetVersion = %d, want 13", g.OpsetVersion)
	}
	if g.Metadata["task"] != "demo" {
		t.Errorf("Metadata = %v", g.Metadata)
	}
}

func TestLoadCompileRun(t *testing.T) {
	g, err := Load(buildAddModel())
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

	got := results["y"].AsFloat32()
	if got[0] != 11 || got[1] != 22 {
		t.Errorf("y = %v, want [11 22]", got)
	}
}

func TestParseAttributes(t *testing.T) {
	w := pbio.NewWriter()
	w.WriteMessage(7, func(w *pbio.Writer) {
		w.WriteMessage(1, func(w *pbio.Writer) {
			w.WriteString(4, "Conv")
			w.WriteMessage(5, func(w *pbio.Writer) { // alpha
				w.WriteString(1, "alpha")
				w.WriteFloat32(2, 0.5)
				w.WriteVarint(20, 1)
			})
			w.WriteMessage(5, func(w *pbio.Writer) { // axis
				w.WriteString(1, "axis")
				w.WriteVarint(3, -1)
				w.WriteVarint(20, 2)
			})
			w.WriteMessage(5, func(w *pbio.Writer) { // mode
				w.WriteString(1, "mode")
				w.WriteString(4, "constant")
				w.WriteVarint(20, 3)
			})
			w.WriteMessage(5, func(w *pbio.Writer) { // value tensor
				w.WriteString(1, "value")
				w.WriteMessage(5, func(w *pbio.Writer) {
					w.WriteVarint(1, 1)
					w.WriteVarint(2, 1)
					w.WriteBytes(9, float32LE(3.5))
				})
				w.WriteVarint(20, 4)
			})
		})
	})

	model, err := Parse(w.Bytes())
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	attrs := model.Graph.Nodes[0].Attributes
	if len(attrs) != 4 {
		t.Fatalf("attrs = %d, want 4", len(attrs))
	}
	if attrs[0].Name != "alpha" || attrs[0].F != 0.5 {
		t.Errorf("alpha = %+v", attrs[0])
	}
	if attrs[1].I != -1 {
		t.Errorf("axis = %d, want -1", attrs[1].I)
	}
	if string(attrs[2].S) != "constant" {
		t.Errorf("mode = %q", attrs[2].S)
	}
	if attrs[3].T == nil || len(attrs[3].T.RawData) != 4 {
		t.Errorf("value tensor = %+v", attrs[3].T)
	}

	node, err := lowerNode(&model.Graph.Nodes[0])
	if err != nil {
		t.Fatalf("lowerNode failed: %v", err)
	}
	value := node.AttrTensor("value")
	if value == nil || value.AsFloat32()[0] != 3.5 {
		t.Errorf("lowered value tensor = %v", value)
	}
}

func TestTensorFromProtoLegacyFields(t *testing.T) {
	tp := &TensorProto{
		Name:      "w",
		DataType:  7, // int64
		Dims:      []int64{3},
		Int64Data: []int64{4, 5, 6},
	}
	raw, err := tensorFromProto(tp)
	if err != nil {
		t.Fatalf("tensorFromProto failed: %v", err)
	}
	got := raw.AsInt64()
	if got[0] != 4 || got[2] != 6 {
		t.Errorf("data = %v", got)
	}
}

func TestTensorFromProtoSizeMismatch(t *testing.T) {
	tp := &TensorProto{
		DataType: 1,
		Dims:     []int64{3},
		RawData:  float32LE(1, 2), // 2 elements, shape says 3
	}
	if _, err := tensorFromProto(tp); err == nil {
		t.Error("expected size mismatch error")
	}
}

func TestParseTruncated(t *testing.T) {
	data := buildAddModel()
	if _, err := Parse(data[:len(data)-5]); err == nil {
		t.Error("expected error for truncated model")
	}
}

func TestInspect(t *testing.T) {
	info, err := Inspect(buildAddModel())
	if err != nil {
		t.Fatalf("Inspect failed: %v", err)
	}
	if info.OpsetVersion != 13 {
		t.Errorf("OpsetVersion = %d, want 13", info.OpsetVersion)
	}
	if len(info.InputNames) != 1 || info.InputNames[0] != "x" {
		t.Errorf("InputNames = %v, want [x]", info.InputNames)
	}
	if len(info.OutputNames) != 1 || info.OutputNames[0] != "y" {
		t.Errorf("OutputNames = %v", info.OutputNames)
	}
	if info.NodeCount != 1 || info.WeightCount != 1 {
		t.Errorf("counts = %d/%d, want 1/1", info.NodeCount, info.WeightCount)
	}
}
