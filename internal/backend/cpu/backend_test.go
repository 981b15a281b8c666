package cpu

import (
	"math"
	"testing"

	"github.com/born-ml/serve/internal/tensor"
)

const epsilon = 1e-5

func floatsNear(got, want []float32) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if math.Abs(float64(got[i]-want[i])) > epsilon {
			return false
		}
	}
	return true
}

func TestBackendIdentity(t *testing.T) {
	backend := New()
	if backend.Name() != "cpu" {
		t.Errorf("Name = %q, want cpu", backend.Name())
	}
	if backend.Device() != tensor.CPU {
		t.Errorf("Device = %v, want CPU", backend.Device())
	}
}

func TestAdd(t *testing.T) {
	backend := New()
	a, _ := tensor.FromSlice([]float32{1, 2, 3, 4}, tensor.Shape{2, 2}, tensor.CPU)
	b, _ := tensor.FromSlice([]float32{10, 20, 30, 40}, tensor.Shape{2, 2}, tensor.CPU)

	out, err := backend.Add(a, b)
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if !floatsNear(out.AsFloat32(), []float32{11, 22, 33, 44}) {
		t.Errorf("Add = %v", out.AsFloat32())
	}
}

func TestSubMulDiv(t *testing.T) {
	backend := New()
	a, _ := tensor.FromSlice([]float32{10, 20, 30}, tensor.Shape{3}, tensor.CPU)
	b, _ := tensor.FromSlice([]float32{2, 4, 5}, tensor.Shape{3}, tensor.CPU)

	out, err := backend.Sub(a, b)
	if err != nil {
		t.Fatalf("Sub failed: %v", err)
	}
	if !floatsNear(out.AsFloat32(), []float32{8, 16, 25}) {
		t.Errorf("Sub = %v", out.AsFloat32())
	}

	out, err = backend.Mul(a, b)
	if err != nil {
		t.Fatalf("Mul failed: %v", err)
	}
	if !floatsNear(out.AsFloat32(), []float32{20, 80, 150}) {
		t.Errorf("Mul = %v", out.AsFloat32())
	}

	out, err = backend.Div(a, b)
	if err != nil {
		t.Fatalf("Div failed: %v", err)
	}
	if !floatsNear(out.AsFloat32(), []float32{5, 5, 6}) {
		t.Errorf("Div = %v", out.AsFloat32())
	}
}

func TestAddInt64(t *testing.T) {
	backend := New()
	a, _ := tensor.FromSlice([]int64{1, 2}, tensor.Shape{2}, tensor.CPU)
	b, _ := tensor.FromSlice([]int64{10, 20}, tensor.Shape{2}, tensor.CPU)

	out, err := backend.Add(a, b)
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	got := out.AsInt64()
	if got[0] != 11 || got[1] != 22 {
		t.Errorf("int64 Add = %v, want [11 22]", got)
	}
}

func TestAddBroadcast(t *testing.T) {
	backend := New()

	// [2,3] + [3] broadcasts the vector across rows.
	a, _ := tensor.FromSlice([]float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3}, tensor.CPU)
	b, _ := tensor.FromSlice([]float32{10, 20, 30}, tensor.Shape{3}, tensor.CPU)

	out, err := backend.Add(a, b)
	if err != nil {
		t.Fatalf("broadcast Add failed: %v", err)
	}
	if !out.Shape().Equal(tensor.Shape{2, 3}) {
		t.Errorf("shape = %v, want [2 3]", out.Shape())
	}
	if !floatsNear(out.AsFloat32(), []float32{11, 22, 33, 14, 25, 36}) {
		t.Errorf("broadcast Add = %v", out.AsFloat32())
	}

	// [2,1] * [1,3] broadcasts both operands.
	col, _ := tensor.FromSlice([]float32{2, 3}, tensor.Shape{2, 1}, tensor.CPU)
	row, _ := tensor.FromSlice([]float32{1, 10, 100}, tensor.Shape{1, 3}, tensor.CPU)
	out, err = backend.Mul(col, row)
	if err != nil {
		t.Fatalf("broadcast Mul failed: %v", err)
	}
	if !floatsNear(out.AsFloat32(), []float32{2, 20, 200, 3, 30, 300}) {
		t.Errorf("broadcast Mul = %v", out.AsFloat32())
	}
}

func TestAddShapeMismatch(t *testing.T) {
	backend := New()
	a, _ := tensor.FromSlice([]float32{1, 2, 3, 4}, tensor.Shape{2, 2}, tensor.CPU)
	b, _ := tensor.FromSlice([]float32{1, 2, 3}, tensor.Shape{3}, tensor.CPU)

	if _, err := backend.Add(a, b); err == nil {
		t.Error("expected error for incompatible shapes")
	}
}

func TestAddDTypeMismatch(t *testing.T) {
	backend := New()
	a, _ := tensor.FromSlice([]float32{1, 2}, tensor.Shape{2}, tensor.CPU)
	b, _ := tensor.FromSlice([]int64{1, 2}, tensor.Shape{2}, tensor.CPU)

	if _, err := backend.Add(a, b); err == nil {
		t.Error("expected error for dtype mismatch")
	}
}

func TestScalarOps(t *testing.T) {
	backend := New()
	x, _ := tensor.FromSlice([]float32{1, 2, 3}, tensor.Shape{3}, tensor.CPU)

	out, err := backend.AddScalar(x, 10)
	if err != nil {
		t.Fatalf("AddScalar failed: %v", err)
	}
	if !floatsNear(out.AsFloat32(), []float32{11, 12, 13}) {
		t.Errorf("AddScalar = %v", out.AsFloat32())
	}

	out, err = backend.MulScalar(x, 2)
	if err != nil {
		t.Fatalf("MulScalar failed: %v", err)
	}
	if !floatsNear(out.AsFloat32(), []float32{2, 4, 6}) {
		t.Errorf("MulScalar = %v", out.AsFloat32())
	}
}

func TestExpLogSqrt(t *testing.T) {
	backend := New()
	x, _ := tensor.FromSlice([]float32{0, 1, 2}, tensor.Shape{3}, tensor.CPU)

	out, err := backend.Exp(x)
	if err != nil {
		t.Fatalf("Exp failed: %v", err)
	}
	if !floatsNear(out.AsFloat32(), []float32{1, float32(math.E), float32(math.E * math.E)}) {
		t.Errorf("Exp = %v", out.AsFloat32())
	}

	back, err := backend.Log(out)
	if err != nil {
		t.Fatalf("Log failed: %v", err)
	}
	if !floatsNear(back.AsFloat32(), []float32{0, 1, 2}) {
		t.Errorf("Log(Exp(x)) = %v, want x", back.AsFloat32())
	}

	sq, _ := tensor.FromSlice([]float32{4, 9, 16}, tensor.Shape{3}, tensor.CPU)
	out, err = backend.Sqrt(sq)
	if err != nil {
		t.Fatalf("Sqrt failed: %v", err)
	}
	if !floatsNear(out.AsFloat32(), []float32{2, 3, 4}) {
		t.Errorf("Sqrt = %v", out.AsFloat32())
	}
}
