package cpu

import (
	"testing"

	"github.com/born-ml/serve/internal/tensor"
)

func TestMaxPool2DBasic(t *testing.T) {
	backend := New()

	input, _ := tensor.FromSlice([]float32{
		1, 2, 3, 4,
		5, 6, 7, 8,
		9, 10, 11, 12,
		13, 14, 15, 16,
	}, tensor.Shape{1, 1, 4, 4}, tensor.CPU)

	out, err := backend.MaxPool2D(input, 2, 2, 0)
	if err != nil {
		t.Fatalf("MaxPool2D failed: %v", err)
	}
	if !out.Shape().Equal(tensor.Shape{1, 1, 2, 2}) {
		t.Errorf("shape = %v, want [1 1 2 2]", out.Shape())
	}
	if !floatsNear(out.AsFloat32(), []float32{6, 8, 14, 16}) {
		t.Errorf("MaxPool2D = %v, want [6 8 14 16]", out.AsFloat32())
	}
}

func TestMaxPool2DStride1(t *testing.T) {
	backend := New()

	input, _ := tensor.FromSlice([]float32{
		1, 2, 3,
		4, 5, 6,
		7, 8, 9,
	}, tensor.Shape{1, 1, 3, 3}, tensor.CPU)

	out, err := backend.MaxPool2D(input, 2, 1, 0)
	if err != nil {
		t.Fatalf("MaxPool2D failed: %v", err)
	}
	if !out.Shape().Equal(tensor.Shape{1, 1, 2, 2}) {
		t.Errorf("shape = %v, want [1 1 2 2]", out.Shape())
	}
	if !floatsNear(out.AsFloat32(), []float32{5, 6, 8, 9}) {
		t.Errorf("MaxPool2D = %v, want [5 6 8 9]", out.AsFloat32())
	}
}

func TestMaxPool2DWithPadding(t *testing.T) {
	backend := New()

	// Negative values ensure padded positions (treated as -inf) never win.
	input, _ := tensor.FromSlice([]float32{
		-1, -2,
		-3, -4,
	}, tensor.Shape{1, 1, 2, 2}, tensor.CPU)

	out, err := backend.MaxPool2D(input, 2, 2, 1)
	if err != nil {
		t.Fatalf("MaxPool2D failed: %v", err)
	}
	// out = (2 + 2*1 - 2)/2 + 1 = 2
	if !out.Shape().Equal(tensor.Shape{1, 1, 2, 2}) {
		t.Errorf("shape = %v, want [1 1 2 2]", out.Shape())
	}
	// Each window sees exactly one in-bounds corner value.
	if !floatsNear(out.AsFloat32(), []float32{-1, -2, -3, -4}) {
		t.Errorf("padded MaxPool2D = %v, want [-1 -2 -3 -4]", out.AsFloat32())
	}
}

func TestMaxPool2DMultiChannel(t *testing.T) {
	backend := New()

	input, _ := tensor.FromSlice([]float32{
		1, 2, 3, 4, // channel 0
		40, 30, 20, 10, // channel 1
	}, tensor.Shape{1, 2, 2, 2}, tensor.CPU)

	out, err := backend.MaxPool2D(input, 2, 2, 0)
	if err != nil {
		t.Fatalf("MaxPool2D failed: %v", err)
	}
	if !out.Shape().Equal(tensor.Shape{1, 2, 1, 1}) {
		t.Errorf("shape = %v, want [1 2 1 1]", out.Shape())
	}
	if !floatsNear(out.AsFloat32(), []float32{4, 40}) {
		t.Errorf("MaxPool2D = %v, want [4 40]", out.AsFloat32())
	}
}

func TestMaxPool2DInvalidArgs(t *testing.T) {
	backend := New()
	input, _ := tensor.NewRaw(tensor.Shape{1, 1, 4, 4}, tensor.Float32, tensor.CPU)

	if _, err := backend.MaxPool2D(input, 0, 1, 0); err == nil {
		t.Error("expected error for zero kernel size")
	}
	if _, err := backend.MaxPool2D(input, 2, 0, 0); err == nil {
		t.Error("expected error for zero stride")
	}
	if _, err := backend.MaxPool2D(input, 2, 2, -1); err == nil {
		t.Error("expected error for negative padding")
	}

	bad, _ := tensor.NewRaw(tensor.Shape{4, 4}, tensor.Float32, tensor.CPU)
	if _, err := backend.MaxPool2D(bad, 2, 2, 0); err == nil {
		t.Error("expected error for non-4D input")
	}
}
