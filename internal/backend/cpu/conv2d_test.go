package cpu

import (
	"testing"

	"github.com/born-ml/serve/internal/tensor"
)

func TestConv2DIdentityKernel(t *testing.T) {
	backend := New()

	// [1,1,3,3] input with a 1x1 identity kernel reproduces the input.
	input, _ := tensor.FromSlice([]float32{1, 2, 3, 4, 5, 6, 7, 8, 9}, tensor.Shape{1, 1, 3, 3}, tensor.CPU)
	kernel, _ := tensor.FromSlice([]float32{1}, tensor.Shape{1, 1, 1, 1}, tensor.CPU)

	out, err := backend.Conv2D(input, kernel, 1, 0)
	if err != nil {
		t.Fatalf("Conv2D failed: %v", err)
	}
	if !out.Shape().Equal(tensor.Shape{1, 1, 3, 3}) {
		t.Errorf("shape = %v, want [1 1 3 3]", out.Shape())
	}
	if !floatsNear(out.AsFloat32(), input.AsFloat32()) {
		t.Errorf("Conv2D with 1x1 identity = %v", out.AsFloat32())
	}
}

func TestConv2DSumKernel(t *testing.T) {
	backend := New()

	// 2x2 all-ones kernel sums each window.
	input, _ := tensor.FromSlice([]float32{
		1, 2, 3,
		4, 5, 6,
		7, 8, 9,
	}, tensor.Shape{1, 1, 3, 3}, tensor.CPU)
	kernel, _ := tensor.FromSlice([]float32{1, 1, 1, 1}, tensor.Shape{1, 1, 2, 2}, tensor.CPU)

	out, err := backend.Conv2D(input, kernel, 1, 0)
	if err != nil {
		t.Fatalf("Conv2D failed: %v", err)
	}
	if !out.Shape().Equal(tensor.Shape{1, 1, 2, 2}) {
		t.Errorf("shape = %v, want [1 1 2 2]", out.Shape())
	}
	// Windows: 1+2+4+5, 2+3+5+6, 4+5+7+8, 5+6+8+9
	if !floatsNear(out.AsFloat32(), []float32{12, 16, 24, 28}) {
		t.Errorf("Conv2D = %v, want [12 16 24 28]", out.AsFloat32())
	}
}

func TestConv2DWithPadding(t *testing.T) {
	backend := New()

	// 3x3 ones kernel with padding=1 keeps spatial size.
	input, _ := tensor.FromSlice([]float32{
		1, 2,
		3, 4,
	}, tensor.Shape{1, 1, 2, 2}, tensor.CPU)
	kernel, _ := tensor.FromSlice([]float32{
		1, 1, 1,
		1, 1, 1,
		1, 1, 1,
	}, tensor.Shape{1, 1, 3, 3}, tensor.CPU)

	out, err := backend.Conv2D(input, kernel, 1, 1)
	if err != nil {
		t.Fatalf("Conv2D failed: %v", err)
	}
	if !out.Shape().Equal(tensor.Shape{1, 1, 2, 2}) {
		t.Errorf("shape = %v, want [1 1 2 2]", out.Shape())
	}
	// Every output sums all in-bounds values of its 3x3 window; with a 2x2
	// input every window covers the whole image.
	if !floatsNear(out.AsFloat32(), []float32{10, 10, 10, 10}) {
		t.Errorf("padded Conv2D = %v, want [10 10 10 10]", out.AsFloat32())
	}
}

func TestConv2DMultiChannel(t *testing.T) {
	backend := New()

	// Two input channels, one output channel, 1x1 kernel with weights 1 and 2:
	// output = ch0 + 2*ch1.
	input, _ := tensor.FromSlice([]float32{
		1, 2, 3, 4, // channel 0
		10, 20, 30, 40, // channel 1
	}, tensor.Shape{1, 2, 2, 2}, tensor.CPU)
	kernel, _ := tensor.FromSlice([]float32{1, 2}, tensor.Shape{1, 2, 1, 1}, tensor.CPU)

	out, err := backend.Conv2D(input, kernel, 1, 0)
	if err != nil {
		t.Fatalf("Conv2D failed: %v", err)
	}
	if !floatsNear(out.AsFloat32(), []float32{21, 42, 63, 84}) {
		t.Errorf("multi-channel Conv2D = %v, want [21 42 63 84]", out.AsFloat32())
	}
}

func TestConv2DStride(t *testing.T) {
	backend := New()

	input, _ := tensor.FromSlice([]float32{
		1, 2, 3, 4,
		5, 6, 7, 8,
		9, 10, 11, 12,
		13, 14, 15, 16,
	}, tensor.Shape{1, 1, 4, 4}, tensor.CPU)
	kernel, _ := tensor.FromSlice([]float32{1, 1, 1, 1}, tensor.Shape{1, 1, 2, 2}, tensor.CPU)

	out, err := backend.Conv2D(input, kernel, 2, 0)
	if err != nil {
		t.Fatalf("Conv2D failed: %v", err)
	}
	if !out.Shape().Equal(tensor.Shape{1, 1, 2, 2}) {
		t.Errorf("shape = %v, want [1 1 2 2]", out.Shape())
	}
	if !floatsNear(out.AsFloat32(), []float32{14, 22, 46, 54}) {
		t.Errorf("strided Conv2D = %v, want [14 22 46 54]", out.AsFloat32())
	}
}

func TestConv2DChannelMismatch(t *testing.T) {
	backend := New()
	input, _ := tensor.NewRaw(tensor.Shape{1, 3, 4, 4}, tensor.Float32, tensor.CPU)
	kernel, _ := tensor.NewRaw(tensor.Shape{8, 2, 3, 3}, tensor.Float32, tensor.CPU)

	if _, err := backend.Conv2D(input, kernel, 1, 0); err == nil {
		t.Error("expected error for channel count mismatch")
	}
}
