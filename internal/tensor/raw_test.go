package tensor

import (
	"testing"
)

func TestNewRawZeroed(t *testing.T) {
	raw, err := NewRaw(Shape{2, 3}, Float32, CPU)
	if err != nil {
		t.Fatalf("NewRaw failed: %v", err)
	}

	if raw.NumElements() != 6 {
		t.Errorf("NumElements = %d, want 6", raw.NumElements())
	}
	if raw.ByteSize() != 24 {
		t.Errorf("ByteSize = %d, want 24", raw.ByteSize())
	}
	for i, v := range raw.AsFloat32() {
		if v != 0 {
			t.Errorf("element %d = %v, want 0", i, v)
		}
	}
}

func TestNewRawInvalidShape(t *testing.T) {
	if _, err := NewRaw(Shape{2, -1}, Float32, CPU); err == nil {
		t.Error("expected error for negative dimension")
	}
}

func TestNewRawFromBytes(t *testing.T) {
	// 2 float32 values: 1.0 and 2.0, little-endian.
	data := []byte{0, 0, 0x80, 0x3f, 0, 0, 0, 0x40}
	raw, err := NewRawFromBytes(Shape{2}, Float32, CPU, data)
	if err != nil {
		t.Fatalf("NewRawFromBytes failed: %v", err)
	}

	got := raw.AsFloat32()
	if got[0] != 1.0 || got[1] != 2.0 {
		t.Errorf("got %v, want [1 2]", got)
	}

	// Copy, not alias.
	data[0] = 0xff
	if raw.AsFloat32()[0] != 1.0 {
		t.Error("NewRawFromBytes should copy the input data")
	}
}

func TestNewRawFromBytesLengthMismatch(t *testing.T) {
	if _, err := NewRawFromBytes(Shape{3}, Float32, CPU, make([]byte, 8)); err == nil {
		t.Error("expected error for length mismatch")
	}
}

func TestFromSlice(t *testing.T) {
	raw, err := FromSlice([]float32{1, 2, 3, 4}, Shape{2, 2}, CPU)
	if err != nil {
		t.Fatalf("FromSlice failed: %v", err)
	}

	if raw.DType() != Float32 {
		t.Errorf("DType = %v, want Float32", raw.DType())
	}
	got := raw.AsFloat32()
	for i, want := range []float32{1, 2, 3, 4} {
		if got[i] != want {
			t.Errorf("element %d = %v, want %v", i, got[i], want)
		}
	}
}

func TestFromSliceInt64(t *testing.T) {
	raw, err := FromSlice([]int64{10, 20, 30}, Shape{3}, CPU)
	if err != nil {
		t.Fatalf("FromSlice failed: %v", err)
	}
	if raw.DType() != Int64 {
		t.Errorf("DType = %v, want Int64", raw.DType())
	}
	if raw.AsInt64()[2] != 30 {
		t.Errorf("element 2 = %d, want 30", raw.AsInt64()[2])
	}
}

func TestFromSliceCountMismatch(t *testing.T) {
	if _, err := FromSlice([]float32{1, 2, 3}, Shape{2, 2}, CPU); err == nil {
		t.Error("expected error for element count mismatch")
	}
}

func TestAsZeroCopy(t *testing.T) {
	raw, _ := NewRaw(Shape{2, 2}, Int32, CPU)
	data := raw.AsInt32()

	data[0] = 42
	if raw.AsInt32()[0] != 42 {
		t.Error("AsInt32 should return zero-copy slice")
	}
}

func TestAsDTypeMismatchPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for dtype mismatch")
		}
	}()
	raw, _ := NewRaw(Shape{2}, Float32, CPU)
	raw.AsInt64()
}

func TestClone(t *testing.T) {
	raw, _ := FromSlice([]float32{1, 2, 3}, Shape{3}, CPU)
	clone := raw.Clone()

	clone.AsFloat32()[0] = 99
	if raw.AsFloat32()[0] != 1 {
		t.Error("Clone should deep-copy data")
	}
	if !clone.Shape().Equal(raw.Shape()) {
		t.Errorf("Clone shape = %v, want %v", clone.Shape(), raw.Shape())
	}
}

func TestWithShape(t *testing.T) {
	raw, _ := FromSlice([]float32{1, 2, 3, 4, 5, 6}, Shape{2, 3}, CPU)

	view, err := raw.WithShape(Shape{3, 2})
	if err != nil {
		t.Fatalf("WithShape failed: %v", err)
	}

	// Shares data.
	view.AsFloat32()[0] = 99
	if raw.AsFloat32()[0] != 99 {
		t.Error("WithShape should share the underlying data")
	}

	if _, err := raw.WithShape(Shape{4, 2}); err == nil {
		t.Error("expected error for element count mismatch")
	}
}

func TestParseDevice(t *testing.T) {
	tests := []struct {
		name    string
		want    Device
		wantErr bool
	}{
		{"cpu", CPU, false},
		{"", CPU, false},
		{"webgpu", WebGPU, false},
		{"cuda", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseDevice(tt.name)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseDevice(%q): expected error", tt.name)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseDevice(%q): %v", tt.name, err)
		}
		if got != tt.want {
			t.Errorf("ParseDevice(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
