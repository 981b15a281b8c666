package backend

import (
	"testing"

	"github.com/born-ml/serve/internal/tensor"
)

func TestForDeviceCPU(t *testing.T) {
	b, err := ForDevice(tensor.CPU)
	if err != nil {
		t.Fatalf("ForDevice(CPU) failed: %v", err)
	}
	if b.Name() != "cpu" {
		t.Errorf("Name = %q, want cpu", b.Name())
	}
	if b.Device() != tensor.CPU {
		t.Errorf("Device = %v, want CPU", b.Device())
	}
}

func TestForDeviceUnknown(t *testing.T) {
	if _, err := ForDevice(tensor.Device(99)); err == nil {
		t.Error("expected error for unknown device")
	}
}
