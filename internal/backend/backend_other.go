//go:build !windows

// Package backend selects the compute backend for a device.
package backend

import (
	"fmt"

	"github.com/born-ml/serve/internal/backend/cpu"
	"github.com/born-ml/serve/internal/tensor"
)

// ForDevice returns a backend serving the given device.
// WebGPU execution requires the wgpu_native runtime shipped with the
// Windows builds; other platforms serve CPU only.
func ForDevice(device tensor.Device) (tensor.Backend, error) {
	switch device {
	case tensor.CPU:
		return cpu.New(), nil
	case tensor.WebGPU:
		return nil, fmt.Errorf("backend: webgpu is not available on this platform")
	default:
		return nil, fmt.Errorf("backend: unsupported device %s", device)
	}
}
