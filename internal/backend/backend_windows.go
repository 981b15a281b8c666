//go:build windows

// Package backend selects the compute backend for a device.
package backend

import (
	"fmt"

	"github.com/born-ml/serve/internal/backend/cpu"
	"github.com/born-ml/serve/internal/backend/webgpu"
	"github.com/born-ml/serve/internal/tensor"
)

// ForDevice returns a backend serving the given device.
func ForDevice(device tensor.Device) (tensor.Backend, error) {
	switch device {
	case tensor.CPU:
		return cpu.New(), nil
	case tensor.WebGPU:
		return webgpu.New()
	default:
		return nil, fmt.Errorf("backend: unsupported device %s", device)
	}
}
