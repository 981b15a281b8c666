//go:build windows

package webgpu

import (
	"fmt"
	"sync"

	"github.com/go-webgpu/webgpu/wgpu"

	"github.com/born-ml/serve/internal/backend/cpu"
	"github.com/born-ml/serve/internal/tensor"
)

// Backend runs float32 tensor operations on GPU through WebGPU.
//
// GPU execution covers the hot paths: same-shape element-wise arithmetic,
// scalar ops, unary math and 2D matrix multiplication. Anything else
// (broadcasting, integer dtypes, convolutions, pooling) is delegated to the
// CPU backend, so the Backend interface is always fully served.
type Backend struct {
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue

	// Shader and pipeline cache.
	shaders   map[string]*wgpu.ShaderModule
	pipelines map[string]*wgpu.ComputePipeline
	mu        sync.RWMutex

	adapterInfo *wgpu.AdapterInfo

	fallback *cpu.Backend
}

// New creates a new WebGPU backend.
// Returns an error if WebGPU is not available or initialization fails.
func New() (backend *Backend, err error) {
	// Recover from panic if the wgpu_native library is not found.
	defer func() {
		if r := recover(); r != nil {
			backend = nil
			err = fmt.Errorf("webgpu: native library not available: %v", r)
		}
	}()

	instance := wgpu.CreateInstance(nil)
	adapter, adapterErr := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if adapterErr != nil {
		instance.Release()
		return nil, fmt.Errorf("webgpu: failed to request adapter: %w", adapterErr)
	}

	adapterInfo := adapter.GetInfo()

	device, deviceErr := adapter.RequestDevice(nil)
	if deviceErr != nil {
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("webgpu: failed to request device: %w", deviceErr)
	}

	queue := device.GetQueue()
	if queue == nil {
		device.Release()
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("webgpu: failed to get queue")
	}

	return &Backend{
		instance:    instance,
		adapter:     adapter,
		device:      device,
		queue:       queue,
		shaders:     make(map[string]*wgpu.ShaderModule),
		pipelines:   make(map[string]*wgpu.ComputePipeline),
		adapterInfo: &adapterInfo,
		fallback:    cpu.New(),
	}, nil
}

// Name returns the backend identifier.
func (b *Backend) Name() string {
	return "webgpu"
}

// Device returns the compute device.
func (b *Backend) Device() tensor.Device {
	return tensor.WebGPU
}

// AdapterName returns the GPU adapter description, if available.
func (b *Backend) AdapterName() string {
	if b.adapterInfo == nil {
		return "unknown"
	}
	return b.adapterInfo.Description
}

// Release frees all GPU resources. The backend must not be used afterwards.
func (b *Backend) Release() {
	b.mu.Lock()
	for _, p := range b.pipelines {
		p.Release()
	}
	for _, s := range b.shaders {
		s.Release()
	}
	b.pipelines = nil
	b.shaders = nil
	b.mu.Unlock()

	b.device.Release()
	b.adapter.Release()
	b.instance.Release()
}

// gpuEligible reports whether a binary op can run on GPU directly:
// float32 operands of identical shape.
func gpuEligible(a, b *tensor.RawTensor) bool {
	return a != nil && b != nil &&
		a.DType() == tensor.Float32 && b.DType() == tensor.Float32 &&
		a.Shape().Equal(b.Shape())
}

func (b *Backend) binary(a, other *tensor.RawTensor, name, op string, cpuOp func(x, y *tensor.RawTensor) (*tensor.RawTensor, error)) (*tensor.RawTensor, error) {
	if !gpuEligible(a, other) {
		return cpuOp(a, other)
	}
	return b.runBinaryOp(a, other, name, binaryShader(op))
}

func (b *Backend) Add(a, other *tensor.RawTensor) (*tensor.RawTensor, error) {
	return b.binary(a, other, "add", "+", b.fallback.Add)
}

func (b *Backend) Sub(a, other *tensor.RawTensor) (*tensor.RawTensor, error) {
	return b.binary(a, other, "sub", "-", b.fallback.Sub)
}

func (b *Backend) Mul(a, other *tensor.RawTensor) (*tensor.RawTensor, error) {
	return b.binary(a, other, "mul", "*", b.fallback.Mul)
}

func (b *Backend) Div(a, other *tensor.RawTensor) (*tensor.RawTensor, error) {
	return b.binary(a, other, "div", "/", b.fallback.Div)
}

func (b *Backend) AddScalar(x *tensor.RawTensor, scalar float32) (*tensor.RawTensor, error) {
	if x == nil || x.DType() != tensor.Float32 {
		return b.fallback.AddScalar(x, scalar)
	}
	return b.runUnaryOp(x, "scalar_add", scalarShader("+"), scalarUniform(x.NumElements(), scalar))
}

func (b *Backend) MulScalar(x *tensor.RawTensor, scalar float32) (*tensor.RawTensor, error) {
	if x == nil || x.DType() != tensor.Float32 {
		return b.fallback.MulScalar(x, scalar)
	}
	return b.runUnaryOp(x, "scalar_mul", scalarShader("*"), scalarUniform(x.NumElements(), scalar))
}

func (b *Backend) Exp(x *tensor.RawTensor) (*tensor.RawTensor, error) {
	return b.unary(x, "exp", "exp(x)", b.fallback.Exp)
}

func (b *Backend) Log(x *tensor.RawTensor) (*tensor.RawTensor, error) {
	return b.unary(x, "log", "log(x)", b.fallback.Log)
}

func (b *Backend) Sqrt(x *tensor.RawTensor) (*tensor.RawTensor, error) {
	return b.unary(x, "sqrt", "sqrt(x)", b.fallback.Sqrt)
}

func (b *Backend) unary(x *tensor.RawTensor, name, expr string, cpuOp func(*tensor.RawTensor) (*tensor.RawTensor, error)) (*tensor.RawTensor, error) {
	if x == nil || x.DType() != tensor.Float32 {
		return cpuOp(x)
	}
	return b.runUnaryOp(x, name, unaryShader(expr), sizeUniform(x.NumElements()))
}

func (b *Backend) MatMul(a, other *tensor.RawTensor) (*tensor.RawTensor, error) {
	if a == nil || other == nil {
		return nil, fmt.Errorf("webgpu: matmul input tensors cannot be nil")
	}
	if a.DType() != tensor.Float32 || other.DType() != tensor.Float32 {
		return b.fallback.MatMul(a, other)
	}
	if len(a.Shape()) != 2 || len(other.Shape()) != 2 {
		return nil, fmt.Errorf("webgpu: matmul requires 2D tensors, got %v and %v", a.Shape(), other.Shape())
	}
	if a.Shape()[1] != other.Shape()[0] {
		return nil, fmt.Errorf("webgpu: matmul shape mismatch: %v @ %v", a.Shape(), other.Shape())
	}
	return b.runMatMul(a, other)
}

// BatchMatMul delegates to the CPU backend. Batched GEMM dispatch is not
// worth the transfer overhead for the request sizes the server sees.
func (b *Backend) BatchMatMul(a, other *tensor.RawTensor) (*tensor.RawTensor, error) {
	return b.fallback.BatchMatMul(a, other)
}

func (b *Backend) Conv2D(input, kernel *tensor.RawTensor, stride, padding int) (*tensor.RawTensor, error) {
	return b.fallback.Conv2D(input, kernel, stride, padding)
}

func (b *Backend) MaxPool2D(input *tensor.RawTensor, kernelSize, stride, padding int) (*tensor.RawTensor, error) {
	return b.fallback.MaxPool2D(input, kernelSize, stride, padding)
}
