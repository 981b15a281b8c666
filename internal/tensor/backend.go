package tensor

// Backend is the compute interface graph operators execute against.
//
// It carries only the forward kernels the serving runtime needs; shape and
// dtype manipulation live as free functions in this package since they are
// device independent on dense host memory.
//
// Implementations:
//   - cpu: pure Go, parallelised across cores
//   - webgpu: GPU acceleration for the hot kernels with CPU fallback
type Backend interface {
	// Element-wise binary operations with NumPy-style broadcasting.
	Add(a, b *RawTensor) (*RawTensor, error)
	Sub(a, b *RawTensor) (*RawTensor, error)
	Mul(a, b *RawTensor) (*RawTensor, error)
	Div(a, b *RawTensor) (*RawTensor, error)

	// Matrix operations.
	MatMul(a, b *RawTensor) (*RawTensor, error)

	// BatchMatMul performs batched matrix multiplication for 3D/4D tensors.
	// For 3D: [B, M, K] @ [B, K, N] -> [B, M, N]
	// For 4D: [B, H, M, K] @ [B, H, K, N] -> [B, H, M, N]
	BatchMatMul(a, b *RawTensor) (*RawTensor, error)

	// Convolutional operations on [N, C, H, W] tensors.
	Conv2D(input, kernel *RawTensor, stride, padding int) (*RawTensor, error)
	MaxPool2D(input *RawTensor, kernelSize, stride, padding int) (*RawTensor, error)

	// Scalar operations (element-wise with a scalar).
	AddScalar(x *RawTensor, scalar float32) (*RawTensor, error)
	MulScalar(x *RawTensor, scalar float32) (*RawTensor, error)

	// Math operations (element-wise).
	Exp(x *RawTensor) (*RawTensor, error)
	Log(x *RawTensor) (*RawTensor, error)
	Sqrt(x *RawTensor) (*RawTensor, error)

	// Metadata.
	Name() string
	Device() Device
}
