package tensor

import (
	"fmt"
	"math"
)

// unaryFloat applies f element-wise to a float tensor and returns the result.
// Only Float32 and Float64 tensors are supported.
func unaryFloat(x *RawTensor, name string, f func(float64) float64) (*RawTensor, error) {
	if x == nil {
		return nil, fmt.Errorf("%s: input tensor is nil", name)
	}
	result, err := NewRaw(x.shape, x.dtype, x.device)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	switch x.dtype {
	case Float32:
		in := x.AsFloat32()
		out := result.AsFloat32()
		for i := range in {
			out[i] = float32(f(float64(in[i])))
		}
	case Float64:
		in := x.AsFloat64()
		out := result.AsFloat64()
		for i := range in {
			out[i] = f(in[i])
		}
	default:
		return nil, fmt.Errorf("%s: unsupported dtype %v", name, x.dtype)
	}
	return result, nil
}

// ReLU applies the ReLU activation function element-wise: max(x, 0).
func ReLU(x *RawTensor) (*RawTensor, error) {
	return unaryFloat(x, "ReLU", func(v float64) float64 {
		if v > 0 {
			return v
		}
		return 0
	})
}

// LeakyReLU applies leaky ReLU: x if x > 0, else alpha*x.
func LeakyReLU(x *RawTensor, alpha float32) (*RawTensor, error) {
	a := float64(alpha)
	return unaryFloat(x, "LeakyReLU", func(v float64) float64 {
		if v > 0 {
			return v
		}
		return a * v
	})
}

// Sigmoid applies the logistic function element-wise: 1 / (1 + exp(-x)).
func Sigmoid(x *RawTensor) (*RawTensor, error) {
	return unaryFloat(x, "Sigmoid", func(v float64) float64 {
		return 1.0 / (1.0 + math.Exp(-v))
	})
}

// Tanh applies the hyperbolic tangent element-wise.
func Tanh(x *RawTensor) (*RawTensor, error) {
	return unaryFloat(x, "Tanh", math.Tanh)
}

// GELU applies the Gaussian error linear unit element-wise.
func GELU(x *RawTensor) (*RawTensor, error) {
	return unaryFloat(x, "GELU", func(v float64) float64 {
		return 0.5 * v * (1.0 + math.Erf(v/math.Sqrt2))
	})
}

// SiLU applies x * sigmoid(x) element-wise.
func SiLU(x *RawTensor) (*RawTensor, error) {
	return unaryFloat(x, "SiLU", func(v float64) float64 {
		return v / (1.0 + math.Exp(-v))
	})
}

// Clip clamps all elements into [minVal, maxVal].
func Clip(x *RawTensor, minVal, maxVal float32) (*RawTensor, error) {
	lo, hi := float64(minVal), float64(maxVal)
	return unaryFloat(x, "Clip", func(v float64) float64 {
		return math.Min(math.Max(v, lo), hi)
	})
}

// Softmax normalizes values to probabilities along the specified axis.
// Negative axes count from the end.
func Softmax(x *RawTensor, axis int) (*RawTensor, error) {
	if x == nil {
		return nil, fmt.Errorf("Softmax: input tensor is nil")
	}

	axis, err := normalizeAxis(axis, len(x.shape))
	if err != nil {
		return nil, fmt.Errorf("Softmax: %w", err)
	}

	result, err := NewRaw(x.shape, x.dtype, x.device)
	if err != nil {
		return nil, fmt.Errorf("Softmax: %w", err)
	}

	switch x.dtype {
	case Float32:
		softmaxAxis(x.AsFloat32(), result.AsFloat32(), x.shape, axis)
	case Float64:
		softmaxAxis(x.AsFloat64(), result.AsFloat64(), x.shape, axis)
	default:
		return nil, fmt.Errorf("Softmax: unsupported dtype %v", x.dtype)
	}
	return result, nil
}

func softmaxAxis[T float32 | float64](in, out []T, shape Shape, axis int) {
	outerSize := 1
	for i := 0; i < axis; i++ {
		outerSize *= shape[i]
	}
	axisSize := shape[axis]
	innerSize := 1
	for i := axis + 1; i < len(shape); i++ {
		innerSize *= shape[i]
	}

	for outer := 0; outer < outerSize; outer++ {
		for inner := 0; inner < innerSize; inner++ {
			// Max subtraction for numerical stability.
			maxVal := in[outer*axisSize*innerSize+inner]
			for a := 1; a < axisSize; a++ {
				idx := outer*axisSize*innerSize + a*innerSize + inner
				if in[idx] > maxVal {
					maxVal = in[idx]
				}
			}
			var sum T
			for a := 0; a < axisSize; a++ {
				idx := outer*axisSize*innerSize + a*innerSize + inner
				out[idx] = T(math.Exp(float64(in[idx] - maxVal)))
				sum += out[idx]
			}
			for a := 0; a < axisSize; a++ {
				idx := outer*axisSize*innerSize + a*innerSize + inner
				out[idx] /= sum
			}
		}
	}
}

// LogSoftmax computes log(softmax(x)) along the specified axis.
func LogSoftmax(x *RawTensor, axis int) (*RawTensor, error) {
	s, err := Softmax(x, axis)
	if err != nil {
		return nil, fmt.Errorf("LogSoftmax: %w", err)
	}
	return unaryFloat(s, "LogSoftmax", math.Log)
}
