package cpu

import (
	"fmt"
	"math"

	"github.com/born-ml/serve/internal/parallel"
	"github.com/born-ml/serve/internal/tensor"
)

// MaxPool2D performs 2D max pooling over [N, C, H, W] tensors.
//
// Output spatial dimensions:
//
//	out = (in + 2*padding - kernelSize) / stride + 1
//
// Positions outside the (padded) image contribute -inf, so padding never
// wins a window.
func (cpu *Backend) MaxPool2D(input *tensor.RawTensor, kernelSize, stride, padding int) (*tensor.RawTensor, error) {
	if input == nil {
		return nil, fmt.Errorf("maxpool2d: input tensor is nil")
	}
	inputShape := input.Shape()
	if len(inputShape) != 4 {
		return nil, fmt.Errorf("maxpool2d: expected 4D input [N,C,H,W], got %dD", len(inputShape))
	}
	if kernelSize <= 0 {
		return nil, fmt.Errorf("maxpool2d: invalid kernel size %d", kernelSize)
	}
	if stride <= 0 {
		return nil, fmt.Errorf("maxpool2d: invalid stride %d", stride)
	}
	if padding < 0 {
		return nil, fmt.Errorf("maxpool2d: invalid padding %d", padding)
	}
	if input.DType() != tensor.Float32 {
		return nil, fmt.Errorf("maxpool2d: unsupported dtype %s", input.DType())
	}

	n, c, h, w := inputShape[0], inputShape[1], inputShape[2], inputShape[3]
	hOut := (h+2*padding-kernelSize)/stride + 1
	wOut := (w+2*padding-kernelSize)/stride + 1
	if hOut <= 0 || wOut <= 0 {
		return nil, fmt.Errorf("maxpool2d: invalid output dimensions %dx%d (kernel=%d, stride=%d, input=%dx%d)",
			hOut, wOut, kernelSize, stride, h, w)
	}

	output, err := tensor.NewRaw(tensor.Shape{n, c, hOut, wOut}, input.DType(), cpu.device)
	if err != nil {
		return nil, fmt.Errorf("maxpool2d: %w", err)
	}

	in := input.AsFloat32()
	out := output.AsFloat32()
	negInf := float32(math.Inf(-1))

	parallel.ForBatch(n, c, func(b, ch int) {
		img := in[(b*c+ch)*h*w : (b*c+ch+1)*h*w]
		dst := out[(b*c+ch)*hOut*wOut : (b*c+ch+1)*hOut*wOut]
		for oh := 0; oh < hOut; oh++ {
			for ow := 0; ow < wOut; ow++ {
				best := negInf
				for y := 0; y < kernelSize; y++ {
					iy := oh*stride + y - padding
					if iy < 0 || iy >= h {
						continue
					}
					for x := 0; x < kernelSize; x++ {
						ix := ow*stride + x - padding
						if ix < 0 || ix >= w {
							continue
						}
						if v := img[iy*w+ix]; v > best {
							best = v
						}
					}
				}
				dst[oh*wOut+ow] = best
			}
		}
	}, cpu.parallel)

	return output, nil
}
