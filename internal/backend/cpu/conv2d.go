package cpu

import (
	"fmt"

	"github.com/born-ml/serve/internal/parallel"
	"github.com/born-ml/serve/internal/tensor"
)

// Conv2D performs 2D convolution using im2col.
//
// Input shape:  [N, C_in, H, W]
// Kernel shape: [C_out, C_in, K_h, K_w]
// Output shape: [N, C_out, H_out, W_out]
//
// im2col turns each receptive field into a column so convolution becomes a
// matrix multiplication over [C_out, C_in*K_h*K_w] x [C_in*K_h*K_w, H_out*W_out].
func (cpu *Backend) Conv2D(input, kernel *tensor.RawTensor, stride, padding int) (*tensor.RawTensor, error) {
	if input == nil || kernel == nil {
		return nil, fmt.Errorf("conv2d: input tensors cannot be nil")
	}
	inputShape := input.Shape()
	kernelShape := kernel.Shape()

	if len(inputShape) != 4 {
		return nil, fmt.Errorf("conv2d: input must be 4D [N,C,H,W], got %dD", len(inputShape))
	}
	if len(kernelShape) != 4 {
		return nil, fmt.Errorf("conv2d: kernel must be 4D [C_out,C_in,K_h,K_w], got %dD", len(kernelShape))
	}
	if stride <= 0 {
		return nil, fmt.Errorf("conv2d: invalid stride %d", stride)
	}
	if padding < 0 {
		return nil, fmt.Errorf("conv2d: invalid padding %d", padding)
	}
	if input.DType() != tensor.Float32 {
		return nil, fmt.Errorf("conv2d: unsupported dtype %s", input.DType())
	}

	n, cIn, h, w := inputShape[0], inputShape[1], inputShape[2], inputShape[3]
	cOut, cInK, kh, kw := kernelShape[0], kernelShape[1], kernelShape[2], kernelShape[3]

	if cIn != cInK {
		return nil, fmt.Errorf("conv2d: input channels %d != kernel channels %d", cIn, cInK)
	}

	hOut := (h+2*padding-kh)/stride + 1
	wOut := (w+2*padding-kw)/stride + 1
	if hOut <= 0 || wOut <= 0 {
		return nil, fmt.Errorf("conv2d: invalid output dimensions %dx%d (check stride/padding)", hOut, wOut)
	}

	output, err := tensor.NewRaw(tensor.Shape{n, cOut, hOut, wOut}, input.DType(), cpu.device)
	if err != nil {
		return nil, fmt.Errorf("conv2d: %w", err)
	}

	in := input.AsFloat32()
	kern := kernel.AsFloat32()
	out := output.AsFloat32()

	colWidth := cIn * kh * kw
	spatial := hOut * wOut

	// One im2col buffer per batch element; batches run in parallel.
	parallel.For(n, func(b int) {
		colBuf := make([]float32, spatial*colWidth)
		im2col(colBuf, in[b*cIn*h*w:(b+1)*cIn*h*w], cIn, h, w, kh, kw, hOut, wOut, stride, padding)

		// out[b, co, p] = sum_k kern[co, k] * colBuf[p, k]
		for co := 0; co < cOut; co++ {
			kRow := kern[co*colWidth : (co+1)*colWidth]
			dst := out[(b*cOut+co)*spatial : (b*cOut+co+1)*spatial]
			for p := 0; p < spatial; p++ {
				col := colBuf[p*colWidth : (p+1)*colWidth]
				sum := float32(0)
				for k, kv := range kRow {
					sum += kv * col[k]
				}
				dst[p] = sum
			}
		}
	}, cpu.parallel)

	return output, nil
}

// im2col expands one image [C, H, W] into rows of receptive fields:
// colBuf[p*colWidth + (c*KH+kh)*KW + kw] = img[c, oh*stride+kh-pad, ow*stride+kw-pad]
// with zeros outside the image.
func im2col(colBuf, img []float32, c, h, w, kh, kw, hOut, wOut, stride, padding int) {
	colWidth := c * kh * kw
	for oh := 0; oh < hOut; oh++ {
		for ow := 0; ow < wOut; ow++ {
			p := oh*wOut + ow
			row := colBuf[p*colWidth : (p+1)*colWidth]
			for ch := 0; ch < c; ch++ {
				for y := 0; y < kh; y++ {
					iy := oh*stride + y - padding
					for x := 0; x < kw; x++ {
						ix := ow*stride + x - padding
						idx := (ch*kh+y)*kw + x
						if iy < 0 || iy >= h || ix < 0 || ix >= w {
							row[idx] = 0
							continue
						}
						row[idx] = img[(ch*h+iy)*w+ix]
					}
				}
			}
		}
	}
}
