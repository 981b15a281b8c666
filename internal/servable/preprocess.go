package servable

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"github.com/born-ml/serve/internal/tensor"
)

const defaultEncoding = "cl100k_base"

// preprocessor rewrites one request input before execution.
type preprocessor interface {
	field() string
	apply(x *tensor.RawTensor) (*tensor.RawTensor, error)
}

func buildPreprocessors(cfg *PreprocessConfig) ([]preprocessor, error) {
	if cfg == nil {
		return nil, nil
	}
	var stages []preprocessor
	for _, tok := range cfg.Tokenize {
		encoding := tok.Encoding
		if encoding == "" {
			encoding = defaultEncoding
		}
		enc, err := tiktoken.GetEncoding(encoding)
		if err != nil {
			return nil, fmt.Errorf("tokenize %q: encoding %q: %w", tok.Field, encoding, err)
		}
		stages = append(stages, &tokenizeStage{
			name:      tok.Field,
			encoder:   enc,
			maxTokens: tok.MaxTokens,
		})
	}
	for _, sc := range cfg.Scale {
		stages = append(stages, &scaleStage{
			name: sc.Field,
			mean: sc.Mean,
			std:  sc.Std,
		})
	}
	return stages, nil
}

// tokenizeStage turns a uint8 tensor holding UTF-8 text into a [1, n]
// int64 token id tensor.
type tokenizeStage struct {
	name      string
	encoder   *tiktoken.Tiktoken
	maxTokens int
}

func (s *tokenizeStage) field() string { return s.name }

func (s *tokenizeStage) apply(x *tensor.RawTensor) (*tensor.RawTensor, error) {
	if x.DType() != tensor.Uint8 {
		return nil, fmt.Errorf("tokenize expects uint8 text input, got %s", x.DType())
	}
	ids := s.encoder.Encode(string(x.Data()), nil, nil)
	if s.maxTokens > 0 && len(ids) > s.maxTokens {
		ids = ids[:s.maxTokens]
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("tokenize produced no tokens")
	}
	tokens := make([]int64, len(ids))
	for i, id := range ids {
		tokens[i] = int64(id)
	}
	return tensor.FromSlice(tokens, tensor.Shape{1, len(tokens)}, x.Device())
}

// scaleStage applies (x - mean) / std. One value pair applies uniformly;
// per-channel values apply along axis 1 of NCHW input.
type scaleStage struct {
	name string
	mean []float64
	std  []float64
}

func (s *scaleStage) field() string { return s.name }

func (s *scaleStage) apply(x *tensor.RawTensor) (*tensor.RawTensor, error) {
	if x.DType() != tensor.Float32 {
		return nil, fmt.Errorf("scale expects float32 input, got %s", x.DType())
	}

	meanAt := func(int) float32 { return 0 }
	stdAt := func(int) float32 { return 1 }
	channels := 1
	switch {
	case len(s.mean) > 1 || len(s.std) > 1:
		if len(x.Shape()) < 2 {
			return nil, fmt.Errorf("per-channel scale needs at least 2 dims, got shape %v", x.Shape())
		}
		channels = x.Shape()[1]
		if len(s.mean) > 1 && len(s.mean) != channels {
			return nil, fmt.Errorf("scale mean has %d values for %d channels", len(s.mean), channels)
		}
		if len(s.std) > 1 && len(s.std) != channels {
			return nil, fmt.Errorf("scale std has %d values for %d channels", len(s.std), channels)
		}
	}
	if len(s.mean) == 1 {
		m := float32(s.mean[0])
		meanAt = func(int) float32 { return m }
	} else if len(s.mean) > 1 {
		meanAt = func(c int) float32 { return float32(s.mean[c]) }
	}
	if len(s.std) == 1 {
		sd := float32(s.std[0])
		stdAt = func(int) float32 { return sd }
	} else if len(s.std) > 1 {
		stdAt = func(c int) float32 { return float32(s.std[c]) }
	}
	for _, sd := range s.std {
		if sd == 0 {
			return nil, fmt.Errorf("scale std must not be zero")
		}
	}

	out := x.Clone()
	data := out.AsFloat32()
	if channels == 1 {
		m, sd := meanAt(0), stdAt(0)
		for i := range data {
			data[i] = (data[i] - m) / sd
		}
		return out, nil
	}

	inner := 1
	for _, d := range x.Shape()[2:] {
		inner *= d
	}
	outer := x.NumElements() / (channels * inner)
	for o := 0; o < outer; o++ {
		for c := 0; c < channels; c++ {
			m, sd := meanAt(c), stdAt(c)
			base := (o*channels + c) * inner
			for i := 0; i < inner; i++ {
				data[base+i] = (data[base+i] - m) / sd
			}
		}
	}
	return out, nil
}
