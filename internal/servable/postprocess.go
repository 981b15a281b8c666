package servable

import (
	"fmt"

	"github.com/born-ml/serve/internal/tensor"
)

// postprocessor rewrites response outputs after execution. It receives
// the full output map because top_k emits an extra indices field.
type postprocessor interface {
	apply(outputs map[string]*tensor.RawTensor) error
}

func buildPostprocessors(cfg *PostprocessConfig) []postprocessor {
	if cfg == nil {
		return nil
	}
	var stages []postprocessor
	for _, sm := range cfg.Softmax {
		stages = append(stages, &softmaxStage{field: sm.Field, axis: axisOrLast(sm.Axis)})
	}
	for _, am := range cfg.Argmax {
		stages = append(stages, &argmaxStage{field: am.Field, axis: axisOrLast(am.Axis)})
	}
	for _, tk := range cfg.TopK {
		stages = append(stages, &topKStage{field: tk.Field, k: tk.K})
	}
	return stages
}

func axisOrLast(axis *int) int {
	if axis == nil {
		return -1
	}
	return *axis
}

type softmaxStage struct {
	field string
	axis  int
}

func (s *softmaxStage) apply(outputs map[string]*tensor.RawTensor) error {
	x, ok := outputs[s.field]
	if !ok {
		return fmt.Errorf("softmax: no output %q", s.field)
	}
	out, err := tensor.Softmax(x, s.axis)
	if err != nil {
		return fmt.Errorf("softmax %q: %w", s.field, err)
	}
	outputs[s.field] = out
	return nil
}

type argmaxStage struct {
	field string
	axis  int
}

func (s *argmaxStage) apply(outputs map[string]*tensor.RawTensor) error {
	x, ok := outputs[s.field]
	if !ok {
		return fmt.Errorf("argmax: no output %q", s.field)
	}
	out, err := tensor.ArgMax(x, s.axis, false)
	if err != nil {
		return fmt.Errorf("argmax %q: %w", s.field, err)
	}
	outputs[s.field] = out
	return nil
}

type topKStage struct {
	field string
	k     int
}

func (s *topKStage) apply(outputs map[string]*tensor.RawTensor) error {
	x, ok := outputs[s.field]
	if !ok {
		return fmt.Errorf("top_k: no output %q", s.field)
	}
	values, indices, err := tensor.TopK(x, s.k)
	if err != nil {
		return fmt.Errorf("top_k %q: %w", s.field, err)
	}
	outputs[s.field] = values
	outputs[s.field+"_indices"] = indices
	return nil
}
