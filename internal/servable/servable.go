package servable

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/born-ml/serve/internal/graph"
	"github.com/born-ml/serve/internal/mindir"
	"github.com/born-ml/serve/internal/onnx"
	"github.com/born-ml/serve/internal/tensor"
)

// Servable is one named deployment unit with its loaded versions.
type Servable struct {
	Name     string
	Config   *Config
	versions map[int64]*Version
}

// Versions returns the loaded version numbers in ascending order.
func (s *Servable) Versions() []int64 {
	out := make([]int64, 0, len(s.versions))
	for v := range s.versions {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Version returns a loaded version, or the highest one for number 0.
func (s *Servable) Version(number int64) (*Version, error) {
	if number == 0 {
		var best *Version
		for _, v := range s.versions {
			if best == nil || v.Number > best.Number {
				best = v
			}
		}
		if best == nil {
			return nil, fmt.Errorf("servable %s: %w", s.Name, ErrVersionNotFound)
		}
		return best, nil
	}
	v, ok := s.versions[number]
	if !ok {
		return nil, fmt.Errorf("servable %s version %d: %w", s.Name, number, ErrVersionNotFound)
	}
	return v, nil
}

// Version is one loaded model artifact with its compiled methods.
type Version struct {
	Number   int64
	Artifact string
	executor *graph.Executor
	methods  map[string]*Method
}

// Method returns a compiled method by name.
func (v *Version) Method(name string) (*Method, error) {
	m, ok := v.methods[name]
	if !ok {
		return nil, fmt.Errorf("method %s: %w", name, ErrMethodNotFound)
	}
	return m, nil
}

// MethodNames returns the method names in declaration order.
func (v *Version) MethodNames() []string {
	names := make([]string, 0, len(v.methods))
	for name := range v.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// InputInfo returns the graph's declared runtime inputs.
func (v *Version) InputInfo() []graph.ValueInfo { return v.executor.InputInfos() }

// OutputInfo returns the graph's declared outputs.
func (v *Version) OutputInfo() []graph.ValueInfo { return v.executor.OutputInfos() }

// loadVersion parses and compiles the artifact in dir.
func loadVersion(dir string, number int64, cfg *Config, backend tensor.Backend) (*Version, error) {
	artifact := filepath.Join(dir, cfg.Model.File)
	if _, err := os.Stat(artifact); err != nil {
		return nil, fmt.Errorf("artifact %s: %w", cfg.Model.File, err)
	}

	var (
		g   *graph.Graph
		err error
	)
	switch cfg.Model.Format {
	case "onnx":
		g, err = onnx.LoadFile(artifact)
	case "mindir":
		g, err = mindir.LoadFile(artifact)
	default:
		return nil, fmt.Errorf("unsupported format %q", cfg.Model.Format)
	}
	if err != nil {
		return nil, err
	}

	exec, err := graph.Compile(g, backend)
	if err != nil {
		return nil, err
	}

	v := &Version{
		Number:   number,
		Artifact: artifact,
		executor: exec,
		methods:  make(map[string]*Method, len(cfg.Methods)),
	}
	for i := range cfg.Methods {
		m, err := newMethod(&cfg.Methods[i], exec)
		if err != nil {
			return nil, err
		}
		v.methods[m.Name] = m
	}
	return v, nil
}

// Method binds a declared method to a compiled executor: request fields
// to graph inputs, graph outputs to response fields, with processing
// stages around the run.
type Method struct {
	Name     string
	Inputs   map[string]string // request field -> graph input
	Outputs  map[string]string // graph output -> response field
	executor *graph.Executor
	pre      []preprocessor
	post     []postprocessor
}

func newMethod(cfg *MethodConfig, exec *graph.Executor) (*Method, error) {
	graphInputs := make(map[string]bool)
	for _, name := range exec.InputNames() {
		graphInputs[name] = true
	}
	for field, input := range cfg.Inputs {
		if !graphInputs[input] {
			return nil, fmt.Errorf("method %s: input %q maps to unknown graph input %q", cfg.Name, field, input)
		}
	}
	graphOutputs := make(map[string]bool)
	for _, name := range exec.OutputNames() {
		graphOutputs[name] = true
	}
	for output := range cfg.Outputs {
		if !graphOutputs[output] {
			return nil, fmt.Errorf("method %s: output mapping names unknown graph output %q", cfg.Name, output)
		}
	}

	pre, err := buildPreprocessors(cfg.Preprocess)
	if err != nil {
		return nil, fmt.Errorf("method %s: %w", cfg.Name, err)
	}

	return &Method{
		Name:     cfg.Name,
		Inputs:   cfg.Inputs,
		Outputs:  cfg.Outputs,
		executor: exec,
		pre:      pre,
		post:     buildPostprocessors(cfg.Postprocess),
	}, nil
}

// Execute runs one instance: named request fields in, named response
// fields out.
func (m *Method) Execute(ctx context.Context, instance map[string]*tensor.RawTensor) (map[string]*tensor.RawTensor, error) {
	inputs, err := m.prepare(instance)
	if err != nil {
		return nil, err
	}
	results, err := m.executor.Run(ctx, inputs)
	if err != nil {
		return nil, err
	}
	return m.finish(results)
}

// ExecuteBatch runs instances together when their prepared inputs share
// one shape signature, concatenating along the batch axis and splitting
// the results. Mixed shapes, or outputs that do not divide evenly by the
// batch, fall back to per-instance execution.
func (m *Method) ExecuteBatch(ctx context.Context, instances []map[string]*tensor.RawTensor) ([]map[string]*tensor.RawTensor, error) {
	if len(instances) == 1 {
		out, err := m.Execute(ctx, instances[0])
		if err != nil {
			return nil, err
		}
		return []map[string]*tensor.RawTensor{out}, nil
	}

	prepared := make([]map[string]*tensor.RawTensor, len(instances))
	for i, instance := range instances {
		inputs, err := m.prepare(instance)
		if err != nil {
			return nil, fmt.Errorf("instance %d: %w", i, err)
		}
		prepared[i] = inputs
	}

	if !sameSignature(prepared) {
		return m.executeEach(ctx, prepared)
	}

	merged := make(map[string]*tensor.RawTensor, len(prepared[0]))
	for name := range prepared[0] {
		parts := make([]*tensor.RawTensor, len(prepared))
		for i := range prepared {
			parts[i] = prepared[i][name]
		}
		cat, err := tensor.Concat(parts, 0)
		if err != nil {
			return nil, err
		}
		merged[name] = cat
	}

	results, err := m.executor.Run(ctx, merged)
	if err != nil {
		return nil, err
	}

	split, ok, err := splitBatch(results, len(prepared))
	if err != nil {
		return nil, err
	}
	if !ok {
		return m.executeEach(ctx, prepared)
	}

	out := make([]map[string]*tensor.RawTensor, len(split))
	for i := range split {
		finished, err := m.finish(split[i])
		if err != nil {
			return nil, err
		}
		out[i] = finished
	}
	return out, nil
}

func (m *Method) executeEach(ctx context.Context, prepared []map[string]*tensor.RawTensor) ([]map[string]*tensor.RawTensor, error) {
	out := make([]map[string]*tensor.RawTensor, len(prepared))
	for i, inputs := range prepared {
		results, err := m.executor.Run(ctx, inputs)
		if err != nil {
			return nil, fmt.Errorf("instance %d: %w", i, err)
		}
		finished, err := m.finish(results)
		if err != nil {
			return nil, fmt.Errorf("instance %d: %w", i, err)
		}
		out[i] = finished
	}
	return out, nil
}

// prepare applies preprocessing and maps request fields to graph inputs.
func (m *Method) prepare(instance map[string]*tensor.RawTensor) (map[string]*tensor.RawTensor, error) {
	fields := make(map[string]*tensor.RawTensor, len(instance))
	for name, t := range instance {
		fields[name] = t
	}
	for _, stage := range m.pre {
		x, ok := fields[stage.field()]
		if !ok {
			return nil, fmt.Errorf("missing input field %q", stage.field())
		}
		y, err := stage.apply(x)
		if err != nil {
			return nil, err
		}
		fields[stage.field()] = y
	}

	inputs := make(map[string]*tensor.RawTensor, len(m.Inputs))
	for field, input := range m.Inputs {
		t, ok := fields[field]
		if !ok {
			return nil, fmt.Errorf("missing input field %q", field)
		}
		inputs[input] = t
	}
	return inputs, nil
}

// finish maps graph outputs to response fields and applies
// postprocessing.
func (m *Method) finish(results map[string]*tensor.RawTensor) (map[string]*tensor.RawTensor, error) {
	outputs := make(map[string]*tensor.RawTensor, len(m.Outputs))
	for output, field := range m.Outputs {
		t, ok := results[output]
		if !ok {
			return nil, fmt.Errorf("executor produced no output %q", output)
		}
		outputs[field] = t
	}
	for _, stage := range m.post {
		if err := stage.apply(outputs); err != nil {
			return nil, err
		}
	}
	return outputs, nil
}

// sameSignature reports whether all prepared instances carry the same
// input names, dtypes and shapes.
func sameSignature(prepared []map[string]*tensor.RawTensor) bool {
	first := prepared[0]
	for _, inputs := range prepared[1:] {
		if len(inputs) != len(first) {
			return false
		}
		for name, t := range first {
			other, ok := inputs[name]
			if !ok || other.DType() != t.DType() || !other.Shape().Equal(t.Shape()) {
				return false
			}
		}
	}
	return true
}

// splitBatch cuts each output into n equal chunks along axis 0. It
// reports ok=false when any output's leading dimension does not divide
// evenly, which sends the caller down the per-instance path.
func splitBatch(results map[string]*tensor.RawTensor, n int) ([]map[string]*tensor.RawTensor, bool, error) {
	for _, t := range results {
		shape := t.Shape()
		if len(shape) == 0 || shape[0]%n != 0 {
			return nil, false, nil
		}
	}

	out := make([]map[string]*tensor.RawTensor, n)
	for i := range out {
		out[i] = make(map[string]*tensor.RawTensor, len(results))
	}
	for name, t := range results {
		per := t.Shape()[0] / n
		sizes := make([]int, n)
		for i := range sizes {
			sizes[i] = per
		}
		parts, err := tensor.Split(t, 0, sizes)
		if err != nil {
			return nil, false, err
		}
		for i, part := range parts {
			out[i][name] = part
		}
	}
	return out, true, nil
}
