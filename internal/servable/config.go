// Package servable implements the model repository: declared, versioned
// deployment units combining a model artifact with an HCL configuration
// that exposes callable methods.
//
// Repository layout:
//
//	<repo>/<servable>/servable_config.hcl
//	<repo>/<servable>/<version>/<artifact>
//
// Version directories are positive integers. The registry loads every
// valid version and serves lookups under concurrent reload.
package servable

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"github.com/born-ml/serve/internal/tensor"
)

// ConfigFileName is the declaration file expected in each servable
// directory.
const ConfigFileName = "servable_config.hcl"

// Config is the parsed servable declaration.
type Config struct {
	Model   ModelConfig    `hcl:"model,block"`
	Methods []MethodConfig `hcl:"method,block"`
}

// ModelConfig declares the artifact inside each version directory.
type ModelConfig struct {
	File   string `hcl:"file"`
	Format string `hcl:"format"`
	Device string `hcl:"device,optional"`
}

// MethodConfig declares one callable method: request fields mapped to
// graph inputs, graph outputs mapped to response fields, and optional
// processing stages around execution.
type MethodConfig struct {
	Name        string            `hcl:"name,label"`
	Inputs      map[string]string `hcl:"inputs"`
	Outputs     map[string]string `hcl:"outputs"`
	Preprocess  *PreprocessConfig  `hcl:"preprocess,block"`
	Postprocess *PostprocessConfig `hcl:"postprocess,block"`
}

// PreprocessConfig groups input transformations applied before execution.
type PreprocessConfig struct {
	Tokenize []TokenizeConfig `hcl:"tokenize,block"`
	Scale    []ScaleConfig    `hcl:"scale,block"`
}

// TokenizeConfig turns a UTF-8 byte tensor into int64 token ids.
type TokenizeConfig struct {
	Field     string `hcl:"field,label"`
	Encoding  string `hcl:"encoding,optional"`
	MaxTokens int    `hcl:"max_tokens,optional"`
}

// ScaleConfig applies (x - mean) / std to a float input. A single mean
// and std apply uniformly; multiple values apply per channel on NCHW
// input.
type ScaleConfig struct {
	Field string    `hcl:"field,label"`
	Mean  []float64 `hcl:"mean,optional"`
	Std   []float64 `hcl:"std,optional"`
}

// PostprocessConfig groups output transformations applied after
// execution.
type PostprocessConfig struct {
	Argmax  []ArgmaxConfig  `hcl:"argmax,block"`
	TopK    []TopKConfig    `hcl:"top_k,block"`
	Softmax []SoftmaxConfig `hcl:"softmax,block"`
}

// ArgmaxConfig replaces an output with its argmax along an axis. An
// absent axis means the last one.
type ArgmaxConfig struct {
	Field string `hcl:"field,label"`
	Axis  *int   `hcl:"axis,optional"`
}

// TopKConfig replaces an output with its top-k values and adds a
// "<field>_indices" output.
type TopKConfig struct {
	Field string `hcl:"field,label"`
	K     int    `hcl:"k"`
}

// SoftmaxConfig normalizes an output along an axis. An absent axis means
// the last one.
type SoftmaxConfig struct {
	Field string `hcl:"field,label"`
	Axis  *int   `hcl:"axis,optional"`
}

// configEvalContext lets declarations use bare keywords for the
// enumerated attributes: format = onnx, device = webgpu.
func configEvalContext() *hcl.EvalContext {
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"onnx":   cty.StringVal("onnx"),
			"mindir": cty.StringVal("mindir"),
			"cpu":    cty.StringVal("cpu"),
			"webgpu": cty.StringVal("webgpu"),
		},
	}
}

// ParseConfigFile loads and validates a servable declaration.
func ParseConfigFile(path string) (*Config, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parse %s: %w", path, diags)
	}
	return decodeConfig(file)
}

// ParseConfig parses a declaration from bytes. The filename only labels
// diagnostics.
func ParseConfig(src []byte, filename string) (*Config, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parse %s: %w", filename, diags)
	}
	return decodeConfig(file)
}

func decodeConfig(file *hcl.File) (*Config, error) {
	cfg := &Config{}
	if diags := gohcl.DecodeBody(file.Body, configEvalContext(), cfg); diags.HasErrors() {
		return nil, fmt.Errorf("decode config: %w", diags)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Model.File == "" {
		return fmt.Errorf("model.file is required")
	}
	switch c.Model.Format {
	case "onnx", "mindir":
	default:
		return fmt.Errorf("model.format %q is not supported (onnx, mindir)", c.Model.Format)
	}
	if c.Model.Device != "" {
		if _, err := tensor.ParseDevice(c.Model.Device); err != nil {
			return fmt.Errorf("model.device: %w", err)
		}
	}
	if len(c.Methods) == 0 {
		return fmt.Errorf("at least one method block is required")
	}

	seen := make(map[string]bool, len(c.Methods))
	for i := range c.Methods {
		m := &c.Methods[i]
		if seen[m.Name] {
			return fmt.Errorf("duplicate method %q", m.Name)
		}
		seen[m.Name] = true
		if len(m.Inputs) == 0 {
			return fmt.Errorf("method %q: inputs map is required", m.Name)
		}
		if len(m.Outputs) == 0 {
			return fmt.Errorf("method %q: outputs map is required", m.Name)
		}
		if err := m.validateStages(); err != nil {
			return fmt.Errorf("method %q: %w", m.Name, err)
		}
	}
	return nil
}

func (m *MethodConfig) validateStages() error {
	if m.Preprocess != nil {
		for _, tok := range m.Preprocess.Tokenize {
			if _, ok := m.Inputs[tok.Field]; !ok {
				return fmt.Errorf("tokenize field %q is not a method input", tok.Field)
			}
			if tok.MaxTokens < 0 {
				return fmt.Errorf("tokenize %q: max_tokens must not be negative", tok.Field)
			}
		}
		for _, sc := range m.Preprocess.Scale {
			if _, ok := m.Inputs[sc.Field]; !ok {
				return fmt.Errorf("scale field %q is not a method input", sc.Field)
			}
			if len(sc.Mean) != 0 && len(sc.Std) != 0 && len(sc.Mean) != len(sc.Std) {
				return fmt.Errorf("scale %q: mean and std lengths differ", sc.Field)
			}
		}
	}
	if m.Postprocess != nil {
		for _, tk := range m.Postprocess.TopK {
			if tk.K <= 0 {
				return fmt.Errorf("top_k %q: k must be positive", tk.Field)
			}
			if err := m.requireOutputField(tk.Field); err != nil {
				return err
			}
		}
		for _, am := range m.Postprocess.Argmax {
			if err := m.requireOutputField(am.Field); err != nil {
				return err
			}
		}
		for _, sm := range m.Postprocess.Softmax {
			if err := m.requireOutputField(sm.Field); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *MethodConfig) requireOutputField(field string) error {
	for _, responseField := range m.Outputs {
		if responseField == field {
			return nil
		}
	}
	return fmt.Errorf("postprocess field %q is not a method output", field)
}
