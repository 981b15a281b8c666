package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"

	"github.com/born-ml/serve/internal/mindir"
	"github.com/born-ml/serve/internal/onnx"
)

func runInspect(args []string) int {
	flags := pflag.NewFlagSet("inspect", pflag.ContinueOnError)
	format := flags.String("format", "", "model format: onnx|mindir (default from extension)")
	if err := flags.Parse(args); err != nil {
		return 2
	}
	if flags.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: born-serve inspect [flags] <model-file>")
		return 2
	}
	path := flags.Arg(0)

	f := *format
	if f == "" {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".onnx":
			f = "onnx"
		case ".mindir":
			f = "mindir"
		default:
			fmt.Fprintf(os.Stderr, "born-serve inspect: cannot infer format of %s, use --format\n", path)
			return 2
		}
	}

	summary, err := inspectModel(path, f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "born-serve inspect: %v\n", err)
		return 1
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		fmt.Fprintf(os.Stderr, "born-serve inspect: %v\n", err)
		return 1
	}
	return 0
}

func inspectModel(path, format string) (map[string]any, error) {
	switch format {
	case "onnx":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		info, err := onnx.Inspect(data)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"format":           "onnx",
			"ir_version":       info.IRVersion,
			"opset_version":    info.OpsetVersion,
			"producer_name":    info.ProducerName,
			"producer_version": info.ProducerVersion,
			"inputs":           info.InputNames,
			"outputs":          info.OutputNames,
			"nodes":            info.NodeCount,
			"weights":          info.WeightCount,
		}, nil
	case "mindir":
		g, err := mindir.LoadFile(path)
		if err != nil {
			return nil, err
		}
		inputs := make([]string, 0, len(g.Inputs))
		for _, vi := range g.Inputs {
			inputs = append(inputs, vi.Name)
		}
		outputs := make([]string, 0, len(g.Outputs))
		for _, vi := range g.Outputs {
			outputs = append(outputs, vi.Name)
		}
		return map[string]any{
			"format":   "mindir",
			"name":     g.Name,
			"metadata": g.Metadata,
			"inputs":   inputs,
			"outputs":  outputs,
			"nodes":    len(g.Nodes),
			"weights":  len(g.Initializers),
		}, nil
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
}
