package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/born-ml/serve/client"
)

// inferTensor mirrors the HTTP JSON tensor form so one payload file
// works against both surfaces.
type inferTensor struct {
	DType string    `json:"dtype,omitempty"`
	Shape []int64   `json:"shape,omitempty"`
	Data  []float64 `json:"data,omitempty"`
	Text  string    `json:"text,omitempty"`
}

type inferPayload struct {
	Instances []map[string]inferTensor `json:"instances"`
}

func runInfer(args []string) int {
	flags := pflag.NewFlagSet("infer", pflag.ContinueOnError)
	addr := flags.String("addr", "127.0.0.1:5500", "server gRPC address")
	input := flags.String("input", "", "JSON request file (required)")
	modelVersion := flags.Int64("version", 0, "servable version, 0 selects the highest")
	timeout := flags.Duration("timeout", 30*time.Second, "request timeout")
	if err := flags.Parse(args); err != nil {
		return 2
	}
	if flags.NArg() != 2 {
		fmt.Fprintln(os.Stderr, "usage: born-serve infer [flags] <servable> <method>")
		return 2
	}
	if *input == "" {
		fmt.Fprintln(os.Stderr, "born-serve infer: --input is required")
		return 2
	}

	data, err := os.ReadFile(*input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "born-serve infer: %v\n", err)
		return 1
	}
	var payload inferPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		fmt.Fprintf(os.Stderr, "born-serve infer: parse %s: %v\n", *input, err)
		return 1
	}

	instances := make([]client.Instance, len(payload.Instances))
	for i, fields := range payload.Instances {
		instance := make(client.Instance, len(fields))
		for name, jt := range fields {
			v, err := clientValue(jt)
			if err != nil {
				fmt.Fprintf(os.Stderr, "born-serve infer: instance %d tensor %s: %v\n", i, name, err)
				return 1
			}
			instance[name] = v
		}
		instances[i] = instance
	}

	c, err := client.Dial(*addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "born-serve infer: %v\n", err)
		return 1
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	results, err := c.Infer(ctx, flags.Arg(0), flags.Arg(1), instances, client.WithVersion(*modelVersion))
	if err != nil {
		fmt.Fprintf(os.Stderr, "born-serve infer: %v\n", err)
		return 1
	}

	out := make([]map[string]inferTensor, len(results))
	for i, result := range results {
		fields := make(map[string]inferTensor, len(result))
		for name, v := range result {
			jt, err := jsonValue(v)
			if err != nil {
				fmt.Fprintf(os.Stderr, "born-serve infer: result %d tensor %s: %v\n", i, name, err)
				return 1
			}
			fields[name] = jt
		}
		out[i] = fields
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(map[string]any{"results": out}); err != nil {
		fmt.Fprintf(os.Stderr, "born-serve infer: %v\n", err)
		return 1
	}
	return 0
}

func clientValue(jt inferTensor) (client.Value, error) {
	if jt.Text != "" {
		if len(jt.Data) > 0 {
			return client.Value{}, fmt.Errorf("text and data are mutually exclusive")
		}
		return client.Text(jt.Text), nil
	}

	dtype := jt.DType
	if dtype == "" {
		dtype = "float32"
	}
	switch dtype {
	case "float32":
		values := make([]float32, len(jt.Data))
		for i, v := range jt.Data {
			values[i] = float32(v)
		}
		return client.Float32s(values, jt.Shape...), nil
	case "float64":
		return client.Float64s(jt.Data, jt.Shape...), nil
	case "int32":
		values := make([]int32, len(jt.Data))
		for i, v := range jt.Data {
			values[i] = int32(v)
		}
		return client.Int32s(values, jt.Shape...), nil
	case "int64":
		values := make([]int64, len(jt.Data))
		for i, v := range jt.Data {
			values[i] = int64(v)
		}
		return client.Int64s(values, jt.Shape...), nil
	default:
		return client.Value{}, fmt.Errorf("dtype %s is not supported here", dtype)
	}
}

func jsonValue(v client.Value) (inferTensor, error) {
	out := inferTensor{DType: v.DType(), Shape: v.Shape()}
	switch v.DType() {
	case "float32":
		values, err := v.Float32s()
		if err != nil {
			return inferTensor{}, err
		}
		for _, x := range values {
			out.Data = append(out.Data, float64(x))
		}
	case "float64":
		values, err := v.Float64s()
		if err != nil {
			return inferTensor{}, err
		}
		out.Data = values
	case "int32":
		values, err := v.Int32s()
		if err != nil {
			return inferTensor{}, err
		}
		for _, x := range values {
			out.Data = append(out.Data, float64(x))
		}
	case "int64":
		values, err := v.Int64s()
		if err != nil {
			return inferTensor{}, err
		}
		for _, x := range values {
			out.Data = append(out.Data, float64(x))
		}
	default:
		return inferTensor{}, fmt.Errorf("dtype %s is not printable here", v.DType())
	}
	return out, nil
}
