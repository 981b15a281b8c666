package graph

import (
	"context"
	"fmt"

	"github.com/born-ml/serve/internal/tensor"
)

// Executor runs a compiled graph on a backend. It is safe for concurrent
// use: per-request state lives in the tensors map built inside Run, and the
// weights are never mutated.
type Executor struct {
	graph    *Graph
	registry *Registry
	backend  tensor.Backend

	weights     map[string]*tensor.RawTensor
	inputNames  []string
	outputNames []string
	sorted      []*Node
}

// CompileOptions configure graph compilation.
type CompileOptions struct {
	// CustomOps adds or overrides operator handlers.
	CustomOps map[string]OpHandler
}

// Compile prepares a graph for execution: resolves initializers, determines
// the runtime inputs, validates operator coverage and fixes the node order.
func Compile(g *Graph, backend tensor.Backend, opts ...CompileOptions) (*Executor, error) {
	if g == nil {
		return nil, fmt.Errorf("graph is nil")
	}
	if backend == nil {
		return nil, fmt.Errorf("backend is nil")
	}

	registry := NewRegistry()
	for _, opt := range opts {
		for opType, handler := range opt.CustomOps {
			registry.Register(opType, handler)
		}
	}

	var unsupported []string
	for i := range g.Nodes {
		if _, ok := registry.Get(g.Nodes[i].OpType); !ok {
			unsupported = append(unsupported, g.Nodes[i].OpType)
		}
	}
	if len(unsupported) > 0 {
		return nil, fmt.Errorf("unsupported operators: %v", unsupported)
	}

	e := &Executor{
		graph:    g,
		registry: registry,
		backend:  backend,
		weights:  g.Initializers,
	}
	if e.weights == nil {
		e.weights = map[string]*tensor.RawTensor{}
	}

	// Runtime inputs are the declared inputs minus the initializers.
	for _, in := range g.Inputs {
		if _, isWeight := e.weights[in.Name]; !isWeight {
			e.inputNames = append(e.inputNames, in.Name)
		}
	}
	for _, out := range g.Outputs {
		e.outputNames = append(e.outputNames, out.Name)
	}

	e.sorted = topologicalSort(g.Nodes)

	return e, nil
}

// InputNames returns the runtime input names in declaration order.
func (e *Executor) InputNames() []string {
	return e.inputNames
}

// OutputNames returns the output names in declaration order.
func (e *Executor) OutputNames() []string {
	return e.outputNames
}

// InputInfos returns the declared ValueInfos for the runtime inputs,
// in declaration order. Weight-backed inputs are excluded.
func (e *Executor) InputInfos() []ValueInfo {
	infos := make([]ValueInfo, 0, len(e.inputNames))
	for _, in := range e.graph.Inputs {
		if _, isWeight := e.weights[in.Name]; !isWeight {
			infos = append(infos, in)
		}
	}
	return infos
}

// OutputInfos returns the declared ValueInfos for the outputs, in
// declaration order.
func (e *Executor) OutputInfos() []ValueInfo {
	infos := make([]ValueInfo, 0, len(e.outputNames))
	infos = append(infos, e.graph.Outputs...)
	return infos
}

// Metadata returns the model metadata map, never nil.
func (e *Executor) Metadata() map[string]string {
	if e.graph.Metadata == nil {
		return map[string]string{}
	}
	return e.graph.Metadata
}

// Backend returns the executing backend.
func (e *Executor) Backend() tensor.Backend {
	return e.backend
}

// Run executes the graph with named inputs and returns the named outputs.
// The context is checked between nodes; a canceled request stops executing
// at the next node boundary.
func (e *Executor) Run(ctx context.Context, inputs map[string]*tensor.RawTensor) (map[string]*tensor.RawTensor, error) {
	tensors := make(map[string]*tensor.RawTensor, len(e.weights)+len(inputs)+len(e.sorted))
	for name, t := range e.weights {
		tensors[name] = t
	}
	for name, t := range inputs {
		tensors[name] = t
	}

	for _, name := range e.inputNames {
		if _, ok := tensors[name]; !ok {
			return nil, fmt.Errorf("missing input: %s", name)
		}
	}

	opCtx := &Context{Backend: e.backend}
	for _, node := range e.sorted {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		nodeInputs := make([]*tensor.RawTensor, len(node.Inputs))
		for i, inputName := range node.Inputs {
			if inputName == "" {
				// Optional input not provided.
				continue
			}
			t, ok := tensors[inputName]
			if !ok {
				return nil, fmt.Errorf("node %s: missing input %s", node.Name, inputName)
			}
			nodeInputs[i] = t
		}

		outputs, err := e.registry.Execute(opCtx, node, nodeInputs)
		if err != nil {
			return nil, fmt.Errorf("node %s (%s): %w", node.Name, node.OpType, err)
		}
		if len(outputs) < len(node.Outputs) {
			// Trailing optional outputs may be omitted by the handler.
			for i, out := range outputs {
				tensors[node.Outputs[i]] = out
			}
			continue
		}
		for i, name := range node.Outputs {
			if name == "" {
				continue
			}
			tensors[name] = outputs[i]
		}
	}

	results := make(map[string]*tensor.RawTensor, len(e.outputNames))
	for _, name := range e.outputNames {
		t, ok := tensors[name]
		if !ok {
			return nil, fmt.Errorf("missing output: %s", name)
		}
		results[name] = t
	}
	return results, nil
}

// topologicalSort orders nodes so every producer runs before its consumers.
func topologicalSort(nodes []Node) []*Node {
	outputToNode := make(map[string]int)
	for i := range nodes {
		for _, output := range nodes[i].Outputs {
			outputToNode[output] = i
		}
	}

	visited := make([]bool, len(nodes))
	result := make([]*Node, 0, len(nodes))

	var visit func(i int)
	visit = func(i int) {
		if visited[i] {
			return
		}
		visited[i] = true

		for _, input := range nodes[i].Inputs {
			if depIdx, ok := outputToNode[input]; ok {
				visit(depIdx)
			}
		}

		result = append(result, &nodes[i])
	}

	for i := range nodes {
		visit(i)
	}

	return result
}
