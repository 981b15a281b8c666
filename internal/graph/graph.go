// Package graph defines the backend-independent computation graph executed
// by the inference runtime. Model parsers (onnx, mindir) lower their wire
// formats into this representation.
package graph

import (
	"github.com/born-ml/serve/internal/tensor"
)

// Attribute types, matching the ONNX AttributeProto.AttributeType enum that
// both supported model formats use.
const (
	AttrUndefined = 0
	AttrFloat     = 1
	AttrInt       = 2
	AttrString    = 3
	AttrTensor    = 4
	AttrFloats    = 6
	AttrInts      = 7
	AttrStrings   = 8
)

// Attribute is a named operator parameter.
type Attribute struct {
	Name    string
	Type    int32
	F       float32
	I       int64
	S       []byte
	Floats  []float32
	Ints    []int64
	Strings [][]byte
	Tensor  *tensor.RawTensor // decoded TENSOR attribute
}

// Node is one operation in the graph.
type Node struct {
	Name       string
	OpType     string
	Domain     string
	Inputs     []string // empty string marks an omitted optional input
	Outputs    []string
	Attributes []Attribute
}

// AttrInt returns an integer attribute or the default.
func (n *Node) AttrInt(name string, def int64) int64 {
	for i := range n.Attributes {
		if n.Attributes[i].Name == name {
			return n.Attributes[i].I
		}
	}
	return def
}

// AttrInts returns an integer array attribute, or nil if absent.
func (n *Node) AttrInts(name string) []int64 {
	for i := range n.Attributes {
		if n.Attributes[i].Name == name {
			return n.Attributes[i].Ints
		}
	}
	return nil
}

// AttrFloat returns a float attribute or the default.
func (n *Node) AttrFloat(name string, def float32) float32 {
	for i := range n.Attributes {
		if n.Attributes[i].Name == name {
			return n.Attributes[i].F
		}
	}
	return def
}

// AttrString returns a string attribute or the default.
func (n *Node) AttrString(name, def string) string {
	for i := range n.Attributes {
		if n.Attributes[i].Name == name {
			return string(n.Attributes[i].S)
		}
	}
	return def
}

// AttrTensor returns a tensor attribute, or nil if absent.
func (n *Node) AttrTensor(name string) *tensor.RawTensor {
	for i := range n.Attributes {
		if n.Attributes[i].Name == name {
			return n.Attributes[i].Tensor
		}
	}
	return nil
}

// ValueInfo describes a graph input or output.
type ValueInfo struct {
	Name  string
	DType tensor.DataType
	// Dims holds the declared shape; -1 marks a dynamic dimension
	// (symbolic or batch).
	Dims []int64
}

// Graph is a parsed model ready for compilation.
type Graph struct {
	Name         string
	Nodes        []Node
	Inputs       []ValueInfo
	Outputs      []ValueInfo
	Initializers map[string]*tensor.RawTensor
	Metadata     map[string]string
	OpsetVersion int64
}
