package mindir

import (
	"fmt"

	"github.com/born-ml/serve/internal/graph"
	"github.com/born-ml/serve/internal/tensor"
)

// MindIR attribute type codes.
const (
	attrFloat   = 1
	attrInt     = 2
	attrDouble  = 3
	attrString  = 4
	attrTensor  = 5
	attrFloats  = 6
	attrInts    = 7
	attrStrings = 8
)

// primitiveOps maps MindSpore primitive names onto the operator names the
// registry executes. Names not in the table pass through unchanged, so
// primitives that already match (MatMul, Softmax, Concat) need no entry.
var primitiveOps = map[string]string{
	"ReLU":       "Relu",
	"GeLU":       "Gelu",
	"BiasAdd":    "Add",
	"TensorAdd":  "Add",
	"RealDiv":    "Div",
	"Conv2D":     "Conv",
	"MaxPool":    "MaxPool",
	"Argmax":     "ArgMax",
	"ExpandDims": "Unsqueeze",
}

// LoadFile parses a MindIR file and lowers it to a computation graph.
func LoadFile(path string) (*graph.Graph, error) {
	proto, err := ParseFile(path)
	if err != nil {
		return nil, err
	}
	return Lower(proto)
}

// Load parses MindIR bytes and lowers them to a computation graph.
func Load(data []byte) (*graph.Graph, error) {
	proto, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return Lower(proto)
}

// Lower converts a parsed ModelProto into the runtime graph. Weights come
// from graph parameters; value descriptors carry dtype and shape inline.
func Lower(m *ModelProto) (*graph.Graph, error) {
	if m.Graph == nil {
		return nil, fmt.Errorf("model has no graph")
	}

	g := &graph.Graph{
		Name:         m.Graph.Name,
		Initializers: make(map[string]*tensor.RawTensor, len(m.Graph.Parameters)),
		Metadata:     make(map[string]string, 3),
	}
	if m.ProducerName != "" {
		g.Metadata["producer_name"] = m.ProducerName
	}
	if m.ProducerVersion != "" {
		g.Metadata["producer_version"] = m.ProducerVersion
	}
	if m.ModelVersion != "" {
		g.Metadata["model_version"] = m.ModelVersion
	}

	for i := range m.Graph.Parameters {
		tp := &m.Graph.Parameters[i]
		raw, err := tensorFromProto(tp)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", tp.Name, err)
		}
		g.Initializers[tp.Name] = raw
	}

	g.Nodes = make([]graph.Node, 0, len(m.Graph.Nodes))
	for i := range m.Graph.Nodes {
		node, err := lowerNode(&m.Graph.Nodes[i])
		if err != nil {
			return nil, err
		}
		g.Nodes = append(g.Nodes, node)
	}

	g.Inputs = lowerValueInfos(m.Graph.Inputs)
	g.Outputs = lowerValueInfos(m.Graph.Outputs)

	// Parameters are weights, not request inputs, but some exporters list
	// them on the input boundary anyway. Compile filters them out; nothing
	// to do here.
	return g, nil
}

func lowerNode(np *NodeProto) (graph.Node, error) {
	opType := np.OpType
	if mapped, ok := primitiveOps[opType]; ok {
		opType = mapped
	}
	node := graph.Node{
		Name:    np.Name,
		OpType:  opType,
		Domain:  np.Domain,
		Inputs:  np.Inputs,
		Outputs: np.Outputs,
	}
	for i := range np.Attributes {
		attr, err := lowerAttribute(&np.Attributes[i])
		if err != nil {
			return graph.Node{}, fmt.Errorf("node %s attribute %s: %w", np.Name, np.Attributes[i].Name, err)
		}
		node.Attributes = append(node.Attributes, attr)
	}
	return node, nil
}

func lowerAttribute(ap *AttributeProto) (graph.Attribute, error) {
	attr := graph.Attribute{Name: ap.Name}
	switch ap.Type {
	case attrFloat:
		attr.Type = graph.AttrFloat
		attr.F = ap.F
	case attrDouble:
		attr.Type = graph.AttrFloat
		attr.F = float32(ap.D)
	case attrInt:
		attr.Type = graph.AttrInt
		attr.I = ap.I
	case attrString:
		attr.Type = graph.AttrString
		attr.S = ap.S
	case attrTensor:
		attr.Type = graph.AttrTensor
		if ap.T != nil {
			raw, err := tensorFromProto(ap.T)
			if err != nil {
				return graph.Attribute{}, err
			}
			attr.Tensor = raw
		}
	case attrFloats:
		attr.Type = graph.AttrFloats
		attr.Floats = ap.Floats
	case attrInts:
		attr.Type = graph.AttrInts
		attr.Ints = ap.Ints
	case attrStrings:
		attr.Type = graph.AttrStrings
		attr.Strings = ap.Strings
	default:
		// Untyped attributes keep whichever scalar fields were set.
		attr.Type = graph.AttrUndefined
		attr.F = ap.F
		attr.I = ap.I
		attr.S = ap.S
		attr.Floats = ap.Floats
		attr.Ints = ap.Ints
	}
	return attr, nil
}

func lowerValueInfos(protos []ValueInfoProto) []graph.ValueInfo {
	infos := make([]graph.ValueInfo, 0, len(protos))
	for i := range protos {
		vp := &protos[i]
		info := graph.ValueInfo{Name: vp.Name}
		if len(vp.Tensors) > 0 {
			desc := &vp.Tensors[0]
			if dt, err := graph.WireDataType(desc.DataType); err == nil {
				info.DType = dt
			}
			for _, d := range desc.Dims {
				if d <= 0 {
					info.Dims = append(info.Dims, -1)
				} else {
					info.Dims = append(info.Dims, d)
				}
			}
		}
		infos = append(infos, info)
	}
	return infos
}

// tensorFromProto materializes a TensorProto as a RawTensor. Dtype codes
// match the ONNX enum, which the MindIR schema inherited.
func tensorFromProto(tp *TensorProto) (*tensor.RawTensor, error) {
	dtype, err := graph.WireDataType(tp.DataType)
	if err != nil {
		return nil, err
	}

	shape := make(tensor.Shape, len(tp.Dims))
	for i, d := range tp.Dims {
		if d < 0 {
			return nil, fmt.Errorf("negative dimension %d", d)
		}
		shape[i] = int(d)
	}
	numElements := shape.NumElements()

	if tp.RawData != nil {
		want := numElements * dtype.Size()
		if len(tp.RawData) != want {
			return nil, fmt.Errorf("raw data size %d does not match shape %v (%s)",
				len(tp.RawData), shape, dtype)
		}
		return tensor.NewRawFromBytes(shape, dtype, tensor.CPU, tp.RawData)
	}

	switch dtype {
	case tensor.Float32:
		if len(tp.FloatData) != numElements {
			return nil, fmt.Errorf("float data count %d does not match shape %v", len(tp.FloatData), shape)
		}
		return tensor.FromSlice(tp.FloatData, shape, tensor.CPU)
	case tensor.Float64:
		if len(tp.DoubleData) != numElements {
			return nil, fmt.Errorf("double data count %d does not match shape %v", len(tp.DoubleData), shape)
		}
		return tensor.FromSlice(tp.DoubleData, shape, tensor.CPU)
	case tensor.Int64:
		if len(tp.Int64Data) != numElements {
			return nil, fmt.Errorf("int64 data count %d does not match shape %v", len(tp.Int64Data), shape)
		}
		return tensor.FromSlice(tp.Int64Data, shape, tensor.CPU)
	case tensor.Int32:
		if len(tp.Int32Data) != numElements {
			return nil, fmt.Errorf("int32 data count %d does not match shape %v", len(tp.Int32Data), shape)
		}
		return tensor.FromSlice(tp.Int32Data, shape, tensor.CPU)
	default:
		return nil, fmt.Errorf("tensor %s (%s) has no data", tp.Name, dtype)
	}
}
