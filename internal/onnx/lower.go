package onnx

import (
	"fmt"

	"github.com/born-ml/serve/internal/graph"
	"github.com/born-ml/serve/internal/tensor"
)

// LoadFile parses an ONNX file and lowers it to a computation graph.
func LoadFile(path string) (*graph.Graph, error) {
	proto, err := ParseFile(path)
	if err != nil {
		return nil, err
	}
	return Lower(proto)
}

// Load parses ONNX bytes and lowers them to a computation graph.
func Load(data []byte) (*graph.Graph, error) {
	proto, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return Lower(proto)
}

// Lower converts a parsed ModelProto into the runtime graph.
func Lower(m *ModelProto) (*graph.Graph, error) {
	if m.Graph == nil {
		return nil, fmt.Errorf("model has no graph")
	}

	g := &graph.Graph{
		Name:         m.Graph.Name,
		Initializers: make(map[string]*tensor.RawTensor, len(m.Graph.Initializers)),
		Metadata:     make(map[string]string, len(m.MetadataProps)+2),
		OpsetVersion: opsetVersion(m),
	}
	if m.ProducerName != "" {
		g.Metadata["producer_name"] = m.ProducerName
	}
	if m.ProducerVersion != "" {
		g.Metadata["producer_version"] = m.ProducerVersion
	}
	for _, entry := range m.MetadataProps {
		g.Metadata[entry.Key] = entry.Value
	}

	for i := range m.Graph.Initializers {
		tp := &m.Graph.Initializers[i]
		raw, err := tensorFromProto(tp)
		if err != nil {
			return nil, fmt.Errorf("initializer %s: %w", tp.Name, err)
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
	return g, nil
}

func opsetVersion(m *ModelProto) int64 {
	for _, opset := range m.OpsetImport {
		if opset.Domain == "" || opset.Domain == "ai.onnx" {
			return opset.Version
		}
	}
	return 0
}

func lowerNode(np *NodeProto) (graph.Node, error) {
	node := graph.Node{
		Name:    np.Name,
		OpType:  np.OpType,
		Domain:  np.Domain,
		Inputs:  np.Inputs,
		Outputs: np.Outputs,
	}
	for i := range np.Attributes {
		ap := &np.Attributes[i]
		attr := graph.Attribute{
			Name:    ap.Name,
			Type:    ap.Type,
			F:       ap.F,
			I:       ap.I,
			S:       ap.S,
			Floats:  ap.Floats,
			Ints:    ap.Ints,
			Strings: ap.Strings,
		}
		if ap.T != nil {
			raw, err := tensorFromProto(ap.T)
			if err != nil {
				return graph.Node{}, fmt.Errorf("node %s attribute %s: %w", np.Name, ap.Name, err)
			}
			attr.Tensor = raw
		}
		node.Attributes = append(node.Attributes, attr)
	}
	return node, nil
}

func lowerValueInfos(protos []ValueInfoProto) []graph.ValueInfo {
	infos := make([]graph.ValueInfo, 0, len(protos))
	for i := range protos {
		vp := &protos[i]
		info := graph.ValueInfo{Name: vp.Name}
		if vp.Type != nil && vp.Type.TensorType != nil {
			tt := vp.Type.TensorType
			if dt, err := graph.WireDataType(tt.ElemType); err == nil {
				info.DType = dt
			}
			if tt.Shape != nil {
				for _, dim := range tt.Shape.Dims {
					if dim.DimParam != "" || dim.DimValue <= 0 {
						info.Dims = append(info.Dims, -1)
					} else {
						info.Dims = append(info.Dims, dim.DimValue)
					}
				}
			}
		}
		infos = append(infos, info)
	}
	return infos
}

// tensorFromProto materializes a TensorProto as a RawTensor. RawData is
// preferred; the legacy typed fields cover exporters that still use them.
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
	case tensor.Float64:
		// Some exporters pack doubles into the int64 field bit-by-bit;
		// more commonly raw_data is used. Only raw_data is accepted.
		return nil, fmt.Errorf("float64 tensor %s requires raw data", tp.Name)
	default:
		return nil, fmt.Errorf("tensor %s (%s) has no data", tp.Name, dtype)
	}
}
