// Package mindir parses MindIR model files into the runtime computation
// graph. The format is a protobuf schema derived from ONNX: tensors and
// nodes look the same on the wire, but versions are strings, weights ride
// in graph parameters instead of initializers, and operators carry
// MindSpore primitive names that are normalized during lowering.
package mindir

// ModelProto is the top-level MindIR message.
type ModelProto struct {
	IRVersion       string
	ProducerName    string
	ProducerVersion string
	Domain          string
	ModelVersion    string
	Graph           *GraphProto
	LittleEndian    bool
}

// GraphProto is the computation graph. Parameters hold the trained
// weights; inputs and outputs describe the callable boundary.
type GraphProto struct {
	Name       string
	Nodes      []NodeProto
	Parameters []TensorProto
	Inputs     []ValueInfoProto
	Outputs    []ValueInfoProto
}

// NodeProto is a single primitive operation.
type NodeProto struct {
	Name       string
	OpType     string
	Domain     string
	Inputs     []string
	Outputs    []string
	Attributes []AttributeProto
}

// TensorProto carries tensor data and, for parameters, the weight name.
type TensorProto struct {
	Name       string
	DataType   int32
	Dims       []int64
	RawData    []byte
	FloatData  []float32
	Int32Data  []int32
	Int64Data  []int64
	DoubleData []float64
}

// ValueInfoProto describes a graph input or output. MindIR attaches the
// dtype and shape as a tensor descriptor rather than a separate type
// message.
type ValueInfoProto struct {
	Name    string
	Tensors []TensorProto
}

// AttributeProto is a node attribute.
type AttributeProto struct {
	Name    string
	Type    int32
	F       float32
	I       int64
	D       float64
	S       []byte
	T       *TensorProto
	Floats  []float32
	Ints    []int64
	Strings [][]byte
}
