package onnx

// ModelInfo summarizes a model without compiling it.
type ModelInfo struct {
	IRVersion       int64
	OpsetVersion    int64
	ProducerName    string
	ProducerVersion string
	InputNames      []string
	OutputNames     []string
	NodeCount       int
	WeightCount     int
}

// Inspect extracts summary info from ONNX bytes.
func Inspect(data []byte) (*ModelInfo, error) {
	proto, err := Parse(data)
	if err != nil {
		return nil, err
	}

	info := &ModelInfo{
		IRVersion:       proto.IRVersion,
		OpsetVersion:    opsetVersion(proto),
		ProducerName:    proto.ProducerName,
		ProducerVersion: proto.ProducerVersion,
	}
	if proto.Graph == nil {
		return info, nil
	}

	initNames := make(map[string]bool, len(proto.Graph.Initializers))
	for i := range proto.Graph.Initializers {
		initNames[proto.Graph.Initializers[i].Name] = true
	}
	for i := range proto.Graph.Inputs {
		if !initNames[proto.Graph.Inputs[i].Name] {
			info.InputNames = append(info.InputNames, proto.Graph.Inputs[i].Name)
		}
	}
	for i := range proto.Graph.Outputs {
		info.OutputNames = append(info.OutputNames, proto.Graph.Outputs[i].Name)
	}
	info.NodeCount = len(proto.Graph.Nodes)
	info.WeightCount = len(proto.Graph.Initializers)
	return info, nil
}
