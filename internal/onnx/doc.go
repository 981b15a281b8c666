// Package onnx parses ONNX model files into the backend-independent
// computation graph used by the inference runtime.
//
// The parser is a hand-written protobuf decoder over the wire format;
// it depends only on the field numbers of the ONNX schema and needs no
// generated code. Only the message fields the runtime consumes are
// decoded, everything else is skipped.
//
// Typical use:
//
//	g, err := onnx.LoadFile("model.onnx")
//	if err != nil {
//	    return err
//	}
//	exec, err := graph.Compile(g, backend)
package onnx
