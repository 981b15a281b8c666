package onnx

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/born-ml/serve/internal/pbio"
)

// ParseFile parses an ONNX model from a file.
func ParseFile(path string) (*ModelProto, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: model path is operator-provided on purpose
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return Parse(data)
}

// Parse parses an ONNX model from bytes.
func Parse(data []byte) (*ModelProto, error) {
	model := &ModelProto{}
	if err := readModelProto(data, model); err != nil {
		return nil, fmt.Errorf("failed to parse model: %w", err)
	}
	return model, nil
}

// eachField drives a field loop over one message, dispatching every tag
// to fn and treating clean EOF as end of message.
func eachField(data []byte, fn func(r *pbio.Reader, fieldNum, wireType int) error) error {
	r := pbio.NewReader(data)
	for r.More() {
		fieldNum, wireType, err := r.ReadTag()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return err
		}
		if err := fn(r, fieldNum, wireType); err != nil {
			return err
		}
	}
	return nil
}

func readModelProto(data []byte, m *ModelProto) error {
	return eachField(data, func(r *pbio.Reader, fieldNum, wireType int) error {
		switch fieldNum {
		case 1: // ir_version
			v, err := r.ReadVarint()
			m.IRVersion = v
			return err
		case 2: // producer_name
			s, err := r.ReadString()
			m.ProducerName = s
			return err
		case 3: // producer_version
			s, err := r.ReadString()
			m.ProducerVersion = s
			return err
		case 4: // domain
			s, err := r.ReadString()
			m.Domain = s
			return err
		case 5: // model_version
			v, err := r.ReadVarint()
			m.ModelVersion = v
			return err
		case 6: // doc_string
			s, err := r.ReadString()
			m.DocString = s
			return err
		case 7: // graph
			sub, err := r.ReadBytes()
			if err != nil {
				return err
			}
			m.Graph = &GraphProto{}
			return readGraphProto(sub, m.Graph)
		case 8: // opset_import
			sub, err := r.ReadBytes()
			if err != nil {
				return err
			}
			opset := OperatorSetID{}
			if err := readOperatorSetID(sub, &opset); err != nil {
				return err
			}
			m.OpsetImport = append(m.OpsetImport, opset)
			return nil
		case 14: // metadata_props
			sub, err := r.ReadBytes()
			if err != nil {
				return err
			}
			entry := StringStringEntry{}
			if err := readStringStringEntry(sub, &entry); err != nil {
				return err
			}
			m.MetadataProps = append(m.MetadataProps, entry)
			return nil
		default:
			return r.SkipField(wireType)
		}
	})
}

func readGraphProto(data []byte, m *GraphProto) error {
	return eachField(data, func(r *pbio.Reader, fieldNum, wireType int) error {
		switch fieldNum {
		case 1: // node
			sub, err := r.ReadBytes()
			if err != nil {
				return err
			}
			node := NodeProto{}
			if err := readNodeProto(sub, &node); err != nil {
				return err
			}
			m.Nodes = append(m.Nodes, node)
			return nil
		case 2: // name
			s, err := r.ReadString()
			m.Name = s
			return err
		case 5: // initializer
			sub, err := r.ReadBytes()
			if err != nil {
				return err
			}
			t := TensorProto{}
			if err := readTensorProto(sub, &t); err != nil {
				return err
			}
			m.Initializers = append(m.Initializers, t)
			return nil
		case 11: // input
			return readValueInfoInto(r, &m.Inputs)
		case 12: // output
			return readValueInfoInto(r, &m.Outputs)
		default:
			return r.SkipField(wireType)
		}
	})
}

func readValueInfoInto(r *pbio.Reader, dst *[]ValueInfoProto) error {
	sub, err := r.ReadBytes()
	if err != nil {
		return err
	}
	vi := ValueInfoProto{}
	if err := readValueInfoProto(sub, &vi); err != nil {
		return err
	}
	*dst = append(*dst, vi)
	return nil
}

func readNodeProto(data []byte, m *NodeProto) error {
	return eachField(data, func(r *pbio.Reader, fieldNum, wireType int) error {
		switch fieldNum {
		case 1: // input
			s, err := r.ReadString()
			m.Inputs = append(m.Inputs, s)
			return err
		case 2: // output
			s, err := r.ReadString()
			m.Outputs = append(m.Outputs, s)
			return err
		case 3: // name
			s, err := r.ReadString()
			m.Name = s
			return err
		case 4: // op_type
			s, err := r.ReadString()
			m.OpType = s
			return err
		case 5: // attribute
			sub, err := r.ReadBytes()
			if err != nil {
				return err
			}
			attr := AttributeProto{}
			if err := readAttributeProto(sub, &attr); err != nil {
				return err
			}
			m.Attributes = append(m.Attributes, attr)
			return nil
		case 7: // domain
			s, err := r.ReadString()
			m.Domain = s
			return err
		default:
			return r.SkipField(wireType)
		}
	})
}

func readTensorProto(data []byte, m *TensorProto) error {
	return eachField(data, func(r *pbio.Reader, fieldNum, wireType int) error {
		switch fieldNum {
		case 1: // dims (repeated int64, packed or not)
			if wireType == pbio.WireBytes {
				sub, err := r.ReadBytes()
				if err != nil {
					return err
				}
				return packedVarints(sub, func(v int64) {
					m.Dims = append(m.Dims, v)
				})
			}
			v, err := r.ReadVarint()
			m.Dims = append(m.Dims, v)
			return err
		case 2: // data_type
			v, err := r.ReadVarint()
			m.DataType = int32(v)
			return err
		case 4: // float_data (packed)
			sub, err := r.ReadBytes()
			if err != nil {
				return err
			}
			for i := 0; i+4 <= len(sub); i += 4 {
				bits := binary.LittleEndian.Uint32(sub[i:])
				m.FloatData = append(m.FloatData, math.Float32frombits(bits))
			}
			return nil
		case 5: // int32_data (packed)
			sub, err := r.ReadBytes()
			if err != nil {
				return err
			}
			return packedVarints(sub, func(v int64) {
				m.Int32Data = append(m.Int32Data, int32(v))
			})
		case 7: // int64_data (packed)
			sub, err := r.ReadBytes()
			if err != nil {
				return err
			}
			return packedVarints(sub, func(v int64) {
				m.Int64Data = append(m.Int64Data, v)
			})
		case 8: // name
			s, err := r.ReadString()
			m.Name = s
			return err
		case 9: // raw_data
			b, err := r.ReadBytes()
			m.RawData = b
			return err
		default:
			return r.SkipField(wireType)
		}
	})
}

// packedVarints decodes a packed repeated varint field.
func packedVarints(data []byte, emit func(int64)) error {
	r := pbio.NewReader(data)
	for r.More() {
		v, err := r.ReadVarint()
		if err != nil {
			return err
		}
		emit(v)
	}
	return nil
}

func readValueInfoProto(data []byte, m *ValueInfoProto) error {
	return eachField(data, func(r *pbio.Reader, fieldNum, wireType int) error {
		switch fieldNum {
		case 1: // name
			s, err := r.ReadString()
			m.Name = s
			return err
		case 2: // type
			sub, err := r.ReadBytes()
			if err != nil {
				return err
			}
			m.Type = &TypeProto{}
			return readTypeProto(sub, m.Type)
		default:
			return r.SkipField(wireType)
		}
	})
}

func readTypeProto(data []byte, m *TypeProto) error {
	return eachField(data, func(r *pbio.Reader, fieldNum, wireType int) error {
		switch fieldNum {
		case 1: // tensor_type
			sub, err := r.ReadBytes()
			if err != nil {
				return err
			}
			m.TensorType = &TensorTypeProto{}
			return readTensorTypeProto(sub, m.TensorType)
		default:
			return r.SkipField(wireType)
		}
	})
}

func readTensorTypeProto(data []byte, m *TensorTypeProto) error {
	return eachField(data, func(r *pbio.Reader, fieldNum, wireType int) error {
		switch fieldNum {
		case 1: // elem_type
			v, err := r.ReadVarint()
			m.ElemType = int32(v)
			return err
		case 2: // shape
			sub, err := r.ReadBytes()
			if err != nil {
				return err
			}
			m.Shape = &TensorShapeProto{}
			return readTensorShapeProto(sub, m.Shape)
		default:
			return r.SkipField(wireType)
		}
	})
}

func readTensorShapeProto(data []byte, m *TensorShapeProto) error {
	return eachField(data, func(r *pbio.Reader, fieldNum, wireType int) error {
		switch fieldNum {
		case 1: // dim
			sub, err := r.ReadBytes()
			if err != nil {
				return err
			}
			dim := DimensionProto{}
			if err := readDimensionProto(sub, &dim); err != nil {
				return err
			}
			m.Dims = append(m.Dims, dim)
			return nil
		default:
			return r.SkipField(wireType)
		}
	})
}

func readDimensionProto(data []byte, m *DimensionProto) error {
	return eachField(data, func(r *pbio.Reader, fieldNum, wireType int) error {
		switch fieldNum {
		case 1: // dim_value
			v, err := r.ReadVarint()
			m.DimValue = v
			return err
		case 2: // dim_param
			s, err := r.ReadString()
			m.DimParam = s
			return err
		default:
			return r.SkipField(wireType)
		}
	})
}

func readAttributeProto(data []byte, m *AttributeProto) error {
	return eachField(data, func(r *pbio.Reader, fieldNum, wireType int) error {
		switch fieldNum {
		case 1: // name
			s, err := r.ReadString()
			m.Name = s
			return err
		case 2: // f
			v, err := r.ReadFloat32()
			m.F = v
			return err
		case 3: // i
			v, err := r.ReadVarint()
			m.I = v
			return err
		case 4: // s
			b, err := r.ReadBytes()
			m.S = b
			return err
		case 5: // t
			sub, err := r.ReadBytes()
			if err != nil {
				return err
			}
			m.T = &TensorProto{}
			return readTensorProto(sub, m.T)
		case 7: // floats (packed)
			sub, err := r.ReadBytes()
			if err != nil {
				return err
			}
			for i := 0; i+4 <= len(sub); i += 4 {
				bits := binary.LittleEndian.Uint32(sub[i:])
				m.Floats = append(m.Floats, math.Float32frombits(bits))
			}
			return nil
		case 8: // ints (packed)
			sub, err := r.ReadBytes()
			if err != nil {
				return err
			}
			return packedVarints(sub, func(v int64) {
				m.Ints = append(m.Ints, v)
			})
		case 9: // strings
			b, err := r.ReadBytes()
			m.Strings = append(m.Strings, b)
			return err
		case 20: // type
			v, err := r.ReadVarint()
			m.Type = int32(v)
			return err
		default:
			return r.SkipField(wireType)
		}
	})
}

func readStringStringEntry(data []byte, m *StringStringEntry) error {
	return eachField(data, func(r *pbio.Reader, fieldNum, wireType int) error {
		switch fieldNum {
		case 1: // key
			s, err := r.ReadString()
			m.Key = s
			return err
		case 2: // value
			s, err := r.ReadString()
			m.Value = s
			return err
		default:
			return r.SkipField(wireType)
		}
	})
}

func readOperatorSetID(data []byte, m *OperatorSetID) error {
	return eachField(data, func(r *pbio.Reader, fieldNum, wireType int) error {
		switch fieldNum {
		case 1: // domain
			s, err := r.ReadString()
			m.Domain = s
			return err
		case 2: // version
			v, err := r.ReadVarint()
			m.Version = v
			return err
		default:
			return r.SkipField(wireType)
		}
	})
}
