package wire

import (
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc/encoding"

	"github.com/born-ml/serve/internal/pbio"
)

// CodecName is the gRPC content-subtype both sides of the service use.
const CodecName = "bornserve"

// Message is implemented by every RPC message in this package.
type Message interface {
	MarshalWire() []byte
	UnmarshalWire(data []byte) error
}

// Codec plugs the hand-written encoding into gRPC.
type Codec struct{}

// Marshal implements encoding.Codec.
func (Codec) Marshal(v any) ([]byte, error) {
	m, ok := v.(Message)
	if !ok {
		return nil, fmt.Errorf("codec %s: cannot marshal %T", CodecName, v)
	}
	return m.MarshalWire(), nil
}

// Unmarshal implements encoding.Codec.
func (Codec) Unmarshal(data []byte, v any) error {
	m, ok := v.(Message)
	if !ok {
		return fmt.Errorf("codec %s: cannot unmarshal into %T", CodecName, v)
	}
	return m.UnmarshalWire(data)
}

// Name implements encoding.Codec.
func (Codec) Name() string { return CodecName }

func init() {
	encoding.RegisterCodec(Codec{})
}

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

// MarshalWire implements Message.
func (t *Tensor) MarshalWire() []byte {
	w := pbio.NewWriter()
	t.encode(w)
	return w.Bytes()
}

func (t *Tensor) encode(w *pbio.Writer) {
	if t.Name != "" {
		w.WriteString(1, t.Name)
	}
	w.WriteVarint(2, dtypeWire(t.DType))
	for _, d := range t.Shape {
		w.WriteVarint(3, d)
	}
	if len(t.Data) > 0 {
		w.WriteBytes(4, t.Data)
	}
}

// UnmarshalWire implements Message.
func (t *Tensor) UnmarshalWire(data []byte) error {
	return eachField(data, func(r *pbio.Reader, fieldNum, wireType int) error {
		switch fieldNum {
		case 1:
			s, err := r.ReadString()
			t.Name = s
			return err
		case 2:
			code, err := r.ReadVarint()
			if err != nil {
				return err
			}
			dt, err := wireDType(code)
			t.DType = dt
			return err
		case 3:
			v, err := r.ReadVarint()
			t.Shape = append(t.Shape, v)
			return err
		case 4:
			b, err := r.ReadBytes()
			t.Data = b
			return err
		default:
			return r.SkipField(wireType)
		}
	})
}

// MarshalWire implements Message.
func (in *Instance) MarshalWire() []byte {
	w := pbio.NewWriter()
	in.encode(w)
	return w.Bytes()
}

func (in *Instance) encode(w *pbio.Writer) {
	for i := range in.Tensors {
		t := &in.Tensors[i]
		w.WriteMessage(1, t.encode)
	}
}

// UnmarshalWire implements Message.
func (in *Instance) UnmarshalWire(data []byte) error {
	return eachField(data, func(r *pbio.Reader, fieldNum, wireType int) error {
		switch fieldNum {
		case 1:
			sub, err := r.ReadBytes()
			if err != nil {
				return err
			}
			t := Tensor{}
			if err := t.UnmarshalWire(sub); err != nil {
				return err
			}
			in.Tensors = append(in.Tensors, t)
			return nil
		default:
			return r.SkipField(wireType)
		}
	})
}

// MarshalWire implements Message.
func (m *InferRequest) MarshalWire() []byte {
	w := pbio.NewWriter()
	if m.Servable != "" {
		w.WriteString(1, m.Servable)
	}
	if m.Method != "" {
		w.WriteString(2, m.Method)
	}
	if m.Version != 0 {
		w.WriteVarint(3, m.Version)
	}
	for i := range m.Instances {
		w.WriteMessage(4, m.Instances[i].encode)
	}
	return w.Bytes()
}

// UnmarshalWire implements Message.
func (m *InferRequest) UnmarshalWire(data []byte) error {
	return eachField(data, func(r *pbio.Reader, fieldNum, wireType int) error {
		switch fieldNum {
		case 1:
			s, err := r.ReadString()
			m.Servable = s
			return err
		case 2:
			s, err := r.ReadString()
			m.Method = s
			return err
		case 3:
			v, err := r.ReadVarint()
			m.Version = v
			return err
		case 4:
			sub, err := r.ReadBytes()
			if err != nil {
				return err
			}
			in := Instance{}
			if err := in.UnmarshalWire(sub); err != nil {
				return err
			}
			m.Instances = append(m.Instances, in)
			return nil
		default:
			return r.SkipField(wireType)
		}
	})
}

// MarshalWire implements Message.
func (m *InferReply) MarshalWire() []byte {
	w := pbio.NewWriter()
	if m.RequestID != "" {
		w.WriteString(1, m.RequestID)
	}
	for i := range m.Results {
		w.WriteMessage(2, m.Results[i].encode)
	}
	return w.Bytes()
}

// UnmarshalWire implements Message.
func (m *InferReply) UnmarshalWire(data []byte) error {
	return eachField(data, func(r *pbio.Reader, fieldNum, wireType int) error {
		switch fieldNum {
		case 1:
			s, err := r.ReadString()
			m.RequestID = s
			return err
		case 2:
			sub, err := r.ReadBytes()
			if err != nil {
				return err
			}
			in := Instance{}
			if err := in.UnmarshalWire(sub); err != nil {
				return err
			}
			m.Results = append(m.Results, in)
			return nil
		default:
			return r.SkipField(wireType)
		}
	})
}

func (ti *TensorInfo) encode(w *pbio.Writer) {
	if ti.Name != "" {
		w.WriteString(1, ti.Name)
	}
	w.WriteVarint(2, dtypeWire(ti.DType))
	for _, d := range ti.Dims {
		w.WriteVarint(3, d)
	}
}

func (ti *TensorInfo) decode(data []byte) error {
	return eachField(data, func(r *pbio.Reader, fieldNum, wireType int) error {
		switch fieldNum {
		case 1:
			s, err := r.ReadString()
			ti.Name = s
			return err
		case 2:
			code, err := r.ReadVarint()
			if err != nil {
				return err
			}
			dt, err := wireDType(code)
			ti.DType = dt
			return err
		case 3:
			v, err := r.ReadVarint()
			ti.Dims = append(ti.Dims, v)
			return err
		default:
			return r.SkipField(wireType)
		}
	})
}

func (si *ServableInfo) encode(w *pbio.Writer) {
	if si.Name != "" {
		w.WriteString(1, si.Name)
	}
	for _, v := range si.Versions {
		w.WriteVarint(2, v)
	}
	for _, m := range si.Methods {
		w.WriteString(3, m)
	}
	for i := range si.Inputs {
		w.WriteMessage(4, si.Inputs[i].encode)
	}
	for i := range si.Outputs {
		w.WriteMessage(5, si.Outputs[i].encode)
	}
}

func (si *ServableInfo) decode(data []byte) error {
	return eachField(data, func(r *pbio.Reader, fieldNum, wireType int) error {
		switch fieldNum {
		case 1:
			s, err := r.ReadString()
			si.Name = s
			return err
		case 2:
			v, err := r.ReadVarint()
			si.Versions = append(si.Versions, v)
			return err
		case 3:
			s, err := r.ReadString()
			si.Methods = append(si.Methods, s)
			return err
		case 4:
			sub, err := r.ReadBytes()
			if err != nil {
				return err
			}
			ti := TensorInfo{}
			if err := ti.decode(sub); err != nil {
				return err
			}
			si.Inputs = append(si.Inputs, ti)
			return nil
		case 5:
			sub, err := r.ReadBytes()
			if err != nil {
				return err
			}
			ti := TensorInfo{}
			if err := ti.decode(sub); err != nil {
				return err
			}
			si.Outputs = append(si.Outputs, ti)
			return nil
		default:
			return r.SkipField(wireType)
		}
	})
}

// MarshalWire implements Message.
func (m *MetadataRequest) MarshalWire() []byte {
	w := pbio.NewWriter()
	if m.Servable != "" {
		w.WriteString(1, m.Servable)
	}
	return w.Bytes()
}

// UnmarshalWire implements Message.
func (m *MetadataRequest) UnmarshalWire(data []byte) error {
	return eachField(data, func(r *pbio.Reader, fieldNum, wireType int) error {
		switch fieldNum {
		case 1:
			s, err := r.ReadString()
			m.Servable = s
			return err
		default:
			return r.SkipField(wireType)
		}
	})
}

// MarshalWire implements Message.
func (m *MetadataReply) MarshalWire() []byte {
	w := pbio.NewWriter()
	w.WriteMessage(1, m.Info.encode)
	return w.Bytes()
}

// UnmarshalWire implements Message.
func (m *MetadataReply) UnmarshalWire(data []byte) error {
	return eachField(data, func(r *pbio.Reader, fieldNum, wireType int) error {
		switch fieldNum {
		case 1:
			sub, err := r.ReadBytes()
			if err != nil {
				return err
			}
			return m.Info.decode(sub)
		default:
			return r.SkipField(wireType)
		}
	})
}

// MarshalWire implements Message.
func (m *ListServablesRequest) MarshalWire() []byte { return nil }

// UnmarshalWire implements Message.
func (m *ListServablesRequest) UnmarshalWire(data []byte) error { return nil }

// MarshalWire implements Message.
func (m *ListServablesReply) MarshalWire() []byte {
	w := pbio.NewWriter()
	for i := range m.Servables {
		w.WriteMessage(1, m.Servables[i].encode)
	}
	return w.Bytes()
}

// UnmarshalWire implements Message.
func (m *ListServablesReply) UnmarshalWire(data []byte) error {
	return eachField(data, func(r *pbio.Reader, fieldNum, wireType int) error {
		switch fieldNum {
		case 1:
			sub, err := r.ReadBytes()
			if err != nil {
				return err
			}
			si := ServableInfo{}
			if err := si.decode(sub); err != nil {
				return err
			}
			m.Servables = append(m.Servables, si)
			return nil
		default:
			return r.SkipField(wireType)
		}
	})
}

// MarshalWire implements Message.
func (m *HealthRequest) MarshalWire() []byte { return nil }

// UnmarshalWire implements Message.
func (m *HealthRequest) UnmarshalWire(data []byte) error { return nil }

// MarshalWire implements Message.
func (m *HealthReply) MarshalWire() []byte {
	w := pbio.NewWriter()
	w.WriteBool(1, m.Serving)
	if m.Servables != 0 {
		w.WriteVarint(2, m.Servables)
	}
	return w.Bytes()
}

// UnmarshalWire implements Message.
func (m *HealthReply) UnmarshalWire(data []byte) error {
	return eachField(data, func(r *pbio.Reader, fieldNum, wireType int) error {
		switch fieldNum {
		case 1:
			v, err := r.ReadBool()
			m.Serving = v
			return err
		case 2:
			v, err := r.ReadVarint()
			m.Servables = v
			return err
		default:
			return r.SkipField(wireType)
		}
	})
}
