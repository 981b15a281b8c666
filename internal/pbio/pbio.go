// Package pbio implements minimal protobuf wire format encoding and
// decoding. It backs the model file parsers and the request codec, which
// share the same field-by-field message layouts.
package pbio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// Protobuf wire types.
const (
	WireVarint = 0 // int32, int64, uint32, uint64, bool, enum
	Wire64Bit  = 1 // fixed64, sfixed64, double
	WireBytes  = 2 // string, bytes, embedded messages, packed repeated fields
	Wire32Bit  = 5 // fixed32, sfixed32, float
)

// Reader decodes protobuf wire data from a byte slice.
type Reader struct {
	data []byte
	pos  int
}

// NewReader creates a Reader over data. The slice is not copied.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// More reports whether unread bytes remain.
func (r *Reader) More() bool {
	return r.pos < len(r.data)
}

// ReadTag reads a field tag and splits it into field number and wire type.
// Returns io.EOF when the input is exhausted.
func (r *Reader) ReadTag() (fieldNum, wireType int, err error) {
	if r.pos >= len(r.data) {
		return 0, 0, io.EOF
	}
	tag, err := r.ReadVarint()
	if err != nil {
		return 0, 0, err
	}
	fieldNum = int(tag >> 3)
	wireType = int(tag & 0x7)
	if fieldNum <= 0 {
		return 0, 0, fmt.Errorf("invalid field number %d", fieldNum)
	}
	return fieldNum, wireType, nil
}

// ReadVarint reads a base-128 varint.
func (r *Reader) ReadVarint() (int64, error) {
	var result uint64
	var shift uint
	for {
		if r.pos >= len(r.data) {
			return 0, io.EOF
		}
		b := r.data[r.pos]
		r.pos++
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			break
		}
		shift += 7
		if shift >= 64 {
			return 0, errors.New("varint overflow")
		}
	}
	return int64(result), nil //nolint:gosec // G115: varint fits in int64
}

// ReadBool reads a varint-encoded bool.
func (r *Reader) ReadBool() (bool, error) {
	v, err := r.ReadVarint()
	return v != 0, err
}

// ReadBytes reads a length-delimited field. The returned slice aliases the
// reader's underlying data.
func (r *Reader) ReadBytes() ([]byte, error) {
	length, err := r.ReadVarint()
	if err != nil {
		return nil, err
	}
	if length < 0 {
		return nil, errors.New("negative length")
	}
	end := r.pos + int(length)
	if end > len(r.data) || end < r.pos {
		return nil, io.ErrUnexpectedEOF
	}
	result := r.data[r.pos:end]
	r.pos = end
	return result, nil
}

// ReadString reads a length-delimited field as a string.
func (r *Reader) ReadString() (string, error) {
	data, err := r.ReadBytes()
	return string(data), err
}

// ReadFloat32 reads a fixed32 field as float32.
func (r *Reader) ReadFloat32() (float32, error) {
	if r.pos+4 > len(r.data) {
		return 0, io.ErrUnexpectedEOF
	}
	bits := binary.LittleEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return math.Float32frombits(bits), nil
}

// ReadFloat64 reads a fixed64 field as float64.
func (r *Reader) ReadFloat64() (float64, error) {
	if r.pos+8 > len(r.data) {
		return 0, io.ErrUnexpectedEOF
	}
	bits := binary.LittleEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return math.Float64frombits(bits), nil
}

// SkipField skips a field of the given wire type.
func (r *Reader) SkipField(wireType int) error {
	switch wireType {
	case WireVarint:
		_, err := r.ReadVarint()
		return err
	case Wire64Bit:
		if r.pos+8 > len(r.data) {
			return io.ErrUnexpectedEOF
		}
		r.pos += 8
		return nil
	case WireBytes:
		_, err := r.ReadBytes()
		return err
	case Wire32Bit:
		if r.pos+4 > len(r.data) {
			return io.ErrUnexpectedEOF
		}
		r.pos += 4
		return nil
	default:
		return fmt.Errorf("unknown wire type: %d", wireType)
	}
}

// Writer encodes protobuf wire data into a growing buffer.
type Writer struct {
	buf []byte
}

// NewWriter creates an empty Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// Bytes returns the encoded data.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Len returns the number of encoded bytes.
func (w *Writer) Len() int {
	return len(w.buf)
}

func (w *Writer) writeTag(fieldNum, wireType int) {
	w.writeRawVarint(uint64(fieldNum)<<3 | uint64(wireType)) //nolint:gosec // G115: fieldNum is positive and small
}

func (w *Writer) writeRawVarint(v uint64) {
	for v >= 0x80 {
		w.buf = append(w.buf, byte(v)|0x80)
		v >>= 7
	}
	w.buf = append(w.buf, byte(v))
}

// WriteVarint writes a varint field.
func (w *Writer) WriteVarint(fieldNum int, v int64) {
	w.writeTag(fieldNum, WireVarint)
	w.writeRawVarint(uint64(v)) //nolint:gosec // G115: two's complement varint encoding
}

// WriteBool writes a varint-encoded bool field. False values are written
// explicitly; callers decide whether to elide defaults.
func (w *Writer) WriteBool(fieldNum int, v bool) {
	var n int64
	if v {
		n = 1
	}
	w.WriteVarint(fieldNum, n)
}

// WriteBytes writes a length-delimited field.
func (w *Writer) WriteBytes(fieldNum int, data []byte) {
	w.writeTag(fieldNum, WireBytes)
	w.writeRawVarint(uint64(len(data)))
	w.buf = append(w.buf, data...)
}

// WriteString writes a length-delimited string field.
func (w *Writer) WriteString(fieldNum int, s string) {
	w.writeTag(fieldNum, WireBytes)
	w.writeRawVarint(uint64(len(s)))
	w.buf = append(w.buf, s...)
}

// WriteFloat32 writes a fixed32 float field.
func (w *Writer) WriteFloat32(fieldNum int, v float32) {
	w.writeTag(fieldNum, Wire32Bit)
	var scratch [4]byte
	binary.LittleEndian.PutUint32(scratch[:], math.Float32bits(v))
	w.buf = append(w.buf, scratch[:]...)
}

// WriteFloat64 writes a fixed64 double field.
func (w *Writer) WriteFloat64(fieldNum int, v float64) {
	w.writeTag(fieldNum, Wire64Bit)
	var scratch [8]byte
	binary.LittleEndian.PutUint64(scratch[:], math.Float64bits(v))
	w.buf = append(w.buf, scratch[:]...)
}

// WriteMessage writes a nested message field built by fn.
func (w *Writer) WriteMessage(fieldNum int, fn func(*Writer)) {
	sub := NewWriter()
	fn(sub)
	w.WriteBytes(fieldNum, sub.Bytes())
}
