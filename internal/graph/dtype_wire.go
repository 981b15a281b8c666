package graph

import (
	"fmt"

	"github.com/born-ml/serve/internal/tensor"
)

// TensorProto.DataType codes. Both supported model serializations use this
// enum, and the request codec reuses it for payload dtypes.
const (
	WireUndefined = 0
	WireFloat     = 1 // float32
	WireUint8     = 2
	WireInt8      = 3
	WireUint16    = 4
	WireInt16     = 5
	WireInt32     = 6
	WireInt64     = 7
	WireString    = 8
	WireBool      = 9
	WireFloat16   = 10
	WireDouble    = 11 // float64
	WireUint32    = 12
	WireUint64    = 13
)

// WireDataType maps a wire dtype code to the runtime data type.
func WireDataType(code int32) (tensor.DataType, error) {
	switch code {
	case WireFloat:
		return tensor.Float32, nil
	case WireDouble:
		return tensor.Float64, nil
	case WireInt32:
		return tensor.Int32, nil
	case WireInt64:
		return tensor.Int64, nil
	case WireUint8:
		return tensor.Uint8, nil
	case WireBool:
		return tensor.Bool, nil
	default:
		return 0, fmt.Errorf("unsupported tensor data type %d", code)
	}
}

// DataTypeWire maps a runtime data type to its wire code.
func DataTypeWire(dt tensor.DataType) int32 {
	switch dt {
	case tensor.Float32:
		return WireFloat
	case tensor.Float64:
		return WireDouble
	case tensor.Int32:
		return WireInt32
	case tensor.Int64:
		return WireInt64
	case tensor.Uint8:
		return WireUint8
	case tensor.Bool:
		return WireBool
	default:
		return WireUndefined
	}
}
