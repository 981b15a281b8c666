package tensor

import "fmt"

// Cast converts the tensor to a different data type.
func Cast(x *RawTensor, dtype DataType) (*RawTensor, error) {
	if x == nil {
		return nil, fmt.Errorf("Cast: input tensor is nil")
	}
	if x.dtype == dtype {
		return x.Clone(), nil
	}

	result, err := NewRaw(x.shape, dtype, x.device)
	if err != nil {
		return nil, fmt.Errorf("Cast: %w", err)
	}

	switch x.dtype {
	case Float32:
		castFrom(x.AsFloat32(), result)
	case Float64:
		castFrom(x.AsFloat64(), result)
	case Int32:
		castFrom(x.AsInt32(), result)
	case Int64:
		castFrom(x.AsInt64(), result)
	case Uint8:
		castFrom(x.AsUint8(), result)
	case Bool:
		in := x.AsBool()
		tmp := make([]uint8, len(in))
		for i, v := range in {
			if v {
				tmp[i] = 1
			}
		}
		castFrom(tmp, result)
	default:
		return nil, fmt.Errorf("Cast: unsupported source dtype %v", x.dtype)
	}
	return result, nil
}

// castFrom writes numeric source values into the destination tensor,
// converting to its dtype.
func castFrom[T float32 | float64 | int32 | int64 | uint8](in []T, out *RawTensor) {
	switch out.dtype {
	case Float32:
		dst := out.AsFloat32()
		for i, v := range in {
			dst[i] = float32(v)
		}
	case Float64:
		dst := out.AsFloat64()
		for i, v := range in {
			dst[i] = float64(v)
		}
	case Int32:
		dst := out.AsInt32()
		for i, v := range in {
			dst[i] = int32(v)
		}
	case Int64:
		dst := out.AsInt64()
		for i, v := range in {
			dst[i] = int64(v)
		}
	case Uint8:
		dst := out.AsUint8()
		for i, v := range in {
			dst[i] = uint8(v)
		}
	case Bool:
		dst := out.AsBool()
		for i, v := range in {
			dst[i] = v != 0
		}
	}
}

// FullRaw creates a tensor filled with a constant value.
func FullRaw(shape Shape, value float32, dtype DataType, device Device) (*RawTensor, error) {
	result, err := NewRaw(shape, dtype, device)
	if err != nil {
		return nil, fmt.Errorf("FullRaw: %w", err)
	}

	switch dtype {
	case Float32:
		out := result.AsFloat32()
		for i := range out {
			out[i] = value
		}
	case Float64:
		out := result.AsFloat64()
		for i := range out {
			out[i] = float64(value)
		}
	case Int32:
		out := result.AsInt32()
		for i := range out {
			out[i] = int32(value)
		}
	case Int64:
		out := result.AsInt64()
		for i := range out {
			out[i] = int64(value)
		}
	case Uint8:
		out := result.AsUint8()
		for i := range out {
			out[i] = uint8(value)
		}
	case Bool:
		out := result.AsBool()
		for i := range out {
			out[i] = value != 0
		}
	default:
		return nil, fmt.Errorf("FullRaw: unsupported dtype %v", dtype)
	}
	return result, nil
}
