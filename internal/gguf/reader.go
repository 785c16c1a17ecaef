package gguf

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// reader walks the metadata section of an in-memory image.
type reader struct {
	b   []byte
	off int
}

func (r *reader) readN(n int) ([]byte, error) {
	if n < 0 || r.off+n > len(r.b) {
		return nil, io.ErrUnexpectedEOF
	}
	out := r.b[r.off : r.off+n]
	r.off += n
	return out, nil
}

func (r *reader) readU8() (uint8, error) {
	b, err := r.readN(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) readU16() (uint16, error) {
	b, err := r.readN(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *reader) readU32() (uint32, error) {
	b, err := r.readN(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *reader) readU64() (uint64, error) {
	b, err := r.readN(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *reader) readString() (string, error) {
	n, err := r.readU64()
	if err != nil {
		return "", err
	}
	if n > uint64(len(r.b)-r.off) {
		return "", fmt.Errorf("string length %d exceeds file", n)
	}
	b, err := r.readN(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *reader) readValue(vt ValueType) (any, error) {
	switch vt {
	case TypeUint8:
		return r.readU8()
	case TypeInt8:
		v, err := r.readU8()
		return int8(v), err
	case TypeUint16:
		return r.readU16()
	case TypeInt16:
		v, err := r.readU16()
		return int16(v), err
	case TypeUint32:
		return r.readU32()
	case TypeInt32:
		v, err := r.readU32()
		return int32(v), err
	case TypeUint64:
		return r.readU64()
	case TypeInt64:
		v, err := r.readU64()
		return int64(v), err
	case TypeFloat32:
		v, err := r.readU32()
		return math.Float32frombits(v), err
	case TypeFloat64:
		v, err := r.readU64()
		return math.Float64frombits(v), err
	case TypeBool:
		v, err := r.readU8()
		return v != 0, err
	case TypeString:
		return r.readString()
	case TypeArray:
		et, err := r.readU32()
		if err != nil {
			return nil, err
		}
		count, err := r.readU64()
		if err != nil {
			return nil, err
		}
		if count > uint64(len(r.b)-r.off) {
			return nil, fmt.Errorf("array length %d exceeds file", count)
		}
		values := make([]any, 0, count)
		for range count {
			v, err := r.readValue(ValueType(et))
			if err != nil {
				return nil, err
			}
			values = append(values, v)
		}
		return ArrayValue{ElemType: ValueType(et), Values: values}, nil
	default:
		return nil, fmt.Errorf("unsupported value type %d", uint32(vt))
	}
}
