// Package gguf reads GGUF model files: metadata key/values, tensor
// directory and the aligned tensor data section.
package gguf

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

const magicGGUF = "GGUF"

// ValueType tags a metadata value.
type ValueType uint32

const (
	TypeUint8   ValueType = 0
	TypeInt8    ValueType = 1
	TypeUint16  ValueType = 2
	TypeInt16   ValueType = 3
	TypeUint32  ValueType = 4
	TypeInt32   ValueType = 5
	TypeFloat32 ValueType = 6
	TypeBool    ValueType = 7
	TypeString  ValueType = 8
	TypeArray   ValueType = 9
	TypeUint64  ValueType = 10
	TypeInt64   ValueType = 11
	TypeFloat64 ValueType = 12
)

// ArrayValue is a decoded metadata array.
type ArrayValue struct {
	ElemType ValueType
	Values   []any
}

// Value is a decoded metadata value.
type Value struct {
	Type  ValueType
	Value any
}

// Header is the fixed file header.
type Header struct {
	Version     uint32
	TensorCount uint64
	KVCount     uint64
}

// TensorInfo describes one tensor. Dims are innermost first, so a row-major
// [rows, cols] matrix is stored as Dims = [cols, rows].
type TensorInfo struct {
	Name   string
	Dims   []uint64
	Type   TensorType
	Offset uint64
}

// File is an opened GGUF file. Tensor bytes alias the mapping and stay valid
// until Close.
type File struct {
	Path       string
	Header     Header
	KV         map[string]Value
	Tensors    []TensorInfo
	Alignment  uint64
	DataOffset uint64

	data   []byte
	mapped bool
	index  map[string]int
}

// Open maps path read-only and parses its header. When mmap is unavailable
// the file is read into memory instead.
func Open(path string) (*File, error) {
	data, mapped, err := load(path)
	if err != nil {
		return nil, err
	}
	f, err := parse(data)
	if err != nil {
		if mapped {
			_ = unix.Munmap(data)
		}
		return nil, fmt.Errorf("gguf %s: %w", path, err)
	}
	f.Path = path
	f.mapped = mapped
	return f, nil
}

// Parse reads a GGUF image already in memory.
func Parse(data []byte) (*File, error) {
	return parse(data)
}

func load(path string) ([]byte, bool, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, false, err
	}
	defer fh.Close()
	st, err := fh.Stat()
	if err != nil {
		return nil, false, err
	}
	if st.Size() == 0 {
		return nil, false, fmt.Errorf("gguf %s: empty file", path)
	}
	if data, err := unix.Mmap(int(fh.Fd()), 0, int(st.Size()), unix.PROT_READ, unix.MAP_SHARED); err == nil {
		return data, true, nil
	}
	data, err := os.ReadFile(path)
	return data, false, err
}

func parse(data []byte) (*File, error) {
	r := &reader{b: data}

	magic, err := r.readN(4)
	if err != nil {
		return nil, err
	}
	if string(magic) != magicGGUF {
		return nil, fmt.Errorf("invalid magic %q", magic)
	}
	version, err := r.readU32()
	if err != nil {
		return nil, err
	}
	if version < 2 || version > 3 {
		return nil, fmt.Errorf("unsupported version %d", version)
	}
	tensorCount, err := r.readU64()
	if err != nil {
		return nil, err
	}
	kvCount, err := r.readU64()
	if err != nil {
		return nil, err
	}

	kv := make(map[string]Value, min(kvCount, 1<<16))
	for i := range kvCount {
		key, err := r.readString()
		if err != nil {
			return nil, fmt.Errorf("read key %d: %w", i, err)
		}
		vt, err := r.readU32()
		if err != nil {
			return nil, fmt.Errorf("read value type for %s: %w", key, err)
		}
		val, err := r.readValue(ValueType(vt))
		if err != nil {
			return nil, fmt.Errorf("read value for %s: %w", key, err)
		}
		kv[key] = Value{Type: ValueType(vt), Value: val}
	}

	tensors := make([]TensorInfo, 0, min(tensorCount, 1<<16))
	index := make(map[string]int, cap(tensors))
	for i := range tensorCount {
		name, err := r.readString()
		if err != nil {
			return nil, fmt.Errorf("read tensor name %d: %w", i, err)
		}
		nDim, err := r.readU32()
		if err != nil {
			return nil, fmt.Errorf("read tensor dims %s: %w", name, err)
		}
		if nDim > 8 {
			return nil, fmt.Errorf("tensor %s: %d dimensions", name, nDim)
		}
		dims := make([]uint64, nDim)
		for d := range dims {
			if dims[d], err = r.readU64(); err != nil {
				return nil, fmt.Errorf("read tensor dim %s[%d]: %w", name, d, err)
			}
		}
		tt, err := r.readU32()
		if err != nil {
			return nil, fmt.Errorf("read tensor type %s: %w", name, err)
		}
		off, err := r.readU64()
		if err != nil {
			return nil, fmt.Errorf("read tensor offset %s: %w", name, err)
		}
		index[name] = len(tensors)
		tensors = append(tensors, TensorInfo{Name: name, Dims: dims, Type: TensorType(tt), Offset: off})
	}

	alignment := uint64(32)
	if u, ok := GetUint64(kv, "general.alignment"); ok && u > 0 {
		alignment = u
	}

	return &File{
		Header:     Header{Version: version, TensorCount: tensorCount, KVCount: kvCount},
		KV:         kv,
		Tensors:    tensors,
		Alignment:  alignment,
		DataOffset: align(uint64(r.off), alignment),
		data:       data,
		index:      index,
	}, nil
}

// Close releases the mapping.
func (f *File) Close() error {
	if f.mapped && f.data != nil {
		err := unix.Munmap(f.data)
		f.data = nil
		return err
	}
	f.data = nil
	return nil
}

func align(offset, alignment uint64) uint64 {
	if alignment == 0 {
		return offset
	}
	if rem := offset % alignment; rem != 0 {
		return offset + alignment - rem
	}
	return offset
}
