package gguf

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"
)

// WriteTensor is a tensor to serialise. Data must already be encoded.
type WriteTensor struct {
	Name string
	Dims []uint64
	Type TensorType
	Data []byte
}

// Write serialises a version 3 GGUF file with 32-byte alignment. Metadata
// keys are written in sorted order. Supported value types are string,
// bool, uint32, uint64, int32, float32, float64, []string and []int32.
func Write(w io.Writer, kv map[string]any, tensors []WriteTensor) error {
	bw := bufio.NewWriter(w)
	ew := &errWriter{w: bw}

	ew.bytes([]byte(magicGGUF))
	ew.u32(3)
	ew.u64(uint64(len(tensors)))
	ew.u64(uint64(len(kv)))

	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		ew.str(k)
		if err := ew.value(kv[k]); err != nil {
			return fmt.Errorf("gguf write %s: %w", k, err)
		}
	}

	const alignment = 32
	offsets := make([]uint64, len(tensors))
	var off uint64
	for i, t := range tensors {
		offsets[i] = off
		off = align(off+uint64(len(t.Data)), alignment)
	}
	for i, t := range tensors {
		ew.str(t.Name)
		ew.u32(uint32(len(t.Dims)))
		for _, d := range t.Dims {
			ew.u64(d)
		}
		ew.u32(uint32(t.Type))
		ew.u64(offsets[i])
	}

	ew.pad(alignment)
	for _, t := range tensors {
		ew.bytes(t.Data)
		ew.pad(alignment)
	}
	if ew.err != nil {
		return ew.err
	}
	return bw.Flush()
}

type errWriter struct {
	w   io.Writer
	n   uint64
	err error
}

func (e *errWriter) bytes(b []byte) {
	if e.err != nil {
		return
	}
	var n int
	n, e.err = e.w.Write(b)
	e.n += uint64(n)
}

func (e *errWriter) u32(v uint32) { e.bytes(binary.LittleEndian.AppendUint32(nil, v)) }
func (e *errWriter) u64(v uint64) { e.bytes(binary.LittleEndian.AppendUint64(nil, v)) }

func (e *errWriter) str(s string) {
	e.u64(uint64(len(s)))
	e.bytes([]byte(s))
}

func (e *errWriter) pad(alignment uint64) {
	if rem := e.n % alignment; rem != 0 {
		e.bytes(make([]byte, alignment-rem))
	}
}

func (e *errWriter) value(v any) error {
	switch t := v.(type) {
	case string:
		e.u32(uint32(TypeString))
		e.str(t)
	case bool:
		e.u32(uint32(TypeBool))
		if t {
			e.bytes([]byte{1})
		} else {
			e.bytes([]byte{0})
		}
	case uint32:
		e.u32(uint32(TypeUint32))
		e.u32(t)
	case int32:
		e.u32(uint32(TypeInt32))
		e.u32(uint32(t))
	case uint64:
		e.u32(uint32(TypeUint64))
		e.u64(t)
	case float32:
		e.u32(uint32(TypeFloat32))
		e.u32(math.Float32bits(t))
	case float64:
		e.u32(uint32(TypeFloat64))
		e.u64(math.Float64bits(t))
	case []string:
		e.u32(uint32(TypeArray))
		e.u32(uint32(TypeString))
		e.u64(uint64(len(t)))
		for _, s := range t {
			e.str(s)
		}
	case []int32:
		e.u32(uint32(TypeArray))
		e.u32(uint32(TypeInt32))
		e.u64(uint64(len(t)))
		for _, x := range t {
			e.u32(uint32(x))
		}
	default:
		return fmt.Errorf("unsupported metadata type %T", v)
	}
	return nil
}
