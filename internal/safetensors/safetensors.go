// Package safetensors reads Hugging Face .safetensors weight shards.
package safetensors

import (
	"encoding/binary"
	"fmt"
	"os"
	"sort"

	"github.com/goccy/go-json"
	"golang.org/x/sys/unix"

	"github.com/samcharles93/llmfunc/internal/quant"
	"github.com/samcharles93/llmfunc/internal/tensor"
)

// maxHeaderLen bounds the JSON header to guard against corrupt files.
const maxHeaderLen = 100 << 20

// TensorInfo locates one tensor within the data section.
type TensorInfo struct {
	DType string
	Shape []int
	Start int64
	End   int64
}

// File is a mapped shard. Tensor bytes alias the mapping until Close.
type File struct {
	Path    string
	Tensors map[string]TensorInfo

	data      []byte
	dataStart int64
	mapped    bool
}

type tensorHeader struct {
	DType       string  `json:"dtype"`
	Shape       []int   `json:"shape"`
	DataOffsets []int64 `json:"data_offsets"`
}

// Open maps a shard and parses its header.
func Open(path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	st, err := fh.Stat()
	if err != nil {
		return nil, err
	}
	if st.Size() < 8 {
		return nil, fmt.Errorf("safetensors %s: file too short", path)
	}

	data, mapErr := unix.Mmap(int(fh.Fd()), 0, int(st.Size()), unix.PROT_READ, unix.MAP_SHARED)
	mapped := mapErr == nil
	if !mapped {
		if data, err = os.ReadFile(path); err != nil {
			return nil, err
		}
	}

	f, err := parse(data)
	if err != nil {
		if mapped {
			_ = unix.Munmap(data)
		}
		return nil, fmt.Errorf("safetensors %s: %w", path, err)
	}
	f.Path = path
	f.mapped = mapped
	return f, nil
}

// Parse reads a shard already in memory.
func Parse(data []byte) (*File, error) {
	return parse(data)
}

func parse(data []byte) (*File, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("file too short")
	}
	headerLen := binary.LittleEndian.Uint64(data)
	if headerLen > maxHeaderLen || 8+headerLen > uint64(len(data)) {
		return nil, fmt.Errorf("invalid header length %d", headerLen)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data[8:8+headerLen], &raw); err != nil {
		return nil, fmt.Errorf("parse header: %w", err)
	}
	delete(raw, "__metadata__")

	dataLen := int64(len(data)) - int64(8+headerLen)
	tensors := make(map[string]TensorInfo, len(raw))
	for name, msg := range raw {
		var th tensorHeader
		if err := json.Unmarshal(msg, &th); err != nil {
			return nil, fmt.Errorf("parse tensor %s: %w", name, err)
		}
		if len(th.DataOffsets) != 2 || th.DataOffsets[0] < 0 || th.DataOffsets[1] < th.DataOffsets[0] || th.DataOffsets[1] > dataLen {
			return nil, fmt.Errorf("tensor %s: invalid data_offsets %v", name, th.DataOffsets)
		}
		tensors[name] = TensorInfo{DType: th.DType, Shape: th.Shape, Start: th.DataOffsets[0], End: th.DataOffsets[1]}
	}
	return &File{Tensors: tensors, data: data, dataStart: int64(8 + headerLen)}, nil
}

// Close releases the mapping.
func (f *File) Close() error {
	var err error
	if f.mapped && f.data != nil {
		err = unix.Munmap(f.data)
	}
	f.data = nil
	return err
}

// Names returns tensor names in sorted order.
func (f *File) Names() []string {
	names := make([]string, 0, len(f.Tensors))
	for n := range f.Tensors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Tensor looks up a tensor header.
func (f *File) Tensor(name string) (TensorInfo, bool) {
	t, ok := f.Tensors[name]
	return t, ok
}

// Raw returns the encoded bytes of a tensor without copying.
func (f *File) Raw(name string) ([]byte, TensorInfo, error) {
	t, ok := f.Tensors[name]
	if !ok {
		return nil, TensorInfo{}, fmt.Errorf("tensor not found: %s", name)
	}
	return f.data[f.dataStart+t.Start : f.dataStart+t.End], t, nil
}

// DType maps a safetensors dtype name to a decoder.
func DType(name string) (quant.DType, error) {
	switch name {
	case "F32":
		return quant.F32, nil
	case "F16":
		return quant.F16, nil
	case "BF16":
		return quant.BF16, nil
	default:
		return 0, fmt.Errorf("unsupported dtype %s", name)
	}
}

// Mat returns a 1-D or 2-D tensor as a matrix, decoding rows lazily.
func (f *File) Mat(name string) (tensor.Mat, error) {
	raw, info, err := f.Raw(name)
	if err != nil {
		return tensor.Mat{}, err
	}
	dt, err := DType(info.DType)
	if err != nil {
		return tensor.Mat{}, fmt.Errorf("tensor %s: %w", name, err)
	}
	var rows, cols int
	switch len(info.Shape) {
	case 1:
		rows, cols = 1, info.Shape[0]
	case 2:
		rows, cols = info.Shape[0], info.Shape[1]
	default:
		return tensor.Mat{}, fmt.Errorf("tensor %s: want 1 or 2 dims, have %v", name, info.Shape)
	}
	m, err := tensor.NewMatFromRaw(rows, cols, dt, raw)
	if err != nil {
		return tensor.Mat{}, fmt.Errorf("tensor %s: %w", name, err)
	}
	return m, nil
}

// Vector decodes a tensor to float32.
func (f *File) Vector(name string) ([]float32, error) {
	raw, info, err := f.Raw(name)
	if err != nil {
		return nil, err
	}
	dt, err := DType(info.DType)
	if err != nil {
		return nil, fmt.Errorf("tensor %s: %w", name, err)
	}
	n := 1
	for _, d := range info.Shape {
		n *= d
	}
	return quant.Dequantize(dt, raw, n)
}
