package safetensors

import (
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/goccy/go-json"
)

// WriteTensor is an encoded tensor to serialise.
type WriteTensor struct {
	Name  string
	DType string
	Shape []int
	Data  []byte
}

// Write serialises tensors in name order.
func Write(w io.Writer, tensors []WriteTensor) error {
	sorted := append([]WriteTensor(nil), tensors...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	header := make(map[string]tensorHeader, len(sorted))
	var off int64
	for _, t := range sorted {
		header[t.Name] = tensorHeader{DType: t.DType, Shape: t.Shape, DataOffsets: []int64{off, off + int64(len(t.Data))}}
		off += int64(len(t.Data))
	}
	hdr, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("marshal header: %w", err)
	}
	// Pad the header so the data section starts 8-byte aligned.
	for len(hdr)%8 != 0 {
		hdr = append(hdr, ' ')
	}
	if _, err := w.Write(binary.LittleEndian.AppendUint64(nil, uint64(len(hdr)))); err != nil {
		return err
	}
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	for _, t := range sorted {
		if _, err := w.Write(t.Data); err != nil {
			return err
		}
	}
	return nil
}
