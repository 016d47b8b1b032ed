// Package container reads and writes the safetensors-style file format used
// for both model checkpoints and per-sample result artifacts.
//
// Layout:
//
//	[8 bytes: header size, uint64 little-endian]
//	[header: JSON object mapping tensor name -> {dtype, shape, data_offsets},
//	 plus an optional "__metadata__" string map]
//	[tensor payload: raw little-endian bytes, in alphabetical name order]
package container

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"sort"

	"github.com/seglab/segpredict/internal/tensor"
)

// Supported element types.
const (
	F32 = "F32"
	I64 = "I64"
	U8  = "U8"
)

const maxHeaderSize = 100 * 1024 * 1024

// Entry is one named tensor to be written.
type Entry struct {
	DType string
	Shape []int
	Data  []byte // raw little-endian payload
}

// F32Entry builds an F32 entry from a dense tensor.
func F32Entry(t *tensor.Dense) Entry {
	buf := make([]byte, 4*t.NumElements())
	for i, v := range t.Data() {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return Entry{DType: F32, Shape: t.Shape(), Data: buf}
}

// I64Entry builds an I64 entry from an int64 tensor.
func I64Entry(t *tensor.Ints) Entry {
	buf := make([]byte, 8*t.NumElements())
	for i, v := range t.Data() {
		binary.LittleEndian.PutUint64(buf[i*8:], uint64(v))
	}
	return Entry{DType: I64, Shape: t.Shape(), Data: buf}
}

// U8Entry builds a U8 entry from raw bytes.
func U8Entry(shape []int, data []byte) Entry {
	return Entry{DType: U8, Shape: append([]int(nil), shape...), Data: data}
}

type headerInfo struct {
	DType       string   `json:"dtype"`
	Shape       []int    `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

// Write serializes entries and metadata to path, overwriting any existing
// file. Output bytes are deterministic for identical inputs: names are
// written in sorted order and the JSON encoder sorts map keys.
func Write(path string, entries map[string]Entry, meta map[string]string) error {
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	header := make(map[string]interface{}, len(entries)+1)
	if len(meta) > 0 {
		header["__metadata__"] = meta
	}
	var offset int64
	for _, name := range names {
		e := entries[name]
		size := int64(len(e.Data))
		header[name] = headerInfo{
			DType:       e.DType,
			Shape:       e.Shape,
			DataOffsets: [2]int64{offset, offset + size},
		}
		offset += size
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("marshal header: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	if err := binary.Write(f, binary.LittleEndian, uint64(len(headerJSON))); err != nil {
		return fmt.Errorf("write header size: %w", err)
	}
	if _, err := f.Write(headerJSON); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, name := range names {
		if _, err := f.Write(entries[name].Data); err != nil {
			return fmt.Errorf("write tensor %s: %w", name, err)
		}
	}
	return f.Close()
}

// File is a fully parsed container.
type File struct {
	Meta    map[string]string
	tensors map[string]headerInfo
	payload []byte
}

// Read parses the container at path into memory.
func Read(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var headerSize uint64
	if err := binary.Read(f, binary.LittleEndian, &headerSize); err != nil {
		return nil, fmt.Errorf("read header size: %w", err)
	}
	if headerSize > maxHeaderSize {
		return nil, fmt.Errorf("header size %d exceeds limit", headerSize)
	}
	headerBytes := make([]byte, headerSize)
	if _, err := io.ReadFull(f, headerBytes); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(headerBytes, &raw); err != nil {
		return nil, fmt.Errorf("parse header: %w", err)
	}

	out := &File{tensors: make(map[string]headerInfo)}
	for key, value := range raw {
		if key == "__metadata__" {
			if err := json.Unmarshal(value, &out.Meta); err != nil {
				return nil, fmt.Errorf("parse metadata: %w", err)
			}
			continue
		}
		var info headerInfo
		if err := json.Unmarshal(value, &info); err != nil {
			return nil, fmt.Errorf("parse tensor %s: %w", key, err)
		}
		out.tensors[key] = info
	}

	payload, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	out.payload = payload

	for name, info := range out.tensors {
		if info.DataOffsets[0] < 0 || info.DataOffsets[1] < info.DataOffsets[0] ||
			info.DataOffsets[1] > int64(len(payload)) {
			return nil, fmt.Errorf("tensor %s: offsets %v out of bounds", name, info.DataOffsets)
		}
	}
	return out, nil
}

// Names returns the tensor names in sorted order.
func (f *File) Names() []string {
	names := make([]string, 0, len(f.tensors))
	for name := range f.tensors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether a tensor with the given name exists.
func (f *File) Has(name string) bool {
	_, ok := f.tensors[name]
	return ok
}

// Shape returns the shape of the named tensor.
func (f *File) Shape(name string) ([]int, error) {
	info, ok := f.tensors[name]
	if !ok {
		return nil, fmt.Errorf("no tensor %q", name)
	}
	return append([]int(nil), info.Shape...), nil
}

// Float32 decodes the named F32 tensor.
func (f *File) Float32(name string) (*tensor.Dense, error) {
	info, data, err := f.entry(name, F32)
	if err != nil {
		return nil, err
	}
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("tensor %s: payload not a multiple of 4", name)
	}
	vals := make([]float32, len(data)/4)
	for i := range vals {
		vals[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return tensor.NewDense(info.Shape, vals)
}

// Int64 decodes the named I64 tensor.
func (f *File) Int64(name string) (*tensor.Ints, error) {
	info, data, err := f.entry(name, I64)
	if err != nil {
		return nil, err
	}
	if len(data)%8 != 0 {
		return nil, fmt.Errorf("tensor %s: payload not a multiple of 8", name)
	}
	vals := make([]int64, len(data)/8)
	for i := range vals {
		vals[i] = int64(binary.LittleEndian.Uint64(data[i*8:]))
	}
	return tensor.NewInts(info.Shape, vals)
}

// Bytes returns the raw payload of the named U8 tensor.
func (f *File) Bytes(name string) ([]byte, error) {
	_, data, err := f.entry(name, U8)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (f *File) entry(name, dtype string) (headerInfo, []byte, error) {
	info, ok := f.tensors[name]
	if !ok {
		return headerInfo{}, nil, fmt.Errorf("no tensor %q", name)
	}
	if info.DType != dtype {
		return headerInfo{}, nil, fmt.Errorf("tensor %s has dtype %s, want %s", name, info.DType, dtype)
	}
	return info, f.payload[info.DataOffsets[0]:info.DataOffsets[1]], nil
}
