// Package checkpoint persists engine parameters in SafeTensors format, the
// interchange format used by the HuggingFace ecosystem, so checkpoints
// written mid-run are directly loadable by external tooling.
package checkpoint

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/hogwild-ml/hogwild/internal/tensor"
)

// tensorHeader describes one tensor in the SafeTensors JSON header.
type tensorHeader struct {
	DType       string   `json:"dtype"`
	Shape       []int64  `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

// maxHeaderSize rejects files whose declared header could not be a real
// checkpoint. 100 MB matches the upstream SafeTensors limit.
const maxHeaderSize = 100 * 1024 * 1024

// Write writes tensors to a SafeTensors file.
//
// Format:
//
//	[8 bytes: header_size (uint64 LE)]
//	[header_size bytes: JSON header]
//	[tensor data: raw bytes]
//
// Tensors are written in alphabetical order by name, as the format requires.
func Write(path string, tensors map[string]*tensor.RawTensor, metadata map[string]string) error {
	names := make([]string, 0, len(tensors))
	for name := range tensors {
		names = append(names, name)
	}
	sort.Strings(names)

	header := make(map[string]any, len(tensors)+1)
	if len(metadata) > 0 {
		header["__metadata__"] = metadata
	}

	var offset int64
	for _, name := range names {
		raw := tensors[name]
		dt, err := dtypeName(raw.DType())
		if err != nil {
			return fmt.Errorf("tensor %s: %w", name, err)
		}
		shape := raw.Shape()
		dims := make([]int64, len(shape))
		for i, d := range shape {
			dims[i] = int64(d)
		}
		size := int64(raw.ByteSize())
		header[name] = tensorHeader{
			DType:       dt,
			Shape:       dims,
			DataOffsets: [2]int64{offset, offset + size},
		}
		offset += size
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("marshaling header: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating checkpoint: %w", err)
	}
	defer file.Close()

	if err := binary.Write(file, binary.LittleEndian, uint64(len(headerJSON))); err != nil {
		return fmt.Errorf("writing header size: %w", err)
	}
	if _, err := file.Write(headerJSON); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for _, name := range names {
		if _, err := file.Write(tensors[name].Data()); err != nil {
			return fmt.Errorf("writing tensor %s: %w", name, err)
		}
	}
	return file.Close()
}

// Read loads every tensor from a SafeTensors file onto the given device,
// returning the tensors and the file's metadata.
func Read(path string, device tensor.Device) (map[string]*tensor.RawTensor, map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening checkpoint: %w", err)
	}
	defer file.Close()

	var headerSize uint64
	if err := binary.Read(file, binary.LittleEndian, &headerSize); err != nil {
		return nil, nil, fmt.Errorf("reading header size: %w", err)
	}
	if headerSize == 0 || headerSize > maxHeaderSize {
		return nil, nil, fmt.Errorf("implausible header size %d", headerSize)
	}

	headerJSON := make([]byte, headerSize)
	if _, err := io.ReadFull(file, headerJSON); err != nil {
		return nil, nil, fmt.Errorf("reading header: %w", err)
	}

	var rawHeader map[string]json.RawMessage
	if err := json.Unmarshal(headerJSON, &rawHeader); err != nil {
		return nil, nil, fmt.Errorf("parsing header: %w", err)
	}

	var metadata map[string]string
	if meta, ok := rawHeader["__metadata__"]; ok {
		if err := json.Unmarshal(meta, &metadata); err != nil {
			return nil, nil, fmt.Errorf("parsing metadata: %w", err)
		}
		delete(rawHeader, "__metadata__")
	}

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, nil, fmt.Errorf("reading tensor data: %w", err)
	}

	tensors := make(map[string]*tensor.RawTensor, len(rawHeader))
	for name, entry := range rawHeader {
		var th tensorHeader
		if err := json.Unmarshal(entry, &th); err != nil {
			return nil, nil, fmt.Errorf("parsing tensor %s: %w", name, err)
		}
		dt, err := dtypeFromName(th.DType)
		if err != nil {
			return nil, nil, fmt.Errorf("tensor %s: %w", name, err)
		}
		shape := make(tensor.Shape, len(th.Shape))
		for i, d := range th.Shape {
			shape[i] = int(d)
		}
		raw, err := tensor.NewRaw(shape, dt, device)
		if err != nil {
			return nil, nil, fmt.Errorf("tensor %s: %w", name, err)
		}
		lo, hi := th.DataOffsets[0], th.DataOffsets[1]
		if lo < 0 || hi < lo || hi > int64(len(data)) {
			return nil, nil, fmt.Errorf("tensor %s: offsets [%d, %d) outside %d data bytes",
				name, lo, hi, len(data))
		}
		if hi-lo != int64(raw.ByteSize()) {
			return nil, nil, fmt.Errorf("tensor %s: %d data bytes for a %d byte tensor",
				name, hi-lo, raw.ByteSize())
		}
		copy(raw.Data(), data[lo:hi])
		tensors[name] = raw
	}
	return tensors, metadata, nil
}

func dtypeName(dt tensor.DataType) (string, error) {
	switch dt {
	case tensor.Float32:
		return "F32", nil
	case tensor.Float64:
		return "F64", nil
	default:
		return "", fmt.Errorf("unsupported dtype %s", dt)
	}
}

func dtypeFromName(name string) (tensor.DataType, error) {
	switch name {
	case "F32":
		return tensor.Float32, nil
	case "F64":
		return tensor.Float64, nil
	default:
		return 0, fmt.Errorf("unsupported dtype %q", name)
	}
}
