package tensor

import (
	"fmt"
	"unsafe"
)

// RawTensor is the low-level tensor representation: a contiguous buffer with
// shape, dtype and device metadata. Subtensor views share the buffer, which
// is how the store addresses individual shards of the full parameter vector
// without copying.
type RawTensor struct {
	data   []byte
	shape  Shape
	stride int // element stride is always 1; kept for byte addressing
	dtype  DataType
	device Device
}

// NewRaw creates a new RawTensor with the given shape and type.
// Memory is allocated and zero-initialized.
func NewRaw(shape Shape, dtype DataType, device Device) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}

	numElements := shape.NumElements()
	return &RawTensor{
		data:   make([]byte, numElements*dtype.Size()),
		shape:  shape.Clone(),
		stride: dtype.Size(),
		dtype:  dtype,
		device: device,
	}, nil
}

// Shape returns the tensor's shape.
func (r *RawTensor) Shape() Shape {
	return r.shape
}

// DType returns the tensor's data type.
func (r *RawTensor) DType() DataType {
	return r.dtype
}

// Device returns the tensor's compute device.
func (r *RawTensor) Device() Device {
	return r.device
}

// NumElements returns the total number of elements.
func (r *RawTensor) NumElements() int {
	return r.shape.NumElements()
}

// ByteSize returns the total memory size in bytes.
func (r *RawTensor) ByteSize() int {
	return len(r.data)
}

// Data returns the raw byte buffer. Mutating it mutates the tensor.
func (r *RawTensor) Data() []byte {
	return r.data
}

// AsFloat32 interprets the data as []float32.
// Panics if the tensor's dtype is not Float32.
func (r *RawTensor) AsFloat32() []float32 {
	if r.dtype != Float32 {
		panic(fmt.Sprintf("tensor dtype is %s, not float32", r.dtype))
	}
	if len(r.data) == 0 {
		return nil
	}
	//nolint:gosec // unsafe.Slice for zero-copy access, bounds checked by NumElements()
	return unsafe.Slice((*float32)(unsafe.Pointer(&r.data[0])), r.NumElements())
}

// AsFloat64 interprets the data as []float64.
// Panics if the tensor's dtype is not Float64.
func (r *RawTensor) AsFloat64() []float64 {
	if r.dtype != Float64 {
		panic(fmt.Sprintf("tensor dtype is %s, not float64", r.dtype))
	}
	if len(r.data) == 0 {
		return nil
	}
	//nolint:gosec // unsafe.Slice for zero-copy access, bounds checked by NumElements()
	return unsafe.Slice((*float64)(unsafe.Pointer(&r.data[0])), r.NumElements())
}

// Subtensor returns a view of size elements starting at offset. The view
// shares the underlying buffer: writes through the view are visible to the
// parent. Panics if the range is out of bounds.
func (r *RawTensor) Subtensor(offset, size int) *RawTensor {
	if offset < 0 || size < 0 || (offset+size)*r.dtype.Size() > len(r.data) {
		panic(fmt.Sprintf("subtensor [%d:%d) out of range for tensor of %d elements",
			offset, offset+size, r.NumElements()))
	}
	return &RawTensor{
		data:   r.data[offset*r.dtype.Size() : (offset+size)*r.dtype.Size()],
		shape:  Shape{size},
		stride: r.stride,
		dtype:  r.dtype,
		device: r.device,
	}
}

// CopyFrom copies src's contents into r. Panics on element count or dtype
// mismatch: a size mismatch between collaborating tensors is a configuration
// fault, never a recoverable condition.
func (r *RawTensor) CopyFrom(src *RawTensor) {
	if r.dtype != src.dtype {
		panic(fmt.Sprintf("copy dtype mismatch: %s vs %s", r.dtype, src.dtype))
	}
	if r.NumElements() != src.NumElements() {
		panic(fmt.Sprintf("copy size mismatch: %d vs %d elements", r.NumElements(), src.NumElements()))
	}
	copy(r.data, src.data)
}

// Fill sets every element to v.
func (r *RawTensor) Fill(v float32) {
	for i, data := 0, r.AsFloat32(); i < len(data); i++ {
		data[i] = v
	}
}

// Clone returns a deep copy of the tensor.
func (r *RawTensor) Clone() *RawTensor {
	data := make([]byte, len(r.data))
	copy(data, r.data)
	return &RawTensor{
		data:   data,
		shape:  r.shape.Clone(),
		stride: r.stride,
		dtype:  r.dtype,
		device: r.device,
	}
}
