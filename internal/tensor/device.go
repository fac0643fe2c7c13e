package tensor

import "fmt"

// DeviceKind identifies the class of compute device a tensor lives on.
type DeviceKind int

// Supported device kinds. The engine itself only orchestrates placement;
// kernels for non-CPU devices are supplied by the backend that owns them.
const (
	CPU DeviceKind = iota
	CUDA
	WebGPU
)

// String returns a human-readable device kind name.
func (k DeviceKind) String() string {
	switch k {
	case CPU:
		return "cpu"
	case CUDA:
		return "cuda"
	case WebGPU:
		return "webgpu"
	default:
		return "unknown"
	}
}

// Device identifies a single compute device: a kind plus an ordinal
// (e.g. cuda:0, cuda:1). Workers and shards are bound to a Device at
// configuration time; there is no compile-time device selection.
type Device struct {
	Kind    DeviceKind
	Ordinal int
}

// String returns the conventional kind:ordinal device name.
func (d Device) String() string {
	return fmt.Sprintf("%s:%d", d.Kind, d.Ordinal)
}

// Allocator creates tensors on a particular class of device. It is the
// strategy object that replaces compile-time backend selection: the store
// and the worker loop are written once against this interface.
//
// Allocation failure is fatal. An engine that cannot obtain memory for a
// parameter shard cannot make progress, so implementations panic rather
// than return an error.
type Allocator interface {
	// Allocate returns a zero-initialized tensor of the given size.
	Allocate(size int, dtype DataType, device Device) *RawTensor
}

// HostAllocator allocates tensors in host memory. It serves CPU devices and
// acts as the staging allocator for devices whose kernels live elsewhere.
type HostAllocator struct{}

// NewHostAllocator creates a host-memory allocator.
func NewHostAllocator() *HostAllocator {
	return &HostAllocator{}
}

// Allocate returns a zero-initialized host tensor.
func (a *HostAllocator) Allocate(size int, dtype DataType, device Device) *RawTensor {
	t, err := NewRaw(Shape{size}, dtype, device)
	if err != nil {
		panic(fmt.Sprintf("tensor allocation of %d x %s on %s failed: %v", size, dtype, device, err))
	}
	return t
}
