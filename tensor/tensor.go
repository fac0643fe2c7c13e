// Copyright 2025 Hogwild ML. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the public API for the engine's tensor substrate:
// flat numeric buffers with shape, dtype and device metadata, plus the
// device/allocator abstraction graph collaborators plug into.
package tensor

import (
	"github.com/hogwild-ml/hogwild/internal/tensor"
)

// Type aliases for public API

// DataType represents the underlying data type of a tensor.
type DataType = tensor.DataType

// Data type constants.
const (
	Float32 DataType = tensor.Float32
	Float64 DataType = tensor.Float64
)

// DeviceKind identifies the class of compute device.
type DeviceKind = tensor.DeviceKind

// Device kind constants.
const (
	CPU    DeviceKind = tensor.CPU
	CUDA   DeviceKind = tensor.CUDA
	WebGPU DeviceKind = tensor.WebGPU
)

// Device identifies a single compute device (kind plus ordinal).
type Device = tensor.Device

// Shape represents tensor dimensions.
type Shape = tensor.Shape

// RawTensor is the low-level tensor representation.
type RawTensor = tensor.RawTensor

// Allocator creates tensors on a particular class of device.
type Allocator = tensor.Allocator

// HostAllocator allocates tensors in host memory.
type HostAllocator = tensor.HostAllocator

// NewRaw creates a new RawTensor with the given shape and type.
func NewRaw(shape Shape, dtype DataType, device Device) (*RawTensor, error) {
	return tensor.NewRaw(shape, dtype, device)
}

// NewHostAllocator creates a host-memory allocator.
func NewHostAllocator() *HostAllocator {
	return tensor.NewHostAllocator()
}
