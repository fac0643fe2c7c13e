// Package tensor provides the flat tensor types the aggregation engine is
// built on: contiguous numeric buffers with a shape, a data type and a home
// device. Parameters, gradients and moving averages are all RawTensors.
package tensor

// DataType represents runtime type information for tensors.
type DataType int

// Supported data types. The engine aggregates in float32; float64 exists for
// accumulator-style collaborators.
const (
	Float32 DataType = iota
	Float64
)

// Size returns the byte size of the data type.
func (dt DataType) Size() int {
	switch dt {
	case Float32:
		return 4
	case Float64:
		return 8
	default:
		panic("unknown data type")
	}
}

// String returns a human-readable name for the data type.
func (dt DataType) String() string {
	switch dt {
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	default:
		return "unknown"
	}
}
