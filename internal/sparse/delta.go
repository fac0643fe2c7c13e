// Package sparse implements lossy gradient compression with error feedback.
//
// A dense gradient is converted into a Delta (ordered indices plus values)
// by a Dropper that keeps only the entries above a magnitude threshold and
// defers the rest into a residual buffer, so dropped gradient mass is
// delayed rather than lost. The inverse direction scatters a Delta back
// into dense storage.
package sparse

import (
	"fmt"
	"sort"

	"github.com/hogwild-ml/hogwild/internal/tensor"
)

// Delta is the sparse index/value encoding of the non-dropped entries of a
// dense tensor. Indices are strictly increasing, which makes per-shard
// splitting a pair of binary searches.
//
// A Delta has a fixed capacity chosen when it is created. Overflowing it
// means the configured drop rate does not match the data and is fatal.
type Delta struct {
	indices []int32
	values  []float32
	cap     int
}

// NewDelta creates an empty delta able to hold up to capacity entries.
func NewDelta(capacity int) *Delta {
	if capacity < 0 {
		panic(fmt.Sprintf("negative sparse delta capacity %d", capacity))
	}
	return &Delta{
		indices: make([]int32, 0, capacity),
		values:  make([]float32, 0, capacity),
		cap:     capacity,
	}
}

// DefaultCapacity returns the capacity heuristic for a delta covering a
// dense tensor of the given size at the given drop rate. The 1.2 factor is
// an empirical safety margin, not a derived bound; callers that know better
// can size their deltas directly.
func DefaultCapacity(size int, dropRate float64) int {
	return int(float64(size) * 1.2 * (1.0 - dropRate))
}

// Len returns the number of entries currently held.
func (d *Delta) Len() int {
	return len(d.indices)
}

// Capacity returns the maximum number of entries the delta can hold.
func (d *Delta) Capacity() int {
	return d.cap
}

// Indices returns the index sequence. The slice is owned by the delta.
func (d *Delta) Indices() []int32 {
	return d.indices
}

// Values returns the value sequence. The slice is owned by the delta.
func (d *Delta) Values() []float32 {
	return d.values
}

// Reset empties the delta without releasing its storage.
func (d *Delta) Reset() {
	d.indices = d.indices[:0]
	d.values = d.values[:0]
}

// append adds one entry. Indices must be appended in increasing order.
func (d *Delta) append(idx int32, v float32) {
	if len(d.indices) >= d.cap {
		panic(fmt.Sprintf("sparse delta capacity %d exceeded: drop rate is mis-tuned for this gradient", d.cap))
	}
	d.indices = append(d.indices, idx)
	d.values = append(d.values, v)
}

// CopyFrom replaces d's contents with src's. Panics if src exceeds d's
// capacity.
func (d *Delta) CopyFrom(src *Delta) {
	if src.Len() > d.cap {
		panic(fmt.Sprintf("sparse delta capacity %d exceeded by copy of %d entries", d.cap, src.Len()))
	}
	d.indices = append(d.indices[:0], src.indices...)
	d.values = append(d.values[:0], src.values...)
}

// Subrange returns a view of the entries whose indices fall in [lo, hi).
// The view shares storage with d and must not outlive it.
func (d *Delta) Subrange(lo, hi int32) *Delta {
	start := sort.Search(len(d.indices), func(i int) bool { return d.indices[i] >= lo })
	end := sort.Search(len(d.indices), func(i int) bool { return d.indices[i] >= hi })
	return &Delta{
		indices: d.indices[start:end],
		values:  d.values[start:end],
		cap:     end - start,
	}
}

// ScatterAdd adds each value into dst at its index plus offset.
func (d *Delta) ScatterAdd(dst []float32, offset int) {
	for i, idx := range d.indices {
		dst[int(idx)+offset] += d.values[i]
	}
}

// ToDense zeroes dst and scatters the values into it at index plus offset.
// This is the exact inverse of the index/value encoding (not of the lossy
// drop that produced it).
func (d *Delta) ToDense(dst []float32, offset int) {
	for i := range dst {
		dst[i] = 0
	}
	for i, idx := range d.indices {
		dst[int(idx)+offset] = d.values[i]
	}
}

// Reconstruct materializes the delta as a dense tensor of the given size.
func (d *Delta) Reconstruct(size int, device tensor.Device) *tensor.RawTensor {
	t, err := tensor.NewRaw(tensor.Shape{size}, tensor.Float32, device)
	if err != nil {
		panic(fmt.Sprintf("reconstruct allocation failed: %v", err))
	}
	d.ToDense(t.AsFloat32(), 0)
	return t
}
