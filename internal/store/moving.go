package store

import (
	"github.com/hogwild-ml/hogwild/internal/parallel"
	"github.com/hogwild-ml/hogwild/internal/tensor"
)

// MovingAverage maintains an exponentially-decayed shadow copy of the
// parameters, one tensor per shard, updated alongside each optimizer step.
// The shadow set is what gets evaluated and checkpointed: it tracks the
// noisy training parameters with the noise smoothed out.
//
// The effective decay warms up with the batch count:
//
//	decay = min(λ, (batches+1)/(batches+10))
//
// so the average follows the model closely while it is young and stabilizes
// toward λ later. Shard entries are mutated only under that shard's lock.
type MovingAverage struct {
	decayMax float32
	avg      []*tensor.RawTensor
	seeded   []bool
}

// NewMovingAverage creates a tracker for the given shards. Tensors are
// allocated eagerly via alloc but seeded lazily from the first observed
// parameter values.
func NewMovingAverage(shards []Shard, decayMax float32, alloc tensor.Allocator) *MovingAverage {
	avg := make([]*tensor.RawTensor, len(shards))
	for i, s := range shards {
		avg[i] = alloc.Allocate(s.Size, tensor.Float32, s.Device)
	}
	return &MovingAverage{
		decayMax: decayMax,
		avg:      avg,
		seeded:   make([]bool, len(shards)),
	}
}

// Update blends the shard's current parameters into the average. The first
// call for a shard copies current verbatim (decay effectively zero).
func (m *MovingAverage) Update(shard int, current *tensor.RawTensor, batches uint64) {
	if !m.seeded[shard] {
		m.avg[shard].CopyFrom(current)
		m.seeded[shard] = true
		return
	}
	decay := min(m.decayMax, float32(batches+1)/float32(batches+10))
	tensor.LerpAssign(m.avg[shard], current, decay, parallel.Sequential())
}

// Shard returns the averaged tensor for one shard. Callers must hold the
// shard's lock while reading it.
func (m *MovingAverage) Shard(shard int) *tensor.RawTensor {
	return m.avg[shard]
}
