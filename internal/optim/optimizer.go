// Package optim implements the per-shard parameter update rules consumed by
// the sharded parameter store.
//
// This package provides:
//   - Optimizer interface: the update-rule contract the store calls under a
//     shard lock
//   - SGD: Stochastic Gradient Descent with optional momentum
//   - Adam: Adaptive Moment Estimation
//
// The store owns one Optimizer instance per shard, so algorithm state
// (momentum velocities, Adam moments) is sharded alongside the parameters it
// belongs to and never crosses a shard-lock boundary.
package optim

import (
	"fmt"

	"github.com/hogwild-ml/hogwild/internal/tensor"
)

// Optimizer applies an update rule to one parameter shard.
//
// Update is called with the shard's parameter tensor, the staged gradient
// for that shard, and a scale factor (batch words over average batch words
// when length-normalized learning rates are enabled, 1 otherwise). The
// caller holds the shard lock for the duration of the call; Update touches
// only its own state and the two tensors it is handed.
type Optimizer interface {
	// Update applies one step to params given grads, scaling the effective
	// learning rate by scale.
	Update(params, grads *tensor.RawTensor, scale float32)

	// LR returns the current base learning rate.
	LR() float32

	// SetLR updates the base learning rate (for external schedules).
	SetLR(lr float32)
}

// Config selects and parameterizes an update rule.
type Config struct {
	Algorithm string  // "sgd" or "adam" (default: "sgd")
	LR        float32 // Base learning rate (default: algorithm-specific)
	Momentum  float32 // SGD momentum factor, range [0, 1)
	Beta1     float32 // Adam first-moment decay (default: 0.9)
	Beta2     float32 // Adam second-moment decay (default: 0.999)
	Eps       float32 // Adam denominator fuzz (default: 1e-8)
}

// New constructs a fresh Optimizer for one shard. The store calls this once
// per shard so that no state is shared between shards.
func (c Config) New() (Optimizer, error) {
	switch c.Algorithm {
	case "", "sgd":
		return NewSGD(SGDConfig{LR: c.LR, Momentum: c.Momentum}), nil
	case "adam":
		return NewAdam(AdamConfig{LR: c.LR, Betas: [2]float32{c.Beta1, c.Beta2}, Eps: c.Eps}), nil
	default:
		return nil, fmt.Errorf("unknown optimizer algorithm %q", c.Algorithm)
	}
}
