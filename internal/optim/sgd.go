package optim

import (
	"fmt"

	"github.com/hogwild-ml/hogwild/internal/tensor"
)

// SGD implements Stochastic Gradient Descent with optional momentum.
//
// Update rule without momentum:
//
//	param = param - lr * scale * gradient
//
// Update rule with momentum:
//
//	velocity = momentum * velocity + gradient
//	param = param - lr * scale * velocity
//
// The velocity buffer is lazily sized to the shard on first use, so one SGD
// value serves any single shard without up-front size plumbing.
type SGD struct {
	lr       float32
	momentum float32
	velocity []float32
}

// SGDConfig holds configuration for the SGD update rule.
type SGDConfig struct {
	LR       float32 // Learning rate (default: 0.01)
	Momentum float32 // Momentum factor (default: 0.0, range: [0, 1))
}

// NewSGD creates a new SGD update rule.
func NewSGD(config SGDConfig) *SGD {
	if config.LR == 0 {
		config.LR = 0.01
	}
	return &SGD{
		lr:       config.LR,
		momentum: config.Momentum,
	}
}

// Update applies one SGD step to the shard.
func (s *SGD) Update(params, grads *tensor.RawTensor, scale float32) {
	p := params.AsFloat32()
	g := grads.AsFloat32()
	if len(p) != len(g) {
		panic(fmt.Sprintf("sgd update size mismatch: %d params vs %d grads", len(p), len(g)))
	}

	step := s.lr * scale
	if s.momentum == 0 {
		for i := range p {
			p[i] -= step * g[i]
		}
		return
	}

	if s.velocity == nil {
		s.velocity = make([]float32, len(p))
	} else if len(s.velocity) != len(p) {
		panic(fmt.Sprintf("sgd velocity size %d does not match shard size %d", len(s.velocity), len(p)))
	}
	for i := range p {
		s.velocity[i] = s.momentum*s.velocity[i] + g[i]
		p[i] -= step * s.velocity[i]
	}
}

// LR returns the current learning rate.
func (s *SGD) LR() float32 {
	return s.lr
}

// SetLR updates the learning rate.
func (s *SGD) SetLR(lr float32) {
	s.lr = lr
}
