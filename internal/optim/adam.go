package optim

import (
	"fmt"
	"math"

	"github.com/hogwild-ml/hogwild/internal/tensor"
)

// Adam implements the Adam (Adaptive Moment Estimation) update rule.
//
// Update rule:
//
//	m_t = beta1 * m_{t-1} + (1-beta1) * gradient       // First moment
//	v_t = beta2 * v_{t-1} + (1-beta2) * gradient²      // Second moment
//	m_hat = m_t / (1 - beta1^t)                        // Bias correction
//	v_hat = v_t / (1 - beta2^t)                        // Bias correction
//	param = param - lr * scale * m_hat / (sqrt(v_hat) + eps)
//
// Reference: "Adam: A Method for Stochastic Optimization" (Kingma & Ba, 2014)
//
// The timestep counter is per-instance; since the store constructs one Adam
// per shard, bias correction tracks that shard's own push count, which under
// asynchronous updates is exactly the number of optimizer steps the shard
// has seen.
type Adam struct {
	lr    float32
	beta1 float32
	beta2 float32
	eps   float32
	t     int // Timestep for bias correction
	m     []float32
	v     []float32
}

// AdamConfig holds configuration for the Adam update rule.
type AdamConfig struct {
	LR    float32    // Learning rate (default: 0.001)
	Betas [2]float32 // Moment decay rates (default: 0.9, 0.999)
	Eps   float32    // Numerical stability fuzz (default: 1e-8)
}

// NewAdam creates a new Adam update rule.
func NewAdam(config AdamConfig) *Adam {
	if config.LR == 0 {
		config.LR = 0.001
	}
	if config.Betas[0] == 0 {
		config.Betas[0] = 0.9
	}
	if config.Betas[1] == 0 {
		config.Betas[1] = 0.999
	}
	if config.Eps == 0 {
		config.Eps = 1e-8
	}
	return &Adam{
		lr:    config.LR,
		beta1: config.Betas[0],
		beta2: config.Betas[1],
		eps:   config.Eps,
	}
}

// Update applies one Adam step to the shard.
func (a *Adam) Update(params, grads *tensor.RawTensor, scale float32) {
	p := params.AsFloat32()
	g := grads.AsFloat32()
	if len(p) != len(g) {
		panic(fmt.Sprintf("adam update size mismatch: %d params vs %d grads", len(p), len(g)))
	}

	if a.m == nil {
		a.m = make([]float32, len(p))
		a.v = make([]float32, len(p))
	} else if len(a.m) != len(p) {
		panic(fmt.Sprintf("adam moment size %d does not match shard size %d", len(a.m), len(p)))
	}

	a.t++
	corr1 := 1 - float32(math.Pow(float64(a.beta1), float64(a.t)))
	corr2 := 1 - float32(math.Pow(float64(a.beta2), float64(a.t)))
	step := a.lr * scale

	for i := range p {
		a.m[i] = a.beta1*a.m[i] + (1-a.beta1)*g[i]
		a.v[i] = a.beta2*a.v[i] + (1-a.beta2)*g[i]*g[i]
		mHat := a.m[i] / corr1
		vHat := a.v[i] / corr2
		p[i] -= step * mHat / (float32(math.Sqrt(float64(vHat))) + a.eps)
	}
}

// LR returns the current learning rate.
func (a *Adam) LR() float32 {
	return a.lr
}

// SetLR updates the learning rate.
func (a *Adam) SetLR(lr float32) {
	a.lr = lr
}
