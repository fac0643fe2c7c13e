// Copyright 2025 Hogwild ML. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package optim provides the public API for the per-shard update rules
// applied by the sharded parameter store.
package optim

import (
	"github.com/hogwild-ml/hogwild/internal/optim"
)

// Optimizer is the update-rule contract the store applies under each shard
// lock.
type Optimizer = optim.Optimizer

// Config selects and parameterizes an update rule.
type Config = optim.Config

// SGD (Stochastic Gradient Descent)

// SGD implements SGD with optional momentum.
type SGD = optim.SGD

// SGDConfig contains configuration for the SGD update rule.
type SGDConfig = optim.SGDConfig

// NewSGD creates a new SGD update rule.
func NewSGD(config SGDConfig) *SGD {
	return optim.NewSGD(config)
}

// Adam (Adaptive Moment Estimation)

// Adam implements the Adam update rule.
type Adam = optim.Adam

// AdamConfig contains configuration for the Adam update rule.
type AdamConfig = optim.AdamConfig

// NewAdam creates a new Adam update rule.
func NewAdam(config AdamConfig) *Adam {
	return optim.NewAdam(config)
}
