// Copyright 2025 Hogwild ML. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package train provides the public API for the asynchronous training
// engine: the trainer, its configuration surface and the collaborator
// contracts external graph, data and policy objects implement.
//
// Example:
//
//	cfg := train.Config{
//	    Devices:  []tensor.Device{{Kind: tensor.CPU}, {Kind: tensor.CPU, Ordinal: 1}},
//	    Tau:      4,
//	    DropRate: 0.99,
//	}
//	trainer, err := train.NewAsync(cfg, myBuilder, train.Collaborators{
//	    Scheduler: train.NewReportingScheduler(train.ReportingConfig{DispFreq: 100}),
//	})
//	if err != nil {
//	    // ...
//	}
//	err = trainer.Run(myBatches)
package train

import (
	"github.com/hogwild-ml/hogwild/internal/train"
)

// Collaborator contracts.

// Graph is the external forward/backward collaborator.
type Graph = train.Graph

// Builder constructs one Graph per device.
type Builder = train.Builder

// Batch is one unit of training data.
type Batch = train.Batch

// Scheduler is the external training policy object.
type Scheduler = train.Scheduler

// Validator runs an external validation pass.
type Validator = train.Validator

// Checkpointer persists model state.
type Checkpointer = train.Checkpointer

// Multinode is the optional remote-memory-access extension point.
type Multinode = train.Multinode

// Collaborators bundles the optional external policy objects.
type Collaborators = train.Collaborators

// Engine types.

// Config is the engine's configuration surface.
type Config = train.Config

// AsyncTrainer runs asynchronous sharded SGD.
type AsyncTrainer = train.AsyncTrainer

// WorkerContext is the per-worker state; exposed for diagnostics.
type WorkerContext = train.WorkerContext

// State is a worker's current phase.
type State = train.State

// Worker phases.
const (
	Idle         State = train.Idle
	Fetching     State = train.Fetching
	Computing    State = train.Computing
	Accumulating State = train.Accumulating
	Pushing      State = train.Pushing
	Shutdown     State = train.Shutdown
)

// NewAsync creates an asynchronous trainer.
func NewAsync(cfg Config, builder Builder, collab Collaborators) (*AsyncTrainer, error) {
	return train.NewAsync(cfg, builder, collab)
}

// Schedulers.

// NoopScheduler counts batches and never triggers checkpoints.
type NoopScheduler = train.NoopScheduler

// NewNoopScheduler creates a do-nothing scheduler.
func NewNoopScheduler() *NoopScheduler {
	return train.NewNoopScheduler()
}

// ReportingConfig parameterizes a ReportingScheduler.
type ReportingConfig = train.ReportingConfig

// ReportingScheduler is the default training policy.
type ReportingScheduler = train.ReportingScheduler

// NewReportingScheduler creates a scheduler with the given cadences.
func NewReportingScheduler(cfg ReportingConfig) *ReportingScheduler {
	return train.NewReportingScheduler(cfg)
}
