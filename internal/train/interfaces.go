// Package train implements the asynchronous worker execution loop that
// drives the sharded parameter store: a fixed pool of workers, one per
// configured device, each pulling batches from an external producer,
// delegating forward/backward computation to an external graph collaborator,
// accumulating gradients over tau micro-batches and exchanging them with the
// store, densely or compressed.
package train

import (
	"github.com/hogwild-ml/hogwild/internal/tensor"
)

// Graph is the external forward/backward collaborator. One Graph instance
// exists per worker; distinct instances must be safe to use from distinct
// goroutines, but a single instance is never used concurrently.
type Graph interface {
	// Params returns the worker's dense parameter copy. The store fetches
	// into and the checkpoint path reads from this tensor.
	Params() *tensor.RawTensor

	// Forward evaluates the graph and returns the scalar cost.
	Forward() float32

	// Backward computes and returns the gradient of the cost with respect
	// to Params. The returned tensor has the same length as Params and is
	// owned by the graph; the caller copies or accumulates out of it
	// before the next Forward.
	Backward() *tensor.RawTensor
}

// Builder constructs one Graph per device at trainer start-up.
type Builder interface {
	Build(device tensor.Device) (Graph, error)
}

// Batch is one unit of training data. The engine does not look inside a
// batch; it only needs the token/word count for length-normalized
// learning-rate scaling.
type Batch interface {
	Words() int
}

// Scheduler is the external training policy object. Update is called after
// every batch under a shared lock, so implementations must be safe for
// concurrent calls; the query methods are cheap reads.
type Scheduler interface {
	// Update reports one finished batch and its cost.
	Update(cost float32, batch Batch)

	// Saving reports whether a checkpoint is due. The flag is consumed:
	// at most one caller observes true per trigger.
	Saving() bool

	// Validating reports whether a validation run is due. Consumed like
	// Saving.
	Validating() bool

	// NumberOfBatches returns the total number of batches seen so far.
	NumberOfBatches() uint64
}

// Validator runs an external validation pass over a graph. It is invoked
// under the exclusive scheduler lock, so it never races with cost
// reporting.
type Validator interface {
	Validate(g Graph)
}

// Checkpointer persists model state. Invoked under the exclusive scheduler
// lock with the graph whose Params hold the parameters to save (the moving
// average when enabled, the live parameters otherwise).
type Checkpointer interface {
	Save(g Graph, final bool) error
}

// Multinode is the optional remote-memory-access extension point for
// multi-node training. The worker loop brackets its phases with these
// calls when a collaborator is wired; its absence is a valid configuration,
// not a special case.
type Multinode interface {
	BeginForward()
	BeginBackward()
	BeginUpdate()
	EndIteration()

	// Save reports whether this node should write checkpoints.
	Save() bool

	// Finished signals the end of training to the remote side.
	Finished()
}
