package train

import (
	"fmt"
	"log/slog"

	"github.com/hogwild-ml/hogwild/internal/optim"
	"github.com/hogwild-ml/hogwild/internal/tensor"
)

// Config is the engine's configuration surface. Zero values select the
// documented defaults; Validate both checks and fills them in.
type Config struct {
	// Devices lists the compute devices. One worker and one shard are
	// created per device.
	Devices []tensor.Device

	// Tau is the micro-batch accumulation factor: a worker accumulates
	// gradient over Tau batches before synchronizing with the store.
	// Default 1.
	Tau int

	// DropRate is the compression aggressiveness in [0, 1); 0 disables
	// compression.
	DropRate float64

	// HistorySize overrides the store's version ring depth. 0 selects
	// the default (1 dense, ceil(1.5 * workers) sparse).
	HistorySize int

	// SparseCapacity overrides the sparse delta capacity heuristic.
	SparseCapacity int

	// MovingAverage enables the exponentially-decayed parameter shadow,
	// MovingDecay its maximum decay λ (default 0.9999).
	MovingAverage bool
	MovingDecay   float32

	// BatchFlexibleLR scales the learning rate of each update by the
	// batch's word count over BatchNormalWords.
	BatchFlexibleLR  bool
	BatchNormalWords float32

	// Multinode requests the multi-node extension. Without a wired
	// Multinode collaborator the request is logged once and training
	// proceeds single-node.
	Multinode bool

	// Optimizer selects and parameterizes the per-shard update rule.
	Optimizer optim.Config

	// Allocator provides tensor storage. Defaults to host memory.
	Allocator tensor.Allocator

	// Logger receives engine logs. Defaults to slog.Default().
	Logger *slog.Logger
}

// Validate checks the configuration and fills in defaults.
func (c *Config) Validate() error {
	if len(c.Devices) == 0 {
		return fmt.Errorf("at least one device is required")
	}
	if c.Tau == 0 {
		c.Tau = 1
	}
	if c.Tau < 1 {
		return fmt.Errorf("tau must be at least 1, got %d", c.Tau)
	}
	if c.DropRate < 0 || c.DropRate >= 1 {
		return fmt.Errorf("drop rate %v outside [0, 1)", c.DropRate)
	}
	if c.MovingDecay == 0 {
		c.MovingDecay = 0.9999
	}
	if c.MovingDecay < 0 || c.MovingDecay >= 1 {
		return fmt.Errorf("moving decay %v outside (0, 1)", c.MovingDecay)
	}
	if c.BatchFlexibleLR && c.BatchNormalWords <= 0 {
		return fmt.Errorf("batch-flexible-lr requires a positive batch-normal-words")
	}
	if c.Allocator == nil {
		c.Allocator = tensor.NewHostAllocator()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}
