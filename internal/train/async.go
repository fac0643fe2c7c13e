package train

import (
	"fmt"
	"sync"

	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"

	"github.com/hogwild-ml/hogwild/internal/sparse"
	"github.com/hogwild-ml/hogwild/internal/store"
	"github.com/hogwild-ml/hogwild/internal/tensor"
)

var (
	batchesTotal = metrics.NewCounter("hogwild_train_batches_total")
	wordsTotal   = metrics.NewCounter("hogwild_train_words_total")
	costHist     = metrics.NewHistogram("hogwild_train_batch_cost")
)

// Collaborators bundles the optional external policy objects a trainer can
// be wired with. Every field may be nil.
type Collaborators struct {
	Scheduler    Scheduler
	Checkpointer Checkpointer
	Validator    Validator
	Multinode    Multinode
}

// AsyncTrainer runs asynchronous sharded SGD: one worker per configured
// device, all exchanging gradients with a shared sharded parameter store
// without any global lock. Update order across workers is deliberately
// unordered; per-shard updates are atomic under the shard's lock.
type AsyncTrainer struct {
	cfg   Config
	runID uuid.UUID

	store   *store.Store
	workers []*WorkerContext

	// schedMu plays the role of an upgradable lock around the scheduler:
	// cost reporting and trigger checks run shared, checkpoint and
	// validation runs exclusive, momentarily stalling the other workers'
	// scheduler interactions but never their compute.
	schedMu      sync.RWMutex
	scheduler    Scheduler
	checkpointer Checkpointer
	validator    Validator
	multinode    Multinode
}

// NewAsync builds one graph per device, seeds the store from the first
// graph's parameters and prepares one worker context per device.
func NewAsync(cfg Config, builder Builder, collab Collaborators) (*AsyncTrainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid trainer config: %w", err)
	}

	t := &AsyncTrainer{
		cfg:          cfg,
		runID:        uuid.New(),
		scheduler:    collab.Scheduler,
		checkpointer: collab.Checkpointer,
		validator:    collab.Validator,
		multinode:    collab.Multinode,
	}
	if t.scheduler == nil {
		t.scheduler = NewNoopScheduler()
	}
	if cfg.Multinode && t.multinode == nil {
		// Degraded mode, warned once: the extension was requested but no
		// collaborator is wired.
		cfg.Logger.Warn("multinode requested but no collaborator is available, continuing single-node")
	}

	graphs := make([]Graph, len(cfg.Devices))
	for i, device := range cfg.Devices {
		g, err := builder.Build(device)
		if err != nil {
			return nil, fmt.Errorf("building graph for %s: %w", device, err)
		}
		graphs[i] = g
	}

	totalSize := graphs[0].Params().NumElements()
	st, err := store.New(store.Config{
		TotalSize:      totalSize,
		Devices:        cfg.Devices,
		Workers:        len(cfg.Devices),
		HistorySize:    cfg.HistorySize,
		DropRate:       cfg.DropRate,
		SparseCapacity: cfg.SparseCapacity,
		MovingAverage:  cfg.MovingAverage,
		MovingDecay:    cfg.MovingDecay,
		ScaleLR:        cfg.BatchFlexibleLR,
		AvgBatchWords:  cfg.BatchNormalWords,
		Optimizer:      cfg.Optimizer,
		Allocator:      cfg.Allocator,
		Batches:        t.scheduler.NumberOfBatches,
		Logger:         cfg.Logger,
	}, graphs[0].Params())
	if err != nil {
		return nil, err
	}
	t.store = st

	t.workers = make([]*WorkerContext, len(cfg.Devices))
	for i, device := range cfg.Devices {
		w := &WorkerContext{
			id:     i,
			device: device,
			graph:  graphs[i],
		}
		if graphs[i].Params().NumElements() != totalSize {
			return nil, fmt.Errorf("graph for %s has %d parameters, expected %d",
				device, graphs[i].Params().NumElements(), totalSize)
		}
		if cfg.Tau > 1 {
			w.acc = cfg.Allocator.Allocate(totalSize, tensor.Float32, device)
		}
		if cfg.DropRate > 0 {
			capacity := cfg.SparseCapacity
			if capacity == 0 {
				capacity = sparse.DefaultCapacity(totalSize, cfg.DropRate)
			}
			w.dropper = sparse.NewDropper()
			w.delta = sparse.NewDelta(capacity)
		}
		t.workers[i] = w
	}

	return t, nil
}

// RunID returns the unique identifier of this training run.
func (t *AsyncTrainer) RunID() uuid.UUID {
	return t.runID
}

// Store exposes the trainer's parameter store for inspection.
func (t *AsyncTrainer) Store() *store.Store {
	return t.store
}

// Workers returns the worker contexts, for diagnostics.
func (t *AsyncTrainer) Workers() []*WorkerContext {
	return t.workers
}

// Run consumes batches until the channel closes. Workers pull from the
// shared channel, process each batch fully (fetch, compute, push) before
// taking the next, and flush any pending accumulation on shutdown. Run
// returns after all workers have stopped and the final checkpoint, if a
// checkpointer is wired, has been written.
func (t *AsyncTrainer) Run(batches <-chan Batch) error {
	t.cfg.Logger.Info("starting asynchronous training",
		"run", t.runID, "workers", len(t.workers), "tau", t.cfg.Tau,
		"drop_rate", t.cfg.DropRate, "history", t.store.HistorySize(),
		"moving_average", t.cfg.MovingAverage)

	var wg sync.WaitGroup
	for _, w := range t.workers {
		wg.Add(1)
		go func(w *WorkerContext) {
			defer wg.Done()
			w.run(t, batches)
		}(w)
	}
	wg.Wait()

	if t.multinode != nil {
		t.multinode.Finished()
	}

	if t.checkpointer != nil {
		if err := t.saveCheckpoint(t.workers[0], true); err != nil {
			return fmt.Errorf("final checkpoint: %w", err)
		}
	}

	t.cfg.Logger.Info("training finished",
		"run", t.runID, "batches", t.scheduler.NumberOfBatches())
	return nil
}

// report delivers the batch outcome to the scheduler and serves any due
// checkpoint or validation request. Reporting runs under the shared lock;
// save and validate upgrade to the exclusive lock so they see a quiescent
// scheduler.
func (t *AsyncTrainer) report(w *WorkerContext, cost float32, batch Batch) {
	t.schedMu.RLock()
	t.scheduler.Update(cost, batch)
	saving := t.scheduler.Saving()
	validating := t.scheduler.Validating()
	t.schedMu.RUnlock()

	if saving && t.checkpointer != nil {
		t.schedMu.Lock()
		if t.multinode == nil || t.multinode.Save() {
			if err := t.saveCheckpoint(w, false); err != nil {
				t.cfg.Logger.Error("checkpoint failed", "run", t.runID, "err", err)
			}
		}
		t.schedMu.Unlock()
	}

	if validating && t.validator != nil {
		t.schedMu.Lock()
		if t.cfg.MovingAverage {
			// Validate the smoothed parameters, not the live ones.
			if err := t.store.FetchAverage(w.graph.Params()); err == nil {
				t.validator.Validate(w.graph)
			}
		} else {
			t.validator.Validate(w.graph)
		}
		t.schedMu.Unlock()
	}
}

// saveCheckpoint hands the graph to the checkpointer, with the moving
// average fetched into it first when enabled. Caller is responsible for
// holding the exclusive scheduler lock during non-final saves.
func (t *AsyncTrainer) saveCheckpoint(w *WorkerContext, final bool) error {
	if t.cfg.MovingAverage {
		if err := t.store.FetchAverage(w.graph.Params()); err != nil {
			return err
		}
	}
	return t.checkpointer.Save(w.graph, final)
}
