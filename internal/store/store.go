package store

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/VictoriaMetrics/metrics"

	"github.com/hogwild-ml/hogwild/internal/optim"
	"github.com/hogwild-ml/hogwild/internal/parallel"
	"github.com/hogwild-ml/hogwild/internal/sparse"
	"github.com/hogwild-ml/hogwild/internal/tensor"
)

var (
	pushesTotal        = metrics.NewCounter("hogwild_store_pushes_total")
	fetchesTotal       = metrics.NewCounter("hogwild_store_fetches_total")
	sparseFetchesTotal = metrics.NewCounter("hogwild_store_sparse_fetches_total")
	clampedTotal       = metrics.NewCounter("hogwild_store_clamped_sparse_fetches_total")
	stalenessHist      = metrics.NewHistogram("hogwild_store_fetch_staleness")
)

// Config configures a Store.
type Config struct {
	// TotalSize is the length of the full parameter vector.
	TotalSize int

	// Devices lists the compute devices; one shard is created per device.
	Devices []tensor.Device

	// Workers is the number of concurrent workers that will fetch and push.
	// Defaults to len(Devices).
	Workers int

	// HistorySize is the per-shard version ring depth. 0 selects the
	// default: 1 in dense mode, ceil(1.5 * worker count) in sparse mode.
	// The ring must be deeper than the staleness a reader can accumulate,
	// otherwise its reads clamp to the oldest retained slot.
	HistorySize int

	// DropRate enables gradient compression when > 0: that fraction of
	// gradient entries is deferred per exchange.
	DropRate float64

	// SparseCapacity overrides the per-shard sparse delta capacity.
	// 0 selects the size*1.2*(1-DropRate) heuristic.
	SparseCapacity int

	// MovingAverage enables the exponentially-decayed parameter shadow.
	MovingAverage bool

	// MovingDecay is the maximum decay λ for the moving average.
	// Defaults to 0.9999.
	MovingDecay float32

	// ScaleLR scales each update's learning rate by batch words over
	// AvgBatchWords (length-normalized learning rates).
	ScaleLR bool

	// AvgBatchWords is the normalization denominator for ScaleLR.
	AvgBatchWords float32

	// Optimizer selects the update rule instantiated once per shard.
	Optimizer optim.Config

	// Allocator provides tensor storage for shards, staging buffers and
	// averages. Defaults to host memory.
	Allocator tensor.Allocator

	// Batches reports the global batch count; it drives the moving-average
	// decay warm-up. Defaults to a constant zero.
	Batches func() uint64

	// Logger receives staleness-clamp warnings. Defaults to slog.Default().
	Logger *slog.Logger
}

// Store is the sharded parameter store. The full parameter vector is split
// into per-device shards, each guarded by its own mutex and carrying a ring
// of recent versions. All synchronization between workers happens here:
// fetches copy shard contents out under the shard lock, pushes run the
// shard's optimizer under the same lock, and no lock is ever held across
// shards. A fetched vector is therefore per-shard consistent but not a
// cross-shard snapshot, which is the accepted relaxation of asynchronous
// SGD.
type Store struct {
	shards []Shard
	locks  []sync.Mutex

	params [][]*tensor.RawTensor // [history slot][shard]
	grads  []*tensor.RawTensor   // per-shard gradient staging

	// Sparse mode state.
	tmp      []*tensor.RawTensor // per-shard delta scratch
	deltas   []*sparse.Delta     // per-shard sparse scratch
	droppers [][]*sparse.Dropper // [worker][shard] fetch droppers

	opts     []optim.Optimizer
	versions *VersionTracker
	avg      *MovingAverage

	totalSize     int
	workers       int
	history       int
	dropRate      float64
	scaleLR       bool
	avgBatchWords float32
	batches       func() uint64
	log           *slog.Logger
}

// New creates a store partitioned across cfg.Devices and seeds every ring
// slot of every shard from the initial parameter vector.
func New(cfg Config, initial *tensor.RawTensor) (*Store, error) {
	shards, err := Partition(cfg.TotalSize, cfg.Devices)
	if err != nil {
		return nil, err
	}
	if initial.NumElements() != cfg.TotalSize {
		return nil, fmt.Errorf("initial parameter vector has %d elements, store expects %d",
			initial.NumElements(), cfg.TotalSize)
	}

	workers := cfg.Workers
	if workers == 0 {
		workers = len(cfg.Devices)
	}
	history := cfg.HistorySize
	if history == 0 {
		history = 1
		if cfg.DropRate > 0 {
			history = (workers*3 + 1) / 2 // ceil(1.5 * workers)
		}
	}
	if history < 1 {
		return nil, fmt.Errorf("history size must be at least 1, got %d", history)
	}
	if cfg.DropRate < 0 || cfg.DropRate >= 1 {
		return nil, fmt.Errorf("drop rate %v outside [0, 1)", cfg.DropRate)
	}
	alloc := cfg.Allocator
	if alloc == nil {
		alloc = tensor.NewHostAllocator()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	batches := cfg.Batches
	if batches == nil {
		batches = func() uint64 { return 0 }
	}
	decay := cfg.MovingDecay
	if decay == 0 {
		decay = 0.9999
	}

	s := &Store{
		shards:        shards,
		locks:         make([]sync.Mutex, len(shards)),
		params:        make([][]*tensor.RawTensor, history),
		grads:         make([]*tensor.RawTensor, len(shards)),
		opts:          make([]optim.Optimizer, len(shards)),
		versions:      NewVersionTracker(workers, len(shards)),
		totalSize:     cfg.TotalSize,
		workers:       workers,
		history:       history,
		dropRate:      cfg.DropRate,
		scaleLR:       cfg.ScaleLR,
		avgBatchWords: cfg.AvgBatchWords,
		batches:       batches,
		log:           logger,
	}

	for h := 0; h < history; h++ {
		s.params[h] = make([]*tensor.RawTensor, len(shards))
		for i, sh := range shards {
			t := alloc.Allocate(sh.Size, tensor.Float32, sh.Device)
			t.CopyFrom(initial.Subtensor(sh.Offset, sh.Size))
			s.params[h][i] = t
		}
	}
	for i, sh := range shards {
		s.grads[i] = alloc.Allocate(sh.Size, tensor.Float32, sh.Device)
		opt, err := cfg.Optimizer.New()
		if err != nil {
			return nil, err
		}
		s.opts[i] = opt
	}

	if cfg.DropRate > 0 {
		s.tmp = make([]*tensor.RawTensor, len(shards))
		s.deltas = make([]*sparse.Delta, len(shards))
		for i, sh := range shards {
			s.tmp[i] = alloc.Allocate(sh.Size, tensor.Float32, sh.Device)
			capacity := cfg.SparseCapacity
			if capacity == 0 {
				capacity = sparse.DefaultCapacity(sh.Size, cfg.DropRate)
			}
			s.deltas[i] = sparse.NewDelta(capacity)
		}
		s.droppers = make([][]*sparse.Dropper, workers)
		for w := range s.droppers {
			s.droppers[w] = make([]*sparse.Dropper, len(shards))
			for i := range s.droppers[w] {
				s.droppers[w][i] = sparse.NewDropper()
			}
		}
	}

	if cfg.MovingAverage {
		s.avg = NewMovingAverage(shards, decay, alloc)
		for i := range shards {
			s.avg.Update(i, s.params[0][i], 0)
		}
	}

	return s, nil
}

// Shards returns the shard partition.
func (s *Store) Shards() []Shard {
	return s.shards
}

// TotalSize returns the length of the full parameter vector.
func (s *Store) TotalSize() int {
	return s.totalSize
}

// HistorySize returns the version ring depth.
func (s *Store) HistorySize() int {
	return s.history
}

// GlobalVersion returns a shard's current version. Diagnostic only.
func (s *Store) GlobalVersion(shard int) int64 {
	s.locks[shard].Lock()
	defer s.locks[shard].Unlock()
	return s.versions.Global(shard)
}

// Staleness returns how far behind a worker is on a shard. Diagnostic only.
func (s *Store) Staleness(worker, shard int) int64 {
	s.locks[shard].Lock()
	defer s.locks[shard].Unlock()
	return s.versions.Staleness(worker, shard)
}

// FetchDense copies each shard's latest version into dst at the shard's
// offset. Each shard is copied under its own lock, so every shard's bytes
// are one coherent version, but shards may reflect different logical times.
func (s *Store) FetchDense(workerID int, dst *tensor.RawTensor) {
	if dst.NumElements() != s.totalSize {
		panic(fmt.Sprintf("fetch destination has %d elements, store holds %d", dst.NumElements(), s.totalSize))
	}
	fetchesTotal.Inc()
	parallel.ForEach(len(s.shards), func(i int) {
		sh := s.shards[i]
		s.locks[i].Lock()
		defer s.locks[i].Unlock()

		gv := s.versions.Global(i)
		stalenessHist.Update(float64(s.versions.Staleness(workerID, i)))
		dst.Subtensor(sh.Offset, sh.Size).CopyFrom(s.params[gv%int64(s.history)][i])
		s.versions.SetLocal(workerID, i, gv)
	})
}

// PushDense stages the gradient sub-range of every shard and applies the
// shard's optimizer to it under the shard lock, rotating the version ring
// and bumping the shard version. batchWords feeds length-normalized
// learning-rate scaling when enabled.
//
// A gradient whose length does not match the store is a size mismatch
// between the model and the store and is fatal.
func (s *Store) PushDense(workerID int, grad *tensor.RawTensor, batchWords int) {
	if grad.NumElements() != s.totalSize {
		panic(fmt.Sprintf("pushed gradient has %d elements, store holds %d", grad.NumElements(), s.totalSize))
	}
	scale := s.scale(batchWords)
	parallel.ForEach(len(s.shards), func(i int) {
		sh := s.shards[i]
		s.locks[i].Lock()
		defer s.locks[i].Unlock()

		s.grads[i].CopyFrom(grad.Subtensor(sh.Offset, sh.Size))
		s.applyShardLocked(i, scale)
	})
	pushesTotal.Inc()
}

// SparseFetch brings the worker's dense parameter copy up to date with a
// compressed delta per shard: latest ring slot minus the slot the worker
// last saw, dropped through the worker's per-shard fetch dropper and
// scatter-added into dst. Shards the worker has already seen at the latest
// version are skipped entirely.
//
// A worker lagging by the full ring depth gets a delta against the oldest
// retained slot instead of the true one. That is an accepted
// staleness-bound violation: it is logged, counted, and not fatal.
//
// With fewer than two workers the delta path degenerates (a worker would
// only ever diff against its own pushes), so a dense fetch is performed
// instead.
func (s *Store) SparseFetch(workerID int, dst *tensor.RawTensor) {
	if s.workers < 2 {
		s.FetchDense(workerID, dst)
		return
	}
	if dst.NumElements() != s.totalSize {
		panic(fmt.Sprintf("fetch destination has %d elements, store holds %d", dst.NumElements(), s.totalSize))
	}
	sparseFetchesTotal.Inc()
	parallel.ForEach(len(s.shards), func(i int) {
		sh := s.shards[i]
		s.locks[i].Lock()
		defer s.locks[i].Unlock()

		gv := s.versions.Global(i)
		lv := s.versions.Local(workerID, i)
		if gv == lv {
			return
		}
		stalenessHist.Update(float64(gv - lv))

		h := int64(s.history)
		latest := gv % h
		curr := lv % h
		if gv-lv >= h {
			// Reader fell behind the retained history: clamp to the
			// oldest slot still in the ring.
			curr = (gv + 1) % h
			clampedTotal.Inc()
			s.log.Warn("sparse fetch clamped to oldest retained version",
				"worker", workerID, "shard", i, "staleness", gv-lv, "history", s.history)
		}

		tensor.SubInto(s.tmp[i], s.params[latest][i], s.params[curr][i], parallel.Sequential())
		s.droppers[workerID][i].Drop(s.tmp[i], s.dropRate, s.deltas[i])
		s.deltas[i].ScatterAdd(dst.Subtensor(sh.Offset, sh.Size).AsFloat32(), 0)
		s.versions.SetLocal(workerID, i, gv)
	})
}

// SparsePush splits a compressed gradient delta by shard boundary,
// densifies each piece into the shard's staging buffer and applies the
// shard's optimizer, exactly like PushDense past the staging step. Delta
// indices are global positions in the parameter vector.
func (s *Store) SparsePush(workerID int, delta *sparse.Delta, batchWords int) {
	scale := s.scale(batchWords)
	parallel.ForEach(len(s.shards), func(i int) {
		sh := s.shards[i]
		s.locks[i].Lock()
		defer s.locks[i].Unlock()

		sub := delta.Subrange(int32(sh.Offset), int32(sh.Offset+sh.Size))
		sub.ToDense(s.grads[i].AsFloat32(), -sh.Offset)
		s.applyShardLocked(i, scale)
	})
	pushesTotal.Inc()
}

// FetchAverage copies the moving-average parameters into dst, shard by
// shard under the shard locks. Returns an error when the moving average is
// disabled.
func (s *Store) FetchAverage(dst *tensor.RawTensor) error {
	if s.avg == nil {
		return fmt.Errorf("moving average is not enabled")
	}
	if dst.NumElements() != s.totalSize {
		panic(fmt.Sprintf("fetch destination has %d elements, store holds %d", dst.NumElements(), s.totalSize))
	}
	parallel.ForEach(len(s.shards), func(i int) {
		sh := s.shards[i]
		s.locks[i].Lock()
		defer s.locks[i].Unlock()
		dst.Subtensor(sh.Offset, sh.Size).CopyFrom(s.avg.Shard(i))
	})
	return nil
}

// applyShardLocked runs one optimizer step against the shard's staged
// gradient: rotate the ring (seed the next slot from the previous one),
// bump the version, update, and fold the result into the moving average.
// Caller holds the shard lock.
func (s *Store) applyShardLocked(i int, scale float32) {
	h := int64(s.history)
	past := s.versions.Global(i) % h
	next := s.versions.Bump(i) % h
	if next != past {
		s.params[next][i].CopyFrom(s.params[past][i])
	}
	s.opts[i].Update(s.params[next][i], s.grads[i], scale)
	if s.avg != nil {
		s.avg.Update(i, s.params[next][i], s.batches())
	}
}

func (s *Store) scale(batchWords int) float32 {
	if s.scaleLR && s.avgBatchWords > 0 {
		return float32(batchWords) / s.avgBatchWords
	}
	return 1
}
