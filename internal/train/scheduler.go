package train

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

// NoopScheduler is the do-nothing policy: it counts batches and never asks
// for checkpoints or validation.
type NoopScheduler struct {
	batches *xsync.Counter
}

// NewNoopScheduler creates a do-nothing scheduler.
func NewNoopScheduler() *NoopScheduler {
	return &NoopScheduler{batches: xsync.NewCounter()}
}

// Update counts the batch.
func (s *NoopScheduler) Update(cost float32, batch Batch) {
	s.batches.Inc()
}

// Saving always reports false.
func (s *NoopScheduler) Saving() bool { return false }

// Validating always reports false.
func (s *NoopScheduler) Validating() bool { return false }

// NumberOfBatches returns the total batches counted.
func (s *NoopScheduler) NumberOfBatches() uint64 {
	return uint64(s.batches.Value())
}

// ReportingConfig parameterizes a ReportingScheduler. A frequency of zero
// disables the corresponding trigger.
type ReportingConfig struct {
	DispFreq  uint64 // Log progress every DispFreq batches.
	SaveFreq  uint64 // Raise the checkpoint flag every SaveFreq batches.
	ValidFreq uint64 // Raise the validation flag every ValidFreq batches.
	Logger    *slog.Logger
}

// ReportingScheduler is the default training policy: it aggregates cost and
// word counts, logs progress every DispFreq batches, and raises consumable
// checkpoint/validation flags every SaveFreq/ValidFreq batches.
//
// Update is called concurrently from all workers (under the trainer's
// shared lock); the counters are lock-free and the windowed cost average is
// guarded by a small internal mutex.
type ReportingScheduler struct {
	cfg ReportingConfig

	batches *xsync.Counter
	words   *xsync.Counter

	mu        sync.Mutex // guards the display window
	costSum   float64
	costCount uint64

	pendingSave  atomic.Bool
	pendingValid atomic.Bool
}

// NewReportingScheduler creates a scheduler with the given cadences.
func NewReportingScheduler(cfg ReportingConfig) *ReportingScheduler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &ReportingScheduler{
		cfg:     cfg,
		batches: xsync.NewCounter(),
		words:   xsync.NewCounter(),
	}
}

// Update aggregates one batch's cost and raises any due triggers.
func (s *ReportingScheduler) Update(cost float32, batch Batch) {
	s.batches.Inc()
	s.words.Add(int64(batch.Words()))
	n := uint64(s.batches.Value())

	s.mu.Lock()
	s.costSum += float64(cost)
	s.costCount++
	if s.cfg.DispFreq > 0 && n%s.cfg.DispFreq == 0 {
		avg := s.costSum / float64(s.costCount)
		s.costSum, s.costCount = 0, 0
		s.mu.Unlock()
		s.cfg.Logger.Info("training progress",
			"batches", n, "avg_cost", avg, "words", s.words.Value())
	} else {
		s.mu.Unlock()
	}

	if s.cfg.SaveFreq > 0 && n%s.cfg.SaveFreq == 0 {
		s.pendingSave.Store(true)
	}
	if s.cfg.ValidFreq > 0 && n%s.cfg.ValidFreq == 0 {
		s.pendingValid.Store(true)
	}
}

// Saving consumes the checkpoint flag: at most one caller observes true per
// trigger.
func (s *ReportingScheduler) Saving() bool {
	return s.pendingSave.Swap(false)
}

// Validating consumes the validation flag.
func (s *ReportingScheduler) Validating() bool {
	return s.pendingValid.Swap(false)
}

// NumberOfBatches returns the total batches reported.
func (s *ReportingScheduler) NumberOfBatches() uint64 {
	return uint64(s.batches.Value())
}
