package train

import (
	"sync/atomic"

	"github.com/hogwild-ml/hogwild/internal/parallel"
	"github.com/hogwild-ml/hogwild/internal/sparse"
	"github.com/hogwild-ml/hogwild/internal/tensor"
)

// State is the worker loop's current phase, exposed for diagnostics.
type State int32

// Worker loop phases.
const (
	Idle State = iota
	Fetching
	Computing
	Accumulating
	Pushing
	Shutdown
)

// String returns the phase name.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Fetching:
		return "fetching"
	case Computing:
		return "computing"
	case Accumulating:
		return "accumulating"
	case Pushing:
		return "pushing"
	case Shutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// WorkerContext is the per-worker state threaded through the whole
// fetch/compute/push call chain. It is created once when the trainer
// starts, owned exclusively by the goroutine running the worker, and
// carries everything the loop needs: the graph handle, the gradient
// accumulation buffer, the push-side compressor and the micro-batch
// counters. Nothing in here is shared between workers.
type WorkerContext struct {
	id     int
	device tensor.Device
	graph  Graph

	acc       *tensor.RawTensor // micro-batch gradient accumulator, nil when tau == 1
	dropper   *sparse.Dropper   // push-side compressor, nil when compression is off
	delta     *sparse.Delta
	t         uint64 // micro-batch counter
	seenWords int    // cumulative word count since last push

	state atomic.Int32
}

// ID returns the worker's index.
func (w *WorkerContext) ID() int {
	return w.id
}

// Device returns the device the worker is bound to.
func (w *WorkerContext) Device() tensor.Device {
	return w.device
}

// Graph returns the worker's graph handle.
func (w *WorkerContext) Graph() Graph {
	return w.graph
}

// State returns the worker's current phase. Safe to call from any
// goroutine.
func (w *WorkerContext) State() State {
	return State(w.state.Load())
}

func (w *WorkerContext) setState(s State) {
	w.state.Store(int32(s))
}

// run processes batches until the channel closes, then flushes and enters
// Shutdown.
func (w *WorkerContext) run(t *AsyncTrainer, batches <-chan Batch) {
	for batch := range batches {
		w.process(t, batch)
	}
	w.flush(t)
	w.setState(Shutdown)
}

// process drives one batch through the fetch -> compute -> accumulate ->
// push cycle.
func (w *WorkerContext) process(t *AsyncTrainer, batch Batch) {
	tau := uint64(t.cfg.Tau)

	// Fetch only on accumulation boundaries: synchronization cost is
	// amortized over tau micro-batches, the loop is intentionally stale
	// in between. The first sparse-mode fetch is dense because there is
	// no observed version to diff against yet.
	w.setState(Fetching)
	if w.t%tau == 0 {
		if t.cfg.DropRate > 0 && w.t > 0 {
			t.store.SparseFetch(w.id, w.graph.Params())
		} else {
			t.store.FetchDense(w.id, w.graph.Params())
		}
	}

	// Forward/backward happen outside any lock; the store never sees the
	// graph and the graph never sees a shard.
	w.setState(Computing)
	if t.multinode != nil {
		t.multinode.BeginForward()
	}
	cost := w.graph.Forward()
	if t.multinode != nil {
		t.multinode.BeginBackward()
	}
	grad := w.graph.Backward()

	w.setState(Accumulating)
	words := batch.Words()
	var gradients *tensor.RawTensor
	if tau > 1 {
		tensor.AddAssign(w.acc, grad, parallel.DefaultConfig())
		gradients = w.acc
		w.seenWords += words
	} else {
		gradients = grad
		w.seenWords = words
	}
	w.t++

	if w.t%tau == 0 {
		w.push(t, gradients)
	}

	batchesTotal.Inc()
	wordsTotal.Add(words)
	costHist.Update(float64(cost))

	t.report(w, cost, batch)
	w.setState(Idle)
}

// push sends the accumulated gradient to the store and resets the
// accumulation state.
func (w *WorkerContext) push(t *AsyncTrainer, gradients *tensor.RawTensor) {
	w.setState(Pushing)
	if t.multinode != nil {
		t.multinode.BeginUpdate()
	}
	if t.cfg.DropRate > 0 {
		w.dropper.Drop(gradients, t.cfg.DropRate, w.delta)
		t.store.SparsePush(w.id, w.delta, w.seenWords)
	} else {
		t.store.PushDense(w.id, gradients, w.seenWords)
	}
	w.seenWords = 0
	if t.cfg.Tau > 1 {
		w.acc.Fill(0)
	}
	if t.multinode != nil {
		t.multinode.EndIteration()
	}
}

// flush pushes whatever is left in the accumulation buffer when the
// producer runs dry mid-accumulation.
func (w *WorkerContext) flush(t *AsyncTrainer) {
	if uint64(t.cfg.Tau) > 1 && w.t%uint64(t.cfg.Tau) != 0 && w.seenWords > 0 {
		w.push(t, w.acc)
	}
}
