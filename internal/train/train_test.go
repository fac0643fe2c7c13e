package train_test

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hogwild-ml/hogwild/internal/optim"
	"github.com/hogwild-ml/hogwild/internal/tensor"
	"github.com/hogwild-ml/hogwild/internal/train"
)

// fakeGraph reports a constant cost and a constant gradient, which makes the
// expected parameter trajectory exact: with SGD at lr 1, every push of a
// ones-gradient moves every parameter by -1.
type fakeGraph struct {
	params *tensor.RawTensor
	grad   *tensor.RawTensor
	cost   float32

	forwards  atomic.Int64
	backwards atomic.Int64
}

func (g *fakeGraph) Params() *tensor.RawTensor { return g.params }

func (g *fakeGraph) Forward() float32 {
	g.forwards.Add(1)
	return g.cost
}

func (g *fakeGraph) Backward() *tensor.RawTensor {
	g.backwards.Add(1)
	return g.grad
}

type fakeBuilder struct {
	size    func(tensor.Device) int
	gradVal float32
	graphs  []*fakeGraph
}

func (b *fakeBuilder) Build(device tensor.Device) (train.Graph, error) {
	n := b.size(device)
	params, err := tensor.NewRaw(tensor.Shape{n}, tensor.Float32, device)
	if err != nil {
		return nil, err
	}
	grad, err := tensor.NewRaw(tensor.Shape{n}, tensor.Float32, device)
	if err != nil {
		return nil, err
	}
	grad.Fill(b.gradVal)
	g := &fakeGraph{params: params, grad: grad, cost: 1}
	b.graphs = append(b.graphs, g)
	return g, nil
}

func onesBuilder(size int) *fakeBuilder {
	return &fakeBuilder{size: func(tensor.Device) int { return size }, gradVal: 1}
}

type wordBatch int

func (b wordBatch) Words() int { return int(b) }

func feed(n int, words int) <-chan train.Batch {
	ch := make(chan train.Batch, n)
	for i := 0; i < n; i++ {
		ch <- wordBatch(words)
	}
	close(ch)
	return ch
}

type fakeCheckpointer struct {
	saves  atomic.Int64
	finals atomic.Int64
}

func (c *fakeCheckpointer) Save(g train.Graph, final bool) error {
	c.saves.Add(1)
	if final {
		c.finals.Add(1)
	}
	return nil
}

type fakeValidator struct {
	runs atomic.Int64
}

func (v *fakeValidator) Validate(g train.Graph) { v.runs.Add(1) }

type fakeMultinode struct {
	forward, backward, update, end atomic.Int64
	finished                       atomic.Int64
	saveOK                         bool
}

func (m *fakeMultinode) BeginForward()  { m.forward.Add(1) }
func (m *fakeMultinode) BeginBackward() { m.backward.Add(1) }
func (m *fakeMultinode) BeginUpdate()   { m.update.Add(1) }
func (m *fakeMultinode) EndIteration()  { m.end.Add(1) }
func (m *fakeMultinode) Save() bool     { return m.saveOK }
func (m *fakeMultinode) Finished()      { m.finished.Add(1) }

func baseConfig(devices int) train.Config {
	devs := make([]tensor.Device, devices)
	for i := range devs {
		devs[i] = tensor.Device{Kind: tensor.CPU, Ordinal: i}
	}
	return train.Config{
		Devices:   devs,
		Optimizer: optim.Config{Algorithm: "sgd", LR: 1},
	}
}

func storeParams(t *testing.T, tr *train.AsyncTrainer) []float32 {
	t.Helper()
	dst, err := tensor.NewRaw(tensor.Shape{tr.Store().TotalSize()}, tensor.Float32, tensor.Device{Kind: tensor.CPU})
	require.NoError(t, err)
	tr.Store().FetchDense(0, dst)
	return dst.AsFloat32()
}

func TestAsync_EveryBatchUpdatesTheStore(t *testing.T) {
	builder := onesBuilder(8)
	tr, err := train.NewAsync(baseConfig(1), builder, train.Collaborators{})
	require.NoError(t, err)

	require.NoError(t, tr.Run(feed(5, 10)))

	for i, v := range storeParams(t, tr) {
		assert.Equalf(t, float32(-5), v, "param %d", i)
	}
	assert.EqualValues(t, 5, tr.Store().GlobalVersion(0))
	assert.EqualValues(t, 5, builder.graphs[0].forwards.Load())
	assert.EqualValues(t, 5, builder.graphs[0].backwards.Load())
	assert.Equal(t, train.Shutdown, tr.Workers()[0].State())
}

func TestAsync_TauAccumulatesBeforePush(t *testing.T) {
	cfg := baseConfig(1)
	cfg.Tau = 2
	builder := onesBuilder(4)
	tr, err := train.NewAsync(cfg, builder, train.Collaborators{})
	require.NoError(t, err)

	require.NoError(t, tr.Run(feed(4, 10)))

	// 4 batches at tau 2: two pushes of an accumulated 2x gradient.
	assert.EqualValues(t, 2, tr.Store().GlobalVersion(0))
	for i, v := range storeParams(t, tr) {
		assert.Equalf(t, float32(-4), v, "param %d", i)
	}
}

func TestAsync_FlushesPartialAccumulationOnClose(t *testing.T) {
	cfg := baseConfig(1)
	cfg.Tau = 2
	tr, err := train.NewAsync(cfg, onesBuilder(4), train.Collaborators{})
	require.NoError(t, err)

	require.NoError(t, tr.Run(feed(3, 10)))

	// One full push plus the flushed odd batch.
	assert.EqualValues(t, 2, tr.Store().GlobalVersion(0))
	for i, v := range storeParams(t, tr) {
		assert.Equalf(t, float32(-3), v, "param %d", i)
	}
}

func TestAsync_ConcurrentWorkersLoseNoUpdates(t *testing.T) {
	tr, err := train.NewAsync(baseConfig(2), onesBuilder(10), train.Collaborators{})
	require.NoError(t, err)

	require.NoError(t, tr.Run(feed(20, 10)))

	// Each update is an additive -1 step, so the end state is independent
	// of worker interleaving.
	for i, v := range storeParams(t, tr) {
		assert.Equalf(t, float32(-20), v, "param %d", i)
	}
}

func TestAsync_CompressedExchange(t *testing.T) {
	cfg := baseConfig(1)
	cfg.DropRate = 0.1 // quantile cut rounds to zero at this size: lossless
	cfg.SparseCapacity = 8
	tr, err := train.NewAsync(cfg, onesBuilder(8), train.Collaborators{})
	require.NoError(t, err)

	require.NoError(t, tr.Run(feed(3, 10)))

	for i, v := range storeParams(t, tr) {
		assert.Equalf(t, float32(-3), v, "param %d", i)
	}
}

func TestAsync_BatchFlexibleLR(t *testing.T) {
	cfg := baseConfig(1)
	cfg.BatchFlexibleLR = true
	cfg.BatchNormalWords = 10
	tr, err := train.NewAsync(cfg, onesBuilder(4), train.Collaborators{})
	require.NoError(t, err)

	// 20 words against a norm of 10 doubles the step.
	require.NoError(t, tr.Run(feed(1, 20)))
	for _, v := range storeParams(t, tr) {
		assert.Equal(t, float32(-2), v)
	}
}

func TestAsync_SchedulerDrivesSaveAndValidate(t *testing.T) {
	cfg := baseConfig(1)
	sched := train.NewReportingScheduler(train.ReportingConfig{SaveFreq: 2, ValidFreq: 3})
	ckpt := &fakeCheckpointer{}
	valid := &fakeValidator{}
	tr, err := train.NewAsync(cfg, onesBuilder(4), train.Collaborators{
		Scheduler:    sched,
		Checkpointer: ckpt,
		Validator:    valid,
	})
	require.NoError(t, err)

	require.NoError(t, tr.Run(feed(6, 10)))

	assert.EqualValues(t, 6, sched.NumberOfBatches())
	// Periodic saves at batches 2, 4 and 6, plus the final one.
	assert.EqualValues(t, 4, ckpt.saves.Load())
	assert.EqualValues(t, 1, ckpt.finals.Load())
	// Validation at batches 3 and 6.
	assert.EqualValues(t, 2, valid.runs.Load())
}

func TestAsync_MultinodeBracketsEveryIteration(t *testing.T) {
	cfg := baseConfig(1)
	cfg.Multinode = true
	mn := &fakeMultinode{saveOK: true}
	tr, err := train.NewAsync(cfg, onesBuilder(4), train.Collaborators{Multinode: mn})
	require.NoError(t, err)

	require.NoError(t, tr.Run(feed(5, 10)))

	assert.EqualValues(t, 5, mn.forward.Load())
	assert.EqualValues(t, 5, mn.backward.Load())
	assert.EqualValues(t, 5, mn.update.Load())
	assert.EqualValues(t, 5, mn.end.Load())
	assert.EqualValues(t, 1, mn.finished.Load())
}

func TestAsync_MultinodeVetoesPeriodicSaves(t *testing.T) {
	cfg := baseConfig(1)
	sched := train.NewReportingScheduler(train.ReportingConfig{SaveFreq: 1})
	ckpt := &fakeCheckpointer{}
	mn := &fakeMultinode{saveOK: false}
	tr, err := train.NewAsync(cfg, onesBuilder(4), train.Collaborators{
		Scheduler:    sched,
		Checkpointer: ckpt,
		Multinode:    mn,
	})
	require.NoError(t, err)

	require.NoError(t, tr.Run(feed(4, 10)))

	// Every periodic save was vetoed by the remote side; only the final
	// checkpoint is written.
	assert.EqualValues(t, 1, ckpt.saves.Load())
	assert.EqualValues(t, 1, ckpt.finals.Load())
}

func TestAsync_ValidatesMovingAverageWhenEnabled(t *testing.T) {
	cfg := baseConfig(1)
	cfg.MovingAverage = true
	sched := train.NewReportingScheduler(train.ReportingConfig{ValidFreq: 1})
	valid := &fakeValidator{}
	builder := onesBuilder(4)
	tr, err := train.NewAsync(cfg, builder, train.Collaborators{
		Scheduler: sched,
		Validator: valid,
	})
	require.NoError(t, err)

	require.NoError(t, tr.Run(feed(1, 10)))
	require.EqualValues(t, 1, valid.runs.Load())

	// The validated parameters are the smoothed shadow (decay 0.1 on the
	// first real update), not the live -1 values.
	assert.InDelta(t, -0.9, builder.graphs[0].params.AsFloat32()[0], 1e-6)
}

func TestAsync_GraphSizeMismatchFails(t *testing.T) {
	builder := &fakeBuilder{
		size:    func(d tensor.Device) int { return 4 + d.Ordinal },
		gradVal: 1,
	}
	_, err := train.NewAsync(baseConfig(2), builder, train.Collaborators{})
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	cfg := baseConfig(1)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1, cfg.Tau)
	assert.InDelta(t, 0.9999, cfg.MovingDecay, 1e-9)
	assert.NotNil(t, cfg.Allocator)
	assert.NotNil(t, cfg.Logger)

	bad := baseConfig(1)
	bad.Devices = nil
	assert.Error(t, bad.Validate())

	bad = baseConfig(1)
	bad.Tau = -1
	assert.Error(t, bad.Validate())

	bad = baseConfig(1)
	bad.DropRate = 1.0
	assert.Error(t, bad.Validate())

	bad = baseConfig(1)
	bad.BatchFlexibleLR = true
	assert.Error(t, bad.Validate(), "flexible lr without a word norm")
}

func TestState_String(t *testing.T) {
	names := map[train.State]string{
		train.Idle:         "idle",
		train.Fetching:     "fetching",
		train.Computing:    "computing",
		train.Accumulating: "accumulating",
		train.Pushing:      "pushing",
		train.Shutdown:     "shutdown",
		train.State(99):    "unknown",
	}
	for state, want := range names {
		assert.Equal(t, want, state.String())
	}
}

func TestNoopScheduler(t *testing.T) {
	s := train.NewNoopScheduler()
	for i := 0; i < 3; i++ {
		s.Update(1, wordBatch(5))
	}
	assert.EqualValues(t, 3, s.NumberOfBatches())
	assert.False(t, s.Saving())
	assert.False(t, s.Validating())
}

func TestReportingScheduler_FlagsAreConsumed(t *testing.T) {
	s := train.NewReportingScheduler(train.ReportingConfig{SaveFreq: 2, ValidFreq: 4})

	s.Update(1, wordBatch(5))
	assert.False(t, s.Saving())

	s.Update(1, wordBatch(5))
	assert.True(t, s.Saving(), "trigger raised at the save frequency")
	assert.False(t, s.Saving(), "a trigger fires exactly once")
	assert.False(t, s.Validating())

	s.Update(1, wordBatch(5))
	s.Update(1, wordBatch(5))
	assert.True(t, s.Saving())
	assert.True(t, s.Validating())
	assert.False(t, s.Validating())

	assert.EqualValues(t, 4, s.NumberOfBatches())
}
