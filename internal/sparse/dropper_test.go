package sparse_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hogwild-ml/hogwild/internal/sparse"
	"github.com/hogwild-ml/hogwild/internal/tensor"
)

func mkTensor(t *testing.T, vals []float32) *tensor.RawTensor {
	t.Helper()
	r, err := tensor.NewRaw(tensor.Shape{len(vals)}, tensor.Float32, cpu0())
	require.NoError(t, err)
	copy(r.AsFloat32(), vals)
	return r
}

func TestDropper_RateZeroIsLossless(t *testing.T) {
	vals := []float32{3, -1, 0, 0.5, -7}
	dr := sparse.NewDropper()
	d := sparse.NewDelta(len(vals))

	dr.Drop(mkTensor(t, vals), 0, d)

	require.Equal(t, len(vals), d.Len(), "rate 0 keeps every entry")
	out := d.Reconstruct(len(vals), cpu0())
	assert.Equal(t, vals, out.AsFloat32())
	for i, r := range dr.Residual() {
		assert.Zerof(t, r, "residual entry %d", i)
	}
}

func TestDropper_KeepsLargeDefersSmall(t *testing.T) {
	// 1 large entry, 99 tiny ones, rate 0.9: only the large entry clears
	// the quantile threshold, the tiny ones are deferred.
	vals := make([]float32, 100)
	vals[0] = 10
	for i := 1; i < 100; i++ {
		vals[i] = 0.1
	}

	dr := sparse.NewDropper()
	d := sparse.NewDelta(sparse.DefaultCapacity(100, 0.9))
	dr.Drop(mkTensor(t, vals), 0.9, d)

	require.Equal(t, 1, d.Len())
	assert.Equal(t, []int32{0}, d.Indices())
	assert.Equal(t, []float32{10}, d.Values())

	res := dr.Residual()
	assert.Zero(t, res[0])
	for i := 1; i < 100; i++ {
		assert.InDeltaf(t, 0.1, res[i], 1e-6, "residual entry %d", i)
	}
}

// TestDropper_ErrorFeedbackConservation checks the core compression
// invariant: emitted mass plus residual always equals injected mass, so no
// gradient information is ever discarded, only delayed.
func TestDropper_ErrorFeedbackConservation(t *testing.T) {
	vals := make([]float32, 100)
	vals[0] = 10
	for i := 1; i < 100; i++ {
		vals[i] = 0.1
	}
	in := mkTensor(t, vals)

	dr := sparse.NewDropper()
	d := sparse.NewDelta(sparse.DefaultCapacity(100, 0.9))

	const calls = 10
	emitted := make([]float64, 100)
	for c := 0; c < calls; c++ {
		dr.Drop(in, 0.9, d)
		for i, idx := range d.Indices() {
			emitted[idx] += float64(d.Values()[i])
		}
	}

	for i := range vals {
		injected := float64(vals[i]) * calls
		total := emitted[i] + float64(dr.Residual()[i])
		assert.InDeltaf(t, injected, total, 1e-4, "entry %d", i)
	}
	// The dominant entry is emitted on every call.
	assert.InDelta(t, 100, emitted[0], 1e-4)
}

// TestDropper_ConstantInputConverges feeds the same tensor repeatedly and
// checks that the per-entry emission rate converges to the input: residuals
// stay bounded because deferred entries grow until they clear the shifting
// threshold and are flushed whole.
func TestDropper_ConstantInputConverges(t *testing.T) {
	vals := make([]float32, 8)
	for i := range vals {
		vals[i] = 0.5 + 0.05*float32(i) // distinct magnitudes, no threshold ties
	}
	in := mkTensor(t, vals)

	dr := sparse.NewDropper()
	d := sparse.NewDelta(len(vals))

	const calls = 50
	emitted := make([]float64, len(vals))
	for c := 0; c < calls; c++ {
		dr.Drop(in, 0.5, d)
		for i, idx := range d.Indices() {
			emitted[idx] += float64(d.Values()[i])
		}
	}

	for i := range vals {
		avg := emitted[i] / calls
		assert.InDeltaf(t, float64(vals[i]), avg, float64(vals[i])*0.15,
			"entry %d: average emission %v should track input %v", i, avg, vals[i])
	}
}

func TestDropper_CapacityOverflowIsFatal(t *testing.T) {
	dr := sparse.NewDropper()
	d := sparse.NewDelta(2)

	// rate 0 keeps all 5 entries, but the delta only holds 2.
	assert.Panics(t, func() {
		dr.Drop(mkTensor(t, []float32{1, 2, 3, 4, 5}), 0, d)
	})
}

func TestDropper_InvalidRateIsFatal(t *testing.T) {
	dr := sparse.NewDropper()
	d := sparse.NewDelta(4)

	assert.Panics(t, func() { dr.Drop(mkTensor(t, []float32{1}), 1.0, d) })
	assert.Panics(t, func() { dr.Drop(mkTensor(t, []float32{1}), -0.1, d) })
}

func TestDropper_InputSizeChangeIsFatal(t *testing.T) {
	dr := sparse.NewDropper()
	d := sparse.NewDelta(8)

	dr.Drop(mkTensor(t, []float32{1, 2, 3}), 0, d)
	assert.Panics(t, func() { dr.Drop(mkTensor(t, []float32{1, 2}), 0, d) })
}
