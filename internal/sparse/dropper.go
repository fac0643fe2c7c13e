package sparse

import (
	"fmt"
	"slices"

	"github.com/hogwild-ml/hogwild/internal/tensor"
)

// Dropper sparsifies dense tensors with error feedback. Each Dropper keeps a
// residual buffer holding the gradient mass that previous calls dropped; the
// residual is added back into the next input before thresholding, so dropped
// information is delayed, never discarded. Convergence of compressed SGD
// depends on this.
//
// A Dropper belongs to exactly one caller (one worker/shard pairing) and is
// not safe for concurrent use.
type Dropper struct {
	residual []float32
	work     []float32 // input + residual, reused across calls
	scratch  []float32 // magnitude buffer for threshold selection, reused
}

// NewDropper creates a dropper with an empty residual. The residual is sized
// on first use to match the input tensor.
func NewDropper() *Dropper {
	return &Dropper{}
}

// Drop sparsifies t into dst at the given drop rate.
//
// The residual from prior calls is added to the input, the rate-quantile of
// the combined magnitudes becomes the threshold, entries strictly above the
// threshold are emitted, and everything else (ties included) is deferred
// into the residual. rate 0 keeps every entry unchanged and leaves the
// residual untouched by construction.
//
// Emitting more entries than dst can hold is fatal: it means rate was
// mis-tuned for the delta capacity.
func (dr *Dropper) Drop(t *tensor.RawTensor, rate float64, dst *Delta) {
	if rate < 0 || rate >= 1 {
		panic(fmt.Sprintf("drop rate %v outside [0, 1)", rate))
	}
	in := t.AsFloat32()
	n := len(in)
	if dr.residual == nil {
		dr.residual = make([]float32, n)
		dr.work = make([]float32, n)
	} else if len(dr.residual) != n {
		panic(fmt.Sprintf("dropper residual size %d does not match input size %d", len(dr.residual), n))
	}

	dst.Reset()

	for i := range in {
		dr.work[i] = in[i] + dr.residual[i]
	}

	cut := int(rate * float64(n))
	if cut <= 0 {
		// Nothing to drop: emit everything, residual flushes with it.
		for i, v := range dr.work {
			dst.append(int32(i), v)
			dr.residual[i] = 0
		}
		return
	}

	threshold := dr.quantile(cut)
	for i, v := range dr.work {
		if abs32(v) > threshold {
			dst.append(int32(i), v)
			dr.residual[i] = 0
		} else {
			dr.residual[i] = v
		}
	}
}

// quantile returns the cut-th smallest magnitude of the work buffer.
func (dr *Dropper) quantile(cut int) float32 {
	if dr.scratch == nil {
		dr.scratch = make([]float32, len(dr.work))
	}
	for i, v := range dr.work {
		dr.scratch[i] = abs32(v)
	}
	slices.Sort(dr.scratch)
	return dr.scratch[cut-1]
}

// Residual returns the deferred gradient mass. Exposed for diagnostics and
// tests; the slice is owned by the dropper.
func (dr *Dropper) Residual() []float32 {
	return dr.residual
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
