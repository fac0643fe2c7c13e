package tensor

import (
	"fmt"

	"github.com/hogwild-ml/hogwild/internal/parallel"
)

// The element-wise kernels below are the only numeric operations the
// aggregation engine performs itself; everything heavier (forward, backward,
// the optimizer's per-element math) belongs to collaborators. All of them
// panic on size mismatch for the same reason CopyFrom does.

func checkSameSize(op string, a, b *RawTensor) {
	if a.NumElements() != b.NumElements() {
		panic(fmt.Sprintf("%s size mismatch: %d vs %d elements", op, a.NumElements(), b.NumElements()))
	}
}

// AddAssign computes dst += src element-wise.
func AddAssign(dst, src *RawTensor, cfg parallel.Config) {
	checkSameSize("AddAssign", dst, src)
	d, s := dst.AsFloat32(), src.AsFloat32()
	parallel.For(len(d), func(i int) {
		d[i] += s[i]
	}, cfg)
}

// AddScaledAssign computes dst += a * src element-wise.
func AddScaledAssign(dst, src *RawTensor, a float32, cfg parallel.Config) {
	checkSameSize("AddScaledAssign", dst, src)
	d, s := dst.AsFloat32(), src.AsFloat32()
	parallel.For(len(d), func(i int) {
		d[i] += a * s[i]
	}, cfg)
}

// SubInto computes dst = a - b element-wise.
func SubInto(dst, a, b *RawTensor, cfg parallel.Config) {
	checkSameSize("SubInto", dst, a)
	checkSameSize("SubInto", a, b)
	d, x, y := dst.AsFloat32(), a.AsFloat32(), b.AsFloat32()
	parallel.For(len(d), func(i int) {
		d[i] = x[i] - y[i]
	}, cfg)
}

// LerpAssign computes dst = decay*dst + (1-decay)*src element-wise.
// This is the moving-average blend.
func LerpAssign(dst, src *RawTensor, decay float32, cfg parallel.Config) {
	checkSameSize("LerpAssign", dst, src)
	d, s := dst.AsFloat32(), src.AsFloat32()
	parallel.For(len(d), func(i int) {
		d[i] = decay*d[i] + (1-decay)*s[i]
	}, cfg)
}
