package checkpoint_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hogwild-ml/hogwild/internal/checkpoint"
	"github.com/hogwild-ml/hogwild/internal/tensor"
)

func cpu0() tensor.Device {
	return tensor.Device{Kind: tensor.CPU}
}

func sequenceTensor(t *testing.T, n int) *tensor.RawTensor {
	t.Helper()
	r, err := tensor.NewRaw(tensor.Shape{n}, tensor.Float32, cpu0())
	require.NoError(t, err)
	for i, data := 0, r.AsFloat32(); i < n; i++ {
		data[i] = float32(i) * 0.5
	}
	return r
}

func TestWriteRead_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.safetensors")
	want := map[string]*tensor.RawTensor{
		"params": sequenceTensor(t, 16),
		"extra":  sequenceTensor(t, 3),
	}
	meta := map[string]string{"format": "hogwild"}

	require.NoError(t, checkpoint.Write(path, want, meta))

	got, gotMeta, err := checkpoint.Read(path, cpu0())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, meta, gotMeta)
	for name, w := range want {
		require.Containsf(t, got, name, "tensor %s", name)
		assert.Equal(t, w.AsFloat32(), got[name].AsFloat32())
		assert.Equal(t, w.Shape(), got[name].Shape())
	}
}

func TestRead_RejectsCorruptHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.safetensors")
	require.NoError(t, os.WriteFile(path, []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, 0o644))

	_, _, err := checkpoint.Read(path, cpu0())
	assert.Error(t, err)
}

type paramGraph struct {
	params *tensor.RawTensor
}

func (g *paramGraph) Params() *tensor.RawTensor   { return g.params }
func (g *paramGraph) Forward() float32            { return 0 }
func (g *paramGraph) Backward() *tensor.RawTensor { return nil }

func TestSaver_SaveAndRestore(t *testing.T) {
	dir := t.TempDir()
	saver, err := checkpoint.NewSaver(dir, nil)
	require.NoError(t, err)

	g := &paramGraph{params: sequenceTensor(t, 8)}
	require.NoError(t, saver.Save(g, false))
	require.NoError(t, saver.Save(g, true))

	// Final saves leave both the rolling and the pinned file behind.
	_, err = os.Stat(filepath.Join(dir, "params.safetensors"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "params.final.safetensors"))
	require.NoError(t, err)

	restored, err := tensor.NewRaw(tensor.Shape{8}, tensor.Float32, cpu0())
	require.NoError(t, err)
	ok, err := checkpoint.Restore(dir, restored)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, g.params.AsFloat32(), restored.AsFloat32())
}

func TestRestore_MissingCheckpointIsNotAnError(t *testing.T) {
	dst, err := tensor.NewRaw(tensor.Shape{4}, tensor.Float32, cpu0())
	require.NoError(t, err)

	ok, err := checkpoint.Restore(t.TempDir(), dst)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRestore_SizeMismatchFails(t *testing.T) {
	dir := t.TempDir()
	saver, err := checkpoint.NewSaver(dir, nil)
	require.NoError(t, err)
	require.NoError(t, saver.Save(&paramGraph{params: sequenceTensor(t, 8)}, false))

	small, err := tensor.NewRaw(tensor.Shape{4}, tensor.Float32, cpu0())
	require.NoError(t, err)
	_, err = checkpoint.Restore(dir, small)
	assert.Error(t, err)
}
