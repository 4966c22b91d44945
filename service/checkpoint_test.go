package service

import (
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Pe4enIks/Real-ESRGAN/config"
)

func TestInterpolateParams(t *testing.T) {
	a := map[string][]float32{"conv.weight": {1.0}}
	b := map[string][]float32{"conv.weight": {2.0}}

	merged, err := InterpolateParams(a, b, [2]float64{0.3, 0.7})
	require.NoError(t, err)
	assert.InDelta(t, 1.7, merged["conv.weight"][0], 1e-6)
}

func TestInterpolateParamsKeyMismatch(t *testing.T) {
	a := map[string][]float32{"conv.weight": {1.0}}
	b := map[string][]float32{"conv.bias": {2.0}}

	_, err := InterpolateParams(a, b, [2]float64{0.5, 0.5})
	assert.Error(t, err)

	c := map[string][]float32{"conv.weight": {1.0, 2.0}}
	_, err = InterpolateParams(a, c, [2]float64{0.5, 0.5})
	assert.Error(t, err)
}

func TestSelectParamsPrefersEMA(t *testing.T) {
	ckpt := &Checkpoint{Params: map[string]map[string][]float32{
		"params_ema": {"weight": {1.0}},
		"params":     {"weight": {9.0}},
	}}
	params, err := ckpt.SelectParams()
	require.NoError(t, err)
	assert.Equal(t, float32(1.0), params["weight"][0])

	ckpt = &Checkpoint{Params: map[string]map[string][]float32{
		"params": {"weight": {9.0}},
	}}
	params, err = ckpt.SelectParams()
	require.NoError(t, err)
	assert.Equal(t, float32(9.0), params["weight"][0])
}

func TestSelectParamsMissingKeys(t *testing.T) {
	ckpt := &Checkpoint{Params: map[string]map[string][]float32{
		"optimizer": {"state": {0}},
	}}
	_, err := ckpt.SelectParams()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrModelLoad))
}

func TestCheckpointRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.ckpt")
	src := &Checkpoint{Params: map[string]map[string][]float32{
		"params_ema": {
			"conv.weight": {0.5, -0.25, 3.0},
			"conv.bias":   {0.1},
		},
	}}
	require.NoError(t, SaveCheckpoint(path, src))

	loaded, err := LoadCheckpoint(path)
	require.NoError(t, err)
	assert.Equal(t, src.Params, loaded.Params)
}

func TestResolveParamsInterpolation(t *testing.T) {
	dir := t.TempDir()
	pathA := filepath.Join(dir, "a.ckpt")
	pathB := filepath.Join(dir, "b.ckpt")
	writeTestCheckpoint(t, pathA, "params_ema", 1.0)
	writeTestCheckpoint(t, pathB, "params_ema", 2.0)

	cfg := &config.ModelConfig{
		ModelPaths:    []string{pathA, pathB},
		InterpWeights: []float64{0.3, 0.7},
	}
	params, err := resolveParams(cfg)
	require.NoError(t, err)
	assert.InDelta(t, 1.7, params["weight"][0], 1e-6)
}

func TestResolveParamsWeightCountMismatch(t *testing.T) {
	dir := t.TempDir()
	pathA := filepath.Join(dir, "a.ckpt")
	pathB := filepath.Join(dir, "b.ckpt")
	writeTestCheckpoint(t, pathA, "params_ema", 1.0)
	writeTestCheckpoint(t, pathB, "params_ema", 2.0)

	cfg := &config.ModelConfig{
		ModelPaths:    []string{pathA, pathB},
		InterpWeights: []float64{1.0},
	}
	_, err := resolveParams(cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfiguration))
}

func TestNewBackendUnknownKind(t *testing.T) {
	_, err := NewBackend(&config.ModelConfig{Backend: "tensorrt"}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfiguration))
}

func TestNativeBackendRequiresNetwork(t *testing.T) {
	cfg := testModelConfig(t, 4, 0)
	_, err := NewNativeBackend(cfg, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfiguration))
}
