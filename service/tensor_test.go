package service

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatTensorRoundTrip(t *testing.T) {
	src := randomMat(t, 9, 7, 3)
	defer src.Close()

	tensor, err := MatToTensor(src)
	require.NoError(t, err)
	assert.Equal(t, [4]int64{1, 3, 9, 7}, tensor.Shape)

	back, err := tensor.ToMat()
	require.NoError(t, err)
	defer back.Close()

	assert.Equal(t, src.Rows(), back.Rows())
	assert.Equal(t, src.Cols(), back.Cols())
	assert.Equal(t, src.Channels(), back.Channels())
	assert.InDelta(t, 0, maxAbsDiff(t, src, back), 1e-6)
}

func TestMatToTensorSingleChannel(t *testing.T) {
	src := randomMat(t, 5, 6, 1)
	defer src.Close()

	tensor, err := MatToTensor(src)
	require.NoError(t, err)
	assert.Equal(t, [4]int64{1, 1, 5, 6}, tensor.Shape)
	assert.Len(t, tensor.Data, 30)
}

func TestFloat16RoundTrip(t *testing.T) {
	// binary16 可精确表示的值
	for _, v := range []float32{0, 0.5, 1.0, -2.0, 1024, -0.25} {
		assert.Equal(t, v, float16ToFloat32(float32ToFloat16(v)), "value %f", v)
	}
}

func TestFloat16Quantizes(t *testing.T) {
	// 精度损失但有界
	v := float32(0.1)
	got := float16ToFloat32(float32ToFloat16(v))
	assert.InDelta(t, v, got, 1e-3)

	// 超出 binary16 范围的值折叠为 Inf
	big := float16ToFloat32(float32ToFloat16(1e9))
	assert.True(t, math.IsInf(float64(big), 1))
}
