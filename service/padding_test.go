package service

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func TestNewPaddingStateModScale(t *testing.T) {
	assert.Equal(t, 4, NewPaddingState(10, 1).ModScale)
	assert.Equal(t, 2, NewPaddingState(10, 2).ModScale)
	assert.Equal(t, 0, NewPaddingState(10, 3).ModScale)
	assert.Equal(t, 0, NewPaddingState(10, 4).ModScale)
}

func TestPaddingRoundTrip(t *testing.T) {
	sizes := []struct{ h, w int }{
		{17, 13},
		{12, 12},
		{25, 31},
		{40, 24},
	}

	for _, scale := range []int{1, 2, 3, 4} {
		for _, size := range sizes {
			t.Run(fmt.Sprintf("scale%d_%dx%d", scale, size.h, size.w), func(t *testing.T) {
				src := randomMat(t, size.h, size.w, 3)
				defer src.Close()

				ps := NewPaddingState(10, scale)
				padded := ps.Apply(src)
				defer padded.Close()

				// 填充只加在右下
				assert.Equal(t, size.h+ps.PrePad+ps.ModPadH, padded.Rows())
				assert.Equal(t, size.w+ps.PrePad+ps.ModPadW, padded.Cols())
				if ps.ModScale != 0 {
					assert.Zero(t, padded.Rows()%ps.ModScale)
					assert.Zero(t, padded.Cols()%ps.ModScale)
				}

				// 模拟网络放大后的输出，校验去填充恢复原始尺寸×倍数
				upscaled := gocv.NewMatWithSize(padded.Rows()*scale, padded.Cols()*scale, gocv.MatTypeCV32FC3)
				defer upscaled.Close()

				out := ps.Remove(upscaled, scale)
				defer out.Close()

				assert.Equal(t, size.h*scale, out.Rows())
				assert.Equal(t, size.w*scale, out.Cols())
			})
		}
	}
}

func TestPaddingPreservesTopLeft(t *testing.T) {
	src := randomMat(t, 16, 16, 3)
	defer src.Close()

	ps := NewPaddingState(4, 4)
	padded := ps.Apply(src)
	defer padded.Close()

	// 原点不动：左上角像素在填充前后一致
	srcData, err := src.DataPtrFloat32()
	require.NoError(t, err)
	padData, err := padded.DataPtrFloat32()
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		assert.Equal(t, srcData[i], padData[i])
	}
}

func TestPaddingZeroPrePad(t *testing.T) {
	src := randomMat(t, 15, 15, 3)
	defer src.Close()

	ps := NewPaddingState(0, 2)
	padded := ps.Apply(src)
	defer padded.Close()

	assert.Equal(t, 16, padded.Rows())
	assert.Equal(t, 16, padded.Cols())
	assert.Equal(t, 1, ps.ModPadH)
	assert.Equal(t, 1, ps.ModPadW)

	upscaled := gocv.NewMatWithSize(32, 32, gocv.MatTypeCV32FC3)
	defer upscaled.Close()
	out := ps.Remove(upscaled, 2)
	defer out.Close()
	assert.Equal(t, 30, out.Rows())
	assert.Equal(t, 30, out.Cols())
}
