package service

import (
	"context"
	"fmt"
	"image"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func directUpscale(t *testing.T, img gocv.Mat, backend Backend) gocv.Mat {
	t.Helper()
	tensor, err := backend.Preprocess(img)
	require.NoError(t, err)
	out, err := backend.Infer(context.Background(), tensor)
	require.NoError(t, err)
	mat, err := out.ToMat()
	require.NoError(t, err)
	return mat
}

func TestTilerMatchesDirect(t *testing.T) {
	src := randomMat(t, 13, 17, 3)
	defer src.Close()

	for _, tileSize := range []int{4, 8, 16} {
		for _, tilePad := range []int{0, 2, 10} {
			t.Run(fmt.Sprintf("tile%d_pad%d", tileSize, tilePad), func(t *testing.T) {
				backend := &nearestBackend{scale: 4}
				tiler := NewTiler(tileSize, tilePad, 4)

				tiled, err := tiler.Process(context.Background(), src, backend)
				require.NoError(t, err)
				defer tiled.Close()

				direct := directUpscale(t, src, backend)
				defer direct.Close()

				assert.Equal(t, 52, tiled.Rows())
				assert.Equal(t, 68, tiled.Cols())
				assert.InDelta(t, 0, maxAbsDiff(t, tiled, direct), 1e-6)
			})
		}
	}
}

func TestTilerRefusesNonTilingBackend(t *testing.T) {
	src := randomMat(t, 13, 17, 3)
	defer src.Close()

	backend := &rigidBackend{nearestBackend{scale: 4}}
	tiler := NewTiler(8, 2, 4)

	_, err := tiler.Process(context.Background(), src, backend)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedOperation))
	// 失败发生在任何瓦片推理之前
	assert.Zero(t, backend.inferCalls)
}

func TestTilerFailedTileLeavesZeros(t *testing.T) {
	src := randomMat(t, 13, 17, 3)
	defer src.Close()

	// 17x13，瓦片边长8 -> 3x2 网格，让第2个瓦片失败
	backend := &nearestBackend{scale: 4, failOn: map[int]bool{2: true}}
	tiler := NewTiler(8, 2, 4)

	tiled, err := tiler.Process(context.Background(), src, backend)
	require.NoError(t, err)
	defer tiled.Close()

	// 失败瓦片的输出区域全零。ROI 视图不连续，reshape 前先 Clone
	failedRegion := tiled.Region(image.Rect(8*4, 0, 16*4, 8*4))
	failedTile := failedRegion.Clone()
	failedRegion.Close()
	flat := failedTile.Reshape(1, 1)
	_, maxVal, _, _ := gocv.MinMaxIdx(flat)
	flat.Close()
	failedTile.Close()
	assert.Zero(t, maxVal)

	// 其余瓦片不受影响
	okBackend := &nearestBackend{scale: 4}
	direct := directUpscale(t, src, okBackend)
	defer direct.Close()

	firstTiled := tiled.Region(image.Rect(0, 0, 8*4, 8*4))
	firstDirect := direct.Region(image.Rect(0, 0, 8*4, 8*4))
	assert.InDelta(t, 0, maxAbsDiff(t, firstTiled, firstDirect), 1e-6)
	firstTiled.Close()
	firstDirect.Close()
}

func TestTilerOutputCoversImageExactly(t *testing.T) {
	// 瓦片尺寸不整除图像尺寸时，边缘瓦片收窄，输出无缝隙
	src := randomMat(t, 19, 23, 3)
	defer src.Close()

	backend := &nearestBackend{scale: 2}
	tiler := NewTiler(7, 3, 2)

	tiled, err := tiler.Process(context.Background(), src, backend)
	require.NoError(t, err)
	defer tiled.Close()

	direct := directUpscale(t, src, backend)
	defer direct.Close()

	assert.Equal(t, 38, tiled.Rows())
	assert.Equal(t, 46, tiled.Cols())
	assert.InDelta(t, 0, maxAbsDiff(t, tiled, direct), 1e-6)
}
