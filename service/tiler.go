package service

import (
	"context"
	"image"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/Pe4enIks/Real-ESRGAN/utils"
)

// Tiler 将超出显存承受范围的大图切成网格瓦片逐一推理，再无损拼接。
// 每个瓦片向四周各多取 TilePad 像素（不越过图像边界）送入网络，
// 拼接时只取对应无重叠子区域，输出区域恰好铺满整图。
//
// Modified from: https://github.com/ata4/esrgan-launcher
type Tiler struct {
	TileSize int
	TilePad  int
	Scale    int
}

func NewTiler(tileSize, tilePad, scale int) *Tiler {
	return &Tiler{TileSize: tileSize, TilePad: tilePad, Scale: scale}
}

// Process 对整图做分块推理。单个瓦片失败只记录日志并留下全零区域，
// 不中断整图处理；是否可接受由调用方根据业务决定。
func (t *Tiler) Process(ctx context.Context, img gocv.Mat, backend Backend) (gocv.Mat, error) {
	if !backend.SupportsTiling() {
		return gocv.Mat{}, errors.Wrap(ErrUnsupportedOperation,
			"the backend isn't supported for tile process")
	}

	height, width := img.Rows(), img.Cols()
	output := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0),
		height*t.Scale, width*t.Scale, img.Type())

	tilesX := (width + t.TileSize - 1) / t.TileSize
	tilesY := (height + t.TileSize - 1) / t.TileSize
	total := tilesX * tilesY

	for y := 0; y < tilesY; y++ {
		for x := 0; x < tilesX; x++ {
			// 瓦片在整图上的无填充区域
			inStartX := x * t.TileSize
			inEndX := min(inStartX+t.TileSize, width)
			inStartY := y * t.TileSize
			inEndY := min(inStartY+t.TileSize, height)

			// 加上 TilePad 的取块区域，贴边时截断到图像边界
			padStartX := max(inStartX-t.TilePad, 0)
			padEndX := min(inEndX+t.TilePad, width)
			padStartY := max(inStartY-t.TilePad, 0)
			padEndY := min(inEndY+t.TilePad, height)

			tileIdx := y*tilesX + x + 1

			outTile, err := t.inferTile(ctx, img,
				image.Rect(padStartX, padStartY, padEndX, padEndY), backend)
			if err != nil {
				utils.Logger.Error("tile inference failed, leaving region black",
					zap.Int("tile", tileIdx),
					zap.Int("total", total),
					zap.Error(errors.Wrap(ErrTileInference, err.Error())))
				continue
			}

			// 瓦片原始输出中可用的子区域：裁掉取块填充的放大像素
			cropX := (inStartX - padStartX) * t.Scale
			cropY := (inStartY - padStartY) * t.Scale
			cropW := (inEndX - inStartX) * t.Scale
			cropH := (inEndY - inStartY) * t.Scale

			src := outTile.Region(image.Rect(cropX, cropY, cropX+cropW, cropY+cropH))
			dst := output.Region(image.Rect(inStartX*t.Scale, inStartY*t.Scale,
				inEndX*t.Scale, inEndY*t.Scale))
			src.CopyTo(&dst)
			src.Close()
			dst.Close()
			outTile.Close()

			utils.Logger.Debug("tile processed",
				zap.Int("tile", tileIdx),
				zap.Int("total", total))
		}
	}

	return output, nil
}

func (t *Tiler) inferTile(ctx context.Context, img gocv.Mat, rect image.Rectangle, backend Backend) (gocv.Mat, error) {
	region := img.Region(rect)
	tile := region.Clone()
	region.Close()
	defer tile.Close()

	tensor, err := backend.Preprocess(tile)
	if err != nil {
		return gocv.Mat{}, err
	}
	result, err := backend.Infer(ctx, tensor)
	if err != nil {
		return gocv.Mat{}, err
	}
	return result.ToMat()
}
