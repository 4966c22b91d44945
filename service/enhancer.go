package service

import (
	"context"
	"image"
	"math"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/Pe4enIks/Real-ESRGAN/config"
	"github.com/Pe4enIks/Real-ESRGAN/utils"
)

// 检测到的色彩模式
const (
	ModeL    = "L"
	ModeRGB  = "RGB"
	ModeRGBA = "RGBA"
)

// alpha 通道的放大方式
const (
	AlphaNetwork = "network" // alpha 也走网络
	AlphaResize  = "resize"  // alpha 用线性插值放大
)

// Enhancer 单图超分编排器：色彩模式与位深检测、归一化、填充、
// 分块或整图推理、alpha 处理、重量化与最终缩放。
// 每次调用的中间状态（填充量、张量）都在调用栈上，同一实例可并发使用。
type Enhancer struct {
	scale    int
	tileSize int
	tilePad  int
	prePad   int
	outscale float64

	backend Backend
	tiler   *Tiler
}

func NewEnhancer(cfg *config.ModelConfig, net Network) (*Enhancer, error) {
	if cfg.Scale < 1 {
		return nil, errors.Wrapf(ErrConfiguration, "invalid scale %d", cfg.Scale)
	}

	backend, err := NewBackend(cfg, net)
	if err != nil {
		return nil, err
	}

	e := &Enhancer{
		scale:    cfg.Scale,
		tileSize: cfg.TileSize,
		tilePad:  cfg.TilePad,
		prePad:   cfg.PrePad,
		outscale: cfg.Outscale,
		backend:  backend,
	}
	if cfg.TileSize > 0 {
		e.tiler = NewTiler(cfg.TileSize, cfg.TilePad, cfg.Scale)
	}
	return e, nil
}

// Enhance 对一张解码后的图像（IMReadUnchanged 的结果）做超分，
// 返回最终图像与检测到的色彩模式
func (e *Enhancer) Enhance(ctx context.Context, img gocv.Mat, alphaMode string) (gocv.Mat, string, error) {
	if img.Empty() {
		return gocv.Mat{}, "", errors.New("empty input image")
	}
	hInput, wInput := img.Rows(), img.Cols()

	f := gocv.NewMat()
	img.ConvertTo(&f, gocv.MatTypeCV32F)
	defer f.Close()

	// 位深检测：采样值超过 256 按 16 位处理
	flat := f.Reshape(1, 1)
	_, maxVal, _, _ := gocv.MinMaxIdx(flat)
	flat.Close()

	maxRange := float32(255)
	is16bit := maxVal > 256
	if is16bit {
		maxRange = 65535
		utils.Logger.Info("input is a 16-bit image")
	}
	f.DivideFloat(maxRange)

	// 色彩模式检测，推理始终在 3 通道 RGB 上进行
	var colorMode string
	alpha := gocv.NewMat()
	defer alpha.Close()
	rgb := gocv.NewMat()
	defer rgb.Close()

	switch f.Channels() {
	case 1:
		colorMode = ModeL
		gocv.CvtColor(f, &rgb, gocv.ColorGrayToBGR)
	case 4:
		colorMode = ModeRGBA
		chans := gocv.Split(f)
		alpha.Close()
		alpha = chans[3].Clone()
		bgr := gocv.NewMat()
		gocv.Merge(chans[:3], &bgr)
		for i := range chans {
			chans[i].Close()
		}
		gocv.CvtColor(bgr, &rgb, gocv.ColorBGRToRGB)
		bgr.Close()
	default:
		colorMode = ModeRGB
		gocv.CvtColor(f, &rgb, gocv.ColorBGRToRGB)
	}

	// ---------- 主体通道 ---------- //
	upscaled, err := e.processPlane(ctx, rgb)
	if err != nil {
		return gocv.Mat{}, colorMode, err
	}

	// 恢复通道顺序（RGB -> BGR，转换码互逆）
	outImg := gocv.NewMat()
	gocv.CvtColor(upscaled, &outImg, gocv.ColorBGRToRGB)
	upscaled.Close()

	if colorMode == ModeL {
		gray := gocv.NewMat()
		gocv.CvtColor(outImg, &gray, gocv.ColorBGRToGray)
		outImg.Close()
		outImg = gray
	}

	// ---------- alpha 通道 ---------- //
	if colorMode == ModeRGBA {
		outAlpha, err := e.upscaleAlpha(ctx, alpha, alphaMode, wInput, hInput)
		if err != nil {
			outImg.Close()
			return gocv.Mat{}, colorMode, err
		}

		chans := gocv.Split(outImg)
		outImg.Close()
		merged := gocv.NewMat()
		gocv.Merge([]gocv.Mat{chans[0], chans[1], chans[2], outAlpha}, &merged)
		for i := range chans {
			chans[i].Close()
		}
		outAlpha.Close()
		outImg = merged
	}

	// ---------- 重量化 ---------- //
	final := gocv.NewMat()
	if is16bit {
		outImg.MultiplyFloat(65535)
		outImg.ConvertTo(&final, gocv.MatTypeCV16U)
	} else {
		outImg.MultiplyFloat(255)
		outImg.ConvertTo(&final, gocv.MatTypeCV8U)
	}
	outImg.Close()

	// 输出倍数与网络倍数不一致时做一次 Lanczos 缩放
	if e.outscale != 0 && e.outscale != float64(e.scale) {
		targetW := int(math.Round(float64(wInput) * e.outscale))
		targetH := int(math.Round(float64(hInput) * e.outscale))
		resized := gocv.NewMat()
		gocv.Resize(final, &resized, image.Pt(targetW, targetH), 0, 0, gocv.InterpolationLanczos4)
		final.Close()
		final = resized
	}

	return final, colorMode, nil
}

// processPlane 归一化后的 3 通道平面的完整推理路径：
// 填充 -> 分块或整图推理 -> 去填充 -> 截断到 [0,1]
func (e *Enhancer) processPlane(ctx context.Context, plane gocv.Mat) (gocv.Mat, error) {
	ps := NewPaddingState(e.prePad, e.scale)
	padded := ps.Apply(plane)
	defer padded.Close()

	var raw gocv.Mat
	if e.tiler != nil {
		out, err := e.tiler.Process(ctx, padded, e.backend)
		if err != nil {
			return gocv.Mat{}, err
		}
		raw = out
	} else {
		tensor, err := e.backend.Preprocess(padded)
		if err != nil {
			return gocv.Mat{}, err
		}
		result, err := e.backend.Infer(ctx, tensor)
		if err != nil {
			return gocv.Mat{}, err
		}
		raw, err = result.ToMat()
		if err != nil {
			return gocv.Mat{}, err
		}
	}

	trimmed := ps.Remove(raw, e.scale)
	raw.Close()
	clamp01(&trimmed)
	return trimmed, nil
}

// upscaleAlpha 按配置放大 alpha 平面：network 模式把单通道复制成
// 3 通道跑一遍完整路径再折叠回灰度，resize 模式线性插值
func (e *Enhancer) upscaleAlpha(ctx context.Context, alpha gocv.Mat, alphaMode string, wInput, hInput int) (gocv.Mat, error) {
	if alphaMode == AlphaNetwork {
		alphaRGB := gocv.NewMat()
		gocv.CvtColor(alpha, &alphaRGB, gocv.ColorGrayToBGR)

		upscaled, err := e.processPlane(ctx, alphaRGB)
		alphaRGB.Close()
		if err != nil {
			return gocv.Mat{}, err
		}

		restored := gocv.NewMat()
		gocv.CvtColor(upscaled, &restored, gocv.ColorBGRToRGB)
		upscaled.Close()

		out := gocv.NewMat()
		gocv.CvtColor(restored, &out, gocv.ColorBGRToGray)
		restored.Close()
		return out, nil
	}

	utils.Logger.Debug("resizing alpha channel without network",
		zap.Int("width", wInput*e.scale),
		zap.Int("height", hInput*e.scale))
	out := gocv.NewMat()
	gocv.Resize(alpha, &out, image.Pt(wInput*e.scale, hInput*e.scale), 0, 0, gocv.InterpolationLinear)
	return out, nil
}

// clamp01 将浮点图像逐通道截断到 [0,1]
func clamp01(m *gocv.Mat) {
	gocv.Threshold(*m, m, 1, 0, gocv.ThresholdTrunc)
	gocv.Threshold(*m, m, 0, 0, gocv.ThresholdToZero)
}

// Scale 网络的原生放大倍数
func (e *Enhancer) Scale() int { return e.scale }

func (e *Enhancer) Close() error {
	return e.backend.Close()
}
