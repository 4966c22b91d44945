package service

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/Pe4enIks/Real-ESRGAN/config"
	"github.com/Pe4enIks/Real-ESRGAN/utils"
)

// NativeBackend 本地推理后端：负责权重解析与张量搬运，
// 前向计算委托给注入的 Network 实现
type NativeBackend struct {
	net    Network
	half   bool
	device int
}

func NewNativeBackend(cfg *config.ModelConfig, net Network) (*NativeBackend, error) {
	if net == nil {
		return nil, errors.Wrap(ErrConfiguration, "native backend requires a network implementation")
	}

	params, err := resolveParams(cfg)
	if err != nil {
		return nil, err
	}
	if err := net.LoadParams(params); err != nil {
		return nil, errors.Wrap(err, "failed to load network parameters")
	}

	utils.Logger.Info("native backend ready",
		zap.Int("device", cfg.Device),
		zap.String("precision", cfg.Precision))

	return &NativeBackend{
		net:    net,
		half:   cfg.Precision == "half",
		device: cfg.Device,
	}, nil
}

// resolveParams 读取权重：单文件直接取参，双文件按权重对做网络插值
func resolveParams(cfg *config.ModelConfig) (map[string][]float32, error) {
	switch len(cfg.ModelPaths) {
	case 0:
		return nil, errors.Wrap(ErrConfiguration, "no model path configured")
	case 1:
		ckpt, err := LoadCheckpoint(cfg.ModelPaths[0])
		if err != nil {
			return nil, err
		}
		return ckpt.SelectParams()
	case 2:
		if len(cfg.InterpWeights) != len(cfg.ModelPaths) {
			return nil, errors.Wrap(ErrConfiguration,
				"model paths and interpolation weights should have the same length")
		}

		first, err := LoadCheckpoint(cfg.ModelPaths[0])
		if err != nil {
			return nil, err
		}
		second, err := LoadCheckpoint(cfg.ModelPaths[1])
		if err != nil {
			return nil, err
		}
		paramsA, err := first.SelectParams()
		if err != nil {
			return nil, err
		}
		paramsB, err := second.SelectParams()
		if err != nil {
			return nil, err
		}
		return InterpolateParams(paramsA, paramsB, [2]float64{cfg.InterpWeights[0], cfg.InterpWeights[1]})
	default:
		return nil, errors.Wrapf(ErrConfiguration, "expected at most 2 model paths, got %d", len(cfg.ModelPaths))
	}
}

func (b *NativeBackend) Preprocess(img gocv.Mat) (*Tensor, error) {
	return MatToTensor(img)
}

func (b *NativeBackend) Infer(ctx context.Context, t *Tensor) (*Tensor, error) {
	if b.half {
		quantizeHalf(t.Data)
	}
	out, err := b.net.Forward(ctx, t)
	if err != nil {
		return nil, err
	}
	if b.half {
		quantizeHalf(out.Data)
	}
	return out, nil
}

// quantizeHalf 就地将数据约束到 binary16 可表示的值
func quantizeHalf(data []float32) {
	for i, v := range data {
		data[i] = float16ToFloat32(float32ToFloat16(v))
	}
}

func (b *NativeBackend) SupportsTiling() bool { return true }

func (b *NativeBackend) Close() error { return nil }
