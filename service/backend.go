package service

import (
	"context"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/Pe4enIks/Real-ESRGAN/config"
)

// 后端类型标识，只在构造期分发一次
const (
	BackendNative = "native" // 本地加速推理，加载权重容器
	BackendGraph  = "graph"  // 预编译 onnx 图
	BackendRemote = "remote" // 远程推理服务
	BackendHosted = "hosted" // 托管仓库权重，行为同 native
)

// Backend 可互换的推理后端抽象
type Backend interface {
	// Preprocess 将 HWC 浮点图像转为后端输入张量
	Preprocess(img gocv.Mat) (*Tensor, error)
	// Infer 执行一次推理，输入输出均为 NCHW 张量
	Infer(ctx context.Context, t *Tensor) (*Tensor, error)
	// SupportsTiling 是否允许逐瓦片调用
	SupportsTiling() bool
	Close() error
}

// Network 由调用方注入的网络前向实现，网络结构不在本模块职责内
type Network interface {
	LoadParams(params map[string][]float32) error
	Forward(ctx context.Context, t *Tensor) (*Tensor, error)
}

// NewBackend 按配置构造后端，未知类型在构造期即失败
func NewBackend(cfg *config.ModelConfig, net Network) (Backend, error) {
	switch cfg.Backend {
	case BackendNative:
		return NewNativeBackend(cfg, net)
	case BackendGraph:
		return NewGraphBackend(cfg)
	case BackendRemote:
		return NewRemoteBackend(cfg)
	case BackendHosted:
		return NewHostedBackend(cfg, net)
	default:
		return nil, errors.Wrapf(ErrConfiguration, "the %s backend isn't supported", cfg.Backend)
	}
}
