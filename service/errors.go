package service

import (
	"github.com/pkg/errors"
)

// 错误类别哨兵，调用方通过 errors.Is 区分故障类型
var (
	// ErrConfiguration 后端选型或参数配置非法，构造期即失败
	ErrConfiguration = errors.New("configuration error")
	// ErrUnsupportedOperation 请求了后端不支持的操作（如对 graph/remote 后端做分块推理）
	ErrUnsupportedOperation = errors.New("unsupported operation")
	// ErrModelLoad 权重文件缺少预期的参数键
	ErrModelLoad = errors.New("model load error")
	// ErrTileInference 单个瓦片推理失败，可恢复：该瓦片区域保持全零，处理继续
	ErrTileInference = errors.New("tile inference error")
)
