package service

import (
	"encoding/gob"
	"os"

	"github.com/pkg/errors"
)

const (
	ckptKeyEMA = "params_ema"
	ckptKeyRaw = "params"
)

// Checkpoint 权重容器：顶层键区分 EMA 参数与原始参数，
// 值为参数名到展平张量的映射
type Checkpoint struct {
	Params map[string]map[string][]float32
}

// LoadCheckpoint 从 gob 文件读取权重容器
func LoadCheckpoint(path string) (*Checkpoint, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open checkpoint %s", path)
	}
	defer file.Close()

	var ckpt Checkpoint
	if err := gob.NewDecoder(file).Decode(&ckpt); err != nil {
		return nil, errors.Wrapf(err, "failed to decode checkpoint %s", path)
	}
	return &ckpt, nil
}

// SaveCheckpoint 将权重容器写入 gob 文件
func SaveCheckpoint(path string, ckpt *Checkpoint) error {
	file, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create checkpoint %s", path)
	}
	defer file.Close()

	return errors.Wrapf(gob.NewEncoder(file).Encode(ckpt), "failed to encode checkpoint %s", path)
}

// SelectParams 优先返回 EMA 参数，缺失时回退到原始参数
func (c *Checkpoint) SelectParams() (map[string][]float32, error) {
	if p, ok := c.Params[ckptKeyEMA]; ok {
		return p, nil
	}
	if p, ok := c.Params[ckptKeyRaw]; ok {
		return p, nil
	}
	return nil, errors.Wrapf(ErrModelLoad, "checkpoint contains neither %q nor %q", ckptKeyEMA, ckptKeyRaw)
}

// InterpolateParams 深度网络插值：对两组参数逐元素加权求和。
// 键集合或张量长度不一致时报错。
//
// Paper: Deep Network Interpolation for Continuous Imagery Effect Transition
func InterpolateParams(a, b map[string][]float32, weights [2]float64) (map[string][]float32, error) {
	if len(a) != len(b) {
		return nil, errors.Errorf("parameter key sets differ: %d vs %d", len(a), len(b))
	}

	merged := make(map[string][]float32, len(a))
	for name, va := range a {
		vb, ok := b[name]
		if !ok {
			return nil, errors.Errorf("parameter %q missing from second checkpoint", name)
		}
		if len(va) != len(vb) {
			return nil, errors.Errorf("parameter %q has mismatched sizes: %d vs %d", name, len(va), len(vb))
		}
		out := make([]float32, len(va))
		for i := range va {
			out[i] = float32(weights[0]*float64(va[i]) + weights[1]*float64(vb[i]))
		}
		merged[name] = out
	}
	return merged, nil
}
