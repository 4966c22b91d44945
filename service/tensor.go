package service

import (
	"math"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// Tensor NCHW 排布的浮点张量，batch 恒为 1
type Tensor struct {
	Data  []float32
	Shape [4]int64 // N, C, H, W
}

func NewTensor(channels, height, width int) *Tensor {
	return &Tensor{
		Data:  make([]float32, channels*height*width),
		Shape: [4]int64{1, int64(channels), int64(height), int64(width)},
	}
}

func (t *Tensor) Channels() int { return int(t.Shape[1]) }
func (t *Tensor) Height() int   { return int(t.Shape[2]) }
func (t *Tensor) Width() int    { return int(t.Shape[3]) }

// MatToTensor 将 HWC 浮点 Mat 转为 NCHW 张量
func MatToTensor(img gocv.Mat) (*Tensor, error) {
	if img.Empty() {
		return nil, errors.New("empty mat")
	}
	h, w, c := img.Rows(), img.Cols(), img.Channels()
	t := NewTensor(c, h, w)
	plane := h * w

	channels := gocv.Split(img)
	for i := range channels {
		data, err := channels[i].DataPtrFloat32()
		if err != nil {
			for _, ch := range channels {
				ch.Close()
			}
			return nil, errors.Wrap(err, "failed to access channel data")
		}
		copy(t.Data[i*plane:(i+1)*plane], data)
		channels[i].Close()
	}
	return t, nil
}

// ToMat 将张量还原为 HWC 浮点 Mat
func (t *Tensor) ToMat() (gocv.Mat, error) {
	c, h, w := t.Channels(), t.Height(), t.Width()
	if len(t.Data) != c*h*w {
		return gocv.Mat{}, errors.Errorf("tensor data length %d doesn't match shape %v", len(t.Data), t.Shape)
	}
	plane := h * w

	channels := make([]gocv.Mat, 0, c)
	for i := 0; i < c; i++ {
		ch := gocv.NewMatWithSize(h, w, gocv.MatTypeCV32F)
		data, err := ch.DataPtrFloat32()
		if err != nil {
			ch.Close()
			for _, m := range channels {
				m.Close()
			}
			return gocv.Mat{}, errors.Wrap(err, "failed to access channel data")
		}
		copy(data, t.Data[i*plane:(i+1)*plane])
		channels = append(channels, ch)
	}

	out := gocv.NewMat()
	gocv.Merge(channels, &out)
	for _, m := range channels {
		m.Close()
	}
	return out, nil
}

// float32ToFloat16 IEEE754 binary16 编码，用于 FP16 线上协议
func float32ToFloat16(f float32) uint16 {
	bits := math.Float32bits(f)
	sign := uint16((bits >> 16) & 0x8000)
	exp := int32((bits>>23)&0xff) - 127 + 15
	mantissa := bits & 0x7fffff

	switch {
	case exp >= 0x1f:
		// 上溢与 Inf/NaN
		if mantissa != 0 && (bits>>23)&0xff == 0xff {
			return sign | 0x7e00
		}
		return sign | 0x7c00
	case exp <= 0:
		// 下溢，次正规数近似为零
		if exp < -10 {
			return sign
		}
		mantissa |= 0x800000
		shift := uint32(14 - exp)
		return sign | uint16(mantissa>>shift)
	default:
		return sign | uint16(exp)<<10 | uint16(mantissa>>13)
	}
}

func float16ToFloat32(h uint16) float32 {
	sign := uint32(h&0x8000) << 16
	exp := uint32(h>>10) & 0x1f
	mantissa := uint32(h & 0x3ff)

	switch exp {
	case 0:
		if mantissa == 0 {
			return math.Float32frombits(sign)
		}
		// 次正规数
		for mantissa&0x400 == 0 {
			mantissa <<= 1
			exp--
		}
		mantissa &= 0x3ff
		return math.Float32frombits(sign | (exp+1+127-15)<<23 | mantissa<<13)
	case 0x1f:
		return math.Float32frombits(sign | 0xff<<23 | mantissa<<13)
	default:
		return math.Float32frombits(sign | (exp+127-15)<<23 | mantissa<<13)
	}
}
