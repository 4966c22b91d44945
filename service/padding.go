package service

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// PaddingState 记录单次处理为一张图加的边界像素。
// 先在右下方向反射填充 PrePad 抑制卷积边缘伪影，再按放大倍数推导的对齐因子
// 补齐到整除尺寸。后处理按相反的语义顺序裁掉这些像素，原点保持在左上角。
type PaddingState struct {
	PrePad   int
	ModScale int // 0 表示无对齐要求
	ModPadH  int
	ModPadW  int
}

// NewPaddingState 按放大倍数推导对齐因子：2 倍网络要求整除 2，1 倍网络要求整除 4
func NewPaddingState(prePad, scale int) *PaddingState {
	ps := &PaddingState{PrePad: prePad}
	switch scale {
	case 2:
		ps.ModScale = 2
	case 1:
		ps.ModScale = 4
	}
	return ps
}

// Apply 对图像做反射填充并记录补齐像素数，返回新 Mat
func (p *PaddingState) Apply(img gocv.Mat) gocv.Mat {
	var out gocv.Mat
	if p.PrePad != 0 {
		out = gocv.NewMat()
		gocv.CopyMakeBorder(img, &out, 0, p.PrePad, 0, p.PrePad, gocv.BorderReflect101, color.RGBA{})
	} else {
		out = img.Clone()
	}

	if p.ModScale != 0 {
		p.ModPadH, p.ModPadW = 0, 0
		h, w := out.Rows(), out.Cols()
		if h%p.ModScale != 0 {
			p.ModPadH = p.ModScale - h%p.ModScale
		}
		if w%p.ModScale != 0 {
			p.ModPadW = p.ModScale - w%p.ModScale
		}
		if p.ModPadH != 0 || p.ModPadW != 0 {
			padded := gocv.NewMat()
			gocv.CopyMakeBorder(out, &padded, 0, p.ModPadH, 0, p.ModPadW, gocv.BorderReflect101, color.RGBA{})
			out.Close()
			out = padded
		}
	}
	return out
}

// Remove 从放大后的输出裁掉填充：先去对齐补齐，再去 PrePad，均只裁右下
func (p *PaddingState) Remove(output gocv.Mat, scale int) gocv.Mat {
	h, w := output.Rows(), output.Cols()

	if p.ModScale != 0 {
		h -= p.ModPadH * scale
		w -= p.ModPadW * scale
	}
	if p.PrePad != 0 {
		h -= p.PrePad * scale
		w -= p.PrePad * scale
	}

	region := output.Region(image.Rect(0, 0, w, h))
	out := region.Clone()
	region.Close()
	return out
}
