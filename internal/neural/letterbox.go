package neural

import (
	"github.com/fairway-data/launch.report/internal/vision"
)

// letterboxFill is the grey padding value used around the resized image.
const letterboxFill = 114

// Letterbox records the aspect-preserving resize applied before inference
// so detections can be mapped back to input coordinates.
type Letterbox struct {
	Scale   float64
	XOffset int
	YOffset int
}

// ComputeLetterbox returns the letterbox mapping from a (srcW, srcH) image
// into a (dstW, dstH) tensor.
func ComputeLetterbox(srcW, srcH, dstW, dstH int) Letterbox {
	scale := float64(dstW) / float64(srcW)
	if s := float64(dstH) / float64(srcH); s < scale {
		scale = s
	}
	newW := int(float64(srcW) * scale)
	newH := int(float64(srcH) * scale)
	return Letterbox{
		Scale:   scale,
		XOffset: (dstW - newW) / 2,
		YOffset: (dstH - newH) / 2,
	}
}

// Forward maps a source-image point into tensor space.
func (l Letterbox) Forward(x, y float64) (float64, float64) {
	return x*l.Scale + float64(l.XOffset), y*l.Scale + float64(l.YOffset)
}

// Inverse maps a tensor-space point back to source-image coordinates.
func (l Letterbox) Inverse(x, y float64) (float64, float64) {
	return (x - float64(l.XOffset)) / l.Scale, (y - float64(l.YOffset)) / l.Scale
}

// letterboxImage resizes src into a dstW x dstH BGR canvas filled with
// grey(114), bilinear-sampling the source, and returns the canvas plus the
// applied mapping.
func letterboxImage(src *vision.Image, dstW, dstH int) (*vision.Image, Letterbox) {
	lb := ComputeLetterbox(src.Width, src.Height, dstW, dstH)

	canvas := vision.NewImage(dstW, dstH)
	for i := range canvas.Pix {
		canvas.Pix[i] = letterboxFill
	}

	newW := int(float64(src.Width) * lb.Scale)
	newH := int(float64(src.Height) * lb.Scale)

	for y := 0; y < newH; y++ {
		srcY := (float64(y) + 0.5) / lb.Scale
		y0 := int(srcY - 0.5)
		fy := srcY - 0.5 - float64(y0)
		y1 := y0 + 1
		if y0 < 0 {
			y0, y1, fy = 0, 0, 0
		}
		if y1 >= src.Height {
			y1 = src.Height - 1
		}
		for x := 0; x < newW; x++ {
			srcX := (float64(x) + 0.5) / lb.Scale
			x0 := int(srcX - 0.5)
			fx := srcX - 0.5 - float64(x0)
			x1 := x0 + 1
			if x0 < 0 {
				x0, x1, fx = 0, 0, 0
			}
			if x1 >= src.Width {
				x1 = src.Width - 1
			}
			for c := 0; c < 3; c++ {
				p00 := float64(src.Pix[(y0*src.Width+x0)*3+c])
				p01 := float64(src.Pix[(y0*src.Width+x1)*3+c])
				p10 := float64(src.Pix[(y1*src.Width+x0)*3+c])
				p11 := float64(src.Pix[(y1*src.Width+x1)*3+c])
				v := p00*(1-fx)*(1-fy) + p01*fx*(1-fy) + p10*(1-fx)*fy + p11*fx*fy
				canvas.Pix[((y+lb.YOffset)*dstW+(x+lb.XOffset))*3+c] = uint8(v + 0.5)
			}
		}
	}
	return canvas, lb
}
