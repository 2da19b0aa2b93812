// Package vision finds golf balls in camera frames.
//
// Frames are 8-bit 3-channel BGR, matching what the camera runtime hands
// back. The classical detector runs a colour-gated Hough circle search; the
// neural detector (package neural) is selected with SearchExternal.
package vision

import "fmt"

// Image is an 8-bit BGR image with a row stride of 3*Width bytes.
type Image struct {
	Width  int
	Height int
	Pix    []uint8 // len == Width*Height*3, B,G,R interleaved
}

// NewImage allocates a zeroed (black) image.
func NewImage(width, height int) *Image {
	return &Image{Width: width, Height: height, Pix: make([]uint8, width*height*3)}
}

// Valid reports whether the image dimensions and buffer agree.
func (im *Image) Valid() bool {
	return im != nil && im.Width > 0 && im.Height > 0 && len(im.Pix) == im.Width*im.Height*3
}

// BGRAt returns the pixel at (x, y). Out-of-bounds reads return black.
func (im *Image) BGRAt(x, y int) (b, g, r uint8) {
	if x < 0 || y < 0 || x >= im.Width || y >= im.Height {
		return 0, 0, 0
	}
	i := (y*im.Width + x) * 3
	return im.Pix[i], im.Pix[i+1], im.Pix[i+2]
}

// SetBGR writes the pixel at (x, y); out-of-bounds writes are ignored.
func (im *Image) SetBGR(x, y int, b, g, r uint8) {
	if x < 0 || y < 0 || x >= im.Width || y >= im.Height {
		return
	}
	i := (y*im.Width + x) * 3
	im.Pix[i], im.Pix[i+1], im.Pix[i+2] = b, g, r
}

// Clone returns a deep copy of the image.
func (im *Image) Clone() *Image {
	out := &Image{Width: im.Width, Height: im.Height, Pix: make([]uint8, len(im.Pix))}
	copy(out.Pix, im.Pix)
	return out
}

// Rect is an axis-aligned region of interest.
type Rect struct {
	X, Y, W, H int
}

// Empty reports whether the rect has no area.
func (r Rect) Empty() bool { return r.W <= 0 || r.H <= 0 }

// Clip intersects r with the image bounds.
func (r Rect) Clip(width, height int) Rect {
	x0, y0 := max(r.X, 0), max(r.Y, 0)
	x1, y1 := min(r.X+r.W, width), min(r.Y+r.H, height)
	return Rect{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}
}

// Crop returns a deep-copied sub-image clipped to bounds.
func (im *Image) Crop(r Rect) (*Image, error) {
	c := r.Clip(im.Width, im.Height)
	if c.Empty() {
		return nil, fmt.Errorf("crop rect %+v has no overlap with %dx%d image", r, im.Width, im.Height)
	}
	out := NewImage(c.W, c.H)
	for y := 0; y < c.H; y++ {
		src := ((c.Y+y)*im.Width + c.X) * 3
		dst := y * c.W * 3
		copy(out.Pix[dst:dst+c.W*3], im.Pix[src:src+c.W*3])
	}
	return out, nil
}

// Gray returns a luma image (one byte per pixel, BT.601 weights).
func (im *Image) Gray() []uint8 {
	out := make([]uint8, im.Width*im.Height)
	for i := 0; i < len(out); i++ {
		b := float64(im.Pix[i*3])
		g := float64(im.Pix[i*3+1])
		r := float64(im.Pix[i*3+2])
		out[i] = uint8(0.299*r + 0.587*g + 0.114*b)
	}
	return out
}
