package vision

import "math"

// Colour conversions between RGB and the HLS/HSV/YIQ spaces used by the
// masking stage. All components are in [0, 1]; hue wraps.

const (
	oneThird = 1.0 / 3.0
	oneSixth = 1.0 / 6.0
	twoThird = 2.0 / 3.0
)

// RGBToHLS converts r,g,b in [0,1] to hue, lightness, saturation.
func RGBToHLS(r, g, b float64) (h, l, s float64) {
	maxc := math.Max(r, math.Max(g, b))
	minc := math.Min(r, math.Min(g, b))
	l = (minc + maxc) / 2.0
	if minc == maxc {
		return 0, l, 0
	}
	delta := maxc - minc
	if l <= 0.5 {
		s = delta / (maxc + minc)
	} else {
		s = delta / (2.0 - maxc - minc)
	}
	rc := (maxc - r) / delta
	gc := (maxc - g) / delta
	bc := (maxc - b) / delta
	switch {
	case r == maxc:
		h = bc - gc
	case g == maxc:
		h = 2.0 + rc - bc
	default:
		h = 4.0 + gc - rc
	}
	h = fmods(h/6.0, 1.0)
	return h, l, s
}

// HLSToRGB converts hue, lightness, saturation in [0,1] back to RGB.
func HLSToRGB(h, l, s float64) (r, g, b float64) {
	if s == 0 {
		return l, l, l
	}
	var m2 float64
	if l <= 0.5 {
		m2 = l * (1.0 + s)
	} else {
		m2 = l + s - l*s
	}
	m1 := 2.0*l - m2
	return hlsValue(m1, m2, h+oneThird), hlsValue(m1, m2, h), hlsValue(m1, m2, h-oneThird)
}

func hlsValue(m1, m2, hue float64) float64 {
	hue = fmods(hue, 1.0)
	switch {
	case hue < oneSixth:
		return m1 + (m2-m1)*hue*6.0
	case hue < 0.5:
		return m2
	case hue < twoThird:
		return m1 + (m2-m1)*(twoThird-hue)*6.0
	default:
		return m1
	}
}

// RGBToHSV converts r,g,b in [0,1] to hue, saturation, value.
func RGBToHSV(r, g, b float64) (h, s, v float64) {
	maxc := math.Max(r, math.Max(g, b))
	minc := math.Min(r, math.Min(g, b))
	v = maxc
	if minc == maxc {
		return 0, 0, v
	}
	delta := maxc - minc
	s = delta / maxc
	rc := (maxc - r) / delta
	gc := (maxc - g) / delta
	bc := (maxc - b) / delta
	switch {
	case r == maxc:
		h = bc - gc
	case g == maxc:
		h = 2.0 + rc - bc
	default:
		h = 4.0 + gc - rc
	}
	h = fmods(h/6.0, 1.0)
	return h, s, v
}

// HSVToRGB converts hue, saturation, value in [0,1] back to RGB.
func HSVToRGB(h, s, v float64) (r, g, b float64) {
	if s == 0 {
		return v, v, v
	}
	i := int(h * 6.0)
	f := h*6.0 - float64(i)
	p := v * (1.0 - s)
	q := v * (1.0 - s*f)
	t := v * (1.0 - s*(1.0-f))
	switch i % 6 {
	case 0:
		return v, t, p
	case 1:
		return q, v, p
	case 2:
		return p, v, t
	case 3:
		return p, q, v
	case 4:
		return t, p, v
	default:
		return v, p, q
	}
}

// RGBToYIQ converts r,g,b in [0,1] to the YIQ colour space.
func RGBToYIQ(r, g, b float64) (y, i, q float64) {
	y = 0.30*r + 0.59*g + 0.11*b
	i = 0.74*(r-y) - 0.27*(b-y)
	q = 0.48*(r-y) + 0.41*(b-y)
	return y, i, q
}

// YIQToRGB converts y,i,q back to RGB, clamped to [0,1].
func YIQToRGB(y, i, q float64) (r, g, b float64) {
	r = clamp01(y + 0.9468822170900693*i + 0.6235565819861433*q)
	g = clamp01(y - 0.27478764629897834*i - 0.6356910791873801*q)
	b = clamp01(y - 1.1085450346420322*i + 1.7090069284064666*q)
	return r, g, b
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func fmods(a, b float64) float64 {
	f := math.Mod(a, b)
	if (f < 0 && b > 0) || (f > 0 && b < 0) {
		f += b
	}
	return f
}
