package vision

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/fairway-data/launch.report/internal/monitoring"
)

// SearchMode selects the detection strategy.
type SearchMode int

const (
	// SearchPlacedBall assumes one stationary ball at a predictable radius.
	SearchPlacedBall SearchMode = iota
	// SearchStrobed assumes multiple faint, possibly overlapping ball
	// instances along a flight path.
	SearchStrobed
	// SearchPutting is the low-speed variant; no colour gating.
	SearchPutting
	// SearchExternal means the caller should use the neural detector.
	SearchExternal
)

// ErrExternalDetector is returned for SearchExternal; the orchestrator
// routes the frame to the neural detector instead.
var ErrExternalDetector = errors.New("search mode requires the external (neural) detector")

// ErrNoBallFound is returned when no candidate survives scoring.
var ErrNoBallFound = errors.New("no ball found")

// DetectorConfig tunes the classical pipeline.
type DetectorConfig struct {
	// MinRadius/MaxRadius bound the Hough search, typically set from the
	// camera's expected radius ± the configured offsets.
	MinRadius int
	MaxRadius int

	// ExpectedRadius is the predicted ball radius at the working distance;
	// candidates are penalised by their deviation from it.
	ExpectedRadius float64

	// ReferenceColor is the ball colour in RGB [0,255] used to build the
	// HLS mask band.
	ReferenceColor [3]uint8

	// HLSTolerance is the half-width of the mask band around the
	// reference colour's (h, l, s).
	HLSTolerance [3]float64

	// EdgeThreshold is the minimum Sobel magnitude for an edge point.
	EdgeThreshold float64

	// MaxCandidates bounds the Hough centre list.
	MaxCandidates int

	// NMSIoU is the enclosing-box overlap above which circles suppress.
	NMSIoU float64

	// Score weights: coverage, edge sharpness, radius deviation.
	CoverageWeight float64
	EdgeWeight     float64
	RadiusWeight   float64
}

// DefaultDetectorConfig returns the tuned defaults for a white ball.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		MinRadius:      8,
		MaxRadius:      60,
		ExpectedRadius: 30,
		ReferenceColor: [3]uint8{255, 255, 255},
		HLSTolerance:   [3]float64{0.12, 0.35, 0.60},
		EdgeThreshold:  120,
		MaxCandidates:  12,
		NMSIoU:         0.30,
		CoverageWeight: 1.0,
		EdgeWeight:     0.6,
		RadiusWeight:   1.4,
	}
}

// Detector is the classical Hough/colour ball finder.
type Detector struct {
	cfg DetectorConfig
}

// NewDetector creates a detector with the given configuration.
func NewDetector(cfg DetectorConfig) *Detector {
	return &Detector{cfg: cfg}
}

// SetRadiusWindow replaces the Hough radius bounds and expected radius.
// The calibrator narrows the window once a focal length is known.
func (d *Detector) SetRadiusWindow(minR, maxR int, expected float64) {
	d.cfg.MinRadius = minR
	d.cfg.MaxRadius = maxR
	d.cfg.ExpectedRadius = expected
}

// Config returns a copy of the current configuration.
func (d *Detector) Config() DetectorConfig { return d.cfg }

// Detect finds ball circles in the image. An optional ROI restricts the
// search; detections are reported in full-image coordinates. Returned
// circles have radii within the configured window and centre separations
// of at least half the minimum radius.
func (d *Detector) Detect(im *Image, mode SearchMode, roi *Rect) ([]Ball, error) {
	if mode == SearchExternal {
		return nil, ErrExternalDetector
	}
	if !im.Valid() {
		return nil, fmt.Errorf("invalid input image")
	}

	search := im
	offX, offY := 0, 0
	if roi != nil && !roi.Empty() {
		cropped, err := im.Crop(*roi)
		if err != nil {
			return nil, err
		}
		search = cropped
		clipped := roi.Clip(im.Width, im.Height)
		offX, offY = clipped.X, clipped.Y
	}

	gray := search.Gray()
	candidates := houghCircles(gray, search.Width, search.Height,
		d.cfg.MinRadius, d.cfg.MaxRadius, d.cfg.EdgeThreshold, d.cfg.MaxCandidates)
	if len(candidates) == 0 {
		return nil, ErrNoBallFound
	}

	mask := d.colourMask(search, mode)

	balls := make([]Ball, 0, len(candidates))
	for _, c := range candidates {
		score := d.scoreCandidate(search, mask, c)
		balls = append(balls, Ball{
			CX:         float64(c.cx),
			CY:         float64(c.cy),
			RadiusPx:   c.radius,
			Confidence: c.support,
			Quality:    score,
		})
	}

	d.applyModeBonuses(balls, mode, search.Width, search.Height)

	sort.Slice(balls, func(i, j int) bool { return balls[i].Quality < balls[j].Quality })

	balls = suppressCircles(balls, d.cfg.NMSIoU, float64(d.cfg.MinRadius))
	if len(balls) == 0 {
		return nil, ErrNoBallFound
	}

	if mode == SearchPlacedBall || mode == SearchPutting {
		balls = balls[:1]
	}

	for i := range balls {
		balls[i].CX += float64(offX)
		balls[i].CY += float64(offY)
	}
	monitoring.Tracef("vision: %d ball(s) after suppression", len(balls))
	return balls, nil
}

// colourMask marks pixels within the HLS band around the reference colour.
// Putting mode skips colour gating entirely.
func (d *Detector) colourMask(im *Image, mode SearchMode) []bool {
	mask := make([]bool, im.Width*im.Height)
	if mode == SearchPutting {
		for i := range mask {
			mask[i] = true
		}
		return mask
	}
	refH, refL, refS := RGBToHLS(
		float64(d.cfg.ReferenceColor[0])/255.0,
		float64(d.cfg.ReferenceColor[1])/255.0,
		float64(d.cfg.ReferenceColor[2])/255.0,
	)
	tol := d.cfg.HLSTolerance
	for i := 0; i < len(mask); i++ {
		b := float64(im.Pix[i*3]) / 255.0
		g := float64(im.Pix[i*3+1]) / 255.0
		r := float64(im.Pix[i*3+2]) / 255.0
		h, l, s := RGBToHLS(r, g, b)
		dh := math.Abs(h - refH)
		if dh > 0.5 {
			dh = 1.0 - dh // hue wraps
		}
		// Low-saturation colours have meaningless hue; accept any hue there.
		hueOK := dh <= tol[0] || refS < 0.15 || s < 0.15
		mask[i] = hueOK && math.Abs(l-refL) <= tol[1] && math.Abs(s-refS) <= tol[2]
	}
	return mask
}

// scoreCandidate builds the composite quality score; lower is better.
func (d *Detector) scoreCandidate(im *Image, mask []bool, c circleCandidate) float64 {
	coverage := diskMaskCoverage(mask, im.Width, im.Height, c.cx, c.cy, c.radius)
	edge := c.support // perimeter support is the ring-sharpness proxy

	dev := 0.0
	if d.cfg.ExpectedRadius > 0 {
		dev = math.Abs(c.radius-d.cfg.ExpectedRadius) / d.cfg.ExpectedRadius
	}

	return d.cfg.CoverageWeight*(1.0-coverage) +
		d.cfg.EdgeWeight*(1.0-edge) +
		d.cfg.RadiusWeight*dev
}

// applyModeBonuses adjusts scores in place for mode-specific tie-breaks:
// collinearity in strobed mode, centre proximity in placed mode.
func (d *Detector) applyModeBonuses(balls []Ball, mode SearchMode, w, h int) {
	switch mode {
	case SearchStrobed:
		if len(balls) < 3 {
			return
		}
		for i := range balls {
			if fit := bestCollinearity(balls, i); fit > 0 {
				balls[i].Quality -= 0.25 * fit
			}
		}
	case SearchPlacedBall:
		halfDiag := math.Hypot(float64(w)/2, float64(h)/2)
		for i := range balls {
			dist := math.Hypot(balls[i].CX-float64(w)/2, balls[i].CY-float64(h)/2)
			balls[i].Quality -= 0.25 * (1.0 - dist/halfDiag)
		}
	}
}

// bestCollinearity measures how well ball i lines up with its two nearest
// peers: 1 means perfectly collinear, 0 no support.
func bestCollinearity(balls []Ball, i int) float64 {
	best := 0.0
	for j := range balls {
		if j == i {
			continue
		}
		for k := j + 1; k < len(balls); k++ {
			if k == i {
				continue
			}
			// Perpendicular distance of i from the j-k line, relative to
			// the mean radius.
			x0, y0 := balls[i].CX, balls[i].CY
			x1, y1 := balls[j].CX, balls[j].CY
			x2, y2 := balls[k].CX, balls[k].CY
			length := math.Hypot(x2-x1, y2-y1)
			if length < 1 {
				continue
			}
			dist := math.Abs((y2-y1)*x0-(x2-x1)*y0+x2*y1-y2*x1) / length
			meanR := stat.Mean([]float64{balls[i].RadiusPx, balls[j].RadiusPx, balls[k].RadiusPx}, nil)
			fit := 1.0 - math.Min(1.0, dist/meanR)
			if fit > best {
				best = fit
			}
		}
	}
	return best
}

// diskMaskCoverage returns the fraction of in-disk pixels that the colour
// mask accepts.
func diskMaskCoverage(mask []bool, w, h, cx, cy int, radius float64) float64 {
	r := int(radius)
	total, hit := 0, 0
	for y := cy - r; y <= cy+r; y++ {
		if y < 0 || y >= h {
			continue
		}
		for x := cx - r; x <= cx+r; x++ {
			if x < 0 || x >= w {
				continue
			}
			dx, dy := float64(x-cx), float64(y-cy)
			if dx*dx+dy*dy > radius*radius {
				continue
			}
			total++
			if mask[y*w+x] {
				hit++
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(hit) / float64(total)
}

// suppressCircles drops circles overlapping a better-scored survivor, and
// enforces the minimum centre separation of half the minimum radius.
func suppressCircles(sorted []Ball, iouThreshold, minRadius float64) []Ball {
	var out []Ball
	for _, b := range sorted {
		keep := true
		for _, kept := range out {
			if boxIoU(b.Box(), kept.Box()) > iouThreshold {
				keep = false
				break
			}
			if math.Hypot(b.CX-kept.CX, b.CY-kept.CY) < 0.5*minRadius {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, b)
		}
	}
	return out
}

// boxIoU computes intersection-over-union of two boxes.
func boxIoU(a, b Rect) float64 {
	x0 := max(a.X, b.X)
	y0 := max(a.Y, b.Y)
	x1 := min(a.X+a.W, b.X+b.W)
	y1 := min(a.Y+a.H, b.Y+b.H)
	if x1 <= x0 || y1 <= y0 {
		return 0
	}
	inter := float64((x1 - x0) * (y1 - y0))
	union := float64(a.W*a.H+b.W*b.H) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}
