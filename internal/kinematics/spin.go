package kinematics

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/fairway-data/launch.report/internal/units"
	"github.com/fairway-data/launch.report/internal/vision"
)

// SpinResult reports ball rotation rates in rpm, or OK=false with a reason
// when the surface patches carry too little texture to correlate.
type SpinResult struct {
	OK  bool
	Err string

	BackspinRPM float64
	SidespinRPM float64
	RifleRPM    float64

	// Correlation is the normalised score of the winning grid cell.
	Correlation float64
}

// SpinConfig bounds the rotation search grid.
type SpinConfig struct {
	// MaxRPM is the half-extent of the search on each axis.
	MaxRPM float64

	// StepRPM is the grid spacing.
	StepRPM float64

	// PatchRadiusFraction sizes the correlated surface patch relative to
	// the ball radius.
	PatchRadiusFraction float64

	// MinTextureStdDev rejects featureless patches: below this luma
	// standard deviation there is nothing to correlate.
	MinTextureStdDev float64
}

// DefaultSpinConfig covers driver spin rates at a tractable grid size.
func DefaultSpinConfig() SpinConfig {
	return SpinConfig{
		MaxRPM:              6000,
		StepRPM:             500,
		PatchRadiusFraction: 0.7,
		MinTextureStdDev:    4.0,
	}
}

// EstimateSpin searches a grid of (backspin, sidespin, rifle) rates for
// the rotation that best maps the first ball's surface patch onto the
// second's, scored by normalised cross-correlation.
func EstimateSpin(frame *vision.Image, b1, b2 vision.Ball, deltaT time.Duration, cfg SpinConfig) SpinResult {
	patch1 := extractPatch(frame, b1, cfg.PatchRadiusFraction)
	patch2 := extractPatch(frame, b2, cfg.PatchRadiusFraction)
	if patch1 == nil || patch2 == nil {
		return SpinResult{OK: false, Err: "surface patch outside frame"}
	}

	if stdDev(patch1.vals) < cfg.MinTextureStdDev || stdDev(patch2.vals) < cfg.MinTextureStdDev {
		return SpinResult{OK: false, Err: "insufficient surface features"}
	}

	dt := deltaT.Seconds()
	best := SpinResult{OK: true, Correlation: math.Inf(-1)}

	for back := -cfg.MaxRPM; back <= cfg.MaxRPM; back += cfg.StepRPM {
		for side := -cfg.MaxRPM; side <= cfg.MaxRPM; side += cfg.StepRPM {
			for rifle := -cfg.MaxRPM; rifle <= cfg.MaxRPM; rifle += cfg.StepRPM {
				score := correlateRotation(patch1, patch2, back, side, rifle, dt)
				if score > best.Correlation {
					best.Correlation = score
					best.BackspinRPM = back
					best.SidespinRPM = side
					best.RifleRPM = rifle
				}
			}
		}
	}

	if math.IsInf(best.Correlation, -1) {
		return SpinResult{OK: false, Err: "no rotation candidate overlapped"}
	}
	return best
}

// patch is a square luma sample around a ball centre.
type patch struct {
	size   int
	radius float64
	vals   []float64
}

func extractPatch(frame *vision.Image, b vision.Ball, radiusFraction float64) *patch {
	radius := b.RadiusPx * radiusFraction
	size := int(radius)
	if size < 3 {
		return nil
	}
	cx, cy := int(b.CX), int(b.CY)
	if cx-size < 0 || cy-size < 0 || cx+size >= frame.Width || cy+size >= frame.Height {
		return nil
	}

	side := 2*size + 1
	vals := make([]float64, side*side)
	for dy := -size; dy <= size; dy++ {
		for dx := -size; dx <= size; dx++ {
			bb, gg, rr := frame.BGRAt(cx+dx, cy+dy)
			vals[(dy+size)*side+(dx+size)] = 0.299*float64(rr) + 0.587*float64(gg) + 0.114*float64(bb)
		}
	}
	return &patch{size: size, radius: radius, vals: vals}
}

// correlateRotation applies the small-angle surface displacement implied by
// the candidate rates over dt and computes the Pearson correlation between
// the displaced first patch and the second patch.
//
// On the visible hemisphere: rifle spin (about the view axis) rotates the
// patch in-plane; backspin shifts texture vertically; sidespin shifts it
// horizontally, both foreshortened toward the limb.
func correlateRotation(p1, p2 *patch, backRPM, sideRPM, rifleRPM, dt float64) float64 {
	backRad := units.RPMToRadPerSec(backRPM) * dt
	sideRad := units.RPMToRadPerSec(sideRPM) * dt
	rifleRad := units.RPMToRadPerSec(rifleRPM) * dt

	// Rotations beyond a quarter turn between flashes cannot be matched.
	if math.Abs(backRad) > math.Pi/2 || math.Abs(sideRad) > math.Pi/2 {
		return math.Inf(-1)
	}

	side := 2*p1.size + 1
	cosR, sinR := math.Cos(rifleRad), math.Sin(rifleRad)

	var a, b []float64
	for dy := -p1.size; dy <= p1.size; dy++ {
		for dx := -p1.size; dx <= p1.size; dx++ {
			// In-plane rifle rotation.
			x := cosR*float64(dx) - sinR*float64(dy)
			y := sinR*float64(dx) + cosR*float64(dy)

			// Sphere-surface shifts for back/side spin with limb
			// foreshortening.
			r2 := (x*x + y*y) / (p1.radius * p1.radius)
			if r2 > 1 {
				continue
			}
			fore := math.Sqrt(1 - r2)
			x += sideRad * p1.radius * fore
			y += backRad * p1.radius * fore

			sx := int(math.Round(x)) + p1.size
			sy := int(math.Round(y)) + p1.size
			if sx < 0 || sy < 0 || sx >= side || sy >= side {
				continue
			}
			a = append(a, p1.vals[sy*side+sx])
			b = append(b, p2.vals[(dy+p1.size)*side+(dx+p1.size)])
		}
	}
	if len(a) < 16 {
		return math.Inf(-1)
	}
	if stdDev(a) == 0 || stdDev(b) == 0 {
		return math.Inf(-1)
	}
	return stat.Correlation(a, b, nil)
}

func stdDev(vals []float64) float64 {
	if len(vals) < 2 {
		return 0
	}
	return math.Sqrt(stat.Variance(vals, nil))
}
