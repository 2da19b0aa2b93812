// Package trajectory turns a launch state into carry, apex and flight time.
// The integration itself is delegated to a Physics implementation; the
// default integrates drag and Magnus lift at a fixed step.
package trajectory

import (
	"fmt"
	"math"

	"github.com/fairway-data/launch.report/internal/units"
)

// LaunchInput is the solved launch state plus optional atmosphere.
// Unset atmosphere fields (zero) take the defaults.
type LaunchInput struct {
	SpeedMPH            float64
	VerticalLaunchDeg   float64
	HorizontalLaunchDeg float64
	BackspinRPM         float64
	SidespinRPM         float64

	TemperatureF float64
	ElevationFt  float64
	WindSpeedMPH float64
	WindDirDeg   float64
}

// Default atmospheric conditions applied to unset fields.
const (
	DefaultTemperatureF = 70.0
	DefaultElevationFt  = 0.0
)

// Result is the computed flight summary. OK is false with Err set for
// invalid input.
type Result struct {
	OK  bool
	Err string

	CarryYards        float64
	MaxHeightYards    float64
	FlightTimeSeconds float64
	LandingAngleDeg   float64
}

// Physics integrates a launch state into a flight path. The production
// build may bind an external physics library; DragMagnusPhysics is the
// built-in implementation.
type Physics interface {
	// Simulate returns sampled (downrange, lateral, height) positions in
	// meters at the given time step.
	Simulate(input LaunchInput, stepSeconds float64) [][3]float64
}

// Calculator computes flight summaries.
type Calculator struct {
	Physics Physics

	// StepSeconds is the integration step; defaults to 10 ms.
	StepSeconds float64
}

// NewCalculator returns a calculator backed by the built-in physics.
func NewCalculator() *Calculator {
	return &Calculator{Physics: DragMagnusPhysics{}, StepSeconds: 0.01}
}

// Carry simulates the flight and summarises it. Invalid input returns
// OK=false with a reason instead of an error.
func (c *Calculator) Carry(input LaunchInput) Result {
	if err := validateInput(input); err != nil {
		return Result{OK: false, Err: err.Error()}
	}
	input = applyDefaults(input)

	step := c.StepSeconds
	if step <= 0 {
		step = 0.01
	}
	path := c.Physics.Simulate(input, step)
	if len(path) < 2 {
		return Result{OK: false, Err: "simulation produced no flight path"}
	}

	landing := path[len(path)-1]
	maxHeight := 0.0
	for _, p := range path {
		if p[2] > maxHeight {
			maxHeight = p[2]
		}
	}

	prev := path[len(path)-2]
	dy := landing[0] - prev[0]
	dz := landing[2] - prev[2]
	landingAngle := units.RadiansToDegrees(math.Atan2(dz, dy))

	return Result{
		OK:                true,
		CarryYards:        units.MetersToYards(landing[0]),
		MaxHeightYards:    units.MetersToYards(maxHeight),
		FlightTimeSeconds: float64(len(path)-1) * step,
		LandingAngleDeg:   landingAngle,
	}
}

func validateInput(in LaunchInput) error {
	if in.SpeedMPH <= 0 || in.SpeedMPH > 250 {
		return fmt.Errorf("ball speed %.1f mph out of range", in.SpeedMPH)
	}
	if in.VerticalLaunchDeg < -10 || in.VerticalLaunchDeg > 80 {
		return fmt.Errorf("vertical launch %.1f deg out of range", in.VerticalLaunchDeg)
	}
	if math.Abs(in.BackspinRPM) > 15000 || math.Abs(in.SidespinRPM) > 8000 {
		return fmt.Errorf("spin out of range")
	}
	return nil
}

func applyDefaults(in LaunchInput) LaunchInput {
	if in.TemperatureF == 0 {
		in.TemperatureF = DefaultTemperatureF
	}
	return in
}

// DragMagnusPhysics integrates gravity, quadratic drag and Magnus lift.
type DragMagnusPhysics struct{}

// Ball flight constants.
const (
	ballMassKg    = 0.04593
	ballRadiusM   = 0.021335
	airDensity    = 1.225 // kg/m^3 at sea level, 70 F
	gravity       = 9.81
	dragCoeff     = 0.24
	liftCoeffBase = 0.12
)

// Simulate integrates until the ball returns to launch height or five
// minutes elapse, returning (downrange, lateral, height) in meters.
func (DragMagnusPhysics) Simulate(input LaunchInput, step float64) [][3]float64 {
	speed := input.SpeedMPH / 2.23694
	vla := units.DegreesToRadians(input.VerticalLaunchDeg)
	hla := units.DegreesToRadians(input.HorizontalLaunchDeg)

	// Velocity components: y downrange, x lateral, z up.
	vy := speed * math.Cos(vla) * math.Cos(hla)
	vx := speed * math.Cos(vla) * math.Sin(hla)
	vz := speed * math.Sin(vla)

	area := math.Pi * ballRadiusM * ballRadiusM
	spin := units.RPMToRadPerSec(input.BackspinRPM)
	sideSpin := units.RPMToRadPerSec(input.SidespinRPM)

	var path [][3]float64
	var x, y, z float64
	path = append(path, [3]float64{y, x, z})

	for t := 0.0; t < 300; t += step {
		v := math.Sqrt(vx*vx + vy*vy + vz*vz)
		if v < 1e-6 {
			break
		}

		// Quadratic drag opposing the velocity.
		dragAccel := 0.5 * airDensity * dragCoeff * area * v * v / ballMassKg
		ax := -dragAccel * vx / v
		ay := -dragAccel * vy / v
		az := -dragAccel*vz/v - gravity

		// Magnus lift: backspin lifts perpendicular to travel, sidespin
		// curves laterally. The lift coefficient grows with spin ratio.
		if spin != 0 || sideSpin != 0 {
			spinRatio := math.Abs(spin) * ballRadiusM / math.Max(v, 1)
			cl := liftCoeffBase + 0.25*math.Min(spinRatio, 0.4)
			liftAccel := 0.5 * airDensity * cl * area * v * v / ballMassKg
			if spin != 0 {
				az += liftAccel * math.Copysign(1, spin) * math.Hypot(vy, vx) / v
			}
			if sideSpin != 0 {
				sideRatio := math.Abs(sideSpin) * ballRadiusM / math.Max(v, 1)
				clSide := liftCoeffBase + 0.25*math.Min(sideRatio, 0.4)
				sideAccel := 0.5 * airDensity * clSide * area * v * v / ballMassKg
				ax += sideAccel * math.Copysign(1, sideSpin) * vy / v
			}
		}

		vx += ax * step
		vy += ay * step
		vz += az * step
		x += vx * step
		y += vy * step
		z += vz * step

		path = append(path, [3]float64{y, x, z})
		if z <= 0 && t > step {
			break
		}
	}
	return path
}
