// Package kinematics derives launch velocity and spin from two strobed
// ball observations in the same flight-camera frame.
package kinematics

import (
	"fmt"
	"math"
	"time"

	"github.com/fairway-data/launch.report/internal/camera"
	"github.com/fairway-data/launch.report/internal/monitoring"
	"github.com/fairway-data/launch.report/internal/units"
	"github.com/fairway-data/launch.report/internal/vision"
)

// LaunchResult carries the solved launch state. OK is false with Err set
// when the input is unusable; downstream consumers display the reason.
type LaunchResult struct {
	OK  bool
	Err string

	// P1 and P2 are the ball positions in the camera frame, meters.
	P1, P2 camera.Vec3

	// Velocity is in launch-monitor coordinates: X lateral (positive
	// right), Y downrange, Z vertical.
	Velocity camera.Vec3

	SpeedMPS float64
	SpeedMPH float64

	// VerticalLaunchDeg is atan2(Vz, sqrt(Vx^2+Vy^2)); HorizontalLaunchDeg
	// is atan2(Vx, Vy).
	VerticalLaunchDeg   float64
	HorizontalLaunchDeg float64

	Spin SpinResult
}

// Solver solves launch kinematics against a calibrated flight camera.
type Solver struct {
	Hardware *camera.Hardware
	Spin     SpinConfig
}

// NewSolver builds a solver with the default spin search.
func NewSolver(hw *camera.Hardware) *Solver {
	return &Solver{Hardware: hw, Spin: DefaultSpinConfig()}
}

// Solve recovers 3D positions from the two strobed circles, derives the
// velocity vector over the inter-flash interval, and correlates the
// surface patches for spin. The strobed frame is needed for the spin
// stage; pass nil to skip it.
func (s *Solver) Solve(b1, b2 vision.Ball, deltaT time.Duration, frame *vision.Image) LaunchResult {
	if deltaT <= 0 {
		return invalidLaunch("non-positive inter-flash interval %v", deltaT)
	}
	if b1.RadiusPx < 1 || b2.RadiusPx < 1 {
		return invalidLaunch("ball radii too small (%.1f, %.1f px)", b1.RadiusPx, b2.RadiusPx)
	}

	p1, err := s.unprojectBall(b1)
	if err != nil {
		return invalidLaunch("first ball: %v", err)
	}
	p2, err := s.unprojectBall(b2)
	if err != nil {
		return invalidLaunch("second ball: %v", err)
	}

	dt := deltaT.Seconds()
	camVel := p2.Sub(p1).Scale(1.0 / dt)

	// Camera frame -> launch-monitor frame: the camera looks across the
	// ball flight, so camera Z (depth) is downrange, camera Y vertical.
	vel := camera.Vec3{X: camVel.X, Y: camVel.Z, Z: camVel.Y}

	speed := vel.Norm()
	result := LaunchResult{
		OK:       true,
		P1:       p1,
		P2:       p2,
		Velocity: vel,
		SpeedMPS: speed,
		SpeedMPH: units.ConvertSpeed(speed, units.MPH),
		VerticalLaunchDeg: units.RadiansToDegrees(
			math.Atan2(vel.Z, math.Hypot(vel.X, vel.Y))),
		HorizontalLaunchDeg: units.RadiansToDegrees(
			math.Atan2(vel.X, vel.Y)),
	}

	if frame != nil {
		result.Spin = EstimateSpin(frame, b1, b2, deltaT, s.Spin)
		if !result.Spin.OK {
			monitoring.Logf("kinematics: spin estimation failed: %s", result.Spin.Err)
		}
	} else {
		result.Spin = SpinResult{OK: false, Err: "no strobed frame supplied"}
	}
	return result
}

// unprojectBall recovers the ball's 3D camera-frame position from its
// circle: the measured radius fixes the distance, the centre fixes the ray.
func (s *Solver) unprojectBall(b vision.Ball) (camera.Vec3, error) {
	dist, err := s.Hardware.DistanceFromRadius(b.RadiusPx, s.Hardware.ResolutionX)
	if err != nil {
		return camera.Vec3{}, err
	}
	return s.Hardware.Unproject(b.Centre(), dist)
}

func invalidLaunch(format string, args ...interface{}) LaunchResult {
	return LaunchResult{OK: false, Err: fmt.Sprintf(format, args...)}
}
