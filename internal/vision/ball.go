package vision

import "github.com/fairway-data/launch.report/internal/camera"

// Ball is one detected ball circle plus the fields downstream enrichers
// attach. A Ball belongs to a single shot and is never shared across shots.
type Ball struct {
	// Circle in image coordinates.
	CX, CY, RadiusPx float64

	// PositionMeters is the 3D position in the camera frame, filled in by
	// the solver's unprojection.
	PositionMeters camera.Vec3

	// SurfaceAngleDeg is the apparent rotation of the dimple pattern,
	// used by the spin correlator.
	SurfaceAngleDeg float64

	// Confidence is the detector's belief in this circle, [0,1].
	Confidence float64

	// Quality is the composite candidate score; lower is better.
	Quality float64
}

// Centre returns the circle centre as a pixel.
func (b *Ball) Centre() camera.Pixel {
	return camera.Pixel{X: b.CX, Y: b.CY}
}

// Box returns the circle's enclosing box.
func (b *Ball) Box() Rect {
	return Rect{
		X: int(b.CX - b.RadiusPx),
		Y: int(b.CY - b.RadiusPx),
		W: int(2 * b.RadiusPx),
		H: int(2 * b.RadiusPx),
	}
}
