package camera

import (
	"fmt"
	"math"
)

// Vec3 is a point or offset in the camera frame, meters. X is positive to
// the camera's right, Y positive up, Z positive out along the bore.
type Vec3 struct {
	X, Y, Z float64
}

// Norm returns the Euclidean length of the vector.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Sub returns v - o.
func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z}
}

// Scale returns v scaled by s.
func (v Vec3) Scale(s float64) Vec3 {
	return Vec3{v.X * s, v.Y * s, v.Z * s}
}

// Pixel is an image-plane coordinate.
type Pixel struct {
	X, Y float64
}

// ExpectedRadiusPixels returns the ball's apparent radius in pixels at the
// given direct distance, for an image of sensorWidthPx columns. The image
// may be scaled from the native sensor width, so the pitch scales with it.
func (h *Hardware) ExpectedRadiusPixels(distanceMeters float64, sensorWidthPx int) float64 {
	if distanceMeters <= 0 || sensorWidthPx <= 0 {
		return 0
	}
	pitch := h.effectivePitchMM(sensorWidthPx)
	radiusOnSensorMM := h.FocalLengthMM * BallRadiusMeters / distanceMeters
	return radiusOnSensorMM / pitch
}

// FocalLengthFromRadius recovers the focal length (mm) implied by a
// measured ball radius at a known direct distance.
func (h *Hardware) FocalLengthFromRadius(measuredRadiusPx, trueDistanceMeters float64, sensorWidthPx int) (float64, error) {
	if measuredRadiusPx < 1 {
		return 0, fmt.Errorf("measured radius %.2f px too small", measuredRadiusPx)
	}
	if trueDistanceMeters <= 0 {
		return 0, fmt.Errorf("invalid distance %.4f m", trueDistanceMeters)
	}
	pitch := h.effectivePitchMM(sensorWidthPx)
	return measuredRadiusPx * pitch * trueDistanceMeters / BallRadiusMeters, nil
}

// Project maps a camera-frame point (meters) to a pixel, using the thin
// pinhole model with the principal point at the image centre.
func (h *Hardware) Project(p Vec3) (Pixel, error) {
	if p.Z <= 0 {
		return Pixel{}, fmt.Errorf("cannot project point at non-positive depth %.4f", p.Z)
	}
	pitch := h.effectivePitchMM(h.ResolutionX)
	fx := h.FocalLengthMM / pitch
	return Pixel{
		X: float64(h.ResolutionX)/2.0 + fx*p.X/p.Z,
		Y: float64(h.ResolutionY)/2.0 - fx*p.Y/p.Z,
	}, nil
}

// Unproject maps a pixel back to a camera-frame point at a known direct
// distance to the ball. The depth is recovered from the direct distance so
// that |result| == knownDistance.
func (h *Hardware) Unproject(px Pixel, knownDistanceMeters float64) (Vec3, error) {
	if knownDistanceMeters <= 0 {
		return Vec3{}, fmt.Errorf("invalid distance %.4f m", knownDistanceMeters)
	}
	pitch := h.effectivePitchMM(h.ResolutionX)
	fx := h.FocalLengthMM / pitch

	// Ray direction in normalised camera coordinates.
	dx := (px.X - float64(h.ResolutionX)/2.0) / fx
	dy := -(px.Y - float64(h.ResolutionY)/2.0) / fx
	norm := math.Sqrt(dx*dx + dy*dy + 1)

	scale := knownDistanceMeters / norm
	return Vec3{X: dx * scale, Y: dy * scale, Z: scale}, nil
}

// DistanceFromRadius recovers the direct distance to the ball implied by a
// measured radius, the inverse of ExpectedRadiusPixels.
func (h *Hardware) DistanceFromRadius(measuredRadiusPx float64, sensorWidthPx int) (float64, error) {
	if measuredRadiusPx < 1 {
		return 0, fmt.Errorf("measured radius %.2f px too small", measuredRadiusPx)
	}
	pitch := h.effectivePitchMM(sensorWidthPx)
	return h.FocalLengthMM * BallRadiusMeters / (measuredRadiusPx * pitch), nil
}

// XPixelsToMeters converts a horizontal pixel offset from the image centre
// into a real-world offset at the given distance.
func (h *Hardware) XPixelsToMeters(distanceMeters, dxPixels float64) float64 {
	pitch := h.effectivePitchMM(h.ResolutionX)
	return dxPixels * pitch * distanceMeters / h.FocalLengthMM
}

// YPixelsToMeters converts a vertical pixel offset from the image centre
// into a real-world offset at the given distance.
func (h *Hardware) YPixelsToMeters(distanceMeters, dyPixels float64) float64 {
	return h.XPixelsToMeters(distanceMeters, dyPixels)
}

// MetersToPixels converts a real-world offset at the given distance back to
// pixels.
func (h *Hardware) MetersToPixels(distanceMeters, offsetMeters float64) float64 {
	pitch := h.effectivePitchMM(h.ResolutionX)
	return offsetMeters * h.FocalLengthMM / (pitch * distanceMeters)
}

// effectivePitchMM returns the pixel pitch adjusted for images scaled away
// from the native sensor width.
func (h *Hardware) effectivePitchMM(imageWidthPx int) float64 {
	pitch := h.Model.PixelPitchMM()
	if imageWidthPx > 0 && imageWidthPx != h.ResolutionX && h.ResolutionX > 0 {
		pitch *= float64(h.ResolutionX) / float64(imageWidthPx)
	}
	return pitch
}
