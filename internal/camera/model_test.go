package camera

import (
	"math"
	"testing"

	"github.com/fairway-data/launch.report/internal/testutil"
)

func testHardware() Hardware {
	return DefaultHardware(Camera1, ModelPiGSCam, Lens6mm, OrientationUpright)
}

func TestExpectedRadiusAndFocalLengthRoundTrip(t *testing.T) {
	h := testHardware()

	dist := 0.62
	radius := h.ExpectedRadiusPixels(dist, h.ResolutionX)
	if radius <= 0 {
		t.Fatalf("expected radius = %f", radius)
	}

	// Recovering focal length from the expected radius must return the
	// true focal length.
	f, err := h.FocalLengthFromRadius(radius, dist, h.ResolutionX)
	testutil.AssertNoError(t, err)
	testutil.AssertInDelta(t, f, h.FocalLengthMM, 1e-9)
}

func TestExpectedRadiusScalesWithImageWidth(t *testing.T) {
	h := testHardware()
	full := h.ExpectedRadiusPixels(0.6, h.ResolutionX)
	half := h.ExpectedRadiusPixels(0.6, h.ResolutionX/2)
	testutil.AssertInDelta(t, half, full/2, 1e-9)
}

func TestFocalLengthFromRadiusRejectsBadInput(t *testing.T) {
	h := testHardware()
	if _, err := h.FocalLengthFromRadius(0.5, 0.6, h.ResolutionX); err == nil {
		t.Error("sub-pixel radius should error")
	}
	if _, err := h.FocalLengthFromRadius(30, 0, h.ResolutionX); err == nil {
		t.Error("zero distance should error")
	}
}

func TestProjectUnprojectRoundTrip(t *testing.T) {
	h := testHardware()

	world := Vec3{X: 0.05, Y: -0.03, Z: 0.60}
	px, err := h.Project(world)
	testutil.AssertNoError(t, err)

	back, err := h.Unproject(px, world.Norm())
	testutil.AssertNoError(t, err)

	testutil.AssertInDelta(t, back.X, world.X, 1e-6)
	testutil.AssertInDelta(t, back.Y, world.Y, 1e-6)
	testutil.AssertInDelta(t, back.Z, world.Z, 1e-6)
}

func TestProjectCentreIsImageCentre(t *testing.T) {
	h := testHardware()
	px, err := h.Project(Vec3{0, 0, 1})
	testutil.AssertNoError(t, err)
	testutil.AssertInDelta(t, px.X, float64(h.ResolutionX)/2, 1e-9)
	testutil.AssertInDelta(t, px.Y, float64(h.ResolutionY)/2, 1e-9)
}

func TestProjectRejectsNonPositiveDepth(t *testing.T) {
	h := testHardware()
	if _, err := h.Project(Vec3{0, 0, 0}); err == nil {
		t.Error("expected error for z=0")
	}
	if _, err := h.Project(Vec3{0, 0, -1}); err == nil {
		t.Error("expected error for z<0")
	}
}

func TestPixelMeterConversionsInverse(t *testing.T) {
	h := testHardware()
	dist := 0.75
	for _, px := range []float64{-200, -1, 0, 3.5, 180} {
		m := h.XPixelsToMeters(dist, px)
		back := h.MetersToPixels(dist, m)
		testutil.AssertInDelta(t, back, px, 1e-9)
	}
}

func TestValidateCalibrated(t *testing.T) {
	tests := []struct {
		name    string
		focal   float64
		angles  [2]float64
		wantErr bool
	}{
		{"nominal", 6.0, [2]float64{1.5, -12.0}, false},
		{"focal too short", 1.0, [2]float64{0, 0}, true},
		{"focal too long", 55.0, [2]float64{0, 0}, true},
		{"angle out of range", 6.0, [2]float64{0, 60}, true},
		{"boundary focal", 2.0, [2]float64{45, -45}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := testHardware()
			h.FocalLengthMM = tt.focal
			h.AnglesDeg = tt.angles
			err := h.ValidateCalibrated()
			if tt.wantErr && err == nil {
				t.Error("expected error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestUnprojectPreservesDistance(t *testing.T) {
	h := testHardware()
	p, err := h.Unproject(Pixel{X: 900, Y: 300}, 0.62)
	testutil.AssertNoError(t, err)
	testutil.AssertInDelta(t, p.Norm(), 0.62, 1e-9)
	if math.Signbit(p.Z) {
		t.Error("unprojected depth should be positive")
	}
}
