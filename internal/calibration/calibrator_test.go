package calibration

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fairway-data/launch.report/internal/camera"
	"github.com/fairway-data/launch.report/internal/config"
	"github.com/fairway-data/launch.report/internal/testutil"
	"github.com/fairway-data/launch.report/internal/vision"
)

// stillFunc adapts a function to the StillCapturer interface.
type stillFunc func() (*vision.Image, error)

func (f stillFunc) TakeStill() (*vision.Image, error) { return f() }

// ballStill renders the calibration ball at the given pixel and radius on
// a black background at the camera's full resolution.
func ballStill(hw *camera.Hardware, cx, cy int, radius float64) stillFunc {
	return func() (*vision.Image, error) {
		im := vision.NewImage(hw.ResolutionX, hw.ResolutionY)
		ri := int(radius) + 1
		for y := cy - ri; y <= cy+ri; y++ {
			for x := cx - ri; x <= cx+ri; x++ {
				dx, dy := float64(x-cx), float64(y-cy)
				if dx*dx+dy*dy <= radius*radius {
					im.SetBGR(x, y, 255, 255, 255)
				}
			}
		}
		return im, nil
	}
}

func calibrationConfig(t *testing.T, rigOffsets [3]float64) *config.Store {
	t.Helper()
	systemJSON := fmt.Sprintf(`{
  "gs_config": {
    "kEnclosureVersion": 3,
    "calibration": {
      "kCalibrationRigType": 3,
      "kNumberPicturesForFocalLengthAverage": 3,
      "kNumberOfCalibrationFailuresToTolerate": 2,
      "kCustomCalibrationRigPositionFromCamera1": [%g, %g, %g],
      "kCustomCalibrationRigPositionFromCamera2": [%g, %g, %g]
    },
    "cameras": {
      "kCamera1FocalLength": 6.0
    }
  }
}`, rigOffsets[0], rigOffsets[1], rigOffsets[2], rigOffsets[0], rigOffsets[1], rigOffsets[2])

	path := filepath.Join(t.TempDir(), "golf_sim_config.json")
	require.NoError(t, os.WriteFile(path, []byte(systemJSON), 0o644))

	s := config.NewStore()
	require.NoError(t, s.Initialize(path, "", nil))
	return s
}

func newCalibrator(cfg *config.Store, hw *camera.Hardware, capturer StillCapturer) *Calibrator {
	return &Calibrator{
		Config:   cfg,
		Rig:      camera.LoadRigTable(cfg),
		Detector: vision.NewDetector(vision.DefaultDetectorConfig()),
		Capturer: capturer,
		Hardware: hw,
	}
}

func backups(t *testing.T, configPath string) []string {
	t.Helper()
	matches, err := filepath.Glob(configPath + "_BACKUP_*.json")
	require.NoError(t, err)
	return matches
}

func TestAutoCalibrateRecoversFocalLength(t *testing.T) {
	cfg := calibrationConfig(t, [3]float64{0, 0, 0.47})
	hw := camera.DefaultHardware(camera.Camera1, camera.ModelPiGSCam, camera.Lens6mm, camera.OrientationUpright)

	// Render the ball with a radius implying a focal length slightly off
	// the lens's nominal 6.0 mm.
	const drawnRadius = 84.0
	dist := 0.47
	impliedFocal, err := hw.FocalLengthFromRadius(drawnRadius, dist, hw.ResolutionX)
	testutil.AssertNoError(t, err)

	capturer := ballStill(&hw, hw.ResolutionX/2, hw.ResolutionY/2, drawnRadius)
	cal := newCalibrator(cfg, &hw, capturer)

	ok, err := cal.AutoCalibrate(camera.Camera1)
	testutil.AssertNoError(t, err)
	if !ok {
		t.Fatal("calibration rejected")
	}

	// Recovered focal length within 2% of the truth.
	testutil.AssertInDelta(t, hw.FocalLengthMM, impliedFocal, impliedFocal*0.02)

	// Angles are near zero: the ball is dead ahead and centred.
	if hw.AnglesDeg[0] > 2 || hw.AnglesDeg[0] < -2 || hw.AnglesDeg[1] > 2 || hw.AnglesDeg[1] < -2 {
		t.Errorf("angles = %v, want near zero", hw.AnglesDeg)
	}

	// The system file was rewritten with a backup sibling.
	configPath := cfg.SystemPath()
	if got := backups(t, configPath); len(got) != 1 {
		t.Fatalf("backups = %v, want exactly one", got)
	}

	reloaded := config.NewStore()
	require.NoError(t, reloaded.Initialize(configPath, "", nil))
	written := reloaded.GetFloat("gs_config.cameras.kCamera1FocalLength", 0)
	testutil.AssertInDelta(t, written, hw.FocalLengthMM, 1e-6)
	if angles := reloaded.GetFloats("gs_config.cameras.kCamera1Angles", nil); len(angles) != 2 {
		t.Errorf("written angles = %v", angles)
	}
}

func TestAutoCalibrateRejectsExcessiveAngle(t *testing.T) {
	// The rig claims the ball is 48 degrees off to the side, but the image
	// shows it dead centre: the computed camera angle exceeds the 45
	// degree sanity bound.
	cfg := calibrationConfig(t, [3]float64{0.5, 0, 0.45})
	hw := camera.DefaultHardware(camera.Camera1, camera.ModelPiGSCam, camera.Lens6mm, camera.OrientationUpright)

	capturer := ballStill(&hw, hw.ResolutionX/2, hw.ResolutionY/2, 56)
	cal := newCalibrator(cfg, &hw, capturer)

	ok, err := cal.AutoCalibrate(camera.Camera1)
	testutil.AssertNoError(t, err)
	if ok {
		t.Fatal("calibration should be rejected")
	}

	// Rejection writes nothing.
	configPath := cfg.SystemPath()
	if got := backups(t, configPath); len(got) != 0 {
		t.Errorf("rejected calibration created backups: %v", got)
	}
	reloaded := config.NewStore()
	require.NoError(t, reloaded.Initialize(configPath, "", nil))
	if got := reloaded.GetFloat("gs_config.cameras.kCamera1FocalLength", 0); got != 6.0 {
		t.Errorf("config mutated on reject: focal = %f", got)
	}
}

func TestAutoCalibrateTooManyFailures(t *testing.T) {
	cfg := calibrationConfig(t, [3]float64{0, 0, 0.47})
	hw := camera.DefaultHardware(camera.Camera1, camera.ModelPiGSCam, camera.Lens6mm, camera.OrientationUpright)

	// Black frames: the detector never finds a ball.
	black := stillFunc(func() (*vision.Image, error) {
		return vision.NewImage(hw.ResolutionX, hw.ResolutionY), nil
	})
	cal := newCalibrator(cfg, &hw, black)

	ok, err := cal.AutoCalibrate(camera.Camera1)
	if ok {
		t.Fatal("calibration should fail")
	}
	testutil.AssertError(t, err)
}

func TestAutoCalibrateRecordsHistory(t *testing.T) {
	cfg := calibrationConfig(t, [3]float64{0, 0, 0.47})
	hw := camera.DefaultHardware(camera.Camera1, camera.ModelPiGSCam, camera.Lens6mm, camera.OrientationUpright)

	store, err := OpenStore(filepath.Join(t.TempDir(), "calibration.db"))
	require.NoError(t, err)
	defer store.Close()

	cal := newCalibrator(cfg, &hw, ballStill(&hw, hw.ResolutionX/2, hw.ResolutionY/2, 84))
	cal.History = store

	ok, err := cal.AutoCalibrate(camera.Camera1)
	testutil.AssertNoError(t, err)
	if !ok {
		t.Fatal("calibration rejected")
	}

	runs, err := store.Recent(10)
	require.NoError(t, err)
	if len(runs) != 1 {
		t.Fatalf("history has %d runs, want 1", len(runs))
	}
	if runs[0].Outcome != "ok" || runs[0].CameraNum != 1 {
		t.Errorf("run = %+v", runs[0])
	}
}
