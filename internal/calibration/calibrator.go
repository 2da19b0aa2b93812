package calibration

import (
	"fmt"
	"math"
	"os"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"github.com/fairway-data/launch.report/internal/camera"
	"github.com/fairway-data/launch.report/internal/config"
	"github.com/fairway-data/launch.report/internal/monitoring"
	"github.com/fairway-data/launch.report/internal/units"
	"github.com/fairway-data/launch.report/internal/vision"
	"github.com/fairway-data/launch.report/internal/webapi"
)

// StillCapturer takes one still frame from the camera under calibration.
type StillCapturer interface {
	TakeStill() (*vision.Image, error)
}

// Calibrator runs the auto-calibration procedure against one camera.
type Calibrator struct {
	Config   *config.Store
	Rig      *camera.RigTable
	Detector *vision.Detector
	Capturer StillCapturer
	Web      *webapi.Client
	History  *Store // optional

	// Hardware is the camera under calibration, with the lens's default
	// focal length; calibration replaces the focal length and angles.
	Hardware *camera.Hardware
}

// AutoCalibrate recovers the focal length (averaged over several stills)
// and the pointing angles for the camera, rewrites the system config file
// with a backup sibling, and notifies the web collaborator best-effort.
// A false return means calibration was rejected; no files are written.
func (c *Calibrator) AutoCalibrate(num camera.Number) (bool, error) {
	rigType := camera.RigType(c.Config.GetInt("gs_config.calibration.kCalibrationRigType", int(camera.RigStraight)))
	enclosure := camera.Enclosure(c.Config.GetInt("gs_config.kEnclosureVersion", int(camera.EnclosureV3)))

	ballPos, err := c.Rig.BallPosition(rigType, enclosure, num)
	if err != nil {
		return false, fmt.Errorf("resolving rig position: %w", err)
	}
	distance := ballPos.Norm()
	if distance <= 0.0001 {
		return false, fmt.Errorf("rig ball position has no distance")
	}
	monitoring.Logf("calibration: camera %d, rig %d/%d, ball at %.3f m", num, rigType, enclosure, distance)

	// Widen the detector's radius window around the expected radius. The
	// exact distance is known, but the wider window creates fewer problems.
	expected := c.Hardware.ExpectedRadiusPixels(distance, c.Hardware.ResolutionX)
	const maxReasonableRadius = 1000.0
	if expected <= 0 || expected > maxReasonableRadius {
		return false, fmt.Errorf("expected ball radius %.1f px out of range", expected)
	}
	minOffset := c.Config.GetInt("gs_config.calibration.kMinRadiusOffset", 15)
	maxOffset := c.Config.GetInt("gs_config.calibration.kMaxRadiusOffset", 30)
	minR := int(expected) - minOffset
	if minR < 0 {
		minR = 0
	}
	c.Detector.SetRadiusWindow(minR, int(expected)+maxOffset, expected)

	focal, samples, failures, err := c.averageFocalLength(num, distance)
	if err != nil {
		c.record(num, rigType, enclosure, 0, [2]float64{}, samples, failures, "focal_failed")
		return false, err
	}

	if focal < camera.MinFocalLengthMM || focal > camera.MaxFocalLengthMM {
		c.record(num, rigType, enclosure, focal, [2]float64{}, samples, failures, "focal_out_of_range")
		monitoring.Logf("calibration: focal length %.3f mm outside [%g, %g]; rejecting",
			focal, camera.MinFocalLengthMM, camera.MaxFocalLengthMM)
		return false, nil
	}
	monitoring.Logf("calibration: average focal length %.4f mm over %d samples", focal, samples)
	c.Hardware.FocalLengthMM = focal

	// Narrow the radius window to ±10% using the improved focal length.
	expected = c.Hardware.ExpectedRadiusPixels(distance, c.Hardware.ResolutionX)
	c.Detector.SetRadiusWindow(int(expected*0.9), int(expected*1.1), expected)

	angles, ok, err := c.determineAngles(num, ballPos, distance)
	if err != nil {
		c.record(num, rigType, enclosure, focal, angles, samples, failures, "angles_failed")
		return false, err
	}
	if !ok {
		c.record(num, rigType, enclosure, focal, angles, samples, failures, "angles_out_of_range")
		return false, nil
	}
	c.Hardware.AnglesDeg = angles

	if err := c.persist(num, focal, angles); err != nil {
		c.record(num, rigType, enclosure, focal, angles, samples, failures, "write_failed")
		return false, err
	}

	c.record(num, rigType, enclosure, focal, angles, samples, failures, "ok")
	return true, nil
}

// averageFocalLength captures stills and averages the focal length implied
// by each detected ball radius, tolerating a configured number of failures.
func (c *Calibrator) averageFocalLength(num camera.Number, distance float64) (float64, int, int, error) {
	attempts := c.Config.GetInt("gs_config.calibration.kNumberPicturesForFocalLengthAverage", 5)
	if attempts <= 0 {
		attempts = 5
	}
	tolerable := c.Config.GetInt("gs_config.calibration.kNumberOfCalibrationFailuresToTolerate", 2)

	var focals []float64
	failures := 0
	for len(focals) < attempts {
		focal, err := c.sampleFocalLength(num, distance)
		if err != nil {
			failures++
			monitoring.Logf("calibration: sample failed (%d/%d tolerated): %v", failures, tolerable, err)
			if failures > tolerable {
				return 0, len(focals), failures, fmt.Errorf("too many calibration failures: %w", err)
			}
			continue
		}
		focals = append(focals, focal)
		monitoring.Logf("calibration: sampled focal length %.4f mm", focal)
	}
	return stat.Mean(focals, nil), len(focals), failures, nil
}

func (c *Calibrator) sampleFocalLength(num camera.Number, distance float64) (float64, error) {
	img, err := c.Capturer.TakeStill()
	if err != nil {
		return 0, fmt.Errorf("taking still: %w", err)
	}
	ball, err := c.detectOne(img, num)
	if err != nil {
		return 0, err
	}
	return c.Hardware.FocalLengthFromRadius(ball.RadiusPx, distance, img.Width)
}

// detectOne finds the calibration ball. Camera 2's stills resemble strobed
// flight pictures, so it searches in strobed mode.
func (c *Calibrator) detectOne(img *vision.Image, num camera.Number) (vision.Ball, error) {
	mode := vision.SearchPlacedBall
	if num == camera.Camera2 {
		mode = vision.SearchStrobed
	}
	balls, err := c.Detector.Detect(img, mode, nil)
	if err != nil {
		return vision.Ball{}, fmt.Errorf("detecting calibration ball: %w", err)
	}
	return balls[0], nil
}

// determineAngles compares the angle from the camera's centre-bore to the
// detected ball against the angle the rig geometry says a straight-out
// camera would see; the difference is the camera's pointing angle.
func (c *Calibrator) determineAngles(num camera.Number, ballPos camera.Vec3, distance float64) ([2]float64, bool, error) {
	img, err := c.Capturer.TakeStill()
	if err != nil {
		return [2]float64{}, false, fmt.Errorf("taking angle still: %w", err)
	}
	ball, err := c.detectOne(img, num)
	if err != nil {
		return [2]float64{}, false, err
	}

	xFromCentre := ball.CX - math.Round(float64(c.Hardware.ResolutionX)/2.0)
	yFromCentre := ball.CY - math.Round(float64(c.Hardware.ResolutionY)/2.0)

	// Offsets of the ball from the bore line in meters, at the known
	// distance. Positive y is upward (smaller pixel rows).
	xOffset := c.Hardware.XPixelsToMeters(distance, xFromCentre)
	yOffset := -c.Hardware.YPixelsToMeters(distance, yFromCentre)

	// Angles from the camera's centre-bore to the ball. Positive x is
	// counter-clockwise seen from above; positive y is upward.
	xAngleCamera := -units.RadiansToDegrees(math.Atan(xOffset / distance))
	yAngleCamera := units.RadiansToDegrees(math.Atan(yOffset / distance))

	// Angles to the ball if the camera pointed straight out.
	xAngleStraight := -units.RadiansToDegrees(math.Atan(ballPos.X / ballPos.Z))
	horizontal := math.Sqrt(ballPos.X*ballPos.X + ballPos.Z*ballPos.Z)
	yAngleStraight := units.RadiansToDegrees(math.Atan(ballPos.Y / horizontal))

	angles := [2]float64{
		xAngleStraight - xAngleCamera,
		yAngleStraight - yAngleCamera,
	}

	for _, a := range angles {
		if math.Abs(a) > camera.MaxPointingAngleDeg {
			monitoring.Logf("calibration: computed camera angles (%.2f, %.2f) exceed ±%g deg; rejecting",
				angles[0], angles[1], camera.MaxPointingAngleDeg)
			return angles, false, nil
		}
	}
	monitoring.Logf("calibration: camera angles (%.3f, %.3f) deg", angles[0], angles[1])
	return angles, true, nil
}

// persist writes the calibrated values into the system tier, backs up the
// existing config file to a uniquely-named sibling, rewrites the file in
// place, and notifies the web collaborator best-effort.
func (c *Calibrator) persist(num camera.Number, focal float64, angles [2]float64) error {
	focalKey := fmt.Sprintf("gs_config.cameras.kCamera%dFocalLength", num)
	anglesKey := fmt.Sprintf("gs_config.cameras.kCamera%dAngles", num)

	if err := c.Config.SetSystemValue(focalKey, focal); err != nil {
		return fmt.Errorf("setting %s: %w", focalKey, err)
	}
	if err := c.Config.SetSystemValue(anglesKey, []float64{angles[0], angles[1]}); err != nil {
		return fmt.Errorf("setting %s: %w", anglesKey, err)
	}

	configPath := c.Config.SystemPath()
	backupPath := fmt.Sprintf("%s_BACKUP_%s.json", configPath, uuid.NewString())
	original, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("reading config for backup: %w", err)
	}
	if err := os.WriteFile(backupPath, original, 0o644); err != nil {
		return fmt.Errorf("writing config backup: %w", err)
	}
	monitoring.Logf("calibration: backed up config to %s", backupPath)

	if err := c.Config.WriteSystemFile(configPath); err != nil {
		return fmt.Errorf("rewriting system config: %w", err)
	}

	if c.Web != nil {
		c.Web.UpdateConfig(focalKey, focal)
		c.Web.UpdateConfig(anglesKey, []float64{angles[0], angles[1]})
	}
	return nil
}

func (c *Calibrator) record(num camera.Number, rig camera.RigType, enc camera.Enclosure,
	focal float64, angles [2]float64, samples, failures int, outcome string) {
	if c.History == nil {
		return
	}
	if _, err := c.History.Record(Run{
		CameraNum:     int(num),
		RigType:       int(rig),
		Enclosure:     int(enc),
		FocalLengthMM: focal,
		AngleXDeg:     angles[0],
		AngleYDeg:     angles[1],
		Samples:       samples,
		Failures:      failures,
		Outcome:       outcome,
	}); err != nil {
		monitoring.Logf("calibration: recording run failed: %v", err)
	}
}
