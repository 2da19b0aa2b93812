package camera

import (
	"fmt"

	"github.com/fairway-data/launch.report/internal/config"
)

// RigType enumerates the calibration jig geometries. Values match the
// config enum (1..3).
type RigType int

const (
	RigStraight RigType = 1
	RigSkewed   RigType = 2
	RigCustom   RigType = 3
)

// Enclosure enumerates the housing variants that shift camera mounting.
type Enclosure int

const (
	EnclosureV2 Enclosure = 2
	EnclosureV3 Enclosure = 3
)

// RigOffsets holds the known ball position from each camera for one rig
// and enclosure combination, meters in the camera frame.
type RigOffsets struct {
	Cam1 Vec3
	Cam2 Vec3
}

// RigTable maps (rig, enclosure) to the known ball offsets. It is loaded
// once at startup; there is no cross-call mutation.
type RigTable struct {
	offsets map[rigKey]RigOffsets
	custom  RigOffsets
}

type rigKey struct {
	rig       RigType
	enclosure Enclosure
}

// defaultRigOffsets are the shipped jig measurements. The config file may
// override any of them.
var defaultRigOffsets = map[rigKey]RigOffsets{
	{RigStraight, EnclosureV2}: {Cam1: Vec3{0.0, -0.26, 0.56}, Cam2: Vec3{0.0, -0.19, 0.56}},
	{RigStraight, EnclosureV3}: {Cam1: Vec3{0.0, -0.28, 0.58}, Cam2: Vec3{0.0, -0.21, 0.58}},
	{RigSkewed, EnclosureV2}:   {Cam1: Vec3{-0.05, -0.26, 0.56}, Cam2: Vec3{0.05, -0.19, 0.56}},
	{RigSkewed, EnclosureV3}:   {Cam1: Vec3{-0.05, -0.28, 0.58}, Cam2: Vec3{0.05, -0.21, 0.58}},
}

// LoadRigTable builds the rig table from config, falling back to the
// shipped defaults for any combination the file does not override.
func LoadRigTable(cfg *config.Store) *RigTable {
	t := &RigTable{offsets: map[rigKey]RigOffsets{}}
	for key, def := range defaultRigOffsets {
		t.offsets[key] = RigOffsets{
			Cam1: vecFromConfig(cfg, rigConfigKey(key, Camera1), def.Cam1),
			Cam2: vecFromConfig(cfg, rigConfigKey(key, Camera2), def.Cam2),
		}
	}
	t.custom = RigOffsets{
		Cam1: vecFromConfig(cfg, "gs_config.calibration.kCustomCalibrationRigPositionFromCamera1", Vec3{}),
		Cam2: vecFromConfig(cfg, "gs_config.calibration.kCustomCalibrationRigPositionFromCamera2", Vec3{}),
	}
	return t
}

func rigConfigKey(key rigKey, num Number) string {
	rig := "StraightOut"
	if key.rig == RigSkewed {
		rig = "Skewed"
	}
	return fmt.Sprintf("gs_config.calibration.kAutoCalibrationBallPositionFromCam%dMetersFor%sCamerasV%dEnclosure",
		num, rig, key.enclosure)
}

func vecFromConfig(cfg *config.Store, key string, def Vec3) Vec3 {
	if cfg == nil {
		return def
	}
	vals := cfg.GetFloats(key, nil)
	if len(vals) != 3 {
		return def
	}
	return Vec3{vals[0], vals[1], vals[2]}
}

// BallPosition returns the known ball offset from the given camera for the
// rig and enclosure combination.
func (t *RigTable) BallPosition(rig RigType, enclosure Enclosure, num Number) (Vec3, error) {
	var offsets RigOffsets
	switch rig {
	case RigCustom:
		offsets = t.custom
	case RigStraight, RigSkewed:
		var ok bool
		offsets, ok = t.offsets[rigKey{rig, enclosure}]
		if !ok {
			return Vec3{}, fmt.Errorf("no rig offsets for rig %d enclosure %d", rig, enclosure)
		}
	default:
		return Vec3{}, fmt.Errorf("unknown calibration rig type %d", rig)
	}

	switch num {
	case Camera1:
		return offsets.Cam1, nil
	case Camera2:
		return offsets.Cam2, nil
	}
	return Vec3{}, fmt.Errorf("unknown camera number %d", num)
}
