package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/fairway-data/launch.report/internal/testutil"
)

const systemJSON = `{
  "gs_config": {
    "calibration": {
      "kNumberPicturesForFocalLengthAverage": 5,
      "kCalibrationRigType": 1
    },
    "cameras": {
      "kCamera1FocalLength": 6.0,
      "kCamera1Angles": [0.0, 12.5]
    },
    "ball_exposure_selection": {
      "kUsePreImageSubtraction": "0"
    }
  },
  "a": { "b": 1 },
  "detector": { "mode": "hough" }
}`

const mappingsYAML = `mappings:
  pre_image_subtraction:
    json_path: gs_config.ball_exposure_selection.kUsePreImageSubtraction
    to_json: 'value ? "1" : "0"'
    from_json: 'value == "1"'
  rig_type:
    json_path: gs_config.calibration.kCalibrationRigType
    validation:
      min: 1
      max: 3
  detector.mode:
    json_path: detector.mode
    validation:
      enum: [hough, placed, neural]
  camera.id:
    json_path: cameras.id
    validation:
      pattern: 'cam[12]'
presets:
  indoor:
    settings:
      detector.mode: placed
      strobe.pulses: 4
`

func newTestStore(t *testing.T, userJSON string, cli map[string]string) *Store {
	t.Helper()
	dir := t.TempDir()
	systemPath := filepath.Join(dir, "golf_sim_config.json")
	require.NoError(t, os.WriteFile(systemPath, []byte(systemJSON), 0o644))

	userPath := ""
	if userJSON != "" {
		userPath = filepath.Join(dir, "user_settings.json")
		require.NoError(t, os.WriteFile(userPath, []byte(userJSON), 0o644))
	}

	s := NewStore()
	require.NoError(t, s.LoadMappings(testutil.WriteTempFile(t, "mappings.yaml", mappingsYAML)))
	require.NoError(t, s.Initialize(systemPath, userPath, cli))
	return s
}

func TestPrecedenceChain(t *testing.T) {
	s := newTestStore(t, `{"a": {"b": 2}}`, map[string]string{"a.b": "3"})

	if got := s.GetInt("a.b", 0); got != 3 {
		t.Fatalf("runtime tier: got %d, want 3", got)
	}

	s.Unset(SourceRuntime, "a.b")
	if got := s.GetInt("a.b", 0); got != 2 {
		t.Fatalf("user tier: got %d, want 2", got)
	}

	s.Unset(SourceUser, "a.b")
	if got := s.GetInt("a.b", 0); got != 1 {
		t.Fatalf("system tier: got %d, want 1", got)
	}

	s.Unset(SourceSystem, "a.b")
	if got := s.GetInt("a.b", 0); got != 0 {
		t.Fatalf("default: got %d, want 0", got)
	}
}

func TestValueSource(t *testing.T) {
	s := newTestStore(t, `{"a": {"b": 2}}`, map[string]string{"a.b": "3"})

	tests := []struct {
		key  string
		want Source
	}{
		{"a.b", SourceRuntime},
		{"detector.mode", SourceSystem},
		{"no.such.key", SourceNone},
	}
	for _, tt := range tests {
		if got := s.ValueSource(tt.key); got != tt.want {
			t.Errorf("ValueSource(%s) = %s, want %s", tt.key, got, tt.want)
		}
	}

	s.Unset(SourceRuntime, "a.b")
	if got := s.ValueSource("a.b"); got != SourceUser {
		t.Errorf("after unset, ValueSource(a.b) = %s, want user", got)
	}
}

func TestPresetApplication(t *testing.T) {
	s := newTestStore(t, "", map[string]string{"_preset": "indoor"})

	if got := s.GetString("detector.mode", ""); got != "placed" {
		t.Errorf("detector.mode = %q, want placed (preset should shadow system default)", got)
	}
	if got := s.GetInt("strobe.pulses", 0); got != 4 {
		t.Errorf("strobe.pulses = %d, want 4", got)
	}
	// Preset settings land in the user tier, below runtime.
	if got := s.ValueSource("detector.mode"); got != SourceUser {
		t.Errorf("ValueSource(detector.mode) = %s, want user", got)
	}
}

func TestUnknownPresetLogsAndContinues(t *testing.T) {
	s := newTestStore(t, "", map[string]string{"_preset": "nonexistent"})
	if got := s.GetString("detector.mode", ""); got != "hough" {
		t.Errorf("detector.mode = %q, want system default hough", got)
	}
}

func TestTypedGetters(t *testing.T) {
	s := newTestStore(t, "", nil)

	if got := s.GetInt("gs_config.calibration.kNumberPicturesForFocalLengthAverage", 0); got != 5 {
		t.Errorf("GetInt = %d, want 5", got)
	}
	if got := s.GetFloat("gs_config.cameras.kCamera1FocalLength", 0); got != 6.0 {
		t.Errorf("GetFloat = %f, want 6.0", got)
	}
	if got := s.GetFloats("gs_config.cameras.kCamera1Angles", nil); !cmp.Equal(got, []float64{0.0, 12.5}) {
		t.Errorf("GetFloats = %v", got)
	}
	// Stored as "0"/"1" string per the legacy schema.
	if got := s.GetBool("gs_config.ball_exposure_selection.kUsePreImageSubtraction", true); got != false {
		t.Error("GetBool should parse \"0\" as false")
	}

	// Flat key alias resolves through the mapping table.
	if got := s.GetBool("pre_image_subtraction", true); got != false {
		t.Error("flat key alias should resolve to the JSON path value")
	}
}

func TestBoolParsingTolerance(t *testing.T) {
	s := newTestStore(t, "", nil)
	tests := []struct {
		raw  string
		want bool
	}{
		{"true", true}, {"1", true}, {"yes", true}, {"on", true},
		{"false", false}, {"0", false}, {"no", false}, {"off", false},
	}
	for _, tt := range tests {
		s.SetOverride("flag", tt.raw)
		if got := s.GetBool("flag", !tt.want); got != tt.want {
			t.Errorf("GetBool(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
	s.SetOverride("flag", "maybe")
	if got := s.GetBool("flag", true); got != true {
		t.Error("unparseable bool should fall back to default")
	}
}

func TestNumericParseFailureFallsBack(t *testing.T) {
	s := newTestStore(t, "", nil)
	s.SetOverride("n", "not-a-number")
	if got := s.GetInt("n", 42); got != 42 {
		t.Errorf("GetInt fallback = %d, want 42", got)
	}
	if got := s.GetFloat("n", 1.5); got != 1.5 {
		t.Errorf("GetFloat fallback = %f, want 1.5", got)
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	s := newTestStore(t, "", map[string]string{
		"rig_type":      "7",       // above max 3
		"detector.mode": "sonar",   // not in enum
		"camera.id":     "camera3", // fails pattern
	})

	errs := s.Validate()
	if len(errs) != 3 {
		t.Fatalf("Validate returned %d errors, want 3: %v", len(errs), errs)
	}
}

func TestValidateNonNumeric(t *testing.T) {
	s := newTestStore(t, "", map[string]string{"rig_type": "two"})
	errs := s.Validate()
	if len(errs) != 1 {
		t.Fatalf("Validate returned %v", errs)
	}
}

func TestValidateCleanConfig(t *testing.T) {
	s := newTestStore(t, "", map[string]string{
		"rig_type":      "2",
		"detector.mode": "neural",
		"camera.id":     "cam1",
	})
	if errs := s.Validate(); len(errs) != 0 {
		t.Fatalf("Validate returned unexpected errors: %v", errs)
	}
}

func TestExportEffective(t *testing.T) {
	s := newTestStore(t, `{"a": {"b": 2}}`, map[string]string{"a.b": "3"})

	out := filepath.Join(t.TempDir(), "effective.json")
	require.NoError(t, s.ExportEffective(out, "json"))

	verify := NewStore()
	require.NoError(t, verify.Initialize(out, "", nil))
	if got := verify.GetInt("a.b", 0); got != 3 {
		t.Errorf("exported a.b = %d, want 3", got)
	}
	if got := verify.GetString("detector.mode", ""); got != "hough" {
		t.Errorf("exported detector.mode = %q", got)
	}

	if err := s.ExportEffective(out, "toml"); err == nil {
		t.Error("unknown format should error")
	}
}

func TestReloadPreservesRuntime(t *testing.T) {
	s := newTestStore(t, `{"a": {"b": 2}}`, map[string]string{"a.b": "3"})
	require.NoError(t, s.Reload())
	if got := s.GetInt("a.b", 0); got != 3 {
		t.Errorf("after reload a.b = %d, want 3 (runtime preserved)", got)
	}
}

func TestMalformedSystemFileFatal(t *testing.T) {
	bad := testutil.WriteTempFile(t, "bad.json", "{nope")
	s := NewStore()
	testutil.AssertError(t, s.Initialize(bad, "", nil))
}

func TestMalformedUserFileNonFatal(t *testing.T) {
	dir := t.TempDir()
	systemPath := filepath.Join(dir, "sys.json")
	require.NoError(t, os.WriteFile(systemPath, []byte(systemJSON), 0o644))
	userPath := filepath.Join(dir, "user.json")
	require.NoError(t, os.WriteFile(userPath, []byte("{nope"), 0o644))

	s := NewStore()
	require.NoError(t, s.Initialize(systemPath, userPath, nil))
	if got := s.GetInt("a.b", 0); got != 1 {
		t.Errorf("a.b = %d, want system value 1", got)
	}
}

func TestMissingUserFileNonFatal(t *testing.T) {
	dir := t.TempDir()
	systemPath := filepath.Join(dir, "sys.json")
	require.NoError(t, os.WriteFile(systemPath, []byte(systemJSON), 0o644))

	s := NewStore()
	require.NoError(t, s.Initialize(systemPath, filepath.Join(dir, "absent.json"), nil))
	if got := s.GetInt("a.b", 0); got != 1 {
		t.Errorf("a.b = %d, want 1", got)
	}
}
