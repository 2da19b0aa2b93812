// Package config implements the layered configuration store.
//
// Three tiers are merged with strict precedence: runtime (CLI and
// programmatic overrides) over user (a JSON overrides file) over system (the
// shipped JSON defaults). Keys are dotted paths into the JSON tree. A legacy
// flat key may alias a dotted JSON path through the YAML mapping table, which
// also carries validation metadata and named presets.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	kjson "github.com/knadh/koanf/parsers/json"
	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/fairway-data/launch.report/internal/monitoring"
)

// Source identifies the tier a configuration value came from.
type Source string

const (
	SourceRuntime Source = "runtime"
	SourceUser    Source = "user"
	SourceSystem  Source = "system"
	SourceNone    Source = "none"
)

// DefaultUserSettingsPath returns the conventional location of the user
// overrides file.
func DefaultUserSettingsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".pitrac", "config", "user_settings.json")
}

// Store is a three-tier configuration store. The zero value is not usable;
// construct with NewStore and call Initialize.
//
// The orchestrator creates one Store and hands a read-only reference to each
// component; tests instantiate disposable stores.
type Store struct {
	mu sync.RWMutex

	systemPath string
	userPath   string

	system  *koanf.Koanf
	user    *koanf.Koanf
	runtime *koanf.Koanf

	mappings *mappingTable
}

// NewStore returns an empty store with no tiers loaded.
func NewStore() *Store {
	return &Store{
		system:   koanf.New("."),
		user:     koanf.New("."),
		runtime:  koanf.New("."),
		mappings: newMappingTable(),
	}
}

// LoadMappings reads the YAML parameter mapping file (flat key aliases,
// value converters, validation metadata, presets).
func (s *Store) LoadMappings(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), kyaml.Parser()); err != nil {
		return fmt.Errorf("loading mappings file %s: %w", path, err)
	}
	s.mappings.load(k)
	monitoring.Logf("config: loaded parameter mappings from %s", path)
	return nil
}

// Initialize loads the system and user tiers and applies CLI overrides.
// A missing or malformed user file is non-fatal; a malformed system file
// fails initialisation. If the effective `_preset` key names a preset, its
// settings are injected atop the user tier.
func (s *Store) Initialize(systemPath, userPath string, cli map[string]string) error {
	s.mu.Lock()

	s.systemPath = systemPath
	s.userPath = userPath

	if err := s.loadTiersLocked(); err != nil {
		s.mu.Unlock()
		return err
	}

	for key, value := range cli {
		if err := s.runtime.Set(key, value); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("applying CLI override %s: %w", key, err)
		}
	}
	s.mu.Unlock()

	if preset := s.GetString("_preset", ""); preset != "" {
		if err := s.ApplyPreset(preset); err != nil {
			monitoring.Logf("config: %v", err)
		}
	}
	return nil
}

func (s *Store) loadTiersLocked() error {
	s.system = koanf.New(".")
	s.user = koanf.New(".")

	if err := s.system.Load(file.Provider(s.systemPath), kjson.Parser()); err != nil {
		return fmt.Errorf("loading system config %s: %w", s.systemPath, err)
	}
	monitoring.Logf("config: loaded system defaults from %s", s.systemPath)

	if s.userPath == "" {
		return nil
	}
	if _, err := os.Stat(s.userPath); err != nil {
		monitoring.Logf("config: no user settings at %s", s.userPath)
		return nil
	}
	if err := s.user.Load(file.Provider(s.userPath), kjson.Parser()); err != nil {
		// Corrupt user settings must not take the system down.
		monitoring.Logf("config: failed to parse user settings %s: %v; continuing with system defaults", s.userPath, err)
		s.user = koanf.New(".")
		return nil
	}
	monitoring.Logf("config: loaded user settings from %s", s.userPath)
	return nil
}

// Reload re-reads the system and user files, preserving the runtime tier.
func (s *Store) Reload() error {
	s.mu.Lock()
	err := s.loadTiersLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if preset := s.GetString("_preset", ""); preset != "" {
		if err := s.ApplyPreset(preset); err != nil {
			monitoring.Logf("config: %v", err)
		}
	}
	return nil
}

// ApplyPreset injects the named preset's settings atop the user tier.
// Preset keys are flat keys; values pass through the forward converter.
func (s *Store) ApplyPreset(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings := s.mappings.presetSettings(name)
	if settings == nil {
		return fmt.Errorf("preset not found: %s", name)
	}
	monitoring.Logf("config: applying preset %s", name)
	for flatKey, value := range settings {
		path := s.mappings.jsonPath(flatKey)
		converted := s.mappings.convertToJSON(flatKey, value)
		if err := s.user.Set(path, converted); err != nil {
			return fmt.Errorf("applying preset %s key %s: %w", name, flatKey, err)
		}
	}
	return nil
}

// lookup resolves key against the tiers in precedence order, trying the key
// as given and then its mapped JSON path. The caller must hold s.mu.
func (s *Store) lookup(key string) (interface{}, Source) {
	path := s.mappings.jsonPath(key)
	for _, tier := range []struct {
		k   *koanf.Koanf
		src Source
	}{
		{s.runtime, SourceRuntime},
		{s.user, SourceUser},
		{s.system, SourceSystem},
	} {
		if tier.k.Exists(key) {
			return tier.k.Get(key), tier.src
		}
		if path != key && tier.k.Exists(path) {
			return tier.k.Get(path), tier.src
		}
	}
	return nil, SourceNone
}

// GetString returns the effective value of key, or defaultValue if unset.
func (s *Store) GetString(key, defaultValue string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, src := s.lookup(key)
	if src == SourceNone {
		return defaultValue
	}
	return valueToString(v)
}

// GetInt returns the effective value of key coerced to int. Parse failure
// falls back to defaultValue.
func (s *Store) GetInt(key string, defaultValue int) int {
	str := s.GetString(key, "")
	if str == "" {
		return defaultValue
	}
	var n int
	if _, err := fmt.Sscanf(str, "%d", &n); err != nil {
		return defaultValue
	}
	return n
}

// GetFloat returns the effective value of key coerced to float64. Parse
// failure falls back to defaultValue.
func (s *Store) GetFloat(key string, defaultValue float64) float64 {
	str := s.GetString(key, "")
	if str == "" {
		return defaultValue
	}
	var f float64
	if _, err := fmt.Sscanf(str, "%g", &f); err != nil {
		return defaultValue
	}
	return f
}

// GetBool returns the effective value of key with tolerant parsing:
// {true, 1, yes, on} and {false, 0, no, off} are accepted.
func (s *Store) GetBool(key string, defaultValue bool) bool {
	str := s.GetString(key, "")
	switch strings.ToLower(str) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	return defaultValue
}

// GetFloats returns the effective value of key as a float slice (for keys
// such as the per-camera angle pairs). Missing keys return defaultValue.
func (s *Store) GetFloats(key string, defaultValue []float64) []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	path := s.mappings.jsonPath(key)
	for _, k := range []*koanf.Koanf{s.runtime, s.user, s.system} {
		if k.Exists(key) {
			return k.Float64s(key)
		}
		if path != key && k.Exists(path) {
			return k.Float64s(path)
		}
	}
	return defaultValue
}

// HasKey reports whether key resolves in any tier.
func (s *Store) HasKey(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, src := s.lookup(key)
	return src != SourceNone
}

// SetOverride sets key in the runtime tier only.
func (s *Store) SetOverride(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.runtime.Set(key, value); err != nil {
		monitoring.Logf("config: failed to set override %s: %v", key, err)
	}
}

// Unset removes key from the given tier. Used by precedence tests.
func (s *Store) Unset(tier Source, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var k *koanf.Koanf
	switch tier {
	case SourceRuntime:
		k = s.runtime
	case SourceUser:
		k = s.user
	case SourceSystem:
		k = s.system
	default:
		return
	}
	k.Delete(key)
	if path := s.mappings.jsonPath(key); path != key {
		k.Delete(path)
	}
}

// ValueSource reports which tier the effective value of key comes from.
func (s *Store) ValueSource(key string) Source {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, src := s.lookup(key)
	return src
}

// JSONPath returns the dotted JSON path a flat key aliases, or the key
// itself if no mapping exists.
func (s *Store) JSONPath(flatKey string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mappings.jsonPath(flatKey)
}

// FlatKey returns the flat key aliasing a JSON path, or the path itself.
func (s *Store) FlatKey(jsonPath string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mappings.flatKey(jsonPath)
}

// Validate checks every mapping-table key that carries validation metadata
// against its effective value. All violations are collected; a key with no
// effective value is skipped, and unknown validation rules are ignored.
func (s *Store) Validate() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var errs []string
	for _, flatKey := range s.mappings.validatedKeys() {
		v, src := s.lookup(flatKey)
		if src == SourceNone {
			continue
		}
		if msg := s.mappings.validate(flatKey, valueToString(v)); msg != "" {
			errs = append(errs, msg)
		}
	}
	return errs
}

// EffectiveTree returns the merged view of all three tiers, runtime keys
// mapped back to their JSON paths.
func (s *Store) EffectiveTree() (*koanf.Koanf, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	merged := koanf.New(".")
	if err := merged.Merge(s.system); err != nil {
		return nil, err
	}
	if err := merged.Merge(s.user); err != nil {
		return nil, err
	}
	for key, value := range s.runtime.All() {
		if err := merged.Set(s.mappings.jsonPath(key), value); err != nil {
			return nil, err
		}
	}
	return merged, nil
}

// ExportEffective writes the merged configuration view to path in the given
// format ("json" or "yaml").
func (s *Store) ExportEffective(path, format string) error {
	merged, err := s.EffectiveTree()
	if err != nil {
		return err
	}

	var out []byte
	switch format {
	case "json":
		out, err = kjson.Parser().Marshal(merged.Raw())
	case "yaml":
		out, err = kyaml.Parser().Marshal(merged.Raw())
	default:
		return fmt.Errorf("unknown export format: %s", format)
	}
	if err != nil {
		return fmt.Errorf("marshalling effective config: %w", err)
	}
	return os.WriteFile(path, out, 0o644)
}

// SetSystemValue writes key into the system tier in memory. The calibrator
// uses this before persisting the tree back to the system file.
func (s *Store) SetSystemValue(key string, value interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.system.Set(key, value)
}

// WriteSystemFile persists the system tier to path as JSON.
func (s *Store) WriteSystemFile(path string) error {
	s.mu.RLock()
	out, err := kjson.Parser().Marshal(s.system.Raw())
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshalling system config: %w", err)
	}
	return os.WriteFile(path, out, 0o644)
}

// SystemPath returns the path the system tier was loaded from.
func (s *Store) SystemPath() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.systemPath
}

func valueToString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case float64:
		// Render integral floats without an exponent or trailing zeros so
		// numeric JSON values round-trip through GetInt.
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	default:
		return fmt.Sprintf("%v", v)
	}
}
