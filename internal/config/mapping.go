package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/knadh/koanf/v2"
)

// Converter expressions recognised in the mapping file. The mapping schema
// carries the converter bodies verbatim; only the boolean forms are defined.
const (
	convBoolTo01   = `value ? "1" : "0"`
	convBoolFrom01 = `value == "1"`
)

type validationRule struct {
	enum    []string
	min     *float64
	max     *float64
	pattern string
}

type mappingEntry struct {
	jsonPath   string
	toJSON     string
	fromJSON   string
	validation *validationRule
}

// mappingTable holds the flat-key aliases, converters, validation metadata
// and presets parsed from the YAML mapping file.
type mappingTable struct {
	entries map[string]mappingEntry
	reverse map[string]string // json path -> flat key
	presets *koanf.Koanf
}

func newMappingTable() *mappingTable {
	return &mappingTable{
		entries: map[string]mappingEntry{},
		reverse: map[string]string{},
	}
}

// load parses the mapping tree out of a loaded koanf instance. Mapping flat
// keys may themselves contain dots, so entries are discovered by walking the
// flattened key set for the known leaf names.
func (m *mappingTable) load(k *koanf.Koanf) {
	m.entries = map[string]mappingEntry{}
	m.reverse = map[string]string{}

	for path := range k.All() {
		flatKey, ok := flatKeyFromLeaf(path)
		if !ok {
			continue
		}
		if _, seen := m.entries[flatKey]; seen {
			continue
		}
		base := "mappings." + flatKey
		entry := mappingEntry{
			jsonPath: k.String(base + ".json_path"),
			toJSON:   k.String(base + ".to_json"),
			fromJSON: k.String(base + ".from_json"),
		}
		if vbase := base + ".validation"; k.Exists(vbase) {
			rule := &validationRule{
				enum:    k.Strings(vbase + ".enum"),
				pattern: k.String(vbase + ".pattern"),
			}
			if k.Exists(vbase + ".min") {
				v := k.Float64(vbase + ".min")
				rule.min = &v
			}
			if k.Exists(vbase + ".max") {
				v := k.Float64(vbase + ".max")
				rule.max = &v
			}
			entry.validation = rule
		}
		m.entries[flatKey] = entry
		if entry.jsonPath != "" {
			m.reverse[entry.jsonPath] = flatKey
		}
	}

	if k.Exists("presets") {
		m.presets = k.Cut("presets")
	} else {
		m.presets = nil
	}
}

// flatKeyFromLeaf recovers a mapping flat key from a flattened koanf path
// such as "mappings.<flat.key>.json_path".
func flatKeyFromLeaf(path string) (string, bool) {
	if !strings.HasPrefix(path, "mappings.") {
		return "", false
	}
	rest := strings.TrimPrefix(path, "mappings.")
	for _, leaf := range []string{".json_path", ".to_json", ".from_json"} {
		if strings.HasSuffix(rest, leaf) {
			return strings.TrimSuffix(rest, leaf), true
		}
	}
	// validation leaves live one level deeper: <flat>.validation.<rule>...
	if idx := strings.Index(rest, ".validation."); idx > 0 {
		return rest[:idx], true
	}
	return "", false
}

// jsonPath returns the dotted JSON path flatKey aliases, or flatKey itself.
func (m *mappingTable) jsonPath(flatKey string) string {
	if e, ok := m.entries[flatKey]; ok && e.jsonPath != "" {
		return e.jsonPath
	}
	return flatKey
}

// flatKey returns the flat key aliasing jsonPath, or jsonPath itself.
func (m *mappingTable) flatKey(jsonPath string) string {
	if k, ok := m.reverse[jsonPath]; ok {
		return k
	}
	return jsonPath
}

// convertToJSON applies the forward value converter for flatKey if declared.
func (m *mappingTable) convertToJSON(flatKey string, value interface{}) interface{} {
	e, ok := m.entries[flatKey]
	if !ok || e.toJSON != convBoolTo01 {
		return value
	}
	s := valueToString(value)
	if s == "true" || s == "1" {
		return "1"
	}
	return "0"
}

// convertFromJSON applies the reverse value converter for flatKey if declared.
func (m *mappingTable) convertFromJSON(flatKey, value string) string {
	e, ok := m.entries[flatKey]
	if !ok || e.fromJSON != convBoolFrom01 {
		return value
	}
	if value == "1" {
		return "true"
	}
	return "false"
}

// presetSettings returns the flat-key settings map for a named preset, or
// nil if the preset does not exist.
func (m *mappingTable) presetSettings(name string) map[string]interface{} {
	if m.presets == nil {
		return nil
	}
	base := name + ".settings"
	if !m.presets.Exists(base) {
		return nil
	}
	return m.presets.Cut(base).All()
}

// validatedKeys lists the flat keys that declare validation metadata.
func (m *mappingTable) validatedKeys() []string {
	keys := make([]string, 0, len(m.entries))
	for k, e := range m.entries {
		if e.validation != nil {
			keys = append(keys, k)
		}
	}
	return keys
}

// validate checks value against flatKey's validation rule, returning a
// description of the first violation or "" when valid. A missing rule or an
// unparseable rule means the value is considered valid.
func (m *mappingTable) validate(flatKey, value string) string {
	e, ok := m.entries[flatKey]
	if !ok || e.validation == nil {
		return ""
	}
	rule := e.validation

	if len(rule.enum) > 0 {
		found := false
		for _, allowed := range rule.enum {
			if allowed == value {
				found = true
				break
			}
		}
		if !found {
			return fmt.Sprintf("%s: value '%s' not in allowed values", flatKey, value)
		}
	}

	if rule.min != nil || rule.max != nil {
		num, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Sprintf("%s: value '%s' is not numeric", flatKey, value)
		}
		if rule.min != nil && num < *rule.min {
			return fmt.Sprintf("%s: value %s below minimum %g", flatKey, value, *rule.min)
		}
		if rule.max != nil && num > *rule.max {
			return fmt.Sprintf("%s: value %s above maximum %g", flatKey, value, *rule.max)
		}
	}

	if rule.pattern != "" {
		re, err := regexp.Compile("^(?:" + rule.pattern + ")$")
		if err != nil {
			return "" // unknown or broken rule: value considered valid
		}
		if !re.MatchString(value) {
			return fmt.Sprintf("%s: value '%s' does not match pattern", flatKey, value)
		}
	}

	return ""
}
