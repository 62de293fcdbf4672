package transfer

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/rflorenc/towerxfer/internal/models"
	"github.com/rflorenc/towerxfer/internal/platform"
)

// FieldSpec describes one writable field as advertised by OPTIONS.
type FieldSpec struct {
	Type       string
	Required   bool
	Default    interface{}
	HasDefault bool
	MaxLength  int           // 0 when unbounded
	Choices    []interface{} // allowed values, nil when unconstrained

	// Unrecognized describes any part of the entry whose shape was not
	// understood. Such parts are ignored during validation.
	Unrecognized string
}

// Schema maps field name to its spec. A nil Schema means the endpoint does
// not advertise a create action.
type Schema map[string]FieldSpec

// Fields returns the schema's field names, sorted.
func (s Schema) Fields() []string {
	out := make([]string, 0, len(s))
	for f := range s {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// SchemaCache memoizes one OPTIONS call per endpoint kind for a run.
type SchemaCache struct {
	reg     Registry
	log     zerolog.Logger
	entries map[platform.Kind]Schema
}

// NewSchemaCache creates an empty cache over reg.
func NewSchemaCache(reg Registry, log zerolog.Logger) *SchemaCache {
	return &SchemaCache{reg: reg, log: log, entries: make(map[platform.Kind]Schema)}
}

// Options returns the schema for kind, fetching it on first use.
func (c *SchemaCache) Options(kind platform.Kind) (Schema, error) {
	if s, ok := c.entries[kind]; ok {
		return s, nil
	}
	raw, err := c.reg.Options(kind)
	if err != nil {
		return nil, fmt.Errorf("OPTIONS %s: %w", kind, err)
	}
	s := parseSchema(raw)
	for _, f := range s.Fields() {
		if u := s[f].Unrecognized; u != "" {
			c.log.Warn().Str("kind", string(kind)).Str("field", f).Msgf("schema: %s", u)
		}
	}
	c.entries[kind] = s
	return s, nil
}

// parseSchema reads the actions.POST section of an OPTIONS document.
func parseSchema(raw models.Resource) Schema {
	actions, ok := raw["actions"].(map[string]interface{})
	if !ok {
		return nil
	}
	post, ok := actions["POST"].(map[string]interface{})
	if !ok {
		return nil
	}
	s := make(Schema, len(post))
	for field, entry := range post {
		m, ok := entry.(map[string]interface{})
		if !ok {
			s[field] = FieldSpec{Unrecognized: fmt.Sprintf("entry is %T, not a mapping", entry)}
			continue
		}
		s[field] = parseFieldSpec(m)
	}
	return s
}

func parseFieldSpec(m map[string]interface{}) FieldSpec {
	var spec FieldSpec
	var problems []string

	spec.Type, _ = m["type"].(string)
	spec.Required, _ = m["required"].(bool)
	spec.Default, spec.HasDefault = m["default"]

	if ml, ok := m["max_length"]; ok && ml != nil {
		if n, isNum := ml.(float64); isNum {
			spec.MaxLength = int(n)
		} else {
			problems = append(problems, fmt.Sprintf("max_length %v is not a number", ml))
		}
	}

	if raw, ok := m["choices"]; ok && raw != nil {
		list, isList := raw.([]interface{})
		if !isList {
			problems = append(problems, fmt.Sprintf("choices is %T, not a list", raw))
		} else {
			for _, c := range list {
				pair, isPair := c.([]interface{})
				if !isPair || len(pair) != 2 {
					problems = append(problems, fmt.Sprintf("choice %v is not a (value, label) pair", c))
					spec.Choices = nil
					break
				}
				spec.Choices = append(spec.Choices, pair[0])
			}
		}
	}

	if len(problems) > 0 {
		spec.Unrecognized = problems[0]
		for _, p := range problems[1:] {
			spec.Unrecognized += "; " + p
		}
	}
	return spec
}

// validateFields checks fields against schema. Errors name the offending
// field; warnings cover parts of the schema that could not be interpreted.
// Fields listed in exempt may be missing even when required.
func validateFields(schema Schema, fields models.Resource, exempt map[string]bool) (warnings []string, errs []error) {
	for _, name := range schema.Fields() {
		spec := schema[name]
		if spec.Required && !exempt[name] {
			if _, ok := fields[name]; !ok {
				errs = append(errs, fmt.Errorf("required field %q is missing", name))
			}
		}
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		value := fields[name]
		spec, ok := schema[name]
		if !ok {
			errs = append(errs, fmt.Errorf("field %q is not writable on this endpoint", name))
			continue
		}
		if spec.Unrecognized != "" {
			warnings = append(warnings, fmt.Sprintf("field %q: schema not understood (%s), not validated", name, spec.Unrecognized))
		}
		if spec.MaxLength > 0 {
			if s, isStr := value.(string); isStr && len([]rune(s)) > spec.MaxLength {
				errs = append(errs, fmt.Errorf("field %q is %d characters, longer than %d", name, len([]rune(s)), spec.MaxLength))
			}
		}
		if spec.Choices != nil && value != nil && !isChoice(value, spec.Choices) {
			errs = append(errs, fmt.Errorf("field %q: %v is not one of %v", name, value, spec.Choices))
		}
	}
	return warnings, errs
}

func isChoice(v interface{}, choices []interface{}) bool {
	for _, c := range choices {
		if valuesEqual(v, c) {
			return true
		}
	}
	return false
}
