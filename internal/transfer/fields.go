package transfer

import (
	"encoding/json"
	"reflect"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rflorenc/towerxfer/internal/models"
)

// SecretSentinel is what the controller returns in place of a stored secret.
const SecretSentinel = "$encrypted$"

// resourceID extracts the numeric ID from a Resource.
func resourceID(r models.Resource) int {
	return toInt(r["id"])
}

// intField safely extracts an int field from a map.
func intField(obj map[string]interface{}, field string) int {
	return toInt(obj[field])
}

// stringField safely extracts a string field, returning "" if nil.
func stringField(obj map[string]interface{}, field string) string {
	if v, ok := obj[field].(string); ok {
		return v
	}
	return ""
}

// boolField safely extracts a bool field, returning false if nil.
func boolField(obj map[string]interface{}, field string) bool {
	if v, ok := obj[field].(bool); ok {
		return v
	}
	return false
}

// toInt converts various numeric types to int.
func toInt(v interface{}) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	}
	return 0
}

// numericRef returns the ID carried by ref when ref is already a number.
// Strings are always names, even when they look numeric.
func numericRef(ref interface{}) (int, bool) {
	switch v := ref.(type) {
	case float64, int, int64, json.Number:
		return toInt(v), true
	}
	return 0, false
}

// isManaged reports whether the controller owns obj (built-in credential
// types, the default execution environment, and so on).
func isManaged(obj models.Resource) bool {
	return boolField(obj, "managed_by_tower") || boolField(obj, "managed")
}

// isEmpty reports whether v is absent, null or an empty string.
func isEmpty(v interface{}) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}

// ProjectFields keeps the writable, non-default fields of live according to
// schema. Required fields are always kept.
func ProjectFields(schema Schema, live models.Resource) models.Resource {
	out := make(models.Resource)
	if schema == nil {
		return out
	}
	for field, spec := range schema {
		value, present := live[field]
		if spec.Required {
			if present {
				out[field] = value
			}
			continue
		}
		if !present {
			continue
		}
		if valuesEqual(value, spec.Default) {
			continue
		}
		out[field] = value
	}
	return out
}

// blankSecrets returns a deep copy of v with every secret sentinel replaced
// by an empty string.
func blankSecrets(v interface{}) interface{} {
	switch t := v.(type) {
	case models.Resource:
		return models.Resource(blankSecrets(map[string]interface{}(t)).(map[string]interface{}))
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = blankSecrets(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = blankSecrets(val)
		}
		return out
	case string:
		if t == SecretSentinel {
			return ""
		}
	}
	return v
}

// blankResource applies blankSecrets to a whole resource.
func blankResource(r models.Resource) models.Resource {
	return blankSecrets(r).(models.Resource)
}

// normalize round-trips v through JSON so that every number is a float64
// and every map is a map[string]interface{}.
func normalize(v interface{}) interface{} {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

// valuesEqual compares two decoded values after normalization.
func valuesEqual(a, b interface{}) bool {
	return reflect.DeepEqual(normalize(a), normalize(b))
}

// yamlFields are text fields holding YAML or JSON documents. Their textual
// form varies between exports, so they are compared by meaning.
var yamlFields = map[string]bool{
	"extra_vars": true,
	"variables":  true,
}

// fieldEqual compares one field of a proposed and an existing object.
func fieldEqual(field string, proposed, existing interface{}) bool {
	if yamlFields[field] {
		return valuesEqual(parseVars(proposed), parseVars(existing))
	}
	return valuesEqual(proposed, existing)
}

// parseVars decodes a YAML/JSON text field. Empty text and "---" are an empty
// mapping; text that does not parse is compared as text.
func parseVars(v interface{}) interface{} {
	s, ok := v.(string)
	if !ok {
		return v
	}
	trimmed := strings.TrimSpace(s)
	if trimmed == "" || trimmed == "---" {
		return map[string]interface{}{}
	}
	var out interface{}
	if err := yaml.Unmarshal([]byte(s), &out); err != nil {
		return s
	}
	if out == nil {
		return map[string]interface{}{}
	}
	return out
}
