package transfer

import (
	"github.com/rflorenc/towerxfer/internal/models"
)

// updatePayload returns the fields to write to turn existing into proposed.
// Fields only present remotely are reset to their schema default. An empty
// result means the object is already up to date.
func updatePayload(schema Schema, proposed, existing models.Resource) models.Resource {
	payload := make(models.Resource)
	for field, value := range proposed {
		current, ok := existing[field]
		if !ok || !fieldEqual(field, value, current) {
			payload[field] = value
		}
	}
	if schema == nil {
		return payload
	}
	for field := range existing {
		if _, ok := proposed[field]; ok {
			continue
		}
		if spec, ok := schema[field]; ok {
			payload[field] = spec.Default
		}
	}
	return payload
}
