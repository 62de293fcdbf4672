package models

// Resource is a generic controller object as returned by the REST API.
type Resource map[string]interface{}

// ResourceType describes an endpoint kind the registry knows how to address.
type ResourceType struct {
	Name  string `json:"name"`  // "job_template", "workflow", etc.
	Label string `json:"label"` // Human-readable: "Job Templates"
	Path  string `json:"path"`  // relative to the API prefix: "job_templates/"

	MinVersion string `json:"min_version,omitempty"` // first AWX version serving the endpoint
	MaxVersion string `json:"max_version,omitempty"` // first AWX version without it
}

// Clone returns a shallow copy of r.
func (r Resource) Clone() Resource {
	out := make(Resource, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
