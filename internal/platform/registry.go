package platform

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/rflorenc/towerxfer/internal/models"
)

// Kind names a remote endpoint family.
type Kind string

const (
	KindUser                 Kind = "user"
	KindOrganization         Kind = "organization"
	KindTeam                 Kind = "team"
	KindCredentialType       Kind = "credential_type"
	KindCredential           Kind = "credential"
	KindNotificationTemplate Kind = "notification_template"
	KindInventoryScript      Kind = "inventory_script"
	KindProject              Kind = "project"
	KindInventory            Kind = "inventory"
	KindJobTemplate          Kind = "job_template"
	KindWorkflow             Kind = "workflow"
	KindSchedule             Kind = "schedule"
	KindHost                 Kind = "host"
	KindGroup                Kind = "group"
	KindInventorySource      Kind = "inventory_source"
	KindWorkflowNode         Kind = "workflow_node"
	KindLabel                Kind = "label"
	KindRole                 Kind = "role"
	KindUnifiedJobTemplate   Kind = "unified_job_template"
	KindProjectUpdate        Kind = "project_update"
)

var (
	// ErrNotFound is returned when a lookup matches nothing.
	ErrNotFound = errors.New("not found")
	// ErrMultipleResults is returned when a lookup that must be unique matches more than one object.
	ErrMultipleResults = errors.New("multiple results")
)

// endpoints is the static table of endpoint kinds, in send order first.
var endpoints = []models.ResourceType{
	{Name: string(KindUser), Label: "Users", Path: "users/"},
	{Name: string(KindOrganization), Label: "Organizations", Path: "organizations/"},
	{Name: string(KindTeam), Label: "Teams", Path: "teams/"},
	{Name: string(KindCredentialType), Label: "Credential Types", Path: "credential_types/"},
	{Name: string(KindCredential), Label: "Credentials", Path: "credentials/"},
	{Name: string(KindNotificationTemplate), Label: "Notification Templates", Path: "notification_templates/"},
	{Name: string(KindInventoryScript), Label: "Inventory Scripts", Path: "inventory_scripts/", MaxVersion: "18.0.0"},
	{Name: string(KindProject), Label: "Projects", Path: "projects/"},
	{Name: string(KindInventory), Label: "Inventories", Path: "inventories/"},
	{Name: string(KindJobTemplate), Label: "Job Templates", Path: "job_templates/"},
	{Name: string(KindWorkflow), Label: "Workflows", Path: "workflow_job_templates/"},
	{Name: string(KindSchedule), Label: "Schedules", Path: "schedules/"},
	{Name: string(KindHost), Label: "Hosts", Path: "hosts/"},
	{Name: string(KindGroup), Label: "Groups", Path: "groups/"},
	{Name: string(KindInventorySource), Label: "Inventory Sources", Path: "inventory_sources/"},
	{Name: string(KindWorkflowNode), Label: "Workflow Nodes", Path: "workflow_job_template_nodes/"},
	{Name: string(KindLabel), Label: "Labels", Path: "labels/"},
	{Name: string(KindRole), Label: "Roles", Path: "roles/"},
	{Name: string(KindUnifiedJobTemplate), Label: "Unified Job Templates", Path: "unified_job_templates/"},
	{Name: string(KindProjectUpdate), Label: "Project Updates", Path: "project_updates/"},
}

// ResourceTypes returns the endpoint table.
func ResourceTypes() []models.ResourceType {
	out := make([]models.ResourceType, len(endpoints))
	copy(out, endpoints)
	return out
}

// ResourceTypesFor returns the endpoints a controller of connType serving
// version exposes. An unknown version keeps every endpoint. AAP controllers
// number their releases from 4.0, after every AWX removal in the table.
func ResourceTypesFor(connType, version string) []models.ResourceType {
	var out []models.ResourceType
	for _, rt := range endpoints {
		if rt.MaxVersion != "" && connType == "aap" {
			continue
		}
		if !VersionAtLeast(version, rt.MinVersion) {
			continue
		}
		if rt.MaxVersion != "" && version != "" && CompareVersions(version, rt.MaxVersion) >= 0 {
			continue
		}
		out = append(out, rt)
	}
	return out
}

func endpointPath(kind Kind) (string, error) {
	for _, rt := range endpoints {
		if rt.Name == string(kind) {
			return rt.Path, nil
		}
	}
	return "", fmt.Errorf("unknown resource kind: %s", kind)
}

// Registry is a thin typed wrapper over the controller REST API: one
// endpoint family per Kind, all paths relative to the discovered prefix.
type Registry struct {
	client *Client
	prefix string
}

// NewRegistry creates a Registry rooted at prefix (e.g. "/api/v2/").
func NewRegistry(client *Client, prefix string) *Registry {
	return &Registry{client: client, prefix: prefix}
}

// Prefix returns the API prefix the registry was built with.
func (r *Registry) Prefix() string {
	return r.prefix
}

func (r *Registry) listPath(kind Kind) (string, error) {
	p, err := endpointPath(kind)
	if err != nil {
		return "", err
	}
	return r.prefix + p, nil
}

func (r *Registry) objectPath(kind Kind, id int) (string, error) {
	p, err := r.listPath(kind)
	if err != nil {
		return "", err
	}
	return p + strconv.Itoa(id) + "/", nil
}

func (r *Registry) subPath(kind Kind, id int, sub string) (string, error) {
	p, err := r.objectPath(kind, id)
	if err != nil {
		return "", err
	}
	return p + sub + "/", nil
}

// Get returns the single object of kind matching filter.
func (r *Registry) Get(kind Kind, filter url.Values) (models.Resource, error) {
	path, err := r.listPath(kind)
	if err != nil {
		return nil, err
	}
	params := url.Values{"page_size": {"2"}}
	for k, v := range filter {
		params[k] = v
	}
	var page struct {
		Count   int               `json:"count"`
		Results []models.Resource `json:"results"`
	}
	if err := r.client.GetJSON(path, params, &page); err != nil {
		return nil, err
	}
	switch {
	case page.Count == 0 || len(page.Results) == 0:
		return nil, fmt.Errorf("%s %s: %w", kind, filter.Encode(), ErrNotFound)
	case page.Count > 1 || len(page.Results) > 1:
		return nil, fmt.Errorf("%s %s: %w", kind, filter.Encode(), ErrMultipleResults)
	}
	return page.Results[0], nil
}

// GetByID returns one object by primary key.
func (r *Registry) GetByID(kind Kind, id int) (models.Resource, error) {
	path, err := r.objectPath(kind, id)
	if err != nil {
		return nil, err
	}
	body, err := r.client.Get(path, nil)
	if err != nil {
		if StatusCode(err) == 404 {
			return nil, fmt.Errorf("%s %d: %w", kind, id, ErrNotFound)
		}
		return nil, err
	}
	return decodeResource(body)
}

// List returns every object of kind matching filter, across all pages.
func (r *Registry) List(kind Kind, filter url.Values) ([]models.Resource, error) {
	path, err := r.listPath(kind)
	if err != nil {
		return nil, err
	}
	return r.client.GetAll(path, filter)
}

// Create POSTs a new object and returns the server's representation.
func (r *Registry) Create(kind Kind, fields models.Resource) (models.Resource, error) {
	path, err := r.listPath(kind)
	if err != nil {
		return nil, err
	}
	body, _, err := r.client.Post(path, fields)
	if err != nil {
		return nil, err
	}
	return decodeResource(body)
}

// Write PATCHes the given fields onto an existing object.
func (r *Registry) Write(kind Kind, id int, fields models.Resource) (models.Resource, error) {
	path, err := r.objectPath(kind, id)
	if err != nil {
		return nil, err
	}
	body, _, err := r.client.Patch(path, fields)
	if err != nil {
		return nil, err
	}
	return decodeResource(body)
}

// Delete removes an object. Deleting something already gone is not an error.
func (r *Registry) Delete(kind Kind, id int) error {
	path, err := r.objectPath(kind, id)
	if err != nil {
		return err
	}
	return r.client.Delete(path)
}

// Options returns the raw OPTIONS document for the kind's list endpoint.
func (r *Registry) Options(kind Kind) (models.Resource, error) {
	path, err := r.listPath(kind)
	if err != nil {
		return nil, err
	}
	return r.client.Options(path)
}

// Related lists a paginated sub-collection, e.g. job_templates/7/labels/.
func (r *Registry) Related(kind Kind, id int, relation string) ([]models.Resource, error) {
	path, err := r.subPath(kind, id, relation)
	if err != nil {
		return nil, err
	}
	return r.client.GetAll(path, nil)
}

// GetRelated fetches a single sub-object, e.g. job_templates/7/survey_spec/.
func (r *Registry) GetRelated(kind Kind, id int, relation string) (models.Resource, error) {
	path, err := r.subPath(kind, id, relation)
	if err != nil {
		return nil, err
	}
	body, err := r.client.Get(path, nil)
	if err != nil {
		return nil, err
	}
	return decodeResource(body)
}

// CreateRelated POSTs a new object into a sub-collection.
func (r *Registry) CreateRelated(kind Kind, id int, relation string, fields models.Resource) (models.Resource, error) {
	path, err := r.subPath(kind, id, relation)
	if err != nil {
		return nil, err
	}
	body, _, err := r.client.Post(path, fields)
	if err != nil {
		return nil, err
	}
	return decodeResource(body)
}

// DeleteRelated DELETEs a sub-object, e.g. a survey spec.
func (r *Registry) DeleteRelated(kind Kind, id int, relation string) error {
	path, err := r.subPath(kind, id, relation)
	if err != nil {
		return err
	}
	return r.client.Delete(path)
}

// Associate links targetID into a sub-collection.
func (r *Registry) Associate(kind Kind, id int, relation string, targetID int) error {
	path, err := r.subPath(kind, id, relation)
	if err != nil {
		return err
	}
	_, _, err = r.client.Post(path, map[string]interface{}{"id": targetID})
	return err
}

// Disassociate unlinks targetID from a sub-collection without deleting it.
func (r *Registry) Disassociate(kind Kind, id int, relation string, targetID int) error {
	path, err := r.subPath(kind, id, relation)
	if err != nil {
		return err
	}
	_, _, err = r.client.Post(path, map[string]interface{}{"id": targetID, "disassociate": true})
	return err
}

// Grant gives an actor (user or team) a role.
func (r *Registry) Grant(roleID int, actor Kind, actorID int) error {
	return r.Associate(KindRole, roleID, actorRelation(actor), actorID)
}

// Revoke removes a role from an actor.
func (r *Registry) Revoke(roleID int, actor Kind, actorID int) error {
	return r.Disassociate(KindRole, roleID, actorRelation(actor), actorID)
}

func actorRelation(actor Kind) string {
	if actor == KindTeam {
		return "teams"
	}
	return "users"
}

// Launch POSTs to an action endpoint (e.g. projects/3/update/) and returns
// the job it started.
func (r *Registry) Launch(kind Kind, id int, action string) (models.Resource, error) {
	return r.CreateRelated(kind, id, action, nil)
}

// ListResources returns all objects of the named kind. It backs the
// serve-mode browse endpoint.
func (r *Registry) ListResources(kind string) ([]models.Resource, error) {
	return r.List(Kind(kind), nil)
}
