package transfer

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/rflorenc/towerxfer/internal/models"
	"github.com/rflorenc/towerxfer/internal/platform"
)

// schemaDocs are trimmed OPTIONS actions.POST sections for the kinds the
// tests touch.
var schemaDocs = map[platform.Kind]string{
	platform.KindUser: `{
		"username": {"type": "string", "required": true, "max_length": 150},
		"password": {"type": "string", "required": true},
		"email": {"type": "string", "required": false, "default": ""},
		"is_superuser": {"type": "boolean", "required": false, "default": false}}`,
	platform.KindOrganization: `{
		"name": {"type": "string", "required": true, "max_length": 512},
		"description": {"type": "string", "required": false, "default": ""}}`,
	platform.KindTeam: `{
		"name": {"type": "string", "required": true},
		"organization": {"type": "id", "required": true},
		"description": {"type": "string", "required": false, "default": ""}}`,
	platform.KindCredentialType: `{
		"name": {"type": "string", "required": true},
		"kind": {"type": "choice", "required": true, "choices": [["cloud", "Cloud"], ["net", "Network"]]},
		"inputs": {"type": "json", "required": false, "default": {}},
		"injectors": {"type": "json", "required": false, "default": {}}}`,
	platform.KindCredential: `{
		"name": {"type": "string", "required": true},
		"credential_type": {"type": "id", "required": true},
		"organization": {"type": "id", "required": false, "default": null},
		"inputs": {"type": "json", "required": false, "default": {}},
		"description": {"type": "string", "required": false, "default": ""}}`,
	platform.KindNotificationTemplate: `{
		"name": {"type": "string", "required": true},
		"organization": {"type": "id", "required": true},
		"notification_type": {"type": "choice", "required": true, "choices": [["email", "Email"], ["slack", "Slack"]]},
		"notification_configuration": {"type": "json", "required": false, "default": {}}}`,
	platform.KindProject: `{
		"name": {"type": "string", "required": true},
		"organization": {"type": "id", "required": false, "default": null},
		"scm_type": {"type": "choice", "required": false, "default": "", "choices": [["", "Manual"], ["git", "Git"]]},
		"scm_url": {"type": "string", "required": false, "default": ""},
		"local_path": {"type": "string", "required": false, "default": ""},
		"credential": {"type": "id", "required": false, "default": null}}`,
	platform.KindInventory: `{
		"name": {"type": "string", "required": true},
		"organization": {"type": "id", "required": true},
		"variables": {"type": "string", "required": false, "default": ""}}`,
	platform.KindJobTemplate: `{
		"name": {"type": "string", "required": true},
		"project": {"type": "id", "required": false, "default": null},
		"inventory": {"type": "id", "required": false, "default": null},
		"playbook": {"type": "string", "required": false, "default": ""},
		"job_type": {"type": "choice", "required": false, "default": "run", "choices": [["run", "Run"], ["check", "Check"]]},
		"extra_vars": {"type": "string", "required": false, "default": ""}}`,
	platform.KindWorkflow: `{
		"name": {"type": "string", "required": true},
		"organization": {"type": "id", "required": false, "default": null},
		"extra_vars": {"type": "string", "required": false, "default": ""}}`,
	platform.KindHost: `{
		"name": {"type": "string", "required": true},
		"variables": {"type": "string", "required": false, "default": ""},
		"enabled": {"type": "boolean", "required": false, "default": true}}`,
	platform.KindGroup: `{
		"name": {"type": "string", "required": true},
		"variables": {"type": "string", "required": false, "default": ""}}`,
	platform.KindInventorySource: `{
		"name": {"type": "string", "required": true},
		"source": {"type": "choice", "required": false, "default": "", "choices": [["", "Manual"], ["scm", "SCM"]]},
		"source_project": {"type": "id", "required": false, "default": null},
		"source_path": {"type": "string", "required": false, "default": ""}}`,
	platform.KindSchedule: `{
		"name": {"type": "string", "required": true},
		"rrule": {"type": "string", "required": true},
		"enabled": {"type": "boolean", "required": false, "default": true}}`,
}

// childRelation is a sub-list whose members point at their parent by field.
type childRelation struct {
	kind  platform.Kind
	field string
}

var childRelations = map[string]childRelation{
	"inventory/hosts":             {platform.KindHost, "inventory"},
	"inventory/groups":            {platform.KindGroup, "inventory"},
	"inventory/inventory_sources": {platform.KindInventorySource, "inventory"},
	"workflow/workflow_nodes":     {platform.KindWorkflowNode, "workflow_job_template"},
}

// assocTargets maps an association relation to the kind it links to.
var assocTargets = map[string]platform.Kind{
	"labels":                         platform.KindLabel,
	"credentials":                    platform.KindCredential,
	"notification_templates_started": platform.KindNotificationTemplate,
	"notification_templates_success": platform.KindNotificationTemplate,
	"notification_templates_error":   platform.KindNotificationTemplate,
	"hosts":                          platform.KindHost,
	"children":                       platform.KindGroup,
	"users":                          platform.KindUser,
	"teams":                          platform.KindTeam,
	"success_nodes":                  platform.KindWorkflowNode,
	"failure_nodes":                  platform.KindWorkflowNode,
	"always_nodes":                   platform.KindWorkflowNode,
}

var unifiedTypes = map[platform.Kind]string{
	platform.KindJobTemplate:     "job_template",
	platform.KindProject:         "project",
	platform.KindInventorySource: "inventory_source",
	platform.KindWorkflow:        "workflow_job_template",
}

// intrinsicRoles are created alongside every new object of a kind.
var intrinsicRoles = map[platform.Kind][]string{
	platform.KindOrganization: {"Admin", "Member"},
	platform.KindTeam:         {"Member"},
	platform.KindCredential:   {"Use"},
	platform.KindProject:      {"Use"},
	platform.KindInventory:    {"Use"},
	platform.KindJobTemplate:  {"Admin", "Execute"},
	platform.KindWorkflow:     {"Execute"},
}

// redacted lists the nested secret each kind returns as the sentinel.
var redacted = map[platform.Kind][2]string{
	platform.KindCredential:           {"inputs", "token"},
	platform.KindNotificationTemplate: {"notification_configuration", "token"},
}

type assocKey struct {
	kind     platform.Kind
	id       int
	relation string
}

// fakeController is an in-memory controller. IDs are unique across kinds
// and objects come back JSON-decoded, the way the HTTP registry returns them.
type fakeController struct {
	t       *testing.T
	seq     int
	objs    map[platform.Kind]map[int]models.Resource
	assoc   map[assocKey][]int
	surveys map[assocKey]models.Resource
	options map[platform.Kind]models.Resource

	// writes logs every mutating call.
	writes []string

	// projectUpdate shapes the project SCM update endpoints.
	projectUpdate struct {
		canUpdate bool
		launchErr error
		status    string
		polls     int
	}
}

var _ Registry = (*fakeController)(nil)

func newFakeController(t *testing.T) *fakeController {
	t.Helper()
	f := &fakeController{
		t:       t,
		objs:    make(map[platform.Kind]map[int]models.Resource),
		assoc:   make(map[assocKey][]int),
		surveys: make(map[assocKey]models.Resource),
		options: make(map[platform.Kind]models.Resource),
	}
	for kind, doc := range schemaDocs {
		var post map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(doc), &post), "schema %s", kind)
		f.options[kind] = models.Resource{"actions": map[string]interface{}{"POST": post}}
	}
	return f
}

func jsonCopy(r models.Resource) models.Resource {
	data, _ := json.Marshal(r)
	var out models.Resource
	_ = json.Unmarshal(data, &out)
	return out
}

func notFound(kind platform.Kind, what interface{}) error {
	return fmt.Errorf("%s %v: %w", kind, what, platform.ErrNotFound)
}

// add stores an object directly and returns its ID.
func (f *fakeController) add(kind platform.Kind, fields models.Resource) int {
	f.seq++
	obj := jsonCopy(fields)
	obj["id"] = f.seq
	if f.objs[kind] == nil {
		f.objs[kind] = make(map[int]models.Resource)
	}
	id := f.seq
	f.objs[kind][id] = obj
	for _, role := range intrinsicRoles[kind] {
		f.addRole(kind, id, role)
	}
	return id
}

// addRole creates an object role on kind/id.
func (f *fakeController) addRole(kind platform.Kind, id int, name string) int {
	return f.add(platform.KindRole, models.Resource{"name": name, "resource": fmt.Sprintf("%s/%d", kind, id)})
}

func (f *fakeController) link(kind platform.Kind, id int, relation string, target int) {
	key := assocKey{kind, id, relation}
	for _, t := range f.assoc[key] {
		if t == target {
			return
		}
	}
	f.assoc[key] = append(f.assoc[key], target)
	sort.Ints(f.assoc[key])
}

func (f *fakeController) unlink(kind platform.Kind, id int, relation string, target int) {
	key := assocKey{kind, id, relation}
	kept := f.assoc[key][:0]
	for _, t := range f.assoc[key] {
		if t != target {
			kept = append(kept, t)
		}
	}
	f.assoc[key] = kept
}

func (f *fakeController) record(format string, args ...interface{}) {
	f.writes = append(f.writes, fmt.Sprintf(format, args...))
}

// find returns the stored object, not a copy.
func (f *fakeController) find(kind platform.Kind, name string) models.Resource {
	for _, obj := range f.objs[kind] {
		if stringField(obj, IdentityField(kind)) == name {
			return obj
		}
	}
	return nil
}

func (f *fakeController) view(kind platform.Kind, obj models.Resource) models.Resource {
	out := jsonCopy(obj)
	delete(out, "password")
	if path, ok := redacted[kind]; ok {
		if nested, ok := out[path[0]].(map[string]interface{}); ok && !isEmpty(nested[path[1]]) {
			nested[path[1]] = SecretSentinel
		}
	}
	if kind == platform.KindWorkflowNode {
		id := resourceID(obj)
		for _, edge := range edgeRelations {
			targets := make([]interface{}, 0)
			for _, t := range f.assoc[assocKey{kind, id, edge}] {
				targets = append(targets, float64(t))
			}
			out[edge] = targets
		}
	}
	return out
}

func (f *fakeController) sorted(kind platform.Kind, keep func(models.Resource) bool) []models.Resource {
	ids := make([]int, 0, len(f.objs[kind]))
	for id, obj := range f.objs[kind] {
		if keep(obj) {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	out := make([]models.Resource, 0, len(ids))
	for _, id := range ids {
		out = append(out, f.view(kind, f.objs[kind][id]))
	}
	return out
}

func (f *fakeController) List(kind platform.Kind, filter url.Values) ([]models.Resource, error) {
	return f.sorted(kind, func(obj models.Resource) bool {
		for key, values := range filter {
			if fmt.Sprint(obj[key]) != values[0] {
				return false
			}
		}
		return true
	}), nil
}

func (f *fakeController) Get(kind platform.Kind, filter url.Values) (models.Resource, error) {
	objs, _ := f.List(kind, filter)
	switch len(objs) {
	case 0:
		return nil, notFound(kind, filter.Encode())
	case 1:
		return objs[0], nil
	}
	return nil, fmt.Errorf("%s %s: %w", kind, filter.Encode(), platform.ErrMultipleResults)
}

func (f *fakeController) GetByID(kind platform.Kind, id int) (models.Resource, error) {
	if kind == platform.KindUnifiedJobTemplate {
		for k, typ := range unifiedTypes {
			if obj, ok := f.objs[k][id]; ok {
				out := f.view(k, obj)
				out["type"] = typ
				return out, nil
			}
		}
		return nil, notFound(kind, id)
	}
	if kind == platform.KindProjectUpdate {
		f.projectUpdate.polls++
		return models.Resource{"id": id, "status": f.projectUpdate.status}, nil
	}
	obj, ok := f.objs[kind][id]
	if !ok {
		return nil, notFound(kind, id)
	}
	return f.view(kind, obj), nil
}

func (f *fakeController) Create(kind platform.Kind, fields models.Resource) (models.Resource, error) {
	for k, v := range fields {
		if v == SecretSentinel {
			f.t.Errorf("create %s: field %s carries the secret sentinel", kind, k)
		}
	}
	f.record("create %s %s", kind, stringField(fields, IdentityField(kind)))
	id := f.add(kind, fields)
	return f.view(kind, f.objs[kind][id]), nil
}

func (f *fakeController) Write(kind platform.Kind, id int, fields models.Resource) (models.Resource, error) {
	obj, ok := f.objs[kind][id]
	if !ok {
		return nil, notFound(kind, id)
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	f.record("write %s %s %s", kind, stringField(obj, IdentityField(kind)), strings.Join(keys, ","))
	update := jsonCopy(fields)
	// the sentinel keeps the stored secret
	if path, ok := redacted[kind]; ok {
		if nested, ok := update[path[0]].(map[string]interface{}); ok && nested[path[1]] == SecretSentinel {
			stored, _ := obj[path[0]].(map[string]interface{})
			nested[path[1]] = stored[path[1]]
		}
	}
	for k, v := range update {
		if v == SecretSentinel {
			f.t.Errorf("write %s: field %s carries the secret sentinel", kind, k)
		}
		obj[k] = v
	}
	return f.view(kind, obj), nil
}

func (f *fakeController) Delete(kind platform.Kind, id int) error {
	obj, ok := f.objs[kind][id]
	if !ok {
		return nil
	}
	f.record("delete %s %s", kind, stringField(obj, IdentityField(kind)))
	delete(f.objs[kind], id)
	return nil
}

func (f *fakeController) Options(kind platform.Kind) (models.Resource, error) {
	if doc, ok := f.options[kind]; ok {
		return doc, nil
	}
	return models.Resource{}, nil
}

func (f *fakeController) isChildGroup(id int) bool {
	for key, targets := range f.assoc {
		if key.kind != platform.KindGroup || key.relation != "children" {
			continue
		}
		if _, alive := f.objs[platform.KindGroup][key.id]; !alive {
			continue
		}
		for _, t := range targets {
			if t == id {
				return true
			}
		}
	}
	return false
}

func (f *fakeController) Related(kind platform.Kind, id int, relation string) ([]models.Resource, error) {
	if c, ok := childRelations[string(kind)+"/"+relation]; ok {
		return f.sorted(c.kind, func(obj models.Resource) bool { return intField(obj, c.field) == id }), nil
	}
	switch relation {
	case "root_groups":
		return f.sorted(platform.KindGroup, func(obj models.Resource) bool {
			return intField(obj, "inventory") == id && !f.isChildGroup(resourceID(obj))
		}), nil
	case "schedules":
		return f.sorted(platform.KindSchedule, func(obj models.Resource) bool {
			return intField(obj, "unified_job_template") == id
		}), nil
	case "object_roles":
		res := fmt.Sprintf("%s/%d", kind, id)
		return f.sorted(platform.KindRole, func(obj models.Resource) bool { return stringField(obj, "resource") == res }), nil
	}
	target, ok := assocTargets[relation]
	if !ok {
		return nil, fmt.Errorf("fake: no relation %s on %s", relation, kind)
	}
	var out []models.Resource
	for _, t := range f.assoc[assocKey{kind, id, relation}] {
		if obj, ok := f.objs[target][t]; ok {
			out = append(out, f.view(target, obj))
		}
	}
	return out, nil
}

func (f *fakeController) GetRelated(kind platform.Kind, id int, relation string) (models.Resource, error) {
	switch relation {
	case "survey_spec":
		if s, ok := f.surveys[assocKey{kind, id, relation}]; ok {
			return jsonCopy(s), nil
		}
		return nil, notFound(kind, relation)
	case "update":
		return models.Resource{"can_update": f.projectUpdate.canUpdate}, nil
	}
	return nil, fmt.Errorf("fake: no related object %s on %s", relation, kind)
}

func (f *fakeController) CreateRelated(kind platform.Kind, id int, relation string, fields models.Resource) (models.Resource, error) {
	if c, ok := childRelations[string(kind)+"/"+relation]; ok {
		payload := fields.Clone()
		payload[c.field] = id
		return f.Create(c.kind, payload)
	}
	switch relation {
	case "schedules":
		payload := fields.Clone()
		payload["unified_job_template"] = id
		return f.Create(platform.KindSchedule, payload)
	case "survey_spec":
		f.record("survey %s %d", kind, id)
		f.surveys[assocKey{kind, id, relation}] = jsonCopy(fields)
		return models.Resource{}, nil
	case "children", "hosts":
		parent := f.objs[kind][id]
		payload := fields.Clone()
		payload["inventory"] = intField(parent, "inventory")
		created, _ := f.Create(assocTargets[relation], payload)
		f.link(kind, id, relation, resourceID(created))
		return created, nil
	case "labels":
		created, _ := f.Create(platform.KindLabel, fields)
		f.link(kind, id, relation, resourceID(created))
		return created, nil
	}
	return nil, fmt.Errorf("fake: cannot create %s on %s", relation, kind)
}

func (f *fakeController) DeleteRelated(kind platform.Kind, id int, relation string) error {
	f.record("delete %s %d %s", kind, id, relation)
	delete(f.surveys, assocKey{kind, id, relation})
	return nil
}

func (f *fakeController) Associate(kind platform.Kind, id int, relation string, targetID int) error {
	f.record("associate %s %d %s %d", kind, id, relation, targetID)
	f.link(kind, id, relation, targetID)
	return nil
}

func (f *fakeController) Disassociate(kind platform.Kind, id int, relation string, targetID int) error {
	f.record("disassociate %s %d %s %d", kind, id, relation, targetID)
	f.unlink(kind, id, relation, targetID)
	return nil
}

func actorList(actor platform.Kind) string {
	if actor == platform.KindTeam {
		return "teams"
	}
	return "users"
}

func (f *fakeController) Grant(roleID int, actor platform.Kind, actorID int) error {
	f.record("grant %d %s %d", roleID, actor, actorID)
	f.link(platform.KindRole, roleID, actorList(actor), actorID)
	return nil
}

func (f *fakeController) Revoke(roleID int, actor platform.Kind, actorID int) error {
	f.record("revoke %d %s %d", roleID, actor, actorID)
	f.unlink(platform.KindRole, roleID, actorList(actor), actorID)
	return nil
}

func (f *fakeController) Launch(kind platform.Kind, id int, action string) (models.Resource, error) {
	f.record("launch %s %d %s", kind, id, action)
	if kind == platform.KindProject && f.projectUpdate.launchErr != nil {
		return nil, f.projectUpdate.launchErr
	}
	return models.Resource{"id": f.seq + 1000, "project_update": f.seq + 1000}, nil
}

// count returns how many objects of kind are stored.
func (f *fakeController) count(kind platform.Kind) int {
	return len(f.objs[kind])
}

func testReporter(operation string) *Reporter {
	return NewReporter(zerolog.Nop(), operation)
}
