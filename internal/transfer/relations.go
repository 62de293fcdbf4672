package transfer

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rflorenc/towerxfer/internal/models"
)

// RelationKind is the key a relation is stored under in asset_relation.
type RelationKind string

const (
	RelWorkflowNodes        RelationKind = "workflow_nodes"
	RelLabels               RelationKind = "labels"
	RelSchedules            RelationKind = "schedules"
	RelRoles                RelationKind = "roles"
	RelGroups               RelationKind = "group"
	RelHosts                RelationKind = "host"
	RelInventorySources     RelationKind = "inventory_source"
	RelNotificationsStarted RelationKind = "notification_templates_started"
	RelNotificationsSuccess RelationKind = "notification_templates_success"
	RelNotificationsError   RelationKind = "notification_templates_error"
	RelExtraCredentials     RelationKind = "extra_credentials"
	RelSurveySpec           RelationKind = "survey_spec"
)

// dispatchOrder is the order relations are extracted, written out and
// reconciled in. Hosts come before groups so group membership can find them;
// roles come last so every actor already exists.
var dispatchOrder = []RelationKind{
	RelHosts,
	RelGroups,
	RelInventorySources,
	RelExtraCredentials,
	RelLabels,
	RelNotificationsStarted,
	RelNotificationsSuccess,
	RelNotificationsError,
	RelSchedules,
	RelSurveySpec,
	RelWorkflowNodes,
	RelRoles,
}

func dispatchIndex(k RelationKind) int {
	for i, d := range dispatchOrder {
		if d == k {
			return i
		}
	}
	return len(dispatchOrder)
}

var notifications = []RelationKind{RelNotificationsStarted, RelNotificationsSuccess, RelNotificationsError}

// relationsFor lists the relation kinds each asset type carries.
var relationsFor = map[AssetType][]RelationKind{
	Organization: append(append([]RelationKind{}, notifications...), RelRoles),
	Team:         {RelRoles},
	Credential:   {RelRoles},
	Project:      append(append([]RelationKind{}, notifications...), RelSchedules, RelRoles),
	Inventory:    {RelHosts, RelGroups, RelInventorySources, RelRoles},
	JobTemplate: append(append([]RelationKind{RelExtraCredentials, RelLabels}, notifications...),
		RelSchedules, RelSurveySpec, RelRoles),
	Workflow: append(append([]RelationKind{RelLabels}, notifications...),
		RelSchedules, RelSurveySpec, RelWorkflowNodes, RelRoles),
}

// appliesTo reports whether relation kind k is meaningful for t.
func appliesTo(t AssetType, k RelationKind) bool {
	for _, r := range relationsFor[t] {
		if r == k {
			return true
		}
	}
	return false
}

// Relation is a closed set of relation payloads. Every implementation lives
// in this file; consumers switch on the concrete type.
type Relation interface {
	Kind() RelationKind
	relation()
}

// WorkflowNode is one node of a workflow graph, addressed by a local name.
type WorkflowNode struct {
	Name           string                 `json:"name"`
	UnifiedJobType string                 `json:"unified_job_type"`
	UnifiedJobName string                 `json:"unified_job_name"`
	Inventory      string                 `json:"inventory,omitempty"`
	Credential     string                 `json:"credential,omitempty"`
	JobType        string                 `json:"job_type,omitempty"`
	JobTags        string                 `json:"job_tags,omitempty"`
	SkipTags       string                 `json:"skip_tags,omitempty"`
	Limit          string                 `json:"limit,omitempty"`
	ExtraData      map[string]interface{} `json:"extra_data,omitempty"`
	SuccessNodes   []string               `json:"success_nodes,omitempty"`
	FailureNodes   []string               `json:"failure_nodes,omitempty"`
	AlwaysNodes    []string               `json:"always_nodes,omitempty"`
}

// edges returns the node's outgoing edges keyed by edge relation.
func (n WorkflowNode) edges() map[string][]string {
	return map[string][]string{
		"success_nodes": n.SuccessNodes,
		"failure_nodes": n.FailureNodes,
		"always_nodes":  n.AlwaysNodes,
	}
}

// WorkflowNodes is the workflow_nodes relation.
type WorkflowNodes []WorkflowNode

// Label is a job template or workflow label.
type Label struct {
	Name         string `json:"name"`
	Organization string `json:"organization"`
}

// Labels is the labels relation.
type Labels []Label

// Schedules is the schedules relation; each entry is projected schedule fields.
type Schedules []models.Resource

// RoleGrant lists the actors holding one intrinsic role.
type RoleGrant struct {
	Name  string   `json:"name"`
	Users []string `json:"user,omitempty"`
	Teams []string `json:"team,omitempty"`
}

// Roles is the roles relation.
type Roles []RoleGrant

// Group is one node of an inventory's group tree.
type Group struct {
	Fields    models.Resource
	Hosts     []string
	SubGroups []Group
}

// Name returns the group's name.
func (g Group) Name() string {
	return stringField(g.Fields, "name")
}

// MarshalJSON flattens the group's own fields next to hosts and sub_groups.
// Empty lists are left out; a missing key decodes as empty.
func (g Group) MarshalJSON() ([]byte, error) {
	m := make(map[string]interface{}, len(g.Fields)+2)
	for k, v := range g.Fields {
		m[k] = v
	}
	if len(g.Hosts) > 0 {
		m["hosts"] = g.Hosts
	}
	if len(g.SubGroups) > 0 {
		m["sub_groups"] = g.SubGroups
	}
	return json.Marshal(m)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (g *Group) UnmarshalJSON(data []byte) error {
	var tree struct {
		Hosts     []string `json:"hosts"`
		SubGroups []Group  `json:"sub_groups"`
	}
	if err := json.Unmarshal(data, &tree); err != nil {
		return err
	}
	var fields models.Resource
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	delete(fields, "hosts")
	delete(fields, "sub_groups")
	g.Fields, g.Hosts, g.SubGroups = fields, tree.Hosts, tree.SubGroups
	return nil
}

// Groups is the group relation: the root groups of an inventory.
type Groups []Group

// Hosts is the host relation; each entry is projected host fields.
type Hosts []models.Resource

// InventorySources is the inventory_source relation.
type InventorySources []models.Resource

// Notifications lists the notification templates attached for one event.
type Notifications struct {
	Event string // "started", "success" or "error"
	Names []string
}

// MarshalJSON writes only the names; the event lives in the key.
func (n Notifications) MarshalJSON() ([]byte, error) {
	names := n.Names
	if names == nil {
		names = []string{}
	}
	return json.Marshal(names)
}

// ExtraCredentials lists credential names attached to a job template.
type ExtraCredentials []string

// SurveySpec is a job template or workflow survey.
type SurveySpec models.Resource

func (WorkflowNodes) Kind() RelationKind    { return RelWorkflowNodes }
func (Labels) Kind() RelationKind           { return RelLabels }
func (Schedules) Kind() RelationKind        { return RelSchedules }
func (Roles) Kind() RelationKind            { return RelRoles }
func (Groups) Kind() RelationKind           { return RelGroups }
func (Hosts) Kind() RelationKind            { return RelHosts }
func (InventorySources) Kind() RelationKind { return RelInventorySources }
func (ExtraCredentials) Kind() RelationKind { return RelExtraCredentials }
func (SurveySpec) Kind() RelationKind       { return RelSurveySpec }
func (n Notifications) Kind() RelationKind {
	return RelationKind("notification_templates_" + n.Event)
}

func (WorkflowNodes) relation()    {}
func (Labels) relation()           {}
func (Schedules) relation()        {}
func (Roles) relation()            {}
func (Groups) relation()           {}
func (Hosts) relation()            {}
func (InventorySources) relation() {}
func (Notifications) relation()    {}
func (ExtraCredentials) relation() {}
func (SurveySpec) relation()       {}

// decodeRelation parses one asset_relation entry.
func decodeRelation(kind RelationKind, raw json.RawMessage) (Relation, error) {
	var (
		rel Relation
		err error
	)
	switch kind {
	case RelWorkflowNodes:
		var v WorkflowNodes
		err = json.Unmarshal(raw, &v)
		rel = v
	case RelLabels:
		var v Labels
		err = json.Unmarshal(raw, &v)
		rel = v
	case RelSchedules:
		var v Schedules
		err = json.Unmarshal(raw, &v)
		rel = v
	case RelRoles:
		var v Roles
		err = json.Unmarshal(raw, &v)
		rel = v
	case RelGroups:
		var v Groups
		err = json.Unmarshal(raw, &v)
		rel = v
	case RelHosts:
		var v Hosts
		err = json.Unmarshal(raw, &v)
		rel = v
	case RelInventorySources:
		var v InventorySources
		err = json.Unmarshal(raw, &v)
		rel = v
	case RelNotificationsStarted, RelNotificationsSuccess, RelNotificationsError:
		v := Notifications{Event: strings.TrimPrefix(string(kind), "notification_templates_")}
		err = json.Unmarshal(raw, &v.Names)
		rel = v
	case RelExtraCredentials:
		var v ExtraCredentials
		err = json.Unmarshal(raw, &v)
		rel = v
	case RelSurveySpec:
		var v SurveySpec
		err = json.Unmarshal(raw, &v)
		rel = v
	default:
		return nil, fmt.Errorf("unknown relation %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("relation %s: %w", kind, err)
	}
	return rel, nil
}
