package transfer

import (
	"errors"
	"fmt"
	"net/url"
	"sort"

	"github.com/rflorenc/towerxfer/internal/models"
	"github.com/rflorenc/towerxfer/internal/platform"
)

// liveChild is a related object as it currently exists remotely.
type liveChild struct {
	id     int
	name   string
	fields models.Resource // projected, dependency IDs swapped for names
}

func sortChildren(children []liveChild) {
	sort.Slice(children, func(i, j int) bool { return children[i].name < children[j].name })
}

func childFields(children []liveChild) []models.Resource {
	out := make([]models.Resource, len(children))
	for i, c := range children {
		out[i] = c.fields
	}
	return out
}

// liveLabels returns the labels attached to an object and their IDs by name.
func (s *session) liveLabels(kind platform.Kind, id int) (Labels, map[string]int, error) {
	objs, err := s.reg.Related(kind, id, "labels")
	if err != nil {
		return nil, nil, err
	}
	labels := make(Labels, 0, len(objs))
	ids := make(map[string]int, len(objs))
	for _, o := range objs {
		l := Label{Name: stringField(o, "name")}
		if orgID := intField(o, "organization"); orgID != 0 {
			if l.Organization, err = s.resolver.Name(platform.KindOrganization, orgID); err != nil {
				return nil, nil, fmt.Errorf("label %q: %w", l.Name, err)
			}
		}
		labels = append(labels, l)
		ids[l.Name] = resourceID(o)
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i].Name < labels[j].Name })
	return labels, ids, nil
}

// liveSchedules returns an object's schedules, projected without the parent link.
func (s *session) liveSchedules(kind platform.Kind, id int) ([]liveChild, error) {
	objs, err := s.reg.Related(kind, id, "schedules")
	if err != nil {
		return nil, err
	}
	out := make([]liveChild, 0, len(objs))
	for _, o := range objs {
		fields, err := s.projectChild(platform.KindSchedule, o, "unified_job_template")
		if err != nil {
			return nil, err
		}
		out = append(out, liveChild{id: resourceID(o), name: stringField(o, "name"), fields: fields})
	}
	sortChildren(out)
	return out, nil
}

// liveNamed returns the names and IDs of a name-only association list.
func (s *session) liveNamed(kind platform.Kind, id int, relation string, target platform.Kind) ([]string, map[string]int, error) {
	objs, err := s.reg.Related(kind, id, relation)
	if err != nil {
		return nil, nil, err
	}
	names := make([]string, 0, len(objs))
	ids := make(map[string]int, len(objs))
	for _, o := range objs {
		name := stringField(o, IdentityField(target))
		names = append(names, name)
		ids[name] = resourceID(o)
		s.resolver.Remember(target, name, resourceID(o))
	}
	sort.Strings(names)
	return names, ids, nil
}

// liveSurvey returns an object's survey, or nil when it has none.
func (s *session) liveSurvey(kind platform.Kind, id int) (SurveySpec, error) {
	spec, err := s.reg.GetRelated(kind, id, "survey_spec")
	if err != nil {
		if platform.StatusCode(err) == 404 || errors.Is(err, platform.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	questions, _ := spec["spec"].([]interface{})
	if len(questions) == 0 {
		return nil, nil
	}
	return SurveySpec(blankResource(spec)), nil
}

// liveRole is an intrinsic role and who holds it.
type liveRole struct {
	id    int
	users map[string]int
	teams map[string]int
}

// liveRoles reads every object role of an object and its holders.
func (s *session) liveRoles(kind platform.Kind, id int) (Roles, map[string]*liveRole, error) {
	objs, err := s.reg.Related(kind, id, "object_roles")
	if err != nil {
		return nil, nil, err
	}
	grants := make(Roles, 0, len(objs))
	state := make(map[string]*liveRole, len(objs))
	for _, o := range objs {
		name := stringField(o, "name")
		roleID := resourceID(o)
		users, userIDs, err := s.liveNamed(platform.KindRole, roleID, "users", platform.KindUser)
		if err != nil {
			return nil, nil, fmt.Errorf("role %q users: %w", name, err)
		}
		teams, teamIDs, err := s.liveNamed(platform.KindRole, roleID, "teams", platform.KindTeam)
		if err != nil {
			return nil, nil, fmt.Errorf("role %q teams: %w", name, err)
		}
		grants = append(grants, RoleGrant{Name: name, Users: users, Teams: teams})
		state[name] = &liveRole{id: roleID, users: userIDs, teams: teamIDs}
	}
	sort.Slice(grants, func(i, j int) bool { return grants[i].Name < grants[j].Name })
	return grants, state, nil
}

// liveHosts returns an inventory's hosts, skipping those owned by an
// inventory source.
func (s *session) liveHosts(invID int) ([]liveChild, error) {
	objs, err := s.reg.Related(platform.KindInventory, invID, "hosts")
	if err != nil {
		return nil, err
	}
	var out []liveChild
	for _, o := range objs {
		if boolField(o, "has_inventory_sources") {
			continue
		}
		fields, err := s.projectChild(platform.KindHost, o, "inventory")
		if err != nil {
			return nil, err
		}
		out = append(out, liveChild{id: resourceID(o), name: stringField(o, "name"), fields: fields})
	}
	sortChildren(out)
	return out, nil
}

// sourceDependencies are the reference fields of an inventory source.
var sourceDependencies = []Dependency{
	{"credential", Credential},
	{"source_project", Project},
	{"source_script", InventoryScript},
}

// liveInventorySources returns an inventory's sources with references as names.
func (s *session) liveInventorySources(invID int) ([]liveChild, error) {
	objs, err := s.reg.Related(platform.KindInventory, invID, "inventory_sources")
	if err != nil {
		return nil, err
	}
	out := make([]liveChild, 0, len(objs))
	for _, o := range objs {
		fields, err := s.projectChild(platform.KindInventorySource, o, "inventory")
		if err != nil {
			return nil, err
		}
		if err := s.idsToNames(fields, sourceDependencies); err != nil {
			return nil, fmt.Errorf("inventory source %q: %w", stringField(o, "name"), err)
		}
		out = append(out, liveChild{id: resourceID(o), name: stringField(o, "name"), fields: fields})
	}
	sortChildren(out)
	return out, nil
}

// liveGroup is one node of an inventory's live group tree.
type liveGroup struct {
	id       int
	fields   models.Resource
	hosts    map[string]int
	children []*liveGroup
}

func (g *liveGroup) name() string {
	return stringField(g.fields, "name")
}

// liveGroups loads the group tree of an inventory. A group reachable from
// more than one parent is kept under the first parent only.
func (s *session) liveGroups(invID int) ([]*liveGroup, error) {
	roots, err := s.reg.Related(platform.KindInventory, invID, "root_groups")
	if err != nil {
		return nil, err
	}
	return s.loadGroups(roots, make(map[int]bool))
}

func (s *session) loadGroups(objs []models.Resource, seen map[int]bool) ([]*liveGroup, error) {
	var out []*liveGroup
	for _, o := range objs {
		if boolField(o, "has_inventory_sources") || seen[resourceID(o)] {
			continue
		}
		seen[resourceID(o)] = true
		g, err := s.loadGroup(o, seen)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name() < out[j].name() })
	return out, nil
}

func (s *session) loadGroup(obj models.Resource, seen map[int]bool) (*liveGroup, error) {
	id := resourceID(obj)
	fields, err := s.projectChild(platform.KindGroup, obj, "inventory")
	if err != nil {
		return nil, err
	}
	g := &liveGroup{id: id, fields: fields, hosts: make(map[string]int)}

	hosts, err := s.reg.Related(platform.KindGroup, id, "hosts")
	if err != nil {
		return nil, fmt.Errorf("group %q hosts: %w", g.name(), err)
	}
	for _, h := range hosts {
		if boolField(h, "has_inventory_sources") {
			continue
		}
		g.hosts[stringField(h, "name")] = resourceID(h)
	}

	children, err := s.reg.Related(platform.KindGroup, id, "children")
	if err != nil {
		return nil, fmt.Errorf("group %q children: %w", g.name(), err)
	}
	if g.children, err = s.loadGroups(children, seen); err != nil {
		return nil, err
	}
	return g, nil
}

// toGroups converts a live tree into its portable form.
func toGroups(live []*liveGroup) Groups {
	out := make(Groups, 0, len(live))
	for _, g := range live {
		hosts := make([]string, 0, len(g.hosts))
		for h := range g.hosts {
			hosts = append(hosts, h)
		}
		sort.Strings(hosts)
		out = append(out, Group{Fields: g.fields, Hosts: hosts, SubGroups: toGroups(g.children)})
	}
	return out
}

// unifiedJobTypes maps a unified job template's type to the job type a
// workflow node records, and back to the endpoint kind.
var unifiedJobTypes = map[string]struct {
	jobType string
	kind    platform.Kind
}{
	"job_template":          {"job", platform.KindJobTemplate},
	"project":               {"project_update", platform.KindProject},
	"inventory_source":      {"inventory_update", platform.KindInventorySource},
	"workflow_job_template": {"workflow_job", platform.KindWorkflow},
}

// kindForJobType returns the endpoint kind a node's unified_job_type points at.
func kindForJobType(jobType string) (platform.Kind, bool) {
	for _, u := range unifiedJobTypes {
		if u.jobType == jobType {
			return u.kind, true
		}
	}
	return "", false
}

// liveWorkflowNodes reads a workflow's node graph, naming nodes node0..nodeN
// in ID order. It also returns the remote node IDs.
func (s *session) liveWorkflowNodes(wfID int) (WorkflowNodes, []int, error) {
	objs, err := s.reg.List(platform.KindWorkflowNode, url.Values{"workflow_job_template": {fmt.Sprint(wfID)}})
	if err != nil {
		return nil, nil, err
	}
	sort.Slice(objs, func(i, j int) bool { return resourceID(objs[i]) < resourceID(objs[j]) })

	ids := make([]int, len(objs))
	local := make(map[int]string, len(objs))
	for i, o := range objs {
		ids[i] = resourceID(o)
		local[ids[i]] = fmt.Sprintf("node%d", i)
	}

	nodes := make(WorkflowNodes, 0, len(objs))
	for i, o := range objs {
		n := WorkflowNode{
			Name:     local[ids[i]],
			JobType:  stringField(o, "job_type"),
			JobTags:  stringField(o, "job_tags"),
			SkipTags: stringField(o, "skip_tags"),
			Limit:    stringField(o, "limit"),
		}
		if extra, ok := o["extra_data"].(map[string]interface{}); ok && len(extra) > 0 {
			n.ExtraData = extra
		}

		ujtID := intField(o, "unified_job_template")
		if ujtID == 0 {
			return nil, ids, fmt.Errorf("workflow node %d: %w: unified job template was deleted", ids[i], ErrDanglingReference)
		}
		ujt, err := s.reg.GetByID(platform.KindUnifiedJobTemplate, ujtID)
		if err != nil {
			if errors.Is(err, platform.ErrNotFound) {
				return nil, ids, fmt.Errorf("workflow node %d: %w: unified job template %d", ids[i], ErrDanglingReference, ujtID)
			}
			return nil, ids, err
		}
		u, ok := unifiedJobTypes[stringField(ujt, "type")]
		if !ok {
			return nil, ids, fmt.Errorf("workflow node %d: unsupported unified job template type %q", ids[i], stringField(ujt, "type"))
		}
		n.UnifiedJobType, n.UnifiedJobName = u.jobType, stringField(ujt, "name")

		if invID := intField(o, "inventory"); invID != 0 {
			if n.Inventory, err = s.resolver.Name(platform.KindInventory, invID); err != nil {
				return nil, ids, fmt.Errorf("workflow node %d inventory: %w", ids[i], err)
			}
		}
		if credID := intField(o, "credential"); credID != 0 {
			if n.Credential, err = s.resolver.Name(platform.KindCredential, credID); err != nil {
				return nil, ids, fmt.Errorf("workflow node %d credential: %w", ids[i], err)
			}
		}

		for edge, dst := range map[string]*[]string{
			"success_nodes": &n.SuccessNodes,
			"failure_nodes": &n.FailureNodes,
			"always_nodes":  &n.AlwaysNodes,
		} {
			targets, _ := o[edge].([]interface{})
			for _, t := range targets {
				name, ok := local[toInt(t)]
				if !ok {
					return nil, ids, fmt.Errorf("workflow node %d: %s points at node %v outside the workflow", ids[i], edge, t)
				}
				*dst = append(*dst, name)
			}
			sort.Strings(*dst)
		}
		nodes = append(nodes, n)
	}
	return nodes, ids, nil
}
