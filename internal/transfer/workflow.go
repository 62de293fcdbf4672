package transfer

import (
	"errors"
	"fmt"
	"sort"

	"github.com/rflorenc/towerxfer/internal/models"
	"github.com/rflorenc/towerxfer/internal/platform"
)

var edgeRelations = []string{"success_nodes", "failure_nodes", "always_nodes"}

// validateNodeGraph checks a workflow graph before anything is written:
// unique names, known job types, resolvable edges, no cycles and every node
// reachable from a root.
func validateNodeGraph(nodes WorkflowNodes) error {
	var errs []error
	byName := make(map[string]WorkflowNode, len(nodes))
	for idx, n := range nodes {
		switch {
		case n.Name == "":
			errs = append(errs, fmt.Errorf("workflow node %d: missing name", idx))
			continue
		case byName[n.Name].Name != "":
			errs = append(errs, fmt.Errorf("workflow node %q: duplicate name", n.Name))
			continue
		}
		byName[n.Name] = n
		if _, ok := kindForJobType(n.UnifiedJobType); !ok {
			errs = append(errs, fmt.Errorf("workflow node %q: unknown unified_job_type %q", n.Name, n.UnifiedJobType))
		}
		if n.UnifiedJobName == "" {
			errs = append(errs, fmt.Errorf("workflow node %q: missing unified_job_name", n.Name))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	incoming := make(map[string]int, len(nodes))
	for _, n := range nodes {
		for _, edge := range edgeRelations {
			for _, dst := range n.edges()[edge] {
				if _, ok := byName[dst]; !ok {
					errs = append(errs, fmt.Errorf("workflow node %q: %s target %q does not exist", n.Name, edge, dst))
					continue
				}
				incoming[dst]++
			}
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(nodes))
	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case visiting:
			return fmt.Errorf("workflow node %q: edges form a cycle", name)
		case done:
			return nil
		}
		state[name] = visiting
		n := byName[name]
		for _, edge := range edgeRelations {
			for _, dst := range n.edges()[edge] {
				if err := visit(dst); err != nil {
					return err
				}
			}
		}
		state[name] = done
		return nil
	}
	for _, n := range nodes {
		if incoming[n.Name] > 0 {
			continue
		}
		if err := visit(n.Name); err != nil {
			return err
		}
	}
	for _, n := range nodes {
		if state[n.Name] != done {
			return fmt.Errorf("workflow node %q is not reachable from a root node", n.Name)
		}
	}
	return nil
}

// canonicalNodes renames nodes to node0..nodeN in list order, the names a
// rebuilt workflow reads back as, and sorts every edge list.
func canonicalNodes(nodes WorkflowNodes) WorkflowNodes {
	rename := make(map[string]string, len(nodes))
	for idx, n := range nodes {
		rename[n.Name] = fmt.Sprintf("node%d", idx)
	}
	out := make(WorkflowNodes, len(nodes))
	for idx, n := range nodes {
		n.Name = rename[n.Name]
		for _, dst := range []*[]string{&n.SuccessNodes, &n.FailureNodes, &n.AlwaysNodes} {
			renamed := make([]string, 0, len(*dst))
			for _, d := range *dst {
				renamed = append(renamed, rename[d])
			}
			sort.Strings(renamed)
			*dst = renamed
		}
		if len(n.ExtraData) == 0 {
			n.ExtraData = nil
		}
		out[idx] = n
	}
	return out
}

// nodesEqual reports whether two graphs are structurally the same.
func nodesEqual(a, b WorkflowNodes) bool {
	if len(a) != len(b) {
		return false
	}
	return valuesEqual(canonicalNodes(a), canonicalNodes(b))
}

// nodePayload resolves one node's references into a create payload.
func (i *Importer) nodePayload(n WorkflowNode) (models.Resource, error) {
	kind, ok := kindForJobType(n.UnifiedJobType)
	if !ok {
		return nil, fmt.Errorf("unknown unified_job_type %q", n.UnifiedJobType)
	}
	ujt, err := i.resolver.Resolve(kind, n.UnifiedJobName)
	if err != nil {
		return nil, fmt.Errorf("%s %q: %w", kind, n.UnifiedJobName, err)
	}
	payload := models.Resource{"unified_job_template": ujt}
	for field, value := range map[string]string{
		"job_type":  n.JobType,
		"job_tags":  n.JobTags,
		"skip_tags": n.SkipTags,
		"limit":     n.Limit,
	} {
		if value != "" {
			payload[field] = value
		}
	}
	if len(n.ExtraData) > 0 {
		payload["extra_data"] = n.ExtraData
	}
	if n.Inventory != "" {
		if payload["inventory"], err = i.resolver.Resolve(platform.KindInventory, n.Inventory); err != nil {
			return nil, fmt.Errorf("inventory: %w", err)
		}
	}
	if n.Credential != "" {
		if payload["credential"], err = i.resolver.Resolve(platform.KindCredential, n.Credential); err != nil {
			return nil, fmt.Errorf("credential: %w", err)
		}
	}
	return payload, nil
}

// reconcileWorkflowNodes rebuilds a workflow's graph when it differs from
// want: every node reference is resolved first, then all existing nodes are
// deleted, the new nodes created and finally the edges linked.
func (i *Importer) reconcileWorkflowNodes(wfID int, want WorkflowNodes, run *objectRun) error {
	have, existing, err := i.liveWorkflowNodes(wfID)
	switch {
	case errors.Is(err, ErrDanglingReference):
		run.warnf("existing workflow graph is broken, rebuilding: %v", err)
	case err != nil:
		return err
	case nodesEqual(have, want):
		return nil
	}

	payloads := make([]models.Resource, len(want))
	var errs []error
	for idx, n := range want {
		p, err := i.nodePayload(n)
		if err != nil {
			errs = append(errs, fmt.Errorf("workflow node %q: %w", n.Name, err))
			continue
		}
		payloads[idx] = p
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	for _, id := range existing {
		if err := i.reg.Delete(platform.KindWorkflowNode, id); err != nil {
			return fmt.Errorf("deleting workflow node %d: %w", id, err)
		}
		run.changed = true
	}

	ids := make(map[string]int, len(want))
	for idx, n := range want {
		created, err := i.reg.CreateRelated(platform.KindWorkflow, wfID, "workflow_nodes", payloads[idx])
		if err != nil {
			return fmt.Errorf("creating workflow node %q: %w", n.Name, err)
		}
		ids[n.Name] = resourceID(created)
		run.changed = true
	}

	for _, n := range want {
		for _, edge := range edgeRelations {
			for _, dst := range n.edges()[edge] {
				if err := i.reg.Associate(platform.KindWorkflowNode, ids[n.Name], edge, ids[dst]); err != nil {
					errs = append(errs, fmt.Errorf("linking %s %s %s: %w", n.Name, edge, dst, err))
				}
			}
		}
	}
	return errors.Join(errs...)
}
