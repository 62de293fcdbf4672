package transfer

import (
	"fmt"

	"github.com/rflorenc/towerxfer/internal/models"
	"github.com/rflorenc/towerxfer/internal/platform"
)

// Exporter reads a selection of live objects into portable assets.
type Exporter struct {
	*session
}

// NewExporter creates an Exporter for one run.
func NewExporter(reg Registry, report *Reporter) *Exporter {
	return &Exporter{session: newSession(reg, report)}
}

// Export returns the selected objects as assets in send order. Objects that
// fail are reported and left out.
func (e *Exporter) Export(sel Selection) ([]*Asset, error) {
	if len(sel) == 0 {
		return nil, ErrNoAssets
	}
	var assets []*Asset
	for _, t := range SendOrder {
		pick, ok := sel[t]
		if !ok {
			continue
		}
		objs, failures := e.selectObjects(t, pick)
		for _, f := range failures {
			e.report.Record(t, f.name, OutcomeFailed, nil, f.err)
		}
		for _, obj := range objs {
			name := stringField(obj, IdentityField(t.Kind()))
			if isManaged(obj) {
				e.log.Debug().Str("type", string(t)).Str("name", name).Msg("skipping managed object")
				continue
			}
			asset, err := e.exportObject(t, obj)
			if err != nil {
				e.report.Record(t, name, OutcomeFailed, nil, err)
				continue
			}
			e.report.Record(t, name, OutcomeOK, nil, nil)
			assets = append(assets, asset)
		}
	}
	return assets, nil
}

// exportObject projects one object and collects its relations.
func (e *Exporter) exportObject(t AssetType, obj models.Resource) (*Asset, error) {
	schema, err := e.schemaFor(t.Kind())
	if err != nil {
		return nil, err
	}
	fields := ProjectFields(schema, obj)
	identity := IdentityField(t.Kind())
	if _, ok := fields[identity]; !ok {
		fields[identity] = obj[identity]
	}
	if err := e.idsToNames(fields, dependencies[t]); err != nil {
		return nil, err
	}
	fields = blankResource(fields)

	if t == Project {
		switch stringField(fields, "scm_type") {
		case "", "Manual":
		default:
			// the controller manages the checkout directory of real SCM projects
			delete(fields, "local_path")
		}
	}

	asset := &Asset{Type: t, Fields: fields}
	id := resourceID(obj)
	for _, kind := range relationsFor[t] {
		rel, err := e.extract(t, id, kind)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", kind, err)
		}
		if rel != nil {
			asset.Relations = append(asset.Relations, rel)
		}
	}
	return asset, nil
}

// extract runs the extractor for one relation kind. It returns nil when the
// object carries nothing of that kind.
func (e *Exporter) extract(t AssetType, id int, kind RelationKind) (Relation, error) {
	k := t.Kind()
	switch kind {
	case RelLabels:
		labels, _, err := e.liveLabels(k, id)
		if err != nil || len(labels) == 0 {
			return nil, err
		}
		return labels, nil
	case RelSchedules:
		live, err := e.liveSchedules(k, id)
		if err != nil || len(live) == 0 {
			return nil, err
		}
		return Schedules(childFields(live)), nil
	case RelNotificationsStarted, RelNotificationsSuccess, RelNotificationsError:
		names, _, err := e.liveNamed(k, id, string(kind), platform.KindNotificationTemplate)
		if err != nil || len(names) == 0 {
			return nil, err
		}
		n, _ := decodeNotificationKind(kind)
		n.Names = names
		return n, nil
	case RelExtraCredentials:
		names, _, err := e.liveNamed(k, id, "credentials", platform.KindCredential)
		if err != nil || len(names) == 0 {
			return nil, err
		}
		return ExtraCredentials(names), nil
	case RelSurveySpec:
		survey, err := e.liveSurvey(k, id)
		if err != nil || survey == nil {
			return nil, err
		}
		return survey, nil
	case RelRoles:
		roles, _, err := e.liveRoles(k, id)
		if err != nil || len(roles) == 0 {
			return nil, err
		}
		return roles, nil
	case RelHosts:
		live, err := e.liveHosts(id)
		if err != nil || len(live) == 0 {
			return nil, err
		}
		return Hosts(childFields(live)), nil
	case RelGroups:
		live, err := e.liveGroups(id)
		if err != nil || len(live) == 0 {
			return nil, err
		}
		return toGroups(live), nil
	case RelInventorySources:
		live, err := e.liveInventorySources(id)
		if err != nil || len(live) == 0 {
			return nil, err
		}
		return InventorySources(childFields(live)), nil
	case RelWorkflowNodes:
		nodes, _, err := e.liveWorkflowNodes(id)
		if err != nil || len(nodes) == 0 {
			return nil, err
		}
		return nodes, nil
	}
	return nil, fmt.Errorf("no extractor for relation %q", kind)
}

// decodeNotificationKind returns an empty Notifications for a notification
// relation kind.
func decodeNotificationKind(kind RelationKind) (Notifications, bool) {
	for _, n := range notifications {
		if n == kind {
			return Notifications{Event: string(kind)[len("notification_templates_"):]}, true
		}
	}
	return Notifications{}, false
}
