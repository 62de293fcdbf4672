package transfer

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/rflorenc/towerxfer/internal/models"
	"github.com/rflorenc/towerxfer/internal/platform"
)

// syncChildren patches, creates and deletes the flat children of a parent so
// they match want, keyed by name. create adds one missing child.
func (i *Importer) syncChildren(kind platform.Kind, schema Schema, live []liveChild, want []models.Resource,
	prepare func(models.Resource) error, create func(models.Resource) error, run *objectRun) []error {
	haveByName := make(map[string]liveChild, len(live))
	for _, c := range live {
		haveByName[c.name] = c
	}

	var errs []error
	wanted := make(map[string]bool, len(want))
	for _, w := range want {
		name := stringField(w, "name")
		wanted[name] = true
		fields := w.Clone()
		delete(fields, "inventory")

		if h, ok := haveByName[name]; ok {
			payload := updatePayload(schema, fields, h.fields)
			if len(payload) == 0 {
				continue
			}
			if err := prepare(payload); err != nil {
				errs = append(errs, fmt.Errorf("%s %q: %w", kind, name, err))
				continue
			}
			if _, err := i.reg.Write(kind, h.id, payload); err != nil {
				errs = append(errs, fmt.Errorf("updating %s %q: %w", kind, name, err))
				continue
			}
		} else {
			if err := prepare(fields); err != nil {
				errs = append(errs, fmt.Errorf("%s %q: %w", kind, name, err))
				continue
			}
			if err := create(fields); err != nil {
				errs = append(errs, fmt.Errorf("creating %s %q: %w", kind, name, err))
				continue
			}
		}
		run.changed = true
	}
	for _, c := range live {
		if wanted[c.name] {
			continue
		}
		if err := i.reg.Delete(kind, c.id); err != nil {
			errs = append(errs, fmt.Errorf("deleting %s %q: %w", kind, c.name, err))
			continue
		}
		run.changed = true
	}
	return errs
}

func noPrepare(models.Resource) error { return nil }

// reconcileHosts makes an inventory's hand-authored hosts match want.
func (i *Importer) reconcileHosts(invID int, want Hosts, run *objectRun) error {
	live, err := i.liveHosts(invID)
	if err != nil {
		return err
	}
	schema, err := i.schemaFor(platform.KindHost)
	if err != nil {
		return err
	}
	return errors.Join(i.syncChildren(platform.KindHost, schema, live, want, noPrepare, func(fields models.Resource) error {
		_, err := i.reg.CreateRelated(platform.KindInventory, invID, "hosts", fields)
		return err
	}, run)...)
}

// reconcileInventorySources makes an inventory's sources match want. The
// comparison happens with references as names.
func (i *Importer) reconcileInventorySources(invID int, want InventorySources, run *objectRun) error {
	live, err := i.liveInventorySources(invID)
	if err != nil {
		return err
	}
	schema, err := i.schemaFor(platform.KindInventorySource)
	if err != nil {
		return err
	}
	resolve := func(fields models.Resource) error {
		return i.namesToIDs(fields, sourceDependencies)
	}
	return errors.Join(i.syncChildren(platform.KindInventorySource, schema, live, want, resolve, func(fields models.Resource) error {
		_, err := i.reg.CreateRelated(platform.KindInventory, invID, "inventory_sources", fields)
		return err
	}, run)...)
}

// groupSync carries the state of one inventory's group reconciliation.
type groupSync struct {
	invID  int
	schema Schema
	wanted map[string]bool // every group name anywhere in the new tree
	run    *objectRun
}

// reconcileGroups makes an inventory's group tree match want, level by level.
func (i *Importer) reconcileGroups(invID int, want Groups, run *objectRun) error {
	live, err := i.liveGroups(invID)
	if err != nil {
		return err
	}
	schema, err := i.schemaFor(platform.KindGroup)
	if err != nil {
		return err
	}
	gs := &groupSync{invID: invID, schema: schema, wanted: make(map[string]bool), run: run}
	collectGroupNames(want, gs.wanted)
	return errors.Join(i.syncGroups(gs, 0, want, live)...)
}

func collectGroupNames(groups Groups, into map[string]bool) {
	for _, g := range groups {
		into[g.Name()] = true
		collectGroupNames(g.SubGroups, into)
	}
}

// syncGroups reconciles the groups directly under parentID (zero for the
// inventory's root level).
func (i *Importer) syncGroups(gs *groupSync, parentID int, want Groups, live []*liveGroup) []error {
	haveByName := make(map[string]*liveGroup, len(live))
	for _, g := range live {
		haveByName[g.name()] = g
	}

	var errs []error
	here := make(map[string]bool, len(want))
	for _, g := range want {
		name := g.Name()
		here[name] = true
		current, err := i.ensureGroup(gs, parentID, g, haveByName[name])
		if err != nil {
			errs = append(errs, fmt.Errorf("group %q: %w", name, err))
			continue
		}
		if err := i.syncGroupHosts(gs, current, g.Hosts); err != nil {
			errs = append(errs, fmt.Errorf("group %q hosts: %w", name, err))
		}
		errs = append(errs, i.syncGroups(gs, current.id, g.SubGroups, current.children)...)
	}

	for _, g := range live {
		if here[g.name()] {
			continue
		}
		var err error
		switch {
		case gs.wanted[g.name()] && parentID != 0:
			// Moved elsewhere in the tree: only drop the link.
			err = i.reg.Disassociate(platform.KindGroup, parentID, "children", g.id)
		case gs.wanted[g.name()]:
			continue
		default:
			err = i.reg.Delete(platform.KindGroup, g.id)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("removing group %q: %w", g.name(), err))
			continue
		}
		gs.run.changed = true
	}
	return errs
}

// ensureGroup creates, links or patches one group and returns its live state.
func (i *Importer) ensureGroup(gs *groupSync, parentID int, g Group, have *liveGroup) (*liveGroup, error) {
	fields := g.Fields.Clone()
	delete(fields, "inventory")

	if have == nil {
		existing, err := i.reg.Get(platform.KindGroup, url.Values{"name": {g.Name()}, "inventory": {fmt.Sprint(gs.invID)}})
		switch {
		case errors.Is(err, platform.ErrNotFound):
			var created models.Resource
			if parentID == 0 {
				created, err = i.reg.CreateRelated(platform.KindInventory, gs.invID, "groups", fields)
			} else {
				created, err = i.reg.CreateRelated(platform.KindGroup, parentID, "children", fields)
			}
			if err != nil {
				return nil, err
			}
			gs.run.changed = true
			return &liveGroup{id: resourceID(created), fields: fields, hosts: map[string]int{}}, nil
		case err != nil:
			return nil, err
		}
		// The group exists elsewhere in the inventory; link it here.
		if parentID != 0 {
			if err := i.reg.Associate(platform.KindGroup, parentID, "children", resourceID(existing)); err != nil {
				return nil, err
			}
			gs.run.changed = true
		}
		if have, err = i.loadGroup(existing, make(map[int]bool)); err != nil {
			return nil, err
		}
	}

	payload := updatePayload(gs.schema, fields, have.fields)
	if len(payload) > 0 {
		if _, err := i.reg.Write(platform.KindGroup, have.id, payload); err != nil {
			return nil, err
		}
		gs.run.changed = true
	}
	return have, nil
}

// syncGroupHosts associates and disassociates hosts by name. A host missing
// from the inventory is created through the group.
func (i *Importer) syncGroupHosts(gs *groupSync, g *liveGroup, want []string) error {
	wanted := make(map[string]bool, len(want))
	for _, h := range want {
		wanted[h] = true
	}
	var errs []error
	for _, name := range sortedKeys(g.hosts) {
		if wanted[name] {
			continue
		}
		if err := i.reg.Disassociate(platform.KindGroup, g.id, "hosts", g.hosts[name]); err != nil {
			errs = append(errs, fmt.Errorf("removing %q: %w", name, err))
			continue
		}
		gs.run.changed = true
	}
	for _, name := range want {
		if _, ok := g.hosts[name]; ok {
			continue
		}
		host, err := i.reg.Get(platform.KindHost, url.Values{"name": {name}, "inventory": {fmt.Sprint(gs.invID)}})
		switch {
		case errors.Is(err, platform.ErrNotFound):
			_, err = i.reg.CreateRelated(platform.KindGroup, g.id, "hosts", models.Resource{"name": name})
		case err == nil:
			err = i.reg.Associate(platform.KindGroup, g.id, "hosts", resourceID(host))
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("adding %q: %w", name, err))
			continue
		}
		gs.run.changed = true
	}
	return errors.Join(errs...)
}
