package transfer

import (
	"errors"
	"fmt"
	"net/url"
	"sort"

	"github.com/rflorenc/towerxfer/internal/models"
	"github.com/rflorenc/towerxfer/internal/platform"
)

func sortedKeys(m map[string]int) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// reconcileNamed makes a name-only association list match want.
func (i *Importer) reconcileNamed(kind platform.Kind, id int, relation string, target AssetType, want []string, run *objectRun) error {
	_, have, err := i.liveNamed(kind, id, relation, target.Kind())
	if err != nil {
		return err
	}
	wanted := make(map[string]bool, len(want))
	for _, n := range want {
		wanted[n] = true
	}

	var errs []error
	for _, name := range sortedKeys(have) {
		if wanted[name] {
			continue
		}
		if err := i.reg.Disassociate(kind, id, relation, have[name]); err != nil {
			errs = append(errs, fmt.Errorf("removing %q: %w", name, err))
			continue
		}
		run.changed = true
	}
	for _, name := range want {
		if _, ok := have[name]; ok {
			continue
		}
		targetID, err := i.resolver.Resolve(target.Kind(), name)
		if err != nil {
			if i.deferred(target, name, err) {
				run.warnf("%s %q does not exist yet, %s not attached; send again to complete", target, name, relation)
				continue
			}
			errs = append(errs, err)
			continue
		}
		if err := i.reg.Associate(kind, id, relation, targetID); err != nil {
			errs = append(errs, fmt.Errorf("adding %q: %w", name, err))
			continue
		}
		run.changed = true
	}
	return errors.Join(errs...)
}

// reconcileLabels makes an object's labels match want. Labels are created
// on demand in their organization.
func (i *Importer) reconcileLabels(kind platform.Kind, id int, want Labels, run *objectRun) error {
	have, haveIDs, err := i.liveLabels(kind, id)
	if err != nil {
		return err
	}
	haveByName := make(map[string]Label, len(have))
	for _, l := range have {
		haveByName[l.Name] = l
	}
	wantByName := make(map[string]Label, len(want))
	for _, l := range want {
		wantByName[l.Name] = l
	}

	var errs []error
	for _, l := range have {
		if w, ok := wantByName[l.Name]; ok && w == l {
			continue
		}
		if err := i.reg.Disassociate(kind, id, "labels", haveIDs[l.Name]); err != nil {
			errs = append(errs, fmt.Errorf("removing label %q: %w", l.Name, err))
			continue
		}
		run.changed = true
	}
	for _, l := range want {
		if h, ok := haveByName[l.Name]; ok && h == l {
			continue
		}
		if err := i.attachLabel(kind, id, l); err != nil {
			errs = append(errs, fmt.Errorf("label %q: %w", l.Name, err))
			continue
		}
		run.changed = true
	}
	return errors.Join(errs...)
}

func (i *Importer) attachLabel(kind platform.Kind, id int, l Label) error {
	if l.Organization == "" {
		return fmt.Errorf("no organization given")
	}
	orgID, err := i.resolver.Resolve(platform.KindOrganization, l.Organization)
	if err != nil {
		return err
	}
	existing, err := i.reg.Get(platform.KindLabel, url.Values{"name": {l.Name}, "organization": {fmt.Sprint(orgID)}})
	switch {
	case err == nil:
		return i.reg.Associate(kind, id, "labels", resourceID(existing))
	case errors.Is(err, platform.ErrNotFound):
		_, err = i.reg.CreateRelated(kind, id, "labels", models.Resource{"name": l.Name, "organization": orgID})
		return err
	}
	return err
}

// reconcileSchedules makes an object's schedules match want, keyed by name.
func (i *Importer) reconcileSchedules(kind platform.Kind, id int, want Schedules, run *objectRun) error {
	live, err := i.liveSchedules(kind, id)
	if err != nil {
		return err
	}
	schema, err := i.schemaFor(platform.KindSchedule)
	if err != nil {
		return err
	}
	haveByName := make(map[string]liveChild, len(live))
	for _, c := range live {
		haveByName[c.name] = c
	}

	var errs []error
	wanted := make(map[string]bool, len(want))
	for _, s := range want {
		name := stringField(s, "name")
		wanted[name] = true
		fields := s.Clone()
		delete(fields, "unified_job_template")
		if h, ok := haveByName[name]; ok {
			payload := updatePayload(schema, fields, h.fields)
			delete(payload, "unified_job_template")
			if len(payload) == 0 {
				continue
			}
			if _, err := i.reg.Write(platform.KindSchedule, h.id, payload); err != nil {
				errs = append(errs, fmt.Errorf("updating schedule %q: %w", name, err))
				continue
			}
		} else if _, err := i.reg.CreateRelated(kind, id, "schedules", fields); err != nil {
			errs = append(errs, fmt.Errorf("creating schedule %q: %w", name, err))
			continue
		}
		run.changed = true
	}
	for _, c := range live {
		if wanted[c.name] {
			continue
		}
		if err := i.reg.Delete(platform.KindSchedule, c.id); err != nil {
			errs = append(errs, fmt.Errorf("deleting schedule %q: %w", c.name, err))
			continue
		}
		run.changed = true
	}
	return errors.Join(errs...)
}

// reconcileSurvey replaces the survey when it differs.
func (i *Importer) reconcileSurvey(kind platform.Kind, id int, want SurveySpec, run *objectRun) error {
	have, err := i.liveSurvey(kind, id)
	if err != nil {
		return err
	}
	questions, _ := want["spec"].([]interface{})
	if len(questions) == 0 {
		if have == nil {
			return nil
		}
		if err := i.reg.DeleteRelated(kind, id, "survey_spec"); err != nil {
			return err
		}
		run.changed = true
		return nil
	}
	if have != nil && valuesEqual(map[string]interface{}(have), map[string]interface{}(want)) {
		return nil
	}
	if _, err := i.reg.CreateRelated(kind, id, "survey_spec", models.Resource(want)); err != nil {
		return err
	}
	run.changed = true
	return nil
}

// reconcileRoles grants and revokes so each listed role has exactly the
// listed holders. Roles are intrinsic to the object and never created.
func (i *Importer) reconcileRoles(kind platform.Kind, id int, want Roles, run *objectRun) error {
	_, state, err := i.liveRoles(kind, id)
	if err != nil {
		return err
	}
	var errs []error
	for _, g := range want {
		st, ok := state[g.Name]
		if !ok {
			run.warnf("role %q does not exist on this %s", g.Name, kind)
			continue
		}
		errs = append(errs, i.syncHolders(st.id, g.Name, User, g.Users, st.users, run)...)
		errs = append(errs, i.syncHolders(st.id, g.Name, Team, g.Teams, st.teams, run)...)
	}
	return errors.Join(errs...)
}

func (i *Importer) syncHolders(roleID int, role string, actor AssetType, want []string, have map[string]int, run *objectRun) []error {
	wanted := make(map[string]bool, len(want))
	for _, n := range want {
		wanted[n] = true
	}
	var errs []error
	for _, name := range sortedKeys(have) {
		if wanted[name] {
			continue
		}
		if err := i.reg.Revoke(roleID, actor.Kind(), have[name]); err != nil {
			errs = append(errs, fmt.Errorf("revoking %s from %s %q: %w", role, actor, name, err))
			continue
		}
		run.changed = true
	}
	for _, name := range want {
		if _, ok := have[name]; ok {
			continue
		}
		actorID, err := i.resolver.Resolve(actor.Kind(), name)
		if err != nil {
			if i.deferred(actor, name, err) {
				run.warnf("%s %q does not exist yet, role %s not granted", actor, name, role)
				continue
			}
			errs = append(errs, fmt.Errorf("role %s: %w", role, err))
			continue
		}
		if err := i.reg.Grant(roleID, actor.Kind(), actorID); err != nil {
			errs = append(errs, fmt.Errorf("granting %s to %s %q: %w", role, actor, name, err))
			continue
		}
		run.changed = true
	}
	return errs
}
