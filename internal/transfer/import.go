package transfer

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/rflorenc/towerxfer/internal/platform"
)

// ImportOptions tune a send run.
type ImportOptions struct {
	// Prevent aborts the run when the document holds any of these types.
	Prevent []AssetType
	// Exclude silently skips these types.
	Exclude []AssetType
	// Secrets decides how empty required secrets are filled.
	Secrets SecretPolicy
	// Prompt reads a secret under SecretsPrompt.
	Prompt PromptFunc
	// ProjectUpdateTimeout bounds the wait for a project's SCM update.
	// Zero starts the update without waiting for it.
	ProjectUpdateTimeout time.Duration
	// PollInterval is how often a running project update is checked.
	PollInterval time.Duration
}

// Importer reconciles a document against a controller.
type Importer struct {
	*session
	opts ImportOptions

	credTypes map[int]secretSet
	pending   map[AssetType]map[string]bool
}

// NewImporter creates an Importer for one run.
func NewImporter(reg Registry, report *Reporter, opts ImportOptions) *Importer {
	if opts.Secrets == "" {
		opts.Secrets = SecretsDefault
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 3 * time.Second
	}
	return &Importer{
		session:   newSession(reg, report),
		opts:      opts,
		credTypes: make(map[int]secretSet),
		pending:   make(map[AssetType]map[string]bool),
	}
}

// objectRun collects what happened while importing one asset.
type objectRun struct {
	changed  bool
	warnings []string
}

func (r *objectRun) warnf(format string, args ...interface{}) {
	r.warnings = append(r.warnings, fmt.Sprintf(format, args...))
}

// Send validates the document, then creates or updates every asset in send
// order. The only error returned is a validation abort (or a cancelled
// context); per-object failures are in the recap.
func (i *Importer) Send(ctx context.Context, assets []*Asset) (*Recap, error) {
	batches, err := i.prepare(assets)
	if err != nil {
		return nil, err
	}
	for _, t := range SendOrder {
		for _, a := range batches[t] {
			if err := ctx.Err(); err != nil {
				i.log.Warn().Msg("send cancelled")
				return i.report.Recap(), err
			}
			run := &objectRun{}
			err := i.apply(ctx, a, run)
			outcome := OutcomeOK
			switch {
			case err != nil:
				outcome = OutcomeFailed
			case run.changed:
				outcome = OutcomeChanged
			}
			i.report.Record(t, a.Name(), outcome, run.warnings, err)
		}
	}
	return i.report.Recap(), nil
}

// secretExempt lists required fields the secret policy may supply.
func secretExempt(t AssetType) map[string]bool {
	if t == User {
		return map[string]bool{"password": true}
	}
	return nil
}

// apply imports one asset: resolve references, validate, create or update,
// then reconcile relations.
func (i *Importer) apply(ctx context.Context, a *Asset, run *objectRun) error {
	t, name := a.Type, a.Name()
	kind := t.Kind()

	reduced := a.Fields.Clone()
	if err := i.namesToIDs(reduced, dependencies[t]); err != nil {
		return err
	}

	schema, err := i.schemas.Options(kind)
	if err != nil {
		return err
	}
	if schema == nil {
		run.warnf("%s advertises no create schema, fields not validated", kind)
	} else {
		warnings, errs := validateFields(schema, reduced, secretExempt(t))
		run.warnings = append(run.warnings, warnings...)
		key, set, warning, err := i.nestedConfig(t, reduced)
		if err != nil {
			return err
		}
		if warning != "" {
			run.warnf("%s", warning)
		}
		if set != nil {
			errs = append(errs, checkNestedConfig(key, set, reduced)...)
		}
		if len(errs) > 0 {
			return fmt.Errorf("%w: %w", ErrValidation, errors.Join(errs...))
		}
	}

	written := false
	obj, err := i.reg.Get(kind, url.Values{IdentityField(kind): {name}})
	switch {
	case errors.Is(err, platform.ErrNotFound):
		payload := reduced.Clone()
		if err := i.fillSecrets(t, name, reduced, payload, nil); err != nil {
			return err
		}
		if obj, err = i.reg.Create(kind, payload); err != nil {
			return fmt.Errorf("creating: %w", err)
		}
		written = true
	case err != nil:
		return fmt.Errorf("looking up: %w", err)
	default:
		if t == User {
			if v := reduced["password"]; isEmpty(v) || v == SecretSentinel {
				delete(reduced, "password")
			}
		}
		existing := obj
		if schema != nil {
			existing = blankResource(ProjectFields(schema, obj))
		}
		payload := updatePayload(schema, reduced, existing)
		if len(payload) > 0 {
			if err := i.fillSecrets(t, name, reduced, payload, obj); err != nil {
				return err
			}
		}
		if len(payload) > 0 {
			if _, err := i.reg.Write(kind, resourceID(obj), payload); err != nil {
				return fmt.Errorf("updating: %w", err)
			}
			written = true
		}
	}
	run.changed = run.changed || written

	id := resourceID(obj)
	i.resolver.Remember(kind, name, id)

	var errs []error
	for _, rel := range a.Relations {
		if err := i.reconcile(t, id, rel, run); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", rel.Kind(), err))
		}
	}

	if t == Project && written {
		i.updateProject(ctx, id, run)
	}
	return errors.Join(errs...)
}

// reconcile dispatches one relation to its reconciler.
func (i *Importer) reconcile(t AssetType, id int, rel Relation, run *objectRun) error {
	kind := t.Kind()
	switch r := rel.(type) {
	case Hosts:
		return i.reconcileHosts(id, r, run)
	case Groups:
		return i.reconcileGroups(id, r, run)
	case InventorySources:
		return i.reconcileInventorySources(id, r, run)
	case ExtraCredentials:
		return i.reconcileNamed(kind, id, "credentials", Credential, r, run)
	case Labels:
		return i.reconcileLabels(kind, id, r, run)
	case Notifications:
		return i.reconcileNamed(kind, id, string(r.Kind()), NotificationTemplate, r.Names, run)
	case Schedules:
		return i.reconcileSchedules(kind, id, r, run)
	case SurveySpec:
		return i.reconcileSurvey(kind, id, r, run)
	case WorkflowNodes:
		return i.reconcileWorkflowNodes(id, r, run)
	case Roles:
		return i.reconcileRoles(kind, id, r, run)
	}
	return fmt.Errorf("unsupported relation %T", rel)
}

// updateProject starts an SCM update after a project was written. Projects
// that cannot update (manual) are left alone; a failed update is a warning.
func (i *Importer) updateProject(ctx context.Context, id int, run *objectRun) {
	if status, err := i.reg.GetRelated(platform.KindProject, id, "update"); err == nil && !boolField(status, "can_update") {
		i.log.Debug().Int("project", id).Msg("project cannot update, skipping SCM update")
		return
	}
	job, err := i.reg.Launch(platform.KindProject, id, "update")
	if err != nil {
		switch platform.StatusCode(err) {
		case 400, 405:
			i.log.Debug().Int("project", id).Err(err).Msg("project update not started")
		default:
			run.warnf("project update: %v", err)
		}
		return
	}
	if i.opts.ProjectUpdateTimeout <= 0 {
		return
	}
	jobID := intField(job, "project_update")
	if jobID == 0 {
		jobID = resourceID(job)
	}
	if err := i.waitForProjectUpdate(ctx, jobID); err != nil {
		run.warnf("project update: %v", err)
	}
}

// waitForProjectUpdate polls a project update job until it finishes, the
// timeout passes or ctx is cancelled.
func (i *Importer) waitForProjectUpdate(ctx context.Context, jobID int) error {
	deadline := time.Now().Add(i.opts.ProjectUpdateTimeout)
	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		job, err := i.reg.GetByID(platform.KindProjectUpdate, jobID)
		if err != nil {
			return err
		}
		switch status := stringField(job, "status"); status {
		case "successful":
			return nil
		case "failed", "error", "canceled":
			return fmt.Errorf("project update %d finished with status %s", jobID, status)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(i.opts.PollInterval):
		}
	}
	return fmt.Errorf("timeout waiting for project update %d", jobID)
}

// deferred reports whether a missing target is part of this document and
// so may simply not exist yet.
func (i *Importer) deferred(t AssetType, name string, err error) bool {
	return errors.Is(err, ErrNotFound) && i.pending[t][name]
}
