package transfer

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/rs/zerolog"

	"github.com/rflorenc/towerxfer/internal/models"
	"github.com/rflorenc/towerxfer/internal/platform"
)

// session holds the per-run collaborators shared by the exporter, importer
// and cleaner. A session is never reused across runs.
type session struct {
	reg      Registry
	schemas  *SchemaCache
	resolver *Resolver
	report   *Reporter
	log      zerolog.Logger
}

func newSession(reg Registry, report *Reporter) *session {
	log := report.Logger()
	return &session{
		reg:      reg,
		schemas:  NewSchemaCache(reg, log),
		resolver: NewResolver(reg),
		report:   report,
		log:      log,
	}
}

// lookupFailure is a selected name that could not be fetched.
type lookupFailure struct {
	name string
	err  error
}

// selectObjects fetches the objects a pick names.
func (s *session) selectObjects(t AssetType, pick Pick) ([]models.Resource, []lookupFailure) {
	if pick.All {
		objs, err := s.reg.List(t.Kind(), nil)
		if err != nil {
			return nil, []lookupFailure{{name: "all", err: err}}
		}
		return objs, nil
	}
	var (
		objs     []models.Resource
		failures []lookupFailure
	)
	for _, name := range pick.Names {
		obj, err := s.reg.Get(t.Kind(), url.Values{IdentityField(t.Kind()): {name}})
		if err != nil {
			failures = append(failures, lookupFailure{name: name, err: err})
			continue
		}
		objs = append(objs, obj)
	}
	return objs, failures
}

// schemaFor returns the schema of kind, failing when the endpoint does not
// advertise one.
func (s *session) schemaFor(kind platform.Kind) (Schema, error) {
	schema, err := s.schemas.Options(kind)
	if err != nil {
		return nil, err
	}
	if schema == nil {
		return nil, fmt.Errorf("%s: endpoint advertises no create schema", kind)
	}
	return schema, nil
}

// projectChild projects a related object and drops the fields that tie it to
// its parent.
func (s *session) projectChild(kind platform.Kind, obj models.Resource, drop ...string) (models.Resource, error) {
	schema, err := s.schemaFor(kind)
	if err != nil {
		return nil, err
	}
	out := ProjectFields(schema, obj)
	for _, d := range drop {
		delete(out, d)
	}
	return blankResource(out), nil
}

// namesToIDs swaps dependency names for IDs in fields.
func (s *session) namesToIDs(fields models.Resource, deps []Dependency) error {
	var errs []error
	for _, dep := range deps {
		v, ok := fields[dep.Field]
		if !ok || isEmpty(v) {
			continue
		}
		id, err := s.resolver.Resolve(dep.Type.Kind(), v)
		if err != nil {
			errs = append(errs, fmt.Errorf("resolving %s: %w", dep.Field, err))
			continue
		}
		fields[dep.Field] = id
	}
	return errors.Join(errs...)
}

// idsToNames swaps dependency IDs for names in fields.
func (s *session) idsToNames(fields models.Resource, deps []Dependency) error {
	for _, dep := range deps {
		v, ok := fields[dep.Field]
		if !ok || v == nil {
			continue
		}
		id, isNum := numericRef(v)
		if !isNum {
			continue
		}
		name, err := s.resolver.Name(dep.Type.Kind(), id)
		if err != nil {
			return fmt.Errorf("%s: %w", dep.Field, err)
		}
		fields[dep.Field] = name
	}
	return nil
}
