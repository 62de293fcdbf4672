package transfer

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/rflorenc/towerxfer/internal/platform"
)

type refKey struct {
	kind platform.Kind
	name string
}

type idKey struct {
	kind platform.Kind
	id   int
}

// Resolver turns human names into remote IDs and back, memoizing both
// directions for the lifetime of a run.
type Resolver struct {
	reg   Registry
	ids   map[refKey]int
	names map[idKey]string
}

// NewResolver creates a Resolver over reg.
func NewResolver(reg Registry) *Resolver {
	return &Resolver{
		reg:   reg,
		ids:   make(map[refKey]int),
		names: make(map[idKey]string),
	}
}

// Resolve returns the ID of the object of kind named by ref. A numeric ref
// is returned unchanged.
func (r *Resolver) Resolve(kind platform.Kind, ref interface{}) (int, error) {
	if id, ok := numericRef(ref); ok {
		return id, nil
	}
	name, ok := ref.(string)
	if !ok || name == "" {
		return 0, fmt.Errorf("%s reference %v is not a name", kind, ref)
	}
	key := refKey{kind, name}
	if id, ok := r.ids[key]; ok {
		return id, nil
	}
	obj, err := r.reg.Get(kind, url.Values{IdentityField(kind): {name}})
	if err != nil {
		switch {
		case errors.Is(err, platform.ErrNotFound):
			return 0, fmt.Errorf("%s %q: %w", kind, name, ErrNotFound)
		case errors.Is(err, platform.ErrMultipleResults):
			return 0, fmt.Errorf("%s %q: %w", kind, name, ErrAmbiguous)
		}
		return 0, fmt.Errorf("looking up %s %q: %w", kind, name, err)
	}
	id := resourceID(obj)
	r.Remember(kind, name, id)
	return id, nil
}

// Name returns the identity value of the object of kind with the given ID.
func (r *Resolver) Name(kind platform.Kind, id int) (string, error) {
	if name, ok := r.names[idKey{kind, id}]; ok {
		return name, nil
	}
	obj, err := r.reg.GetByID(kind, id)
	if err != nil {
		return "", fmt.Errorf("%s %d: %w", kind, id, err)
	}
	name := stringField(obj, IdentityField(kind))
	if name == "" {
		return "", fmt.Errorf("%s %d has no %s", kind, id, IdentityField(kind))
	}
	r.Remember(kind, name, id)
	return name, nil
}

// Remember records a name/ID pair learned elsewhere, e.g. from a create.
func (r *Resolver) Remember(kind platform.Kind, name string, id int) {
	r.ids[refKey{kind, name}] = id
	r.names[idKey{kind, id}] = name
}

// Forget drops a pair, e.g. after a delete.
func (r *Resolver) Forget(kind platform.Kind, name string) {
	key := refKey{kind, name}
	if id, ok := r.ids[key]; ok {
		delete(r.names, idKey{kind, id})
	}
	delete(r.ids, key)
}
