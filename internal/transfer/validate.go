package transfer

import (
	"errors"
	"fmt"
)

// prepare checks a whole document before anything is written and buckets
// the surviving assets by type. Every problem found is returned together.
func (i *Importer) prepare(assets []*Asset) (map[AssetType][]*Asset, error) {
	prevent := typeSet(i.opts.Prevent)
	exclude := typeSet(i.opts.Exclude)

	i.pending = make(map[AssetType]map[string]bool)
	batches := make(map[AssetType][]*Asset)
	var errs []error
	for idx, a := range assets {
		if a == nil {
			errs = append(errs, fmt.Errorf("asset %d: empty entry", idx+1))
			continue
		}
		if a.Type == "" {
			errs = append(errs, fmt.Errorf("asset %d: missing %s", idx+1, KeyAssetType))
			continue
		}
		if !a.Type.Valid() {
			errs = append(errs, fmt.Errorf("asset %d: unknown %s %q", idx+1, KeyAssetType, a.Type))
			continue
		}
		name := a.Name()
		if name == "" {
			errs = append(errs, fmt.Errorf("asset %d (%s): missing %s", idx+1, a.Type, IdentityField(a.Type.Kind())))
			continue
		}
		where := fmt.Sprintf("%s %q", a.Type, name)
		if prevent[a.Type] {
			errs = append(errs, fmt.Errorf("%s: asset type %s is prevented", where, a.Type))
			continue
		}
		if exclude[a.Type] {
			i.log.Info().Str("type", string(a.Type)).Str("name", name).Msg("excluded, skipping")
			continue
		}
		if i.pending[a.Type][name] {
			errs = append(errs, fmt.Errorf("%s: duplicate asset", where))
			continue
		}
		for _, rel := range a.Relations {
			if !appliesTo(a.Type, rel.Kind()) {
				errs = append(errs, fmt.Errorf("%s: relation %s does not apply to %s", where, rel.Kind(), a.Type))
			}
			if nodes, ok := rel.(WorkflowNodes); ok {
				if err := validateNodeGraph(nodes); err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", where, err))
				}
			}
		}

		if i.pending[a.Type] == nil {
			i.pending[a.Type] = make(map[string]bool)
		}
		i.pending[a.Type][name] = true
		sortRelations(a.Relations)
		batches[a.Type] = append(batches[a.Type], a)
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrValidation, errors.Join(errs...))
	}
	return batches, nil
}

func typeSet(types []AssetType) map[AssetType]bool {
	set := make(map[AssetType]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return set
}
