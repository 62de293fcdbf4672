package transfer

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rflorenc/towerxfer/internal/models"
	"github.com/rflorenc/towerxfer/internal/platform"
)

// AssetType is one of the eleven transferable object kinds.
type AssetType string

const (
	User                 AssetType = "user"
	Organization         AssetType = "organization"
	Team                 AssetType = "team"
	CredentialType       AssetType = "credential_type"
	Credential           AssetType = "credential"
	NotificationTemplate AssetType = "notification_template"
	InventoryScript      AssetType = "inventory_script"
	Project              AssetType = "project"
	Inventory            AssetType = "inventory"
	JobTemplate          AssetType = "job_template"
	Workflow             AssetType = "workflow"
)

// SendOrder is the dependency order for import. Cleanup walks it backwards.
var SendOrder = []AssetType{
	User,
	Organization,
	Team,
	CredentialType,
	Credential,
	NotificationTemplate,
	InventoryScript,
	Project,
	Inventory,
	JobTemplate,
	Workflow,
}

// Kind returns the registry endpoint kind for t.
func (t AssetType) Kind() platform.Kind {
	return platform.Kind(t)
}

// Valid reports whether t is a known asset type.
func (t AssetType) Valid() bool {
	return orderIndex(t) >= 0
}

func orderIndex(t AssetType) int {
	for i, o := range SendOrder {
		if o == t {
			return i
		}
	}
	return -1
}

// ParseAssetType accepts an asset type name.
func ParseAssetType(s string) (AssetType, error) {
	t := AssetType(strings.TrimSpace(s))
	if !t.Valid() {
		return "", fmt.Errorf("unknown asset type %q", s)
	}
	return t, nil
}

// ParseAssetTypes parses a list of names, ignoring blanks.
func ParseAssetTypes(names []string) ([]AssetType, error) {
	var out []AssetType
	for _, n := range names {
		if strings.TrimSpace(n) == "" {
			continue
		}
		t, err := ParseAssetType(n)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// Dependency is a field of one asset type that references another by name.
type Dependency struct {
	Field string
	Type  AssetType
}

var dependencies = map[AssetType][]Dependency{
	Team:                 {{"organization", Organization}},
	Credential:           {{"organization", Organization}, {"credential_type", CredentialType}, {"user", User}, {"team", Team}},
	NotificationTemplate: {{"organization", Organization}},
	InventoryScript:      {{"organization", Organization}},
	Project:              {{"organization", Organization}, {"credential", Credential}},
	Inventory:            {{"organization", Organization}, {"insights_credential", Credential}},
	JobTemplate:          {{"project", Project}, {"inventory", Inventory}, {"credential", Credential}, {"vault_credential", Credential}},
	Workflow:             {{"organization", Organization}, {"inventory", Inventory}},
}

// Dependencies returns the reference fields of t.
func Dependencies(t AssetType) []Dependency {
	return dependencies[t]
}

// IdentityField returns the field that names an object of kind.
func IdentityField(kind platform.Kind) string {
	switch kind {
	case platform.KindUser:
		return "username"
	case platform.Kind(RelSchedules):
		return IdentityField(platform.KindSchedule)
	}
	return "name"
}

var (
	// ErrNoAssets is returned when a selection names nothing.
	ErrNoAssets = errors.New("no assets selected")
	// ErrValidation wraps every problem found before any write.
	ErrValidation = errors.New("validation failed")
	// ErrNotConfirmed is returned when a destructive clean was not confirmed.
	ErrNotConfirmed = errors.New("destructive clean not confirmed")
	// ErrDanglingReference marks an object that points at something deleted.
	ErrDanglingReference = errors.New("dangling reference")
	// ErrNotFound and ErrAmbiguous are returned by the identity resolver.
	ErrNotFound  = platform.ErrNotFound
	ErrAmbiguous = platform.ErrMultipleResults
)

// Pick selects either every object of a type or a list of names.
type Pick struct {
	All   bool
	Names []string
}

// Selection maps asset types to what should be picked.
type Selection map[AssetType]Pick

// SelectAll picks every object of every type.
func SelectAll() Selection {
	sel := make(Selection, len(SendOrder))
	for _, t := range SendOrder {
		sel[t] = Pick{All: true}
	}
	return sel
}

// NewSelection builds a selection from per-type name lists. The name "all"
// selects every object of that type. An empty selection is an error.
func NewSelection(all bool, names map[AssetType][]string) (Selection, error) {
	if all {
		return SelectAll(), nil
	}
	sel := make(Selection)
	for t, list := range names {
		if !t.Valid() {
			return nil, fmt.Errorf("unknown asset type %q", t)
		}
		var pick Pick
		for _, n := range list {
			switch {
			case n == "all":
				pick.All = true
			case strings.TrimSpace(n) != "":
				pick.Names = append(pick.Names, n)
			}
		}
		if pick.All || len(pick.Names) > 0 {
			sel[t] = pick
		}
	}
	if len(sel) == 0 {
		return nil, ErrNoAssets
	}
	return sel, nil
}

// Asset is one exported object: its projected fields plus its relations.
type Asset struct {
	Type      AssetType
	Fields    models.Resource
	Relations []Relation
}

// Name returns the asset's identity value.
func (a *Asset) Name() string {
	return stringField(a.Fields, IdentityField(a.Type.Kind()))
}

// Relation returns the relation of the given kind, or nil.
func (a *Asset) Relation(kind RelationKind) Relation {
	for _, r := range a.Relations {
		if r.Kind() == kind {
			return r
		}
	}
	return nil
}

// sortRelations puts relations into dispatch order.
func sortRelations(rels []Relation) {
	sort.SliceStable(rels, func(i, j int) bool {
		return dispatchIndex(rels[i].Kind()) < dispatchIndex(rels[j].Kind())
	})
}
