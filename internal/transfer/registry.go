package transfer

import (
	"net/url"

	"github.com/rflorenc/towerxfer/internal/models"
	"github.com/rflorenc/towerxfer/internal/platform"
)

// Registry is the slice of the controller API the engine needs.
// *platform.Registry satisfies it.
type Registry interface {
	Get(kind platform.Kind, filter url.Values) (models.Resource, error)
	GetByID(kind platform.Kind, id int) (models.Resource, error)
	List(kind platform.Kind, filter url.Values) ([]models.Resource, error)
	Create(kind platform.Kind, fields models.Resource) (models.Resource, error)
	Write(kind platform.Kind, id int, fields models.Resource) (models.Resource, error)
	Delete(kind platform.Kind, id int) error
	Options(kind platform.Kind) (models.Resource, error)

	Related(kind platform.Kind, id int, relation string) ([]models.Resource, error)
	GetRelated(kind platform.Kind, id int, relation string) (models.Resource, error)
	CreateRelated(kind platform.Kind, id int, relation string, fields models.Resource) (models.Resource, error)
	DeleteRelated(kind platform.Kind, id int, relation string) error
	Associate(kind platform.Kind, id int, relation string, targetID int) error
	Disassociate(kind platform.Kind, id int, relation string, targetID int) error

	Grant(roleID int, actor platform.Kind, actorID int) error
	Revoke(roleID int, actor platform.Kind, actorID int) error
	Launch(kind platform.Kind, id int, action string) (models.Resource, error)
}

var _ Registry = (*platform.Registry)(nil)
