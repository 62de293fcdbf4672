package platform

import (
	"github.com/rs/zerolog"

	"github.com/rflorenc/towerxfer/internal/models"
)

// Platform is the connection-level view used by the serve mode to probe a
// controller and browse its objects.
type Platform interface {
	// Ping tests connectivity (unauthenticated). Returns nil if reachable.
	Ping() error

	// CheckAuth verifies credentials. Returns nil if authenticated.
	CheckAuth() error

	// ListResources returns all objects of a given kind.
	ListResources(kind string) ([]models.Resource, error)

	// GetResourceTypes returns all browsable kinds.
	GetResourceTypes() []models.ResourceType
}

// controller implements Platform for both AWX and AAP. The only difference
// between the two is the API prefix, which discovery settles.
type controller struct {
	*Registry
	connType string
	version  string
}

// NewPlatform creates the Platform for a connection, discovering the API
// prefix first when the connection does not carry one yet.
func NewPlatform(conn *models.Connection, log zerolog.Logger) Platform {
	return &controller{Registry: OpenRegistry(conn, log), connType: conn.Type, version: conn.Version}
}

// OpenRegistry returns a Registry for conn, discovering the API prefix when needed.
func OpenRegistry(conn *models.Connection, log zerolog.Logger) *Registry {
	client := NewClient(conn)
	prefix := conn.APIPrefix
	if prefix == "" {
		prefix = Discover(client, conn, log)
		conn.APIPrefix = prefix
	}
	return NewRegistry(client, prefix)
}

func (c *controller) Ping() error {
	// AAP: try gateway path first (2.5+), then the 2.4 RPM layout
	var err error
	for _, path := range PingPaths(c.connType) {
		if err = c.client.Ping(path); err == nil {
			return nil
		}
	}
	return err
}

func (c *controller) CheckAuth() error {
	return c.client.Ping(c.prefix + "me/")
}

func (c *controller) GetResourceTypes() []models.ResourceType {
	return ResourceTypesFor(c.connType, c.version)
}
