package models

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Connection represents a configured AWX or AAP controller.
type Connection struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`   // "awx" or "aap"
	Scheme   string `json:"scheme"` // "http" or "https"
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
	Insecure bool   `json:"insecure"` // skip TLS verification
	CACert   string `json:"ca_cert,omitempty"`

	// Filled in by discovery and health checks.
	APIPrefix   string     `json:"api_prefix,omitempty"`
	Version     string     `json:"version,omitempty"`
	PingStatus  string     `json:"ping_status"`
	PingError   string     `json:"ping_error,omitempty"`
	AuthStatus  string     `json:"auth_status"`
	AuthError   string     `json:"auth_error,omitempty"`
	LastChecked *time.Time `json:"last_checked,omitempty"`
}

// BaseURL returns the full base URL for this connection.
func (c *Connection) BaseURL() string {
	return fmt.Sprintf("%s://%s:%d", c.Scheme, c.Host, c.Port)
}

// MaskedPassword returns a fixed-width mask, or "" when no password is set.
func (c *Connection) MaskedPassword() string {
	if c.Password == "" {
		return ""
	}
	return "••••••••"
}

// ApplyDefaults fills in scheme and port when they were left empty.
// AWX installs are commonly plain http, AAP always sits behind TLS.
func (c *Connection) ApplyDefaults() {
	if c.Type == "" {
		c.Type = "awx"
	}
	if c.Scheme == "" {
		if c.Type == "aap" {
			c.Scheme = "https"
		} else {
			c.Scheme = "http"
		}
	}
	if c.Port == 0 {
		if c.Scheme == "https" {
			c.Port = 443
		} else {
			c.Port = 80
		}
	}
}

// Redacted returns a copy safe to hand out over the API.
func (c *Connection) Redacted() Connection {
	out := *c
	out.Password = c.MaskedPassword()
	out.CACert = ""
	return out
}

// ConnectionStore is an in-memory thread-safe store for connections.
type ConnectionStore struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

// NewConnectionStore creates an empty connection store.
func NewConnectionStore() *ConnectionStore {
	return &ConnectionStore{conns: make(map[string]*Connection)}
}

// Create adds a new connection, assigning it a UUID.
func (s *ConnectionStore) Create(c *Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ID = uuid.New().String()
	c.PingStatus = "unknown"
	c.AuthStatus = "unknown"
	s.conns[c.ID] = c
}

// Get returns a connection by ID, or nil if not found.
func (s *ConnectionStore) Get(id string) *Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conns[id]
}

// FindByName returns the first connection with the given name.
func (s *ConnectionStore) FindByName(name string) *Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.conns {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// List returns all connections.
func (s *ConnectionStore) List() []*Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*Connection, 0, len(s.conns))
	for _, c := range s.conns {
		result = append(result, c)
	}
	return result
}

// Update replaces an existing connection's settings.
func (s *ConnectionStore) Update(c *Connection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conns[c.ID]; !ok {
		return false
	}
	s.conns[c.ID] = c
	return true
}

// Delete removes a connection by ID.
func (s *ConnectionStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conns[id]; !ok {
		return false
	}
	delete(s.conns, id)
	return true
}

// SetHealth records the outcome of a ping and an auth probe.
func (s *ConnectionStore) SetHealth(id, pingStatus, pingErr, authStatus, authErr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conns[id]
	if !ok {
		return
	}
	now := time.Now()
	c.PingStatus, c.PingError = pingStatus, pingErr
	c.AuthStatus, c.AuthError = authStatus, authErr
	c.LastChecked = &now
}

// SetVersion records the discovered controller version and API prefix.
func (s *ConnectionStore) SetVersion(id, version, apiPrefix string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.conns[id]; ok {
		c.Version = version
		c.APIPrefix = apiPrefix
	}
}
