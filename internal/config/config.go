package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/rflorenc/towerxfer/internal/models"
)

// Environment variables read by Load.
const (
	EnvHost      = "TOWER_HOST"
	EnvUsername  = "TOWER_USERNAME"
	EnvPassword  = "TOWER_PASSWORD"
	EnvVerifySSL = "TOWER_VERIFY_SSL"
	EnvLogLevel  = "LOG_LEVEL"
)

// DefaultConnectionName names the controller built from the top-level
// settings, flags and environment.
const DefaultConnectionName = "default"

// ErrNoController is returned when a command needs a controller and none
// was configured.
var ErrNoController = errors.New("no controller configured (set --host, " + EnvHost + " or controller.host)")

// ConnectionConfig represents a controller in the config file.
type ConnectionConfig struct {
	Name     string `yaml:"name" validate:"required"`
	Type     string `yaml:"type" validate:"omitempty,oneof=awx aap"`
	Scheme   string `yaml:"scheme" validate:"omitempty,oneof=http https"`
	Host     string `yaml:"host" validate:"required"`
	Port     int    `yaml:"port" validate:"omitempty,min=1,max=65535"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Insecure bool   `yaml:"insecure"`
	CACert   string `yaml:"ca_cert" validate:"omitempty,file"`
}

// Config holds all configuration (file, environment and CLI flags).
type Config struct {
	Listen   string `yaml:"listen" validate:"hostname_port"`
	LogLevel string `yaml:"log_level" validate:"oneof=trace debug info warn error"`

	// Controller is the connection used by receive, send and empty.
	Controller *ConnectionConfig `yaml:"controller" validate:"omitempty"`
	// Connections are extra controllers offered by the serve mode.
	Connections []ConnectionConfig `yaml:"connections" validate:"dive"`

	SecretManagement     string        `yaml:"secret_management" validate:"omitempty,oneof=default prompt random"`
	ProjectUpdateTimeout time.Duration `yaml:"project_update_timeout" validate:"min=0"`
}

// Overrides are values taken from command-line flags. Empty strings and nil
// pointers mean the flag was not given.
type Overrides struct {
	Host     string
	Username string
	Password string
	Insecure *bool
	LogLevel string
	Listen   string
}

// Load reads the config file at path (optional), then overlays the
// environment, then flags. getenv is usually os.Getenv.
func Load(path string, getenv func(string) string, flags Overrides) (*Config, error) {
	c := &Config{}
	if path != "" {
		if err := c.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := c.applyEnv(getenv); err != nil {
		return nil, err
	}
	c.applyFlags(flags)
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// loadFile reads a YAML config file.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

func (c *Config) controller() *ConnectionConfig {
	if c.Controller == nil {
		c.Controller = &ConnectionConfig{}
	}
	return c.Controller
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv(EnvHost); v != "" {
		c.controller().Host = v
	}
	if v := getenv(EnvUsername); v != "" {
		c.controller().Username = v
	}
	if v := getenv(EnvPassword); v != "" {
		c.controller().Password = v
	}
	if v := getenv(EnvVerifySSL); v != "" {
		verify, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvVerifySSL, err)
		}
		c.controller().Insecure = !verify
	}
	if v := getenv(EnvLogLevel); v != "" {
		c.LogLevel = strings.ToLower(v)
	}
	return nil
}

func (c *Config) applyFlags(f Overrides) {
	if f.Host != "" {
		c.controller().Host = f.Host
	}
	if f.Username != "" {
		c.controller().Username = f.Username
	}
	if f.Password != "" {
		c.controller().Password = f.Password
	}
	if f.Insecure != nil {
		c.controller().Insecure = *f.Insecure
	}
	if f.LogLevel != "" {
		c.LogLevel = strings.ToLower(f.LogLevel)
	}
	if f.Listen != "" {
		c.Listen = f.Listen
	}
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = ":8080"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.ProjectUpdateTimeout == 0 {
		c.ProjectUpdateTimeout = 5 * time.Minute
	}
	if c.Controller != nil {
		if c.Controller.Name == "" {
			c.Controller.Name = DefaultConnectionName
		}
		splitHost(c.Controller)
	}
	for i := range c.Connections {
		splitHost(&c.Connections[i])
	}
}

// splitHost accepts a host given as a URL ("https://tower:8043") and moves
// its scheme and port into their own fields.
func splitHost(cc *ConnectionConfig) {
	if !strings.Contains(cc.Host, "://") {
		return
	}
	u, err := url.Parse(cc.Host)
	if err != nil || u.Hostname() == "" {
		return
	}
	if cc.Scheme == "" {
		cc.Scheme = u.Scheme
	}
	if p, err := strconv.Atoi(u.Port()); err == nil && cc.Port == 0 {
		cc.Port = p
	}
	cc.Host = u.Hostname()
}

// Validate checks the configuration against its struct tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	seen := map[string]bool{}
	for _, cc := range c.Connections {
		if seen[cc.Name] {
			return fmt.Errorf("invalid configuration: duplicate connection name %q", cc.Name)
		}
		seen[cc.Name] = true
	}
	return nil
}

// DefaultConnection returns the controller used by the CLI verbs.
func (c *Config) DefaultConnection() (*models.Connection, error) {
	if c.Controller == nil || c.Controller.Host == "" {
		return nil, ErrNoController
	}
	return c.Controller.Connection(), nil
}

// AllConnections returns the default controller (if any) followed by the
// named connections.
func (c *Config) AllConnections() []*models.Connection {
	var out []*models.Connection
	if c.Controller != nil && c.Controller.Host != "" {
		out = append(out, c.Controller.Connection())
	}
	for _, cc := range c.Connections {
		out = append(out, cc.Connection())
	}
	return out
}

// Connection converts a config entry into a connection with defaults applied.
func (cc ConnectionConfig) Connection() *models.Connection {
	conn := &models.Connection{
		Name:     cc.Name,
		Type:     cc.Type,
		Scheme:   cc.Scheme,
		Host:     cc.Host,
		Port:     cc.Port,
		Username: cc.Username,
		Password: cc.Password,
		Insecure: cc.Insecure,
	}
	if cc.CACert != "" {
		if pem, err := os.ReadFile(cc.CACert); err == nil {
			conn.CACert = string(pem)
		}
	}
	conn.ApplyDefaults()
	return conn
}
