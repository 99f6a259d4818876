// Package config provides configuration loading and validation for the
// syncbridge daemon.
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
)

// Default configuration values
const (
	DefaultDatabasePath = "/var/lib/syncbridge/db.sqlite"
	DefaultDirection    = "pushAndPull"
)

// Config represents the daemon configuration.
type Config struct {
	Database    DatabaseConfig    `json:"database"`
	Endpoint    EndpointConfig    `json:"endpoint"`
	Replication ReplicationConfig `json:"replication"`
	Auth        AuthConfig        `json:"auth"`
}

// DatabaseConfig locates the local document store.
type DatabaseConfig struct {
	Path string `json:"path"`
}

// EndpointConfig addresses the remote peer. The URL path names the remote
// database, e.g. nats://broker:4222/inventory.
type EndpointConfig struct {
	URL string `json:"url"`
}

// ReplicationConfig shapes the replication session.
type ReplicationConfig struct {
	Direction  string         `json:"direction"`
	Continuous bool           `json:"continuous"`
	Options    map[string]any `json:"options,omitempty"`
}

// AuthConfig carries credentials for the remote peer. Type is "basic",
// "session", or empty for no authentication.
type AuthConfig struct {
	Type       string `json:"type,omitempty"`
	Username   string `json:"username,omitempty"`
	Password   string `json:"password,omitempty"`
	SessionID  string `json:"sessionId,omitempty"`
	CookieName string `json:"cookieName,omitempty"`
}

// LoadFromFile loads configuration from a JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &cfg, nil
}

// ApplyDefaults applies default values to unset configuration fields.
func (c *Config) ApplyDefaults() {
	if c.Database.Path == "" {
		c.Database.Path = DefaultDatabasePath
	}
	if c.Replication.Direction == "" {
		c.Replication.Direction = DefaultDirection
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Endpoint.URL == "" {
		return fmt.Errorf("endpoint.url is required")
	}
	if _, err := url.Parse(c.Endpoint.URL); err != nil {
		return fmt.Errorf("endpoint.url is not a valid URL: %w", err)
	}

	switch c.Replication.Direction {
	case "push", "pull", "pushAndPull":
	default:
		return fmt.Errorf("replication.direction must be push, pull, or pushAndPull")
	}

	switch c.Auth.Type {
	case "":
	case "basic":
		if c.Auth.Username == "" {
			return fmt.Errorf("auth.username is required for basic auth")
		}
	case "session":
		if c.Auth.SessionID == "" {
			return fmt.Errorf("auth.sessionId is required for session auth")
		}
	default:
		return fmt.Errorf("auth.type must be basic or session")
	}

	return nil
}
