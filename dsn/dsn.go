// Package dsn parses connection descriptors.
package dsn

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/stratumdb/stratum/runtime"
)

// Config is a parsed connection descriptor.
type Config struct {
	Scheme   string
	Host     string
	User     string
	Password string
	Database string
	Params   url.Values
	Raw      string
}

// Parse splits a URI-style connection string. It fails fast when the
// descriptor omits the default database or collection namespace.
func Parse(raw string) (*Config, error) {
	if raw == "" {
		return nil, runtime.Misusef("empty connection string")
	}

	// sqlite descriptors carry a file path, not an authority.
	if path, ok := strings.CutPrefix(raw, "sqlite://"); ok {
		if path == "" {
			return nil, runtime.Misusef("connection string %q has no database path", raw)
		}
		return &Config{Scheme: "sqlite", Database: path, Raw: raw}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	if u.Scheme == "" {
		return nil, runtime.Misusef("connection string %q has no scheme", raw)
	}

	cfg := &Config{
		Scheme:   u.Scheme,
		Host:     u.Host,
		Database: strings.TrimPrefix(u.Path, "/"),
		Params:   u.Query(),
		Raw:      raw,
	}
	if u.User != nil {
		cfg.User = u.User.Username()
		cfg.Password, _ = u.User.Password()
	}
	if cfg.Database == "" {
		return nil, runtime.Misusef("connection string %q has no default database", raw)
	}
	return cfg, nil
}

// FromEnv reads DATABASE_URL, loading a .env file first when one is present.
func FromEnv() (*Config, error) {
	_ = godotenv.Load()
	raw := os.Getenv("DATABASE_URL")
	if raw == "" {
		return nil, runtime.Misusef("DATABASE_URL is not set")
	}
	return Parse(raw)
}

// Driver maps the descriptor scheme to a database/sql driver name.
func (c *Config) Driver() string {
	switch c.Scheme {
	case "postgres", "postgresql":
		return "postgres"
	case "mysql":
		return "mysql"
	case "sqlite":
		return "sqlite3"
	}
	return ""
}

// SQLDSN renders the descriptor in the form the selected driver expects.
func (c *Config) SQLDSN() string {
	switch c.Scheme {
	case "postgres", "postgresql":
		// lib/pq accepts the URL form directly.
		return c.Raw
	case "mysql":
		cred := ""
		if c.User != "" {
			cred = c.User
			if c.Password != "" {
				cred += ":" + c.Password
			}
			cred += "@"
		}
		dsn := fmt.Sprintf("%stcp(%s)/%s", cred, c.Host, c.Database)
		if len(c.Params) > 0 {
			dsn += "?" + c.Params.Encode()
		}
		return dsn
	case "sqlite":
		return c.Database
	}
	return c.Raw
}
