package store

import (
	"context"
	"fmt"
	"strings"
)

const (
	DriverMemory   = "memory"
	DriverFile     = "file"
	DriverSQLite   = "sqlite"
	DriverLibsql   = "libsql"
	DriverPostgres = "postgres"
)

type Config struct {
	// Driver is one of memory, file, sqlite, libsql or postgres. When empty
	// it is inferred from URL, falling back to sqlite.
	Driver string `json:"driver" env:"PANELWATCH_STORE_DRIVER"`
	// Path is the directory of the file store or the sqlite database file.
	Path      string `json:"path" env:"PANELWATCH_STORE_PATH"`
	URL       string `json:"url" env:"DATABASE_URL"`
	AuthToken string `json:"auth_token" env:"DATABASE_AUTH_TOKEN"`
}

func (c Config) driver() string {
	if c.Driver != "" {
		return c.Driver
	}
	switch {
	case strings.HasPrefix(c.URL, "postgres://"), strings.HasPrefix(c.URL, "postgresql://"):
		return DriverPostgres
	case strings.HasPrefix(c.URL, "libsql://"), strings.HasPrefix(c.URL, "https://"), strings.HasPrefix(c.URL, "wss://"):
		return DriverLibsql
	}
	return DriverSQLite
}

// Open opens the store cfg describes.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch driver := cfg.driver(); driver {
	case DriverMemory:
		return NewMemory(), nil
	case DriverFile:
		if cfg.Path == "" {
			return nil, fmt.Errorf("file store needs a path")
		}
		return OpenFile(cfg.Path)
	case DriverSQLite:
		if cfg.Path == "" {
			return nil, fmt.Errorf("sqlite store needs a path")
		}
		return OpenSQLite(ctx, cfg.Path)
	case DriverLibsql:
		if cfg.URL == "" {
			return nil, fmt.Errorf("libsql store needs a url")
		}
		return OpenLibsql(ctx, cfg.URL, cfg.AuthToken)
	case DriverPostgres:
		if cfg.URL == "" {
			return nil, fmt.Errorf("postgres store needs a url")
		}
		return OpenPostgres(ctx, cfg.URL)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
