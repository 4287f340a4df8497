package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Project.Prefix != "card" || cfg.Store.Backend != "yaml" {
		t.Errorf("defaults = %+v", cfg)
	}
	if cfg.QueryTimeout() != 30*time.Second {
		t.Errorf("QueryTimeout() = %v, want 30s", cfg.QueryTimeout())
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deckard.yaml")
	content := `
project:
  dir: /tmp/demo
  prefix: proj
store:
  backend: sqlite
  path: deckard.db
solver:
  query_timeout: 5s
logging:
  verbose: true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Project.Prefix != "proj" || !cfg.Logging.Verbose {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.QueryTimeout() != 5*time.Second {
		t.Errorf("QueryTimeout() = %v, want 5s", cfg.QueryTimeout())
	}
	if got := cfg.DatabasePath(); got != filepath.Join("/tmp/demo", "deckard.db") {
		t.Errorf("DatabasePath() = %q", got)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Store.Backend = "postgres"
	if err := cfg.Validate(); err == nil {
		t.Error("unknown backend accepted")
	}

	cfg = Default()
	cfg.Store.Backend = "sqlite"
	if err := cfg.Validate(); err == nil {
		t.Error("sqlite without path accepted")
	}

	cfg = Default()
	cfg.Solver.QueryTimeout = "not-a-duration"
	if err := cfg.Validate(); err == nil {
		t.Error("bad timeout accepted")
	}
}

func TestDatabasePathAbsolute(t *testing.T) {
	cfg := Default()
	cfg.Store.Path = "/var/lib/deckard.db"
	if got := cfg.DatabasePath(); got != "/var/lib/deckard.db" {
		t.Errorf("DatabasePath() = %q", got)
	}
}
