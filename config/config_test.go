package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.MaxDepth != 10 {
		t.Errorf("default MaxDepth = %d, want 10", cfg.MaxDepth)
	}
	if !cfg.CycleDetection {
		t.Error("cycle detection should be on by default")
	}
	if !cfg.CacheEnabled {
		t.Error("cache should be enabled by default")
	}
	if len(cfg.RepositoryNameTemplates) == 0 {
		t.Error("default naming templates should not be empty")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.MaxDepth != 10 {
		t.Errorf("expected defaults, got MaxDepth=%d", cfg.MaxDepth)
	}
}

func TestLoadOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "analyzer.yaml")
	content := `
maxDepth: 4
verbose: true
repositoryNameTemplates:
  - "{AggregateRoot}Repo"
exclude:
  - "**/test/**"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.MaxDepth != 4 {
		t.Errorf("MaxDepth = %d, want 4", cfg.MaxDepth)
	}
	if !cfg.Verbose {
		t.Error("verbose should be true")
	}
	if len(cfg.RepositoryNameTemplates) != 1 || cfg.RepositoryNameTemplates[0] != "{AggregateRoot}Repo" {
		t.Errorf("templates = %v", cfg.RepositoryNameTemplates)
	}
	// Overlay replaces, defaults keep untouched fields.
	if len(cfg.ReadMethodPrefixes) == 0 {
		t.Error("read method prefixes should keep defaults")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid defaults", func(c *Config) {}, false},
		{"zero depth", func(c *Config) { c.MaxDepth = 0 }, true},
		{"template without placeholder", func(c *Config) {
			c.RepositoryNameTemplates = []string{"Repository"}
		}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestLoadInvalidConfigRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "analyzer.yaml")
	if err := os.WriteFile(path, []byte("maxDepth: -1\n"), 0644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected validation error for negative maxDepth")
	}
}
