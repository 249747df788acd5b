// Package config loads the analyzer configuration supplied by the build
// integration.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the analyzer configuration surface.
type Config struct {
	// Include and Exclude are path globs applied to artifacts and
	// candidate types before any analysis. Exclude wins over Include.
	Include []string `yaml:"include"`
	Exclude []string `yaml:"exclude"`

	// RepositoryNameTemplates are tried in order when neither the generic
	// interface nor the annotation strategy matched. Each template must
	// contain the {AggregateRoot} placeholder.
	RepositoryNameTemplates []string `yaml:"repositoryNameTemplates"`

	// GenericRepositoryInterfaces are the fully qualified names of the
	// generic repository contracts checked by the first matching strategy.
	GenericRepositoryInterfaces []string `yaml:"genericRepositoryInterfaces"`

	// RepositoryAnnotations are the fully qualified names of the repository
	// marker annotations checked by the second matching strategy.
	RepositoryAnnotations []string `yaml:"repositoryAnnotations"`

	// ReadMethodPrefixes mark repository methods as read methods even when
	// their return type does not reference the aggregate root.
	ReadMethodPrefixes []string `yaml:"readMethodPrefixes"`

	// MaxDepth bounds the field-access recursion per call site.
	MaxDepth int `yaml:"maxDepth"`

	// CycleDetection enables per-call-site visited tracking. Disabling it
	// is only useful for diagnosing the detector itself; MaxDepth still
	// bounds the recursion.
	CycleDetection bool `yaml:"cycleDetection"`

	CacheEnabled bool   `yaml:"cache"`
	CacheDir     string `yaml:"cacheDir"`

	// FailOnError escalates accumulated non-fatal warnings to a run failure.
	FailOnError bool `yaml:"failOnError"`

	Verbose bool `yaml:"verbose"`
}

// Default returns the configuration used when no config file is present.
func Default() *Config {
	return &Config{
		Include: []string{"**/*.classmeta.json", "**/*.java"},
		Exclude: []string{
			"**/generated/**",
			"**/*$Proxy*",
			"**/*$$*",
		},
		RepositoryNameTemplates: []string{
			"{AggregateRoot}Repository",
			"I{AggregateRoot}Repository",
		},
		GenericRepositoryInterfaces: []string{
			"org.morecup.pragmaddd.core.repository.BaseRepository",
		},
		RepositoryAnnotations: []string{
			"org.morecup.pragmaddd.core.annotation.Repository",
		},
		ReadMethodPrefixes: []string{"find", "get", "load", "query", "search"},
		MaxDepth:           10,
		CycleDetection:     true,
		CacheEnabled:       true,
		CacheDir:           ".pragmaddd/cache",
	}
}

// Load reads a YAML config file, overlaying it on the defaults. A missing
// file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the pipeline cannot honor.
func (c *Config) Validate() error {
	if c.MaxDepth < 1 {
		return fmt.Errorf("maxDepth must be at least 1, got %d", c.MaxDepth)
	}
	for _, tpl := range c.RepositoryNameTemplates {
		if !strings.Contains(tpl, Placeholder) {
			return fmt.Errorf("repository name template %q lacks the {AggregateRoot} placeholder", tpl)
		}
	}
	return nil
}

// Placeholder is substituted with the aggregate root's simple name when
// evaluating naming-convention templates.
const Placeholder = "{AggregateRoot}"
