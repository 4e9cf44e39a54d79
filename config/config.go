// Package config loads declarative table definitions from YAML and
// builds a registry from them. Behavioral hooks (policies, rules,
// getters, setters) cannot be declared in YAML; attach them to the
// returned definitions in code before linking.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/graphtable/lattice/dialect"
	"github.com/graphtable/lattice/introspect"
	"github.com/graphtable/lattice/table"
)

// TableConfig declares one table.
type TableConfig struct {
	Schema          string            `yaml:"schema"`
	Name            string            `yaml:"name"`
	Alias           string            `yaml:"alias,omitempty"`
	IDColumn        string            `yaml:"idColumn,omitempty"`
	TenantColumn    string            `yaml:"tenantColumn,omitempty"`
	DeletedAtColumn string            `yaml:"deletedAtColumn,omitempty"`
	Paranoid        bool              `yaml:"paranoid,omitempty"`
	AllowUpserts    bool              `yaml:"allowUpserts,omitempty"`
	Lookup          bool              `yaml:"lookup,omitempty"`
	Complexity      int               `yaml:"complexity,omitempty"`
	EagerLimit      int               `yaml:"eagerLimit,omitempty"`
	MaxBulk         int               `yaml:"maxBulk,omitempty"`
	DefaultSort     []string          `yaml:"defaultSort,omitempty"`
	Hidden          []string          `yaml:"hidden,omitempty"`
	ReadOnly        []string          `yaml:"readOnly,omitempty"`
	InverseNames    map[string]string `yaml:"inverseNames,omitempty"`
}

// Config is the root document.
type Config struct {
	Driver     string        `yaml:"driver"`
	DSN        string        `yaml:"dsn"`
	BaseURL    string        `yaml:"baseUrl,omitempty"`
	Budget     int           `yaml:"budget,omitempty"`
	Convention string        `yaml:"convention,omitempty"` // "snake" or "camel"
	Snapshot   string        `yaml:"snapshot,omitempty"`
	Tables     []TableConfig `yaml:"tables"`
}

// Load reads and validates a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes and validates a YAML config document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Convention {
	case "", "snake", "camel":
	default:
		return fmt.Errorf("config: unknown convention %q", c.Convention)
	}
	if len(c.Tables) == 0 {
		return fmt.Errorf("config: no tables declared")
	}
	for i, tc := range c.Tables {
		if tc.Name == "" {
			return fmt.Errorf("config: tables[%d] has no name", i)
		}
	}
	return nil
}

func (c *Config) convention() introspect.Convention {
	if c.Convention == "camel" {
		return introspect.Camel
	}
	return introspect.Snake
}

// Definition converts one table declaration.
func (tc TableConfig) Definition() table.Definition {
	return table.Definition{
		Schema:          tc.Schema,
		Name:            tc.Name,
		Alias:           tc.Alias,
		IDColumn:        tc.IDColumn,
		TenantColumn:    tc.TenantColumn,
		DeletedAtColumn: tc.DeletedAtColumn,
		Paranoid:        tc.Paranoid,
		AllowUpserts:    tc.AllowUpserts,
		Lookup:          tc.Lookup,
		Complexity:      tc.Complexity,
		EagerLimit:      tc.EagerLimit,
		MaxBulk:         tc.MaxBulk,
		DefaultSort:     tc.DefaultSort,
		Hidden:          tc.Hidden,
		ReadOnly:        tc.ReadOnly,
		InverseNames:    tc.InverseNames,
	}
}

// Registry builds an unlinked registry holding every declared table.
// The caller attaches hooks to the returned tables, then calls Init (or
// InitFromSnapshot) to introspect and link.
func (c *Config) Registry(drv dialect.Driver) (*table.Registry, error) {
	opts := []table.Option{table.WithConvention(c.convention())}
	if c.Budget > 0 {
		opts = append(opts, table.WithBudget(c.Budget))
	}
	if c.BaseURL != "" {
		opts = append(opts, table.WithBaseURL(c.BaseURL))
	}
	r := table.NewRegistry(drv, opts...)
	for _, tc := range c.Tables {
		if _, err := r.Add(tc.Definition()); err != nil {
			return nil, err
		}
	}
	return r, nil
}
