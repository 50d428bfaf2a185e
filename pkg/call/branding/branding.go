// Package branding maps an agent's company to the name and accent color shown
// in the call header.
package branding

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/vango-go/vai-call/pkg/core/types"
	yaml "go.yaml.in/yaml/v2"
)

// GeneralKey is the fallback entry used for unknown companies.
const GeneralKey = "general"

// Brand is the presentation of one company.
type Brand struct {
	Name  string `json:"name" yaml:"name"`
	Color string `json:"color" yaml:"color"`
}

// Table holds brands keyed by lower-cased company name. It always contains
// a GeneralKey entry.
type Table struct {
	brands map[string]Brand
	logger *slog.Logger
}

// Default returns the built-in table.
func Default() *Table {
	return &Table{
		brands: map[string]Brand{
			"techcare solutions": {Name: "TechCare Solutions", Color: "#819A91"},
			GeneralKey:           {Name: "Customer Support", Color: "#819A91"},
		},
		logger: slog.Default(),
	}
}

// WithLogger returns t logging unknown-company lookups to logger.
func (t *Table) WithLogger(logger *slog.Logger) *Table {
	if logger != nil {
		t.logger = logger
	}
	return t
}

// Lookup returns the brand for company. Unknown companies fall back to the
// general brand and are logged, never reported as errors.
func (t *Table) Lookup(company string) Brand {
	key := strings.ToLower(strings.TrimSpace(company))
	if key == "" {
		key = GeneralKey
	}
	if b, ok := t.brands[key]; ok {
		return b
	}
	t.logger.Info("no branding for company, using general", "company", company)
	return t.brands[GeneralKey]
}

// ForAgent returns the brand of the agent's company.
func (t *Table) ForAgent(agent types.AgentProfile) Brand {
	return t.Lookup(agent.CompanyKey())
}

// Header renders the call header: "<agent> - <company>" once the server has
// named an agent, otherwise the brand name.
func (t *Table) Header(agent types.AgentProfile) string {
	if agent.Known {
		return agent.DisplayName()
	}
	return t.ForAgent(agent).Name
}

// LoadFile merges brands from a YAML or JSON file over the built-in table.
// An empty path returns the built-in table.
func LoadFile(path string) (*Table, error) {
	t := Default()
	if path == "" {
		return t, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read branding: %w", err)
	}

	overrides := map[string]Brand{}
	if filepath.Ext(path) == ".json" {
		if err := json.Unmarshal(data, &overrides); err != nil {
			return nil, fmt.Errorf("parse json branding: %w", err)
		}
	} else if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("parse yaml branding: %w", err)
	}

	for company, b := range overrides {
		key := strings.ToLower(strings.TrimSpace(company))
		if key == "" || strings.TrimSpace(b.Name) == "" {
			return nil, fmt.Errorf("branding entry %q: name is required", company)
		}
		t.brands[key] = b
	}
	return t, nil
}
