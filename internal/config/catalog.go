package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/revittco/agentrun/internal/domain"
)

// CatalogConfig represents the top-level agentrun.yaml structure: per-tool
// approval-mode overrides for the built-in catalog, and default approval
// rule templates installed into every new turn.
//
// Tool bodies stay Go code (toolreg.Tool.Run isn't data), so the YAML
// catalog's job is narrower than mcplexer's downstream-server catalog: it
// can only override metadata of tools the binary already knows how to
// register, not invent new ones.
type CatalogConfig struct {
	Tools []ToolOverride  `yaml:"tools"`
	Rules []RuleTemplate  `yaml:"default_rules"`
}

// ToolOverride changes a registered tool's approval mode before it's added
// to the Registry. Path must match a tool the binary already constructs;
// unknown paths are reported by ApplyToolOverrides, not silently ignored.
type ToolOverride struct {
	Path     string             `yaml:"path"`
	Approval domain.ApprovalMode `yaml:"approval"`
}

// RuleTemplate is an ApprovalRule with no TurnID yet: turn.WithDefaultRules
// stamps one in for every new turn it starts.
type RuleTemplate struct {
	ToolPath string             `yaml:"tool_path"`
	Field    string             `yaml:"field"`
	Operator domain.RuleOperator `yaml:"operator"`
	Value    string             `yaml:"value"`
	Decision domain.Decision    `yaml:"decision"`
}

// LoadCatalogFile reads and parses an agentrun.yaml file. A missing file is
// not an error: agentrund runs fine on the built-in catalog's defaults
// alone, so callers should treat os.IsNotExist specially and fall back to
// an empty CatalogConfig.
func LoadCatalogFile(path string) (*CatalogConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseCatalog(data)
}

// ParseCatalog parses and validates agentrun.yaml content.
func ParseCatalog(data []byte) (*CatalogConfig, error) {
	var cfg CatalogConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse agentrun.yaml: %w", err)
	}
	if err := validateCatalog(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validateCatalog(cfg *CatalogConfig) error {
	seen := make(map[string]bool, len(cfg.Tools))
	for _, t := range cfg.Tools {
		if t.Path == "" {
			return fmt.Errorf("agentrun.yaml: tools entry missing path")
		}
		if seen[t.Path] {
			return fmt.Errorf("agentrun.yaml: tool %q overridden more than once", t.Path)
		}
		seen[t.Path] = true
		switch t.Approval {
		case domain.ApprovalAuto, domain.ApprovalRequired:
		default:
			return fmt.Errorf("agentrun.yaml: tool %q has invalid approval mode %q", t.Path, t.Approval)
		}
	}
	for i, r := range cfg.Rules {
		if r.ToolPath == "" {
			return fmt.Errorf("agentrun.yaml: default_rules[%d] missing tool_path", i)
		}
		if r.Decision != domain.DecisionApproved && r.Decision != domain.DecisionDenied {
			return fmt.Errorf("agentrun.yaml: default_rules[%d] has invalid decision %q", i, r.Decision)
		}
	}
	return nil
}

// ApprovalSetter is the narrow slice of toolreg.Tool ApplyToolOverrides
// needs, so this package doesn't have to import toolreg.
type ApprovalSetter interface {
	ToolPath() string
	SetApproval(domain.ApprovalMode)
}

// ApplyToolOverrides overrides each named tool's Approval mode in place.
// An override naming a path not present in tools is reported rather than
// ignored, since a typo'd path in agentrun.yaml would otherwise silently
// leave a tool at its compiled-in default.
func ApplyToolOverrides(tools []ApprovalSetter, overrides []ToolOverride) error {
	byPath := make(map[string]ApprovalSetter, len(tools))
	for _, t := range tools {
		byPath[t.ToolPath()] = t
	}
	for _, o := range overrides {
		t, ok := byPath[o.Path]
		if !ok {
			return fmt.Errorf("agentrun.yaml: tool override for unknown path %q", o.Path)
		}
		t.SetApproval(o.Approval)
	}
	return nil
}

// DefaultRules converts the catalog's rule templates into ApprovalRules
// ready for turn.WithDefaultRules. TurnID is left empty; Manager.Start
// stamps it in for each new turn.
func (c *CatalogConfig) DefaultRules() []domain.ApprovalRule {
	rules := make([]domain.ApprovalRule, 0, len(c.Rules))
	for _, r := range c.Rules {
		rules = append(rules, domain.ApprovalRule{
			ToolPath: r.ToolPath,
			Field:    r.Field,
			Operator: r.Operator,
			Value:    r.Value,
			Decision: r.Decision,
		})
	}
	return rules
}
