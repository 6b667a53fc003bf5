package config

import (
	"testing"

	"github.com/revittco/agentrun/internal/domain"
)

func TestParseCatalogValid(t *testing.T) {
	yaml := `
tools:
  - path: math.add
    approval: required
default_rules:
  - tool_path: calendar.update
    field: title
    operator: equals
    value: "Dinner with Ella"
    decision: approved
`
	cfg, err := ParseCatalog([]byte(yaml))
	if err != nil {
		t.Fatalf("ParseCatalog: %v", err)
	}
	if len(cfg.Tools) != 1 || cfg.Tools[0].Path != "math.add" {
		t.Fatalf("tools = %+v", cfg.Tools)
	}
	if len(cfg.Rules) != 1 || cfg.Rules[0].Value != "Dinner with Ella" {
		t.Fatalf("rules = %+v", cfg.Rules)
	}
}

func TestParseCatalogRejectsInvalidApproval(t *testing.T) {
	_, err := ParseCatalog([]byte("tools:\n  - path: math.add\n    approval: sometimes\n"))
	if err == nil {
		t.Fatal("expected an error for an invalid approval mode")
	}
}

func TestParseCatalogRejectsDuplicateToolOverride(t *testing.T) {
	yaml := `
tools:
  - path: math.add
    approval: required
  - path: math.add
    approval: auto
`
	_, err := ParseCatalog([]byte(yaml))
	if err == nil {
		t.Fatal("expected an error for a duplicated tool override")
	}
}

func TestParseCatalogRejectsInvalidRuleDecision(t *testing.T) {
	yaml := `
default_rules:
  - tool_path: calendar.update
    decision: maybe
`
	_, err := ParseCatalog([]byte(yaml))
	if err == nil {
		t.Fatal("expected an error for an invalid rule decision")
	}
}

type fakeTool struct {
	path     string
	approval domain.ApprovalMode
}

func (f *fakeTool) ToolPath() string                     { return f.path }
func (f *fakeTool) SetApproval(mode domain.ApprovalMode) { f.approval = mode }

func TestApplyToolOverridesSetsApproval(t *testing.T) {
	tools := []ApprovalSetter{&fakeTool{path: "math.add", approval: domain.ApprovalAuto}}
	err := ApplyToolOverrides(tools, []ToolOverride{{Path: "math.add", Approval: domain.ApprovalRequired}})
	if err != nil {
		t.Fatalf("ApplyToolOverrides: %v", err)
	}
	if tools[0].(*fakeTool).approval != domain.ApprovalRequired {
		t.Fatalf("approval = %v, want required", tools[0].(*fakeTool).approval)
	}
}

func TestApplyToolOverridesRejectsUnknownPath(t *testing.T) {
	tools := []ApprovalSetter{&fakeTool{path: "math.add"}}
	err := ApplyToolOverrides(tools, []ToolOverride{{Path: "no.such.tool", Approval: domain.ApprovalAuto}})
	if err == nil {
		t.Fatal("expected an error for an unknown tool path")
	}
}

func TestDefaultRulesConvertsTemplates(t *testing.T) {
	cfg := &CatalogConfig{Rules: []RuleTemplate{{
		ToolPath: "calendar.update", Field: "title", Operator: domain.OpEquals,
		Value: "x", Decision: domain.DecisionApproved,
	}}}
	rules := cfg.DefaultRules()
	if len(rules) != 1 {
		t.Fatalf("len(rules) = %d, want 1", len(rules))
	}
	if rules[0].TurnID != "" {
		t.Fatalf("TurnID = %q, want empty until stamped by turn.Manager", rules[0].TurnID)
	}
}
