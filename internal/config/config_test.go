package config

import (
	"strings"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default("studio-42")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
	if cfg.Project.ID != "studio-42" {
		t.Fatalf("project id not applied: %q", cfg.Project.ID)
	}
	if cfg.Project.Kind != "interior-design-project" {
		t.Fatalf("unexpected kind %q", cfg.Project.Kind)
	}
	if len(cfg.Workflow.Stages) != 7 || cfg.Workflow.Stages[0] != "Sales" {
		t.Fatalf("unexpected stage pipeline: %v", cfg.Workflow.Stages)
	}
	if cfg.Approvals.DefaultExpiryDays != 7 || !cfg.Approvals.RequireCriteria {
		t.Fatalf("unexpected approval defaults: %+v", cfg.Approvals)
	}
	for _, entityType := range StatusEntityTypes {
		if len(cfg.Statuses[entityType]) == 0 {
			t.Fatalf("no status vocabulary for %s", entityType)
		}
	}
	if _, ok := cfg.RBAC.Roles["admin"]; !ok {
		t.Fatalf("default roles must include admin")
	}
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing id", func(c *Config) { c.Project.ID = "" }},
		{"wrong kind", func(c *Config) { c.Project.Kind = "construction-project" }},
		{"no stages", func(c *Config) { c.Workflow.Stages = nil }},
		{"duplicate stage", func(c *Config) { c.Workflow.Stages = []string{"Sales", "Sales"} }},
		{"unknown status entity", func(c *Config) { c.Statuses["sprint"] = c.Statuses["task"] }},
		{"duplicate status value", func(c *Config) {
			c.Statuses["task"] = append(c.Statuses["task"], StatusDef{Value: "todo", Label: "Again"})
		}},
		{"two defaults", func(c *Config) {
			defs := c.Statuses["task"]
			defs[1].Default = true
			c.Statuses["task"] = defs
		}},
		{"negative expiry", func(c *Config) { c.Approvals.DefaultExpiryDays = -1 }},
		{"roles without admin", func(c *Config) { delete(c.RBAC.Roles, "admin") }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default("p")
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestFromYAML(t *testing.T) {
	cfg, err := FromYAML([]byte(GenerateDefault("yaml-proj")))
	if err != nil {
		t.Fatalf("parse generated default: %v", err)
	}
	if cfg.Project.ID != "yaml-proj" {
		t.Fatalf("id lost in round trip: %q", cfg.Project.ID)
	}

	if _, err := FromYAML([]byte("project:\n  id: [broken")); err == nil {
		t.Fatalf("malformed yaml must error")
	}
	if _, err := FromYAML([]byte("project:\n  id: p\n  kind: something-else\n")); err == nil {
		t.Fatalf("invalid config must fail validation on load")
	}
}

func TestGenerateDefaultEmbedsID(t *testing.T) {
	out := GenerateDefault("acme-lobby")
	if !strings.Contains(out, "id: acme-lobby") {
		t.Fatalf("generated template should carry the project id")
	}
	if !strings.Contains(out, "Post Installation") {
		t.Fatalf("generated template should list the full pipeline")
	}
}
