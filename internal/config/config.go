package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models studioflow.yml.
type Config struct {
	Project struct {
		ID   string `yaml:"id"`
		Kind string `yaml:"kind"`
	} `yaml:"project"`
	Workflow struct {
		Stages []string `yaml:"stages"`
	} `yaml:"workflow"`
	Statuses map[string][]StatusDef `yaml:"statuses"`
	Approvals struct {
		DefaultExpiryDays int  `yaml:"default_expiry_days"`
		RequireCriteria   bool `yaml:"require_criteria"`
	} `yaml:"approvals"`
	RBAC struct {
		Roles map[string]RBACRole `yaml:"roles"`
	} `yaml:"rbac"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// StatusDef seeds one status config for an entity type.
type StatusDef struct {
	Value       string   `yaml:"value"`
	Label       string   `yaml:"label"`
	Color       string   `yaml:"color"`
	Icon        string   `yaml:"icon"`
	Default     bool     `yaml:"default"`
	Transitions []string `yaml:"transitions"`
}

type RBACRole struct {
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// StatusEntityTypes enumerates entity types that carry a status vocabulary.
var StatusEntityTypes = []string{"task", "subtask", "issue", "stage", "document", "file", "project"}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with sf project config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Project.ID == "" {
		return fmt.Errorf("config.project.id is required")
	}
	if c.Project.Kind != "interior-design-project" {
		return fmt.Errorf("config.project.kind must be 'interior-design-project'")
	}
	if len(c.Workflow.Stages) == 0 {
		return fmt.Errorf("config.workflow.stages is required")
	}
	seen := map[string]bool{}
	for _, s := range c.Workflow.Stages {
		if s == "" {
			return fmt.Errorf("config.workflow.stages contains empty stage name")
		}
		if seen[s] {
			return fmt.Errorf("config.workflow.stages repeats stage %s", s)
		}
		seen[s] = true
	}
	for entityType, defs := range c.Statuses {
		if !validStatusEntityType(entityType) {
			return fmt.Errorf("config.statuses has unknown entity type %s", entityType)
		}
		values := map[string]bool{}
		defaults := 0
		for _, def := range defs {
			if def.Value == "" {
				return fmt.Errorf("statuses.%s contains empty value", entityType)
			}
			if values[def.Value] {
				return fmt.Errorf("statuses.%s repeats value %s", entityType, def.Value)
			}
			values[def.Value] = true
			if def.Default {
				defaults++
			}
			for _, from := range def.Transitions {
				if from == "" {
					return fmt.Errorf("statuses.%s.%s has empty transition source", entityType, def.Value)
				}
			}
		}
		if defaults > 1 {
			return fmt.Errorf("statuses.%s declares %d defaults, at most one allowed", entityType, defaults)
		}
	}
	if c.Approvals.DefaultExpiryDays < 0 {
		return fmt.Errorf("config.approvals.default_expiry_days must not be negative")
	}
	if len(c.RBAC.Roles) > 0 {
		if _, ok := c.RBAC.Roles["admin"]; !ok {
			return fmt.Errorf("config.rbac.roles must include admin")
		}
		for roleID, role := range c.RBAC.Roles {
			if roleID == "" {
				return fmt.Errorf("config.rbac.roles contains empty role id")
			}
			for _, perm := range role.Permissions {
				if perm == "" {
					return fmt.Errorf("role %s has empty permission id", roleID)
				}
			}
		}
	}
	return nil
}

func validStatusEntityType(t string) bool {
	for _, known := range StatusEntityTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "studioflow.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(projectID string) string {
	return fmt.Sprintf(defaultTemplate, projectID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a project. The template is
// compiled in, so a decode failure is a programming error.
func Default(projectID string) *Config {
	var cfg Config
	cfg.Project.ID = projectID
	cfg.Project.Kind = "interior-design-project"
	if err := yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, projectID))).Decode(&cfg); err != nil {
		panic(fmt.Sprintf("config: default template does not decode: %v", err))
	}
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `project:
  id: %s
  kind: interior-design-project

workflow:
  stages:
    - Sales
    - Design
    - Technical Design
    - Procurement
    - Production
    - Execution
    - Post Installation

statuses:
  task:
    - {value: todo, label: "To Do", color: "#94a3b8", default: true}
    - {value: in-progress, label: "In Progress", color: "#3b82f6", transitions: [todo, blocked]}
    - {value: blocked, label: "Blocked", color: "#ef4444", transitions: [todo, in-progress]}
    - {value: review, label: "In Review", color: "#f59e0b", transitions: [in-progress]}
    - {value: completed, label: "Completed", color: "#22c55e", transitions: [in-progress, review]}
  subtask:
    - {value: todo, label: "To Do", color: "#94a3b8", default: true}
    - {value: in-progress, label: "In Progress", color: "#3b82f6", transitions: [todo]}
    - {value: completed, label: "Completed", color: "#22c55e", transitions: [todo, in-progress]}
  issue:
    - {value: open, label: "Open", color: "#ef4444", default: true}
    - {value: in-progress, label: "In Progress", color: "#3b82f6", transitions: [open]}
    - {value: resolved, label: "Resolved", color: "#22c55e", transitions: [in-progress, open]}
    - {value: closed, label: "Closed", color: "#64748b", transitions: [resolved]}
  stage:
    - {value: pending, label: "Pending", color: "#94a3b8", default: true}
    - {value: active, label: "Active", color: "#3b82f6", transitions: [pending, on-hold]}
    - {value: on-hold, label: "On Hold", color: "#f59e0b", transitions: [active]}
    - {value: completed, label: "Completed", color: "#22c55e", transitions: [active]}
  document:
    - {value: draft, label: "Draft", color: "#94a3b8", default: true}
    - {value: pending-approval, label: "Pending Approval", color: "#f59e0b", transitions: [draft, rejected]}
    - {value: approved, label: "Approved", color: "#22c55e", transitions: [pending-approval]}
    - {value: rejected, label: "Rejected", color: "#ef4444", transitions: [pending-approval]}
  file:
    - {value: pending, label: "Pending", color: "#94a3b8", default: true}
    - {value: requested, label: "Requested", color: "#f59e0b", transitions: [pending]}
    - {value: received, label: "Received", color: "#22c55e", transitions: [pending, requested]}
  project:
    - {value: active, label: "Active", color: "#3b82f6", default: true}
    - {value: on-hold, label: "On Hold", color: "#f59e0b", transitions: [active]}
    - {value: completed, label: "Completed", color: "#22c55e", transitions: [active]}
    - {value: archived, label: "Archived", color: "#64748b", transitions: [completed, on-hold]}

approvals:
  default_expiry_days: 7
  require_criteria: true

rbac:
  roles:
    admin:
      description: "Full administrative access"
      permissions:
        - project.create
        - project.read
        - project.update
        - project.delete
        - project.list
        - project.config.read
        - stage.read
        - stage.complete
        - task.read
        - task.list
        - task.write
        - document.read
        - document.write
        - file.read
        - file.write
        - issue.read
        - issue.write
        - team.read
        - team.write
        - rule.read
        - rule.manage
        - approval.read
        - approval.request
        - approval.decide
        - status.read
        - status.manage
        - event.read
        - rbac.manage
    project-manager:
      description: "Runs projects day to day"
      permissions:
        - project.read
        - project.update
        - project.list
        - project.config.read
        - stage.read
        - stage.complete
        - task.read
        - task.list
        - task.write
        - document.read
        - document.write
        - file.read
        - file.write
        - issue.read
        - issue.write
        - team.read
        - rule.read
        - approval.read
        - approval.request
        - approval.decide
        - status.read
        - event.read
    designer:
      description: "Creates and updates design work"
      permissions:
        - project.read
        - project.list
        - stage.read
        - task.read
        - task.list
        - task.write
        - document.read
        - document.write
        - file.read
        - issue.read
        - issue.write
        - approval.read
        - approval.request
        - status.read
        - event.read
    client:
      description: "Read-only client access plus approvals assigned to them"
      permissions:
        - project.read
        - stage.read
        - task.read
        - document.read
        - approval.read
        - approval.decide
`
