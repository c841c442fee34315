// Package config provides configuration types and defaults for relay.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultFileName is the config file relay looks for in the working directory.
const DefaultFileName = "relay.config.json"

const (
	// DefaultMaxParallelAgents caps concurrent agent runs when unset.
	DefaultMaxParallelAgents = 3

	// DefaultPortRangeStart and DefaultPortRangeEnd bound port allocation
	// when port_range is unset.
	DefaultPortRangeStart = 4000
	DefaultPortRangeEnd   = 4099
)

// StepDef defines one workflow step in a project template.
type StepDef struct {
	Name         string `mapstructure:"name" json:"name"`
	SystemPrompt string `mapstructure:"system_prompt" json:"system_prompt,omitempty"`
	Model        string `mapstructure:"model" json:"model,omitempty"`
	Color        string `mapstructure:"color" json:"color,omitempty"`
}

// IsAgentStep reports whether tasks arriving at this step dispatch an agent.
func (s StepDef) IsAgentStep() bool {
	return s.SystemPrompt != ""
}

// TracingConfig holds distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether tracing is active. Default: false.
	Enabled bool `mapstructure:"enabled" json:"enabled"`

	// Exporter selects the trace export backend.
	// Options: "none", "file", "stdout", "otlp". Default: "file".
	Exporter string `mapstructure:"exporter" json:"exporter,omitempty"`

	// FilePath is the output file for the "file" exporter.
	FilePath string `mapstructure:"file_path" json:"file_path,omitempty"`

	// OTLPEndpoint is the collector endpoint for the "otlp" exporter.
	OTLPEndpoint string `mapstructure:"otlp_endpoint" json:"otlp_endpoint,omitempty"`

	// SampleRate controls trace sampling (0.0 to 1.0). Default: 1.0.
	SampleRate float64 `mapstructure:"sample_rate" json:"sample_rate,omitempty"`
}

// Config holds all configuration options for relay.
type Config struct {
	RepoPath          string        `mapstructure:"repo_path" json:"repo_path"`
	BaseBranch        string        `mapstructure:"base_branch" json:"base_branch"`
	WorktreesPath     string        `mapstructure:"worktrees_path" json:"worktrees_path"`
	DBPath            string        `mapstructure:"db_path" json:"db_path"`
	MaxParallelAgents int           `mapstructure:"max_parallel_agents" json:"max_parallel_agents"`
	PortRange         []int         `mapstructure:"port_range" json:"port_range"`
	DefaultModel      string        `mapstructure:"default_model" json:"default_model,omitempty"`
	DefaultWorkflow   []StepDef     `mapstructure:"default_workflow" json:"default_workflow,omitempty"`
	Tracing           TracingConfig `mapstructure:"tracing" json:"tracing"`
}

// Defaults returns a Config with default values for the optional keys.
// Required keys (repo_path, base_branch, worktrees_path, db_path) stay empty.
func Defaults() Config {
	return Config{
		BaseBranch:        "main",
		MaxParallelAgents: DefaultMaxParallelAgents,
		PortRange:         []int{DefaultPortRangeStart, DefaultPortRangeEnd},
		Tracing: TracingConfig{
			Enabled:      false,
			Exporter:     "file",
			OTLPEndpoint: "localhost:4317",
			SampleRate:   1.0,
		},
	}
}

// BuiltinWorkflow returns the step definitions used when a project is created
// without explicit steps and no default_workflow is configured.
func BuiltinWorkflow() []StepDef {
	return []StepDef{
		{Name: "Plan", SystemPrompt: "You are a planning agent. Break the issue into concrete, independently verifiable subtasks and record them on the board.", Color: "#54A0FF"},
		{Name: "Research", SystemPrompt: "You are a research agent. Investigate the codebase and external references relevant to the issue and record findings as the task output.", Color: "#9B59B6"},
		{Name: "Synthesize", SystemPrompt: "You are a synthesis agent. Combine the research outputs of sibling tasks into a single implementation approach.", Color: "#F8C471"},
		{Name: "Implement", SystemPrompt: "You are an implementation agent. Make the code changes described by the issue in your worktree and commit them to your branch.", Color: "#73F59F"},
		{Name: "Test", SystemPrompt: "You are a testing agent. Write and run tests covering the changes on this branch. Fix failures you introduce.", Color: "#48C9B0"},
		{Name: "Review", SystemPrompt: "You are a review agent. Review the branch diff for correctness and style. Leave findings as comments and move the task forward when satisfied.", Color: "#FF8787"},
		{Name: "Done", Color: "#BBBBBB"},
	}
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	if c.RepoPath == "" {
		return fmt.Errorf("repo_path is required")
	}
	if c.BaseBranch == "" {
		return fmt.Errorf("base_branch is required")
	}
	if c.WorktreesPath == "" {
		return fmt.Errorf("worktrees_path is required")
	}
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	if c.MaxParallelAgents < 1 {
		return fmt.Errorf("max_parallel_agents must be >= 1, got %d", c.MaxParallelAgents)
	}
	if len(c.PortRange) != 2 {
		return fmt.Errorf("port_range must be [start, end], got %v", c.PortRange)
	}
	if c.PortRange[0] > c.PortRange[1] {
		return fmt.Errorf("port_range start %d exceeds end %d", c.PortRange[0], c.PortRange[1])
	}
	for i, step := range c.DefaultWorkflow {
		if step.Name == "" {
			return fmt.Errorf("default_workflow[%d]: name is required", i)
		}
	}
	if err := ValidateTracing(c.Tracing); err != nil {
		return err
	}
	return nil
}

// ValidateTracing checks tracing configuration for errors.
// Returns nil if the configuration is valid (empty values use defaults).
func ValidateTracing(tracing TracingConfig) error {
	if tracing.SampleRate < 0.0 || tracing.SampleRate > 1.0 {
		return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0, got %v", tracing.SampleRate)
	}

	if tracing.Exporter != "" {
		switch tracing.Exporter {
		case "none", "file", "stdout", "otlp":
			// Valid
		default:
			return fmt.Errorf("tracing.exporter must be \"none\", \"file\", \"stdout\", or \"otlp\", got %q", tracing.Exporter)
		}
	}

	if tracing.Enabled {
		if tracing.Exporter == "file" && tracing.FilePath == "" {
			return fmt.Errorf("tracing.file_path is required when exporter is \"file\"")
		}
		if tracing.Exporter == "otlp" && tracing.OTLPEndpoint == "" {
			return fmt.Errorf("tracing.otlp_endpoint is required when exporter is \"otlp\"")
		}
	}

	return nil
}

// Workflow returns the configured default workflow, falling back to the
// built-in seven-step workflow when none is configured.
func (c Config) Workflow() []StepDef {
	if len(c.DefaultWorkflow) > 0 {
		return c.DefaultWorkflow
	}
	return BuiltinWorkflow()
}

// ExpandPath expands a leading ~ to the user's home directory and returns
// the absolute path.
func ExpandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expanding %q: %w", path, err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return filepath.Abs(path)
}
