package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/viberelay/relay/internal/log"
)

// Load reads the config file at path, applies defaults, expands path fields,
// and validates the result.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	defaults := Defaults()
	v.SetDefault("base_branch", defaults.BaseBranch)
	v.SetDefault("max_parallel_agents", defaults.MaxParallelAgents)
	v.SetDefault("port_range", defaults.PortRange)
	v.SetDefault("tracing.enabled", defaults.Tracing.Enabled)
	v.SetDefault("tracing.exporter", defaults.Tracing.Exporter)
	v.SetDefault("tracing.otlp_endpoint", defaults.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", defaults.Tracing.SampleRate)

	if err := v.ReadInConfig(); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to read config", err, "path", path)
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}

	for _, field := range []*string{&cfg.RepoPath, &cfg.WorktreesPath, &cfg.DBPath, &cfg.Tracing.FilePath} {
		expanded, err := ExpandPath(*field)
		if err != nil {
			return Config{}, err
		}
		*field = expanded
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}

	log.Info(log.CatConfig, "Loaded config",
		"path", path,
		"db_path", cfg.DBPath,
		"max_parallel_agents", cfg.MaxParallelAgents)
	return cfg, nil
}

// WriteDefaultConfig creates a config file at the given path with scaffold
// values. Creates the parent directory if it doesn't exist.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	scaffold := Defaults()
	scaffold.RepoPath = "."
	scaffold.WorktreesPath = "~/.relay/worktrees"
	scaffold.DBPath = "~/.relay/relay.db"
	scaffold.DefaultWorkflow = BuiltinWorkflow()

	data, err := json.MarshalIndent(scaffold, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}
