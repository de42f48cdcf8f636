package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// fileConfig holds the subset of persistent flags that can be set from a
// YAML config file instead of the command line.
type fileConfig struct {
	DataDir     string `yaml:"dataDir"`
	Layer       string `yaml:"layer"`
	FlushOnSize int64  `yaml:"flushOnSize"`
	LogLevel    string `yaml:"logLevel"`
	LogJSON     bool   `yaml:"logJSON"`
}

func loadFileConfig(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// applyFileConfig overrides a command's persistent flags from cfg, but only
// for flags the caller didn't set explicitly — the command line always
// wins over the config file.
func applyFileConfig(cmd *cobra.Command, cfg *fileConfig) {
	flags := cmd.Flags()
	set := func(name, value string) {
		if value != "" && !flags.Changed(name) {
			_ = flags.Set(name, value)
		}
	}
	set("data-dir", cfg.DataDir)
	set("layer", cfg.Layer)
	set("log-level", cfg.LogLevel)
	if cfg.FlushOnSize != 0 && !flags.Changed("flush-on-size") {
		_ = flags.Set("flush-on-size", fmt.Sprintf("%d", cfg.FlushOnSize))
	}
	if cfg.LogJSON && !flags.Changed("log-json") {
		_ = flags.Set("log-json", "true")
	}
}
