package cmd

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/3leaps/golumen/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the effective configuration after defaults, config file, and
environment overrides are merged. Useful for checking what a running
server would actually use.`,
	RunE: runConfigShow,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)

	configShowCmd.Flags().Bool("json", false, "Output as JSON instead of YAML")
}

// configView mirrors Config with serialization tags so the output uses the
// same key names the config file does.
type configView struct {
	Server   map[string]any `yaml:"server" json:"server"`
	Logging  map[string]any `yaml:"logging" json:"logging"`
	Library  map[string]any `yaml:"library" json:"library"`
	Jobs     map[string]any `yaml:"jobs" json:"jobs"`
	Analysis map[string]any `yaml:"analysis" json:"analysis"`
	Retry    map[string]any `yaml:"retry" json:"retry"`
	Rescan   map[string]any `yaml:"rescan" json:"rescan"`
	Workers  int            `yaml:"workers" json:"workers"`
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	cfg := config.GetConfig()

	view := configView{
		Server: map[string]any{
			"host":             cfg.Server.Host,
			"port":             cfg.Server.Port,
			"read_timeout":     cfg.Server.ReadTimeout.String(),
			"write_timeout":    cfg.Server.WriteTimeout.String(),
			"idle_timeout":     cfg.Server.IdleTimeout.String(),
			"shutdown_timeout": cfg.Server.ShutdownTimeout.String(),
		},
		Logging: map[string]any{
			"level":   cfg.Logging.Level,
			"profile": cfg.Logging.Profile,
		},
		Library: map[string]any{
			"path":       cfg.Library.Path,
			"media_root": cfg.Library.MediaRoot,
		},
		Jobs: map[string]any{
			"dir": cfg.Jobs.Dir,
		},
		Analysis: map[string]any{
			"base_url":       cfg.Analysis.BaseURL,
			"timeout":        cfg.Analysis.Timeout.String(),
			"poll_interval":  cfg.Analysis.PollInterval.String(),
			"poll_cache_ttl": cfg.Analysis.PollCacheTTL.String(),
		},
		Retry: map[string]any{
			"max_attempts": cfg.Retry.MaxAttempts,
			"base_delay":   cfg.Retry.BaseDelay.String(),
			"max_delay":    cfg.Retry.MaxDelay.String(),
		},
		Rescan: map[string]any{
			"page_rate": cfg.Rescan.PageRate,
		},
		Workers: cfg.Workers,
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	}

	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	defer func() { _ = enc.Close() }()
	return enc.Encode(view)
}
