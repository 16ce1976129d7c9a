package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/agentsync/internal/config"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View agentsync configuration",
		Long: `View agentsync configuration.

Without arguments, displays the effective configuration after merging
defaults, the config file and AGENTSYNC_* environment variables.`,
		RunE: a.runConfigShow,
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create a default config file",
		Long:  `Create a default config file at ~/.config/agentsync/config.yaml with all available options.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigInit(cmd, force)
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")

	cmd.AddCommand(
		&cobra.Command{Use: "show", Short: "Show current configuration", Args: cobra.NoArgs, RunE: a.runConfigShow},
		initCmd,
		&cobra.Command{Use: "path", Short: "Show the config file path", Args: cobra.NoArgs, RunE: a.runConfigPath},
	)
	return cmd
}

func (a *app) runConfigShow(cmd *cobra.Command, _ []string) error {
	settings := a.v.AllSettings()
	delete(settings, "config")

	keys := make([]string, 0)
	flat := make(map[string]any)
	flatten("", settings, flat)
	for k := range flat {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	rows := make([][]string, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, []string{k, fmt.Sprint(flat[k])})
	}

	p := a.printer(cmd)
	if used := a.v.ConfigFileUsed(); used != "" {
		p.title("Config file: " + used)
	} else {
		p.title("Config file: (none - using defaults)")
	}
	return p.emit(settings, []string{"KEY", "VALUE"}, rows)
}

func flatten(prefix string, in map[string]any, out map[string]any) {
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			flatten(key, nested, out)
			continue
		}
		out[key] = v
	}
}

const defaultConfigContent = `# agentsync configuration

store:
  # Project directory holding the run-state directory (default: working directory)
  base_dir: ""
  # Directory under base_dir for all agentsync state
  run_state_dir: .agentsync
  # Project name written into new documents
  project: agentsync
  # Total attempts per document write, and the first retry wait
  max_retries: 3
  retry_base_delay_ms: 100
  # Retained version records and snapshots
  history_limit: 50
  # Rotating copies of the previous document
  backup_limit: 3

session:
  heartbeat_interval_seconds: 30
  # Sessions silent for longer than this are dead
  dead_threshold_seconds: 120

sync:
  poll_interval_ms: 1000
  stop_timeout_seconds: 5
  # Rely on polling alone (e.g. on network filesystems)
  disable_watch: false

logging:
  disabled: false
  # debug, info, warn or error
  level: info
  max_size_mb: 10
  max_backups: 3

report:
  addr: 127.0.0.1:7878
`

func runConfigInit(cmd *cobra.Command, force bool) error {
	configDir := config.ConfigDir()
	configFile := config.ConfigFile()

	if _, err := os.Stat(configFile); err == nil && !force {
		return fmt.Errorf("config file already exists at %s\nUse --force to overwrite it", configFile)
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(configFile, []byte(defaultConfigContent), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created config file at %s\n", configFile)
	return nil
}

func (a *app) runConfigPath(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	if used := a.v.ConfigFileUsed(); used != "" {
		fmt.Fprintf(out, "Active config: %s\n", used)
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", config.ConfigFile())
	}

	fmt.Fprintln(out, "\nSearch paths:")
	fmt.Fprintf(out, "  1. %s\n", filepath.Join(config.ConfigDir(), "config.yaml"))
	fmt.Fprintf(out, "  2. ./config.yaml (current directory)\n")
	fmt.Fprintf(out, "\nEnvironment variables: %s_* (e.g., %s_STORE_BASE_DIR)\n", config.EnvPrefix, config.EnvPrefix)
	return nil
}
