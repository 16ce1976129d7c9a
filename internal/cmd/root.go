// Package cmd implements the agentsync command-line interface.
package cmd

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/agentsync/internal/config"
	"github.com/Iron-Ham/agentsync/internal/coordinator"
	"github.com/Iron-Ham/agentsync/internal/event"
	"github.com/Iron-Ham/agentsync/internal/logging"
	"github.com/Iron-Ham/agentsync/internal/metrics"
	"github.com/Iron-Ham/agentsync/internal/sharedctx"
)

// app carries per-invocation state shared by every subcommand.
type app struct {
	v      *viper.Viper
	cfg    *config.Config
	format string
}

// runtime is the wired component graph for one command run.
type runtime struct {
	cfg      *config.Config
	logger   *logging.Logger
	registry *prometheus.Registry
	bus      *event.Bus
	manager  *sharedctx.Manager
	coord    *coordinator.Coordinator
}

// Execute runs the root command
func Execute() error {
	return NewRootCmd().Execute()
}

// NewRootCmd builds the command tree with its own viper instance.
func NewRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "agentsync",
		Short: "Coordinate concurrent agent sessions through a shared context file",
		Long: `agentsync keeps a registry of cooperating agent sessions and a versioned
shared-knowledge document in the project's run-state directory. Sessions
register, heartbeat, pick up tasks and exchange context through that one file;
every write is atomic, validated and recorded in a bounded version history.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.initConfig,
	}

	root.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/agentsync/config.yaml)")
	root.PersistentFlags().String("base-dir", "", "project directory holding the run-state directory (default is the working directory)")
	root.PersistentFlags().StringVarP(&a.format, "output", "o", formatTable, "output format: table, json, yaml or toml")
	_ = a.v.BindPFlag("config", root.PersistentFlags().Lookup("config"))
	_ = a.v.BindPFlag("store.base_dir", root.PersistentFlags().Lookup("base-dir"))

	root.AddCommand(
		newRegisterCmd(a),
		newDeregisterCmd(a),
		newHeartbeatCmd(a),
		newSessionsCmd(a),
		newReapCmd(a),
		newAssignCmd(a),
		newTaskCmd(a),
		newLocksCmd(a),
		newStatsCmd(a),
		newHistoryCmd(a),
		newRollbackCmd(a),
		newValidateCmd(a),
		newContextCmd(a),
		newJoinCmd(a),
		newServeCmd(a),
		newConfigCmd(a),
	)
	return root
}

func (a *app) initConfig(cmd *cobra.Command, _ []string) error {
	if !validFormat(a.format) {
		return fmt.Errorf("invalid --output %q: must be one of %v", a.format, formats())
	}

	// Set defaults first so they're available even without a config file
	config.SetDefaults(a.v)

	if cfgFile := a.v.GetString("config"); cfgFile != "" {
		a.v.SetConfigFile(cfgFile)
		if err := a.v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", cfgFile, err)
		}
	} else {
		a.v.SetConfigName("config")
		a.v.SetConfigType("yaml")
		a.v.AddConfigPath(config.ConfigDir())
		a.v.AddConfigPath(".")
		// Read config file if it exists (ignore error if not found)
		_ = a.v.ReadInConfig()
	}

	cfg, err := config.Load(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

// open wires the logger, metrics, event bus, manager and coordinator.
func (a *app) open(cmd *cobra.Command) (*runtime, error) {
	cfg := a.cfg
	paths, err := cfg.Paths()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base directory: %w", err)
	}

	logger := logging.NopLogger()
	if !cfg.Logging.Disabled {
		logDir, err := cfg.LogDir()
		if err != nil {
			return nil, err
		}
		logger, err = logging.NewLoggerWithRotation(logDir, cfg.Logging.Level, cfg.RotationConfig())
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Warning: file logging disabled: %v\n", err)
			logger = logging.NopLogger()
		}
	}
	logger = logger.With("command", cmd.Name())

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	bus := event.NewBus(logger)

	manager, err := sharedctx.NewManager(paths, cfg.ManagerConfig(),
		sharedctx.WithLogger(logger),
		sharedctx.WithMetrics(m),
		sharedctx.WithBus(bus),
	)
	if err != nil {
		_ = logger.Close()
		return nil, err
	}

	coord, err := coordinator.New(manager, cfg.CoordinatorConfig(),
		coordinator.WithLogger(logger),
		coordinator.WithMetrics(m),
		coordinator.WithBus(bus),
	)
	if err != nil {
		_ = logger.Close()
		return nil, err
	}

	return &runtime{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		bus:      bus,
		manager:  manager,
		coord:    coord,
	}, nil
}

// Close stops the sync loop, if any, and flushes the log.
func (r *runtime) Close() error {
	stopErr := r.coord.Stop()
	logErr := r.logger.Close()
	if stopErr != nil {
		return stopErr
	}
	return logErr
}

// withRuntime opens a runtime, runs fn and closes it.
func (a *app) withRuntime(cmd *cobra.Command, fn func(ctx context.Context, rt *runtime) error) error {
	rt, err := a.open(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(cmd.Context(), rt)
}

func (a *app) printer(cmd *cobra.Command) *printer {
	return newPrinter(cmd.OutOrStdout(), a.format)
}
