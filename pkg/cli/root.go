package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"chdocs/internal/app"
	"chdocs/internal/config"
)

var (
	version = "dev"
	commit  = "none"
)

// Execute runs the CLI.
func Execute() int {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		output, _ := rootCmd.PersistentFlags().GetString("output")
		if output == "json" {
			_ = PrintJSON(os.Stdout, map[string]any{"error": err.Error()})
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

// rootOptions holds the persistent flags. Set flags take precedence over
// the environment.
type rootOptions struct {
	profile  string
	project  string
	envFile  string
	cluster  string
	mode     modeFlag
	logLevel string
	output   string

	active Profile
}

func newRootCmd() *cobra.Command {
	o := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "chdocs",
		Short:         "Cluster-aware documentation propagation",
		Long:          "Builds models on every node of a ClickHouse cluster (or a DuckDB database) and checks that table and column comments agree everywhere.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Config file is optional
			ucfg, err := LoadUserConfig()
			if err != nil {
				ucfg = &UserConfig{CurrentProfile: "default", Profiles: map[string]Profile{}}
			}
			p, err := ucfg.ActiveProfile(o.profile)
			if err != nil {
				return err
			}
			o.active = p

			// Apply precedence: flag > env > profile > default
			if !cmd.Flags().Changed("output") {
				if v := os.Getenv("CHDOCS_OUTPUT"); v != "" {
					o.output = v
				} else if p.Output != "" {
					o.output = p.Output
				}
			}
			return validateOutputFormat(o.output)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&o.profile, "profile", "p", "", "Config profile to use")
	rootCmd.PersistentFlags().StringVarP(&o.project, "project", "f", "", "Project manifest (overrides PROJECT_FILE)")
	rootCmd.PersistentFlags().StringVar(&o.envFile, "env-file", ".env", "Load variables from this file when present")
	rootCmd.PersistentFlags().StringVar(&o.cluster, "cluster", "", "Cluster name (overrides CLUSTER)")
	rootCmd.PersistentFlags().Var(&o.mode, "mode", "Propagation mode: auto, cluster or fanout (overrides PROPAGATION_MODE)")
	rootCmd.PersistentFlags().StringVar(&o.logLevel, "log-level", "", "Log level (overrides LOG_LEVEL)")
	rootCmd.PersistentFlags().StringVarP(&o.output, "output", "o", defaultOutputFormat(), "Output format (table, json)")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newRunCmd(o))
	rootCmd.AddCommand(newVerifyCmd(o))
	rootCmd.AddCommand(newDocsCmd(o))
	rootCmd.AddCommand(newServeCmd(o))

	return rootCmd
}

// loadConfig reads the env file, fills unset variables from the active
// profile, loads the environment and then applies flags.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	if o.envFile != "" {
		if err := config.LoadDotEnv(o.envFile); err != nil {
			return nil, fmt.Errorf("load %s: %w", o.envFile, err)
		}
	}
	if err := o.active.apply(); err != nil {
		return nil, err
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, err
	}
	if o.project != "" {
		cfg.ProjectFile = o.project
	}
	if o.cluster != "" {
		cfg.Cluster = o.cluster
	}
	if o.mode.mode != "" {
		cfg.PropagationMode = string(o.mode.mode)
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	return cfg, nil
}

// newApp loads configuration and wires the application. Logs go to the
// command's stderr so stdout carries only results.
func (o *rootOptions) newApp(ctx context.Context, cmd *cobra.Command) (*app.App, *config.Config, *slog.Logger, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	logger := cfg.NewLogger(cmd.ErrOrStderr())
	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}
	a, err := app.New(ctx, app.Deps{Cfg: cfg, Logger: logger})
	if err != nil {
		return nil, nil, nil, err
	}
	return a, cfg, logger, nil
}
