package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"chdocs/internal/domain"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage CLI configuration profiles",
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigSetProfileCmd())
	cmd.AddCommand(newConfigUseProfileCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	var reveal bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Display current configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := LoadUserConfig()
			if err != nil {
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "No configuration found at %s\n", ConfigPath())
				return err
			}
			if !reveal {
				cfg = maskConfig(cfg)
			}
			if getOutputFormat(cmd) == "json" {
				return PrintJSON(cmd.OutOrStdout(), cfg)
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			_, _ = fmt.Fprint(cmd.OutOrStdout(), string(data))
			return nil
		},
	}

	cmd.Flags().BoolVar(&reveal, "reveal", false, "Show sensitive values unmasked")

	return cmd
}

// maskConfig returns a copy of the config with passwords masked.
func maskConfig(cfg *UserConfig) *UserConfig {
	masked := &UserConfig{
		CurrentProfile: cfg.CurrentProfile,
		Profiles:       make(map[string]Profile, len(cfg.Profiles)),
	}
	for name, p := range cfg.Profiles {
		p.Password = maskSecret(p.Password)
		masked.Profiles[name] = p
	}
	return masked
}

// maskSecret masks a sensitive string, showing first 4 and last 4 chars.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 10 {
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

func newConfigSetProfileCmd() *cobra.Command {
	var (
		name string
		p    Profile
	)

	cmd := &cobra.Command{
		Use:   "set-profile",
		Short: "Create or update a configuration profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			flags := cmd.Flags()
			if flags.Changed("default-output") {
				if err := validateOutputFormat(p.Output); err != nil {
					return err
				}
			}
			if flags.Changed("mode") {
				if _, err := domain.ParsePropagationMode(p.Mode); err != nil {
					return err
				}
			}

			cfg, err := LoadUserConfig()
			if err != nil {
				cfg = &UserConfig{
					CurrentProfile: "default",
					Profiles:       map[string]Profile{},
				}
			}

			cur := cfg.Profiles[name]
			for flag, set := range map[string]func(){
				"engine":         func() { cur.Engine = p.Engine },
				"host":           func() { cur.Host = p.Host },
				"port":           func() { cur.Port = p.Port },
				"user":           func() { cur.User = p.User },
				"password":       func() { cur.Password = p.Password },
				"database":       func() { cur.Database = p.Database },
				"cluster":        func() { cur.Cluster = p.Cluster },
				"cluster-config": func() { cur.ClusterConfig = p.ClusterConfig },
				"mode":           func() { cur.Mode = p.Mode },
				"project":        func() { cur.Project = p.Project },
				"catalog-sink":   func() { cur.CatalogSink = p.CatalogSink },
				"default-output": func() { cur.Output = p.Output },
			} {
				if flags.Changed(flag) {
					set()
				}
			}
			cfg.Profiles[name] = cur

			if err := SaveUserConfig(cfg); err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return PrintJSON(cmd.OutOrStdout(), map[string]string{
					"status":  "ok",
					"profile": name,
					"path":    ConfigPath(),
				})
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Profile %q saved to %s\n", name, ConfigPath())
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&name, "name", "", "Profile name (required)")
	f.StringVar(&p.Engine, "engine", "", "Engine: clickhouse or duckdb")
	f.StringVar(&p.Host, "host", "", "Target host, or DuckDB database file")
	f.IntVar(&p.Port, "port", 0, "Target port")
	f.StringVar(&p.User, "user", "", "Target user")
	f.StringVar(&p.Password, "password", "", "Target password")
	f.StringVar(&p.Database, "database", "", "Default database")
	f.StringVar(&p.Cluster, "cluster", "", "Cluster name")
	f.StringVar(&p.ClusterConfig, "cluster-config", "", "Cluster topology file")
	f.StringVar(&p.Mode, "mode", "", "Propagation mode")
	f.StringVar(&p.Project, "project", "", "Project manifest")
	f.StringVar(&p.CatalogSink, "catalog-sink", "", "Catalog artifact destination")
	f.StringVar(&p.Output, "default-output", "", "Default output format")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func newConfigUseProfileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use-profile <name>",
		Short: "Set the active configuration profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadUserConfig()
			if err != nil {
				return fmt.Errorf("no config found: %w", err)
			}
			name := args[0]
			if _, ok := cfg.Profiles[name]; !ok {
				return fmt.Errorf("profile %q not found", name)
			}
			cfg.CurrentProfile = name
			if err := SaveUserConfig(cfg); err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return PrintJSON(cmd.OutOrStdout(), map[string]string{
					"status":         "ok",
					"active_profile": name,
				})
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Active profile set to %q\n", name)
			return nil
		},
	}
}
