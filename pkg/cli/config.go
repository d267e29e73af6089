package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// UserConfig represents ~/.chdocs/config.yaml.
type UserConfig struct {
	CurrentProfile string             `yaml:"current-profile" json:"current_profile"`
	Profiles       map[string]Profile `yaml:"profiles" json:"profiles"`
}

// Profile is a named set of connection defaults. Any value the environment
// sets wins over the profile.
type Profile struct {
	Engine        string `yaml:"engine,omitempty" json:"engine,omitempty"`
	Host          string `yaml:"host,omitempty" json:"host,omitempty"`
	Port          int    `yaml:"port,omitempty" json:"port,omitempty"`
	User          string `yaml:"user,omitempty" json:"user,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
	Database      string `yaml:"database,omitempty" json:"database,omitempty"`
	Cluster       string `yaml:"cluster,omitempty" json:"cluster,omitempty"`
	ClusterConfig string `yaml:"cluster-config,omitempty" json:"cluster_config,omitempty"`
	Mode          string `yaml:"mode,omitempty" json:"mode,omitempty"`
	Project       string `yaml:"project,omitempty" json:"project,omitempty"`
	CatalogSink   string `yaml:"catalog-sink,omitempty" json:"catalog_sink,omitempty"`
	Output        string `yaml:"output,omitempty" json:"output,omitempty"`
}

// ActiveProfile returns the profile to use based on the override or
// current-profile. A missing current profile is empty; a missing override
// is an error.
func (c *UserConfig) ActiveProfile(override string) (Profile, error) {
	name := c.CurrentProfile
	if override != "" {
		name = override
	}
	if p, ok := c.Profiles[name]; ok {
		return p, nil
	}
	if override != "" {
		return Profile{}, fmt.Errorf("profile %q not found", override)
	}
	return Profile{}, nil
}

// env lists the environment variables the profile supplies.
func (p Profile) env() map[string]string {
	vars := map[string]string{
		"ENGINE":           p.Engine,
		"TARGET_HOST":      p.Host,
		"TARGET_USER":      p.User,
		"TARGET_PASSWORD":  p.Password,
		"TARGET_DATABASE":  p.Database,
		"CLUSTER":          p.Cluster,
		"CLUSTER_CONFIG":   p.ClusterConfig,
		"PROPAGATION_MODE": p.Mode,
		"PROJECT_FILE":     p.Project,
		"CATALOG_SINK":     p.CatalogSink,
	}
	if p.Port != 0 {
		vars["TARGET_PORT"] = strconv.Itoa(p.Port)
	}
	return vars
}

// apply sets every profile value whose variable is unset or empty.
func (p Profile) apply() error {
	for k, v := range p.env() {
		if v == "" || os.Getenv(k) != "" {
			continue
		}
		if err := os.Setenv(k, v); err != nil {
			return fmt.Errorf("set %s: %w", k, err)
		}
	}
	return nil
}

// ConfigDir returns the path to ~/.chdocs/.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".chdocs")
}

// ConfigPath returns the path to ~/.chdocs/config.yaml.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// LoadUserConfig reads ~/.chdocs/config.yaml.
func LoadUserConfig() (*UserConfig, error) {
	path := ConfigPath()
	data, err := os.ReadFile(path) //nolint:gosec // path is under the user's home
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg UserConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Profiles == nil {
		cfg.Profiles = map[string]Profile{}
	}
	return &cfg, nil
}

// SaveUserConfig writes ~/.chdocs/config.yaml.
func SaveUserConfig(cfg *UserConfig) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(ConfigPath(), data, 0o600)
}
