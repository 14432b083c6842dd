package config

import (
	"errors"
	"fmt"
	"os"

	"go.yaml.in/yaml/v3"

	"github.com/yuriy-kovalchuk/yk-tailsync/internal/dns"
)

// Config holds the sync job configuration: which DNS backend to drive, its
// connection settings, and the hostname suffix that bounds the managed zone.
type Config struct {
	Backend  string            `yaml:"backend"`
	Settings map[string]string `yaml:"settings"`
	Suffix   string            `yaml:"suffix"`
	LogFile  string            `yaml:"log_file"`
}

// Load reads the configuration file named by the SYNC_CONFIG_PATH environment
// variable, defaulting to "configs/sync.yaml". The default file may be
// absent, in which case configuration comes entirely from environment
// variables; an explicitly configured path must exist.
func Load() (*Config, error) {
	if path := os.Getenv("SYNC_CONFIG_PATH"); path != "" {
		return LoadFromPath(path)
	}
	cfg, err := LoadFromPath("configs/sync.yaml")
	if err != nil && errors.Is(err, os.ErrNotExist) {
		return finalize(&Config{})
	}
	return cfg, err
}

// LoadFromPath reads the sync configuration from the given file path.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading sync config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing sync config file: %w", err)
	}

	// Expand ${ENV_VAR} references in setting values.
	for k, v := range cfg.Settings {
		cfg.Settings[k] = os.ExpandEnv(v)
	}

	return finalize(&cfg)
}

// finalize layers environment overrides on top of the file, fills defaults,
// and normalizes the suffix. Environment variables win over file values.
func finalize(cfg *Config) (*Config, error) {
	if cfg.Settings == nil {
		cfg.Settings = make(map[string]string)
	}

	if v := os.Getenv("PIHOLE_API_URL"); v != "" {
		cfg.Settings["base_url"] = v
	}
	if v := os.Getenv("PIHOLE_PASSWORD"); v != "" {
		cfg.Settings["password"] = v
	}
	if v := os.Getenv("HOSTNAME_SUFFIX"); v != "" {
		cfg.Suffix = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.LogFile = v
	}

	if cfg.Backend == "" {
		cfg.Backend = "pihole"
	}
	if cfg.Backend == "pihole" && cfg.Settings["base_url"] == "" {
		cfg.Settings["base_url"] = "http://pi.hole/api"
	}
	if cfg.Suffix == "" {
		cfg.Suffix = ".lan"
	}

	suffix, err := dns.NormalizeSuffix(cfg.Suffix)
	if err != nil {
		return nil, fmt.Errorf("sync config: %w", err)
	}
	cfg.Suffix = suffix

	return cfg, nil
}
