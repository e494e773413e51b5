package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hncpd/hncpd/internal/validate"
)

// checkConfigFilePermissions returns an error if a config file grants any
// permission to group or others (mode & 0077 != 0).
func checkConfigFilePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return nil // file access errors are handled by the caller
	}
	mode := info.Mode().Perm()
	if mode&0077 != 0 {
		return fmt.Errorf("config file %s has overly permissive mode %04o; expected 0600; fix with: chmod 600 %s", path, mode, path)
	}
	return nil
}

// Load loads hncpd configuration from a YAML file and applies defaults.
func Load(path string) (*Config, error) {
	if err := checkConfigFilePermissions(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if cfg.Version == 0 {
		cfg.Version = 1
	}
	if cfg.Version > CurrentConfigVersion {
		return nil, fmt.Errorf("%w: version %d is newer than supported version %d; please upgrade hncpd", ErrConfigVersionTooNew, cfg.Version, CurrentConfigVersion)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// applyDefaults replaces an entirely unset trickle or keepalive section
// with the engine's own defaults and fills unset daemon paths and the
// metrics listen address, so a minimal config file (just identity +
// endpoints) is valid. A partly set section is kept as written.
func applyDefaults(cfg *Config) {
	if cfg.Trickle == (TrickleConfig{}) {
		cfg.Trickle = DefaultTrickle()
	}
	if cfg.Keepalive == (KeepaliveConfig{}) {
		cfg.Keepalive = DefaultKeepalive()
	}
	if cfg.Daemon.SocketPath == "" {
		cfg.Daemon.SocketPath = "/var/run/hncpd.sock"
	}
	if cfg.Daemon.CookiePath == "" {
		cfg.Daemon.CookiePath = "/var/run/hncpd.cookie"
	}
	if cfg.Telemetry.Metrics.Enabled && cfg.Telemetry.Metrics.ListenAddress == "" {
		cfg.Telemetry.Metrics.ListenAddress = "127.0.0.1:9231"
	}
}

// Validate checks a loaded Config for the minimum set of fields the
// daemon needs to start.
func Validate(cfg *Config) error {
	if cfg.Identity.NodeIDFile == "" {
		return fmt.Errorf("identity.node_id_file is required")
	}
	if len(cfg.Endpoints) == 0 {
		return fmt.Errorf("endpoints must contain at least one entry")
	}
	seen := make(map[string]bool, len(cfg.Endpoints))
	for _, ep := range cfg.Endpoints {
		if err := validate.EndpointName(ep.Name); err != nil {
			return fmt.Errorf("endpoints: %w", err)
		}
		if seen[ep.Name] {
			return fmt.Errorf("endpoints: duplicate name %q", ep.Name)
		}
		seen[ep.Name] = true
		if ep.Interface == "" {
			return fmt.Errorf("endpoints[%s]: interface is required", ep.Name)
		}
		if ep.MulticastAddr == "" {
			return fmt.Errorf("endpoints[%s]: multicast_addr is required", ep.Name)
		}
	}
	if cfg.Trickle.IMinMs == 0 || cfg.Trickle.IMaxMs == 0 || cfg.Trickle.IMinMs > cfg.Trickle.IMaxMs {
		return fmt.Errorf("trickle: i_min_ms must be positive and not exceed i_max_ms")
	}
	return nil
}

// FindConfigFile searches for an hncpd config file in standard locations.
// Search order: explicitPath (if given), ./hncpd.yaml,
// ~/.config/hncpd/config.yaml, /etc/hncpd/config.yaml.
func FindConfigFile(explicitPath string) (string, error) {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return "", fmt.Errorf("%w: %s", ErrConfigNotFound, explicitPath)
		}
		return explicitPath, nil
	}

	searchPaths := []string{"hncpd.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths, filepath.Join(home, ".config", "hncpd", "config.yaml"))
	}
	searchPaths = append(searchPaths, filepath.Join("/etc", "hncpd", "config.yaml"))

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w; searched:\n  %s\n\nRun 'hncpd init' to create one, or use --config <path>", ErrConfigNotFound, strings.Join(searchPaths, "\n  "))
}

// ResolveConfigPaths resolves relative file paths in the config to be
// relative to the config file's directory, so configs in
// ~/.config/hncpd/ can reference the node-id file with a relative path.
func ResolveConfigPaths(cfg *Config, configDir string) {
	if cfg.Identity.NodeIDFile != "" && !filepath.IsAbs(cfg.Identity.NodeIDFile) {
		cfg.Identity.NodeIDFile = filepath.Join(configDir, cfg.Identity.NodeIDFile)
	}
}

// DefaultConfigDir returns the default hncpd config directory
// (~/.config/hncpd).
func DefaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".config", "hncpd"), nil
}
