package config

import (
	"os"
	"path/filepath"
	"testing"
)

// Minimal valid YAML for loading tests.
const testConfigYAML = `
identity:
  node_id_file: "node.id"
endpoints:
  - name: lan0
    interface: eth0
    multicast_addr: "239.10.20.30:8231"
    enabled: true
trickle:
  i_min_ms: 200
  i_max_ms: 60000
  k: 1
keepalive:
  interval_ms: 20000
  multiplier: 3.5
telemetry:
  metrics:
    enabled: true
    listen_address: "127.0.0.1:9231"
`

func writeTestConfig(t testing.TB, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write test config: %v", err)
	}
	return path
}

func writeTempConfig(t testing.TB) string {
	return writeTestConfig(t, t.TempDir(), testConfigYAML)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir, testConfigYAML)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Identity.NodeIDFile != "node.id" {
		t.Errorf("NodeIDFile = %q, want %q", cfg.Identity.NodeIDFile, "node.id")
	}
	if len(cfg.Endpoints) != 1 {
		t.Fatalf("Endpoints count = %d, want 1", len(cfg.Endpoints))
	}
	if cfg.Endpoints[0].Name != "lan0" {
		t.Errorf("Endpoints[0].Name = %q, want %q", cfg.Endpoints[0].Name, "lan0")
	}
	if cfg.Trickle.IMaxMs != 60000 {
		t.Errorf("IMaxMs = %d, want 60000", cfg.Trickle.IMaxMs)
	}
	if !cfg.Telemetry.Metrics.Enabled {
		t.Error("metrics.enabled should be true")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir, `
identity:
  node_id_file: "node.id"
endpoints:
  - name: lan0
    interface: eth0
    multicast_addr: "239.10.20.30:8231"
    enabled: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Trickle != DefaultTrickle() {
		t.Errorf("Trickle = %+v, want defaults %+v", cfg.Trickle, DefaultTrickle())
	}
	if cfg.Keepalive != DefaultKeepalive() {
		t.Errorf("Keepalive = %+v, want defaults %+v", cfg.Keepalive, DefaultKeepalive())
	}
	if cfg.Daemon.SocketPath == "" {
		t.Error("SocketPath should have a default")
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path.yaml")
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir, "not: [valid: yaml: {{{")

	_, err := Load(path)
	if err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoadVersionTooNew(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir, `
version: 999
identity:
  node_id_file: "node.id"
endpoints:
  - name: lan0
    interface: eth0
    multicast_addr: "239.10.20.30:8231"
`)

	_, err := Load(path)
	if err == nil {
		t.Error("expected error for config version too new")
	}
}

func TestValidate(t *testing.T) {
	valid := &Config{
		Identity:  IdentityConfig{NodeIDFile: "node.id"},
		Endpoints: []EndpointEntry{{Name: "lan0", Interface: "eth0", MulticastAddr: "239.10.20.30:8231", Enabled: true}},
		Trickle:   DefaultTrickle(),
		Keepalive: DefaultKeepalive(),
	}

	if err := Validate(valid); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
}

func TestValidateMissingFields(t *testing.T) {
	endpoint := EndpointEntry{Name: "lan0", Interface: "eth0", MulticastAddr: "239.10.20.30:8231"}
	tests := []struct {
		name string
		cfg  Config
	}{
		{"no node_id_file", Config{
			Endpoints: []EndpointEntry{endpoint},
			Trickle:   DefaultTrickle(),
		}},
		{"no endpoints", Config{
			Identity: IdentityConfig{NodeIDFile: "x"},
			Trickle:  DefaultTrickle(),
		}},
		{"endpoint missing interface", Config{
			Identity:  IdentityConfig{NodeIDFile: "x"},
			Endpoints: []EndpointEntry{{Name: "lan0", MulticastAddr: "239.10.20.30:8231"}},
			Trickle:   DefaultTrickle(),
		}},
		{"duplicate endpoint name", Config{
			Identity:  IdentityConfig{NodeIDFile: "x"},
			Endpoints: []EndpointEntry{endpoint, endpoint},
			Trickle:   DefaultTrickle(),
		}},
		{"invalid trickle bounds", Config{
			Identity:  IdentityConfig{NodeIDFile: "x"},
			Endpoints: []EndpointEntry{endpoint},
			Trickle:   TrickleConfig{IMinMs: 60000, IMaxMs: 200, K: 1},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := Validate(&tt.cfg); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestFindConfigFileExplicitMissing(t *testing.T) {
	_, err := FindConfigFile("/nonexistent/explicit.yaml")
	if err == nil {
		t.Error("expected error for missing explicit path")
	}
}

func TestResolveConfigPaths(t *testing.T) {
	cfg := &Config{Identity: IdentityConfig{NodeIDFile: "node.id"}}
	ResolveConfigPaths(cfg, "/etc/hncpd")
	if cfg.Identity.NodeIDFile != filepath.Join("/etc/hncpd", "node.id") {
		t.Errorf("NodeIDFile = %q, want resolved path", cfg.Identity.NodeIDFile)
	}
}
