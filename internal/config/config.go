package config

// CurrentConfigVersion is the latest configuration schema version.
// Bump this when adding fields that require migration.
const CurrentConfigVersion = 1

// Config is hncpd's unified configuration structure.
type Config struct {
	Version   int             `yaml:"version,omitempty"`
	Identity  IdentityConfig  `yaml:"identity"`
	Endpoints []EndpointEntry `yaml:"endpoints"`
	Trickle   TrickleConfig   `yaml:"trickle,omitempty"`
	Keepalive KeepaliveConfig `yaml:"keepalive,omitempty"`
	Daemon    DaemonConfig    `yaml:"daemon,omitempty"`
	Telemetry TelemetryConfig `yaml:"telemetry,omitempty"`
	Discovery DiscoveryConfig `yaml:"discovery,omitempty"`
}

// IdentityConfig holds identity-related configuration.
type IdentityConfig struct {
	NodeIDFile string `yaml:"node_id_file"`
}

// EndpointEntry configures one network interface the engine floods
// state over.
type EndpointEntry struct {
	Name          string `yaml:"name"`
	Interface     string `yaml:"interface"`
	MulticastAddr string `yaml:"multicast_addr"` // e.g. "[ff02::1234]:8231" or "239.10.20.30:8231"
	Enabled       bool   `yaml:"enabled"`
}

// TrickleConfig holds the trickle timer bounds shared by every endpoint.
type TrickleConfig struct {
	IMinMs uint32 `yaml:"i_min_ms"`
	IMaxMs uint32 `yaml:"i_max_ms"`
	K      int    `yaml:"k"`
}

// KeepaliveConfig holds neighbour-liveness tuning.
type KeepaliveConfig struct {
	IntervalMs          uint32  `yaml:"interval_ms"`
	Multiplier          float64 `yaml:"multiplier"`
	ReachabilityGraceMs int64   `yaml:"reachability_grace_ms,omitempty"` // 0 = 2 x the engine's default I_max (60 s); otherwise rounded up to a whole multiple of it
}

// DaemonConfig holds the local control-API server's settings.
type DaemonConfig struct {
	SocketPath string `yaml:"socket_path"`
	CookiePath string `yaml:"cookie_path"`
}

// TelemetryConfig holds observability settings. Disabled by default.
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics,omitempty"`
}

// MetricsConfig controls Prometheus metrics exposure.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listen_address"` // default: "127.0.0.1:9231"
}

// DiscoveryConfig controls the optional mDNS collaborator, which
// advertises this node on the LAN, publishes its capability TLV and
// mirrors browsed LAN services into published TLVs.
type DiscoveryConfig struct {
	MDNSEnabled *bool `yaml:"mdns_enabled,omitempty"` // default: true
}

// IsMDNSEnabled returns whether mDNS advertisement is enabled, defaulting
// to true when unset.
func (d *DiscoveryConfig) IsMDNSEnabled() bool {
	if d.MDNSEnabled == nil {
		return true
	}
	return *d.MDNSEnabled
}

// DefaultTrickle returns the default trickle bounds, matching
// hncp.DefaultTrickleConfig.
func DefaultTrickle() TrickleConfig {
	return TrickleConfig{IMinMs: 200, IMaxMs: 60_000, K: 1}
}

// DefaultKeepalive returns the default keepalive tuning, matching
// hncp.DefaultEndpointConfig.
func DefaultKeepalive() KeepaliveConfig {
	return KeepaliveConfig{IntervalMs: 20_000, Multiplier: 3.5}
}
