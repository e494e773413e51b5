package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/hncpd/hncpd/internal/config"
	"github.com/hncpd/hncpd/internal/identity"
	"github.com/hncpd/hncpd/internal/validate"
)

func runInit(args []string) {
	if err := doInit(args, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
	}
}

func doInit(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	dirFlag := fs.String("dir", "", "config directory (default: ~/.config/hncpd)")
	ifaceFlag := fs.String("interface", "eth0", "network interface for the first endpoint")
	nameFlag := fs.String("endpoint", "lan", "name for the first endpoint")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := validate.EndpointName(*nameFlag); err != nil {
		return fmt.Errorf("invalid --endpoint value: %w", err)
	}

	configDir := *dirFlag
	if configDir == "" {
		d, err := config.DefaultConfigDir()
		if err != nil {
			return fmt.Errorf("cannot determine config directory: %w", err)
		}
		configDir = d
	}

	configFile := filepath.Join(configDir, "config.yaml")
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config already exists: %s\nDelete it first if you want to reinitialize", configFile)
	}

	fmt.Fprintf(stdout, "Creating config directory: %s\n", configDir)
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Generate and persist the node identity.
	idFile := filepath.Join(configDir, "node.id")
	nodeID, err := identity.LoadOrCreate(idFile)
	if err != nil {
		return fmt.Errorf("failed to generate node id: %w", err)
	}
	fmt.Fprintf(stdout, "Node ID: %s\n", nodeID)
	fmt.Fprintln(stdout)

	configContent := configTemplate(*nameFlag, *ifaceFlag)
	if err := os.WriteFile(configFile, []byte(configContent), 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Fprintf(stdout, "Config written to:   %s\n", configFile)
	fmt.Fprintf(stdout, "Identity saved to:   %s\n", idFile)
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, "Next steps:")
	fmt.Fprintln(stdout, "  1. Edit the endpoints section for your interfaces")
	fmt.Fprintln(stdout, "  2. Start the daemon:  hncpd daemon")
	fmt.Fprintln(stdout, "  3. Inspect the mesh:  hncpd status")
	return nil
}

// configTemplate renders the starter config. The multicast group is the
// link-local IPv6 group every hncpd instance joins by default.
func configTemplate(endpointName, iface string) string {
	return fmt.Sprintf(`# hncpd configuration (generated by hncpd init)
version: 1

identity:
  # Relative paths are resolved against this file's directory.
  node_id_file: node.id

endpoints:
  - name: %s
    interface: %s
    multicast_addr: "[ff02::8808]:8231"
    enabled: true

# Trickle timer bounds, shared by every endpoint.
#trickle:
#  i_min_ms: 200
#  i_max_ms: 60000
#  k: 1

#keepalive:
#  interval_ms: 20000
#  multiplier: 3.5

daemon:
  socket_path: %s
  cookie_path: %s

#telemetry:
#  metrics:
#    enabled: true
#    listen_address: "127.0.0.1:9231"

#discovery:
#  mdns_enabled: true
`, endpointName, iface, defaultSocketPath(), defaultCookiePath())
}

func defaultSocketPath() string {
	if dir, err := config.DefaultConfigDir(); err == nil {
		return filepath.Join(dir, "hncpd.sock")
	}
	return "/var/run/hncpd.sock"
}

func defaultCookiePath() string {
	if dir, err := config.DefaultConfigDir(); err == nil {
		return filepath.Join(dir, ".daemon-cookie")
	}
	return "/var/run/hncpd.cookie"
}
