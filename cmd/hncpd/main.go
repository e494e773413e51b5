package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
)

// Set via -ldflags at build time:
//
//	go build -ldflags "-X main.version=0.1.0 -X main.commit=$(git rev-parse --short HEAD) -X main.buildDate=$(date -u +%Y-%m-%dT%H:%M:%SZ)" -o hncpd ./cmd/hncpd
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	if len(os.Args) < 2 {
		printUsage()
		osExit(1)
	}

	switch os.Args[1] {
	case "init":
		runInit(os.Args[2:])
	case "daemon":
		runDaemon(os.Args[2:])
	case "status":
		runStatus(os.Args[2:])
	case "nodes":
		runNodes(os.Args[2:])
	case "endpoints":
		runEndpoints(os.Args[2:])
	case "tlv":
		runTLV(os.Args[2:])
	case "config":
		runConfig(os.Args[2:])
	case "version", "--version":
		printVersion()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		osExit(1)
	}
}

func printVersion() {
	fmt.Printf("hncpd %s (%s) built %s\n", version, commit, buildDate)
	fmt.Printf("Go %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

func printUsage() {
	fmt.Println("Usage: hncpd <command> [options]")
	fmt.Println()
	fmt.Println("Daemon:")
	fmt.Println("  daemon                                   Start daemon (flooding engine + control API)")
	fmt.Println("  daemon status [--json]                   Query running daemon")
	fmt.Println("  daemon stop                              Graceful shutdown")
	fmt.Println()
	fmt.Println("Inspection (talks to the running daemon):")
	fmt.Println("  status [--json] [--history]              Show node id, network hash, reachable count")
	fmt.Println("  nodes [--json]                           List known node records")
	fmt.Println("  nodes <id-hex> [--json]                  Show one node record")
	fmt.Println("  endpoints [--json]                       List enabled endpoints")
	fmt.Println()
	fmt.Println("Published data:")
	fmt.Println("  tlv add <type> <hex-value>               Publish a local TLV (agent range, type >= 32)")
	fmt.Println("  tlv remove <handle>                      Withdraw a published TLV")
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println("  init [--dir path]                        Set up hncpd configuration")
	fmt.Println("  config validate [--config path]          Validate config")
	fmt.Println("  config show     [--config path]          Show resolved config")
	fmt.Println("  config rollback [--config path]          Restore last-known-good config")
	fmt.Println("  config apply <new> [--confirm-timeout]   Apply with auto-revert")
	fmt.Println("  config confirm  [--config path]          Confirm applied config")
	fmt.Println("  config snapshot <create|list|restore>    Manage config backups")
	fmt.Println()
	fmt.Println("  version                                  Show version information")
	fmt.Println()
	fmt.Println("All commands support --config <path> to specify a config file.")
	fmt.Println("Without --config, hncpd searches: ./hncpd.yaml, ~/.config/hncpd/config.yaml, /etc/hncpd/config.yaml")
	fmt.Println()
	fmt.Println("Get started:  hncpd init")
}
