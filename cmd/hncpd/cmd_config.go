package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hncpd/hncpd/internal/config"
)

func runConfig(args []string) {
	if len(args) < 1 {
		printConfigUsage()
		osExit(1)
	}

	switch args[0] {
	case "validate":
		runConfigValidate(args[1:])
	case "show":
		runConfigShow(args[1:])
	case "rollback":
		runConfigRollback(args[1:])
	case "apply":
		runConfigApply(args[1:])
	case "confirm":
		runConfigConfirm(args[1:])
	case "snapshot":
		runConfigSnapshot(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown config command: %s\n\n", args[0])
		printConfigUsage()
		osExit(1)
	}
}

func runConfigValidate(args []string) {
	if err := doConfigValidate(args, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
	}
}

func doConfigValidate(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("config validate", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	configFlag := fs.String("config", "", "path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfgFile, err := config.FindConfigFile(*configFlag)
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(stdout, "FAIL: %s\n", err)
		return fmt.Errorf("invalid config")
	}
	config.ResolveConfigPaths(cfg, filepath.Dir(cfgFile))

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(stdout, "FAIL: %s\n", err)
		return fmt.Errorf("validation failed")
	}

	fmt.Fprintf(stdout, "OK: %s is valid\n", cfgFile)
	return nil
}

func runConfigShow(args []string) {
	if err := doConfigShow(args, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
	}
}

func doConfigShow(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("config show", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	configFlag := fs.String("config", "", "path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfgFile, err := config.FindConfigFile(*configFlag)
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	config.ResolveConfigPaths(cfg, filepath.Dir(cfgFile))

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(stdout, "WARNING: config has validation errors: %v\n\n", err)
	}

	fmt.Fprintf(stdout, "# Resolved config from %s\n", cfgFile)
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	fmt.Fprint(stdout, string(out))

	if config.HasArchive(cfgFile) {
		fmt.Fprintf(stdout, "\n# Last-known-good archive: %s\n", config.ArchivePath(cfgFile))
	} else {
		fmt.Fprintf(stdout, "\n# No last-known-good archive (will be created on next successful daemon start)\n")
	}

	deadline, err := config.CheckPending(cfgFile)
	if err == nil && !deadline.IsZero() {
		remaining := time.Until(deadline).Round(time.Second)
		if remaining > 0 {
			fmt.Fprintf(stdout, "# Commit-confirmed pending: %s remaining\n", remaining)
		} else {
			fmt.Fprintf(stdout, "# Commit-confirmed expired (will revert on next daemon start)\n")
		}
	}
	return nil
}

func runConfigRollback(args []string) {
	if err := doConfigRollback(args, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
	}
}

func doConfigRollback(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("config rollback", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	configFlag := fs.String("config", "", "path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfgFile, err := config.FindConfigFile(*configFlag)
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	if !config.HasArchive(cfgFile) {
		return fmt.Errorf("no last-known-good archive for %s", cfgFile)
	}

	if err := config.Rollback(cfgFile); err != nil {
		return fmt.Errorf("rollback failed: %w", err)
	}

	fmt.Fprintf(stdout, "Restored %s from last-known-good archive\n", cfgFile)
	fmt.Fprintln(stdout, "You can now restart the hncpd daemon.")
	return nil
}

func runConfigApply(args []string) {
	if err := doConfigApply(args, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
	}
}

func doConfigApply(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("config apply", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configFlag := fs.String("config", "", "path to current config file")
	timeout := fs.Duration("confirm-timeout", 5*time.Minute, "auto-revert timeout (e.g., 5m, 10m)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	remaining := fs.Args()
	if len(remaining) < 1 {
		return fmt.Errorf("usage: hncpd config apply <new-config> [--config path] [--confirm-timeout 5m]")
	}
	newConfigPath := remaining[0]

	cfgFile, err := config.FindConfigFile(*configFlag)
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	// Validate the new config before applying
	newCfg, err := config.Load(newConfigPath)
	if err != nil {
		return fmt.Errorf("new config is invalid: %w", err)
	}
	config.ResolveConfigPaths(newCfg, filepath.Dir(newConfigPath))
	if err := config.Validate(newCfg); err != nil {
		return fmt.Errorf("new config has validation errors: %w", err)
	}

	if err := config.ApplyCommitConfirmed(cfgFile, newConfigPath, *timeout); err != nil {
		return fmt.Errorf("apply failed: %w", err)
	}

	fmt.Fprintf(stdout, "Applied %s -> %s\n", newConfigPath, cfgFile)
	fmt.Fprintf(stdout, "Auto-revert in %s unless confirmed.\n", timeout)
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, "After restarting the hncpd daemon and verifying the mesh converges:")
	fmt.Fprintln(stdout, "  hncpd config confirm")
	return nil
}

func runConfigConfirm(args []string) {
	if err := doConfigConfirm(args, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
	}
}

func doConfigConfirm(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("config confirm", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	configFlag := fs.String("config", "", "path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfgFile, err := config.FindConfigFile(*configFlag)
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	if err := config.Confirm(cfgFile); err != nil {
		return fmt.Errorf("confirm failed: %w", err)
	}

	fmt.Fprintf(stdout, "Config confirmed: %s is now permanent\n", cfgFile)
	return nil
}

func runConfigSnapshot(args []string) {
	if err := doConfigSnapshot(args, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
	}
}

func doConfigSnapshot(args []string, stdout io.Writer) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: hncpd config snapshot <create|list|restore> [options]")
	}
	sub := args[0]

	fs := flag.NewFlagSet("config snapshot "+sub, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	configFlag := fs.String("config", "", "path to config file")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	cfgFile, err := config.FindConfigFile(*configFlag)
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	configDir := filepath.Dir(cfgFile)
	sm := config.NewSnapshotManager(filepath.Join(configDir, "backups"))

	switch sub {
	case "create":
		snap, err := sm.Create(configDir, []string{filepath.Base(cfgFile), "node.id"})
		if err != nil {
			return fmt.Errorf("snapshot failed: %w", err)
		}
		fmt.Fprintf(stdout, "Snapshot created: %s (%d files)\n", snap.Name, len(snap.Files))
		return nil
	case "list":
		snaps, err := sm.List()
		if err != nil {
			return fmt.Errorf("cannot list snapshots: %w", err)
		}
		if len(snaps) == 0 {
			fmt.Fprintln(stdout, "No snapshots.")
			return nil
		}
		for _, s := range snaps {
			fmt.Fprintf(stdout, "%s  (%d files)\n", s.Name, len(s.Files))
		}
		return nil
	case "restore":
		rest := fs.Args()
		if len(rest) != 1 {
			return fmt.Errorf("usage: hncpd config snapshot restore <name>")
		}
		snaps, err := sm.List()
		if err != nil {
			return fmt.Errorf("cannot list snapshots: %w", err)
		}
		for i := range snaps {
			if snaps[i].Name == rest[0] {
				if err := sm.Restore(&snaps[i], configDir); err != nil {
					return fmt.Errorf("restore failed: %w", err)
				}
				fmt.Fprintf(stdout, "Restored snapshot %s into %s\n", rest[0], configDir)
				return nil
			}
		}
		return fmt.Errorf("no snapshot named %q", rest[0])
	default:
		return fmt.Errorf("unknown snapshot command %q", sub)
	}
}

func printConfigUsage() {
	fmt.Println("Usage: hncpd config <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  validate [--config path]                                   Validate config without starting")
	fmt.Println("  show     [--config path]                                   Show resolved config")
	fmt.Println("  rollback [--config path]                                   Restore last-known-good config")
	fmt.Println("  apply    <new-config> [--config path] [--confirm-timeout]  Apply config with auto-revert safety")
	fmt.Println("  confirm  [--config path]                                   Confirm applied config (cancel revert)")
	fmt.Println("  snapshot <create|list|restore> [--config path]             Manage timestamped config backups")
}
