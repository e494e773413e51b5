package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// The last-known-good archive: whenever the daemon starts successfully,
// the config it started with is copied to a hidden sibling file. `hncpd
// config rollback` restores it after a bad edit.

// ArchivePath returns the last-known-good archive path for a config file.
// Example: /etc/hncpd/config.yaml -> /etc/hncpd/.config.last-good.yaml
func ArchivePath(configPath string) string {
	return hiddenSibling(configPath, ".last-good"+filepath.Ext(configPath))
}

// Archive copies configPath to its last-known-good location, atomically
// so a crash mid-write cannot corrupt the archive.
func Archive(configPath string) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("archive: read config: %w", err)
	}
	if err := replaceFile(ArchivePath(configPath), data); err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	return nil
}

// Rollback restores configPath from its last-known-good archive.
func Rollback(configPath string) error {
	data, err := os.ReadFile(ArchivePath(configPath))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNoArchive, ArchivePath(configPath))
		}
		return fmt.Errorf("rollback: read archive: %w", err)
	}
	if err := replaceFile(configPath, data); err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

// HasArchive reports whether a last-known-good archive exists.
func HasArchive(configPath string) bool {
	_, err := os.Stat(ArchivePath(configPath))
	return err == nil
}
