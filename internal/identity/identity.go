// Package identity loads or creates the local node's persistent
// NodeID.
package identity

import (
	"crypto/rand"
	"fmt"
	"os"
	"runtime"

	"github.com/hncpd/hncpd/pkg/hncp"
)

// CheckKeyFilePermissions verifies that a node-id file is not readable
// by group or others.
func CheckKeyFilePermissions(path string) error {
	if runtime.GOOS == "windows" {
		return nil // Windows file permissions work differently
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("cannot stat node id file %s: %w", path, err)
	}
	mode := info.Mode().Perm()
	if mode&0077 != 0 {
		return fmt.Errorf("node id file %s has insecure permissions %04o (expected 0600); fix with: chmod 600 %s", path, mode, path)
	}
	return nil
}

// LoadOrCreate loads an existing NodeID from path, or generates a new
// random one and persists it there.
func LoadOrCreate(path string) (hncp.NodeID, error) {
	if data, err := os.ReadFile(path); err == nil {
		if err := CheckKeyFilePermissions(path); err != nil {
			return hncp.NodeID{}, err
		}
		if len(data) != hncp.NodeIDLen {
			return hncp.NodeID{}, fmt.Errorf("node id file %s has wrong length %d, want %d", path, len(data), hncp.NodeIDLen)
		}
		return hncp.NodeIDFromBytes(data), nil
	}

	var id hncp.NodeID
	if _, err := rand.Read(id[:]); err != nil {
		return hncp.NodeID{}, fmt.Errorf("failed to generate node id: %w", err)
	}

	if err := os.WriteFile(path, id[:], 0600); err != nil {
		return hncp.NodeID{}, fmt.Errorf("failed to save node id to %s: %w", path, err)
	}
	return id, nil
}
