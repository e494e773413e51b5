package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const snapshotTimeFormat = "2006-01-02_150405"

// SnapshotManager keeps timestamped backup snapshots of config files,
// each one a subdirectory of the backup root holding plain file copies.
type SnapshotManager struct {
	backupDir string
}

// Snapshot is one timestamped backup.
type Snapshot struct {
	Name      string    // directory name, e.g. "2026-08-02_031500"
	Path      string    // full path to the snapshot directory
	Timestamp time.Time // parsed from the directory name
	Files     []string  // filenames present in the snapshot
}

// NewSnapshotManager creates a manager rooted at backupDir. The directory
// itself is only created on the first Create.
func NewSnapshotManager(backupDir string) *SnapshotManager {
	return &SnapshotManager{backupDir: backupDir}
}

// newSnapshotDir picks a directory name for a snapshot taken now,
// suffixing _NN when several snapshots land in the same second.
func (sm *SnapshotManager) newSnapshotDir(now time.Time) (name, dir string) {
	name = now.Format(snapshotTimeFormat)
	dir = filepath.Join(sm.backupDir, name)
	for i := 1; i <= 99; i++ {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			return name, dir
		}
		name = fmt.Sprintf("%s_%02d", now.Format(snapshotTimeFormat), i)
		dir = filepath.Join(sm.backupDir, name)
	}
	return name, dir
}

// Create copies the named files out of sourceDir into a fresh snapshot.
// Files that do not exist are skipped, so a partially initialized config
// directory still snapshots cleanly.
func (sm *SnapshotManager) Create(sourceDir string, filenames []string) (*Snapshot, error) {
	now := time.Now().UTC()
	name, snapDir := sm.newSnapshotDir(now)
	if err := os.MkdirAll(snapDir, 0700); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}

	var copied []string
	for _, fname := range filenames {
		data, err := os.ReadFile(filepath.Join(sourceDir, fname))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("read %s: %w", fname, err)
		}
		if err := replaceFile(filepath.Join(snapDir, fname), data); err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", fname, err)
		}
		copied = append(copied, fname)
	}

	return &Snapshot{Name: name, Path: snapDir, Timestamp: now, Files: copied}, nil
}

// List returns all snapshots, newest first. A missing backup directory is
// an empty list, not an error.
func (sm *SnapshotManager) List() ([]Snapshot, error) {
	entries, err := os.ReadDir(sm.backupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read backup dir: %w", err)
	}

	var snapshots []Snapshot
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		ts, err := parseSnapshotName(entry.Name())
		if err != nil {
			continue // not one of ours
		}
		snapDir := filepath.Join(sm.backupDir, entry.Name())
		files, err := listFilesInDir(snapDir)
		if err != nil {
			continue
		}
		snapshots = append(snapshots, Snapshot{
			Name:      entry.Name(),
			Path:      snapDir,
			Timestamp: ts,
			Files:     files,
		})
	}

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].Timestamp.After(snapshots[j].Timestamp)
	})
	return snapshots, nil
}

// Restore copies a snapshot's files back into targetDir, atomically per
// file. The caller is responsible for taking a safety-net backup first.
func (sm *SnapshotManager) Restore(snapshot *Snapshot, targetDir string) error {
	for _, fname := range snapshot.Files {
		data, err := os.ReadFile(filepath.Join(snapshot.Path, fname))
		if err != nil {
			return fmt.Errorf("read snapshot %s/%s: %w", snapshot.Name, fname, err)
		}
		if err := replaceFile(filepath.Join(targetDir, fname), data); err != nil {
			return fmt.Errorf("restore %s: %w", fname, err)
		}
	}
	return nil
}

// parseSnapshotName parses a snapshot directory name, with or without the
// _NN collision suffix.
func parseSnapshotName(name string) (time.Time, error) {
	if len(name) > len(snapshotTimeFormat) && name[len(snapshotTimeFormat)] == '_' {
		name = name[:len(snapshotTimeFormat)]
	}
	ts, err := time.Parse(snapshotTimeFormat, name)
	if err != nil {
		return time.Time{}, fmt.Errorf("not a snapshot directory: %s", name)
	}
	return ts, nil
}

// listFilesInDir returns the regular files in dir, ignoring leftovers
// from interrupted atomic writes.
func listFilesInDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || strings.HasSuffix(entry.Name(), ".tmp") {
			continue
		}
		files = append(files, entry.Name())
	}
	return files, nil
}
