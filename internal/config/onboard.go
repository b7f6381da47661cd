package config

import (
	"os"
	"path/filepath"
	"strings"
)

// ExpandHome expands a leading "~/" to the current user's home directory,
// the same tilde-expansion the teacher repo performs inline at every call
// site that reads a configured path.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

// EnsureDirs creates the database directory and the sessions directory the
// gateway needs before it can open its store or session files, mirroring the
// teacher's InitializeWorkspace which eagerly creates the directories its
// subsystems write into before anything starts.
func EnsureDirs(cfg Config) error {
	dbDir := filepath.Dir(ExpandHome(cfg.DatabasePath))
	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		return err
	}
	if err := os.MkdirAll(ExpandHome(cfg.SessionsDir), 0o700); err != nil {
		return err
	}
	return nil
}

// ReaderSessionPath and WriterSessionPath return the on-disk session file
// paths within SessionsDir (§6's "two session-store files (reader, writer)
// in SESSIONS_DIR").
func ReaderSessionPath(cfg Config) string {
	return filepath.Join(ExpandHome(cfg.SessionsDir), "reader.session")
}

func WriterSessionPath(cfg Config) string {
	return filepath.Join(ExpandHome(cfg.SessionsDir), "writer.session")
}
