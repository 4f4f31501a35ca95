package changestore

import (
	"fmt"
	"os"
	"path/filepath"
)

// Add reserves (key, version), creating key's directory if needed, and
// returns the path the caller must write the blob's contents to. It
// fails if (key, version) already exists.
func (s *Store) Add(key, version string) (string, error) {
	if s.ExistsVersion(key, version) {
		return "", fmt.Errorf("changestore: (%s, %s) already exists", key, version)
	}
	dir := s.keyDir(key)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("changestore: creating key directory for %s: %w", key, err)
	}
	s.markPresent(key, version)
	return filepath.Join(dir, version), nil
}

// Copy duplicates (key, version) under newKey at the same version.
// Repeating an existing copy is a silent no-op, matching the
// original's "we want repeats to be silently ignored" behavior.
func (s *Store) Copy(key, version, newKey string) error {
	if !s.ExistsVersion(key, version) {
		return fmt.Errorf("changestore: (%s, %s) does not exist", key, version)
	}
	if s.ExistsVersion(newKey, version) {
		return nil
	}

	dstDir := s.keyDir(newKey)
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return fmt.Errorf("changestore: creating key directory for %s: %w", newKey, err)
	}

	src, err := os.Open(s.Path(key, version))
	if err != nil {
		return fmt.Errorf("changestore: opening source blob: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(filepath.Join(dstDir, version))
	if err != nil {
		return fmt.Errorf("changestore: creating destination blob: %w", err)
	}
	defer dst.Close()

	if _, err := dst.ReadFrom(src); err != nil {
		return fmt.Errorf("changestore: copying blob: %w", err)
	}

	s.markPresent(newKey, version)
	return nil
}

// Rename moves (key, version) to (newKey, newVersion). If newVersion
// is empty, version is reused unchanged.
func (s *Store) Rename(key, version, newKey, newVersion string) error {
	if newVersion == "" {
		newVersion = version
	}
	if !s.ExistsVersion(key, version) {
		return fmt.Errorf("changestore: (%s, %s) does not exist", key, version)
	}
	if s.ExistsVersion(newKey, newVersion) {
		return fmt.Errorf("changestore: (%s, %s) already exists, cannot rename", newKey, newVersion)
	}

	dstDir := s.keyDir(newKey)
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return fmt.Errorf("changestore: creating key directory for %s: %w", newKey, err)
	}

	if err := os.Rename(s.Path(key, version), filepath.Join(dstDir, newVersion)); err != nil {
		return fmt.Errorf("changestore: renaming blob: %w", err)
	}

	s.markPresent(newKey, newVersion)
	s.removeVersion(key, version)
	return nil
}

// Kill deletes (key, version). If it was the last version under key,
// key's directory is removed too.
func (s *Store) Kill(key, version string) error {
	if !s.ExistsVersion(key, version) {
		return fmt.Errorf("changestore: (%s, %s) does not exist, cannot delete", key, version)
	}
	if err := os.Remove(s.Path(key, version)); err != nil {
		return fmt.Errorf("changestore: removing blob: %w", err)
	}
	s.removeVersion(key, version)
	return nil
}

// removeVersion drops (key, version) from the index, removing key's
// directory entirely once it has no versions left.
func (s *Store) removeVersion(key, version string) {
	if s.versions[key] == nil {
		return
	}
	delete(s.versions[key], version)
	if len(s.versions[key]) == 0 {
		delete(s.versions, key)
		if err := os.RemoveAll(s.keyDir(key)); err != nil {
			s.logger.Warn().Str("key", key).Err(err).Msg("failed to remove empty key directory")
		}
	}
}
