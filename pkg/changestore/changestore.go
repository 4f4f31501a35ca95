// Package changestore is C5: the content-addressed blob store backing
// the replicated key-value client. Each (key, version) pair is a plain
// file at root/<urlencode(key)>/<version>; the store's in-memory
// version index is rebuilt by scanning that directory tree at startup
// (spec.md §4.5).
package changestore

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/arkestra/ravel/pkg/log"
)

// Store is the on-disk, content-addressed blob store.
type Store struct {
	root string

	// versions maps a key to the set of versions currently present on
	// disk, mirroring the original's directory-scan recovery index.
	versions map[string]map[string]bool

	logger zerolog.Logger
}

// Open recovers (or creates) a Store rooted at root, scanning existing
// entries into the in-memory version index. Non-directory entries
// directly under root, and non-regular-file entries inside a key
// directory, are logged at warn and skipped rather than treated as a
// fatal error (the original's recovery behavior).
func Open(root string) (*Store, error) {
	logger := log.WithComponent("changestore")

	info, err := os.Stat(root)
	if os.IsNotExist(err) {
		logger.Info().Str("root", root).Msg("change store root being created")
		if err := os.MkdirAll(root, 0o755); err != nil {
			return nil, fmt.Errorf("changestore: creating root %s: %w", root, err)
		}
		return &Store{root: root, versions: make(map[string]map[string]bool), logger: logger}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("changestore: stat root %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("changestore: root %s is not a directory", root)
	}

	logger.Info().Str("root", root).Msg("recovering change store")

	s := &Store{root: root, versions: make(map[string]map[string]bool), logger: logger}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("changestore: reading root %s: %w", root, err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			logger.Warn().Str("entry", entry.Name()).Msg("non-directory entry in change store root, skipping")
			continue
		}
		key, err := url.QueryUnescape(entry.Name())
		if err != nil {
			logger.Warn().Str("entry", entry.Name()).Msg("undecodable key directory name, skipping")
			continue
		}
		keyDir := filepath.Join(root, entry.Name())
		versionEntries, err := os.ReadDir(keyDir)
		if err != nil {
			logger.Warn().Str("key", key).Msg("failed to read key directory, skipping")
			continue
		}
		for _, ve := range versionEntries {
			if !ve.Type().IsRegular() {
				logger.Warn().Str("key", key).Str("entry", ve.Name()).Msg("non-regular-file version entry, skipping")
				continue
			}
			s.markPresent(key, ve.Name())
		}
	}

	return s, nil
}

func (s *Store) markPresent(key, version string) {
	if s.versions[key] == nil {
		s.versions[key] = make(map[string]bool)
	}
	s.versions[key][version] = true
}

func (s *Store) keyDir(key string) string {
	return filepath.Join(s.root, url.QueryEscape(key))
}

// Path returns the on-disk path for (key, version), without checking
// it exists.
func (s *Store) Path(key, version string) string {
	return filepath.Join(s.keyDir(key), version)
}

// Exists reports whether key has any version present.
func (s *Store) Exists(key string) bool {
	return len(s.versions[key]) > 0
}

// ExistsVersion reports whether (key, version) is present.
func (s *Store) ExistsVersion(key, version string) bool {
	return s.versions[key] != nil && s.versions[key][version]
}

// Root returns the managed root directory.
func (s *Store) Root() string { return s.root }
