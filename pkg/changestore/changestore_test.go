package changestore

import (
	"os"
	"path/filepath"
	"testing"
)

func writeBlob(t *testing.T, s *Store, key, version, content string) {
	t.Helper()
	path, err := s.Add(key, version)
	if err != nil {
		t.Fatalf("Add(%s, %s): %v", key, version, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing blob: %v", err)
	}
}

func TestAddThenExists(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	writeBlob(t, s, "root", "0", "hello")

	if !s.Exists("root") {
		t.Fatal("Exists(root) = false")
	}
	if !s.ExistsVersion("root", "0") {
		t.Fatal("ExistsVersion(root, 0) = false")
	}
	if s.ExistsVersion("root", "1") {
		t.Fatal("ExistsVersion(root, 1) = true, want false")
	}
}

func TestAddDuplicateFails(t *testing.T) {
	s, _ := Open(t.TempDir())
	writeBlob(t, s, "root", "0", "hello")

	if _, err := s.Add("root", "0"); err == nil {
		t.Fatal("Add of existing (key, version) should fail")
	}
}

func TestKillRemovesVersionAndEmptyKeyDir(t *testing.T) {
	dir := t.TempDir()
	s, _ := Open(dir)
	writeBlob(t, s, "root", "0", "hello")

	if err := s.Kill("root", "0"); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	if s.Exists("root") {
		t.Fatal("Exists(root) should be false after killing its only version")
	}
	if _, err := os.Stat(s.keyDir("root")); !os.IsNotExist(err) {
		t.Fatalf("key directory should be removed, stat err = %v", err)
	}
}

func TestCopyRepeatIsSilentNoOp(t *testing.T) {
	s, _ := Open(t.TempDir())
	writeBlob(t, s, "a", "0", "hello")

	if err := s.Copy("a", "0", "b"); err != nil {
		t.Fatalf("first Copy: %v", err)
	}
	if err := s.Copy("a", "0", "b"); err != nil {
		t.Fatalf("repeat Copy should be a silent no-op, got: %v", err)
	}

	data, err := os.ReadFile(s.Path("b", "0"))
	if err != nil {
		t.Fatalf("reading copied blob: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("copied content = %q, want %q", data, "hello")
	}
}

func TestRenameMovesAndCleansUpSource(t *testing.T) {
	s, _ := Open(t.TempDir())
	writeBlob(t, s, "a", "0", "hello")

	if err := s.Rename("a", "0", "b", ""); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if s.Exists("a") {
		t.Fatal("source key should be gone after rename")
	}
	if !s.ExistsVersion("b", "0") {
		t.Fatal("destination (b, 0) should exist after rename")
	}
}

func TestRenameToOccupiedDestinationFails(t *testing.T) {
	s, _ := Open(t.TempDir())
	writeBlob(t, s, "a", "0", "hello")
	writeBlob(t, s, "b", "0", "world")

	if err := s.Rename("a", "0", "b", ""); err == nil {
		t.Fatal("Rename onto an occupied destination should fail")
	}
}

func TestRecoveryScansExistingTree(t *testing.T) {
	dir := t.TempDir()
	s1, _ := Open(dir)
	writeBlob(t, s1, "root", "0", "hello")
	writeBlob(t, s1, "root", "1", "world")

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("re-opening existing root: %v", err)
	}
	if !s2.ExistsVersion("root", "0") || !s2.ExistsVersion("root", "1") {
		t.Fatal("recovery should have found both versions")
	}
}

func TestRecoverySkipsNonRegularEntries(t *testing.T) {
	dir := t.TempDir()
	// A stray non-directory entry directly under root.
	if err := os.WriteFile(filepath.Join(dir, "stray.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open should tolerate stray non-directory entries, got: %v", err)
	}
	if s.Exists("stray.txt") {
		t.Fatal("stray entry should not be indexed as a key")
	}
}
