package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing temp file: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTemp(t, "config.yaml", `
node_id: node-a
data_dir: /var/lib/ravel
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Timers.LeaderAverage != DefaultLeaderAverage {
		t.Errorf("LeaderAverage = %v, want default %v", cfg.Timers.LeaderAverage, DefaultLeaderAverage)
	}
	if cfg.Timers.ElectionAverage != DefaultElectionAverage {
		t.Errorf("ElectionAverage = %v, want default %v", cfg.Timers.ElectionAverage, DefaultElectionAverage)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
}

func TestLoadRequiresNodeIDAndDataDir(t *testing.T) {
	path := writeTemp(t, "config.yaml", `log_level: debug`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing node_id/data_dir")
	}
}

func TestLoadNodes(t *testing.T) {
	path := writeTemp(t, "nodes.json", `[
		{"id": "node-a", "host": "10.0.0.1", "port": 7000},
		{"id": "node-b", "host": "10.0.0.2", "port": 7000}
	]`)

	nodes, err := LoadNodes(path)
	if err != nil {
		t.Fatalf("LoadNodes: %v", err)
	}
	if len(nodes) != 2 {
		t.Fatalf("len(nodes) = %d, want 2", len(nodes))
	}
	if nodes[0].Address() != "10.0.0.1:7000" {
		t.Errorf("Address() = %q", nodes[0].Address())
	}
}

func TestLoadNodesRejectsEmpty(t *testing.T) {
	path := writeTemp(t, "nodes.json", `[]`)

	if _, err := LoadNodes(path); err == nil {
		t.Fatal("expected error for empty nodes file")
	}
}
