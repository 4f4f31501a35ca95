// Package config loads the daemon's bootstrap configuration: its own
// operational settings (data directory, control socket, log level,
// timer tuning) and the static list of peers that make up the cluster.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arkestra/ravel/pkg/log"
	"github.com/arkestra/ravel/pkg/types"
)

// Config is the daemon's own operational configuration, loaded from a
// YAML file named on the command line.
type Config struct {
	// NodeID is this node's identifier; must match an entry in the
	// node descriptor list.
	NodeID string `yaml:"node_id"`

	// DataDir is the root directory for the Raft log, the change
	// store, and any scratch files.
	DataDir string `yaml:"data_dir"`

	// ControlSocket is the path of the Unix socket the (out-of-scope)
	// CLI control client connects to.
	ControlSocket string `yaml:"control_socket"`

	// NodesFile is the path to the JSON node descriptor list.
	NodesFile string `yaml:"nodes_file"`

	// LogLevel is one of log.DebugLevel/InfoLevel/WarnLevel/ErrorLevel.
	LogLevel log.Level `yaml:"log_level"`

	// JSONLogs selects JSON vs. console log output.
	JSONLogs bool `yaml:"json_logs"`

	// MetricsAddr is the listen address for the Prometheus/health HTTP
	// endpoint, e.g. ":9100". Empty disables it.
	MetricsAddr string `yaml:"metrics_addr"`

	// ListenAddr is the listen address for inter-node transport
	// connections, e.g. ":7100". Must match this node's descriptor
	// port in the nodes file.
	ListenAddr string `yaml:"listen_addr"`

	// ReconcileInterval is how often pkg/reconciler's Tick resubmits
	// queued mutations. Zero means DefaultReconcileInterval.
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`

	Timers TimerConfig `yaml:"timers"`
}

// DefaultReconcileInterval is applied when ReconcileInterval is unset.
const DefaultReconcileInterval = 2 * time.Second

// TimerConfig overrides the default leader-heartbeat and
// election-timeout distributions. Zero values mean "use the default".
type TimerConfig struct {
	LeaderAverage   time.Duration `yaml:"leader_average"`
	LeaderFuzz      time.Duration `yaml:"leader_fuzz"`
	ElectionAverage time.Duration `yaml:"election_average"`
	ElectionFuzz    time.Duration `yaml:"election_fuzz"`
}

// Defaults, applied to any zero-valued timer field.
const (
	DefaultLeaderAverage   = time.Second
	DefaultLeaderFuzz      = 200 * time.Millisecond
	DefaultElectionAverage = 3 * time.Second
	DefaultElectionFuzz    = time.Second
)

// Load reads and parses a YAML config file from path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.applyDefaults()

	if cfg.NodeID == "" {
		return nil, fmt.Errorf("config %s: node_id is required", path)
	}
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("config %s: data_dir is required", path)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Timers.LeaderAverage == 0 {
		c.Timers.LeaderAverage = DefaultLeaderAverage
	}
	if c.Timers.LeaderFuzz == 0 {
		c.Timers.LeaderFuzz = DefaultLeaderFuzz
	}
	if c.Timers.ElectionAverage == 0 {
		c.Timers.ElectionAverage = DefaultElectionAverage
	}
	if c.Timers.ElectionFuzz == 0 {
		c.Timers.ElectionFuzz = DefaultElectionFuzz
	}
	if c.LogLevel == "" {
		c.LogLevel = log.InfoLevel
	}
	if c.ReconcileInterval == 0 {
		c.ReconcileInterval = DefaultReconcileInterval
	}
}

// LoadNodes reads the JSON array of node descriptors that makes up the
// cluster membership list.
func LoadNodes(path string) ([]types.NodeDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading nodes file %s: %w", path, err)
	}

	var nodes []types.NodeDescriptor
	if err := json.Unmarshal(data, &nodes); err != nil {
		return nil, fmt.Errorf("parsing nodes file %s: %w", path, err)
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("nodes file %s: must list at least one node", path)
	}

	return nodes, nil
}
