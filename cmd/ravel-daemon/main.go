package main

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/arkestra/ravel/pkg/changestore"
	"github.com/arkestra/ravel/pkg/changetransfer"
	"github.com/arkestra/ravel/pkg/config"
	"github.com/arkestra/ravel/pkg/controller"
	"github.com/arkestra/ravel/pkg/kvclient"
	"github.com/arkestra/ravel/pkg/log"
	"github.com/arkestra/ravel/pkg/metrics"
	"github.com/arkestra/ravel/pkg/raftlog"
	"github.com/arkestra/ravel/pkg/raftstate"
	"github.com/arkestra/ravel/pkg/reconciler"
	"github.com/arkestra/ravel/pkg/transport"
	"github.com/arkestra/ravel/pkg/types"
)

var (
	// Version information, set via ldflags at build time.
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "ravel-daemon",
	Short:   "ravel-daemon runs one node of a replicated POSIX filesystem",
	Version: Version,
	RunE:    runDaemon,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"ravel-daemon version %s\ncommit: %s\nbuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("config", "/etc/ravel/config.yaml", "path to the daemon's YAML config file")
	rootCmd.PersistentFlags().String("log-level", "", "override the configured log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "emit JSON-formatted logs")
	rootCmd.PersistentFlags().String("id", "", "override the configured node id")
	rootCmd.PersistentFlags().String("nodes", "", "override the configured node descriptor file path")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	logLevelOverride, _ := cmd.Flags().GetString("log-level")
	logJSON, _ := cmd.Flags().GetBool("log-json")
	idOverride, _ := cmd.Flags().GetString("id")
	nodesOverride, _ := cmd.Flags().GetString("nodes")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if logLevelOverride != "" {
		cfg.LogLevel = log.Level(logLevelOverride)
	}
	if idOverride != "" {
		cfg.NodeID = idOverride
	}
	if nodesOverride != "" {
		cfg.NodesFile = nodesOverride
	}

	log.Init(log.Config{Level: cfg.LogLevel, JSONOutput: logJSON || cfg.JSONLogs})
	logger := log.WithComponent("main")
	metrics.SetVersion(Version)

	nodes, err := config.LoadNodes(cfg.NodesFile)
	if err != nil {
		return fmt.Errorf("loading nodes file: %w", err)
	}
	self, peers, err := splitNodes(cfg.NodeID, nodes)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	d, err := buildDaemon(cfg, self, peers)
	if err != nil {
		return err
	}
	defer d.raftLog.Close()

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = startMetricsServer(cfg.MetricsAddr, logger)
	}

	listenAddr := cfg.ListenAddr
	if listenAddr == "" {
		listenAddr = self.Address()
	}
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", listenAddr, err)
	}
	go acceptPeers(ln, d.net, logger)
	for _, p := range peers {
		go dialPeer(self.ID, p, d.net, logger)
	}

	d.start()

	metrics.RegisterComponent("raft", true, "")
	metrics.RegisterComponent("kvclient", true, "")
	metrics.RegisterComponent("reconciler", true, "")
	logger.Info().Str("node_id", self.ID).Str("listen_addr", listenAddr).Int("peers", len(peers)).Msg("ravel-daemon started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutting down")
	d.stop()
	_ = ln.Close()
	if metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(ctx)
	}
	return nil
}

func splitNodes(nodeID string, nodes []types.NodeDescriptor) (self types.NodeDescriptor, peers []types.NodeDescriptor, err error) {
	found := false
	for _, n := range nodes {
		if n.ID == nodeID {
			self = n
			found = true
			continue
		}
		peers = append(peers, n)
	}
	if !found {
		return types.NodeDescriptor{}, nil, fmt.Errorf("node id %q not present in nodes file", nodeID)
	}
	return self, peers, nil
}

// stateHolder breaks the construction cycle between controller.New,
// which needs a Raft to drive, and raftstate.New, which needs the
// controller as its Handlers: kvclient and controller are both built
// against an empty holder, then raftstate.New produces the State that
// backs it.
type stateHolder struct {
	s *raftstate.State
}

func (h *stateHolder) Role() string   { return h.s.Role() }
func (h *stateHolder) Leader() string { return h.s.Leader() }
func (h *stateHolder) Propose(action types.Action) (uint64, bool) {
	return h.s.Propose(action)
}
func (h *stateHolder) Timeout() { h.s.Timeout() }
func (h *stateHolder) HandleAppendEntries(from string, req raftstate.AppendEntriesRequest) {
	h.s.HandleAppendEntries(from, req)
}
func (h *stateHolder) HandleAppendEntriesResponse(from string, resp raftstate.AppendEntriesResponse) {
	h.s.HandleAppendEntriesResponse(from, resp)
}
func (h *stateHolder) HandleRequestVote(from string, req raftstate.RequestVoteRequest) {
	h.s.HandleRequestVote(from, req)
}
func (h *stateHolder) HandleRequestVoteResponse(from string, resp raftstate.RequestVoteResponse) {
	h.s.HandleRequestVoteResponse(from, resp)
}

type daemon struct {
	raftLog           *raftlog.Log
	net               *transport.Net
	ctrl              *controller.Controller
	state             *raftstate.State
	reconciler        *reconciler.Reconciler
	collector         *metrics.Collector
	reconcileInterval time.Duration
}

func buildDaemon(cfg *config.Config, self types.NodeDescriptor, peers []types.NodeDescriptor) (*daemon, error) {
	rlog, err := raftlog.Open(filepath.Join(cfg.DataDir, "raft.log"))
	if err != nil {
		return nil, fmt.Errorf("opening raft log: %w", err)
	}

	net := transport.NewNet(self.ID)

	holder := &stateHolder{}
	kv := kvclient.New(self.ID, holder, net)
	ctrl := controller.New(self.ID, net, holder, kv, cfg.Timers)

	peerIDs := make([]string, 0, len(peers))
	for _, p := range peers {
		peerIDs = append(peerIDs, p.ID)
	}
	state := raftstate.New(self.ID, peerIDs, rlog, ctrl, kv)
	holder.s = state

	store, err := changestore.Open(filepath.Join(cfg.DataDir, "changestore"))
	if err != nil {
		return nil, fmt.Errorf("opening change store: %w", err)
	}
	ct := changetransfer.New(self.ID, store, net)
	ctrl.SetChangeTransfer(ct)

	scratchDir := filepath.Join(cfg.DataDir, "scratch")
	if err := os.MkdirAll(scratchDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating scratch dir: %w", err)
	}
	rec := reconciler.New(self.ID, kv, ct, store, uint32(os.Getuid()), uint32(os.Getgid()), scratchDir)
	kv.Subscribe(rec)
	ct.OnArrival(rec.NotifyArrival)

	collector := metrics.NewCollector(state, kv, rec)

	return &daemon{
		raftLog:           rlog,
		net:               net,
		ctrl:              ctrl,
		state:             state,
		reconciler:        rec,
		collector:         collector,
		reconcileInterval: cfg.ReconcileInterval,
	}, nil
}

func (d *daemon) start() {
	go d.ctrl.Start()
	d.ctrl.RequestTimeout(raftstate.TimeoutElection)
	d.reconciler.Start(d.reconcileInterval)
	d.collector.Start()
}

func (d *daemon) stop() {
	d.collector.Stop()
	d.reconciler.Stop()
	d.ctrl.Stop()
}

func startMetricsServer(addr string, logger zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server stopped unexpectedly")
		}
	}()
	logger.Info().Str("addr", addr).Msg("metrics endpoint listening")
	return srv
}

// acceptPeers runs the inbound side of the connection handshake: every
// accepted connection must send its node id as a single newline-
// terminated line before being handed to the transport.
func acceptPeers(ln net.Listener, n *transport.Net, logger zerolog.Logger) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			logger.Warn().Err(err).Msg("peer listener accept failed, stopping")
			return
		}
		go func() {
			peerID, err := readHandshake(conn)
			if err != nil {
				logger.Warn().Err(err).Msg("peer handshake failed")
				conn.Close()
				return
			}
			n.Accept(peerID, conn)
		}()
	}
}

// dialPeer keeps retrying a connection to peer until it succeeds; the
// daemon relies on the other side dialing back if this direction never
// connects (only one side needs to succeed for the link to come up).
func dialPeer(selfID string, peer types.NodeDescriptor, n *transport.Net, logger zerolog.Logger) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second
	for {
		conn, err := net.DialTimeout("tcp", peer.Address(), 5*time.Second)
		if err != nil {
			logger.Debug().Err(err).Str("peer", peer.ID).Msg("dial failed, retrying")
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		if err := writeHandshake(conn, selfID); err != nil {
			conn.Close()
			time.Sleep(backoff)
			continue
		}
		n.Dial(peer.ID, conn)
		return
	}
}

func writeHandshake(conn net.Conn, selfID string) error {
	_, err := fmt.Fprintf(conn, "%s\n", selfID)
	return err
}

func readHandshake(conn net.Conn) (string, error) {
	r := bufio.NewReader(conn)
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return line[:len(line)-1], nil
}
