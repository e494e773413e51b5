package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hncpd/hncpd/internal/config"
	"github.com/hncpd/hncpd/internal/daemon"
	"github.com/hncpd/hncpd/internal/identity"
	"github.com/hncpd/hncpd/internal/reputation"
	"github.com/hncpd/hncpd/internal/svcdiscovery"
	"github.com/hncpd/hncpd/internal/watchdog"
	"github.com/hncpd/hncpd/pkg/hncp"
)

func runDaemon(args []string) {
	// If no subcommand or "start", run the daemon foreground.
	if len(args) == 0 {
		runDaemonStart(args)
		return
	}

	switch args[0] {
	case "start":
		runDaemonStart(args[1:])
	case "status":
		runStatus(args[1:])
	case "stop":
		runDaemonStop(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown daemon subcommand: %s\n\n", args[0])
		fmt.Println("Usage: hncpd daemon [start|status|stop]")
		osExit(1)
	}
}

// loadResolvedConfig finds, loads, path-resolves and validates the config.
func loadResolvedConfig(explicit string) (*config.Config, string, error) {
	cfgFile, err := config.FindConfigFile(explicit)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, "", err
	}
	config.ResolveConfigPaths(cfg, filepath.Dir(cfgFile))
	if err := config.Validate(cfg); err != nil {
		return nil, "", fmt.Errorf("invalid config %s: %w", cfgFile, err)
	}
	return cfg, cfgFile, nil
}

// serveRuntime owns everything a running daemon holds: the engine, its
// transports and receive pumps, the collaborators, and observability.
type serveRuntime struct {
	ctx    context.Context
	cancel context.CancelFunc

	configFile string
	cfg        *config.Config
	nodeID     hncp.NodeID

	engine     *hncp.Engine
	engineDone chan struct{}

	epConfig hncp.EndpointConfig

	trMu       sync.Mutex
	transports map[string]*hncp.UDPTransport
	pumps      *errgroup.Group

	metrics    *hncp.Metrics
	metricsSrv *http.Server

	history      *reputation.History
	historyObs   *hncp.Observer
	discovery    *svcdiscovery.Discovery
	watchdogDone chan struct{}

	startTime time.Time
	version   string
}

// --- daemon.RuntimeInfo ---

func (rt *serveRuntime) Engine() *hncp.Engine { return rt.engine }
func (rt *serveRuntime) ConfigFile() string   { return rt.configFile }
func (rt *serveRuntime) Version() string      { return rt.version }
func (rt *serveRuntime) StartTime() time.Time { return rt.startTime }

func newServeRuntime(ctx context.Context, cancel context.CancelFunc, configFlag, version string) (*serveRuntime, error) {
	cfg, cfgFile, err := loadResolvedConfig(configFlag)
	if err != nil {
		return nil, err
	}

	nodeID, err := identity.LoadOrCreate(cfg.Identity.NodeIDFile)
	if err != nil {
		return nil, fmt.Errorf("identity: %w", err)
	}
	slog.Info("node identity loaded", "node_id", nodeID, "file", cfg.Identity.NodeIDFile)

	var metrics *hncp.Metrics
	if cfg.Telemetry.Metrics.Enabled {
		metrics = hncp.NewMetrics(version, runtime.Version())
	}

	flooding := hncp.DefaultFloodingConfig()
	reach := hncp.DefaultReachabilityConfig()
	if cfg.Keepalive.ReachabilityGraceMs > 0 {
		// A configured grace replaces the default multiplier. The engine
		// applies the multiplier to its default I_max, so the grace is
		// rounded up to a whole multiple of that.
		iMax := int64(hncp.DefaultTrickleConfig().IMaxMs)
		reach.GraceMultiplier = int((cfg.Keepalive.ReachabilityGraceMs + iMax - 1) / iMax)
	}

	engine := hncp.NewRealtimeEngine(hncp.Config{
		OwnID:        nodeID,
		Flooding:     flooding,
		Reachability: reach,
		Metrics:      metrics,
		Logger:       slog.Default().With("component", "hncp"),
	})

	rt := &serveRuntime{
		ctx:        ctx,
		cancel:     cancel,
		configFile: cfgFile,
		cfg:        cfg,
		nodeID:     nodeID,
		engine:     engine,
		engineDone: make(chan struct{}),
		transports: make(map[string]*hncp.UDPTransport),
		metrics:    metrics,
		startTime:  time.Now(),
		version:    version,
	}

	go func() {
		defer close(rt.engineDone)
		if err := engine.Run(ctx); err != nil {
			slog.Error("engine stopped with error", "error", err)
		}
	}()
	return rt, nil
}

// Bootstrap opens every enabled endpoint's multicast socket, enables it
// on the engine, and starts its receive pump.
func (rt *serveRuntime) Bootstrap() error {
	rt.epConfig = hncp.EndpointConfig{
		Trickle: hncp.TrickleConfig{
			IMinMs: rt.cfg.Trickle.IMinMs,
			IMaxMs: rt.cfg.Trickle.IMaxMs,
			K:      rt.cfg.Trickle.K,
		},
		KeepaliveMs:         rt.cfg.Keepalive.IntervalMs,
		KeepaliveMultiplier: rt.cfg.Keepalive.Multiplier,
	}

	rt.pumps, _ = errgroup.WithContext(rt.ctx)

	enabled := 0
	for _, entry := range rt.cfg.Endpoints {
		if !entry.Enabled {
			slog.Info("endpoint disabled in config, skipping", "endpoint", entry.Name)
			continue
		}
		if err := rt.bringUpEndpoint(entry); err != nil {
			return err
		}
		enabled++
	}
	if enabled == 0 {
		return fmt.Errorf("no enabled endpoints in config")
	}
	return nil
}

// bringUpEndpoint opens the socket for one config entry, enables the
// endpoint on the engine and starts its receive pump.
func (rt *serveRuntime) bringUpEndpoint(entry config.EndpointEntry) error {
	group, portStr, err := net.SplitHostPort(entry.MulticastAddr)
	if err != nil {
		return fmt.Errorf("endpoint %s: bad multicast_addr %q: %w", entry.Name, entry.MulticastAddr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("endpoint %s: bad multicast port %q: %w", entry.Name, portStr, err)
	}

	tr, err := hncp.NewUDPTransport(entry.Interface, group, port)
	if err != nil {
		return fmt.Errorf("endpoint %s: %w", entry.Name, err)
	}
	if _, err := rt.engine.EnableEndpoint(entry.Name, tr, rt.epConfig); err != nil {
		tr.Close()
		return fmt.Errorf("endpoint %s: %w", entry.Name, err)
	}

	rt.trMu.Lock()
	rt.transports[entry.Name] = tr
	rt.trMu.Unlock()

	name := entry.Name
	rt.pumps.Go(func() error {
		err := tr.Pump(rt.ctx, name, rt.engine)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, net.ErrClosed) {
			slog.Error("endpoint receive pump failed", "endpoint", name, "error", err)
		}
		return nil
	})
	slog.Info("endpoint enabled", "endpoint", name, "interface", entry.Interface, "group", entry.MulticastAddr)
	return nil
}

// takeDownEndpoint disables one endpoint and closes its socket, which
// also terminates its receive pump.
func (rt *serveRuntime) takeDownEndpoint(name string) {
	if err := rt.engine.DisableEndpoint(name); err != nil {
		slog.Warn("endpoint disable failed", "endpoint", name, "error", err)
	}
	rt.trMu.Lock()
	tr := rt.transports[name]
	delete(rt.transports, name)
	rt.trMu.Unlock()
	if tr != nil {
		tr.Close()
	}
	slog.Info("endpoint disabled", "endpoint", name)
}

// StartIfaceWatch reacts to interface up/down transitions by bringing
// the affected endpoints down and up again.
func (rt *serveRuntime) StartIfaceWatch() {
	var names []string
	for _, entry := range rt.cfg.Endpoints {
		if entry.Enabled {
			names = append(names, entry.Interface)
		}
	}
	w := hncp.NewIfaceWatcher(names, 5*time.Second, func(ev hncp.IfaceEvent) {
		for _, entry := range rt.cfg.Endpoints {
			if !entry.Enabled || entry.Interface != ev.Name {
				continue
			}
			if ev.Up {
				if err := rt.bringUpEndpoint(entry); err != nil {
					slog.Warn("endpoint re-enable after link-up failed", "endpoint", entry.Name, "error", err)
				}
			} else {
				rt.takeDownEndpoint(entry.Name)
			}
		}
	})
	go w.Run(rt.ctx)
}

// StartHistory subscribes the node-history recorder to the engine's bus.
func (rt *serveRuntime) StartHistory() {
	path := filepath.Join(filepath.Dir(rt.configFile), "history.json")
	rt.history = reputation.New(path)
	rt.historyObs = &hncp.Observer{
		OnNodeChange: func(id hncp.NodeID, present, collision bool) {
			switch {
			case collision:
				rt.history.RecordCollision(id.String())
			case present:
				rt.history.RecordAppearance(id.String())
			default:
				rt.history.RecordDisappearance(id.String())
			}
		},
	}
	rt.engine.Subscribe(rt.historyObs)
}

// StartDiscovery launches the optional mDNS collaborator.
func (rt *serveRuntime) StartDiscovery() {
	if !rt.cfg.Discovery.IsMDNSEnabled() {
		return
	}
	port := 8231
	if len(rt.cfg.Endpoints) > 0 {
		if _, p, err := net.SplitHostPort(rt.cfg.Endpoints[0].MulticastAddr); err == nil {
			if v, err := strconv.Atoi(p); err == nil {
				port = v
			}
		}
	}
	d := svcdiscovery.New(rt.engine, rt.nodeID.String(), port, svcdiscovery.CapMDNSProxy, slog.Default().With("component", "svcdiscovery"))
	if err := d.Start(rt.ctx); err != nil {
		// Discovery is best-effort; the flooding engine works without it.
		slog.Warn("mdns discovery unavailable", "error", err)
		return
	}
	rt.discovery = d
}

// StartMetricsServer exposes the Prometheus registry when telemetry is on.
func (rt *serveRuntime) StartMetricsServer() {
	if rt.metrics == nil {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", rt.metrics.Handler())
	rt.metricsSrv = &http.Server{Addr: rt.cfg.Telemetry.Metrics.ListenAddress, Handler: mux}
	go func() {
		slog.Info("metrics listening", "addr", rt.metricsSrv.Addr)
		if err := rt.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server failed", "error", err)
		}
	}()
}

// StartWatchdog runs periodic health checks and systemd liveness pings.
func (rt *serveRuntime) StartWatchdog(checks ...watchdog.HealthCheck) {
	rt.watchdogDone = make(chan struct{})
	go func() {
		defer close(rt.watchdogDone)
		watchdog.Run(rt.ctx, watchdog.Config{}, checks)
	}()
	if err := watchdog.Ready(); err != nil {
		slog.Debug("sd_notify READY failed", "error", err)
	}
}

// Shutdown tears everything down in reverse bring-up order.
func (rt *serveRuntime) Shutdown() {
	if err := watchdog.Stopping(); err != nil {
		slog.Debug("sd_notify STOPPING failed", "error", err)
	}
	if rt.discovery != nil {
		if err := rt.discovery.Close(); err != nil {
			slog.Warn("discovery shutdown", "error", err)
		}
	}
	if rt.historyObs != nil {
		rt.engine.Unsubscribe(rt.historyObs)
	}

	rt.engine.Close()
	rt.cancel()

	rt.trMu.Lock()
	for name, tr := range rt.transports {
		if err := tr.Close(); err != nil {
			slog.Warn("transport close", "endpoint", name, "error", err)
		}
		delete(rt.transports, name)
	}
	rt.trMu.Unlock()
	if rt.pumps != nil {
		rt.pumps.Wait()
	}
	<-rt.engineDone
	if rt.watchdogDone != nil {
		<-rt.watchdogDone
	}

	if rt.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		rt.metricsSrv.Shutdown(ctx)
		cancel()
	}
	if rt.history != nil {
		if err := rt.history.Save(); err != nil {
			slog.Warn("node history save failed", "error", err)
		}
	}
}

// --- Start daemon (foreground) ---

func runDaemonStart(args []string) {
	fs := flag.NewFlagSet("daemon", flag.ExitOnError)
	configFlag := fs.String("config", "", "path to config file")
	fs.Parse(args)

	fmt.Printf("hncpd daemon %s (%s)\n", version, commit)
	fmt.Println()

	ctx, cancel := context.WithCancel(context.Background())

	rt, err := newServeRuntime(ctx, cancel, *configFlag, version)
	if err != nil {
		cancel()
		fatal("Failed to start: %v", err)
	}

	// Commit-confirmed config: if an apply is still pending, enforce its
	// deadline in the background. A deadline that passed while we were
	// down makes that goroutine revert the config and exit at once.
	if deadline, err := config.CheckPending(rt.configFile); err == nil && !deadline.IsZero() {
		go config.EnforceCommitConfirmed(ctx, rt.configFile, deadline, osExit)
	}

	if err := rt.Bootstrap(); err != nil {
		rt.Shutdown()
		fatal("Bootstrap failed: %v", err)
	}

	rt.StartHistory()
	rt.StartDiscovery()
	rt.StartIfaceWatch()

	srv := daemon.NewServer(rt, rt.cfg.Daemon.SocketPath, rt.cfg.Daemon.CookiePath, version)
	var audit *daemon.AuditLogger
	if rt.metrics != nil {
		audit = daemon.NewAuditLogger(slog.Default().Handler())
	}
	srv.SetInstrumentation(rt.metrics, audit)
	if err := srv.Start(); err != nil {
		rt.Shutdown()
		fatal("Daemon API failed to start: %v", err)
	}

	rt.StartMetricsServer()

	fmt.Printf("Node ID:    %s\n", rt.nodeID)
	fmt.Printf("Daemon API: %s\n", rt.cfg.Daemon.SocketPath)
	fmt.Println()

	rt.StartWatchdog(watchdog.HealthCheck{
		Name: "daemon-socket",
		Check: func() error {
			if srv.Listener() == nil {
				return fmt.Errorf("daemon socket not listening")
			}
			return nil
		},
	})

	// Archive the config we successfully started with as last-known-good.
	if err := config.Archive(rt.configFile); err != nil {
		slog.Warn("config archive failed", "error", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		fmt.Printf("\nReceived %s, shutting down...\n", sig)
	case <-srv.ShutdownCh():
		fmt.Println("\nShutdown requested via API")
	case <-ctx.Done():
	}

	srv.Stop()
	rt.Shutdown()
	fmt.Println("Daemon stopped.")
}

// --- Client helpers ---

func daemonClient(configFlag string) *daemon.Client {
	cfg, _, err := loadResolvedConfig(configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
	}
	c, err := daemon.NewClient(cfg.Daemon.SocketPath, cfg.Daemon.CookiePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
	}
	return c
}

func runDaemonStop(args []string) {
	fs := flag.NewFlagSet("daemon stop", flag.ExitOnError)
	configFlag := fs.String("config", "", "path to config file")
	fs.Parse(args)

	c := daemonClient(*configFlag)
	if err := c.Shutdown(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
	}
	fmt.Println("Shutdown requested.")
}
