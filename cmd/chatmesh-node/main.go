// Copyright (C) 2025 chatmesh-project
//
// This file is part of chatmesh-node.
//
// chatmesh-node is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// chatmesh-node is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with chatmesh-node. If not, see <https://www.gnu.org/licenses/>.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/chatmesh/node/config"
	"github.com/chatmesh/node/discovery"
	"github.com/chatmesh/node/discovery/zeroconf"
	"github.com/chatmesh/node/identity"
	"github.com/chatmesh/node/internal/logger"
	"github.com/chatmesh/node/internal/metrics"
	"github.com/chatmesh/node/node"
	"github.com/chatmesh/node/pkg/health"
	"github.com/chatmesh/node/pkg/version"
	"github.com/chatmesh/node/store"
	"github.com/chatmesh/node/store/postgres"
	"github.com/chatmesh/node/store/sqlite"
	"github.com/chatmesh/node/ui"
)

var (
	flagConfigDir  string
	flagEnv        string
	flagUsername   string
	flagProfile    string
	flagDataDir    string
	flagStoreDrv   string
	flagStoreDSN   string
	flagDiscovery  string
	flagLogLevel   string
	flagMetricsOn  bool
	flagMetricsPt  int
	flagHealthPort int
)

var rootCmd = &cobra.Command{
	Use:   "chatmesh-node",
	Short: "chatmesh-node runs a peer on the encrypted LAN chat mesh",
	Long: `chatmesh-node discovers peers on the local network, joins the
always-on #general channel, and relays invite-only private channels over
a gossiped, end-to-end encrypted link layer.`,
	RunE: runNode,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		version.PrintVersion()
	},
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	flags := rootCmd.Flags()
	flags.StringVar(&flagConfigDir, "config-dir", "config", "directory containing environment config files")
	flags.StringVar(&flagEnv, "env", "", "environment name (default: auto-detected)")
	flags.StringVar(&flagUsername, "username", "", "display name to advertise on the mesh")
	flags.StringVar(&flagProfile, "profile", "", "path to this node's identity profile JSON")
	flags.StringVar(&flagDataDir, "data-dir", "", "directory for node state")
	flags.StringVar(&flagStoreDrv, "store-driver", "", "persistence backend: sqlite or postgres")
	flags.StringVar(&flagStoreDSN, "store-dsn", "", "sqlite file path or postgres connection string")
	flags.StringVar(&flagDiscovery, "discovery", "", "discovery adapter (zeroconf)")
	flags.StringVar(&flagLogLevel, "log-level", "", "debug, info, warn, or error")
	flags.BoolVar(&flagMetricsOn, "metrics", false, "expose a Prometheus /metrics endpoint")
	flags.IntVar(&flagMetricsPt, "metrics-port", 0, "port for the metrics HTTP server")
	flags.IntVar(&flagHealthPort, "health-port", 8090, "port for the health HTTP server")

	rootCmd.AddCommand(versionCmd)
}

func main() {
	// Best-effort: a missing .env is normal outside local dev, so its
	// absence is not an error worth surfacing.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runNode(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(config.LoaderOptions{
		ConfigDir:   flagConfigDir,
		Environment: flagEnv,
	})
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ensureConfigBlocks(cfg)
	applyFlagOverrides(cfg)

	lvl := logger.InfoLevel
	switch cfg.Logging.Level {
	case "debug":
		lvl = logger.DebugLevel
	case "warn":
		lvl = logger.WarnLevel
	case "error":
		lvl = logger.ErrorLevel
	}
	log := logger.NewLogger(os.Stdout, lvl)
	logger.SetDefaultLogger(log)

	log.Info("starting chatmesh-node",
		logger.String("version", version.Short()),
		logger.String("environment", cfg.Environment),
	)

	if err := os.MkdirAll(cfg.Node.DataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	id, err := identity.LoadOrCreate(cfg.Node.ProfilePath, cfg.Node.Username)
	if err != nil {
		return fmt.Errorf("load identity: %w", err)
	}
	log.Info("identity loaded", logger.String("node_id", id.PublicID()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	disc, err := openDiscovery(cfg.Discovery)
	if err != nil {
		st.Close()
		return fmt.Errorf("open discovery: %w", err)
	}

	n := node.New(id, st, disc, ui.NewLoggingUI())
	if err := n.Start(ctx); err != nil {
		st.Close()
		return fmt.Errorf("start node: %w", err)
	}
	log.Info("node listening", logger.Int("port", n.Port()))

	if cfg.Metrics.Enabled {
		addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
		go func() {
			log.Info("metrics server listening", logger.String("addr", addr))
			if err := metrics.StartServer(addr); err != nil {
				log.Error("metrics server stopped", logger.Error(err))
			}
		}()
	}

	healthSrv, err := health.StartHealthServer(flagHealthPort, st, cfg.Store.Driver, n.Link(), cfg.Node.ProfilePath)
	if err != nil {
		log.Warn("health server failed to start", logger.Error(err))
	} else {
		log.Info("health server listening", logger.Int("port", flagHealthPort))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if healthSrv != nil {
		if err := healthSrv.Stop(shutdownCtx); err != nil {
			log.Warn("health server shutdown failed", logger.Error(err))
		}
	}
	if err := n.Stop(); err != nil {
		log.Warn("node stop failed", logger.Error(err))
	}

	return nil
}

// ensureConfigBlocks allocates any nested config block a bare config
// file left nil, since config.Load leaves absent blocks as nil rather
// than defaulting them (see config.setDefaults).
func ensureConfigBlocks(cfg *config.Config) {
	if cfg.Node == nil {
		cfg.Node = &config.NodeConfig{}
	}
	if cfg.Discovery == nil {
		cfg.Discovery = &config.DiscoveryConfig{}
	}
	if cfg.Store == nil {
		cfg.Store = &config.StoreConfig{}
	}
	if cfg.Logging == nil {
		cfg.Logging = &config.LoggingConfig{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = &config.MetricsConfig{}
	}
	if cfg.Node.ProfilePath == "" {
		cfg.Node.ProfilePath = ".chatmesh/profile.json"
	}
	if cfg.Node.DataDir == "" {
		cfg.Node.DataDir = ".chatmesh"
	}
	if cfg.Discovery.Adapter == "" {
		cfg.Discovery.Adapter = "zeroconf"
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "sqlite"
	}
	if cfg.Store.DSN == "" {
		cfg.Store.DSN = ".chatmesh/mesh.db"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
}

func applyFlagOverrides(cfg *config.Config) {
	if flagUsername != "" {
		cfg.Node.Username = flagUsername
	}
	if flagProfile != "" {
		cfg.Node.ProfilePath = flagProfile
	}
	if flagDataDir != "" {
		cfg.Node.DataDir = flagDataDir
	}
	if flagStoreDrv != "" {
		cfg.Store.Driver = flagStoreDrv
	}
	if flagStoreDSN != "" {
		cfg.Store.DSN = flagStoreDSN
	}
	if flagDiscovery != "" {
		cfg.Discovery.Adapter = flagDiscovery
	}
	if flagLogLevel != "" {
		cfg.Logging.Level = flagLogLevel
	}
	if flagMetricsOn {
		cfg.Metrics.Enabled = true
	}
	if flagMetricsPt != 0 {
		cfg.Metrics.Port = flagMetricsPt
	}
}

func openStore(ctx context.Context, cfg *config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case "postgres":
		return postgres.OpenDSN(ctx, cfg.DSN)
	case "sqlite", "":
		return sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func openDiscovery(cfg *config.DiscoveryConfig) (discovery.Adapter, error) {
	switch cfg.Adapter {
	case "zeroconf", "":
		return zeroconf.New(), nil
	default:
		return nil, fmt.Errorf("unknown discovery adapter %q", cfg.Adapter)
	}
}
