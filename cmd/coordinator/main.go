// Command coordinator runs the Strata coordinator service: the central
// control plane for a distributed ML training run.
//
// The coordinator is responsible for:
//   - Worker registration, heartbeat liveness, and rank assignment
//   - Dataset registration and shard-to-worker assignment via a
//     consistent-hash ring and a deterministic per-epoch shuffle
//   - Cluster barriers that gate step/epoch boundaries
//   - An async checkpoint index: durable write pipeline, retention,
//     recovery-candidate selection
//
// Architecture:
//
//	┌─────────────────────────────────────────┐
//	│              Coordinator                 │
//	├─────────────────────────────────────────┤
//	│  RPC surface (internal/transport):       │
//	│    /workers/*     - registration, heartbeat, liveness │
//	│    /datasets/*    - shard assignment     │
//	│    /checkpoints/* - checkpoint index     │
//	│    /barriers/*    - barrier rendezvous   │
//	│    /ws/heartbeats - streaming heartbeats │
//	├─────────────────────────────────────────┤
//	│  Dashboard (internal/dashboard):         │
//	│    read-only JSON view, separate port    │
//	└─────────────────────────────────────────┘
//
// Configuration is loaded by internal/config: built-in defaults, an
// optional YAML file passed with --config, and STRATA_-prefixed
// environment variables, in increasing precedence.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/syrilj/strata/internal/barrier"
	"github.com/syrilj/strata/internal/checkpoint"
	"github.com/syrilj/strata/internal/config"
	"github.com/syrilj/strata/internal/dashboard"
	"github.com/syrilj/strata/internal/ratelimit"
	"github.com/syrilj/strata/internal/registry"
	"github.com/syrilj/strata/internal/shard"
	"github.com/syrilj/strata/internal/storage"
	"github.com/syrilj/strata/internal/telemetry"
	"github.com/syrilj/strata/internal/transport"
)

var configPath string

// defaultBindAddr is spec.md §6's default RPC bind address, used when the
// coordinator is invoked with no positional argument.
const defaultBindAddr = "0.0.0.0:50051"

func main() {
	log := logrus.New()

	root := &cobra.Command{
		Use:   "coordinator [bind-address]",
		Short: "Strata distributed-training coordinator",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bindAddr := defaultBindAddr
			if len(args) == 1 {
				bindAddr = args[0]
			}
			return run(cmd.Context(), log, bindAddr)
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "path to a YAML config file (optional)")

	if err := root.Execute(); err != nil {
		log.WithError(err).Fatal("coordinator exited with error")
	}
}

// dashboardAddr derives the read-only dashboard's bind address from the RPC
// bind address per spec.md §6: same host, port+1000.
func dashboardAddr(bindAddr string) (string, error) {
	host, portStr, err := net.SplitHostPort(bindAddr)
	if err != nil {
		return "", fmt.Errorf("parse bind address %q: %w", bindAddr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", fmt.Errorf("parse bind address %q: %w", bindAddr, err)
	}
	return net.JoinHostPort(host, strconv.Itoa(port+1000)), nil
}

// run wires every subsystem together and blocks until a shutdown signal
// arrives or a background task fails.
//
//  1. Load configuration
//  2. Construct the domain components (registry, shard manager, checkpoint
//     index, barrier coordinator, rate limiter)
//  3. Start the RPC server and the dashboard server
//  4. Supervise background tasks with an errgroup
//  5. On SIGINT/SIGTERM, shut both HTTP servers down with a 5-second
//     timeout and wait for the errgroup to unwind
//
// bindAddr is the coordinator's one positional CLI argument (spec.md §6);
// the dashboard's address is derived from it, not independently configured.
func run(ctx context.Context, log *logrus.Logger, bindAddr string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if level, lerr := logrus.ParseLevel(cfg.Logging.Level); lerr == nil {
		log.SetLevel(level)
	}

	dashAddr, err := dashboardAddr(bindAddr)
	if err != nil {
		return err
	}

	telemetry.Register()

	backend, err := storage.NewFilesystemBackend(cfg.Checkpoint.BasePath)
	if err != nil {
		return fmt.Errorf("init checkpoint storage: %w", err)
	}
	if n, serr := backend.SweepOrphanedTemp("checkpoints"); serr == nil && n > 0 {
		log.WithField("count", n).Info("swept orphaned checkpoint temp files")
	}

	reg := registry.New()
	reg.SetHeartbeatTimeout(cfg.Registry.HeartbeatTimeout)
	reg.SetOnDead(func(workerID string) {
		log.WithField("worker_id", workerID).Warn("worker declared dead by heartbeat sweep")
	})

	shards := shard.NewManager(cfg.Ring.BaseSeed)
	ckpt := checkpoint.NewManager(backend, checkpoint.Config{
		BasePath:        cfg.Checkpoint.BasePath,
		KeepCount:       cfg.Checkpoint.KeepCount,
		WriteBufferSize: cfg.Checkpoint.WriteBufferSize,
	})
	barriers := barrier.New()
	barriers.SetTimeout(cfg.Barrier.Timeout)
	limiter := ratelimit.New(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)

	rpcSrv := transport.New(reg, shards, ckpt, barriers, limiter)
	dashSrv := dashboard.New(reg, shards, ckpt, barriers)

	rpcHTTP := &http.Server{
		Addr:              bindAddr,
		Handler:           rpcSrv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	dashHTTP := &http.Server{
		Addr:              dashAddr,
		Handler:           dashSrv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	group, gctx := errgroup.WithContext(runCtx)
	group.Go(func() error { return reg.Run(gctx) })
	group.Go(func() error { return ckpt.Run(gctx) })
	group.Go(func() error { return limiter.Run(gctx) })
	group.Go(func() error {
		log.WithField("addr", bindAddr).Info("coordinator RPC surface listening")
		if err := rpcHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("rpc server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		log.WithField("addr", dashHTTP.Addr).Info("dashboard listening")
		if err := dashHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("dashboard server: %w", err)
		}
		return nil
	})

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info("shutdown signal received")
	case <-gctx.Done():
		log.WithError(gctx.Err()).Warn("background task failed, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rpcHTTP.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("rpc server shutdown error")
	}
	if err := dashHTTP.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("dashboard server shutdown error")
	}

	cancelRun()
	if err := group.Wait(); err != nil {
		return err
	}
	log.Info("coordinator stopped")
	return nil
}
