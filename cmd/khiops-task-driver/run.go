// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/KhiopsML/khiops-parallel/internal/progress"
	"github.com/KhiopsML/khiops-parallel/internal/progress/console"
	"github.com/KhiopsML/khiops-parallel/internal/progress/sseprogress"
	"github.com/KhiopsML/khiops-parallel/internal/runtime"
	"github.com/KhiopsML/khiops-parallel/internal/runtime/testtask"
	"github.com/KhiopsML/khiops-parallel/internal/solver"
	"github.com/KhiopsML/khiops-parallel/internal/transport/wstransport"
	"github.com/KhiopsML/khiops-parallel/pkg/logging"
	"github.com/KhiopsML/khiops-parallel/pkg/metrics"
	"github.com/KhiopsML/khiops-parallel/pkg/pool"
	"github.com/KhiopsML/khiops-parallel/pkg/watch"
)

var (
	runSubtasks    int
	runWorkerCount int
	runClusterPath string
)

func init() {
	runCmd.Flags().IntVar(&runSubtasks, "subtasks", 100, "number of subtasks the protocol test task dispatches")
	runCmd.Flags().IntVar(&runWorkerCount, "workers", 0, "worker count (default: from the grant or config)")
	runCmd.Flags().StringVar(&runClusterPath, "cluster", "", "cluster YAML to size the job with the resource solver")
}

// interrupter is the subset of both progress reporters a signal
// handler needs.
type interrupter interface {
	RequestInterruption()
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Drive the protocol test task as the job coordinator",
	RunE: func(cmd *cobra.Command, args []string) error {
		runID := uuid.New().String()
		log := logger.With("run_id", runID)

		collector, err := buildCollector()
		if err != nil {
			return err
		}
		metrics.SetDefaultCollector(collector)

		workerCount := runWorkerCount
		if runClusterPath != "" {
			c, req, err := loadClusterFile(runClusterPath)
			if err != nil {
				return err
			}
			limits, err := solverLimits()
			if err != nil {
				return err
			}
			started := time.Now()
			grant := solver.Solve(c, req, limits)
			collector.RecordSolverResolution(time.Since(started), !grant.Empty())
			if grant.Empty() {
				printGrant(cmd, grant)
				return fmt.Errorf("no feasible resource grant")
			}
			printGrant(cmd, grant)
			if workerCount == 0 {
				workerCount = grant.SlaveCount
			}
		}
		if workerCount == 0 {
			workerCount = cfg.SimulatedWorkers
		}

		if cfg.TempDir != "" {
			refresher := watch.NewTempDirRefresher(cfg.TempDir, log)
			if err := refresher.Start(cmd.Context()); err != nil {
				return err
			}
			defer refresher.Stop()
		}

		reporter, shutdown, err := buildReporter(log)
		if err != nil {
			return err
		}
		defer shutdown()
		watchSignals(cmd.Context(), reporter, log)

		log.Info("job starting", "transport", cfg.Transport, "workers", workerCount, "subtasks", runSubtasks)

		var runErr error
		if cfg.Transport == "websocket" {
			runErr = runOverWebsocket(cmd.Context(), reporter, collector, workerCount, log)
		} else {
			master := testtask.NewProtocolTestTask(runSubtasks)
			sim := runtime.SimulatedRun{
				Master: master,
				NewWorkerTask: func(rank int) runtime.LifecycleTask {
					return testtask.NewProtocolTestTask(runSubtasks)
				},
				WorkerCount: workerCount,
				Reporter:    reporter,
				Logger:      log,
				Collector:   collector,
			}
			runErr = sim.Run()
			if runErr == nil {
				log.Info("job finished", "sum", master.Sum)
			}
		}
		if runErr != nil {
			log.Error("job failed", "error", runErr)
		}
		return runErr
	},
}

// buildCollector returns the Prometheus-backed collector when metrics
// are enabled, an in-memory one otherwise.
func buildCollector() (metrics.Collector, error) {
	if !cfg.MetricsEnabled {
		return metrics.NewInMemoryCollector(), nil
	}
	return metrics.NewPrometheusCollector(prometheus.DefaultRegisterer)
}

// buildReporter constructs the configured progress sink; the returned
// shutdown func stops any HTTP server the sink needed.
func buildReporter(log logging.Logger) (progress.Reporter, func(), error) {
	if cfg.Progress != "sse" && cfg.Transport != "websocket" && !cfg.MetricsEnabled {
		return console.New(logger), func() {}, nil
	}

	router := mux.NewRouter()
	var reporter progress.Reporter
	if cfg.Progress == "sse" {
		sse := sseprogress.New()
		sse.Register(router, "/events", "/cancel")
		reporter = sse
	} else {
		reporter = console.New(logger)
	}
	if cfg.MetricsEnabled {
		router.Handle("/metrics", promhttp.Handler())
	}
	if cfg.Transport == "websocket" {
		wsServer().Register(router, "/connect")
	}

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: router}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server failed", "error", err)
		}
	}()
	log.Info("listening", "addr", cfg.ListenAddr)

	shutdown := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
	return reporter, shutdown, nil
}

var wsSrv *wstransport.Server

// wsServer lazily builds the shared websocket accept server so
// buildReporter and runOverWebsocket agree on one instance.
func wsServer() *wstransport.Server {
	if wsSrv == nil {
		wsSrv = wstransport.NewServer()
	}
	return wsSrv
}

// runOverWebsocket waits for workerCount worker processes to connect,
// then drives the coordinator over those connections. A RankConnPool
// fronts the accept loop so connection accounting and cleanup live in
// one place.
func runOverWebsocket(ctx context.Context, reporter progress.Reporter, collector metrics.Collector, workerCount int, log logging.Logger) error {
	srv := wsServer()

	// The accept loop files incoming connections by declared rank;
	// the pool's dial function claims them.
	byRank := make(map[int]chan *wstransport.Conn)
	for rank := 1; rank <= workerCount; rank++ {
		byRank[rank] = make(chan *wstransport.Conn, 1)
	}
	go func() {
		for {
			rank, conn, err := srv.Accept()
			if err != nil {
				return
			}
			ch, ok := byRank[rank]
			if !ok {
				_ = conn.Close()
				continue
			}
			select {
			case ch <- conn:
			default:
				_ = conn.Close()
			}
		}
	}()

	conns := pool.NewRankConnPool(nil, func(ctx context.Context, rank int) (pool.Conn, error) {
		select {
		case conn := <-byRank[rank]:
			return conn, nil
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for worker rank %d: %w", rank, ctx.Err())
		}
	}, logger)
	defer func() { _ = conns.Close() }()

	specs := make(map[int]runtime.WorkerSpec, workerCount)
	for rank := 1; rank <= workerCount; rank++ {
		log.Info("waiting for worker", "rank", rank)
		conn, err := conns.GetConn(ctx, rank)
		if err != nil {
			return err
		}
		specs[rank] = runtime.WorkerSpec{Host: "remote", Conn: conn.(*wstransport.Conn)}
	}

	master := testtask.NewProtocolTestTask(runSubtasks)
	coord := runtime.NewCoordinator(master, reporter, logger, specs, solver.Horizontal)
	coord.SetMetricsCollector(collector)
	if err := coord.Run(); err != nil {
		return err
	}
	log.Info("job finished", "sum", master.Sum)
	return nil
}

// watchSignals requests a cooperative interruption on the first
// SIGINT/SIGTERM; a second signal kills the process the usual way.
func watchSignals(ctx context.Context, reporter progress.Reporter, log logging.Logger) {
	ir, ok := reporter.(interrupter)
	if !ok {
		return
	}
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-ctx.Done():
			signal.Stop(ch)
		case <-ch:
			log.Info("interruption requested, unwinding")
			ir.RequestInterruption()
			signal.Stop(ch)
		}
	}()
}
