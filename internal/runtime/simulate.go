// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package runtime

import (
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/KhiopsML/khiops-parallel/internal/progress"
	"github.com/KhiopsML/khiops-parallel/internal/solver"
	"github.com/KhiopsML/khiops-parallel/internal/transport/inproc"
	"github.com/KhiopsML/khiops-parallel/pkg/logging"
	"github.com/KhiopsML/khiops-parallel/pkg/metrics"
)

// SimulatedRun is one simulated-parallel execution: workerCount worker
// instances run as goroutines in the coordinator's address space,
// exchanging the same serialized envelopes a networked deployment
// would, so the full protocol is exercised without a transport.
type SimulatedRun struct {
	// Master plays the coordinator role.
	Master LifecycleTask
	// NewWorkerTask builds the task instance for one worker rank.
	// Each worker needs its own instance: worker-side channel values
	// are per-process state, and here every "process" shares one
	// address space.
	NewWorkerTask func(rank int) LifecycleTask
	// WorkerCount is the number of simulated workers; at least 1.
	WorkerCount int

	Reporter  progress.Reporter
	Logger    logging.Logger
	Collector metrics.Collector
}

// Run drives the simulated execution to completion and returns the
// coordinator's verdict. Worker-side errors that the coordinator did
// not already observe (it usually does, through the protocol) are
// returned when the coordinator itself succeeded.
func (s SimulatedRun) Run() error {
	if s.Master == nil || s.NewWorkerTask == nil {
		return fmt.Errorf("runtime: simulated run needs a master task and a worker factory")
	}
	workerCount := s.WorkerCount
	if workerCount < 1 {
		workerCount = 1
	}
	logger := s.Logger
	if logger == nil {
		logger = logging.NoOpLogger{}
	}

	tr := inproc.New()
	defer func() { _ = tr.Close() }()

	specs := make(map[int]WorkerSpec, workerCount)
	var g errgroup.Group
	for rank := 1; rank <= workerCount; rank++ {
		masterSide, err := tr.Dial(rank)
		if err != nil {
			return fmt.Errorf("runtime: simulated dial rank %d: %w", rank, err)
		}
		acceptedRank, workerSide, err := tr.Accept()
		if err != nil {
			return fmt.Errorf("runtime: simulated accept rank %d: %w", rank, err)
		}
		if acceptedRank != rank {
			return fmt.Errorf("runtime: simulated accept returned rank %d, want %d", acceptedRank, rank)
		}
		specs[rank] = WorkerSpec{Host: "localhost", Conn: masterSide}

		task := s.NewWorkerTask(rank)
		conn := workerSide
		g.Go(func() error {
			return RunWorker(task, conn, s.Reporter)
		})
	}

	logger.Info("starting simulated parallel run", "workers", workerCount)
	coord := NewCoordinator(s.Master, s.Reporter, logger, specs, solver.Horizontal)
	coord.SetMetricsCollector(s.Collector)
	runErr := coord.Run()
	workerErr := g.Wait()

	if runErr != nil {
		return runErr
	}
	return workerErr
}
