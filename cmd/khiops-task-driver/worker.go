// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/KhiopsML/khiops-parallel/internal/runtime"
	"github.com/KhiopsML/khiops-parallel/internal/runtime/testtask"
	"github.com/KhiopsML/khiops-parallel/internal/transport/wstransport"
)

// testWorkerTask builds the worker-side instance of the protocol test
// task. Its channel declarations must match the coordinator's; the
// subtask count is coordinator-side state a worker never consults.
func testWorkerTask() runtime.LifecycleTask {
	return testtask.NewProtocolTestTask(0)
}

var workerRank int

func init() {
	workerCmd.Flags().IntVar(&workerRank, "rank", 0, "this worker's MPI rank (1..N)")
	_ = workerCmd.MarkFlagRequired("rank")
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Serve as one worker process for a websocket-transport job",
	RunE: func(cmd *cobra.Command, args []string) error {
		if workerRank < 1 {
			return fmt.Errorf("rank must be at least 1")
		}
		log := logger.With("rank", workerRank)

		conn, err := wstransport.Dial(cmd.Context(), cfg.CoordinatorURL, workerRank, wstransport.DialOptions{})
		if err != nil {
			return err
		}
		log.Info("connected to coordinator", "url", cfg.CoordinatorURL)

		task := testWorkerTask()
		if err := runtime.RunWorker(task, conn, nil); err != nil {
			log.Error("worker failed", "error", err)
			return err
		}
		log.Info("worker finished")
		return nil
	},
}
