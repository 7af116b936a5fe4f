// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/KhiopsML/khiops-parallel/internal/solver"
	"github.com/KhiopsML/khiops-parallel/pkg/metrics"
)

var solveCmd = &cobra.Command{
	Use:   "solve <cluster.yaml>",
	Short: "Compute the resource grant for a cluster and requirement",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, req, err := loadClusterFile(args[0])
		if err != nil {
			return err
		}
		limits, err := solverLimits()
		if err != nil {
			return err
		}

		started := time.Now()
		grant := solver.Solve(c, req, limits)
		metrics.GetDefaultCollector().RecordSolverResolution(time.Since(started), !grant.Empty())

		printGrant(cmd, grant)
		if grant.Empty() {
			return fmt.Errorf("no feasible resource grant")
		}
		return nil
	},
}

// solverLimits converts the loaded config's user caps to the solver's
// Limits value.
func solverLimits() (solver.Limits, error) {
	resolved, err := cfg.Limits.Resolve()
	if err != nil {
		return solver.Limits{}, err
	}
	limits := solver.DefaultLimits()
	if resolved.PerHostMemoryBytes > 0 {
		limits.PerHostMemoryBytes = resolved.PerHostMemoryBytes
	}
	if resolved.PerHostDiskBytes > 0 {
		limits.PerHostDiskBytes = resolved.PerHostDiskBytes
	}
	if resolved.MaxCoresPerHost > 0 {
		limits.MaxCoresPerHost = resolved.MaxCoresPerHost
	}
	if resolved.MaxCoresOnSystem > 0 {
		limits.MaxCoresOnSystem = resolved.MaxCoresOnSystem
	}
	return limits, nil
}

func printGrant(cmd *cobra.Command, g solver.Grant) {
	out := cmd.OutOrStdout()
	if g.Empty() {
		fmt.Fprintln(out, "grant: infeasible")
		if g.Missing != nil {
			fmt.Fprintf(out, "  reason: %s on host %s, short by %s\n",
				g.Missing.Kind, g.Missing.HostName, humanize.IBytes(uint64(g.Missing.ShortfallBytes)))
		}
		return
	}

	mode := "parallel"
	if g.IsSequential {
		mode = "sequential"
	}
	fmt.Fprintf(out, "grant: %s, %d process(es), %d worker(s)\n", mode, g.TotalProcesses, g.SlaveCount)
	fmt.Fprintf(out, "  master: %s memory, %s disk\n",
		humanize.IBytes(uint64(g.MasterMemoryBytes)), humanize.IBytes(uint64(g.MasterDiskBytes)))
	if g.SlaveCount > 0 {
		fmt.Fprintf(out, "  worker: %s memory, %s disk\n",
			humanize.IBytes(uint64(g.SlaveMemoryBytes)), humanize.IBytes(uint64(g.SlaveDiskBytes)))
	}
	fmt.Fprintf(out, "  shared: %s memory, %s disk\n",
		humanize.IBytes(uint64(g.SharedMemoryBytes)), humanize.IBytes(uint64(g.SharedDiskBytes)))
	for _, ha := range g.HostAssignments {
		role := ""
		if ha.MasterHere {
			role = " (+master)"
		}
		fmt.Fprintf(out, "  host %s: %d worker(s)%s\n", ha.HostName, ha.WorkerCount, role)
	}
}
