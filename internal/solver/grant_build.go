// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package solver

import (
	"sort"

	"github.com/KhiopsML/khiops-parallel/internal/cluster"
	"github.com/KhiopsML/khiops-parallel/internal/resource"
)

// sequentialGrant builds the fallback single-process grant (spec.md
// §4.3 "Fallback to sequential"): master, slave, shared and the whole
// global-slave budget collapse onto one process on the master host,
// with no parallel serialization reserve since there is no second
// process to stream to.
func sequentialGrant(c *cluster.Cluster, req Requirement, limits Limits, fallbackReport *MissingResourceReport) Grant {
	h := c.MasterHost()

	masterMin := req.Master.MinVector()
	masterMax := req.Master.MaxVector()
	slaveMin := req.Slave.MinVector()
	slaveMax := req.Slave.MaxVector()
	sharedMin := req.Shared.MinVector()
	globalMin := req.GlobalSlave.MinVector()

	need := masterMin.Add(slaveMin).Add(sharedMin).Add(globalMin).Add(masterReserve())
	capVec := resource.Vector{}.
		With(resource.Memory, limits.memoryCapFor(h.MemoryBytes)).
		With(resource.Disk, limits.diskCapFor(h.FreeDiskBytes))

	if need.Get(resource.Memory) > capVec.Get(resource.Memory) || need.Get(resource.Disk) > capVec.Get(resource.Disk) {
		report := fallbackReport
		if report == nil {
			report = diagnoseShortfall(h, need, capVec)
		}
		return Grant{Missing: report}
	}

	ceiling := masterMax.Add(slaveMax).Add(sharedMin).Add(globalMin)
	budget := capVec.Sub(masterReserve()).Min(ceiling)

	rankParticipates := make([]bool, c.TotalProcessSlots())
	if len(h.Ranks) > 0 {
		rankParticipates[h.Ranks[0]] = true
	}

	return Grant{
		TotalProcesses:    1,
		SlaveCount:        0,
		MasterMemoryBytes: budget.Get(resource.Memory),
		MasterDiskBytes:   budget.Get(resource.Disk),
		SharedMemoryBytes: sharedMin.Get(resource.Memory),
		SharedDiskBytes:   sharedMin.Get(resource.Disk),
		RankParticipates:  rankParticipates,
		HostAssignments:   []HostAssignment{{HostName: h.Name, WorkerCount: 0, MasterHere: true}},
		IsSequential:      true,
	}
}

// diagnoseShortfall reports which resource kind first fails to fit
// need within cap on host h.
func diagnoseShortfall(h cluster.Host, need, capVec resource.Vector) *MissingResourceReport {
	if need.Get(resource.Memory) > capVec.Get(resource.Memory) {
		return &MissingResourceReport{
			Kind:           InsufficientMemory,
			ShortfallBytes: need.Get(resource.Memory) - capVec.Get(resource.Memory),
			HostName:       h.Name,
		}
	}
	return &MissingResourceReport{
		Kind:           InsufficientDisk,
		ShortfallBytes: need.Get(resource.Disk) - capVec.Get(resource.Disk),
		HostName:       h.Name,
	}
}

// buildGrant turns a validated shape into a Grant: it fixes the
// master/slave/shared budgets at their declared minimums, finds the
// smallest per-resource slack left over across all hosts used (the
// "Saturation" phase's growth ceiling), and distributes that slack to
// master vs. slave according to the requirement's per-kind allocation
// policy. Shared and global-slave budgets stay at their minimum; that
// simplification is recorded in the grounding ledger.
func buildGrant(hosts []cluster.Host, masterIdx int, s shape, req Requirement, limits Limits) Grant {
	masterMin := req.Master.MinVector()
	masterMax := req.Master.MaxVector()
	slaveMin := req.Slave.MinVector()
	slaveMax := req.Slave.MaxVector()
	sharedMin := req.Shared.MinVector()
	globalMin := req.GlobalSlave.MinVector()

	slaveCount := s.total() - 1
	globalWorkers := slaveCount
	if globalWorkers < 1 {
		globalWorkers = 1
	}
	globalPerWorkerMin := resource.Vector{}.
		With(resource.Memory, ceilDiv(globalMin.Get(resource.Memory), int64(globalWorkers))).
		With(resource.Disk, ceilDiv(globalMin.Get(resource.Disk), int64(globalWorkers)))

	bottleneck := resource.Vector{}.With(resource.Memory, resource.Infinite).With(resource.Disk, resource.Infinite)

	for i, h := range hosts {
		procs := s.counts[i]
		if procs == 0 {
			continue
		}
		hasMaster := i == masterIdx
		workersHere := procs
		if hasMaster {
			workersHere--
		}

		fixed := resource.Vector{}
		if hasMaster {
			fixed = fixed.Add(masterMin).Add(masterReserve())
		}
		if workersHere > 0 {
			perWorker := slaveMin.Add(slaveReserve()).Add(globalPerWorkerMin)
			fixed = fixed.Add(perWorker.Scale(int64(workersHere)))
		}
		fixed = fixed.Add(sharedMin)
		fixed = fixed.Add(parallelSerializationReserve().Scale(int64(procs)))

		capVec := resource.Vector{}.
			With(resource.Memory, limits.memoryCapFor(h.MemoryBytes)).
			With(resource.Disk, limits.diskCapFor(h.FreeDiskBytes))

		bottleneck = bottleneck.Min(capVec.Sub(fixed))
	}

	masterBudget := masterMin
	slaveBudget := slaveMin
	for _, k := range []resource.Kind{resource.Memory, resource.Disk} {
		grow := bottleneck.Get(k)
		mHead := headroom(masterMax.Get(k), masterMin.Get(k))
		sHead := headroom(slaveMax.Get(k), slaveMin.Get(k))

		// The workers' budgets are additionally funded and capped by
		// the pooled global-slave requirement: each worker's floor
		// rises to its share of the pool minimum, and a finite pool
		// maximum caps per-worker growth at globalMax/slaveCount.
		floor := slaveMin.Get(k)
		if share := globalPerWorkerMin.Get(k); share > floor {
			floor = share
		}
		if globalMax := req.GlobalSlave.MaxVector().Get(k); globalMax < resource.Infinite && slaveCount > 0 {
			poolHead := globalMax/int64(slaveCount) - floor
			if poolHead < 0 {
				poolHead = 0
			}
			if poolHead < sHead {
				sHead = poolHead
			}
		}

		var mExtra, sExtra int64
		switch req.Allocation[k] {
		case MasterPreferred:
			mExtra = min64(grow, mHead)
			sExtra = min64(grow-mExtra, sHead)
		case SlavePreferred, GlobalPreferred:
			sExtra = min64(grow, sHead)
			mExtra = min64(grow-sExtra, mHead)
		default: // Balanced
			mExtra = min64(grow/2, mHead)
			sExtra = min64(grow-mExtra, sHead)
			if leftover := grow - mExtra - sExtra; leftover > 0 {
				mExtra = min64(mExtra+leftover, mHead)
			}
		}
		masterBudget = masterBudget.With(k, masterMin.Get(k)+mExtra)
		slaveBudget = slaveBudget.With(k, floor+sExtra)
	}

	maxRank := -1
	for _, h := range hosts {
		for _, r := range h.Ranks {
			if r > maxRank {
				maxRank = r
			}
		}
	}
	rankParticipates := make([]bool, maxRank+1)
	hostAssignments := make([]HostAssignment, 0, len(hosts))
	for i, h := range hosts {
		procs := s.counts[i]
		if procs == 0 {
			continue
		}
		ranks := append([]int(nil), h.Ranks...)
		sort.Ints(ranks)
		for j := 0; j < procs && j < len(ranks); j++ {
			rankParticipates[ranks[j]] = true
		}

		workersHere := procs
		if i == masterIdx {
			workersHere--
		}
		hostAssignments = append(hostAssignments, HostAssignment{
			HostName:    h.Name,
			WorkerCount: workersHere,
			MasterHere:  i == masterIdx,
		})
	}

	return Grant{
		TotalProcesses:    s.total(),
		SlaveCount:        slaveCount,
		MasterMemoryBytes: masterBudget.Get(resource.Memory),
		MasterDiskBytes:   masterBudget.Get(resource.Disk),
		SlaveMemoryBytes:  slaveBudget.Get(resource.Memory),
		SlaveDiskBytes:    slaveBudget.Get(resource.Disk),
		SharedMemoryBytes: sharedMin.Get(resource.Memory),
		SharedDiskBytes:   sharedMin.Get(resource.Disk),
		RankParticipates:  rankParticipates,
		HostAssignments:   hostAssignments,
		IsSequential:      false,
	}
}

func headroom(max, min int64) int64 {
	if max >= resource.Infinite {
		return resource.Infinite
	}
	if max <= min {
		return 0
	}
	return max - min
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
