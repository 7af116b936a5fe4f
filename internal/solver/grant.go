// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package solver

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

// MissingResourceKind classifies why no valid grant could be produced.
type MissingResourceKind int

const (
	// ExceedsUserLimit: the requirement's minimum exceeds a
	// user-configured per-process or per-host cap.
	ExceedsUserLimit MissingResourceKind = iota
	// InsufficientMemory: no host (or combination) has enough free
	// memory to satisfy the requirement's minimum.
	InsufficientMemory
	// InsufficientDisk: as above, for disk.
	InsufficientDisk
)

func (k MissingResourceKind) String() string {
	switch k {
	case ExceedsUserLimit:
		return "exceeds user limit"
	case InsufficientMemory:
		return "insufficient memory"
	case InsufficientDisk:
		return "insufficient disk"
	default:
		return "unknown"
	}
}

// MissingResourceReport explains why the solver produced an empty
// grant.
type MissingResourceReport struct {
	Kind         MissingResourceKind
	ShortfallBytes int64
	HostName     string
}

// String renders the report for logs and CLI output.
func (r MissingResourceReport) String() string {
	return fmt.Sprintf("%s on host %s, short by %s", r.Kind, r.HostName, humanize.IBytes(uint64(r.ShortfallBytes)))
}

// HostAssignment is the per-host outcome of a grant: how many worker
// processes sit on that host.
type HostAssignment struct {
	HostName     string
	WorkerCount  int
	MasterHere   bool
}

// Grant is the solver's decision (component C output). A zero-value
// Grant with TotalProcesses == 0 is "empty"; callers should check
// Missing for the reason.
type Grant struct {
	TotalProcesses int
	SlaveCount     int

	MasterMemoryBytes int64
	MasterDiskBytes   int64
	SlaveMemoryBytes  int64
	SlaveDiskBytes    int64
	SharedMemoryBytes int64
	SharedDiskBytes   int64

	// RankParticipates[i] reports whether MPI rank i is used by this
	// grant.
	RankParticipates []bool

	HostAssignments []HostAssignment

	IsSequential bool

	Missing *MissingResourceReport
}

// Empty reports whether the grant carries no processes.
func (g Grant) Empty() bool { return g.TotalProcesses == 0 }
