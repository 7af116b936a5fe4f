// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package runtime implements component D: the coordinator/worker
// lifecycle that drives a LifecycleTask's seven hooks to completion
// over a transport, serializing declared channels (component E)
// between address spaces with internal/serializer (component A).
package runtime

import (
	"github.com/KhiopsML/khiops-parallel/internal/runtime/channel"
	"github.com/KhiopsML/khiops-parallel/internal/solver"
)

// LifecycleTask is the seven-hook contract a concrete parallel task
// implements. ComputeResourceRequirements is optional in the sense
// that a task with fixed needs can return the same Requirement every
// time; it is still always called, once, before the solver runs.
type LifecycleTask interface {
	// ComputeResourceRequirements fills the task's resource needs
	// before the coordinator asks the solver for a grant.
	ComputeResourceRequirements() (solver.Requirement, error)

	// MasterInitialize runs once in the coordinator before dispatch
	// begins. Shared parameters are RW here.
	MasterInitialize() error

	// MasterPrepareSubtaskInput fills the next subtask's input
	// channels and reports its share of total work. Returning
	// finished=true ends dispatch; rest=true skips the chosen worker
	// for this round. finished and rest must not both be true.
	MasterPrepareSubtaskInput() (percent float64, finished bool, rest bool, err error)

	// SlaveProcess runs in the worker once its inputs have arrived.
	SlaveProcess() error

	// SlaveFinalize runs in the worker after its last SlaveProcess
	// call, or immediately if the job is aborted before the worker
	// ever processed anything.
	SlaveFinalize(processEndedCorrectly bool) error

	// MasterAggregateResults runs in the coordinator once a worker's
	// outputs have arrived; it may call Wake to release resting
	// workers.
	MasterAggregateResults() error

	// MasterFinalize runs once in the coordinator after dispatch
	// ends, successfully or not.
	MasterFinalize(processEndedCorrectly bool) error
}

// ChannelTask is implemented by a LifecycleTask that declares
// channels through component E; the runtime walks Channels() in
// registration order to (de)serialize shared parameters and
// per-subtask inputs/outputs.
type ChannelTask interface {
	Channels() *channel.Set
}

// SlaveInitializer is an optional hook: a task that needs one-time
// per-worker setup implements it. Tasks without worker-local state
// can omit it.
type SlaveInitializer interface {
	SlaveInitialize() error
}

// Warning is a per-record diagnostic a worker attaches to a subtask
// output. Line is local to the subtask's own record stream; the
// coordinator rewrites it to an absolute index before surfacing it.
type Warning struct {
	Line    int64
	Message string
}

// WarningReporter is implemented by a task whose SlaveProcess emits
// per-record warnings. TakeWarnings drains the warnings accumulated
// by the last SlaveProcess call and reports how many records that
// call consumed, so the coordinator can keep its absolute index.
type WarningReporter interface {
	TakeWarnings() (warnings []Warning, linesProcessed int64)
}

// NamedTask is implemented by a LifecycleTask that exports a stable
// name, used in progress labels, logs, and metrics.
type NamedTask interface {
	TaskName() string
}

func nameOf(task LifecycleTask) string {
	if nt, ok := task.(NamedTask); ok {
		return nt.TaskName()
	}
	return "task"
}
