// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package progress declares the reporting and cancellation surface
// the coordinator and workers call into (§4.8): begin/end a task,
// display labels and a percentage, and poll whether an interruption
// has been requested. Two sinks implement it: console, for a plain
// terminal run, and sseprogress, for a driver watching over HTTP.
package progress

// Reporter is consumed by internal/runtime from the coordinator and
// from each worker; every implementation must be safe to call from
// one goroutine at a time per task, since the runtime never calls it
// concurrently for the same task.
type Reporter interface {
	// BeginTask announces that a task's execution is starting.
	BeginTask(taskName string)
	// EndTask announces that the current task finished.
	EndTask()
	// DisplayMainLabel sets the persistent top-level status line.
	DisplayMainLabel(label string)
	// DisplayLabel sets the transient per-step status line.
	DisplayLabel(label string)
	// DisplayProgression reports percent complete, in [0, 100].
	DisplayProgression(percent int)
	// IsInterruptionRequested reports whether a caller asked the
	// running task to stop cooperatively.
	IsInterruptionRequested() bool
}
