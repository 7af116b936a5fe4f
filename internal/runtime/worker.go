// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package runtime

import (
	"github.com/KhiopsML/khiops-parallel/internal/transport"
)

// WorkerState is a worker's position in the VOID -> READY <->
// PROCESSING -> ENDING state machine from spec.md §4.4.
type WorkerState int

const (
	WorkerVoid WorkerState = iota
	WorkerReady
	WorkerProcessing
	WorkerEnding
)

func (s WorkerState) String() string {
	switch s {
	case WorkerVoid:
		return "VOID"
	case WorkerReady:
		return "READY"
	case WorkerProcessing:
		return "PROCESSING"
	case WorkerEnding:
		return "ENDING"
	default:
		return "UNKNOWN"
	}
}

// workerHandle is the coordinator's view of one worker: its rank,
// which host it runs on (for the horizontal/vertical tie-break), its
// connection, and whether it is currently at rest.
type workerHandle struct {
	rank    int
	host    string
	conn    transport.Conn
	state   WorkerState
	resting bool
}

func (w *workerHandle) eligibleForDispatch() bool {
	return w.state == WorkerReady && !w.resting
}
