// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package runtime

import (
	"sync"

	"github.com/KhiopsML/khiops-parallel/internal/fileops"
)

// FaultKind selects what a crash-test knob injects.
type FaultKind int

const (
	FaultNone FaultKind = iota
	// FaultFailOpen, FaultFailRead, and FaultFailWrite all flip the
	// global file-operation always-fail switch; the distinction names
	// the operation the validated scenario expects to break first.
	FaultFailOpen
	FaultFailRead
	FaultFailWrite
	// FaultUserInterrupt asserts the interruption-requested flag.
	FaultUserInterrupt
)

// CrashTestKnob injects a fault immediately before the CallIndex-th
// invocation (0-based) of the named lifecycle hook of the named task.
// Observable in testing only; it exists to validate the
// error-propagation and cancellation contracts.
type CrashTestKnob struct {
	TaskName  string
	Hook      string
	CallIndex int
	Fault     FaultKind
}

// crashTest is the process-wide knob state. One knob is armed at a
// time; tests arm it with SetCrashTestKnob and disarm with
// ClearCrashTestKnob.
var crashTest struct {
	mu             sync.Mutex
	knob           *CrashTestKnob
	calls          map[string]int
	forceInterrupt bool
}

// SetCrashTestKnob arms the knob and resets its call counters and any
// previously injected state, including the file-operation fault
// switch.
func SetCrashTestKnob(knob CrashTestKnob) {
	crashTest.mu.Lock()
	defer crashTest.mu.Unlock()
	crashTest.knob = &knob
	crashTest.calls = make(map[string]int)
	crashTest.forceInterrupt = false
	fileops.SetAlwaysFail(false)
}

// ClearCrashTestKnob disarms the knob and clears injected state.
func ClearCrashTestKnob() {
	crashTest.mu.Lock()
	defer crashTest.mu.Unlock()
	crashTest.knob = nil
	crashTest.calls = nil
	crashTest.forceInterrupt = false
	fileops.SetAlwaysFail(false)
}

// injectFault is called by the coordinator and worker loops before
// every hook invocation; when the armed knob matches, the fault fires.
func injectFault(taskName, hook string) {
	crashTest.mu.Lock()
	defer crashTest.mu.Unlock()
	if crashTest.knob == nil {
		return
	}
	key := taskName + "/" + hook
	idx := crashTest.calls[key]
	crashTest.calls[key] = idx + 1

	k := crashTest.knob
	if k.TaskName != taskName || k.Hook != hook || k.CallIndex != idx {
		return
	}
	switch k.Fault {
	case FaultFailOpen, FaultFailRead, FaultFailWrite:
		fileops.SetAlwaysFail(true)
	case FaultUserInterrupt:
		crashTest.forceInterrupt = true
	}
}

// interruptForced reports whether a user-interrupt fault has fired.
// The runtime ORs it with the reporter's own answer at every poll.
func interruptForced() bool {
	crashTest.mu.Lock()
	defer crashTest.mu.Unlock()
	return crashTest.forceInterrupt
}
