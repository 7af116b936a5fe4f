// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package testtask provides small LifecycleTask implementations used
// to exercise the coordinator/worker protocol without a real
// parallel job: ProtocolTestTask drives a fixed number of trivial
// subtasks end to end, and SerializerTestTask/SerializerLongTestTask
// push values through internal/serializer directly from within
// slave_process, covering the boundary-size cases a higher-level
// protocol test can't reach on its own.
package testtask

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/KhiopsML/khiops-parallel/internal/runtime/channel"
	"github.com/KhiopsML/khiops-parallel/internal/serializer"
	"github.com/KhiopsML/khiops-parallel/internal/solver"
)

// ProtocolTestTask dispatches SubtaskCount trivial subtasks, each
// squaring its index, and sums the results in MasterAggregateResults.
// It is symmetric: one type implements both the coordinator role
// (master_* hooks) and the worker role (slave_* hooks); each role
// runs on its own *ProtocolTestTask value, since worker-side channel
// values are per-process state.
type ProtocolTestTask struct {
	SubtaskCount int

	chans  *channel.Set
	input  channel.Value[int]
	output channel.Value[int]
	shared channel.Value[int]

	mu       sync.Mutex
	dispatch int
	Sum      int

	initialized  atomic.Bool
	finalizedOK  atomic.Bool
	finalizedRun atomic.Bool
}

// NewProtocolTestTask returns a task that will dispatch count
// subtasks before reporting finished.
func NewProtocolTestTask(count int) *ProtocolTestTask {
	t := &ProtocolTestTask{SubtaskCount: count}
	t.chans = channel.NewSet()
	t.shared = channel.Declare[int](t.chans, "multiplier", channel.SharedParam)
	t.input = channel.Declare[int](t.chans, "index", channel.SubtaskInput)
	t.output = channel.Declare[int](t.chans, "square", channel.SubtaskOutput)
	return t
}

// Channels implements runtime.ChannelTask.
func (t *ProtocolTestTask) Channels() *channel.Set { return t.chans }

// TaskName implements runtime.NamedTask.
func (t *ProtocolTestTask) TaskName() string { return "protocol-test" }

// ComputeResourceRequirements implements runtime.LifecycleTask by
// returning the zero Requirement: the task declares no resource needs.
func (t *ProtocolTestTask) ComputeResourceRequirements() (solver.Requirement, error) {
	return solver.Requirement{}, nil
}

// MasterInitialize implements runtime.LifecycleTask.
func (t *ProtocolTestTask) MasterInitialize() error {
	t.shared.Set(2)
	t.initialized.Store(true)
	return nil
}

// MasterPrepareSubtaskInput implements runtime.LifecycleTask.
func (t *ProtocolTestTask) MasterPrepareSubtaskInput() (float64, bool, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dispatch >= t.SubtaskCount {
		return 0, true, false, nil
	}
	t.input.Set(t.dispatch)
	t.dispatch++
	return 1.0 / float64(t.SubtaskCount), false, false, nil
}

// SlaveProcess implements runtime.LifecycleTask: squares the input
// index scaled by the shared multiplier.
func (t *ProtocolTestTask) SlaveProcess() error {
	idx := t.input.Get()
	mult := t.shared.Get()
	t.output.Set(idx * idx * mult)
	return nil
}

// SlaveFinalize implements runtime.LifecycleTask.
func (t *ProtocolTestTask) SlaveFinalize(processEndedCorrectly bool) error {
	t.finalizedRun.Store(true)
	t.finalizedOK.Store(processEndedCorrectly)
	return nil
}

// MasterAggregateResults implements runtime.LifecycleTask.
func (t *ProtocolTestTask) MasterAggregateResults() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Sum += t.output.Get()
	return nil
}

// MasterFinalize implements runtime.LifecycleTask.
func (t *ProtocolTestTask) MasterFinalize(processEndedCorrectly bool) error {
	t.finalizedRun.Store(true)
	t.finalizedOK.Store(processEndedCorrectly)
	return nil
}

// WasFinalizedOK reports whether the last finalize hook to run (master
// or slave, whichever this value represents) saw
// processEndedCorrectly = true.
func (t *ProtocolTestTask) WasFinalizedOK() bool { return t.finalizedOK.Load() }

// WasFinalized reports whether a finalize hook ran at all.
func (t *ProtocolTestTask) WasFinalized() bool { return t.finalizedRun.Load() }

// SerializerTestTask round-trips a single payload through an
// internal/serializer.Buffer inside SlaveProcess, independent of the
// channel machinery, to exercise component A's scalar Put/Get family
// from within a running task.
type SerializerTestTask struct {
	Payload string
	Got     string
}

func (t *SerializerTestTask) ComputeResourceRequirements() (solver.Requirement, error) {
	return solver.Requirement{}, nil
}
func (t *SerializerTestTask) MasterInitialize() error { return nil }
func (t *SerializerTestTask) MasterPrepareSubtaskInput() (float64, bool, bool, error) {
	return 1, true, false, nil
}
func (t *SerializerTestTask) SlaveProcess() error {
	buf := serializer.NewBuffer()
	buf.PutString(t.Payload)
	r := serializer.NewBufferFromBytes(buf.Bytes())
	got, err := r.GetString()
	if err != nil {
		return fmt.Errorf("testtask: round trip: %w", err)
	}
	t.Got = got
	return nil
}
func (t *SerializerTestTask) SlaveFinalize(bool) error           { return nil }
func (t *SerializerTestTask) MasterAggregateResults() error      { return nil }
func (t *SerializerTestTask) MasterFinalize(bool) error          { return nil }

// SerializerLongTestTask is SerializerTestTask scaled up to a payload
// that spans several internal/serializer blocks, covering the
// multi-block streaming path.
type SerializerLongTestTask struct {
	SerializerTestTask
}

// NewSerializerLongTestTask returns a task whose payload is blocks
// worth of repeated data, deliberately crossing block boundaries.
func NewSerializerLongTestTask(blocks int) *SerializerLongTestTask {
	payload := make([]byte, blocks*serializer.BlockSize+17)
	for i := range payload {
		payload[i] = byte('a' + i%26)
	}
	t := &SerializerLongTestTask{}
	t.Payload = string(payload)
	return t
}
