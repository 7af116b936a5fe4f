// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package runtime

import (
	"errors"
	"fmt"
	"time"

	"github.com/KhiopsML/khiops-parallel/internal/progress"
	"github.com/KhiopsML/khiops-parallel/internal/runtime/channel"
	"github.com/KhiopsML/khiops-parallel/internal/solver"
	"github.com/KhiopsML/khiops-parallel/internal/transport"
	"github.com/KhiopsML/khiops-parallel/pkg/logging"
	"github.com/KhiopsML/khiops-parallel/pkg/metrics"
	"github.com/KhiopsML/khiops-parallel/pkg/taskerr"
)

// WorkerSpec identifies one worker connection the coordinator will
// dispatch to: which host it runs on (for the horizontal/vertical
// tie-break) and the connection itself.
type WorkerSpec struct {
	Host string
	Conn transport.Conn
}

// Coordinator drives a LifecycleTask through master_initialize ->
// DISPATCHING -> FINALIZE against a fixed set of worker connections,
// per spec.md §4.4's coordinator state machine.
type Coordinator struct {
	task      LifecycleTask
	taskName  string
	reporter  progress.Reporter
	logger    logging.Logger
	collector metrics.Collector
	workers   []*workerHandle
	parallel  solver.ParallelPolicy

	subtasks      []*Subtask
	nextSubtaskID int
	cumPercent    float64
	absoluteLine  int64
	tmpFiles      []string
}

// NewCoordinator builds a Coordinator over the given worker
// connections, keyed by rank. parallel selects the horizontal-vs-
// vertical tie-break in selectWorker.
func NewCoordinator(task LifecycleTask, reporter progress.Reporter, logger logging.Logger, workers map[int]WorkerSpec, parallel solver.ParallelPolicy) *Coordinator {
	if reporter == nil {
		reporter = noopReporter{}
	}
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	c := &Coordinator{task: task, taskName: nameOf(task), reporter: reporter, logger: logger, collector: metrics.NoOpCollector{}, parallel: parallel}
	for rank, w := range workers {
		c.workers = append(c.workers, &workerHandle{rank: rank, host: w.Host, conn: w.Conn, state: WorkerReady})
	}
	if wt, ok := task.(WakerTask); ok {
		wt.SetWaker(c)
	}
	return c
}

// interrupted polls the cooperative-cancellation flag, including any
// interruption injected by the crash-test knob.
func (c *Coordinator) interrupted() bool {
	return c.reporter.IsInterruptionRequested() || interruptForced()
}

// Waker releases resting workers. It is handed to tasks that
// implement WakerTask so MasterAggregateResults can wake workers the
// task previously put to rest.
type Waker interface {
	Wake()
}

// WakerTask is implemented by a LifecycleTask that wants the rest/wake
// facility; the coordinator hands itself over at construction time.
type WakerTask interface {
	SetWaker(Waker)
}

// SetMetricsCollector routes the coordinator's dispatch and
// serialization measurements to collector. Must be called before Run.
func (c *Coordinator) SetMetricsCollector(collector metrics.Collector) {
	if collector != nil {
		c.collector = collector
	}
}

// channels returns the task's declared channel set, or nil if the
// task declares none.
func (c *Coordinator) channels() *channel.Set {
	if ct, ok := c.task.(ChannelTask); ok {
		return ct.Channels()
	}
	return nil
}

// Run executes the full coordinator lifecycle and returns a
// *taskerr.Error describing how it ended, or nil on success.
func (c *Coordinator) Run() error {
	c.reporter.BeginTask(c.taskName)
	defer c.reporter.EndTask()

	c.collector.SetActiveWorkers(len(c.workers))
	defer c.collector.SetActiveWorkers(0)

	chans := c.channels()

	if c.interrupted() {
		return c.finalize(false, taskerr.Interrupted("cancelled before master_initialize"))
	}

	if chans != nil {
		chans.EnterPhase(channel.MasterInitialize)
	}
	injectFault(c.taskName, "MasterInitialize")
	if err := c.task.MasterInitialize(); err != nil {
		return c.finalize(false, taskerr.HookFailure("MasterInitialize", err))
	}

	if chans != nil {
		if err := c.broadcastShared(chans); err != nil {
			return c.finalize(false, taskerr.WrapTransportError(err))
		}
	}

	runErr := c.dispatchLoop(chans)
	ok := runErr == nil
	return c.finalize(ok, runErr)
}

func (c *Coordinator) broadcastShared(chans *channel.Set) error {
	shared := chans.OfKind(channel.SharedParam)
	encoded, err := encodeChannels(chans, shared)
	if err != nil {
		return err
	}
	// The broadcast always goes out, even with no shared parameters
	// declared: it carries the declaration signature every worker
	// verifies before processing anything.
	env := envelope{Kind: msgShared, Signature: chans.Signature(), Channels: encoded}
	for _, w := range c.workers {
		if err := sendEnvelope(w.conn, env); err != nil {
			return fmt.Errorf("runtime: broadcast shared params to rank %d: %w", w.rank, err)
		}
		c.collector.RecordBytesSerialized("send", envelopeSize(env))
	}
	return nil
}

// dispatchLoop is the DISPATCHING state: repeatedly pick an eligible
// worker, ask the task to prepare that worker's subtask input, send
// it, wait for the output, and aggregate — until the task reports
// finished or every worker is resting with no subtask in flight.
func (c *Coordinator) dispatchLoop(chans *channel.Set) error {
	for {
		if c.interrupted() {
			return taskerr.Interrupted("interruption requested during dispatch")
		}

		w := c.selectWorker()
		if w == nil {
			if c.allWorkersResting() {
				return taskerr.Fatal("dispatch stalled: every worker is resting with no subtask in flight", nil)
			}
			continue
		}

		if chans != nil {
			chans.EnterPhase(channel.MasterPrepareInput)
		}
		injectFault(c.taskName, "MasterPrepareSubtaskInput")
		percent, finished, rest, err := c.task.MasterPrepareSubtaskInput()
		if err != nil {
			return taskerr.HookFailure("MasterPrepareSubtaskInput", err)
		}
		if finished && rest {
			return taskerr.Fatal("MasterPrepareSubtaskInput returned finished=true and rest=true", nil)
		}
		if finished {
			return nil
		}
		if rest {
			w.resting = true
			continue
		}

		st := &Subtask{Index: c.nextSubtaskID, WorkerRank: w.rank, Percent: percent, State: SubtaskReady}
		c.nextSubtaskID++
		c.subtasks = append(c.subtasks, st)

		if err := c.runSubtask(chans, w, st); err != nil {
			return err
		}

		c.cumPercent += percent
		displayed := int(c.cumPercent * 100)
		if displayed > 100 {
			displayed = 100
		}
		c.reporter.DisplayProgression(displayed)
	}
}

func (c *Coordinator) runSubtask(chans *channel.Set, w *workerHandle, st *Subtask) error {
	st.State = SubtaskProcessing
	w.state = WorkerProcessing
	started := time.Now()

	var inputEnv envelope
	inputEnv.Kind = msgInput
	inputEnv.SubtaskIndex = st.Index
	if chans != nil {
		inputs := chans.OfKind(channel.SubtaskInput)
		encoded, err := encodeChannels(chans, inputs)
		if err != nil {
			return taskerr.Fatal("encode subtask input channels", err)
		}
		inputEnv.Channels = encoded
	}
	if err := sendEnvelope(w.conn, inputEnv); err != nil {
		return taskerr.WrapTransportError(err)
	}
	c.collector.RecordSubtaskDispatched(c.taskName)
	c.collector.RecordBytesSerialized("send", envelopeSize(inputEnv))

	outEnv, err := recvEnvelope(w.conn)
	if err != nil {
		return taskerr.WrapTransportError(err)
	}
	c.collector.RecordBytesSerialized("recv", envelopeSize(outEnv))
	c.collector.RecordSubtaskCompleted(c.taskName, time.Since(started), outEnv.ProcessEndedCorrectly)

	// Rewrite worker-local warning lines to absolute record indexes
	// before surfacing them.
	for _, warn := range outEnv.Warnings {
		c.logger.Warn("record warning", "line", c.absoluteLine+warn.Line, "message", warn.Message)
	}
	c.absoluteLine += outEnv.LinesProcessed

	// A successful output transfers ownership of the worker's tmp
	// files for this subtask to the coordinator.
	c.tmpFiles = append(c.tmpFiles, outEnv.TmpFiles...)
	if outEnv.Kind != msgOutput {
		return taskerr.Fatal(fmt.Sprintf("expected output message, got %q", outEnv.Kind), nil)
	}
	if outEnv.Interrupted {
		return taskerr.Interrupted(fmt.Sprintf("worker rank %d observed the interruption request", w.rank))
	}
	if !outEnv.ProcessEndedCorrectly {
		return taskerr.HookFailure("SlaveProcess", fmt.Errorf("worker rank %d reported failure", w.rank))
	}

	if chans != nil {
		outputs := chans.OfKind(channel.SubtaskOutput)
		if err := decodeChannels(chans, outputs, outEnv.Channels); err != nil {
			return taskerr.Fatal("decode subtask output channels", err)
		}
		chans.EnterPhase(channel.MasterAggregate)
	}
	injectFault(c.taskName, "MasterAggregateResults")
	if err := c.task.MasterAggregateResults(); err != nil {
		return taskerr.HookFailure("MasterAggregateResults", err)
	}

	st.State = SubtaskEnding
	w.state = WorkerReady
	return nil
}

// TmpFiles returns the temporary files whose ownership workers have
// transferred through subtask outputs so far. The task decides their
// fate (consume, keep, delete) during aggregation or finalize.
func (c *Coordinator) TmpFiles() []string {
	out := make([]string, len(c.tmpFiles))
	copy(out, c.tmpFiles)
	return out
}

// Wake releases every resting worker, callable only from within
// MasterAggregateResults per spec.md's contract.
func (c *Coordinator) Wake() {
	for _, w := range c.workers {
		w.resting = false
	}
}

func (c *Coordinator) allWorkersResting() bool {
	for _, w := range c.workers {
		if w.state == WorkerReady && !w.resting {
			return false
		}
		if w.state == WorkerProcessing {
			return false
		}
	}
	return true
}

// selectWorker returns a worker eligible for dispatch, or nil if there
// is none. It starts from the first eligible worker in c.workers order
// and replaces it with a later eligible worker of lower rank on the
// same host (Vertical) or on a different host (Horizontal). No record
// of previously used hosts is kept: the choice depends only on the
// current worker states, hosts and ranks.
func (c *Coordinator) selectWorker() *workerHandle {
	var best *workerHandle
	for _, w := range c.workers {
		if !w.eligibleForDispatch() {
			continue
		}
		if best == nil {
			best = w
			continue
		}
		if c.parallel == solver.Vertical {
			if w.host == best.host && w.rank < best.rank {
				best = w
			}
		} else {
			if w.host != best.host && w.rank < best.rank {
				best = w
			}
		}
	}
	return best
}

func (c *Coordinator) finalize(processEndedCorrectly bool, cause error) error {
	chans := c.channels()
	if chans != nil {
		chans.EnterPhase(channel.MasterFinalize)
	}
	var te *taskerr.Error
	if errors.As(cause, &te) && te.Kind == taskerr.KindFatal {
		// A Fatal error means the runtime itself is broken; skip the
		// finalize hook entirely.
		c.closeWorkers(false)
		return cause
	}

	injectFault(c.taskName, "MasterFinalize")
	if err := c.task.MasterFinalize(processEndedCorrectly); err != nil {
		c.closeWorkers(false)
		if cause != nil {
			return cause
		}
		return taskerr.HookFailure("MasterFinalize", err)
	}
	c.closeWorkers(processEndedCorrectly)
	return cause
}

// closeWorkers ends every worker's loop. The end message carries the
// job verdict so each worker's SlaveFinalize sees the same
// processEndedCorrectly the coordinator saw.
func (c *Coordinator) closeWorkers(processEndedCorrectly bool) {
	for _, w := range c.workers {
		_ = sendEnvelope(w.conn, envelope{Kind: msgEnd, ProcessEndedCorrectly: processEndedCorrectly})
		_ = w.conn.Close()
	}
}

// noopReporter is used when Coordinator is built without an explicit
// progress.Reporter (e.g. in unit tests that don't exercise progress
// reporting).
type noopReporter struct{}

func (noopReporter) BeginTask(string)            {}
func (noopReporter) EndTask()                    {}
func (noopReporter) DisplayMainLabel(string)      {}
func (noopReporter) DisplayLabel(string)          {}
func (noopReporter) DisplayProgression(int)       {}
func (noopReporter) IsInterruptionRequested() bool { return false }
