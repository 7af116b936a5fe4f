// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package runtime

import (
	"fmt"

	"github.com/KhiopsML/khiops-parallel/internal/progress"
	"github.com/KhiopsML/khiops-parallel/internal/runtime/channel"
	"github.com/KhiopsML/khiops-parallel/internal/transport"
	"github.com/KhiopsML/khiops-parallel/pkg/taskerr"
)

// RunWorker drives one worker's side of the protocol over conn:
// slave_initialize once, then slave_process/slave_finalize rounds
// following whatever the coordinator sends, until the coordinator
// closes the connection. It is called once per worker rank, whether
// that worker lives in its own process (wstransport) or as a
// goroutine in the coordinator's address space (inproc, "simulated
// parallel mode").
func RunWorker(task LifecycleTask, conn transport.Conn, reporter progress.Reporter) error {
	if reporter == nil {
		reporter = noopReporter{}
	}
	// Closing our end on the way out is what unblocks a coordinator
	// waiting for this worker's next output after the worker bailed.
	defer func() { _ = conn.Close() }()
	chans := channelsOf(task)

	tmpFiles := &TmpFileRegistry{}
	if tt, ok := task.(TmpFileTask); ok {
		tt.SetTmpFileRegistry(tmpFiles)
	}

	if chans != nil {
		chans.EnterPhase(channel.SlaveInitialize)
	}
	if init, ok := task.(SlaveInitializer); ok {
		injectFault(nameOf(task), "SlaveInitialize")
		if err := init.SlaveInitialize(); err != nil {
			return finalizeWorker(task, chans, tmpFiles, false, taskerr.HookFailure("SlaveInitialize", err))
		}
	}

	processEndedCorrectly := true
	var runErr error

loop:
	for {
		env, err := recvEnvelope(conn)
		if err != nil {
			runErr = taskerr.WrapTransportError(err)
			processEndedCorrectly = false
			break
		}

		switch env.Kind {
		case msgShared:
			localSignature := ""
			if chans != nil {
				localSignature = chans.Signature()
			}
			if env.Signature != localSignature {
				runErr = taskerr.Fatal(fmt.Sprintf("channel declaration mismatch: coordinator %q, worker %q", env.Signature, localSignature), nil)
				processEndedCorrectly = false
				break loop
			}
			if chans != nil {
				shared := chans.OfKind(channel.SharedParam)
				if err := decodeChannels(chans, shared, env.Channels); err != nil {
					runErr = taskerr.Fatal("decode shared params", err)
					processEndedCorrectly = false
					break loop
				}
			}
		case msgInput:
			if reporter.IsInterruptionRequested() || interruptForced() {
				// Reply so the coordinator is not left waiting for an
				// output that will never come.
				_ = sendEnvelope(conn, envelope{Kind: msgOutput, SubtaskIndex: env.SubtaskIndex, Interrupted: true})
				runErr = taskerr.Interrupted("interruption requested before slave_process")
				processEndedCorrectly = false
				break loop
			}
			if chans != nil {
				inputs := chans.OfKind(channel.SubtaskInput)
				if err := decodeChannels(chans, inputs, env.Channels); err != nil {
					runErr = taskerr.Fatal("decode subtask input", err)
					processEndedCorrectly = false
					break loop
				}
				chans.EnterPhase(channel.SlaveProcess)
			}

			tmpFiles.clear()
			injectFault(nameOf(task), "SlaveProcess")
			hookErr := task.SlaveProcess()
			ok := hookErr == nil

			outEnv := envelope{Kind: msgOutput, SubtaskIndex: env.SubtaskIndex, ProcessEndedCorrectly: ok}
			if wr, isReporter := task.(WarningReporter); isReporter {
				warnings, lines := wr.TakeWarnings()
				for _, warn := range warnings {
					outEnv.Warnings = append(outEnv.Warnings, wireWarning{Line: warn.Line, Message: warn.Message})
				}
				outEnv.LinesProcessed = lines
			}
			if ok {
				// Ownership of the round's tmp files transfers with a
				// successful output; a failed round keeps them on the
				// registry so SlaveFinalize can delete them.
				outEnv.TmpFiles = append([]string(nil), tmpFiles.files...)
			}
			if chans != nil && ok {
				outputs := chans.OfKind(channel.SubtaskOutput)
				encoded, encErr := encodeChannels(chans, outputs)
				if encErr != nil {
					runErr = taskerr.Fatal("encode subtask output", encErr)
					processEndedCorrectly = false
					break loop
				}
				outEnv.Channels = encoded
			}
			if err := sendEnvelope(conn, outEnv); err != nil {
				runErr = taskerr.WrapTransportError(err)
				processEndedCorrectly = false
				break loop
			}
			if ok {
				tmpFiles.take()
			} else {
				runErr = taskerr.HookFailure("SlaveProcess", hookErr)
				processEndedCorrectly = false
				break loop
			}
		case msgEnd:
			// The coordinator's end message carries the job verdict;
			// an interrupted or failed job finalizes every worker with
			// processEndedCorrectly = false even if this worker's own
			// subtasks all succeeded.
			processEndedCorrectly = env.ProcessEndedCorrectly
			break loop
		default:
			runErr = taskerr.Fatal(fmt.Sprintf("unexpected message %q in worker loop", env.Kind), nil)
			processEndedCorrectly = false
			break loop
		}
	}

	return finalizeWorker(task, chans, tmpFiles, processEndedCorrectly, runErr)
}

func finalizeWorker(task LifecycleTask, chans *channel.Set, tmpFiles *TmpFileRegistry, processEndedCorrectly bool, cause error) error {
	if chans != nil {
		chans.EnterPhase(channel.SlaveFinalize)
	}
	injectFault(nameOf(task), "SlaveFinalize")
	err := task.SlaveFinalize(processEndedCorrectly)
	if !processEndedCorrectly {
		// Entries still registered are files whose ownership never
		// transferred to the coordinator; nobody else will delete them.
		tmpFiles.deleteAll()
	}
	if err != nil {
		if cause != nil {
			return cause
		}
		return taskerr.HookFailure("SlaveFinalize", err)
	}
	return cause
}

func channelsOf(task LifecycleTask) *channel.Set {
	if ct, ok := task.(ChannelTask); ok {
		return ct.Channels()
	}
	return nil
}
