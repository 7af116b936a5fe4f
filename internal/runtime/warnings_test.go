// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package runtime

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KhiopsML/khiops-parallel/internal/solver"
	"github.com/KhiopsML/khiops-parallel/pkg/logging"
)

// captureLogger records Warn calls for assertions.
type captureLogger struct {
	logging.NoOpLogger
	mu    sync.Mutex
	warns [][]any
}

func (l *captureLogger) Warn(msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, append([]any{msg}, args...))
}

func (l *captureLogger) With(args ...any) logging.Logger { return l }
func (l *captureLogger) WithContext(ctx context.Context) logging.Logger {
	return l
}

// warningTask processes 10 records per subtask and flags the third
// record of every subtask.
type warningTask struct {
	count    int
	dispatch int
}

func (t *warningTask) ComputeResourceRequirements() (solver.Requirement, error) {
	return solver.Requirement{}, nil
}
func (t *warningTask) MasterInitialize() error { return nil }
func (t *warningTask) MasterPrepareSubtaskInput() (float64, bool, bool, error) {
	if t.dispatch >= t.count {
		return 0, true, false, nil
	}
	t.dispatch++
	return 1 / float64(t.count), false, false, nil
}
func (t *warningTask) SlaveProcess() error            { return nil }
func (t *warningTask) SlaveFinalize(bool) error       { return nil }
func (t *warningTask) MasterAggregateResults() error  { return nil }
func (t *warningTask) MasterFinalize(bool) error      { return nil }
func (t *warningTask) TakeWarnings() ([]Warning, int64) {
	return []Warning{{Line: 2, Message: "suspicious value"}}, 10
}

func TestWarningsRewrittenToAbsoluteLines(t *testing.T) {
	logger := &captureLogger{}
	master := &warningTask{count: 3}

	run := SimulatedRun{
		Master: master,
		NewWorkerTask: func(rank int) LifecycleTask {
			return &warningTask{}
		},
		WorkerCount: 1,
		Logger:      logger,
	}
	require.NoError(t, run.Run())

	logger.mu.Lock()
	defer logger.mu.Unlock()
	require.Len(t, logger.warns, 3)

	// Subtask k consumed 10 records each; local line 2 becomes
	// absolute 2, 12, 22 in arrival order.
	var lines []int64
	for _, w := range logger.warns {
		for i := 1; i < len(w)-1; i++ {
			if w[i] == "line" {
				lines = append(lines, w[i+1].(int64))
			}
		}
	}
	assert.Equal(t, []int64{2, 12, 22}, lines)
}
