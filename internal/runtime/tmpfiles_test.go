// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package runtime

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KhiopsML/khiops-parallel/internal/solver"
	"github.com/KhiopsML/khiops-parallel/internal/transport/inproc"
	"github.com/KhiopsML/khiops-parallel/pkg/taskerr"
)

// tmpTask creates one unique tmp file per subtask and registers it;
// failOn makes that subtask's SlaveProcess fail after registering, so
// the file's ownership never transfers.
type tmpTask struct {
	dir      string
	count    int
	failOn   int
	dispatch int

	reg     *TmpFileRegistry
	mu      sync.Mutex
	created []string
}

func newTmpTask(dir string, count, failOn int) *tmpTask {
	return &tmpTask{dir: dir, count: count, failOn: failOn}
}

func (t *tmpTask) SetTmpFileRegistry(r *TmpFileRegistry) { t.reg = r }

func (t *tmpTask) ComputeResourceRequirements() (solver.Requirement, error) {
	return solver.Requirement{}, nil
}
func (t *tmpTask) MasterInitialize() error { return nil }
func (t *tmpTask) MasterPrepareSubtaskInput() (float64, bool, bool, error) {
	if t.dispatch >= t.count {
		return 0, true, false, nil
	}
	t.dispatch++
	return 1 / float64(t.count), false, false, nil
}
func (t *tmpTask) SlaveProcess() error {
	t.mu.Lock()
	path := filepath.Join(t.dir, fmt.Sprintf("chunk-%03d.tmp", len(t.created)))
	t.created = append(t.created, path)
	failing := t.failOn >= 0 && len(t.created)-1 == t.failOn
	t.mu.Unlock()

	if err := os.WriteFile(path, []byte("payload"), 0o600); err != nil {
		return err
	}
	t.reg.RegisterUniqueTmpFile(path)
	if failing {
		return fmt.Errorf("simulated failure after creating %s", path)
	}
	return nil
}
func (t *tmpTask) SlaveFinalize(bool) error      { return nil }
func (t *tmpTask) MasterAggregateResults() error { return nil }
func (t *tmpTask) MasterFinalize(bool) error     { return nil }

func runTmpTaskJob(t *testing.T, master, worker LifecycleTask) (*Coordinator, error) {
	t.Helper()
	tr := inproc.New()
	masterConn, err := tr.Dial(1)
	require.NoError(t, err)
	_, workerConn, err := tr.Accept()
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = RunWorker(worker, workerConn, nil)
	}()

	coord := NewCoordinator(master, nil, nil, map[int]WorkerSpec{
		1: {Host: "host-a", Conn: masterConn},
	}, solver.Horizontal)
	runErr := coord.Run()

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never returned")
	}
	return coord, runErr
}

func TestTmpFileOwnershipTransfersOnSuccess(t *testing.T) {
	dir := t.TempDir()
	master := newTmpTask(dir, 3, -1)
	worker := newTmpTask(dir, 3, -1)

	coord, err := runTmpTaskJob(t, master, worker)
	require.NoError(t, err)

	// Every subtask's file survived and the coordinator owns all of
	// them.
	require.Len(t, worker.created, 3)
	for _, path := range worker.created {
		_, statErr := os.Stat(path)
		assert.NoError(t, statErr, "%s must survive a successful job", path)
	}
	assert.ElementsMatch(t, worker.created, coord.TmpFiles())
}

func TestTmpFileDeletedWhenProcessFails(t *testing.T) {
	dir := t.TempDir()
	master := newTmpTask(dir, 3, -1)
	worker := newTmpTask(dir, 3, 0)

	coord, err := runTmpTaskJob(t, master, worker)
	require.Error(t, err)
	assert.True(t, taskerr.Is(err, taskerr.KindHookFailure))

	// The failed round's file never transferred, so SlaveFinalize
	// deleted it; the coordinator owns nothing.
	require.NotEmpty(t, worker.created)
	_, statErr := os.Stat(worker.created[0])
	assert.True(t, os.IsNotExist(statErr))
	assert.Empty(t, coord.TmpFiles())
}

func TestTmpFilesSurviveEarlierRoundsOnLateFailure(t *testing.T) {
	dir := t.TempDir()
	master := newTmpTask(dir, 3, -1)
	worker := newTmpTask(dir, 3, 1)

	coord, err := runTmpTaskJob(t, master, worker)
	require.Error(t, err)

	require.Len(t, worker.created, 2)
	// Round 0 transferred; round 1 failed and was cleaned up.
	_, statErr := os.Stat(worker.created[0])
	assert.NoError(t, statErr)
	_, statErr = os.Stat(worker.created[1])
	assert.True(t, os.IsNotExist(statErr))
	assert.Equal(t, []string{worker.created[0]}, coord.TmpFiles())
}
