// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KhiopsML/khiops-parallel/internal/debugflag"
)

func TestDeclarationOrderPreserved(t *testing.T) {
	s := NewSet()
	Declare[int](s, "a", SharedParam)
	Declare[string](s, "b", SubtaskInput)
	Declare[bool](s, "c", SubtaskOutput)

	decls := s.Declarations()
	require.Len(t, decls, 3)
	assert.Equal(t, "a", decls[0].Name)
	assert.Equal(t, "b", decls[1].Name)
	assert.Equal(t, "c", decls[2].Name)
}

func TestDuplicateDeclarationPanics(t *testing.T) {
	s := NewSet()
	Declare[int](s, "dup", SharedParam)
	assert.Panics(t, func() { s.Declare("dup", SubtaskInput) })
}

func TestSharedParamReadWriteAcrossPhases(t *testing.T) {
	s := NewSet()
	p := Declare[int](s, "budget", SharedParam)

	s.EnterPhase(MasterInitialize)
	p.Set(42)
	assert.Equal(t, 42, p.Get())

	s.EnterPhase(SlaveProcess)
	assert.Equal(t, 42, p.Get())
}

func TestIllegalWriteInDebugBuildPanics(t *testing.T) {
	if !debugflag.Enabled {
		t.Skip("permission assertions only run in khiops_debug builds")
	}
	s := NewSet()
	input := Declare[int](s, "in", SubtaskInput)

	s.EnterPhase(MasterAggregate) // inputs are NONE during aggregate
	assert.Panics(t, func() { input.Set(1) })
}

// TestPermissionTableMatchesContract checks every (phase, category)
// pair of the permission matrix.
func TestPermissionTableMatchesContract(t *testing.T) {
	want := map[Phase][3]Permission{
		MasterInitialize:   {RW, NONE, NONE},
		MasterPrepareInput: {RO, RW, NONE},
		MasterAggregate:    {RO, NONE, RO},
		MasterFinalize:     {RW, NONE, NONE},
		SlaveInitialize:    {RO, NONE, NONE},
		SlaveProcess:       {RO, RO, RW},
		SlaveFinalize:      {RO, NONE, NONE},
	}
	for phase, row := range want {
		for kind := SharedParam; kind <= SubtaskOutput; kind++ {
			assert.Equal(t, row[kind], permissionFor(phase, kind), "phase %d kind %s", phase, kind)
		}
	}
}

// TestPermissionEnforcementSweep drives a Get and a Set through every
// (phase, category) pair and checks that exactly the table-permitted
// accesses succeed in a debug build.
func TestPermissionEnforcementSweep(t *testing.T) {
	if !debugflag.Enabled {
		t.Skip("permission assertions only run in khiops_debug builds")
	}
	phases := []Phase{
		MasterInitialize, MasterPrepareInput, MasterAggregate,
		MasterFinalize, SlaveInitialize, SlaveProcess, SlaveFinalize,
	}
	for _, phase := range phases {
		for kind := SharedParam; kind <= SubtaskOutput; kind++ {
			s := NewSet()
			c := s.Declare("x", kind)
			s.EnterPhase(phase)

			perm := permissionFor(phase, kind)
			if perm == NONE {
				assert.Panics(t, func() { s.Get(c) }, "read phase %d kind %s", phase, kind)
			} else {
				assert.NotPanics(t, func() { s.Get(c) }, "read phase %d kind %s", phase, kind)
			}
			if perm == RW {
				assert.NotPanics(t, func() { s.Set(c, 1) }, "write phase %d kind %s", phase, kind)
			} else {
				assert.Panics(t, func() { s.Set(c, 1) }, "write phase %d kind %s", phase, kind)
			}
		}
	}
}

func TestOfKindFiltersByCategory(t *testing.T) {
	s := NewSet()
	Declare[int](s, "p1", SharedParam)
	Declare[int](s, "in1", SubtaskInput)
	Declare[int](s, "in2", SubtaskInput)
	Declare[int](s, "out1", SubtaskOutput)

	inputs := s.OfKind(SubtaskInput)
	require.Len(t, inputs, 2)
	assert.Equal(t, "in1", inputs[0].Name)
	assert.Equal(t, "in2", inputs[1].Name)
}

func TestOutputWritableOnlyDuringSlaveProcess(t *testing.T) {
	s := NewSet()
	out := Declare[string](s, "result", SubtaskOutput)

	s.EnterPhase(SlaveProcess)
	out.Set("done")
	assert.Equal(t, "done", out.Get())

	s.EnterPhase(MasterAggregate)
	assert.Equal(t, "done", out.Get())
}
