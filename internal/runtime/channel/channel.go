// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package channel implements component E, the declared typed
// parameter slots a lifecycle task exchanges with the runtime: shared
// parameters broadcast once to every worker, per-subtask inputs sent
// to the chosen worker before it processes, and per-subtask outputs
// sent back after. Every channel carries a permission derived from
// the runtime's current phase, checked on every Get/Set in debug
// builds only (spec.md's "Channel: no read in NONE/write in RO").
package channel

import (
	"fmt"
	"strings"

	"github.com/KhiopsML/khiops-parallel/internal/debugflag"
)

// Kind is the declared category of a channel.
type Kind int

const (
	SharedParam Kind = iota
	SubtaskInput
	SubtaskOutput
)

func (k Kind) String() string {
	switch k {
	case SharedParam:
		return "shared"
	case SubtaskInput:
		return "input"
	case SubtaskOutput:
		return "output"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Permission is what a phase allows a channel to do.
type Permission int

const (
	NONE Permission = iota
	RO
	RW
)

// Phase identifies one of the seven lifecycle hooks, used to look up
// the permission table in spec.md's phase/category matrix.
type Phase int

const (
	MasterInitialize Phase = iota
	MasterPrepareInput
	MasterAggregate
	MasterFinalize
	SlaveInitialize
	SlaveProcess
	SlaveFinalize
)

// permissionTable mirrors spec.md's phase/category matrix exactly.
var permissionTable = map[Phase][3]Permission{
	MasterInitialize:   {RW, NONE, NONE},
	MasterPrepareInput: {RO, RW, NONE},
	MasterAggregate:    {RO, NONE, RO},
	MasterFinalize:     {RW, NONE, NONE},
	SlaveInitialize:    {RO, NONE, NONE},
	SlaveProcess:       {RO, RO, RW},
	SlaveFinalize:      {RO, NONE, NONE},
}

// permissionFor returns the permission a channel of kind has during
// phase.
func permissionFor(phase Phase, kind Kind) Permission {
	row, ok := permissionTable[phase]
	if !ok {
		return NONE
	}
	return row[kind]
}

// Declaration identifies one channel: its name (used for diagnostics
// and as the transport-order key) and its category.
type Declaration struct {
	Name string
	Kind Kind
}

// Channel is a single named typed slot. T is the Go type of the value
// it carries; Channel itself is the generic, uninstantiated handle
// used by the runtime's declaration-order walk, while Value[T]
// provides the typed Get/Set a task actually calls.
type Channel struct {
	Declaration
	value any
}

// currentPhase tracks which phase is active for a set of channels, so
// Get/Set can check the declared permission without threading the
// phase through every call.
type currentPhase struct {
	phase Phase
	set   bool
}

// Set is the collection of every channel declared by a task,
// registered at construction time per spec.md's "declaration is
// immutable for the life of the task."
type Set struct {
	order []*Channel
	byName map[string]*Channel
	phase currentPhase
}

// NewSet returns an empty channel set.
func NewSet() *Set {
	return &Set{byName: make(map[string]*Channel)}
}

// Declare registers a new channel. Declaration order becomes the
// transport (de)serialization order.
func (s *Set) Declare(name string, kind Kind) *Channel {
	if _, exists := s.byName[name]; exists {
		panic(fmt.Sprintf("channel: %q declared twice", name))
	}
	c := &Channel{Declaration: Declaration{Name: name, Kind: kind}}
	s.order = append(s.order, c)
	s.byName[name] = c
	return c
}

// Declarations returns every channel's declaration in transport order.
func (s *Set) Declarations() []Declaration {
	decls := make([]Declaration, len(s.order))
	for i, c := range s.order {
		decls[i] = c.Declaration
	}
	return decls
}

// Signature derives a stable string from the declaration list, in
// order. Coordinator and workers must declare identical channels in
// identical order for their (de)serialization walks to agree, so the
// runtime exchanges this signature at job start and refuses a
// mismatch.
func (s *Set) Signature() string {
	var sb strings.Builder
	for i, c := range s.order {
		if i > 0 {
			sb.WriteByte(';')
		}
		sb.WriteString(c.Name)
		sb.WriteByte('/')
		sb.WriteString(c.Kind.String())
	}
	return sb.String()
}

// OfKind returns every declared channel of the given kind, in
// transport order.
func (s *Set) OfKind(kind Kind) []*Channel {
	var out []*Channel
	for _, c := range s.order {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

// EnterPhase switches the active phase; every subsequent Get/Set
// checks permissions against it until the next EnterPhase call.
func (s *Set) EnterPhase(phase Phase) {
	s.phase = currentPhase{phase: phase, set: true}
}

func (s *Set) checkPermission(c *Channel, need Permission) {
	if !debugflag.Enabled || !s.phase.set {
		return
	}
	got := permissionFor(s.phase.phase, c.Kind)
	switch need {
	case RO:
		if got == NONE {
			panic(fmt.Sprintf("channel: read of %q (%s) not permitted in this phase", c.Name, c.Kind))
		}
	case RW:
		if got != RW {
			panic(fmt.Sprintf("channel: write of %q (%s) not permitted in this phase", c.Name, c.Kind))
		}
	}
}

// Get reads a channel's raw value, checking that the current phase
// allows at least read access. In a release build, an illegal read
// silently returns whatever is stored (possibly the zero value), per
// spec.md's "enforced in debug builds only."
func (s *Set) Get(c *Channel) any {
	s.checkPermission(c, RO)
	return c.value
}

// Set writes a channel's raw value, checking that the current phase
// allows write access. In a release build, an illegal write is
// silently tolerated rather than rejected.
func (s *Set) Set(c *Channel, value any) {
	s.checkPermission(c, RW)
	c.value = value
}

// RawGet and RawSet bypass phase-permission checks entirely. They
// exist for the runtime itself, which (de)serializes a channel's
// value between hook phases — a point in time no phase permission
// governs — never for task code, which must always go through the
// phase-checked Get/Set.
func (s *Set) RawGet(c *Channel) any        { return c.value }
func (s *Set) RawSet(c *Channel, value any) { c.value = value }
