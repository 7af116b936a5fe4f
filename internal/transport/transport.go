// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package transport declares the connection surface the coordinator
// and workers exchange serialized blocks over (§4.7). Two concrete
// implementations exist: inproc, for running a master and several
// workers inside one process, and wstransport, for running them as
// separate processes connected over a websocket.
package transport

import "fmt"

// Conn is a single bidirectional connection to one peer. Its shape is
// deliberately identical to internal/serializer's locally-declared
// Conn interface so that any Conn here can be passed straight into
// SendStream/RecvStream without either package importing the other.
type Conn interface {
	Send([]byte) error
	Recv() ([]byte, error)
	Close() error
}

// Dialer accepts or dials connections identified by rank: rank 0 is
// always the coordinator, ranks 1..N are workers.
type Dialer interface {
	// Dial connects to the peer at rank.
	Dial(rank int) (Conn, error)
	// Accept blocks until a peer connects and returns its rank and
	// the resulting connection.
	Accept() (rank int, conn Conn, err error)
	// Close shuts down the transport and any connections it owns.
	Close() error
}

// FileServer is implemented by transports that ship optional sidecar
// processes serving file reads for remote hosts. A driver probes for
// it and brackets the job with Start/Stop when present.
type FileServer interface {
	StartFileServers() error
	StopFileServers() error
}

// Group wraps one Conn per worker rank and exposes the block-oriented
// operations the coordinator and workers actually call: send_block,
// recv_block, and bcast_block from spec.md's transport interface,
// each moving exactly one internal/serializer-framed block.
type Group struct {
	conns map[int]Conn
}

// NewGroup builds a Group from a rank-to-connection map. The caller
// retains ownership of closing each Conn.
func NewGroup(conns map[int]Conn) *Group {
	cp := make(map[int]Conn, len(conns))
	for rank, c := range conns {
		cp[rank] = c
	}
	return &Group{conns: cp}
}

// SendBlock transmits one frame to the peer at rank.
func (g *Group) SendBlock(rank int, frame []byte) error {
	c, ok := g.conns[rank]
	if !ok {
		return errUnknownRank(rank)
	}
	return c.Send(frame)
}

// RecvBlock receives the next frame from the peer at rank.
func (g *Group) RecvBlock(rank int) ([]byte, error) {
	c, ok := g.conns[rank]
	if !ok {
		return nil, errUnknownRank(rank)
	}
	return c.Recv()
}

// BcastBlock sends frame to every rank in the group, in ascending rank
// order, stopping at the first error.
func (g *Group) BcastBlock(frame []byte) error {
	for _, rank := range g.sortedRanks() {
		if err := g.conns[rank].Send(frame); err != nil {
			return err
		}
	}
	return nil
}

func (g *Group) sortedRanks() []int {
	ranks := make([]int, 0, len(g.conns))
	for r := range g.conns {
		ranks = append(ranks, r)
	}
	for i := 1; i < len(ranks); i++ {
		for j := i; j > 0 && ranks[j-1] > ranks[j]; j-- {
			ranks[j-1], ranks[j] = ranks[j], ranks[j-1]
		}
	}
	return ranks
}

func errUnknownRank(rank int) error {
	return fmt.Errorf("transport: no connection registered for rank %d", rank)
}
