// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package runtime

import (
	"encoding/json"
	"fmt"

	"github.com/KhiopsML/khiops-parallel/internal/runtime/channel"
	"github.com/KhiopsML/khiops-parallel/internal/serializer"
)

// messageKind identifies one coordinator<->worker protocol message.
type messageKind string

const (
	msgShared   messageKind = "shared"
	msgInput    messageKind = "input"
	msgRest     messageKind = "rest"
	msgEnd      messageKind = "end"
	msgOutput   messageKind = "output"
	msgFinalize messageKind = "finalize"
)

// envelope is one protocol message. Channel values ride as JSON
// inside the framed block: the generic runtime has no compile-time
// knowledge of a task's channel types, so it delegates per-value
// encoding to encoding/json rather than dispatching through
// internal/serializer's typed Put/Get family (those remain directly
// available to task code that manages its own serializer.Buffer, as
// internal/runtime/testtask does).
type envelope struct {
	Kind                  messageKind                `json:"kind"`
	SubtaskIndex          int                        `json:"subtask_index,omitempty"`
	Percent               float64                    `json:"percent,omitempty"`
	ProcessEndedCorrectly bool                       `json:"process_ended_correctly,omitempty"`
	// Interrupted marks an output produced because the worker saw the
	// interruption request before running slave_process.
	Interrupted bool `json:"interrupted,omitempty"`
	// Signature rides on the shared-parameter broadcast: the channel
	// declaration list is part of the coordinator/worker ABI, so a
	// worker whose declarations differ refuses the job instead of
	// desynchronizing mid-protocol.
	Signature string                     `json:"signature,omitempty"`
	Channels  map[string]json.RawMessage `json:"channels,omitempty"`
	// Warnings and LinesProcessed ride on output messages; warning
	// lines are local to the subtask until the coordinator rewrites
	// them.
	Warnings       []wireWarning `json:"warnings,omitempty"`
	LinesProcessed int64         `json:"lines_processed,omitempty"`
	// TmpFiles lists the unique temporary files this subtask created;
	// a successful output transfers their ownership to the
	// coordinator.
	TmpFiles []string `json:"tmp_files,omitempty"`
}

type wireWarning struct {
	Line    int64  `json:"line"`
	Message string `json:"message"`
}

// envelopeSize sums the payload bytes of every channel in env, the
// figure the coordinator reports as serialized traffic.
func envelopeSize(env envelope) int {
	n := 0
	for _, raw := range env.Channels {
		n += len(raw)
	}
	return n
}

// sendEnvelope frames env as one internal/serializer block and writes
// it to conn, exercising component A's length-prefixed block framing
// over the connection for every coordinator/worker exchange.
func sendEnvelope(conn serializer.Conn, env envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("runtime: encode envelope: %w", err)
	}
	buf := serializer.NewBuffer()
	buf.PutString(string(payload))
	return serializer.SendStream(conn, buf)
}

// recvEnvelope reads the next framed block from conn and decodes it.
func recvEnvelope(conn serializer.Conn) (envelope, error) {
	var env envelope
	buf, err := serializer.RecvStream(conn)
	if err != nil {
		return env, fmt.Errorf("runtime: recv envelope: %w", err)
	}
	payload, err := buf.GetString()
	if err != nil {
		return env, fmt.Errorf("runtime: decode envelope frame: %w", err)
	}
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return env, fmt.Errorf("runtime: unmarshal envelope: %w", err)
	}
	return env, nil
}

// encodeChannels marshals every named channel in set to a name->JSON
// map for transport, reading outside of any hook phase via RawGet
// (serialization happens between hooks, when no phase permission
// applies).
func encodeChannels(set *channel.Set, chans []*channel.Channel) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(chans))
	for _, c := range chans {
		raw, err := json.Marshal(set.RawGet(c))
		if err != nil {
			return nil, fmt.Errorf("runtime: encode channel %q: %w", c.Name, err)
		}
		out[c.Name] = raw
	}
	return out, nil
}

// decodeChannels applies a name->JSON map received over the wire back
// onto the matching declared channels in set.
func decodeChannels(set *channel.Set, chans []*channel.Channel, data map[string]json.RawMessage) error {
	for _, c := range chans {
		raw, ok := data[c.Name]
		if !ok {
			continue
		}
		var val any
		if err := json.Unmarshal(raw, &val); err != nil {
			return fmt.Errorf("runtime: decode channel %q: %w", c.Name, err)
		}
		set.RawSet(c, val)
	}
	return nil
}
