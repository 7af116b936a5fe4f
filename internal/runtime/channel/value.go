// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package channel

import "encoding/json"

// Value is a typed handle onto a declared Channel, so task code reads
// and writes Go values directly instead of juggling `any`.
type Value[T any] struct {
	set *Set
	ch  *Channel
}

// Declare registers a new typed channel in s and returns a handle to
// it. Combine with SharedParam/SubtaskInput/SubtaskOutput at task
// construction time.
func Declare[T any](s *Set, name string, kind Kind) Value[T] {
	return Value[T]{set: s, ch: s.Declare(name, kind)}
}

// Get returns the channel's current value, the zero value of T if
// never set.
func (v Value[T]) Get() T {
	raw := v.set.Get(v.ch)
	if raw == nil {
		var zero T
		return zero
	}
	if typed, ok := raw.(T); ok {
		return typed
	}
	// A value decoded off the wire arrives in encoding/json's generic
	// form (numbers as float64, objects as maps); convert it back to T.
	var out T
	if data, err := json.Marshal(raw); err == nil {
		if err := json.Unmarshal(data, &out); err == nil {
			return out
		}
	}
	return raw.(T)
}

// Set stores value into the channel.
func (v Value[T]) Set(value T) {
	v.set.Set(v.ch, value)
}

// Name returns the channel's declared name.
func (v Value[T]) Name() string { return v.ch.Name }
