// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package runtime

import "math/rand"

// StairBufferParams are the inputs to computeStairBufferSize, exposed
// to task code as an adaptive read-size helper (spec.md's "Adaptive
// stair-step read sizing").
type StairBufferParams struct {
	Min, Max, Step int
	BytesProcessed, TotalBytes int64
	ProcCount, SubtaskIndex int
}

// computeStairBufferSize implements the three-phase policy: a stepped
// ramp for the first ProcCount subtasks, a deterministic random
// plateau in the middle, and a linear shrink once the remaining work
// drops below (ProcCount/2) buffers' worth.
//
// procCount == 1 has no ramp or shrink phase to speak of — there is
// only ever one subtask in flight — so it always returns Max.
func computeStairBufferSize(p StairBufferParams) int {
	if p.ProcCount <= 1 {
		return p.Max
	}

	remaining := p.TotalBytes - p.BytesProcessed
	halfProcs := p.ProcCount / 2
	if halfProcs < 1 {
		halfProcs = 1
	}
	endThreshold := int64(halfProcs) * int64(p.Max)

	if remaining < endThreshold {
		// Shrink linearly so the remainder splits evenly across
		// halfProcs workers, never below Min.
		size := int(remaining / int64(halfProcs))
		size = roundToStep(size, p.Step)
		if size < p.Min {
			size = p.Min
		}
		if size > p.Max {
			size = p.Max
		}
		return size
	}

	if p.SubtaskIndex < p.ProcCount {
		// Stepped ramp from Min to Max over ProcCount subtasks.
		span := p.Max - p.Min
		if span <= 0 {
			return p.Max
		}
		increment := span / p.ProcCount
		size := p.Min + increment*p.SubtaskIndex
		size = roundToStep(size, p.Step)
		if size > p.Max {
			size = p.Max
		}
		return size
	}

	// Middle phase: a deterministic, index-seeded random size in
	// [min + (max-min)/2, max] so repeated runs with the same
	// subtask index are reproducible in tests.
	lower := p.Min + (p.Max-p.Min)/2
	if lower >= p.Max {
		return p.Max
	}
	src := rand.New(rand.NewSource(int64(p.SubtaskIndex)))
	size := lower + src.Intn(p.Max-lower+1)
	return roundToStep(size, p.Step)
}

func roundToStep(size, step int) int {
	if step <= 1 {
		return size
	}
	return (size / step) * step
}
