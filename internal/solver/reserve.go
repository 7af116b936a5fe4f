// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package solver

import "github.com/KhiopsML/khiops-parallel/internal/resource"

// Hidden per-process reserves, subtracted from host free resources
// before sizing and never exposed in the task's declared budget.
// Values are fixed, mirroring RMParallelResourceManager's constants
// rather than being made user-configurable.
const (
	allocatorReserveBytes    int64 = 8 * 1024 * 1024   // heap allocator bookkeeping
	physicalMemoryMarginBytes int64 = 16 * 1024 * 1024  // safety margin against OS overcommit accounting
	uiReserveBytes           int64 = 4 * 1024 * 1024    // progress UI / label buffers (master only)
	largeIOBufferBytes       int64 = 8 * 1024 * 1024    // one large I/O read/write buffer
	serializationBlockBytes  int64 = 64 * 1024          // one Serializer block (component A)
)

// masterReserve is the memory withheld per master process: allocator
// reserve + physical memory margin + UI reserve + one large I/O
// buffer.
func masterReserve() resource.Vector {
	mem := allocatorReserveBytes + physicalMemoryMarginBytes + uiReserveBytes + largeIOBufferBytes
	return resource.Vector{}.With(resource.Memory, mem)
}

// slaveReserve is the memory withheld per worker process: allocator
// reserve + physical memory margin + one large I/O buffer.
func slaveReserve() resource.Vector {
	mem := allocatorReserveBytes + physicalMemoryMarginBytes + largeIOBufferBytes
	return resource.Vector{}.With(resource.Memory, mem)
}

// parallelSerializationReserve is added on top of the base reserve
// when the process participates in the streaming (non-sequential)
// protocol: two 64 KiB blocks, one for the read side and one for the
// write side of the serializer.
func parallelSerializationReserve() resource.Vector {
	return resource.Vector{}.With(resource.Memory, 2*serializationBlockBytes)
}
