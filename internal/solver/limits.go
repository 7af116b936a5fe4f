// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package solver

import "github.com/KhiopsML/khiops-parallel/internal/resource"

// Limits are the user-configured caps (U in spec.md §4.3). A zero
// value (or resource.Infinite) means "no cap".
type Limits struct {
	PerHostMemoryBytes int64
	PerHostDiskBytes   int64
	MaxCoresPerHost    int
	MaxCoresOnSystem   int
}

// DefaultLimits returns unlimited limits.
func DefaultLimits() Limits {
	return Limits{
		PerHostMemoryBytes: resource.Infinite,
		PerHostDiskBytes:   resource.Infinite,
		MaxCoresPerHost:    int(resource.Infinite),
		MaxCoresOnSystem:   int(resource.Infinite),
	}
}

func (l Limits) memoryCapFor(hostFree int64) int64 {
	if l.PerHostMemoryBytes > 0 && l.PerHostMemoryBytes < hostFree {
		return l.PerHostMemoryBytes
	}
	return hostFree
}

func (l Limits) diskCapFor(hostFree int64) int64 {
	if l.PerHostDiskBytes > 0 && l.PerHostDiskBytes < hostFree {
		return l.PerHostDiskBytes
	}
	return hostFree
}

func (l Limits) maxCoresPerHost() int {
	if l.MaxCoresPerHost > 0 {
		return l.MaxCoresPerHost
	}
	return int(resource.Infinite)
}

func (l Limits) maxCoresOnSystem() int {
	if l.MaxCoresOnSystem > 0 {
		return l.MaxCoresOnSystem
	}
	return int(resource.Infinite)
}
