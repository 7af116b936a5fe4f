// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package cluster

import (
	"math"
	"sort"

	"github.com/KhiopsML/khiops-parallel/internal/resource"
)

// memoryBucketBase is the smallest bucket boundary for memory; disk uses
// diskBucketBase. Buckets above the base grow by geometricRatio.
const (
	geometricRatio    = math.Sqrt2
	memoryBucketBase  = 512 * 1024        // 512 KiB
	diskBucketBase    = 1024 * 1024 * 1024 // 1 GiB
	sortBucketDivisor = 100 * 1024 * 1024  // 100 MiB, for intra-class host ordering
)

// bucketIndex returns the geometric bucket index for n starting at
// base and growing by geometricRatio, i.e. the largest k such that
// base*ratio^k <= n (k >= 0), or -1 if n < base.
func bucketIndex(n int64, base int64) int {
	if n < base {
		return -1
	}
	// ratio^k is computed as 2^(k/2) directly rather than by repeated
	// multiplication by Sqrt2, whose rounding error would push exact
	// boundaries such as base*2 into the bucket below.
	k := 0
	for float64(base)*math.Pow(2, float64(k+1)/2) <= float64(n) {
		k++
	}
	return k
}

// bucketExtent returns the [lo, hi) extent in bytes covered by bucket
// index k for the given base.
func bucketExtent(k int, base int64) (lo, hi int64) {
	if k < 0 {
		return 0, base
	}
	lo = int64(float64(base) * math.Pow(geometricRatio, float64(k)))
	hi = int64(math.Ceil(float64(base) * math.Pow(geometricRatio, float64(k+1))))
	return lo, hi
}

// HostClass is an equivalence class of hosts bucketed by
// (process slot count, memory bucket, disk bucket). Class members are
// sorted by (memory, disk) floored to 100 MiB, descending.
type HostClass struct {
	ProcessSlots int
	MemoryBucket int
	DiskBucket   int
	Members      []Host
	// Extent is the [min, max) rectangle that actually covers the
	// class's members, tightened after bucketing (see Classify).
	Extent resource.IntervalVector
}

func (hc *HostClass) addMember(h Host) {
	hc.Members = append(hc.Members, h)
}

func (hc *HostClass) sortMembers() {
	sort.SliceStable(hc.Members, func(i, j int) bool {
		mi := hc.Members[i].MemoryBytes / sortBucketDivisor
		mj := hc.Members[j].MemoryBytes / sortBucketDivisor
		if mi != mj {
			return mi > mj
		}
		di := hc.Members[i].FreeDiskBytes / sortBucketDivisor
		dj := hc.Members[j].FreeDiskBytes / sortBucketDivisor
		return di > dj
	})
}

func (hc *HostClass) tightenExtent() {
	var minMem, maxMem, minDisk, maxDisk int64
	for i, h := range hc.Members {
		if i == 0 {
			minMem, maxMem = h.MemoryBytes, h.MemoryBytes
			minDisk, maxDisk = h.FreeDiskBytes, h.FreeDiskBytes
			continue
		}
		if h.MemoryBytes < minMem {
			minMem = h.MemoryBytes
		}
		if h.MemoryBytes > maxMem {
			maxMem = h.MemoryBytes
		}
		if h.FreeDiskBytes < minDisk {
			minDisk = h.FreeDiskBytes
		}
		if h.FreeDiskBytes > maxDisk {
			maxDisk = h.FreeDiskBytes
		}
	}
	hc.Extent[resource.Memory] = resource.Interval{Min: minMem, Max: maxMem + 1}
	hc.Extent[resource.Disk] = resource.Interval{Min: minDisk, Max: maxDisk + 1}
}

// classKey identifies a HostClass before members are known; hosts
// whose free resources already meet requiredMax are collapsed to the
// single "saturated" key (MemoryBucket == DiskBucket == -2) so that
// overly capable hosts don't inflate the search space.
type classKey struct {
	processSlots int
	memBucket    int
	diskBucket   int
}

const saturatedBucket = -2

// Classify buckets hosts into HostClasses. requiredMax is the host-
// wide required maximum (master + one slave contribution + shared);
// hosts whose free resources dominate it in both kinds collapse into
// one saturated class per process-slot count.
func Classify(hosts []Host, requiredMax resource.Vector) []*HostClass {
	byKey := make(map[classKey]*HostClass)
	order := make([]classKey, 0)

	for _, h := range hosts {
		saturated := h.MemoryBytes >= requiredMax.Get(resource.Memory) &&
			h.FreeDiskBytes >= requiredMax.Get(resource.Disk) &&
			requiredMax.Get(resource.Memory) < resource.Infinite &&
			requiredMax.Get(resource.Disk) < resource.Infinite

		var key classKey
		if saturated {
			key = classKey{processSlots: h.ProcessSlots, memBucket: saturatedBucket, diskBucket: saturatedBucket}
		} else {
			key = classKey{
				processSlots: h.ProcessSlots,
				memBucket:    bucketIndex(h.MemoryBytes, memoryBucketBase),
				diskBucket:   bucketIndex(h.FreeDiskBytes, diskBucketBase),
			}
		}

		hc, ok := byKey[key]
		if !ok {
			hc = &HostClass{ProcessSlots: key.processSlots, MemoryBucket: key.memBucket, DiskBucket: key.diskBucket}
			byKey[key] = hc
			order = append(order, key)
		}
		hc.addMember(h)
	}

	classes := make([]*HostClass, 0, len(order))
	for _, key := range order {
		hc := byKey[key]
		hc.sortMembers()
		hc.tightenExtent()
		classes = append(classes, hc)
	}
	return classes
}
