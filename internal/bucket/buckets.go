// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package bucket

import (
	"fmt"
	"sort"
)

// Buckets is an ordered sequence of non-overlapping abutting buckets:
// each bucket's upper bound coincides with the next bucket's lower
// bound, exactly one of the two sides inclusive. An optional index
// over distinct boundary keys supports dichotomic Search.
type Buckets struct {
	order []*Bucket
	dir   string

	// maxResident is the per-bucket resident-buffer size past which
	// AddLineAtKey flushes to a chunk file.
	maxResident int

	indexKeys    []Key
	indexBuckets []int
}

// Options configures a bucket sequence.
type Options struct {
	// Dir is where chunk files are written. Empty keeps everything
	// resident in memory until the caller flushes explicitly.
	Dir string
	// MaxResident caps each bucket's in-memory buffer; 0 means one
	// transport block.
	MaxResident int
}

// Build partitions main by the non-decreasing sequence of split keys:
// one bucket per gap between consecutive distinct splits, a singleton
// for every repeated split. Bucket IDs derive from main's ID and the
// bucket's position.
func Build(main *Bucket, splits []Key, opts Options) (*Buckets, error) {
	for i := 1; i < len(splits); i++ {
		if splits[i].Compare(splits[i-1]) < 0 {
			return nil, fmt.Errorf("bucket: split keys must be non-decreasing, key %d (%s) sorts before its predecessor", i, splits[i])
		}
	}
	if opts.MaxResident <= 0 {
		opts.MaxResident = compressThreshold
	}

	bs := &Buckets{dir: opts.Dir, maxResident: opts.MaxResident}

	id := func() string { return fmt.Sprintf("%s.%d", main.ID, len(bs.order)) }

	lower := main.Lower
	lowerInclusive := main.LowerInclusive
	for i := 0; i < len(splits); i++ {
		key := splits[i]
		singleton := i+1 < len(splits) && key.Compare(splits[i+1]) == 0
		if !lower.Infinite && key.Compare(lower.Key) == 0 {
			// The split repeats the previous boundary; the singleton
			// for it was already emitted.
			continue
		}
		// Gap bucket up to the split. Its upper side is exclusive: the
		// split key itself belongs to the next bucket (or to its
		// singleton).
		bs.order = append(bs.order, New(id(), lower, Finite(key), lowerInclusive, false))
		if singleton {
			bs.order = append(bs.order, NewSingleton(id(), key))
			lower = Finite(key)
			lowerInclusive = false
		} else {
			lower = Finite(key)
			lowerInclusive = true
		}
	}
	bs.order = append(bs.order, New(id(), lower, main.Upper, lowerInclusive, main.UpperInclusive))

	if err := bs.checkInvariants(); err != nil {
		return nil, err
	}
	return bs, nil
}

// Len returns the number of buckets.
func (bs *Buckets) Len() int { return len(bs.order) }

// At returns the bucket at position i.
func (bs *Buckets) At(i int) *Bucket { return bs.order[i] }

// All returns the buckets in order. The slice is a copy; the buckets
// are not.
func (bs *Buckets) All() []*Bucket {
	out := make([]*Bucket, len(bs.order))
	copy(out, bs.order)
	return out
}

// Index builds the dichotomic-lookup cache: the distinct finite
// boundary keys and, for each, the first bucket whose range can
// contain it. Any structural change drops the cache.
func (bs *Buckets) Index() {
	bs.indexKeys = bs.indexKeys[:0]
	bs.indexBuckets = bs.indexBuckets[:0]
	for i, b := range bs.order {
		if b.Lower.Infinite {
			continue
		}
		n := len(bs.indexKeys)
		if n > 0 && bs.indexKeys[n-1].Compare(b.Lower.Key) == 0 {
			continue
		}
		bs.indexKeys = append(bs.indexKeys, b.Lower.Key)
		bs.indexBuckets = append(bs.indexBuckets, i)
	}
}

// Search returns the position of the unique bucket containing key.
// O(log n) when indexed: the dichotomy over distinct boundary keys
// narrows the candidates to a two-bucket window, and a short linear
// scan settles which side of the ambiguous boundary key falls on.
// Unindexed sequences fall back to a sequential scan.
func (bs *Buckets) Search(key Key) int {
	if len(bs.indexKeys) == 0 {
		for i, b := range bs.order {
			if b.Contains(key) {
				return i
			}
		}
		return -1
	}

	// First distinct boundary strictly greater than key; everything
	// containing key starts at the boundary before it.
	pos := sort.Search(len(bs.indexKeys), func(i int) bool {
		return bs.indexKeys[i].Compare(key) > 0
	})
	start := 0
	if pos > 0 {
		start = bs.indexBuckets[pos-1]
	}
	end := len(bs.order)
	if pos < len(bs.indexBuckets) {
		end = bs.indexBuckets[pos] + 1
	}
	for i := start; i < end; i++ {
		if bs.order[i].Contains(key) {
			return i
		}
	}
	return -1
}

// AddLineAtKey appends line to the bucket covering key, flushing that
// bucket's resident buffer to a chunk file once it passes the
// configured cap.
func (bs *Buckets) AddLineAtKey(key Key, line []byte) error {
	i := bs.Search(key)
	if i < 0 {
		return fmt.Errorf("bucket: no bucket covers key %s", key)
	}
	b := bs.order[i]
	b.AppendLine(line)
	if bs.dir != "" && len(b.resident) >= bs.maxResident {
		return b.Flush(bs.dir)
	}
	return nil
}

// GetOverweightBucket scans in order and returns the first
// non-singleton bucket whose accounted payload exceeds maxChunkSize,
// or nil. Singletons cannot be split further, so they are never
// reported however large they grow.
func (bs *Buckets) GetOverweightBucket(maxChunkSize int64) *Bucket {
	for _, b := range bs.order {
		if b.Singleton() {
			continue
		}
		if b.TotalBytes() > maxChunkSize {
			return b
		}
	}
	return nil
}

// SplitLargeBucket replaces big in position with the ordered
// contiguous run sub. The sub-buckets' outer bounds must match big's
// bounds exactly and abut each other correctly; big's chunk files stay
// owned by big, so the caller redistributes its payload (ReadAll +
// AddLineAtKey) and then deletes them via big.DeleteFiles.
func (bs *Buckets) SplitLargeBucket(big *Bucket, sub []*Bucket) error {
	if len(sub) == 0 {
		return fmt.Errorf("bucket: split of %s needs at least one sub-bucket", big.ID)
	}
	at := -1
	for i, b := range bs.order {
		if b == big {
			at = i
			break
		}
	}
	if at < 0 {
		return fmt.Errorf("bucket: %s is not part of this sequence", big.ID)
	}

	first, last := sub[0], sub[len(sub)-1]
	if !boundEqual(first.Lower, big.Lower) || first.LowerInclusive != big.LowerInclusive {
		return fmt.Errorf("bucket: sub-buckets of %s must start at its lower bound", big.ID)
	}
	if !boundEqual(last.Upper, big.Upper) || last.UpperInclusive != big.UpperInclusive {
		return fmt.Errorf("bucket: sub-buckets of %s must end at its upper bound", big.ID)
	}

	replaced := make([]*Bucket, 0, len(bs.order)-1+len(sub))
	replaced = append(replaced, bs.order[:at]...)
	replaced = append(replaced, sub...)
	replaced = append(replaced, bs.order[at+1:]...)

	saved := bs.order
	bs.order = replaced
	if err := bs.checkInvariants(); err != nil {
		bs.order = saved
		return err
	}
	bs.indexKeys = nil
	bs.indexBuckets = nil
	return nil
}

// DeleteBucketFiles deletes every chunk file referenced by any bucket,
// returning the first error encountered while still attempting the
// rest.
func (bs *Buckets) DeleteBucketFiles() error {
	var firstErr error
	for _, b := range bs.order {
		if err := b.DeleteFiles(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// checkInvariants verifies the abutting rules: strictly increasing
// lower bounds, each consecutive pair sharing its boundary key with
// exactly one side inclusive, infinite bounds only at the two ends.
func (bs *Buckets) checkInvariants() error {
	for i, b := range bs.order {
		if b.Lower.Infinite && i != 0 {
			return fmt.Errorf("bucket: infinite lower bound on %s at position %d", b.ID, i)
		}
		if b.Upper.Infinite && i != len(bs.order)-1 {
			return fmt.Errorf("bucket: infinite upper bound on %s at position %d", b.ID, i)
		}
		if !b.Lower.Infinite && !b.Upper.Infinite {
			cmp := b.Lower.Key.Compare(b.Upper.Key)
			if cmp > 0 {
				return fmt.Errorf("bucket: %s has lower bound above its upper bound", b.ID)
			}
			if cmp == 0 && (!b.LowerInclusive || !b.UpperInclusive) {
				return fmt.Errorf("bucket: %s is an empty range", b.ID)
			}
		}
		if i == 0 {
			continue
		}
		prev := bs.order[i-1]
		if prev.Upper.Infinite || b.Lower.Infinite {
			return fmt.Errorf("bucket: %s and %s cannot abut through an infinite bound", prev.ID, b.ID)
		}
		if prev.Upper.Key.Compare(b.Lower.Key) != 0 {
			return fmt.Errorf("bucket: %s and %s do not abut", prev.ID, b.ID)
		}
		if prev.UpperInclusive == b.LowerInclusive {
			return fmt.Errorf("bucket: boundary between %s and %s must be inclusive on exactly one side", prev.ID, b.ID)
		}
	}
	return nil
}
