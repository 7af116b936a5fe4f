// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package bucket

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/KhiopsML/khiops-parallel/internal/fileops"
)

// compressThreshold is the resident-buffer size past which a flushed
// chunk is zstd-compressed before it hits disk. It matches the
// serializer's block size: anything smaller fits one transport block
// anyway and the compression round trip isn't worth the CPU.
const compressThreshold = 64 * 1024

var (
	zstdEncoder, _ = zstd.NewWriter(nil)
	zstdDecoder, _ = zstd.NewReader(nil)
)

// Bucket is one half-open key-range partition: it owns the records
// whose key falls between Lower and Upper, buffered in memory until
// the resident buffer is flushed to a chunk file.
type Bucket struct {
	ID    string
	Lower Bound
	Upper Bound
	// LowerInclusive and UpperInclusive encode which side of an
	// abutting bound this bucket owns. An infinite bound is always
	// exclusive.
	LowerInclusive bool
	UpperInclusive bool
	// Host records where this bucket's chunk files live, for
	// locality-aware packing. Empty means no affinity.
	Host string

	chunkFiles   []string
	payloadBytes int64
	resident     []byte
	sorted       bool
}

// New returns a bucket spanning [lower, upper] with the given bound
// inclusivities. Infinite bounds are forced exclusive.
func New(id string, lower, upper Bound, lowerInclusive, upperInclusive bool) *Bucket {
	if lower.Infinite {
		lowerInclusive = false
	}
	if upper.Infinite {
		upperInclusive = false
	}
	return &Bucket{ID: id, Lower: lower, Upper: upper, LowerInclusive: lowerInclusive, UpperInclusive: upperInclusive}
}

// NewMain returns a bucket covering the whole key domain, the starting
// point Build partitions by split keys.
func NewMain(id string) *Bucket {
	return New(id, NegativeInfinity(), PositiveInfinity(), false, false)
}

// NewSingleton returns a bucket holding exactly one key, inclusive on
// both sides.
func NewSingleton(id string, key Key) *Bucket {
	return New(id, Finite(key), Finite(key), true, true)
}

// Singleton reports whether the bucket holds exactly one key.
func (b *Bucket) Singleton() bool {
	return !b.Lower.Infinite && !b.Upper.Infinite && b.Lower.Key.Compare(b.Upper.Key) == 0
}

// Contains reports whether key falls inside the bucket's range.
func (b *Bucket) Contains(key Key) bool {
	if !b.Lower.Infinite {
		cmp := key.Compare(b.Lower.Key)
		if cmp < 0 || (cmp == 0 && !b.LowerInclusive) {
			return false
		}
	}
	if !b.Upper.Infinite {
		cmp := key.Compare(b.Upper.Key)
		if cmp > 0 || (cmp == 0 && !b.UpperInclusive) {
			return false
		}
	}
	return true
}

// SameBounds reports whether other spans exactly the same range with
// the same inclusivities.
func (b *Bucket) SameBounds(other *Bucket) bool {
	return boundEqual(b.Lower, other.Lower) && boundEqual(b.Upper, other.Upper) &&
		b.LowerInclusive == other.LowerInclusive && b.UpperInclusive == other.UpperInclusive
}

func boundEqual(a, b Bound) bool {
	if a.Infinite || b.Infinite {
		return a.Infinite == b.Infinite
	}
	return a.Key.Compare(b.Key) == 0
}

// AppendLine adds one record's bytes to the resident buffer.
func (b *Bucket) AppendLine(line []byte) {
	b.resident = append(b.resident, line...)
	b.payloadBytes += int64(len(line))
	b.sorted = false
}

// TotalBytes returns the bucket's accounted payload size: every byte
// ever appended, whether still resident or already flushed to chunk
// files. Flushed chunks count at their uncompressed size, so the
// overweight scan sees data volume, not compression luck.
func (b *Bucket) TotalBytes() int64 { return b.payloadBytes }

// ChunkFiles returns the chunk file paths the bucket owns.
func (b *Bucket) ChunkFiles() []string {
	out := make([]string, len(b.chunkFiles))
	copy(out, b.chunkFiles)
	return out
}

// Flush writes the resident buffer to a new chunk file under dir and
// clears it. Buffers at least compressThreshold bytes long are
// zstd-compressed on the way out. A nil error with no new file means
// the resident buffer was empty.
func (b *Bucket) Flush(dir string) error {
	if len(b.resident) == 0 {
		return nil
	}
	if err := fileops.Check("write"); err != nil {
		return fmt.Errorf("bucket: flush chunk for %s: %w", b.ID, err)
	}
	payload := b.resident
	name := fmt.Sprintf("bucket_%s_%04d.chunk", sanitizeID(b.ID), len(b.chunkFiles))
	if len(payload) >= compressThreshold {
		payload = zstdEncoder.EncodeAll(payload, nil)
		name += ".zst"
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, payload, 0o600); err != nil {
		return fmt.Errorf("bucket: flush chunk for %s: %w", b.ID, err)
	}
	b.chunkFiles = append(b.chunkFiles, path)
	b.resident = nil
	return nil
}

// ReadAll returns the bucket's full payload: every flushed chunk in
// flush order, decompressed when needed, followed by the resident
// buffer.
func (b *Bucket) ReadAll() ([]byte, error) {
	var out []byte
	for _, path := range b.chunkFiles {
		if err := fileops.Check("read"); err != nil {
			return nil, fmt.Errorf("bucket: read chunk of %s: %w", b.ID, err)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("bucket: read chunk of %s: %w", b.ID, err)
		}
		if strings.HasSuffix(path, ".zst") {
			data, err = zstdDecoder.DecodeAll(data, nil)
			if err != nil {
				return nil, fmt.Errorf("bucket: decompress chunk of %s: %w", b.ID, err)
			}
		}
		out = append(out, data...)
	}
	out = append(out, b.resident...)
	return out, nil
}

// DeleteFiles removes every chunk file the bucket owns and forgets
// them. The resident buffer is untouched.
func (b *Bucket) DeleteFiles() error {
	var firstErr error
	for _, path := range b.chunkFiles {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = fmt.Errorf("bucket: delete chunk of %s: %w", b.ID, err)
		}
	}
	b.chunkFiles = nil
	return firstErr
}

// String renders the bucket's range in interval notation, singletons
// as {key}.
func (b *Bucket) String() string {
	if b.Singleton() {
		return fmt.Sprintf("{%s}", b.Lower.Key)
	}
	var sb strings.Builder
	if b.LowerInclusive {
		sb.WriteByte('[')
	} else {
		sb.WriteByte(']')
	}
	if b.Lower.Infinite {
		sb.WriteString("-inf")
	} else {
		sb.WriteString(b.Lower.Key.String())
	}
	sb.WriteByte(';')
	if b.Upper.Infinite {
		sb.WriteString("+inf")
	} else {
		sb.WriteString(b.Upper.Key.String())
	}
	if b.UpperInclusive {
		sb.WriteByte(']')
	} else {
		sb.WriteByte('[')
	}
	return sb.String()
}

func sanitizeID(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, id)
}
