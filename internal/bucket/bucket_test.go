// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package bucket

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func k(vals ...int64) Key { return Key(vals) }

func TestKeyCompare(t *testing.T) {
	assert.Equal(t, 0, k(1, 2).Compare(k(1, 2)))
	assert.Equal(t, -1, k(1, 2).Compare(k(1, 3)))
	assert.Equal(t, 1, k(2).Compare(k(1, 99)))
	// A prefix sorts before its extension.
	assert.Equal(t, -1, k(1).Compare(k(1, 0)))
}

// The S6 scenario: splits [110, 150, 150, 200] partition the domain
// into ]-inf;110[, [110;150[, {150}, ]150;200[, [200;+inf[.
func TestBuildWithRepeatedSplit(t *testing.T) {
	bs, err := Build(NewMain("m"), []Key{k(110), k(150), k(150), k(200)}, Options{})
	require.NoError(t, err)
	require.Equal(t, 5, bs.Len())

	assert.Equal(t, "]-inf;110[", bs.At(0).String())
	assert.Equal(t, "[110;150[", bs.At(1).String())
	assert.Equal(t, "{150}", bs.At(2).String())
	assert.Equal(t, "]150;200[", bs.At(3).String())
	assert.Equal(t, "[200;+inf[", bs.At(4).String())

	bs.Index()
	cases := []struct {
		key  Key
		want int
	}{
		{k(105), 0},
		{k(110), 1},
		{k(115), 1},
		{k(150), 2},
		{k(155), 3},
		{k(205), 4},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, bs.Search(tc.key), "key %s", tc.key)
	}
}

func TestBuildRejectsDecreasingSplits(t *testing.T) {
	_, err := Build(NewMain("m"), []Key{k(200), k(100)}, Options{})
	assert.Error(t, err)
}

// Indexed lookup must agree with a sequential Contains scan for every
// key in a grid straddling each boundary.
func TestSearchMatchesSequentialScan(t *testing.T) {
	bs, err := Build(NewMain("m"), []Key{k(10), k(20), k(20), k(30), k(40)}, Options{})
	require.NoError(t, err)
	bs.Index()

	for key := int64(0); key <= 50; key++ {
		sequential := -1
		for i := 0; i < bs.Len(); i++ {
			if bs.At(i).Contains(k(key)) {
				sequential = i
				break
			}
		}
		require.GreaterOrEqual(t, sequential, 0, "key %d not covered", key)
		assert.Equal(t, sequential, bs.Search(k(key)), "key %d", key)
	}
}

func TestAddLineFlushesPastResidentCap(t *testing.T) {
	dir := t.TempDir()
	bs, err := Build(NewMain("m"), []Key{k(100)}, Options{Dir: dir, MaxResident: 16})
	require.NoError(t, err)

	line := []byte("0123456789abcdef")
	require.NoError(t, bs.AddLineAtKey(k(50), line))
	require.NoError(t, bs.AddLineAtKey(k(50), line))

	b := bs.At(0)
	assert.Len(t, b.ChunkFiles(), 2)
	assert.Equal(t, int64(2*len(line)), b.TotalBytes())

	data, err := b.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, append(append([]byte{}, line...), line...), data)
}

func TestFlushCompressesLargeChunks(t *testing.T) {
	dir := t.TempDir()
	b := New("big", Finite(k(0)), Finite(k(100)), true, false)

	payload := bytes.Repeat([]byte("khiops"), compressThreshold/4)
	b.AppendLine(payload)
	require.NoError(t, b.Flush(dir))

	files := b.ChunkFiles()
	require.Len(t, files, 1)
	assert.Equal(t, ".zst", filepath.Ext(files[0]))

	info, err := os.Stat(files[0])
	require.NoError(t, err)
	assert.Less(t, info.Size(), int64(len(payload)))

	data, err := b.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

// After a split, iterating the sequence must visit every key the big
// bucket covered, exactly once.
func TestSplitLargeBucket(t *testing.T) {
	bs, err := Build(NewMain("m"), []Key{k(100), k(200)}, Options{})
	require.NoError(t, err)
	require.Equal(t, 3, bs.Len())

	big := bs.At(1) // [100;200[
	sub := []*Bucket{
		New("s0", Finite(k(100)), Finite(k(150)), true, false),
		NewSingleton("s1", k(150)),
		New("s2", Finite(k(150)), Finite(k(200)), false, false),
	}
	require.NoError(t, bs.SplitLargeBucket(big, sub))
	require.Equal(t, 5, bs.Len())

	bs.Index()
	for key := int64(90); key <= 210; key++ {
		covering := 0
		for i := 0; i < bs.Len(); i++ {
			if bs.At(i).Contains(k(key)) {
				covering++
			}
		}
		assert.Equal(t, 1, covering, "key %d", key)
	}
}

func TestSplitRejectsMismatchedBounds(t *testing.T) {
	bs, err := Build(NewMain("m"), []Key{k(100), k(200)}, Options{})
	require.NoError(t, err)

	big := bs.At(1)
	sub := []*Bucket{New("s0", Finite(k(100)), Finite(k(190)), true, false)}
	assert.Error(t, bs.SplitLargeBucket(big, sub))
	// The failed split must leave the sequence untouched.
	assert.Equal(t, 3, bs.Len())
}

func TestGetOverweightBucketSkipsSingletons(t *testing.T) {
	bs, err := Build(NewMain("m"), []Key{k(100), k(100), k(200)}, Options{})
	require.NoError(t, err)

	// Load the singleton far past the threshold, a range bucket just
	// above it.
	require.NoError(t, bs.AddLineAtKey(k(100), bytes.Repeat([]byte{'x'}, 1000)))
	require.NoError(t, bs.AddLineAtKey(k(150), bytes.Repeat([]byte{'y'}, 101)))

	over := bs.GetOverweightBucket(100)
	require.NotNil(t, over)
	assert.False(t, over.Singleton())
	assert.True(t, over.Contains(k(150)))
}

func TestDeleteBucketFiles(t *testing.T) {
	dir := t.TempDir()
	bs, err := Build(NewMain("m"), []Key{k(100)}, Options{Dir: dir, MaxResident: 4})
	require.NoError(t, err)

	require.NoError(t, bs.AddLineAtKey(k(10), []byte("aaaa")))
	require.NoError(t, bs.AddLineAtKey(k(110), []byte("bbbb")))

	var files []string
	for _, b := range bs.All() {
		files = append(files, b.ChunkFiles()...)
	}
	require.NotEmpty(t, files)

	require.NoError(t, bs.DeleteBucketFiles())
	for _, f := range files {
		_, err := os.Stat(f)
		assert.True(t, os.IsNotExist(err), "%s still exists", f)
	}
}
