// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package serializer implements the length-prefixed, block-streamed
// binary wire format (component A): a Buffer accumulates typed values
// in memory, a debug build tags every value with a one-byte type so a
// mismatched Get catches a protocol bug immediately, and Stream/Recv
// move a Buffer's contents across a Conn in fixed-size blocks.
package serializer

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/KhiopsML/khiops-parallel/internal/debugflag"
)

// BlockSize is the unit the stream layer chunks a Buffer into.
const BlockSize = 64 * 1024

// TypeTag identifies the Go type of one encoded value. Only written
// and checked when debugflag.Enabled.
type TypeTag byte

const (
	TagBool TypeTag = iota
	TagChar
	TagInt32
	TagInt64
	TagDouble
	TagString
	TagCharSeq
)

func (t TypeTag) String() string {
	switch t {
	case TagBool:
		return "bool"
	case TagChar:
		return "char"
	case TagInt32:
		return "int32"
	case TagInt64:
		return "int64"
	case TagDouble:
		return "double"
	case TagString:
		return "string"
	case TagCharSeq:
		return "charseq"
	default:
		return fmt.Sprintf("tag(%d)", int(t))
	}
}

// Buffer accumulates Put calls and replays them via Get calls in the
// same order. It is not safe for concurrent use.
type Buffer struct {
	data []byte
	pos  int
}

// NewBuffer returns an empty write/read buffer.
func NewBuffer() *Buffer { return &Buffer{} }

// NewBufferFromBytes wraps pre-serialized bytes for reading.
func NewBufferFromBytes(b []byte) *Buffer { return &Buffer{data: b} }

// Bytes returns the buffer's full contents, including any already-read
// prefix.
func (b *Buffer) Bytes() []byte { return b.data }

// Len returns the number of unread bytes remaining.
func (b *Buffer) Len() int { return len(b.data) - b.pos }

// Reset clears the buffer for reuse as a fresh writer.
func (b *Buffer) Reset() {
	b.data = b.data[:0]
	b.pos = 0
}

func (b *Buffer) putTag(t TypeTag) {
	if debugflag.Enabled {
		b.data = append(b.data, byte(t))
	}
}

func (b *Buffer) checkTag(want TypeTag) error {
	if !debugflag.Enabled {
		return nil
	}
	got, err := b.readByte()
	if err != nil {
		return err
	}
	if TypeTag(got) != want {
		return fmt.Errorf("serializer: expected tag %s, got %s", want, TypeTag(got))
	}
	return nil
}

func (b *Buffer) readByte() (byte, error) {
	if b.pos >= len(b.data) {
		return 0, fmt.Errorf("serializer: read past end of buffer")
	}
	v := b.data[b.pos]
	b.pos++
	return v, nil
}

func (b *Buffer) readN(n int) ([]byte, error) {
	if b.pos+n > len(b.data) {
		return nil, fmt.Errorf("serializer: need %d bytes, only %d remain", n, b.Len())
	}
	v := b.data[b.pos : b.pos+n]
	b.pos += n
	return v, nil
}

// PutBool appends a boolean value.
func (b *Buffer) PutBool(v bool) {
	b.putTag(TagBool)
	if v {
		b.data = append(b.data, 1)
	} else {
		b.data = append(b.data, 0)
	}
}

// GetBool reads a boolean value.
func (b *Buffer) GetBool() (bool, error) {
	if err := b.checkTag(TagBool); err != nil {
		return false, err
	}
	v, err := b.readByte()
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// PutChar appends a single byte value.
func (b *Buffer) PutChar(v byte) {
	b.putTag(TagChar)
	b.data = append(b.data, v)
}

// GetChar reads a single byte value.
func (b *Buffer) GetChar() (byte, error) {
	if err := b.checkTag(TagChar); err != nil {
		return 0, err
	}
	return b.readByte()
}

// PutInt32 appends a 32-bit signed integer, little-endian.
func (b *Buffer) PutInt32(v int32) {
	b.putTag(TagInt32)
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(v))
	b.data = append(b.data, tmp[:]...)
}

// GetInt32 reads a 32-bit signed integer.
func (b *Buffer) GetInt32() (int32, error) {
	if err := b.checkTag(TagInt32); err != nil {
		return 0, err
	}
	raw, err := b.readN(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(raw)), nil
}

// PutInt64 appends a 64-bit signed integer, little-endian.
func (b *Buffer) PutInt64(v int64) {
	b.putTag(TagInt64)
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], uint64(v))
	b.data = append(b.data, tmp[:]...)
}

// GetInt64 reads a 64-bit signed integer.
func (b *Buffer) GetInt64() (int64, error) {
	if err := b.checkTag(TagInt64); err != nil {
		return 0, err
	}
	raw, err := b.readN(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(raw)), nil
}

// PutDouble appends a 64-bit float.
func (b *Buffer) PutDouble(v float64) {
	b.putTag(TagDouble)
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], math.Float64bits(v))
	b.data = append(b.data, tmp[:]...)
}

// GetDouble reads a 64-bit float.
func (b *Buffer) GetDouble() (float64, error) {
	if err := b.checkTag(TagDouble); err != nil {
		return 0, err
	}
	raw, err := b.readN(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(raw)), nil
}

// PutString appends a length-prefixed UTF-8 string.
func (b *Buffer) PutString(v string) {
	b.putTag(TagString)
	b.putLength(len(v))
	b.data = append(b.data, v...)
}

// GetString reads a length-prefixed UTF-8 string.
func (b *Buffer) GetString() (string, error) {
	if err := b.checkTag(TagString); err != nil {
		return "", err
	}
	n, err := b.getLength()
	if err != nil {
		return "", err
	}
	raw, err := b.readN(n)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// PutCharSequence appends a length-prefixed raw byte sequence.
func (b *Buffer) PutCharSequence(v []byte) {
	b.putTag(TagCharSeq)
	b.putLength(len(v))
	b.data = append(b.data, v...)
}

// GetCharSequence reads a length-prefixed raw byte sequence.
func (b *Buffer) GetCharSequence() ([]byte, error) {
	if err := b.checkTag(TagCharSeq); err != nil {
		return nil, err
	}
	n, err := b.getLength()
	if err != nil {
		return nil, err
	}
	raw, err := b.readN(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, raw)
	return out, nil
}

func (b *Buffer) putLength(n int) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(n))
	b.data = append(b.data, tmp[:]...)
}

func (b *Buffer) getLength() (int, error) {
	raw, err := b.readN(4)
	if err != nil {
		return 0, err
	}
	return int(binary.LittleEndian.Uint32(raw)), nil
}

// PutSequence writes a length-prefixed ordered sequence of T using put
// for each element, matching spec.md's "ordered sequence of T".
func PutSequence[T any](b *Buffer, items []T, put func(*Buffer, T)) {
	b.putLength(len(items))
	for _, item := range items {
		put(b, item)
	}
}

// GetSequence reads back a sequence written by PutSequence.
func GetSequence[T any](b *Buffer, get func(*Buffer) (T, error)) ([]T, error) {
	n, err := b.getLength()
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, n)
	for i := 0; i < n; i++ {
		v, err := get(b)
		if err != nil {
			return nil, fmt.Errorf("serializer: sequence element %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}
