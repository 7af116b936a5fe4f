// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package serializer

import (
	"encoding/binary"
	"fmt"
)

// Conn is the minimal connection surface the stream helpers need. It
// is declared locally, not imported from internal/transport, so that
// any transport's concrete connection type satisfies it structurally
// without either package depending on the other.
type Conn interface {
	Send([]byte) error
	Recv() ([]byte, error)
	Close() error
}

// SendStream writes a Buffer's contents to conn as a sequence of
// BlockSize-chunked frames, each prefixed with its own length so a
// reader can reassemble without knowing the total size up front. The
// final frame is zero-length-terminated.
func SendStream(conn Conn, b *Buffer) error {
	data := b.Bytes()
	for offset := 0; ; offset += BlockSize {
		end := offset + BlockSize
		if end > len(data) {
			end = len(data)
		}
		chunk := data[offset:end]
		if err := sendFrame(conn, chunk); err != nil {
			return fmt.Errorf("serializer: send block at offset %d: %w", offset, err)
		}
		if end == len(data) {
			break
		}
	}
	return sendFrame(conn, nil)
}

// RecvStream reads frames from conn until the terminating empty frame
// and returns the reassembled Buffer, ready for Get calls.
func RecvStream(conn Conn) (*Buffer, error) {
	var data []byte
	for {
		chunk, err := recvFrame(conn)
		if err != nil {
			return nil, fmt.Errorf("serializer: recv block: %w", err)
		}
		if len(chunk) == 0 {
			break
		}
		data = append(data, chunk...)
	}
	return NewBufferFromBytes(data), nil
}

// BcastStream sends the same Buffer to every conn in order, stopping
// at the first error encountered.
func BcastStream(conns []Conn, b *Buffer) error {
	for i, c := range conns {
		if err := SendStream(c, b); err != nil {
			return fmt.Errorf("serializer: broadcast to conn %d: %w", i, err)
		}
	}
	return nil
}

func sendFrame(conn Conn, chunk []byte) error {
	frame := make([]byte, 4+len(chunk))
	binary.LittleEndian.PutUint32(frame[:4], uint32(len(chunk)))
	copy(frame[4:], chunk)
	return conn.Send(frame)
}

func recvFrame(conn Conn) ([]byte, error) {
	raw, err := conn.Recv()
	if err != nil {
		return nil, err
	}
	if len(raw) < 4 {
		return nil, fmt.Errorf("serializer: frame shorter than length prefix")
	}
	n := binary.LittleEndian.Uint32(raw[:4])
	if int(n) != len(raw)-4 {
		return nil, fmt.Errorf("serializer: frame length mismatch: header says %d, got %d", n, len(raw)-4)
	}
	return raw[4:], nil
}
