// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/pierrec/lz4/v4"

	"github.com/icecc-go/driver/lib/codec"
	"github.com/icecc-go/driver/lib/protocol"
)

// MaxMessageSize rejects a length prefix larger than this before
// allocating a receive buffer for it. No legitimate message
// (including a FILE_CHUNK) exceeds a few hundred KB.
const MaxMessageSize = 8 * 1024 * 1024

// compressionFloor is the smallest FILE_CHUNK payload worth trying to
// compress. Below this, LZ4's frame overhead routinely exceeds any
// savings.
const compressionFloor = 256

// Channel is a length-prefixed CBOR message stream over a net.Conn.
// It is not safe for concurrent use by multiple goroutines on the
// same direction (one reader, one writer is fine).
type Channel struct {
	conn net.Conn

	bytesSentUncompressed int64
	bytesSentCompressed   int64
	bytesRecvUncompressed int64
	bytesRecvCompressed   int64
}

// Dial opens conn (TCP to a compile server, or a Unix domain socket
// to the local broker) with the given connect deadline.
func Dial(network, address string, timeout time.Duration) (*Channel, error) {
	conn, err := net.DialTimeout(network, address, timeout)
	if err != nil {
		return nil, fmt.Errorf("dialing %s %s: %w", network, address, err)
	}
	return New(conn), nil
}

// New wraps an already-connected net.Conn in a Channel.
func New(conn net.Conn) *Channel {
	return &Channel{conn: conn}
}

// Close releases the underlying connection.
func (c *Channel) Close() error {
	return c.conn.Close()
}

// SetDeadline is a thin pass-through to the underlying connection,
// for a caller that needs to bound both a send and the following
// receive with a single deadline. No caller in this module uses it;
// SendMessage and ReceiveMessage each set their own deadline.
func (c *Channel) SetDeadline(t time.Time) error {
	return c.conn.SetDeadline(t)
}

// SendMessage encodes msg as CBOR, compresses its Data field with
// LZ4 when msg is a FILE_CHUNK and compression actually shrinks the
// payload, and writes the length-prefixed frame before deadline.
func (c *Channel) SendMessage(msg protocol.Message, deadline time.Time) error {
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("setting write deadline: %w", err)
	}

	if msg.Type == protocol.FileChunk && len(msg.Data) >= compressionFloor {
		if compressed, ok := compress(msg.Data); ok {
			c.bytesSentUncompressed += int64(len(msg.Data))
			c.bytesSentCompressed += int64(len(compressed))
			msg.UncompressedSize = len(msg.Data)
			msg.Data = compressed
			msg.Compressed = true
		} else {
			c.bytesSentUncompressed += int64(len(msg.Data))
			c.bytesSentCompressed += int64(len(msg.Data))
		}
	} else if msg.Type == protocol.FileChunk {
		c.bytesSentUncompressed += int64(len(msg.Data))
		c.bytesSentCompressed += int64(len(msg.Data))
	}

	body, err := codec.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(body)))
	if _, err := c.conn.Write(header[:]); err != nil {
		return fmt.Errorf("writing message length: %w", err)
	}
	if _, err := c.conn.Write(body); err != nil {
		return fmt.Errorf("writing message body: %w", err)
	}
	return nil
}

// ReceiveMessage reads one length-prefixed frame before deadline,
// decodes it, and transparently decompresses a compressed FILE_CHUNK
// payload.
func (c *Channel) ReceiveMessage(deadline time.Time) (protocol.Message, error) {
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return protocol.Message{}, fmt.Errorf("setting read deadline: %w", err)
	}

	var header [4]byte
	if _, err := io.ReadFull(c.conn, header[:]); err != nil {
		return protocol.Message{}, fmt.Errorf("reading message length: %w", err)
	}
	length := binary.BigEndian.Uint32(header[:])
	if length > MaxMessageSize {
		return protocol.Message{}, fmt.Errorf("message size %d exceeds maximum %d", length, MaxMessageSize)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(c.conn, body); err != nil {
		return protocol.Message{}, fmt.Errorf("reading message body: %w", err)
	}

	var msg protocol.Message
	if err := codec.Unmarshal(body, &msg); err != nil {
		return protocol.Message{}, fmt.Errorf("decoding message: %w", err)
	}

	if msg.Type == protocol.FileChunk && msg.Compressed {
		c.bytesRecvCompressed += int64(len(msg.Data))
		decompressed, err := decompress(msg.Data, msg.UncompressedSize)
		if err != nil {
			return protocol.Message{}, fmt.Errorf("decompressing chunk: %w", err)
		}
		c.bytesRecvUncompressed += int64(len(decompressed))
		msg.Data = decompressed
		msg.Compressed = false
	} else if msg.Type == protocol.FileChunk {
		c.bytesRecvUncompressed += int64(len(msg.Data))
		c.bytesRecvCompressed += int64(len(msg.Data))
	}

	return msg, nil
}

// ByteCounters reports the running compressed/uncompressed totals for
// FILE_CHUNK traffic in each direction, used for the session's
// compression-ratio logging (§4.4.1).
func (c *Channel) ByteCounters() (sentUncompressed, sentCompressed, recvUncompressed, recvCompressed int64) {
	return c.bytesSentUncompressed, c.bytesSentCompressed, c.bytesRecvUncompressed, c.bytesRecvCompressed
}

// compress LZ4-frame-compresses data, returning ok=false if the
// result is not smaller than the input (compression is skipped on
// the wire in that case).
func compress(data []byte) ([]byte, bool) {
	var buf bytes.Buffer
	writer := lz4.NewWriter(&buf)
	if _, err := writer.Write(data); err != nil {
		return nil, false
	}
	if err := writer.Close(); err != nil {
		return nil, false
	}
	if buf.Len() >= len(data) {
		return nil, false
	}
	return buf.Bytes(), true
}

func decompress(data []byte, uncompressedSize int) ([]byte, error) {
	reader := lz4.NewReader(bytes.NewReader(data))
	out := make([]byte, uncompressedSize)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, err
	}
	return out, nil
}
