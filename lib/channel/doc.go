// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package channel implements the framed byte transport (§4.8/§4.9 of
// the build driver's specification) that both the broker exchange and
// the compile-server exchange ride on. A Channel wraps a net.Conn,
// applies a 4-byte big-endian length prefix around each CBOR-encoded
// protocol.Message, and opportunistically LZ4-compresses FILE_CHUNK
// payloads, tallying the compressed and uncompressed byte counts as
// it goes.
package channel
