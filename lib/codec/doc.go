// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the build driver's standard CBOR encoding
// configuration.
//
// Both wire protocols the driver speaks — the local broker exchange
// and the compile-server exchange (lib/protocol) — are CBOR-only: a
// length-prefixed message followed by a binary source or artifact
// stream. There is no JSON surface to keep in sync.
//
// This package provides the shared CBOR encoding and decoding modes so
// every message encodes identically without duplicating configuration.
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2): sorted
// map keys, smallest integer encoding, no indefinite-length items. Same
// logical message always produces identical bytes, which keeps test
// fixtures stable.
//
// For buffer-oriented operations (the broker and compile-server
// channels use these, one call per length-prefixed frame):
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations on an unframed stream:
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
package codec
