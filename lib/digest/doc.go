// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package digest computes the fixed-width content hash the
// orchestrator uses to byte-compare redundant build replicas (§4.3 of
// the build driver's specification). It is a thin, narrowed wrapper
// around BLAKE3 — the same hash family lib/artifact uses for
// content-addressing, truncated from its native 256-bit output to the
// 128-bit (32 hex character) width the comparison protocol expects.
package digest
