// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package localfallback implements the loopback shortcut (C5 of the
// build driver's specification): when the broker assigns a job back
// to the submitting host, it is cheaper to run the compiler directly
// than to round-trip it through the compile-server protocol.
package localfallback
