// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for this module's
// packages.
//
// [SocketDir] creates a temporary directory in /tmp suitable for Unix
// domain sockets. This exists because Unix domain sockets have a
// 108-byte path limit (sun_path in sockaddr_un), and build systems
// like Bazel set TEST_TMPDIR to deeply nested paths that exceed this
// limit, making t.TempDir() unsuitable for socket files. The directory
// is automatically removed when the test completes.
//
// [UniqueID] generates monotonically increasing identifiers for test
// disambiguation. Use it instead of time.Now() when tests need unique
// job identities or request bodies distinguishable across runs.
//
// SocketDir calls t.Fatalf on failure rather than returning an error,
// since test setup failures are not recoverable; UniqueID cannot fail.
package testutil
