// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package orchestrator is the build driver's top-level entry point
// (C6 of the specification): decide single vs. N-way redundant mode,
// request assignment(s) from the broker, dispatch per-assignment
// remote sessions (or the local-fallback probe), collect results,
// compare digests in the redundant case, and surface the final exit
// status.
package orchestrator
