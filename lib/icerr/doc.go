// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package icerr implements the remote build driver's error taxonomy:
// a numeric code, a kind, and a human message, attached at the
// failure site and propagated unchanged up through the session and
// orchestrator. Codes 101 and 102 are retryable — they signal the
// caller to recompile locally rather than surface a user-visible
// error.
package icerr
