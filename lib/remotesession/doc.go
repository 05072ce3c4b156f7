// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package remotesession drives one compile-server session end to end
// (C4 of the build driver's specification): connect, environment
// transfer and verification, source delivery, result collection, and
// artifact reception. A Session is used once per replica; the
// orchestrator constructs one per goroutine in the redundant path.
package remotesession
