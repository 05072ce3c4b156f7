// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package broker is the orchestrator's client for the local broker
// channel: requesting compile-server assignments (GET_CS/USE_CS),
// announcing jobs, reporting completion, and blacklisting a host's
// environment after a failed verification (§4.6/§6 of the build
// driver's specification).
package broker
