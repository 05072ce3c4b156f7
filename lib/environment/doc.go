// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package environment implements the Environment Catalog (§4.1 of the
// build driver's specification): parsing the user-provided
// ICECC_VERSION descriptor into an ordered sequence of toolchain
// tarball references, then resolving those references into the
// version and versionfile maps the orchestrator needs to ship an
// environment to a compile server.
package environment
