// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package procrun supplies the out-of-scope process collaborators
// (C9 of the build driver's specification): the platform preprocessor
// and the local compiler, wrapped behind small interfaces so the
// remote session and local fallback probe can be driven in tests
// without spawning a real compiler.
package procrun
