// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package compilejob defines the CompileJob value that flows through
// the remote build driver: a fully-classified description of one
// compilation, built by the CLI layer from explicit flags rather than
// from gcc/clang argv parsing (which is out of scope for this core).
package compilejob
