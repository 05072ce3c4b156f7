// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package pathutil produces the absolute, lexically-normalized
// filenames used as part of the scheduler's job-identity key (§4.2 of
// the build driver's specification). Normalization is purely
// textual — it never touches the filesystem, so it gives no
// correctness guarantee in the presence of symlinks. That tradeoff is
// intentional: the identity key only needs two equivalent path
// spellings to collapse to the same string, not to resolve to a real
// inode.
package pathutil
