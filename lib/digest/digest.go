// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package digest

import (
	"encoding/hex"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// readChunkSize is the buffer size used when streaming a file into
// the hasher. Large enough to amortize syscall overhead on typical
// object files without holding more than one chunk in memory.
const readChunkSize = 256 * 1024

// ForFile computes the 128-bit content digest of the file at path,
// rendered as 32 lowercase hexadecimal characters. On any open
// failure it returns the empty string — the caller interprets that as
// "digest unavailable," which aborts comparison rather than treating
// two unreadable files as equal.
func ForFile(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	hasher := blake3.New()
	buffer := make([]byte, readChunkSize)
	if _, err := io.CopyBuffer(hasher, f, buffer); err != nil {
		return ""
	}

	full := hasher.Sum(nil)
	return hex.EncodeToString(full[:16])
}

// Equal reports whether two digests are non-empty and identical. An
// empty digest (from a failed ForFile) never compares equal, even to
// another empty digest — "unavailable" is not evidence of a match.
func Equal(a, b string) bool {
	return a != "" && b != "" && a == b
}
