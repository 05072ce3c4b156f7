// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pathutil

import (
	"os"
	"strings"
)

// Canonicalize returns an absolute path with "//", "/./", and "/.."
// textually collapsed, repeatedly, until none remain. It does not
// resolve symlinks and does not consult the filesystem beyond reading
// the current working directory for relative inputs. Empty input
// returns empty output.
func Canonicalize(path string) string {
	if path == "" {
		return ""
	}

	file := path
	if !strings.HasPrefix(file, "/") {
		cwd, err := os.Getwd()
		if err != nil {
			cwd = "."
		}
		file = cwd + "/" + file
	}

	file = collapseAll(file, "/..", "/")
	file = collapseAll(file, "/./", "/")
	file = collapseAll(file, "//", "/")

	return file
}

// collapseAll repeatedly replaces the first occurrence of old with
// new until old no longer occurs. strings.ReplaceAll is not
// sufficient here because replacing "/.." can create a new "//" or
// "/.." occurrence that must also collapse (e.g. "/a/../.." needs two
// passes), matching the original implementation's repeated
// find-and-replace loop.
func collapseAll(s, old, new string) string {
	for {
		idx := strings.Index(s, old)
		if idx < 0 {
			return s
		}
		s = s[:idx] + new + s[idx+len(old):]
	}
}
