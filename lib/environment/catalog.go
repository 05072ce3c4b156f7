// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package environment

import (
	"log/slog"
	"os"
	"strings"

	"github.com/icecc-go/driver/lib/icerr"
)

// Entry is one (platform, path) pair from a parsed descriptor.
type Entry struct {
	Platform string
	Path     string
}

// archiveSuffixes are the recognized toolchain tarball extensions.
// Matching is by strings.HasSuffix and no suffix here is a suffix of
// another, so the order of the list does not affect which one matches.
var archiveSuffixes = []string{".tar.bz2", ".tar.gz", ".tar", ".tgz"}

// minEnvironmentFileSize is the smallest size, in bytes, a toolchain
// tarball is accepted at. Anything smaller cannot plausibly contain a
// usable compiler installation and is almost certainly a corrupt or
// placeholder file.
const minEnvironmentFileSize = 500

// Parse splits the comma-separated ICECC_VERSION descriptor into an
// ordered sequence of entries. targetPlatform is substituted for any
// token that omits an explicit "platform:" prefix. When the descriptor
// uses "=prefix" tags at all, entries are filtered by prefix per §4.1
// rule 2; without any "=" in the descriptor, prefix is not consulted. Rejections are logged at Warn and
// skipped; the only fatal condition is an empty result, which the
// caller turns into error code 22.
func Parse(logger *slog.Logger, descriptor, targetPlatform, prefix string) []Entry {
	tokens := splitNonEmpty(descriptor, ',')
	prefixQualified := strings.Contains(descriptor, "=")

	var result []Entry
	seenPlatforms := make(map[string]bool)

	for _, token := range tokens {
		platform := targetPlatform
		value := token
		if colon := strings.IndexByte(token, ':'); colon >= 0 {
			platform = token[:colon]
			value = token[colon+1:]
		}

		if prefixQualified {
			tag := ""
			hasTag := false
			if eq := strings.IndexByte(value, '='); eq >= 0 {
				tag = value[eq+1:]
				value = value[:eq]
				hasTag = true
			}
			if hasTag {
				if tag != prefix {
					continue
				}
			} else if prefix != "" {
				continue
			}
		}

		if seenPlatforms[platform] {
			logger.Warn("duplicate environment for platform, ignoring", "platform", platform, "path", value)
			continue
		}

		if !isUsableEnvironmentFile(value) {
			logger.Warn("environment path is not an existing, readable file of sufficient size", "path", value)
			continue
		}

		result = append(result, Entry{Platform: platform, Path: value})
		seenPlatforms[platform] = true
	}

	return result
}

// isUsableEnvironmentFile reports whether path exists as a readable
// regular file of at least minEnvironmentFileSize bytes.
func isUsableEnvironmentFile(path string) bool {
	info, err := os.Lstat(path)
	if err != nil {
		return false
	}
	if !info.Mode().IsRegular() {
		return false
	}
	if info.Size() < minEnvironmentFileSize {
		return false
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	f.Close()
	return true
}

// splitNonEmpty splits s on sep, dropping empty tokens (the
// descriptor's delimiter-skipping rule: consecutive commas or a
// leading/trailing comma produce no empty entries).
func splitNonEmpty(s string, sep byte) []string {
	var tokens []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			if i > start {
				tokens = append(tokens, s[start:i])
			}
			start = i + 1
		}
	}
	if start < len(s) {
		tokens = append(tokens, s[start:])
	}
	return tokens
}

// RipPaths resolves a parsed entry sequence into the version and
// versionfile maps (§3), dropping entries whose path does not end in
// a recognized archive suffix. It also returns the (platform,
// version-id) sequence the broker's GET_CS request carries. An empty
// result is a fatal condition for the caller (error code 22).
func RipPaths(entries []Entry) (ripped []Entry, versionMap, versionFileMap map[string]string) {
	versionMap = make(map[string]string)
	versionFileMap = make(map[string]string)

	for _, e := range entries {
		suffix, ok := matchArchiveSuffix(e.Path)
		if !ok {
			continue
		}
		versionID := basenameWithoutSuffix(e.Path, suffix)
		versionMap[e.Platform] = versionID
		versionFileMap[e.Platform] = e.Path
		ripped = append(ripped, Entry{Platform: e.Platform, Path: versionID})
	}

	return ripped, versionMap, versionFileMap
}

func matchArchiveSuffix(path string) (string, bool) {
	for _, suffix := range archiveSuffixes {
		if strings.HasSuffix(path, suffix) {
			return suffix, true
		}
	}
	return "", false
}

func basenameWithoutSuffix(path, suffix string) string {
	base := path
	if slash := strings.LastIndexByte(base, '/'); slash >= 0 {
		base = base[slash+1:]
	}
	return strings.TrimSuffix(base, suffix)
}

// RequireNonEmpty returns error code 22 when ripped is empty, per
// §4.1 rule 3 and §4.6 step 3.
func RequireNonEmpty(ripped []Entry) error {
	if len(ripped) == 0 {
		return icerr.New(icerr.CodeNoUsableEnvironments, icerr.KindConfig,
			"ICECC_VERSION needs to point to usable .tar files")
	}
	return nil
}
