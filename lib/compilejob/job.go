// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package compilejob

// Job describes one compilation as the remote build driver sees it.
// The CLI builds a Job from explicit flags; nothing in this package
// parses a gcc/clang command line.
type Job struct {
	// JobID is assigned by the broker's USE_CS reply. Zero until then.
	JobID int

	// InputFile is the source (or already-preprocessed) file path.
	InputFile string

	// OutputFile is the destination object file path. Empty when
	// Streaming is set, since output then goes to stdout.
	OutputFile string

	// TargetPlatform is the compiler's target tag (e.g. "x86_64_linux").
	TargetPlatform string

	// Language is the source language tag ("c", "c++", ...).
	Language string

	// ArgumentFlags are flags the scheduler uses to match compile
	// servers capable of handling this job (e.g. -m32, -march=).
	ArgumentFlags []string

	// RemoteFlags are flags passed to the compiler on the remote side.
	RemoteFlags []string

	// RestFlags are flags that affect neither scheduling nor the
	// remote invocation but are still part of the job's identity key.
	RestFlags []string

	// Streaming indicates stdin/stdout pipe mode instead of file I/O.
	Streaming bool

	// SplitDebug indicates an additional ".dwo" companion output.
	SplitDebug bool

	// EnvironmentVersion is the resolved version id, assigned during
	// remote dispatch (§4.6 of the build driver's specification).
	EnvironmentVersion string

	// CompilerIsClang excludes this job from the N-way redundancy
	// gate (§4.6 decision step 2): only GCC-family compilers are
	// promoted to triple redundancy.
	CompilerIsClang bool
}

// Clone returns a deep copy suitable for per-replica mutation (the
// redundant path gives each replica its own OutputFile and appends a
// random-seed flag to RemoteFlags without disturbing the original).
func (j Job) Clone() Job {
	clone := j
	clone.ArgumentFlags = append([]string(nil), j.ArgumentFlags...)
	clone.RemoteFlags = append([]string(nil), j.RemoteFlags...)
	clone.RestFlags = append([]string(nil), j.RestFlags...)
	return clone
}

// DwoPath returns the split-debug companion path for OutputFile:
// the output path with its last extension replaced by ".dwo".
func (j Job) DwoPath() string {
	return dwoFor(j.OutputFile)
}

func dwoFor(outputFile string) string {
	dot := lastDot(outputFile)
	if dot < 0 {
		return outputFile + ".dwo"
	}
	return outputFile[:dot] + ".dwo"
}

func lastDot(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '.' {
			return i
		}
		if s[i] == '/' {
			break
		}
	}
	return -1
}
