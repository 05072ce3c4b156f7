// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package localfallback

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/icecc-go/driver/lib/broker"
	"github.com/icecc-go/driver/lib/compilejob"
	"github.com/icecc-go/driver/lib/icerr"
	"github.com/icecc-go/driver/lib/procrun"
)

// testRemoteBuildEnvVar, when set together with a non-zero assigned
// port, disables the loopback shortcut so test harnesses can exercise
// the remote session path against a local peer (§4.5 exception).
const testRemoteBuildEnvVar = "ICECC_TEST_REMOTEBUILD"

// LoopbackHostname is the address the broker uses to mean "build it
// yourself."
const LoopbackHostname = "127.0.0.1"

// jobDoneClient is the subset of *broker.Client the probe needs.
type jobDoneClient interface {
	CompileFile(job compilejob.Job) error
	JobDone(jobID int, stats broker.JobDoneStats) error
}

// Applies reports whether assignment should be handled by the
// loopback shortcut rather than a real remote session.
func Applies(assignment broker.Assignment) bool {
	if assignment.Hostname != LoopbackHostname {
		return false
	}
	if os.Getenv(testRemoteBuildEnvVar) != "" && assignment.Port != 0 {
		return false
	}
	return true
}

// Run executes job locally, announcing it to the broker both before
// and after, and reports resource-usage statistics for the broker's
// scheduling heuristics (§4.5).
func Run(ctx context.Context, client jobDoneClient, compiler procrun.LocalCompiler, job compilejob.Job, jobID int, logger *slog.Logger) (int, error) {
	if err := client.CompileFile(job); err != nil {
		return 0, icerr.Wrap(icerr.CodeLocalAnnounceFailed, icerr.KindLocal, "announcing local-fallback job to broker", err)
	}

	start := time.Now()
	exitCode, usage, err := compiler.Run(ctx, job)
	if err != nil {
		return 0, icerr.Wrap(icerr.CodeLocalAnnounceFailed, icerr.KindLocal, "running local compiler", err)
	}
	realMillis := time.Since(start).Milliseconds()

	outputSize := fileSize(job.OutputFile)
	if job.SplitDebug {
		outputSize += fileSize(job.DwoPath())
	}

	stats := broker.JobDoneStats{
		RealMillis: realMillis,
		CPUMillis:  usage.CPUMillis,
		PageFaults: usage.PageFaults,
		OutputSize: outputSize,
		ExitCode:   exitCode,
	}
	if err := client.JobDone(jobID, stats); err != nil {
		logger.Warn("failed to report local-fallback completion to broker", "error", err)
	}

	return exitCode, nil
}

func fileSize(path string) int64 {
	if path == "" {
		return 0
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
