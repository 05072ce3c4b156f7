// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package procrun

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/icecc-go/driver/lib/compilejob"
)

// Preprocessor runs the platform preprocessor (call_cpp in the
// original) for a Job, streaming its output to the caller rather than
// a file, so the remote session can pipe it straight to a FILE_CHUNK
// stream. Out of scope per §1: implementations do not classify
// compiler flags, they only invoke the already-classified Job.
type Preprocessor interface {
	// Run starts the preprocessor for job and returns a reader for its
	// stdout, a terminate function that signals the process (SIGTERM on the
	// streaming-failure path of §4.4 step 5), and a wait function that
	// blocks for exit and returns the shell-convention exit status.
	Run(ctx context.Context, job compilejob.Job) (stdout io.ReadCloser, terminate func(), wait func() (int, error), err error)
}

// LocalCompiler runs the compiler directly on this host, used by the
// local fallback probe (C5) and by cmd/icecc-run's local recompile
// after a retryable remote error.
type LocalCompiler interface {
	// Run executes job locally and returns the shell-convention exit
	// status plus resource usage accounted for JOB_DONE reporting.
	Run(ctx context.Context, job compilejob.Job) (exitCode int, usage Usage, err error)
}

// Usage is the resource accounting the local fallback probe reports
// to the broker in a JOB_DONE(from_submitter) message (§4.5).
type Usage struct {
	CPUMillis  int64
	PageFaults int64
}

// ExecPreprocessor is the default os/exec-based Preprocessor. Command
// is the preprocessor binary (e.g. "cc", "clang"); it is invoked with
// "-E", then the job's argument, remote and rest flags, then the
// input file.
type ExecPreprocessor struct {
	Command string
}

// Run invokes Command with "-E" and the job's flag sets, directing
// its stdout to a pipe the caller reads incrementally.
func (p *ExecPreprocessor) Run(ctx context.Context, job compilejob.Job) (io.ReadCloser, func(), func() (int, error), error) {
	args := []string{"-E"}
	args = append(args, job.ArgumentFlags...)
	args = append(args, job.RemoteFlags...)
	args = append(args, job.RestFlags...)
	args = append(args, job.InputFile)

	cmd := exec.CommandContext(ctx, p.Command, args...)
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, nil, err
	}

	terminate := func() {
		if cmd.Process != nil {
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
		}
	}

	wait := func() (int, error) {
		err := cmd.Wait()
		if err == nil {
			return 0, nil
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return -1, err
	}

	return stdout, terminate, wait, nil
}

// ExecLocalCompiler is the default os/exec-based LocalCompiler.
// Command is the compiler binary.
type ExecLocalCompiler struct {
	Command string
}

// Run compiles job locally, capturing resource usage for the process
// via golang.org/x/sys/unix.Getrusage (mirrors the original's
// getrusage(RUSAGE_CHILDREN, ...) accounting).
func (c *ExecLocalCompiler) Run(ctx context.Context, job compilejob.Job) (int, Usage, error) {
	args := append(append(append([]string{}, job.ArgumentFlags...), job.RemoteFlags...), job.RestFlags...)
	args = append(args, "-c", job.InputFile, "-o", job.OutputFile)

	cmd := exec.CommandContext(ctx, c.Command, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	err := cmd.Run()

	usage := rusageSince()

	if err == nil {
		return 0, usage, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), usage, nil
	}
	return -1, usage, err
}

// rusageSince reads RUSAGE_CHILDREN, the cumulative resource usage of
// all terminated child processes. It is a coarse approximation of the
// original's per-compile rusage snapshot: the totals also include
// every earlier child of this process (such as the preprocessor) and
// the compilers of other replicas that ran concurrently.
func rusageSince() Usage {
	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_CHILDREN, &ru); err != nil {
		return Usage{}
	}
	cpuMillis := (ru.Utime.Sec+ru.Stime.Sec)*1000 + (ru.Utime.Usec+ru.Stime.Usec)/1000
	pageFaults := ru.Majflt + ru.Minflt + ru.Nswap
	return Usage{CPUMillis: cpuMillis, PageFaults: pageFaults}
}
