// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/icecc-go/driver/lib/broker"
	"github.com/icecc-go/driver/lib/compilejob"
	"github.com/icecc-go/driver/lib/digest"
	"github.com/icecc-go/driver/lib/icerr"
)

// skippedReplicaStatus is the sentinel the original reserves for "this
// replica never got to run"; treated as an acceptable miscellaneous
// failure during comparison (§4.6 step 6).
const skippedReplicaStatus = 42

// caughtSuffix marks artifacts kept for forensic inspection after a
// digest mismatch (§4.6 step 6, invariant 3's documented exception).
const caughtSuffix = ".caught"

type replicaResult struct {
	ExitCode   int
	OutputPath string
	Hostname   string
	Panic      bool  // this replica's goroutine panicked (recovered as misc_error)
	Failed     bool  // non-primary session failure, acceptable per §9 design note
	Err        error // only ever set on the primary (index 0)
}

// runRedundant implements the N-way redundant path of §4.6.
func (o *Orchestrator) runRedundant(ctx context.Context, job compilejob.Job, versionMap, versionFileMap map[string]string, torepeat int) (int, error) {
	ixPath, preprocessExit, err := o.preprocessOnce(ctx, job)
	if err != nil {
		return 0, err
	}
	if preprocessExit != 0 {
		os.Remove(ixPath)
		return preprocessExit, nil
	}
	defer os.Remove(ixPath)

	job.RemoteFlags = append(append([]string{}, job.RemoteFlags...), fmt.Sprintf("-frandom-seed=%d", o.rng.Int31()))

	assignments, err := o.broker.GetCS(job, torepeat, o.preferredHost(), o.minimalRemoteVersion())
	if err != nil {
		return 0, err
	}

	versionID := versionMap[job.TargetPlatform]
	tarballPath := versionFileMap[job.TargetPlatform]

	results := make([]replicaResult, torepeat)
	var wg sync.WaitGroup
	for i := 0; i < torepeat; i++ {
		wg.Add(1)
		go o.runReplica(ctx, &wg, results, i, job, assignments[i], versionID, tarballPath, ixPath)
	}
	wg.Wait()

	if results[0].Err != nil {
		o.cleanupAll(results, job)
		return 0, results[0].Err
	}
	for _, r := range results {
		if r.Panic {
			o.cleanupAll(results, job)
			return 0, errMiscError
		}
	}

	return o.compare(results, job, ixPath)
}

// preprocessOnce runs the local preprocessor once, into a temp file,
// for the redundant path's shared source (§4.6 step 1).
func (o *Orchestrator) preprocessOnce(ctx context.Context, job compilejob.Job) (ixPath string, exitCode int, err error) {
	tmp, createErr := os.CreateTemp("", "icecc-*.ix")
	if createErr != nil {
		return "", 0, icerr.Wrap(icerr.CodeForkPreprocessor, icerr.KindLocal, "creating preprocessed-source temp file", createErr)
	}
	ixPath = tmp.Name()

	stdout, terminate, wait, runErr := o.preprocessor.Run(ctx, job)
	if runErr != nil {
		tmp.Close()
		return ixPath, 0, icerr.Wrap(icerr.CodeForkPreprocessor, icerr.KindLocal, "starting local preprocessor", runErr)
	}

	_, copyErr := io.Copy(tmp, stdout)
	tmp.Close()
	if copyErr != nil {
		terminate()
		wait()
		return ixPath, 0, icerr.Wrap(icerr.CodeSourceWrite, icerr.KindIO, "writing preprocessed source", copyErr)
	}

	exitCode, waitErr := wait()
	if waitErr != nil {
		return ixPath, 0, icerr.Wrap(icerr.CodeForkPreprocessorAlt, icerr.KindLocal, "waiting for local preprocessor", waitErr)
	}
	return ixPath, exitCode, nil
}

// runReplica is the per-replica goroutine body (§4.6 step 4, §4.10).
// A deferred recover() converts a panic into a Panic result, the Go
// analogue of the parent observing WIFSIGNALED.
func (o *Orchestrator) runReplica(ctx context.Context, wg *sync.WaitGroup, results []replicaResult, i int, job compilejob.Job, assignment broker.Assignment, versionID, tarballPath, ixPath string) {
	defer wg.Done()

	replicaJob := job.Clone()
	outputPath := job.OutputFile
	if i > 0 {
		outputPath = freshTempObjectPath()
		replicaJob.OutputFile = outputPath
	}

	defer func() {
		if recover() != nil {
			results[i] = replicaResult{Panic: true, OutputPath: outputPath}
		}
	}()
	replicaJob.EnvironmentVersion = versionID
	replicaJob.JobID = assignment.JobID

	exitCode, err := o.dispatchReplica(ctx, replicaJob, assignment, versionID, tarballPath, ixPath, i == 0)
	if err != nil {
		if i == 0 {
			results[i] = replicaResult{Err: err, OutputPath: outputPath, Hostname: assignment.Hostname}
			return
		}
		results[i] = replicaResult{Failed: true, OutputPath: outputPath, Hostname: assignment.Hostname}
		return
	}

	results[i] = replicaResult{ExitCode: exitCode, OutputPath: outputPath, Hostname: assignment.Hostname}
}

// compare implements §4.6 step 6: digest-compare replica 0's object
// against every other successful replica, renaming to forensic
// .caught files on a mismatch.
func (o *Orchestrator) compare(results []replicaResult, job compilejob.Job, ixPath string) (int, error) {
	primary := results[0]
	finalStatus := primary.ExitCode

	if primary.ExitCode == 0 {
		primaryDigest := digest.ForFile(primary.OutputPath)
		aborted := false

		for i := 1; i < len(results) && !aborted; i++ {
			r := results[i]
			if r.Failed || r.ExitCode == skippedReplicaStatus {
				continue
			}
			if r.ExitCode != 0 {
				o.logger.Error("redundant replica mismatch: non-zero status where primary succeeded",
					"primary_host", primary.Hostname, "replica_host", r.Hostname, "replica_status", r.ExitCode)
				os.Remove(primary.OutputPath)
				if job.SplitDebug {
					os.Remove(job.DwoPath())
				}
				finalStatus = -1
				aborted = true
				continue
			}

			replicaDigest := digest.ForFile(r.OutputPath)
			if !digest.Equal(primaryDigest, replicaDigest) {
				o.logger.Error("redundant replica digest mismatch",
					"primary_host", primary.Hostname, "primary_digest", primaryDigest,
					"replica_host", r.Hostname, "replica_digest", replicaDigest)
				renameToCaught(primary.OutputPath)
				renameToCaught(ixPath)
				if job.SplitDebug {
					renameToCaught(job.DwoPath())
				}
				finalStatus = -1
				aborted = true
				continue
			}

			os.Remove(r.OutputPath)
		}
	}

	for i := 1; i < len(results); i++ {
		os.Remove(results[i].OutputPath)
	}

	return finalStatus, nil
}

// cleanupAll removes every replica's output artifact after a misc
// error or primary failure aborts the build entirely (§4.6 step 7).
func (o *Orchestrator) cleanupAll(results []replicaResult, job compilejob.Job) {
	os.Remove(job.OutputFile)
	if job.SplitDebug {
		os.Remove(job.DwoPath())
	}
	for _, r := range results {
		if r.OutputPath != "" {
			os.Remove(r.OutputPath)
		}
	}
}

// freshTempObjectPath reserves a unique path for a non-primary
// replica's object file (§4.6 step 4: "a fresh icecc-XXXX.o temp
// path").
func freshTempObjectPath() string {
	tmp, err := os.CreateTemp("", "icecc-*.o")
	if err != nil {
		return ""
	}
	path := tmp.Name()
	tmp.Close()
	return path
}

// renameToCaught preserves path for forensic recovery by renaming it
// to path+".caught" (§4.6 step 6, invariant 3). Best-effort: a
// missing source file is not itself an error at this point.
func renameToCaught(path string) {
	if path == "" {
		return
	}
	if _, err := os.Stat(path); err != nil {
		return
	}
	os.Rename(path, path+caughtSuffix)
}
