// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/icecc-go/driver/lib/broker"
	"github.com/icecc-go/driver/lib/compilejob"
	"github.com/icecc-go/driver/lib/environment"
	"github.com/icecc-go/driver/lib/icerr"
	"github.com/icecc-go/driver/lib/localfallback"
	"github.com/icecc-go/driver/lib/procrun"
	"github.com/icecc-go/driver/lib/protocol"
	"github.com/icecc-go/driver/lib/remotesession"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeBrokerChannel scripts the broker's GET_CS replies and records
// everything the orchestrator's replicas send through it. Access is
// serialized by broker.Client's own mutex, so the slice append below
// is never concurrent.
type fakeBrokerChannel struct {
	replies []protocol.Message
	sent    []protocol.Message
}

func (f *fakeBrokerChannel) SendMessage(msg protocol.Message, _ time.Time) error {
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeBrokerChannel) ReceiveMessage(_ time.Time) (protocol.Message, error) {
	if len(f.replies) == 0 {
		return protocol.Message{}, errors.New("no more scripted replies")
	}
	reply := f.replies[0]
	f.replies = f.replies[1:]
	return reply, nil
}

func loopbackAssignments(count int) []protocol.Message {
	replies := make([]protocol.Message, count)
	for i := 0; i < count; i++ {
		replies[i] = protocol.Message{Type: protocol.UseCS, Hostname: localfallback.LoopbackHostname, Port: 0, JobID: i}
	}
	return replies
}

type fakePreprocessor struct {
	source string
}

func (p *fakePreprocessor) Run(ctx context.Context, job compilejob.Job) (io.ReadCloser, func(), func() (int, error), error) {
	reader := io.NopCloser(strings.NewReader(p.source))
	return reader, func() {}, func() (int, error) { return 0, nil }, nil
}

// fakeLocalCompiler writes deterministic content to job.OutputFile
// keyed on job.JobID, so tests can control which replica (by index)
// mismatches or panics without depending on goroutine scheduling
// order.
type fakeLocalCompiler struct {
	mu            sync.Mutex
	mismatchJobID int
	panicJobID    int
}

func newFakeLocalCompiler() *fakeLocalCompiler {
	return &fakeLocalCompiler{mismatchJobID: -1, panicJobID: -1}
}

func (f *fakeLocalCompiler) Run(ctx context.Context, job compilejob.Job) (int, procrun.Usage, error) {
	f.mu.Lock()
	mismatch := f.mismatchJobID
	panicID := f.panicJobID
	f.mu.Unlock()

	if job.JobID == panicID {
		panic("simulated local compiler crash")
	}

	content := "object-bytes"
	if job.JobID == mismatch {
		content = "different-object-bytes"
	}
	if job.OutputFile != "" {
		os.WriteFile(job.OutputFile, []byte(content), 0o644)
	}
	return 0, procrun.Usage{CPUMillis: 10, PageFaults: 1}, nil
}

func tarballFixture(t *testing.T) string {
	t.Helper()
	path := t.TempDir() + "/gcc-12.tar.gz"
	if err := os.WriteFile(path, make([]byte, 600), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func newTestOrchestrator(replies []protocol.Message, compiler *fakeLocalCompiler) *Orchestrator {
	ch := &fakeBrokerChannel{replies: replies}
	brokerClient := broker.New(ch, discardLogger())
	preprocessor := &fakePreprocessor{source: "int main() {}"}
	var dial remotesession.Dialer
	return New(brokerClient, preprocessor, compiler, dial, discardLogger(), nil, remotesession.Options{})
}

func entriesWith(t *testing.T, platform string) []environment.Entry {
	return []environment.Entry{{Platform: platform, Path: tarballFixture(t)}}
}

func TestRunSinglePathLoopback(t *testing.T) {
	o := newTestOrchestrator(loopbackAssignments(1), newFakeLocalCompiler())
	job := compilejob.Job{InputFile: "foo.c", OutputFile: t.TempDir() + "/foo.o", TargetPlatform: "x86_64_linux"}

	exitCode, err := o.Run(context.Background(), job, entriesWith(t, "x86_64_linux"), 0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if exitCode != 0 {
		t.Errorf("exitCode = %d, want 0", exitCode)
	}
	if _, statErr := os.Stat(job.OutputFile); statErr != nil {
		t.Errorf("expected output file to exist: %v", statErr)
	}
}

func TestRunRedundantMatchingReplicas(t *testing.T) {
	o := newTestOrchestrator(loopbackAssignments(3), newFakeLocalCompiler())
	job := compilejob.Job{InputFile: "foo.c", OutputFile: t.TempDir() + "/foo.o", TargetPlatform: "x86_64_linux"}

	exitCode, err := o.Run(context.Background(), job, entriesWith(t, "x86_64_linux"), 1000)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if exitCode != 0 {
		t.Errorf("exitCode = %d, want 0 for matching replicas", exitCode)
	}
	if _, statErr := os.Stat(job.OutputFile); statErr != nil {
		t.Errorf("expected primary output to survive a matching comparison: %v", statErr)
	}
}

func TestRunRedundantDigestMismatch(t *testing.T) {
	compiler := newFakeLocalCompiler()
	compiler.mismatchJobID = 2
	o := newTestOrchestrator(loopbackAssignments(3), compiler)
	job := compilejob.Job{InputFile: "foo.c", OutputFile: t.TempDir() + "/foo.o", TargetPlatform: "x86_64_linux"}

	exitCode, err := o.Run(context.Background(), job, entriesWith(t, "x86_64_linux"), 1000)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if exitCode != -1 {
		t.Errorf("exitCode = %d, want -1 for a digest mismatch", exitCode)
	}
	if _, statErr := os.Stat(job.OutputFile); statErr == nil {
		t.Error("primary output should have been renamed away on mismatch")
	}
	if _, statErr := os.Stat(job.OutputFile + caughtSuffix); statErr != nil {
		t.Errorf("expected a .caught forensic copy of the primary output: %v", statErr)
	}
}

func TestRunRedundantMiscErrorFromPanickingReplica(t *testing.T) {
	compiler := newFakeLocalCompiler()
	compiler.panicJobID = 1
	o := newTestOrchestrator(loopbackAssignments(3), compiler)
	job := compilejob.Job{InputFile: "foo.c", OutputFile: t.TempDir() + "/foo.o", TargetPlatform: "x86_64_linux"}

	_, err := o.Run(context.Background(), job, entriesWith(t, "x86_64_linux"), 1000)
	if err == nil {
		t.Fatal("Run returned nil error after a replica panicked")
	}
	code, ok := icerr.CodeOf(err)
	if !ok || code != icerr.CodeMiscError {
		t.Errorf("CodeOf = (%d, %v), want (%d, true)", code, ok, icerr.CodeMiscError)
	}
	if _, statErr := os.Stat(job.OutputFile); statErr == nil {
		t.Error("primary output should have been cleaned up after a misc error")
	}
}

func TestRunNoUsableEnvironmentsFails(t *testing.T) {
	o := newTestOrchestrator(nil, newFakeLocalCompiler())
	job := compilejob.Job{InputFile: "foo.c", OutputFile: t.TempDir() + "/foo.o", TargetPlatform: "x86_64_linux"}

	_, err := o.Run(context.Background(), job, nil, 0)
	if err == nil {
		t.Fatal("Run returned nil error with an empty environment catalog")
	}
	code, ok := icerr.CodeOf(err)
	if !ok || code != icerr.CodeNoUsableEnvironments {
		t.Errorf("CodeOf = (%d, %v), want (%d, true)", code, ok, icerr.CodeNoUsableEnvironments)
	}
}

func TestDecideRedundancyExcludesClangAndStreaming(t *testing.T) {
	o := newTestOrchestrator(nil, newFakeLocalCompiler())

	if got := o.decideRedundancy(compilejob.Job{CompilerIsClang: true}, 1000); got != 1 {
		t.Errorf("decideRedundancy(clang) = %d, want 1", got)
	}
	if got := o.decideRedundancy(compilejob.Job{Streaming: true}, 1000); got != 1 {
		t.Errorf("decideRedundancy(streaming) = %d, want 1", got)
	}
	if got := o.decideRedundancy(compilejob.Job{}, 0); got != 1 {
		t.Errorf("decideRedundancy(permill=0) = %d, want 1", got)
	}
}
