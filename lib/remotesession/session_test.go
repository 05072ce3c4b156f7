// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remotesession

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/icecc-go/driver/lib/compilejob"
	"github.com/icecc-go/driver/lib/icerr"
	"github.com/icecc-go/driver/lib/protocol"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeChannel is an in-memory wireChannel driven by a scripted
// sequence of replies, recording every message sent.
type fakeChannel struct {
	sent    []protocol.Message
	replies []protocol.Message
	closed  bool
}

func (f *fakeChannel) SendMessage(msg protocol.Message, _ time.Time) error {
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeChannel) ReceiveMessage(_ time.Time) (protocol.Message, error) {
	if len(f.replies) == 0 {
		return protocol.Message{}, errors.New("no more scripted replies")
	}
	reply := f.replies[0]
	f.replies = f.replies[1:]
	return reply, nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func (f *fakeChannel) ByteCounters() (int64, int64, int64, int64) {
	return 0, 0, 0, 0
}

type fakeBlacklister struct {
	calls int
}

func (f *fakeBlacklister) BlacklistHostEnv(platform, version, hostname string) error {
	f.calls++
	return nil
}

type noopPreprocessor struct {
	source string
}

func (p *noopPreprocessor) Run(ctx context.Context, job compilejob.Job) (io.ReadCloser, func(), func() (int, error), error) {
	reader := io.NopCloser(strings.NewReader(p.source))
	return reader, func() {}, func() (int, error) { return 0, nil }, nil
}

func newSessionWithChannel(ch *fakeChannel, blacklist *fakeBlacklister, preprocessor *noopPreprocessor, opts Options) *Session {
	dial := func(hostname string, port int, timeout time.Duration) (wireChannel, error) {
		return ch, nil
	}
	return New(dial, blacklist, preprocessor, discardLogger(), nil, opts)
}

func TestRunSuccessCachedEnvironment(t *testing.T) {
	ch := &fakeChannel{
		replies: []protocol.Message{
			{Type: protocol.CompileResult, Status: 0},
			{Type: protocol.FileChunk, Data: []byte("object bytes")},
			{Type: protocol.End},
		},
	}
	blacklist := &fakeBlacklister{}
	preprocessor := &noopPreprocessor{source: "int main() {}"}
	session := newSessionWithChannel(ch, blacklist, preprocessor, Options{})

	job := compilejob.Job{InputFile: "foo.c", OutputFile: t.TempDir() + "/foo.o"}
	assignment := Assignment{Hostname: "cs1", Port: 10245, GotEnv: true, ServerProtocol: 33}

	result, err := session.Run(context.Background(), job, assignment, "gcc-12", "", "", true)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", result.ExitCode)
	}

	data, readErr := os.ReadFile(job.OutputFile)
	if readErr != nil {
		t.Fatalf("reading output: %v", readErr)
	}
	if string(data) != "object bytes" {
		t.Errorf("output = %q, want %q", data, "object bytes")
	}
	if !ch.closed {
		t.Error("channel was not closed")
	}
}

func TestRunVerifyNegativeBlacklistsAndFails(t *testing.T) {
	ch := &fakeChannel{
		replies: []protocol.Message{
			{Type: protocol.VerifyEnvResult, OK: false},
		},
	}
	blacklist := &fakeBlacklister{}
	preprocessor := &noopPreprocessor{source: "int main() {}"}
	session := newSessionWithChannel(ch, blacklist, preprocessor, Options{})

	job := compilejob.Job{InputFile: "foo.c", OutputFile: t.TempDir() + "/foo.o"}
	assignment := Assignment{Hostname: "cs2", Port: 10245, GotEnv: false, ServerProtocol: 33}

	_, err := session.Run(context.Background(), job, assignment, "gcc-12", tarballFixture(t), "", true)
	if err == nil {
		t.Fatal("Run returned nil error for a negative VERIFY_ENV_RESULT")
	}
	code, ok := icerr.CodeOf(err)
	if !ok || code != icerr.CodeVerifyFailed {
		t.Errorf("CodeOf = (%d, %v), want (%d, true)", code, ok, icerr.CodeVerifyFailed)
	}
	if blacklist.calls != 1 {
		t.Errorf("BlacklistHostEnv called %d times, want 1", blacklist.calls)
	}
}

func TestRunOutOfMemoryIsRetryable(t *testing.T) {
	ch := &fakeChannel{
		replies: []protocol.Message{
			{Type: protocol.CompileResult, Status: 137, WasOutOfMemory: true},
		},
	}
	blacklist := &fakeBlacklister{}
	preprocessor := &noopPreprocessor{source: "int main() {}"}
	session := newSessionWithChannel(ch, blacklist, preprocessor, Options{})

	job := compilejob.Job{InputFile: "foo.c", OutputFile: t.TempDir() + "/foo.o"}
	assignment := Assignment{Hostname: "cs3", Port: 10245, GotEnv: true, ServerProtocol: 33}

	_, err := session.Run(context.Background(), job, assignment, "gcc-12", "", "", true)
	if err == nil {
		t.Fatal("Run returned nil error for an out-of-memory result")
	}
	if !icerr.IsRetryable(err) {
		t.Errorf("IsRetryable(%v) = false, want true", err)
	}
}

func TestRunUnverifiedStrictGateFails(t *testing.T) {
	ch := &fakeChannel{}
	blacklist := &fakeBlacklister{}
	preprocessor := &noopPreprocessor{source: "int main() {}"}
	session := newSessionWithChannel(ch, blacklist, preprocessor, Options{IgnoreUnverifiedHosts: false})

	job := compilejob.Job{InputFile: "foo.c", OutputFile: t.TempDir() + "/foo.o"}
	assignment := Assignment{Hostname: "cs4", Port: 10245, GotEnv: true, ServerProtocol: 28}

	_, err := session.Run(context.Background(), job, assignment, "gcc-12", "", "", true)
	if err == nil {
		t.Fatal("Run returned nil error for an unverified, non-strict-exempt host")
	}
	code, ok := icerr.CodeOf(err)
	if !ok || code != icerr.CodeUnverifiedStrict {
		t.Errorf("CodeOf = (%d, %v), want (%d, true)", code, ok, icerr.CodeUnverifiedStrict)
	}
}

func TestRunStatusTextDuringAwaitResultSurfacesAsRemoteError(t *testing.T) {
	ch := &fakeChannel{
		replies: []protocol.Message{
			{Type: protocol.StatusText, Text: "scheduler is shutting down"},
		},
	}
	blacklist := &fakeBlacklister{}
	preprocessor := &noopPreprocessor{source: "int main() {}"}
	session := newSessionWithChannel(ch, blacklist, preprocessor, Options{})

	job := compilejob.Job{InputFile: "foo.c", OutputFile: t.TempDir() + "/foo.o"}
	assignment := Assignment{Hostname: "cs5", Port: 10245, GotEnv: true, ServerProtocol: 33}

	_, err := session.Run(context.Background(), job, assignment, "gcc-12", "", "", true)
	if err == nil {
		t.Fatal("Run returned nil error for a STATUS_TEXT in place of COMPILE_RESULT")
	}
	code, ok := icerr.CodeOf(err)
	if !ok || code != icerr.CodeRemoteStatus {
		t.Errorf("CodeOf = (%d, %v), want (%d, true)", code, ok, icerr.CodeRemoteStatus)
	}
}

func tarballFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := dir + "/gcc-12.tar.gz"
	if err := os.WriteFile(path, make([]byte, 600), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}
