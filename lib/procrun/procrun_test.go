// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package procrun

import (
	"context"
	"io"
	"testing"

	"github.com/icecc-go/driver/lib/compilejob"
)

func TestExecPreprocessorStreamsStdout(t *testing.T) {
	// "/bin/echo" stands in for a preprocessor binary: it needs no real
	// input file, it just echoes its arguments ("-E" is an echo option,
	// so "hello") as bytes on stdout.
	p := &ExecPreprocessor{Command: "/bin/echo"}

	job := compilejob.Job{InputFile: "hello"}
	stdout, terminate, wait, err := p.Run(context.Background(), job)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	defer terminate()

	data, err := io.ReadAll(stdout)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(data) == 0 {
		t.Error("preprocessor produced no output")
	}

	exitCode, err := wait()
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if exitCode != 0 {
		t.Errorf("exitCode = %d, want 0", exitCode)
	}
}

func TestExecPreprocessorNonzeroExit(t *testing.T) {
	p := &ExecPreprocessor{Command: "/bin/false"}

	job := compilejob.Job{InputFile: "hello"}
	_, terminate, wait, err := p.Run(context.Background(), job)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	defer terminate()

	exitCode, err := wait()
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if exitCode == 0 {
		t.Error("exitCode = 0, want nonzero for /bin/false")
	}
}

func TestExecLocalCompilerZeroExitOnSuccess(t *testing.T) {
	c := &ExecLocalCompiler{Command: "/bin/true"}

	job := compilejob.Job{InputFile: "hello.c", OutputFile: "/tmp/does-not-matter.o"}
	exitCode, _, err := c.Run(context.Background(), job)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if exitCode != 0 {
		t.Errorf("exitCode = %d, want 0", exitCode)
	}
}
