// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remotesession

import (
	"fmt"
	"os"
	"time"

	"github.com/icecc-go/driver/lib/compilejob"
	"github.com/icecc-go/driver/lib/icerr"
	"github.com/icecc-go/driver/lib/protocol"
)

// awaitResult reads the compile server's reply after END, applying
// the failure-check pattern and rejecting any message type other
// than COMPILE_RESULT (§4.4 step 7).
func (s *Session) awaitResult(ch wireChannel) (*Result, error) {
	msg, err := ch.ReceiveMessage(time.Now().Add(compileResultTimeout))
	if err != nil {
		return nil, icerr.Wrap(icerr.CodeResultTimeout, icerr.KindProtocol, "waiting for compile result", err)
	}
	if err := checkStatusText(msg); err != nil {
		return nil, err
	}
	if msg.Type != protocol.CompileResult {
		return nil, icerr.New(icerr.CodeUnexpectedMessageType, icerr.KindProtocol,
			"expected COMPILE_RESULT, got a different message type after END")
	}

	result := &Result{ExitCode: msg.Status, Stdout: msg.Stdout, Stderr: msg.Stderr, HaveDwoFile: msg.HaveDwoFile}
	s.lastWasOutOfMemory = msg.WasOutOfMemory
	return result, nil
}

// checkPolicy implements §4.4 step 8: out-of-memory and
// stdout/stderr-workaround results are remote-errors that ask the
// caller to recompile locally rather than surface a user-visible
// failure.
func (s *Session) checkPolicy(job compilejob.Job, result *Result, emitOutput bool) error {
	if result.ExitCode != 0 && s.lastWasOutOfMemory {
		return icerr.New(icerr.CodeOutOfMemory, icerr.KindRetryable,
			fmt.Sprintf("compile server %s ran out of memory", s.hostname))
	}
	if emitOutput && s.opts.NeedsOutputWorkaround != nil && s.opts.NeedsOutputWorkaround(job, result.Stdout, result.Stderr) {
		return icerr.New(icerr.CodeOutputWorkaround, icerr.KindRetryable,
			"remote compiler output needs a local workaround")
	}
	return nil
}

// emit writes the compiler's captured stdout/stderr to the
// submitter's terminal and announces the remote host on failure
// (§4.4 step 8). s.term (lib/termstyle, wired from cmd/icecc-run)
// renders the host announcement; when s.term is nil the failure is
// only logged. The captured stderr is written through unstyled.
func (s *Session) emit(result *Result) {
	if len(result.Stdout) > 0 {
		os.Stdout.Write(result.Stdout)
	}
	if len(result.Stderr) > 0 {
		os.Stderr.Write(result.Stderr)
	}
	if result.ExitCode != 0 {
		s.logger.Info("remote compile failed", "hostname", s.hostname, "exit_code", result.ExitCode)
		if s.term != nil {
			s.term.AnnounceHost(s.hostname, fmt.Sprintf("remote compile failed with exit code %d", result.ExitCode))
		}
	}
}
