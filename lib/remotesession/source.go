// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remotesession

import (
	"context"
	"os"

	"github.com/icecc-go/driver/lib/compilejob"
	"github.com/icecc-go/driver/lib/icerr"
)

// deliverSource implements the three source-delivery modes of §4.4
// step 5. When the local preprocessor exits non-zero, exitEarly is
// true and status carries its exit code — the caller returns that
// status without attempting a remote compile.
func (s *Session) deliverSource(ctx context.Context, ch wireChannel, job compilejob.Job, preprocessedPath string) (exitEarly bool, status int, err error) {
	switch {
	case job.Streaming:
		if err := s.streamReader(ch, os.Stdin); err != nil {
			return false, 0, err
		}
		return false, 0, nil

	case preprocessedPath != "":
		f, openErr := os.Open(preprocessedPath)
		if openErr != nil {
			return false, 0, icerr.Wrap(icerr.CodeOpenPreprocessedFile, icerr.KindIO, "opening pre-preprocessed file", openErr)
		}
		defer f.Close()
		if err := s.streamReader(ch, f); err != nil {
			return false, 0, err
		}
		return false, 0, nil

	default:
		return s.deliverViaPreprocessor(ctx, ch, job)
	}
}

// deliverViaPreprocessor forks the local preprocessor, streams its
// stdout to the compile server, and waits for it to exit. A non-zero
// preprocessor exit short-circuits the session: the caller returns
// that status without attempting any remote compile, and the channel
// is discarded cleanly by Run's deferred Close.
func (s *Session) deliverViaPreprocessor(ctx context.Context, ch wireChannel, job compilejob.Job) (exitEarly bool, status int, err error) {
	stdout, terminate, wait, startErr := s.preprocessor.Run(ctx, job)
	if startErr != nil {
		return false, 0, icerr.Wrap(icerr.CodeForkPreprocessorAlt, icerr.KindLocal, "starting local preprocessor", startErr)
	}

	streamErr := s.streamReader(ch, stdout)
	if streamErr != nil {
		terminate()
		wait()
		return false, 0, streamErr
	}

	exitCode, waitErr := wait()
	if waitErr != nil {
		return false, 0, icerr.Wrap(icerr.CodeForkPreprocessorAlt, icerr.KindLocal, "waiting for local preprocessor", waitErr)
	}
	if exitCode != 0 {
		return true, exitCode, nil
	}
	return false, 0, nil
}
