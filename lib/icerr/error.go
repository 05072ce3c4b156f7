// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package icerr

import "fmt"

// Kind classifies an Error for the propagation policy: retryable
// errors ask the caller to recompile locally, everything else
// propagates to the user unchanged.
type Kind string

const (
	KindLocal        Kind = "local"
	KindConnect      Kind = "connect"
	KindProtocol     Kind = "protocol"
	KindIO           Kind = "io"
	KindConfig       Kind = "config"
	KindRemote       Kind = "remote"
	KindVerify       Kind = "verify"
	KindPolicy       Kind = "policy"
	KindOrchestrator Kind = "orchestrator"
	KindRetryable    Kind = "retryable"
)

// Error is a structured failure from the build driver. Callers can
// use errors.As to extract the code and kind:
//
//	var buildErr *Error
//	if errors.As(err, &buildErr) {
//	    if buildErr.Code == CodeOutOfMemory { ... }
//	}
type Error struct {
	Code    int
	Kind    Kind
	Message string
	// Wrapped is the underlying cause, if any. Unwrap exposes it so
	// errors.Is/errors.As see through this type.
	Wrapped error
}

func (e *Error) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("error %d - %s: %v", e.Code, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("error %d - %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Wrapped
}

// New creates an Error with no wrapped cause.
func New(code int, kind Kind, message string) *Error {
	return &Error{Code: code, Kind: kind, Message: message}
}

// Wrap creates an Error wrapping cause, appending cause's message to
// the human-readable text.
func Wrap(code int, kind Kind, message string, cause error) *Error {
	return &Error{Code: code, Kind: kind, Message: message, Wrapped: cause}
}

// Well-known codes from the build driver's error taxonomy (§7).
const (
	CodeNoUseCS               = 1
	CodeConnectFailed         = 2
	CodeStatVersionFile       = 4
	CodeOpenVersionFile       = 5
	CodeSendEnvironment       = 6
	CodeSendEnvironmentEnd    = 8
	CodeSendCompileFile       = 9
	CodeForkPreprocessor      = 10
	CodeOpenPreprocessedFile  = 11
	CodeSendEnd               = 12
	CodeUnexpectedMessageType = 13
	CodeResultTimeout         = 14
	CodeSourceWrite           = 15
	CodeSourceRead            = 16
	CodeSendVerifyEnv         = 17
	CodeForkPreprocessorAlt   = 18
	CodeArtifactNetwork       = 19
	CodeArtifactUnexpected    = 20
	CodeArtifactWrite         = 21
	CodeNoUsableEnvironments  = 22
	CodeRemoteStatus          = 23
	CodeVerifyFailed          = 24
	CodeVerifyMissing         = 25
	CodeUnverifiedStrict      = 26
	CodeMiscError             = 27
	CodeLocalAnnounceFailed   = 29
	CodeArtifactFinalize      = 30
	CodeArtifactFinalizeAlt   = 31
	CodeOutOfMemory           = 101
	CodeOutputWorkaround      = 102
)

// IsRetryable reports whether err is a retryable remote-error (code
// 101 or 102): the caller should recompile locally instead of
// surfacing the error to the user.
func IsRetryable(err error) bool {
	code, ok := CodeOf(err)
	return ok && (code == CodeOutOfMemory || code == CodeOutputWorkaround)
}

// CodeOf extracts the numeric code from err, if it is (or wraps) an
// *Error.
func CodeOf(err error) (int, bool) {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Code, true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = unwrapper.Unwrap()
	}
	return 0, false
}
