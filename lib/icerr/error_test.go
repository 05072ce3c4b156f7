// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package icerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestNewErrorMessage(t *testing.T) {
	err := New(CodeNoUseCS, KindConnect, "no suitable host found")
	want := "error 1 - no suitable host found"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestWrapIncludesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(CodeConnectFailed, KindConnect, "can't connect to scheduler", cause)

	if !errors.Is(err, cause) {
		t.Error("errors.Is does not see through Wrap's Unwrap")
	}
	got := err.Error()
	if !containsAll(got, "error 2", "can't connect to scheduler", "connection refused") {
		t.Errorf("Error() = %q, want all three substrings", got)
	}
}

func TestErrorsAsExtractsCode(t *testing.T) {
	err := fmt.Errorf("dispatch failed: %w", New(CodeSendCompileFile, KindIO, "send failed"))

	var buildErr *Error
	if !errors.As(err, &buildErr) {
		t.Fatal("errors.As failed to find *Error in chain")
	}
	if buildErr.Code != CodeSendCompileFile {
		t.Errorf("Code = %d, want %d", buildErr.Code, CodeSendCompileFile)
	}
}

func TestCodeOfWalksWrappedChain(t *testing.T) {
	inner := New(CodeOutOfMemory, KindRetryable, "remote ran out of memory")
	outer := fmt.Errorf("replica 1: %w", inner)

	code, ok := CodeOf(outer)
	if !ok || code != CodeOutOfMemory {
		t.Errorf("CodeOf = (%d, %v), want (%d, true)", code, ok, CodeOutOfMemory)
	}
}

func TestCodeOfUnrelatedErrorReturnsFalse(t *testing.T) {
	_, ok := CodeOf(errors.New("plain error"))
	if ok {
		t.Error("CodeOf on a plain error returned ok=true")
	}
}

func TestIsRetryableOnlyForOutOfMemoryAndWorkaroundCodes(t *testing.T) {
	cases := []struct {
		code int
		want bool
	}{
		{CodeOutOfMemory, true},
		{CodeOutputWorkaround, true},
		{CodeNoUseCS, false},
		{CodeVerifyFailed, false},
	}

	for _, tc := range cases {
		err := New(tc.code, KindRemote, "x")
		if got := IsRetryable(err); got != tc.want {
			t.Errorf("IsRetryable(code=%d) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !contains(s, sub) {
			return false
		}
	}
	return true
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
