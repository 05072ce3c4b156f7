// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package termstyle renders the remote build driver's stderr
// diagnostics (remote-host announcements, STATUS_TEXT lines, the
// driver's own error lines) as styled terminal output; a compiler's
// captured stderr is not restyled. Styling is gated on
// golang.org/x/term reporting stderr as a real terminal. Unlike the
// teacher's lib/ticketui, there is no interactive screen here: every
// call is a one-shot Render, not a Bubble Tea program.
package termstyle
