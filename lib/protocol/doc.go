// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package protocol defines the wire message set (§4.8 of the build
// driver's specification) exchanged over the local broker channel and
// the compile-server channel. Every message is carried by the single
// discriminated Message type; callers switch on Type rather than
// downcasting, since Go has no dynamic-downcast idiom to mirror the
// original C++ message hierarchy.
package protocol
