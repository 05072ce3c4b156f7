// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remotesession

import (
	"fmt"
	"time"

	"github.com/icecc-go/driver/lib/channel"
)

// ChannelDialer returns a Dialer backed by a real TCP connection to
// the compile server, via package channel's length-prefixed CBOR
// framing. Production callers (cmd/icecc-run) use this; tests inject
// their own Dialer against an in-memory fake.
func ChannelDialer() Dialer {
	return func(hostname string, port int, timeout time.Duration) (wireChannel, error) {
		address := fmt.Sprintf("%s:%d", hostname, port)
		return channel.Dial("tcp", address, timeout)
	}
}
