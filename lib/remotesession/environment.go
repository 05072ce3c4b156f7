// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remotesession

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/icecc-go/driver/lib/icerr"
	"github.com/icecc-go/driver/lib/protocol"
)

// transferEnvironment streams the environment tarball to the compile
// server as a sequence of FILE_CHUNK messages followed by END (§4.4
// step 2).
func (s *Session) transferEnvironment(ch wireChannel, platform, version, tarballPath string) error {
	if err := ch.SendMessage(protocol.Message{Type: protocol.EnvTransfer, Platform: platform, Version: version}, time.Now().Add(chunkTimeout)); err != nil {
		return icerr.Wrap(icerr.CodeSendEnvironment, icerr.KindProtocol, "sending ENV_TRANSFER", err)
	}

	f, err := os.Open(tarballPath)
	if err != nil {
		return icerr.Wrap(icerr.CodeOpenVersionFile, icerr.KindIO, "opening environment tarball", err)
	}
	defer f.Close()

	if err := s.streamReader(ch, f); err != nil {
		return err
	}

	if err := ch.SendMessage(protocol.Message{Type: protocol.End}, time.Now().Add(chunkTimeout)); err != nil {
		return icerr.Wrap(icerr.CodeSendEnvironmentEnd, icerr.KindProtocol, "sending END after environment transfer", err)
	}

	sentUncompressed, sentCompressed, _, _ := ch.ByteCounters()
	s.logger.Info("environment transferred", "hostname", s.hostname, "platform", platform, "version", version,
		"bytes_uncompressed", sentUncompressed, "bytes_compressed", sentCompressed)
	return nil
}

// verifyEnvironment asks a protocol-31+ server to confirm it
// extracted the environment correctly, blacklisting the host on a
// negative result (§4.4 step 2, invariant 5).
func (s *Session) verifyEnvironment(ch wireChannel, platform, version string) error {
	if err := ch.SendMessage(protocol.Message{Type: protocol.VerifyEnv}, time.Now().Add(verifyTimeout)); err != nil {
		return icerr.Wrap(icerr.CodeSendVerifyEnv, icerr.KindProtocol, "sending VERIFY_ENV", err)
	}

	msg, err := ch.ReceiveMessage(time.Now().Add(verifyTimeout))
	if err != nil {
		return icerr.Wrap(icerr.CodeVerifyMissing, icerr.KindProtocol, "waiting for VERIFY_ENV_RESULT", err)
	}
	if err := checkStatusText(msg); err != nil {
		return err
	}
	if msg.Type != protocol.VerifyEnvResult {
		return icerr.New(icerr.CodeVerifyMissing, icerr.KindProtocol, "expected VERIFY_ENV_RESULT, got a different message type")
	}

	if !msg.OK {
		if blacklistErr := s.broker.BlacklistHostEnv(platform, version, s.hostname); blacklistErr != nil {
			s.logger.Warn("failed to notify broker of blacklist", "error", blacklistErr)
		}
		return icerr.New(icerr.CodeVerifyFailed, icerr.KindVerify,
			fmt.Sprintf("compile server %s failed to verify environment %s/%s", s.hostname, platform, version))
	}

	s.logger.Debug("environment verified", "hostname", s.hostname)
	return nil
}

// streamReader reads r in bounded chunks and emits one FILE_CHUNK per
// chunk (§4.4.1). It has no retry loop of its own: an interrupted
// read on an *os.File is already retried inside os.File.Read, and any
// read error other than io.EOF ends the stream with code 16. On a
// send failure, it makes a best-effort read for a STATUS_TEXT before
// giving up with code 15.
func (s *Session) streamReader(ch wireChannel, r io.Reader) error {
	buf := make([]byte, readChunkSize)
	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			if sendErr := ch.SendMessage(protocol.Message{Type: protocol.FileChunk, Data: append([]byte(nil), buf[:n]...)}, time.Now().Add(chunkTimeout)); sendErr != nil {
				s.surfaceStatusOnSendFailure(ch)
				return icerr.Wrap(icerr.CodeSourceWrite, icerr.KindIO, "sending FILE_CHUNK", sendErr)
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return icerr.Wrap(icerr.CodeSourceRead, icerr.KindIO, "reading source for transfer", readErr)
		}
	}
}

// surfaceStatusOnSendFailure tries once, with a short deadline, to
// read a STATUS_TEXT explaining a send failure before the caller
// gives up (§4.4.1).
func (s *Session) surfaceStatusOnSendFailure(ch wireChannel) {
	msg, err := ch.ReceiveMessage(time.Now().Add(statusDrainTimeout))
	if err != nil || msg.Type != protocol.StatusText {
		return
	}
	s.logger.Warn("compile server status text after send failure", "hostname", s.hostname, "text", msg.Text)
}
