// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remotesession

import (
	"time"

	"github.com/icecc-go/driver/lib/compilejob"
	"github.com/icecc-go/driver/lib/icerr"
	"github.com/icecc-go/driver/lib/protocol"
)

// announceJob sends COMPILE_FILE to the compile server (§4.4 step 4).
func (s *Session) announceJob(ch wireChannel, job compilejob.Job) error {
	msg := protocol.Message{
		Type:               protocol.CompileFile,
		InputFile:          job.InputFile,
		OutputFile:         job.OutputFile,
		Language:           job.Language,
		TargetPlatform:     job.TargetPlatform,
		ArgumentFlags:      job.ArgumentFlags,
		RemoteFlags:        job.RemoteFlags,
		RestFlags:          job.RestFlags,
		Streaming:          job.Streaming,
		SplitDebug:         job.SplitDebug,
		EnvironmentVersion: job.EnvironmentVersion,
	}
	if err := ch.SendMessage(msg, time.Now().Add(jobAnnounceTimeout)); err != nil {
		return icerr.Wrap(icerr.CodeSendCompileFile, icerr.KindProtocol, "sending COMPILE_FILE to compile server", err)
	}
	return nil
}

// sendEnd terminates the source delivery phase (§4.4 step 6).
func (s *Session) sendEnd(ch wireChannel) error {
	if err := ch.SendMessage(protocol.Message{Type: protocol.End}, time.Now().Add(chunkTimeout)); err != nil {
		return icerr.Wrap(icerr.CodeSendEnd, icerr.KindProtocol, "sending END after source delivery", err)
	}
	return nil
}
