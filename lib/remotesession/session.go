// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remotesession

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/icecc-go/driver/lib/compilejob"
	"github.com/icecc-go/driver/lib/icerr"
	"github.com/icecc-go/driver/lib/procrun"
	"github.com/icecc-go/driver/lib/protocol"
	"github.com/icecc-go/driver/lib/termstyle"
)

// Fixed per-operation timeouts (§5).
const (
	connectTimeout       = 10 * time.Second
	verifyTimeout        = 60 * time.Second
	statusDrainTimeout   = 2 * time.Second
	chunkTimeout         = 40 * time.Second
	compileResultTimeout = 12 * time.Minute
	jobAnnounceTimeout   = 4 * time.Minute
)

// readChunkSize bounds a single FILE_CHUNK payload. Implementation
// detail, not part of the wire contract.
const readChunkSize = 100 * 1024

// wireChannel is the subset of *channel.Channel a session needs.
// Declared as an interface so sessions can be driven against a fake
// in tests without a real net.Conn.
type wireChannel interface {
	SendMessage(msg protocol.Message, deadline time.Time) error
	ReceiveMessage(deadline time.Time) (protocol.Message, error)
	Close() error
	ByteCounters() (sentUncompressed, sentCompressed, recvUncompressed, recvCompressed int64)
}

// blacklister is the subset of *broker.Client a session needs to
// report a failed environment verification.
type blacklister interface {
	BlacklistHostEnv(platform, version, hostname string) error
}

// Assignment is the subset of a broker.Assignment the session acts
// on; kept local to avoid an import cycle with package broker.
type Assignment struct {
	Hostname       string
	Port           int
	GotEnv         bool
	ServerProtocol int
}

// Options configures policy decisions the session itself cannot
// derive from the protocol alone.
type Options struct {
	// IgnoreUnverifiedHosts disables the strict-mode gate of §4.4
	// step 3 for servers below protocol.MinimumVerifyProtocol.
	IgnoreUnverifiedHosts bool

	// NeedsOutputWorkaround reports whether job's captured
	// stdout/stderr requires remote-error 102 handling. nil disables
	// the check.
	NeedsOutputWorkaround func(job compilejob.Job, stdout, stderr []byte) bool
}

// Session drives one compile-server exchange for one job replica.
type Session struct {
	dial func(hostname string, port int, timeout time.Duration) (wireChannel, error)

	broker       blacklister
	preprocessor procrun.Preprocessor
	logger       *slog.Logger
	term         *termstyle.Writer
	opts         Options

	hostname string // set at session start, read only by this session's logging (§9 design note)

	lastWasOutOfMemory bool
}

// Dialer opens a wireChannel to hostname:port, used so production code
// wires in channel.Dial while tests inject a scripted in-memory fake.
type Dialer func(hostname string, port int, timeout time.Duration) (wireChannel, error)

// New constructs a Session. dial is typically a thin wrapper around
// channel.Dial. term may be nil, in which case host announcements and
// relayed STATUS_TEXT lines are logged only, never written to a
// terminal (the case in tests; the orchestrator passes its own
// writer, possibly nil, to every replica).
func New(dial Dialer, broker blacklister, preprocessor procrun.Preprocessor, logger *slog.Logger, term *termstyle.Writer, opts Options) *Session {
	return &Session{dial: dial, broker: broker, preprocessor: preprocessor, logger: logger, term: term, opts: opts}
}

// Result is the outcome of a successful or policy-rejected session.
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte

	// HaveDwoFile reports whether the compile server actually
	// produced a companion .dwo file (§4.4 steps 7 and 9): a
	// server-reported confirmation, independent of whether the job
	// requested split-debug, since a server may decline to emit one.
	HaveDwoFile bool
}

// Run drives the full state machine of §4.4 for one replica.
//
// job is the per-replica job (already cloned and, for replicas > 0,
// redirected to a fresh output path by the caller). assignment is the
// broker's reply for this replica. environmentVersion/environmentTarballPath
// are the resolved version id and tarball path for job's target
// platform. preprocessedPath is non-empty when the caller already
// produced a preprocessed source file (the redundant path's single
// shared preprocess step); emitOutput is true only for the replica
// whose output goes to the user's terminal.
func (s *Session) Run(ctx context.Context, job compilejob.Job, assignment Assignment, environmentVersion, environmentTarballPath, preprocessedPath string, emitOutput bool) (*Result, error) {
	s.hostname = assignment.Hostname

	ch, err := s.dial(assignment.Hostname, assignment.Port, connectTimeout)
	if err != nil {
		return nil, icerr.Wrap(icerr.CodeConnectFailed, icerr.KindConnect,
			fmt.Sprintf("connecting to compile server %s:%d", assignment.Hostname, assignment.Port), err)
	}
	defer ch.Close()

	result, err := s.runOnChannel(ctx, ch, job, assignment, environmentVersion, environmentTarballPath, preprocessedPath, emitOutput)
	if err != nil {
		s.drainStatusText(ch)
	}
	return result, err
}

func (s *Session) runOnChannel(ctx context.Context, ch wireChannel, job compilejob.Job, assignment Assignment, environmentVersion, environmentTarballPath, preprocessedPath string, emitOutput bool) (*Result, error) {
	if !assignment.GotEnv {
		if err := s.transferEnvironment(ch, job.TargetPlatform, environmentVersion, environmentTarballPath); err != nil {
			return nil, err
		}
		if assignment.ServerProtocol >= protocol.MinimumVerifyProtocol {
			if err := s.verifyEnvironment(ch, job.TargetPlatform, environmentVersion); err != nil {
				return nil, err
			}
		}
	}

	if assignment.ServerProtocol < protocol.MinimumVerifyProtocol && !s.opts.IgnoreUnverifiedHosts {
		return nil, icerr.New(icerr.CodeUnverifiedStrict, icerr.KindPolicy,
			fmt.Sprintf("compile server %s did not verify its environment and strict mode is enabled", s.hostname))
	}

	if err := s.announceJob(ch, job); err != nil {
		return nil, err
	}

	exitEarly, earlyStatus, err := s.deliverSource(ctx, ch, job, preprocessedPath)
	if err != nil {
		return nil, err
	}
	if exitEarly {
		return &Result{ExitCode: earlyStatus}, nil
	}

	if err := s.sendEnd(ch); err != nil {
		return nil, err
	}

	result, err := s.awaitResult(ch)
	if err != nil {
		return nil, err
	}

	if err := s.checkPolicy(job, result, emitOutput); err != nil {
		return nil, err
	}

	if emitOutput {
		s.emit(result)
	}

	if result.ExitCode == 0 {
		if err := s.receiveArtifacts(ch, job, result.HaveDwoFile); err != nil {
			return nil, err
		}
	}

	return result, nil
}

// drainStatusText best-effort-reads any pending STATUS_TEXT messages
// with a zero timeout so the user sees remote-side context before the
// channel is released (§4.4 step 10).
func (s *Session) drainStatusText(ch wireChannel) {
	for {
		msg, err := ch.ReceiveMessage(time.Now())
		if err != nil {
			return
		}
		if msg.Type != protocol.StatusText {
			return
		}
		s.logger.Warn("compile server status text during cleanup", "hostname", s.hostname, "text", msg.Text)
		if s.term != nil {
			s.term.StatusText(msg.Text)
		}
	}
}

// checkStatusText implements the failure-check pattern of §4.4.2:
// before interpreting any expected message, check whether the server
// unilaterally aborted with STATUS_TEXT instead.
func checkStatusText(msg protocol.Message) error {
	if msg.Type == protocol.StatusText {
		return icerr.New(icerr.CodeRemoteStatus, icerr.KindRemote, "compile server reported: "+msg.Text)
	}
	return nil
}
