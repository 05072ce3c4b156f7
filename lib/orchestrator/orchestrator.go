// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"github.com/icecc-go/driver/lib/broker"
	"github.com/icecc-go/driver/lib/compilejob"
	"github.com/icecc-go/driver/lib/environment"
	"github.com/icecc-go/driver/lib/icerr"
	"github.com/icecc-go/driver/lib/localfallback"
	"github.com/icecc-go/driver/lib/procrun"
	"github.com/icecc-go/driver/lib/protocol"
	"github.com/icecc-go/driver/lib/remotesession"
	"github.com/icecc-go/driver/lib/termstyle"
)

// preferredHostEnvVar is propagated to the broker's GET_CS request
// when set (§6).
const preferredHostEnvVar = "ICECC_PREFERRED_HOST"

// Orchestrator dispatches one CompileJob end to end, deciding between
// a single remote session and a redundant N-way dispatch.
type Orchestrator struct {
	broker        *broker.Client
	preprocessor  procrun.Preprocessor
	localCompiler procrun.LocalCompiler
	dial          remotesession.Dialer
	logger        *slog.Logger
	term          *termstyle.Writer
	sessionOpts   remotesession.Options
	rng           *rand.Rand
}

// New constructs an Orchestrator. rng is seeded from wall time and
// process id, matching the original's seeding of its redundancy-gate
// PRNG and its -frandom-seed= generator from a single source (§9
// design note on randomness). term may be nil to suppress terminal
// announcements (e.g. in tests); production wiring passes the same
// *termstyle.Writer cmd/icecc-run uses for its own top-level errors.
func New(brokerClient *broker.Client, preprocessor procrun.Preprocessor, localCompiler procrun.LocalCompiler, dial remotesession.Dialer, logger *slog.Logger, term *termstyle.Writer, sessionOpts remotesession.Options) *Orchestrator {
	seed := time.Now().UnixNano() ^ int64(os.Getpid())
	return &Orchestrator{
		broker:        brokerClient,
		preprocessor:  preprocessor,
		localCompiler: localCompiler,
		dial:          dial,
		logger:        logger,
		term:          term,
		sessionOpts:   sessionOpts,
		rng:           rand.New(rand.NewSource(seed)),
	}
}

// Run dispatches job against entries (the parsed environment
// catalog), returning the compiler's shell-convention exit status (or
// -1 for a redundant-mode digest mismatch).
func (o *Orchestrator) Run(ctx context.Context, job compilejob.Job, entries []environment.Entry, permill int) (int, error) {
	ripped, versionMap, versionFileMap := environment.RipPaths(entries)
	if err := environment.RequireNonEmpty(ripped); err != nil {
		return 0, err
	}

	torepeat := o.decideRedundancy(job, permill)
	if torepeat == 1 {
		return o.runSingle(ctx, job, versionMap, versionFileMap)
	}
	return o.runRedundant(ctx, job, versionMap, versionFileMap, torepeat)
}

// decideRedundancy implements the N-way redundancy gate (§4.6
// decision step 2): GCC-family, non-streaming jobs are promoted to
// triple redundancy with probability permill/1000.
func (o *Orchestrator) decideRedundancy(job compilejob.Job, permill int) int {
	if permill <= 0 || job.CompilerIsClang || job.Streaming {
		return 1
	}
	if o.rng.Intn(1000) >= permill {
		return 1
	}
	return 3
}

func (o *Orchestrator) preferredHost() string {
	return os.Getenv(preferredHostEnvVar)
}

// minimalRemoteVersion derives the GET_CS request's minimum acceptable
// remote protocol version from the strict-verification policy,
// mirroring the original's minimalRemoteVersion(): a baseline floor,
// raised to protocol.MinimumVerifyProtocol when the policy does not
// tolerate unverified hosts, so the broker never assigns a server the
// session's strict gate would reject.
func (o *Orchestrator) minimalRemoteVersion() int {
	version := protocol.BaselineProtocolVersion
	if !o.sessionOpts.IgnoreUnverifiedHosts && protocol.MinimumVerifyProtocol > version {
		version = protocol.MinimumVerifyProtocol
	}
	return version
}

// toSessionAssignment narrows a broker.Assignment to what
// remotesession.Session needs, avoiding an import cycle between the
// two packages.
func toSessionAssignment(a broker.Assignment) remotesession.Assignment {
	return remotesession.Assignment{
		Hostname:       a.Hostname,
		Port:           a.Port,
		GotEnv:         a.GotEnv,
		ServerProtocol: a.ServerProtocol,
	}
}

// dispatchReplica runs one replica, choosing between the local
// fallback probe and a real remote session depending on the
// assignment (§4.5/§4.6). emitOutput is true only for the primary
// replica (index 0).
func (o *Orchestrator) dispatchReplica(ctx context.Context, job compilejob.Job, assignment broker.Assignment, versionID, tarballPath, preprocessedPath string, emitOutput bool) (int, error) {
	if localfallback.Applies(assignment) {
		return localfallback.Run(ctx, o.broker, o.localCompiler, job, assignment.JobID, o.logger)
	}

	session := remotesession.New(o.dial, o.broker, o.preprocessor, o.logger, o.term, o.sessionOpts)
	result, err := session.Run(ctx, job, toSessionAssignment(assignment), versionID, tarballPath, preprocessedPath, emitOutput)
	if err != nil {
		return 0, err
	}
	return result.ExitCode, nil
}

// runSingle implements the single-replica path of §4.6.
func (o *Orchestrator) runSingle(ctx context.Context, job compilejob.Job, versionMap, versionFileMap map[string]string) (int, error) {
	assignments, err := o.broker.GetCS(job, 1, o.preferredHost(), o.minimalRemoteVersion())
	if err != nil {
		return 0, err
	}
	assignment := assignments[0]

	job.EnvironmentVersion = versionMap[job.TargetPlatform]
	job.JobID = assignment.JobID

	exitCode, err := o.dispatchReplica(ctx, job, assignment, versionMap[job.TargetPlatform], versionFileMap[job.TargetPlatform], "", true)
	if err != nil {
		return 0, err
	}
	return exitCode, nil
}

// errMiscError is raised when a redundant dispatch's wait loop
// observes that any replica's goroutine panicked and was recovered
// (§4.6 step 5, §9 design note).
var errMiscError = icerr.New(icerr.CodeMiscError, icerr.KindOrchestrator, "a replica failed internally")
