// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/icecc-go/driver/lib/compilejob"
	"github.com/icecc-go/driver/lib/icerr"
	"github.com/icecc-go/driver/lib/pathutil"
	"github.com/icecc-go/driver/lib/protocol"
)

// useCSTimeout bounds how long the orchestrator waits for the
// broker's assignment reply (§4.6: "Await USE_CS within 240 s").
const useCSTimeout = 240 * time.Second

// Assignment is one broker reply: a compile server to use for one
// job replica.
type Assignment struct {
	Hostname       string
	Port           int
	JobID          int
	HostPlatform   string
	GotEnv         bool
	MatchedJobID   int
	ServerProtocol int
}

// sender is the subset of *channel.Channel the broker client needs;
// an interface so session code can be exercised against a fake in
// tests without a real net.Conn.
type sender interface {
	SendMessage(msg protocol.Message, deadline time.Time) error
	ReceiveMessage(deadline time.Time) (protocol.Message, error)
}

// Client wraps the local broker channel with the broker-facing
// message vocabulary. The redundant path's replicas share one Client
// (a local-fallback replica's CompileFile/JobDone calls race against
// its siblings), so every exchange is serialized under mu.
type Client struct {
	mu      sync.Mutex
	channel sender
	logger  *slog.Logger
}

// New wraps ch as a broker client.
func New(ch sender, logger *slog.Logger) *Client {
	return &Client{channel: ch, logger: logger}
}

// GetCS sends one GET_CS request asking for count assignments and
// reads count USE_CS replies sequentially, per §4.6 step 3 (single)
// and step 3 of the redundant path ("await each USE_CS reply
// sequentially").
func (c *Client) GetCS(job compilejob.Job, count int, preferredHost string, minimumProtocol int) ([]Assignment, error) {
	identity := job.RestFlags
	jobIdentity := ""
	for _, f := range append(append([]string{}, job.RemoteFlags...), identity...) {
		jobIdentity += f
	}
	jobIdentity += pathutil.Canonicalize(job.InputFile)

	requestID := uuid.NewString()
	req := protocol.Message{
		Type:            protocol.GetCS,
		RequestID:       requestID,
		JobIdentity:     jobIdentity,
		Language:        job.Language,
		Count:           count,
		TargetPlatform:  job.TargetPlatform,
		ArgumentFlags:   job.ArgumentFlags,
		PreferredHost:   preferredHost,
		MinimumProtocol: minimumProtocol,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	deadline := time.Now().Add(useCSTimeout)
	if err := c.channel.SendMessage(req, deadline); err != nil {
		return nil, icerr.Wrap(icerr.CodeNoUseCS, icerr.KindProtocol, "sending GET_CS to broker", err)
	}

	assignments := make([]Assignment, 0, count)
	for i := 0; i < count; i++ {
		reply, err := c.channel.ReceiveMessage(deadline)
		if err != nil {
			return nil, icerr.Wrap(icerr.CodeNoUseCS, icerr.KindProtocol, "waiting for USE_CS from broker", err)
		}
		if reply.Type != protocol.UseCS {
			return nil, icerr.New(icerr.CodeNoUseCS, icerr.KindProtocol, "broker replied with unexpected message type instead of USE_CS")
		}
		assignments = append(assignments, Assignment{
			Hostname:       reply.Hostname,
			Port:           reply.Port,
			JobID:          reply.JobID,
			HostPlatform:   reply.HostPlatform,
			GotEnv:         reply.GotEnv,
			MatchedJobID:   reply.MatchedJobID,
			ServerProtocol: reply.ServerProtocol,
		})
	}

	c.logger.Debug("broker assigned compile servers", "request_id", requestID, "count", len(assignments))
	return assignments, nil
}

// CompileFile announces job to the broker, used both ahead of a real
// remote session and ahead of a local-fallback build (§4.5, §4.4 step
// 4).
func (c *Client) CompileFile(job compilejob.Job) error {
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
		JobID:              job.JobID,
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.channel.SendMessage(msg, time.Now().Add(useCSTimeout)); err != nil {
		return icerr.Wrap(icerr.CodeSendCompileFile, icerr.KindProtocol, "sending COMPILE_FILE to broker", err)
	}
	return nil
}

// JobDoneStats carries the local-fallback accounting §4.5 requires in
// a JOB_DONE(from_submitter) report.
type JobDoneStats struct {
	RealMillis int64
	CPUMillis  int64
	PageFaults int64
	OutputSize int64
	ExitCode   int
}

// JobDone reports completion of a locally-run job to the broker.
func (c *Client) JobDone(jobID int, stats JobDoneStats) error {
	msg := protocol.Message{
		Type:          protocol.JobDone,
		JobID:         jobID,
		FromSubmitter: true,
		RealMillis:    stats.RealMillis,
		CPUMillis:     stats.CPUMillis,
		PageFaults:    stats.PageFaults,
		OutputSize:    stats.OutputSize,
		ExitCode:      stats.ExitCode,
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.channel.SendMessage(msg, time.Now().Add(useCSTimeout)); err != nil {
		return icerr.Wrap(icerr.CodeLocalAnnounceFailed, icerr.KindProtocol, "sending JOB_DONE to broker", err)
	}
	return nil
}

// BlacklistHostEnv reports a failed environment verification so the
// broker stops offering hostname for platform/version (§4.4 step 2,
// invariant 5).
func (c *Client) BlacklistHostEnv(platform, version, hostname string) error {
	msg := protocol.Message{
		Type:     protocol.BlacklistHostEnv,
		Platform: platform,
		Version:  version,
		Hostname: hostname,
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.channel.SendMessage(msg, time.Now().Add(useCSTimeout)); err != nil {
		return icerr.Wrap(icerr.CodeVerifyFailed, icerr.KindProtocol, "sending BLACKLIST_HOST_ENV to broker", err)
	}
	c.logger.Warn("blacklisted host environment after failed verification", "hostname", hostname, "platform", platform, "version", version)
	return nil
}
