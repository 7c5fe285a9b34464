// Package handlers implements the per-kind job lifecycle strategies and the
// protocol surface runners talk to. Each job kind provides the same contract;
// dispatch happens on the job's type field.
package handlers

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"vidforge/internal/apperrors"
	"vidforge/internal/federation"
	"vidforge/internal/models"
	"vidforge/internal/paths"
	"vidforge/internal/store"
)

// Handler is the lifecycle contract one job kind implements. Create checks
// the kind-specific payloads before the job is persisted, Update applies an
// incremental result, Complete finalizes, Error/Cancel/Abort roll back.
type Handler interface {
	Type() models.JobType

	// AbortSupported is a constant property of the kind. Kinds that would
	// lose unrecoverable data on mid-job reassignment return false.
	AbortSupported() bool

	Create(ctx context.Context, in store.CreateJobInput) error
	Update(ctx context.Context, job models.RunnerJob, payload json.RawMessage) error
	Complete(ctx context.Context, job models.RunnerJob, payload json.RawMessage) error
	Error(ctx context.Context, job models.RunnerJob) error
	Cancel(ctx context.Context, job models.RunnerJob) error
	Abort(ctx context.Context, job models.RunnerJob) error
}

// LiveEndReason tags why a live session was torn down
type LiveEndReason string

const (
	LiveEndRunnerError LiveEndReason = "runner-error"
	LiveEndCancelled   LiveEndReason = "cancelled"
	LiveEndEnded       LiveEndReason = "ended"
)

// LiveSessions is the collaborator controlling originating live sessions.
// The RTMP ingest side lives outside this core.
type LiveSessions interface {
	EndSession(ctx context.Context, sessionID string, reason LiveEndReason) error
}

// MemoryLiveSessions records session terminations. Used by tests and as a
// stand-in when no live ingest is wired up.
type MemoryLiveSessions struct {
	mu    sync.Mutex
	ended map[string]LiveEndReason
}

func NewMemoryLiveSessions() *MemoryLiveSessions {
	return &MemoryLiveSessions{ended: make(map[string]LiveEndReason)}
}

func (m *MemoryLiveSessions) EndSession(_ context.Context, sessionID string, reason LiveEndReason) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ended[sessionID] = reason
	return nil
}

// EndReason returns the recorded teardown reason for a session, if any
func (m *MemoryLiveSessions) EndReason(sessionID string) (LiveEndReason, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reason, ok := m.ended[sessionID]
	return reason, ok
}

// Deps bundles the services every handler needs
type Deps struct {
	Store    store.Store
	Paths    *paths.Manager
	Notifier federation.Notifier
	Live     LiveSessions
}

// NewRegistry wires up one handler per known job type
func NewRegistry(deps Deps) map[models.JobType]Handler {
	registry := make(map[models.JobType]Handler)
	for _, h := range []Handler{
		NewVODTranscodeHandler(deps, models.JtVODWebVideoTranscoding),
		NewVODTranscodeHandler(deps, models.JtVODHLSTranscoding),
		NewLivePackageHandler(deps),
		NewStoryboardHandler(deps),
		NewStudioEditHandler(deps),
	} {
		registry[h.Type()] = h
	}
	return registry
}

func decodePayload[T any](raw []byte, what string) (T, error) {
	var payload T
	if len(raw) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return payload, apperrors.Validation(what, "could not parse "+what)
	}
	return payload, nil
}

func notifyVideoChanged(ctx context.Context, deps Deps, job models.RunnerJob, videoID string) error {
	return deps.Notifier.NotifyVideoChanged(ctx, federation.VideoChangedEvent{
		VideoID:   videoID,
		JobUUID:   job.UUID,
		JobType:   string(job.Type),
		ChangedAt: time.Now().UTC(),
	})
}
