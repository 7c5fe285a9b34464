// Package store persists runner and job records and owns every job state
// transition. All read-then-write transitions are implemented as atomic
// conditional updates so concurrent callers cannot race each other.
package store

import (
	"context"
	"time"

	"github.com/guregu/null/v6"
	"vidforge/internal/models"
)

// CreateJobInput carries everything needed to persist a new job
type CreateJobInput struct {
	Type           models.JobType
	Payload        []byte
	PrivatePayload []byte
	Priority       int
	DependsOnJobID null.Int
}

type Store interface {
	// Registration tokens
	CreateRegistrationToken(ctx context.Context, secret string) (models.RegistrationToken, error)
	GetRegistrationToken(ctx context.Context, secret string) (models.RegistrationToken, error)
	DeleteRegistrationToken(ctx context.Context, id int64) error

	// Runners
	CreateRunner(ctx context.Context, name string, description null.String, token string) (models.Runner, error)
	GetRunnerByToken(ctx context.Context, token string) (models.Runner, error)
	TouchRunner(ctx context.Context, id int64) error
	DeleteRunner(ctx context.Context, id int64) error

	// Jobs. A job whose DependsOnJobID points at a non-completed parent is
	// created waiting-for-parent-job, otherwise pending.
	CreateJob(ctx context.Context, in CreateJobInput) (models.RunnerJob, error)
	GetJob(ctx context.Context, id int64) (models.RunnerJob, error)
	GetJobByUUID(ctx context.Context, uuid string) (models.RunnerJob, error)

	// Claim atomically assigns the oldest eligible pending job of one of the
	// given types to the runner, minting jobToken as the lease secret. It
	// returns nil when no job is available. Under concurrent claims of the
	// same job exactly one caller wins.
	Claim(ctx context.Context, types []models.JobType, runnerID int64, jobToken string) (*models.RunnerJob, error)

	// RecordUpdate persists progress and bumps last_update_at. The job must
	// be processing.
	RecordUpdate(ctx context.Context, id int64, progress null.Int) error

	// BeginCompletion moves processing -> completing. FinishCompletion moves
	// completing -> completed. The split keeps a job retryable when the
	// finalization hook fails between the two.
	BeginCompletion(ctx context.Context, id int64) error
	FinishCompletion(ctx context.Context, id int64) error

	// FailJob moves processing/completing -> errored and records the message
	FailJob(ctx context.Context, id int64, message string) error

	// CancelJob moves pending/waiting-for-parent-job/processing -> cancelled
	CancelJob(ctx context.Context, id int64) error

	// ReleaseJob moves processing -> pending, clearing the lease so another
	// runner can claim the job. Used for abort.
	ReleaseJob(ctx context.Context, id int64) error

	// ReleaseStalled is ReleaseJob guarded by the stall cutoff: the release
	// only happens while last_update_at is still older than the cutoff, so a
	// runner that resumed updates after being listed keeps its lease.
	// Reports whether the job was released.
	ReleaseStalled(ctx context.Context, id int64, cutoff time.Time) (bool, error)

	// PromoteChildren moves waiting-for-parent-job children of a completed
	// parent to pending, returning how many were promoted
	PromoteChildren(ctx context.Context, parentID int64) (int64, error)

	// ReleaseForRunner returns every job leased to the runner to pending.
	// Called when a runner identity is revoked so work is not lost.
	ReleaseForRunner(ctx context.Context, runnerID int64) (int64, error)

	// ListStalled returns processing jobs whose last accepted update is
	// older than the cutoff
	ListStalled(ctx context.Context, cutoff time.Time) ([]models.RunnerJob, error)

	// DeleteTerminalBefore removes completed/errored/cancelled jobs that
	// finished before the cutoff
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Derived records
	CreateStoryboard(ctx context.Context, sb models.Storyboard) (models.Storyboard, error)
	GetStoryboardByVideo(ctx context.Context, videoID string) (models.Storyboard, error)
}
