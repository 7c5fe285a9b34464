package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/guregu/null/v6"
	"github.com/rs/zerolog/log"

	"vidforge/internal/apperrors"
	"vidforge/internal/models"
	"vidforge/internal/registry"
	"vidforge/internal/store"
)

// Service is the job protocol surface. Every runner-facing operation
// authenticates the caller, checks the job lease and dispatches to the
// handler of the job's kind.
type Service struct {
	store    store.Store
	registry *registry.Registry
	handlers map[models.JobType]Handler

	// finalization retry knobs, tightened by tests
	maxRetries int
	retryDelay time.Duration
}

func NewService(s store.Store, reg *registry.Registry, handlers map[models.JobType]Handler) *Service {
	return &Service{
		store:      s,
		registry:   reg,
		handlers:   handlers,
		maxRetries: 3,
		retryDelay: 500 * time.Millisecond,
	}
}

// CreateJob enqueues a new job on behalf of the owning platform
func (s *Service) CreateJob(ctx context.Context, in store.CreateJobInput) (models.RunnerJob, error) {
	if !models.IsKnownJobType(in.Type) {
		return models.RunnerJob{}, apperrors.Validation("type", "unknown job type "+string(in.Type))
	}
	if len(in.Payload) > 0 && !json.Valid(in.Payload) {
		return models.RunnerJob{}, apperrors.Validation("payload", "payload is not valid JSON")
	}
	if len(in.PrivatePayload) > 0 && !json.Valid(in.PrivatePayload) {
		return models.RunnerJob{}, apperrors.Validation("private_payload", "private payload is not valid JSON")
	}

	handler, err := s.handlerFor(in.Type)
	if err != nil {
		return models.RunnerJob{}, err
	}
	if err := handler.Create(ctx, in); err != nil {
		return models.RunnerJob{}, err
	}
	return s.store.CreateJob(ctx, in)
}

// RequestJob claims the oldest eligible job matching the runner's declared
// capabilities. It returns nil when no job is available. The minted job
// token is the second half of the lease; only the claiming runner learns it.
func (s *Service) RequestJob(ctx context.Context, runnerToken string, types []models.JobType) (*models.RunnerJob, error) {
	runner, err := s.registry.Authenticate(ctx, runnerToken)
	if err != nil {
		return nil, err
	}

	if len(types) == 0 {
		types = models.KnownJobTypes
	}
	for _, t := range types {
		if !models.IsKnownJobType(t) {
			return nil, apperrors.Validation("types", "unknown job type "+string(t))
		}
	}

	job, err := s.store.Claim(ctx, types, runner.ID, "ptrjt-"+uuid.New().String())
	if err != nil {
		return nil, err
	}
	if job != nil {
		log.Info().
			Str("job", job.UUID).
			Str("type", string(job.Type)).
			Int64("runner_id", runner.ID).
			Msg("Job claimed")
	}
	return job, nil
}

// UpdateJob applies an incremental result and records progress. The job must
// still be processing and the caller must hold its lease.
func (s *Service) UpdateJob(ctx context.Context, runnerToken, jobUUID, jobToken string, progress null.Int, payload json.RawMessage) error {
	job, err := s.authorizeLease(ctx, runnerToken, jobUUID, jobToken)
	if err != nil {
		return err
	}
	if job.State != models.JsProcessing {
		return apperrors.Validation("state", "job is in state "+string(job.State))
	}
	if progress.Valid && (progress.Int64 < 0 || progress.Int64 > 100) {
		return apperrors.Validation("progress", "progress must be between 0 and 100")
	}

	handler, err := s.handlerFor(job.Type)
	if err != nil {
		return err
	}
	if err := handler.Update(ctx, job, payload); err != nil {
		return err
	}
	return s.store.RecordUpdate(ctx, job.ID, progress)
}

// CompleteJob finalizes the job. The transition happens in two phases so a
// failed finalization hook leaves the job in completing; the runner may then
// retry this call and only the hook runs again.
func (s *Service) CompleteJob(ctx context.Context, runnerToken, jobUUID, jobToken string, payload json.RawMessage) error {
	job, err := s.authorizeLease(ctx, runnerToken, jobUUID, jobToken)
	if err != nil {
		return err
	}
	handler, err := s.handlerFor(job.Type)
	if err != nil {
		return err
	}

	switch job.State {
	case models.JsProcessing:
		if err := s.store.BeginCompletion(ctx, job.ID); err != nil {
			return err
		}
	case models.JsCompleting:
		// retry of a previously failed finalization
	default:
		return apperrors.Validation("state", "job is in state "+string(job.State))
	}

	if err := s.tryRun(func() error { return handler.Complete(ctx, job, payload) }); err != nil {
		log.Error().Err(err).Str("job", job.UUID).Msg("Job finalization failed, job stays retryable")
		return err
	}

	if err := s.store.FinishCompletion(ctx, job.ID); err != nil {
		return err
	}

	promoted, err := s.store.PromoteChildren(ctx, job.ID)
	if err != nil {
		log.Error().Err(err).Str("job", job.UUID).Msg("Could not promote dependent jobs")
		return err
	}
	if promoted > 0 {
		log.Info().Str("job", job.UUID).Int64("promoted", promoted).Msg("Promoted dependent jobs")
	}
	return nil
}

// ErrorJob records a runner-reported failure. The handler's rollback runs
// first so sessions and partial artifacts are cleaned before the state flips.
func (s *Service) ErrorJob(ctx context.Context, runnerToken, jobUUID, jobToken, message string) error {
	job, err := s.authorizeLease(ctx, runnerToken, jobUUID, jobToken)
	if err != nil {
		return err
	}
	handler, err := s.handlerFor(job.Type)
	if err != nil {
		return err
	}

	if err := handler.Error(ctx, job); err != nil {
		log.Error().Err(err).Str("job", job.UUID).Msg("Error rollback failed")
	}
	return s.store.FailJob(ctx, job.ID, message)
}

// AbortJob returns the job to pending so another runner can pick it up.
// Kinds that cannot survive reassignment refuse the call.
func (s *Service) AbortJob(ctx context.Context, runnerToken, jobUUID, jobToken, reason string) error {
	job, err := s.authorizeLease(ctx, runnerToken, jobUUID, jobToken)
	if err != nil {
		return err
	}
	handler, err := s.handlerFor(job.Type)
	if err != nil {
		return err
	}
	if !handler.AbortSupported() {
		return apperrors.Validation("type", string(job.Type)+" jobs cannot be aborted")
	}

	if err := handler.Abort(ctx, job); err != nil {
		return err
	}
	if err := s.store.ReleaseJob(ctx, job.ID); err != nil {
		return err
	}
	log.Info().Str("job", job.UUID).Str("reason", reason).Msg("Job aborted, back to pending")
	return nil
}

// CancelJob is the owner-side cancellation. It needs no lease; the admin
// surface authorizes it.
func (s *Service) CancelJob(ctx context.Context, jobUUID string) error {
	job, err := s.store.GetJobByUUID(ctx, jobUUID)
	if err != nil {
		return err
	}
	if err := s.store.CancelJob(ctx, job.ID); err != nil {
		return err
	}

	handler, err := s.handlerFor(job.Type)
	if err != nil {
		return err
	}
	if err := handler.Cancel(ctx, job); err != nil {
		log.Error().Err(err).Str("job", job.UUID).Msg("Cancel rollback failed")
	}
	log.Info().Str("job", job.UUID).Msg("Job cancelled")
	return nil
}

// authorizeLease authenticates the runner and verifies it holds the job's
// lease. Lease mismatches are authorization failures, not validation ones:
// the job exists, the caller just has no claim on it.
func (s *Service) authorizeLease(ctx context.Context, runnerToken, jobUUID, jobToken string) (models.RunnerJob, error) {
	runner, err := s.registry.Authenticate(ctx, runnerToken)
	if err != nil {
		return models.RunnerJob{}, err
	}
	job, err := s.store.GetJobByUUID(ctx, jobUUID)
	if err != nil {
		return models.RunnerJob{}, err
	}
	if !job.HoldsLease(runner.ID, jobToken) {
		// could be a stale runner racing a reassignment of its old job
		log.Warn().Str("job", job.UUID).Int64("runner_id", runner.ID).Msg("Lease mismatch")
		return models.RunnerJob{}, apperrors.Authorization("job", "runner does not hold the job lease")
	}
	return job, nil
}

func (s *Service) handlerFor(t models.JobType) (Handler, error) {
	handler, ok := s.handlers[t]
	if !ok {
		return nil, apperrors.Internal("handlers.dispatch", apperrors.Validation("type", "no handler for job type "+string(t)))
	}
	return handler, nil
}

// tryRun attempts f up to maxRetries times, sleeping between attempts.
// Validation failures are not retried; the payload will not get better.
func (s *Service) tryRun(f func() error) error {
	var lastErr error
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		if lastErr = f(); lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, apperrors.ErrValidation) {
			return lastErr
		}
		if attempt < s.maxRetries {
			time.Sleep(s.retryDelay)
		}
	}
	return lastErr
}
