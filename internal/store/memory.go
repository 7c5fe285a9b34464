package store

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/guregu/null/v6"
	"vidforge/internal/apperrors"
	"vidforge/internal/models"
)

// MemoryStore is an in-memory Store used by tests and single-node setups.
// A single mutex guards all maps; transitions stay atomic because every
// method holds it for its full read-then-write span.
type MemoryStore struct {
	mu             sync.Mutex
	regTokens      map[int64]models.RegistrationToken
	runners        map[int64]models.Runner
	jobs           map[int64]models.RunnerJob
	storyboards    map[int64]models.Storyboard
	nextID         int64
	nextRunner     int64
	nextToken      int64
	nextStoryboard int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		regTokens:   make(map[int64]models.RegistrationToken),
		runners:     make(map[int64]models.Runner),
		jobs:        make(map[int64]models.RunnerJob),
		storyboards: make(map[int64]models.Storyboard),
	}
}

func (m *MemoryStore) CreateRegistrationToken(_ context.Context, secret string) (models.RegistrationToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextToken++
	token := models.RegistrationToken{
		ID:        m.nextToken,
		Secret:    secret,
		CreatedAt: time.Now().UTC(),
	}
	m.regTokens[token.ID] = token
	return token, nil
}

func (m *MemoryStore) GetRegistrationToken(_ context.Context, secret string) (models.RegistrationToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, token := range m.regTokens {
		if token.Secret == secret {
			return token, nil
		}
	}
	return models.RegistrationToken{}, apperrors.NotFound("registration token", secret)
}

func (m *MemoryStore) DeleteRegistrationToken(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.regTokens[id]; !ok {
		return apperrors.NotFound("registration token", strconv.FormatInt(id, 10))
	}
	delete(m.regTokens, id)
	return nil
}

func (m *MemoryStore) CreateRunner(_ context.Context, name string, description null.String, token string) (models.Runner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	m.nextRunner++
	runner := models.Runner{
		ID:            m.nextRunner,
		Name:          name,
		Description:   description,
		Token:         token,
		LastContactAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	m.runners[runner.ID] = runner
	return runner, nil
}

func (m *MemoryStore) GetRunnerByToken(_ context.Context, token string) (models.Runner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, runner := range m.runners {
		if runner.Token == token {
			return runner, nil
		}
	}
	return models.Runner{}, apperrors.NotFound("runner", "with given token")
}

func (m *MemoryStore) TouchRunner(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	runner, ok := m.runners[id]
	if !ok {
		return apperrors.NotFound("runner", strconv.FormatInt(id, 10))
	}
	runner.LastContactAt = time.Now().UTC()
	runner.UpdatedAt = runner.LastContactAt
	m.runners[id] = runner
	return nil
}

func (m *MemoryStore) DeleteRunner(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.runners[id]; !ok {
		return apperrors.NotFound("runner", strconv.FormatInt(id, 10))
	}
	delete(m.runners, id)
	return nil
}

func (m *MemoryStore) CreateJob(_ context.Context, in CreateJobInput) (models.RunnerJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state := models.JsPending
	if in.DependsOnJobID.Valid {
		parent, ok := m.jobs[in.DependsOnJobID.Int64]
		if !ok {
			return models.RunnerJob{}, apperrors.NotFound("job", strconv.FormatInt(in.DependsOnJobID.Int64, 10))
		}
		if parent.State != models.JsCompleted {
			state = models.JsWaitingForParent
		}
	}

	now := time.Now().UTC()
	m.nextID++
	job := models.RunnerJob{
		ID:             m.nextID,
		UUID:           uuid.New().String(),
		Type:           in.Type,
		State:          state,
		Payload:        in.Payload,
		PrivatePayload: in.PrivatePayload,
		Priority:       in.Priority,
		DependsOnJobID: in.DependsOnJobID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	m.jobs[job.ID] = job
	return job, nil
}

func (m *MemoryStore) GetJob(_ context.Context, id int64) (models.RunnerJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return models.RunnerJob{}, apperrors.NotFound("job", strconv.FormatInt(id, 10))
	}
	return job, nil
}

func (m *MemoryStore) GetJobByUUID(_ context.Context, jobUUID string) (models.RunnerJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, job := range m.jobs {
		if job.UUID == jobUUID {
			return job, nil
		}
	}
	return models.RunnerJob{}, apperrors.NotFound("job", jobUUID)
}

func (m *MemoryStore) Claim(_ context.Context, types []models.JobType, runnerID int64, jobToken string) (*models.RunnerJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	wanted := make(map[models.JobType]bool, len(types))
	for _, t := range types {
		wanted[t] = true
	}

	var candidates []models.RunnerJob
	for _, job := range m.jobs {
		if job.State == models.JsPending && wanted[job.Type] {
			candidates = append(candidates, job)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	job := candidates[0]
	now := time.Now().UTC()
	job.State = models.JsProcessing
	job.RunnerID = null.IntFrom(runnerID)
	job.JobToken = null.StringFrom(jobToken)
	job.LastUpdateAt = null.TimeFrom(now)
	job.UpdatedAt = now
	m.jobs[job.ID] = job
	return &job, nil
}

func (m *MemoryStore) RecordUpdate(_ context.Context, id int64, progress null.Int) error {
	if progress.Valid && (progress.Int64 < 0 || progress.Int64 > 100) {
		return apperrors.Validation("progress", "progress must be between 0 and 100")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return apperrors.NotFound("job", strconv.FormatInt(id, 10))
	}
	if job.State != models.JsProcessing {
		return apperrors.Validation("state", "job is not processing")
	}

	if progress.Valid {
		job.Progress = int(progress.Int64)
	}
	now := time.Now().UTC()
	job.LastUpdateAt = null.TimeFrom(now)
	job.UpdatedAt = now
	m.jobs[id] = job
	return nil
}

func (m *MemoryStore) BeginCompletion(_ context.Context, id int64) error {
	return m.transition(id, []models.JobState{models.JsProcessing}, models.JsCompleting, nil)
}

func (m *MemoryStore) FinishCompletion(_ context.Context, id int64) error {
	return m.transition(id, []models.JobState{models.JsCompleting}, models.JsCompleted, func(job *models.RunnerJob) {
		job.Progress = 100
		job.FinishedAt = null.TimeFrom(time.Now().UTC())
	})
}

func (m *MemoryStore) FailJob(_ context.Context, id int64, message string) error {
	return m.transition(id, []models.JobState{models.JsProcessing, models.JsCompleting}, models.JsErrored, func(job *models.RunnerJob) {
		job.Error = null.StringFrom(message)
		job.FinishedAt = null.TimeFrom(time.Now().UTC())
	})
}

func (m *MemoryStore) CancelJob(_ context.Context, id int64) error {
	cancellable := []models.JobState{models.JsPending, models.JsWaitingForParent, models.JsProcessing}
	return m.transition(id, cancellable, models.JsCancelled, func(job *models.RunnerJob) {
		job.RunnerID = null.Int{}
		job.JobToken = null.String{}
		job.FinishedAt = null.TimeFrom(time.Now().UTC())
	})
}

func (m *MemoryStore) ReleaseJob(_ context.Context, id int64) error {
	return m.transition(id, []models.JobState{models.JsProcessing}, models.JsPending, func(job *models.RunnerJob) {
		job.RunnerID = null.Int{}
		job.JobToken = null.String{}
		job.Progress = 0
		job.LastUpdateAt = null.Time{}
	})
}

func (m *MemoryStore) ReleaseStalled(_ context.Context, id int64, cutoff time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return false, nil
	}
	if job.State != models.JsProcessing || !job.LastUpdateAt.Valid || !job.LastUpdateAt.Time.Before(cutoff) {
		return false, nil
	}

	job.State = models.JsPending
	job.RunnerID = null.Int{}
	job.JobToken = null.String{}
	job.Progress = 0
	job.LastUpdateAt = null.Time{}
	job.UpdatedAt = time.Now().UTC()
	m.jobs[id] = job
	return true, nil
}

// transition applies a compare-and-set state change under the store mutex
func (m *MemoryStore) transition(id int64, from []models.JobState, to models.JobState, mutate func(*models.RunnerJob)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return apperrors.NotFound("job", strconv.FormatInt(id, 10))
	}

	allowed := false
	for _, s := range from {
		if job.State == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return apperrors.Validation("state", "job is in state "+string(job.State))
	}

	job.State = to
	if mutate != nil {
		mutate(&job)
	}
	job.UpdatedAt = time.Now().UTC()
	m.jobs[id] = job
	return nil
}

func (m *MemoryStore) PromoteChildren(_ context.Context, parentID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	parent, ok := m.jobs[parentID]
	if !ok {
		return 0, apperrors.NotFound("job", strconv.FormatInt(parentID, 10))
	}
	if parent.State != models.JsCompleted {
		return 0, nil
	}

	var promoted int64
	now := time.Now().UTC()
	for id, job := range m.jobs {
		if job.State == models.JsWaitingForParent && job.DependsOnJobID.Valid && job.DependsOnJobID.Int64 == parentID {
			job.State = models.JsPending
			job.UpdatedAt = now
			m.jobs[id] = job
			promoted++
		}
	}
	return promoted, nil
}

func (m *MemoryStore) ReleaseForRunner(_ context.Context, runnerID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var released int64
	now := time.Now().UTC()
	for id, job := range m.jobs {
		if job.State == models.JsProcessing && job.RunnerID.Valid && job.RunnerID.Int64 == runnerID {
			job.State = models.JsPending
			job.RunnerID = null.Int{}
			job.JobToken = null.String{}
			job.Progress = 0
			job.LastUpdateAt = null.Time{}
			job.UpdatedAt = now
			m.jobs[id] = job
			released++
		}
	}
	return released, nil
}

func (m *MemoryStore) ListStalled(_ context.Context, cutoff time.Time) ([]models.RunnerJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var stalled []models.RunnerJob
	for _, job := range m.jobs {
		if job.State == models.JsProcessing && job.LastUpdateAt.Valid && job.LastUpdateAt.Time.Before(cutoff) {
			stalled = append(stalled, job)
		}
	}
	return stalled, nil
}

func (m *MemoryStore) CreateStoryboard(_ context.Context, sb models.Storyboard) (models.Storyboard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextStoryboard++
	sb.ID = m.nextStoryboard
	sb.CreatedAt = time.Now().UTC()
	m.storyboards[sb.ID] = sb
	return sb, nil
}

func (m *MemoryStore) GetStoryboardByVideo(_ context.Context, videoID string) (models.Storyboard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, sb := range m.storyboards {
		if sb.VideoID == videoID {
			return sb, nil
		}
	}
	return models.Storyboard{}, apperrors.NotFound("storyboard", videoID)
}

func (m *MemoryStore) DeleteTerminalBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted int64
	for id, job := range m.jobs {
		if job.State.IsTerminal() && job.FinishedAt.Valid && job.FinishedAt.Time.Before(cutoff) {
			delete(m.jobs, id)
			deleted++
		}
	}
	return deleted, nil
}
