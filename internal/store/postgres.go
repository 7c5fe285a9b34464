package store

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/guregu/null/v6"
	"github.com/jmoiron/sqlx"
	"vidforge/internal/apperrors"
	"vidforge/internal/models"
)

// PostgresStore implements Store on top of the `runners` schema.
// State transitions rely on conditional UPDATEs so concurrent protocol
// calls resolve to exactly one winner inside the database.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) CreateRegistrationToken(ctx context.Context, secret string) (models.RegistrationToken, error) {
	var token models.RegistrationToken
	err := p.db.GetContext(ctx, &token, `
INSERT INTO runners.registration_token (secret)
VALUES ($1)
RETURNING *`, secret)
	if err != nil {
		return models.RegistrationToken{}, apperrors.Internal("store.createRegistrationToken", err)
	}
	return token, nil
}

func (p *PostgresStore) GetRegistrationToken(ctx context.Context, secret string) (models.RegistrationToken, error) {
	var token models.RegistrationToken
	err := p.db.GetContext(ctx, &token, `SELECT * FROM runners.registration_token WHERE secret = $1`, secret)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return models.RegistrationToken{}, apperrors.NotFound("registration token", secret)
	case err != nil:
		return models.RegistrationToken{}, apperrors.Internal("store.getRegistrationToken", err)
	}
	return token, nil
}

func (p *PostgresStore) DeleteRegistrationToken(ctx context.Context, id int64) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM runners.registration_token WHERE id = $1`, id)
	if err != nil {
		return apperrors.Internal("store.deleteRegistrationToken", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFound("registration token", strconv.FormatInt(id, 10))
	}
	return nil
}

func (p *PostgresStore) CreateRunner(ctx context.Context, name string, description null.String, token string) (models.Runner, error) {
	var runner models.Runner
	err := p.db.GetContext(ctx, &runner, `
INSERT INTO runners.runner (name, description, token, last_contact_at)
VALUES ($1, $2, $3, NOW())
RETURNING *`, name, description, token)
	if err != nil {
		return models.Runner{}, apperrors.Internal("store.createRunner", err)
	}
	return runner, nil
}

func (p *PostgresStore) GetRunnerByToken(ctx context.Context, token string) (models.Runner, error) {
	var runner models.Runner
	err := p.db.GetContext(ctx, &runner, `SELECT * FROM runners.runner WHERE token = $1`, token)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return models.Runner{}, apperrors.NotFound("runner", "with given token")
	case err != nil:
		return models.Runner{}, apperrors.Internal("store.getRunnerByToken", err)
	}
	return runner, nil
}

func (p *PostgresStore) TouchRunner(ctx context.Context, id int64) error {
	res, err := p.db.ExecContext(ctx, `
UPDATE runners.runner
SET last_contact_at = NOW(),
    updated_at = NOW()
WHERE id = $1`, id)
	if err != nil {
		return apperrors.Internal("store.touchRunner", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFound("runner", strconv.FormatInt(id, 10))
	}
	return nil
}

func (p *PostgresStore) DeleteRunner(ctx context.Context, id int64) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM runners.runner WHERE id = $1`, id)
	if err != nil {
		return apperrors.Internal("store.deleteRunner", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFound("runner", strconv.FormatInt(id, 10))
	}
	return nil
}

func (p *PostgresStore) CreateJob(ctx context.Context, in CreateJobInput) (models.RunnerJob, error) {
	if in.DependsOnJobID.Valid {
		var exists bool
		err := p.db.GetContext(ctx, &exists,
			`SELECT EXISTS (SELECT 1 FROM runners.job WHERE id = $1)`, in.DependsOnJobID.Int64)
		if err != nil {
			return models.RunnerJob{}, apperrors.Internal("store.createJob", err)
		}
		if !exists {
			return models.RunnerJob{}, apperrors.NotFound("job", strconv.FormatInt(in.DependsOnJobID.Int64, 10))
		}
	}

	// The state CASE runs inside the INSERT so a parent completing
	// concurrently cannot strand the child in waiting-for-parent-job
	var job models.RunnerJob
	err := p.db.GetContext(ctx, &job, `
INSERT INTO runners.job (uuid, type, state, payload, private_payload, priority, depends_on_job_id)
VALUES ($1, $2,
        CASE
            WHEN $6::BIGINT IS NOT NULL AND NOT EXISTS (
                SELECT 1 FROM runners.job p WHERE p.id = $6 AND p.state = 'completed')
                THEN 'waiting-for-parent-job'
            ELSE 'pending'
        END,
        $3, $4, $5, $6)
RETURNING *`,
		uuid.New().String(), in.Type, in.Payload, in.PrivatePayload, in.Priority, in.DependsOnJobID)
	if err != nil {
		return models.RunnerJob{}, apperrors.Internal("store.createJob", err)
	}
	return job, nil
}

func (p *PostgresStore) GetJob(ctx context.Context, id int64) (models.RunnerJob, error) {
	var job models.RunnerJob
	err := p.db.GetContext(ctx, &job, `SELECT * FROM runners.job WHERE id = $1`, id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return models.RunnerJob{}, apperrors.NotFound("job", strconv.FormatInt(id, 10))
	case err != nil:
		return models.RunnerJob{}, apperrors.Internal("store.getJob", err)
	}
	return job, nil
}

func (p *PostgresStore) GetJobByUUID(ctx context.Context, jobUUID string) (models.RunnerJob, error) {
	var job models.RunnerJob
	err := p.db.GetContext(ctx, &job, `SELECT * FROM runners.job WHERE uuid = $1`, jobUUID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return models.RunnerJob{}, apperrors.NotFound("job", jobUUID)
	case err != nil:
		return models.RunnerJob{}, apperrors.Internal("store.getJobByUUID", err)
	}
	return job, nil
}

func (p *PostgresStore) Claim(ctx context.Context, types []models.JobType, runnerID int64, jobToken string) (*models.RunnerJob, error) {
	if len(types) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(`
UPDATE runners.job
SET state          = 'processing',
    runner_id      = ?,
    job_token      = ?,
    last_update_at = NOW(),
    updated_at     = NOW()
WHERE id = (SELECT id
            FROM runners.job
            WHERE state = 'pending'
              AND type IN (?)
            ORDER BY priority, created_at, id
            LIMIT 1
            FOR UPDATE SKIP LOCKED)
RETURNING *`, runnerID, jobToken, types)
	if err != nil {
		return nil, apperrors.Internal("store.claim", err)
	}

	var job models.RunnerJob
	err = p.db.GetContext(ctx, &job, p.db.Rebind(query), args...)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, apperrors.Internal("store.claim", err)
	}
	return &job, nil
}

func (p *PostgresStore) RecordUpdate(ctx context.Context, id int64, progress null.Int) error {
	if progress.Valid && (progress.Int64 < 0 || progress.Int64 > 100) {
		return apperrors.Validation("progress", "progress must be between 0 and 100")
	}
	res, err := p.db.ExecContext(ctx, `
UPDATE runners.job
SET progress       = COALESCE($2, progress),
    last_update_at = NOW(),
    updated_at     = NOW()
WHERE id = $1
  AND state = 'processing'`, id, progress)
	if err != nil {
		return apperrors.Internal("store.recordUpdate", err)
	}
	return p.checkTransition(ctx, res, id)
}

func (p *PostgresStore) BeginCompletion(ctx context.Context, id int64) error {
	return p.transition(ctx, id, `
UPDATE runners.job
SET state      = 'completing',
    updated_at = NOW()
WHERE id = $1
  AND state = 'processing'`)
}

func (p *PostgresStore) FinishCompletion(ctx context.Context, id int64) error {
	return p.transition(ctx, id, `
UPDATE runners.job
SET state       = 'completed',
    progress    = 100,
    finished_at = NOW(),
    updated_at  = NOW()
WHERE id = $1
  AND state = 'completing'`)
}

func (p *PostgresStore) FailJob(ctx context.Context, id int64, message string) error {
	res, err := p.db.ExecContext(ctx, `
UPDATE runners.job
SET state       = 'errored',
    error       = $2,
    finished_at = NOW(),
    updated_at  = NOW()
WHERE id = $1
  AND state IN ('processing', 'completing')`, id, message)
	if err != nil {
		return apperrors.Internal("store.failJob", err)
	}
	return p.checkTransition(ctx, res, id)
}

func (p *PostgresStore) CancelJob(ctx context.Context, id int64) error {
	return p.transition(ctx, id, `
UPDATE runners.job
SET state       = 'cancelled',
    runner_id   = NULL,
    job_token   = NULL,
    finished_at = NOW(),
    updated_at  = NOW()
WHERE id = $1
  AND state IN ('pending', 'waiting-for-parent-job', 'processing')`)
}

func (p *PostgresStore) ReleaseJob(ctx context.Context, id int64) error {
	return p.transition(ctx, id, `
UPDATE runners.job
SET state          = 'pending',
    runner_id      = NULL,
    job_token      = NULL,
    progress       = 0,
    last_update_at = NULL,
    updated_at     = NOW()
WHERE id = $1
  AND state = 'processing'`)
}

func (p *PostgresStore) ReleaseStalled(ctx context.Context, id int64, cutoff time.Time) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
UPDATE runners.job
SET state          = 'pending',
    runner_id      = NULL,
    job_token      = NULL,
    progress       = 0,
    last_update_at = NULL,
    updated_at     = NOW()
WHERE id = $1
  AND state = 'processing'
  AND last_update_at < $2`, id, cutoff)
	if err != nil {
		return false, apperrors.Internal("store.releaseStalled", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperrors.Internal("store.releaseStalled", err)
	}
	return n > 0, nil
}

// transition runs a conditional UPDATE and converts a zero-row result into
// the proper NotFound or Validation error
func (p *PostgresStore) transition(ctx context.Context, id int64, query string) error {
	res, err := p.db.ExecContext(ctx, query, id)
	if err != nil {
		return apperrors.Internal("store.transition", err)
	}
	return p.checkTransition(ctx, res, id)
}

func (p *PostgresStore) checkTransition(ctx context.Context, res sql.Result, id int64) error {
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	job, err := p.GetJob(ctx, id)
	if err != nil {
		return err
	}
	return apperrors.Validation("state", "job is in state "+string(job.State))
}

func (p *PostgresStore) PromoteChildren(ctx context.Context, parentID int64) (int64, error) {
	res, err := p.db.ExecContext(ctx, `
UPDATE runners.job
SET state      = 'pending',
    updated_at = NOW()
WHERE depends_on_job_id = $1
  AND state = 'waiting-for-parent-job'
  AND EXISTS (SELECT 1 FROM runners.job p WHERE p.id = $1 AND p.state = 'completed')`, parentID)
	if err != nil {
		return 0, apperrors.Internal("store.promoteChildren", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (p *PostgresStore) ReleaseForRunner(ctx context.Context, runnerID int64) (int64, error) {
	res, err := p.db.ExecContext(ctx, `
UPDATE runners.job
SET state          = 'pending',
    runner_id      = NULL,
    job_token      = NULL,
    progress       = 0,
    last_update_at = NULL,
    updated_at     = NOW()
WHERE runner_id = $1
  AND state = 'processing'`, runnerID)
	if err != nil {
		return 0, apperrors.Internal("store.releaseForRunner", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (p *PostgresStore) ListStalled(ctx context.Context, cutoff time.Time) ([]models.RunnerJob, error) {
	var jobs []models.RunnerJob
	err := p.db.SelectContext(ctx, &jobs, `
SELECT *
FROM runners.job
WHERE state = 'processing'
  AND last_update_at < $1`, cutoff)
	if err != nil {
		return nil, apperrors.Internal("store.listStalled", err)
	}
	return jobs, nil
}

func (p *PostgresStore) CreateStoryboard(ctx context.Context, sb models.Storyboard) (models.Storyboard, error) {
	var created models.Storyboard
	err := p.db.GetContext(ctx, &created, `
INSERT INTO runners.storyboard (video_id, key, sprite_width, sprite_height, sprite_count)
VALUES ($1, $2, $3, $4, $5)
RETURNING *`, sb.VideoID, sb.Key, sb.SpriteWidth, sb.SpriteHeight, sb.SpriteCount)
	if err != nil {
		return models.Storyboard{}, apperrors.Internal("store.createStoryboard", err)
	}
	return created, nil
}

func (p *PostgresStore) GetStoryboardByVideo(ctx context.Context, videoID string) (models.Storyboard, error) {
	var sb models.Storyboard
	err := p.db.GetContext(ctx, &sb, `SELECT * FROM runners.storyboard WHERE video_id = $1`, videoID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return models.Storyboard{}, apperrors.NotFound("storyboard", videoID)
	case err != nil:
		return models.Storyboard{}, apperrors.Internal("store.getStoryboardByVideo", err)
	}
	return sb, nil
}

func (p *PostgresStore) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := p.db.ExecContext(ctx, `
DELETE
FROM runners.job
WHERE state IN ('completed', 'errored', 'cancelled')
  AND finished_at < $1`, cutoff)
	if err != nil {
		return 0, apperrors.Internal("store.deleteTerminalBefore", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
