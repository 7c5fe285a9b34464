package store_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/guregu/null/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"vidforge/internal/apperrors"
	"vidforge/internal/models"
	"vidforge/internal/store"
)

var ctx = context.Background()

func newJob(t *testing.T, s store.Store, jobType models.JobType) models.RunnerJob {
	t.Helper()
	job, err := s.CreateJob(ctx, store.CreateJobInput{
		Type:    jobType,
		Payload: []byte(`{}`),
	})
	require.NoError(t, err)
	return job
}

func claimJob(t *testing.T, s store.Store, jobType models.JobType, runnerID int64, token string) models.RunnerJob {
	t.Helper()
	claimed, err := s.Claim(ctx, []models.JobType{jobType}, runnerID, token)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	return *claimed
}

func TestMemoryStore_CreateJob(t *testing.T) {
	t.Run("starts pending without dependency", func(t *testing.T) {
		s := store.NewMemoryStore()
		job := newJob(t, s, models.JtVideoStoryboard)

		assert.Equal(t, models.JsPending, job.State)
		assert.NotEmpty(t, job.UUID)
		assert.False(t, job.RunnerID.Valid)
		assert.False(t, job.JobToken.Valid)
	})

	t.Run("starts waiting when parent not completed", func(t *testing.T) {
		s := store.NewMemoryStore()
		parent := newJob(t, s, models.JtVODWebVideoTranscoding)

		child, err := s.CreateJob(ctx, store.CreateJobInput{
			Type:           models.JtVODHLSTranscoding,
			Payload:        []byte(`{}`),
			DependsOnJobID: null.IntFrom(parent.ID),
		})
		require.NoError(t, err)
		assert.Equal(t, models.JsWaitingForParent, child.State)
	})

	t.Run("starts pending when parent already completed", func(t *testing.T) {
		s := store.NewMemoryStore()
		parent := newJob(t, s, models.JtVODWebVideoTranscoding)
		claimJob(t, s, models.JtVODWebVideoTranscoding, 1, "tok")
		require.NoError(t, s.BeginCompletion(ctx, parent.ID))
		require.NoError(t, s.FinishCompletion(ctx, parent.ID))

		child, err := s.CreateJob(ctx, store.CreateJobInput{
			Type:           models.JtVODHLSTranscoding,
			Payload:        []byte(`{}`),
			DependsOnJobID: null.IntFrom(parent.ID),
		})
		require.NoError(t, err)
		assert.Equal(t, models.JsPending, child.State)
	})

	t.Run("unknown parent is not found", func(t *testing.T) {
		s := store.NewMemoryStore()
		_, err := s.CreateJob(ctx, store.CreateJobInput{
			Type:           models.JtVODHLSTranscoding,
			DependsOnJobID: null.IntFrom(999),
		})
		assert.True(t, errors.Is(err, apperrors.ErrNotFound))
	})
}

func TestMemoryStore_Claim(t *testing.T) {
	t.Run("assigns lease credentials", func(t *testing.T) {
		s := store.NewMemoryStore()
		newJob(t, s, models.JtVideoStoryboard)

		claimed := claimJob(t, s, models.JtVideoStoryboard, 7, "secret")
		assert.Equal(t, models.JsProcessing, claimed.State)
		assert.Equal(t, int64(7), claimed.RunnerID.Int64)
		assert.Equal(t, "secret", claimed.JobToken.String)
		assert.True(t, claimed.LastUpdateAt.Valid)
	})

	t.Run("ignores non-matching capabilities", func(t *testing.T) {
		s := store.NewMemoryStore()
		newJob(t, s, models.JtVideoStoryboard)

		claimed, err := s.Claim(ctx, []models.JobType{models.JtLiveRTMPHLSTranscoding}, 7, "secret")
		require.NoError(t, err)
		assert.Nil(t, claimed)
	})

	t.Run("lower priority value wins", func(t *testing.T) {
		s := store.NewMemoryStore()
		_, err := s.CreateJob(ctx, store.CreateJobInput{Type: models.JtVideoStoryboard, Priority: 10})
		require.NoError(t, err)
		urgent, err := s.CreateJob(ctx, store.CreateJobInput{Type: models.JtVideoStoryboard, Priority: 1})
		require.NoError(t, err)

		claimed := claimJob(t, s, models.JtVideoStoryboard, 1, "tok")
		assert.Equal(t, urgent.ID, claimed.ID)
	})

	t.Run("exactly one winner under concurrent claims", func(t *testing.T) {
		s := store.NewMemoryStore()
		job := newJob(t, s, models.JtVideoStoryboard)

		const runners = 16
		var wg sync.WaitGroup
		winners := make(chan int64, runners)

		for i := 0; i < runners; i++ {
			wg.Add(1)
			go func(runnerID int64) {
				defer wg.Done()
				claimed, err := s.Claim(ctx, []models.JobType{models.JtVideoStoryboard}, runnerID, fmt.Sprintf("tok-%d", runnerID))
				assert.NoError(t, err)
				if claimed != nil {
					winners <- runnerID
				}
			}(int64(i + 1))
		}
		wg.Wait()
		close(winners)

		var winnerIDs []int64
		for id := range winners {
			winnerIDs = append(winnerIDs, id)
		}
		require.Len(t, winnerIDs, 1)

		final, err := s.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, winnerIDs[0], final.RunnerID.Int64)
	})
}

func TestMemoryStore_Transitions(t *testing.T) {
	t.Run("record update requires processing", func(t *testing.T) {
		s := store.NewMemoryStore()
		job := newJob(t, s, models.JtVideoStoryboard)

		err := s.RecordUpdate(ctx, job.ID, null.IntFrom(50))
		assert.True(t, errors.Is(err, apperrors.ErrValidation))

		claimJob(t, s, models.JtVideoStoryboard, 1, "tok")
		require.NoError(t, s.RecordUpdate(ctx, job.ID, null.IntFrom(50)))

		got, err := s.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, 50, got.Progress)
	})

	t.Run("completion is two-phase", func(t *testing.T) {
		s := store.NewMemoryStore()
		job := newJob(t, s, models.JtVideoStoryboard)
		claimJob(t, s, models.JtVideoStoryboard, 1, "tok")

		require.NoError(t, s.BeginCompletion(ctx, job.ID))
		got, _ := s.GetJob(ctx, job.ID)
		assert.Equal(t, models.JsCompleting, got.State)

		// idempotent retries of BeginCompletion are rejected, the job is
		// still completable via FinishCompletion
		assert.True(t, errors.Is(s.BeginCompletion(ctx, job.ID), apperrors.ErrValidation))

		require.NoError(t, s.FinishCompletion(ctx, job.ID))
		got, _ = s.GetJob(ctx, job.ID)
		assert.Equal(t, models.JsCompleted, got.State)
		assert.Equal(t, 100, got.Progress)
		assert.True(t, got.FinishedAt.Valid)
	})

	t.Run("fail records the message", func(t *testing.T) {
		s := store.NewMemoryStore()
		job := newJob(t, s, models.JtVideoStoryboard)
		claimJob(t, s, models.JtVideoStoryboard, 1, "tok")

		require.NoError(t, s.FailJob(ctx, job.ID, "ffmpeg exploded"))
		got, _ := s.GetJob(ctx, job.ID)
		assert.Equal(t, models.JsErrored, got.State)
		assert.Equal(t, "ffmpeg exploded", got.Error.String)
	})

	t.Run("cancel only from cancellable states", func(t *testing.T) {
		s := store.NewMemoryStore()
		job := newJob(t, s, models.JtVideoStoryboard)
		claimJob(t, s, models.JtVideoStoryboard, 1, "tok")
		require.NoError(t, s.BeginCompletion(ctx, job.ID))
		require.NoError(t, s.FinishCompletion(ctx, job.ID))

		err := s.CancelJob(ctx, job.ID)
		assert.True(t, errors.Is(err, apperrors.ErrValidation))

		got, _ := s.GetJob(ctx, job.ID)
		assert.Equal(t, models.JsCompleted, got.State)
	})

	t.Run("release clears the lease", func(t *testing.T) {
		s := store.NewMemoryStore()
		job := newJob(t, s, models.JtVideoStoryboard)
		claimJob(t, s, models.JtVideoStoryboard, 1, "tok")
		require.NoError(t, s.RecordUpdate(ctx, job.ID, null.IntFrom(80)))

		require.NoError(t, s.ReleaseJob(ctx, job.ID))
		got, _ := s.GetJob(ctx, job.ID)
		assert.Equal(t, models.JsPending, got.State)
		assert.False(t, got.RunnerID.Valid)
		assert.False(t, got.JobToken.Valid)
		assert.Equal(t, 0, got.Progress)
		assert.False(t, got.LastUpdateAt.Valid)
	})
}

func TestMemoryStore_PromoteChildren(t *testing.T) {
	s := store.NewMemoryStore()
	parent := newJob(t, s, models.JtVODWebVideoTranscoding)
	child, err := s.CreateJob(ctx, store.CreateJobInput{
		Type:           models.JtVODHLSTranscoding,
		DependsOnJobID: null.IntFrom(parent.ID),
	})
	require.NoError(t, err)

	// Parent not completed yet: nothing promoted
	promoted, err := s.PromoteChildren(ctx, parent.ID)
	require.NoError(t, err)
	assert.Zero(t, promoted)

	claimJob(t, s, models.JtVODWebVideoTranscoding, 1, "tok")
	require.NoError(t, s.BeginCompletion(ctx, parent.ID))
	require.NoError(t, s.FinishCompletion(ctx, parent.ID))

	promoted, err = s.PromoteChildren(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), promoted)

	got, _ := s.GetJob(ctx, child.ID)
	assert.Equal(t, models.JsPending, got.State)

	// Promotion happens exactly once
	promoted, err = s.PromoteChildren(ctx, parent.ID)
	require.NoError(t, err)
	assert.Zero(t, promoted)
}

func TestMemoryStore_ReleaseForRunner(t *testing.T) {
	s := store.NewMemoryStore()
	a := newJob(t, s, models.JtVideoStoryboard)
	b := newJob(t, s, models.JtVideoStoryboard)
	claimJob(t, s, models.JtVideoStoryboard, 1, "tok-a")
	claimJob(t, s, models.JtVideoStoryboard, 2, "tok-b")

	released, err := s.ReleaseForRunner(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), released)

	gotA, _ := s.GetJob(ctx, a.ID)
	gotB, _ := s.GetJob(ctx, b.ID)
	assert.Equal(t, models.JsPending, gotA.State)
	assert.Equal(t, models.JsProcessing, gotB.State)
}

func TestMemoryStore_ListStalled(t *testing.T) {
	s := store.NewMemoryStore()
	job := newJob(t, s, models.JtVideoStoryboard)
	claimJob(t, s, models.JtVideoStoryboard, 1, "tok")

	stalled, err := s.ListStalled(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, stalled)

	stalled, err = s.ListStalled(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, stalled, 1)
	assert.Equal(t, job.ID, stalled[0].ID)
}

func TestMemoryStore_DeleteTerminalBefore(t *testing.T) {
	s := store.NewMemoryStore()
	done := newJob(t, s, models.JtVideoStoryboard)
	claimJob(t, s, models.JtVideoStoryboard, 1, "tok")
	require.NoError(t, s.BeginCompletion(ctx, done.ID))
	require.NoError(t, s.FinishCompletion(ctx, done.ID))

	live := newJob(t, s, models.JtVideoStoryboard)

	deleted, err := s.DeleteTerminalBefore(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = s.GetJob(ctx, done.ID)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
	_, err = s.GetJob(ctx, live.ID)
	assert.NoError(t, err)
}

func TestMemoryStore_Runners(t *testing.T) {
	s := store.NewMemoryStore()

	token, err := s.CreateRegistrationToken(ctx, "reg-secret")
	require.NoError(t, err)

	got, err := s.GetRegistrationToken(ctx, "reg-secret")
	require.NoError(t, err)
	assert.Equal(t, token.ID, got.ID)

	runner, err := s.CreateRunner(ctx, "encoder-1", null.StringFrom("rack 4"), "runner-token")
	require.NoError(t, err)

	byToken, err := s.GetRunnerByToken(ctx, "runner-token")
	require.NoError(t, err)
	assert.Equal(t, runner.ID, byToken.ID)

	require.NoError(t, s.TouchRunner(ctx, runner.ID))
	require.NoError(t, s.DeleteRunner(ctx, runner.ID))

	_, err = s.GetRunnerByToken(ctx, "runner-token")
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))

	require.NoError(t, s.DeleteRegistrationToken(ctx, token.ID))
	_, err = s.GetRegistrationToken(ctx, "reg-secret")
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}
