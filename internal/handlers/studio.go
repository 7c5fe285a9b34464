package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"vidforge/internal/apperrors"
	"vidforge/internal/models"
	"vidforge/internal/paths"
	"vidforge/internal/store"
)

// StudioEditHandler finalizes studio edition jobs. The runner applies the
// ordered edit tasks and uploads one edited video which replaces the source
// rendition on completion.
type StudioEditHandler struct {
	deps Deps
}

func NewStudioEditHandler(deps Deps) *StudioEditHandler {
	return &StudioEditHandler{deps: deps}
}

func (h *StudioEditHandler) Type() models.JobType { return models.JtVideoStudioTranscoding }
func (h *StudioEditHandler) AbortSupported() bool { return true }

func (h *StudioEditHandler) Create(_ context.Context, in store.CreateJobInput) error {
	payload, err := decodePayload[StudioEditPayload](in.Payload, "payload")
	if err != nil {
		return err
	}
	for i, task := range payload.Tasks {
		if task.Name == "" {
			return apperrors.Validation("tasks", fmt.Sprintf("task %d has no name", i+1))
		}
	}
	private, err := decodePayload[StudioEditPrivate](in.PrivatePayload, "private payload")
	if err != nil {
		return err
	}
	if private.VideoID == "" {
		return apperrors.Validation("video_id", "video_id is required")
	}
	return nil
}

func (h *StudioEditHandler) Update(context.Context, models.RunnerJob, json.RawMessage) error {
	return nil
}

func (h *StudioEditHandler) Complete(ctx context.Context, job models.RunnerJob, payload json.RawMessage) error {
	private, err := decodePayload[StudioEditPrivate](job.PrivatePayload, "private payload")
	if err != nil {
		return err
	}
	result, err := decodePayload[StudioEditResult](payload, "result payload")
	if err != nil {
		return err
	}
	if result.VideoFilePath == "" {
		return apperrors.Validation("video_file_path", "video_file_path is required")
	}

	err = h.deps.Paths.WithVideoLock(private.VideoID, func() error {
		return h.deps.Paths.Store(ctx, paths.FileRef{VideoID: private.VideoID, Key: private.OutputKey}, result.VideoFilePath)
	})
	if err != nil {
		return err
	}

	log.Info().
		Str("job", job.UUID).
		Str("video_id", private.VideoID).
		Str("key", private.OutputKey).
		Msg("Stored edited video")
	return notifyVideoChanged(ctx, h.deps, job, private.VideoID)
}

func (h *StudioEditHandler) Error(context.Context, models.RunnerJob) error  { return nil }
func (h *StudioEditHandler) Cancel(context.Context, models.RunnerJob) error { return nil }
func (h *StudioEditHandler) Abort(context.Context, models.RunnerJob) error  { return nil }
