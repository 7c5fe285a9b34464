package handlers

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"vidforge/internal/apperrors"
	"vidforge/internal/models"
	"vidforge/internal/paths"
	"vidforge/internal/store"
)

// VODTranscodeHandler finalizes web video and HLS transcoding jobs. Both
// kinds produce a single rendition file; the only difference is the type tag
// the runner filters on, so one handler serves both.
type VODTranscodeHandler struct {
	deps    Deps
	jobType models.JobType
}

func NewVODTranscodeHandler(deps Deps, jobType models.JobType) *VODTranscodeHandler {
	return &VODTranscodeHandler{deps: deps, jobType: jobType}
}

func (h *VODTranscodeHandler) Type() models.JobType { return h.jobType }
func (h *VODTranscodeHandler) AbortSupported() bool { return true }

// Create checks the payload shapes before the job row is written
func (h *VODTranscodeHandler) Create(_ context.Context, in store.CreateJobInput) error {
	if _, err := decodePayload[VODTranscodePayload](in.Payload, "payload"); err != nil {
		return err
	}
	private, err := decodePayload[VODTranscodePrivate](in.PrivatePayload, "private payload")
	if err != nil {
		return err
	}
	if private.VideoID == "" {
		return apperrors.Validation("video_id", "video_id is required")
	}
	return nil
}

// Update has no side effects for transcoding jobs. Progress is recorded by
// the caller before dispatch.
func (h *VODTranscodeHandler) Update(context.Context, models.RunnerJob, json.RawMessage) error {
	return nil
}

// Complete moves the uploaded rendition into permanent storage under the
// video's lock and raises the federation event
func (h *VODTranscodeHandler) Complete(ctx context.Context, job models.RunnerJob, payload json.RawMessage) error {
	private, err := decodePayload[VODTranscodePrivate](job.PrivatePayload, "private payload")
	if err != nil {
		return err
	}
	result, err := decodePayload[VODTranscodeResult](payload, "result payload")
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
		Msg("Stored transcoded rendition")
	return notifyVideoChanged(ctx, h.deps, job, private.VideoID)
}

// Error, Cancel and Abort have nothing to undo: a transcoding job writes no
// durable artifact before Complete.
func (h *VODTranscodeHandler) Error(context.Context, models.RunnerJob) error  { return nil }
func (h *VODTranscodeHandler) Cancel(context.Context, models.RunnerJob) error { return nil }
func (h *VODTranscodeHandler) Abort(context.Context, models.RunnerJob) error  { return nil }
