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

// StoryboardHandler finalizes sprite sheet generation jobs. Completion moves
// the sprite image into storage and records the storyboard's geometry so
// players can map a timestamp to a sprite cell.
type StoryboardHandler struct {
	deps Deps
}

func NewStoryboardHandler(deps Deps) *StoryboardHandler {
	return &StoryboardHandler{deps: deps}
}

func (h *StoryboardHandler) Type() models.JobType { return models.JtVideoStoryboard }
func (h *StoryboardHandler) AbortSupported() bool { return true }

func (h *StoryboardHandler) Create(_ context.Context, in store.CreateJobInput) error {
	if _, err := decodePayload[StoryboardPayload](in.Payload, "payload"); err != nil {
		return err
	}
	private, err := decodePayload[StoryboardPrivate](in.PrivatePayload, "private payload")
	if err != nil {
		return err
	}
	if private.VideoID == "" {
		return apperrors.Validation("video_id", "video_id is required")
	}
	return nil
}

func (h *StoryboardHandler) Update(context.Context, models.RunnerJob, json.RawMessage) error {
	return nil
}

func (h *StoryboardHandler) Complete(ctx context.Context, job models.RunnerJob, payload json.RawMessage) error {
	public, err := decodePayload[StoryboardPayload](job.Payload, "payload")
	if err != nil {
		return err
	}
	private, err := decodePayload[StoryboardPrivate](job.PrivatePayload, "private payload")
	if err != nil {
		return err
	}
	result, err := decodePayload[StoryboardResult](payload, "result payload")
	if err != nil {
		return err
	}
	if result.StoryboardFilePath == "" {
		return apperrors.Validation("storyboard_file_path", "storyboard_file_path is required")
	}
	if result.SpriteCount <= 0 {
		return apperrors.Validation("sprite_count", "sprite_count must be positive")
	}

	err = h.deps.Paths.WithVideoLock(private.VideoID, func() error {
		return h.deps.Paths.Store(ctx, paths.FileRef{VideoID: private.VideoID, Key: private.OutputKey}, result.StoryboardFilePath)
	})
	if err != nil {
		return err
	}

	if _, err := h.deps.Store.CreateStoryboard(ctx, models.Storyboard{
		VideoID:      private.VideoID,
		Key:          private.OutputKey,
		SpriteWidth:  public.SpriteWidth,
		SpriteHeight: public.SpriteHeight,
		SpriteCount:  result.SpriteCount,
	}); err != nil {
		return err
	}

	log.Info().
		Str("job", job.UUID).
		Str("video_id", private.VideoID).
		Int("sprites", result.SpriteCount).
		Msg("Stored storyboard")
	return notifyVideoChanged(ctx, h.deps, job, private.VideoID)
}

func (h *StoryboardHandler) Error(context.Context, models.RunnerJob) error  { return nil }
func (h *StoryboardHandler) Cancel(context.Context, models.RunnerJob) error { return nil }
func (h *StoryboardHandler) Abort(context.Context, models.RunnerJob) error  { return nil }
