package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"strings"

	"github.com/rs/zerolog/log"

	"vidforge/internal/apperrors"
	"vidforge/internal/models"
	"vidforge/internal/paths"
	"vidforge/internal/store"
)

// LivePackageHandler applies incremental HLS packaging results of a live
// RTMP session. Segments and playlists become durable as the stream runs, so
// the kind does not support abort: a reassigned runner could not resume the
// feed and viewers would lose the stream anyway.
type LivePackageHandler struct {
	deps Deps
}

func NewLivePackageHandler(deps Deps) *LivePackageHandler {
	return &LivePackageHandler{deps: deps}
}

func (h *LivePackageHandler) Type() models.JobType { return models.JtLiveRTMPHLSTranscoding }
func (h *LivePackageHandler) AbortSupported() bool { return false }

// Create checks the payload shapes and the session binding before the job
// row is written
func (h *LivePackageHandler) Create(_ context.Context, in store.CreateJobInput) error {
	payload, err := decodePayload[LivePackagePayload](in.Payload, "payload")
	if err != nil {
		return err
	}
	if payload.RTMPUrl == "" {
		return apperrors.Validation("rtmp_url", "rtmp_url is required")
	}
	private, err := decodePayload[LivePackagePrivate](in.PrivatePayload, "private payload")
	if err != nil {
		return err
	}
	if private.VideoID == "" {
		return apperrors.Validation("video_id", "video_id is required")
	}
	if private.SessionID == "" {
		return apperrors.Validation("session_id", "session_id is required")
	}
	return nil
}

// Update applies one packaging increment: added segments become durable
// first, removed segments are deleted, then the playlist revision is applied.
// A playlist referencing a segment that is not durable is rejected so
// viewers never fetch a manifest pointing at a missing file.
func (h *LivePackageHandler) Update(ctx context.Context, job models.RunnerJob, payload json.RawMessage) error {
	private, err := decodePayload[LivePackagePrivate](job.PrivatePayload, "private payload")
	if err != nil {
		return err
	}
	update, err := decodePayload[LiveUpdatePayload](payload, "update payload")
	if err != nil {
		return err
	}
	if err := update.validate(); err != nil {
		return apperrors.Validation("update payload", err.Error())
	}

	return h.deps.Paths.WithVideoLock(private.VideoID, func() error {
		for _, seg := range update.AddedSegments {
			ref := h.segmentRef(private, seg.Name)
			if err := h.deps.Paths.Store(ctx, ref, seg.ScratchPath); err != nil {
				return err
			}
		}
		for _, name := range update.RemovedSegments {
			if err := h.deps.Paths.Remove(ctx, h.segmentRef(private, name)); err != nil {
				return err
			}
		}
		if update.Playlist != nil {
			return h.applyPlaylist(ctx, private, *update.Playlist)
		}
		return nil
	})
}

// applyPlaylist validates every media segment the manifest references before
// making the revision durable
func (h *LivePackageHandler) applyPlaylist(ctx context.Context, private LivePackagePrivate, playlist PlaylistUpload) error {
	segments, err := playlistSegments(playlist.ScratchPath)
	if err != nil {
		return err
	}
	for _, name := range segments {
		if !h.deps.Paths.Exists(ctx, h.segmentRef(private, name)) {
			return apperrors.Validation("playlist", "playlist references missing segment "+name)
		}
	}
	return h.deps.Paths.Store(ctx, h.segmentRef(private, playlist.Name), playlist.ScratchPath)
}

// Complete ends the originating session and raises the federation event. A
// final playlist revision may be included.
func (h *LivePackageHandler) Complete(ctx context.Context, job models.RunnerJob, payload json.RawMessage) error {
	private, err := decodePayload[LivePackagePrivate](job.PrivatePayload, "private payload")
	if err != nil {
		return err
	}
	result, err := decodePayload[LiveCompleteResult](payload, "result payload")
	if err != nil {
		return err
	}

	if result.Playlist != nil {
		err = h.deps.Paths.WithVideoLock(private.VideoID, func() error {
			return h.applyPlaylist(ctx, private, *result.Playlist)
		})
		if err != nil {
			return err
		}
	}

	if err := h.deps.Live.EndSession(ctx, private.SessionID, LiveEndEnded); err != nil {
		return apperrors.Upstream("live session", err.Error())
	}
	log.Info().Str("job", job.UUID).Str("session_id", private.SessionID).Msg("Live session ended")
	return notifyVideoChanged(ctx, h.deps, job, private.VideoID)
}

func (h *LivePackageHandler) Error(ctx context.Context, job models.RunnerJob) error {
	return h.endSession(ctx, job, LiveEndRunnerError)
}

func (h *LivePackageHandler) Cancel(ctx context.Context, job models.RunnerJob) error {
	return h.endSession(ctx, job, LiveEndCancelled)
}

func (h *LivePackageHandler) Abort(context.Context, models.RunnerJob) error {
	return apperrors.Validation("type", "live packaging jobs cannot be aborted")
}

func (h *LivePackageHandler) endSession(ctx context.Context, job models.RunnerJob, reason LiveEndReason) error {
	private, err := decodePayload[LivePackagePrivate](job.PrivatePayload, "private payload")
	if err != nil {
		return err
	}
	if err := h.deps.Live.EndSession(ctx, private.SessionID, reason); err != nil {
		return apperrors.Upstream("live session", err.Error())
	}
	return nil
}

func (h *LivePackageHandler) segmentRef(private LivePackagePrivate, name string) paths.FileRef {
	return paths.FileRef{VideoID: private.VideoID, Key: private.OutputPrefix + "/" + name}
}

// playlistSegments extracts the media segment names an HLS manifest refers
// to. Tag and comment lines start with '#'.
func playlistSegments(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.Internal("handlers.playlist", err)
	}
	defer f.Close()

	var segments []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		segments = append(segments, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, apperrors.Internal("handlers.playlist", err)
	}
	return segments, nil
}
