package handlers

import (
	"errors"
	"fmt"
	"strings"
)

// Public payloads are sent to the runner on claim. Private payloads stay on
// the server and are never serialized into a protocol response.

// VODTranscodePayload tells a runner which rendition to produce
type VODTranscodePayload struct {
	InputKey   string `json:"input_key"` // object key of the source file
	Resolution int    `json:"resolution"`
	FPS        int    `json:"fps"`
}

// VODTranscodePrivate holds what the server needs to finish the job
type VODTranscodePrivate struct {
	VideoID   string `json:"video_id"`
	OutputKey string `json:"output_key"`
}

// VODTranscodeResult is the payload of the runner's success call. The scratch
// path points at the uploaded artifact staged by the transport layer.
type VODTranscodeResult struct {
	VideoFilePath string `json:"video_file_path"`
}

// LivePackagePayload tells a runner where to pull the RTMP feed from
type LivePackagePayload struct {
	RTMPUrl     string `json:"rtmp_url"`
	Resolutions []int  `json:"resolutions"`
	SegmentSecs int    `json:"segment_secs"`
}

type LivePackagePrivate struct {
	VideoID      string `json:"video_id"`
	SessionID    string `json:"session_id"`
	OutputPrefix string `json:"output_prefix"` // object key prefix of the session dir
}

// SegmentUpload stages one HLS media segment produced by the runner
type SegmentUpload struct {
	Name        string `json:"name"`
	ScratchPath string `json:"scratch_path"`
}

// PlaylistUpload stages a manifest revision. Every segment it references
// must already be durable when it is applied.
type PlaylistUpload struct {
	Name        string `json:"name"`
	ScratchPath string `json:"scratch_path"`
}

// LiveUpdatePayload is one incremental update of a live packaging job.
// Added and removed segments are independent idempotent operations.
type LiveUpdatePayload struct {
	AddedSegments   []SegmentUpload `json:"added_segments"`
	RemovedSegments []string        `json:"removed_segments"`
	Playlist        *PlaylistUpload `json:"playlist"`
}

func (p *LiveUpdatePayload) validate() error {
	var errs []error
	for i, seg := range p.AddedSegments {
		if strings.TrimSpace(seg.Name) == "" {
			errs = append(errs, fmt.Errorf("added segment %d has an empty name", i+1))
		}
		if strings.TrimSpace(seg.ScratchPath) == "" {
			errs = append(errs, fmt.Errorf("added segment %d has an empty scratch path", i+1))
		}
	}
	for i, name := range p.RemovedSegments {
		if strings.TrimSpace(name) == "" {
			errs = append(errs, fmt.Errorf("removed segment %d has an empty name", i+1))
		}
	}
	if p.Playlist != nil && strings.TrimSpace(p.Playlist.ScratchPath) == "" {
		errs = append(errs, errors.New("playlist has an empty scratch path"))
	}
	return errors.Join(errs...)
}

// LiveCompleteResult closes out a live session once the stream ends
type LiveCompleteResult struct {
	Playlist *PlaylistUpload `json:"playlist"`
}

// StoryboardPayload tells a runner to generate a sprite sheet
type StoryboardPayload struct {
	InputKey     string `json:"input_key"`
	SpriteWidth  int    `json:"sprite_width"`
	SpriteHeight int    `json:"sprite_height"`
}

type StoryboardPrivate struct {
	VideoID   string `json:"video_id"`
	OutputKey string `json:"output_key"`
}

// StoryboardResult carries the generated sprite image
type StoryboardResult struct {
	StoryboardFilePath string `json:"storyboard_file_path"`
	SpriteCount        int    `json:"sprite_count"`
}

// StudioEditTask is one edition operation applied in order
type StudioEditTask struct {
	Name     string `json:"name"` // cut, add-intro, add-outro, add-watermark
	StartMS  int64  `json:"start_ms,omitempty"`
	EndMS    int64  `json:"end_ms,omitempty"`
	AssetKey string `json:"asset_key,omitempty"`
}

// StudioEditPayload tells a runner which edition tasks to run on the source
type StudioEditPayload struct {
	InputKey string           `json:"input_key"`
	Tasks    []StudioEditTask `json:"tasks"`
}

type StudioEditPrivate struct {
	VideoID   string `json:"video_id"`
	OutputKey string `json:"output_key"`
}

// StudioEditResult is the edited video produced by the runner
type StudioEditResult struct {
	VideoFilePath string `json:"video_file_path"`
}
