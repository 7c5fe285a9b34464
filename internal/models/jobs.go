package models

import (
	"time"

	"github.com/guregu/null/v6"
)

// This file contains all the models under the `runners` schema

type JobType string

const (
	JtVODWebVideoTranscoding JobType = "vod-web-video-transcoding"
	JtVODHLSTranscoding      JobType = "vod-hls-transcoding"
	JtLiveRTMPHLSTranscoding JobType = "live-rtmp-hls-transcoding"
	JtVideoStoryboard        JobType = "video-storyboard"
	JtVideoStudioTranscoding JobType = "video-studio-transcoding"
)

// KnownJobTypes lists every job type the platform can hand out to runners
var KnownJobTypes = []JobType{
	JtVODWebVideoTranscoding,
	JtVODHLSTranscoding,
	JtLiveRTMPHLSTranscoding,
	JtVideoStoryboard,
	JtVideoStudioTranscoding,
}

func IsKnownJobType(t JobType) bool {
	for _, known := range KnownJobTypes {
		if t == known {
			return true
		}
	}
	return false
}

type JobState string

const (
	JsPending          JobState = "pending"
	JsWaitingForParent JobState = "waiting-for-parent-job"
	JsProcessing       JobState = "processing"
	JsCompleting       JobState = "completing"
	JsCompleted        JobState = "completed"
	JsErrored          JobState = "errored"
	JsCancelled        JobState = "cancelled"
)

// IsTerminal returns true once a job can never change state again
func (s JobState) IsTerminal() bool {
	return s == JsCompleted || s == JsErrored || s == JsCancelled
}

// IsCancellable returns true for the states the owning system may cancel from
func (s JobState) IsCancellable() bool {
	return s == JsPending || s == JsProcessing || s == JsWaitingForParent
}

// RunnerJob is a models representing the `runners.job` table
type RunnerJob struct {
	ID             int64       `db:"id"`
	UUID           string      `db:"uuid"`
	Type           JobType     `db:"type"`
	State          JobState    `db:"state"`
	Payload        []byte      `db:"payload"`         // JSON sent to the runner on claim
	PrivatePayload []byte      `db:"private_payload"` // JSON kept server-side, never transmitted
	Progress       int         `db:"progress"`
	Priority       int         `db:"priority"`
	RunnerID       null.Int    `db:"runner_id"`
	JobToken       null.String `db:"job_token"`
	DependsOnJobID null.Int    `db:"depends_on_job_id"`
	Error          null.String `db:"error"`
	LastUpdateAt   null.Time   `db:"last_update_at"`
	FinishedAt     null.Time   `db:"finished_at"`
	CreatedAt      time.Time   `db:"created_at"`
	UpdatedAt      time.Time   `db:"updated_at"`
}

// HoldsLease reports whether job lease credentials match the given pair.
// Both fields must be set; a cleared lease never matches anything.
func (j *RunnerJob) HoldsLease(runnerID int64, jobToken string) bool {
	return j.RunnerID.Valid && j.JobToken.Valid &&
		j.RunnerID.Int64 == runnerID && j.JobToken.String == jobToken
}

// Storyboard is a models representing the `runners.storyboard` table, the
// derived record written when a storyboard job completes
type Storyboard struct {
	ID           int64     `db:"id"`
	VideoID      string    `db:"video_id"`
	Key          string    `db:"key"` // object key of the sprite image
	SpriteWidth  int       `db:"sprite_width"`
	SpriteHeight int       `db:"sprite_height"`
	SpriteCount  int       `db:"sprite_count"`
	CreatedAt    time.Time `db:"created_at"`
}
