package federation

import (
	"context"
	"time"
)

// VideoChangedEvent announces that a job finished and altered a video. The
// federation layer consumes these and broadcasts to remote servers; this
// core only guarantees the event is raised, not that it is delivered.
type VideoChangedEvent struct {
	VideoID   string    `json:"video_id"`
	JobUUID   string    `json:"job_uuid"`
	JobType   string    `json:"job_type"`
	ChangedAt time.Time `json:"changed_at"`
}

// Notifier defines the interface for raising federation events
type Notifier interface {
	NotifyVideoChanged(ctx context.Context, event VideoChangedEvent) error
	Close() error
}

// NopNotifier discards events. Used when federation is disabled and in tests.
type NopNotifier struct{}

func (NopNotifier) NotifyVideoChanged(context.Context, VideoChangedEvent) error { return nil }
func (NopNotifier) Close() error                                                { return nil }
