package api

import (
	"encoding/json"
	"time"

	"github.com/guregu/null/v6"

	"vidforge/internal/models"
)

type RegisterRunnerRequest struct {
	RegistrationToken string      `json:"registration_token"`
	Name              string      `json:"name"`
	Description       null.String `json:"description"`
}

type RunnerResponse struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Token string `json:"token"`
}

type RequestJobPayload struct {
	RunnerToken string           `json:"runner_token"`
	Types       []models.JobType `json:"types"`
}

// JobResponse is the claimed job as the runner sees it. The private payload
// stays server-side and is deliberately absent.
type JobResponse struct {
	UUID     string          `json:"uuid"`
	Type     models.JobType  `json:"type"`
	State    models.JobState `json:"state"`
	Progress int             `json:"progress"`
	Priority int             `json:"priority"`
	Payload  json.RawMessage `json:"payload"`
	JobToken string          `json:"job_token"`
}

func newJobResponse(job models.RunnerJob) JobResponse {
	return JobResponse{
		UUID:     job.UUID,
		Type:     job.Type,
		State:    job.State,
		Progress: job.Progress,
		Priority: job.Priority,
		Payload:  job.Payload,
		JobToken: job.JobToken.String,
	}
}

type UpdateJobRequest struct {
	RunnerToken string          `json:"runner_token"`
	JobToken    string          `json:"job_token"`
	Progress    null.Int        `json:"progress"`
	Payload     json.RawMessage `json:"payload"`
}

type CompleteJobRequest struct {
	RunnerToken string          `json:"runner_token"`
	JobToken    string          `json:"job_token"`
	Payload     json.RawMessage `json:"payload"`
}

type ErrorJobRequest struct {
	RunnerToken string `json:"runner_token"`
	JobToken    string `json:"job_token"`
	Message     string `json:"message"`
}

type AbortJobRequest struct {
	RunnerToken string `json:"runner_token"`
	JobToken    string `json:"job_token"`
	Reason      string `json:"reason"`
}

type UnregisterRunnerRequest struct {
	RunnerToken string `json:"runner_token"`
}

type CreateJobRequest struct {
	Type           models.JobType  `json:"type"`
	Payload        json.RawMessage `json:"payload"`
	PrivatePayload json.RawMessage `json:"private_payload"`
	Priority       int             `json:"priority"`
	DependsOnJob   null.String     `json:"depends_on_job"` // parent job uuid
}

type CreatedJobResponse struct {
	UUID      string          `json:"uuid"`
	Type      models.JobType  `json:"type"`
	State     models.JobState `json:"state"`
	CreatedAt time.Time       `json:"created_at"`
}
