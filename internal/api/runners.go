package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/guregu/null/v6"
	"github.com/rs/zerolog/log"

	"vidforge/internal/apperrors"
	"vidforge/internal/handlers"
	"vidforge/internal/registry"
	"vidforge/internal/store"
)

// AdminTokenHeader authorizes the owner-side endpoints: job creation,
// cancellation and registration token management
const AdminTokenHeader = "X-Vidforge-Admin-Token"

type RunnerRouter struct {
	service    *handlers.Service
	registry   *registry.Registry
	store      store.Store
	adminToken string
	router     chi.Router
}

func (t *RunnerRouter) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	t.router.ServeHTTP(writer, request)
}

func NewRunnerRouter(service *handlers.Service, reg *registry.Registry, st store.Store, adminToken string, router chi.Router) *RunnerRouter {
	r := &RunnerRouter{
		service:    service,
		registry:   reg,
		store:      st,
		adminToken: adminToken,
		router:     router,
	}

	r.router.Post("/register", r.Register)
	r.router.Post("/unregister", r.Unregister)

	r.router.Post("/registration-tokens", r.GenerateRegistrationToken)
	r.router.Delete("/registration-tokens/{id}", r.RevokeRegistrationToken)

	r.router.Post("/jobs", r.CreateJob)
	r.router.Post("/jobs/request", r.RequestJob)
	r.router.Post("/jobs/{uuid}/update", r.UpdateJob)
	r.router.Post("/jobs/{uuid}/success", r.CompleteJob)
	r.router.Post("/jobs/{uuid}/error", r.ErrorJob)
	r.router.Post("/jobs/{uuid}/abort", r.AbortJob)
	r.router.Post("/jobs/{uuid}/cancel", r.CancelJob)

	return r
}

func (t *RunnerRouter) Register(w http.ResponseWriter, r *http.Request) {
	var payload RegisterRunnerRequest
	if err := readJson(w, r, &payload); err != nil {
		return
	}

	runner, err := t.registry.Register(r.Context(), payload.RegistrationToken, payload.Name, payload.Description)
	if err != nil {
		serveError(w, err)
		return
	}
	serveJson(w, RunnerResponse{ID: runner.ID, Name: runner.Name, Token: runner.Token})
}

func (t *RunnerRouter) Unregister(w http.ResponseWriter, r *http.Request) {
	var payload UnregisterRunnerRequest
	if err := readJson(w, r, &payload); err != nil {
		return
	}

	runner, err := t.registry.Authenticate(r.Context(), payload.RunnerToken)
	if err != nil {
		serveError(w, err)
		return
	}
	if err := t.registry.Revoke(r.Context(), runner.ID); err != nil {
		serveError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (t *RunnerRouter) GenerateRegistrationToken(w http.ResponseWriter, r *http.Request) {
	if !t.requireAdmin(w, r) {
		return
	}

	token, err := t.registry.GenerateRegistrationToken(r.Context())
	if err != nil {
		serveError(w, err)
		return
	}
	serveJson(w, token)
}

func (t *RunnerRouter) RevokeRegistrationToken(w http.ResponseWriter, r *http.Request) {
	if !t.requireAdmin(w, r) {
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		serveError(w, apperrors.Validation("id", "id must be an integer"))
		return
	}
	if err := t.registry.RevokeRegistrationToken(r.Context(), id); err != nil {
		serveError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (t *RunnerRouter) CreateJob(w http.ResponseWriter, r *http.Request) {
	if !t.requireAdmin(w, r) {
		return
	}

	var payload CreateJobRequest
	if err := readJson(w, r, &payload); err != nil {
		return
	}

	in := store.CreateJobInput{
		Type:           payload.Type,
		Payload:        payload.Payload,
		PrivatePayload: payload.PrivatePayload,
		Priority:       payload.Priority,
	}
	if payload.DependsOnJob.Valid {
		parent, err := t.store.GetJobByUUID(r.Context(), payload.DependsOnJob.String)
		if err != nil {
			serveError(w, err)
			return
		}
		in.DependsOnJobID = null.IntFrom(parent.ID)
	}

	job, err := t.service.CreateJob(r.Context(), in)
	if err != nil {
		serveError(w, err)
		return
	}
	serveJson(w, CreatedJobResponse{UUID: job.UUID, Type: job.Type, State: job.State, CreatedAt: job.CreatedAt})
}

// RequestJob hands out a claim. No job available is not an error, the
// runner simply gets nothing to do.
func (t *RunnerRouter) RequestJob(w http.ResponseWriter, r *http.Request) {
	var payload RequestJobPayload
	if err := readJson(w, r, &payload); err != nil {
		return
	}

	job, err := t.service.RequestJob(r.Context(), payload.RunnerToken, payload.Types)
	if err != nil {
		serveError(w, err)
		return
	}
	if job == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	serveJson(w, newJobResponse(*job))
}

func (t *RunnerRouter) UpdateJob(w http.ResponseWriter, r *http.Request) {
	var payload UpdateJobRequest
	if err := readJson(w, r, &payload); err != nil {
		return
	}

	uuid := chi.URLParam(r, "uuid")
	if err := t.service.UpdateJob(r.Context(), payload.RunnerToken, uuid, payload.JobToken, payload.Progress, payload.Payload); err != nil {
		serveError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (t *RunnerRouter) CompleteJob(w http.ResponseWriter, r *http.Request) {
	var payload CompleteJobRequest
	if err := readJson(w, r, &payload); err != nil {
		return
	}

	uuid := chi.URLParam(r, "uuid")
	if err := t.service.CompleteJob(r.Context(), payload.RunnerToken, uuid, payload.JobToken, payload.Payload); err != nil {
		serveError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (t *RunnerRouter) ErrorJob(w http.ResponseWriter, r *http.Request) {
	var payload ErrorJobRequest
	if err := readJson(w, r, &payload); err != nil {
		return
	}
	if payload.Message == "" {
		serveError(w, apperrors.Validation("message", "message is required"))
		return
	}

	uuid := chi.URLParam(r, "uuid")
	if err := t.service.ErrorJob(r.Context(), payload.RunnerToken, uuid, payload.JobToken, payload.Message); err != nil {
		serveError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (t *RunnerRouter) AbortJob(w http.ResponseWriter, r *http.Request) {
	var payload AbortJobRequest
	if err := readJson(w, r, &payload); err != nil {
		return
	}

	uuid := chi.URLParam(r, "uuid")
	if err := t.service.AbortJob(r.Context(), payload.RunnerToken, uuid, payload.JobToken, payload.Reason); err != nil {
		serveError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (t *RunnerRouter) CancelJob(w http.ResponseWriter, r *http.Request) {
	if !t.requireAdmin(w, r) {
		return
	}

	uuid := chi.URLParam(r, "uuid")
	if err := t.service.CancelJob(r.Context(), uuid); err != nil {
		serveError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (t *RunnerRouter) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if t.adminToken == "" {
		log.Warn().Msg("Admin endpoint hit but no admin token is configured")
		serveError(w, apperrors.Authorization("admin", "admin surface is disabled"))
		return false
	}
	if r.Header.Get(AdminTokenHeader) != t.adminToken {
		serveError(w, apperrors.Authorization("admin", "invalid admin token"))
		return false
	}
	return true
}
