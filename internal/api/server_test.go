package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/guregu/null/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidforge/internal/api"
	"vidforge/internal/config"
	"vidforge/internal/federation"
	"vidforge/internal/handlers"
	"vidforge/internal/models"
	"vidforge/internal/paths"
	"vidforge/internal/registry"
	"vidforge/internal/store"
)

const adminToken = "admin-secret"

type testServer struct {
	server  *api.Server
	store   *store.MemoryStore
	scratch string
	root    string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	root := t.TempDir()
	scratch := t.TempDir()
	memStore := store.NewMemoryStore()
	manager := paths.NewManager(paths.BackendFilesystem, root, scratch, nil)
	reg := registry.New(memStore)

	deps := handlers.Deps{
		Store:    memStore,
		Paths:    manager,
		Notifier: federation.NopNotifier{},
		Live:     handlers.NewMemoryLiveSessions(),
	}
	service := handlers.NewService(memStore, reg, handlers.NewRegistry(deps))

	conf := &config.VFConfig{}
	conf.Server.AdminToken = adminToken

	return &testServer{
		server:  api.New(context.Background(), service, reg, memStore, conf),
		store:   memStore,
		scratch: scratch,
		root:    root,
	}
}

// do sends a JSON request, optionally authorized as admin, and returns the
// recorded response
func (s *testServer) do(t *testing.T, method, path string, body any, admin bool) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if admin {
		req.Header.Set(api.AdminTokenHeader, adminToken)
	}

	rec := httptest.NewRecorder()
	s.server.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var payload T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&payload))
	return payload
}

func (s *testServer) registerRunner(t *testing.T) string {
	t.Helper()

	rec := s.do(t, http.MethodPost, "/api/runners/registration-tokens", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	regToken := decodeBody[models.RegistrationToken](t, rec)

	rec = s.do(t, http.MethodPost, "/api/runners/register", api.RegisterRunnerRequest{
		RegistrationToken: regToken.Secret,
		Name:              "transcode-box-1",
	}, false)
	require.Equal(t, http.StatusOK, rec.Code)
	return decodeBody[api.RunnerResponse](t, rec).Token
}

func (s *testServer) createJob(t *testing.T, jobType models.JobType, private string) api.CreatedJobResponse {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/runners/jobs", api.CreateJobRequest{
		Type:           jobType,
		Payload:        json.RawMessage(`{}`),
		PrivatePayload: json.RawMessage(private),
	}, true)
	require.Equal(t, http.StatusOK, rec.Code)
	return decodeBody[api.CreatedJobResponse](t, rec)
}

func TestRegistration(t *testing.T) {
	s := newTestServer(t)

	t.Run("registration token needs admin auth", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/api/runners/registration-tokens", nil, false)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("register and unregister", func(t *testing.T) {
		token := s.registerRunner(t)
		assert.Contains(t, token, "ptrr-")

		rec := s.do(t, http.MethodPost, "/api/runners/unregister", api.UnregisterRunnerRequest{RunnerToken: token}, false)
		assert.Equal(t, http.StatusNoContent, rec.Code)

		rec = s.do(t, http.MethodPost, "/api/runners/jobs/request", api.RequestJobPayload{RunnerToken: token}, false)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("bad registration token", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/api/runners/register", api.RegisterRunnerRequest{
			RegistrationToken: "ptrt-unknown",
			Name:              "box",
		}, false)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestJobLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	runnerToken := s.registerRunner(t)

	t.Run("request with nothing queued", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/api/runners/jobs/request", api.RequestJobPayload{RunnerToken: runnerToken}, false)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	created := s.createJob(t, models.JtVODWebVideoTranscoding, `{"video_id":"v1","output_key":"v1/720.mp4"}`)
	assert.Equal(t, models.JsPending, created.State)

	rec := s.do(t, http.MethodPost, "/api/runners/jobs/request", api.RequestJobPayload{RunnerToken: runnerToken}, false)
	require.Equal(t, http.StatusOK, rec.Code)
	job := decodeBody[api.JobResponse](t, rec)
	assert.Equal(t, created.UUID, job.UUID)
	assert.Contains(t, job.JobToken, "ptrjt-")

	t.Run("update with a bad lease", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/api/runners/jobs/"+job.UUID+"/update", api.UpdateJobRequest{
			RunnerToken: runnerToken,
			JobToken:    "ptrjt-wrong",
		}, false)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("update progress", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/api/runners/jobs/"+job.UUID+"/update", api.UpdateJobRequest{
			RunnerToken: runnerToken,
			JobToken:    job.JobToken,
			Progress:    null.IntFrom(55),
		}, false)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("success stores the artifact", func(t *testing.T) {
		src := filepath.Join(s.scratch, "720.mp4")
		require.NoError(t, os.WriteFile(src, []byte("rendition"), 0o644))

		result, err := json.Marshal(handlers.VODTranscodeResult{VideoFilePath: src})
		require.NoError(t, err)

		rec := s.do(t, http.MethodPost, "/api/runners/jobs/"+job.UUID+"/success", api.CompleteJobRequest{
			RunnerToken: runnerToken,
			JobToken:    job.JobToken,
			Payload:     result,
		}, false)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.FileExists(t, filepath.Join(s.root, "v1", "720.mp4"))
	})

	t.Run("cancel needs the admin token", func(t *testing.T) {
		other := s.createJob(t, models.JtVODHLSTranscoding, `{"video_id":"v2"}`)

		rec := s.do(t, http.MethodPost, "/api/runners/jobs/"+other.UUID+"/cancel", nil, false)
		assert.Equal(t, http.StatusForbidden, rec.Code)

		rec = s.do(t, http.MethodPost, "/api/runners/jobs/"+other.UUID+"/cancel", nil, true)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})
}

func TestErrorAndAbortOverHTTP(t *testing.T) {
	s := newTestServer(t)
	runnerToken := s.registerRunner(t)

	t.Run("error records the message", func(t *testing.T) {
		created := s.createJob(t, models.JtVideoStoryboard, `{"video_id":"v1"}`)

		rec := s.do(t, http.MethodPost, "/api/runners/jobs/request", api.RequestJobPayload{RunnerToken: runnerToken}, false)
		require.Equal(t, http.StatusOK, rec.Code)
		job := decodeBody[api.JobResponse](t, rec)

		rec = s.do(t, http.MethodPost, "/api/runners/jobs/"+job.UUID+"/error", api.ErrorJobRequest{
			RunnerToken: runnerToken,
			JobToken:    job.JobToken,
		}, false)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = s.do(t, http.MethodPost, "/api/runners/jobs/"+job.UUID+"/error", api.ErrorJobRequest{
			RunnerToken: runnerToken,
			JobToken:    job.JobToken,
			Message:     "ffprobe failed",
		}, false)
		assert.Equal(t, http.StatusNoContent, rec.Code)

		fresh, err := s.store.GetJobByUUID(context.Background(), created.UUID)
		require.NoError(t, err)
		assert.Equal(t, models.JsErrored, fresh.State)
	})

	t.Run("abort releases the claim", func(t *testing.T) {
		created := s.createJob(t, models.JtVODHLSTranscoding, `{"video_id":"v2"}`)

		rec := s.do(t, http.MethodPost, "/api/runners/jobs/request", api.RequestJobPayload{RunnerToken: runnerToken}, false)
		require.Equal(t, http.StatusOK, rec.Code)
		job := decodeBody[api.JobResponse](t, rec)

		rec = s.do(t, http.MethodPost, "/api/runners/jobs/"+job.UUID+"/abort", api.AbortJobRequest{
			RunnerToken: runnerToken,
			JobToken:    job.JobToken,
		}, false)
		assert.Equal(t, http.StatusNoContent, rec.Code)

		fresh, err := s.store.GetJobByUUID(context.Background(), created.UUID)
		require.NoError(t, err)
		assert.Equal(t, models.JsPending, fresh.State)
		assert.False(t, fresh.RunnerID.Valid)
	})
}

func TestCreateJobWithParentOverHTTP(t *testing.T) {
	s := newTestServer(t)

	parent := s.createJob(t, models.JtVODWebVideoTranscoding, `{"video_id":"v1"}`)

	rec := s.do(t, http.MethodPost, "/api/runners/jobs", api.CreateJobRequest{
		Type:           models.JtVideoStoryboard,
		Payload:        json.RawMessage(`{}`),
		PrivatePayload: json.RawMessage(`{"video_id":"v1"}`),
		DependsOnJob:   null.StringFrom(parent.UUID),
	}, true)
	require.Equal(t, http.StatusOK, rec.Code)
	child := decodeBody[api.CreatedJobResponse](t, rec)
	assert.Equal(t, models.JsWaitingForParent, child.State)
}
