package apperrors_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"vidforge/internal/apperrors"
)

func TestErrorClassification(t *testing.T) {
	t.Run("validation", func(t *testing.T) {
		err := apperrors.Validation("name", "name is empty")
		assert.True(t, errors.Is(err, apperrors.ErrValidation))
		assert.Equal(t, "name is empty", err.Error())
	})

	t.Run("not found", func(t *testing.T) {
		err := apperrors.NotFound("job", "abc")
		assert.True(t, errors.Is(err, apperrors.ErrNotFound))
		assert.Equal(t, "job abc not found", err.Error())
	})

	t.Run("authorization", func(t *testing.T) {
		err := apperrors.Authorization("job", "job token mismatch")
		assert.True(t, errors.Is(err, apperrors.ErrAuthorization))
	})

	t.Run("conflict", func(t *testing.T) {
		err := apperrors.Conflict("job", "job already claimed")
		assert.True(t, errors.Is(err, apperrors.ErrConflict))
	})

	t.Run("internal wraps cause", func(t *testing.T) {
		cause := fmt.Errorf("disk full")
		err := apperrors.Internal("paths.materialize", cause)
		assert.True(t, errors.Is(err, apperrors.ErrInternal))

		var appErr *apperrors.Error
		assert.True(t, errors.As(err, &appErr))
		assert.Equal(t, cause, appErr.Cause)
	})
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{apperrors.Validation("payload", "bad payload"), http.StatusBadRequest},
		{apperrors.NotFound("runner", "1"), http.StatusNotFound},
		{apperrors.Authorization("job", "stale lease"), http.StatusForbidden},
		{apperrors.Conflict("job", "already claimed"), http.StatusConflict},
		{apperrors.Upstream("job", "runner reported failure"), http.StatusInternalServerError},
		{errors.New("anything else"), http.StatusInternalServerError},
	}

	for _, c := range cases {
		assert.Equal(t, c.status, apperrors.HTTPStatus(c.err))
	}
}
