// Package registry manages runner identities and the registration tokens
// that authorize creating them.
package registry

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/guregu/null/v6"
	"github.com/rs/zerolog/log"
	"vidforge/internal/apperrors"
	"vidforge/internal/models"
	"vidforge/internal/store"
)

const maxNameLength = 120

// Registry validates registration tokens and issues runner identities
type Registry struct {
	store store.Store
}

func New(s store.Store) *Registry {
	return &Registry{store: s}
}

// GenerateRegistrationToken mints a new reusable onboarding secret
func (r *Registry) GenerateRegistrationToken(ctx context.Context) (models.RegistrationToken, error) {
	return r.store.CreateRegistrationToken(ctx, "ptrt-"+uuid.New().String())
}

// RevokeRegistrationToken deletes the token so it can no longer mint runners
func (r *Registry) RevokeRegistrationToken(ctx context.Context, id int64) error {
	return r.store.DeleteRegistrationToken(ctx, id)
}

// Register redeems a registration token, minting a fresh runner identity with
// its own long-lived secret. The registration token stays valid for further
// registrations until revoked.
func (r *Registry) Register(ctx context.Context, registrationTokenSecret, name string, description null.String) (models.Runner, error) {
	if _, err := r.store.GetRegistrationToken(ctx, registrationTokenSecret); err != nil {
		return models.Runner{}, err
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return models.Runner{}, apperrors.Validation("name", "name is empty")
	}
	if len(name) > maxNameLength {
		return models.Runner{}, apperrors.Validation("name", "name is too long")
	}

	runner, err := r.store.CreateRunner(ctx, name, description, "ptrr-"+uuid.New().String())
	if err != nil {
		return models.Runner{}, err
	}

	log.Info().
		Int64("runner_id", runner.ID).
		Str("name", runner.Name).
		Msg("Registered new runner")
	return runner, nil
}

// Authenticate resolves a runner token to its identity and records the
// contact. Every protocol call claiming to come from a runner goes through
// here first.
func (r *Registry) Authenticate(ctx context.Context, runnerTokenSecret string) (models.Runner, error) {
	runner, err := r.store.GetRunnerByToken(ctx, runnerTokenSecret)
	if err != nil {
		return models.Runner{}, err
	}

	if err := r.store.TouchRunner(ctx, runner.ID); err != nil {
		log.Error().Err(err).Int64("runner_id", runner.ID).Msg("Could not update runner contact time")
	}
	return runner, nil
}

// Revoke deletes the runner. Jobs currently leased to it are returned to
// pending so the work is not silently lost.
func (r *Registry) Revoke(ctx context.Context, runnerID int64) error {
	released, err := r.store.ReleaseForRunner(ctx, runnerID)
	if err != nil {
		return err
	}
	if released > 0 {
		log.Info().
			Int64("runner_id", runnerID).
			Int64("released", released).
			Msg("Released jobs from revoked runner")
	}

	return r.store.DeleteRunner(ctx, runnerID)
}
