package models

import (
	"time"

	"github.com/guregu/null/v6"
)

// Runner is a models representing the `runners.runner` table. One row per
// registered external worker process.
type Runner struct {
	ID            int64       `db:"id"`
	Name          string      `db:"name"`
	Description   null.String `db:"description"`
	Token         string      `db:"token"`
	LastContactAt time.Time   `db:"last_contact_at"`
	CreatedAt     time.Time   `db:"created_at"`
	UpdatedAt     time.Time   `db:"updated_at"`
}

// RegistrationToken is a models representing the `runners.registration_token`
// table. A shared onboarding secret, reusable until revoked.
type RegistrationToken struct {
	ID        int64     `db:"id"`
	Secret    string    `db:"secret"`
	CreatedAt time.Time `db:"created_at"`
}
