package client

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/techcesstechnology/stanchion-approvals/internal/apperr"
	"github.com/techcesstechnology/stanchion-approvals/internal/database"
	"github.com/techcesstechnology/stanchion-approvals/internal/workflow"
)

// IdentityProvider resolves the acting user for a request.
type IdentityProvider interface {
	// Resolve returns the actor for a user ID. Suspended users resolve to
	// FORBIDDEN, unknown users to NOT_FOUND.
	Resolve(ctx context.Context, uid string) (workflow.Actor, error)
}

// ProfileIdentityProvider resolves actors from the user_profiles table.
type ProfileIdentityProvider struct {
	db *database.DB
}

// NewProfileIdentityProvider creates an identity provider backed by the
// profiles table.
func NewProfileIdentityProvider(db *database.DB) *ProfileIdentityProvider {
	return &ProfileIdentityProvider{db: db}
}

// Resolve implements IdentityProvider.
func (p *ProfileIdentityProvider) Resolve(ctx context.Context, uid string) (workflow.Actor, error) {
	query := `
		SELECT uid, display_name, role, active
		FROM user_profiles
		WHERE uid = $1
	`

	var actor workflow.Actor
	var active bool
	err := p.db.QueryRow(ctx, query, uid).Scan(&actor.UID, &actor.DisplayName, &actor.Role, &active)
	if err == pgx.ErrNoRows {
		return workflow.Actor{}, apperr.NotFound("user_profile", uid)
	}
	if err != nil {
		return workflow.Actor{}, apperr.Wrap(err, apperr.CodeInternal, "failed to resolve user profile")
	}
	if !active {
		return workflow.Actor{}, apperr.Newf(apperr.CodeForbidden, "user %q is suspended", uid)
	}
	return actor, nil
}
