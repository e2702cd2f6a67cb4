package auth

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/plexcrm/plexcrm/pkg/permissions"
)

// PostgresSource resolves principals from the control-plane database.
type PostgresSource struct {
	db *sql.DB
}

// NewPostgresSource creates a PostgresSource.
func NewPostgresSource(db *sql.DB) *PostgresSource {
	return &PostgresSource{db: db}
}

// PrincipalByTokenHash looks up the principal bound to an unexpired,
// unrevoked token hash. Unknown hashes map to ErrUnauthenticated so
// callers cannot distinguish missing from revoked tokens.
func (s *PostgresSource) PrincipalByTokenHash(ctx context.Context, tokenHash string) (*Principal, error) {
	query := `
		SELECT u.id, u.email, u.system_role, COALESCE(u.tenant_id, ''), COALESCE(u.tenant_role, ''),
		       u.permission_overrides, u.is_active, u.created_at
		FROM api_tokens t
		JOIN users u ON u.id = t.user_id
		WHERE t.token_hash = $1
		  AND t.revoked_at IS NULL
		  AND (t.expires_at IS NULL OR t.expires_at > NOW())
	`
	p := &Principal{}
	var overrides pq.StringArray
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(
		&p.ID, &p.Email, &p.SystemRole, &p.TenantID, &p.TenantRole,
		&overrides, &p.IsActive, &p.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrUnauthenticated
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up principal: %w", err)
	}

	p.Overrides = make([]permissions.Permission, 0, len(overrides))
	for _, o := range overrides {
		p.Overrides = append(p.Overrides, permissions.Permission(o))
	}
	return p, nil
}

// TouchToken updates a token's last_used_at timestamp. Best effort;
// callers ignore the error.
func (s *PostgresSource) TouchToken(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE api_tokens SET last_used_at = NOW() WHERE token_hash = $1`, tokenHash)
	return err
}
