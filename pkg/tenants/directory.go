package tenants

import (
	"context"
	"database/sql"
	"fmt"
)

// Directory looks up tenant metadata from the control-plane store.
type Directory interface {
	// GetTenant returns the tenant with the given id, or
	// ErrTenantNotFound.
	GetTenant(ctx context.Context, id string) (*Tenant, error)

	// GetTenantBySlug returns the tenant with the given slug, or
	// ErrTenantNotFound.
	GetTenantBySlug(ctx context.Context, slug string) (*Tenant, error)

	// ListTenants returns all tenants, active or not.
	ListTenants(ctx context.Context) ([]*Tenant, error)
}

const tenantColumns = `id, slug, name, db_driver, db_host, db_port, db_name, credentials_ref,
	       plan_tier, is_active, is_suspended, created_at, updated_at`

// PostgresDirectory implements Directory against the control-plane
// PostgreSQL database.
type PostgresDirectory struct {
	db *sql.DB
}

// NewPostgresDirectory creates a PostgresDirectory.
func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

// GetTenant retrieves a tenant by ID.
func (d *PostgresDirectory) GetTenant(ctx context.Context, id string) (*Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE id = $1`
	return d.scanTenant(d.db.QueryRowContext(ctx, query, id))
}

// GetTenantBySlug retrieves a tenant by slug.
func (d *PostgresDirectory) GetTenantBySlug(ctx context.Context, slug string) (*Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE slug = $1`
	return d.scanTenant(d.db.QueryRowContext(ctx, query, slug))
}

// ListTenants returns all tenants ordered by slug.
func (d *PostgresDirectory) ListTenants(ctx context.Context) ([]*Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants ORDER BY slug`
	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var out []*Tenant
	for rows.Next() {
		t := &Tenant{}
		if err := rows.Scan(
			&t.ID, &t.Slug, &t.Name, &t.Driver, &t.Host, &t.Port, &t.Database,
			&t.CredentialsRef, &t.PlanTier, &t.IsActive, &t.IsSuspended,
			&t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (d *PostgresDirectory) scanTenant(row rowScanner) (*Tenant, error) {
	t := &Tenant{}
	err := row.Scan(
		&t.ID, &t.Slug, &t.Name, &t.Driver, &t.Host, &t.Port, &t.Database,
		&t.CredentialsRef, &t.PlanTier, &t.IsActive, &t.IsSuspended,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return t, nil
}
