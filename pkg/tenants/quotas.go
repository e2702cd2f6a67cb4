package tenants

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// QuotaService reads and updates per-tenant quota ceilings and usage
// counters in the control-plane database. Ceilings fall back to the
// plan-tier defaults when no override row exists.
type QuotaService struct {
	db *sql.DB
}

// NewQuotaService creates a QuotaService.
func NewQuotaService(db *sql.DB) *QuotaService {
	return &QuotaService{db: db}
}

// GetQuotas returns the quota ceilings for a tenant. A missing
// override row is not an error; the tier defaults apply.
func (s *QuotaService) GetQuotas(ctx context.Context, tenant *Tenant) (*Quotas, error) {
	query := `
		SELECT max_seats, max_storage_bytes, max_monthly_emails,
		       max_monthly_messages, max_monthly_api_calls, created_at, updated_at
		FROM tenant_quotas WHERE tenant_id = $1`

	q := &Quotas{TenantID: tenant.ID}
	err := s.db.QueryRowContext(ctx, query, tenant.ID).Scan(
		&q.MaxSeats, &q.MaxStorageBytes, &q.MaxMonthlyEmails,
		&q.MaxMonthlyMessages, &q.MaxMonthlyAPICalls, &q.CreatedAt, &q.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		q = DefaultQuotas(tenant.PlanTier)
		q.TenantID = tenant.ID
		return q, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get quotas for tenant %s: %w", tenant.ID, err)
	}
	return q, nil
}

// GetUsage returns the usage counters for the current billing period.
// A tenant with no recorded usage yet gets zero counters.
func (s *QuotaService) GetUsage(ctx context.Context, tenantID string) (*Usage, error) {
	query := `
		SELECT period_start, period_end, seats_used, storage_bytes,
		       monthly_emails, monthly_messages, monthly_api_calls, updated_at
		FROM tenant_usage
		WHERE tenant_id = $1 AND period_end > NOW()
		ORDER BY period_start DESC LIMIT 1`

	u := &Usage{TenantID: tenantID}
	err := s.db.QueryRowContext(ctx, query, tenantID).Scan(
		&u.PeriodStart, &u.PeriodEnd, &u.SeatsUsed, &u.StorageBytes,
		&u.MonthlyEmails, &u.MonthlyMessages, &u.MonthlyAPICalls, &u.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return u, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get usage for tenant %s: %w", tenantID, err)
	}
	return u, nil
}

// CheckQuota verifies that consuming one more unit of the given
// resource would stay within the tenant's ceiling. A breach returns
// *QuotaExceededError; anything else wrong returns a plain error so
// callers can tell policy denials from infrastructure failures.
func (s *QuotaService) CheckQuota(ctx context.Context, tenant *Tenant, kind QuotaKind) error {
	quotas, err := s.GetQuotas(ctx, tenant)
	if err != nil {
		return err
	}
	usage, err := s.GetUsage(ctx, tenant.ID)
	if err != nil {
		return err
	}

	current, limit, err := counters(usage, quotas, kind)
	if err != nil {
		return err
	}
	if limit > 0 && current >= limit {
		return &QuotaExceededError{Resource: kind, Current: current, Limit: limit}
	}
	return nil
}

// IncrementUsage adds delta to one usage counter for the current
// calendar-month period, creating the period row if needed.
func (s *QuotaService) IncrementUsage(ctx context.Context, tenantID string, kind QuotaKind, delta int64) error {
	column, err := usageColumn(kind)
	if err != nil {
		return err
	}

	start, end := currentPeriod(time.Now().UTC())
	query := fmt.Sprintf(`
		INSERT INTO tenant_usage (tenant_id, period_start, period_end, %s, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (tenant_id, period_start)
		DO UPDATE SET %s = tenant_usage.%s + $4, updated_at = NOW()`,
		column, column, column)

	if _, err := s.db.ExecContext(ctx, query, tenantID, start, end, delta); err != nil {
		return fmt.Errorf("failed to increment %s for tenant %s: %w", kind, tenantID, err)
	}
	return nil
}

func counters(u *Usage, q *Quotas, kind QuotaKind) (current, limit int64, err error) {
	switch kind {
	case QuotaSeats:
		return int64(u.SeatsUsed), int64(q.MaxSeats), nil
	case QuotaStorage:
		return u.StorageBytes, q.MaxStorageBytes, nil
	case QuotaMonthlyEmails:
		return u.MonthlyEmails, q.MaxMonthlyEmails, nil
	case QuotaMonthlyMessages:
		return u.MonthlyMessages, q.MaxMonthlyMessages, nil
	case QuotaMonthlyAPICalls:
		return u.MonthlyAPICalls, q.MaxMonthlyAPICalls, nil
	default:
		return 0, 0, fmt.Errorf("unknown quota kind %q", kind)
	}
}

func usageColumn(kind QuotaKind) (string, error) {
	switch kind {
	case QuotaSeats:
		return "seats_used", nil
	case QuotaStorage:
		return "storage_bytes", nil
	case QuotaMonthlyEmails:
		return "monthly_emails", nil
	case QuotaMonthlyMessages:
		return "monthly_messages", nil
	case QuotaMonthlyAPICalls:
		return "monthly_api_calls", nil
	default:
		return "", fmt.Errorf("unknown quota kind %q", kind)
	}
}

func currentPeriod(now time.Time) (start, end time.Time) {
	start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}
