// Package tenants provides the control-plane view of tenants: metadata
// lookup, plan quotas, and usage tracking. Each tenant's business data
// lives in its own database (see pkg/tenantdb); this package only ever
// touches the shared control-plane store, read-only except for usage
// counters.
package tenants

import "time"

// PlanTier represents subscription plan tiers.
type PlanTier string

const (
	PlanFree       PlanTier = "free"
	PlanStandard   PlanTier = "standard"
	PlanEnterprise PlanTier = "enterprise"
)

// Tenant is an isolated customer account with its own data store.
// Immutable once provisioned except for the lifecycle flags.
type Tenant struct {
	ID   string `json:"id"`
	Slug string `json:"slug"`
	Name string `json:"name"`

	// Connection coordinates for the tenant's dedicated database.
	// CredentialsRef names a credential set resolved out-of-band; raw
	// credentials are never stored here and never serialized.
	Driver         string `json:"-"`
	Host           string `json:"-"`
	Port           int    `json:"-"`
	Database       string `json:"-"`
	CredentialsRef string `json:"-"`

	PlanTier    PlanTier  `json:"plan_tier"`
	IsActive    bool      `json:"is_active"`
	IsSuspended bool      `json:"is_suspended"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Available reports whether the tenant may serve requests.
func (t *Tenant) Available() bool {
	return t.IsActive && !t.IsSuspended
}

// QuotaKind identifies one metered resource.
type QuotaKind string

const (
	QuotaSeats           QuotaKind = "seats"
	QuotaStorage         QuotaKind = "storage"
	QuotaMonthlyEmails   QuotaKind = "monthly_emails"
	QuotaMonthlyMessages QuotaKind = "monthly_messages"
	QuotaMonthlyAPICalls QuotaKind = "monthly_api_calls"
)

// Quotas are the per-tenant resource ceilings.
type Quotas struct {
	TenantID           string    `json:"tenant_id"`
	MaxSeats           int       `json:"max_seats"`
	MaxStorageBytes    int64     `json:"max_storage_bytes"`
	MaxMonthlyEmails   int64     `json:"max_monthly_emails"`
	MaxMonthlyMessages int64     `json:"max_monthly_messages"`
	MaxMonthlyAPICalls int64     `json:"max_monthly_api_calls"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Usage is the current consumption for one tenant and period.
type Usage struct {
	TenantID        string    `json:"tenant_id"`
	PeriodStart     time.Time `json:"period_start"`
	PeriodEnd       time.Time `json:"period_end"`
	SeatsUsed       int       `json:"seats_used"`
	StorageBytes    int64     `json:"storage_bytes"`
	MonthlyEmails   int64     `json:"monthly_emails"`
	MonthlyMessages int64     `json:"monthly_messages"`
	MonthlyAPICalls int64     `json:"monthly_api_calls"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// DefaultQuotas returns the quota ceilings for a plan tier.
func DefaultQuotas(tier PlanTier) *Quotas {
	switch tier {
	case PlanStandard:
		return &Quotas{
			MaxSeats:           50,
			MaxStorageBytes:    25 * 1024 * 1024 * 1024,
			MaxMonthlyEmails:   50000,
			MaxMonthlyMessages: 10000,
			MaxMonthlyAPICalls: 500000,
		}
	case PlanEnterprise:
		return &Quotas{
			MaxSeats:           1000,
			MaxStorageBytes:    1024 * 1024 * 1024 * 1024,
			MaxMonthlyEmails:   1000000,
			MaxMonthlyMessages: 250000,
			MaxMonthlyAPICalls: 10000000,
		}
	default: // free
		return &Quotas{
			MaxSeats:           3,
			MaxStorageBytes:    1 * 1024 * 1024 * 1024,
			MaxMonthlyEmails:   500,
			MaxMonthlyMessages: 100,
			MaxMonthlyAPICalls: 10000,
		}
	}
}
