package permissions

// Role is a tenant-level role name.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleOwner      Role = "owner" // alias of admin, kept for tenant vocabulary
	RoleManager    Role = "manager"
	RoleSales      Role = "sales"
	RoleOperator   Role = "operator"
	RoleAccountant Role = "accountant"
	RoleViewer     Role = "viewer"
)

// Registered permissions, grouped by module. The admin role receives
// all of these plus ViewAll.
const (
	CRMCustomersRead   Permission = "crm:customers:read"
	CRMCustomersCreate Permission = "crm:customers:create"
	CRMCustomersUpdate Permission = "crm:customers:update"
	CRMCustomersDelete Permission = "crm:customers:delete"
	CRMOrdersRead      Permission = "crm:orders:read"
	CRMOrdersCreate    Permission = "crm:orders:create"
	CRMOrdersUpdate    Permission = "crm:orders:update"
	CRMOrdersDelete    Permission = "crm:orders:delete"

	CatalogRead   Permission = "catalog:read"
	CatalogCreate Permission = "catalog:create"
	CatalogUpdate Permission = "catalog:update"
	CatalogDelete Permission = "catalog:delete"

	ReportsView   Permission = "reports:view"
	ReportsExport Permission = "reports:export"

	MessagingSend      Permission = "messaging:send"
	MessagingTemplates Permission = "messaging:templates:manage"

	BillingView   Permission = "billing:view"
	BillingManage Permission = "billing:manage"

	SettingsRead   Permission = "settings:read"
	SettingsManage Permission = "settings:manage"

	UsersRead   Permission = "users:read"
	UsersManage Permission = "users:manage"
)

// All returns every registered permission.
func All() []Permission {
	return []Permission{
		CRMCustomersRead, CRMCustomersCreate, CRMCustomersUpdate, CRMCustomersDelete,
		CRMOrdersRead, CRMOrdersCreate, CRMOrdersUpdate, CRMOrdersDelete,
		CatalogRead, CatalogCreate, CatalogUpdate, CatalogDelete,
		ReportsView, ReportsExport,
		MessagingSend, MessagingTemplates,
		BillingView, BillingManage,
		SettingsRead, SettingsManage,
		UsersRead, UsersManage,
	}
}

// roleDefaults is the static role → permission-literal table. Kept as
// explicit lists rather than runtime lookups so a missing grant is a
// reviewable diff, not a data migration.
var roleDefaults = map[Role][]Permission{
	RoleManager: {
		"crm:*",
		"catalog:*",
		ReportsView, ReportsExport,
		MessagingSend, MessagingTemplates,
		SettingsRead,
		UsersRead,
		ViewAll,
	},
	RoleSales: {
		CRMCustomersRead, CRMCustomersCreate, CRMCustomersUpdate,
		CRMOrdersRead, CRMOrdersCreate,
		CatalogRead,
		ReportsView,
		MessagingSend,
	},
	RoleOperator: {
		CRMOrdersRead, CRMOrdersUpdate,
		CatalogRead,
		MessagingSend,
	},
	RoleAccountant: {
		"billing:*",
		CRMOrdersRead,
		ReportsView, ReportsExport,
		ViewAll,
	},
	RoleViewer: {
		CRMCustomersRead,
		CRMOrdersRead,
		CatalogRead,
		ReportsView,
	},
}

// Defaults returns the default permission set for a role. Admin and
// owner receive every registered permission plus ViewAll. Unknown roles
// get an empty set (fail closed).
func Defaults(role Role) Set {
	if role == RoleAdmin || role == RoleOwner {
		s := NewSet(All()...)
		s[ViewAll] = struct{}{}
		return s
	}
	defaults, ok := roleDefaults[role]
	if !ok {
		return NewSet()
	}
	return NewSet(defaults...)
}

// Effective resolves a principal's permission set: the role defaults
// unioned with the explicit per-principal overrides, deduplicated.
// Overrides extend the role, they never shrink it.
func Effective(role Role, overrides []Permission) Set {
	s := Defaults(role)
	if len(overrides) == 0 {
		return s
	}
	return s.Union(NewSet(overrides...))
}
