package api

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var customerColumns = []string{"id", "name", "email", "phone", "assigned_to", "created_by", "created_at"}

var orderColumns = []string{"id", "customer_id", "status", "total_cents", "assigned_to", "created_by", "created_at"}

func TestListCustomersOwnershipScoped(t *testing.T) {
	f := newFixture(t)

	f.tenantMock.ExpectPing()
	// Sales principals lack view_all, so both queries carry the
	// ownership predicate bound to the principal's own ID.
	f.tenantMock.ExpectQuery(`SELECT COUNT\(\*\) FROM customers WHERE \(assigned_to = \$1\) OR \(created_by = \$2\)`).
		WithArgs("usr_sales", "usr_sales").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	f.tenantMock.ExpectQuery(`SELECT (.+) FROM customers`).
		WithArgs("usr_sales", "usr_sales", 50, 0).
		WillReturnRows(sqlmock.NewRows(customerColumns).
			AddRow("cus_1", "Ada Lovelace", "ada@acme.test", "", "usr_sales", "usr_mgr", time.Now()))

	w := f.do(t, http.MethodGet, "/api/v1/tenants/ten_acme/customers", "plex_sales", nil)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Items []*Customer `json:"items"`
		Total int         `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Total)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "cus_1", resp.Items[0].ID)
}

func TestListCustomersViewAllUnrestricted(t *testing.T) {
	f := newFixture(t)

	f.tenantMock.ExpectPing()
	f.tenantMock.ExpectQuery(`SELECT COUNT\(\*\) FROM customers WHERE TRUE`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	f.tenantMock.ExpectQuery(`SELECT (.+) FROM customers`).
		WithArgs(50, 0).
		WillReturnRows(sqlmock.NewRows(customerColumns).
			AddRow("cus_1", "Ada Lovelace", "", "", "usr_sales", "usr_sales", time.Now()).
			AddRow("cus_2", "Grace Hopper", "", "", "usr_other", "usr_other", time.Now()))

	w := f.do(t, http.MethodGet, "/api/v1/tenants/ten_acme/customers", "plex_mgr", nil)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Items []*Customer `json:"items"`
		Total int         `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Total)
	assert.Len(t, resp.Items, 2)
}

func TestListCustomersPermissionDenied(t *testing.T) {
	f := newFixture(t)

	// Operators may read orders but not customers.
	f.tenantMock.ExpectPing()
	w := f.do(t, http.MethodGet, "/api/v1/tenants/ten_acme/customers", "plex_op", nil)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "crm:customers:read")
}

func TestListCustomersCrossTenantDenied(t *testing.T) {
	f := newFixture(t)
	other := acmeTenant()
	other.ID = "ten_other"
	other.Slug = "other"
	f.server.deps.Directory.(*fakeDirectory).byID["ten_other"] = other

	w := f.do(t, http.MethodGet, "/api/v1/tenants/ten_other/customers", "plex_sales", nil)

	assert.Equal(t, http.StatusForbidden, w.Code)

	events := f.auditor.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "usr_sales", events[0].PrincipalID)
	assert.Equal(t, "ten_other", events[0].TenantID)
}

func TestListCustomersUnknownTenant(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/v1/tenants/ten_ghost/customers", "plex_staff", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListOrdersWithStatusFilter(t *testing.T) {
	f := newFixture(t)

	f.tenantMock.ExpectPing()
	// The caller's business filter is ANDed with the ownership scope.
	f.tenantMock.ExpectQuery(`SELECT COUNT\(\*\) FROM orders WHERE \(status = \$1\) AND \(\(assigned_to = \$2\) OR \(created_by = \$3\)\)`).
		WithArgs("open", "usr_sales", "usr_sales").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	f.tenantMock.ExpectQuery(`SELECT (.+) FROM orders`).
		WithArgs("open", "usr_sales", "usr_sales", 50, 0).
		WillReturnRows(sqlmock.NewRows(orderColumns).
			AddRow("ord_1", "cus_1", "open", int64(12500), "usr_sales", "usr_sales", time.Now()))

	w := f.do(t, http.MethodGet, "/api/v1/tenants/ten_acme/orders?status=open", "plex_sales", nil)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Items []*Order `json:"items"`
		Total int      `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "ord_1", resp.Items[0].ID)
	assert.Equal(t, int64(12500), resp.Items[0].TotalCents)
}

func TestListOrdersPagination(t *testing.T) {
	f := newFixture(t)

	f.tenantMock.ExpectPing()
	f.tenantMock.ExpectQuery(`SELECT COUNT\(\*\) FROM orders`).
		WithArgs("usr_sales", "usr_sales").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(40))
	f.tenantMock.ExpectQuery(`SELECT (.+) FROM orders`).
		WithArgs("usr_sales", "usr_sales", 10, 20).
		WillReturnRows(sqlmock.NewRows(orderColumns))

	w := f.do(t, http.MethodGet, "/api/v1/tenants/ten_acme/orders?limit=10&offset=20", "plex_sales", nil)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Total  int `json:"total"`
		Limit  int `json:"limit"`
		Offset int `json:"offset"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 40, resp.Total)
	assert.Equal(t, 10, resp.Limit)
	assert.Equal(t, 20, resp.Offset)
}
