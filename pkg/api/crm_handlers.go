package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/plexcrm/plexcrm/pkg/datascope"
	"github.com/plexcrm/plexcrm/pkg/httputil"
	"github.com/plexcrm/plexcrm/pkg/middleware"
)

// Customer is the row shape served by the customer listing.
type Customer struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Email      string    `json:"email,omitempty"`
	Phone      string    `json:"phone,omitempty"`
	AssignedTo string    `json:"assigned_to,omitempty"`
	CreatedBy  string    `json:"created_by,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Order is the row shape served by the order listing.
type Order struct {
	ID         string    `json:"id"`
	CustomerID string    `json:"customer_id"`
	Status     string    `json:"status"`
	TotalCents int64     `json:"total_cents"`
	AssignedTo string    `json:"assigned_to,omitempty"`
	CreatedBy  string    `json:"created_by,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// listCustomers handles GET /api/v1/tenants/{tenant_id}/customers.
// Queries run against the tenant's own database through the routed
// handle, scoped by the ownership filter.
func (s *Server) listCustomers(w http.ResponseWriter, r *http.Request) {
	handle := middleware.GetTenantDB(r)
	scope := middleware.GetScope(r)
	if handle == nil || scope == nil {
		httputil.WriteServiceUnavailable(w, "tenant database unavailable")
		return
	}
	page := httputil.ParsePagination(r)

	filter := scope("customers", datascope.MatchAll())
	where, args := filter.SQL(1)

	var total int
	countQuery := "SELECT COUNT(*) FROM customers WHERE " + where
	if err := handle.DB().QueryRowContext(r.Context(), countQuery, args...).Scan(&total); err != nil {
		s.logger(r).WithError(err).WithField("tenant_id", handle.TenantID()).Error("customer count failed")
		httputil.WriteInternalError(w)
		return
	}

	query := fmt.Sprintf(`
		SELECT id, name, COALESCE(email, ''), COALESCE(phone, ''),
		       COALESCE(assigned_to, ''), COALESCE(created_by, ''), created_at
		FROM customers
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, where, len(args)+1, len(args)+2)
	rows, err := handle.DB().QueryContext(r.Context(), query, append(args, page.Limit, page.Offset)...)
	if err != nil {
		s.logger(r).WithError(err).WithField("tenant_id", handle.TenantID()).Error("customer listing failed")
		httputil.WriteInternalError(w)
		return
	}
	defer rows.Close()

	customers := make([]*Customer, 0, page.Limit)
	for rows.Next() {
		c := &Customer{}
		if err := rows.Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.AssignedTo, &c.CreatedBy, &c.CreatedAt); err != nil {
			s.logger(r).WithError(err).Error("customer scan failed")
			httputil.WriteInternalError(w)
			return
		}
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		s.logger(r).WithError(err).Error("customer iteration failed")
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteList(w, customers, total, page)
}

// listOrders handles GET /api/v1/tenants/{tenant_id}/orders.
func (s *Server) listOrders(w http.ResponseWriter, r *http.Request) {
	handle := middleware.GetTenantDB(r)
	scope := middleware.GetScope(r)
	if handle == nil || scope == nil {
		httputil.WriteServiceUnavailable(w, "tenant database unavailable")
		return
	}
	page := httputil.ParsePagination(r)

	extra := datascope.MatchAll()
	if status := httputil.ParseQueryString(r, "status", ""); status != "" {
		extra = datascope.NewFilter("status = ?", status)
	}
	filter := scope("orders", extra)
	where, args := filter.SQL(1)

	var total int
	countQuery := "SELECT COUNT(*) FROM orders WHERE " + where
	if err := handle.DB().QueryRowContext(r.Context(), countQuery, args...).Scan(&total); err != nil {
		s.logger(r).WithError(err).WithField("tenant_id", handle.TenantID()).Error("order count failed")
		httputil.WriteInternalError(w)
		return
	}

	query := fmt.Sprintf(`
		SELECT id, customer_id, status, total_cents,
		       COALESCE(assigned_to, ''), COALESCE(created_by, ''), created_at
		FROM orders
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, where, len(args)+1, len(args)+2)
	rows, err := handle.DB().QueryContext(r.Context(), query, append(args, page.Limit, page.Offset)...)
	if err != nil {
		s.logger(r).WithError(err).WithField("tenant_id", handle.TenantID()).Error("order listing failed")
		httputil.WriteInternalError(w)
		return
	}
	defer rows.Close()

	orders := make([]*Order, 0, page.Limit)
	for rows.Next() {
		o := &Order{}
		if err := rows.Scan(&o.ID, &o.CustomerID, &o.Status, &o.TotalCents, &o.AssignedTo, &o.CreatedBy, &o.CreatedAt); err != nil {
			s.logger(r).WithError(err).Error("order scan failed")
			httputil.WriteInternalError(w)
			return
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		s.logger(r).WithError(err).Error("order iteration failed")
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteList(w, orders, total, page)
}
