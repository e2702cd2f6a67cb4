package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/plexcrm/plexcrm/pkg/audit"
	"github.com/plexcrm/plexcrm/pkg/contextkeys"
	"github.com/plexcrm/plexcrm/pkg/httputil"
	"github.com/plexcrm/plexcrm/pkg/middleware"
	"github.com/plexcrm/plexcrm/pkg/tenantdb"
	"github.com/plexcrm/plexcrm/pkg/tenants"
)

// directoryInvalidator is implemented by tenants.CachedDirectory. The
// raw PostgresDirectory has nothing to invalidate.
type directoryInvalidator interface {
	Invalidate(t *tenants.Tenant)
}

// adminListTenants handles GET /api/v1/admin/tenants
func (s *Server) adminListTenants(w http.ResponseWriter, r *http.Request) {
	all, err := s.deps.Directory.ListTenants(r.Context())
	if err != nil {
		s.logger(r).WithError(err).Error("tenant listing failed")
		httputil.WriteInternalError(w)
		return
	}

	if includeSuspended, _ := httputil.ParseQueryBool(r, "include_suspended", true); !includeSuspended {
		filtered := all[:0]
		for _, t := range all {
			if t.Available() {
				filtered = append(filtered, t)
			}
		}
		all = filtered
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"tenants": all,
		"total":   len(all),
	})
}

type adminTenantResponse struct {
	Tenant *tenants.Tenant       `json:"tenant"`
	Quotas *tenants.Quotas       `json:"quotas,omitempty"`
	Usage  *tenants.Usage        `json:"usage,omitempty"`
	Handle *tenantdb.HandleStats `json:"handle,omitempty"`
}

// adminGetTenant handles GET /api/v1/admin/tenants/{id}. When the
// router holds an open handle for the tenant its status is included;
// ?probe=true re-pings the handle first.
func (s *Server) adminGetTenant(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	tenant, err := s.deps.Directory.GetTenant(r.Context(), id)
	if errors.Is(err, tenants.ErrTenantNotFound) {
		httputil.WriteNotFound(w, "tenant not found")
		return
	}
	if err != nil {
		s.logger(r).WithError(err).Error("tenant lookup failed")
		httputil.WriteInternalError(w)
		return
	}

	resp := adminTenantResponse{Tenant: tenant}
	if quotas, err := s.deps.Quotas.GetQuotas(r.Context(), tenant); err == nil {
		resp.Quotas = quotas
	}
	if usage, err := s.deps.Quotas.GetUsage(r.Context(), tenant.ID); err == nil {
		resp.Usage = usage
	}

	if h, ok := s.deps.TenantRouter.Peek(tenant.ID); ok {
		if probe, _ := httputil.ParseQueryBool(r, "probe", false); probe {
			probeCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			if err := h.Healthy(probeCtx); err != nil {
				s.logger(r).WithError(err).WithField("tenant_id", tenant.ID).Warn("handle probe failed")
			}
			cancel()
		}
		checked, healthy := h.Status()
		resp.Handle = &tenantdb.HandleStats{
			TenantID:    tenant.ID,
			OpenedAt:    h.OpenedAt(),
			LastChecked: checked,
			Healthy:     healthy,
		}
	}

	httputil.WriteJSON(w, http.StatusOK, resp)
}

// adminInvalidateHandle handles DELETE /api/v1/admin/tenants/{id}/handle.
// It closes the tenant's cached database handle and drops the directory
// cache entry so the next request re-reads the control plane. Used
// after credential rotation or connection coordinate changes.
func (s *Server) adminInvalidateHandle(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	tenant, err := s.deps.Directory.GetTenant(r.Context(), id)
	if errors.Is(err, tenants.ErrTenantNotFound) {
		httputil.WriteNotFound(w, "tenant not found")
		return
	}
	if err != nil {
		s.logger(r).WithError(err).Error("tenant lookup failed")
		httputil.WriteInternalError(w)
		return
	}

	if err := s.deps.TenantRouter.Invalidate(tenant.ID); err != nil {
		s.logger(r).WithError(err).WithField("tenant_id", tenant.ID).Warn("handle close reported error")
	}
	if inv, ok := s.deps.Directory.(directoryInvalidator); ok {
		inv.Invalidate(tenant)
	}

	principal := middleware.GetPrincipal(r)
	audit.Record(r.Context(), s.deps.Auditor, &audit.Event{
		EventType:   audit.EventTypeTenantInvalidated,
		Status:      audit.EventStatusSuccess,
		PrincipalID: principal.ID,
		TenantID:    tenant.ID,
		IPAddress:   middleware.ClientIP(r),
		RequestID:   contextkeys.GetRequestID(r.Context()),
		Method:      r.Method,
		Path:        r.URL.Path,
	})

	httputil.WriteNoContent(w)
}

// adminRouterStats handles GET /api/v1/admin/router/stats
func (s *Server) adminRouterStats(w http.ResponseWriter, r *http.Request) {
	stats := s.deps.TenantRouter.Stats()
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"open_handles": stats.OpenHandles,
		"tenant_ids":   stats.TenantIDs,
		"handles":      stats.Handles,
	})
}

// adminListAuditEvents handles GET /api/v1/admin/audit
func (s *Server) adminListAuditEvents(w http.ResponseWriter, r *http.Request) {
	tenantID := httputil.ParseQueryString(r, "tenant_id", "")
	limit, err := httputil.ParseQueryInt(r, "limit", 100)
	if err != nil || limit <= 0 {
		httputil.WriteBadRequest(w, "limit must be a positive integer")
		return
	}
	if limit > 1000 {
		limit = 1000
	}

	if s.deps.AuditStore == nil {
		httputil.WriteNotFound(w, "audit store is not configured")
		return
	}

	events, err := s.deps.AuditStore.ListEvents(r.Context(), tenantID, limit)
	if err != nil {
		s.logger(r).WithError(err).Error("audit listing failed")
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"total":  len(events),
	})
}
