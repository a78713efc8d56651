package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"tably.app/internal/audit"
)

type permissionsResponse struct {
	StaffID     string   `json:"staff_id"`
	BusinessID  string   `json:"business_id"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
}

// handlePermissions serves GET /v1/permissions/{staff_id}. The business
// scope comes from the caller's admin session.
func (a *API) handlePermissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	staffID := strings.TrimPrefix(r.URL.Path, "/v1/permissions/")
	if staffID == "" || strings.Contains(staffID, "/") {
		writeError(w, r, http.StatusNotFound, "not_found", "not found")
		return
	}

	admin, err := a.svc.ValidateAdminSession(r.Context(), adminToken(r))
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	// The business scope always comes from the admin session; an
	// explicit business_id may only confirm it.
	if bid := r.URL.Query().Get("business_id"); bid != "" && bid != admin.BusinessID {
		writeError(w, r, http.StatusForbidden, "unauthorized_sponsor", "business_id does not match the admin session")
		return
	}
	perms, role, err := a.svc.EffectivePermissions(r.Context(), admin.BusinessID, staffID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, permissionsResponse{
		StaffID:     staffID,
		BusinessID:  admin.BusinessID,
		Role:        role,
		Permissions: perms.List(),
	})
}

// handleAuditQuery serves GET /v1/audit for the admin's business. Time
// bounds are RFC 3339; the default window is the last 24 hours.
func (a *API) handleAuditQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if a.events == nil {
		writeError(w, r, http.StatusNotFound, "not_found", "audit log is not queryable")
		return
	}

	admin, err := a.svc.ValidateAdminSession(r.Context(), adminToken(r))
	if err != nil {
		handleAuthError(w, r, err)
		return
	}

	now := time.Now().UTC()
	from := now.Add(-24 * time.Hour)
	to := now
	q := r.URL.Query()
	if bid := q.Get("business_id"); bid != "" && bid != admin.BusinessID {
		writeError(w, r, http.StatusForbidden, "unauthorized_sponsor", "business_id does not match the admin session")
		return
	}
	if raw := q.Get("from"); raw != "" {
		if from, err = time.Parse(time.RFC3339, raw); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_input", "from must be RFC 3339")
			return
		}
	}
	if raw := q.Get("to"); raw != "" {
		if to, err = time.Parse(time.RFC3339, raw); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_input", "to must be RFC 3339")
			return
		}
	}
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit < 0 {
			writeError(w, r, http.StatusBadRequest, "invalid_input", "limit must be a non-negative integer")
			return
		}
	}

	events, err := a.events.Find(r.Context(), audit.Query{
		BusinessID: admin.BusinessID,
		From:       from,
		To:         to,
		Limit:      limit,
	})
	if err != nil {
		writeError(w, r, http.StatusServiceUnavailable, "unavailable", "audit backend unavailable")
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"business_id": admin.BusinessID,
		"events":      events,
	})
}
