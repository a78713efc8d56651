package httpapi

import (
	"net/http"
	"strings"
	"time"
)

type openShiftRequest struct {
	Name             string `json:"name"`
	MaxStaffSessions int    `json:"max_staff_sessions"`
}

type shiftResponse struct {
	ID               string    `json:"id"`
	BusinessID       string    `json:"business_id"`
	Name             string    `json:"name"`
	StartedAt        time.Time `json:"started_at"`
	MaxStaffSessions int       `json:"max_staff_sessions"`
}

func (a *API) handleShifts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req openShiftRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}

	shift, err := a.svc.OpenShift(r.Context(), adminToken(r), req.Name, req.MaxStaffSessions, client(r))
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, shiftResponse{
		ID:               shift.ID,
		BusinessID:       shift.BusinessID,
		Name:             shift.Name,
		StartedAt:        shift.StartedAt,
		MaxStaffSessions: shift.MaxStaffSessions,
	})
}

// handleShiftByID serves DELETE /v1/shifts/{id}, closing the shift.
func (a *API) handleShiftByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/v1/shifts/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "not_found", "not found")
		return
	}
	if err := a.svc.CloseShift(r.Context(), adminToken(r), id, client(r)); err != nil {
		handleAuthError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
