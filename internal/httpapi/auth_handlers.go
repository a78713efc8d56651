package httpapi

import (
	"net/http"
	"time"

	"tably.app/internal/auth"
)

type adminLoginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	BusinessID string `json:"business_id"`
}

type adminSessionResponse struct {
	Token      string    `json:"token"`
	BusinessID string    `json:"business_id"`
	AdminID    string    `json:"admin_id"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func (a *API) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req adminLoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}

	sess, err := a.svc.AuthenticateAdmin(r.Context(), auth.AdminLogin{
		Email:      req.Email,
		Password:   req.Password,
		BusinessID: req.BusinessID,
		Client:     client(r),
	})
	if err != nil {
		handleAuthError(w, r, err)
		return
	}

	setSessionCookie(w, adminCookieName, sess.Token, sess.ExpiresAt)
	writeJSON(w, http.StatusOK, adminSessionResponse{
		Token:      sess.Token,
		BusinessID: sess.BusinessID,
		AdminID:    sess.AdminID,
		ExpiresAt:  sess.ExpiresAt,
	})
}

// handleAdminSession serves GET (validate) and DELETE (sign out) for
// the caller's admin session.
func (a *API) handleAdminSession(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		sess, err := a.svc.ValidateAdminSession(r.Context(), adminToken(r))
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, adminSessionResponse{
			Token:      sess.Token,
			BusinessID: sess.BusinessID,
			AdminID:    sess.AdminID,
			ExpiresAt:  sess.ExpiresAt,
		})
	case http.MethodDelete:
		if err := a.svc.RevokeAdminSession(r.Context(), adminToken(r), client(r)); err != nil {
			handleAuthError(w, r, err)
			return
		}
		clearSessionCookie(w, adminCookieName)
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}

type staffLoginRequest struct {
	BusinessID string `json:"business_id"`
	StaffID    string `json:"staff_id"`
	PIN        string `json:"pin"`
	AdminToken string `json:"admin_session_token,omitempty"`
}

type staffSessionResponse struct {
	Token       string    `json:"token"`
	StaffID     string    `json:"staff_id"`
	StaffName   string    `json:"staff_name,omitempty"`
	Role        string    `json:"role,omitempty"`
	BusinessID  string    `json:"business_id"`
	ShiftID     string    `json:"shift_id"`
	Permissions []string  `json:"permissions"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (a *API) handleStaffLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req staffLoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	sponsor := req.AdminToken
	if sponsor == "" {
		sponsor = adminToken(r)
	}

	sess, staff, perms, err := a.svc.AuthenticateStaff(r.Context(), auth.StaffLogin{
		BusinessID: req.BusinessID,
		StaffID:    req.StaffID,
		PIN:        req.PIN,
		AdminToken: sponsor,
		Client:     client(r),
	})
	if err != nil {
		handleAuthError(w, r, err)
		return
	}

	setSessionCookie(w, staffCookieName, sess.Token, sess.ExpiresAt)
	writeJSON(w, http.StatusOK, staffSessionResponse{
		Token:       sess.Token,
		StaffID:     staff.ID,
		StaffName:   staff.Name,
		Role:        staff.Role,
		BusinessID:  sess.BusinessID,
		ShiftID:     sess.ShiftID,
		Permissions: perms.List(),
		ExpiresAt:   sess.ExpiresAt,
	})
}

// handleStaffSession serves GET (validate) for the staff token and
// DELETE (sponsored sign-out) which additionally requires the admin
// token.
func (a *API) handleStaffSession(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		sess, err := a.svc.ValidateStaffSession(r.Context(), staffToken(r))
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		perms, role, err := a.svc.EffectivePermissions(r.Context(), sess.BusinessID, sess.StaffID)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, staffSessionResponse{
			Token:       sess.Token,
			StaffID:     sess.StaffID,
			Role:        role,
			BusinessID:  sess.BusinessID,
			ShiftID:     sess.ShiftID,
			Permissions: perms.List(),
			ExpiresAt:   sess.ExpiresAt,
		})
	case http.MethodDelete:
		if err := a.svc.RevokeStaffSession(r.Context(), staffToken(r), adminToken(r), client(r)); err != nil {
			handleAuthError(w, r, err)
			return
		}
		clearSessionCookie(w, staffCookieName)
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}
