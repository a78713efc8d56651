package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"tably.app/internal/audit"
	"tably.app/internal/auth"
)

const (
	testBusiness  = "biz-1"
	ownerEmail    = "owner@brasserie.test"
	ownerPassword = "owner-pass-1"
	staffPIN      = "4321"
)

var (
	hashOnce  sync.Once
	ownerHash string
	pinHash   string
	hashErr   error
)

func fixtureHashes(t *testing.T) (string, string) {
	t.Helper()
	hashOnce.Do(func() {
		ownerHash, hashErr = auth.HashSecret(ownerPassword)
		if hashErr == nil {
			pinHash, hashErr = auth.HashSecret(staffPIN)
		}
	})
	if hashErr != nil {
		t.Fatalf("hash fixtures: %v", hashErr)
	}
	return ownerHash, pinHash
}

type testEnv struct {
	store   *auth.MemStore
	handler http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	store := auth.NewMemStore()
	oh, ph := fixtureHashes(t)

	if err := store.Owners(ctx).Create(ctx, &auth.BusinessOwner{
		ID: "admin-1", BusinessID: testBusiness, Email: ownerEmail, PasswordHash: oh,
	}); err != nil {
		t.Fatalf("seed owner: %v", err)
	}
	for _, m := range []*auth.StaffMember{
		{ID: "staff-1", BusinessID: testBusiness, Name: "Aruzhan", Role: "kitchen", PINHash: ph, Active: true},
		{ID: "staff-2", BusinessID: testBusiness, Name: "Miras", Role: "reception", PINHash: ph, Active: true},
	} {
		if err := store.Staff(ctx).Create(ctx, m); err != nil {
			t.Fatalf("seed staff: %v", err)
		}
	}

	events := audit.NewMemStore()
	svc, err := auth.NewService(store, auth.NewMemoryLimiter(), audit.NewRecorder(events))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	api := New(svc, events, ReadyProbe{}, "test")
	return &testEnv{store: store, handler: api.Handler(1000, 1000)}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(buf)
	}
	req := httptest.NewRequest(method, path, rd)
	req.RemoteAddr = "10.1.2.3:4567"
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func (e *testEnv) loginAdmin(t *testing.T) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/v1/admin/login", adminLoginRequest{
		Email: ownerEmail, Password: ownerPassword, BusinessID: testBusiness,
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin login: %d %s", rec.Code, rec.Body.String())
	}
	token, _ := decodeBody(t, rec)["token"].(string)
	if token == "" {
		t.Fatal("no token in login response")
	}
	return token
}

func (e *testEnv) openShift(t *testing.T, adminTok string, maxSessions int) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/v1/shifts", openShiftRequest{
		Name: "evening", MaxStaffSessions: maxSessions,
	}, map[string]string{"X-Admin-Token": adminTok})
	if rec.Code != http.StatusCreated {
		t.Fatalf("open shift: %d %s", rec.Code, rec.Body.String())
	}
	id, _ := decodeBody(t, rec)["id"].(string)
	return id
}

func TestHealthzAndInfo(t *testing.T) {
	e := newTestEnv(t)
	if rec := e.do(t, http.MethodGet, "/healthz", nil, nil); rec.Code != http.StatusOK {
		t.Fatalf("healthz: %d", rec.Code)
	}
	rec := e.do(t, http.MethodGet, "/v1/info", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("info: %d", rec.Code)
	}
	if got := decodeBody(t, rec)["name"]; got != "tably-auth" {
		t.Fatalf("name = %v", got)
	}
}

func TestAdminSessionLifecycle(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodPost, "/v1/admin/login", adminLoginRequest{
		Email: ownerEmail, Password: ownerPassword, BusinessID: testBusiness,
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login: %d %s", rec.Code, rec.Body.String())
	}
	var hasCookie bool
	for _, c := range rec.Result().Cookies() {
		if c.Name == adminCookieName && c.HttpOnly {
			hasCookie = true
		}
	}
	if !hasCookie {
		t.Fatal("login must set an HttpOnly session cookie")
	}
	token, _ := decodeBody(t, rec)["token"].(string)

	get := e.do(t, http.MethodGet, "/v1/admin/session", nil, map[string]string{"X-Admin-Token": token})
	if get.Code != http.StatusOK {
		t.Fatalf("get session: %d %s", get.Code, get.Body.String())
	}

	del := e.do(t, http.MethodDelete, "/v1/admin/session", nil, map[string]string{"X-Admin-Token": token})
	if del.Code != http.StatusNoContent {
		t.Fatalf("delete session: %d %s", del.Code, del.Body.String())
	}

	expired := e.do(t, http.MethodGet, "/v1/admin/session", nil, map[string]string{"X-Admin-Token": token})
	if expired.Code != http.StatusUnauthorized {
		t.Fatalf("revoked session: %d", expired.Code)
	}
	if code := decodeBody(t, expired)["code"]; code != "session_expired" {
		t.Fatalf("code = %v", code)
	}
}

func TestAdminLoginRejections(t *testing.T) {
	e := newTestEnv(t)

	bad := e.do(t, http.MethodPost, "/v1/admin/login", adminLoginRequest{
		Email: ownerEmail, Password: "nope", BusinessID: testBusiness,
	}, nil)
	if bad.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password: %d", bad.Code)
	}
	if code := decodeBody(t, bad)["code"]; code != "invalid_credential" {
		t.Fatalf("code = %v", code)
	}

	unknown := e.do(t, http.MethodPost, "/v1/admin/login",
		map[string]any{"email": ownerEmail, "password": ownerPassword, "business_id": testBusiness, "extra": true}, nil)
	if unknown.Code != http.StatusBadRequest {
		t.Fatalf("unknown field: %d", unknown.Code)
	}

	if rec := e.do(t, http.MethodPut, "/v1/admin/login", nil, nil); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("method: %d", rec.Code)
	} else if allow := rec.Header().Get("Allow"); !strings.Contains(allow, http.MethodPost) {
		t.Fatalf("Allow = %q", allow)
	}
}

func TestAdminLockoutOverHTTP(t *testing.T) {
	e := newTestEnv(t)

	for i := 0; i < 5; i++ {
		rec := e.do(t, http.MethodPost, "/v1/admin/login", adminLoginRequest{
			Email: ownerEmail, Password: "nope", BusinessID: testBusiness,
		}, nil)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: %d", i+1, rec.Code)
		}
	}

	locked := e.do(t, http.MethodPost, "/v1/admin/login", adminLoginRequest{
		Email: ownerEmail, Password: ownerPassword, BusinessID: testBusiness,
	}, nil)
	if locked.Code != http.StatusTooManyRequests {
		t.Fatalf("locked attempt: %d %s", locked.Code, locked.Body.String())
	}
	if locked.Header().Get("Retry-After") == "" {
		t.Fatal("locked response must carry Retry-After")
	}
	body := decodeBody(t, locked)
	if body["code"] != "rate_limited" {
		t.Fatalf("code = %v", body["code"])
	}
	if secs, ok := body["retry_after_seconds"].(float64); !ok || secs <= 0 {
		t.Fatalf("retry_after_seconds = %v", body["retry_after_seconds"])
	}
}

func TestStaffSessionLifecycle(t *testing.T) {
	e := newTestEnv(t)
	adminTok := e.loginAdmin(t)
	shiftID := e.openShift(t, adminTok, 5)

	login := e.do(t, http.MethodPost, "/v1/staff/login", staffLoginRequest{
		BusinessID: testBusiness, StaffID: "staff-1", PIN: staffPIN,
	}, map[string]string{"X-Admin-Token": adminTok})
	if login.Code != http.StatusOK {
		t.Fatalf("staff login: %d %s", login.Code, login.Body.String())
	}
	body := decodeBody(t, login)
	if body["shift_id"] != shiftID {
		t.Fatalf("shift_id = %v, want %s", body["shift_id"], shiftID)
	}
	if body["role"] != "kitchen" {
		t.Fatalf("role = %v", body["role"])
	}
	perms, _ := body["permissions"].([]any)
	if len(perms) == 0 {
		t.Fatal("no permissions in login response")
	}
	staffTok, _ := body["token"].(string)

	get := e.do(t, http.MethodGet, "/v1/staff/session", nil, map[string]string{"X-Session-Token": staffTok})
	if get.Code != http.StatusOK {
		t.Fatalf("get staff session: %d %s", get.Code, get.Body.String())
	}

	del := e.do(t, http.MethodDelete, "/v1/staff/session", nil, map[string]string{
		"X-Session-Token": staffTok,
		"X-Admin-Token":   adminTok,
	})
	if del.Code != http.StatusNoContent {
		t.Fatalf("delete staff session: %d %s", del.Code, del.Body.String())
	}

	gone := e.do(t, http.MethodGet, "/v1/staff/session", nil, map[string]string{"X-Session-Token": staffTok})
	if gone.Code != http.StatusUnauthorized {
		t.Fatalf("signed-out session: %d", gone.Code)
	}
}

func TestStaffLoginPreconditions(t *testing.T) {
	e := newTestEnv(t)
	adminTok := e.loginAdmin(t)

	noSponsor := e.do(t, http.MethodPost, "/v1/staff/login", staffLoginRequest{
		BusinessID: testBusiness, StaffID: "staff-1", PIN: staffPIN,
	}, nil)
	if noSponsor.Code != http.StatusForbidden {
		t.Fatalf("no sponsor: %d", noSponsor.Code)
	}
	if code := decodeBody(t, noSponsor)["code"]; code != "unauthorized_sponsor" {
		t.Fatalf("code = %v", code)
	}

	noShift := e.do(t, http.MethodPost, "/v1/staff/login", staffLoginRequest{
		BusinessID: testBusiness, StaffID: "staff-1", PIN: staffPIN,
	}, map[string]string{"X-Admin-Token": adminTok})
	if noShift.Code != http.StatusConflict {
		t.Fatalf("no shift: %d", noShift.Code)
	}
	if code := decodeBody(t, noShift)["code"]; code != "no_active_shift" {
		t.Fatalf("code = %v", code)
	}
}

func TestShiftCapacityOverHTTP(t *testing.T) {
	e := newTestEnv(t)
	adminTok := e.loginAdmin(t)
	e.openShift(t, adminTok, 1)

	first := e.do(t, http.MethodPost, "/v1/staff/login", staffLoginRequest{
		BusinessID: testBusiness, StaffID: "staff-1", PIN: staffPIN,
	}, map[string]string{"X-Admin-Token": adminTok})
	if first.Code != http.StatusOK {
		t.Fatalf("first login: %d %s", first.Code, first.Body.String())
	}

	second := e.do(t, http.MethodPost, "/v1/staff/login", staffLoginRequest{
		BusinessID: testBusiness, StaffID: "staff-2", PIN: staffPIN,
	}, map[string]string{"X-Admin-Token": adminTok})
	if second.Code != http.StatusConflict {
		t.Fatalf("over capacity: %d %s", second.Code, second.Body.String())
	}
	if code := decodeBody(t, second)["code"]; code != "shift_capacity_exceeded" {
		t.Fatalf("code = %v", code)
	}
}

func TestShiftCloseInvalidatesStaffSession(t *testing.T) {
	e := newTestEnv(t)
	adminTok := e.loginAdmin(t)
	shiftID := e.openShift(t, adminTok, 5)

	login := e.do(t, http.MethodPost, "/v1/staff/login", staffLoginRequest{
		BusinessID: testBusiness, StaffID: "staff-1", PIN: staffPIN,
	}, map[string]string{"X-Admin-Token": adminTok})
	staffTok, _ := decodeBody(t, login)["token"].(string)

	closeRec := e.do(t, http.MethodDelete, "/v1/shifts/"+shiftID, nil, map[string]string{"X-Admin-Token": adminTok})
	if closeRec.Code != http.StatusNoContent {
		t.Fatalf("close shift: %d %s", closeRec.Code, closeRec.Body.String())
	}

	get := e.do(t, http.MethodGet, "/v1/staff/session", nil, map[string]string{"X-Session-Token": staffTok})
	if get.Code != http.StatusUnauthorized {
		t.Fatalf("session after close: %d", get.Code)
	}
	if code := decodeBody(t, get)["code"]; code != "shift_ended" {
		t.Fatalf("code = %v", code)
	}
}

func TestPermissionsEndpoint(t *testing.T) {
	e := newTestEnv(t)
	adminTok := e.loginAdmin(t)

	rec := e.do(t, http.MethodGet, "/v1/permissions/staff-1", nil, map[string]string{"X-Admin-Token": adminTok})
	if rec.Code != http.StatusOK {
		t.Fatalf("permissions: %d %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["role"] != "kitchen" {
		t.Fatalf("role = %v", body["role"])
	}
	perms, _ := body["permissions"].([]any)
	var hasInventory bool
	for _, p := range perms {
		if p == "inventory:read" {
			hasInventory = true
		}
	}
	if !hasInventory {
		t.Fatalf("kitchen defaults missing from %v", perms)
	}

	missing := e.do(t, http.MethodGet, "/v1/permissions/nobody", nil, map[string]string{"X-Admin-Token": adminTok})
	if missing.Code != http.StatusNotFound {
		t.Fatalf("unknown staff: %d", missing.Code)
	}
}

func TestAuditEndpoint(t *testing.T) {
	e := newTestEnv(t)
	adminTok := e.loginAdmin(t)

	// One failed attempt to give the log something beyond the login.
	e.do(t, http.MethodPost, "/v1/admin/login", adminLoginRequest{
		Email: ownerEmail, Password: "nope", BusinessID: testBusiness,
	}, nil)

	rec := e.do(t, http.MethodGet, "/v1/audit", nil, map[string]string{"X-Admin-Token": adminTok})
	if rec.Code != http.StatusOK {
		t.Fatalf("audit: %d %s", rec.Code, rec.Body.String())
	}
	events, _ := decodeBody(t, rec)["events"].([]any)
	if len(events) < 2 {
		t.Fatalf("expected login and failure events, got %d", len(events))
	}

	if anon := e.do(t, http.MethodGet, "/v1/audit", nil, nil); anon.Code != http.StatusNotFound {
		t.Fatalf("audit without token: %d", anon.Code)
	}
}

func TestRequestIDPropagation(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodGet, "/healthz", nil, map[string]string{"X-Request-Id": "req-42"})
	if got := rec.Header().Get("X-Request-Id"); got != "req-42" {
		t.Fatalf("X-Request-Id = %q", got)
	}

	generated := e.do(t, http.MethodGet, "/healthz", nil, nil)
	if generated.Header().Get("X-Request-Id") == "" {
		t.Fatal("request id must be generated when absent")
	}
}
