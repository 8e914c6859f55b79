package accesshttp

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/horsemanagement/stablegate/internal/access"
	"github.com/horsemanagement/stablegate/internal/audit"
	"github.com/horsemanagement/stablegate/internal/auth"
	"github.com/horsemanagement/stablegate/internal/proxy"
	"github.com/horsemanagement/stablegate/internal/screen"
	"github.com/horsemanagement/stablegate/internal/session"
	"github.com/horsemanagement/stablegate/internal/users"
)

const testSecret = "stable-secret"

type fakeBackend struct {
	mu       sync.Mutex
	records  map[string]string
	updates  map[string]map[string]bool
	userGets int
	down     bool
}

func (b *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if strings.HasPrefix(r.URL.Path, "/users/") {
		id := strings.TrimPrefix(r.URL.Path, "/users/")
		switch r.Method {
		case http.MethodGet:
			b.userGets++
			if b.down {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			rec, ok := b.records[id]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, rec)
		case http.MethodPut:
			var body struct {
				Permissions map[string]bool `json:"permissions"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			b.updates[id] = body.Permissions
			w.WriteHeader(http.StatusNoContent)
		}
		return
	}
	status := http.StatusOK
	if r.Method == http.MethodPost {
		status = http.StatusCreated
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"path": r.URL.Path})
}

func (b *fakeBackend) gets() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.userGets
}

func (b *fakeBackend) setRecord(id, doc string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records[id] = doc
}

func (b *fakeBackend) updated(id string) map[string]bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.updates[id]
}

type fakeObserver struct {
	mu        sync.Mutex
	decisions []string
}

func (o *fakeObserver) ObserveDecision(feature, reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.decisions = append(o.decisions, feature+":"+reason)
}

type fakeAudit struct {
	mu      sync.Mutex
	denials []audit.Denial
}

func (a *fakeAudit) RecordDenial(_ context.Context, d audit.Denial) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.denials = append(a.denials, d)
}

type harness struct {
	router   http.Handler
	backend  *fakeBackend
	mr       *miniredis.Miniredis
	observer *fakeObserver
	audit    *fakeAudit
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	backend := &fakeBackend{
		records: map[string]string{
			"u-horse": `{"role":"user","permissions":{"manage_horse":true}}`,
			"u-users": `{"role":"user","permissions":{"manage_users":true}}`,
			"u-none":  `{"role":"user","permissions":{}}`,
		},
		updates: map[string]map[string]bool{},
	}
	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)

	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })

	catalogue := access.DefaultCatalogue()
	gate := access.NewGate(catalogue)
	loader := users.NewLoader(users.NewClient(srv.URL, time.Second), catalogue, users.LoaderConfig{Timeout: time.Second})
	resolver := session.NewResolver(session.NewStore(rc, time.Hour), loader, nil)
	px, err := proxy.New(srv.URL, time.Second, nil)
	require.NoError(t, err)

	observer := &fakeObserver{}
	auditRec := &fakeAudit{}
	h := NewHandler(Options{
		Gate:     gate,
		Guard:    screen.NewGuard(gate, loader, resolver, nil),
		Sessions: resolver,
		Users:    users.NewClient(srv.URL, time.Second),
		Upstream: px,
		Observer: observer,
		Audit:    auditRec,
	})

	r := chi.NewRouter()
	r.Use(auth.Middleware(auth.NewVerifier(testSecret), nil))
	r.Route("/api", h.MountRoutes)
	return &harness{router: r, backend: backend, mr: mr, observer: observer, audit: auditRec}
}

func token(t *testing.T, userID, role string) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		Role:             role,
		RegisteredClaims: jwt.RegisteredClaims{Subject: userID, ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return raw
}

func (h *harness) do(t *testing.T, method, path, bearer, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rr := httptest.NewRecorder()
	h.router.ServeHTTP(rr, req)
	return rr
}

func (h *harness) mount(t *testing.T, feature, bearer string) mountView {
	t.Helper()
	rr := h.do(t, http.MethodPost, "/api/screens/"+feature+"/mount", bearer, "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var view mountView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &view))
	return view
}

func TestListFeaturesHidesPermissionKeys(t *testing.T) {
	h := newHarness(t)
	rr := h.do(t, http.MethodGet, "/api/features", "", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Features []featureView `json:"features"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Len(t, body.Features, 8)
	assert.NotContains(t, rr.Body.String(), "manage_")
}

func TestMountOutcomes(t *testing.T) {
	h := newHarness(t)

	// Admin on an admin-only screen, no permission fetch.
	view := h.mount(t, "users", token(t, "a1", "admin"))
	assert.Equal(t, screen.StateAuthenticatedAdmin, view.State)
	assert.True(t, view.Allowed)
	assert.Equal(t, 0, h.backend.gets())

	// User with the matching key.
	view = h.mount(t, "horses", token(t, "u-horse", "user"))
	assert.Equal(t, screen.StatePermissionsLoaded, view.State)
	assert.True(t, view.Allowed)
	assert.Equal(t, access.ReasonOK, view.Reason)
	assert.Equal(t, 1, h.backend.gets())
	assert.True(t, h.mr.Exists("stablegate:actor:u-horse"))

	// User holding the key of an admin-only feature.
	view = h.mount(t, "users", token(t, "u-users", "user"))
	assert.False(t, view.Allowed)
	assert.Equal(t, access.ReasonRoleInsufficient, view.Reason)

	// No actor.
	view = h.mount(t, "horses", "")
	assert.Equal(t, screen.StateUnauthenticated, view.State)
	assert.Equal(t, access.ReasonNotAuthenticated, view.Reason)

	// Backend failure falls back to deny with a warning.
	h.backend.mu.Lock()
	h.backend.down = true
	h.backend.mu.Unlock()
	view = h.mount(t, "horses", token(t, "u-horse", "user"))
	assert.Equal(t, screen.StateDenied, view.State)
	assert.False(t, view.Allowed)
	assert.Equal(t, access.ReasonPermissionDenied, view.Reason)
	assert.NotEmpty(t, view.Warning)
}

func TestMountEveryCallRefetches(t *testing.T) {
	h := newHarness(t)
	bearer := token(t, "u-horse", "user")
	h.mount(t, "horses", bearer)
	h.mount(t, "horses", bearer)
	assert.Equal(t, 2, h.backend.gets())
}

func TestMountUnknownFeature(t *testing.T) {
	h := newHarness(t)
	rr := h.do(t, http.MethodPost, "/api/screens/stalls/mount", token(t, "a1", "admin"), "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestMountRecordsDecisionAndDenial(t *testing.T) {
	h := newHarness(t)
	h.mount(t, "actions", token(t, "u-horse", "user"))

	assert.Contains(t, h.observer.decisions, "actions:permission_denied")
	require.Len(t, h.audit.denials, 1)
	assert.Equal(t, "u-horse", h.audit.denials[0].UserID)
	assert.Equal(t, "actions", h.audit.denials[0].Feature)
}

func TestCurrentAccess(t *testing.T) {
	h := newHarness(t)

	rr := h.do(t, http.MethodGet, "/api/access", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var anon accessView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &anon))
	assert.False(t, anon.Authenticated)
	for _, fd := range anon.Features {
		assert.Equal(t, access.ReasonNotAuthenticated, fd.Reason)
	}

	rr = h.do(t, http.MethodGet, "/api/access", token(t, "u-horse", "user"), "")
	require.Equal(t, http.StatusOK, rr.Code)
	var view accessView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &view))
	assert.True(t, view.Authenticated)
	allowed := map[access.Feature]bool{}
	for _, fd := range view.Features {
		allowed[fd.Feature] = fd.Allowed
	}
	assert.True(t, allowed[access.FeatureHorses])
	assert.False(t, allowed[access.FeatureActions])
	assert.False(t, allowed[access.FeatureUsers])

	h.do(t, http.MethodGet, "/api/access", token(t, "u-horse", "user"), "")
	assert.Equal(t, 1, h.backend.gets())
}

func TestProxyGating(t *testing.T) {
	h := newHarness(t)
	none := token(t, "u-none", "user")
	horse := token(t, "u-horse", "user")

	rr := h.do(t, http.MethodGet, "/api/horses/4", "", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = h.do(t, http.MethodGet, "/api/horses/4", none, "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"path":"/horses/4"}`, rr.Body.String())

	rr = h.do(t, http.MethodPost, "/api/horses", none, `{"name":"Bucephalus"}`)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Contains(t, rr.Body.String(), "Access Denied")
	assert.NotContains(t, rr.Body.String(), "manage_horse")
	assert.NotContains(t, rr.Body.String(), "permission_denied")

	rr = h.do(t, http.MethodPost, "/api/horses", horse, `{"name":"Bucephalus"}`)
	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.JSONEq(t, `{"path":"/horses"}`, rr.Body.String())

	rr = h.do(t, http.MethodDelete, "/api/actions/9", horse, "")
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = h.do(t, http.MethodPut, "/api/actions/9", token(t, "a1", "admin"), "{}")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"path":"/acts/9"}`, rr.Body.String())
}

func TestAdminOnlyFeatureGatesReads(t *testing.T) {
	h := newHarness(t)

	for _, id := range []string{"u-none", "u-users"} {
		bearer := token(t, id, "user")
		rr := h.do(t, http.MethodGet, "/api/users/u-horse", bearer, "")
		assert.Equal(t, http.StatusForbidden, rr.Code, id)
		assert.NotContains(t, rr.Body.String(), "manage_horse", id)

		rr = h.do(t, http.MethodGet, "/api/users", bearer, "")
		assert.Equal(t, http.StatusForbidden, rr.Code, id)
	}
	assert.Equal(t, 2, h.backend.gets(), "only the actor loads reach the backend")

	rr := h.do(t, http.MethodGet, "/api/users/u-horse", "", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	admin := token(t, "a1", "admin")
	rr = h.do(t, http.MethodGet, "/api/users/u-horse", admin, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "manage_horse")

	rr = h.do(t, http.MethodGet, "/api/users", admin, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"path":"/users"}`, rr.Body.String())
}

func TestProxySubMounts(t *testing.T) {
	h := newHarness(t)
	none := token(t, "u-none", "user")
	horse := token(t, "u-horse", "user")

	cases := []struct {
		method string
		path   string
		bearer string
		status int
		target string
	}{
		{http.MethodPost, "/api/horses/pensions", horse, http.StatusCreated, "/pensions"},
		{http.MethodPost, "/api/horses/pensions", none, http.StatusForbidden, ""},
		{http.MethodGet, "/api/horses/pensions", none, http.StatusOK, "/pensions"},
		{http.MethodGet, "/api/horses/notes/3", none, http.StatusOK, "/notes/3"},
		{http.MethodDelete, "/api/horses/notes/3", none, http.StatusForbidden, ""},
		{http.MethodPost, "/api/horses/predict", none, http.StatusCreated, "/predict"},
		{http.MethodPost, "/api/horses/predict", "", http.StatusUnauthorized, ""},
		{http.MethodGet, "/api/horses/search", none, http.StatusOK, "/horses/search"},
		{http.MethodGet, "/api/horses/12/notes", none, http.StatusOK, "/horses/12/notes"},
		{http.MethodGet, "/api/actions/analyses", none, http.StatusOK, "/analyses"},
		{http.MethodPost, "/api/actions/analyses", horse, http.StatusForbidden, ""},
		{http.MethodGet, "/api/locations/1", none, http.StatusOK, "/lieux/1"},
	}
	for _, tc := range cases {
		rr := h.do(t, tc.method, tc.path, tc.bearer, "{}")
		name := tc.method + " " + tc.path
		require.Equal(t, tc.status, rr.Code, name)
		if tc.target != "" {
			assert.JSONEq(t, `{"path":"`+tc.target+`"}`, rr.Body.String(), name)
		}
	}
}

func TestPermissionEditor(t *testing.T) {
	h := newHarness(t)
	admin := token(t, "a1", "admin")

	rr := h.do(t, http.MethodGet, "/api/users/u-horse/permissions", token(t, "u-users", "user"), "")
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = h.do(t, http.MethodGet, "/api/users/u-horse/permissions", admin, "")
	require.Equal(t, http.StatusOK, rr.Code)
	var view permissionsView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &view))
	assert.Len(t, view.Permissions, 8)
	assert.True(t, view.Permissions[access.PermManageHorse])
	assert.False(t, view.Permissions[access.PermManageAction])

	rr = h.do(t, http.MethodGet, "/api/users/ghost/permissions", admin, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = h.do(t, http.MethodPut, "/api/users/u-horse/permissions", admin, `{"permissions":{"fly":true}}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	h.mount(t, "horses", token(t, "u-horse", "user"))
	require.True(t, h.mr.Exists("stablegate:actor:u-horse"))

	rr = h.do(t, http.MethodPut, "/api/users/u-horse/permissions", admin, `{"permissions":{"manage_action":true}}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.False(t, h.mr.Exists("stablegate:actor:u-horse"))
	stored := h.backend.updated("u-horse")
	assert.Len(t, stored, 8)
	assert.True(t, stored["manage_action"])
	assert.False(t, stored["manage_horse"])
}

func TestPermissionEditorMalformedDocument(t *testing.T) {
	h := newHarness(t)
	h.backend.setRecord("u-bad", `{"role":"user","permissions":"yes"}`)

	rr := h.do(t, http.MethodGet, "/api/users/u-bad/permissions", token(t, "a1", "admin"), "")
	require.Equal(t, http.StatusOK, rr.Code)
	var view permissionsView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &view))
	assert.NotEmpty(t, view.Warning)
	for key, granted := range view.Permissions {
		assert.False(t, granted, key)
	}
}

func TestLogout(t *testing.T) {
	h := newHarness(t)
	bearer := token(t, "u-horse", "user")
	h.mount(t, "horses", bearer)
	require.True(t, h.mr.Exists("stablegate:actor:u-horse"))

	rr := h.do(t, http.MethodDelete, "/api/session", bearer, "")
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.False(t, h.mr.Exists("stablegate:actor:u-horse"))

	rr = h.do(t, http.MethodDelete, "/api/session", "", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestMiddlewarePanicsOnUnknownFeature(t *testing.T) {
	m := Middleware{Gate: access.NewGate(access.DefaultCatalogue())}
	assert.Panics(t, func() { m.RequireFeature("stalls") })
	assert.Panics(t, func() { m.GuardWrites("stalls") })
	assert.Panics(t, func() { m.RequireAuthenticated("stalls") })
}
