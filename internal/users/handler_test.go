package users

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roleguard/roleguard/internal/rbac"
	"github.com/roleguard/roleguard/internal/shared"
)

type memoryIdempotency struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (m *memoryIdempotency) CheckAndInsert(_ context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys == nil {
		m.keys = make(map[string]bool)
	}
	if m.keys[module+"/"+key] {
		return shared.ErrIdempotencyConflict
	}
	m.keys[module+"/"+key] = true
	return nil
}

func (m *memoryIdempotency) Delete(_ context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, module+"/"+key)
	return nil
}

type handlerFixture struct {
	router http.Handler
	repo   *memoryRepo
	idem   *memoryIdempotency
}

// newHandlerFixture mounts the user routes with the caller acting as p. A zero
// principal leaves the request anonymous.
func newHandlerFixture(t *testing.T, p rbac.Principal) handlerFixture {
	t.Helper()
	svc, repo, _, _ := newTestService(t)
	repo.users = []User{
		{ID: 1, Name: "Ada", Email: "ada@example.com", Role: rbac.RoleAdmin, IsActive: true, Permissions: []string{"manage:users"}},
		{ID: 2, Name: "Uli", Email: "uli@example.com", Role: rbac.RoleUser, IsActive: true},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mw := rbac.Middleware{Evaluator: svc.evaluator, Resolver: svc, Logger: logger}
	idem := &memoryIdempotency{}
	h := NewHandler(logger, svc, svc.evaluator, idem, mw)

	r := chi.NewRouter()
	if p.ID != 0 {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				next.ServeHTTP(w, req.WithContext(rbac.ContextWithPrincipal(req.Context(), p)))
			})
		})
	}
	r.Route("/api/users", h.MountRoutes)
	return handlerFixture{router: r, repo: repo, idem: idem}
}

func (f handlerFixture) do(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		buf, _ := json.Marshal(body)
		reader = bytes.NewReader(buf)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res := httptest.NewRecorder()
	f.router.ServeHTTP(res, req)
	return res
}

func TestListUsersGate(t *testing.T) {
	cases := map[string]struct {
		principal rbac.Principal
		status    int
	}{
		"anonymous": {rbac.Principal{}, http.StatusUnauthorized},
		"user":      {rbac.Principal{ID: 2, Role: rbac.RoleUser}, http.StatusForbidden},
		"manager":   {rbac.Principal{ID: 3, Role: rbac.RoleManager}, http.StatusOK},
		"admin":     {rbac.Principal{ID: 1, Role: rbac.RoleAdmin}, http.StatusOK},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			f := newHandlerFixture(t, tc.principal)
			res := f.do(http.MethodGet, "/api/users", nil, nil)
			assert.Equal(t, tc.status, res.Code)
		})
	}
}

func TestListUsersOmitsPasswordHash(t *testing.T) {
	f := newHandlerFixture(t, rbac.Principal{ID: 1, Role: rbac.RoleAdmin})
	f.repo.users[0].PasswordHash = "secret-hash"

	res := f.do(http.MethodGet, "/api/users", nil, nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.NotContains(t, res.Body.String(), "secret-hash")

	var body struct {
		Users []View `json:"users"`
	}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &body))
	require.Len(t, body.Users, 2)
	assert.Equal(t, "ada@example.com", body.Users[0].Email)
	assert.Equal(t, []string{}, body.Users[1].Permissions)
}

func TestGetUser(t *testing.T) {
	self := newHandlerFixture(t, rbac.Principal{ID: 2, Role: rbac.RoleUser})
	assert.Equal(t, http.StatusOK, self.do(http.MethodGet, "/api/users/2", nil, nil).Code)
	assert.Equal(t, http.StatusForbidden, self.do(http.MethodGet, "/api/users/1", nil, nil).Code)
	assert.Equal(t, http.StatusBadRequest, self.do(http.MethodGet, "/api/users/abc", nil, nil).Code)

	manager := newHandlerFixture(t, rbac.Principal{ID: 3, Role: rbac.RoleManager})
	assert.Equal(t, http.StatusOK, manager.do(http.MethodGet, "/api/users/1", nil, nil).Code)
	assert.Equal(t, http.StatusNotFound, manager.do(http.MethodGet, "/api/users/42", nil, nil).Code)

	anon := newHandlerFixture(t, rbac.Principal{})
	assert.Equal(t, http.StatusUnauthorized, anon.do(http.MethodGet, "/api/users/2", nil, nil).Code)
}

func TestCreateUserEndpoint(t *testing.T) {
	f := newHandlerFixture(t, rbac.Principal{ID: 1, Role: rbac.RoleAdmin})

	res := f.do(http.MethodPost, "/api/users", map[string]string{
		"name": "Nia", "email": "nia@example.com", "role": "manager",
	}, nil)
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())

	var body struct {
		View
		InitialPassword string `json:"initial_password"`
	}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &body))
	assert.Equal(t, rbac.RoleManager, body.Role)
	assert.Len(t, body.InitialPassword, 20)
	assert.Contains(t, body.Permissions, "approve:requests")
}

func TestCreateUserEndpointErrors(t *testing.T) {
	cases := map[string]struct {
		principal rbac.Principal
		body      any
		status    int
	}{
		"manager lacks manage:users": {rbac.Principal{ID: 3, Role: rbac.RoleManager}, map[string]string{"name": "X", "email": "x@example.com", "role": "user"}, http.StatusForbidden},
		"anonymous":                  {rbac.Principal{}, map[string]string{"name": "X", "email": "x@example.com", "role": "user"}, http.StatusUnauthorized},
		"invalid role":               {rbac.Principal{ID: 1, Role: rbac.RoleAdmin}, map[string]string{"name": "X", "email": "x@example.com", "role": "owner"}, http.StatusBadRequest},
		"duplicate email":            {rbac.Principal{ID: 1, Role: rbac.RoleAdmin}, map[string]string{"name": "X", "email": "ada@example.com", "role": "user"}, http.StatusConflict},
		"outranks actor":             {rbac.Principal{ID: 1, Role: rbac.RoleAdmin}, map[string]string{"name": "X", "email": "x@example.com", "role": "super_admin"}, http.StatusForbidden},
		"unknown field":              {rbac.Principal{ID: 1, Role: rbac.RoleAdmin}, map[string]string{"name": "X", "email": "x@example.com", "role": "user", "level": "40"}, http.StatusBadRequest},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			f := newHandlerFixture(t, tc.principal)
			res := f.do(http.MethodPost, "/api/users", tc.body, nil)
			assert.Equal(t, tc.status, res.Code, res.Body.String())
		})
	}
}

func TestCreateUserIdempotencyKey(t *testing.T) {
	f := newHandlerFixture(t, rbac.Principal{ID: 1, Role: rbac.RoleAdmin})
	headers := map[string]string{shared.IdempotencyHeader: "req-1"}

	bad := f.do(http.MethodPost, "/api/users", map[string]string{"name": "X", "email": "ada@example.com", "role": "user"}, headers)
	require.Equal(t, http.StatusConflict, bad.Code)
	assert.Empty(t, f.idem.keys, "failed request releases its key")

	body := map[string]string{"name": "Y", "email": "y@example.com", "role": "user"}
	first := f.do(http.MethodPost, "/api/users", body, headers)
	require.Equal(t, http.StatusCreated, first.Code)

	retry := f.do(http.MethodPost, "/api/users", body, headers)
	assert.Equal(t, http.StatusConflict, retry.Code)
	assert.Len(t, f.repo.users, 3)
}

func TestListUsersPagination(t *testing.T) {
	f := newHandlerFixture(t, rbac.Principal{ID: 1, Role: rbac.RoleAdmin})

	res := f.do(http.MethodGet, "/api/users?page=2&per_page=1", nil, nil)
	require.Equal(t, http.StatusOK, res.Code)
	var body struct {
		Users      []View            `json:"users"`
		Pagination shared.Pagination `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &body))
	require.Len(t, body.Users, 1)
	assert.Equal(t, "uli@example.com", body.Users[0].Email)
	assert.Equal(t, shared.Pagination{Page: 2, PerPage: 1, Total: 2, TotalPages: 2}, body.Pagination)
}
