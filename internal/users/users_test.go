package users

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/zapshift/internal/apperr"
	"github.com/mbd888/zapshift/internal/auth"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestService_SaveUpserts(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store)
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return clock }
	ctx := context.Background()

	u, created, err := svc.Save(ctx, SaveRequest{Email: " Alice@Example.com ", DisplayName: "Alice"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "alice@example.com", u.Email)
	assert.Equal(t, RoleUser, u.Role)
	firstID := u.ID

	require.True(t, store.SetRole("alice@example.com", RoleRider))
	clock = clock.Add(time.Hour)

	u, created, err = svc.Save(ctx, SaveRequest{Email: "alice@example.com", PhotoURL: "https://img.example/a.png"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, firstID, u.ID)
	assert.Equal(t, "Alice", u.DisplayName)
	assert.Equal(t, "https://img.example/a.png", u.PhotoURL)
	assert.Equal(t, RoleRider, u.Role)
	assert.Equal(t, clock, u.LastLoginAt)
	assert.Equal(t, clock.Add(-time.Hour), u.CreatedAt)
}

func TestService_SaveValidation(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()

	_, _, err := svc.Save(ctx, SaveRequest{Email: "not-an-email"})
	assert.ErrorIs(t, err, apperr.ErrInvalidRequest)

	_, _, err = svc.Save(ctx, SaveRequest{Email: "a@example.com", PhotoURL: "ftp://x"})
	assert.ErrorIs(t, err, apperr.ErrInvalidRequest)
}

func TestService_RoleOf(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store)
	ctx := context.Background()

	role, err := svc.RoleOf(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.Equal(t, RoleUser, role)

	_, _, err = svc.Save(ctx, SaveRequest{Email: "boss@example.com"})
	require.NoError(t, err)
	store.SetRole("boss@example.com", RoleAdmin)

	role, err = svc.RoleOf(ctx, "BOSS@example.com")
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, role)
}

type testEnv struct {
	router   *gin.Engine
	store    *MemoryStore
	verifier *auth.HMACVerifier
}

func setupHandlerTest(t *testing.T) *testEnv {
	t.Helper()
	store := NewMemoryStore()
	verifier := auth.NewHMACVerifier("test-secret", "zapshift-test")

	r := gin.New()
	r.Use(auth.Middleware(verifier))
	NewHandler(NewService(store)).RegisterRoutes(r.Group("/", auth.RequireAuth()))
	return &testEnv{router: r, store: store, verifier: verifier}
}

func (e *testEnv) do(t *testing.T, method, path, email string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if email != "" {
		token, err := e.verifier.Issue("uid-"+email, email, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var resp map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

func TestSaveUser(t *testing.T) {
	env := setupHandlerTest(t)

	w, resp := env.do(t, http.MethodPost, "/users", "alice@example.com", map[string]any{"displayName": "Alice"})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, true, resp["created"])
	user := resp["user"].(map[string]any)
	assert.Equal(t, "alice@example.com", user["email"])
	assert.Equal(t, "user", user["role"])

	w, resp = env.do(t, http.MethodPost, "/users", "alice@example.com", map[string]any{"email": "alice@example.com"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, resp["created"])
}

func TestSaveUser_OtherEmail(t *testing.T) {
	env := setupHandlerTest(t)

	w, resp := env.do(t, http.MethodPost, "/users", "alice@example.com", map[string]any{"email": "mallory@example.com"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "forbidden", resp["error"])
}

func TestSaveUser_Unauthenticated(t *testing.T) {
	env := setupHandlerTest(t)

	w, _ := env.do(t, http.MethodPost, "/users", "", map[string]any{"email": "alice@example.com"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGetRole(t *testing.T) {
	env := setupHandlerTest(t)
	env.do(t, http.MethodPost, "/users", "rider@example.com", map[string]any{})
	env.do(t, http.MethodPost, "/users", "boss@example.com", map[string]any{})
	env.store.SetRole("rider@example.com", RoleRider)
	env.store.SetRole("boss@example.com", RoleAdmin)

	w, resp := env.do(t, http.MethodGet, "/users/rider@example.com/role", "rider@example.com", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "rider", resp["role"])

	w, resp = env.do(t, http.MethodGet, "/users/rider@example.com/role", "boss@example.com", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "rider", resp["role"])

	w, _ = env.do(t, http.MethodGet, "/users/boss@example.com/role", "rider@example.com", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, resp = env.do(t, http.MethodGet, "/users/new@example.com/role", "new@example.com", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user", resp["role"])
}
