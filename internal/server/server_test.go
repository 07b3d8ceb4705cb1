package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/zapshift/internal/auth"
	"github.com/mbd888/zapshift/internal/checkout"
	"github.com/mbd888/zapshift/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testSecret = "test-secret"

func testConfig() *config.Config {
	return &config.Config{
		Port:          "0",
		Env:           "development",
		LogLevel:      "error",
		Currency:      "usd",
		SiteDomain:    "https://zapshift.example",
		AuthJWTSecret: testSecret,
	}
}

type testEnv struct {
	server  *Server
	gateway *checkout.MemoryGateway
	issuer  *auth.HMACVerifier
}

func newTestEnv(t *testing.T, cfg *config.Config) *testEnv {
	t.Helper()
	gateway := checkout.NewMemoryGateway(cfg.Currency)
	s, err := New(cfg,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithGateway(gateway),
	)
	require.NoError(t, err)
	return &testEnv{
		server:  s,
		gateway: gateway,
		issuer:  auth.NewHMACVerifier(testSecret, TokenIssuer),
	}
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
		token, err := e.issuer.Issue("uid-"+email, email, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.server.Router().ServeHTTP(w, req)

	var resp map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t, testConfig())

	w, resp := env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", resp["status"])

	w, _ = env.do(t, http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// Run was never called.
	w, _ = env.do(t, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRoutesRegistered(t *testing.T) {
	cfg := testConfig()
	cfg.StripeWebhookSecret = "whsec_test"
	env := newTestEnv(t, cfg)

	routes := make(map[string]bool)
	for _, r := range env.server.Router().Routes() {
		routes[r.Method+":"+r.Path] = true
	}

	for _, want := range []string{
		"GET:/health",
		"GET:/metrics",
		"POST:/parcels",
		"GET:/parcels",
		"GET:/parcels/:id",
		"DELETE:/parcels/:id",
		"POST:/create-checkout-session",
		"PATCH:/payment-success",
		"GET:/payments",
		"POST:/webhooks/stripe",
		"POST:/users",
		"GET:/users/:email/role",
	} {
		assert.True(t, routes[want], "route %s not registered", want)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	env := newTestEnv(t, testConfig())

	for _, path := range []string{"/parcels", "/payments"} {
		w, resp := env.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
		assert.Equal(t, "unauthenticated", resp["error"])
	}
}

func TestRequestIDEchoed(t *testing.T) {
	env := newTestEnv(t, testConfig())

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("X-Request-ID", "req-42")
	w := httptest.NewRecorder()
	env.server.Router().ServeHTTP(w, req)
	assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))

	w = httptest.NewRecorder()
	env.server.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Len(t, w.Header().Get("X-Request-ID"), 32)
}

func TestPaymentFlow(t *testing.T) {
	env := newTestEnv(t, testConfig())
	const sender = "alice@example.com"

	w, resp := env.do(t, http.MethodPost, "/parcels", sender, map[string]any{
		"parcelName":      "Documents",
		"parcelType":      "document",
		"receiverName":    "Bob",
		"receiverAddress": "12 Harbour Road",
		"cost":            50,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	parcelID := resp["insertedId"].(string)

	w, resp = env.do(t, http.MethodPost, "/create-checkout-session", "", map[string]any{
		"cost":        50,
		"parcelName":  "Documents",
		"parcelId":    parcelID,
		"senderEmail": sender,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	sessionID := resp["id"].(string)
	assert.NotEmpty(t, resp["url"])

	// Customer has not paid yet.
	w, resp = env.do(t, http.MethodPatch, "/payment-success?session_id="+sessionID, "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "not_paid", resp["error"])

	require.True(t, env.gateway.MarkPaid(sessionID, "pi_abc"))

	w, resp = env.do(t, http.MethodPatch, "/payment-success?session_id="+sessionID, "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, false, resp["alreadyProcessed"])
	tracking := resp["trackingId"]

	w, resp = env.do(t, http.MethodPatch, "/payment-success?session_id="+sessionID, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, resp["alreadyProcessed"])
	assert.Equal(t, tracking, resp["trackingId"])

	w, resp = env.do(t, http.MethodGet, "/parcels/"+parcelID, sender, nil)
	require.Equal(t, http.StatusOK, w.Code)
	parcel := resp["parcel"].(map[string]any)
	assert.Equal(t, "paid", parcel["paymentStatus"])
	assert.Equal(t, tracking, parcel["trackingId"])

	w, resp = env.do(t, http.MethodGet, "/payments", sender, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), resp["count"])
	payment := resp["payments"].([]any)[0].(map[string]any)
	assert.Equal(t, "50", payment["amount"])
	assert.Equal(t, "pi_abc", payment["transactionId"])

	// Paid parcels cannot be cancelled or paid again.
	w, _ = env.do(t, http.MethodDelete, "/parcels/"+parcelID, sender, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w, _ = env.do(t, http.MethodPost, "/create-checkout-session", "", map[string]any{
		"cost": 50, "parcelName": "Documents", "parcelId": parcelID,
	})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestMaskDSN(t *testing.T) {
	assert.Equal(t, "postgres://zap:***@db:5432/zapshift", maskDSN("postgres://zap:hunter2@db:5432/zapshift"))
	assert.Equal(t, "***", maskDSN("://bad"))
}
