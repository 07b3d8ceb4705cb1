package parcels

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

	"github.com/mbd888/zapshift/internal/auth"
)

func init() {
	gin.SetMode(gin.TestMode)
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
	group := r.Group("/", auth.RequireAuth())
	NewHandler(NewService(store)).RegisterRoutes(group)

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

func TestCreateParcel(t *testing.T) {
	env := setupHandlerTest(t)

	w, resp := env.do(t, http.MethodPost, "/parcels", "sender@example.com", map[string]any{
		"parcelName":      "Birthday gift",
		"parcelType":      "non-document",
		"weight":          2.5,
		"receiverName":    "Rahim",
		"receiverAddress": "House 12, Road 5, Dhaka",
		"cost":            150,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, true, resp["success"])

	id, _ := resp["insertedId"].(string)
	require.NotEmpty(t, id)

	stored, err := env.store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "sender@example.com", stored.SenderEmail)
	assert.Equal(t, StatusUnpaid, stored.PaymentStatus)
	assert.Equal(t, int64(150), stored.Cost)
	assert.Empty(t, stored.TrackingID)
}

func TestCreateParcel_Validation(t *testing.T) {
	env := setupHandlerTest(t)

	w, resp := env.do(t, http.MethodPost, "/parcels", "sender@example.com", map[string]any{
		"parcelName": "Box",
		"cost":       0,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_request", resp["error"])

	w, _ = env.do(t, http.MethodPost, "/parcels", "sender@example.com", map[string]any{
		"parcelName": "Box",
		"cost":       12.5,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateParcel_OtherSender(t *testing.T) {
	env := setupHandlerTest(t)

	w, resp := env.do(t, http.MethodPost, "/parcels", "sender@example.com", map[string]any{
		"parcelName":  "Box",
		"senderEmail": "someone@example.com",
		"cost":        10,
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "forbidden", resp["error"])
}

func TestCreateParcel_Unauthenticated(t *testing.T) {
	env := setupHandlerTest(t)

	w, _ := env.do(t, http.MethodPost, "/parcels", "", map[string]any{"parcelName": "Box", "cost": 10})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestListParcels(t *testing.T) {
	env := setupHandlerTest(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)
	require.NoError(t, env.store.Create(ctx, newParcel("P1", "sender@example.com", base)))
	require.NoError(t, env.store.Create(ctx, newParcel("P2", "sender@example.com", base.Add(time.Minute))))
	require.NoError(t, env.store.Create(ctx, newParcel("P3", "other@example.com", base)))

	w, resp := env.do(t, http.MethodGet, "/parcels", "sender@example.com", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), resp["count"])
	list := resp["parcels"].([]any)
	assert.Equal(t, "P2", list[0].(map[string]any)["id"])

	w, _ = env.do(t, http.MethodGet, "/parcels?email=other@example.com", "sender@example.com", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = env.do(t, http.MethodGet, "/parcels?paymentStatus=refunded", "sender@example.com", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListParcels_Cursor(t *testing.T) {
	env := setupHandlerTest(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"P1", "P2", "P3"} {
		require.NoError(t, env.store.Create(ctx, newParcel(id, "sender@example.com", base.Add(time.Duration(i)*time.Minute))))
	}

	w, resp := env.do(t, http.MethodGet, "/parcels?limit=2", "sender@example.com", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), resp["count"])
	assert.Equal(t, true, resp["hasMore"])
	cursor := resp["nextCursor"].(string)

	w, resp = env.do(t, http.MethodGet, "/parcels?limit=2&cursor="+cursor, "sender@example.com", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), resp["count"])
	assert.Equal(t, false, resp["hasMore"])
	assert.Equal(t, "P1", resp["parcels"].([]any)[0].(map[string]any)["id"])
	assert.NotContains(t, resp, "nextCursor")

	w, resp = env.do(t, http.MethodGet, "/parcels?cursor=%21%21", "sender@example.com", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_request", resp["error"])
}

func TestGetParcel(t *testing.T) {
	env := setupHandlerTest(t)
	require.NoError(t, env.store.Create(context.Background(), newParcel("P1", "sender@example.com", time.Now())))

	w, resp := env.do(t, http.MethodGet, "/parcels/P1", "sender@example.com", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "P1", resp["parcel"].(map[string]any)["id"])

	w, _ = env.do(t, http.MethodGet, "/parcels/P1", "other@example.com", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, resp = env.do(t, http.MethodGet, "/parcels/nope", "sender@example.com", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", resp["error"])
}

func TestDeleteParcel(t *testing.T) {
	env := setupHandlerTest(t)
	ctx := context.Background()
	require.NoError(t, env.store.Create(ctx, newParcel("P1", "sender@example.com", time.Now())))
	require.NoError(t, env.store.Create(ctx, newParcel("P2", "sender@example.com", time.Now())))
	_, _ = env.store.UpdateStatusIfUnpaid(ctx, "P2", StatusTransition{Status: StatusPaid, TrackingID: "ZAP-1-AAA", PaidAt: time.Now()})

	w, resp := env.do(t, http.MethodDelete, "/parcels/P1", "sender@example.com", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), resp["deletedCount"])

	w, _ = env.do(t, http.MethodDelete, "/parcels/P1", "sender@example.com", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, resp = env.do(t, http.MethodDelete, "/parcels/P2", "sender@example.com", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "conflict", resp["error"])

	_, err := env.store.Get(ctx, "P2")
	assert.NoError(t, err)
}
