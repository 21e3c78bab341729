package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remoteprojobs/wallet/internal/auth"
	"github.com/remoteprojobs/wallet/internal/config"
	"github.com/remoteprojobs/wallet/internal/payments"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stubGateway accepts every push and reports every pushed payment as paid.
type stubGateway struct{}

func (stubGateway) InitiatePush(_ context.Context, req payments.PushRequest) (*payments.PushResponse, error) {
	return &payments.PushResponse{ProviderReference: "ws_CO_" + req.Reference, Status: "QUEUED"}, nil
}

func (stubGateway) TransactionStatus(_ context.Context, providerRef string) (*payments.GatewayStatus, error) {
	return &payments.GatewayStatus{
		Settled: true,
		Outcome: payments.Outcome{
			Reference:         strings.TrimPrefix(providerRef, "ws_CO_"),
			ProviderReference: providerRef,
			Success:           true,
		},
	}, nil
}

// testConfig returns a minimal in-memory config for testing
func testConfig() *config.Config {
	return &config.Config{
		Port:                 "0",
		Env:                  "development",
		LogLevel:             "error",
		LogFormat:            "text",
		JWTSecret:            "test-secret-test-secret-test-secret",
		MinWithdrawalRegular: "12.00",
		MinWithdrawalPremium: "50.00",
		PayHeroBaseURL:       "https://payhero.invalid",
		PaymentAmountKES:     1540,
		ConnectsGranted:      8,
		GatewayTimeout:       time.Second,
		ReconcileInterval:    time.Minute,
		PaymentPendingTTL:    30 * time.Minute,
		RateLimitRPM:         10000,
	}
}

type testServer struct {
	*Server
	t *testing.T
}

// newTestServer creates a server with a stub gateway
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	s, err := New(testConfig(), WithGateway(stubGateway{}))
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	t.Cleanup(s.Close)
	return &testServer{Server: s, t: t}
}

func (ts *testServer) token(accountID string, role auth.Role) string {
	ts.t.Helper()
	tok, err := ts.Verifier().Issue(accountID, role, time.Hour)
	require.NoError(ts.t, err)
	return tok
}

func (ts *testServer) do(method, path, token string, body any) *httptest.ResponseRecorder {
	ts.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(ts.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.Router().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode(t, w)["status"])

	w = ts.do(http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// Not ready until Run marks it so
	w = ts.do(http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	ts.ready.Store(true)
	w = ts.do(http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "wallet_")
}

func TestRequestID(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodGet, "/health/live", "", nil)
	assert.Len(t, w.Header().Get("X-Request-ID"), 32)

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("X-Request-ID", "lb-123")
	w = httptest.NewRecorder()
	ts.Router().ServeHTTP(w, req)
	assert.Equal(t, "lb-123", w.Header().Get("X-Request-ID"))
}

func TestRoutes_RequireAuth(t *testing.T) {
	ts := newTestServer(t)
	user := ts.token("acct-1", auth.RoleUser)

	tests := []struct {
		method, path, token string
		want                int
	}{
		{http.MethodGet, "/v1/wallet/balance", "", http.StatusUnauthorized},
		{http.MethodPost, "/v1/withdrawals", "", http.StatusUnauthorized},
		{http.MethodPost, "/v1/payments/stk-push", "", http.StatusUnauthorized},
		{http.MethodGet, "/v1/wallet/balance", "not-a-jwt", http.StatusUnauthorized},
		{http.MethodGet, "/v1/admin/withdrawals/pending", "", http.StatusUnauthorized},
		{http.MethodGet, "/v1/admin/withdrawals/pending", user, http.StatusForbidden},
		{http.MethodPost, "/v1/admin/accounts", user, http.StatusForbidden},
	}
	for _, tt := range tests {
		w := ts.do(tt.method, tt.path, tt.token, nil)
		if w.Code != tt.want {
			t.Errorf("%s %s: got %d, want %d (%s)", tt.method, tt.path, w.Code, tt.want, w.Body.String())
		}
	}
}

func TestCallback_IsPublic(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodPost, "/v1/payments/callback", "", map[string]any{
		"response": map[string]any{"ExternalReference": "PAY-UNKNOWN", "ResultCode": 0},
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", decode(t, w)["error"])
}

// TestWalletFlow walks an account from provisioning through a verification
// payment to an approved withdrawal.
func TestWalletFlow(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.token("admin-1", auth.RoleAdmin)
	user := ts.token("acct-1", auth.RoleUser)

	w := ts.do(http.MethodPost, "/v1/admin/accounts", admin, map[string]any{"id": "acct-1"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = ts.do(http.MethodPost, "/v1/admin/accounts/acct-1/credit", admin, map[string]any{"amount": "100.00"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Not yet eligible
	withdrawal := map[string]any{"amount": "60.00", "method": "mpesa", "destinationAddress": "254712345678"}
	w = ts.do(http.MethodPost, "/v1/withdrawals", user, withdrawal)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "not_eligible", decode(t, w)["error"])

	// Pay the verification fee
	w = ts.do(http.MethodPost, "/v1/payments/stk-push", user, map[string]any{"phone": "0712345678"})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	ref, _ := decode(t, w)["reference"].(string)
	require.True(t, strings.HasPrefix(ref, "PAY-"), ref)

	w = ts.do(http.MethodGet, "/v1/payments/status/"+ref, user, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pending", decode(t, w)["status"])

	callback := map[string]any{"status": true, "response": map[string]any{
		"ExternalReference":  ref,
		"ResultCode":         0,
		"ResultDesc":         "The service request is processed successfully.",
		"MpesaReceiptNumber": "SAE3YULR0Y",
	}}
	w = ts.do(http.MethodPost, "/v1/payments/callback", "", callback)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, decode(t, w)["applied"])

	// Redelivery is acknowledged but not applied
	w = ts.do(http.MethodPost, "/v1/payments/callback", "", callback)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["applied"])

	w = ts.do(http.MethodGet, "/v1/wallet/balance", user, nil)
	require.Equal(t, http.StatusOK, w.Code)
	bal := decode(t, w)
	assert.Equal(t, "100.00", bal["balance"])
	assert.Equal(t, true, bal["isEligibleForWithdrawal"])
	assert.Equal(t, float64(8), bal["connectsGranted"])

	// Request and approve
	w = ts.do(http.MethodPost, "/v1/withdrawals", user, withdrawal)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id, _ := decode(t, w)["withdrawal"].(map[string]any)["id"].(string)
	require.NotEmpty(t, id)

	w = ts.do(http.MethodGet, "/v1/admin/withdrawals/pending", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["count"])

	w = ts.do(http.MethodPost, "/v1/admin/withdrawals/"+id+"/approve", admin, map[string]any{"note": "paid out"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "approved", decode(t, w)["withdrawal"].(map[string]any)["status"])

	w = ts.do(http.MethodPost, "/v1/admin/withdrawals/"+id+"/reject", admin, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = ts.do(http.MethodGet, "/v1/wallet/balance", user, nil)
	assert.Equal(t, "40.00", decode(t, w)["balance"])

	w = ts.do(http.MethodGet, "/v1/withdrawals", user, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["count"])
}

func TestNew_RejectsBadChannelID(t *testing.T) {
	cfg := testConfig()
	cfg.PayHeroChannelID = "abc"
	_, err := New(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PAYHERO_CHANNEL_ID")
}

func TestMaskDSN(t *testing.T) {
	got := maskDSN("postgres://wallet:s3cret@db:5432/wallet?sslmode=disable")
	assert.NotContains(t, got, "s3cret")
	assert.Contains(t, got, "@db:5432/wallet")
}
