package accounts

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remoteprojobs/wallet/internal/auth"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupRouter(t *testing.T) (*gin.Engine, *Service) {
	t.Helper()
	svc := newTestService(t)
	h := NewHandler(svc, nil)

	r := gin.New()
	v1 := r.Group("/v1")
	v1.Use(func(c *gin.Context) {
		if id := c.GetHeader("X-Test-Account"); id != "" {
			c.Set(auth.ContextKeyIdentity, auth.Identity{AccountID: id, Role: auth.RoleUser})
		}
		c.Next()
	})
	h.RegisterRoutes(v1)
	h.RegisterAdminRoutes(v1.Group("/admin"))
	return r, svc
}

func doJSON(r *gin.Engine, method, path, account string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if account != "" {
		req.Header.Set("X-Test-Account", account)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandler_BalanceLifecycle(t *testing.T) {
	r, _ := setupRouter(t)

	w := doJSON(r, http.MethodPost, "/v1/admin/accounts", "", gin.H{"id": "acct-1"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = doJSON(r, http.MethodPost, "/v1/admin/accounts/acct-1/credit", "", gin.H{"amount": 50})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(r, http.MethodGet, "/v1/wallet/balance", "acct-1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "50.00", resp["balance"])
	assert.Equal(t, "regular", resp["tier"])
	assert.Equal(t, false, resp["isEligibleForWithdrawal"])
}

func TestHandler_BalanceUnknownAccount(t *testing.T) {
	r, _ := setupRouter(t)
	w := doJSON(r, http.MethodGet, "/v1/wallet/balance", "ghost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), `"not_found"`)
}

func TestHandler_CreditRejectsBadAmount(t *testing.T) {
	r, _ := setupRouter(t)
	doJSON(r, http.MethodPost, "/v1/admin/accounts", "", gin.H{"id": "acct-1"})

	for _, amt := range []any{-5, 0, "abc", true} {
		w := doJSON(r, http.MethodPost, "/v1/admin/accounts/acct-1/credit", "", gin.H{"amount": amt})
		assert.Equal(t, http.StatusBadRequest, w.Code, "amount %v", amt)
		assert.Contains(t, w.Body.String(), `"invalid_amount"`)
	}
}

func TestHandler_AdminCapabilityEndpoints(t *testing.T) {
	r, svc := setupRouter(t)
	doJSON(r, http.MethodPost, "/v1/admin/accounts", "", gin.H{"id": "acct-1", "tier": "premium"})

	w := doJSON(r, http.MethodPost, "/v1/admin/accounts/acct-1/eligibility", "", gin.H{"eligible": true})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(r, http.MethodPost, "/v1/admin/accounts/acct-1/connects", "", gin.H{"connects": 4})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(r, http.MethodPost, "/v1/admin/accounts/acct-1/tier", "", gin.H{"tier": "gold"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(r, http.MethodPost, "/v1/admin/accounts/acct-1/eligibility", "", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	acct, err := svc.Get(t.Context(), "acct-1")
	require.NoError(t, err)
	assert.True(t, acct.EligibleForWithdrawal)
	assert.Equal(t, 4, acct.ConnectsGranted)
	assert.Equal(t, TierPremium, acct.Tier)
}
