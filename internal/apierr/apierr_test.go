package apierr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var (
	errShort  = WithReason(CodeInsufficientBalance, "balance_below_minimum", "balance below minimum")
	errAmount = WithReason(CodeBelowMinimum, "amount_below_minimum", "amount below minimum")
)

func TestIs_MatchesCodeAndReason(t *testing.T) {
	wrapped := fmt.Errorf("request: %w", errShort)

	assert.True(t, errors.Is(wrapped, errShort))
	assert.False(t, errors.Is(wrapped, New(CodeInsufficientBalance, "other")))
	assert.False(t, errors.Is(wrapped, errAmount))
	assert.Equal(t, CodeInsufficientBalance, CodeOf(wrapped))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
}

func TestStatus(t *testing.T) {
	tests := map[Code]int{
		CodeNotFound:            http.StatusNotFound,
		CodeInvalidInput:        http.StatusBadRequest,
		CodeInvalidAmount:       http.StatusBadRequest,
		CodeBelowMinimum:        http.StatusUnprocessableEntity,
		CodeInsufficientBalance: http.StatusUnprocessableEntity,
		CodeNotEligible:         http.StatusForbidden,
		CodeAlreadyProcessed:    http.StatusConflict,
		CodeForbidden:           http.StatusForbidden,
		CodeUnauthorized:        http.StatusUnauthorized,
		CodeGatewayUnavailable:  http.StatusBadGateway,
		CodeInternal:            http.StatusInternalServerError,
	}
	for code, want := range tests {
		if got := Status(code); got != want {
			t.Errorf("Status(%s) = %d, want %d", code, got, want)
		}
	}
}

func respond(err error) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	Respond(c, err)
	return w
}

func TestRespond(t *testing.T) {
	w := respond(fmt.Errorf("wrapped: %w", errAmount))
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "below_minimum", body["error"])
	assert.Equal(t, "amount_below_minimum", body["reason"])

	w = respond(errors.New("pq: connection refused"))
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "connection refused")
	assert.Contains(t, w.Body.String(), "internal_error")
}
