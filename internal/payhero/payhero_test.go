package payhero

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remoteprojobs/wallet/internal/circuitbreaker"
	"github.com/remoteprojobs/wallet/internal/payments"
)

func newTestClient(t *testing.T, h http.HandlerFunc, breaker *circuitbreaker.Breaker) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		BaseURL:   srv.URL + "/",
		BasicAuth: "dXNlcjpwYXNz",
		ChannelID: 911,
	}, breaker).WithHTTPClient(srv.Client())
}

func TestInitiatePush(t *testing.T) {
	var got map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v2/payments", r.URL.Path)
		assert.Equal(t, "Basic dXNlcjpwYXNz", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"success":true,"status":"QUEUED","reference":"E8UWT7CLUW","CheckoutRequestID":"ws_CO_1"}`))
	}, nil)

	resp, err := c.InitiatePush(context.Background(), payments.PushRequest{
		AmountKES:    1540,
		Phone:        "254712345678",
		Reference:    "PAY-01J0000000000000000000000",
		CallbackURL:  "https://api.example.com/v1/payments/callback",
		CustomerName: "acct-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "E8UWT7CLUW", resp.ProviderReference)
	assert.Equal(t, "QUEUED", resp.Status)

	assert.Equal(t, float64(1540), got["amount"])
	assert.Equal(t, "254712345678", got["phone_number"])
	assert.Equal(t, float64(911), got["channel_id"])
	assert.Equal(t, "m-pesa", got["provider"])
	assert.Equal(t, "PAY-01J0000000000000000000000", got["external_reference"])
	assert.Equal(t, "https://api.example.com/v1/payments/callback", got["callback_url"])
}

func TestInitiatePush_Errors(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error_message":"invalid credentials"}`))
	}, nil)

	_, err := c.InitiatePush(context.Background(), payments.PushRequest{Reference: "PAY-X"})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.Code)
	assert.Contains(t, se.Body, "invalid credentials")

	c = newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"status":"REJECTED"}`))
	}, nil)
	_, err = c.InitiatePush(context.Background(), payments.PushRequest{Reference: "PAY-X"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REJECTED")
}

func TestInitiatePush_NotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}, nil)

	_, err := c.InitiatePush(context.Background(), payments.PushRequest{Reference: "PAY-X"})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCircuitBreaker(t *testing.T) {
	var calls atomic.Int32
	breaker := circuitbreaker.New(2, time.Hour)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}, breaker)

	for i := 0; i < 2; i++ {
		_, err := c.InitiatePush(context.Background(), payments.PushRequest{Reference: "PAY-X"})
		require.Error(t, err)
	}
	_, err := c.InitiatePush(context.Background(), payments.PushRequest{Reference: "PAY-X"})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, circuitbreaker.StateOpen, breaker.State(BreakerKey))
}

func TestCircuitBreaker_IgnoresClientErrors(t *testing.T) {
	breaker := circuitbreaker.New(1, time.Hour)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}, breaker)

	for i := 0; i < 3; i++ {
		_, err := c.InitiatePush(context.Background(), payments.PushRequest{Reference: "PAY-X"})
		var se *StatusError
		require.ErrorAs(t, err, &se)
	}
	assert.Equal(t, circuitbreaker.StateClosed, breaker.State(BreakerKey))
}

func TestTransactionStatus(t *testing.T) {
	tests := []struct {
		body    string
		settled bool
		success bool
	}{
		{`{"status":"SUCCESS","provider_reference":"SAE3YULR0Y","external_reference":"PAY-1"}`, true, true},
		{`{"status":"FAILED","external_reference":"PAY-1"}`, true, false},
		{`{"status":"QUEUED","external_reference":"PAY-1"}`, false, false},
	}
	for _, tt := range tests {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodGet, r.Method)
			assert.Equal(t, "/api/v2/transaction-status", r.URL.Path)
			assert.Equal(t, "E8UWT7CLUW", r.URL.Query().Get("reference"))
			_, _ = w.Write([]byte(tt.body))
		}, nil)

		st, err := c.TransactionStatus(context.Background(), "E8UWT7CLUW")
		require.NoError(t, err)
		assert.Equal(t, tt.settled, st.Settled, tt.body)
		assert.Equal(t, tt.success, st.Outcome.Success, tt.body)
		if tt.success {
			assert.Equal(t, "SAE3YULR0Y", st.Outcome.ReceiptNumber)
		}
	}
}

func TestTransactionStatus_ContextTimeout(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.TransactionStatus(ctx, "E8UWT7CLUW")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestDecodeCallback(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    payments.Outcome
		wantErr bool
	}{
		{
			name: "success",
			body: `{"status":true,"response":{"Amount":1540,"CheckoutRequestID":"ws_CO_1","ExternalReference":"PAY-1","MpesaReceiptNumber":"SAE3YULR0Y","Phone":"+254712345678","ResultCode":0,"ResultDesc":"The service request is processed successfully.","Status":"Success"}}`,
			want: payments.Outcome{Reference: "PAY-1", Success: true, ProviderReference: "ws_CO_1", ReceiptNumber: "SAE3YULR0Y", Description: "The service request is processed successfully."},
		},
		{
			name: "cancelled",
			body: `{"status":false,"response":{"CheckoutRequestID":" ws_CO_2 ","ExternalReference":"PAY-2","ResultCode":1032,"ResultDesc":"Request cancelled by user"}}`,
			want: payments.Outcome{Reference: "PAY-2", ProviderReference: "ws_CO_2", Description: "Request cancelled by user"},
		},
		{
			name: "quoted result code",
			body: `{"response":{"ExternalReference":"PAY-3","ResultCode":"0"}}`,
			want: payments.Outcome{Reference: "PAY-3", Success: true},
		},
		{name: "missing reference", body: `{"response":{"ResultCode":0}}`, wantErr: true},
		{name: "missing result code", body: `{"response":{"ExternalReference":"PAY-4"}}`, wantErr: true},
		{name: "garbage result code", body: `{"response":{"ExternalReference":"PAY-4","ResultCode":"ok"}}`, wantErr: true},
		{name: "not json", body: `<xml/>`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decoder{}.DecodeCallback([]byte(tt.body))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}
