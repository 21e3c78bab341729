// Package payhero is a client for the PayHero M-Pesa STK push API. It
// implements payments.Gateway and decodes PayHero callbacks.
package payhero

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/remoteprojobs/wallet/internal/circuitbreaker"
	"github.com/remoteprojobs/wallet/internal/metrics"
	"github.com/remoteprojobs/wallet/internal/payments"
)

// BreakerKey is the circuit breaker key for all PayHero calls.
const BreakerKey = "payhero"

// ErrCircuitOpen is returned without contacting PayHero while the breaker is open.
var ErrCircuitOpen = errors.New("payhero: circuit open")

// Config holds PayHero credentials and routing.
type Config struct {
	BaseURL   string
	BasicAuth string // pre-encoded "Basic" credential
	ChannelID int
	Provider  string
}

// Client talks to PayHero.
type Client struct {
	cfg     Config
	http    *http.Client
	breaker *circuitbreaker.Breaker
}

// NewClient creates a PayHero client. A nil breaker disables circuit breaking.
func NewClient(cfg Config, breaker *circuitbreaker.Breaker) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Provider == "" {
		cfg.Provider = "m-pesa"
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: 30 * time.Second},
		breaker: breaker,
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.http = hc
	return c
}

type pushBody struct {
	Amount            int64  `json:"amount"`
	PhoneNumber       string `json:"phone_number"`
	ChannelID         int    `json:"channel_id"`
	Provider          string `json:"provider"`
	ExternalReference string `json:"external_reference"`
	CallbackURL       string `json:"callback_url,omitempty"`
	CustomerName      string `json:"customer_name,omitempty"`
}

type pushResult struct {
	Success           bool   `json:"success"`
	Status            string `json:"status"`
	Reference         string `json:"reference"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

// InitiatePush asks PayHero to send an STK push. It is attempted once:
// a repeated push would prompt the customer twice.
func (c *Client) InitiatePush(ctx context.Context, req payments.PushRequest) (_ *payments.PushResponse, err error) {
	start := time.Now()
	defer func() { metrics.ObserveGateway("initiate_push", start, err) }()

	var res pushResult
	err = c.guard(func() error {
		return c.do(ctx, http.MethodPost, "/api/v2/payments", pushBody{
			Amount:            req.AmountKES,
			PhoneNumber:       req.Phone,
			ChannelID:         c.cfg.ChannelID,
			Provider:          c.cfg.Provider,
			ExternalReference: req.Reference,
			CallbackURL:       req.CallbackURL,
			CustomerName:      req.CustomerName,
		}, &res)
	})
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, fmt.Errorf("payhero: push rejected with status %q", res.Status)
	}

	ref := res.Reference
	if ref == "" {
		ref = res.CheckoutRequestID
	}
	return &payments.PushResponse{ProviderReference: ref, Status: res.Status}, nil
}

type statusResult struct {
	Success             bool   `json:"success"`
	Status              string `json:"status"`
	Reference           string `json:"reference"`
	ProviderReference   string `json:"provider_reference"`
	ThirdPartyReference string `json:"third_party_reference"`
	ExternalReference   string `json:"external_reference"`
}

// TransactionStatus queries a payment by PayHero's own reference.
// SUCCESS and FAILED are definitive; anything else is still in flight.
func (c *Client) TransactionStatus(ctx context.Context, providerRef string) (_ *payments.GatewayStatus, err error) {
	start := time.Now()
	defer func() { metrics.ObserveGateway("transaction_status", start, err) }()

	var res statusResult
	err = c.guard(func() error {
		return c.do(ctx, http.MethodGet, "/api/v2/transaction-status?reference="+url.QueryEscape(providerRef), nil, &res)
	})
	if err != nil {
		return nil, err
	}

	out := payments.Outcome{
		Reference:         res.ExternalReference,
		ProviderReference: providerRef,
		ReceiptNumber:     firstNonEmpty(res.ProviderReference, res.ThirdPartyReference),
		Description:       res.Status,
	}
	switch strings.ToUpper(res.Status) {
	case "SUCCESS":
		out.Success = true
		return &payments.GatewayStatus{Settled: true, Outcome: out}, nil
	case "FAILED":
		return &payments.GatewayStatus{Settled: true, Outcome: out}, nil
	}
	return &payments.GatewayStatus{Outcome: out}, nil
}

// guard runs fn through the circuit breaker. Only transport errors and 5xx
// count as failures.
func (c *Client) guard(fn func() error) error {
	if c.breaker == nil {
		return fn()
	}
	err := c.breaker.Execute(BreakerKey, fn, isGatewayFailure)
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return ErrCircuitOpen
	}
	return err
}

func isGatewayFailure(err error) bool {
	var se *StatusError
	return !errors.As(err, &se) || se.Code >= 500
}

// StatusError is a non-2xx answer from PayHero.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return "payhero: status " + strconv.Itoa(e.Code) + ": " + e.Body
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("payhero: marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("payhero: build request: %w", err)
	}
	req.Header.Set("Authorization", "Basic "+strings.TrimPrefix(c.cfg.BasicAuth, "Basic "))
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("payhero: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("payhero: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode, Body: truncate(string(raw), 256)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("payhero: decode response: %w", err)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

var _ payments.Gateway = (*Client)(nil)
