// Package withdrawals implements the withdrawal ledger and its state machine.
//
// Flow:
//  1. Account owner requests a withdrawal -> pending entry, balance untouched
//  2. Admin approves -> balance re-checked and debited, entry approved (one atomic step)
//  3. Admin rejects  -> entry rejected, balance untouched
//
// Funds are not reserved at request time. Two pending requests may together
// exceed the balance; the approval-time check decides which one succeeds.
package withdrawals

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/remoteprojobs/wallet/internal/accounts"
	"github.com/remoteprojobs/wallet/internal/apierr"
	"github.com/remoteprojobs/wallet/internal/money"
	"github.com/remoteprojobs/wallet/internal/pagination"
)

var (
	ErrRequestNotFound     = apierr.WithReason(apierr.CodeNotFound, "request_not_found", "withdrawal request not found")
	ErrAlreadyProcessed    = apierr.New(apierr.CodeAlreadyProcessed, "withdrawal request already decided")
	ErrNotEligible         = apierr.New(apierr.CodeNotEligible, "account is not eligible for withdrawals")
	ErrInvalidAmount       = apierr.New(apierr.CodeInvalidAmount, "amount must be a positive number with at most 2 decimals")
	ErrAmountBelowMinimum  = apierr.WithReason(apierr.CodeBelowMinimum, "amount_below_minimum", "amount is below the minimum withdrawal for this tier")
	ErrBalanceBelowMinimum = apierr.WithReason(apierr.CodeInsufficientBalance, "balance_below_minimum", "balance is below the minimum withdrawal for this tier")
	ErrInsufficientBalance = accounts.ErrInsufficientBalance
	ErrForbidden           = apierr.New(apierr.CodeForbidden, "not permitted to decide withdrawals")
	ErrInvalidMethod       = apierr.WithReason(apierr.CodeInvalidInput, "invalid_method", "method must be one of mpesa, paypal, bank, crypto")
	ErrInvalidDestination  = apierr.WithReason(apierr.CodeInvalidInput, "invalid_destination", "destination address is required")
)

// Status represents the state of a withdrawal request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Request is one withdrawal ledger entry. Amount never changes after creation.
type Request struct {
	ID          string     `json:"id"`
	AccountID   string     `json:"accountId"`
	Amount      string     `json:"amount"`
	Status      Status     `json:"status"`
	Method      string     `json:"method"`
	Destination string     `json:"destinationAddress"`
	Note        string     `json:"note,omitempty"`
	DecidedBy   string     `json:"decidedBy,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	DecidedAt   *time.Time `json:"decidedAt,omitempty"`
}

// IsTerminal returns true once the request has been approved or rejected.
func (r *Request) IsTerminal() bool {
	return r.Status == StatusApproved || r.Status == StatusRejected
}

// Decision carries the audit fields written on approve/reject.
type Decision struct {
	DecidedBy string
	Note      string
	At        time.Time
}

// Order selects the sort direction of pending listings.
type Order string

const (
	OldestFirst Order = "oldest"
	NewestFirst Order = "newest"
)

// ParseOrder maps a query value to an Order, defaulting to oldest-first.
func ParseOrder(s string) (Order, bool) {
	switch Order(s) {
	case "", OldestFirst:
		return OldestFirst, true
	case NewestFirst:
		return NewestFirst, true
	}
	return "", false
}

// Store persists withdrawal requests.
//
// Approve must, in one atomic unit, confirm the request is still pending,
// debit the owning account by the request amount if the balance covers it,
// and mark the request approved. On any failure nothing is written.
// Reject must flip pending to rejected atomically and never touch balances.
type Store interface {
	Create(ctx context.Context, req *Request) error
	Get(ctx context.Context, id string) (*Request, error)
	ListPending(ctx context.Context, order Order, limit int) ([]*Request, error)
	ListByAccount(ctx context.Context, accountID string, limit int) ([]*Request, error)
	Approve(ctx context.Context, id string, d Decision) (*Request, *accounts.Account, error)
	Reject(ctx context.Context, id string, d Decision) (*Request, error)
}

// Approver is the administrative capability required to decide withdrawals.
type Approver interface {
	CanDecideWithdrawals() bool
}

// Policy holds the tier-dependent minimum withdrawal amounts.
type Policy struct {
	RegularMinimum decimal.Decimal
	PremiumMinimum decimal.Decimal
}

// NewPolicy builds a Policy from decimal strings. regular must be below premium.
func NewPolicy(regular, premium string) (Policy, error) {
	r, ok := money.ParsePositive(regular)
	if !ok {
		return Policy{}, fmt.Errorf("invalid regular minimum %q", regular)
	}
	p, ok := money.ParsePositive(premium)
	if !ok {
		return Policy{}, fmt.Errorf("invalid premium minimum %q", premium)
	}
	if !r.LessThan(p) {
		return Policy{}, fmt.Errorf("regular minimum %s must be below premium minimum %s", regular, premium)
	}
	return Policy{RegularMinimum: r, PremiumMinimum: p}, nil
}

// MinimumFor returns the minimum withdrawal for a tier.
func (p Policy) MinimumFor(tier accounts.Tier) decimal.Decimal {
	if tier == accounts.TierPremium {
		return p.PremiumMinimum
	}
	return p.RegularMinimum
}

// Limits returns the minimums formatted for display.
func (p Policy) Limits() map[accounts.Tier]string {
	return map[accounts.Tier]string{
		accounts.TierRegular: money.Format(p.RegularMinimum),
		accounts.TierPremium: money.Format(p.PremiumMinimum),
	}
}

// listLimits bounds the pending queue and history pages.
var listLimits = pagination.Limits{Default: 100, Max: 500}
