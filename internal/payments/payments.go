// Package payments records payment-gateway attempts and settles them.
//
// Flow:
//  1. Account owner initiates a payment -> pending transaction with a fresh reference
//  2. Gateway is asked to push the charge to the phone, carrying the reference
//  3. Gateway calls back (or the reconciler asks) -> pending becomes success or failed
//
// The pending -> terminal transition is a single atomic claim. On success the
// same claim grants the account its unlock (verified, eligible, connects), so
// duplicate or concurrent deliveries apply the grant at most once.
package payments

import (
	"context"
	"time"

	"github.com/remoteprojobs/wallet/internal/apierr"
	"github.com/remoteprojobs/wallet/internal/pagination"
)

var (
	ErrPaymentNotFound    = apierr.WithReason(apierr.CodeNotFound, "payment_not_found", "payment not found")
	ErrInvalidPhone       = apierr.WithReason(apierr.CodeInvalidInput, "invalid_phone", "a valid phone number is required")
	ErrInvalidAmount      = apierr.New(apierr.CodeInvalidAmount, "amount must be a positive whole number of KES")
	ErrForbidden          = apierr.New(apierr.CodeForbidden, "payment belongs to another account")
	ErrGatewayUnavailable = apierr.New(apierr.CodeGatewayUnavailable, "payment gateway unavailable, payment left pending")

	ErrCallbackUnconfirmed = apierr.WithReason(apierr.CodeGatewayUnavailable, "callback_unconfirmed",
		"payment not confirmed by the gateway, left pending")
)

// Status represents the state of a payment transaction.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// IsTerminal returns true for success and failed.
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Settlement sources, recorded on the transaction and in metrics.
const (
	SourceCallback   = "callback"
	SourceReconciler = "reconciler"
)

// Transaction is one payment attempt. Reference is unique and never changes.
type Transaction struct {
	ID                string     `json:"id"`
	Reference         string     `json:"reference"`
	AccountID         string     `json:"accountId"`
	Phone             string     `json:"phone"`
	AmountKES         int64      `json:"amountKes"`
	Status            Status     `json:"status"`
	ProviderReference string     `json:"providerReference,omitempty"`
	ReceiptNumber     string     `json:"receiptNumber,omitempty"`
	ResultDesc        string     `json:"resultDesc,omitempty"`
	SettledBy         string     `json:"settledBy,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
	CompletedAt       *time.Time `json:"completedAt,omitempty"`
}

// Outcome is a definitive gateway answer for one reference, reduced to a
// boolean plus whatever the provider reported alongside it.
type Outcome struct {
	Reference         string
	Success           bool
	ProviderReference string
	ReceiptNumber     string
	Description       string
}

// Claim carries everything the store needs to settle a transaction.
type Claim struct {
	Outcome
	Source   string
	Connects int
	At       time.Time
}

// Store persists payment transactions.
//
// Complete is the claim: if the transaction is still pending it moves it to
// the outcome's status and, on success, applies the account grant in the
// same atomic unit, returning applied=true. If the transaction is already
// terminal nothing is written and applied=false. A provider reference
// already recorded is kept; the claim's only fills an empty one.
type Store interface {
	Create(ctx context.Context, tx *Transaction) error
	GetByReference(ctx context.Context, reference string) (*Transaction, error)
	ListByAccount(ctx context.Context, accountID string, limit int) ([]*Transaction, error)
	ListPending(ctx context.Context, createdBefore time.Time, limit int) ([]*Transaction, error)
	SetProviderReference(ctx context.Context, reference, providerRef string) error
	Complete(ctx context.Context, c Claim) (tx *Transaction, applied bool, err error)
}

// PushRequest is what the gateway needs to push a charge to a phone.
type PushRequest struct {
	AmountKES    int64
	Phone        string
	Reference    string
	CallbackURL  string
	CustomerName string
}

// PushResponse is the gateway's acknowledgement of a push.
type PushResponse struct {
	ProviderReference string
	Status            string
}

// GatewayStatus is the gateway's view of one payment. Settled is false while
// the provider has no definitive answer.
type GatewayStatus struct {
	Settled bool
	Outcome Outcome
}

// Gateway is the external mobile-money provider.
type Gateway interface {
	InitiatePush(ctx context.Context, req PushRequest) (*PushResponse, error)
	TransactionStatus(ctx context.Context, providerRef string) (*GatewayStatus, error)
}

var listLimits = pagination.Limits{Default: 50, Max: 500}
