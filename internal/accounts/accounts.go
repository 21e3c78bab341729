// Package accounts holds each user's wallet balance, tier and capability flags.
//
// Balance is a non-negative fixed-point amount. Every mutation is a single
// atomic check-and-write in the store; there is no read-then-write path.
package accounts

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/remoteprojobs/wallet/internal/apierr"
	"github.com/remoteprojobs/wallet/internal/money"
	"github.com/remoteprojobs/wallet/internal/traces"
)

var (
	ErrAccountNotFound     = apierr.New(apierr.CodeNotFound, "account not found")
	ErrAccountExists       = apierr.WithReason(apierr.CodeInvalidInput, "account_exists", "account already exists")
	ErrInvalidAmount       = apierr.New(apierr.CodeInvalidAmount, "amount must be a positive number with at most 2 decimals")
	ErrInsufficientBalance = apierr.New(apierr.CodeInsufficientBalance, "amount exceeds current balance")
	ErrInvalidTier         = apierr.WithReason(apierr.CodeInvalidInput, "invalid_tier", "tier must be regular or premium")
	ErrInvalidConnects     = apierr.WithReason(apierr.CodeInvalidInput, "invalid_connects", "connects must be positive")
	ErrInvalidAccountID    = apierr.WithReason(apierr.CodeInvalidInput, "invalid_account_id", "account id is required")
)

// Tier parameterizes the minimum withdrawal threshold.
type Tier string

const (
	TierRegular Tier = "regular"
	TierPremium Tier = "premium"
)

// ParseTier accepts "regular" or "premium" in any case.
func ParseTier(s string) (Tier, bool) {
	switch Tier(strings.ToLower(strings.TrimSpace(s))) {
	case TierRegular:
		return TierRegular, true
	case TierPremium:
		return TierPremium, true
	}
	return "", false
}

// Account is a user's wallet.
type Account struct {
	ID                    string    `json:"id"`
	Balance               string    `json:"balance"`
	Tier                  Tier      `json:"tier"`
	Verified              bool      `json:"verified"`
	EligibleForWithdrawal bool      `json:"isEligibleForWithdrawal"`
	ConnectsGranted       int       `json:"connectsGranted"`
	CreatedAt             time.Time `json:"createdAt"`
	UpdatedAt             time.Time `json:"updatedAt"`
}

// BalanceDecimal returns the balance as a decimal, zero if unparsable.
func (a *Account) BalanceDecimal() decimal.Decimal {
	v, ok := money.Parse(a.Balance)
	if !ok {
		return decimal.Zero
	}
	return v
}

// Store persists accounts. Amounts are validated positive decimal strings.
// Debit must compare and decrement in one atomic step and return
// ErrInsufficientBalance without writing when amount exceeds the balance.
type Store interface {
	Create(ctx context.Context, acct *Account) error
	Get(ctx context.Context, id string) (*Account, error)
	Credit(ctx context.Context, id, amount string) (*Account, error)
	Debit(ctx context.Context, id, amount string) (*Account, error)
	SetEligibility(ctx context.Context, id string, eligible bool) (*Account, error)
	SetTier(ctx context.Context, id string, tier Tier) (*Account, error)
	GrantConnects(ctx context.Context, id string, n int) (*Account, error)
	// ApplyPaymentGrant marks the account verified and withdrawal-eligible
	// and adds connects. Called only from the payment claim path.
	ApplyPaymentGrant(ctx context.Context, id string, connects int) (*Account, error)
}

// Service exposes account operations with input validation.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService creates an account service.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}

// Store returns the underlying store, for composing cross-entity transitions.
func (s *Service) Store() Store {
	return s.store
}

// Provision creates an empty account. Registration calls this once per user.
func (s *Service) Provision(ctx context.Context, id string, tier Tier) (*Account, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrInvalidAccountID
	}
	if tier == "" {
		tier = TierRegular
	}
	if _, ok := ParseTier(string(tier)); !ok {
		return nil, ErrInvalidTier
	}

	now := time.Now().UTC()
	acct := &Account{
		ID:        id,
		Balance:   money.Format(decimal.Zero),
		Tier:      tier,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Create(ctx, acct); err != nil {
		return nil, err
	}
	s.logger.Info("account provisioned", "account_id", id, "tier", tier)
	return acct, nil
}

// Get returns an account.
func (s *Service) Get(ctx context.Context, id string) (*Account, error) {
	return s.store.Get(ctx, id)
}

// GetBalance returns the account's current balance.
func (s *Service) GetBalance(ctx context.Context, id string) (string, error) {
	acct, err := s.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return acct.Balance, nil
}

// Credit increments the balance. Idempotency is the caller's concern.
func (s *Service) Credit(ctx context.Context, id, amount string) (acct *Account, err error) {
	ctx, span := traces.StartSpan(ctx, "accounts.Credit", traces.AccountID(id), traces.Amount(amount))
	defer func() { traces.End(span, err) }()

	norm, err := normalizePositive(amount)
	if err != nil {
		return nil, err
	}
	acct, err = s.store.Credit(ctx, id, norm)
	if err != nil {
		return nil, err
	}
	s.logger.Info("account credited", "account_id", id, "amount", norm, "balance", acct.Balance)
	return acct, nil
}

// Debit decrements the balance if it covers amount.
func (s *Service) Debit(ctx context.Context, id, amount string) (acct *Account, err error) {
	ctx, span := traces.StartSpan(ctx, "accounts.Debit", traces.AccountID(id), traces.Amount(amount))
	defer func() { traces.End(span, err) }()

	norm, err := normalizePositive(amount)
	if err != nil {
		return nil, err
	}
	acct, err = s.store.Debit(ctx, id, norm)
	if err != nil {
		return nil, err
	}
	s.logger.Info("account debited", "account_id", id, "amount", norm, "balance", acct.Balance)
	return acct, nil
}

// SetEligibility sets the withdrawal capability flag.
func (s *Service) SetEligibility(ctx context.Context, id string, eligible bool) (*Account, error) {
	acct, err := s.store.SetEligibility(ctx, id, eligible)
	if err != nil {
		return nil, err
	}
	s.logger.Info("account eligibility set", "account_id", id, "eligible", eligible)
	return acct, nil
}

// SetTier changes the account tier.
func (s *Service) SetTier(ctx context.Context, id string, tier Tier) (*Account, error) {
	t, ok := ParseTier(string(tier))
	if !ok {
		return nil, ErrInvalidTier
	}
	acct, err := s.store.SetTier(ctx, id, t)
	if err != nil {
		return nil, err
	}
	s.logger.Info("account tier set", "account_id", id, "tier", t)
	return acct, nil
}

// GrantConnects adds n connects without touching the balance.
func (s *Service) GrantConnects(ctx context.Context, id string, n int) (*Account, error) {
	if n <= 0 {
		return nil, ErrInvalidConnects
	}
	acct, err := s.store.GrantConnects(ctx, id, n)
	if err != nil {
		return nil, err
	}
	s.logger.Info("connects granted", "account_id", id, "connects", n, "total", acct.ConnectsGranted)
	return acct, nil
}

func normalizePositive(amount string) (string, error) {
	v, ok := money.ParsePositive(strings.TrimSpace(amount))
	if !ok {
		return "", ErrInvalidAmount
	}
	return money.Format(v), nil
}
