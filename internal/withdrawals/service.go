package withdrawals

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/remoteprojobs/wallet/internal/accounts"
	"github.com/remoteprojobs/wallet/internal/apierr"
	"github.com/remoteprojobs/wallet/internal/idgen"
	"github.com/remoteprojobs/wallet/internal/metrics"
	"github.com/remoteprojobs/wallet/internal/money"
	"github.com/remoteprojobs/wallet/internal/syncutil"
	"github.com/remoteprojobs/wallet/internal/traces"
	"github.com/remoteprojobs/wallet/internal/validation"
)

// AccountReader loads the account a request is filed against.
type AccountReader interface {
	Get(ctx context.Context, id string) (*accounts.Account, error)
}

// RequestInput holds the caller-supplied fields of a withdrawal request.
type RequestInput struct {
	Amount      string
	Method      string
	Destination string
}

// Service implements the withdrawal state machine.
type Service struct {
	store    Store
	accounts AccountReader
	policy   Policy
	locker   syncutil.Locker
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a withdrawal service. The locker serializes approvals
// per account so a second approval observes the first one's debit.
func NewService(store Store, accts AccountReader, policy Policy, locker syncutil.Locker, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if locker == nil {
		locker = syncutil.NewLocalLocker()
	}
	return &Service{
		store:    store,
		accounts: accts,
		policy:   policy,
		locker:   locker,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Policy returns the configured minimums.
func (s *Service) Policy() Policy {
	return s.policy
}

// Request files a pending withdrawal. Checks run in a fixed order and each
// failure has its own code: eligibility, amount format, tier minimum, balance.
// The balance is only checked here, never reserved.
func (s *Service) Request(ctx context.Context, accountID string, in RequestInput) (req *Request, err error) {
	ctx, span := traces.StartSpan(ctx, "withdrawals.Request", traces.AccountID(accountID), traces.Amount(in.Amount))
	defer func() {
		traces.End(span, err)
		outcome := "created"
		if err != nil {
			outcome = string(apierr.CodeOf(err))
		}
		metrics.WithdrawalRequestsTotal.WithLabelValues(outcome).Inc()
	}()

	acct, err := s.accounts.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !acct.EligibleForWithdrawal {
		return nil, ErrNotEligible
	}

	amount, ok := money.ParsePositive(strings.TrimSpace(in.Amount))
	if !ok {
		return nil, ErrInvalidAmount
	}

	minimum := s.policy.MinimumFor(acct.Tier)
	if amount.LessThan(minimum) {
		return nil, ErrAmountBelowMinimum
	}

	balance := acct.BalanceDecimal()
	if amount.GreaterThan(balance) {
		if balance.LessThan(minimum) {
			return nil, ErrBalanceBelowMinimum
		}
		return nil, ErrInsufficientBalance
	}

	method, ok := validation.NormalizeMethod(in.Method)
	if !ok {
		return nil, ErrInvalidMethod
	}
	dest := validation.SanitizeString(in.Destination, validation.MaxDestinationLength)
	if dest == "" {
		return nil, ErrInvalidDestination
	}

	req = &Request{
		ID:          idgen.WithPrefix("wd_"),
		AccountID:   acct.ID,
		Amount:      money.Format(amount),
		Status:      StatusPending,
		Method:      method,
		Destination: dest,
		CreatedAt:   s.now(),
	}
	if err := s.store.Create(ctx, req); err != nil {
		return nil, err
	}

	s.logger.Info("withdrawal requested",
		"withdrawal_id", req.ID, "account_id", req.AccountID, "amount", req.Amount, "method", req.Method)
	return req, nil
}

// Approve debits the account and marks the request approved, atomically.
// The balance is re-checked at decision time.
func (s *Service) Approve(ctx context.Context, approver Approver, id, decidedBy, note string) (req *Request, err error) {
	ctx, span := traces.StartSpan(ctx, "withdrawals.Approve", traces.WithdrawalID(id))
	defer func() {
		traces.End(span, err)
		metrics.WithdrawalDecisionsTotal.WithLabelValues("approve", outcomeOf(err)).Inc()
	}()

	if approver == nil || !approver.CanDecideWithdrawals() {
		return nil, ErrForbidden
	}

	current, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.IsTerminal() {
		return nil, ErrAlreadyProcessed
	}

	unlock, err := s.locker.Lock(ctx, "account:"+current.AccountID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	req, acct, err := s.store.Approve(ctx, id, s.decision(decidedBy, note))
	if err != nil {
		s.logger.Info("withdrawal approval refused",
			"withdrawal_id", id, "account_id", current.AccountID, "error", err)
		return nil, err
	}

	s.logger.Info("withdrawal approved",
		"withdrawal_id", req.ID, "account_id", req.AccountID, "amount", req.Amount,
		"balance", acct.Balance, "decided_by", decidedBy)
	return req, nil
}

// Reject marks a pending request rejected. Balances are never touched.
func (s *Service) Reject(ctx context.Context, approver Approver, id, decidedBy, note string) (req *Request, err error) {
	ctx, span := traces.StartSpan(ctx, "withdrawals.Reject", traces.WithdrawalID(id))
	defer func() {
		traces.End(span, err)
		metrics.WithdrawalDecisionsTotal.WithLabelValues("reject", outcomeOf(err)).Inc()
	}()

	if approver == nil || !approver.CanDecideWithdrawals() {
		return nil, ErrForbidden
	}

	req, err = s.store.Reject(ctx, id, s.decision(decidedBy, note))
	if err != nil {
		return nil, err
	}

	s.logger.Info("withdrawal rejected",
		"withdrawal_id", req.ID, "account_id", req.AccountID, "amount", req.Amount, "decided_by", decidedBy)
	return req, nil
}

// ListPending returns pending requests for review, oldest first by default.
func (s *Service) ListPending(ctx context.Context, approver Approver, order Order, limit int) ([]*Request, error) {
	if approver == nil || !approver.CanDecideWithdrawals() {
		return nil, ErrForbidden
	}
	if order == "" {
		order = OldestFirst
	}
	return s.store.ListPending(ctx, order, listLimits.Clamp(limit))
}

// History returns an account's requests, newest first.
func (s *Service) History(ctx context.Context, accountID string, limit int) ([]*Request, error) {
	return s.store.ListByAccount(ctx, accountID, listLimits.Clamp(limit))
}

// Get returns one request.
func (s *Service) Get(ctx context.Context, id string) (*Request, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) decision(decidedBy, note string) Decision {
	return Decision{
		DecidedBy: decidedBy,
		Note:      validation.SanitizeString(note, validation.MaxStringLength),
		At:        s.now(),
	}
}

func outcomeOf(err error) string {
	if err == nil {
		return "success"
	}
	return string(apierr.CodeOf(err))
}
