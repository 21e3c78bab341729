package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/remoteprojobs/wallet/internal/accounts"
	"github.com/remoteprojobs/wallet/internal/idgen"
	"github.com/remoteprojobs/wallet/internal/logging"
	"github.com/remoteprojobs/wallet/internal/metrics"
	"github.com/remoteprojobs/wallet/internal/retry"
	"github.com/remoteprojobs/wallet/internal/traces"
	"github.com/remoteprojobs/wallet/internal/validation"
)

// AccountReader confirms the paying account exists.
type AccountReader interface {
	Get(ctx context.Context, id string) (*accounts.Account, error)
}

// Options configures the processor.
type Options struct {
	DefaultAmountKES int64
	ConnectsGranted  int
	CallbackURL      string
	GatewayTimeout   time.Duration
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		DefaultAmountKES: 1540,
		ConnectsGranted:  8,
		GatewayTimeout:   15 * time.Second,
	}
}

// Processor initiates payments and settles them from callbacks or reconciliation.
type Processor struct {
	store    Store
	accounts AccountReader
	gateway  Gateway
	opts     Options
	logger   *slog.Logger
	now      func() time.Time
}

// NewProcessor creates a payment processor.
func NewProcessor(store Store, accts AccountReader, gateway Gateway, opts Options, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultOptions()
	if opts.DefaultAmountKES <= 0 {
		opts.DefaultAmountKES = def.DefaultAmountKES
	}
	if opts.ConnectsGranted <= 0 {
		opts.ConnectsGranted = def.ConnectsGranted
	}
	if opts.GatewayTimeout <= 0 {
		opts.GatewayTimeout = def.GatewayTimeout
	}
	return &Processor{
		store:    store,
		accounts: accts,
		gateway:  gateway,
		opts:     opts,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Initiate records a pending transaction and asks the gateway to push the
// charge. If the gateway call fails the transaction stays pending and is
// returned together with ErrGatewayUnavailable so the caller can keep polling.
func (p *Processor) Initiate(ctx context.Context, accountID, phone string, amountKES int64) (tx *Transaction, err error) {
	ctx, span := traces.StartSpan(ctx, "payments.Initiate", traces.AccountID(accountID))
	defer func() {
		traces.End(span, err)
		metrics.PaymentsInitiatedTotal.WithLabelValues(outcomeOf(err)).Inc()
	}()

	msisdn, ok := validation.NormalizePhone(phone)
	if !ok {
		return nil, ErrInvalidPhone
	}
	if amountKES < 0 {
		return nil, ErrInvalidAmount
	}
	if amountKES == 0 {
		amountKES = p.opts.DefaultAmountKES
	}
	if _, err := p.accounts.Get(ctx, accountID); err != nil {
		return nil, err
	}

	now := p.now()
	tx = &Transaction{
		ID:        idgen.WithPrefix("pay_"),
		Reference: idgen.Reference(),
		AccountID: accountID,
		Phone:     msisdn,
		AmountKES: amountKES,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	span.SetAttributes(traces.Reference(tx.Reference))
	if err := p.store.Create(ctx, tx); err != nil {
		return nil, err
	}

	gwCtx, cancel := context.WithTimeout(ctx, p.opts.GatewayTimeout)
	defer cancel()

	resp, gwErr := p.gateway.InitiatePush(gwCtx, PushRequest{
		AmountKES:    amountKES,
		Phone:        msisdn,
		Reference:    tx.Reference,
		CallbackURL:  p.opts.CallbackURL,
		CustomerName: accountID,
	})
	if gwErr != nil {
		logging.L(ctx).Warn("gateway push failed, payment left pending",
			"reference", tx.Reference, "account_id", accountID, "error", gwErr)
		return tx, fmt.Errorf("%w: %v", ErrGatewayUnavailable, gwErr)
	}

	if resp.ProviderReference != "" {
		if err := p.store.SetProviderReference(ctx, tx.Reference, resp.ProviderReference); err != nil {
			return nil, err
		}
		tx.ProviderReference = resp.ProviderReference
	}

	p.logger.Info("payment initiated",
		"reference", tx.Reference, "account_id", accountID, "amount", amountKES,
		"provider_reference", tx.ProviderReference)
	return tx, nil
}

// HandleCallback settles the transaction named by the callback. Unknown
// references fail with ErrPaymentNotFound. Callbacks for transactions that
// are already terminal are absorbed: the current transaction is returned with
// applied=false and nothing changes.
//
// The callback endpoint is unauthenticated, so a success callback is only
// applied once the gateway's own status query agrees. Otherwise the
// transaction stays pending and ErrCallbackUnconfirmed is returned.
func (p *Processor) HandleCallback(ctx context.Context, out Outcome) (tx *Transaction, applied bool, err error) {
	ctx, span := traces.StartSpan(ctx, "payments.HandleCallback", traces.Reference(out.Reference))
	defer func() { traces.End(span, err) }()

	if out.Success {
		out, err = p.confirmSuccess(ctx, out)
	}
	if err == nil {
		tx, applied, err = p.settle(ctx, out, SourceCallback)
	}
	switch {
	case errors.Is(err, ErrPaymentNotFound):
		metrics.PaymentCallbacksTotal.WithLabelValues(metrics.CallbackUnknownReference).Inc()
		p.logger.Warn("callback for unknown reference discarded", "reference", out.Reference)
	case errors.Is(err, ErrCallbackUnconfirmed):
		metrics.PaymentCallbacksTotal.WithLabelValues(metrics.CallbackUnconfirmed).Inc()
		p.logger.Warn("success callback not confirmed by gateway, payment left pending",
			"reference", out.Reference, "error", err)
	case err != nil:
	case applied:
		metrics.PaymentCallbacksTotal.WithLabelValues(metrics.CallbackApplied).Inc()
	default:
		metrics.PaymentCallbacksTotal.WithLabelValues(metrics.CallbackDuplicate).Inc()
		p.logger.Info("duplicate callback absorbed",
			"reference", out.Reference, "status", tx.Status, "reason", "already_terminal")
	}
	span.SetAttributes(traces.Outcome(callbackResult(applied, err)))
	return tx, applied, err
}

// confirmSuccess replaces a success callback with the gateway's settled
// outcome for the same payment. Terminal transactions are returned untouched
// so the claim can absorb the redelivery without a gateway round trip.
func (p *Processor) confirmSuccess(ctx context.Context, out Outcome) (Outcome, error) {
	out.Reference = strings.TrimSpace(out.Reference)
	if out.Reference == "" {
		return out, ErrPaymentNotFound
	}
	tx, err := p.store.GetByReference(ctx, out.Reference)
	if err != nil {
		return out, err
	}
	if tx.Status.IsTerminal() {
		return out, nil
	}

	providerRef := tx.ProviderReference
	if providerRef == "" {
		providerRef = strings.TrimSpace(out.ProviderReference)
	}
	if providerRef == "" {
		return out, fmt.Errorf("%w: no provider reference recorded", ErrCallbackUnconfirmed)
	}

	status, err := p.gatewayStatus(ctx, providerRef, retry.Policy{Attempts: 1})
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrCallbackUnconfirmed, err)
	}
	if status == nil || !status.Settled {
		return out, fmt.Errorf("%w: gateway reports the payment unsettled", ErrCallbackUnconfirmed)
	}
	// A provider reference taken from the callback must lead back to this payment.
	if status.Outcome.Reference != "" && status.Outcome.Reference != tx.Reference {
		return out, fmt.Errorf("%w: gateway reference %s belongs to another payment",
			ErrCallbackUnconfirmed, status.Outcome.Reference)
	}
	if tx.ProviderReference == "" && status.Outcome.Reference == "" {
		return out, fmt.Errorf("%w: gateway did not name the payment", ErrCallbackUnconfirmed)
	}

	confirmed := status.Outcome
	confirmed.Reference = tx.Reference
	if confirmed.ProviderReference == "" {
		confirmed.ProviderReference = providerRef
	}
	if confirmed.Success && confirmed.ReceiptNumber == "" {
		confirmed.ReceiptNumber = out.ReceiptNumber
	}
	if out.Description != "" {
		confirmed.Description = out.Description
	}
	return confirmed, nil
}

// settle runs the atomic claim and records the transition.
func (p *Processor) settle(ctx context.Context, out Outcome, source string) (*Transaction, bool, error) {
	ref := strings.TrimSpace(out.Reference)
	if ref == "" {
		return nil, false, ErrPaymentNotFound
	}
	out.Reference = ref

	tx, applied, err := p.store.Complete(ctx, Claim{
		Outcome:  out,
		Source:   source,
		Connects: p.opts.ConnectsGranted,
		At:       p.now(),
	})
	if err != nil {
		return nil, false, err
	}
	if applied {
		metrics.PaymentSettlementsTotal.WithLabelValues(string(tx.Status), source).Inc()
		p.logger.Info("payment settled",
			"reference", tx.Reference, "account_id", tx.AccountID, "status", tx.Status,
			"source", source, "receipt", tx.ReceiptNumber)
	}
	return tx, applied, nil
}

// PollStatus returns the transaction if it belongs to accountID.
func (p *Processor) PollStatus(ctx context.Context, accountID, reference string) (*Transaction, error) {
	tx, err := p.store.GetByReference(ctx, strings.TrimSpace(reference))
	if err != nil {
		return nil, err
	}
	if tx.AccountID != accountID {
		return nil, ErrForbidden
	}
	return tx, nil
}

// List returns an account's payments, newest first.
func (p *Processor) List(ctx context.Context, accountID string, limit int) ([]*Transaction, error) {
	return p.store.ListByAccount(ctx, accountID, listLimits.Clamp(limit))
}

func callbackResult(applied bool, err error) string {
	switch {
	case errors.Is(err, ErrPaymentNotFound):
		return metrics.CallbackUnknownReference
	case errors.Is(err, ErrCallbackUnconfirmed):
		return metrics.CallbackUnconfirmed
	case err != nil:
		return "error"
	case applied:
		return metrics.CallbackApplied
	}
	return metrics.CallbackDuplicate
}

func outcomeOf(err error) string {
	if err == nil {
		return "success"
	}
	if errors.Is(err, ErrGatewayUnavailable) {
		return "gateway_unavailable"
	}
	return "rejected"
}
