package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// Querier is satisfied by *sql.DB and *sql.Tx, so account mutations can run
// standalone or inside a caller's transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const accountColumns = `id, balance, tier, verified, eligible_for_withdrawal, connects_granted, created_at, updated_at`

// PostgresStore implements Store with PostgreSQL. The accounts table carries
// CHECK (balance >= 0) as a backstop to the conditional updates below.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed account store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, acct *Account) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO accounts (id, balance, tier, verified, eligible_for_withdrawal, connects_granted, created_at, updated_at)
		VALUES ($1, $2::NUMERIC(20,2), $3, $4, $5, $6, $7, $8)
	`, acct.ID, acct.Balance, string(acct.Tier), acct.Verified, acct.EligibleForWithdrawal,
		acct.ConnectsGranted, acct.CreatedAt, acct.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrAccountExists
	}
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Account, error) {
	return GetWith(ctx, p.db, id, false)
}

func (p *PostgresStore) Credit(ctx context.Context, id, amount string) (*Account, error) {
	acct, err := scanOrNotFound(p.db.QueryRowContext(ctx, `
		UPDATE accounts SET
			balance    = balance + $2::NUMERIC(20,2),
			updated_at = NOW()
		WHERE id = $1
		RETURNING `+accountColumns, id, amount))
	if isNumericOverflow(err) {
		return nil, ErrInvalidAmount
	}
	return acct, err
}

func (p *PostgresStore) Debit(ctx context.Context, id, amount string) (*Account, error) {
	return DebitWith(ctx, p.db, id, amount)
}

func (p *PostgresStore) SetEligibility(ctx context.Context, id string, eligible bool) (*Account, error) {
	return scanOrNotFound(p.db.QueryRowContext(ctx, `
		UPDATE accounts SET eligible_for_withdrawal = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING `+accountColumns, id, eligible))
}

func (p *PostgresStore) SetTier(ctx context.Context, id string, tier Tier) (*Account, error) {
	return scanOrNotFound(p.db.QueryRowContext(ctx, `
		UPDATE accounts SET tier = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING `+accountColumns, id, string(tier)))
}

func (p *PostgresStore) GrantConnects(ctx context.Context, id string, n int) (*Account, error) {
	return scanOrNotFound(p.db.QueryRowContext(ctx, `
		UPDATE accounts SET connects_granted = connects_granted + $2, updated_at = NOW()
		WHERE id = $1
		RETURNING `+accountColumns, id, n))
}

func (p *PostgresStore) ApplyPaymentGrant(ctx context.Context, id string, connects int) (*Account, error) {
	return ApplyPaymentGrantWith(ctx, p.db, id, connects)
}

// GetWith loads an account through q. forUpdate adds a row lock, which is
// only meaningful inside a transaction.
func GetWith(ctx context.Context, q Querier, id string, forUpdate bool) (*Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	return scanOrNotFound(q.QueryRowContext(ctx, query, id))
}

// DebitWith decrements the balance only if it covers amount, in a single
// conditional UPDATE. Zero rows means either no account or not enough funds;
// a follow-up existence check tells them apart.
func DebitWith(ctx context.Context, q Querier, id, amount string) (*Account, error) {
	acct, err := scanAccount(q.QueryRowContext(ctx, `
		UPDATE accounts SET
			balance    = balance - $2::NUMERIC(20,2),
			updated_at = NOW()
		WHERE id = $1 AND balance >= $2::NUMERIC(20,2)
		RETURNING `+accountColumns, id, amount))
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to debit account: %w", err)
	}

	var exists bool
	if err := q.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM accounts WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check account: %w", err)
	}
	if !exists {
		return nil, ErrAccountNotFound
	}
	return nil, ErrInsufficientBalance
}

// ApplyPaymentGrantWith marks the account verified and eligible and adds
// connects through q.
func ApplyPaymentGrantWith(ctx context.Context, q Querier, id string, connects int) (*Account, error) {
	return scanOrNotFound(q.QueryRowContext(ctx, `
		UPDATE accounts SET
			verified                = TRUE,
			eligible_for_withdrawal = TRUE,
			connects_granted        = connects_granted + $2,
			updated_at              = NOW()
		WHERE id = $1
		RETURNING `+accountColumns, id, connects))
}

func scanOrNotFound(row *sql.Row) (*Account, error) {
	acct, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	return acct, nil
}

func scanAccount(row *sql.Row) (*Account, error) {
	var (
		acct Account
		tier string
	)
	err := row.Scan(&acct.ID, &acct.Balance, &tier, &acct.Verified, &acct.EligibleForWithdrawal,
		&acct.ConnectsGranted, &acct.CreatedAt, &acct.UpdatedAt)
	if err != nil {
		return nil, err
	}
	acct.Tier = Tier(tier)
	return &acct, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// isNumericOverflow matches numeric_value_out_of_range, raised when a
// result no longer fits NUMERIC(20,2).
func isNumericOverflow(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "22003"
}

var _ Store = (*PostgresStore)(nil)
