package payments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/remoteprojobs/wallet/internal/accounts"
)

const transactionColumns = `id, reference, account_id, phone, amount_kes, status, provider_reference,
	receipt_number, result_desc, settled_by, created_at, updated_at, completed_at`

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed payment store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, tx *Transaction) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO payment_transactions (id, reference, account_id, phone, amount_kes, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, tx.ID, tx.Reference, tx.AccountID, tx.Phone, tx.AmountKES, string(tx.Status), tx.CreatedAt, tx.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("payment reference %s already exists: %w", tx.Reference, err)
		}
		return fmt.Errorf("failed to create payment transaction: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetByReference(ctx context.Context, reference string) (*Transaction, error) {
	return getWith(ctx, p.db, reference)
}

func (p *PostgresStore) ListByAccount(ctx context.Context, accountID string, limit int) ([]*Transaction, error) {
	return p.query(ctx, `
		SELECT `+transactionColumns+` FROM payment_transactions
		WHERE account_id = $1
		ORDER BY created_at DESC, seq DESC
		LIMIT $2
	`, accountID, limit)
}

func (p *PostgresStore) ListPending(ctx context.Context, createdBefore time.Time, limit int) ([]*Transaction, error) {
	return p.query(ctx, `
		SELECT `+transactionColumns+` FROM payment_transactions
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at ASC, seq ASC
		LIMIT $2
	`, createdBefore, limit)
}

func (p *PostgresStore) SetProviderReference(ctx context.Context, reference, providerRef string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE payment_transactions SET provider_reference = $2, updated_at = NOW()
		WHERE reference = $1
	`, reference, providerRef)
	if err != nil {
		return fmt.Errorf("failed to set provider reference: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

// Complete claims the transaction with a conditional UPDATE on status and,
// on success, applies the account grant in the same database transaction.
// Concurrent claims on one reference serialize on the row; the loser sees
// zero rows and reports applied=false.
func (p *PostgresStore) Complete(ctx context.Context, c Claim) (*Transaction, bool, error) {
	dbtx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer dbtx.Rollback()

	status := StatusFailed
	if c.Success {
		status = StatusSuccess
	}

	tx, err := scanTransaction(dbtx.QueryRowContext(ctx, `
		UPDATE payment_transactions SET
			status             = $2,
			provider_reference = COALESCE(NULLIF(provider_reference, ''), $3),
			receipt_number     = $4,
			result_desc        = $5,
			settled_by         = $6,
			completed_at       = $7,
			updated_at         = $7
		WHERE reference = $1 AND status = 'pending'
		RETURNING `+transactionColumns,
		c.Reference, string(status), c.ProviderReference, c.ReceiptNumber, c.Description, c.Source, c.At))
	if errors.Is(err, sql.ErrNoRows) {
		current, getErr := getWith(ctx, dbtx, c.Reference)
		if getErr != nil {
			return nil, false, getErr
		}
		return current, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to claim payment transaction: %w", err)
	}

	if c.Success {
		if _, err := accounts.ApplyPaymentGrantWith(ctx, dbtx, tx.AccountID, c.Connects); err != nil {
			return nil, false, err
		}
	}

	if err := dbtx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit payment claim: %w", err)
	}
	return tx, true, nil
}

func getWith(ctx context.Context, q accounts.Querier, reference string) (*Transaction, error) {
	tx, err := scanTransaction(q.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM payment_transactions WHERE reference = $1`, reference))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment transaction: %w", err)
	}
	return tx, nil
}

func (p *PostgresStore) query(ctx context.Context, query string, args ...any) ([]*Transaction, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list payment transactions: %w", err)
	}
	defer rows.Close()

	var result []*Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment transaction: %w", err)
		}
		result = append(result, tx)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row scanner) (*Transaction, error) {
	var (
		tx          Transaction
		status      string
		completedAt sql.NullTime
	)
	err := row.Scan(&tx.ID, &tx.Reference, &tx.AccountID, &tx.Phone, &tx.AmountKES, &status,
		&tx.ProviderReference, &tx.ReceiptNumber, &tx.ResultDesc, &tx.SettledBy,
		&tx.CreatedAt, &tx.UpdatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	tx.Status = Status(status)
	if completedAt.Valid {
		t := completedAt.Time.In(time.UTC)
		tx.CompletedAt = &t
	}
	return &tx, nil
}

var _ Store = (*PostgresStore)(nil)
