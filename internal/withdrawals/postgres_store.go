package withdrawals

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/remoteprojobs/wallet/internal/accounts"
)

const requestColumns = `id, account_id, amount, status, method, destination, note, decided_by, created_at, decided_at`

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed withdrawal store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, req *Request) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO withdrawal_requests (id, account_id, amount, status, method, destination, note, created_at)
		VALUES ($1, $2, $3::NUMERIC(20,2), $4, $5, $6, $7, $8)
	`, req.ID, req.AccountID, req.Amount, string(req.Status), req.Method, req.Destination, req.Note, req.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create withdrawal request: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Request, error) {
	req, err := scanRequest(p.db.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM withdrawal_requests WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get withdrawal request: %w", err)
	}
	return req, nil
}

func (p *PostgresStore) ListPending(ctx context.Context, order Order, limit int) ([]*Request, error) {
	dir := "ASC"
	if order == NewestFirst {
		dir = "DESC"
	}
	return p.query(ctx, `
		SELECT `+requestColumns+` FROM withdrawal_requests
		WHERE status = 'pending'
		ORDER BY created_at `+dir+`, seq `+dir+`
		LIMIT $1
	`, limit)
}

func (p *PostgresStore) ListByAccount(ctx context.Context, accountID string, limit int) ([]*Request, error) {
	return p.query(ctx, `
		SELECT `+requestColumns+` FROM withdrawal_requests
		WHERE account_id = $1
		ORDER BY created_at DESC, seq DESC
		LIMIT $2
	`, accountID, limit)
}

// Approve locks the request row, debits the account with a conditional
// UPDATE and flips the status, all in one transaction.
func (p *PostgresStore) Approve(ctx context.Context, id string, d Decision) (*Request, *accounts.Account, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	req, err := scanRequest(tx.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM withdrawal_requests WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to lock withdrawal request: %w", err)
	}
	if req.Status != StatusPending {
		return nil, nil, ErrAlreadyProcessed
	}

	acct, err := accounts.DebitWith(ctx, tx, req.AccountID, req.Amount)
	if err != nil {
		return nil, nil, err
	}

	if err := p.decide(ctx, tx, req, StatusApproved, d); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit approval: %w", err)
	}
	return req, acct, nil
}

func (p *PostgresStore) Reject(ctx context.Context, id string, d Decision) (*Request, error) {
	req, err := scanRequest(p.db.QueryRowContext(ctx, `
		UPDATE withdrawal_requests SET
			status     = 'rejected',
			decided_by = $2,
			note       = $3,
			decided_at = $4
		WHERE id = $1 AND status = 'pending'
		RETURNING `+requestColumns, id, d.DecidedBy, d.Note, d.At))
	if err == nil {
		return req, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to reject withdrawal request: %w", err)
	}
	if _, getErr := p.Get(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, ErrAlreadyProcessed
}

func (p *PostgresStore) decide(ctx context.Context, tx *sql.Tx, req *Request, status Status, d Decision) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE withdrawal_requests SET status = $2, decided_by = $3, note = $4, decided_at = $5
		WHERE id = $1
	`, req.ID, string(status), d.DecidedBy, d.Note, d.At)
	if err != nil {
		return fmt.Errorf("failed to update withdrawal request: %w", err)
	}
	at := d.At
	req.Status = status
	req.DecidedBy = d.DecidedBy
	req.Note = d.Note
	req.DecidedAt = &at
	return nil
}

func (p *PostgresStore) query(ctx context.Context, query string, args ...any) ([]*Request, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list withdrawal requests: %w", err)
	}
	defer rows.Close()

	var result []*Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan withdrawal request: %w", err)
		}
		result = append(result, req)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRequest(row scanner) (*Request, error) {
	var (
		req       Request
		status    string
		decidedAt sql.NullTime
	)
	err := row.Scan(&req.ID, &req.AccountID, &req.Amount, &status, &req.Method, &req.Destination,
		&req.Note, &req.DecidedBy, &req.CreatedAt, &decidedAt)
	if err != nil {
		return nil, err
	}
	req.Status = Status(status)
	if decidedAt.Valid {
		t := decidedAt.Time.In(time.UTC)
		req.DecidedAt = &t
	}
	return &req, nil
}

var _ Store = (*PostgresStore)(nil)
