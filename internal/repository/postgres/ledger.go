package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/folioforge/backend/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

const transactionColumns = `transaction_id, provider, user_id, plan, amount, currency, status, metadata, created_at, updated_at`

// LedgerRepository is the PostgreSQL implementation of repository.Ledger.
type LedgerRepository struct {
	q Querier
}

// NewLedgerRepository creates a ledger over a pool or a transaction.
func NewLedgerRepository(q Querier) *LedgerRepository {
	return &LedgerRepository{q: q}
}

// RecordPending inserts a new PENDING row.
func (r *LedgerRepository) RecordPending(ctx context.Context, txn *domain.PaymentTransaction) error {
	meta, err := json.Marshal(nonNilMetadata(txn.Metadata))
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO payment_transactions (transaction_id, provider, user_id, plan, amount, currency, status, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'PENDING', $7::jsonb, $8, $8)
	`
	_, err = r.q.Exec(ctx, query,
		txn.TransactionID, string(txn.Provider), txn.UserID, string(txn.Plan),
		txn.Amount, txn.Currency, string(meta), txn.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateTransaction, txn.TransactionID)
		}
		return fmt.Errorf("failed to record pending transaction: %w", err)
	}
	txn.Status = domain.StatusPending
	txn.UpdatedAt = txn.CreatedAt
	return nil
}

// Get retrieves a row by reference.
func (r *LedgerRepository) Get(ctx context.Context, ref string) (*domain.PaymentTransaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM payment_transactions WHERE transaction_id = $1`
	txn, err := scanTransaction(r.q.QueryRow(ctx, query, ref))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrUnknownTransaction, ref)
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return txn, nil
}

// TransitionIfPending is a single conditional UPDATE. Under concurrent
// callers Postgres re-checks the WHERE clause after the row lock is released,
// so only one of them observes PENDING.
func (r *LedgerRepository) TransitionIfPending(ctx context.Context, ref string, status domain.TransactionStatus, patch domain.Metadata) (bool, *domain.PaymentTransaction, error) {
	if !status.Terminal() {
		return false, nil, fmt.Errorf("%w: %s is not terminal", domain.ErrInvalidTransition, status)
	}
	meta, err := json.Marshal(nonNilMetadata(patch))
	if err != nil {
		return false, nil, fmt.Errorf("failed to encode metadata: %w", err)
	}

	query := `
		UPDATE payment_transactions
		SET status = $2, metadata = metadata || $3::jsonb, updated_at = NOW()
		WHERE transaction_id = $1 AND status = 'PENDING'
		RETURNING ` + transactionColumns
	txn, err := scanTransaction(r.q.QueryRow(ctx, query, ref, string(status), string(meta)))
	if err == nil {
		return true, txn, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, nil, fmt.Errorf("failed to transition transaction: %w", err)
	}

	existing, err := r.Get(ctx, ref)
	if err != nil {
		return false, nil, err
	}
	return false, existing, nil
}

// List returns rows matching filter, newest first.
func (r *LedgerRepository) List(ctx context.Context, filter domain.TransactionFilter) ([]*domain.PaymentTransaction, error) {
	var (
		conds []string
		args  []any
	)
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		conds = append(conds, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Provider != "" {
		args = append(args, string(filter.Provider))
		conds = append(conds, fmt.Sprintf("provider = $%d", len(args)))
	}

	query := `SELECT ` + transactionColumns + ` FROM payment_transactions`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	return r.queryTransactions(ctx, query, args...)
}

// ListPendingBefore returns stale PENDING rows, oldest first.
func (r *LedgerRepository) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domain.PaymentTransaction, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + transactionColumns + `
		FROM payment_transactions
		WHERE status = 'PENDING' AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2`
	return r.queryTransactions(ctx, query, cutoff, limit)
}

// Stats counts rows by status and by provider.
func (r *LedgerRepository) Stats(ctx context.Context) (*domain.BillingStats, error) {
	rows, err := r.q.Query(ctx, `SELECT status, provider, COUNT(*) FROM payment_transactions GROUP BY status, provider`)
	if err != nil {
		return nil, fmt.Errorf("failed to count transactions: %w", err)
	}
	defer rows.Close()

	stats := &domain.BillingStats{
		ByStatus:   make(map[domain.TransactionStatus]int),
		ByProvider: make(map[domain.Provider]int),
	}
	for rows.Next() {
		var (
			status, provider string
			n                int
		)
		if err := rows.Scan(&status, &provider, &n); err != nil {
			return nil, fmt.Errorf("failed to scan transaction counts: %w", err)
		}
		stats.ByStatus[domain.TransactionStatus(status)] += n
		stats.ByProvider[domain.Provider(provider)] += n
	}
	return stats, rows.Err()
}

func (r *LedgerRepository) queryTransactions(ctx context.Context, query string, args ...any) ([]*domain.PaymentTransaction, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var out []*domain.PaymentTransaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		out = append(out, txn)
	}
	return out, rows.Err()
}

func scanTransaction(row pgx.Row) (*domain.PaymentTransaction, error) {
	var (
		txn                    domain.PaymentTransaction
		provider, plan, status string
		meta                   []byte
	)
	err := row.Scan(
		&txn.TransactionID, &provider, &txn.UserID, &plan,
		&txn.Amount, &txn.Currency, &status, &meta,
		&txn.CreatedAt, &txn.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	txn.Provider = domain.Provider(provider)
	txn.Plan = domain.Plan(plan)
	txn.Status = domain.TransactionStatus(status)
	txn.Metadata = domain.Metadata{}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &txn.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
	}
	return &txn, nil
}

func nonNilMetadata(m domain.Metadata) domain.Metadata {
	if m == nil {
		return domain.Metadata{}
	}
	return m
}
