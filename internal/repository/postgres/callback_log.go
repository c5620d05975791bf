package postgres

import (
	"context"
	"fmt"

	"github.com/folioforge/backend/internal/domain"
)

// CallbackLogRepository stores the audit trail of gateway deliveries.
type CallbackLogRepository struct {
	q Querier
}

func NewCallbackLogRepository(q Querier) *CallbackLogRepository {
	return &CallbackLogRepository{q: q}
}

func (r *CallbackLogRepository) Create(ctx context.Context, entry *domain.CallbackLog) error {
	query := `
		INSERT INTO payment_callback_logs (id, provider, channel, transaction_ref, signature_valid, outcome, error, payload, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.q.Exec(ctx, query,
		entry.ID, string(entry.Provider), string(entry.Channel), entry.TransactionRef,
		entry.SignatureValid, string(entry.Outcome), entry.Error, entry.Payload, entry.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create callback log: %w", err)
	}
	return nil
}

func (r *CallbackLogRepository) ListByRef(ctx context.Context, ref string) ([]*domain.CallbackLog, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, provider, channel, transaction_ref, signature_valid, outcome, error, payload, received_at
		FROM payment_callback_logs WHERE transaction_ref = $1 ORDER BY received_at ASC
	`, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to list callback logs: %w", err)
	}
	defer rows.Close()

	var out []*domain.CallbackLog
	for rows.Next() {
		var (
			entry                      domain.CallbackLog
			provider, channel, outcome string
		)
		if err := rows.Scan(&entry.ID, &provider, &channel, &entry.TransactionRef,
			&entry.SignatureValid, &outcome, &entry.Error, &entry.Payload, &entry.ReceivedAt); err != nil {
			return nil, fmt.Errorf("failed to scan callback log: %w", err)
		}
		entry.Provider = domain.Provider(provider)
		entry.Channel = domain.Channel(channel)
		entry.Outcome = domain.Outcome(outcome)
		out = append(out, &entry)
	}
	return out, rows.Err()
}
