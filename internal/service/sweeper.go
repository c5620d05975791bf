package service

import (
	"context"
	"time"

	"github.com/folioforge/backend/internal/domain"
	"github.com/folioforge/backend/internal/logger"
	"github.com/folioforge/backend/internal/repository"
	"go.uber.org/zap"
)

// FailureExpired is recorded on PENDING rows the sweeper gives up on.
const FailureExpired = "expired"

const sweepBatch = 200

// Sweeper periodically fails PENDING rows that no gateway ever confirmed.
type Sweeper struct {
	ledger   repository.Ledger
	ttl      time.Duration
	interval time.Duration
	now      func() time.Time
}

// NewSweeper creates a sweeper that expires rows older than ttl every interval.
func NewSweeper(ledger repository.Ledger, ttl, interval time.Duration) *Sweeper {
	return &Sweeper{ledger: ledger, ttl: ttl, interval: interval, now: time.Now}
}

// Start runs a sweep immediately, then on every tick until ctx is done.
func (s *Sweeper) Start(ctx context.Context) {
	go func() {
		s.run(ctx)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.run(ctx)
			}
		}
	}()
}

func (s *Sweeper) run(ctx context.Context) {
	if _, err := s.Sweep(ctx, s.ttl); err != nil {
		logger.FromContext(ctx).Error("pending sweep failed", zap.Error(err))
	}
}

// Sweep fails every PENDING row created more than olderThan ago and returns
// how many it moved. Rows settled concurrently are left alone by the CAS.
func (s *Sweeper) Sweep(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.now().Add(-olderThan)
	log := logger.FromContext(ctx)
	patch := domain.Metadata{domain.MetaFailureReason: FailureExpired}

	expired := 0
	for {
		rows, err := s.ledger.ListPendingBefore(ctx, cutoff, sweepBatch)
		if err != nil {
			return expired, err
		}
		moved := 0
		for _, row := range rows {
			applied, _, err := s.ledger.TransitionIfPending(ctx, row.TransactionID, domain.StatusFailed, patch)
			if err != nil {
				log.Error("failed to expire transaction", zap.String("ref", row.TransactionID), zap.Error(err))
				continue
			}
			if applied {
				moved++
				log.Info("expired pending transaction",
					zap.String("ref", row.TransactionID),
					zap.String("provider", string(row.Provider)),
					zap.Time("created_at", row.CreatedAt))
			}
		}
		expired += moved
		if len(rows) < sweepBatch || moved == 0 {
			return expired, nil
		}
	}
}
