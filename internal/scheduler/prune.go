package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// JournalPruneTask is the name of the retention task.
const JournalPruneTask = "journal-prune"

// SessionPruner deletes terminal sessions that ended before a time.
type SessionPruner interface {
	DeleteEndedBefore(ctx context.Context, before time.Time) (int64, error)
}

// NewJournalPrune returns a task deleting sessions that ended more than
// retention ago.
func NewJournalPrune(repo SessionPruner, retention time.Duration, logger *slog.Logger, now func() time.Time) TaskFunc {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context) error {
		cutoff := now().Add(-retention)
		deleted, err := repo.DeleteEndedBefore(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("pruning journal: %w", err)
		}
		if deleted > 0 {
			logger.Info("pruned session journal",
				slog.Int64("sessions", deleted),
				slog.Time("cutoff", cutoff))
		}
		return nil
	}
}
