package syncer

import (
	"context"
	"log/slog"
	"time"
)

// Pruner удаляет устаревшие записи журнала изменений
type Pruner interface {
	PruneMutations(ctx context.Context, olderThan time.Time) (int64, error)
}

// Janitor периодически очищает журнал изменений.
// Записи старше retention больше не участвуют в подавлении дубликатов.
type Janitor struct {
	pruner    Pruner
	logger    *slog.Logger
	now       func() time.Time
	interval  time.Duration
	retention time.Duration
}

// NewJanitor создает Janitor
func NewJanitor(pruner Pruner, interval, retention time.Duration, logger *slog.Logger) *Janitor {
	return &Janitor{
		pruner:    pruner,
		logger:    logger,
		now:       time.Now,
		interval:  interval,
		retention: retention,
	}
}

// Run выполняет очистку до отмены ctx
func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		j.PruneOnce(ctx)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// PruneOnce выполняет одну очистку; ошибки только логируются
func (j *Janitor) PruneOnce(ctx context.Context) int64 {
	cutoff := j.now().Add(-j.retention)
	n, err := j.pruner.PruneMutations(ctx, cutoff)
	if err != nil {
		j.logger.Error("Failed to prune mutation ledger", "error", err)
		return 0
	}
	if n > 0 {
		j.logger.Info("Mutation ledger pruned", "removed", n, "cutoff", cutoff)
	}
	return n
}
