package execution

import (
	"context"
	"log/slog"
	"time"

	"github.com/riverqueue/river"
)

// DefaultStaleCutoff is how long a runner's presence beacon may go silent
// before the sweep marks the runner unavailable.
const DefaultStaleCutoff = 15 * time.Minute

type PresenceSweepArgs struct {
	Cutoff time.Duration `json:"cutoff"`
}

func (PresenceSweepArgs) Kind() string { return "presence_sweep" }

// PresenceStore is the contract the sweep needs from the runner repository.
type PresenceStore interface {
	MarkStale(ctx context.Context, olderThan time.Time) (int64, error)
}

// PresenceSweepWorker periodically flips runners whose beacon went silent to
// unavailable, so they stop appearing in client candidate queries. Going
// stale never deletes the presence record.
type PresenceSweepWorker struct {
	river.WorkerDefaults[PresenceSweepArgs]
	store  PresenceStore
	logger *slog.Logger
}

func NewPresenceSweepWorker(store PresenceStore, logger *slog.Logger) *PresenceSweepWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &PresenceSweepWorker{store: store, logger: logger}
}

func (w *PresenceSweepWorker) Work(ctx context.Context, job *river.Job[PresenceSweepArgs]) error {
	cutoff := job.Args.Cutoff
	if cutoff <= 0 {
		cutoff = DefaultStaleCutoff
	}
	swept, err := w.store.MarkStale(ctx, time.Now().Add(-cutoff))
	if err != nil {
		return err
	}
	if swept > 0 {
		w.logger.Info("presence sweep marked stale runners unavailable", "count", swept, "cutoff", cutoff.String())
	}
	return nil
}
