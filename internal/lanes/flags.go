package lanes

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"BatchSend/internal/metrics"
	"BatchSend/internal/models"
	"BatchSend/internal/queue"
)

// FlagStore persists recipient flags of one batch.
type FlagStore interface {
	ApplyFlags(ctx context.Context, tenant, batchID string, entries []models.RecipientEntry) error
	DropRecipients(ctx context.Context, tenant, batchID string) error
}

// FlagWriter drains one batch's flag updates into its recipient table.
type FlagWriter struct {
	tenant  string
	batchID string
	queue   *queue.Queue[models.RecipientEntry]
	store   FlagStore
	opts    Options
	log     *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	stopOnce sync.Once
	drop     bool
}

func NewFlagWriter(
	tenant, batchID string,
	q *queue.Queue[models.RecipientEntry],
	store FlagStore,
	opts Options,
	logger *zap.Logger,
) *FlagWriter {
	ctx, cancel := context.WithCancel(context.Background())
	return &FlagWriter{
		tenant:  tenant,
		batchID: batchID,
		queue:   q,
		store:   store,
		opts:    opts.withDefaults(),
		log:     logger.With(zap.String("lane", "flags"), zap.String("tenant", tenant), zap.String("batch_id", batchID)),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Start launches the flush loop.
func (w *FlagWriter) Start() {
	go w.run()
}

// Stop flushes what is queued, drops the recipient table when drop is set,
// and ends the loop. It does not wait; use Done.
func (w *FlagWriter) Stop(drop bool) {
	w.stopOnce.Do(func() {
		w.drop = drop
		w.cancel()
	})
}

func (w *FlagWriter) Done() <-chan struct{} {
	return w.done
}

func (w *FlagWriter) run() {
	defer close(w.done)

	for w.ctx.Err() == nil {
		if !w.queue.Wait(w.ctx, w.opts.PollInterval) {
			continue
		}
		w.flush(w.queue.Drain(w.opts.BatchSize))
	}

	for w.queue.Len() > 0 {
		w.flush(w.queue.Drain(w.opts.BatchSize))
	}

	if w.drop {
		if err := w.store.DropRecipients(context.Background(), w.tenant, w.batchID); err != nil {
			w.log.Error("drop recipient table failed", zap.Error(err))
		} else {
			w.log.Info("recipient table dropped")
		}
	}
}

func (w *FlagWriter) flush(entries []models.RecipientEntry) {
	if len(entries) == 0 {
		return
	}
	if err := w.store.ApplyFlags(context.Background(), w.tenant, w.batchID, entries); err != nil {
		w.log.Error("flag flush failed",
			zap.Int("entries", len(entries)),
			zap.Error(err),
		)
		metrics.LaneFlushFailures.WithLabelValues("flags").Inc()
		metrics.LaneDroppedItems.WithLabelValues("flags").Add(float64(len(entries)))
	}
}
