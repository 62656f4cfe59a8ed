package lanes

import (
	"context"
	"time"

	"go.uber.org/zap"

	"BatchSend/internal/metrics"
	"BatchSend/internal/models"
	"BatchSend/internal/queue"
)

// ReportStore appends delivery reports to a tenant's report table.
type ReportStore interface {
	EnsureReportTable(ctx context.Context, tenant string, now time.Time) error
	InsertReports(ctx context.Context, tenant string, entries []models.ReportEntry) error
}

// ReportWriter is the per tenant delivery report lane.
type ReportWriter struct {
	tenant string
	queue  *queue.Queue[models.ReportEntry]
	store  ReportStore
	opts   Options
	log    *zap.Logger

	// retire is asked to remove the lane once it has been idle long enough.
	retire func() bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newReportWriter(tenant string, store ReportStore, opts Options, logger *zap.Logger, retire func() bool) *ReportWriter {
	ctx, cancel := context.WithCancel(context.Background())
	return &ReportWriter{
		tenant: tenant,
		queue:  queue.New[models.ReportEntry](),
		store:  store,
		opts:   opts,
		log:    logger.With(zap.String("lane", "reports"), zap.String("tenant", tenant)),
		retire: retire,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

func (w *ReportWriter) submit(e models.ReportEntry) {
	w.queue.Enqueue(e)
}

func (w *ReportWriter) stop() {
	w.cancel()
}

func (w *ReportWriter) run() {
	defer close(w.done)

	if err := w.store.EnsureReportTable(context.Background(), w.tenant, time.Now()); err != nil {
		w.log.Error("ensure report table failed", zap.Error(err))
	}

	lastActive := time.Now()
	for w.ctx.Err() == nil {
		if w.queue.Wait(w.ctx, w.opts.PollInterval) {
			w.flush(w.queue.Drain(w.opts.BatchSize))
			lastActive = time.Now()
			continue
		}

		if time.Since(lastActive) >= w.opts.IdleTimeout && w.retire() {
			w.log.Info("report lane retired after idle period")
			return
		}
	}

	for w.queue.Len() > 0 {
		w.flush(w.queue.Drain(w.opts.BatchSize))
	}
}

func (w *ReportWriter) flush(entries []models.ReportEntry) {
	if len(entries) == 0 {
		return
	}
	if err := w.store.InsertReports(context.Background(), w.tenant, entries); err != nil {
		w.log.Error("report flush failed",
			zap.Int("entries", len(entries)),
			zap.Error(err),
		)
		metrics.LaneFlushFailures.WithLabelValues("reports").Inc()
		metrics.LaneDroppedItems.WithLabelValues("reports").Add(float64(len(entries)))
	}
}
