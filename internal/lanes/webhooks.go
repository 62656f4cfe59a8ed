package lanes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"BatchSend/internal/metrics"
	"BatchSend/internal/models"
	"BatchSend/internal/queue"
)

// WebhookForwarder posts delivery outcomes to a tenant's callback URL on a
// bounded pool. Failed posts are logged and dropped.
type WebhookForwarder struct {
	tenant  string
	queue   *queue.Queue[models.DeliverResponse]
	client  *http.Client
	limiter *rate.Limiter
	opts    Options
	log     *zap.Logger

	retire func() bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newWebhookForwarder(tenant string, client *http.Client, opts Options, logger *zap.Logger, retire func() bool) *WebhookForwarder {
	ctx, cancel := context.WithCancel(context.Background())

	var limiter *rate.Limiter
	if opts.WebhookRateLimit > 0 {
		burst := int(opts.WebhookRateLimit)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.WebhookRateLimit), burst)
	}

	return &WebhookForwarder{
		tenant:  tenant,
		queue:   queue.New[models.DeliverResponse](),
		client:  client,
		limiter: limiter,
		opts:    opts,
		log:     logger.With(zap.String("lane", "webhooks"), zap.String("tenant", tenant)),
		retire:  retire,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

func (f *WebhookForwarder) submit(d models.DeliverResponse) {
	f.queue.Enqueue(d)
}

func (f *WebhookForwarder) stop() {
	f.cancel()
}

func (f *WebhookForwarder) run() {
	defer close(f.done)

	var g errgroup.Group
	g.SetLimit(f.opts.WebhookWorkers)

	lastActive := time.Now()
	for f.ctx.Err() == nil {
		d, ok := f.queue.Dequeue(f.opts.PollInterval)
		if ok {
			g.Go(func() error {
				f.post(d)
				return nil
			})
			lastActive = time.Now()
			continue
		}

		if time.Since(lastActive) >= f.opts.IdleTimeout && f.retire() {
			f.log.Info("webhook lane retired after idle period")
			_ = g.Wait()
			return
		}
	}

	for _, d := range f.queue.Drain(0) {
		g.Go(func() error {
			f.post(d)
			return nil
		})
	}
	_ = g.Wait()
}

func (f *WebhookForwarder) post(d models.DeliverResponse) {
	if f.limiter != nil {
		if err := f.limiter.Wait(context.Background()); err != nil {
			f.log.Warn("webhook rate limiter failed", zap.Error(err))
		}
	}

	if err := f.send(d); err != nil {
		f.log.Error("webhook post failed",
			zap.String("url", d.URL),
			zap.String("batch_id", d.BatchID),
			zap.Int64("msg_id", d.MsgID),
			zap.Error(err),
		)
		metrics.WebhookPosts.WithLabelValues("failed").Inc()
		return
	}
	metrics.WebhookPosts.WithLabelValues("ok").Inc()
}

func (f *WebhookForwarder) send(d models.DeliverResponse) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, d.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
