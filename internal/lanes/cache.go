package lanes

import (
	"net/http"
	"sync"

	"go.uber.org/zap"

	"BatchSend/internal/models"
)

// Cache lazily creates one report writer and one webhook forwarder per
// tenant and retires them once idle. Creation and retirement happen under
// one lock, so a submit never lands in a lane that is shutting down.
type Cache struct {
	store  ReportStore
	client *http.Client
	opts   Options
	log    *zap.Logger

	mu       sync.Mutex
	reports  map[string]*ReportWriter
	webhooks map[string]*WebhookForwarder
	closed   bool
	wg       sync.WaitGroup
}

func NewCache(store ReportStore, client *http.Client, opts Options, logger *zap.Logger) *Cache {
	if client == nil {
		client = http.DefaultClient
	}
	return &Cache{
		store:    store,
		client:   client,
		opts:     opts.withDefaults(),
		log:      logger,
		reports:  make(map[string]*ReportWriter),
		webhooks: make(map[string]*WebhookForwarder),
	}
}

// SubmitReport queues a delivery report on the tenant's report lane.
func (c *Cache) SubmitReport(tenant string, e models.ReportEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		c.log.Warn("report dropped after shutdown", zap.String("tenant", tenant), zap.Int64("msg_id", e.MsgID))
		return
	}

	w, ok := c.reports[tenant]
	if !ok {
		w = newReportWriter(tenant, c.store, c.opts, c.log, nil)
		w.retire = func() bool { return c.retireReport(tenant, w) }
		c.reports[tenant] = w
		c.spawn(w.run)
	}
	w.submit(e)
}

// SubmitWebhook queues a deliver response on the tenant's webhook lane.
func (c *Cache) SubmitWebhook(tenant string, d models.DeliverResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		c.log.Warn("webhook dropped after shutdown", zap.String("tenant", tenant), zap.Int64("msg_id", d.MsgID))
		return
	}

	f, ok := c.webhooks[tenant]
	if !ok {
		f = newWebhookForwarder(tenant, c.client, c.opts, c.log, nil)
		f.retire = func() bool { return c.retireWebhook(tenant, f) }
		c.webhooks[tenant] = f
		c.spawn(f.run)
	}
	f.submit(d)
}

// Tenants returns how many report and webhook lanes are live.
func (c *Cache) Tenants() (reports, webhooks int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.reports), len(c.webhooks)
}

// Close flushes and stops every lane and waits for them.
func (c *Cache) Close() {
	c.mu.Lock()
	c.closed = true
	for _, w := range c.reports {
		w.stop()
	}
	for _, f := range c.webhooks {
		f.stop()
	}
	c.mu.Unlock()

	c.wg.Wait()
}

func (c *Cache) spawn(fn func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
}

func (c *Cache) retireReport(tenant string, w *ReportWriter) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.reports[tenant] != w || w.queue.Len() > 0 {
		return false
	}
	delete(c.reports, tenant)
	return true
}

func (c *Cache) retireWebhook(tenant string, f *WebhookForwarder) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.webhooks[tenant] != f || f.queue.Len() > 0 {
		return false
	}
	delete(c.webhooks, tenant)
	return true
}
