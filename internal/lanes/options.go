// Package lanes holds the background writers that persist dispatch
// progress without blocking SMTP sends: a recipient flag writer per batch,
// and a report writer and webhook forwarder per tenant.
package lanes

import "time"

// Options tune every lane. Zero values fall back to defaults.
type Options struct {
	BatchSize    int
	PollInterval time.Duration
	IdleTimeout  time.Duration

	WebhookWorkers   int
	WebhookRateLimit float64
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = 1000
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 100 * time.Millisecond
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 10 * time.Minute
	}
	if o.WebhookWorkers <= 0 {
		o.WebhookWorkers = 3
	}
	return o
}
