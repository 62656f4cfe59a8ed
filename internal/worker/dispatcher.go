// Package worker runs one dispatch worker per live batch and keeps the
// process wide registry of them.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"BatchSend/internal/email"
	"BatchSend/internal/lanes"
	"BatchSend/internal/metrics"
	"BatchSend/internal/models"
	"BatchSend/internal/profiles"
	"BatchSend/internal/queue"
)

// StatusStore persists a batch's final status.
type StatusStore interface {
	UpdateBatchStatus(ctx context.Context, tenant, batchID string, status models.BatchStatus) error
}

// TenantLanes accepts per recipient reports and webhook payloads.
type TenantLanes interface {
	SubmitReport(tenant string, e models.ReportEntry)
	SubmitWebhook(tenant string, d models.DeliverResponse)
}

// Deps are the collaborators shared by every dispatcher.
type Deps struct {
	Dialer    Dialer
	Store     StatusStore
	Flags     lanes.FlagStore
	Lanes     TenantLanes
	LaneOpts  lanes.Options
	RetryWait time.Duration
	Log       *zap.Logger
}

// Dispatcher sends one batch over a single reused SMTP session, strictly in
// pending list order.
type Dispatcher struct {
	deps    Deps
	profile *profiles.Profile
	log     *zap.Logger

	mu      sync.Mutex
	batch   models.Batch
	pending []models.RecipientEntry

	flagQ *queue.Queue[models.RecipientEntry]
	flags *lanes.FlagWriter

	composer email.Composer

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	stopped  atomic.Bool

	reconnect   atomic.Bool
	reconnectCh chan struct{}

	onExit func(*Dispatcher)
	done   chan struct{}
}

// New validates the profile and builds an idle dispatcher. Nothing runs
// until Start.
func New(batch models.Batch, pending []models.RecipientEntry, profile *profiles.Profile, deps Deps) (*Dispatcher, error) {
	if profile == nil {
		return nil, profiles.ErrMissing
	}
	if err := profile.Usable(); err != nil {
		return nil, err
	}
	if deps.RetryWait <= 0 {
		deps.RetryWait = 10 * time.Second
	}
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}

	log := deps.Log.With(
		zap.String("tenant", batch.SystemID),
		zap.String("batch_id", batch.ID),
	)

	ctx, cancel := context.WithCancel(context.Background())
	flagQ := queue.New[models.RecipientEntry]()

	return &Dispatcher{
		deps:        deps,
		profile:     profile,
		log:         log,
		batch:       batch,
		pending:     append([]models.RecipientEntry(nil), pending...),
		flagQ:       flagQ,
		flags:       lanes.NewFlagWriter(batch.SystemID, batch.ID, flagQ, deps.Flags, deps.LaneOpts, deps.Log),
		ctx:         ctx,
		cancel:      cancel,
		reconnectCh: make(chan struct{}, 1),
		done:        make(chan struct{}),
	}, nil
}

// Start launches the send loop and the batch's flag writer. onExit runs
// after teardown.
func (d *Dispatcher) Start(onExit func(*Dispatcher)) {
	d.onExit = onExit
	d.flags.Start()
	go d.run()
}

func (d *Dispatcher) Tenant() string  { return d.batch.SystemID }
func (d *Dispatcher) BatchID() string { return d.batch.ID }

// Profile returns the shared profile handle this batch sends with.
func (d *Dispatcher) Profile() *profiles.Profile { return d.profile }

func (d *Dispatcher) Done() <-chan struct{} { return d.done }

func (d *Dispatcher) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Snapshot returns the batch as it currently stands.
func (d *Dispatcher) Snapshot() models.BatchSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return models.BatchSnapshot{Batch: d.batch, PendingCount: len(d.pending)}
}

// Stop asks the loop to exit after the in-flight send and records status as
// the batch status. Only the first call has effect.
func (d *Dispatcher) Stop(status models.BatchStatus) {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.batch.Status = status
		d.mu.Unlock()

		d.stopped.Store(true)
		d.cancel()
	})
}

// RequestReconnect makes the loop rebuild its session after the current
// recipient, picking up the profile's new values.
func (d *Dispatcher) RequestReconnect() {
	d.reconnect.Store(true)
	select {
	case d.reconnectCh <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)

	metrics.ActiveDispatchers.Inc()
	defer metrics.ActiveDispatchers.Dec()

	d.log.Info("batch dispatch started", zap.Int("pending", d.PendingCount()))
	d.prepare()

	for !d.stopped.Load() && d.PendingCount() > 0 {
		sess, err := d.open()
		if err != nil {
			break
		}

		err = d.sendPending(sess)
		sess.Close()

		if err != nil {
			metrics.SMTPSessionFailures.Inc()
			d.log.Warn("smtp session failed, retrying",
				zap.Duration("wait", d.deps.RetryWait),
				zap.Error(err),
			)
			d.sleep(d.deps.RetryWait, false)
		}
	}

	d.finish()
}

func (d *Dispatcher) prepare() {
	d.mu.Lock()
	b := d.batch
	d.mu.Unlock()

	d.composer = email.Composer{
		Subject:     b.Subject,
		Body:        b.Body,
		Cc:          parseAddressList(b.CcRecipients, "cc", d.log),
		Bcc:         parseAddressList(b.BccRecipients, "bcc", d.log),
		Attachments: loadAttachments(b.Attachments, d.log),
	}
}

// open connects with a fixed backoff until it succeeds or the dispatcher is
// stopped.
func (d *Dispatcher) open() (Session, error) {
	var sess Session

	op := func() error {
		d.clearReconnect()

		p := d.profile.Snapshot()
		d.log.Info("connecting smtp server", zap.String("host", p.Host), zap.Int("port", p.Port))

		s, err := d.deps.Dialer.Open(d.ctx, p)
		if err != nil {
			if d.stopped.Load() {
				return backoff.Permanent(err)
			}
			return err
		}
		d.composer.From = p.User
		sess = s
		return nil
	}

	notify := func(err error, wait time.Duration) {
		metrics.SMTPSessionFailures.Inc()
		d.log.Error("smtp connect failed", zap.Duration("retry_in", wait), zap.Error(err))
	}

	b := backoff.WithContext(backoff.NewConstantBackOff(d.deps.RetryWait), d.ctx)
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return nil, err
	}
	return sess, nil
}

// sendPending works through the pending list until it is empty, the
// dispatcher is stopped, a reconnect is requested or the session fails. A
// returned error is always a transport failure; the recipient it happened
// on stays at the head of the list.
func (d *Dispatcher) sendPending(sess Session) error {
	for {
		if d.stopped.Load() {
			return nil
		}
		entry, ok := d.head()
		if !ok {
			return nil
		}

		var (
			status  models.EmailStatus
			code    int
			remarks string
			flag    models.Flag
			rej     *email.RejectionError
		)

		resp, err := sess.Send(d.composer.Compose(entry.Recipient))
		switch {
		case err == nil:
			status = email.Classify(resp.Code, resp.Text)
			code, remarks, flag = resp.Code, resp.Text, models.FlagSent
		case errors.As(err, &rej):
			status = models.StatusFailed
			code, remarks, flag = rej.Code, rej.Text, models.FlagError
			d.log.Warn("recipient rejected",
				zap.String("recipient", entry.Recipient),
				zap.Int("code", rej.Code),
				zap.String("text", rej.Text),
			)
		default:
			return fmt.Errorf("send to %s: %w", entry.Recipient, err)
		}

		d.record(entry, flag, status, code, remarks)
		d.pop()

		if d.stopped.Load() || d.reconnect.Load() {
			return nil
		}

		d.mu.Lock()
		delay := d.batch.Delay
		d.mu.Unlock()
		if delay > 0 {
			d.sleep(time.Duration(delay*float64(time.Second)), true)
			if d.stopped.Load() || d.reconnect.Load() {
				return nil
			}
		}
	}
}

// record hands the outcome to the flag, report and webhook lanes.
func (d *Dispatcher) record(entry models.RecipientEntry, flag models.Flag, status models.EmailStatus, code int, remarks string) {
	now := time.Now()
	p := d.profile.Snapshot()

	d.mu.Lock()
	b := d.batch
	d.mu.Unlock()

	entry.Flag = flag
	d.flagQ.Enqueue(entry)

	d.deps.Lanes.SubmitReport(b.SystemID, models.ReportEntry{
		MsgID:       entry.MsgID,
		BatchID:     b.ID,
		Recipient:   entry.Recipient,
		Status:      status,
		StatusCode:  code,
		Remarks:     remarks,
		ReceivedOn:  b.CreatedAt,
		SubmittedOn: now,
	})

	if p.WebhookURL != "" {
		d.deps.Lanes.SubmitWebhook(b.SystemID, models.DeliverResponse{
			BatchID:   b.ID,
			MsgID:     entry.MsgID,
			SMTPID:    p.ID,
			Subject:   b.Subject,
			Recipient: entry.Recipient,
			Status:    status,
			DeliverOn: now.Format(models.DeliverTimeLayout),
			URL:       p.WebhookURL,
		})
	}

	metrics.RecipientsProcessed.WithLabelValues(string(status)).Inc()
}

func (d *Dispatcher) head() (models.RecipientEntry, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.pending) == 0 {
		return models.RecipientEntry{}, false
	}
	return d.pending[0], true
}

func (d *Dispatcher) pop() {
	d.mu.Lock()
	d.pending = d.pending[1:]
	d.mu.Unlock()
}

func (d *Dispatcher) clearReconnect() {
	d.reconnect.Store(false)
	select {
	case <-d.reconnectCh:
	default:
	}
}

// sleep waits for dur unless stopped, or unless a reconnect is requested
// when wakeOnReconnect is set.
func (d *Dispatcher) sleep(dur time.Duration, wakeOnReconnect bool) {
	t := time.NewTimer(dur)
	defer t.Stop()

	var reconnect <-chan struct{}
	if wakeOnReconnect {
		reconnect = d.reconnectCh
	}

	select {
	case <-t.C:
	case <-d.ctx.Done():
	case <-reconnect:
		d.reconnect.Store(true)
	}
}

// finish settles the final status, persists it and retires the flag writer.
func (d *Dispatcher) finish() {
	d.mu.Lock()
	if len(d.pending) == 0 {
		d.batch.Status = models.BatchFinished
	}
	status := d.batch.Status
	left := len(d.pending)
	d.mu.Unlock()

	if err := d.deps.Store.UpdateBatchStatus(context.Background(), d.batch.SystemID, d.batch.ID, status); err != nil {
		d.log.Error("failed to persist batch status",
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}

	drop := status == models.BatchFinished || status == models.BatchAborted
	d.flags.Stop(drop)
	<-d.flags.Done()

	d.log.Info("batch dispatch stopped",
		zap.String("status", string(status)),
		zap.Int("pending", left),
	)

	if d.onExit != nil {
		d.onExit(d)
	}
}
