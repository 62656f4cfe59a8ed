// Package scheduler arms one timer per pending scheduled batch and hands the
// batch to an executor when it fires.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"BatchSend/internal/metrics"
	"BatchSend/internal/models"
)

// Clocker abstracts the current time for tests.
type Clocker interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Source lists pending schedules whose server time falls in [from, to).
type Source interface {
	PendingSchedulesBetween(ctx context.Context, from, to time.Time) ([]models.ScheduledBatch, error)
}

// Executor turns a due schedule into a running batch.
type Executor func(ctx context.Context, sb models.ScheduledBatch) error

type Options struct {
	Locker   Locker
	LockTTL  time.Duration
	Clock    Clocker
	Location *time.Location
	Log      *zap.Logger
}

type slot struct {
	entry models.ScheduledBatch
	timer *time.Timer
}

type Scheduler struct {
	source Source
	exec   Executor
	locker Locker
	ttl    time.Duration
	clock  Clocker
	loc    *time.Location
	log    *zap.Logger

	mu       sync.Mutex
	slots    map[string]map[string]*slot
	midnight *time.Timer
	closed   bool
	wg       sync.WaitGroup
}

func New(source Source, exec Executor, opts Options) *Scheduler {
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 5 * time.Minute
	}
	return &Scheduler{
		source: source,
		exec:   exec,
		locker: opts.Locker,
		ttl:    opts.LockTTL,
		clock:  opts.Clock,
		loc:    opts.Location,
		log:    opts.Log.With(zap.String("component", "scheduler")),
		slots:  make(map[string]map[string]*slot),
	}
}

// Start arms today's pending schedules and the midnight reload.
func (s *Scheduler) Start(ctx context.Context) error {
	day := startOfDay(s.clock.Now().In(s.loc))
	if err := s.loadDay(ctx, day); err != nil {
		return err
	}
	s.armMidnight()
	return nil
}

// Today reports whether t falls on the scheduler's current day.
func (s *Scheduler) Today(t time.Time) bool {
	return SameDay(s.clock.Now(), t, s.loc)
}

// Schedule arms or re-arms the timer for sb. Past times fire immediately.
func (s *Scheduler) Schedule(sb models.ScheduledBatch) {
	delay := sb.ServerTime.Sub(s.clock.Now())
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	byBatch, ok := s.slots[sb.SystemID]
	if !ok {
		byBatch = make(map[string]*slot)
		s.slots[sb.SystemID] = byBatch
	}
	if old, ok := byBatch[sb.ID]; ok {
		old.timer.Stop()
	}

	sl := &slot{entry: sb}
	sl.timer = time.AfterFunc(delay, func() { s.fire(sl) })
	byBatch[sb.ID] = sl

	s.log.Info("schedule armed",
		zap.String("tenant", sb.SystemID),
		zap.String("batch_id", sb.ID),
		zap.Time("server_time", sb.ServerTime),
		zap.Duration("in", delay),
	)
}

// Cancel disarms the timer and reports whether it was still pending.
func (s *Scheduler) Cancel(tenant, batchID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sl, ok := s.slots[tenant][batchID]
	if !ok {
		return false
	}
	s.removeLocked(sl)
	sl.timer.Stop()
	return true
}

// Armed reports whether a timer is pending for the batch.
func (s *Scheduler) Armed(tenant, batchID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.slots[tenant][batchID]
	return ok
}

// Stop disarms every timer and waits for executions in progress.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.closed = true
	if s.midnight != nil {
		s.midnight.Stop()
	}
	for _, byBatch := range s.slots {
		for _, sl := range byBatch {
			sl.timer.Stop()
		}
	}
	s.slots = make(map[string]map[string]*slot)
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Scheduler) fire(sl *slot) {
	s.mu.Lock()
	if s.closed || s.slots[sl.entry.SystemID][sl.entry.ID] != sl {
		s.mu.Unlock()
		return
	}
	s.removeLocked(sl)
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	sb := sl.entry
	log := s.log.With(zap.String("tenant", sb.SystemID), zap.String("batch_id", sb.ID))
	metrics.SchedulesFired.Inc()

	ctx := context.Background()

	var release func(context.Context) error
	if s.locker != nil {
		rel, ok, err := s.locker.Acquire(ctx, lockKey(sb.SystemID, sb.ID), s.ttl)
		switch {
		case err != nil:
			log.Warn("schedule lock unavailable, firing without it", zap.Error(err))
		case !ok:
			log.Info("schedule already fired by another process")
			return
		default:
			release = rel
		}
	}

	if err := s.exec(ctx, sb); err != nil {
		log.Error("scheduled batch activation failed", zap.Error(err))
		if release != nil {
			if rerr := release(ctx); rerr != nil {
				log.Warn("schedule lock release failed", zap.Error(rerr))
			}
		}
		return
	}
	log.Info("scheduled batch activated")
}

func (s *Scheduler) removeLocked(sl *slot) {
	byBatch := s.slots[sl.entry.SystemID]
	if byBatch[sl.entry.ID] != sl {
		return
	}
	delete(byBatch, sl.entry.ID)
	if len(byBatch) == 0 {
		delete(s.slots, sl.entry.SystemID)
	}
}

func (s *Scheduler) loadDay(ctx context.Context, day time.Time) error {
	entries, err := s.source.PendingSchedulesBetween(ctx, day, day.AddDate(0, 0, 1))
	if err != nil {
		return err
	}
	for _, sb := range entries {
		s.Schedule(sb)
	}
	s.log.Info("schedules loaded", zap.Time("day", day), zap.Int("count", len(entries)))
	return nil
}

func (s *Scheduler) armMidnight() {
	now := s.clock.Now().In(s.loc)
	next := startOfDay(now).AddDate(0, 0, 1)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.midnight = time.AfterFunc(next.Sub(now), func() {
		if err := s.loadDay(context.Background(), next); err != nil {
			s.log.Error("midnight schedule reload failed", zap.Error(err))
		}
		s.armMidnight()
	})
}
