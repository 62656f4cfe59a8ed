package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"BatchSend/internal/db"
	"BatchSend/internal/models"
	"BatchSend/internal/worker"
)

// Recover respawns every stored ACTIVE batch with its pending recipients.
// Batches that cannot be started are logged and left as they are.
func (s *Service) Recover(ctx context.Context) (int, error) {
	list, err := s.store.BatchesByStatus(ctx, models.BatchActive)
	if err != nil {
		return 0, processing(err, "list active batches")
	}

	started := 0
	for _, b := range list {
		log := s.log.With(zap.String("tenant", b.SystemID), zap.String("batch_id", b.ID))

		if s.registry.Busy(b.SystemID, b.ID) {
			continue
		}

		pending, err := s.store.PendingRecipients(ctx, b.SystemID, b.ID)
		if err != nil {
			log.Error("pending recipients not loaded", zap.Error(err))
			continue
		}
		prof, err := s.profiles.Resolve(ctx, b.SystemID, b.SMTPID)
		if err != nil {
			log.Error("smtp profile missing, batch not recovered", zap.Int64("smtp_id", b.SMTPID))
			continue
		}
		if err := s.spawn(b, pending, prof); err != nil {
			log.Error("batch not recovered", zap.Error(err))
			continue
		}
		started++
	}

	s.log.Info("active batches recovered", zap.Int("found", len(list)), zap.Int("started", started))
	return started, nil
}

// HandleProfileEvent applies a profile change to the cache and to the live
// batches sending with that profile.
func (s *Service) HandleProfileEvent(ctx context.Context, ev models.ProfileEvent) error {
	log := s.log.With(
		zap.String("tenant", ev.SystemID),
		zap.Int64("smtp_id", ev.SMTPID),
		zap.String("event", string(ev.Event)),
	)

	switch ev.Event {
	case models.ProfileAdded:
		if _, _, err := s.profiles.Reload(ctx, ev.SystemID, ev.SMTPID); err != nil {
			return processing(err, "load smtp profile %d", ev.SMTPID)
		}
		log.Info("smtp profile loaded")

	case models.ProfileUpdated:
		prof, changed, err := s.profiles.Reload(ctx, ev.SystemID, ev.SMTPID)
		if errors.Is(err, db.ErrNotFound) {
			s.profiles.Remove(ev.SystemID, ev.SMTPID)
			s.abortUsers(ev.SystemID, ev.SMTPID, log)
			return nil
		}
		if err != nil {
			return processing(err, "reload smtp profile %d", ev.SMTPID)
		}
		if prof.Usable() != nil {
			log.Warn("smtp profile no longer verified")
			s.abortUsers(ev.SystemID, ev.SMTPID, log)
			return nil
		}
		n := 0
		for _, d := range s.users(ev.SystemID, ev.SMTPID) {
			d.RequestReconnect()
			n++
		}
		log.Info("smtp profile reloaded", zap.Bool("transport_changed", changed), zap.Int("reconnecting", n))

	case models.ProfileDeleted:
		s.profiles.Remove(ev.SystemID, ev.SMTPID)
		s.abortUsers(ev.SystemID, ev.SMTPID, log)
		log.Info("smtp profile removed")

	default:
		return invalid("unknown profile event %q", ev.Event)
	}
	return nil
}

func (s *Service) users(tenant string, smtpID int64) []*worker.Dispatcher {
	var out []*worker.Dispatcher
	for _, d := range s.registry.ForTenant(tenant) {
		if d.Profile().Snapshot().ID == smtpID {
			out = append(out, d)
		}
	}
	return out
}

func (s *Service) abortUsers(tenant string, smtpID int64, log *zap.Logger) {
	for _, d := range s.users(tenant, smtpID) {
		if _, ok := s.registry.UnregisterAndStop(tenant, d.BatchID(), models.BatchAborted); ok {
			log.Warn("batch aborted, smtp profile unusable", zap.String("batch_id", d.BatchID()))
		}
	}
}

// Shutdown stops the scheduler and every dispatcher without changing their
// stored status, so the next start recovers them. It waits for teardown
// until ctx ends.
func (s *Service) Shutdown(ctx context.Context) error {
	s.sched.Stop()

	stopping := s.registry.StopAll(models.BatchActive)
	s.log.Info("stopping dispatchers", zap.Int("count", len(stopping)))

	for _, d := range stopping {
		if err := waitStopped(ctx, d); err != nil {
			return err
		}
	}
	return nil
}
