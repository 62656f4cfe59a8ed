package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"BatchSend/internal/db"
	"BatchSend/internal/models"
)

// CreateBatch persists a new batch with its recipients and starts sending
// it. It returns the batch id.
func (s *Service) CreateBatch(ctx context.Context, tenant, ip string, req BatchRequest) (string, error) {
	batchID := s.ids.BatchID()
	log := s.log.With(zap.String("tenant", tenant), zap.String("batch_id", batchID))

	recipients, err := s.collectRecipients(req, log)
	if err != nil {
		return "", err
	}
	if len(recipients) == 0 {
		log.Error("no valid recipient found")
		return "", invalid("no valid recipient found")
	}

	prof, err := s.resolveProfile(ctx, tenant, req.SMTPID)
	if err != nil {
		return "", err
	}

	now := time.Now()
	b := models.Batch{
		ID:              batchID,
		SystemID:        tenant,
		SMTPID:          req.SMTPID,
		IPAddress:       ip,
		Subject:         req.Subject,
		Body:            req.Body,
		CcRecipients:    jsonList(req.CcRecipients),
		BccRecipients:   jsonList(req.BccRecipients),
		Attachments:     s.stageAttachments(tenant, batchID, req.Attachments, log),
		Delay:           req.Delay,
		TotalRecipients: len(recipients),
		Status:          models.BatchActive,
		Type:            models.BatchImmediate,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	entries := s.entries(recipients)

	if err := s.store.CreateBatch(ctx, b, entries); err != nil {
		log.Error("batch creation failed", zap.Error(err))
		return "", processing(err, "batch entry creation failed")
	}
	log.Info("batch created", zap.Int("recipients", len(entries)))

	if err := s.spawn(b, entries, prof); err != nil {
		log.Error("batch dispatch not started", zap.Error(err))
		return "", processing(err, "batch %s could not be started", batchID)
	}
	return batchID, nil
}

// EditBatch pauses a live batch and returns it for editing. A batch that is
// not live is read from storage.
func (s *Service) EditBatch(ctx context.Context, tenant, batchID string) (models.BatchSnapshot, error) {
	if d, ok := s.registry.UnregisterAndStop(tenant, batchID, models.BatchPaused); ok {
		if err := waitStopped(ctx, d); err != nil {
			return models.BatchSnapshot{}, err
		}
		s.log.Info("batch paused for editing", zap.String("tenant", tenant), zap.String("batch_id", batchID))
		return d.Snapshot(), nil
	}

	b, err := s.getBatch(ctx, tenant, batchID)
	if err != nil {
		return models.BatchSnapshot{}, err
	}
	n, err := s.store.CountPending(ctx, tenant, batchID)
	if err != nil {
		return models.BatchSnapshot{}, processing(err, "pending count for %s", batchID)
	}
	return models.BatchSnapshot{Batch: b, PendingCount: n}, nil
}

// PauseBatch stops a live batch, keeping its pending recipients. It
// returns once the dispatcher has flushed its progress.
func (s *Service) PauseBatch(ctx context.Context, tenant, batchID string) error {
	d, ok := s.registry.UnregisterAndStop(tenant, batchID, models.BatchPaused)
	if !ok {
		return invalid("batch %s is not running", batchID)
	}
	s.log.Info("batch pause requested", zap.String("tenant", tenant), zap.String("batch_id", batchID))
	return waitStopped(ctx, d)
}

// AbortBatch ends a batch for good. A live batch is stopped; otherwise the
// stored status is flipped and the recipient table dropped.
func (s *Service) AbortBatch(ctx context.Context, tenant, batchID string) error {
	log := s.log.With(zap.String("tenant", tenant), zap.String("batch_id", batchID))

	if d, ok := s.registry.UnregisterAndStop(tenant, batchID, models.BatchAborted); ok {
		log.Info("batch abort requested")
		return waitStopped(ctx, d)
	}
	if s.registry.Busy(tenant, batchID) {
		return invalid("batch %s is stopping", batchID)
	}

	b, err := s.getBatch(ctx, tenant, batchID)
	if err != nil {
		return err
	}
	if b.Status.Terminal() {
		return invalid("batch %s is already %s", batchID, b.Status)
	}

	if err := s.store.UpdateBatchStatus(ctx, tenant, batchID, models.BatchAborted); err != nil {
		return processing(err, "abort batch %s", batchID)
	}
	if err := s.store.DropRecipients(ctx, tenant, batchID); err != nil {
		log.Warn("recipient table not dropped", zap.Error(err))
	}
	log.Info("stored batch aborted")
	return nil
}

// ResumeBatch restarts a paused batch from its stored pending recipients.
func (s *Service) ResumeBatch(ctx context.Context, tenant, batchID string) error {
	return s.resume(ctx, tenant, batchID, nil)
}

// UpdateBatch applies req to a paused batch and resumes it.
func (s *Service) UpdateBatch(ctx context.Context, tenant, ip string, req UpdateRequest) error {
	if req.BatchID == "" {
		return invalid("batch id is required")
	}
	return s.resume(ctx, tenant, req.BatchID, func(b *models.Batch) {
		if req.SMTPID != 0 {
			b.SMTPID = req.SMTPID
		}
		b.Subject = req.Subject
		b.Body = req.Body
		b.CcRecipients = jsonList(req.CcRecipients)
		b.BccRecipients = jsonList(req.BccRecipients)
		b.Delay = req.Delay
		if ip != "" {
			b.IPAddress = ip
		}
	})
}

func (s *Service) resume(ctx context.Context, tenant, batchID string, edit func(*models.Batch)) error {
	log := s.log.With(zap.String("tenant", tenant), zap.String("batch_id", batchID))

	if s.registry.Busy(tenant, batchID) {
		return invalid("batch %s is still running", batchID)
	}

	b, err := s.getBatch(ctx, tenant, batchID)
	if err != nil {
		return err
	}
	if b.Status != models.BatchPaused {
		return invalid("batch %s is %s, only PAUSED batches resume", batchID, b.Status)
	}

	pending, err := s.store.PendingRecipients(ctx, tenant, batchID)
	if err != nil {
		return processing(err, "load pending recipients of %s", batchID)
	}
	if len(pending) == 0 {
		return invalid("batch %s has no pending recipients", batchID)
	}

	if edit != nil {
		edit(&b)
	}
	prof, err := s.resolveProfile(ctx, tenant, b.SMTPID)
	if err != nil {
		return err
	}

	b.Status = models.BatchActive
	if edit != nil {
		err = s.store.UpdateBatchContent(ctx, b)
	} else {
		err = s.store.UpdateBatchStatus(ctx, tenant, batchID, models.BatchActive)
	}
	if err != nil {
		return processing(err, "resume batch %s", batchID)
	}

	if err := s.spawn(b, pending, prof); err != nil {
		return processing(err, "batch %s could not be started", batchID)
	}
	log.Info("batch resumed", zap.Int("pending", len(pending)))
	return nil
}

// ListBatches returns a tenant's batches. Pending counts come from the live
// dispatcher when there is one.
func (s *Service) ListBatches(ctx context.Context, tenant string, f models.BatchFilter) ([]models.BatchSnapshot, error) {
	list, err := s.store.ListBatches(ctx, tenant, f)
	if err != nil {
		return nil, processing(err, "list batches")
	}

	out := make([]models.BatchSnapshot, 0, len(list))
	for _, b := range list {
		if d, ok := s.registry.Get(tenant, b.ID); ok {
			out = append(out, d.Snapshot())
			continue
		}

		snap := models.BatchSnapshot{Batch: b}
		if !b.Status.Terminal() {
			n, err := s.store.CountPending(ctx, tenant, b.ID)
			if err != nil {
				return nil, processing(err, "pending count for %s", b.ID)
			}
			snap.PendingCount = n
		}
		out = append(out, snap)
	}
	return out, nil
}

func (s *Service) getBatch(ctx context.Context, tenant, batchID string) (models.Batch, error) {
	b, err := s.store.GetBatch(ctx, tenant, batchID)
	if errors.Is(err, db.ErrNotFound) {
		return b, invalid("batch %s not found", batchID)
	}
	if err != nil {
		return b, processing(err, "load batch %s", batchID)
	}
	return b, nil
}
