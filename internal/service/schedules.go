package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"BatchSend/internal/db"
	"BatchSend/internal/models"
	"BatchSend/internal/scheduler"
)

// ScheduleBatch stores a batch to be activated at the request's client
// time. The timer is armed right away only for today's schedules; later
// days are picked up by the midnight reload.
func (s *Service) ScheduleBatch(ctx context.Context, tenant, ip string, req ScheduleRequest) (string, error) {
	batchID := s.ids.BatchID()
	log := s.log.With(zap.String("tenant", tenant), zap.String("batch_id", batchID))

	clientAt, serverAt, err := scheduler.ServerTime(req.GMT, req.ScheduledOn, s.loc)
	if err != nil {
		return "", invalid("%v", err)
	}

	recipients, err := s.collectRecipients(req.BatchRequest, log)
	if err != nil {
		return "", err
	}
	if len(recipients) == 0 {
		log.Error("no valid recipient found")
		return "", invalid("no valid recipient found")
	}

	if _, err := s.lookupProfile(ctx, tenant, req.SMTPID); err != nil {
		return "", err
	}

	now := time.Now()
	sb := models.ScheduledBatch{
		Batch: models.Batch{
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
			Status:          models.BatchPending,
			Type:            models.BatchScheduled,
			CreatedAt:       now,
			UpdatedAt:       now,
		},
		GMT:         req.GMT,
		ScheduledOn: clientAt,
		ServerTime:  serverAt,
	}

	if err := s.store.CreateSchedule(ctx, sb, jsonList(recipients)); err != nil {
		log.Error("schedule creation failed", zap.Error(err))
		return "", processing(err, "schedule entry creation failed")
	}
	log.Info("schedule created",
		zap.Int("recipients", len(recipients)),
		zap.Time("server_time", serverAt),
	)

	if s.sched.Today(serverAt) {
		s.sched.Schedule(sb)
	}
	return batchID, nil
}

// EditSchedule disarms a pending schedule and returns it for editing.
func (s *Service) EditSchedule(ctx context.Context, tenant, batchID string) (models.ScheduledBatch, error) {
	sb, err := s.pendingSchedule(ctx, tenant, batchID)
	if err != nil {
		return sb, err
	}
	if !s.sched.Cancel(tenant, batchID) {
		// Never armed, or the timer already fired.
		if sb, err = s.pendingSchedule(ctx, tenant, batchID); err != nil {
			return sb, err
		}
	}
	return sb, nil
}

// UpdateSchedule rewrites a pending schedule. Recipients are replaced only
// when the request carries any.
func (s *Service) UpdateSchedule(ctx context.Context, tenant, ip string, req ScheduleRequest) error {
	if req.BatchID == "" {
		return invalid("batch id is required")
	}
	log := s.log.With(zap.String("tenant", tenant), zap.String("batch_id", req.BatchID))

	sb, err := s.pendingSchedule(ctx, tenant, req.BatchID)
	if err != nil {
		return err
	}

	clientAt, serverAt, err := scheduler.ServerTime(req.GMT, req.ScheduledOn, s.loc)
	if err != nil {
		return invalid("%v", err)
	}

	var recipients string
	if len(req.Recipients) > 0 || req.RecipientsCSV != "" || req.RecipientsFile != "" {
		list, err := s.collectRecipients(req.BatchRequest, log)
		if err != nil {
			return err
		}
		if len(list) == 0 {
			return invalid("no valid recipient found")
		}
		recipients = jsonList(list)
		sb.TotalRecipients = len(list)
	}

	if req.SMTPID != 0 {
		sb.SMTPID = req.SMTPID
	}
	sb.Subject = req.Subject
	sb.Body = req.Body
	sb.CcRecipients = jsonList(req.CcRecipients)
	sb.BccRecipients = jsonList(req.BccRecipients)
	sb.Delay = req.Delay
	if len(req.Attachments) > 0 {
		sb.Attachments = s.stageAttachments(tenant, sb.ID, req.Attachments, log)
	}
	sb.GMT = req.GMT
	sb.ScheduledOn = clientAt
	sb.ServerTime = serverAt
	if ip != "" {
		sb.IPAddress = ip
	}

	err = s.store.UpdateSchedule(ctx, sb, recipients)
	if errors.Is(err, db.ErrNotFound) {
		return invalid("schedule %s is no longer pending", sb.ID)
	}
	if err != nil {
		return processing(err, "update schedule %s", sb.ID)
	}
	log.Info("schedule updated", zap.Time("server_time", serverAt))

	if s.sched.Today(serverAt) {
		s.sched.Schedule(sb)
	} else {
		s.sched.Cancel(tenant, sb.ID)
	}
	return nil
}

// AbortSchedule cancels a pending schedule.
func (s *Service) AbortSchedule(ctx context.Context, tenant, batchID string) error {
	if _, err := s.pendingSchedule(ctx, tenant, batchID); err != nil {
		return err
	}
	s.sched.Cancel(tenant, batchID)

	err := s.store.AbortPendingSchedule(ctx, tenant, batchID)
	if errors.Is(err, db.ErrNotFound) {
		return invalid("scheduled entry %s is not editable", batchID)
	}
	if err != nil {
		return processing(err, "abort schedule %s", batchID)
	}
	s.log.Info("schedule aborted", zap.String("tenant", tenant), zap.String("batch_id", batchID))
	return nil
}

func (s *Service) ListSchedules(ctx context.Context, tenant string, f models.BatchFilter) ([]models.ScheduledBatch, error) {
	list, err := s.store.ListSchedules(ctx, tenant, f)
	if err != nil {
		return nil, processing(err, "list schedules")
	}
	return list, nil
}

// Activate converts a due schedule into a running batch. A schedule that is
// no longer pending is skipped without error.
func (s *Service) Activate(ctx context.Context, sb models.ScheduledBatch) error {
	log := s.log.With(zap.String("tenant", sb.SystemID), zap.String("batch_id", sb.ID))

	raw, err := s.store.ScheduleRecipients(ctx, sb.ID)
	if errors.Is(err, db.ErrNotFound) {
		log.Info("schedule has no stored recipients, skipping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load schedule recipients: %w", err)
	}

	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		s.abandon(ctx, sb, log)
		return fmt.Errorf("decode schedule recipients: %w", err)
	}
	recipients := filterRecipients(list, log)
	if len(recipients) == 0 {
		s.abandon(ctx, sb, log)
		return errors.New("no valid recipient found")
	}

	prof, err := s.resolveProfile(ctx, sb.SystemID, sb.SMTPID)
	if err != nil {
		if errors.Is(err, ErrInvalidRequest) {
			s.abandon(ctx, sb, log)
		}
		return err
	}

	b := sb.Batch
	b.Status = models.BatchActive
	b.Type = models.BatchScheduled
	b.TotalRecipients = len(recipients)
	b.CreatedAt = time.Now()
	b.UpdatedAt = b.CreatedAt
	entries := s.entries(recipients)

	err = s.store.ActivateSchedule(ctx, b, entries)
	if errors.Is(err, db.ErrNotFound) {
		log.Info("schedule is no longer pending, skipping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("activate schedule: %w", err)
	}

	if err := s.spawn(b, entries, prof); err != nil {
		return fmt.Errorf("start scheduled batch: %w", err)
	}
	log.Info("scheduled batch started", zap.Int("recipients", len(entries)))
	return nil
}

// abandon marks a schedule that can never run as ABORTED.
func (s *Service) abandon(ctx context.Context, sb models.ScheduledBatch, log *zap.Logger) {
	if err := s.store.AbortPendingSchedule(ctx, sb.SystemID, sb.ID); err != nil {
		log.Error("failed to abort unusable schedule", zap.Error(err))
		return
	}
	log.Warn("unusable schedule aborted")
}

func (s *Service) pendingSchedule(ctx context.Context, tenant, batchID string) (models.ScheduledBatch, error) {
	sb, err := s.store.GetSchedule(ctx, tenant, batchID)
	if errors.Is(err, db.ErrNotFound) {
		return sb, invalid("no scheduled entry found for %s", batchID)
	}
	if err != nil {
		return sb, processing(err, "load schedule %s", batchID)
	}
	if sb.Status != models.BatchPending {
		return sb, invalid("scheduled entry %s [%s] is not editable", batchID, sb.Status)
	}
	return sb, nil
}
