package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"BatchSend/internal/models"
)

const scheduleColumns = `batch_id, system_id, smtp_id, ip_address, subject, body,
	cc_recipients, bcc_recipients, attachments, delay, total_recipients,
	status, gmt, scheduled_on, server_time, created_at, updated_at`

func scanSchedule(row pgx.Row) (models.ScheduledBatch, error) {
	var (
		sb          models.ScheduledBatch
		scheduledOn string
	)
	err := row.Scan(
		&sb.ID, &sb.SystemID, &sb.SMTPID, &sb.IPAddress, &sb.Subject, &sb.Body,
		&sb.CcRecipients, &sb.BccRecipients, &sb.Attachments, &sb.Delay, &sb.TotalRecipients,
		&sb.Status, &sb.GMT, &scheduledOn, &sb.ServerTime, &sb.CreatedAt, &sb.UpdatedAt,
	)
	if err != nil {
		return sb, err
	}
	sb.Type = models.BatchScheduled
	sb.ScheduledOn, _ = time.Parse(models.ScheduleTimeLayout, scheduledOn)
	return sb, nil
}

// CreateSchedule stores a pending schedule and its raw recipient list.
func (s *Store) CreateSchedule(ctx context.Context, sb models.ScheduledBatch, recipients string) error {
	return pgx.BeginFunc(ctx, s.Pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO schedules
			 (batch_id, system_id, smtp_id, ip_address, subject, body,
			  cc_recipients, bcc_recipients, attachments, delay, total_recipients,
			  status, gmt, scheduled_on, server_time, created_at, updated_at)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$16)`,
			sb.ID, sb.SystemID, sb.SMTPID, sb.IPAddress, sb.Subject, sb.Body,
			sb.CcRecipients, sb.BccRecipients, sb.Attachments, sb.Delay, sb.TotalRecipients,
			sb.Status, sb.GMT, sb.ScheduledOn.Format(models.ScheduleTimeLayout), sb.ServerTime, sb.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert schedule %s: %w", sb.ID, err)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO schedule_recipients (batch_id, recipients) VALUES ($1,$2)`,
			sb.ID, recipients,
		)
		if err != nil {
			return fmt.Errorf("insert schedule recipients %s: %w", sb.ID, err)
		}
		return nil
	})
}

func (s *Store) GetSchedule(ctx context.Context, tenant, batchID string) (models.ScheduledBatch, error) {
	sb, err := scanSchedule(s.Pool.QueryRow(ctx,
		`SELECT `+scheduleColumns+` FROM schedules WHERE system_id=$1 AND batch_id=$2`,
		tenant, batchID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return sb, ErrNotFound
	}
	return sb, err
}

// UpdateSchedule rewrites a pending schedule. recipients replaces the stored
// list unless empty.
func (s *Store) UpdateSchedule(ctx context.Context, sb models.ScheduledBatch, recipients string) error {
	return pgx.BeginFunc(ctx, s.Pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE schedules
			 SET smtp_id=$1,
			     subject=$2,
			     body=$3,
			     cc_recipients=$4,
			     bcc_recipients=$5,
			     attachments=$6,
			     delay=$7,
			     total_recipients=$8,
			     gmt=$9,
			     scheduled_on=$10,
			     server_time=$11,
			     updated_at=NOW()
			 WHERE system_id=$12 AND batch_id=$13 AND status=$14`,
			sb.SMTPID, sb.Subject, sb.Body, sb.CcRecipients, sb.BccRecipients, sb.Attachments,
			sb.Delay, sb.TotalRecipients, sb.GMT, sb.ScheduledOn.Format(models.ScheduleTimeLayout), sb.ServerTime,
			sb.SystemID, sb.ID, models.BatchPending,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}

		if recipients == "" {
			return nil
		}
		_, err = tx.Exec(ctx,
			`UPDATE schedule_recipients SET recipients=$1 WHERE batch_id=$2`,
			recipients, sb.ID,
		)
		return err
	})
}

// AbortPendingSchedule marks a schedule ABORTED. A schedule that already
// left PENDING is left untouched and ErrNotFound is returned.
func (s *Store) AbortPendingSchedule(ctx context.Context, tenant, batchID string) error {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE schedules
		 SET status=$1,
		     updated_at=NOW()
		 WHERE system_id=$2 AND batch_id=$3 AND status=$4`,
		models.BatchAborted,
		tenant,
		batchID,
		models.BatchPending,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ScheduleRecipients returns the raw recipient list stored with a schedule.
func (s *Store) ScheduleRecipients(ctx context.Context, batchID string) (string, error) {
	var recipients string
	err := s.Pool.QueryRow(ctx,
		`SELECT recipients FROM schedule_recipients WHERE batch_id=$1`, batchID,
	).Scan(&recipients)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	return recipients, err
}

// ActivateSchedule turns a schedule into a live batch: the batch row and
// recipient table are created, the schedule is marked FINISHED and its
// recipient list is removed, all in one transaction.
func (s *Store) ActivateSchedule(ctx context.Context, b models.Batch, entries []models.RecipientEntry) error {
	return pgx.BeginFunc(ctx, s.Pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE schedules SET status=$1, updated_at=NOW()
			 WHERE system_id=$2 AND batch_id=$3 AND status=$4`,
			models.BatchFinished, b.SystemID, b.ID, models.BatchPending,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}

		if err := createRecipients(ctx, tx, b.SystemID, b.ID, entries); err != nil {
			return err
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO batches
			 (batch_id, system_id, smtp_id, ip_address, subject, body,
			  cc_recipients, bcc_recipients, attachments, delay, total_recipients,
			  status, batch_type, created_at, updated_at)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$14)`,
			b.ID, b.SystemID, b.SMTPID, b.IPAddress, b.Subject, b.Body,
			b.CcRecipients, b.BccRecipients, b.Attachments, b.Delay, b.TotalRecipients,
			b.Status, b.Type, b.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert batch %s: %w", b.ID, err)
		}

		_, err = tx.Exec(ctx, `DELETE FROM schedule_recipients WHERE batch_id=$1`, b.ID)
		return err
	})
}

// ListSchedules returns a tenant's schedules ordered by trigger time.
func (s *Store) ListSchedules(ctx context.Context, tenant string, f models.BatchFilter) ([]models.ScheduledBatch, error) {
	where, args := filterClause("system_id=$1", []any{tenant}, f, "server_time")
	return s.querySchedules(ctx,
		`SELECT `+scheduleColumns+` FROM schedules WHERE `+where+` ORDER BY server_time`+limitClause(f), args...)
}

// PendingSchedulesBetween returns PENDING schedules of every tenant whose
// server time falls in [from, to).
func (s *Store) PendingSchedulesBetween(ctx context.Context, from, to time.Time) ([]models.ScheduledBatch, error) {
	return s.querySchedules(ctx,
		`SELECT `+scheduleColumns+` FROM schedules
		 WHERE status=$1 AND server_time >= $2 AND server_time < $3
		 ORDER BY server_time`,
		models.BatchPending, from, to)
}

func (s *Store) querySchedules(ctx context.Context, sql string, args ...any) ([]models.ScheduledBatch, error) {
	rows, err := s.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ScheduledBatch
	for rows.Next() {
		sb, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sb)
	}
	return out, rows.Err()
}
