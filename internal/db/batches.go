package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"BatchSend/internal/models"
)

const batchColumns = `batch_id, system_id, smtp_id, ip_address, subject, body,
	cc_recipients, bcc_recipients, attachments, delay, total_recipients,
	status, batch_type, created_at, updated_at`

func scanBatch(row pgx.Row) (models.Batch, error) {
	var b models.Batch
	err := row.Scan(
		&b.ID, &b.SystemID, &b.SMTPID, &b.IPAddress, &b.Subject, &b.Body,
		&b.CcRecipients, &b.BccRecipients, &b.Attachments, &b.Delay, &b.TotalRecipients,
		&b.Status, &b.Type, &b.CreatedAt, &b.UpdatedAt,
	)
	return b, err
}

// CreateBatch stores the batch row and its recipient table in one
// transaction.
func (s *Store) CreateBatch(ctx context.Context, b models.Batch, entries []models.RecipientEntry) error {
	return pgx.BeginFunc(ctx, s.Pool, func(tx pgx.Tx) error {
		if err := createRecipients(ctx, tx, b.SystemID, b.ID, entries); err != nil {
			return err
		}

		_, err := tx.Exec(ctx,
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
		return nil
	})
}

func (s *Store) GetBatch(ctx context.Context, tenant, batchID string) (models.Batch, error) {
	b, err := scanBatch(s.Pool.QueryRow(ctx,
		`SELECT `+batchColumns+` FROM batches WHERE system_id=$1 AND batch_id=$2`,
		tenant, batchID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return b, ErrNotFound
	}
	return b, err
}

func (s *Store) UpdateBatchStatus(
	ctx context.Context,
	tenant, batchID string,
	status models.BatchStatus,
) error {

	_, err := s.Pool.Exec(ctx,
		`UPDATE batches
		 SET status=$1,
		     updated_at=NOW()
		 WHERE system_id=$2 AND batch_id=$3`,
		status,
		tenant,
		batchID,
	)

	return err
}

// UpdateBatchContent persists the fields a paused batch may change before
// it resumes.
func (s *Store) UpdateBatchContent(ctx context.Context, b models.Batch) error {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE batches
		 SET smtp_id=$1,
		     subject=$2,
		     body=$3,
		     cc_recipients=$4,
		     bcc_recipients=$5,
		     delay=$6,
		     status=$7,
		     updated_at=NOW()
		 WHERE system_id=$8 AND batch_id=$9`,
		b.SMTPID, b.Subject, b.Body, b.CcRecipients, b.BccRecipients, b.Delay, b.Status,
		b.SystemID, b.ID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListBatches returns a tenant's batches, newest first.
func (s *Store) ListBatches(ctx context.Context, tenant string, f models.BatchFilter) ([]models.Batch, error) {
	where, args := filterClause("system_id=$1", []any{tenant}, f, "created_at")
	return s.queryBatches(ctx,
		`SELECT `+batchColumns+` FROM batches WHERE `+where+` ORDER BY created_at DESC`+limitClause(f), args...)
}

// BatchesByStatus returns every batch in status across all tenants.
func (s *Store) BatchesByStatus(ctx context.Context, status models.BatchStatus) ([]models.Batch, error) {
	return s.queryBatches(ctx,
		`SELECT `+batchColumns+` FROM batches WHERE status=$1 ORDER BY created_at`, status)
}

func (s *Store) queryBatches(ctx context.Context, sql string, args ...any) ([]models.Batch, error) {
	rows, err := s.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func filterClause(base string, args []any, f models.BatchFilter, timeCol string) (string, []any) {
	conds := []string{base}
	if f.Status != "" {
		args = append(args, f.Status)
		conds = append(conds, fmt.Sprintf("status=$%d", len(args)))
	}
	if !f.From.IsZero() {
		args = append(args, f.From)
		conds = append(conds, fmt.Sprintf("%s >= $%d", timeCol, len(args)))
	}
	if !f.To.IsZero() {
		args = append(args, f.To)
		conds = append(conds, fmt.Sprintf("%s < $%d", timeCol, len(args)))
	}
	return strings.Join(conds, " AND "), args
}

func limitClause(f models.BatchFilter) string {
	if f.Limit <= 0 {
		return ""
	}
	return fmt.Sprintf(" LIMIT %d", f.Limit)
}
