package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"BatchSend/internal/models"
)

const partitionBoundLayout = "2006-01-02 15:04:05-07:00"

// EnsureReportTable creates report_<tenant> partitioned by submitted_on, with
// day partitions from two days before now through tomorrow and a default
// partition for everything else.
func (s *Store) EnsureReportTable(ctx context.Context, tenant string, now time.Time) error {
	parent := reportTable(tenant)

	_, err := s.Pool.Exec(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (
			msg_id       BIGINT NOT NULL,
			batch_id     TEXT NOT NULL,
			recipient    TEXT NOT NULL,
			status       TEXT NOT NULL,
			status_code  INT NOT NULL,
			remarks      TEXT NOT NULL DEFAULT '',
			received_on  TIMESTAMPTZ NOT NULL,
			submitted_on TIMESTAMPTZ NOT NULL
		) PARTITION BY RANGE (submitted_on)`, parent))
	if err != nil {
		return fmt.Errorf("create %s: %w", parent, err)
	}

	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	for offset := -2; offset <= 1; offset++ {
		from := day.AddDate(0, 0, offset)
		to := from.AddDate(0, 0, 1)
		name := pgx.Identifier{"report_" + tenant + "_" + from.Format("20060102")}.Sanitize()

		_, err := s.Pool.Exec(ctx, fmt.Sprintf(
			`CREATE TABLE IF NOT EXISTS %s PARTITION OF %s FOR VALUES FROM ('%s') TO ('%s')`,
			name, parent, from.Format(partitionBoundLayout), to.Format(partitionBoundLayout)))
		if err != nil {
			return fmt.Errorf("create partition %s: %w", name, err)
		}
	}

	def := pgx.Identifier{"report_" + tenant + "_default"}.Sanitize()
	if _, err := s.Pool.Exec(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s PARTITION OF %s DEFAULT`, def, parent)); err != nil {
		return fmt.Errorf("create partition %s: %w", def, err)
	}
	return nil
}

// InsertReports appends entries with a single COPY.
func (s *Store) InsertReports(ctx context.Context, tenant string, entries []models.ReportEntry) error {
	if len(entries) == 0 {
		return nil
	}

	_, err := s.Pool.CopyFrom(ctx,
		pgx.Identifier{"report_" + tenant},
		[]string{"msg_id", "batch_id", "recipient", "status", "status_code", "remarks", "received_on", "submitted_on"},
		pgx.CopyFromSlice(len(entries), func(i int) ([]any, error) {
			e := entries[i]
			return []any{e.MsgID, e.BatchID, e.Recipient, string(e.Status), e.StatusCode, e.Remarks, e.ReceivedOn, e.SubmittedOn}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("copy into report_%s: %w", tenant, err)
	}
	return nil
}

// ReportsForBatch returns a batch's report rows in insertion order.
func (s *Store) ReportsForBatch(ctx context.Context, tenant, batchID string) ([]models.ReportEntry, error) {
	rows, err := s.Pool.Query(ctx, fmt.Sprintf(
		`SELECT msg_id, batch_id, recipient, status, status_code, remarks, received_on, submitted_on
		 FROM %s WHERE batch_id=$1 ORDER BY submitted_on, msg_id`, reportTable(tenant)), batchID)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.ReportEntry, error) {
		var e models.ReportEntry
		err := row.Scan(&e.MsgID, &e.BatchID, &e.Recipient, &e.Status, &e.StatusCode, &e.Remarks, &e.ReceivedOn, &e.SubmittedOn)
		return e, err
	})
}
