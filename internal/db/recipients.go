package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"BatchSend/internal/models"
)

func createRecipients(ctx context.Context, tx pgx.Tx, tenant, batchID string, entries []models.RecipientEntry) error {
	table := recipientTable(tenant, batchID)

	_, err := tx.Exec(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (
			msg_id    BIGINT PRIMARY KEY,
			recipient TEXT NOT NULL,
			flag      CHAR(1) NOT NULL DEFAULT 'F'
		)`, table))
	if err != nil {
		return fmt.Errorf("create %s: %w", table, err)
	}

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"recipient_" + tenant + "_" + batchID},
		[]string{"msg_id", "recipient", "flag"},
		pgx.CopyFromSlice(len(entries), func(i int) ([]any, error) {
			e := entries[i]
			flag := e.Flag
			if flag == "" {
				flag = models.FlagPending
			}
			return []any{e.MsgID, e.Recipient, string(flag)}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("copy recipients into %s: %w", table, err)
	}
	return nil
}

// PendingRecipients returns the unflagged recipients of a batch in
// submission order.
func (s *Store) PendingRecipients(ctx context.Context, tenant, batchID string) ([]models.RecipientEntry, error) {
	rows, err := s.Pool.Query(ctx, fmt.Sprintf(
		`SELECT msg_id, recipient, flag FROM %s WHERE flag=$1 ORDER BY msg_id`,
		recipientTable(tenant, batchID)), string(models.FlagPending))
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.RecipientEntry, error) {
		var (
			e    models.RecipientEntry
			flag string
		)
		err := row.Scan(&e.MsgID, &e.Recipient, &flag)
		e.Flag = models.Flag(flag)
		return e, err
	})
}

// CountPending returns 0 when the recipient table is already dropped.
func (s *Store) CountPending(ctx context.Context, tenant, batchID string) (int, error) {
	var exists bool
	err := s.Pool.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, recipientTable(tenant, batchID)).Scan(&exists)
	if err != nil || !exists {
		return 0, err
	}

	var n int
	err = s.Pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT COUNT(*) FROM %s WHERE flag=$1`, recipientTable(tenant, batchID)),
		string(models.FlagPending)).Scan(&n)
	return n, err
}

// ApplyFlags writes every entry's flag in a single transaction.
func (s *Store) ApplyFlags(ctx context.Context, tenant, batchID string, entries []models.RecipientEntry) error {
	if len(entries) == 0 {
		return nil
	}

	sql := fmt.Sprintf(`UPDATE %s SET flag=$1 WHERE msg_id=$2`, recipientTable(tenant, batchID))

	return pgx.BeginFunc(ctx, s.Pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, e := range entries {
			batch.Queue(sql, string(e.Flag), e.MsgID)
		}

		br := tx.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("apply flag: %w", err)
			}
		}
		return br.Close()
	})
}

// DropRecipients removes the recipient table of a finished batch.
func (s *Store) DropRecipients(ctx context.Context, tenant, batchID string) error {
	_, err := s.Pool.Exec(ctx, `DROP TABLE IF EXISTS `+recipientTable(tenant, batchID))
	return err
}
