package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a keyed lookup matches no row.
var ErrNotFound = errors.New("record not found")

type Store struct {
	Pool *pgxpool.Pool
}

func New(ctx context.Context, conn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, conn)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{Pool: pool}, nil
}

func (s *Store) Close() {
	s.Pool.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS batches (
	batch_id         TEXT PRIMARY KEY,
	system_id        TEXT NOT NULL,
	smtp_id          BIGINT NOT NULL,
	ip_address       TEXT NOT NULL DEFAULT '',
	subject          TEXT NOT NULL DEFAULT '',
	body             TEXT NOT NULL DEFAULT '',
	cc_recipients    TEXT NOT NULL DEFAULT '',
	bcc_recipients   TEXT NOT NULL DEFAULT '',
	attachments      TEXT NOT NULL DEFAULT '',
	delay            DOUBLE PRECISION NOT NULL DEFAULT 0,
	total_recipients INT NOT NULL,
	status           TEXT NOT NULL,
	batch_type       TEXT NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS batches_system_status_idx ON batches (system_id, status);

CREATE TABLE IF NOT EXISTS schedules (
	batch_id         TEXT PRIMARY KEY,
	system_id        TEXT NOT NULL,
	smtp_id          BIGINT NOT NULL,
	ip_address       TEXT NOT NULL DEFAULT '',
	subject          TEXT NOT NULL DEFAULT '',
	body             TEXT NOT NULL DEFAULT '',
	cc_recipients    TEXT NOT NULL DEFAULT '',
	bcc_recipients   TEXT NOT NULL DEFAULT '',
	attachments      TEXT NOT NULL DEFAULT '',
	delay            DOUBLE PRECISION NOT NULL DEFAULT 0,
	total_recipients INT NOT NULL,
	status           TEXT NOT NULL,
	gmt              TEXT NOT NULL,
	scheduled_on     TEXT NOT NULL,
	server_time      TIMESTAMPTZ NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS schedules_status_time_idx ON schedules (status, server_time);

CREATE TABLE IF NOT EXISTS schedule_recipients (
	batch_id   TEXT PRIMARY KEY REFERENCES schedules (batch_id) ON DELETE CASCADE,
	recipients TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS smtp_profiles (
	id          BIGSERIAL PRIMARY KEY,
	system_id   TEXT NOT NULL,
	host        TEXT NOT NULL,
	port        INT NOT NULL,
	username    TEXT NOT NULL DEFAULT '',
	password    TEXT NOT NULL DEFAULT '',
	encryption  TEXT NOT NULL DEFAULT 'NONE',
	verified    BOOLEAN NOT NULL DEFAULT FALSE,
	webhook_url TEXT NOT NULL DEFAULT ''
);
`

// EnsureSchema creates the shared tables. Per batch recipient tables and
// per tenant report tables are created on demand.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.Pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func recipientTable(tenant, batchID string) string {
	return pgx.Identifier{"recipient_" + tenant + "_" + batchID}.Sanitize()
}

func reportTable(tenant string) string {
	return pgx.Identifier{"report_" + tenant}.Sanitize()
}
