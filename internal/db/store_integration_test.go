//go:build integration

package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"BatchSend/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("batchsend"),
		postgres.WithUsername("batchsend"),
		postgres.WithPassword("batchsend"),
		postgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(ctr) })

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	store, err := New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(store.Close)

	require.NoError(t, store.EnsureSchema(ctx))
	return store
}

func TestStore_BatchLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	b := models.Batch{
		ID:              "1001",
		SystemID:        "acme",
		SMTPID:          1,
		Subject:         "Hello",
		Body:            "Body",
		TotalRecipients: 3,
		Status:          models.BatchActive,
		Type:            models.BatchImmediate,
		CreatedAt:       time.Now(),
	}
	entries := []models.RecipientEntry{
		{MsgID: 1, Recipient: "a@x.test"},
		{MsgID: 2, Recipient: "b@x.test"},
		{MsgID: 3, Recipient: "c@x.test"},
	}
	require.NoError(t, store.CreateBatch(ctx, b, entries))

	got, err := store.GetBatch(ctx, "acme", "1001")
	require.NoError(t, err)
	assert.Equal(t, models.BatchActive, got.Status)
	assert.Equal(t, 3, got.TotalRecipients)

	require.NoError(t, store.ApplyFlags(ctx, "acme", "1001", []models.RecipientEntry{
		{MsgID: 1, Flag: models.FlagSent},
		{MsgID: 2, Flag: models.FlagError},
	}))

	pending, err := store.PendingRecipients(ctx, "acme", "1001")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "c@x.test", pending[0].Recipient)

	n, err := store.CountPending(ctx, "acme", "1001")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, store.UpdateBatchStatus(ctx, "acme", "1001", models.BatchFinished))
	require.NoError(t, store.DropRecipients(ctx, "acme", "1001"))

	n, err = store.CountPending(ctx, "acme", "1001")
	require.NoError(t, err)
	assert.Zero(t, n)

	active, err := store.BatchesByStatus(ctx, models.BatchActive)
	require.NoError(t, err)
	assert.Empty(t, active)

	_, err = store.GetBatch(ctx, "acme", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ReportsArePartitioned(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.EnsureReportTable(ctx, "acme", now))
	require.NoError(t, store.EnsureReportTable(ctx, "acme", now))

	entries := []models.ReportEntry{
		{MsgID: 1, BatchID: "b1", Recipient: "a@x.test", Status: models.StatusDelivered, StatusCode: 250, ReceivedOn: now, SubmittedOn: now},
		{MsgID: 2, BatchID: "b1", Recipient: "b@x.test", Status: models.StatusFailed, StatusCode: 550, ReceivedOn: now, SubmittedOn: now.AddDate(0, 0, 30)},
	}
	require.NoError(t, store.InsertReports(ctx, "acme", entries))

	got, err := store.ReportsForBatch(ctx, "acme", "b1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a@x.test", got[0].Recipient)
	assert.Equal(t, models.StatusFailed, got[1].Status)
}

func TestStore_ScheduleActivation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	at := time.Now().Add(time.Hour).Truncate(time.Second)

	sb := models.ScheduledBatch{
		Batch: models.Batch{
			ID:              "2001",
			SystemID:        "acme",
			SMTPID:          1,
			Subject:         "Later",
			TotalRecipients: 2,
			Status:          models.BatchPending,
			Type:            models.BatchScheduled,
			CreatedAt:       time.Now(),
		},
		GMT:         "+00:00",
		ScheduledOn: at.UTC(),
		ServerTime:  at,
	}
	require.NoError(t, store.CreateSchedule(ctx, sb, `["a@x.test","b@x.test"]`))

	due, err := store.PendingSchedulesBetween(ctx, at.Add(-time.Minute), at.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, due, 1)

	raw, err := store.ScheduleRecipients(ctx, "2001")
	require.NoError(t, err)
	assert.Equal(t, `["a@x.test","b@x.test"]`, raw)

	b := sb.Batch
	b.Status = models.BatchActive
	require.NoError(t, store.ActivateSchedule(ctx, b, []models.RecipientEntry{
		{MsgID: 10, Recipient: "a@x.test"},
		{MsgID: 11, Recipient: "b@x.test"},
	}))

	got, err := store.GetSchedule(ctx, "acme", "2001")
	require.NoError(t, err)
	assert.Equal(t, models.BatchFinished, got.Status)

	_, err = store.ScheduleRecipients(ctx, "2001")
	assert.ErrorIs(t, err, ErrNotFound)

	err = store.ActivateSchedule(ctx, b, nil)
	assert.ErrorIs(t, err, ErrNotFound)

	err = store.AbortPendingSchedule(ctx, "acme", "2001")
	assert.ErrorIs(t, err, ErrNotFound)
	got, err = store.GetSchedule(ctx, "acme", "2001")
	require.NoError(t, err)
	assert.Equal(t, models.BatchFinished, got.Status)
}

func TestStore_Profiles(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.SaveProfile(ctx, models.SMTPProfile{
		SystemID:   "acme",
		Host:       "smtp.acme.test",
		Port:       587,
		User:       "u",
		Password:   "p",
		Encryption: models.EncryptionStartTLS,
		Verified:   true,
	})
	require.NoError(t, err)

	p, err := store.GetProfile(ctx, "acme", id)
	require.NoError(t, err)
	assert.Equal(t, models.EncryptionStartTLS, p.Encryption)
	assert.Equal(t, "p", p.Password)

	_, err = store.GetProfile(ctx, "other", id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_SetProfileVerified(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.SaveProfile(ctx, models.SMTPProfile{
		SystemID:   "acme",
		Host:       "smtp.acme.test",
		Port:       25,
		Encryption: models.EncryptionNone,
	})
	require.NoError(t, err)

	require.NoError(t, store.SetProfileVerified(ctx, "acme", id))
	p, err := store.GetProfile(ctx, "acme", id)
	require.NoError(t, err)
	assert.True(t, p.Verified)

	assert.ErrorIs(t, store.SetProfileVerified(ctx, "other", id), ErrNotFound)
}
