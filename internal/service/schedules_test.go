package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BatchSend/internal/models"
)

func scheduleReq(gmt, at string, recipients ...string) ScheduleRequest {
	return ScheduleRequest{
		BatchRequest: BatchRequest{
			SMTPID:     7,
			Subject:    "Later",
			Body:       "Body",
			Recipients: recipients,
		},
		GMT:         gmt,
		ScheduledOn: at,
	}
}

func TestScheduleBatch_DueScheduleRunsInClientOffset(t *testing.T) {
	h := newHarness(t)

	// 17:29:59 at +05:30 is one second before the fixed noon UTC clock.
	id, err := h.svc.ScheduleBatch(context.Background(), "acme", "10.0.0.2",
		scheduleReq("+05:30", "2026-03-10 17:29:59", "a@x.test", "bad", "b@x.test"))
	require.NoError(t, err)

	h.waitStatus(t, id, models.BatchFinished)

	b := h.store.batch("acme", id)
	assert.Equal(t, models.BatchScheduled, b.Type)
	assert.Equal(t, 2, b.TotalRecipients)
	assert.Equal(t, "Later", b.Subject)

	sb := h.store.schedule("acme", id)
	assert.Equal(t, models.BatchFinished, sb.Status)
	assert.True(t, sb.ServerTime.Equal(noon.Add(-time.Second)))
	assert.Equal(t, time.UTC, sb.ServerTime.Location())

	_, err = h.store.ScheduleRecipients(context.Background(), id)
	assert.Error(t, err)

	assert.Equal(t, []string{"a@x.test", "b@x.test"}, h.srv.Recipients())
}

func TestScheduleBatch_OnlyTodayIsArmed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	today, err := h.svc.ScheduleBatch(ctx, "acme", "", scheduleReq("+00:00", "2026-03-10 18:00:00", "a@x.test"))
	require.NoError(t, err)
	tomorrow, err := h.svc.ScheduleBatch(ctx, "acme", "", scheduleReq("+00:00", "2026-03-11 09:00:00", "a@x.test"))
	require.NoError(t, err)

	assert.True(t, h.svc.sched.Armed("acme", today))
	assert.False(t, h.svc.sched.Armed("acme", tomorrow))
	assert.Equal(t, models.BatchPending, h.store.schedule("acme", tomorrow).Status)

	list, err := h.svc.ListSchedules(ctx, "acme", models.BatchFilter{})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, today, list[0].ID)
}

func TestScheduleBatch_Rejects(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name string
		req  ScheduleRequest
	}{
		{"bad offset", scheduleReq("+25:00", "2026-03-10 18:00:00", "a@x.test")},
		{"bad time", scheduleReq("+00:00", "10/03/2026 18:00", "a@x.test")},
		{"no recipients", scheduleReq("+00:00", "2026-03-10 18:00:00", "nope")},
		{"unknown profile", func() ScheduleRequest {
			r := scheduleReq("+00:00", "2026-03-10 18:00:00", "a@x.test")
			r.SMTPID = 99
			return r
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.ScheduleBatch(context.Background(), "acme", "", tt.req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestEditUpdateAbortSchedule(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	id, err := h.svc.ScheduleBatch(ctx, "acme", "", scheduleReq("+00:00", "2026-03-10 18:00:00", "a@x.test"))
	require.NoError(t, err)
	require.True(t, h.svc.sched.Armed("acme", id))

	sb, err := h.svc.EditSchedule(ctx, "acme", id)
	require.NoError(t, err)
	assert.Equal(t, "Later", sb.Subject)
	assert.False(t, h.svc.sched.Armed("acme", id))

	req := scheduleReq("+01:00", "2026-03-10 20:00:00", "x@x.test", "y@x.test")
	req.BatchID = id
	req.Subject = "Changed"
	require.NoError(t, h.svc.UpdateSchedule(ctx, "acme", "", req))

	sb = h.store.schedule("acme", id)
	assert.Equal(t, "Changed", sb.Subject)
	assert.Equal(t, 2, sb.TotalRecipients)
	assert.True(t, sb.ServerTime.Equal(time.Date(2026, 3, 10, 19, 0, 0, 0, time.UTC)))
	assert.True(t, h.svc.sched.Armed("acme", id))

	raw, err := h.store.ScheduleRecipients(ctx, id)
	require.NoError(t, err)
	assert.JSONEq(t, `["x@x.test","y@x.test"]`, raw)

	// moving it to another day disarms it
	req.ScheduledOn = "2026-03-12 08:00:00"
	require.NoError(t, h.svc.UpdateSchedule(ctx, "acme", "", req))
	assert.False(t, h.svc.sched.Armed("acme", id))

	require.NoError(t, h.svc.AbortSchedule(ctx, "acme", id))
	assert.Equal(t, models.BatchAborted, h.store.schedule("acme", id).Status)

	_, err = h.svc.EditSchedule(ctx, "acme", id)
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.ErrorIs(t, h.svc.UpdateSchedule(ctx, "acme", "", req), ErrInvalidRequest)
	assert.ErrorIs(t, h.svc.AbortSchedule(ctx, "acme", id), ErrInvalidRequest)
	assert.ErrorIs(t, h.svc.AbortSchedule(ctx, "acme", "unknown"), ErrInvalidRequest)
}

func TestActivate_SkipsScheduleNoLongerPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	id, err := h.svc.ScheduleBatch(ctx, "acme", "", scheduleReq("+00:00", "2026-03-11 09:00:00", "a@x.test"))
	require.NoError(t, err)
	sb := h.store.schedule("acme", id)

	require.NoError(t, h.store.AbortPendingSchedule(ctx, "acme", id))
	require.NoError(t, h.svc.Activate(ctx, sb))

	assert.Zero(t, h.store.count())
	assert.Zero(t, h.svc.registry.Len())
}

func TestActivate_AbandonsScheduleWithUnusableProfile(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	id, err := h.svc.ScheduleBatch(ctx, "acme", "", scheduleReq("+00:00", "2026-03-11 09:00:00", "a@x.test"))
	require.NoError(t, err)

	h.store.putProfile(models.SMTPProfile{ID: 7, SystemID: "acme", Host: h.srv.Host, Port: h.srv.Port})
	_, _, err = h.svc.profiles.Reload(ctx, "acme", 7)
	require.NoError(t, err)

	err = h.svc.Activate(ctx, h.store.schedule("acme", id))
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Equal(t, models.BatchAborted, h.store.schedule("acme", id).Status)
	assert.Zero(t, h.store.count())
}

// activateOnRead makes the first schedule read race with the timer: the
// schedule is activated right after the caller saw it PENDING.
func activateOnRead(t *testing.T, h *harness) {
	var once sync.Once
	h.store.onGetSchedule(func(sb models.ScheduledBatch) {
		once.Do(func() {
			require.NoError(t, h.svc.Activate(context.Background(), sb))
		})
	})
}

func TestAbortSchedule_RejectedOnceActivated(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	id, err := h.svc.ScheduleBatch(ctx, "acme", "", scheduleReq("+00:00", "2026-03-10 18:00:00", "a@x.test"))
	require.NoError(t, err)

	activateOnRead(t, h)
	err = h.svc.AbortSchedule(ctx, "acme", id)
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.False(t, h.svc.sched.Armed("acme", id))

	assert.Equal(t, models.BatchFinished, h.store.schedule("acme", id).Status)
	h.waitStatus(t, id, models.BatchFinished)
	assert.Equal(t, []string{"a@x.test"}, h.srv.Recipients())
}

func TestEditSchedule_RejectedOnceActivated(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	id, err := h.svc.ScheduleBatch(ctx, "acme", "", scheduleReq("+00:00", "2026-03-11 09:00:00", "a@x.test"))
	require.NoError(t, err)
	require.False(t, h.svc.sched.Armed("acme", id))

	activateOnRead(t, h)
	_, err = h.svc.EditSchedule(ctx, "acme", id)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	h.waitStatus(t, id, models.BatchFinished)
}

func TestActivate_StorageOutageKeepsSchedulePending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	id, err := h.svc.ScheduleBatch(ctx, "acme", "", scheduleReq("+00:00", "2026-03-11 09:00:00", "a@x.test"))
	require.NoError(t, err)

	h.svc.profiles.Remove("acme", 7)
	h.store.mu.Lock()
	h.store.failProfiles = errors.New("connection refused")
	h.store.mu.Unlock()

	err = h.svc.Activate(ctx, h.store.schedule("acme", id))
	assert.ErrorIs(t, err, ErrProcessing)
	assert.Equal(t, models.BatchPending, h.store.schedule("acme", id).Status)
	assert.Zero(t, h.store.count())
}
