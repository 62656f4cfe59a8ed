package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"BatchSend/internal/db"
	"BatchSend/internal/email"
	"BatchSend/internal/email/smtptest"
	"BatchSend/internal/idgen"
	"BatchSend/internal/lanes"
	"BatchSend/internal/models"
	"BatchSend/internal/profiles"
	"BatchSend/internal/scheduler"
	"BatchSend/internal/worker"
)

func key(tenant, id string) string { return tenant + "/" + id }

type recipientTable struct {
	entries []models.RecipientEntry
}

// memStore is an in-memory Store and profile loader.
type memStore struct {
	mu sync.Mutex

	order      []string
	batches    map[string]models.Batch
	recipients map[string]*recipientTable
	dropped    map[string]bool

	schedules       map[string]models.ScheduledBatch
	schedRecipients map[string]string

	profiles map[string]models.SMTPProfile

	failCreate       error
	failProfiles     error
	afterGetSchedule func(sb models.ScheduledBatch)
}

func newMemStore() *memStore {
	return &memStore{
		batches:         map[string]models.Batch{},
		recipients:      map[string]*recipientTable{},
		dropped:         map[string]bool{},
		schedules:       map[string]models.ScheduledBatch{},
		schedRecipients: map[string]string{},
		profiles:        map[string]models.SMTPProfile{},
	}
}

func profileKey(tenant string, id int64) string {
	return fmt.Sprintf("%s/%d", tenant, id)
}

func (s *memStore) putProfile(p models.SMTPProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[profileKey(p.SystemID, p.ID)] = p
}

func (s *memStore) deleteProfile(tenant string, id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.profiles, profileKey(tenant, id))
}

func (s *memStore) GetProfile(_ context.Context, tenant string, id int64) (models.SMTPProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failProfiles != nil {
		return models.SMTPProfile{}, s.failProfiles
	}
	p, ok := s.profiles[profileKey(tenant, id)]
	if !ok {
		return p, db.ErrNotFound
	}
	return p, nil
}

func (s *memStore) SetProfileVerified(_ context.Context, tenant string, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := profileKey(tenant, id)
	p, ok := s.profiles[k]
	if !ok {
		return db.ErrNotFound
	}
	p.Verified = true
	s.profiles[k] = p
	return nil
}

func (s *memStore) ListProfiles(context.Context) ([]models.SMTPProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.SMTPProfile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, p)
	}
	return out, nil
}

func (s *memStore) seedBatch(b models.Batch, entries []models.RecipientEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertLocked(b, entries)
}

func (s *memStore) insertLocked(b models.Batch, entries []models.RecipientEntry) {
	k := key(b.SystemID, b.ID)
	s.order = append(s.order, k)
	s.batches[k] = b
	s.recipients[k] = &recipientTable{entries: append([]models.RecipientEntry(nil), entries...)}
}

func (s *memStore) CreateBatch(_ context.Context, b models.Batch, entries []models.RecipientEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCreate != nil {
		return s.failCreate
	}
	s.insertLocked(b, entries)
	return nil
}

func (s *memStore) GetBatch(_ context.Context, tenant, batchID string) (models.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[key(tenant, batchID)]
	if !ok {
		return b, db.ErrNotFound
	}
	return b, nil
}

func (s *memStore) UpdateBatchStatus(_ context.Context, tenant, batchID string, status models.BatchStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(tenant, batchID)
	b := s.batches[k]
	b.Status = status
	s.batches[k] = b
	return nil
}

func (s *memStore) UpdateBatchContent(_ context.Context, b models.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(b.SystemID, b.ID)
	if _, ok := s.batches[k]; !ok {
		return db.ErrNotFound
	}
	s.batches[k] = b
	return nil
}

func (s *memStore) ListBatches(_ context.Context, tenant string, f models.BatchFilter) ([]models.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Batch
	for _, k := range s.order {
		b := s.batches[k]
		if b.SystemID != tenant || (f.Status != "" && b.Status != f.Status) {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

func (s *memStore) BatchesByStatus(_ context.Context, status models.BatchStatus) ([]models.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Batch
	for _, k := range s.order {
		if b := s.batches[k]; b.Status == status {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *memStore) PendingRecipients(_ context.Context, tenant, batchID string) ([]models.RecipientEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.recipients[key(tenant, batchID)]
	if !ok {
		return nil, errors.New("recipient table does not exist")
	}
	var out []models.RecipientEntry
	for _, e := range t.entries {
		if e.Flag == models.FlagPending {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MsgID < out[j].MsgID })
	return out, nil
}

func (s *memStore) CountPending(ctx context.Context, tenant, batchID string) (int, error) {
	s.mu.Lock()
	_, ok := s.recipients[key(tenant, batchID)]
	s.mu.Unlock()
	if !ok {
		return 0, nil
	}
	pending, err := s.PendingRecipients(ctx, tenant, batchID)
	return len(pending), err
}

func (s *memStore) ApplyFlags(_ context.Context, tenant, batchID string, entries []models.RecipientEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.recipients[key(tenant, batchID)]
	if !ok {
		return errors.New("recipient table does not exist")
	}
	for _, e := range entries {
		for i := range t.entries {
			if t.entries[i].MsgID == e.MsgID {
				t.entries[i].Flag = e.Flag
			}
		}
	}
	return nil
}

func (s *memStore) DropRecipients(_ context.Context, tenant, batchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(tenant, batchID)
	delete(s.recipients, k)
	s.dropped[k] = true
	return nil
}

func (s *memStore) CreateSchedule(_ context.Context, sb models.ScheduledBatch, recipients string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules[key(sb.SystemID, sb.ID)] = sb
	s.schedRecipients[sb.ID] = recipients
	return nil
}

func (s *memStore) GetSchedule(_ context.Context, tenant, batchID string) (models.ScheduledBatch, error) {
	s.mu.Lock()
	sb, ok := s.schedules[key(tenant, batchID)]
	hook := s.afterGetSchedule
	s.mu.Unlock()
	if !ok {
		return sb, db.ErrNotFound
	}
	if hook != nil {
		hook(sb)
	}
	return sb, nil
}

// onGetSchedule runs fn after every schedule read, with the value that was
// read.
func (s *memStore) onGetSchedule(fn func(sb models.ScheduledBatch)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.afterGetSchedule = fn
}

func (s *memStore) UpdateSchedule(_ context.Context, sb models.ScheduledBatch, recipients string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(sb.SystemID, sb.ID)
	cur, ok := s.schedules[k]
	if !ok || cur.Status != models.BatchPending {
		return db.ErrNotFound
	}
	s.schedules[k] = sb
	if recipients != "" {
		s.schedRecipients[sb.ID] = recipients
	}
	return nil
}

func (s *memStore) AbortPendingSchedule(_ context.Context, tenant, batchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(tenant, batchID)
	sb, ok := s.schedules[k]
	if !ok || sb.Status != models.BatchPending {
		return db.ErrNotFound
	}
	sb.Status = models.BatchAborted
	s.schedules[k] = sb
	return nil
}

func (s *memStore) ScheduleRecipients(_ context.Context, batchID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.schedRecipients[batchID]
	if !ok {
		return "", db.ErrNotFound
	}
	return r, nil
}

func (s *memStore) ActivateSchedule(_ context.Context, b models.Batch, entries []models.RecipientEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(b.SystemID, b.ID)
	sb, ok := s.schedules[k]
	if !ok || sb.Status != models.BatchPending {
		return db.ErrNotFound
	}
	sb.Status = models.BatchFinished
	s.schedules[k] = sb
	s.insertLocked(b, entries)
	delete(s.schedRecipients, b.ID)
	return nil
}

func (s *memStore) ListSchedules(_ context.Context, tenant string, _ models.BatchFilter) ([]models.ScheduledBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ScheduledBatch
	for _, sb := range s.schedules {
		if sb.SystemID == tenant {
			out = append(out, sb)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServerTime.Before(out[j].ServerTime) })
	return out, nil
}

func (s *memStore) PendingSchedulesBetween(_ context.Context, from, to time.Time) ([]models.ScheduledBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ScheduledBatch
	for _, sb := range s.schedules {
		if sb.Status == models.BatchPending && !sb.ServerTime.Before(from) && sb.ServerTime.Before(to) {
			out = append(out, sb)
		}
	}
	return out, nil
}

func (s *memStore) batch(tenant, id string) models.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batches[key(tenant, id)]
}

func (s *memStore) schedule(tenant, id string) models.ScheduledBatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schedules[key(tenant, id)]
}

func (s *memStore) isDropped(tenant, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped[key(tenant, id)]
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

type nopLanes struct{}

func (nopLanes) SubmitReport(string, models.ReportEntry)      {}
func (nopLanes) SubmitWebhook(string, models.DeliverResponse) {}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

// noon is the fixed scheduler clock used by every test.
var noon = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type harness struct {
	srv   *smtptest.Server
	store *memStore
	svc   *Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	srv, err := smtptest.NewServer()
	require.NoError(t, err)
	t.Cleanup(srv.Close)

	store := newMemStore()
	store.putProfile(models.SMTPProfile{
		ID:         7,
		SystemID:   "acme",
		Host:       srv.Host,
		Port:       srv.Port,
		User:       "sender@acme.test",
		Password:   "secret",
		Encryption: models.EncryptionNone,
		Verified:   true,
	})

	ids, err := idgen.New(1)
	require.NoError(t, err)

	deps := worker.Deps{
		Dialer:    worker.SMTPDialer{Sender: &email.Sender{DialTimeout: time.Second, IOTimeout: 5 * time.Second}},
		Lanes:     nopLanes{},
		LaneOpts:  lanes.Options{PollInterval: 5 * time.Millisecond},
		RetryWait: 20 * time.Millisecond,
		Log:       zap.NewNop(),
	}

	svc := New(store, profiles.NewCache(store), worker.NewRegistry(), ids, deps, Options{
		AttachmentDir: t.TempDir(),
		Scheduler:     scheduler.Options{Clock: fixedClock{now: noon}, Location: time.UTC},
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})

	return &harness{srv: srv, store: store, svc: svc}
}

// firstSent returns a channel closed once the server accepts its first
// message.
func (h *harness) firstSent() <-chan struct{} {
	ch := make(chan struct{})
	var once sync.Once
	h.srv.OnData(func(smtptest.Message) smtptest.Reply {
		once.Do(func() { close(ch) })
		return smtptest.Reply{Code: 250, Text: "2.0.0 queued"}
	})
	return ch
}

func (h *harness) waitStatus(t *testing.T, id string, want models.BatchStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.store.batch("acme", id).Status == want && !h.svc.registry.Busy("acme", id)
	}, 5*time.Second, 10*time.Millisecond, "batch %s never reached %s", id, want)
}

func wait(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out")
	}
}

func entriesFor(recipients ...string) []models.RecipientEntry {
	out := make([]models.RecipientEntry, len(recipients))
	for i, r := range recipients {
		out[i] = models.RecipientEntry{MsgID: int64(i + 1), Recipient: r, Flag: models.FlagPending}
	}
	return out
}
