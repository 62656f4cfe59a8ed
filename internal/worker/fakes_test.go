package worker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"BatchSend/internal/email"
	"BatchSend/internal/email/smtptest"
	"BatchSend/internal/lanes"
	"BatchSend/internal/models"
	"BatchSend/internal/profiles"
)

// memStore keeps batch statuses and recipient flags in memory.
type memStore struct {
	mu       sync.Mutex
	statuses map[string][]models.BatchStatus
	flags    map[string]map[int64]models.RecipientEntry
	dropped  map[string]bool
}

func newMemStore() *memStore {
	return &memStore{
		statuses: map[string][]models.BatchStatus{},
		flags:    map[string]map[int64]models.RecipientEntry{},
		dropped:  map[string]bool{},
	}
}

func (s *memStore) seed(batchID string, entries []models.RecipientEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := map[int64]models.RecipientEntry{}
	for _, e := range entries {
		e.Flag = models.FlagPending
		m[e.MsgID] = e
	}
	s.flags[batchID] = m
}

func (s *memStore) UpdateBatchStatus(_ context.Context, _, batchID string, status models.BatchStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[batchID] = append(s.statuses[batchID], status)
	return nil
}

func (s *memStore) ApplyFlags(_ context.Context, _, batchID string, entries []models.RecipientEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		cur := s.flags[batchID][e.MsgID]
		cur.Flag = e.Flag
		s.flags[batchID][e.MsgID] = cur
	}
	return nil
}

func (s *memStore) DropRecipients(_ context.Context, _, batchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropped[batchID] = true
	return nil
}

func (s *memStore) lastStatus(batchID string) models.BatchStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.statuses[batchID]
	if len(st) == 0 {
		return ""
	}
	return st[len(st)-1]
}

func (s *memStore) isDropped(batchID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped[batchID]
}

func (s *memStore) withFlag(batchID string, flag models.Flag) []models.RecipientEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.RecipientEntry
	for _, e := range s.flags[batchID] {
		if e.Flag == flag {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MsgID < out[j].MsgID })
	return out
}

// memLanes records reports and webhooks in submission order.
type memLanes struct {
	mu       sync.Mutex
	reports  []models.ReportEntry
	webhooks []models.DeliverResponse
}

func (l *memLanes) SubmitReport(_ string, e models.ReportEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reports = append(l.reports, e)
}

func (l *memLanes) SubmitWebhook(_ string, d models.DeliverResponse) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.webhooks = append(l.webhooks, d)
}

func (l *memLanes) reportRecipients() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.reports))
	for _, r := range l.reports {
		out = append(out, r.Recipient)
	}
	return out
}

type harness struct {
	srv   *smtptest.Server
	store *memStore
	lanes *memLanes
	reg   *Registry
	deps  Deps
	prof  *profiles.Profile
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	srv, err := smtptest.NewServer()
	require.NoError(t, err)
	t.Cleanup(srv.Close)

	store := newMemStore()
	ml := &memLanes{}

	cache := profiles.NewCache(nil)
	prof, _ := cache.Put(models.SMTPProfile{
		ID:         7,
		SystemID:   "acme",
		Host:       srv.Host,
		Port:       srv.Port,
		User:       "sender@acme.test",
		Password:   "secret",
		Encryption: models.EncryptionNone,
		Verified:   true,
	})

	return &harness{
		srv:   srv,
		store: store,
		lanes: ml,
		reg:   NewRegistry(),
		prof:  prof,
		deps: Deps{
			Dialer:    SMTPDialer{Sender: &email.Sender{DialTimeout: time.Second, IOTimeout: 5 * time.Second}},
			Store:     store,
			Flags:     store,
			Lanes:     ml,
			LaneOpts:  lanes.Options{PollInterval: 5 * time.Millisecond},
			RetryWait: 20 * time.Millisecond,
			Log:       zap.NewNop(),
		},
	}
}

func (h *harness) batch(id string, n int) (models.Batch, []models.RecipientEntry) {
	entries := make([]models.RecipientEntry, n)
	for i := range entries {
		entries[i] = models.RecipientEntry{
			MsgID:     int64(i + 1),
			Recipient: fmt.Sprintf("r%d@x.test", i+1),
			Flag:      models.FlagPending,
		}
	}
	h.store.seed(id, entries)

	return models.Batch{
		ID:              id,
		SystemID:        "acme",
		SMTPID:          7,
		Subject:         "Hello",
		Body:            "Body",
		TotalRecipients: n,
		Status:          models.BatchActive,
		Type:            models.BatchImmediate,
		CreatedAt:       time.Now(),
	}, entries
}

func (h *harness) spawn(t *testing.T, b models.Batch, pending []models.RecipientEntry) *Dispatcher {
	t.Helper()
	d, err := New(b, pending, h.prof, h.deps)
	require.NoError(t, err)
	require.True(t, h.reg.Spawn(d))
	return d
}

func waitDone(t *testing.T, d *Dispatcher) {
	t.Helper()
	select {
	case <-d.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
}
