// Package service implements the batch and schedule operations exposed to
// clients, and ties dispatchers, the scheduler and profile events together.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"BatchSend/internal/csvparser"
	"BatchSend/internal/idgen"
	"BatchSend/internal/models"
	"BatchSend/internal/profiles"
	"BatchSend/internal/scheduler"
	"BatchSend/internal/worker"
)

// Store is the durable state the service reads and writes.
type Store interface {
	CreateBatch(ctx context.Context, b models.Batch, entries []models.RecipientEntry) error
	GetBatch(ctx context.Context, tenant, batchID string) (models.Batch, error)
	UpdateBatchStatus(ctx context.Context, tenant, batchID string, status models.BatchStatus) error
	UpdateBatchContent(ctx context.Context, b models.Batch) error
	ListBatches(ctx context.Context, tenant string, f models.BatchFilter) ([]models.Batch, error)
	BatchesByStatus(ctx context.Context, status models.BatchStatus) ([]models.Batch, error)

	PendingRecipients(ctx context.Context, tenant, batchID string) ([]models.RecipientEntry, error)
	CountPending(ctx context.Context, tenant, batchID string) (int, error)
	ApplyFlags(ctx context.Context, tenant, batchID string, entries []models.RecipientEntry) error
	DropRecipients(ctx context.Context, tenant, batchID string) error

	CreateSchedule(ctx context.Context, sb models.ScheduledBatch, recipients string) error
	GetSchedule(ctx context.Context, tenant, batchID string) (models.ScheduledBatch, error)
	UpdateSchedule(ctx context.Context, sb models.ScheduledBatch, recipients string) error
	AbortPendingSchedule(ctx context.Context, tenant, batchID string) error
	ScheduleRecipients(ctx context.Context, batchID string) (string, error)
	ActivateSchedule(ctx context.Context, b models.Batch, entries []models.RecipientEntry) error
	ListSchedules(ctx context.Context, tenant string, f models.BatchFilter) ([]models.ScheduledBatch, error)
	PendingSchedulesBetween(ctx context.Context, from, to time.Time) ([]models.ScheduledBatch, error)
	SetProfileVerified(ctx context.Context, tenant string, id int64) error
}

type Options struct {
	// AttachmentDir is where submitted attachments are copied, under
	// <tenant>/<batch id>.
	AttachmentDir string
	Scheduler     scheduler.Options
}

type Service struct {
	store    Store
	profiles *profiles.Cache
	registry *worker.Registry
	deps     worker.Deps
	ids      *idgen.Generator
	sched    *scheduler.Scheduler

	attachDir string
	loc       *time.Location
	log       *zap.Logger
}

// New wires the service. deps.Store and deps.Flags default to store.
func New(
	store Store,
	profs *profiles.Cache,
	registry *worker.Registry,
	ids *idgen.Generator,
	deps worker.Deps,
	opts Options,
) *Service {
	if deps.Store == nil {
		deps.Store = store
	}
	if deps.Flags == nil {
		deps.Flags = store
	}
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if opts.AttachmentDir == "" {
		opts.AttachmentDir = "attachments"
	}
	if opts.Scheduler.Location == nil {
		opts.Scheduler.Location = time.Local
	}
	if opts.Scheduler.Log == nil {
		opts.Scheduler.Log = deps.Log
	}

	s := &Service{
		store:     store,
		profiles:  profs,
		registry:  registry,
		deps:      deps,
		ids:       ids,
		attachDir: opts.AttachmentDir,
		loc:       opts.Scheduler.Location,
		log:       deps.Log.With(zap.String("component", "service")),
	}
	s.sched = scheduler.New(store, s.Activate, opts.Scheduler)
	return s
}

// Start recovers batches left ACTIVE by a previous run and arms today's
// schedules.
func (s *Service) Start(ctx context.Context) error {
	if _, err := s.Recover(ctx); err != nil {
		return err
	}
	return s.sched.Start(ctx)
}

// spawn builds and registers a dispatcher for b.
func (s *Service) spawn(b models.Batch, pending []models.RecipientEntry, prof *profiles.Profile) error {
	d, err := worker.New(b, pending, prof, s.deps)
	if err != nil {
		return err
	}
	if !s.registry.Spawn(d) {
		return errors.New("batch is already running")
	}
	return nil
}

// lookupProfile returns the profile handle. A profile missing from storage
// is an invalid request, any other failure a processing error.
func (s *Service) lookupProfile(ctx context.Context, tenant string, id int64) (*profiles.Profile, error) {
	prof, err := s.profiles.Resolve(ctx, tenant, id)
	if errors.Is(err, profiles.ErrMissing) {
		return nil, invalid("smtp profile %d not found", id)
	}
	if err != nil {
		return nil, processing(err, "load smtp profile %d", id)
	}
	return prof, nil
}

// resolveProfile is lookupProfile restricted to verified profiles.
func (s *Service) resolveProfile(ctx context.Context, tenant string, id int64) (*profiles.Profile, error) {
	prof, err := s.lookupProfile(ctx, tenant, id)
	if err != nil {
		return nil, err
	}
	if err := prof.Usable(); err != nil {
		return nil, invalid("smtp profile %d is not verified", id)
	}
	return prof, nil
}

// waitStopped blocks until d has torn down or ctx ends.
func waitStopped(ctx context.Context, d *worker.Dispatcher) error {
	select {
	case <-d.Done():
		return nil
	case <-ctx.Done():
		return processing(ctx.Err(), "batch %s is still stopping", d.BatchID())
	}
}

var (
	emailPattern    = regexp.MustCompile(`^[A-Za-z0-9+_.-]+@[A-Za-z0-9.-]+$`)
	unsafeFileChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)
)

// collectRecipients gathers the request's recipients in submission order,
// skipping anything that is not a plain address.
func (s *Service) collectRecipients(req BatchRequest, log *zap.Logger) ([]string, error) {
	raw := append([]string(nil), req.Recipients...)

	if strings.TrimSpace(req.RecipientsCSV) != "" {
		rows, err := csvparser.ParseRecipientRows(strings.NewReader(req.RecipientsCSV), 0)
		if err != nil {
			return nil, invalid("recipients csv: %v", err)
		}
		raw = append(raw, csvparser.Emails(rows)...)
	}
	if req.RecipientsFile != "" {
		rows, err := csvparser.ParseFile(req.RecipientsFile, 0)
		if err != nil {
			return nil, invalid("recipients file: %v", err)
		}
		raw = append(raw, csvparser.Emails(rows)...)
	}

	return filterRecipients(raw, log), nil
}

func filterRecipients(raw []string, log *zap.Logger) []string {
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if !emailPattern.MatchString(r) {
			log.Warn("invalid recipient skipped", zap.String("recipient", r))
			continue
		}
		out = append(out, r)
	}
	return out
}

// entries pairs every recipient with a fresh message id.
func (s *Service) entries(recipients []string) []models.RecipientEntry {
	ids := s.ids.MsgIDs(len(recipients))
	out := make([]models.RecipientEntry, len(recipients))
	for i, r := range recipients {
		out[i] = models.RecipientEntry{MsgID: ids[i], Recipient: r, Flag: models.FlagPending}
	}
	return out
}

// jsonList encodes a list for storage; an empty list is stored as "".
func jsonList(items []string) string {
	if len(items) == 0 {
		return ""
	}
	b, _ := json.Marshal(items)
	return string(b)
}

// stageAttachments copies the given files into the batch's attachment
// directory and returns the stored paths as a JSON list. Unreadable files
// are logged and skipped.
func (s *Service) stageAttachments(tenant, batchID string, paths []string, log *zap.Logger) string {
	if len(paths) == 0 {
		return ""
	}

	dir := filepath.Join(s.attachDir, strings.ToLower(tenant), batchID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Error("attachment directory not created", zap.String("dir", dir), zap.Error(err))
		return ""
	}

	stored := make([]string, 0, len(paths))
	for _, p := range paths {
		name := filepath.Base(strings.TrimSpace(p))
		if name == "." || name == string(filepath.Separator) || name == "" {
			name = "file_" + time.Now().Format("20060102150405.000")
		}
		dst := filepath.Join(dir, unsafeFileChars.ReplaceAllString(name, "_"))

		if err := copyFile(p, dst); err != nil {
			log.Warn("attachment skipped", zap.String("path", p), zap.Error(err))
			continue
		}
		log.Info("attachment added", zap.String("path", dst))
		stored = append(stored, dst)
	}
	return jsonList(stored)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
