// Package api exposes the batch and schedule operations over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"BatchSend/internal/models"
	"BatchSend/internal/service"
)

// TenantHeader carries the calling tenant's system id.
const TenantHeader = "X-System-Id"

// Service is what the handler needs from the service layer.
type Service interface {
	CreateBatch(ctx context.Context, tenant, ip string, req service.BatchRequest) (string, error)
	EditBatch(ctx context.Context, tenant, batchID string) (models.BatchSnapshot, error)
	UpdateBatch(ctx context.Context, tenant, ip string, req service.UpdateRequest) error
	PauseBatch(ctx context.Context, tenant, batchID string) error
	AbortBatch(ctx context.Context, tenant, batchID string) error
	ResumeBatch(ctx context.Context, tenant, batchID string) error
	ListBatches(ctx context.Context, tenant string, f models.BatchFilter) ([]models.BatchSnapshot, error)

	ScheduleBatch(ctx context.Context, tenant, ip string, req service.ScheduleRequest) (string, error)
	EditSchedule(ctx context.Context, tenant, batchID string) (models.ScheduledBatch, error)
	UpdateSchedule(ctx context.Context, tenant, ip string, req service.ScheduleRequest) error
	AbortSchedule(ctx context.Context, tenant, batchID string) error
	ListSchedules(ctx context.Context, tenant string, f models.BatchFilter) ([]models.ScheduledBatch, error)

	SendTestEmail(ctx context.Context, tenant, ip string, req service.SandboxRequest) (models.EmailStatus, error)
}

type Handler struct {
	Service Service
	Log     *zap.Logger
}

// Routes registers every endpoint on a new mux.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /batches", h.CreateBatch)
	mux.HandleFunc("GET /batches", h.ListBatches)
	mux.HandleFunc("PUT /batches/{id}", h.UpdateBatch)
	mux.HandleFunc("POST /batches/{id}/edit", h.EditBatch)
	mux.HandleFunc("POST /batches/{id}/pause", h.batchAction(h.Service.PauseBatch))
	mux.HandleFunc("POST /batches/{id}/abort", h.batchAction(h.Service.AbortBatch))
	mux.HandleFunc("POST /batches/{id}/resume", h.batchAction(h.Service.ResumeBatch))

	mux.HandleFunc("POST /schedules", h.ScheduleBatch)
	mux.HandleFunc("GET /schedules", h.ListSchedules)
	mux.HandleFunc("PUT /schedules/{id}", h.UpdateSchedule)
	mux.HandleFunc("POST /schedules/{id}/edit", h.EditSchedule)
	mux.HandleFunc("POST /schedules/{id}/abort", h.batchAction(h.Service.AbortSchedule))

	mux.HandleFunc("POST /sandbox", h.SendTestEmail)

	return mux
}

func (h *Handler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.tenant(w, r)
	if !ok {
		return
	}

	var req service.BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, http.StatusBadRequest, err)
		return
	}

	id, err := h.Service.CreateBatch(r.Context(), tenant, clientIP(r), req)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"batch_id": id})
}

func (h *Handler) ListBatches(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.tenant(w, r)
	if !ok {
		return
	}
	f, err := parseFilter(r)
	if err != nil {
		h.fail(w, http.StatusBadRequest, err)
		return
	}

	list, err := h.Service.ListBatches(r.Context(), tenant, f)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) EditBatch(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.tenant(w, r)
	if !ok {
		return
	}
	snap, err := h.Service.EditBatch(r.Context(), tenant, r.PathValue("id"))
	if err != nil {
		h.serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) UpdateBatch(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.tenant(w, r)
	if !ok {
		return
	}

	var req service.UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, http.StatusBadRequest, err)
		return
	}
	req.BatchID = r.PathValue("id")

	if err := h.Service.UpdateBatch(r.Context(), tenant, clientIP(r), req); err != nil {
		h.serviceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ScheduleBatch(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.tenant(w, r)
	if !ok {
		return
	}

	var req service.ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, http.StatusBadRequest, err)
		return
	}

	id, err := h.Service.ScheduleBatch(r.Context(), tenant, clientIP(r), req)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"batch_id": id})
}

func (h *Handler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.tenant(w, r)
	if !ok {
		return
	}
	f, err := parseFilter(r)
	if err != nil {
		h.fail(w, http.StatusBadRequest, err)
		return
	}

	list, err := h.Service.ListSchedules(r.Context(), tenant, f)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) EditSchedule(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.tenant(w, r)
	if !ok {
		return
	}
	sb, err := h.Service.EditSchedule(r.Context(), tenant, r.PathValue("id"))
	if err != nil {
		h.serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sb)
}

func (h *Handler) UpdateSchedule(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.tenant(w, r)
	if !ok {
		return
	}

	var req service.ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, http.StatusBadRequest, err)
		return
	}
	req.BatchID = r.PathValue("id")

	if err := h.Service.UpdateSchedule(r.Context(), tenant, clientIP(r), req); err != nil {
		h.serviceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SendTestEmail answers with the classified reply once the message has been
// sent, so it blocks for a full SMTP round trip.
func (h *Handler) SendTestEmail(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.tenant(w, r)
	if !ok {
		return
	}

	var req service.SandboxRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, http.StatusBadRequest, err)
		return
	}

	status, err := h.Service.SendTestEmail(r.Context(), tenant, clientIP(r), req)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(status)})
}

// batchAction adapts an operation that only needs the tenant and the id in
// the path.
func (h *Handler) batchAction(op func(ctx context.Context, tenant, batchID string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant, ok := h.tenant(w, r)
		if !ok {
			return
		}
		if err := op(r.Context(), tenant, r.PathValue("id")); err != nil {
			h.serviceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handler) tenant(w http.ResponseWriter, r *http.Request) (string, bool) {
	tenant := strings.TrimSpace(r.Header.Get(TenantHeader))
	if tenant == "" {
		h.fail(w, http.StatusBadRequest, errors.New(TenantHeader+" header is required"))
		return "", false
	}
	return tenant, true
}

func (h *Handler) serviceError(w http.ResponseWriter, err error) {
	if errors.Is(err, service.ErrInvalidRequest) {
		h.fail(w, http.StatusBadRequest, err)
		return
	}
	h.Log.Error("request failed", zap.Error(err))
	h.fail(w, http.StatusInternalServerError, err)
}

func (h *Handler) fail(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// parseFilter reads status, from, to (RFC 3339 or YYYY-MM-DD) and limit.
func parseFilter(r *http.Request) (models.BatchFilter, error) {
	q := r.URL.Query()
	f := models.BatchFilter{Status: models.BatchStatus(strings.ToUpper(q.Get("status")))}

	var err error
	if f.From, err = parseDate(q.Get("from")); err != nil {
		return f, err
	}
	if f.To, err = parseDate(q.Get("to")); err != nil {
		return f, err
	}
	if v := q.Get("limit"); v != "" {
		if f.Limit, err = strconv.Atoi(v); err != nil || f.Limit < 0 {
			return f, errors.New("limit must be a non-negative integer")
		}
	}
	return f, nil
}

func parseDate(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, v, time.Local)
	if err != nil {
		return time.Time{}, errors.New("dates must be RFC 3339 or YYYY-MM-DD")
	}
	return t, nil
}
