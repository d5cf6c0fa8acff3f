package publish

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"panelwatch/internal/components/telemetry"
	"panelwatch/internal/store"
	"panelwatch/internal/withdrawal"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

const (
	report_http_decide    = "http.decide"
	report_http_decisions = "http.decisions"
	report_http_encode    = "http.encode"
)

const (
	defaultDecisionLimit = 50
	maxDecisionLimit     = 500
)

// Decider approves or rejects withdrawals on the panel.
type Decider interface {
	Approve(ctx context.Context, id string) error
	Reject(ctx context.Context, id, reason string) error
}

type Handler struct {
	board     *Board
	tel       telemetry.API
	decider   Decider
	decisions store.DecisionLog
	shutdown  func()
}

type HandlerOptions struct {
	// Decider is optional, decision routes answer 503 without one.
	Decider Decider
	// Decisions is optional, decisions are not recorded without one.
	Decisions store.DecisionLog
	// Shutdown is called once per POST /api/shutdown.
	Shutdown func()
}

func NewHandler(board *Board, tel telemetry.API, opts HandlerOptions) *Handler {
	return &Handler{
		board:     board,
		tel:       telemetry.NewScopedAPI("http", tel),
		decider:   opts.Decider,
		decisions: opts.Decisions,
		shutdown:  opts.Shutdown,
	}
}

func (h *Handler) Router() *chi.Mux {
	r := chi.NewMux()

	r.Get("/health", h.Health)
	r.Route("/api", func(r chi.Router) {
		r.Get("/status", h.Status)
		r.Route("/withdrawals", func(r chi.Router) {
			r.Get("/", h.Withdrawals)
			r.Post("/{id}/approve", h.Approve)
			r.Post("/{id}/reject", h.Reject)
		})
		r.Get("/decisions", h.Decisions)
		r.Post("/shutdown", h.Shutdown)
	})
	return r
}

func (h *Handler) writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	err := json.NewEncoder(w).Encode(body)
	if err != nil {
		h.tel.ReportWarning(report_http_encode, err)
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type countTotal struct {
	Count int             `json:"count"`
	Total decimal.Decimal `json:"total"`
}

type statusResponse struct {
	Status              Tag                              `json:"status"`
	Message             string                           `json:"message,omitempty"`
	Phase               string                           `json:"phase"`
	ConsecutiveFailures int                              `json:"consecutive_failures"`
	LastScan            *time.Time                       `json:"last_scan"`
	ScanCount           int                              `json:"scan_count"`
	UpdatedAt           time.Time                        `json:"updated_at"`
	Buckets             map[withdrawal.Status]countTotal `json:"buckets"`
	Errors              []string                         `json:"errors"`
}

func lastScan(s Snapshot) *time.Time {
	if s.LastScan.IsZero() {
		return nil
	}
	t := s.LastScan
	return &t
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	snapshot := h.board.Current()

	buckets := make(map[withdrawal.Status]countTotal, len(withdrawal.Statuses))
	for _, summary := range snapshot.Summaries() {
		buckets[summary.Status] = countTotal{Count: summary.Count, Total: summary.Total}
	}

	h.writeJSON(w, http.StatusOK, statusResponse{
		Status:              snapshot.Tag,
		Message:             snapshot.Message,
		Phase:               snapshot.Phase,
		ConsecutiveFailures: snapshot.ConsecutiveFailures,
		LastScan:            lastScan(snapshot),
		ScanCount:           snapshot.ScanCount,
		UpdatedAt:           snapshot.UpdatedAt,
		Buckets:             buckets,
		Errors:              snapshot.Errors,
	})
}

type bucketItems struct {
	Count         int                 `json:"count"`
	Total         decimal.Decimal     `json:"total"`
	Items         []withdrawal.Record `json:"items"`
	Failed        bool                `json:"failed,omitempty"`
	Error         string              `json:"error,omitempty"`
	CountMismatch bool                `json:"count_mismatch,omitempty"`
}

type withdrawalsResponse struct {
	ScanID   string                            `json:"scan_id,omitempty"`
	LastScan *time.Time                        `json:"last_scan"`
	Buckets  map[withdrawal.Status]bucketItems `json:"buckets"`
}

func (h *Handler) Withdrawals(w http.ResponseWriter, r *http.Request) {
	snapshot := h.board.Current()

	res := withdrawalsResponse{
		LastScan: lastScan(snapshot),
		Buckets:  make(map[withdrawal.Status]bucketItems, len(withdrawal.Statuses)),
	}
	for _, status := range withdrawal.Statuses {
		res.Buckets[status] = bucketItems{Total: decimal.Zero, Items: []withdrawal.Record{}}
	}
	if snapshot.Result != nil {
		res.ScanID = snapshot.Result.ID
		for _, b := range snapshot.Result.Buckets {
			res.Buckets[b.Status] = bucketItems{
				Count:         b.DeclaredCount,
				Total:         b.SumAmount,
				Items:         b.Records,
				Failed:        b.Failed,
				Error:         b.Error,
				CountMismatch: b.CountMismatch,
			}
		}
	}

	h.writeJSON(w, http.StatusOK, res)
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, store.ActionApprove, "")
}

func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.decide(w, r, store.ActionReject, req.Reason)
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request, action store.DecisionAction, reason string) {
	if h.decider == nil {
		http.Error(w, "panel api is not configured", http.StatusServiceUnavailable)
		return
	}
	id := chi.URLParam(r, "id")
	if id == "" {
		http.Error(w, "missing withdrawal id", http.StatusBadRequest)
		return
	}

	var err error
	switch action {
	case store.ActionApprove:
		err = h.decider.Approve(r.Context(), id)
	case store.ActionReject:
		err = h.decider.Reject(r.Context(), id, reason)
	}

	decision := store.Decision{
		WithdrawalID: id,
		Action:       action,
		Reason:       reason,
		Success:      err == nil,
		CreatedAt:    h.board.clock.Now(),
	}
	if snapshot := h.board.Current(); snapshot.Result != nil {
		if rec, ok := snapshot.Result.FindRecord(id); ok {
			decision.Username = rec.Username
			decision.Amount = rec.AmountText
		}
	}
	if err != nil {
		decision.Error = err.Error()
		h.tel.ReportWarning(report_http_decide, err, telemetry.KV{Key: "withdrawal", Value: id})
	}

	if h.decisions != nil {
		recordErr := h.decisions.RecordDecision(r.Context(), decision)
		if recordErr != nil {
			h.tel.ReportBroken(report_http_decide, recordErr)
		}
	}

	if err != nil {
		h.writeJSON(w, http.StatusBadGateway, decision)
		return
	}
	h.writeJSON(w, http.StatusOK, decision)
}

func (h *Handler) Decisions(w http.ResponseWriter, r *http.Request) {
	if h.decisions == nil {
		http.Error(w, "decision log is not configured", http.StatusServiceUnavailable)
		return
	}

	limit := defaultDecisionLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(parsed, maxDecisionLimit)
	}

	decisions, err := h.decisions.ListDecisions(r.Context(), limit)
	if err != nil {
		h.tel.ReportBroken(report_http_decisions, err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if decisions == nil {
		decisions = []store.Decision{}
	}
	h.writeJSON(w, http.StatusOK, decisions)
}

func (h *Handler) Shutdown(w http.ResponseWriter, r *http.Request) {
	if h.shutdown == nil {
		http.Error(w, "shutdown is not available", http.StatusServiceUnavailable)
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
	h.shutdown()
}
