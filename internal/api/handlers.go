package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/maltedev/prothunter/internal/database"
	"github.com/maltedev/prothunter/internal/jobs"
	"github.com/maltedev/prothunter/internal/models"
	"github.com/maltedev/prothunter/internal/queue"
)

const (
	pendingWarnThreshold     = 1000
	deadLetterErrorThreshold = 100
)

// RunService queues runs and reports their status.
type RunService interface {
	Submit(trigger queue.Trigger) (jobs.Run, error)
	Get(id string) (jobs.Run, error)
	List() []jobs.Run
}

// PriceSource returns the latest known record of every product.
type PriceSource interface {
	Latest(ctx context.Context) ([]models.OutputRecord, error)
}

// OutboxStats is optional; it adds outbox backlog to the health report.
type OutboxStats interface {
	CountByStatus(ctx context.Context, statuses ...string) (int64, error)
}

type Handlers struct {
	runs   RunService
	prices PriceSource
	outbox OutboxStats
	logger *slog.Logger
}

func NewHandlers(runs RunService, prices PriceSource, outbox OutboxStats, logger *slog.Logger) *Handlers {
	return &Handlers{
		runs:   runs,
		prices: prices,
		outbox: outbox,
		logger: logger.With("component", "api"),
	}
}

// Health reports service status and, when available, the outbox backlog.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{"status": "ok"}
	status := http.StatusOK

	if h.outbox != nil {
		pending, err := h.outbox.CountByStatus(r.Context(), database.OutboxStatusPending, database.OutboxStatusFailed)
		if err != nil {
			h.logger.Error("failed to count pending events", "error", err)
			h.respondError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
		deadLetter, err := h.outbox.CountByStatus(r.Context(), database.OutboxStatusDeadLetter)
		if err != nil {
			h.logger.Error("failed to count dead letter events", "error", err)
			h.respondError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}

		health["outbox"] = map[string]interface{}{
			"pending":     pending,
			"dead_letter": deadLetter,
		}
		if pending > pendingWarnThreshold {
			health["status"] = "warning"
			health["message"] = "High number of pending outbox events"
		}
		if deadLetter > deadLetterErrorThreshold {
			health["status"] = "error"
			health["message"] = "High number of dead letter events"
			status = http.StatusServiceUnavailable
		}
	}

	h.respondJSON(w, status, health)
}

// PriceView is a stored record with the values derived from it.
type PriceView struct {
	models.OutputRecord
	PricePerKg          float64 `json:"price_per_kg"`
	PricePer100gProtein float64 `json:"price_per_100g_protein"`
	Badge               string  `json:"badge,omitempty"`
}

func newPriceView(rec models.OutputRecord) PriceView {
	return PriceView{
		OutputRecord:        rec,
		PricePerKg:          rec.PricePerKg(),
		PricePer100gProtein: rec.PricePer100gProtein(),
		Badge:               rec.Badge(),
	}
}

var priceOrders = map[string]func(a, b PriceView) bool{
	"price_asc": func(a, b PriceView) bool {
		return a.Price < b.Price
	},
	"purity_desc": func(a, b PriceView) bool {
		return a.ProteinPercent > b.ProteinPercent
	},
	// unknown protein cost sorts last
	"real_value": func(a, b PriceView) bool {
		if a.PricePer100gProtein == 0 || b.PricePer100gProtein == 0 {
			return b.PricePer100gProtein == 0 && a.PricePer100gProtein != 0
		}
		return a.PricePer100gProtein < b.PricePer100gProtein
	},
}

// ListPrices returns the latest record set, in stored order unless a sort
// query parameter (price_asc, purity_desc, real_value) is given.
func (h *Handlers) ListPrices(w http.ResponseWriter, r *http.Request) {
	var less func(a, b PriceView) bool
	if order := r.URL.Query().Get("sort"); order != "" {
		var ok bool
		if less, ok = priceOrders[order]; !ok {
			h.respondError(w, http.StatusBadRequest, "unsupported sort order")
			return
		}
	}

	records, err := h.prices.Latest(r.Context())
	if err != nil {
		h.logger.Error("failed to load prices", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to load prices")
		return
	}

	views := make([]PriceView, 0, len(records))
	for _, rec := range records {
		views = append(views, newPriceView(rec))
	}
	if less != nil {
		sort.SliceStable(views, func(i, j int) bool { return less(views[i], views[j]) })
	}

	h.respondJSON(w, http.StatusOK, views)
}

// CreateRunResponse represents the run creation response
type CreateRunResponse struct {
	RunID   string      `json:"run_id"`
	Status  jobs.Status `json:"status"`
	Message string      `json:"message"`
}

// CreateRun queues a manual run.
func (h *Handlers) CreateRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.runs.Submit(queue.TriggerManual)
	if err != nil {
		h.logger.Error("failed to queue run", "error", err)
		if errors.Is(err, queue.ErrQueueClosed) {
			h.respondError(w, http.StatusServiceUnavailable, "shutting down")
			return
		}
		h.respondError(w, http.StatusInternalServerError, "failed to queue run")
		return
	}

	h.respondJSON(w, http.StatusAccepted, CreateRunResponse{
		RunID:   run.ID,
		Status:  run.Status,
		Message: "Run queued",
	})
}

// GetRun handles run status retrieval
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if runID == "" {
		h.respondError(w, http.StatusBadRequest, "run ID is required")
		return
	}

	run, err := h.runs.Get(runID)
	if err != nil {
		h.respondError(w, http.StatusNotFound, "run not found")
		return
	}

	h.respondJSON(w, http.StatusOK, run)
}

func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.runs.List())
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
