package pharmacy

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-his/meridian-his/internal/platform/httpx"
	"github.com/meridian-his/meridian-his/internal/shared"
)

// Handler wires HTTP endpoints for the stock ledger.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers pharmacy routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/batches", h.overview)
	r.Post("/batches", h.stockIn)
	r.Get("/batches/{id}", h.getBatch)
	r.Post("/batches/{id}/adjust", h.adjust)
	r.Delete("/batches/{id}", h.deleteBatch)
	r.Get("/batches/{id}/ledger", h.ledger)
}

type stockInRequest struct {
	BatchCode  string     `json:"batch_code" validate:"required"`
	MedicineID int64      `json:"medicine_id"`
	Quantity   int64      `json:"quantity" validate:"required,gt=0"`
	ExpiryDate *time.Time `json:"expiry_date"`
	ReceivedAt *time.Time `json:"received_at"`
	ActorID    int64      `json:"actor_id" validate:"required"`
	Reason     string     `json:"reason" validate:"required"`
	RequestID  string     `json:"request_id"`
}

func (h *Handler) stockIn(w http.ResponseWriter, r *http.Request) {
	var req stockInRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := StockInInput{
		BatchCode:  req.BatchCode,
		MedicineID: req.MedicineID,
		Quantity:   req.Quantity,
		ActorID:    req.ActorID,
		Reason:     req.Reason,
		RequestID:  req.RequestID,
	}
	if req.ExpiryDate != nil {
		input.ExpiryDate = *req.ExpiryDate
	}
	if req.ReceivedAt != nil {
		input.ReceivedAt = *req.ReceivedAt
	}
	batch, err := h.service.StockIn(r.Context(), input)
	if err != nil {
		h.logger.Error("stock in", slog.Any("error", err), slog.String("batch_code", req.BatchCode))
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, batch)
}

type adjustRequest struct {
	NewQuantity int64  `json:"new_quantity" validate:"gte=0"`
	ActorID     int64  `json:"actor_id" validate:"required"`
	Reason      string `json:"reason" validate:"required"`
}

func (h *Handler) adjust(w http.ResponseWriter, r *http.Request) {
	batchID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid batch id")
		return
	}
	var req adjustRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	batch, err := h.service.Adjust(r.Context(), AdjustInput{
		BatchID:     batchID,
		NewQuantity: req.NewQuantity,
		ActorID:     req.ActorID,
		Reason:      req.Reason,
	})
	if err != nil {
		h.logger.Error("adjust stock", slog.Any("error", err), slog.Int64("batch_id", batchID))
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, batch)
}

type deleteRequest struct {
	ActorID int64  `json:"actor_id" validate:"required"`
	Reason  string `json:"reason" validate:"required"`
}

func (h *Handler) deleteBatch(w http.ResponseWriter, r *http.Request) {
	batchID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid batch id")
		return
	}
	var req deleteRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	drained, err := h.service.DeleteBatch(r.Context(), DeleteInput{
		BatchID: batchID,
		ActorID: req.ActorID,
		Reason:  req.Reason,
	})
	if err != nil {
		h.logger.Error("delete batch", slog.Any("error", err), slog.Int64("batch_id", batchID))
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"batch_id": batchID, "drained": drained})
}

func (h *Handler) getBatch(w http.ResponseWriter, r *http.Request) {
	batchID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid batch id")
		return
	}
	batch, err := h.service.GetBatch(r.Context(), batchID)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, batch)
}

func (h *Handler) overview(w http.ResponseWriter, r *http.Request) {
	levels, err := h.service.Overview(r.Context())
	if err != nil {
		h.logger.Error("stock overview", slog.Any("error", err))
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"levels": levels})
}

func (h *Handler) ledger(w http.ResponseWriter, r *http.Request) {
	batchID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid batch id")
		return
	}
	filter := LedgerFilter{}
	if v := r.URL.Query().Get("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.From = t
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.To = t
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		filter.Limit, _ = strconv.Atoi(v)
	}
	entries, err := h.service.Ledger(r.Context(), batchID, filter)
	if err != nil {
		h.logger.Error("stock ledger", slog.Any("error", err), slog.Int64("batch_id", batchID))
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *Handler) respondErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrBatchNotFound), errors.Is(err, shared.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "batch not found")
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrActorRequired), errors.Is(err, shared.ErrInvalidArgument):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrDuplicateBatchCode), errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		httpx.RespondError(w, err)
	}
}
