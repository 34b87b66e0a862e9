package billing

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/meridian-his/meridian-his/internal/pharmacy"
	"github.com/meridian-his/meridian-his/internal/platform/httpx"
	"github.com/meridian-his/meridian-his/internal/shared"
)

// Handler wires HTTP endpoints for billing.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers billing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/bills", h.listBills)
	r.Post("/bills", h.openBill)
	r.Get("/bills/{id}", h.getBill)
	r.Put("/bills/{id}/fixed-charge", h.setFixedCharge)
	r.Post("/bills/{id}/items", h.addItem)
	r.Put("/bills/{id}/items/{itemID}", h.updateItem)
	r.Delete("/bills/{id}/items/{itemID}", h.removeItem)
	r.Post("/bills/{id}/settle", h.settle)
}

type openBillRequest struct {
	Kind        string          `json:"kind" validate:"required,oneof=ADMISSION OUTPATIENT"`
	OwnerID     int64           `json:"owner_id" validate:"required"`
	FixedCharge decimal.Decimal `json:"fixed_charge"`
	ActorID     int64           `json:"actor_id" validate:"required"`
}

func (h *Handler) openBill(w http.ResponseWriter, r *http.Request) {
	var req openBillRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	bill, err := h.service.OpenBill(r.Context(), OpenBillInput{
		Kind:        BillKind(req.Kind),
		OwnerID:     req.OwnerID,
		FixedCharge: req.FixedCharge,
		ActorID:     req.ActorID,
	})
	if err != nil {
		h.logger.Error("open bill", slog.Any("error", err), slog.Int64("owner_id", req.OwnerID))
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, bill)
}

func (h *Handler) listBills(w http.ResponseWriter, r *http.Request) {
	filters := ListFilters{
		Kind:   BillKind(r.URL.Query().Get("kind")),
		Status: BillStatus(r.URL.Query().Get("status")),
	}
	if v := r.URL.Query().Get("owner_id"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			filters.OwnerID = id
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filters.Limit = n
		}
	}
	bills, err := h.service.ListBills(r.Context(), filters)
	if err != nil {
		h.logger.Error("list bills", slog.Any("error", err))
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"bills": bills})
}

func (h *Handler) getBill(w http.ResponseWriter, r *http.Request) {
	billID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	details, err := h.service.GetBill(r.Context(), billID)
	if err != nil {
		h.logger.Error("get bill", slog.Any("error", err), slog.Int64("bill_id", billID))
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, details)
}

type fixedChargeRequest struct {
	FixedCharge decimal.Decimal `json:"fixed_charge"`
	ActorID     int64           `json:"actor_id" validate:"required"`
}

func (h *Handler) setFixedCharge(w http.ResponseWriter, r *http.Request) {
	billID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req fixedChargeRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	bill, err := h.service.SetFixedCharge(r.Context(), billID, req.FixedCharge, req.ActorID)
	if err != nil {
		h.logger.Error("set fixed charge", slog.Any("error", err), slog.Int64("bill_id", billID))
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, bill)
}

type addItemRequest struct {
	MedicineID int64           `json:"medicine_id" validate:"required"`
	BatchID    int64           `json:"batch_id" validate:"required"`
	Quantity   int64           `json:"quantity" validate:"required,gt=0"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	ActorID    int64           `json:"actor_id" validate:"required"`
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	billID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req addItemRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	item, err := h.service.AddDispenseToBill(r.Context(), AddItemInput{
		BillID:     billID,
		MedicineID: req.MedicineID,
		BatchID:    req.BatchID,
		Quantity:   req.Quantity,
		UnitPrice:  req.UnitPrice,
		ActorID:    req.ActorID,
	})
	if err != nil {
		h.logger.Error("add line item", slog.Any("error", err), slog.Int64("bill_id", billID), slog.Int64("batch_id", req.BatchID))
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, item)
}

type updateItemRequest struct {
	Quantity int64 `json:"quantity" validate:"required,gt=0"`
	ActorID  int64 `json:"actor_id" validate:"required"`
}

func (h *Handler) updateItem(w http.ResponseWriter, r *http.Request) {
	billID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	itemID, ok := h.pathID(w, r, "itemID")
	if !ok {
		return
	}
	var req updateItemRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	item, err := h.service.UpdateLineItemQuantity(r.Context(), billID, itemID, req.Quantity, req.ActorID)
	if err != nil {
		h.logger.Error("update line item", slog.Any("error", err), slog.Int64("bill_id", billID), slog.Int64("item_id", itemID))
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

type removeItemRequest struct {
	ActorID int64 `json:"actor_id" validate:"required"`
}

func (h *Handler) removeItem(w http.ResponseWriter, r *http.Request) {
	billID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	itemID, ok := h.pathID(w, r, "itemID")
	if !ok {
		return
	}
	var req removeItemRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	bill, err := h.service.RemoveLineItem(r.Context(), billID, itemID, req.ActorID)
	if err != nil {
		h.logger.Error("remove line item", slog.Any("error", err), slog.Int64("bill_id", billID), slog.Int64("item_id", itemID))
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, bill)
}

type settleRequest struct {
	Amount  decimal.Decimal `json:"amount"`
	ActorID int64           `json:"actor_id" validate:"required"`
	Method  string          `json:"method"`
	Note    string          `json:"note"`
}

func (h *Handler) settle(w http.ResponseWriter, r *http.Request) {
	billID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req settleRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.Settle(r.Context(), SettleInput{
		BillID:  billID,
		Amount:  req.Amount,
		ActorID: req.ActorID,
		Method:  req.Method,
		Note:    req.Note,
	})
	if err != nil {
		h.logger.Error("settle bill", slog.Any("error", err), slog.Int64("bill_id", billID))
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid "+name)
		return 0, false
	}
	return id, true
}

func (h *Handler) respondErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrBillNotFound), errors.Is(err, ErrLineItemNotFound),
		errors.Is(err, pharmacy.ErrBatchNotFound), errors.Is(err, shared.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrInvalidAmount),
		errors.Is(err, pharmacy.ErrInvalidQuantity), errors.Is(err, shared.ErrInvalidArgument):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrInsufficientStock), errors.Is(err, ErrLineItemSettled),
		errors.Is(err, ErrBatchMedicineMismatch):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrPaymentExceedsBalance):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unprocessable", err.Error())
	default:
		httpx.RespondError(w, err)
	}
}
