package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/flashmart/flash-sale/internal/core/domain"
	"github.com/flashmart/flash-sale/internal/core/service"
)

type HTTPHandler struct {
	admission *service.AdmissionService
	logger    *zap.Logger
}

func NewHTTPHandler(admission *service.AdmissionService, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{admission: admission, logger: logger}
}

type PlaceOrderRequest struct {
	ProductID string `json:"product_id"`
	UserID    string `json:"user_id"`
	Quantity  int    `json:"quantity"`
}

type PlaceOrderResponse struct {
	JobID            string `json:"job_id"`
	OrderID          string `json:"order_id"`
	QueuePosition    int    `json:"queue_position"`
	EstimatedWaitSec int    `json:"estimated_wait_seconds"`
}

type ErrorResponse struct {
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

func (h *HTTPHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Message: "invalid request body"})
		return
	}
	if req.ProductID == "" || req.UserID == "" || req.Quantity <= 0 {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Message: "missing required fields"})
		return
	}

	handle, err := h.admission.PlaceOrder(r.Context(), service.PlaceOrderInput{
		ProductID: req.ProductID,
		UserID:    req.UserID,
		Quantity:  req.Quantity,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, PlaceOrderResponse{
		JobID:            handle.JobID,
		OrderID:          handle.OrderID,
		QueuePosition:    handle.QueuePosition,
		EstimatedWaitSec: int(handle.EstimatedWait / time.Second),
	})
}

type OrderResponse struct {
	ID         string     `json:"id"`
	ProductID  string     `json:"product_id"`
	UserID     string     `json:"user_id"`
	Quantity   int        `json:"quantity"`
	Status     string     `json:"status"`
	JobID      string     `json:"job_id,omitempty"`
	ReservedAt *time.Time `json:"reserved_at,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func (h *HTTPHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.admission.GetOrder(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(*order))
}

func (h *HTTPHandler) ListUserOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.admission.ListUserOrders(r.Context(), r.PathValue("userID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := make([]OrderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderResponse(o))
	}
	writeJSON(w, http.StatusOK, out)
}

type QueueStatusResponse struct {
	JobID        string     `json:"job_id"`
	State        string     `json:"state"`
	Attempts     int        `json:"attempts"`
	Position     int        `json:"queue_position"`
	FailedReason string     `json:"failed_reason,omitempty"`
	ProcessedAt  *time.Time `json:"processed_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

func (h *HTTPHandler) GetQueueStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.admission.GetQueueStatus(r.Context(), r.PathValue("jobID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, QueueStatusResponse{
		JobID:        status.ID,
		State:        string(status.State),
		Attempts:     status.Attempts,
		Position:     status.Position,
		FailedReason: status.FailedReason,
		ProcessedAt:  status.ProcessedAt,
		FinishedAt:   status.FinishedAt,
	})
}

func (h *HTTPHandler) GetOrderMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := h.admission.OrderMetrics(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrProductNotFound),
		errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, domain.ErrJobNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Message: err.Error()})
	case errors.Is(err, domain.ErrSaleNotActive),
		errors.Is(err, domain.ErrInvalidQuantity):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Message: err.Error()})
	case errors.Is(err, domain.ErrInsufficientStock):
		writeJSON(w, http.StatusConflict, ErrorResponse{Message: err.Error()})
	case errors.Is(err, domain.ErrLockUnavailable):
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Message: err.Error(), Retryable: true})
	default:
		h.logger.Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Message: "internal error"})
	}
}

func toOrderResponse(o domain.Order) OrderResponse {
	return OrderResponse{
		ID:         o.ID,
		ProductID:  o.ProductID,
		UserID:     o.UserID,
		Quantity:   o.Quantity,
		Status:     string(o.Status),
		JobID:      o.JobID,
		ReservedAt: o.ReservedAt,
		ExpiresAt:  o.ExpiresAt,
		CreatedAt:  o.CreatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
