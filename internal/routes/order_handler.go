package routes

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/speedwaystore/admin-push/internal/models"
	"github.com/speedwaystore/admin-push/internal/services"
	"github.com/speedwaystore/admin-push/pkg/metrics"
)

// MessageDelivered is returned when every admin was notified.
const MessageDelivered = "ส่งแจ้งเตือนสำเร็จ"

const maxBodyBytes = 1 << 20

// OrderDispatcher fans an order event out to admins.
type OrderDispatcher interface {
	Dispatch(ctx context.Context, event models.OrderEvent) (models.AggregateResult, error)
}

// OrderHandler is the HTTP trigger for new-order notifications.
type OrderHandler struct {
	dispatcher OrderDispatcher
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

func NewOrderHandler(dispatcher OrderDispatcher, metrics *metrics.Metrics, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		dispatcher: dispatcher,
		metrics:    metrics,
		logger:     logger,
	}
}

type orderResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// NewOrder handles POST /newOrder.
func (h *OrderHandler) NewOrder(w http.ResponseWriter, r *http.Request) {
	h.metrics.IncTrigger("http")
	logger := h.logger.With(slog.String("request_id", middleware.GetReqID(r.Context())))

	var event models.OrderEvent
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&event); err != nil {
		logger.Warn("invalid new order payload", slog.Any("error", err))
		writeJSON(w, http.StatusBadRequest, orderResponse{Error: "invalid request body"})
		return
	}

	result, err := h.dispatcher.Dispatch(r.Context(), event)
	if err != nil {
		status, reason := describeError(err)
		if status >= http.StatusInternalServerError {
			logger.Error("new order notification failed", slog.String("order_id", event.OrderID), slog.Any("error", err))
		} else {
			logger.Warn("new order rejected", slog.String("order_id", event.OrderID), slog.Any("error", err))
		}
		resp := orderResponse{Error: reason}
		if services.KindOf(err) == services.KindDelivery {
			resp.Message = result.Summary
		}
		writeJSON(w, status, resp)
		return
	}

	if result.Success {
		writeJSON(w, http.StatusOK, orderResponse{Success: true, Message: MessageDelivered})
		return
	}
	writeJSON(w, http.StatusOK, orderResponse{Message: result.Summary})
}

// describeError maps a dispatch error to a status and a description that is
// safe to show the caller.
func describeError(err error) (int, string) {
	switch services.KindOf(err) {
	case services.KindValidation:
		switch {
		case errors.Is(err, models.ErrMissingOrderID):
			return http.StatusBadRequest, models.ErrMissingOrderID.Error()
		case errors.Is(err, models.ErrMissingCustomerName):
			return http.StatusBadRequest, models.ErrMissingCustomerName.Error()
		default:
			return http.StatusBadRequest, "invalid order event"
		}
	case services.KindCredential:
		return http.StatusInternalServerError, "push credentials unavailable"
	case services.KindRegistry:
		return http.StatusInternalServerError, "recipient registry unavailable"
	case services.KindDelivery:
		return http.StatusInternalServerError, "push provider unavailable"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
