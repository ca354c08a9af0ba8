package http

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmehra2102/scrap-pickup/internal/notification/application"
	"github.com/dmehra2102/scrap-pickup/internal/notification/domain"
	orderdomain "github.com/dmehra2102/scrap-pickup/internal/order/domain"
	"github.com/dmehra2102/scrap-pickup/pkg/auth"
	"github.com/dmehra2102/scrap-pickup/pkg/httperr"
)

type Handler struct {
	log     *slog.Logger
	service *application.Service
	tracer  trace.Tracer
}

func NewHandler(log *slog.Logger, service *application.Service) *Handler {
	return &Handler{log: log, service: service, tracer: otel.Tracer("notification-http")}
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/notifications", h.list)
}

type notificationResponse struct {
	ID        int64     `json:"id"`
	OrderID   uuid.UUID `json:"order_id"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ListNotifications")
	defer span.End()

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			err := fmt.Errorf("%w: limit must be a positive integer", orderdomain.ErrInvalidInput)
			span.SetStatus(codes.Error, err.Error())
			httperr.Write(w, r, h.log, err)
			return
		}
		limit = n
	}

	actor, _ := auth.FromContext(ctx)
	ns, err := h.service.List(ctx, actor.ID, limit)
	if err != nil {
		span.RecordError(err)
		httperr.Write(w, r, h.log, err)
		return
	}
	out := make([]notificationResponse, 0, len(ns))
	for _, n := range ns {
		out = append(out, toResponse(n))
	}
	render.JSON(w, r, out)
}

func toResponse(n domain.Notification) notificationResponse {
	return notificationResponse{
		ID:        n.ID,
		OrderID:   n.OrderID,
		Kind:      string(n.Kind),
		Message:   n.Message,
		IsRead:    n.IsRead,
		CreatedAt: n.CreatedAt,
	}
}
