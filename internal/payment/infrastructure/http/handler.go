package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmehra2102/scrap-pickup/internal/payment/application"
	"github.com/dmehra2102/scrap-pickup/internal/payment/domain"
	"github.com/dmehra2102/scrap-pickup/pkg/auth"
	"github.com/dmehra2102/scrap-pickup/pkg/httperr"
	"github.com/dmehra2102/scrap-pickup/pkg/request"
)

type Handler struct {
	log     *slog.Logger
	service *application.Service
	tracer  trace.Tracer
}

func NewHandler(log *slog.Logger, service *application.Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
		tracer:  otel.Tracer("payment-http"),
	}
}

func (h *Handler) Routes(r chi.Router) {
	r.With(auth.RequireRole(auth.RoleCollector)).Post("/orders/{id}/complete", h.complete)
	r.Get("/orders/{id}/transaction", h.getTransaction)
}

type completeItemRequest struct {
	OrderItemID    uuid.UUID       `json:"order_item_id" validate:"required"`
	ActualQuantity decimal.Decimal `json:"actual_quantity"`
}

type completeRequest struct {
	PaymentMethod string                `json:"payment_method" validate:"required,oneof=cash wallet"`
	Items         []completeItemRequest `json:"items" validate:"required,min=1,dive"`
}

type partyResponse struct {
	ID          uuid.UUID `json:"id"`
	FullName    string    `json:"full_name"`
	PhoneNumber string    `json:"phone_number"`
}

type receiptResponse struct {
	ID            uuid.UUID     `json:"id"`
	OrderID       uuid.UUID     `json:"order_id"`
	Amount        string        `json:"amount"`
	PaymentMethod string        `json:"payment_method"`
	Status        string        `json:"status"`
	Payer         partyResponse `json:"payer"`
	Payee         partyResponse `json:"payee"`
	CreatedAt     time.Time     `json:"created_at"`
}

func toReceiptResponse(r domain.Receipt) receiptResponse {
	return receiptResponse{
		ID:            r.ID,
		OrderID:       r.OrderID,
		Amount:        r.Amount.StringFixed(domain.AmountScale),
		PaymentMethod: string(r.Method),
		Status:        string(r.Status),
		Payer:         partyResponse(r.Payer),
		Payee:         partyResponse(r.Payee),
		CreatedAt:     r.CreatedAt,
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	httperr.Write(w, r, h.log, err)
}

func (h *Handler) complete(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CompleteOrder")
	defer span.End()

	id, err := request.UUIDParam(r, "id")
	if err != nil {
		h.fail(w, r, span, err)
		return
	}
	var req completeRequest
	if err := request.Bind(r, &req, false); err != nil {
		h.fail(w, r, span, err)
		return
	}
	actor, _ := auth.FromContext(ctx)
	span.SetAttributes(attribute.String("order_id", id.String()), attribute.Int("items", len(req.Items)))

	cmd := domain.CompleteCommand{
		OrderID:     id,
		CollectorID: actor.ID,
		Method:      domain.Method(req.PaymentMethod),
		Items:       make([]domain.CompletedItem, 0, len(req.Items)),
	}
	for _, it := range req.Items {
		cmd.Items = append(cmd.Items, domain.CompletedItem{OrderItemID: it.OrderItemID, ActualQuantity: it.ActualQuantity})
	}

	receipt, err := h.service.Complete(ctx, cmd)
	if err != nil {
		h.fail(w, r, span, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, toReceiptResponse(receipt))
}

func (h *Handler) getTransaction(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GetTransaction")
	defer span.End()

	id, err := request.UUIDParam(r, "id")
	if err != nil {
		h.fail(w, r, span, err)
		return
	}
	actor, _ := auth.FromContext(ctx)
	receipt, err := h.service.GetForOrder(ctx, id, actor.ID)
	if err != nil {
		h.fail(w, r, span, err)
		return
	}
	render.JSON(w, r, toReceiptResponse(receipt))
}
