package http

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmehra2102/scrap-pickup/internal/order/application"
	"github.com/dmehra2102/scrap-pickup/internal/order/domain"
	"github.com/dmehra2102/scrap-pickup/pkg/auth"
	"github.com/dmehra2102/scrap-pickup/pkg/geo"
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
		tracer:  otel.Tracer("order-http"),
	}
}

// Routes registers the order endpoints. The caller mounts auth.Middleware.
func (h *Handler) Routes(r chi.Router) {
	collector := auth.RequireRole(auth.RoleCollector)

	r.Post("/orders", h.createOrder)
	r.Get("/orders", h.listOwned)
	r.With(collector).Get("/orders/assigned", h.listAssigned)
	r.With(collector).Get("/orders/nearby", h.nearby)
	r.Get("/orders/{id}", h.getOrder)
	r.Post("/orders/{id}/items", h.addItem)
	r.Patch("/orders/{id}/items/{itemID}", h.updateItem)
	r.Delete("/orders/{id}/items/{itemID}", h.deleteItem)
	r.With(collector).Post("/orders/{id}/accept", h.accept)
	r.Post("/orders/{id}/cancel", h.cancel)
	r.With(collector).Put("/orders/{id}/images", h.attachImages)
	r.Post("/orders/{id}/review", h.createReview)
	r.Get("/orders/{id}/review", h.getReview)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	httperr.Write(w, r, h.log, err)
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CreateOrder")
	defer span.End()

	actor, _ := auth.FromContext(ctx)
	var req createOrderRequest
	if err := request.Bind(r, &req, false); err != nil {
		h.fail(w, r, span, err)
		return
	}
	if (req.Latitude == nil) != (req.Longitude == nil) {
		h.fail(w, r, span, fmt.Errorf("%w: latitude and longitude go together", domain.ErrInvalidInput))
		return
	}

	cmd := application.CreateOrderCommand{
		OwnerID:       actor.ID,
		PickupAddress: req.PickupAddress,
		Items:         make([]application.NewItem, 0, len(req.Items)),
	}
	if req.Latitude != nil {
		cmd.Location = &geo.Point{Lat: *req.Latitude, Lon: *req.Longitude}
	}
	for _, it := range req.Items {
		cmd.Items = append(cmd.Items, application.NewItem{CategoryID: it.CategoryID, Quantity: it.Quantity})
	}

	o, err := h.service.CreateOrder(ctx, cmd)
	if err != nil {
		h.fail(w, r, span, err)
		return
	}
	span.SetAttributes(attribute.String("order_id", o.ID.String()))
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, toOrderResponse(o))
}

func (h *Handler) listOwned(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ListOwnedOrders")
	defer span.End()

	actor, _ := auth.FromContext(ctx)
	orders, err := h.service.ListOwned(ctx, actor.ID)
	if err != nil {
		h.fail(w, r, span, err)
		return
	}
	render.JSON(w, r, toOrderResponses(orders))
}

func (h *Handler) listAssigned(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ListAssignedOrders")
	defer span.End()

	actor, _ := auth.FromContext(ctx)
	orders, err := h.service.ListAssigned(ctx, actor.ID)
	if err != nil {
		h.fail(w, r, span, err)
		return
	}
	render.JSON(w, r, toOrderResponses(orders))
}

func (h *Handler) nearby(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "FindNearbyOrders")
	defer span.End()

	req, err := h.parseNearby(r)
	if err != nil {
		h.fail(w, r, span, err)
		return
	}
	span.SetAttributes(
		attribute.Float64("radius_km", req.RadiusKm),
		attribute.Int("limit", req.Limit),
	)

	found, err := h.service.FindNearby(ctx, req)
	if err != nil {
		h.fail(w, r, span, err)
		return
	}
	out := make([]nearbyOrderResponse, 0, len(found))
	for _, n := range found {
		out = append(out, toNearbyResponse(n))
	}
	span.SetAttributes(attribute.Int("results", len(out)))
	render.JSON(w, r, out)
}

// parseNearby reads lat, lon (or lng), radius_km and limit, applying the
// configured defaults for the optional two.
func (h *Handler) parseNearby(r *http.Request) (application.NearbyRequest, error) {
	q := r.URL.Query()
	limits := h.service.Limits()

	lonRaw := q.Get("lon")
	if lonRaw == "" {
		lonRaw = q.Get("lng")
	}
	lat, err := requiredFloat("lat", q.Get("lat"))
	if err != nil {
		return application.NearbyRequest{}, err
	}
	lon, err := requiredFloat("lon", lonRaw)
	if err != nil {
		return application.NearbyRequest{}, err
	}

	req := application.NearbyRequest{
		Origin:   geo.Point{Lat: lat, Lon: lon},
		RadiusKm: limits.DefaultRadiusKm,
		Limit:    limits.DefaultLimit,
	}
	if raw := q.Get("radius_km"); raw != "" {
		if req.RadiusKm, err = strconv.ParseFloat(raw, 64); err != nil {
			return application.NearbyRequest{}, fmt.Errorf("%w: radius_km must be a number", domain.ErrInvalidInput)
		}
	}
	if raw := q.Get("limit"); raw != "" {
		if req.Limit, err = strconv.Atoi(raw); err != nil {
			return application.NearbyRequest{}, fmt.Errorf("%w: limit must be an integer", domain.ErrInvalidInput)
		}
	}
	return req, nil
}

func requiredFloat(name, raw string) (float64, error) {
	if raw == "" {
		return 0, fmt.Errorf("%w: %s is required", domain.ErrInvalidInput, name)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be a number", domain.ErrInvalidInput, name)
	}
	return v, nil
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GetOrder")
	defer span.End()

	id, err := request.UUIDParam(r, "id")
	if err != nil {
		h.fail(w, r, span, err)
		return
	}
	actor, _ := auth.FromContext(ctx)
	o, err := h.service.GetOrder(ctx, id, actor.ID, actor.IsCollector())
	if err != nil {
		h.fail(w, r, span, err)
		return
	}
	render.JSON(w, r, toOrderResponse(o))
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "AddOrderItem")
	defer span.End()

	id, err := request.UUIDParam(r, "id")
	if err != nil {
		h.fail(w, r, span, err)
		return
	}
	var req itemRequest
	if err := request.Bind(r, &req, false); err != nil {
		h.fail(w, r, span, err)
		return
	}
	actor, _ := auth.FromContext(ctx)
	o, err := h.service.AddItem(ctx, id, actor.ID, application.NewItem{CategoryID: req.CategoryID, Quantity: req.Quantity})
	if err != nil {
		h.fail(w, r, span, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, toOrderResponse(o))
}

func (h *Handler) updateItem(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "UpdateOrderItem")
	defer span.End()

	id, itemID, err := orderAndItem(r)
	if err != nil {
		h.fail(w, r, span, err)
		return
	}
	var req updateItemRequest
	if err := request.Bind(r, &req, false); err != nil {
		h.fail(w, r, span, err)
		return
	}
	actor, _ := auth.FromContext(ctx)
	o, err := h.service.UpdateItem(ctx, id, actor.ID, itemID, req.Quantity)
	if err != nil {
		h.fail(w, r, span, err)
		return
	}
	render.JSON(w, r, toOrderResponse(o))
}

func (h *Handler) deleteItem(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "DeleteOrderItem")
	defer span.End()

	id, itemID, err := orderAndItem(r)
	if err != nil {
		h.fail(w, r, span, err)
		return
	}
	actor, _ := auth.FromContext(ctx)
	o, err := h.service.DeleteItem(ctx, id, actor.ID, itemID)
	if err != nil {
		h.fail(w, r, span, err)
		return
	}
	render.JSON(w, r, toOrderResponse(o))
}

func orderAndItem(r *http.Request) (uuid.UUID, uuid.UUID, error) {
	id, err := request.UUIDParam(r, "id")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	itemID, err := request.UUIDParam(r, "itemID")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return id, itemID, nil
}

func (h *Handler) accept(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "AcceptOrder")
	defer span.End()

	id, err := request.UUIDParam(r, "id")
	if err != nil {
		h.fail(w, r, span, err)
		return
	}
	var req acceptRequest
	if err := request.Bind(r, &req, true); err != nil {
		h.fail(w, r, span, err)
		return
	}
	actor, _ := auth.FromContext(ctx)
	span.SetAttributes(attribute.String("order_id", id.String()), attribute.String("collector_id", actor.ID.String()))

	o, err := h.service.Accept(ctx, id, actor.ID, req.Note)
	if err != nil {
		h.fail(w, r, span, err)
		return
	}
	render.JSON(w, r, acceptResponse{
		ID:          o.ID,
		Status:      string(o.Status),
		CollectorID: o.CollectorID,
		Note:        o.CollectorNote,
	})
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CancelOrder")
	defer span.End()

	id, err := request.UUIDParam(r, "id")
	if err != nil {
		h.fail(w, r, span, err)
		return
	}
	actor, _ := auth.FromContext(ctx)
	o, err := h.service.Cancel(ctx, id, actor.ID)
	if err != nil {
		h.fail(w, r, span, err)
		return
	}
	render.JSON(w, r, toOrderResponse(o))
}

func (h *Handler) attachImages(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "AttachOrderImages")
	defer span.End()

	id, err := request.UUIDParam(r, "id")
	if err != nil {
		h.fail(w, r, span, err)
		return
	}
	var req imagesRequest
	if err := request.Bind(r, &req, false); err != nil {
		h.fail(w, r, span, err)
		return
	}
	actor, _ := auth.FromContext(ctx)
	o, err := h.service.AttachImages(ctx, id, actor.ID, req.ImageURLs)
	if err != nil {
		h.fail(w, r, span, err)
		return
	}
	render.JSON(w, r, toOrderResponse(o))
}

func (h *Handler) createReview(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CreateReview")
	defer span.End()

	id, err := request.UUIDParam(r, "id")
	if err != nil {
		h.fail(w, r, span, err)
		return
	}
	var req reviewRequest
	if err := request.Bind(r, &req, false); err != nil {
		h.fail(w, r, span, err)
		return
	}
	actor, _ := auth.FromContext(ctx)
	rv, err := h.service.CreateReview(ctx, id, actor.ID, req.Rating, req.Comment)
	if err != nil {
		h.fail(w, r, span, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, toReviewResponse(rv))
}

func (h *Handler) getReview(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GetReview")
	defer span.End()

	id, err := request.UUIDParam(r, "id")
	if err != nil {
		h.fail(w, r, span, err)
		return
	}
	actor, _ := auth.FromContext(ctx)
	rv, err := h.service.GetReview(ctx, id, actor.ID)
	if err != nil {
		h.fail(w, r, span, err)
		return
	}
	render.JSON(w, r, toReviewResponse(rv))
}
