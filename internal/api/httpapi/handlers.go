package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
	"github.com/vladislavdragonenkov/shopsaga/internal/service/saga"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
	// defaultHistoryMonths — история по умолчанию за последние три месяца.
	defaultHistoryMonths = 3
)

func (h *handler) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if !h.decode(w, r, &req) {
		return
	}
	order, err := h.orders.PlaceOrder(r.Context(), saga.PlaceOrderRequest{
		OwnerID:   ownerFrom(r.Context()),
		VariantID: req.VariantID,
		Quantity:  req.Quantity,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newOrderResponse(order))
}

func (h *handler) checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if !h.decode(w, r, &req) {
		return
	}
	lines := make([]saga.Line, 0, len(req.Items))
	for _, it := range req.Items {
		lines = append(lines, saga.Line{VariantID: it.VariantID, Quantity: it.Quantity})
	}
	order, err := h.orders.Checkout(r.Context(), saga.CheckoutRequest{
		OwnerID: ownerFrom(r.Context()),
		Lines:   lines,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newOrderResponse(order))
}

// listOrders отдаёт историю заказов владельца. Параметры: from, to (RFC3339 или YYYY-MM-DD), cursor, limit.
func (h *handler) listOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	now := h.now()

	to, err := parseTimeParam(q.Get("to"), now)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, codeValidation, "invalid to: "+err.Error(), nil)
		return
	}
	from, err := parseTimeParam(q.Get("from"), to.AddDate(0, -defaultHistoryMonths, 0))
	if err != nil {
		writeProblem(w, http.StatusBadRequest, codeValidation, "invalid from: "+err.Error(), nil)
		return
	}
	if from.After(to) {
		writeProblem(w, http.StatusBadRequest, codeValidation, "from must not be after to", nil)
		return
	}
	limit, err := parseIntParam(q.Get("limit"), defaultHistoryLimit)
	if err != nil || limit <= 0 {
		writeProblem(w, http.StatusBadRequest, codeValidation, "limit must be a positive integer", nil)
		return
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	cursor, err := parseIntParam(q.Get("cursor"), 0)
	if err != nil || cursor < 0 {
		writeProblem(w, http.StatusBadRequest, codeValidation, "cursor must be a non-negative integer", nil)
		return
	}

	orders, err := h.orderRepo.ListByOwner(r.Context(), domain.OrderHistoryQuery{
		OwnerID:  ownerFrom(r.Context()),
		From:     from,
		To:       to,
		BeforeID: int64(cursor),
		Limit:    limit,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := orderListResponse{Orders: make([]orderResponse, 0, len(orders))}
	for _, o := range orders {
		resp.Orders = append(resp.Orders, newOrderResponse(o))
	}
	if len(orders) == limit {
		next := orders[len(orders)-1].ID
		resp.NextCursor = &next
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) getOrder(w http.ResponseWriter, r *http.Request) {
	order, ok := h.ownedOrder(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newOrderResponse(order))
}

func (h *handler) orderTimeline(w http.ResponseWriter, r *http.Request) {
	order, ok := h.ownedOrder(w, r)
	if !ok {
		return
	}
	events, err := h.timeline.List(r.Context(), order.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := make([]timelineEventResponse, 0, len(events))
	for _, e := range events {
		resp = append(resp, timelineEventResponse{Type: e.Type, Reason: e.Reason, Occurred: e.Occurred})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}
	order, err := h.orders.Cancel(r.Context(), id, ownerFrom(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderResponse(order))
}

func (h *handler) requestReturn(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}
	order, err := h.orders.RequestReturn(r.Context(), id, ownerFrom(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderResponse(order))
}

// processPayment создаёт платёж при необходимости и проводит его.
func (h *handler) processPayment(w http.ResponseWriter, r *http.Request) {
	order, ok := h.ownedOrder(w, r)
	if !ok {
		return
	}
	if _, err := h.payments.Initiate(r.Context(), order.ID); err != nil {
		h.writeError(w, r, err)
		return
	}
	status, err := h.payments.Process(r.Context(), order.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.logger.WithFields(log.Fields{"order_id": order.ID, "payment_status": status}).Info("payment processed")
	writeJSON(w, http.StatusOK, paymentResponse{OrderID: order.ID, Status: status})
}

func (h *handler) paymentStatus(w http.ResponseWriter, r *http.Request) {
	order, ok := h.ownedOrder(w, r)
	if !ok {
		return
	}
	status, err := h.payments.Status(r.Context(), order.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, paymentResponse{OrderID: order.ID, Status: status})
}

func (h *handler) variantStock(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeProblem(w, http.StatusBadRequest, codeValidation, "invalid variant id", nil)
		return
	}
	variant, err := h.catalog.GetVariant(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := stockResponse{VariantID: variant.ID, Stock: variant.Stock, Sellable: variant.Sellable()}
	if h.reservations != nil {
		// недоступный кеш не мешает отдать остаток из учёта
		if cached, ok, cerr := h.reservations.Available(r.Context(), id); cerr == nil && ok {
			resp.Cached = &cached
		} else if cerr != nil {
			h.logger.WithError(cerr).WithField("variant_id", id).Warn("reservation cache read failed")
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decodeBody(r, dst); err != nil {
		var derr *decodeError
		if errors.As(err, &derr) && len(derr.fields) > 0 {
			writeProblem(w, http.StatusBadRequest, codeValidation, derr.message, derr.fields)
			return false
		}
		writeProblem(w, http.StatusBadRequest, codeValidation, err.Error(), nil)
		return false
	}
	return true
}

func (h *handler) orderID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeProblem(w, http.StatusBadRequest, codeValidation, "invalid order id", nil)
		return 0, false
	}
	return id, true
}

// ownedOrder загружает заказ и проверяет, что он принадлежит вызывающему.
func (h *handler) ownedOrder(w http.ResponseWriter, r *http.Request) (domain.Order, bool) {
	id, ok := h.orderID(w, r)
	if !ok {
		return domain.Order{}, false
	}
	order, err := h.orderRepo.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return domain.Order{}, false
	}
	if order.OwnerID != ownerFrom(r.Context()) {
		h.writeError(w, r, domain.ErrNotOrderOwner)
		return domain.Order{}, false
	}
	return order, true
}

func parseTimeParam(raw string, fallback time.Time) (time.Time, error) {
	if raw == "" {
		return fallback, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected RFC3339 or YYYY-MM-DD, got %q", raw)
	}
	return t.UTC(), nil
}

func parseIntParam(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}
