// Package httpapi реализует HTTP API оформления и сопровождения заказов.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
	"github.com/vladislavdragonenkov/shopsaga/internal/service/saga"
)

const defaultRequestTimeout = 75 * time.Second

// OrderService — операции саги, доступные через API.
type OrderService interface {
	PlaceOrder(ctx context.Context, req saga.PlaceOrderRequest) (domain.Order, error)
	Checkout(ctx context.Context, req saga.CheckoutRequest) (domain.Order, error)
	Cancel(ctx context.Context, orderID, ownerID int64) (domain.Order, error)
	RequestReturn(ctx context.Context, orderID, ownerID int64) (domain.Order, error)
}

// PaymentService — оплата заказа.
type PaymentService interface {
	Initiate(ctx context.Context, orderID int64) (domain.Payment, error)
	Process(ctx context.Context, orderID int64) (domain.PaymentStatus, error)
	Status(ctx context.Context, orderID int64) (domain.PaymentStatus, error)
}

// Deps — зависимости API. Reservations может быть nil.
type Deps struct {
	Orders       OrderService
	Payments     PaymentService
	OrderRepo    domain.OrderRepository
	Timeline     domain.TimelineRepository
	Catalog      domain.Catalog
	Reservations domain.ReservationCache
	Logger       *log.Entry
	// RequestTimeout ограничивает обработку одного запроса; оформление может ждать блокировку до минуты.
	RequestTimeout time.Duration
}

type handler struct {
	orders       OrderService
	payments     PaymentService
	orderRepo    domain.OrderRepository
	timeline     domain.TimelineRepository
	catalog      domain.Catalog
	reservations domain.ReservationCache
	logger       *log.Entry
	now          func() time.Time
}

// NewRouter собирает chi-роутер со всеми маршрутами API.
func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = log.WithField("component", "http-api")
	}
	timeout := deps.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	h := &handler{
		orders:       deps.Orders,
		payments:     deps.Payments,
		orderRepo:    deps.OrderRepo,
		timeline:     deps.Timeline,
		catalog:      deps.Catalog,
		reservations: deps.Reservations,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, requestLogger(logger), middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))

	r.Get("/variants/{id}/stock", h.variantStock)

	r.Route("/orders", func(r chi.Router) {
		r.Use(requireOwner)
		r.Post("/", h.placeOrder)
		r.Get("/", h.listOrders)
		r.Post("/checkout", h.checkout)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.getOrder)
			r.Get("/timeline", h.orderTimeline)
			r.Post("/cancel", h.cancelOrder)
			r.Post("/return", h.requestReturn)
			r.Post("/payment", h.processPayment)
			r.Get("/payment", h.paymentStatus)
		})
	})
	return r
}
