package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
)

const maxBodyBytes = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type placeOrderRequest struct {
	VariantID int64 `json:"variant_id" validate:"required,gt=0"`
	Quantity  int64 `json:"quantity" validate:"required,gt=0"`
}

type checkoutLine struct {
	VariantID int64 `json:"variant_id" validate:"required,gt=0"`
	Quantity  int64 `json:"quantity" validate:"required,gt=0"`
}

type checkoutRequest struct {
	Items []checkoutLine `json:"items" validate:"required,min=1,dive"`
}

// fieldError — одна нарушенная проверка в теле запроса.
type fieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

type decodeError struct {
	message string
	fields  []fieldError
}

func (e *decodeError) Error() string { return e.message }

// decodeBody читает JSON-тело без неизвестных полей и прогоняет validator.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &decodeError{message: fmt.Sprintf("invalid request body: %v", err)}
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]fieldError, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fieldError{Field: fe.Namespace(), Rule: fe.Tag()})
			}
			return &decodeError{message: "request validation failed", fields: fields}
		}
		return &decodeError{message: err.Error()}
	}
	return nil
}

type orderItemResponse struct {
	ID          int64           `json:"id"`
	VariantID   int64           `json:"variant_id"`
	ProductName string          `json:"product_name"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int64           `json:"quantity"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

type orderResponse struct {
	ID                int64               `json:"id"`
	OwnerID           int64               `json:"owner_id"`
	Status            domain.OrderStatus  `json:"status"`
	Returnable        bool                `json:"returnable"`
	TotalAmount       decimal.Decimal     `json:"total_amount"`
	Items             []orderItemResponse `json:"items"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
	DeliveryStartAt   *time.Time          `json:"delivery_start_at,omitempty"`
	DeliveryEndAt     *time.Time          `json:"delivery_end_at,omitempty"`
	ReturnRequestedAt *time.Time          `json:"return_requested_at,omitempty"`
	Version           int64               `json:"version"`
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func newOrderResponse(o domain.Order) orderResponse {
	items := make([]orderItemResponse, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, orderItemResponse{
			ID:          it.ID,
			VariantID:   it.VariantID,
			ProductName: it.ProductName,
			Price:       it.Price,
			Quantity:    it.Quantity,
			TotalAmount: it.TotalAmount,
		})
	}
	return orderResponse{
		ID:                o.ID,
		OwnerID:           o.OwnerID,
		Status:            o.Status,
		Returnable:        o.Returnable,
		TotalAmount:       o.TotalAmount,
		Items:             items,
		CreatedAt:         o.CreatedAt,
		UpdatedAt:         o.UpdatedAt,
		DeliveryStartAt:   optionalTime(o.DeliveryStartAt),
		DeliveryEndAt:     optionalTime(o.DeliveryEndAt),
		ReturnRequestedAt: optionalTime(o.ReturnRequestedAt),
		Version:           o.Version,
	}
}

type orderListResponse struct {
	Orders     []orderResponse `json:"orders"`
	NextCursor *int64          `json:"next_cursor,omitempty"`
}

type timelineEventResponse struct {
	Type     string    `json:"type"`
	Reason   string    `json:"reason,omitempty"`
	Occurred time.Time `json:"occurred_at"`
}

type paymentResponse struct {
	OrderID int64                `json:"order_id"`
	Status  domain.PaymentStatus `json:"status"`
}

type stockResponse struct {
	VariantID int64  `json:"variant_id"`
	Stock     int64  `json:"stock"`
	Cached    *int64 `json:"cached,omitempty"`
	Sellable  bool   `json:"sellable"`
}
