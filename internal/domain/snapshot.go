package domain

import "github.com/shopspring/decimal"

// OrderProductSnapshot фиксирует цену и количество позиции на момент заказа.
// После создания не изменяется.
type OrderProductSnapshot struct {
	ID          int64
	OrderID     int64
	VariantID   int64
	ProductName string
	Price       decimal.Decimal
	Quantity    int64
	TotalAmount decimal.Decimal
}

// NewSnapshot снимает позицию с варианта: totalAmount = price × quantity.
func NewSnapshot(variant ProductVariant, quantity int64) (OrderProductSnapshot, error) {
	if quantity <= 0 {
		return OrderProductSnapshot{}, ErrInvalidQuantity
	}
	return OrderProductSnapshot{
		VariantID:   variant.ID,
		ProductName: variant.Name,
		Price:       variant.Price,
		Quantity:    quantity,
		TotalAmount: variant.Price.Mul(decimal.NewFromInt(quantity)),
	}, nil
}
