package domain

import "github.com/shopspring/decimal"

// ProductVariant описывает продаваемый вариант товара и его остаток в учёте.
type ProductVariant struct {
	ID        int64
	ProductID int64
	Name      string
	Price     decimal.Decimal
	Stock     int64
	// Visible = false скрывает вариант из продажи.
	Visible bool
}

// Sellable сообщает, можно ли оформить заказ на вариант.
func (v ProductVariant) Sellable() bool {
	return v.Visible
}

// HasStock — предварительная проверка остатка. Окончательное решение принимает условное списание.
func (v ProductVariant) HasStock(qty int64) bool {
	return v.Stock >= qty
}
