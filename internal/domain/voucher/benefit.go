package voucher

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// DiscountKind selects how a product discount is computed.
type DiscountKind string

const (
	// KindFixed subtracts an absolute amount, capped at the subtotal.
	KindFixed DiscountKind = "fixed"
	// KindPercentage subtracts a percentage of the subtotal, optionally
	// capped at an absolute amount.
	KindPercentage DiscountKind = "percentage"
)

// Benefit is what a voucher grants. Exactly two shapes exist: a product
// subtotal discount and a shipping discount. Keeping them as distinct types
// makes percentage/cap fields unreachable on shipping vouchers.
type Benefit interface {
	Category() Category
	// Amount computes the discount this benefit yields for the given order,
	// rounded half-up to whole currency units and never negative.
	Amount(ord OrderContext) decimal.Decimal
}

// ProductDiscount reduces the order subtotal.
type ProductDiscount struct {
	Kind  DiscountKind
	Value decimal.Decimal
	// Cap bounds the absolute discount of a percentage benefit.
	// Zero or negative means uncapped. Ignored for fixed benefits.
	Cap decimal.Decimal
}

func (ProductDiscount) Category() Category { return CategoryDiscount }

func (d ProductDiscount) Amount(ord OrderContext) decimal.Decimal {
	var amt decimal.Decimal
	switch d.Kind {
	case KindPercentage:
		amt = ord.Subtotal.Mul(d.Value).Div(hundred)
		if d.Cap.IsPositive() {
			amt = decimal.Min(amt, d.Cap)
		}
	default:
		// A fixed discount can never exceed what the subtotal leg can absorb.
		amt = decimal.Min(d.Value, ord.Subtotal)
	}
	return roundMoney(amt)
}

// ShippingDiscount reduces the shipping cost by a fixed amount.
type ShippingDiscount struct {
	Value decimal.Decimal
}

func (ShippingDiscount) Category() Category { return CategoryShipping }

func (s ShippingDiscount) Amount(ord OrderContext) decimal.Decimal {
	// Shipping can be discounted to zero, never below.
	return roundMoney(decimal.Min(s.Value, ord.ShippingCost))
}

// roundMoney clamps negatives to zero and rounds half-up to the currency's
// smallest unit (whole units, no fractional amounts).
func roundMoney(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d.Round(0)
}
