package voucher

import "github.com/shopspring/decimal"

// Finalize applies the composed discounts to the order and returns the
// payable amount. Each discount applies only to its own leg: the product
// discount to the subtotal, the shipping discount to the shipping cost.
// Both legs clamp at zero, so the payable amount can never go negative even
// if upstream validation were bypassed.
func Finalize(ord OrderContext, productDiscount, shippingDiscount decimal.Decimal) decimal.Decimal {
	sub := ord.Subtotal.Sub(productDiscount)
	if sub.IsNegative() {
		sub = decimal.Zero
	}
	ship := ord.ShippingCost.Sub(shippingDiscount)
	if ship.IsNegative() {
		ship = decimal.Zero
	}
	return sub.Add(ship)
}
