package coupon

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Amount computes the raw discount of c on total and clamps it to the
// coupon's MaxDiscount and to total itself, so a discount never drives an
// order below zero.
func Amount(c *Coupon, total decimal.Decimal) (decimal.Decimal, error) {
	var amount decimal.Decimal
	switch c.DiscountType {
	case DiscountPercentage:
		amount = total.Mul(c.Value).Div(hundred)
	case DiscountFixed:
		amount = c.Value
	default:
		return decimal.Zero, errors.Errorf("unsupported discount type: %q", c.DiscountType)
	}

	if c.MaxDiscount != nil {
		amount = decimal.Min(amount, *c.MaxDiscount)
	}
	amount = decimal.Min(amount, total)
	return floorAtZero(amount).Round(2), nil
}

func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
