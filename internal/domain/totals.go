package domain

import "github.com/shopspring/decimal"

const (
	// MoneyPlaces is the number of fractional digits carried by every amount.
	MoneyPlaces = 2
	// MaxLineQuantity caps the quantity of a single cart line.
	MaxLineQuantity = 999
)

// RoundMoney rounds d half away from zero to cents.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// LineTotal returns unit price times quantity.
func LineTotal(line CartLine) decimal.Decimal {
	return RoundMoney(line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity))))
}

// ComputeTotals derives totals from scratch. Shipping is charged only when the subtotal is positive.
func ComputeTotals(lines []CartLine, flatShipping decimal.Decimal) Totals {
	subtotal := decimal.Zero
	count := 0
	for _, line := range lines {
		if line.Quantity < 1 {
			continue
		}
		subtotal = subtotal.Add(LineTotal(line))
		count += line.Quantity
	}
	subtotal = RoundMoney(subtotal)

	shipping := decimal.Zero
	if subtotal.IsPositive() {
		shipping = RoundMoney(flatShipping)
	}
	return Totals{
		Subtotal:  subtotal,
		Shipping:  shipping,
		Total:     subtotal.Add(shipping),
		ItemCount: count,
	}
}

// NormalizeLines drops lines without a product id or with quantity below 1 and merges duplicate
// product ids into the first occurrence. Quantities are clamped to MaxLineQuantity.
func NormalizeLines(lines []CartLine) []CartLine {
	out := make([]CartLine, 0, len(lines))
	index := make(map[string]int, len(lines))
	for _, line := range lines {
		if line.ProductID == "" || line.Quantity < 1 || line.UnitPrice.IsNegative() {
			continue
		}
		line.Quantity = min(line.Quantity, MaxLineQuantity)
		if i, ok := index[line.ProductID]; ok {
			out[i].Quantity = min(out[i].Quantity+line.Quantity, MaxLineQuantity)
			continue
		}
		index[line.ProductID] = len(out)
		out = append(out, line)
	}
	return out
}
