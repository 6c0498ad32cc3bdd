package firestore

import (
	"github.com/shopspring/decimal"

	domain "github.com/southernsense/storefront/internal/domain"
)

// Firestore has no decimal type; amounts are stored as float64 and rounded back to cents on read.

type lineDocument struct {
	ProductID string  `firestore:"productId"`
	Name      string  `firestore:"name"`
	UnitPrice float64 `firestore:"price"`
	ImageRef  string  `firestore:"image"`
	Quantity  int     `firestore:"quantity"`
}

type totalsDocument struct {
	Subtotal  float64 `firestore:"subtotal"`
	Shipping  float64 `firestore:"shipping"`
	Total     float64 `firestore:"total"`
	ItemCount int     `firestore:"itemCount"`
}

func moneyToFloat(amount decimal.Decimal) float64 {
	value, _ := domain.RoundMoney(amount).Float64()
	return value
}

func floatToMoney(value float64) decimal.Decimal {
	return domain.RoundMoney(decimal.NewFromFloat(value))
}

func encodeLines(lines []domain.CartLine) []lineDocument {
	docs := make([]lineDocument, 0, len(lines))
	for _, line := range lines {
		docs = append(docs, lineDocument{
			ProductID: line.ProductID,
			Name:      line.Name,
			UnitPrice: moneyToFloat(line.UnitPrice),
			ImageRef:  line.ImageRef,
			Quantity:  line.Quantity,
		})
	}
	return docs
}

func decodeLines(docs []lineDocument) []domain.CartLine {
	lines := make([]domain.CartLine, 0, len(docs))
	for _, doc := range docs {
		lines = append(lines, domain.CartLine{
			ProductID: doc.ProductID,
			Name:      doc.Name,
			UnitPrice: floatToMoney(doc.UnitPrice),
			ImageRef:  doc.ImageRef,
			Quantity:  doc.Quantity,
		})
	}
	return lines
}

func encodeTotals(totals domain.Totals) totalsDocument {
	return totalsDocument{
		Subtotal:  moneyToFloat(totals.Subtotal),
		Shipping:  moneyToFloat(totals.Shipping),
		Total:     moneyToFloat(totals.Total),
		ItemCount: totals.ItemCount,
	}
}

func decodeTotals(doc totalsDocument) domain.Totals {
	return domain.Totals{
		Subtotal:  floatToMoney(doc.Subtotal),
		Shipping:  floatToMoney(doc.Shipping),
		Total:     floatToMoney(doc.Total),
		ItemCount: doc.ItemCount,
	}
}
