package orders

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/marketplace-fulfillment/internal/domain"
)

// DefaultDeliveryCharges are the flat charges per zone used when none are configured.
var DefaultDeliveryCharges = map[domain.DeliveryZone]decimal.Decimal{
	domain.ZoneInsideCity:  decimal.NewFromInt(60),
	domain.ZoneSubCity:     decimal.NewFromInt(100),
	domain.ZoneOutsideCity: decimal.NewFromInt(120),
}

// checkCharge rejects delivery charges that are negative or finer than a cent.
func checkCharge(op string, d decimal.Decimal) error {
	if d.IsNegative() {
		return domain.InvalidInput(op, "delivery charge must not be negative")
	}
	if !d.Equal(d.Round(2)) {
		return domain.InvalidInput(op, fmt.Sprintf("delivery charge %s has more than two decimal places", d))
	}
	return nil
}

type catalogSnapshot struct {
	products map[string]domain.Product
	variants map[string]domain.Variant
}

// unitPrice returns the selling price and the per-unit discount against the
// compare-at price.
func (c catalogSnapshot) unitPrice(productID, variantID string) (price, discount decimal.Decimal) {
	p := c.products[productID]
	price, compareAt := p.BasePrice, p.CompareAtPrice
	if variantID != "" {
		v := c.variants[variantID]
		price, compareAt = v.Price, v.CompareAtPrice
	}
	if compareAt.GreaterThan(price) {
		return price, compareAt.Sub(price)
	}
	return price, decimal.Zero
}

// validate checks every line references a live product of storeID and, when a
// variant is given, a live variant of that product.
func (c catalogSnapshot) validate(op, storeID string, productID, variantID string) error {
	p, ok := c.products[productID]
	if !ok || p.DeletedAt != nil || !p.Active {
		return domain.NotFound(op, "product", productID)
	}
	if p.StoreID != storeID {
		return domain.InvalidInput(op, fmt.Sprintf("product %s does not belong to store %s", productID, storeID))
	}
	if variantID == "" {
		return nil
	}
	v, ok := c.variants[variantID]
	if !ok || v.DeletedAt != nil || !v.Active {
		return domain.NotFound(op, "variant", variantID)
	}
	if v.ProductID != productID {
		return domain.InvalidInput(op, fmt.Sprintf("variant %s does not belong to product %s", variantID, productID))
	}
	return nil
}

// buildItems snapshots price and catalog details for every demand line.
func (c catalogSnapshot) buildItems(orderID, branchID string, lines []domain.DemandItem, newID func() string) []domain.OrderItem {
	items := make([]domain.OrderItem, 0, len(lines))
	for _, ln := range lines {
		price, unitDiscount := c.unitPrice(ln.ProductID, ln.VariantID)
		qty := decimal.NewFromInt(int64(ln.Quantity))
		p := c.products[ln.ProductID]
		it := domain.OrderItem{
			ID:          newID(),
			OrderID:     orderID,
			BranchID:    branchID,
			ProductID:   ln.ProductID,
			VariantID:   ln.VariantID,
			Quantity:    ln.Quantity,
			UnitPrice:   price,
			Discount:    unitDiscount.Mul(qty),
			LineTotal:   price.Mul(qty),
			ProductName: p.Name,
			ImageURL:    p.ImageURL,
		}
		if ln.VariantID != "" {
			v := c.variants[ln.VariantID]
			it.VariantName = v.Name
			if v.ImageURL != "" {
				it.ImageURL = v.ImageURL
			}
		}
		items = append(items, it)
	}
	return items
}

// applyTotals recomputes the order amounts from its items. Subtotal is the
// gross amount before discounts, so Subtotal - TotalDiscount equals the sum of
// line totals.
func applyTotals(o *domain.Order) {
	subtotal, discount := decimal.Zero, decimal.Zero
	for _, it := range o.Items {
		subtotal = subtotal.Add(it.LineTotal).Add(it.Discount)
		discount = discount.Add(it.Discount)
	}
	o.Subtotal = subtotal
	o.TotalDiscount = discount
	o.TotalAmount = subtotal.Sub(discount).Add(o.DeliveryCharge)
}
