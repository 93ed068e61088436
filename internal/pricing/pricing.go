package pricing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/anhtran/teashop/internal/models"
)

// Selection describes one cart line as the engine needs it: the chosen size,
// the already-resolved topping products, and the cosmetic sugar/ice labels
// (which never affect price).
type Selection struct {
	SizeLabel  string
	Toppings   []*models.Product
	SugarLevel string
	IceLevel   string
	Quantity   int
}

// Engine quotes unit prices for cart lines. The clock is injectable so
// promotion windows can be tested deterministically; it defaults to
// time.Now. Quotes are pure: the same product, selection, and instant always
// produce the same breakdown.
type Engine struct {
	now func() time.Time
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// UnitBasePrice resolves the undiscounted unit price for a product and size.
// Toppings use their flat price. Other products match the size label
// exactly; an unknown or empty size falls back to the first declared size.
// The second return value is false when no price data exists at all, in
// which case the zero price means "price unknown", not a free item.
func UnitBasePrice(p *models.Product, sizeLabel string) (decimal.Decimal, bool) {
	if p.IsTopping() {
		if p.Price != nil {
			return *p.Price, true
		}
		return decimal.Zero, false
	}

	for _, sp := range p.Sizes {
		if sp.Label == sizeLabel {
			return sp.Price, true
		}
	}
	if len(p.Sizes) > 0 {
		return p.Sizes[0].Price, true
	}
	if p.Price != nil {
		return *p.Price, true
	}
	return decimal.Zero, false
}

// toppingUnitPrice is the lenient variant used when summing toppings: flat
// price if present, else the first size entry, else zero.
func toppingUnitPrice(t *models.Product) decimal.Decimal {
	if t.Price != nil {
		return *t.Price
	}
	if len(t.Sizes) > 0 {
		return t.Sizes[0].Price
	}
	return decimal.Zero
}

// Quote computes the full unit price breakdown for a product with the given
// selection, evaluated at the engine's current clock reading.
func (e *Engine) Quote(p *models.Product, sel Selection) models.PriceBreakdown {
	return e.QuoteAt(p, sel, e.now())
}

// QuoteAt is Quote with an explicit evaluation instant. Checkout calls this
// with the checkout-time clock: a price computed at add-to-cart time is
// provisional and is never carried forward, because a promotion window may
// have opened or closed in between.
func (e *Engine) QuoteAt(p *models.Product, sel Selection, now time.Time) models.PriceBreakdown {
	base, _ := UnitBasePrice(p, sel.SizeLabel)
	finalBase, discounted := ApplyPromotion(base, p.Category, p.Name, now)

	toppingTotal := decimal.Zero
	for _, t := range sel.Toppings {
		toppingTotal = toppingTotal.Add(toppingUnitPrice(t))
	}

	finalPrice := finalBase.Add(toppingTotal).Round(0)
	if finalPrice.IsNegative() {
		finalPrice = decimal.Zero
	}

	return models.PriceBreakdown{
		OriginalBasePrice: base,
		FinalBasePrice:    finalBase,
		ToppingTotal:      toppingTotal,
		FinalPrice:        finalPrice,
		IsDiscounted:      discounted,
	}
}
