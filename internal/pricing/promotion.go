package pricing

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Promotion rules, evaluated in order against the same instant; a later
// match overwrites an earlier one. Weekday and weekend rules can never both
// fire because they are disjoint by day-of-week.
//
// Hours are read from the instant's wall clock as-is; no timezone
// normalization happens here. The server's local zone is the promotional
// zone.

var (
	weekdayDiscount = decimal.NewFromFloat(0.85)
	weekendMilkTea  = decimal.NewFromInt(20000)
)

// Keyword variants: catalog text may be stored with or without diacritics,
// so both spellings must be checked. This dual match is required behavior.
var (
	coffeeKeywords  = []string{"cà phê", "ca phe", "coffee"}
	milkTeaKeywords = []string{"trà sữa", "tra sua", "milk tea", "milk_tea"}
)

func denotes(category, name string, keywords []string) bool {
	cat := strings.ToLower(category)
	nm := strings.ToLower(name)
	for _, kw := range keywords {
		if strings.Contains(cat, kw) || strings.Contains(nm, kw) {
			return true
		}
	}
	return false
}

func isWeekday(d time.Weekday) bool {
	return d >= time.Monday && d <= time.Friday
}

// ApplyPromotion adjusts a unit base price according to the shop's
// promotional calendar:
//
//   - Mon-Fri, 05:00-07:59: coffee is 15% off, rounded to the nearest dong.
//   - Mon-Fri, 15:00-18:59: milk tea is 15% off.
//   - Sat-Sun, any hour: milk tea is a flat 20,000, whatever the size price.
//
// Pure function of its arguments; the returned flag reports whether any
// rule fired.
func ApplyPromotion(basePrice decimal.Decimal, category, name string, now time.Time) (decimal.Decimal, bool) {
	price := basePrice
	fired := false

	day := now.Weekday()
	hour := now.Hour()

	if isWeekday(day) {
		if denotes(category, name, coffeeKeywords) && hour >= 5 && hour < 8 {
			price = basePrice.Mul(weekdayDiscount).Round(0)
			fired = true
		}
		if denotes(category, name, milkTeaKeywords) && hour >= 15 && hour < 19 {
			price = basePrice.Mul(weekdayDiscount).Round(0)
			fired = true
		}
	} else {
		if denotes(category, name, milkTeaKeywords) {
			price = weekendMilkTea
			fired = true
		}
	}

	return price, fired
}
