package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Price is a major-unit amount in one currency.
type Price struct {
	Currency string          `json:"currency"`
	Amount   decimal.Decimal `json:"amount"`
}

// currencyExponents holds the number of minor-unit digits per currency.
var currencyExponents = map[string]int32{
	"USD": 2,
	"EUR": 2,
	"VND": 0,
}

// MinorUnits converts the price to the smallest currency unit.
func (p Price) MinorUnits() (int64, error) {
	exp, ok := currencyExponents[p.Currency]
	if !ok {
		return 0, fmt.Errorf("unsupported currency %q", p.Currency)
	}
	minor := p.Amount.Shift(exp)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, fmt.Errorf("price %s %s is finer than the currency allows", p.Amount, p.Currency)
	}
	return minor.IntPart(), nil
}

// PlanOffer describes one plan in the catalog.
type PlanOffer struct {
	ID       Plan                    `json:"id"`
	Name     string                  `json:"name"`
	Features []string                `json:"features"`
	Prices   map[BillingCycle][]Price `json:"prices"`
	Popular  bool                    `json:"popular"`
}

// oneOff is the cycle key used for plans that do not renew.
const oneOff BillingCycle = "once"

// AvailablePlans returns the purchasable plans.
func AvailablePlans() []PlanOffer {
	return []PlanOffer{
		{
			ID:       PlanPro,
			Name:     "Pro",
			Features: []string{"Custom domain", "Unlimited projects", "Analytics"},
			Prices: map[BillingCycle][]Price{
				CycleMonthly: {
					{Currency: "USD", Amount: decimal.RequireFromString("9.99")},
					{Currency: "VND", Amount: decimal.NewFromInt(200000)},
				},
				CycleYearly: {
					{Currency: "USD", Amount: decimal.RequireFromString("99.00")},
					{Currency: "VND", Amount: decimal.NewFromInt(2000000)},
				},
			},
			Popular: true,
		},
		{
			ID:       PlanLifetime,
			Name:     "Lifetime",
			Features: []string{"Everything in Pro", "One-time payment"},
			Prices: map[BillingCycle][]Price{
				oneOff: {
					{Currency: "USD", Amount: decimal.RequireFromString("199.00")},
					{Currency: "VND", Amount: decimal.NewFromInt(4990000)},
				},
			},
		},
	}
}

// FindPlan looks a plan up by id.
func FindPlan(id Plan) (PlanOffer, bool) {
	for _, p := range AvailablePlans() {
		if p.ID == id {
			return p, true
		}
	}
	return PlanOffer{}, false
}

// PriceFor returns the price of plan for cycle in currency. Cycle is ignored
// for one-off plans and defaults to monthly for recurring ones.
func PriceFor(plan Plan, cycle BillingCycle, currency string) (Price, error) {
	offer, ok := FindPlan(plan)
	if !ok {
		return Price{}, fmt.Errorf("unknown plan %q", plan)
	}
	switch {
	case !plan.Recurring():
		cycle = oneOff
	case cycle == "":
		cycle = CycleMonthly
	}
	for _, p := range offer.Prices[cycle] {
		if p.Currency == currency {
			return p, nil
		}
	}
	return Price{}, fmt.Errorf("plan %s has no %s price in %s", plan, cycle, currency)
}
