package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataMerge(t *testing.T) {
	base := Metadata{"channel": "return", "billingCycle": "monthly"}
	patch := Metadata{"channel": "ipn", "gatewayTransactionId": "14012345"}

	merged := base.Merge(patch)

	assert.Equal(t, Metadata{
		"channel":              "ipn",
		"billingCycle":         "monthly",
		"gatewayTransactionId": "14012345",
	}, merged)
	assert.Equal(t, "return", base["channel"], "receiver must not be modified")
	assert.Len(t, patch, 2, "patch must not be modified")
}

func TestMetadataMergeNil(t *testing.T) {
	var m Metadata
	assert.Equal(t, Metadata{"a": "1"}, m.Merge(Metadata{"a": "1"}))
	assert.Equal(t, Metadata{}, m.Merge(nil))
}

func TestPeriodEnd(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	providerEnd := time.Date(2026, 4, 15, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, LifetimePeriodEnd, PeriodEnd(PlanLifetime, "", now, &providerEnd))
	assert.Equal(t, now.AddDate(0, 0, 30), PeriodEnd(PlanPro, CycleMonthly, now, nil))
	assert.Equal(t, now.AddDate(0, 0, 365), PeriodEnd(PlanPro, CycleYearly, now, nil))
	assert.Equal(t, providerEnd, PeriodEnd(PlanPro, CycleMonthly, now, &providerEnd))
}

func TestPriceFor(t *testing.T) {
	cases := []struct {
		plan     Plan
		cycle    BillingCycle
		currency string
		minor    int64
	}{
		{PlanPro, CycleMonthly, "USD", 999},
		{PlanPro, "", "VND", 200000},
		{PlanPro, CycleYearly, "USD", 9900},
		{PlanLifetime, CycleYearly, "VND", 4990000},
		{PlanLifetime, "", "USD", 19900},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%s/%s/%s", tc.plan, tc.cycle, tc.currency), func(t *testing.T) {
			price, err := PriceFor(tc.plan, tc.cycle, tc.currency)
			require.NoError(t, err)
			minor, err := price.MinorUnits()
			require.NoError(t, err)
			assert.Equal(t, tc.minor, minor)
		})
	}

	_, err := PriceFor("GOLD", CycleMonthly, "USD")
	assert.Error(t, err)
	_, err = PriceFor(PlanPro, CycleMonthly, "JPY")
	assert.Error(t, err)
}

func TestMinorUnitsRejectsSubUnitPrices(t *testing.T) {
	_, err := Price{Currency: "VND", Amount: decimal.RequireFromString("1000.5")}.MinorUnits()
	assert.Error(t, err)
}

func TestAppErrorUnwrap(t *testing.T) {
	err := fmt.Errorf("checkout: %w", ErrBadGateway("failed to create payment", ErrGatewayUnavailable))

	appErr, ok := AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, 502, appErr.Code)
	assert.True(t, errors.Is(err, ErrGatewayUnavailable))
}
