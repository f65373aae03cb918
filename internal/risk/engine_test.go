package risk

import (
	"testing"

	"perpbot/internal/adapter"
	"perpbot/internal/adapter/enum"
	"perpbot/pkg/exception"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func limit(side enum.OrderSide, price, qty string) adapter.OrderIntent {
	return adapter.OrderIntent{
		Symbol: "BTC-USD",
		Side:   side,
		Type:   enum.OrderTypeLimit,
		Price:  d(price),
		Qty:    d(qty),
	}
}

func market(side enum.OrderSide, qty string) adapter.OrderIntent {
	return adapter.OrderIntent{
		Symbol: "BTC-USD",
		Side:   side,
		Type:   enum.OrderTypeMarket,
		Qty:    d(qty),
	}
}

func TestCheck(t *testing.T) {
	budget := Limits{BudgetUSD: d("1000"), Level: LevelAggressive}

	testCases := []struct {
		desc    string
		intent  adapter.OrderIntent
		view    View
		limits  Limits
		allowed bool
		reason  Reason
	}{
		{
			desc:    "within budget",
			intent:  limit(enum.OrderSideBuy, "100", "5"),
			limits:  budget,
			allowed: true,
		},
		{
			desc:    "exactly at order cap is allowed",
			intent:  limit(enum.OrderSideBuy, "100", "10"),
			limits:  budget,
			allowed: true,
		},
		{
			desc:   "order above cap",
			intent: limit(enum.OrderSideBuy, "100", "10.01"),
			limits: budget,
			reason: ReasonExceedsOrderCap,
		},
		{
			desc:   "conservative cap is a quarter",
			intent: limit(enum.OrderSideBuy, "100", "3"),
			limits: Limits{BudgetUSD: d("1000"), Level: LevelConservative},
			reason: ReasonExceedsOrderCap,
		},
		{
			desc:   "position plus order over exposure",
			intent: limit(enum.OrderSideBuy, "100", "4"),
			view:   View{Position: d("5")},
			limits: Limits{BudgetUSD: d("1000"), Level: LevelModerate},
			reason: ReasonExceedsBudget,
		},
		{
			desc:   "resting orders count",
			intent: limit(enum.OrderSideSell, "100", "1"),
			view:   View{OpenSellNotional: d("950")},
			limits: budget,
			reason: ReasonExceedsBudget,
		},
		{
			desc:    "reducing an oversized position is allowed",
			intent:  limit(enum.OrderSideSell, "100", "2"),
			view:    View{Position: d("15")},
			limits:  budget,
			allowed: true,
		},
		{
			desc:   "flipping past the limit is not",
			intent: limit(enum.OrderSideSell, "100", "10"),
			view:   View{Position: d("-1"), OpenSellNotional: d("0.01")},
			limits: budget,
			reason: ReasonExceedsBudget,
		},
		{
			desc:   "zero quantity",
			intent: limit(enum.OrderSideBuy, "100", "0"),
			limits: budget,
			reason: ReasonZeroQuantity,
		},
		{
			desc:   "limit without price",
			intent: limit(enum.OrderSideBuy, "0", "1"),
			limits: budget,
			reason: ReasonMissingPrice,
		},
		{
			desc:   "market without any reference",
			intent: market(enum.OrderSideBuy, "1"),
			limits: budget,
			reason: ReasonMissingPrice,
		},
		{
			desc:   "unknown level",
			intent: limit(enum.OrderSideBuy, "100", "1"),
			limits: Limits{BudgetUSD: d("1000")},
			reason: ReasonUnknownRiskLevel,
		},
		{
			desc:   "zero budget",
			intent: limit(enum.OrderSideBuy, "100", "1"),
			limits: Limits{Level: LevelModerate},
			reason: ReasonInvalidBudget,
		},
		{
			desc:   "kill switch",
			intent: limit(enum.OrderSideBuy, "100", "1"),
			limits: Limits{BudgetUSD: d("1000"), Level: LevelAggressive, KillSwitch: true},
			reason: ReasonKillSwitch,
		},
		{
			desc:   "price band",
			intent: limit(enum.OrderSideBuy, "106", "1"),
			view:   View{ReferencePrice: d("100")},
			limits: Limits{BudgetUSD: d("1000"), Level: LevelAggressive, MaxPriceDeviationBps: 500},
			reason: ReasonPriceBand,
		},
		{
			desc:    "inside price band",
			intent:  limit(enum.OrderSideBuy, "104", "1"),
			view:    View{ReferencePrice: d("100")},
			limits:  Limits{BudgetUSD: d("1000"), Level: LevelAggressive, MaxPriceDeviationBps: 500},
			allowed: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			got := Check(tc.intent, tc.view, tc.limits)
			assert.Equal(t, tc.allowed, got.Allowed, "reason %s", got.Reason)
			if !tc.allowed {
				assert.Equal(t, tc.reason, got.Reason)
				require.Error(t, got.Err())
			} else {
				assert.NoError(t, got.Err())
			}
		})
	}
}

func TestCheckMarketWorstCase(t *testing.T) {
	limits := Limits{BudgetUSD: d("1000"), Level: LevelAggressive}

	// 10 x 100 x 1.01 = 1010 > 1000
	got := Check(market(enum.OrderSideBuy, "10"), View{BestAsk: d("100"), ReferencePrice: d("50")}, limits)
	assert.False(t, got.Allowed)
	assert.Equal(t, ReasonExceedsOrderCap, got.Reason)
	assert.Equal(t, "101", got.Price.String())

	got = Check(market(enum.OrderSideSell, "9"), View{BestBid: d("100")}, limits)
	assert.True(t, got.Allowed)
	assert.Equal(t, "909", got.Notional.String())

	got = Check(market(enum.OrderSideSell, "1"), View{ReferencePrice: d("200")}, limits)
	assert.True(t, got.Allowed)
	assert.Equal(t, "202", got.Price.String())
}

func TestCheckIsPure(t *testing.T) {
	intent := limit(enum.OrderSideBuy, "100", "2")
	view := View{Position: d("1")}
	limits := Limits{BudgetUSD: d("1000"), Level: LevelModerate}
	assert.Equal(t, Check(intent, view, limits), Check(intent, view, limits))
}

func TestDecisionErr(t *testing.T) {
	require.ErrorIs(t, Decision{Reason: ReasonExceedsBudget}.Err(), exception.ErrRiskRejected)
	require.ErrorIs(t, Decision{Reason: ReasonUnknownRiskLevel}.Err(), exception.ErrUnknownRiskLevel)
}

func TestParseLevel(t *testing.T) {
	testCases := []struct {
		in   string
		want Level
	}{
		{"conservative", LevelConservative},
		{" Moderate ", LevelModerate},
		{"AGGRESSIVE", LevelAggressive},
		{"high", LevelAggressive},
	}
	for _, tc := range testCases {
		got, err := ParseLevel(tc.in)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}

	_, err := ParseLevel("yolo")
	require.ErrorIs(t, err, exception.ErrUnknownRiskLevel)

	var l Level
	require.NoError(t, l.UnmarshalText([]byte("moderate")))
	assert.Equal(t, "0.8", l.ExposureMultiplier().String())
	assert.Equal(t, "0.5", l.OrderCapFraction().String())
}
