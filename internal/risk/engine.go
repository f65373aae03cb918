package risk

import (
	"perpbot/internal/adapter"
	"perpbot/internal/adapter/enum"
	"perpbot/pkg/exception"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
)

// MarketSlippage is added to the reference price of orders without a limit
// price to get their worst case fill price.
var MarketSlippage = decimal.RequireFromString("0.01")

// Reason explains a rejection.
type Reason uint8

const (
	ReasonNone Reason = iota
	ReasonZeroQuantity
	ReasonMissingPrice
	ReasonExceedsBudget
	ReasonExceedsOrderCap
	ReasonUnknownRiskLevel
	ReasonInvalidBudget
	ReasonKillSwitch
	ReasonPriceBand
	ReasonTaskNotRunning
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonZeroQuantity:
		return "zero_quantity"
	case ReasonMissingPrice:
		return "missing_price"
	case ReasonExceedsBudget:
		return "exceeds_budget"
	case ReasonExceedsOrderCap:
		return "exceeds_order_cap"
	case ReasonUnknownRiskLevel:
		return "unknown_risk_level"
	case ReasonInvalidBudget:
		return "invalid_budget"
	case ReasonKillSwitch:
		return "kill_switch"
	case ReasonPriceBand:
		return "price_band"
	case ReasonTaskNotRunning:
		return "task_not_running"
	default:
		return "unknown"
	}
}

// Limits is the risk configuration of one task.
type Limits struct {
	BudgetUSD  decimal.Decimal
	Level      Level
	KillSwitch bool
	// MaxPriceDeviationBps rejects limit prices further than this from the
	// reference price. Zero disables the band.
	MaxPriceDeviationBps int64
}

// View is the market and position state the check runs against.
type View struct {
	// Position is the signed filled quantity; long is positive.
	Position         decimal.Decimal
	OpenBuyNotional  decimal.Decimal
	OpenSellNotional decimal.Decimal
	ReferencePrice   decimal.Decimal
	BestBid          decimal.Decimal
	BestAsk          decimal.Decimal
}

// Decision is the outcome of Check.
type Decision struct {
	Allowed  bool
	Reason   Reason
	Price    decimal.Decimal // worst case price used
	Notional decimal.Decimal // of the order alone
	Exposure decimal.Decimal // of the position after the order and resting orders fill
	Limit    decimal.Decimal
}

// Err returns nil for an allowed decision and an ErrRiskRejected otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	if d.Reason == ReasonUnknownRiskLevel {
		return errors.Wrap(exception.ErrUnknownRiskLevel, d.Reason.String())
	}
	return errors.Wrapf(exception.ErrRiskRejected, "%s (notional %s, exposure %s, limit %s)",
		d.Reason, d.Notional.StringFixed(2), d.Exposure.StringFixed(2), d.Limit.StringFixed(2))
}

func reject(reason Reason) Decision {
	return Decision{Reason: reason}
}

// Check decides whether intent may be submitted. It is a pure function of
// its arguments.
func Check(intent adapter.OrderIntent, view View, limits Limits) Decision {
	if !limits.Level.IsAvailable() {
		return reject(ReasonUnknownRiskLevel)
	}
	if !limits.BudgetUSD.IsPositive() {
		return reject(ReasonInvalidBudget)
	}
	if limits.KillSwitch {
		return reject(ReasonKillSwitch)
	}
	if !intent.Qty.IsPositive() {
		return reject(ReasonZeroQuantity)
	}

	price, ok := worstPrice(intent, view)
	if !ok {
		return reject(ReasonMissingPrice)
	}

	decision := Decision{
		Price:    price,
		Notional: price.Mul(intent.Qty),
	}

	orderCap := limits.BudgetUSD.Mul(limits.Level.OrderCapFraction())
	if decision.Notional.GreaterThan(orderCap) {
		decision.Reason = ReasonExceedsOrderCap
		decision.Limit = orderCap
		return decision
	}

	if exceedsDeviation(intent, view.ReferencePrice, limits.MaxPriceDeviationBps) {
		decision.Reason = ReasonPriceBand
		return decision
	}

	current := view.Position.Mul(price)
	var projected decimal.Decimal
	switch intent.Side {
	case enum.OrderSideBuy:
		projected = current.Add(view.OpenBuyNotional).Add(decision.Notional)
	case enum.OrderSideSell:
		projected = current.Sub(view.OpenSellNotional).Sub(decision.Notional)
	default:
		projected = current
	}

	decision.Exposure = projected.Abs()
	decision.Limit = limits.BudgetUSD.Mul(limits.Level.ExposureMultiplier())
	// orders that shrink the position are always allowed
	if decision.Exposure.GreaterThan(decision.Limit) && decision.Exposure.GreaterThan(current.Abs()) {
		decision.Reason = ReasonExceedsBudget
		return decision
	}

	decision.Allowed = true
	return decision
}

// worstPrice is the limit price, or for orders without one the opposing top
// of book (falling back to the reference price) moved against us by
// MarketSlippage.
func worstPrice(intent adapter.OrderIntent, view View) (decimal.Decimal, bool) {
	if intent.Type.HasLimitPrice() {
		return intent.Price, intent.Price.IsPositive()
	}

	ref := view.ReferencePrice
	switch intent.Side {
	case enum.OrderSideBuy:
		if view.BestAsk.IsPositive() {
			ref = view.BestAsk
		}
	case enum.OrderSideSell:
		if view.BestBid.IsPositive() {
			ref = view.BestBid
		}
	}
	if !ref.IsPositive() {
		ref = intent.TriggerPrice
	}
	if !ref.IsPositive() {
		return decimal.Zero, false
	}
	return ref.Mul(decimal.NewFromInt(1).Add(MarketSlippage)), true
}

func exceedsDeviation(intent adapter.OrderIntent, ref decimal.Decimal, bps int64) bool {
	if bps <= 0 || !ref.IsPositive() || !intent.Type.HasLimitPrice() {
		return false
	}
	diff := intent.Price.Sub(ref).Abs()
	return diff.Mul(decimal.NewFromInt(10_000)).GreaterThan(ref.Mul(decimal.NewFromInt(bps)))
}
