package task

import (
	"context"
	"time"

	"perpbot/internal/adapter"
	"perpbot/internal/order"
	"perpbot/internal/risk"
	"perpbot/pkg/exception"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
)

// Config is the editable part of a task.
type Config struct {
	AccountID string
	Symbol    string
	Risk      risk.Limits
}

func (c Config) Validate() error {
	if c.AccountID == "" {
		return errors.Wrap(exception.ErrTaskInvalidConfig, "empty account id")
	}
	if c.Symbol == "" {
		return errors.Wrap(exception.ErrTaskInvalidConfig, "empty symbol")
	}
	if !c.Risk.Level.IsAvailable() {
		return errors.Wrap(exception.ErrTaskInvalidConfig, "unknown risk level")
	}
	if !c.Risk.BudgetUSD.IsPositive() {
		return errors.Wrapf(exception.ErrTaskInvalidConfig, "non-positive budget %s", c.Risk.BudgetUSD)
	}
	return nil
}

// Task is one trading strategy instance for an (account, symbol) pair.
type Task struct {
	ID string
	Config

	Status    Status
	LastError string
	UpdatedAt time.Time
}

// View is what a strategy sees when it is asked for intents.
type View struct {
	Task      Task
	Position  decimal.Decimal // signed filled quantity
	Open      []order.Order
	LastPrice *adapter.PriceData
	LastDepth *adapter.DepthBookData
}

// Strategy turns market updates into order intents. It runs on the task
// loop goroutine and must not block for long.
type Strategy interface {
	OnUpdate(ctx context.Context, view View, u adapter.Update) []adapter.OrderIntent
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(ctx context.Context, view View, u adapter.Update) []adapter.OrderIntent

func (f StrategyFunc) OnUpdate(ctx context.Context, view View, u adapter.Update) []adapter.OrderIntent {
	return f(ctx, view, u)
}

// Gateway is the trading API of one account. *trade.Client satisfies it.
type Gateway interface {
	PlaceOrder(ctx context.Context, intent adapter.OrderIntent) (adapter.OrderAck, error)
	CancelAll(ctx context.Context, symbol string) ([]string, error)
	OpenOrders(ctx context.Context, symbol string) ([]adapter.OrderUpdateData, error)
}

// Journal persists task transitions and order changes.
type Journal interface {
	SaveTask(ctx context.Context, t Task) error
	SaveOrder(ctx context.Context, taskID string, o order.Order) error
}
