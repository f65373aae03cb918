package journal

import (
	"context"
	"time"

	"perpbot/internal/order"
	"perpbot/internal/task"
	"perpbot/pkg/exception"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TaskRecord is the last known state of a task.
type TaskRecord struct {
	ID        string    `gorm:"primaryKey;size:64"`
	AccountID string    `gorm:"size:64;index"`
	Symbol    string    `gorm:"size:32"`
	Status    string    `gorm:"size:16"`
	LastError string    `gorm:"type:text"`
	UpdatedAt time.Time `gorm:"autoUpdateTime:false"`
}

// OrderRecord is the last known state of an order placed or seen by a task.
type OrderRecord struct {
	OrderID       string          `gorm:"primaryKey;size:64"`
	TaskID        string          `gorm:"size:64;index"`
	ClientOrderID string          `gorm:"size:64"`
	Symbol        string          `gorm:"size:32"`
	Side          string          `gorm:"size:8"`
	Type          string          `gorm:"size:16"`
	Status        string          `gorm:"size:20"`
	Qty           decimal.Decimal `gorm:"type:numeric"`
	FilledQty     decimal.Decimal `gorm:"type:numeric"`
	Price         decimal.Decimal `gorm:"type:numeric"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime:false"`
}

func newTaskRecord(t task.Task) TaskRecord {
	return TaskRecord{
		ID:        t.ID,
		AccountID: t.AccountID,
		Symbol:    t.Symbol,
		Status:    t.Status.String(),
		LastError: t.LastError,
		UpdatedAt: t.UpdatedAt.UTC(),
	}
}

func newOrderRecord(taskID string, o order.Order, now time.Time) OrderRecord {
	return OrderRecord{
		OrderID:       o.ID,
		TaskID:        taskID,
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Side:          o.Side.String(),
		Type:          o.Type.String(),
		Status:        o.Status.String(),
		Qty:           o.Qty,
		FilledQty:     o.FilledQty,
		Price:         o.Price,
		UpdatedAt:     now.UTC(),
	}
}

// Journal writes task transitions and order changes to postgres. Every
// write is an upsert by primary key, so the tables hold the latest state.
type Journal struct {
	db  *gorm.DB
	now func() time.Time
}

func New(db *gorm.DB) (*Journal, error) {
	if db == nil {
		return nil, errors.Wrap(exception.ErrNilInstance, "journal db")
	}
	return &Journal{db: db, now: time.Now}, nil
}

// Migrate creates or updates the journal tables.
func (j *Journal) Migrate(ctx context.Context) error {
	if err := j.db.WithContext(ctx).AutoMigrate(&TaskRecord{}, &OrderRecord{}); err != nil {
		return errors.Wrapf(exception.ErrJournal, "migrate journal: %s", err.Error())
	}
	return nil
}

func (j *Journal) SaveTask(ctx context.Context, t task.Task) error {
	rec := newTaskRecord(t)
	if err := j.upsert(ctx).Create(&rec).Error; err != nil {
		return errors.Wrapf(exception.ErrJournal, "save task %s: %s", t.ID, err.Error())
	}
	return nil
}

func (j *Journal) SaveOrder(ctx context.Context, taskID string, o order.Order) error {
	rec := newOrderRecord(taskID, o, j.now())
	if err := j.upsert(ctx).Create(&rec).Error; err != nil {
		return errors.Wrapf(exception.ErrJournal, "save order %s: %s", o.ID, err.Error())
	}
	return nil
}

// Tasks returns every task record ordered by id.
func (j *Journal) Tasks(ctx context.Context) ([]TaskRecord, error) {
	var out []TaskRecord
	if err := j.db.WithContext(ctx).Order("id").Find(&out).Error; err != nil {
		return nil, errors.Wrapf(exception.ErrJournal, "list tasks: %s", err.Error())
	}
	return out, nil
}

// Orders returns the order records of a task ordered by order id.
func (j *Journal) Orders(ctx context.Context, taskID string) ([]OrderRecord, error) {
	var out []OrderRecord
	if err := j.db.WithContext(ctx).Where("task_id = ?", taskID).Order("order_id").Find(&out).Error; err != nil {
		return nil, errors.Wrapf(exception.ErrJournal, "list orders of %s: %s", taskID, err.Error())
	}
	return out, nil
}

func (j *Journal) upsert(ctx context.Context) *gorm.DB {
	return j.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true})
}
