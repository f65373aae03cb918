package task

import (
	"context"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"perpbot/internal/adapter"
	"perpbot/internal/adapter/enum"
	"perpbot/internal/obs"
	"perpbot/internal/order"
	"perpbot/pkg/exception"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

const (
	DefaultGraceTimeout    = 5 * time.Second
	defaultConfirmInterval = 250 * time.Millisecond
	journalTimeout         = 3 * time.Second
)

// ManagerConfig wires a Manager to its collaborators.
type ManagerConfig struct {
	Market      MarketData
	NewStrategy func(Task) Strategy
	Journal     Journal
	Metrics     *obs.Metrics

	// GraceTimeout bounds how long Stop waits for cancel confirmations.
	GraceTimeout    time.Duration
	ConfirmInterval time.Duration
}

// Manager owns every task record and runs one supervised loop per running
// task. A failing loop only fails its own task.
type Manager struct {
	cfg ManagerConfig

	mu       sync.RWMutex
	entries  map[string]*entry
	gateways map[string]Gateway

	wg sync.WaitGroup
}

type entry struct {
	op     sync.Mutex // serializes lifecycle operations of one task
	task   Task
	orders *order.State
	run    *runner
}

type runner struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func NewManager(cfg ManagerConfig) *Manager {
	if cfg.GraceTimeout <= 0 {
		cfg.GraceTimeout = DefaultGraceTimeout
	}
	if cfg.ConfirmInterval <= 0 {
		cfg.ConfirmInterval = defaultConfirmInterval
	}
	return &Manager{
		cfg:      cfg,
		entries:  make(map[string]*entry),
		gateways: make(map[string]Gateway),
	}
}

// RegisterAccount makes the trading API of an account available to tasks.
func (m *Manager) RegisterAccount(accountID string, gw Gateway) error {
	if gw == nil {
		return errors.Wrapf(exception.ErrNilInstance, "gateway of account %q", accountID)
	}
	if accountID == "" {
		return errors.Wrap(exception.ErrInvalidArgument, "empty account id")
	}
	m.mu.Lock()
	m.gateways[accountID] = gw
	m.mu.Unlock()
	return nil
}

// Add creates a task in Draft.
func (m *Manager) Add(id string, cfg Config) (Task, error) {
	if id == "" {
		return Task{}, errors.Wrap(exception.ErrTaskInvalidConfig, "empty task id")
	}

	m.mu.Lock()
	if _, ok := m.entries[id]; ok {
		m.mu.Unlock()
		return Task{}, errors.Wrapf(exception.ErrTaskExists, "task %q", id)
	}
	e := &entry{
		task:   Task{ID: id, Config: cfg},
		orders: order.NewState(m.cfg.Metrics),
	}
	m.entries[id] = e
	t := m.setStatusLocked(e, StatusDraft, "")
	m.mu.Unlock()

	m.record(context.Background(), t)
	return t, nil
}

// Edit replaces the config of a task and forces it back to Draft. A running
// loop is stopped and its orders cancelled first.
func (m *Manager) Edit(ctx context.Context, id string, cfg Config) (Task, error) {
	e, err := m.lookup(id)
	if err != nil {
		return Task{}, err
	}
	e.op.Lock()
	defer e.op.Unlock()

	prev := m.snapshot(e)
	m.halt(e)

	var msg string
	if prev.Status == StatusRunning || prev.Status == StatusPaused {
		if err := m.cancelOutstanding(ctx, prev, e.orders); err != nil {
			logs.Warnf("task %s: cancel before edit: %+v", id, err)
			msg = err.Error()
		}
	}

	m.mu.Lock()
	e.task.Config = cfg
	t := m.setStatusLocked(e, StatusDraft, msg)
	m.mu.Unlock()

	m.record(ctx, t)
	return t, nil
}

// Save validates a Draft task and moves it to Pending.
func (m *Manager) Save(id string) (Task, error) {
	e, err := m.lookup(id)
	if err != nil {
		return Task{}, err
	}
	e.op.Lock()
	defer e.op.Unlock()

	m.mu.Lock()
	if err := checkTransition(e.task.Status, StatusPending); err != nil {
		m.mu.Unlock()
		return Task{}, errors.Wrapf(err, "save %s", id)
	}
	if err := e.task.Config.Validate(); err != nil {
		m.mu.Unlock()
		return Task{}, errors.Wrapf(err, "save %s", id)
	}
	if _, ok := m.gateways[e.task.AccountID]; !ok {
		m.mu.Unlock()
		return Task{}, errors.Wrapf(exception.ErrUnknownAccount, "task %s: account %q", id, e.task.AccountID)
	}
	t := m.setStatusLocked(e, StatusPending, "")
	m.mu.Unlock()

	m.record(context.Background(), t)
	return t, nil
}

// Start launches the loop of a Pending or Paused task. The loop lives until
// the task is paused, stopped or edited, or ctx is done.
func (m *Manager) Start(ctx context.Context, id string) error {
	e, err := m.lookup(id)
	if err != nil {
		return err
	}
	e.op.Lock()
	defer e.op.Unlock()
	return m.start(ctx, e)
}

// Resume restarts a Paused task.
func (m *Manager) Resume(ctx context.Context, id string) error {
	e, err := m.lookup(id)
	if err != nil {
		return err
	}
	e.op.Lock()
	defer e.op.Unlock()

	if status := m.snapshot(e).Status; status != StatusPaused {
		return errors.Wrapf(exception.ErrInvalidTransition, "resume %s: task is %s", id, status)
	}
	return m.start(ctx, e)
}

func (m *Manager) start(ctx context.Context, e *entry) error {
	m.mu.Lock()
	if err := checkTransition(e.task.Status, StatusRunning); err != nil {
		m.mu.Unlock()
		return errors.Wrapf(err, "start %s", e.task.ID)
	}
	gw, ok := m.gateways[e.task.AccountID]
	if !ok {
		m.mu.Unlock()
		return errors.Wrapf(exception.ErrUnknownAccount, "task %s: account %q", e.task.ID, e.task.AccountID)
	}
	t := m.setStatusLocked(e, StatusRunning, "")

	var strat Strategy
	if m.cfg.NewStrategy != nil {
		strat = m.cfg.NewStrategy(t)
	}
	runCtx, cancel := context.WithCancel(ctx)
	r := &runner{cancel: cancel, done: make(chan struct{})}
	e.run = r
	m.wg.Add(1)
	m.mu.Unlock()

	m.record(ctx, t)
	w := &worker{m: m, task: t, gw: gw, strat: strat, orders: e.orders}
	go m.supervise(runCtx, e, r, w)
	return nil
}

// Pause stops the loop of a Running task. Resting orders stay on the book.
func (m *Manager) Pause(id string) error {
	e, err := m.lookup(id)
	if err != nil {
		return err
	}
	e.op.Lock()
	defer e.op.Unlock()

	if err := checkTransition(m.snapshot(e).Status, StatusPaused); err != nil {
		return errors.Wrapf(err, "pause %s", id)
	}
	m.halt(e)

	m.mu.Lock()
	if err := checkTransition(e.task.Status, StatusPaused); err != nil {
		m.mu.Unlock()
		return errors.Wrapf(err, "pause %s", id)
	}
	t := m.setStatusLocked(e, StatusPaused, "")
	m.mu.Unlock()

	m.record(context.Background(), t)
	return nil
}

// Stop ends a non-terminal task. Outstanding orders are cancelled and the
// task ends Stopped once the exchange confirms, or once the grace timeout
// passes, in which case the returned error is also kept as LastError.
func (m *Manager) Stop(ctx context.Context, id string) error {
	e, err := m.lookup(id)
	if err != nil {
		return err
	}
	e.op.Lock()
	defer e.op.Unlock()

	prev := m.snapshot(e)
	if err := checkTransition(prev.Status, StatusStopped); err != nil {
		return errors.Wrapf(err, "stop %s", id)
	}
	m.halt(e)

	var cancelErr error
	if prev.Status != StatusPending {
		cancelErr = m.cancelOutstanding(ctx, prev, e.orders)
	}

	m.mu.Lock()
	if err := checkTransition(e.task.Status, StatusStopped); err != nil {
		m.mu.Unlock()
		return errors.Wrapf(err, "stop %s", id)
	}
	var msg string
	if cancelErr != nil {
		msg = cancelErr.Error()
	}
	t := m.setStatusLocked(e, StatusStopped, msg)
	m.mu.Unlock()

	m.record(ctx, t)
	return cancelErr
}

// StopAll stops every active task and returns the first failure.
func (m *Manager) StopAll(ctx context.Context) error {
	var first error
	for _, t := range m.List() {
		if !t.Status.IsActive() {
			continue
		}
		if err := m.Stop(ctx, t.ID); err != nil {
			logs.Errorf("task %s: stop: %+v", t.ID, err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// Get returns a copy of a task.
func (m *Manager) Get(id string) (Task, error) {
	e, err := m.lookup(id)
	if err != nil {
		return Task{}, err
	}
	return m.snapshot(e), nil
}

// List returns copies of every task sorted by id.
func (m *Manager) List() []Task {
	m.mu.RLock()
	out := make([]Task, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.task)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Orders returns the order state of a task for read access.
func (m *Manager) Orders(id string) (*order.State, error) {
	e, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	return e.orders, nil
}

// Wait blocks until every loop has exited.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) lookup(id string) (*entry, error) {
	m.mu.RLock()
	e, ok := m.entries[id]
	m.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(exception.ErrTaskNotFound, "task %q", id)
	}
	return e, nil
}

func (m *Manager) snapshot(e *entry) Task {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return e.task
}

func (m *Manager) status(id string) Status {
	e, err := m.lookup(id)
	if err != nil {
		return 0
	}
	return m.snapshot(e).Status
}

func (m *Manager) setStatusLocked(e *entry, s Status, lastError string) Task {
	e.task.Status = s
	e.task.LastError = lastError
	e.task.UpdatedAt = time.Now()
	m.cfg.Metrics.SetTaskStatus(e.task.ID, s.String())
	if lastError != "" {
		logs.Warnf("task %s: %s (%s)", e.task.ID, s, lastError)
	} else {
		logs.Infof("task %s: %s", e.task.ID, s)
	}
	return e.task
}

// halt cancels the loop of e, if any, and waits for it to exit. The loop
// leaves the status to the caller.
func (m *Manager) halt(e *entry) {
	m.mu.Lock()
	r := e.run
	e.run = nil
	m.mu.Unlock()
	if r == nil {
		return
	}
	r.cancel()
	<-r.done
}

func (m *Manager) owns(e *entry, r *runner) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return e.run == r
}

// supervise runs one loop and settles the task when the loop ends on its own.
func (m *Manager) supervise(ctx context.Context, e *entry, r *runner, w *worker) {
	defer m.wg.Done()
	defer close(r.done)
	defer r.cancel()

	err := m.safeRun(ctx, w)
	if !m.owns(e, r) {
		return
	}

	cancelErr := m.cancelOutstanding(context.WithoutCancel(ctx), w.task, w.orders)
	final, msg := StatusStopped, ""
	switch {
	case err != nil:
		final, msg = StatusFailed, err.Error()
	case cancelErr != nil:
		msg = cancelErr.Error()
	}

	m.mu.Lock()
	if e.run != r {
		m.mu.Unlock()
		return
	}
	e.run = nil
	t := m.setStatusLocked(e, final, msg)
	m.mu.Unlock()

	m.record(context.WithoutCancel(ctx), t)
}

func (m *Manager) safeRun(ctx context.Context, w *worker) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			logs.Errorf("task %s: panic: %v\n%s", w.task.ID, rec, debug.Stack())
			err = errors.Errorf("panic: %v", rec)
		}
	}()
	return w.run(ctx)
}

// cancelOutstanding cancels every order of the task symbol and polls open
// orders until none are left or the grace timeout passes.
func (m *Manager) cancelOutstanding(ctx context.Context, t Task, orders *order.State) error {
	m.mu.RLock()
	gw, ok := m.gateways[t.AccountID]
	m.mu.RUnlock()
	if !ok {
		return errors.Wrapf(exception.ErrUnknownAccount, "task %s: account %q", t.ID, t.AccountID)
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.GraceTimeout)
	defer cancel()

	ids, err := gw.CancelAll(ctx, t.Symbol)
	if err != nil {
		if ctx.Err() != nil {
			return errors.Wrapf(exception.ErrCancelTimeout, "task %s: cancel all: %v", t.ID, err)
		}
		return errors.Wrapf(err, "task %s: cancel all", t.ID)
	}
	if len(ids) > 0 {
		logs.Infof("task %s: cancel requested for %d orders", t.ID, len(ids))
	}

	ticker := time.NewTicker(m.cfg.ConfirmInterval)
	defer ticker.Stop()

	remaining := -1
	for {
		open, err := gw.OpenOrders(ctx, t.Symbol)
		if err == nil {
			remaining = m.reconcile(ctx, t, orders, open)
			if remaining == 0 {
				return nil
			}
		} else if ctx.Err() == nil {
			logs.Warnf("task %s: poll open orders: %+v", t.ID, err)
		}

		select {
		case <-ctx.Done():
			return errors.Wrapf(exception.ErrCancelTimeout, "task %s: %d orders still open after %s",
				t.ID, remaining, m.cfg.GraceTimeout)
		case <-ticker.C:
		}
	}
}

// reconcile folds the exchange open order list into the local state and
// returns how many of the task's orders are still listed. Listed orders the
// task never placed are left alone. Local open orders the exchange no longer
// lists are marked canceled.
func (m *Manager) reconcile(ctx context.Context, t Task, orders *order.State, open []adapter.OrderUpdateData) int {
	listed := make(map[string]struct{}, len(open))
	for _, u := range open {
		if _, ok := orders.Get(u.ID); !ok {
			continue
		}
		listed[u.ID] = struct{}{}
		if o, outcome, err := orders.Apply(u); err == nil && outcome != order.OutcomeIgnored {
			m.recordOrder(ctx, t.ID, o)
		}
	}

	for _, o := range orders.Open(t.Symbol) {
		if _, ok := listed[o.ID]; ok {
			continue
		}
		gone := adapter.OrderUpdateData{
			ID:        o.ID,
			Symbol:    o.Symbol,
			Side:      o.Side,
			Status:    enum.OrderStatusCanceled,
			Type:      o.Type,
			Qty:       o.Qty,
			FilledQty: o.FilledQty,
			Price:     o.Price,
		}
		if o, outcome, err := orders.Apply(gone); err == nil && outcome != order.OutcomeIgnored {
			m.recordOrder(ctx, t.ID, o)
		}
	}
	return len(listed)
}

func (m *Manager) record(ctx context.Context, t Task) {
	if m.cfg.Journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, journalTimeout)
	defer cancel()
	if err := m.cfg.Journal.SaveTask(ctx, t); err != nil {
		logs.Warnf("task %s: journal task: %+v", t.ID, err)
	}
}

func (m *Manager) recordOrder(ctx context.Context, taskID string, o order.Order) {
	if m.cfg.Journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, journalTimeout)
	defer cancel()
	if err := m.cfg.Journal.SaveOrder(ctx, taskID, o); err != nil {
		logs.Warnf("task %s: journal order %s: %+v", taskID, o.ID, err)
	}
}
