package warehouse

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"warehouse.ai/internal/protocol"
	"warehouse.ai/internal/sim/employee"
	"warehouse.ai/internal/sim/grid"
	"warehouse.ai/internal/sim/orders"
	"warehouse.ai/internal/sim/tuning"
)

// Rejection parts.
const (
	PartStaffing   = "staffing"
	PartAssignment = "assignment"
	PartLayoutSwap = "layout_swap"
)

// layoutStream is the PCG stream used for the initial inventory shuffle; the
// order generator draws from its own stream.
const layoutStream = 0x2545f4914f6cdd1d

type Ledger struct {
	Revenue  float64
	Cost     float64
	BurnRate float64 // labor cost of the last tick
}

func (l Ledger) Profit() float64 { return l.Revenue - l.Cost }

type counters struct {
	completed int
	cancelled int
	generated int
	swaps     int
	rejected  int
}

// conservation tracks every way an item type enters or leaves the floor.
type conservation struct {
	initial   []int
	restocked []int
	shipped   []int
	scrapped  []int
}

func newConservation(n int) conservation {
	return conservation{
		initial:   make([]int, n),
		restocked: make([]int, n),
		shipped:   make([]int, n),
		scrapped:  make([]int, n),
	}
}

func sum(v []int) int {
	n := 0
	for _, x := range v {
		n += x
	}
	return n
}

// Env is one warehouse simulation. It is not safe for concurrent use; Runner
// owns an Env from a single goroutine.
type Env struct {
	tune tuning.Tuning
	seed int64
	tick int

	grid      *grid.Grid
	traffic   *employee.Traffic
	floor     *employee.Floor
	queue     *orders.Queue
	gen       *orders.Generator
	restocker Restocker

	employees      []*employee.Employee // ascending id
	nextEmployeeID int

	ledger   Ledger
	counters counters
	cons     conservation
	lastSwap *protocol.SwapInfo
	stats    *Stats
}

// New builds an env from validated tuning and resets it with t.Seed.
func New(t tuning.Tuning) (*Env, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	g, err := grid.New(t.Grid.Width, t.Grid.Height, t.Grid.NumItemTypes)
	if err != nil {
		return nil, err
	}
	gen, err := orders.NewGenerator(t.Orders, t.Grid.NumItemTypes, uint64(t.Seed))
	if err != nil {
		return nil, err
	}
	traffic := employee.NewTraffic()
	e := &Env{
		tune:      t,
		grid:      g,
		traffic:   traffic,
		floor:     &employee.Floor{Grid: g, Traffic: traffic, Params: employee.ParamsFrom(t.Employee)},
		queue:     orders.NewQueue(),
		gen:       gen,
		restocker: NewRestocker(t.Restock),
	}
	if _, err := e.Reset(t.Seed); err != nil {
		return nil, err
	}
	return e, nil
}

// SetRestocker replaces the restock policy. Pending restocks of the previous
// policy are dropped.
func (e *Env) SetRestocker(r Restocker) {
	if r == nil {
		r = noRestock{}
	}
	e.restocker = r
}

func (e *Env) Tuning() tuning.Tuning           { return e.tune }
func (e *Env) Seed() int64                     { return e.seed }
func (e *Env) Tick() int                       { return e.tick }
func (e *Env) Grid() *grid.Grid                { return e.grid }
func (e *Env) Queue() *orders.Queue            { return e.queue }
func (e *Env) Generator() *orders.Generator    { return e.gen }
func (e *Env) Ledger() Ledger                  { return e.ledger }
func (e *Env) Employees() []*employee.Employee { return e.employees }

func (e *Env) Employee(id int) *employee.Employee {
	for _, emp := range e.employees {
		if emp.ID == id {
			return emp
		}
	}
	return nil
}

// Reset starts a new episode: fresh inventory placement, empty queue,
// initial headcount, zeroed ledger and tick counter.
func (e *Env) Reset(seed int64) (protocol.Observation, error) {
	e.seed = seed
	e.tick = 0
	e.grid.ResetTelemetry()
	e.grid.Populate(rand.New(rand.NewPCG(uint64(seed), layoutStream)))
	e.gen.Reseed(uint64(seed))
	e.queue.Reset()
	e.traffic.Reset()
	e.restocker.Restore(nil)
	e.employees = nil
	e.nextEmployeeID = 1
	e.ledger = Ledger{}
	e.counters = counters{}
	e.lastSwap = nil
	e.stats = NewStats(statsBucketTicks, statsWindowTicks)

	e.cons = newConservation(e.grid.NumItemTypes())
	for t, loc := range e.grid.ItemLocations() {
		if loc >= 0 {
			e.cons.initial[t] = 1
		}
	}

	for i := 0; i < e.tune.Staffing.InitialWorkers; i++ {
		if _, err := e.hire(employee.Worker); err != nil {
			return protocol.Observation{}, fmt.Errorf("initial staffing: %w", err)
		}
	}
	for i := 0; i < e.tune.Staffing.InitialManagers; i++ {
		if _, err := e.hire(employee.Manager); err != nil {
			return protocol.Observation{}, fmt.Errorf("initial staffing: %w", err)
		}
	}
	return e.observe(), nil
}

type StepResult struct {
	// Tick is the tick that was executed; the env is now at Tick+1.
	Tick       int
	Obs        protocol.Observation
	Reward     float64
	Done       bool
	Truncated  bool
	Info       protocol.Info
	Rejections []protocol.Rejection

	Hired []int
	Fired []int
	// Swap is set when a relocation completed during this tick.
	Swap *protocol.SwapInfo
}

// Msg wraps the result for the wire.
func (r StepResult) Msg(digest string, lastSwap *protocol.SwapInfo) protocol.ObsMsg {
	return protocol.ObsMsg{
		Type:            protocol.TypeObs,
		ProtocolVersion: protocol.Version,
		Tick:            r.Tick,
		Observation:     r.Obs,
		Reward:          r.Reward,
		Done:            r.Done,
		Truncated:       r.Truncated,
		Info:            r.Info,
		Rejections:      r.Rejections,
		LastSwapInfo:    lastSwap,
		Digest:          digest,
	}
}

// tickCtx accumulates the per-tick deltas that feed the reward.
type tickCtx struct {
	now       int
	res       *StepResult
	revenue   float64
	completed int
	cancelled int
}

// Step executes one tick. Sub-actions that fail are reported in Rejections
// and otherwise ignored; Step itself never fails.
func (e *Env) Step(a Action) StepResult {
	res := StepResult{Tick: e.tick}
	c := &tickCtx{now: e.tick, res: &res}

	e.applyStaffing(c, a.Staffing)
	e.applyAssignments(c, a.OrderAssignments)
	e.applySwap(c, a.LayoutSwap)
	e.generateOrders(c)
	e.stepEmployees(c)
	e.applyRestocks(c)

	labor := e.laborCost()
	e.ledger.Cost += labor
	e.ledger.BurnRate = labor
	e.tick++

	rw := e.tune.Reward
	res.Reward = rw.ProfitWeight*(c.revenue-labor) +
		rw.ServiceWeight*rw.ServiceUnit*float64(c.completed-c.cancelled)
	res.Obs = e.observe()
	res.Info = e.info()
	res.Done = e.ledger.Profit() < e.tune.Episode.BankruptcyThreshold
	res.Truncated = e.tick >= e.tune.Episode.LengthTicks
	return res
}

func (e *Env) reject(c *tickCtx, part string, err error) {
	e.counters.rejected++
	c.res.Rejections = append(c.res.Rejections, protocol.Rejection{
		Part:   part,
		Code:   codeOf(err),
		Detail: err.Error(),
	})
}

// codeOf maps the simulation error taxonomy onto wire codes.
func codeOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, grid.ErrInvalidSwap):
		return protocol.ErrInvalidSwap
	case errors.Is(err, grid.ErrUnreachable):
		return protocol.ErrUnreachable
	case errors.Is(err, grid.ErrNotFound):
		return protocol.ErrNotFound
	case errors.Is(err, grid.ErrInvalidAction):
		return protocol.ErrInvalidAction
	default:
		return protocol.ErrInternal
	}
}

func (e *Env) headcount() (workers, managers int) {
	for _, emp := range e.employees {
		if emp.IsManager() {
			managers++
		} else {
			workers++
		}
	}
	return workers, managers
}

func (e *Env) laborCost() float64 {
	w, m := e.headcount()
	s := e.tune.Staffing
	return float64(w)*s.WorkerSalary + float64(m)*s.ManagerSalary
}

func (e *Env) generateOrders(c *tickCtx) {
	for _, d := range e.gen.Tick() {
		e.queue.Add(d.Items, d.Value, c.now)
		e.counters.generated++
	}
	expired := e.queue.ExpireOlderThan(c.now, e.tune.Orders.TimeoutTicks)
	c.cancelled += len(expired)
	e.counters.cancelled += len(expired)
	e.stats.RecordCancelled(c.now, len(expired))
}

func (e *Env) stepEmployees(c *tickCtx) {
	e.traffic.BeginTick()
	for _, emp := range e.employees {
		r := emp.Step(e.floor)
		if r.Picked != nil {
			e.restocker.Schedule(c.now, *r.Picked, r.PickedFrom)
			e.stats.RecordPick(c.now)
		}
		if r.Delivered != nil {
			e.deliver(c, r.Delivered)
		}
		if r.Swap != nil {
			e.finishSwap(c, r.Swap)
		}
		if r.Abandoned != nil {
			e.returnOrder(emp.Pos, r.Abandoned)
		}
		if r.RelocationFailed != nil {
			e.reject(c, PartLayoutSwap, r.RelocationFailed)
		}
		e.scrap(r.Scrapped)
	}
}

func (e *Env) deliver(c *tickCtx, d *employee.Delivery) {
	for _, t := range d.Items {
		e.cons.shipped[t]++
	}
	o, err := e.queue.Complete(d.OrderID)
	if err != nil {
		return
	}
	e.ledger.Revenue += o.Value
	e.grid.RecordOrder(o.Items)
	e.counters.completed++
	c.revenue += o.Value
	c.completed++
	e.stats.RecordCompleted(c.now, o.Value)
}

func (e *Env) finishSwap(c *tickCtx, s *employee.SwapRecord) {
	info := &protocol.SwapInfo{
		Tick:       c.now,
		ManagerID:  s.ManagerID,
		SourcePos:  [2]int{s.SourcePos.X, s.SourcePos.Y},
		SourceItem: int(s.SourceItemBefore),
		TargetPos:  [2]int{s.TargetPos.X, s.TargetPos.Y},
		TargetItem: int(s.TargetItemBefore),
	}
	e.counters.swaps++
	e.lastSwap = info
	c.res.Swap = info
	e.stats.RecordSwap(c.now)
}

// returnOrder puts an abandoned order back to Pending and its carried items
// back on the racks.
func (e *Env) returnOrder(from grid.Pos, ab *employee.Abandon) {
	_ = e.queue.Release(ab.OrderID)
	for _, t := range ab.Carried {
		e.returnItem(from, t)
	}
}

// returnItem shelves t in the nearest free rack. A second copy of a type that
// is already stocked, or an item with nowhere to go, is scrapped.
func (e *Env) returnItem(from grid.Pos, t grid.ItemType) {
	if !e.grid.OnGrid(t) {
		if p, ok := e.grid.NearestEmptyStorage(from); ok && e.grid.PlaceItem(p, t) == nil {
			return
		}
	}
	e.scrap([]grid.ItemType{t})
}

func (e *Env) scrap(items []grid.ItemType) {
	for _, t := range items {
		if e.grid.IsValidItem(t) {
			e.cons.scrapped[t]++
		}
	}
}

func (e *Env) heldByManager(t grid.ItemType) bool {
	for _, emp := range e.employees {
		if emp.IsManager() && emp.Held() == t {
			return true
		}
	}
	return false
}

// applyRestocks shelves every due restock. A restock of a type that is
// already stocked or in a manager's hands is dropped.
func (e *Env) applyRestocks(c *tickCtx) {
	for _, r := range e.restocker.Due(c.now) {
		if !e.grid.IsValidItem(r.Item) || e.grid.OnGrid(r.Item) || e.heldByManager(r.Item) {
			continue
		}
		if e.grid.PlaceItem(r.Cell, r.Item) != nil {
			p, ok := e.grid.NearestEmptyStorage(r.Cell)
			if !ok || e.grid.PlaceItem(p, r.Item) != nil {
				continue
			}
		}
		e.cons.restocked[r.Item]++
	}
}

// LastSwapInfo returns the most recent completed relocation until it is
// consumed.
func (e *Env) LastSwapInfo() *protocol.SwapInfo {
	if e.lastSwap == nil {
		return nil
	}
	c := *e.lastSwap
	return &c
}

func (e *Env) ConsumeSwapInfo() *protocol.SwapInfo {
	s := e.LastSwapInfo()
	e.lastSwap = nil
	return s
}

// CheckConservation verifies, for every item type, that
// onGrid + managerHeld + workerCarried + shipped + scrapped == initial + restocked.
func (e *Env) CheckConservation() error {
	n := e.grid.NumItemTypes()
	have := make([]int, n)
	for t, loc := range e.grid.ItemLocations() {
		if loc >= 0 {
			have[t]++
		}
	}
	for _, emp := range e.employees {
		if h := emp.Held(); h != grid.NoItem {
			have[h]++
		}
		for _, t := range emp.Carried() {
			have[t]++
		}
	}
	var errs []error
	for t := 0; t < n; t++ {
		got := have[t] + e.cons.shipped[t] + e.cons.scrapped[t]
		want := e.cons.initial[t] + e.cons.restocked[t]
		if got != want {
			errs = append(errs, fmt.Errorf("item %d: present+shipped+scrapped=%d, initial+restocked=%d", t, got, want))
		}
	}
	return errors.Join(errs...)
}
