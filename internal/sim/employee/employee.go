package employee

import (
	"errors"
	"fmt"
	"sort"

	"warehouse.ai/internal/sim/grid"
	"warehouse.ai/internal/sim/pathing"
	"warehouse.ai/internal/sim/tuning"
)

type Role uint8

const (
	Worker Role = iota
	Manager
)

func (r Role) String() string {
	if r == Manager {
		return "MANAGER"
	}
	return "WORKER"
}

func (r Role) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

type Params struct {
	PickTicks          int
	BlockedRepathTicks int
	StuckRepathTicks   int
	GiveUpTicks        int
}

func ParamsFrom(t tuning.Employee) Params {
	return Params{
		PickTicks:          max(t.PickTicks, 1),
		BlockedRepathTicks: max(t.BlockedRepathTicks, 1),
		StuckRepathTicks:   max(t.StuckRepathTicks, 1),
		GiveUpTicks:        max(t.GiveUpTicks, 1),
	}
}

// Floor is everything an employee reads or mutates during its step. The
// orchestrator owns all three; employees keep only coordinates.
type Floor struct {
	Grid    *grid.Grid
	Traffic *Traffic
	Params  Params
}

type Employee struct {
	ID   int
	Pos  grid.Pos
	Role Role

	state State
}

// New places a fresh Idle employee at p.
func New(f *Floor, id int, role Role, p grid.Pos) (*Employee, error) {
	if id <= 0 {
		return nil, fmt.Errorf("%w: employee id %d", grid.ErrInvalidAction, id)
	}
	if !f.Grid.IsWalkable(p) {
		return nil, fmt.Errorf("%w: %v is not walkable", grid.ErrInvalidPosition, p)
	}
	if err := f.Traffic.Place(id, p, KindIdle); err != nil {
		return nil, err
	}
	return &Employee{ID: id, Pos: p, Role: role, state: &Idle{}}, nil
}

func (e *Employee) IsManager() bool { return e.Role == Manager }
func (e *Employee) State() State    { return e.state }
func (e *Employee) Kind() Kind      { return e.state.Kind() }
func (e *Employee) IsIdle() bool    { return e.state.Kind() == KindIdle }

// OrderID is the order being fulfilled, 0 if none.
func (e *Employee) OrderID() int {
	if j := e.job(); j != nil {
		return j.OrderID
	}
	return 0
}

// Carried lists items picked for the current order.
func (e *Employee) Carried() []grid.ItemType {
	if j := e.job(); j != nil {
		return append([]grid.ItemType(nil), j.Collected...)
	}
	return nil
}

// Required lists items still to be picked for the current order.
func (e *Employee) Required() []grid.ItemType {
	if j := e.job(); j != nil {
		return append([]grid.ItemType(nil), j.Required...)
	}
	return nil
}

// Held is the item a manager carries mid-relocation.
func (e *Employee) Held() grid.ItemType {
	if s, ok := e.state.(*Relocating); ok {
		return s.Held
	}
	return grid.NoItem
}

func (e *Employee) Task() (RelocationTask, bool) {
	if s, ok := e.state.(*Relocating); ok {
		return s.Task, true
	}
	return RelocationTask{}, false
}

func (e *Employee) Path() []grid.Pos {
	switch s := e.state.(type) {
	case *Moving:
		return s.Nav.Path
	case *Delivering:
		return s.Nav.Path
	case *Relocating:
		return s.Nav.Path
	}
	return nil
}

func (e *Employee) job() *Job {
	switch s := e.state.(type) {
	case *Moving:
		return s.Job
	case *Picking:
		return s.Job
	case *Delivering:
		return s.Job
	}
	return nil
}

func (e *Employee) setState(f *Floor, s State) {
	e.state = s
	f.Traffic.setKind(e.ID, s.Kind())
}

// Assign hands an order to an Idle employee. If an item of the order sits on
// an adjacent rack picking starts immediately; otherwise a path is planned to
// the nearest rack holding a needed item. An order whose items are all out of
// stock is accepted and waited on; one whose stock cannot be reached is
// rejected with ErrUnreachable and leaves the employee unchanged.
func (e *Employee) Assign(f *Floor, orderID int, items []grid.ItemType) error {
	if !e.IsIdle() {
		return fmt.Errorf("%w: employee %d is %s", grid.ErrInvalidAction, e.ID, e.Kind())
	}
	if orderID <= 0 || len(items) == 0 {
		return fmt.Errorf("%w: empty order %d", grid.ErrInvalidAction, orderID)
	}
	for _, t := range items {
		if !f.Grid.IsValidItem(t) {
			return fmt.Errorf("%w: order %d has unknown item %d", grid.ErrInvalidAction, orderID, t)
		}
	}
	job := newJob(orderID, items)
	if rack, ok := e.adjacentNeeded(f, job); ok {
		e.setState(f, &Picking{Job: job, Target: rack, Remaining: f.Params.PickTicks})
		return nil
	}
	s := &Moving{Job: job}
	if err := e.planPick(f, s, false); err != nil && !errors.Is(err, grid.ErrNotFound) {
		return err
	}
	e.setState(f, s)
	return nil
}

// StartRelocation begins a layout swap. Only an Idle manager may accept one,
// and the swap must pass grid validation. Both cells are reserved until the
// relocation writes them so that restocking and returns cannot refill them.
func (e *Employee) StartRelocation(f *Floor, source, target grid.Pos) error {
	if e.Role != Manager {
		return fmt.Errorf("%w: employee %d is not a manager", grid.ErrInvalidAction, e.ID)
	}
	if !e.IsIdle() {
		return fmt.Errorf("%w: manager %d is %s", grid.ErrInvalidAction, e.ID, e.Kind())
	}
	if err := f.Grid.ValidateSwap(source, target); err != nil {
		return err
	}
	if f.Grid.ReservedBy(source) != 0 || f.Grid.ReservedBy(target) != 0 {
		return fmt.Errorf("%w: %v or %v already part of a relocation", grid.ErrInvalidSwap, source, target)
	}
	s := &Relocating{
		Task: RelocationTask{
			Source:           source,
			Target:           target,
			SourceItemBefore: grid.NoItem,
			TargetItemBefore: grid.NoItem,
		},
		Held: grid.NoItem,
	}
	if grid.Adjacent(e.Pos, source) {
		s.Remaining = f.Params.PickTicks
	} else {
		path, err := pathing.ToAdjacent(f.Grid, e.Pos, source, nil)
		if err != nil {
			return err
		}
		s.Nav.Path = path
	}
	_ = f.Grid.Reserve(source, e.ID)
	_ = f.Grid.Reserve(target, e.ID)
	e.setState(f, s)
	return nil
}

// Abandon describes an order given up by its assignee. Carried items are no
// longer on the grid; the orchestrator decides where they go.
type Abandon struct {
	OrderID int
	Carried []grid.ItemType
	Err     error
}

type Delivery struct {
	OrderID int
	Items   []grid.ItemType
	At      grid.Pos
}

// SwapRecord is emitted once per finished relocation.
type SwapRecord struct {
	ManagerID        int           `json:"manager_id"`
	SourcePos        grid.Pos      `json:"source_pos"`
	SourceItemBefore grid.ItemType `json:"source_item"`
	TargetPos        grid.Pos      `json:"target_pos"`
	TargetItemBefore grid.ItemType `json:"target_item"`
}

type StepResult struct {
	Moved      bool
	Picked     *grid.ItemType
	PickedFrom grid.Pos
	Delivered  *Delivery
	Swap       *SwapRecord
	Abandoned  *Abandon
	// RelocationFailed is set when a relocation ended early; the held item
	// has already been put back.
	RelocationFailed error
	// Scrapped lists items that could not be returned to any Storage cell.
	Scrapped []grid.ItemType
}

// Step advances the state machine by one tick.
func (e *Employee) Step(f *Floor) StepResult {
	var res StepResult
	if y, ok := f.Traffic.mustYield(e.ID); ok && e.canYield() {
		if e.sidestep(f) {
			res.Moved = true
			e.dropPath()
			return res
		}
		e.passYield(f, y)
	}
	switch s := e.state.(type) {
	case *Idle:
	case *Moving:
		e.stepMoving(f, s, &res)
	case *Picking:
		e.stepPicking(f, s, &res)
	case *Delivering:
		e.stepDelivering(f, s, &res)
	case *Relocating:
		e.stepRelocating(f, s, &res)
	}
	return res
}

// Dismiss ends whatever the employee is doing ahead of removal: a held
// relocation item goes back to its source and reservations are released. The
// returned Abandon, if any, carries the order to put back in the queue.
func (e *Employee) Dismiss(f *Floor) (*Abandon, []grid.ItemType) {
	var ab *Abandon
	var scrapped []grid.ItemType
	switch s := e.state.(type) {
	case *Moving, *Picking, *Delivering:
		j := e.job()
		ab = &Abandon{OrderID: j.OrderID, Carried: append([]grid.ItemType(nil), j.Collected...), Err: errDismissed}
	case *Relocating:
		scrapped = e.unwindRelocation(f, s)
	}
	e.state = &Idle{}
	f.Traffic.Remove(e.ID)
	return ab, scrapped
}

var errDismissed = errors.New("employee dismissed")

func (e *Employee) canYield() bool {
	switch s := e.state.(type) {
	case *Picking:
		return false
	case *Relocating:
		return s.Remaining == 0 && s.Task.Stage < 2
	}
	return true
}

func (e *Employee) dropPath() {
	switch s := e.state.(type) {
	case *Moving:
		s.Nav.Path = nil
		s.Nav.HasGoal = false
		s.Nav.Jammed = 0
	case *Delivering:
		s.Nav.Path = nil
		s.Nav.Jammed = 0
	case *Relocating:
		s.Nav.Path = nil
		s.Nav.Jammed = 0
	}
}

func (e *Employee) abandon(f *Floor, j *Job, err error, res *StepResult) {
	res.Abandoned = &Abandon{OrderID: j.OrderID, Carried: append([]grid.ItemType(nil), j.Collected...), Err: err}
	e.setState(f, &Idle{})
}

// Record is the flat, serializable form of an employee.
type Record struct {
	ID        int
	Pos       grid.Pos
	Role      Role
	Kind      Kind
	Job       *Job
	Nav       Nav
	Target    grid.Pos
	Remaining int
	Task      RelocationTask
	Held      grid.ItemType
}

func (e *Employee) Export() Record {
	r := Record{ID: e.ID, Pos: e.Pos, Role: e.Role, Kind: e.Kind(), Held: grid.NoItem}
	switch s := e.state.(type) {
	case *Moving:
		r.Job, r.Nav = s.Job.clone(), s.Nav.clone()
	case *Picking:
		r.Job, r.Target, r.Remaining = s.Job.clone(), s.Target, s.Remaining
	case *Delivering:
		r.Job, r.Nav = s.Job.clone(), s.Nav.clone()
	case *Relocating:
		r.Task, r.Nav, r.Held, r.Remaining = s.Task, s.Nav.clone(), s.Held, s.Remaining
	}
	return r
}

// Restore rebuilds an employee from its record and registers it with traffic.
func Restore(f *Floor, r Record) (*Employee, error) {
	e := &Employee{ID: r.ID, Pos: r.Pos, Role: r.Role}
	needJob := func() error {
		if r.Job == nil {
			return fmt.Errorf("employee %d: %s without a job", r.ID, r.Kind)
		}
		return nil
	}
	switch r.Kind {
	case KindIdle:
		e.state = &Idle{}
	case KindMoving:
		if err := needJob(); err != nil {
			return nil, err
		}
		e.state = &Moving{Job: r.Job.clone(), Nav: r.Nav.clone()}
	case KindPicking:
		if err := needJob(); err != nil {
			return nil, err
		}
		e.state = &Picking{Job: r.Job.clone(), Target: r.Target, Remaining: r.Remaining}
	case KindDelivering:
		if err := needJob(); err != nil {
			return nil, err
		}
		e.state = &Delivering{Job: r.Job.clone(), Nav: r.Nav.clone()}
	case KindRelocating:
		if r.Role != Manager {
			return nil, fmt.Errorf("employee %d: relocating worker", r.ID)
		}
		e.state = &Relocating{Task: r.Task, Nav: r.Nav.clone(), Held: r.Held, Remaining: r.Remaining}
	default:
		return nil, fmt.Errorf("employee %d: unknown state %d", r.ID, r.Kind)
	}
	if !f.Grid.IsWalkable(r.Pos) {
		return nil, fmt.Errorf("employee %d: position %v not walkable", r.ID, r.Pos)
	}
	if err := f.Traffic.Place(e.ID, e.Pos, e.Kind()); err != nil {
		return nil, err
	}
	return e, nil
}

// SortByID orders employees by ascending id, the step order.
func SortByID(list []*Employee) {
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
}
