package warehouse

import (
	"fmt"
	"slices"

	"warehouse.ai/internal/sim/employee"
	"warehouse.ai/internal/sim/grid"
	"warehouse.ai/internal/sim/orders"
)

func (e *Env) applyStaffing(c *tickCtx, s StaffingAction) {
	switch s {
	case StaffNoOp:
	case StaffHireWorker, StaffHireManager:
		role := employee.Worker
		if s == StaffHireManager {
			role = employee.Manager
		}
		emp, err := e.hire(role)
		if err != nil {
			e.reject(c, PartStaffing, err)
			return
		}
		c.res.Hired = append(c.res.Hired, emp.ID)
	case StaffFireWorker:
		id, err := e.fireWorker()
		if err != nil {
			e.reject(c, PartStaffing, err)
			return
		}
		c.res.Fired = append(c.res.Fired, id)
	default:
		e.reject(c, PartStaffing, fmt.Errorf("%w: staffing action %d", grid.ErrInvalidAction, int(s)))
	}
}

// hire spawns a new Idle employee on the first free spawn cell.
func (e *Env) hire(role employee.Role) (*employee.Employee, error) {
	if limit := e.tune.Staffing.MaxEmployees; len(e.employees) >= limit {
		return nil, fmt.Errorf("%w: headcount already at maximum %d", grid.ErrInvalidAction, limit)
	}
	for _, p := range e.grid.SpawnZones() {
		if !e.traffic.Free(p) {
			continue
		}
		emp, err := employee.New(e.floor, e.nextEmployeeID, role, p)
		if err != nil {
			return nil, err
		}
		e.nextEmployeeID++
		e.employees = append(e.employees, emp)
		return emp, nil
	}
	return nil, fmt.Errorf("%w: no free spawn cell", grid.ErrInvalidAction)
}

// fireWorker dismisses the highest-id idle worker, or the highest-id worker
// when none is idle. Its order goes back to Pending.
func (e *Env) fireWorker() (int, error) {
	if limit := e.tune.Staffing.MinEmployees; len(e.employees)-1 < limit {
		return 0, fmt.Errorf("%w: headcount already at minimum %d", grid.ErrInvalidAction, limit)
	}
	idx := -1
	for i := len(e.employees) - 1; i >= 0; i-- {
		if emp := e.employees[i]; !emp.IsManager() && emp.IsIdle() {
			idx = i
			break
		}
	}
	if idx < 0 {
		for i := len(e.employees) - 1; i >= 0; i-- {
			if !e.employees[i].IsManager() {
				idx = i
				break
			}
		}
	}
	if idx < 0 {
		return 0, fmt.Errorf("%w: no worker to fire", grid.ErrNotFound)
	}
	emp := e.employees[idx]
	ab, scrapped := emp.Dismiss(e.floor)
	e.scrap(scrapped)
	if ab != nil {
		e.returnOrder(emp.Pos, ab)
	}
	e.employees = slices.Delete(e.employees, idx, idx+1)
	return emp.ID, nil
}

// applyAssignments claims orders for idle workers. Slots address the queue
// listing as it stood at the start of the phase.
func (e *Env) applyAssignments(c *tickCtx, slots []int) {
	listing := append([]*orders.Order(nil), e.queue.Orders()...)
	for slot, id := range slots {
		if id == 0 {
			continue
		}
		if err := e.assign(listing, slot, id); err != nil {
			e.reject(c, PartAssignment, fmt.Errorf("slot %d: %w", slot, err))
		}
	}
}

func (e *Env) assign(listing []*orders.Order, slot, id int) error {
	if slot >= e.tune.Orders.QueueSlots {
		return fmt.Errorf("%w: only %d queue slots", grid.ErrInvalidAction, e.tune.Orders.QueueSlots)
	}
	if id < 0 {
		return fmt.Errorf("%w: employee id %d", grid.ErrInvalidAction, id)
	}
	if slot >= len(listing) {
		return fmt.Errorf("%w: queue slot is empty", grid.ErrNotFound)
	}
	o := listing[slot]
	emp := e.Employee(id)
	if emp == nil {
		return fmt.Errorf("%w: employee %d", grid.ErrNotFound, id)
	}
	if emp.IsManager() {
		return fmt.Errorf("%w: employee %d is a manager", grid.ErrInvalidAction, id)
	}
	if o.Status != orders.Pending {
		return fmt.Errorf("%w: order %d is %s", grid.ErrInvalidAction, o.ID, o.Status)
	}
	if err := emp.Assign(e.floor, o.ID, o.Items); err != nil {
		return err
	}
	_, err := e.queue.Claim(o.ID, emp.ID)
	return err
}

// applySwap hands a layout swap to the lowest-id idle manager.
func (e *Env) applySwap(c *tickCtx, swap [2]int) {
	if swap == [2]int{} {
		return
	}
	if err := e.startSwap(swap); err != nil {
		e.reject(c, PartLayoutSwap, err)
	}
}

func (e *Env) startSwap(swap [2]int) error {
	src, err := e.grid.PosFromIndex(swap[0])
	if err != nil {
		return err
	}
	dst, err := e.grid.PosFromIndex(swap[1])
	if err != nil {
		return err
	}
	if err := e.grid.ValidateSwap(src, dst); err != nil {
		return err
	}
	for _, emp := range e.employees {
		if emp.IsManager() && emp.IsIdle() {
			return emp.StartRelocation(e.floor, src, dst)
		}
	}
	return fmt.Errorf("%w: no idle manager", grid.ErrNotFound)
}
