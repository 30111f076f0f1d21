package warehouse

import (
	"encoding/json"
	"fmt"

	"warehouse.ai/internal/persistence/snapshot"
	"warehouse.ai/internal/protocol"
	"warehouse.ai/internal/sim/employee"
	"warehouse.ai/internal/sim/encoding"
	"warehouse.ai/internal/sim/grid"
	"warehouse.ai/internal/sim/orders"
	"warehouse.ai/internal/sim/tuning"
)

func toPair(p grid.Pos) [2]int   { return [2]int{p.X, p.Y} }
func fromPair(v [2]int) grid.Pos { return grid.Pos{X: v[0], Y: v[1]} }

func itemsToInts(v []grid.ItemType) []int {
	out := make([]int, len(v))
	for i, t := range v {
		out[i] = int(t)
	}
	return out
}

func intsToItems(v []int) []grid.ItemType {
	out := make([]grid.ItemType, len(v))
	for i, t := range v {
		out[i] = grid.ItemType(t)
	}
	return out
}

// CellsRLE is the static layout, one CellType per cell, RLE encoded.
func (e *Env) CellsRLE() string {
	cells := make([]int, e.grid.NumCells())
	for i := range cells {
		cells[i] = int(e.grid.CellAt(e.grid.PosOf(i)))
	}
	return encoding.EncodeRLE(cells)
}

// ExportSnapshot captures the full env state at the current tick boundary.
func (e *Env) ExportSnapshot() snapshot.SnapshotV1 {
	tb, _ := json.Marshal(e.tune)
	gs := e.grid.ExportState()
	rng, _ := e.gen.State()

	snap := snapshot.SnapshotV1{
		Header:         snapshot.Header{Version: snapshot.Version, Tick: e.tick},
		Tuning:         tb,
		Seed:           e.seed,
		Tick:           e.tick,
		Width:          e.grid.Width(),
		Height:         e.grid.Height(),
		NumItemTypes:   e.grid.NumItemTypes(),
		Occupants:      encoding.EncodeRLE(itemsToInts(gs.Occupants)),
		Reserved:       encoding.EncodeRLE(gs.Reserved),
		Access:         gs.Access,
		CoOccurrence:   gs.CoOccurrence,
		GeneratorState: rng,
		NextEmployeeID: e.nextEmployeeID,
		PendingYields:  yieldsToV1(e.traffic.PendingYields()),
		Ledger: snapshot.LedgerV1{
			Revenue:  e.ledger.Revenue,
			Cost:     e.ledger.Cost,
			BurnRate: e.ledger.BurnRate,
		},
		Counters: snapshot.CountersV1{
			Completed: e.counters.completed,
			Cancelled: e.counters.cancelled,
			Generated: e.counters.generated,
			Swaps:     e.counters.swaps,
			Rejected:  e.counters.rejected,
		},
		Conservation: snapshot.ConservationV1{
			Initial:   append([]int(nil), e.cons.initial...),
			Restocked: append([]int(nil), e.cons.restocked...),
			Shipped:   append([]int(nil), e.cons.shipped...),
			Scrapped:  append([]int(nil), e.cons.scrapped...),
		},
		Stats: e.stats.export(),
	}

	list, next := e.queue.Snapshot()
	snap.NextOrderID = next
	for _, o := range list {
		snap.Orders = append(snap.Orders, snapshot.OrderV1{
			ID:          o.ID,
			Items:       itemsToInts(o.Items),
			Value:       o.Value,
			ArrivalTick: o.ArrivalTick,
			Status:      uint8(o.Status),
			ClaimedBy:   o.ClaimedBy,
		})
	}
	for _, emp := range e.employees {
		snap.Employees = append(snap.Employees, employeeToV1(emp.Export()))
	}
	for _, r := range e.restocker.Pending() {
		snap.Restocks = append(snap.Restocks, snapshot.RestockV1{Item: int(r.Item), Cell: toPair(r.Cell), Due: r.Due})
	}
	if s := e.lastSwap; s != nil {
		v := snapshot.SwapV1(*s)
		snap.LastSwap = &v
	}
	return snap
}

func yieldsToV1(list []employee.Yield) []snapshot.YieldV1 {
	if len(list) == 0 {
		return nil
	}
	out := make([]snapshot.YieldV1, len(list))
	for i, y := range list {
		out[i] = snapshot.YieldV1(y)
	}
	return out
}

func yieldsFromV1(list []snapshot.YieldV1) []employee.Yield {
	out := make([]employee.Yield, len(list))
	for i, y := range list {
		out[i] = employee.Yield(y)
	}
	return out
}

func navToV1(n employee.Nav) snapshot.NavV1 {
	out := snapshot.NavV1{
		Goal:    toPair(n.Goal),
		HasGoal: n.HasGoal,
		Blocked: n.Blocked,
		Stuck:   n.Stuck,
		Wait:    n.Wait,
		Jammed:  n.Jammed,
	}
	for _, p := range n.Path {
		out.Path = append(out.Path, toPair(p))
	}
	return out
}

func navFromV1(v snapshot.NavV1) employee.Nav {
	n := employee.Nav{
		Goal:    fromPair(v.Goal),
		HasGoal: v.HasGoal,
		Blocked: v.Blocked,
		Stuck:   v.Stuck,
		Wait:    v.Wait,
		Jammed:  v.Jammed,
	}
	for _, p := range v.Path {
		n.Path = append(n.Path, fromPair(p))
	}
	return n
}

func employeeToV1(r employee.Record) snapshot.EmployeeV1 {
	out := snapshot.EmployeeV1{
		ID:         r.ID,
		Pos:        toPair(r.Pos),
		Role:       uint8(r.Role),
		State:      uint8(r.Kind),
		Nav:        navToV1(r.Nav),
		PickTarget: toPair(r.Target),
		Remaining:  r.Remaining,
		Held:       int(r.Held),
	}
	if r.Job != nil {
		out.Job = &snapshot.JobV1{
			OrderID:   r.Job.OrderID,
			Items:     itemsToInts(r.Job.Items),
			Required:  itemsToInts(r.Job.Required),
			Collected: itemsToInts(r.Job.Collected),
		}
	}
	if r.Kind == employee.KindRelocating {
		out.Task = &snapshot.RelocationV1{
			Source:           toPair(r.Task.Source),
			Target:           toPair(r.Task.Target),
			Stage:            r.Task.Stage,
			SourceItemBefore: int(r.Task.SourceItemBefore),
			TargetItemBefore: int(r.Task.TargetItemBefore),
		}
	}
	return out
}

func employeeFromV1(v snapshot.EmployeeV1) employee.Record {
	r := employee.Record{
		ID:        v.ID,
		Pos:       fromPair(v.Pos),
		Role:      employee.Role(v.Role),
		Kind:      employee.Kind(v.State),
		Nav:       navFromV1(v.Nav),
		Target:    fromPair(v.PickTarget),
		Remaining: v.Remaining,
		Held:      grid.ItemType(v.Held),
	}
	if v.Job != nil {
		r.Job = &employee.Job{
			OrderID:   v.Job.OrderID,
			Items:     intsToItems(v.Job.Items),
			Required:  intsToItems(v.Job.Required),
			Collected: intsToItems(v.Job.Collected),
		}
	}
	if v.Task != nil {
		r.Task = employee.RelocationTask{
			Source:           fromPair(v.Task.Source),
			Target:           fromPair(v.Task.Target),
			Stage:            v.Task.Stage,
			SourceItemBefore: grid.ItemType(v.Task.SourceItemBefore),
			TargetItemBefore: grid.ItemType(v.Task.TargetItemBefore),
		}
	}
	return r
}

// FromSnapshot rebuilds an env that continues exactly where the exported one
// stopped.
func FromSnapshot(snap snapshot.SnapshotV1) (*Env, error) {
	if snap.Header.Version != snapshot.Version {
		return nil, fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	t := tuning.Defaults()
	if len(snap.Tuning) > 0 {
		if err := json.Unmarshal(snap.Tuning, &t); err != nil {
			return nil, fmt.Errorf("snapshot tuning: %w", err)
		}
	}
	if t.Grid.Width != snap.Width || t.Grid.Height != snap.Height || t.Grid.NumItemTypes != snap.NumItemTypes {
		return nil, fmt.Errorf("snapshot grid %dx%d/%d does not match its tuning", snap.Width, snap.Height, snap.NumItemTypes)
	}
	e, err := New(t)
	if err != nil {
		return nil, err
	}
	if err := e.importSnapshot(snap); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Env) importSnapshot(snap snapshot.SnapshotV1) error {
	cells := e.grid.NumCells()
	occ, err := encoding.DecodeRLE(snap.Occupants, cells)
	if err != nil {
		return fmt.Errorf("snapshot occupants: %w", err)
	}
	var reserved []int
	if snap.Reserved != "" {
		if reserved, err = encoding.DecodeRLE(snap.Reserved, cells); err != nil {
			return fmt.Errorf("snapshot reservations: %w", err)
		}
	}
	if err := e.grid.ImportState(grid.State{
		Occupants:    intsToItems(occ),
		Reserved:     reserved,
		Access:       snap.Access,
		CoOccurrence: snap.CoOccurrence,
	}); err != nil {
		return err
	}

	e.seed = snap.Seed
	e.tick = snap.Tick
	e.gen.Reseed(uint64(snap.Seed))
	if err := e.gen.SetState(snap.GeneratorState); err != nil {
		return err
	}

	list := make([]orders.Order, len(snap.Orders))
	for i, o := range snap.Orders {
		list[i] = orders.Order{
			ID:          o.ID,
			Items:       intsToItems(o.Items),
			Value:       o.Value,
			ArrivalTick: o.ArrivalTick,
			Status:      orders.Status(o.Status),
			ClaimedBy:   o.ClaimedBy,
		}
	}
	if err := e.queue.Restore(list, snap.NextOrderID); err != nil {
		return err
	}

	e.traffic.Reset()
	e.employees = e.employees[:0]
	for _, v := range snap.Employees {
		emp, err := employee.Restore(e.floor, employeeFromV1(v))
		if err != nil {
			return err
		}
		e.employees = append(e.employees, emp)
	}
	employee.SortByID(e.employees)
	e.nextEmployeeID = snap.NextEmployeeID
	if n := len(e.employees); n > 0 && e.employees[n-1].ID >= e.nextEmployeeID {
		return fmt.Errorf("employee %d: id not below next id %d", e.employees[n-1].ID, e.nextEmployeeID)
	}
	e.traffic.RestoreYields(yieldsFromV1(snap.PendingYields))

	restocks := make([]Restock, len(snap.Restocks))
	for i, r := range snap.Restocks {
		restocks[i] = Restock{Item: grid.ItemType(r.Item), Cell: fromPair(r.Cell), Due: r.Due}
	}
	e.restocker.Restore(restocks)

	e.ledger = Ledger{Revenue: snap.Ledger.Revenue, Cost: snap.Ledger.Cost, BurnRate: snap.Ledger.BurnRate}
	e.counters = counters{
		completed: snap.Counters.Completed,
		cancelled: snap.Counters.Cancelled,
		generated: snap.Counters.Generated,
		swaps:     snap.Counters.Swaps,
		rejected:  snap.Counters.Rejected,
	}
	n := e.grid.NumItemTypes()
	c := snap.Conservation
	if len(c.Initial) != n || len(c.Restocked) != n || len(c.Shipped) != n || len(c.Scrapped) != n {
		return fmt.Errorf("snapshot conservation counters sized for %d item types", len(c.Initial))
	}
	e.cons = conservation{
		initial:   append([]int(nil), c.Initial...),
		restocked: append([]int(nil), c.Restocked...),
		shipped:   append([]int(nil), c.Shipped...),
		scrapped:  append([]int(nil), c.Scrapped...),
	}
	e.lastSwap = nil
	if s := snap.LastSwap; s != nil {
		v := protocol.SwapInfo(*s)
		e.lastSwap = &v
	}
	e.stats = statsFromSnapshot(snap.Stats)
	return nil
}
