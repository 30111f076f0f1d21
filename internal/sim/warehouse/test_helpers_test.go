package warehouse

import (
	"testing"

	"warehouse.ai/internal/protocol"
	"warehouse.ai/internal/sim/grid"
	"warehouse.ai/internal/sim/tuning"
)

func testTuning() tuning.Tuning {
	t := tuning.Defaults()
	t.Seed = 42
	t.Episode.LengthTicks = 2000
	t.Episode.BankruptcyThreshold = -1e9
	return t
}

func newTestEnv(t *testing.T, tune tuning.Tuning) *Env {
	t.Helper()
	e, err := New(tune)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

// greedyAction assigns every idle worker to the oldest pending order it can
// take, the way a simple external policy would.
func greedyAction(obs protocol.Observation, slots int) Action {
	a := Action{OrderAssignments: make([]int, slots)}
	var idle []int
	for _, emp := range obs.Employees {
		if emp.Role == "WORKER" && emp.State == "IDLE" {
			idle = append(idle, emp.ID)
		}
	}
	for _, o := range obs.OrderQueue {
		if len(idle) == 0 {
			break
		}
		if o.Status != "PENDING" || o.Slot >= slots {
			continue
		}
		a.OrderAssignments[o.Slot] = idle[0]
		idle = idle[1:]
	}
	return a
}

// scriptedAction layers staffing and swap requests on top of greedyAction so
// that long runs exercise every sub-action.
func scriptedAction(e *Env, tick int) Action {
	a := greedyAction(e.Observe(), e.tune.Orders.QueueSlots)
	switch {
	case tick == 3:
		a.Staffing = StaffHireManager
	case tick%97 == 0:
		a.Staffing = StaffHireWorker
	case tick%151 == 0:
		a.Staffing = StaffFireWorker
	}
	if tick%23 == 0 {
		s := e.grid.StorageCells()
		i := (tick * 7) % len(s)
		j := (tick*13 + 5) % len(s)
		a.LayoutSwap = [2]int{e.grid.Index(s[i]), e.grid.Index(s[j])}
	}
	return a
}

func checkNoDoubleOccupancy(t *testing.T, e *Env) {
	t.Helper()
	seen := map[grid.Pos]int{}
	for _, emp := range e.employees {
		if other, ok := seen[emp.Pos]; ok {
			t.Fatalf("tick %d: employees %d and %d share %v", e.tick, other, emp.ID, emp.Pos)
		}
		seen[emp.Pos] = emp.ID
		if !e.grid.IsWalkable(emp.Pos) {
			t.Fatalf("tick %d: employee %d on non-walkable %v", e.tick, emp.ID, emp.Pos)
		}
	}
}
