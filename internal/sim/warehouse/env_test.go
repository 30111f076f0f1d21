package warehouse

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"warehouse.ai/internal/persistence/snapshot"
	"warehouse.ai/internal/protocol"
	"warehouse.ai/internal/sim/grid"
	"warehouse.ai/internal/sim/orders"
	"warehouse.ai/internal/sim/tuning"
)

func TestEnv_ResetIsDeterministic(t *testing.T) {
	e := newTestEnv(t, testTuning())
	d0 := e.Digest()
	for i := 0; i < 20; i++ {
		e.Step(greedyAction(e.Observe(), e.tune.Orders.QueueSlots))
	}
	if _, err := e.Reset(42); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if got := e.Digest(); got != d0 {
		t.Fatalf("digest after reset = %s, want %s", got, d0)
	}
	obs := e.Observe()
	if obs.Time != 0 || obs.Financial != [4]float64{} || len(obs.OrderQueue) != 0 {
		t.Fatalf("reset observation not zeroed: %+v", obs)
	}
	if len(obs.Employees) != e.tune.Staffing.InitialWorkers+e.tune.Staffing.InitialManagers {
		t.Fatalf("headcount after reset = %d", len(obs.Employees))
	}
	if e.grid.CountOnGrid() != e.grid.NumItemTypes() {
		t.Fatalf("every item type should be stocked after reset")
	}
}

func TestEnv_SameSeedSameTrajectory(t *testing.T) {
	a := newTestEnv(t, testTuning())
	b := newTestEnv(t, testTuning())
	for tick := 0; tick < 500; tick++ {
		ra := a.Step(scriptedAction(a, tick))
		rb := b.Step(scriptedAction(b, tick))
		if ra.Reward != rb.Reward || ra.Info != rb.Info {
			t.Fatalf("tick %d: results diverged: %+v vs %+v", tick, ra.Info, rb.Info)
		}
		if da, db := a.Digest(), b.Digest(); da != db {
			t.Fatalf("tick %d: digest %s vs %s", tick, da, db)
		}
	}

	c := newTestEnv(t, testTuning())
	if _, err := c.Reset(43); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if c.Digest() == newTestEnv(t, testTuning()).Digest() {
		t.Fatalf("different seeds should give different initial states")
	}
}

func TestEnv_InvariantsHoldUnderLoad(t *testing.T) {
	for _, policy := range []string{tuning.RestockDelayed, tuning.RestockImmediate, tuning.RestockNone} {
		t.Run(policy, func(t *testing.T) {
			tune := testTuning()
			tune.Restock.Policy = policy
			e := newTestEnv(t, tune)
			n := e.grid.NumItemTypes()
			prev := make([]int, n*n)

			for tick := 0; tick < 800; tick++ {
				res := e.Step(scriptedAction(e, tick))
				if err := e.CheckConservation(); err != nil {
					t.Fatalf("tick %d: %v", tick, err)
				}
				checkNoDoubleOccupancy(t, e)
				for _, emp := range e.employees {
					if emp.Kind().String() == "DELIVERING" && len(emp.Required()) != 0 {
						t.Fatalf("tick %d: employee %d delivering with %v still required", tick, emp.ID, emp.Required())
					}
				}
				for a := 0; a < n; a++ {
					for b := 0; b < n; b++ {
						c := e.grid.CoOccurrence(grid.ItemType(a), grid.ItemType(b))
						if c != e.grid.CoOccurrence(grid.ItemType(b), grid.ItemType(a)) {
							t.Fatalf("tick %d: co-occurrence (%d,%d) not symmetric", tick, a, b)
						}
						if c < prev[a*n+b] {
							t.Fatalf("tick %d: co-occurrence (%d,%d) decreased", tick, a, b)
						}
						prev[a*n+b] = c
					}
				}
				for _, r := range res.Rejections {
					if !protocol.IsKnownCode(r.Code) || r.Code == protocol.ErrInternal {
						t.Fatalf("tick %d: unexpected rejection %+v", tick, r)
					}
				}
			}
			info := e.Info()
			if info.OrdersCompleted == 0 {
				t.Fatalf("no orders completed in 800 ticks: %+v", info)
			}
			if policy == tuning.RestockNone && info.ItemsRestocked != 0 {
				t.Fatalf("restocked %d items with restocking disabled", info.ItemsRestocked)
			}
			if policy != tuning.RestockNone && info.ItemsRestocked == 0 {
				t.Fatalf("%s policy never restocked", policy)
			}
		})
	}
}

func TestEnv_SwapScenario(t *testing.T) {
	tune := testTuning()
	tune.Orders.ArrivalRate = 0
	tune.Staffing.InitialWorkers = 0
	tune.Staffing.InitialManagers = 1
	e := newTestEnv(t, tune)

	pa, _ := e.grid.LocationOf(3)
	pb, _ := e.grid.LocationOf(8)
	res := e.Step(Action{LayoutSwap: [2]int{e.grid.Index(pa), e.grid.Index(pb)}})
	if len(res.Rejections) != 0 {
		t.Fatalf("swap rejected: %+v", res.Rejections)
	}
	if k := e.employees[0].Kind().String(); k != "RELOCATING" {
		t.Fatalf("manager is %s after accepting a swap", k)
	}

	var swaps []*protocol.SwapInfo
	for i := 0; i < 300 && e.employees[0].Kind().String() != "IDLE"; i++ {
		r := e.Step(Action{})
		if r.Swap != nil {
			swaps = append(swaps, r.Swap)
		}
		if got := e.grid.CountOnGrid() + heldCount(e); got != e.grid.NumItemTypes() {
			t.Fatalf("tick %d: %d items on grid or held, want %d", e.tick, got, e.grid.NumItemTypes())
		}
	}
	if len(swaps) != 1 {
		t.Fatalf("got %d swap records, want 1", len(swaps))
	}
	if it, _ := e.grid.ItemAt(pa); it != 8 {
		t.Fatalf("%v holds %d, want 8", pa, it)
	}
	if it, _ := e.grid.ItemAt(pb); it != 3 {
		t.Fatalf("%v holds %d, want 3", pb, it)
	}
	s := swaps[0]
	if s.SourceItem != 3 || s.TargetItem != 8 || s.SourcePos != toPair(pa) || s.TargetPos != toPair(pb) {
		t.Fatalf("swap record = %+v", s)
	}
	if e.grid.ReservedBy(pa) != 0 || e.grid.ReservedBy(pb) != 0 {
		t.Fatalf("reservations not released")
	}
	if got := e.LastSwapInfo(); got == nil || *got != *s {
		t.Fatalf("LastSwapInfo = %+v", got)
	}
	if e.ConsumeSwapInfo() == nil || e.LastSwapInfo() != nil {
		t.Fatalf("swap info should be cleared once consumed")
	}
	if e.Info().SwapsCompleted != 1 {
		t.Fatalf("swaps completed = %d", e.Info().SwapsCompleted)
	}
}

func heldCount(e *Env) int {
	n := 0
	for _, emp := range e.employees {
		if emp.Held() != grid.NoItem {
			n++
		}
	}
	return n
}

func TestEnv_FireReturnsOrderToPending(t *testing.T) {
	tune := testTuning()
	tune.Orders.ArrivalRate = 2
	tune.Staffing.InitialWorkers = 1
	tune.Staffing.MinEmployees = 0
	e := newTestEnv(t, tune)

	for i := 0; i < 50 && e.queue.Len() == 0; i++ {
		e.Step(Action{})
	}
	if e.queue.Len() == 0 {
		t.Fatalf("no order arrived")
	}
	id := e.queue.At(0).ID
	assign := make([]int, tune.Orders.QueueSlots)
	assign[0] = 1
	if res := e.Step(Action{OrderAssignments: assign}); len(res.Rejections) != 0 {
		t.Fatalf("assignment rejected: %+v", res.Rejections)
	}
	e.Step(Action{})
	o, ok := e.queue.Get(id)
	if !ok || o.Status != orders.Claimed || o.ClaimedBy != 1 {
		t.Fatalf("order after assignment = %+v", o)
	}

	res := e.Step(Action{Staffing: StaffFireWorker})
	if len(res.Fired) != 1 || res.Fired[0] != 1 {
		t.Fatalf("fired = %v, rejections = %+v", res.Fired, res.Rejections)
	}
	o, ok = e.queue.Get(id)
	if !ok || o.Status != orders.Pending || o.ClaimedBy != 0 {
		t.Fatalf("order after firing its assignee = %+v", o)
	}
	if len(e.employees) != 0 || e.traffic.Len() != 0 {
		t.Fatalf("fired employee still on the floor")
	}
	if err := e.CheckConservation(); err != nil {
		t.Fatalf("conservation: %v", err)
	}
}

func TestEnv_StaffingLimits(t *testing.T) {
	tune := testTuning()
	tune.Orders.ArrivalRate = 0
	tune.Staffing.InitialWorkers = 2
	tune.Staffing.MaxEmployees = 3
	tune.Staffing.MinEmployees = 2
	e := newTestEnv(t, tune)

	if res := e.Step(Action{Staffing: StaffHireWorker}); len(res.Hired) != 1 || res.Hired[0] != 3 {
		t.Fatalf("hire: %+v", res)
	}
	res := e.Step(Action{Staffing: StaffHireManager})
	if len(res.Hired) != 0 || len(res.Rejections) != 1 || res.Rejections[0].Code != protocol.ErrInvalidAction {
		t.Fatalf("hire over max: %+v", res)
	}
	if res := e.Step(Action{Staffing: StaffFireWorker}); len(res.Fired) != 1 || res.Fired[0] != 3 {
		t.Fatalf("fire should pick the highest-id idle worker: %+v", res)
	}
	res = e.Step(Action{Staffing: StaffFireWorker})
	if len(res.Fired) != 0 || len(res.Rejections) != 1 || res.Rejections[0].Part != PartStaffing {
		t.Fatalf("fire under min: %+v", res)
	}
	if len(e.employees) != 2 {
		t.Fatalf("headcount = %d, want 2", len(e.employees))
	}
	// Ids are never reused within an episode.
	if res := e.Step(Action{Staffing: StaffHireWorker}); len(res.Hired) != 1 || res.Hired[0] != 4 {
		t.Fatalf("rehire: %+v", res)
	}
	if got := e.Info().NumWorkers; got != 3 {
		t.Fatalf("workers = %d", got)
	}
	if e.Ledger().BurnRate != 3*tune.Staffing.WorkerSalary {
		t.Fatalf("burn rate = %v", e.Ledger().BurnRate)
	}
}

func TestEnv_RejectedSubActionsAreNoOps(t *testing.T) {
	tune := testTuning()
	tune.Orders.ArrivalRate = 0
	e := newTestEnv(t, tune)

	var empty []grid.Pos
	for _, p := range e.grid.StorageCells() {
		if _, ok := e.grid.ItemAt(p); !ok {
			empty = append(empty, p)
		}
	}
	stocked, _ := e.grid.LocationOf(0)
	tooMany := make([]int, tune.Orders.QueueSlots+1)
	tooMany[tune.Orders.QueueSlots] = 1

	cases := []struct {
		name string
		act  Action
		part string
		code string
	}{
		{"same cell", Action{LayoutSwap: [2]int{e.grid.Index(stocked), e.grid.Index(stocked)}}, PartLayoutSwap, protocol.ErrInvalidSwap},
		{"non-storage", Action{LayoutSwap: [2]int{0, e.grid.Index(stocked)}}, PartLayoutSwap, protocol.ErrInvalidSwap},
		{"both empty", Action{LayoutSwap: [2]int{e.grid.Index(empty[0]), e.grid.Index(empty[1])}}, PartLayoutSwap, protocol.ErrInvalidSwap},
		{"out of range", Action{LayoutSwap: [2]int{-1, 5}}, PartLayoutSwap, protocol.ErrInvalidAction},
		{"no idle manager", Action{LayoutSwap: [2]int{e.grid.Index(stocked), e.grid.Index(empty[0])}}, PartLayoutSwap, protocol.ErrNotFound},
		{"empty slot", Action{OrderAssignments: []int{1}}, PartAssignment, protocol.ErrNotFound},
		{"slot beyond queue", Action{OrderAssignments: tooMany}, PartAssignment, protocol.ErrInvalidAction},
		{"bad staffing", Action{Staffing: 9}, PartStaffing, protocol.ErrInvalidAction},
	}
	for _, tc := range cases {
		before := e.grid.ExportState()
		res := e.Step(tc.act)
		if len(res.Rejections) != 1 {
			t.Fatalf("%s: rejections = %+v", tc.name, res.Rejections)
		}
		if r := res.Rejections[0]; r.Part != tc.part || r.Code != tc.code {
			t.Fatalf("%s: rejection = %+v, want %s/%s", tc.name, r, tc.part, tc.code)
		}
		after := e.grid.ExportState()
		for i := range before.Occupants {
			if before.Occupants[i] != after.Occupants[i] || before.Reserved[i] != after.Reserved[i] {
				t.Fatalf("%s: cell %d changed", tc.name, i)
			}
		}
	}
	if got := e.Info().RejectedActions; got != len(cases) {
		t.Fatalf("rejected actions = %d, want %d", got, len(cases))
	}
	if res := e.Step(Action{LayoutSwap: [2]int{0, 0}}); len(res.Rejections) != 0 {
		t.Fatalf("[0,0] must be a no-op, got %+v", res.Rejections)
	}
}

func TestEnv_RewardAndTermination(t *testing.T) {
	tune := testTuning()
	tune.Orders.ArrivalRate = 0
	tune.Episode.LengthTicks = 5
	tune.Episode.BankruptcyThreshold = -3.5
	e := newTestEnv(t, tune)

	// Two idle workers cost 2 per tick and nothing is sold.
	res := e.Step(Action{})
	if res.Reward != -2 || res.Done || res.Truncated {
		t.Fatalf("tick 0: reward=%v done=%v truncated=%v", res.Reward, res.Done, res.Truncated)
	}
	if res.Obs.Financial != [4]float64{0, 2, -2, 2} {
		t.Fatalf("financial = %v", res.Obs.Financial)
	}
	res = e.Step(Action{})
	if !res.Done || res.Truncated {
		t.Fatalf("profit %v is below the bankruptcy threshold: done=%v", res.Info.Profit, res.Done)
	}
	for i := 0; i < 3; i++ {
		res = e.Step(Action{})
	}
	if !res.Truncated || res.Obs.Time != 5 {
		t.Fatalf("episode should be truncated at tick 5: time=%d truncated=%v", res.Obs.Time, res.Truncated)
	}
}

func TestEnv_SnapshotRoundTrip(t *testing.T) {
	e := newTestEnv(t, testTuning())
	for tick := 0; tick < 300; tick++ {
		e.Step(scriptedAction(e, tick))
	}

	path := filepath.Join(t.TempDir(), "snap.zst")
	snap := e.ExportSnapshot()
	snap.Header.RunID = "test"
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}
	back, err := snapshot.ReadSnapshot(path)
	if err != nil {
		t.Fatalf("ReadSnapshot: %v", err)
	}
	f, err := FromSnapshot(back)
	if err != nil {
		t.Fatalf("FromSnapshot: %v", err)
	}
	if f.Digest() != e.Digest() {
		t.Fatalf("digest changed across snapshot")
	}
	oa, _ := json.Marshal(e.Observe())
	ob, _ := json.Marshal(f.Observe())
	if string(oa) != string(ob) {
		t.Fatalf("observation changed across snapshot")
	}

	for tick := 300; tick < 500; tick++ {
		ra := e.Step(scriptedAction(e, tick))
		rb := f.Step(scriptedAction(f, tick))
		if ra.Info != rb.Info {
			t.Fatalf("tick %d: info diverged after restore", tick)
		}
		if e.Digest() != f.Digest() {
			t.Fatalf("tick %d: digest diverged after restore", tick)
		}
	}
}

func TestEnv_ExpiredOrdersAreCancelled(t *testing.T) {
	tune := testTuning()
	tune.Staffing.InitialWorkers = 0
	tune.Orders.ArrivalRate = 1
	tune.Orders.TimeoutTicks = 10
	tune.Reward = tuning.Reward{ProfitWeight: 1, ServiceWeight: 1, ServiceUnit: 10}
	e := newTestEnv(t, tune)

	cancelled := 0
	for i := 0; i < 60; i++ {
		res := e.Step(Action{})
		delta := res.Info.OrdersCancelled - cancelled
		cancelled = res.Info.OrdersCancelled
		if want := -10 * float64(delta); res.Reward != want {
			t.Fatalf("tick %d: reward %v with %d cancellations, want %v", res.Tick, res.Reward, delta, want)
		}
		for _, o := range e.queue.Orders() {
			if o.Status != orders.Pending {
				t.Fatalf("tick %d: order %d is %s but still queued", res.Tick, o.ID, o.Status)
			}
			if o.Age(res.Tick) > tune.Orders.TimeoutTicks {
				t.Fatalf("tick %d: order %d aged %d survived expiry", res.Tick, o.ID, o.Age(res.Tick))
			}
		}
	}
	info := e.Info()
	if info.OrdersCancelled == 0 {
		t.Fatalf("nothing expired: %+v", info)
	}
	if info.Revenue != 0 || info.OrdersCompleted != 0 {
		t.Fatalf("cancellations touched revenue: %+v", info)
	}
	if info.OrdersGenerated != info.QueueLength+info.OrdersCancelled {
		t.Fatalf("generated %d != queued %d + cancelled %d", info.OrdersGenerated, info.QueueLength, info.OrdersCancelled)
	}
	if info.CompletionRate != 0 {
		t.Fatalf("completion rate %v with no completions", info.CompletionRate)
	}
}

// Busy floors used to jam the one-wide aisles for good; every seed must keep
// completing orders long after the start.
func TestEnv_CongestedAislesKeepFlowing(t *testing.T) {
	cases := []struct {
		name      string
		workers   int
		managers  int
		swapEvery int
	}{
		{"six workers", 6, 0, 0},
		{"full spawn row with swaps", 7, 2, 11},
	}
	for _, tc := range cases {
		for seed := int64(1); seed <= 6; seed++ {
			tune := testTuning()
			tune.Seed = seed
			tune.Staffing.InitialWorkers = tc.workers
			tune.Staffing.InitialManagers = tc.managers
			e := newTestEnv(t, tune)
			slots := tune.Orders.QueueSlots

			mid := 0
			for tick := 0; tick < 2000; tick++ {
				a := greedyAction(e.Observe(), slots)
				if tc.swapEvery > 0 && tick%tc.swapEvery == 0 {
					s := e.grid.StorageCells()
					a.LayoutSwap = [2]int{e.grid.Index(s[(tick*7)%len(s)]), e.grid.Index(s[(tick*13+5)%len(s)])}
				}
				res := e.Step(a)
				if err := e.CheckConservation(); err != nil {
					t.Fatalf("%s seed %d tick %d: %v", tc.name, seed, tick, err)
				}
				checkNoDoubleOccupancy(t, e)
				if tick == 999 {
					mid = res.Info.OrdersCompleted
				}
			}
			if done := e.Info().OrdersCompleted - mid; done < 5 {
				t.Fatalf("%s seed %d: only %d orders completed in ticks 1000-1999 (total %d)", tc.name, seed, done, e.Info().OrdersCompleted)
			}
		}
	}
}
