package warehouse

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"

	"warehouse.ai/internal/sim/employee"
	"warehouse.ai/internal/sim/grid"
)

type hashWriter interface {
	Write(p []byte) (n int, err error)
}

func digestWriteU64(h hashWriter, tmp *[8]byte, v uint64) {
	binary.LittleEndian.PutUint64(tmp[:], v)
	h.Write(tmp[:])
}

func digestWriteI64(h hashWriter, tmp *[8]byte, v int64) {
	digestWriteU64(h, tmp, uint64(v))
}

func digestWriteF64(h hashWriter, tmp *[8]byte, v float64) {
	digestWriteU64(h, tmp, math.Float64bits(v))
}

func digestWriteInts(h hashWriter, tmp *[8]byte, v []int) {
	digestWriteU64(h, tmp, uint64(len(v)))
	for _, x := range v {
		digestWriteI64(h, tmp, int64(x))
	}
}

func digestWriteItems(h hashWriter, tmp *[8]byte, v []grid.ItemType) {
	digestWriteU64(h, tmp, uint64(len(v)))
	for _, x := range v {
		digestWriteI64(h, tmp, int64(x))
	}
}

func digestWritePos(h hashWriter, tmp *[8]byte, p grid.Pos) {
	digestWriteI64(h, tmp, int64(p.X))
	digestWriteI64(h, tmp, int64(p.Y))
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// Digest is a sha256 over every piece of state that influences future ticks.
// Two envs with equal digests produce equal trajectories under equal actions.
func (e *Env) Digest() string {
	h := sha256.New()
	var tmp [8]byte

	digestWriteI64(h, &tmp, e.seed)
	digestWriteU64(h, &tmp, uint64(e.tick))
	digestWriteF64(h, &tmp, e.ledger.Revenue)
	digestWriteF64(h, &tmp, e.ledger.Cost)
	digestWriteF64(h, &tmp, e.ledger.BurnRate)
	for _, v := range []int{e.counters.completed, e.counters.cancelled, e.counters.generated, e.counters.swaps, e.counters.rejected} {
		digestWriteI64(h, &tmp, int64(v))
	}
	if rng, err := e.gen.State(); err == nil {
		h.Write(rng)
	}

	e.digestGrid(h, &tmp)
	e.digestOrders(h, &tmp)
	e.digestEmployees(h, &tmp)

	for _, r := range e.restocker.Pending() {
		digestWriteI64(h, &tmp, int64(r.Item))
		digestWritePos(h, &tmp, r.Cell)
		digestWriteI64(h, &tmp, int64(r.Due))
	}
	digestWriteInts(h, &tmp, e.cons.initial)
	digestWriteInts(h, &tmp, e.cons.restocked)
	digestWriteInts(h, &tmp, e.cons.shipped)
	digestWriteInts(h, &tmp, e.cons.scrapped)

	return hex.EncodeToString(h.Sum(nil))
}

func (e *Env) digestGrid(h hashWriter, tmp *[8]byte) {
	st := e.grid.ExportState()
	digestWriteItems(h, tmp, st.Occupants)
	digestWriteInts(h, tmp, st.Reserved)
	digestWriteInts(h, tmp, st.Access)
	digestWriteInts(h, tmp, st.CoOccurrence)
}

func (e *Env) digestOrders(h hashWriter, tmp *[8]byte) {
	list, next := e.queue.Snapshot()
	digestWriteU64(h, tmp, uint64(next))
	digestWriteU64(h, tmp, uint64(len(list)))
	for _, o := range list {
		digestWriteI64(h, tmp, int64(o.ID))
		digestWriteItems(h, tmp, o.Items)
		digestWriteF64(h, tmp, o.Value)
		digestWriteI64(h, tmp, int64(o.ArrivalTick))
		h.Write([]byte{byte(o.Status)})
		digestWriteI64(h, tmp, int64(o.ClaimedBy))
	}
}

func (e *Env) digestEmployees(h hashWriter, tmp *[8]byte) {
	digestWriteU64(h, tmp, uint64(e.nextEmployeeID))
	digestWriteU64(h, tmp, uint64(len(e.employees)))
	for _, emp := range e.employees {
		r := emp.Export()
		digestWriteI64(h, tmp, int64(r.ID))
		digestWritePos(h, tmp, r.Pos)
		h.Write([]byte{byte(r.Role), byte(r.Kind)})
		if r.Job != nil {
			digestWriteI64(h, tmp, int64(r.Job.OrderID))
			digestWriteItems(h, tmp, r.Job.Items)
			digestWriteItems(h, tmp, r.Job.Required)
			digestWriteItems(h, tmp, r.Job.Collected)
		}
		digestNav(h, tmp, r.Nav)
		digestWritePos(h, tmp, r.Target)
		digestWriteI64(h, tmp, int64(r.Remaining))
		digestWritePos(h, tmp, r.Task.Source)
		digestWritePos(h, tmp, r.Task.Target)
		digestWriteI64(h, tmp, int64(r.Task.Stage))
		digestWriteI64(h, tmp, int64(r.Task.SourceItemBefore))
		digestWriteI64(h, tmp, int64(r.Task.TargetItemBefore))
		digestWriteI64(h, tmp, int64(r.Held))
	}
	for _, y := range e.traffic.PendingYields() {
		digestWriteI64(h, tmp, int64(y.ID))
		digestWriteI64(h, tmp, int64(y.From))
		digestWriteI64(h, tmp, int64(y.Origin))
	}
}

func digestNav(h hashWriter, tmp *[8]byte, n employee.Nav) {
	digestWriteU64(h, tmp, uint64(len(n.Path)))
	for _, p := range n.Path {
		digestWritePos(h, tmp, p)
	}
	digestWritePos(h, tmp, n.Goal)
	h.Write([]byte{boolByte(n.HasGoal)})
	digestWriteI64(h, tmp, int64(n.Blocked))
	digestWriteI64(h, tmp, int64(n.Stuck))
	digestWriteI64(h, tmp, int64(n.Wait))
	digestWriteI64(h, tmp, int64(n.Jammed))
}
