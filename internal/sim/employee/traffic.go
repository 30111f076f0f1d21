package employee

import (
	"fmt"
	"sort"

	"warehouse.ai/internal/sim/grid"
)

// Traffic is the occupancy table: at most one employee per cell. It also
// carries yield requests, which are double-buffered so a request posted in
// tick t is honoured in tick t+1 regardless of step order.
type Traffic struct {
	at   map[grid.Pos]int
	pos  map[int]grid.Pos
	kind map[int]Kind

	yieldNow  map[int]Yield
	yieldNext map[int]Yield
}

// Yield asks employee ID to clear its cell. From is the employee that asked;
// Origin is the blocked employee that started the chain of requests. When
// several requests target one employee the lowest Origin wins.
type Yield struct {
	ID     int
	From   int
	Origin int
}

func (y Yield) before(o Yield) bool {
	if y.Origin != o.Origin {
		return y.Origin < o.Origin
	}
	return y.From < o.From
}

func NewTraffic() *Traffic {
	t := &Traffic{}
	t.Reset()
	return t
}

func (t *Traffic) Reset() {
	t.at = map[grid.Pos]int{}
	t.pos = map[int]grid.Pos{}
	t.kind = map[int]Kind{}
	t.yieldNow = map[int]Yield{}
	t.yieldNext = map[int]Yield{}
}

// BeginTick makes last tick's yield requests visible and starts collecting new ones.
func (t *Traffic) BeginTick() {
	t.yieldNow, t.yieldNext = t.yieldNext, t.yieldNow
	clear(t.yieldNext)
}

func (t *Traffic) Place(id int, p grid.Pos, k Kind) error {
	if other, ok := t.at[p]; ok && other != id {
		return fmt.Errorf("%w: cell %v held by employee %d", grid.ErrInvalidAction, p, other)
	}
	if old, ok := t.pos[id]; ok {
		delete(t.at, old)
	}
	t.at[p] = id
	t.pos[id] = p
	t.kind[id] = k
	return nil
}

func (t *Traffic) Remove(id int) {
	if p, ok := t.pos[id]; ok && t.at[p] == id {
		delete(t.at, p)
	}
	delete(t.pos, id)
	delete(t.kind, id)
	delete(t.yieldNow, id)
	delete(t.yieldNext, id)
}

// At returns the employee standing on p, 0 if none.
func (t *Traffic) At(p grid.Pos) int { return t.at[p] }

func (t *Traffic) Free(p grid.Pos) bool {
	_, ok := t.at[p]
	return !ok
}

func (t *Traffic) KindOf(id int) Kind { return t.kind[id] }

func (t *Traffic) Len() int { return len(t.at) }

func (t *Traffic) move(id int, to grid.Pos) bool {
	if !t.Free(to) {
		return false
	}
	if old, ok := t.pos[id]; ok {
		delete(t.at, old)
	}
	t.at[to] = id
	t.pos[id] = to
	return true
}

func (t *Traffic) setKind(id int, k Kind) {
	if _, ok := t.pos[id]; ok {
		t.kind[id] = k
	}
}

// RequestYield posts a request for next tick. Busy employees only give way
// to chains started by a lower id; Idle ones give way to anybody.
func (t *Traffic) RequestYield(id, from, origin int) bool {
	if id == 0 || id == origin {
		return false
	}
	if t.kind[id] != KindIdle && id < origin {
		return false
	}
	y := Yield{ID: id, From: from, Origin: origin}
	if cur, ok := t.yieldNext[id]; ok && !y.before(cur) {
		return true
	}
	t.yieldNext[id] = y
	return true
}

func (t *Traffic) mustYield(id int) (Yield, bool) {
	y, ok := t.yieldNow[id]
	return y, ok
}

// PosOf returns where id stands.
func (t *Traffic) PosOf(id int) (grid.Pos, bool) {
	p, ok := t.pos[id]
	return p, ok
}

// occupiedByOthers returns an avoid predicate for path search.
func (t *Traffic) occupiedByOthers(self int) func(grid.Pos) bool {
	return func(p grid.Pos) bool {
		id, ok := t.at[p]
		return ok && id != self
	}
}

// PendingYields lists yield requests that will be honoured next tick, by id.
func (t *Traffic) PendingYields() []Yield {
	out := make([]Yield, 0, len(t.yieldNext))
	for _, y := range t.yieldNext {
		out = append(out, y)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (t *Traffic) RestoreYields(list []Yield) {
	clear(t.yieldNext)
	for _, y := range list {
		t.yieldNext[y.ID] = y
	}
}
