package warehouse

import (
	"sort"

	"warehouse.ai/internal/sim/grid"
	"warehouse.ai/internal/sim/tuning"
)

// Restock is a replenishment of one item type that becomes due at Due.
// Cell is where the item was picked; it is refilled if still free.
type Restock struct {
	Item grid.ItemType
	Cell grid.Pos
	Due  int
}

// Restocker decides whether and when picked stock comes back. The env calls
// Schedule for every item picked off a rack by an order and applies whatever
// Due returns at the end of the same tick.
type Restocker interface {
	Schedule(now int, item grid.ItemType, from grid.Pos)
	Due(now int) []Restock
	Pending() []Restock
	Restore(list []Restock)
}

// NewRestocker builds one of the built-in policies.
func NewRestocker(cfg tuning.Restock) Restocker {
	switch cfg.Policy {
	case tuning.RestockNone:
		return noRestock{}
	case tuning.RestockImmediate:
		return &DelayedRestocker{}
	default:
		return &DelayedRestocker{Delay: cfg.DelayTicks}
	}
}

type noRestock struct{}

func (noRestock) Schedule(int, grid.ItemType, grid.Pos) {}
func (noRestock) Due(int) []Restock                     { return nil }
func (noRestock) Pending() []Restock                    { return nil }
func (noRestock) Restore([]Restock)                     {}

// DelayedRestocker brings every picked item back Delay ticks after the pick.
// A zero Delay restocks within the tick of the pick.
type DelayedRestocker struct {
	Delay int

	queue []Restock
}

func (d *DelayedRestocker) Schedule(now int, item grid.ItemType, from grid.Pos) {
	d.queue = append(d.queue, Restock{Item: item, Cell: from, Due: now + max(d.Delay, 0)})
}

func (d *DelayedRestocker) Due(now int) []Restock {
	var out []Restock
	kept := d.queue[:0]
	for _, r := range d.queue {
		if r.Due <= now {
			out = append(out, r)
			continue
		}
		kept = append(kept, r)
	}
	clear(d.queue[len(kept):])
	d.queue = kept
	return out
}

func (d *DelayedRestocker) Pending() []Restock { return append([]Restock(nil), d.queue...) }

func (d *DelayedRestocker) Restore(list []Restock) {
	d.queue = append(d.queue[:0], list...)
	sort.SliceStable(d.queue, func(i, j int) bool { return d.queue[i].Due < d.queue[j].Due })
}
