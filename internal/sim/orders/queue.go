package orders

import (
	"fmt"

	"warehouse.ai/internal/sim/grid"
)

// Queue holds Pending and Claimed orders in arrival order. Completed and
// cancelled orders leave the queue and are returned to the caller.
type Queue struct {
	orders []*Order
	byID   map[int]*Order
	nextID int
}

func NewQueue() *Queue {
	return &Queue{byID: map[int]*Order{}, nextID: 1}
}

func (q *Queue) Reset() {
	q.orders = nil
	q.byID = map[int]*Order{}
	q.nextID = 1
}

// NextID is the id the next Add will assign.
func (q *Queue) NextID() int { return q.nextID }

// Add appends a new Pending order and returns it.
func (q *Queue) Add(items []grid.ItemType, value float64, tick int) *Order {
	o := &Order{
		ID:          q.nextID,
		Items:       append([]grid.ItemType(nil), items...),
		Value:       value,
		ArrivalTick: tick,
		Status:      Pending,
	}
	q.nextID++
	q.orders = append(q.orders, o)
	q.byID[o.ID] = o
	return o
}

func (q *Queue) Len() int { return len(q.orders) }

// At returns the order listed at slot i, or nil.
func (q *Queue) At(i int) *Order {
	if i < 0 || i >= len(q.orders) {
		return nil
	}
	return q.orders[i]
}

func (q *Queue) Get(id int) (*Order, bool) {
	o, ok := q.byID[id]
	return o, ok
}

// Orders returns the live listing. Callers must not mutate it.
func (q *Queue) Orders() []*Order { return q.orders }

func (q *Queue) CountStatus(s Status) int {
	n := 0
	for _, o := range q.orders {
		if o.Status == s {
			n++
		}
	}
	return n
}

// Claim moves a Pending order to Claimed by employeeID.
func (q *Queue) Claim(id, employeeID int) (*Order, error) {
	o, ok := q.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: order %d", grid.ErrNotFound, id)
	}
	if o.Status != Pending {
		return nil, fmt.Errorf("%w: order %d is %s", grid.ErrInvalidAction, id, o.Status)
	}
	if employeeID <= 0 {
		return nil, fmt.Errorf("%w: employee %d", grid.ErrInvalidAction, employeeID)
	}
	o.Status = Claimed
	o.ClaimedBy = employeeID
	return o, nil
}

// Release returns a Claimed order to Pending so it can be reassigned.
func (q *Queue) Release(id int) error {
	o, ok := q.byID[id]
	if !ok {
		return fmt.Errorf("%w: order %d", grid.ErrNotFound, id)
	}
	if o.Status != Claimed {
		return fmt.Errorf("%w: order %d is %s", grid.ErrInvalidAction, id, o.Status)
	}
	o.Status = Pending
	o.ClaimedBy = 0
	return nil
}

// Complete marks a Claimed order Completed and removes it from the queue.
func (q *Queue) Complete(id int) (*Order, error) {
	o, ok := q.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: order %d", grid.ErrNotFound, id)
	}
	if o.Status != Claimed {
		return nil, fmt.Errorf("%w: order %d is %s", grid.ErrInvalidAction, id, o.Status)
	}
	o.Status = Completed
	q.remove(id)
	return o, nil
}

// ExpireOlderThan cancels and removes Pending orders whose age exceeds maxAge.
// Claimed orders are never expired: an in-progress pick runs to completion.
func (q *Queue) ExpireOlderThan(now, maxAge int) []*Order {
	if maxAge <= 0 {
		return nil
	}
	var out []*Order
	kept := q.orders[:0]
	for _, o := range q.orders {
		if o.Status == Pending && o.Age(now) > maxAge {
			o.Status = Cancelled
			delete(q.byID, o.ID)
			out = append(out, o)
			continue
		}
		kept = append(kept, o)
	}
	clear(q.orders[len(kept):])
	q.orders = kept
	return out
}

func (q *Queue) remove(id int) {
	delete(q.byID, id)
	for i, o := range q.orders {
		if o.ID == id {
			q.orders = append(q.orders[:i], q.orders[i+1:]...)
			return
		}
	}
}

// Snapshot copies the queue contents.
func (q *Queue) Snapshot() ([]Order, int) {
	out := make([]Order, len(q.orders))
	for i, o := range q.orders {
		out[i] = *o.clone()
	}
	return out, q.nextID
}

func (q *Queue) Restore(list []Order, nextID int) error {
	q.Reset()
	for i := range list {
		o := list[i].clone()
		if o.Status != Pending && o.Status != Claimed {
			return fmt.Errorf("order %d: status %s cannot be queued", o.ID, o.Status)
		}
		if o.ID >= nextID {
			return fmt.Errorf("order %d: id not below next id %d", o.ID, nextID)
		}
		if _, dup := q.byID[o.ID]; dup {
			return fmt.Errorf("order %d: duplicate id", o.ID)
		}
		q.orders = append(q.orders, o)
		q.byID[o.ID] = o
	}
	q.nextID = nextID
	return nil
}
