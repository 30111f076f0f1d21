package orders

import (
	"errors"
	"testing"

	"warehouse.ai/internal/sim/grid"
)

func TestQueue_Lifecycle(t *testing.T) {
	q := NewQueue()
	a := q.Add([]grid.ItemType{1, 2}, 40, 0)
	b := q.Add([]grid.ItemType{3}, 30, 1)
	if a.ID != 1 || b.ID != 2 {
		t.Fatalf("ids = %d, %d", a.ID, b.ID)
	}
	if q.At(0) != a || q.At(1) != b || q.At(2) != nil {
		t.Fatalf("slot lookup broken")
	}

	if _, err := q.Claim(a.ID, 7); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if _, err := q.Claim(a.ID, 8); !errors.Is(err, grid.ErrInvalidAction) {
		t.Fatalf("double claim err = %v", err)
	}
	if _, err := q.Claim(99, 8); !errors.Is(err, grid.ErrNotFound) {
		t.Fatalf("missing order err = %v", err)
	}
	if _, err := q.Complete(b.ID); !errors.Is(err, grid.ErrInvalidAction) {
		t.Fatalf("completing a pending order err = %v", err)
	}

	if err := q.Release(a.ID); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if a.Status != Pending || a.ClaimedBy != 0 {
		t.Fatalf("released order = %+v", a)
	}
	if _, err := q.Claim(a.ID, 8); err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	done, err := q.Complete(a.ID)
	if err != nil || done.Status != Completed {
		t.Fatalf("Complete = %+v, %v", done, err)
	}
	if q.Len() != 1 || q.At(0) != b {
		t.Fatalf("completed order must leave the queue")
	}
	if _, err := q.Complete(a.ID); !errors.Is(err, grid.ErrNotFound) {
		t.Fatalf("second complete err = %v", err)
	}
}

func TestQueue_ExpireOnlyPending(t *testing.T) {
	q := NewQueue()
	old := q.Add([]grid.ItemType{0}, 10, 0)
	claimed := q.Add([]grid.ItemType{1}, 10, 0)
	fresh := q.Add([]grid.ItemType{2}, 10, 90)
	if _, err := q.Claim(claimed.ID, 1); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	gone := q.ExpireOlderThan(101, 100)
	if len(gone) != 1 || gone[0] != old || old.Status != Cancelled {
		t.Fatalf("expired = %+v", gone)
	}
	if q.Len() != 2 || q.At(0) != claimed || q.At(1) != fresh {
		t.Fatalf("remaining listing wrong")
	}
	if _, ok := q.Get(old.ID); ok {
		t.Fatalf("cancelled order still indexed")
	}
	if got := q.ExpireOlderThan(101, 0); got != nil {
		t.Fatalf("non-positive age must disable expiry")
	}
}

func TestQueue_SnapshotRestore(t *testing.T) {
	q := NewQueue()
	q.Add([]grid.ItemType{1, 2}, 40, 3)
	o := q.Add([]grid.ItemType{4}, 30, 5)
	_, _ = q.Claim(o.ID, 2)
	list, next := q.Snapshot()

	r := NewQueue()
	if err := r.Restore(list, next); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if r.Len() != 2 || r.NextID() != 3 {
		t.Fatalf("restored len=%d next=%d", r.Len(), r.NextID())
	}
	got, _ := r.Get(o.ID)
	if got.Status != Claimed || got.ClaimedBy != 2 {
		t.Fatalf("restored order = %+v", got)
	}
	list[0].Status = Completed
	if err := r.Restore(list, next); err == nil {
		t.Fatalf("completed order must not be restorable into the queue")
	}
}
