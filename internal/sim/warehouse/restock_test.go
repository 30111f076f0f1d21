package warehouse

import (
	"testing"

	"warehouse.ai/internal/sim/grid"
	"warehouse.ai/internal/sim/tuning"
)

func TestDelayedRestocker_ReleasesInDueOrder(t *testing.T) {
	d := &DelayedRestocker{Delay: 5}
	d.Schedule(10, 3, grid.Pos{X: 1, Y: 1})
	d.Schedule(12, 4, grid.Pos{X: 2, Y: 1})

	if got := d.Due(14); len(got) != 0 {
		t.Fatalf("due at 14 = %v, want none", got)
	}
	got := d.Due(15)
	if len(got) != 1 || got[0].Item != 3 || got[0].Cell != (grid.Pos{X: 1, Y: 1}) {
		t.Fatalf("due at 15 = %v", got)
	}
	if p := d.Pending(); len(p) != 1 || p[0].Due != 17 {
		t.Fatalf("pending = %v", p)
	}
	if got := d.Due(100); len(got) != 1 || got[0].Item != 4 {
		t.Fatalf("due at 100 = %v", got)
	}
	if len(d.Pending()) != 0 {
		t.Fatalf("queue not drained")
	}
}

func TestDelayedRestocker_RestoreSortsByDue(t *testing.T) {
	d := &DelayedRestocker{Delay: 5}
	d.Restore([]Restock{{Item: 1, Due: 9}, {Item: 2, Due: 3}})
	p := d.Pending()
	if len(p) != 2 || p[0].Item != 2 || p[1].Item != 1 {
		t.Fatalf("pending = %v", p)
	}
}

func TestNewRestocker(t *testing.T) {
	if _, ok := NewRestocker(tuning.Restock{Policy: tuning.RestockNone}).(noRestock); !ok {
		t.Fatalf("none policy should never restock")
	}
	imm, ok := NewRestocker(tuning.Restock{Policy: tuning.RestockImmediate, DelayTicks: 9}).(*DelayedRestocker)
	if !ok || imm.Delay != 0 {
		t.Fatalf("immediate policy = %+v", imm)
	}
	imm.Schedule(4, 0, grid.Pos{})
	if len(imm.Due(4)) != 1 {
		t.Fatalf("immediate restock should be due within the pick tick")
	}
	del, ok := NewRestocker(tuning.Restock{Policy: tuning.RestockDelayed, DelayTicks: 7}).(*DelayedRestocker)
	if !ok || del.Delay != 7 {
		t.Fatalf("delayed policy = %+v", del)
	}
}
