package employee

import (
	"fmt"

	"warehouse.ai/internal/sim/grid"
	"warehouse.ai/internal/sim/pathing"
)

func (e *Employee) stepRelocating(f *Floor, s *Relocating, res *StepResult) {
	t := &s.Task
	if t.Stage >= 2 {
		res.Swap = &SwapRecord{
			ManagerID:        e.ID,
			SourcePos:        t.Source,
			SourceItemBefore: t.SourceItemBefore,
			TargetPos:        t.Target,
			TargetItemBefore: t.TargetItemBefore,
		}
		e.setState(f, &Idle{})
		return
	}

	spot := t.Source
	if t.Stage == 1 {
		spot = t.Target
	}
	if s.Remaining > 0 {
		s.Remaining--
		if s.Remaining == 0 {
			e.finishStage(f, s, res)
		}
		return
	}
	if grid.Adjacent(e.Pos, spot) {
		s.Remaining = f.Params.PickTicks
		return
	}
	if len(s.Nav.Path) == 0 {
		path, err := pathing.ToAdjacent(f.Grid, e.Pos, spot, nil)
		if err != nil {
			e.failRelocation(f, s, err, res)
			return
		}
		s.Nav.Path = path
	}
	moved, err := e.advance(f, &s.Nav, func(avoid bool) error {
		var blocked func(grid.Pos) bool
		if avoid {
			blocked = f.Traffic.occupiedByOthers(e.ID)
		}
		path, err := pathing.ToAdjacent(f.Grid, e.Pos, spot, blocked)
		if err != nil {
			return err
		}
		s.Nav.Path = path
		return nil
	})
	res.Moved = moved
	if err != nil {
		e.failRelocation(f, s, err, res)
		return
	}
	if moved && grid.Adjacent(e.Pos, spot) {
		s.Remaining = f.Params.PickTicks
	}
}

// finishStage performs the grid writes of the current stage once the manager
// has spent the pick duration next to the cell.
func (e *Employee) finishStage(f *Floor, s *Relocating, res *StepResult) {
	t := &s.Task
	switch t.Stage {
	case 0:
		// The source may have been emptied by a worker since acceptance;
		// the relocation then degrades to moving Target's item into Source.
		held, err := f.Grid.PickItem(t.Source)
		if err != nil {
			held = grid.NoItem
		}
		s.Held = held
		t.SourceItemBefore = held
		t.Stage = 1
		s.Nav = Nav{}
		if grid.Adjacent(e.Pos, t.Target) {
			s.Remaining = f.Params.PickTicks
		}
	case 1:
		prev, err := f.Grid.ExchangeItem(t.Target, s.Held)
		if err != nil {
			e.failRelocation(f, s, err, res)
			return
		}
		s.Held = grid.NoItem
		t.TargetItemBefore = prev
		f.Grid.Release(t.Source, e.ID)
		f.Grid.Release(t.Target, e.ID)
		if prev != grid.NoItem {
			if err := f.Grid.PlaceItem(t.Source, prev); err != nil {
				res.Scrapped = append(res.Scrapped, e.stash(f, prev)...)
			}
		}
		t.Stage = 2
		s.Nav = Nav{}
	}
}

func (e *Employee) failRelocation(f *Floor, s *Relocating, err error, res *StepResult) {
	res.Scrapped = append(res.Scrapped, e.unwindRelocation(f, s)...)
	res.RelocationFailed = fmt.Errorf("relocation %v -> %v: %w", s.Task.Source, s.Task.Target, err)
	e.setState(f, &Idle{})
}

// unwindRelocation releases the reservations and puts a held item back into
// the source cell. It returns items that could not be placed anywhere.
func (e *Employee) unwindRelocation(f *Floor, s *Relocating) []grid.ItemType {
	f.Grid.Release(s.Task.Source, e.ID)
	f.Grid.Release(s.Task.Target, e.ID)
	held := s.Held
	s.Held = grid.NoItem
	if held == grid.NoItem {
		return nil
	}
	if err := f.Grid.PlaceItem(s.Task.Source, held); err == nil {
		return nil
	}
	return e.stash(f, held)
}

// stash puts t into the nearest free rack, returning it as scrapped if the
// grid is full.
func (e *Employee) stash(f *Floor, t grid.ItemType) []grid.ItemType {
	if p, ok := f.Grid.NearestEmptyStorage(e.Pos); ok {
		if f.Grid.PlaceItem(p, t) == nil {
			return nil
		}
	}
	return []grid.ItemType{t}
}
