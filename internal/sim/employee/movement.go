package employee

import (
	"errors"
	"fmt"
	"sort"

	"warehouse.ai/internal/sim/grid"
	"warehouse.ai/internal/sim/pathing"
)

// adjacentNeeded returns the first neighbouring rack (fixed neighbour order)
// holding an item the job still needs.
func (e *Employee) adjacentNeeded(f *Floor, j *Job) (grid.Pos, bool) {
	for _, p := range f.Grid.Neighbors(e.Pos) {
		if f.Grid.CellAt(p) != grid.Storage {
			continue
		}
		if t, ok := f.Grid.ItemAt(p); ok && j.needs(t) {
			return p, true
		}
	}
	return grid.Pos{}, false
}

// planPick chooses the nearest rack holding a still-needed item (Manhattan
// distance, then cell index) that has a path, and stores the path. It returns
// ErrNotFound when none of the needed items is on the grid and ErrUnreachable
// when they are but no path exists.
func (e *Employee) planPick(f *Floor, s *Moving, avoid bool) error {
	type cand struct {
		pos  grid.Pos
		dist int
		idx  int
	}
	var cands []cand
	seen := map[grid.ItemType]bool{}
	for _, t := range s.Job.Required {
		if seen[t] {
			continue
		}
		seen[t] = true
		if p, ok := f.Grid.LocationOf(t); ok {
			cands = append(cands, cand{pos: p, dist: grid.Manhattan(e.Pos, p), idx: f.Grid.Index(p)})
		}
	}
	if len(cands) == 0 {
		return fmt.Errorf("%w: order %d items out of stock", grid.ErrNotFound, s.Job.OrderID)
	}
	sort.Slice(cands, func(a, b int) bool {
		if cands[a].dist != cands[b].dist {
			return cands[a].dist < cands[b].dist
		}
		return cands[a].idx < cands[b].idx
	})
	var blocked func(grid.Pos) bool
	if avoid {
		blocked = f.Traffic.occupiedByOthers(e.ID)
	}
	for _, c := range cands {
		path, err := pathing.ToAdjacent(f.Grid, e.Pos, c.pos, blocked)
		if err != nil {
			continue
		}
		s.Nav.Path = path
		s.Nav.Goal = c.pos
		s.Nav.HasGoal = true
		s.Nav.Wait = 0
		return nil
	}
	return fmt.Errorf("%w: no route to stock for order %d", grid.ErrUnreachable, s.Job.OrderID)
}

func (e *Employee) goalStillValid(f *Floor, s *Moving) bool {
	if !s.Nav.HasGoal {
		return false
	}
	t, ok := f.Grid.ItemAt(s.Nav.Goal)
	return ok && s.Job.needs(t)
}

func (e *Employee) stepMoving(f *Floor, s *Moving, res *StepResult) {
	if rack, ok := e.adjacentNeeded(f, s.Job); ok {
		e.setState(f, &Picking{Job: s.Job, Target: rack, Remaining: f.Params.PickTicks})
		return
	}
	if !e.goalStillValid(f, s) || len(s.Nav.Path) == 0 {
		s.Nav.Path = nil
		s.Nav.HasGoal = false
		err := e.planPick(f, s, false)
		switch {
		case errors.Is(err, grid.ErrNotFound):
			s.Nav.Wait++
			if s.Nav.Wait > f.Params.GiveUpTicks {
				e.abandon(f, s.Job, err, res)
			}
			return
		case err != nil:
			e.abandon(f, s.Job, err, res)
			return
		}
	}
	moved, err := e.advance(f, &s.Nav, func(avoid bool) error {
		s.Nav.Path = nil
		s.Nav.HasGoal = false
		return e.planPick(f, s, avoid)
	})
	res.Moved = moved
	if err != nil {
		if errors.Is(err, grid.ErrNotFound) {
			return
		}
		e.abandon(f, s.Job, err, res)
		return
	}
	if moved {
		if rack, ok := e.adjacentNeeded(f, s.Job); ok {
			e.setState(f, &Picking{Job: s.Job, Target: rack, Remaining: f.Params.PickTicks})
		}
	}
}

func (e *Employee) stepPicking(f *Floor, s *Picking, res *StepResult) {
	s.Remaining--
	if s.Remaining > 0 {
		return
	}
	// The rack may have been emptied or rearranged while we worked.
	if t, ok := f.Grid.ItemAt(s.Target); !ok || !s.Job.needs(t) {
		e.setState(f, &Moving{Job: s.Job})
		return
	}
	t, err := f.Grid.PickItem(s.Target)
	if err != nil {
		e.setState(f, &Moving{Job: s.Job})
		return
	}
	s.Job.collect(t)
	res.Picked = &t
	res.PickedFrom = s.Target

	if s.Job.complete() {
		e.startDelivery(f, s.Job, res)
		return
	}
	if rack, ok := e.adjacentNeeded(f, s.Job); ok {
		e.setState(f, &Picking{Job: s.Job, Target: rack, Remaining: f.Params.PickTicks})
		return
	}
	e.setState(f, &Moving{Job: s.Job})
}

// startDelivery is the only way into Delivering. It refuses unless every
// item of the order has been collected.
func (e *Employee) startDelivery(f *Floor, j *Job, res *StepResult) {
	if !j.complete() {
		e.setState(f, &Moving{Job: j})
		return
	}
	d := &Delivering{Job: j}
	if f.Grid.CellAt(e.Pos) != grid.PackingStation {
		path, err := pathing.Find(f.Grid, e.Pos, f.Grid.PackingStations(), nil)
		if err != nil {
			e.abandon(f, j, err, res)
			return
		}
		d.Nav.Path = path
	}
	e.setState(f, d)
}

func (e *Employee) stepDelivering(f *Floor, s *Delivering, res *StepResult) {
	if f.Grid.CellAt(e.Pos) != grid.PackingStation {
		if len(s.Nav.Path) == 0 {
			path, err := pathing.Find(f.Grid, e.Pos, f.Grid.PackingStations(), nil)
			if err != nil {
				e.abandon(f, s.Job, err, res)
				return
			}
			s.Nav.Path = path
		}
		moved, err := e.advance(f, &s.Nav, func(avoid bool) error {
			var blocked func(grid.Pos) bool
			if avoid {
				blocked = f.Traffic.occupiedByOthers(e.ID)
			}
			path, err := pathing.Find(f.Grid, e.Pos, f.Grid.PackingStations(), blocked)
			if err != nil {
				return err
			}
			s.Nav.Path = path
			return nil
		})
		res.Moved = moved
		if err != nil {
			e.abandon(f, s.Job, err, res)
			return
		}
		if f.Grid.CellAt(e.Pos) != grid.PackingStation {
			return
		}
	}
	res.Delivered = &Delivery{
		OrderID: s.Job.OrderID,
		Items:   append([]grid.ItemType(nil), s.Job.Collected...),
		At:      e.Pos,
	}
	e.setState(f, &Idle{})
}

// advance tries to take the next step of nav. Blocking rules:
//   - the blocker is asked to yield next tick (see Traffic.RequestYield);
//   - after BlockedRepathTicks blocked ticks the path is replanned around
//     occupied cells; if that fails and the blocker has priority (lower id,
//     busy) this employee sidesteps instead;
//   - after StuckRepathTicks ticks without moving a full replan is forced;
//   - after GiveUpTicks consecutive blocked ticks the task is given up with
//     ErrUnreachable.
//
// The error is non-nil only when replanning found no route at all or the
// employee has been jammed too long.
func (e *Employee) advance(f *Floor, nav *Nav, replan func(avoid bool) error) (bool, error) {
	if len(nav.Path) == 0 {
		return false, nil
	}
	next := nav.Path[0]
	if f.Traffic.move(e.ID, next) {
		e.Pos = next
		nav.Path = nav.Path[1:]
		nav.Blocked = 0
		nav.Stuck = 0
		nav.Jammed = 0
		return true, nil
	}

	blocker := f.Traffic.At(next)
	busy := f.Traffic.KindOf(blocker) != KindIdle
	f.Traffic.RequestYield(blocker, e.ID, e.ID)
	nav.Blocked++
	nav.Stuck++
	nav.Jammed++

	if nav.Jammed > f.Params.GiveUpTicks {
		nav.Jammed = 0
		return false, fmt.Errorf("%w: jammed at %v for %d ticks", grid.ErrUnreachable, e.Pos, f.Params.GiveUpTicks)
	}
	if nav.Stuck > f.Params.StuckRepathTicks {
		nav.Stuck = 0
		nav.Blocked = 0
		if replan(true) == nil {
			return false, nil
		}
		return false, replan(false)
	}
	if nav.Blocked < f.Params.BlockedRepathTicks {
		return false, nil
	}
	nav.Blocked = 0
	if replan(true) == nil {
		return false, nil
	}
	if busy && blocker < e.ID && e.sidestep(f) {
		nav.Path = nil
		nav.HasGoal = false
		nav.Jammed = 0
		return true, nil
	}
	return false, replan(false)
}

// sidestep moves to the first free walkable neighbour, if any.
func (e *Employee) sidestep(f *Floor) bool {
	for _, p := range f.Grid.WalkableNeighbors(e.Pos) {
		if f.Traffic.move(e.ID, p) {
			e.Pos = p
			return true
		}
	}
	return false
}

// passYield hands a yield request it cannot honour to the first neighbour
// that is not the one asking, so a line of employees backs off from its far
// end. It reports whether anyone accepted the request.
func (e *Employee) passYield(f *Floor, y Yield) bool {
	from, hasFrom := f.Traffic.PosOf(y.From)
	for _, p := range f.Grid.WalkableNeighbors(e.Pos) {
		if hasFrom && p == from {
			continue
		}
		if f.Traffic.RequestYield(f.Traffic.At(p), e.ID, y.Origin) {
			return true
		}
	}
	return false
}
