package pathing

import (
	"container/heap"
	"fmt"

	"warehouse.ai/internal/sim/grid"
)

// Find computes a shortest walkable path from start to the nearest of goals
// using A*. The returned path excludes start and ends on a goal; it is empty
// when start is itself a goal. Cells in avoid are treated as blocked unless
// they are start. Goals that are not walkable are ignored.
//
// Ties in the open set break on (f, h, cell index) so identical inputs always
// produce identical paths.
func Find(g *grid.Grid, start grid.Pos, goals []grid.Pos, avoid func(grid.Pos) bool) ([]grid.Pos, error) {
	if !g.IsValidPosition(start) {
		return nil, fmt.Errorf("%w: start %v", grid.ErrInvalidPosition, start)
	}
	targets := make([]grid.Pos, 0, len(goals))
	isGoal := make(map[int]bool, len(goals))
	for _, p := range goals {
		if !g.IsWalkable(p) {
			continue
		}
		targets = append(targets, p)
		isGoal[g.Index(p)] = true
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("%w: no walkable goal", grid.ErrUnreachable)
	}
	if isGoal[g.Index(start)] {
		return []grid.Pos{}, nil
	}

	h := func(p grid.Pos) int {
		best := -1
		for _, t := range targets {
			if d := grid.Manhattan(p, t); best < 0 || d < best {
				best = d
			}
		}
		return best
	}

	n := g.NumCells()
	gScore := make([]int, n)
	came := make([]int, n)
	closed := make([]bool, n)
	for i := range gScore {
		gScore[i] = -1
		came[i] = -1
	}

	startIdx := g.Index(start)
	gScore[startIdx] = 0
	open := &nodePQ{}
	heap.Push(open, &pqNode{idx: startIdx, f: h(start), h: h(start)})

	for open.Len() > 0 {
		cur := heap.Pop(open).(*pqNode)
		if closed[cur.idx] {
			continue
		}
		closed[cur.idx] = true
		if isGoal[cur.idx] {
			return reconstruct(g, came, startIdx, cur.idx), nil
		}
		cp := g.PosOf(cur.idx)
		for _, nb := range g.WalkableNeighbors(cp) {
			ni := g.Index(nb)
			if closed[ni] {
				continue
			}
			if avoid != nil && avoid(nb) {
				continue
			}
			tentative := gScore[cur.idx] + 1
			if old := gScore[ni]; old >= 0 && tentative >= old {
				continue
			}
			gScore[ni] = tentative
			came[ni] = cur.idx
			nh := h(nb)
			heap.Push(open, &pqNode{idx: ni, f: tentative + nh, h: nh})
		}
	}
	return nil, fmt.Errorf("%w: %v to %d goal(s)", grid.ErrUnreachable, start, len(targets))
}

// ToAdjacent paths to any walkable neighbour of target, typically a rack.
func ToAdjacent(g *grid.Grid, start, target grid.Pos, avoid func(grid.Pos) bool) ([]grid.Pos, error) {
	if grid.Adjacent(start, target) {
		return []grid.Pos{}, nil
	}
	return Find(g, start, g.WalkableNeighbors(target), avoid)
}

func reconstruct(g *grid.Grid, came []int, startIdx, goalIdx int) []grid.Pos {
	var path []grid.Pos
	for k := goalIdx; k != startIdx; k = came[k] {
		path = append(path, g.PosOf(k))
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

type pqNode struct {
	idx int
	f   int
	h   int
}

type nodePQ []*pqNode

func (p nodePQ) Len() int { return len(p) }
func (p nodePQ) Less(i, j int) bool {
	if p[i].f != p[j].f {
		return p[i].f < p[j].f
	}
	if p[i].h != p[j].h {
		return p[i].h < p[j].h
	}
	return p[i].idx < p[j].idx
}
func (p nodePQ) Swap(i, j int) { p[i], p[j] = p[j], p[i] }
func (p *nodePQ) Push(x any)   { *p = append(*p, x.(*pqNode)) }
func (p *nodePQ) Pop() any {
	old := *p
	n := len(old)
	x := old[n-1]
	*p = old[:n-1]
	return x
}
