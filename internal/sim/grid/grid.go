package grid

import (
	"fmt"
	"math/rand/v2"
	"sort"
)

type CellType uint8

const (
	Empty CellType = iota
	Storage
	PackingStation
	SpawnZone
)

func (c CellType) String() string {
	switch c {
	case Empty:
		return "EMPTY"
	case Storage:
		return "STORAGE"
	case PackingStation:
		return "PACKING_STATION"
	case SpawnZone:
		return "SPAWN_ZONE"
	default:
		return fmt.Sprintf("CellType(%d)", uint8(c))
	}
}

// ItemType identifies a kind of stock. Valid types are 0..NumItemTypes-1.
type ItemType int

// NoItem marks an empty Storage cell or an empty hand.
const NoItem ItemType = -1

type Pos struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (p Pos) String() string { return fmt.Sprintf("(%d,%d)", p.X, p.Y) }

func Manhattan(a, b Pos) int {
	dx := a.X - b.X
	if dx < 0 {
		dx = -dx
	}
	dy := a.Y - b.Y
	if dy < 0 {
		dy = -dy
	}
	return dx + dy
}

func Adjacent(a, b Pos) bool { return Manhattan(a, b) == 1 }

// Fixed neighbour order keeps path search and sidestepping deterministic.
var dirs = [4]Pos{{X: 1}, {X: -1}, {Y: 1}, {Y: -1}}

// Grid owns the static layout, the storage inventory and the access telemetry.
// Employees refer to cells by Pos only; every inventory mutation goes through the
// methods below.
type Grid struct {
	width    int
	height   int
	numItems int

	cells    []CellType
	items    []ItemType // per cell
	where    []int      // per item type: cell index or -1
	reserved []int      // per cell: owning employee id, 0 if free

	access []int // per item type
	cooc   []int // numItems x numItems, symmetric

	storage []int
	packing []int
	spawn   []int
}

// New builds the warehouse layout for the given dimensions with an empty
// inventory.
//
// Row 0 and row h-2 are cross aisles. Rows 1..h-3 hold rack columns at
// x%3 != 0 (x in [1,w-2]) separated by one-wide aisles. The last row carries
// packing stations at x%4 == 1 and spawn cells elsewhere.
func New(width, height, numItems int) (*Grid, error) {
	if width < 4 || height < 5 {
		return nil, fmt.Errorf("grid too small: %dx%d", width, height)
	}
	if numItems <= 0 {
		return nil, fmt.Errorf("num item types must be positive, got %d", numItems)
	}
	n := width * height
	g := &Grid{
		width:    width,
		height:   height,
		numItems: numItems,
		cells:    make([]CellType, n),
		items:    make([]ItemType, n),
		where:    make([]int, numItems),
		reserved: make([]int, n),
		access:   make([]int, numItems),
		cooc:     make([]int, numItems*numItems),
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := y*width + x
			switch {
			case y == height-1:
				if x%4 == 1 {
					g.cells[i] = PackingStation
				} else {
					g.cells[i] = SpawnZone
				}
			case y >= 1 && y <= height-3 && x >= 1 && x <= width-2 && x%3 != 0:
				g.cells[i] = Storage
			default:
				g.cells[i] = Empty
			}
		}
	}
	for i, c := range g.cells {
		switch c {
		case Storage:
			g.storage = append(g.storage, i)
		case PackingStation:
			g.packing = append(g.packing, i)
		case SpawnZone:
			g.spawn = append(g.spawn, i)
		}
	}
	if len(g.storage) < numItems {
		return nil, fmt.Errorf("num item types %d exceeds %d storage cells", numItems, len(g.storage))
	}
	g.ClearInventory()
	return g, nil
}

func (g *Grid) Width() int        { return g.width }
func (g *Grid) Height() int       { return g.height }
func (g *Grid) NumItemTypes() int { return g.numItems }
func (g *Grid) NumCells() int     { return len(g.cells) }

func (g *Grid) IsValidPosition(p Pos) bool {
	return p.X >= 0 && p.Y >= 0 && p.X < g.width && p.Y < g.height
}

func (g *Grid) IsValidItem(t ItemType) bool { return t >= 0 && int(t) < g.numItems }

// Index returns the linear cell index (y*width + x).
func (g *Grid) Index(p Pos) int { return p.Y*g.width + p.X }

func (g *Grid) PosOf(idx int) Pos { return Pos{X: idx % g.width, Y: idx / g.width} }

// PosFromIndex validates a linear index coming from an external action.
func (g *Grid) PosFromIndex(idx int) (Pos, error) {
	if idx < 0 || idx >= len(g.cells) {
		return Pos{}, fmt.Errorf("%w: index %d", ErrInvalidPosition, idx)
	}
	return g.PosOf(idx), nil
}

func (g *Grid) CellAt(p Pos) CellType {
	if !g.IsValidPosition(p) {
		return Empty
	}
	return g.cells[g.Index(p)]
}

// IsWalkable reports whether an employee may stand on p. Racks are picked from
// a neighbouring cell and are never walked through. Employee occupancy is
// tracked outside the grid.
func (g *Grid) IsWalkable(p Pos) bool {
	if !g.IsValidPosition(p) {
		return false
	}
	return g.cells[g.Index(p)] != Storage
}

// Neighbors returns the in-bounds 4-neighbours of p in fixed order.
func (g *Grid) Neighbors(p Pos) []Pos {
	out := make([]Pos, 0, 4)
	for _, d := range dirs {
		np := Pos{X: p.X + d.X, Y: p.Y + d.Y}
		if g.IsValidPosition(np) {
			out = append(out, np)
		}
	}
	return out
}

func (g *Grid) WalkableNeighbors(p Pos) []Pos {
	out := make([]Pos, 0, 4)
	for _, np := range g.Neighbors(p) {
		if g.IsWalkable(np) {
			out = append(out, np)
		}
	}
	return out
}

// ItemAt returns the occupant of a Storage cell; ok is false when the cell is
// empty, not Storage, or out of bounds.
func (g *Grid) ItemAt(p Pos) (ItemType, bool) {
	if !g.IsValidPosition(p) {
		return NoItem, false
	}
	t := g.items[g.Index(p)]
	return t, t != NoItem
}

// FindLocations lists the Storage cells currently holding t. With the
// single-location invariant this is empty or a single cell.
func (g *Grid) FindLocations(t ItemType) []Pos {
	if !g.IsValidItem(t) || g.where[t] < 0 {
		return nil
	}
	return []Pos{g.PosOf(g.where[t])}
}

func (g *Grid) LocationOf(t ItemType) (Pos, bool) {
	if !g.IsValidItem(t) || g.where[t] < 0 {
		return Pos{}, false
	}
	return g.PosOf(g.where[t]), true
}

func (g *Grid) OnGrid(t ItemType) bool { return g.IsValidItem(t) && g.where[t] >= 0 }

func (g *Grid) StorageCells() []Pos    { return g.positions(g.storage) }
func (g *Grid) PackingStations() []Pos { return g.positions(g.packing) }
func (g *Grid) SpawnZones() []Pos      { return g.positions(g.spawn) }

func (g *Grid) positions(idx []int) []Pos {
	out := make([]Pos, len(idx))
	for i, c := range idx {
		out[i] = g.PosOf(c)
	}
	return out
}

// ClearInventory empties every cell and drops reservations. Telemetry is kept.
func (g *Grid) ClearInventory() {
	for i := range g.items {
		g.items[i] = NoItem
		g.reserved[i] = 0
	}
	for t := range g.where {
		g.where[t] = -1
	}
}

func (g *Grid) ResetTelemetry() {
	clear(g.access)
	clear(g.cooc)
}

// Populate clears the inventory and places every item type into exactly one
// Storage cell chosen by a shuffle drawn from r.
func (g *Grid) Populate(r *rand.Rand) {
	g.ClearInventory()
	perm := r.Perm(len(g.storage))
	for t := 0; t < g.numItems; t++ {
		c := g.storage[perm[t]]
		g.items[c] = ItemType(t)
		g.where[t] = c
	}
}

// PickItem removes the occupant of p and counts one access for it.
func (g *Grid) PickItem(p Pos) (ItemType, error) {
	if !g.IsValidPosition(p) {
		return NoItem, fmt.Errorf("%w: %v", ErrInvalidPosition, p)
	}
	i := g.Index(p)
	t := g.items[i]
	if t == NoItem {
		return NoItem, fmt.Errorf("%w: no item at %v", ErrNotFound, p)
	}
	g.items[i] = NoItem
	g.where[t] = -1
	g.access[t]++
	return t, nil
}

// PlaceItem writes t into an empty, unreserved Storage cell. It refuses to put a
// second copy of an item type on the grid.
func (g *Grid) PlaceItem(p Pos, t ItemType) error {
	if !g.IsValidPosition(p) {
		return fmt.Errorf("%w: %v", ErrInvalidPosition, p)
	}
	if !g.IsValidItem(t) {
		return fmt.Errorf("%w: item %d", ErrInvalidAction, t)
	}
	i := g.Index(p)
	if g.cells[i] != Storage {
		return fmt.Errorf("%w: %v is %s", ErrInvalidAction, p, g.cells[i])
	}
	if g.items[i] != NoItem {
		return fmt.Errorf("%w: %v already holds item %d", ErrInvalidAction, p, g.items[i])
	}
	if g.reserved[i] != 0 {
		return fmt.Errorf("%w: %v reserved by employee %d", ErrInvalidAction, p, g.reserved[i])
	}
	if g.where[t] >= 0 {
		return fmt.Errorf("%w: item %d already stored at %v", ErrInvalidAction, t, g.PosOf(g.where[t]))
	}
	g.items[i] = t
	g.where[t] = i
	return nil
}

// ExchangeItem writes t (possibly NoItem) into the Storage cell p and returns
// the previous occupant (possibly NoItem). Reservations are ignored: the caller
// is the relocation that owns them.
func (g *Grid) ExchangeItem(p Pos, t ItemType) (ItemType, error) {
	if !g.IsValidPosition(p) {
		return NoItem, fmt.Errorf("%w: %v", ErrInvalidPosition, p)
	}
	i := g.Index(p)
	if g.cells[i] != Storage {
		return NoItem, fmt.Errorf("%w: %v is %s", ErrInvalidAction, p, g.cells[i])
	}
	if t != NoItem {
		if !g.IsValidItem(t) {
			return NoItem, fmt.Errorf("%w: item %d", ErrInvalidAction, t)
		}
		if g.where[t] >= 0 && g.where[t] != i {
			return NoItem, fmt.Errorf("%w: item %d already stored at %v", ErrInvalidAction, t, g.PosOf(g.where[t]))
		}
	}
	prev := g.items[i]
	if prev != NoItem {
		g.where[prev] = -1
	}
	g.items[i] = t
	if t != NoItem {
		g.where[t] = i
	}
	return prev, nil
}

// ValidateSwap checks that a and b are distinct Storage cells and at least one
// of them holds an item.
func (g *Grid) ValidateSwap(a, b Pos) error {
	if !g.IsValidPosition(a) || !g.IsValidPosition(b) {
		return fmt.Errorf("%w: position out of bounds (%v, %v)", ErrInvalidSwap, a, b)
	}
	if a == b {
		return fmt.Errorf("%w: same position %v", ErrInvalidSwap, a)
	}
	ia, ib := g.Index(a), g.Index(b)
	if g.cells[ia] != Storage || g.cells[ib] != Storage {
		return fmt.Errorf("%w: %v is %s, %v is %s", ErrInvalidSwap, a, g.cells[ia], b, g.cells[ib])
	}
	if g.items[ia] == NoItem && g.items[ib] == NoItem {
		return fmt.Errorf("%w: both %v and %v are empty", ErrInvalidSwap, a, b)
	}
	return nil
}

// SwapItems exchanges the occupants of a and b in one step.
func (g *Grid) SwapItems(a, b Pos) error {
	if err := g.ValidateSwap(a, b); err != nil {
		return err
	}
	ia, ib := g.Index(a), g.Index(b)
	g.items[ia], g.items[ib] = g.items[ib], g.items[ia]
	if t := g.items[ia]; t != NoItem {
		g.where[t] = ia
	}
	if t := g.items[ib]; t != NoItem {
		g.where[t] = ib
	}
	return nil
}

// Reserve marks p as the pending destination of an item held by owner.
func (g *Grid) Reserve(p Pos, owner int) error {
	if !g.IsValidPosition(p) {
		return fmt.Errorf("%w: %v", ErrInvalidPosition, p)
	}
	if owner <= 0 {
		return fmt.Errorf("%w: owner %d", ErrInvalidAction, owner)
	}
	i := g.Index(p)
	if cur := g.reserved[i]; cur != 0 && cur != owner {
		return fmt.Errorf("%w: %v reserved by employee %d", ErrInvalidAction, p, cur)
	}
	g.reserved[i] = owner
	return nil
}

func (g *Grid) Release(p Pos, owner int) {
	if !g.IsValidPosition(p) {
		return
	}
	i := g.Index(p)
	if g.reserved[i] == owner {
		g.reserved[i] = 0
	}
}

func (g *Grid) ReservedBy(p Pos) int {
	if !g.IsValidPosition(p) {
		return 0
	}
	return g.reserved[g.Index(p)]
}

// NearestEmptyStorage returns the empty, unreserved Storage cell closest to
// from (Manhattan distance, then cell index).
func (g *Grid) NearestEmptyStorage(from Pos) (Pos, bool) {
	best, bestD := -1, 0
	for _, c := range g.storage {
		if g.items[c] != NoItem || g.reserved[c] != 0 {
			continue
		}
		d := Manhattan(from, g.PosOf(c))
		if best < 0 || d < bestD {
			best, bestD = c, d
		}
	}
	if best < 0 {
		return Pos{}, false
	}
	return g.PosOf(best), true
}

// RecordOrder bumps the co-occurrence count of every unordered pair of
// distinct item types in a completed order, once per pair.
func (g *Grid) RecordOrder(items []ItemType) {
	uniq := make([]ItemType, 0, len(items))
	seen := make(map[ItemType]bool, len(items))
	for _, t := range items {
		if !g.IsValidItem(t) || seen[t] {
			continue
		}
		seen[t] = true
		uniq = append(uniq, t)
	}
	for i := 0; i < len(uniq); i++ {
		for j := i + 1; j < len(uniq); j++ {
			a, b := int(uniq[i]), int(uniq[j])
			g.cooc[a*g.numItems+b]++
			g.cooc[b*g.numItems+a]++
		}
	}
}

func (g *Grid) AccessFrequency(t ItemType) int {
	if !g.IsValidItem(t) {
		return 0
	}
	return g.access[t]
}

func (g *Grid) AccessFrequencies() []int { return append([]int(nil), g.access...) }

func (g *Grid) CoOccurrence(a, b ItemType) int {
	if !g.IsValidItem(a) || !g.IsValidItem(b) {
		return 0
	}
	return g.cooc[int(a)*g.numItems+int(b)]
}

type PairCount struct {
	A     ItemType `json:"a"`
	B     ItemType `json:"b"`
	Count int      `json:"count"`
}

// CoOccurrencePairs lists non-zero pairs with A < B, highest count first.
func (g *Grid) CoOccurrencePairs() []PairCount {
	var out []PairCount
	for a := 0; a < g.numItems; a++ {
		for b := a + 1; b < g.numItems; b++ {
			if c := g.cooc[a*g.numItems+b]; c > 0 {
				out = append(out, PairCount{A: ItemType(a), B: ItemType(b), Count: c})
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	return out
}

// ItemLocations maps each item type to its cell index, -1 when off the grid.
func (g *Grid) ItemLocations() []int { return append([]int(nil), g.where...) }

func (g *Grid) CountOnGrid() int {
	n := 0
	for _, w := range g.where {
		if w >= 0 {
			n++
		}
	}
	return n
}
