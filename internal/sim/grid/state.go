package grid

import "fmt"

// State is the mutable part of a Grid; the layout is rebuilt from dimensions.
type State struct {
	Occupants    []ItemType
	Reserved     []int
	Access       []int
	CoOccurrence []int
}

func (g *Grid) ExportState() State {
	return State{
		Occupants:    append([]ItemType(nil), g.items...),
		Reserved:     append([]int(nil), g.reserved...),
		Access:       append([]int(nil), g.access...),
		CoOccurrence: append([]int(nil), g.cooc...),
	}
}

func (g *Grid) ImportState(s State) error {
	if len(s.Occupants) != len(g.items) {
		return fmt.Errorf("grid state: %d occupants for %d cells", len(s.Occupants), len(g.items))
	}
	if len(s.Reserved) != 0 && len(s.Reserved) != len(g.reserved) {
		return fmt.Errorf("grid state: %d reservations for %d cells", len(s.Reserved), len(g.reserved))
	}
	if len(s.Access) != len(g.access) || len(s.CoOccurrence) != len(g.cooc) {
		return fmt.Errorf("grid state: telemetry size mismatch")
	}
	where := make([]int, g.numItems)
	for i := range where {
		where[i] = -1
	}
	for i, t := range s.Occupants {
		if t == NoItem {
			continue
		}
		if !g.IsValidItem(t) {
			return fmt.Errorf("grid state: bad item %d at cell %d", t, i)
		}
		if g.cells[i] != Storage {
			return fmt.Errorf("grid state: item %d on non-storage cell %d", t, i)
		}
		if where[t] >= 0 {
			return fmt.Errorf("grid state: item %d stored twice (%d, %d)", t, where[t], i)
		}
		where[t] = i
	}
	copy(g.items, s.Occupants)
	copy(g.where, where)
	if len(s.Reserved) == 0 {
		clear(g.reserved)
	} else {
		copy(g.reserved, s.Reserved)
	}
	copy(g.access, s.Access)
	copy(g.cooc, s.CoOccurrence)
	return nil
}
