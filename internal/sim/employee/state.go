package employee

import (
	"fmt"

	"warehouse.ai/internal/sim/grid"
)

type Kind uint8

const (
	KindIdle Kind = iota
	KindMoving
	KindPicking
	KindDelivering
	KindRelocating
)

func (k Kind) String() string {
	switch k {
	case KindIdle:
		return "IDLE"
	case KindMoving:
		return "MOVING"
	case KindPicking:
		return "PICKING"
	case KindDelivering:
		return "DELIVERING"
	case KindRelocating:
		return "RELOCATING"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// State is one of *Idle, *Moving, *Picking, *Delivering, *Relocating. Each
// variant carries only the fields its state needs.
type State interface {
	Kind() Kind
}

type Idle struct{}

// Job is the order an employee is fulfilling. Required shrinks and Collected
// grows by one item per successful pick.
type Job struct {
	OrderID   int
	Items     []grid.ItemType
	Required  []grid.ItemType
	Collected []grid.ItemType
}

func newJob(orderID int, items []grid.ItemType) *Job {
	return &Job{
		OrderID:  orderID,
		Items:    append([]grid.ItemType(nil), items...),
		Required: append([]grid.ItemType(nil), items...),
	}
}

func (j *Job) needs(t grid.ItemType) bool {
	if t == grid.NoItem {
		return false
	}
	for _, r := range j.Required {
		if r == t {
			return true
		}
	}
	return false
}

func (j *Job) collect(t grid.ItemType) {
	for i, r := range j.Required {
		if r == t {
			j.Required = append(j.Required[:i], j.Required[i+1:]...)
			break
		}
	}
	j.Collected = append(j.Collected, t)
}

// complete reports whether Collected covers every item of the order,
// counting multiplicity.
func (j *Job) complete() bool {
	if len(j.Required) != 0 {
		return false
	}
	have := make(map[grid.ItemType]int, len(j.Collected))
	for _, t := range j.Collected {
		have[t]++
	}
	for _, t := range j.Items {
		if have[t] == 0 {
			return false
		}
		have[t]--
	}
	return true
}

func (j *Job) clone() *Job {
	if j == nil {
		return nil
	}
	return &Job{
		OrderID:   j.OrderID,
		Items:     append([]grid.ItemType(nil), j.Items...),
		Required:  append([]grid.ItemType(nil), j.Required...),
		Collected: append([]grid.ItemType(nil), j.Collected...),
	}
}

// Nav is the movement bookkeeping shared by every travelling state.
type Nav struct {
	Path    []grid.Pos
	Goal    grid.Pos // rack being approached while Moving
	HasGoal bool
	Blocked int
	Stuck   int
	Wait    int // ticks spent with nothing to walk to
	Jammed  int // consecutive blocked ticks
}

func (n Nav) clone() Nav {
	n.Path = append([]grid.Pos(nil), n.Path...)
	return n
}

type Moving struct {
	Job *Job
	Nav Nav
}

type Picking struct {
	Job       *Job
	Target    grid.Pos
	Remaining int
}

type Delivering struct {
	Job *Job
	Nav Nav
}

// RelocationTask moves the occupant of Source into Target, and the previous
// occupant of Target into Source. Stage 0 walks to Source and picks, stage 1
// walks to Target and writes both cells, stage 2 reports completion.
type RelocationTask struct {
	Source           grid.Pos
	Target           grid.Pos
	Stage            int
	SourceItemBefore grid.ItemType
	TargetItemBefore grid.ItemType
}

type Relocating struct {
	Task      RelocationTask
	Nav       Nav
	Held      grid.ItemType
	Remaining int
}

func (*Idle) Kind() Kind       { return KindIdle }
func (*Moving) Kind() Kind     { return KindMoving }
func (*Picking) Kind() Kind    { return KindPicking }
func (*Delivering) Kind() Kind { return KindDelivering }
func (*Relocating) Kind() Kind { return KindRelocating }
