package orders

import (
	"fmt"

	"warehouse.ai/internal/sim/grid"
)

type Status uint8

const (
	Pending Status = iota
	Claimed
	Completed
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case Claimed:
		return "CLAIMED"
	case Completed:
		return "COMPLETED"
	case Cancelled:
		return "CANCELLED"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Order is a multi-item customer order. Items may repeat in principle; the
// generator only emits distinct items.
type Order struct {
	ID          int             `json:"id"`
	Items       []grid.ItemType `json:"items"`
	Value       float64         `json:"value"`
	ArrivalTick int             `json:"arrival_tick"`
	Status      Status          `json:"status"`
	ClaimedBy   int             `json:"claimed_by,omitempty"`
}

func (o *Order) Age(now int) int { return now - o.ArrivalTick }

func (o *Order) clone() *Order {
	c := *o
	c.Items = append([]grid.ItemType(nil), o.Items...)
	return &c
}
