package warehouse

import "warehouse.ai/internal/protocol"

type StaffingAction int

const (
	StaffNoOp        StaffingAction = protocol.StaffNoOp
	StaffHireWorker  StaffingAction = protocol.StaffHireWorker
	StaffFireWorker  StaffingAction = protocol.StaffFireWorker
	StaffHireManager StaffingAction = protocol.StaffHireManager
)

func (s StaffingAction) String() string {
	switch s {
	case StaffNoOp:
		return "NOOP"
	case StaffHireWorker:
		return "HIRE_WORKER"
	case StaffFireWorker:
		return "FIRE_WORKER"
	case StaffHireManager:
		return "HIRE_MANAGER"
	default:
		return "UNKNOWN"
	}
}

// Action is one tick of decisions from the external policy.
//
// LayoutSwap holds two linear cell indices, [0,0] meaning no swap.
// OrderAssignments[i] is the employee id for queue slot i, 0 meaning none.
type Action struct {
	Staffing         StaffingAction `json:"staffing_action"`
	LayoutSwap       [2]int         `json:"layout_swap"`
	OrderAssignments []int          `json:"order_assignments,omitempty"`
}

func (a Action) IsNoOp() bool {
	if a.Staffing != StaffNoOp || a.LayoutSwap != [2]int{} {
		return false
	}
	for _, id := range a.OrderAssignments {
		if id != 0 {
			return false
		}
	}
	return true
}

func ActionFromMsg(m protocol.ActMsg) Action {
	return Action{
		Staffing:         StaffingAction(m.StaffingAction),
		LayoutSwap:       m.LayoutSwap,
		OrderAssignments: append([]int(nil), m.OrderAssignments...),
	}
}

func (a Action) Msg(tick int) protocol.ActMsg {
	return protocol.ActMsg{
		Type:             protocol.TypeAct,
		ProtocolVersion:  protocol.Version,
		Tick:             tick,
		StaffingAction:   int(a.Staffing),
		LayoutSwap:       a.LayoutSwap,
		OrderAssignments: append([]int(nil), a.OrderAssignments...),
	}
}
