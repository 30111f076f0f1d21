package protocol

// Staffing action codes carried in ACT.
const (
	StaffNoOp        = 0
	StaffHireWorker  = 1
	StaffFireWorker  = 2
	StaffHireManager = 3
)

// ACT (client -> server). LayoutSwap holds two linear cell indices; [0,0]
// means no swap. OrderAssignments maps queue slot to employee id, 0 = none.
type ActMsg struct {
	Type             string `json:"type"`
	ProtocolVersion  string `json:"protocol_version"`
	Tick             int    `json:"tick"`
	StaffingAction   int    `json:"staffing_action"`
	LayoutSwap       [2]int `json:"layout_swap"`
	OrderAssignments []int  `json:"order_assignments,omitempty"`
}

// OBS (server -> client), one per tick.
type ObsMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	Tick            int         `json:"tick"`
	Observation     Observation `json:"observation"`
	Reward          float64     `json:"reward"`
	Done            bool        `json:"done"`
	Truncated       bool        `json:"truncated"`
	Info            Info        `json:"info"`
	Rejections      []Rejection `json:"rejections,omitempty"`
	LastSwapInfo    *SwapInfo   `json:"last_swap_info,omitempty"`
	Digest          string      `json:"digest,omitempty"`
}

type Observation struct {
	Time int `json:"time"`
	// Financial is [revenue, cost, profit, burn_rate].
	Financial  [4]float64    `json:"financial"`
	OrderQueue []OrderObs    `json:"order_queue"`
	Employees  []EmployeeObs `json:"employees"`
	Layout     LayoutObs     `json:"layout"`
}

type OrderObs struct {
	Slot      int     `json:"slot"`
	ID        int     `json:"id"`
	Items     []int   `json:"items"`
	Value     float64 `json:"value"`
	Age       int     `json:"age"`
	Status    string  `json:"status"`
	ClaimedBy int     `json:"claimed_by,omitempty"`
}

type EmployeeObs struct {
	ID         int            `json:"id"`
	Role       string         `json:"role"`
	Pos        [2]int         `json:"pos"`
	State      string         `json:"state"`
	OrderID    int            `json:"order_id,omitempty"`
	Carried    []int          `json:"carried,omitempty"`
	Required   []int          `json:"required,omitempty"`
	Held       *int           `json:"held,omitempty"`
	Relocation *RelocationObs `json:"relocation,omitempty"`
}

type RelocationObs struct {
	Source int `json:"source"`
	Target int `json:"target"`
	Stage  int `json:"stage"`
}

// LayoutObs is the telemetry a slotting policy needs. ItemLocations is the
// cell index of each item type, -1 when off the grid.
type LayoutObs struct {
	ItemLocations   []int     `json:"item_locations"`
	AccessFrequency []int     `json:"access_frequency"`
	CoOccurrence    []PairObs `json:"co_occurrence,omitempty"`
}

type PairObs struct {
	A     int `json:"a"`
	B     int `json:"b"`
	Count int `json:"count"`
}

type Info struct {
	Profit               float64 `json:"profit"`
	Revenue              float64 `json:"revenue"`
	Cost                 float64 `json:"cost"`
	CompletionRate       float64 `json:"completion_rate"`
	OrdersCompleted      int     `json:"orders_completed"`
	TotalCompletedOrders int     `json:"total_completed_orders"`
	OrdersCancelled      int     `json:"orders_cancelled"`
	OrdersGenerated      int     `json:"orders_generated"`
	QueueLength          int     `json:"queue_length"`
	NumWorkers           int     `json:"num_workers"`
	NumManagers          int     `json:"num_managers"`
	SwapsCompleted       int     `json:"swaps_completed"`
	RejectedActions      int     `json:"rejected_actions"`
	ItemsRestocked       int     `json:"items_restocked"`
	ItemsScrapped        int     `json:"items_scrapped"`
	WindowCompleted      int     `json:"window_completed"`
	WindowCancelled      int     `json:"window_cancelled"`
	WindowThroughput     float64 `json:"window_throughput"`
}

// Rejection reports a sub-action that had no effect this tick.
type Rejection struct {
	Part   string `json:"part"`
	Code   string `json:"code"`
	Detail string `json:"detail,omitempty"`
}

type SwapInfo struct {
	Tick       int    `json:"tick"`
	ManagerID  int    `json:"manager_id"`
	SourcePos  [2]int `json:"source_pos"`
	SourceItem int    `json:"source_item"`
	TargetPos  [2]int `json:"target_pos"`
	TargetItem int    `json:"target_item"`
}
