package tuning

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	Seed int64 `yaml:"seed" json:"seed"`

	Grid     Grid     `yaml:"grid" json:"grid"`
	Staffing Staffing `yaml:"staffing" json:"staffing"`
	Orders   Orders   `yaml:"orders" json:"orders"`
	Employee Employee `yaml:"employee" json:"employee"`
	Restock  Restock  `yaml:"restock" json:"restock"`
	Episode  Episode  `yaml:"episode" json:"episode"`
	Reward   Reward   `yaml:"reward" json:"reward"`
	Server   Server   `yaml:"server" json:"server"`
}

type Grid struct {
	Width        int `yaml:"width" json:"width"`
	Height       int `yaml:"height" json:"height"`
	NumItemTypes int `yaml:"num_item_types" json:"num_item_types"`
}

type Staffing struct {
	InitialWorkers  int     `yaml:"initial_workers" json:"initial_workers"`
	InitialManagers int     `yaml:"initial_managers" json:"initial_managers"`
	MaxEmployees    int     `yaml:"max_employees" json:"max_employees"`
	MinEmployees    int     `yaml:"min_employees" json:"min_employees"`
	WorkerSalary    float64 `yaml:"worker_salary" json:"worker_salary"`
	ManagerSalary   float64 `yaml:"manager_salary" json:"manager_salary"`
}

type Orders struct {
	ArrivalRate   float64 `yaml:"arrival_rate" json:"arrival_rate"`
	MaxItems      int     `yaml:"max_items" json:"max_items"`
	BaseValue     float64 `yaml:"base_value" json:"base_value"`
	ItemValue     float64 `yaml:"item_value" json:"item_value"`
	TimeoutTicks  int     `yaml:"timeout_ticks" json:"timeout_ticks"`
	QueueSlots    int     `yaml:"queue_slots" json:"queue_slots"`
	HotFraction   float64 `yaml:"hot_fraction" json:"hot_fraction"`
	WarmFraction  float64 `yaml:"warm_fraction" json:"warm_fraction"`
	HotWeight     float64 `yaml:"hot_weight" json:"hot_weight"`
	WarmWeight    float64 `yaml:"warm_weight" json:"warm_weight"`
	ColdWeight    float64 `yaml:"cold_weight" json:"cold_weight"`
	AffinityPairs int     `yaml:"affinity_pairs" json:"affinity_pairs"`
	AffinityBoost float64 `yaml:"affinity_boost" json:"affinity_boost"`
}

type Employee struct {
	PickTicks          int `yaml:"pick_ticks" json:"pick_ticks"`
	BlockedRepathTicks int `yaml:"blocked_repath_ticks" json:"blocked_repath_ticks"`
	StuckRepathTicks   int `yaml:"stuck_repath_ticks" json:"stuck_repath_ticks"`
	// GiveUpTicks bounds how long an assignee waits for out-of-stock items,
	// or stands blocked in traffic, before the order goes back to Pending.
	GiveUpTicks int `yaml:"give_up_ticks" json:"give_up_ticks"`
}

// Restock policies understood by the warehouse package.
const (
	RestockNone      = "none"
	RestockImmediate = "immediate"
	RestockDelayed   = "delayed"
)

type Restock struct {
	Policy     string `yaml:"policy" json:"policy"`
	DelayTicks int    `yaml:"delay_ticks" json:"delay_ticks"`
}

type Episode struct {
	LengthTicks         int     `yaml:"length_ticks" json:"length_ticks"`
	BankruptcyThreshold float64 `yaml:"bankruptcy_threshold" json:"bankruptcy_threshold"`
}

type Reward struct {
	ProfitWeight  float64 `yaml:"profit_weight" json:"profit_weight"`
	ServiceWeight float64 `yaml:"service_weight" json:"service_weight"`
	ServiceUnit   float64 `yaml:"service_unit" json:"service_unit"`
}

type Server struct {
	TickRateHz         int `yaml:"tick_rate_hz" json:"tick_rate_hz"`
	SnapshotEveryTicks int `yaml:"snapshot_every_ticks" json:"snapshot_every_ticks"`
}

func Defaults() Tuning {
	return Tuning{
		Seed: 1337,
		Grid: Grid{Width: 12, Height: 12, NumItemTypes: 20},
		Staffing: Staffing{
			InitialWorkers:  2,
			InitialManagers: 0,
			MaxEmployees:    15,
			MinEmployees:    1,
			WorkerSalary:    1.0,
			ManagerSalary:   2.0,
		},
		Orders: Orders{
			ArrivalRate:   0.8,
			MaxItems:      4,
			BaseValue:     20,
			ItemValue:     10,
			TimeoutTicks:  200,
			QueueSlots:    20,
			HotFraction:   0.2,
			WarmFraction:  0.5,
			HotWeight:     6,
			WarmWeight:    2,
			ColdWeight:    1,
			AffinityPairs: 8,
			AffinityBoost: 5,
		},
		Employee: Employee{PickTicks: 3, BlockedRepathTicks: 3, StuckRepathTicks: 5, GiveUpTicks: 30},
		Restock:  Restock{Policy: RestockDelayed, DelayTicks: 5},
		Episode:  Episode{LengthTicks: 1000, BankruptcyThreshold: -5000},
		Reward:   Reward{ProfitWeight: 1, ServiceWeight: 0, ServiceUnit: 10},
		Server:   Server{TickRateHz: 10, SnapshotEveryTicks: 500},
	}
}

// Load reads a tuning file on top of Defaults. Keys missing from the file keep
// their default values.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

// StorageCells reports how many Storage cells the generated layout has for the
// configured dimensions. Kept here so Validate does not depend on the grid package.
func (t Tuning) StorageCells() int {
	w, h := t.Grid.Width, t.Grid.Height
	if w < 4 || h < 5 {
		return 0
	}
	cols := 0
	for x := 1; x <= w-2; x++ {
		if x%3 != 0 {
			cols++
		}
	}
	return cols * (h - 3)
}

// SpawnCells reports how many SpawnZone cells the layout has: the last row
// minus its packing stations.
func (t Tuning) SpawnCells() int {
	w, h := t.Grid.Width, t.Grid.Height
	if w < 4 || h < 5 {
		return 0
	}
	n := 0
	for x := 0; x < w; x++ {
		if x%4 != 1 {
			n++
		}
	}
	return n
}

func (t Tuning) Validate() error {
	var errs []error
	if t.Grid.Width < 4 || t.Grid.Height < 5 {
		errs = append(errs, fmt.Errorf("grid must be at least 4x5, got %dx%d", t.Grid.Width, t.Grid.Height))
	}
	if t.Grid.NumItemTypes <= 0 {
		errs = append(errs, errors.New("grid.num_item_types must be positive"))
	} else if n := t.StorageCells(); t.Grid.NumItemTypes > n {
		errs = append(errs, fmt.Errorf("grid.num_item_types=%d exceeds %d storage cells", t.Grid.NumItemTypes, n))
	}
	s := t.Staffing
	if s.MaxEmployees <= 0 {
		errs = append(errs, errors.New("staffing.max_employees must be positive"))
	}
	if s.MinEmployees < 0 || s.MinEmployees > s.MaxEmployees {
		errs = append(errs, fmt.Errorf("staffing.min_employees=%d out of range [0,%d]", s.MinEmployees, s.MaxEmployees))
	}
	if s.InitialWorkers < 0 || s.InitialManagers < 0 || s.InitialWorkers+s.InitialManagers > s.MaxEmployees {
		errs = append(errs, errors.New("staffing: initial headcount must be within [0, max_employees]"))
	} else if n := t.SpawnCells(); s.InitialWorkers+s.InitialManagers > n {
		errs = append(errs, fmt.Errorf("staffing: initial headcount %d exceeds %d spawn cells", s.InitialWorkers+s.InitialManagers, n))
	}
	o := t.Orders
	if o.ArrivalRate < 0 {
		errs = append(errs, errors.New("orders.arrival_rate must be >= 0"))
	}
	if o.MaxItems <= 0 {
		errs = append(errs, errors.New("orders.max_items must be positive"))
	}
	if o.QueueSlots <= 0 {
		errs = append(errs, errors.New("orders.queue_slots must be positive"))
	}
	if o.HotFraction < 0 || o.WarmFraction < o.HotFraction || o.WarmFraction > 1 {
		errs = append(errs, errors.New("orders: need 0 <= hot_fraction <= warm_fraction <= 1"))
	}
	if o.HotWeight < 0 || o.WarmWeight < 0 || o.ColdWeight < 0 || o.HotWeight+o.WarmWeight+o.ColdWeight == 0 {
		errs = append(errs, errors.New("orders: tier weights must be >= 0 and not all zero"))
	}
	if t.Employee.PickTicks <= 0 {
		errs = append(errs, errors.New("employee.pick_ticks must be positive"))
	}
	if t.Employee.BlockedRepathTicks <= 0 || t.Employee.StuckRepathTicks <= 0 {
		errs = append(errs, errors.New("employee: repath thresholds must be positive"))
	}
	if t.Employee.GiveUpTicks <= 0 {
		errs = append(errs, errors.New("employee.give_up_ticks must be positive"))
	}
	switch t.Restock.Policy {
	case RestockNone, RestockImmediate:
	case RestockDelayed:
		if t.Restock.DelayTicks <= 0 {
			errs = append(errs, errors.New("restock.delay_ticks must be positive for the delayed policy"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown restock.policy %q", t.Restock.Policy))
	}
	if t.Episode.LengthTicks <= 0 {
		errs = append(errs, errors.New("episode.length_ticks must be positive"))
	}
	if t.Server.TickRateHz < 0 || t.Server.SnapshotEveryTicks < 0 {
		errs = append(errs, errors.New("server: tick_rate_hz and snapshot_every_ticks must be >= 0"))
	}
	return errors.Join(errs...)
}
