package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

const Version = 1

type Header struct {
	Version int    `json:"version"`
	RunID   string `json:"run_id"`
	Episode int    `json:"episode"`
	Tick    int    `json:"tick"`
}

// SnapshotV1 is the complete state of one warehouse env at a tick boundary.
// Layout is not stored: it is regenerated from the grid dimensions.
type SnapshotV1 struct {
	Header Header `json:"header"`

	// Tuning is the tuning.Tuning the env ran with, as JSON.
	Tuning json.RawMessage `json:"tuning"`
	Seed   int64           `json:"seed"`
	Tick   int             `json:"tick"`

	Width        int `json:"width"`
	Height       int `json:"height"`
	NumItemTypes int `json:"num_item_types"`

	// Occupants and Reserved are per-cell, RLE encoded.
	Occupants    string `json:"occupants"`
	Reserved     string `json:"reserved"`
	Access       []int  `json:"access"`
	CoOccurrence []int  `json:"co_occurrence"`

	GeneratorState []byte    `json:"generator_state"`
	Orders         []OrderV1 `json:"orders"`
	NextOrderID    int       `json:"next_order_id"`

	Employees      []EmployeeV1 `json:"employees"`
	NextEmployeeID int          `json:"next_employee_id"`
	PendingYields  []YieldV1    `json:"pending_yields,omitempty"`

	Restocks []RestockV1 `json:"restocks,omitempty"`

	Ledger       LedgerV1       `json:"ledger"`
	Counters     CountersV1     `json:"counters"`
	Conservation ConservationV1 `json:"conservation"`
	LastSwap     *SwapV1        `json:"last_swap,omitempty"`
	Stats        *StatsV1       `json:"stats,omitempty"`
}

type OrderV1 struct {
	ID          int     `json:"id"`
	Items       []int   `json:"items"`
	Value       float64 `json:"value"`
	ArrivalTick int     `json:"arrival_tick"`
	Status      uint8   `json:"status"`
	ClaimedBy   int     `json:"claimed_by"`
}

type EmployeeV1 struct {
	ID    int    `json:"id"`
	Pos   [2]int `json:"pos"`
	Role  uint8  `json:"role"`
	State uint8  `json:"state"`

	Job *JobV1 `json:"job,omitempty"`
	Nav NavV1  `json:"nav"`

	PickTarget [2]int `json:"pick_target"`
	Remaining  int    `json:"remaining"`

	Task *RelocationV1 `json:"task,omitempty"`
	Held int           `json:"held"`
}

type JobV1 struct {
	OrderID   int   `json:"order_id"`
	Items     []int `json:"items"`
	Required  []int `json:"required"`
	Collected []int `json:"collected"`
}

type NavV1 struct {
	Path    [][2]int `json:"path,omitempty"`
	Goal    [2]int   `json:"goal"`
	HasGoal bool     `json:"has_goal"`
	Blocked int      `json:"blocked"`
	Stuck   int      `json:"stuck"`
	Wait    int      `json:"wait"`
	Jammed  int      `json:"jammed"`
}

type YieldV1 struct {
	ID     int `json:"id"`
	From   int `json:"from"`
	Origin int `json:"origin"`
}

type RelocationV1 struct {
	Source           [2]int `json:"source"`
	Target           [2]int `json:"target"`
	Stage            int    `json:"stage"`
	SourceItemBefore int    `json:"source_item_before"`
	TargetItemBefore int    `json:"target_item_before"`
}

type RestockV1 struct {
	Item int    `json:"item"`
	Cell [2]int `json:"cell"`
	Due  int    `json:"due"`
}

type LedgerV1 struct {
	Revenue  float64 `json:"revenue"`
	Cost     float64 `json:"cost"`
	BurnRate float64 `json:"burn_rate"`
}

type CountersV1 struct {
	Completed int `json:"completed"`
	Cancelled int `json:"cancelled"`
	Generated int `json:"generated"`
	Swaps     int `json:"swaps"`
	Rejected  int `json:"rejected"`
}

// ConservationV1 holds per-item-type flow counters.
type ConservationV1 struct {
	Initial   []int `json:"initial"`
	Restocked []int `json:"restocked"`
	Shipped   []int `json:"shipped"`
	Scrapped  []int `json:"scrapped"`
}

type SwapV1 struct {
	Tick       int    `json:"tick"`
	ManagerID  int    `json:"manager_id"`
	SourcePos  [2]int `json:"source_pos"`
	SourceItem int    `json:"source_item"`
	TargetPos  [2]int `json:"target_pos"`
	TargetItem int    `json:"target_item"`
}

type StatsV1 struct {
	BucketTicks int             `json:"bucket_ticks"`
	WindowTicks int             `json:"window_ticks"`
	CurIdx      int             `json:"cur_idx"`
	CurBase     int             `json:"cur_base"`
	Buckets     []StatsBucketV1 `json:"buckets"`
}

type StatsBucketV1 struct {
	Completed int     `json:"completed"`
	Cancelled int     `json:"cancelled"`
	Picks     int     `json:"picks"`
	Swaps     int     `json:"swaps"`
	Revenue   float64 `json:"revenue"`
}

func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	defer enc.Close()

	bw := bufio.NewWriterSize(enc, 256*1024)
	defer bw.Flush()

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}

	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	return nil
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// Read header line (ignore it for now, gob also contains header).
	_, _ = br.ReadBytes('\n')

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	return snap, nil
}

// ReadHeader returns only the JSON header line of a snapshot file.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()

	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}
