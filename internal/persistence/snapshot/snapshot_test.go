package snapshot

import (
	"encoding/json"
	"path/filepath"
	"testing"
)

func TestWriteRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshots", "run1", "500.snap.zst")
	in := SnapshotV1{
		Header:         Header{Version: Version, RunID: "run1", Tick: 500},
		Tuning:         json.RawMessage(`{"seed":7}`),
		Seed:           7,
		Tick:           500,
		Width:          12,
		Height:         12,
		NumItemTypes:   20,
		Occupants:      "AQI=",
		GeneratorState: []byte{1, 2, 3},
		Orders:         []OrderV1{{ID: 4, Items: []int{1, 2}, Value: 40, ArrivalTick: 490, Status: 1, ClaimedBy: 2}},
		NextOrderID:    5,
		Employees: []EmployeeV1{{
			ID: 2, Pos: [2]int{0, 5}, State: 1, Held: -1,
			Job: &JobV1{OrderID: 4, Items: []int{1, 2}, Required: []int{2}, Collected: []int{1}},
			Nav: NavV1{Path: [][2]int{{0, 6}, {0, 7}}, Goal: [2]int{1, 7}, HasGoal: true},
		}},
		Ledger:   LedgerV1{Revenue: 100, Cost: 40, BurnRate: 2},
		LastSwap: &SwapV1{Tick: 480, ManagerID: 3, SourceItem: 1, TargetItem: -1},
	}
	if err := WriteSnapshot(path, in); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}

	h, err := ReadHeader(path)
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if h != in.Header {
		t.Fatalf("header = %+v, want %+v", h, in.Header)
	}

	out, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("ReadSnapshot: %v", err)
	}
	if out.Tick != 500 || out.NextOrderID != 5 || string(out.Tuning) != `{"seed":7}` {
		t.Fatalf("scalar fields lost: %+v", out)
	}
	if len(out.Employees) != 1 || out.Employees[0].Job == nil || len(out.Employees[0].Nav.Path) != 2 {
		t.Fatalf("employee lost: %+v", out.Employees)
	}
	if out.LastSwap == nil || out.LastSwap.TargetItem != -1 {
		t.Fatalf("last swap lost: %+v", out.LastSwap)
	}
}

func TestReadSnapshot_Missing(t *testing.T) {
	if _, err := ReadSnapshot(filepath.Join(t.TempDir(), "nope.snap.zst")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
