package indexdb

import (
	"database/sql"
	"path/filepath"
	"testing"

	"warehouse.ai/internal/persistence/snapshot"
	"warehouse.ai/internal/protocol"
	"warehouse.ai/internal/sim/tuning"
	"warehouse.ai/internal/sim/warehouse"
)

func openDB(t *testing.T, path string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSQLiteIndex_WritesRunRows(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "index", "warehouse.sqlite")
	idx, err := OpenSQLite(dbPath, "run-a")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := idx.UpsertRun(99, tuning.Defaults()); err != nil {
		t.Fatalf("UpsertRun: %v", err)
	}

	_ = idx.WriteTick(warehouse.TickLogEntry{Episode: 0, Tick: 0, Reset: &warehouse.ResetRecord{Seed: 99}, Digest: "r0"})
	_ = idx.WriteTick(warehouse.TickLogEntry{Episode: 0, Tick: 0, Reward: -2, Profit: -2, QueueLen: 1, Digest: "s0"})
	_ = idx.WriteTick(warehouse.TickLogEntry{
		Episode:    0,
		Tick:       1,
		Reward:     18,
		Profit:     16,
		Digest:     "s1",
		Rejections: []protocol.Rejection{{Part: warehouse.PartStaffing, Code: protocol.ErrInvalidAction}},
	})
	_ = idx.WriteAudit(warehouse.AuditEntry{Episode: 0, Tick: 1, Action: "HIRE_WORKER", EmployeeID: 3})
	_ = idx.WriteAudit(warehouse.AuditEntry{Episode: 0, Tick: 1, Action: "SWAP", EmployeeID: 4, Source: [2]int{1, 2}, Target: [2]int{2, 2}, SourceItem: 5, TargetItem: 6})
	_ = idx.WriteEpisode(warehouse.EpisodeSummary{Episode: 0, Seed: 99, Ticks: 2, Revenue: 20, Cost: 4, Profit: 16, Completed: 1, Truncated: true})
	idx.RecordSnapshot("/tmp/2.snap.zst", snapshot.SnapshotV1{
		Header:    snapshot.Header{Version: snapshot.Version, RunID: "run-a", Episode: 0, Tick: 2},
		Seed:      99,
		Employees: make([]snapshot.EmployeeV1, 2),
		Ledger:    snapshot.LedgerV1{Revenue: 20, Cost: 4},
	})
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db := openDB(t, dbPath)

	var seed int64
	var digest string
	if err := db.QueryRow(`SELECT seed, tuning_digest FROM runs WHERE run_id='run-a'`).Scan(&seed, &digest); err != nil {
		t.Fatalf("runs: %v", err)
	}
	if seed != 99 || len(digest) != 64 {
		t.Fatalf("runs row: seed=%d digest=%q", seed, digest)
	}

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM ticks WHERE run_id='run-a'`).Scan(&n); err != nil {
		t.Fatalf("ticks: %v", err)
	}
	if n != 3 {
		t.Fatalf("ticks rows = %d, want 3 (reset and step rows at tick 0 are distinct)", n)
	}
	var rej int
	if err := db.QueryRow(`SELECT rejections FROM ticks WHERE tick=1 AND kind='step'`).Scan(&rej); err != nil {
		t.Fatalf("tick 1: %v", err)
	}
	if rej != 1 {
		t.Fatalf("rejections = %d", rej)
	}

	rows, err := db.Query(`SELECT seq, action, source_item FROM audits ORDER BY seq`)
	if err != nil {
		t.Fatalf("audits: %v", err)
	}
	defer rows.Close()
	var got []string
	for rows.Next() {
		var seq, item int
		var action string
		if err := rows.Scan(&seq, &action, &item); err != nil {
			t.Fatalf("scan: %v", err)
		}
		if seq != len(got) {
			t.Fatalf("audit seq = %d, want %d", seq, len(got))
		}
		got = append(got, action)
		if action == "SWAP" && item != 5 {
			t.Fatalf("swap source item = %d", item)
		}
	}
	if len(got) != 2 || got[0] != "HIRE_WORKER" || got[1] != "SWAP" {
		t.Fatalf("audits = %v", got)
	}

	var profit float64
	var truncated int
	if err := db.QueryRow(`SELECT profit, truncated FROM episodes WHERE episode=0`).Scan(&profit, &truncated); err != nil {
		t.Fatalf("episodes: %v", err)
	}
	if profit != 16 || truncated != 1 {
		t.Fatalf("episode row: profit=%v truncated=%d", profit, truncated)
	}

	var employees int
	if err := db.QueryRow(`SELECT employees, profit FROM snapshots WHERE tick=2`).Scan(&employees, &profit); err != nil {
		t.Fatalf("snapshots: %v", err)
	}
	if employees != 2 || profit != 16 {
		t.Fatalf("snapshot row: employees=%d profit=%v", employees, profit)
	}
}

func TestSQLiteIndex_WritesAfterCloseAreIgnored(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "warehouse.sqlite")
	idx, err := OpenSQLite(dbPath, "run-b")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := idx.WriteTick(warehouse.TickLogEntry{Tick: 1}); err != nil {
		t.Fatalf("write after close: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestOpenSQLite_RequiresRunID(t *testing.T) {
	if _, err := OpenSQLite(filepath.Join(t.TempDir(), "x.sqlite"), ""); err == nil {
		t.Fatalf("expected error for empty run id")
	}
}
