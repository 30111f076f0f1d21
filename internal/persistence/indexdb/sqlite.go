package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"warehouse.ai/internal/persistence/snapshot"
	"warehouse.ai/internal/sim/tuning"
	"warehouse.ai/internal/sim/warehouse"
)

const schemaVersion = "1"

// SQLiteIndex is a queryable read model of one or more runs. Writes are queued
// to a single writer goroutine and batched into transactions; the simulation
// never waits on the database.
type SQLiteIndex struct {
	db    *sql.DB
	runID string

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed  atomic.Bool
	dropped atomic.Uint64
}

type reqKind int

const (
	reqTick reqKind = iota + 1
	reqAudit
	reqEpisode
	reqSnapshot
)

type req struct {
	kind reqKind

	tick     warehouse.TickLogEntry
	audit    warehouse.AuditEntry
	episode  warehouse.EpisodeSummary
	snapshot snapshotRow
}

type snapshotRow struct {
	Episode   int
	Tick      int
	Path      string
	Seed      int64
	Employees int
	Orders    int
	Profit    float64
}

// OpenSQLite opens (creating if needed) the index at path. Rows written
// through the returned index are tagged with runID.
func OpenSQLite(path, runID string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if runID == "" {
		return nil, fmt.Errorf("empty run id")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db:    db,
		runID: runID,
		ch:    make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			seed INTEGER NOT NULL,
			tuning_digest TEXT NOT NULL,
			tuning_json TEXT NOT NULL,
			started_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			run_id TEXT NOT NULL,
			episode INTEGER NOT NULL,
			tick INTEGER NOT NULL,
			kind TEXT NOT NULL,
			digest TEXT NOT NULL,
			reward REAL NOT NULL,
			profit REAL NOT NULL,
			queue_len INTEGER NOT NULL,
			rejections INTEGER NOT NULL,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (run_id, episode, tick, kind)
		);`,
		`CREATE TABLE IF NOT EXISTS audits (
			run_id TEXT NOT NULL,
			episode INTEGER NOT NULL,
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			action TEXT NOT NULL,
			employee_id INTEGER NOT NULL,
			source_x INTEGER NOT NULL,
			source_y INTEGER NOT NULL,
			target_x INTEGER NOT NULL,
			target_y INTEGER NOT NULL,
			source_item INTEGER NOT NULL,
			target_item INTEGER NOT NULL,
			PRIMARY KEY (run_id, episode, tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_audits_action ON audits(run_id, action, tick);`,
		`CREATE TABLE IF NOT EXISTS episodes (
			run_id TEXT NOT NULL,
			episode INTEGER NOT NULL,
			seed INTEGER NOT NULL,
			ticks INTEGER NOT NULL,
			revenue REAL NOT NULL,
			cost REAL NOT NULL,
			profit REAL NOT NULL,
			completed INTEGER NOT NULL,
			cancelled INTEGER NOT NULL,
			swaps INTEGER NOT NULL,
			done INTEGER NOT NULL,
			truncated INTEGER NOT NULL,
			PRIMARY KEY (run_id, episode)
		);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			run_id TEXT NOT NULL,
			episode INTEGER NOT NULL,
			tick INTEGER NOT NULL,
			path TEXT NOT NULL,
			seed INTEGER NOT NULL,
			employees INTEGER NOT NULL,
			orders INTEGER NOT NULL,
			profit REAL NOT NULL,
			PRIMARY KEY (run_id, episode, tick)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	_, err := db.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version',?)`, schemaVersion)
	return err
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// Dropped counts rows discarded because the writer fell behind.
func (s *SQLiteIndex) Dropped() uint64 { return s.dropped.Load() }

// UpsertRun records the run and the tuning it applies. It writes
// synchronously so the row exists before any tick references it.
func (s *SQLiteIndex) UpsertRun(seed int64, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(tune)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(b)
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO runs(run_id,seed,tuning_digest,tuning_json,started_at) VALUES(?,?,?,?,?)`,
		s.runID, seed, hex.EncodeToString(sum[:]), string(b), time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *SQLiteIndex) enqueue(r req) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		// The JSONL logs remain the source of truth.
		s.dropped.Add(1)
	}
}

func (s *SQLiteIndex) WriteTick(e warehouse.TickLogEntry) error {
	s.enqueue(req{kind: reqTick, tick: e})
	return nil
}

func (s *SQLiteIndex) WriteAudit(e warehouse.AuditEntry) error {
	s.enqueue(req{kind: reqAudit, audit: e})
	return nil
}

func (s *SQLiteIndex) WriteEpisode(sum warehouse.EpisodeSummary) error {
	s.enqueue(req{kind: reqEpisode, episode: sum})
	return nil
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	s.enqueue(req{kind: reqSnapshot, snapshot: snapshotRow{
		Episode:   snap.Header.Episode,
		Tick:      snap.Header.Tick,
		Path:      path,
		Seed:      snap.Seed,
		Employees: len(snap.Employees),
		Orders:    len(snap.Orders),
		Profit:    snap.Ledger.Revenue - snap.Ledger.Cost,
	}})
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertTick, _ := s.db.Prepare(`INSERT OR REPLACE INTO ticks(run_id,episode,tick,kind,digest,reward,profit,queue_len,rejections,raw_json) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	insertAudit, _ := s.db.Prepare(`INSERT OR REPLACE INTO audits(run_id,episode,tick,seq,action,employee_id,source_x,source_y,target_x,target_y,source_item,target_item) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`)
	insertEpisode, _ := s.db.Prepare(`INSERT OR REPLACE INTO episodes(run_id,episode,seed,ticks,revenue,cost,profit,completed,cancelled,swaps,done,truncated) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(run_id,episode,tick,path,seed,employees,orders,profit) VALUES(?,?,?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertTick, insertAudit, insertEpisode, insertSnapshot} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second

		lastAuditEp   = -1
		lastAuditTick = -1
		auditSeq      int
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) {
		if st == nil || tx == nil {
			return
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			_ = tx.Rollback()
			tx = nil
			opCount = 0
			return
		}
		opCount++
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqTick:
			t := r.tick
			kind := "step"
			if t.Reset != nil {
				kind = "reset"
			}
			raw, _ := json.Marshal(t)
			exec(insertTick, s.runID, t.Episode, t.Tick, kind, t.Digest, t.Reward, t.Profit, t.QueueLen, len(t.Rejections), string(raw))

		case reqAudit:
			a := r.audit
			if a.Episode != lastAuditEp || a.Tick != lastAuditTick {
				lastAuditEp, lastAuditTick = a.Episode, a.Tick
				auditSeq = 0
			}
			seq := auditSeq
			auditSeq++
			exec(insertAudit, s.runID, a.Episode, a.Tick, seq, a.Action, a.EmployeeID,
				a.Source[0], a.Source[1], a.Target[0], a.Target[1], a.SourceItem, a.TargetItem)

		case reqEpisode:
			e := r.episode
			exec(insertEpisode, s.runID, e.Episode, e.Seed, e.Ticks, e.Revenue, e.Cost, e.Profit,
				e.Completed, e.Cancelled, e.Swaps, boolInt(e.Done), boolInt(e.Truncated))

		case reqSnapshot:
			sn := r.snapshot
			exec(insertSnapshot, s.runID, sn.Episode, sn.Tick, sn.Path, sn.Seed, sn.Employees, sn.Orders, sn.Profit)
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}

	commit()
}
