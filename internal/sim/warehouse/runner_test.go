package warehouse

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"warehouse.ai/internal/persistence/snapshot"
	"warehouse.ai/internal/protocol"
)

type memLog struct {
	mu       sync.Mutex
	ticks    []TickLogEntry
	audits   []AuditEntry
	episodes []EpisodeSummary
}

func (m *memLog) WriteTick(e TickLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ticks = append(m.ticks, e)
	return nil
}

func (m *memLog) WriteAudit(e AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audits = append(m.audits, e)
	return nil
}

func (m *memLog) WriteEpisode(s EpisodeSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.episodes = append(m.episodes, s)
	return nil
}

func TestRunner_StepOnceLogsAndAutoResets(t *testing.T) {
	tune := testTuning()
	tune.Episode.LengthTicks = 5
	e := newTestEnv(t, tune)
	r := NewRunner(e, RunnerConfig{TickRateHz: 10, SnapshotEveryTicks: 2, AutoReset: true})
	lg := &memLog{}
	r.SetTickLogger(lg)
	r.SetAuditLogger(lg)
	r.SetEpisodeLogger(lg)
	snaps := make(chan snapshot.SnapshotV1, 8)
	r.SetSnapshotSink(snaps)
	r.SetRunID("run-1")

	r.StepOnce(Action{Staffing: StaffHireManager})
	for i := 0; i < 4; i++ {
		r.StepOnce(Action{})
	}

	if r.Episode() != 1 || e.Tick() != 0 {
		t.Fatalf("episode=%d tick=%d, want a fresh episode 1", r.Episode(), e.Tick())
	}
	if e.Seed() != tune.Seed+1 {
		t.Fatalf("episode 1 seed = %d, want %d", e.Seed(), tune.Seed+1)
	}
	if len(lg.episodes) != 1 || !lg.episodes[0].Truncated || lg.episodes[0].Ticks != 5 {
		t.Fatalf("episodes = %+v", lg.episodes)
	}
	if len(lg.ticks) != 6 {
		t.Fatalf("tick log has %d entries, want 5 ticks and 1 reset", len(lg.ticks))
	}
	if lg.ticks[0].Action == nil || lg.ticks[0].Action.Staffing != StaffHireManager {
		t.Fatalf("first entry should carry the hire: %+v", lg.ticks[0])
	}
	if lg.ticks[1].Action != nil {
		t.Fatalf("no-op ticks should not record an action")
	}
	last := lg.ticks[5]
	if last.Reset == nil || last.Reset.Seed != tune.Seed+1 || last.Episode != 1 || last.Digest != e.Digest() {
		t.Fatalf("reset entry = %+v", last)
	}
	if len(lg.audits) != 1 || lg.audits[0].Action != "HIRE_MANAGER" {
		t.Fatalf("audits = %+v", lg.audits)
	}
	if len(snaps) != 2 {
		t.Fatalf("got %d snapshots, want 2", len(snaps))
	}
	s := <-snaps
	if s.Header.RunID != "run-1" || s.Header.Tick != 2 {
		t.Fatalf("snapshot header = %+v", s.Header)
	}
	if m := r.Metrics(); m.Episode != 1 || m.Tick != 0 {
		t.Fatalf("metrics = %+v", m)
	}
}

func TestRunner_RunPublishesObservations(t *testing.T) {
	e := newTestEnv(t, testTuning())
	r := NewRunner(e, RunnerConfig{TickRateHz: 200})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	sub, err := r.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if sub.Params.Width != e.tune.Grid.Width || sub.Cells == "" {
		t.Fatalf("subscription = %+v", sub)
	}
	r.Submit(Action{Staffing: StaffHireWorker})

	var hired bool
	for !hired {
		select {
		case b := <-sub.Out:
			var msg protocol.ObsMsg
			if err := json.Unmarshal(b, &msg); err != nil {
				t.Fatalf("decode OBS: %v", err)
			}
			if msg.Type != protocol.TypeObs || msg.Digest == "" {
				t.Fatalf("bad OBS: %+v", msg)
			}
			hired = msg.Info.NumWorkers == e.tune.Staffing.InitialWorkers+1
		case <-ctx.Done():
			t.Fatalf("no observation showed the hired worker")
		}
	}

	r.Unsubscribe(sub.ID)
	r.Stop()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}
