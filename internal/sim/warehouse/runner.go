package warehouse

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"warehouse.ai/internal/persistence/snapshot"
	"warehouse.ai/internal/protocol"
)

type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

type AuditLogger interface {
	WriteAudit(entry AuditEntry) error
}

type EpisodeLogger interface {
	WriteEpisode(s EpisodeSummary) error
}

// TickLogEntry is enough to re-execute a tick: the action that was applied
// (or the reset that happened) and the digest the env reached.
type TickLogEntry struct {
	Episode    int                  `json:"episode"`
	Tick       int                  `json:"tick"`
	Reset      *ResetRecord         `json:"reset,omitempty"`
	Action     *Action              `json:"action,omitempty"`
	Reward     float64              `json:"reward"`
	Profit     float64              `json:"profit"`
	QueueLen   int                  `json:"queue_len"`
	Rejections []protocol.Rejection `json:"rejections,omitempty"`
	Digest     string               `json:"digest"`
}

type ResetRecord struct {
	Seed int64 `json:"seed"`
}

// AuditEntry records a change to the floor made on behalf of the policy.
type AuditEntry struct {
	Episode    int    `json:"episode"`
	Tick       int    `json:"tick"`
	Action     string `json:"action"` // HIRE_WORKER, HIRE_MANAGER, FIRE_WORKER, SWAP
	EmployeeID int    `json:"employee_id"`
	Source     [2]int `json:"source,omitempty"`
	Target     [2]int `json:"target,omitempty"`
	SourceItem int    `json:"source_item,omitempty"`
	TargetItem int    `json:"target_item,omitempty"`
}

type EpisodeSummary struct {
	Episode   int     `json:"episode"`
	Seed      int64   `json:"seed"`
	Ticks     int     `json:"ticks"`
	Revenue   float64 `json:"revenue"`
	Cost      float64 `json:"cost"`
	Profit    float64 `json:"profit"`
	Completed int     `json:"completed"`
	Cancelled int     `json:"cancelled"`
	Swaps     int     `json:"swaps"`
	Done      bool    `json:"done"`
	Truncated bool    `json:"truncated"`
}

// RunnerMetrics is a read-only view of the runner, updated once per tick.
type RunnerMetrics struct {
	Episode     int     `json:"episode"`
	Tick        int     `json:"tick"`
	Subscribers int     `json:"subscribers"`
	StepMS      float64 `json:"step_ms"`
	Profit      float64 `json:"profit"`
	QueueLength int     `json:"queue_length"`
	Dropped     uint64  `json:"dropped_actions"`
}

// Subscription receives one encoded OBS per tick; slow readers only ever see
// the latest one.
type Subscription struct {
	ID      int
	Out     <-chan []byte
	Episode int
	Tick    int
	Params  protocol.EnvParams
	Cells   string
}

type subscribeReq struct {
	resp chan Subscription
}

type RunnerConfig struct {
	TickRateHz         int
	SnapshotEveryTicks int
	// AutoReset starts the next episode as soon as one ends. Episode n is
	// seeded with base seed + n.
	AutoReset bool
	Logger    *log.Logger
}

// Runner drives an Env in real time for remote policies. All env access
// happens on the goroutine running Run.
type Runner struct {
	env *Env
	cfg RunnerConfig

	inbox       chan Action
	resets      chan *int64
	subscribe   chan subscribeReq
	unsubscribe chan int
	stop        chan struct{}

	subs    map[int]chan []byte
	nextSub int

	baseSeed int64
	episode  int

	tickLogger    TickLogger
	auditLogger   AuditLogger
	episodeLogger EpisodeLogger
	snapshotSink  chan<- snapshot.SnapshotV1
	runID         string

	dropped atomic.Uint64
	metrics atomic.Value
}

func NewRunner(env *Env, cfg RunnerConfig) *Runner {
	if cfg.TickRateHz <= 0 {
		cfg.TickRateHz = 10
	}
	return &Runner{
		env:         env,
		cfg:         cfg,
		inbox:       make(chan Action, 64),
		resets:      make(chan *int64, 8),
		subscribe:   make(chan subscribeReq),
		unsubscribe: make(chan int, 64),
		stop:        make(chan struct{}),
		subs:        map[int]chan []byte{},
		baseSeed:    env.Tuning().Seed,
	}
}

func (r *Runner) SetTickLogger(l TickLogger)                    { r.tickLogger = l }
func (r *Runner) SetAuditLogger(l AuditLogger)                  { r.auditLogger = l }
func (r *Runner) SetEpisodeLogger(l EpisodeLogger)              { r.episodeLogger = l }
func (r *Runner) SetSnapshotSink(ch chan<- snapshot.SnapshotV1) { r.snapshotSink = ch }
func (r *Runner) SetRunID(id string)                            { r.runID = id }

// SetEpisode numbers the episode in progress, for runners resumed from a
// snapshot. Call before Run.
func (r *Runner) SetEpisode(n int) { r.episode = n }

// Submit queues an action for the next tick. When several arrive within one
// tick the last one wins. It never blocks.
func (r *Runner) Submit(a Action) {
	select {
	case r.inbox <- a:
	default:
		r.dropped.Add(1)
	}
}

// RequestReset restarts the episode at the next tick boundary; a nil seed
// keeps the runner's base seed.
func (r *Runner) RequestReset(seed *int64) {
	select {
	case r.resets <- seed:
	default:
	}
}

func (r *Runner) Subscribe(ctx context.Context) (Subscription, error) {
	req := subscribeReq{resp: make(chan Subscription, 1)}
	select {
	case r.subscribe <- req:
	case <-ctx.Done():
		return Subscription{}, ctx.Err()
	case <-r.stop:
		return Subscription{}, errors.New("runner stopped")
	}
	select {
	case s := <-req.resp:
		return s, nil
	case <-ctx.Done():
		return Subscription{}, ctx.Err()
	}
}

func (r *Runner) Unsubscribe(id int) {
	select {
	case r.unsubscribe <- id:
	default:
	}
}

func (r *Runner) Stop() { close(r.stop) }

func (r *Runner) Metrics() RunnerMetrics {
	v, _ := r.metrics.Load().(RunnerMetrics)
	return v
}

func (r *Runner) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(r.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pending *Action
	var resetSeed *int64
	resetRequested := false

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.stop:
			return nil
		case req := <-r.subscribe:
			req.resp <- r.handleSubscribe()
		case id := <-r.unsubscribe:
			delete(r.subs, id)
		case seed := <-r.resets:
			resetRequested, resetSeed = true, seed
		case a := <-r.inbox:
			pending = &a
		case <-ticker.C:
			if resetRequested {
				r.reset(resetSeed, r.episode+1)
				resetRequested, resetSeed = false, nil
				pending = nil
			}
			a := Action{}
			if pending != nil {
				a = *pending
			}
			r.StepOnce(a)
			pending = nil
		}
	}
}

func (r *Runner) handleSubscribe() Subscription {
	r.nextSub++
	ch := make(chan []byte, 4)
	r.subs[r.nextSub] = ch
	return Subscription{
		ID:      r.nextSub,
		Out:     ch,
		Episode: r.episode,
		Tick:    r.env.Tick(),
		Params:  r.env.Params(),
		Cells:   r.env.CellsRLE(),
	}
}

func (r *Runner) reset(seed *int64, episode int) {
	s := r.baseSeed + int64(episode)
	if seed != nil {
		s = *seed
	}
	if _, err := r.env.Reset(s); err != nil {
		if r.cfg.Logger != nil {
			r.cfg.Logger.Printf("reset episode %d: %v", episode, err)
		}
		return
	}
	r.episode = episode
	if r.tickLogger != nil {
		_ = r.tickLogger.WriteTick(TickLogEntry{
			Episode: episode,
			Tick:    0,
			Reset:   &ResetRecord{Seed: s},
			Digest:  r.env.Digest(),
		})
	}
}

// StepOnce advances the env by one tick with the given action, publishes the
// observation and feeds the loggers. Run calls it from its ticker; tests and
// offline drivers may call it directly from a single goroutine.
func (r *Runner) StepOnce(a Action) StepResult {
	start := time.Now()
	env := r.env
	res := env.Step(a)
	digest := env.Digest()

	if b, err := json.Marshal(res.Msg(digest, env.ConsumeSwapInfo())); err == nil {
		for _, ch := range r.subs {
			sendLatest(ch, b)
		}
	}

	if r.tickLogger != nil {
		entry := TickLogEntry{
			Episode:    r.episode,
			Tick:       res.Tick,
			Reward:     res.Reward,
			Profit:     res.Info.Profit,
			QueueLen:   res.Info.QueueLength,
			Rejections: res.Rejections,
			Digest:     digest,
		}
		if !a.IsNoOp() {
			act := a
			entry.Action = &act
		}
		_ = r.tickLogger.WriteTick(entry)
	}
	r.audit(a, res)

	if r.snapshotSink != nil && r.cfg.SnapshotEveryTicks > 0 && env.Tick()%r.cfg.SnapshotEveryTicks == 0 {
		snap := env.ExportSnapshot()
		snap.Header.RunID = r.runID
		snap.Header.Episode = r.episode
		select {
		case r.snapshotSink <- snap:
		default:
			// Drop snapshot if sink is backed up.
		}
	}

	if res.Done || res.Truncated {
		r.endEpisode(res)
	}

	r.metrics.Store(RunnerMetrics{
		Episode:     r.episode,
		Tick:        env.Tick(),
		Subscribers: len(r.subs),
		StepMS:      float64(time.Since(start).Microseconds()) / 1000.0,
		Profit:      res.Info.Profit,
		QueueLength: res.Info.QueueLength,
		Dropped:     r.dropped.Load(),
	})
	return res
}

func (r *Runner) audit(a Action, res StepResult) {
	if r.auditLogger == nil {
		return
	}
	for _, id := range res.Hired {
		act := "HIRE_WORKER"
		if a.Staffing == StaffHireManager {
			act = "HIRE_MANAGER"
		}
		_ = r.auditLogger.WriteAudit(AuditEntry{Episode: r.episode, Tick: res.Tick, Action: act, EmployeeID: id})
	}
	for _, id := range res.Fired {
		_ = r.auditLogger.WriteAudit(AuditEntry{Episode: r.episode, Tick: res.Tick, Action: "FIRE_WORKER", EmployeeID: id})
	}
	if s := res.Swap; s != nil {
		_ = r.auditLogger.WriteAudit(AuditEntry{
			Episode:    r.episode,
			Tick:       res.Tick,
			Action:     "SWAP",
			EmployeeID: s.ManagerID,
			Source:     s.SourcePos,
			Target:     s.TargetPos,
			SourceItem: s.SourceItem,
			TargetItem: s.TargetItem,
		})
	}
}

func (r *Runner) endEpisode(res StepResult) {
	sum := EpisodeSummary{
		Episode:   r.episode,
		Seed:      r.env.Seed(),
		Ticks:     r.env.Tick(),
		Revenue:   res.Info.Revenue,
		Cost:      res.Info.Cost,
		Profit:    res.Info.Profit,
		Completed: res.Info.OrdersCompleted,
		Cancelled: res.Info.OrdersCancelled,
		Swaps:     res.Info.SwapsCompleted,
		Done:      res.Done,
		Truncated: res.Truncated,
	}
	if r.episodeLogger != nil {
		_ = r.episodeLogger.WriteEpisode(sum)
	}
	if r.cfg.Logger != nil {
		r.cfg.Logger.Printf("episode %d finished at tick %d: profit=%s completed=%d cancelled=%d swaps=%d",
			sum.Episode, sum.Ticks, humanize.CommafWithDigits(sum.Profit, 2), sum.Completed, sum.Cancelled, sum.Swaps)
	}
	if r.cfg.AutoReset {
		r.reset(nil, r.episode+1)
	}
}

// Episode is the number of the episode in progress, starting at 0.
func (r *Runner) Episode() int { return r.episode }

func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
