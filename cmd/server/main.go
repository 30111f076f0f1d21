package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"warehouse.ai/internal/persistence/indexdb"
	persistlog "warehouse.ai/internal/persistence/log"
	"warehouse.ai/internal/persistence/snapshot"
	"warehouse.ai/internal/sim/tuning"
	"warehouse.ai/internal/sim/warehouse"
	"warehouse.ai/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		configDir  = flag.String("configs", "./configs", "config directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		runFlag    = flag.String("run", "", "run id to resume (default: start a new run)")
		seedFlag   = flag.String("seed", "", "override the tuning seed for a new run")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite index (JSONL logs are always written)")
		autoReset  = flag.Bool("auto_reset", true, "start the next episode as soon as one ends")

		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "with -run, resume from that run's latest snapshot (when -snapshot is empty)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}

	runID := strings.TrimSpace(*runFlag)
	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && runID != "" && *loadLatest {
		snapshotToLoad = latestSnapshot(filepath.Join(*dataDir, "runs", runID))
	}

	var (
		env     *warehouse.Env
		episode int
		err     error
	)
	if snapshotToLoad != "" {
		snap, err := snapshot.ReadSnapshot(snapshotToLoad)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		if runID != "" && snap.Header.RunID != "" && snap.Header.RunID != runID {
			logger.Fatalf("snapshot run id mismatch: flag=%s snap=%s", runID, snap.Header.RunID)
		}
		if runID == "" {
			runID = snap.Header.RunID
		}
		env, err = warehouse.FromSnapshot(snap)
		if err != nil {
			logger.Fatalf("import snapshot: %v", err)
		}
		episode = snap.Header.Episode
		logger.Printf("resumed from snapshot=%s episode=%d tick=%s", filepath.Base(snapshotToLoad), episode, humanize.Comma(int64(env.Tick())))
	} else {
		tune, err := tuning.Load(tp)
		if err != nil {
			if !os.IsNotExist(err) {
				logger.Fatalf("load tuning: %v", err)
			}
			logger.Printf("tuning not found (%s); using defaults", tp)
			tune = tuning.Defaults()
		}
		if s := strings.TrimSpace(*seedFlag); s != "" {
			v, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				logger.Fatalf("bad -seed: %v", err)
			}
			tune.Seed = v
		}
		env, err = warehouse.New(tune)
		if err != nil {
			logger.Fatalf("env: %v", err)
		}
	}
	if runID == "" {
		runID = uuid.NewString()
	}
	tune := env.Tuning()

	runDir := filepath.Join(*dataDir, "runs", runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		logger.Fatalf("run dir: %v", err)
	}

	// Optional read model; does not affect determinism.
	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(runDir, "index", "warehouse.sqlite"), runID)
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer idx.Close()
		if err := idx.UpsertRun(tune.Seed, tune); err != nil {
			logger.Printf("index: upsert run: %v", err)
		}
	}

	tickLog := persistlog.NewTickLogger(runDir)
	auditLog := persistlog.NewAuditLogger(runDir)
	episodeLog := persistlog.NewEpisodeLogger(runDir)
	defer tickLog.Close()
	defer auditLog.Close()
	defer episodeLog.Close()

	runner := warehouse.NewRunner(env, warehouse.RunnerConfig{
		TickRateHz:         tune.Server.TickRateHz,
		SnapshotEveryTicks: tune.Server.SnapshotEveryTicks,
		AutoReset:          *autoReset,
		Logger:             logger,
	})
	runner.SetRunID(runID)
	runner.SetEpisode(episode)
	fanout := &fanoutLogger{}
	fanout.ticks = append(fanout.ticks, tickLog)
	fanout.audits = append(fanout.audits, auditLog)
	fanout.episodes = append(fanout.episodes, episodeLog)
	if idx != nil {
		fanout.ticks = append(fanout.ticks, idx)
		fanout.audits = append(fanout.audits, idx)
		fanout.episodes = append(fanout.episodes, idx)
	}
	runner.SetTickLogger(fanout)
	runner.SetAuditLogger(fanout)
	runner.SetEpisodeLogger(fanout)

	ctx, cancel := signalContext()
	defer cancel()

	// Snapshot writer.
	snapCh := make(chan snapshot.SnapshotV1, 2)
	runner.SetSnapshotSink(snapCh)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case snap := <-snapCh:
				path := filepath.Join(runDir, "snapshots", snapshotName(snap.Header))
				if err := snapshot.WriteSnapshot(path, snap); err != nil {
					logger.Printf("snapshot write: %v", err)
					continue
				}
				if idx != nil {
					idx.RecordSnapshot(path, snap)
				}
			}
		}
	}()

	if snapshotToLoad == "" {
		// Replays of a fresh run start from this tick-0 state.
		initial := env.ExportSnapshot()
		initial.Header.RunID = runID
		initial.Header.Episode = episode
		snapCh <- initial
	}

	go func() {
		if err := runner.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("runner stopped: %v", err)
		}
	}()

	wsSrv, err := ws.NewServer(runner, runID, log.New(os.Stdout, "[ws] ", log.LstdFlags|log.Lmicroseconds))
	if err != nil {
		logger.Fatalf("ws: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetrics(rw, runID, runner.Metrics(), idx)
	})
	if envBool("WH_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()) {
		mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			rw.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(rw).Encode(struct {
				RunID   string                  `json:"run_id"`
				Metrics warehouse.RunnerMetrics `json:"metrics"`
			}{RunID: runID, Metrics: runner.Metrics()})
		})
		mux.HandleFunc("/admin/v1/reset", func(rw http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				rw.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			var seed *int64
			if s := r.URL.Query().Get("seed"); s != "" {
				v, err := strconv.ParseInt(s, 10, 64)
				if err != nil {
					http.Error(rw, "bad seed", http.StatusBadRequest)
					return
				}
				seed = &v
			}
			runner.RequestReset(seed)
			rw.WriteHeader(http.StatusAccepted)
		})
	} else {
		logger.Printf("admin endpoints disabled (WH_ENABLE_ADMIN_HTTP=false)")
	}
	if envBool("WH_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	mux.HandleFunc("/v1/ws", wsSrv.Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		runner.Stop()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("run=%s seed=%d grid=%dx%d items=%d tick_rate=%dHz listening on %s",
		runID, tune.Seed, tune.Grid.Width, tune.Grid.Height, tune.Grid.NumItemTypes, tune.Server.TickRateHz, *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

func writeMetrics(rw http.ResponseWriter, runID string, m warehouse.RunnerMetrics, idx *indexdb.SQLiteIndex) {
	gauge := func(name, help string, v any) {
		fmt.Fprintf(rw, "# HELP warehouse_%s %s\n", name, help)
		fmt.Fprintf(rw, "# TYPE warehouse_%s gauge\n", name)
		switch x := v.(type) {
		case float64:
			fmt.Fprintf(rw, "warehouse_%s{run=%q} %.6f\n", name, runID, x)
		default:
			fmt.Fprintf(rw, "warehouse_%s{run=%q} %v\n", name, runID, x)
		}
	}
	gauge("episode", "Episode in progress.", m.Episode)
	gauge("tick", "Current tick within the episode.", m.Tick)
	gauge("subscribers", "Connected observation subscribers.", m.Subscribers)
	gauge("step_ms", "Last tick step duration in milliseconds.", m.StepMS)
	gauge("profit", "Cumulative profit of the episode.", m.Profit)
	gauge("queue_length", "Open orders in the queue.", m.QueueLength)
	gauge("dropped_actions", "Actions dropped because the inbox was full.", m.Dropped)
	if idx != nil {
		gauge("index_dropped_rows", "Index rows dropped because the writer fell behind.", idx.Dropped())
	}
}

// snapshotName orders snapshots by episode, then tick.
func snapshotName(h snapshot.Header) string {
	return fmt.Sprintf("%06d-%09d.snap.zst", h.Episode, h.Tick)
}

func latestSnapshot(runDir string) string {
	dir := filepath.Join(runDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".snap.zst") {
			continue
		}
		if e.Name() > best {
			best = e.Name()
		}
	}
	if best == "" {
		return ""
	}
	return filepath.Join(dir, best)
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// fanoutLogger feeds every runner log stream to several sinks; one failing
// sink does not stop the others.
type fanoutLogger struct {
	ticks    []warehouse.TickLogger
	audits   []warehouse.AuditLogger
	episodes []warehouse.EpisodeLogger
}

func (f *fanoutLogger) WriteTick(e warehouse.TickLogEntry) error {
	for _, l := range f.ticks {
		_ = l.WriteTick(e)
	}
	return nil
}

func (f *fanoutLogger) WriteAudit(e warehouse.AuditEntry) error {
	for _, l := range f.audits {
		_ = l.WriteAudit(e)
	}
	return nil
}

func (f *fanoutLogger) WriteEpisode(s warehouse.EpisodeSummary) error {
	for _, l := range f.episodes {
		_ = l.WriteEpisode(s)
	}
	return nil
}
