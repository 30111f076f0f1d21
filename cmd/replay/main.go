package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"

	persistlog "warehouse.ai/internal/persistence/log"
	"warehouse.ai/internal/persistence/snapshot"
	"warehouse.ai/internal/sim/warehouse"
)

func main() {
	var (
		snapPath = flag.String("snapshot", "", "path to .snap.zst")
		runDir   = flag.String("run_dir", "", "run directory holding ticks/ticks-*.jsonl.zst (optional)")
		toTick   = flag.Int("to_tick", 0, "stop after this tick of the last episode replayed (optional)")
		toEp     = flag.Int("to_episode", -1, "stop after this episode (optional)")
	)
	flag.Parse()

	if *snapPath == "" {
		fmt.Fprintln(os.Stderr, "missing -snapshot")
		os.Exit(2)
	}

	snap, err := snapshot.ReadSnapshot(*snapPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	fmt.Printf("snapshot v%d run=%s episode=%d tick=%d seed=%d grid=%dx%d employees=%d orders=%d profit=%s\n",
		snap.Header.Version, snap.Header.RunID, snap.Header.Episode, snap.Header.Tick, snap.Seed,
		snap.Width, snap.Height, len(snap.Employees), len(snap.Orders),
		humanize.CommafWithDigits(snap.Ledger.Revenue-snap.Ledger.Cost, 2))

	if *runDir == "" {
		return
	}

	env, err := warehouse.FromSnapshot(snap)
	if err != nil {
		fmt.Fprintln(os.Stderr, "import snapshot:", err)
		os.Exit(1)
	}
	entries, err := persistlog.ReadTicks(*runDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read tick logs:", err)
		os.Exit(1)
	}

	rep := replayer{env: env, episode: snap.Header.Episode, stopTick: *toTick, stopEpisode: *toEp}
	if err := rep.run(entries); err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	fmt.Printf("replay ok: checked=%s ticks, %s resets, ended at episode=%d tick=%d profit=%s\n",
		humanize.Comma(int64(rep.checked)), humanize.Comma(int64(rep.resets)),
		rep.episode, env.Tick(), humanize.CommafWithDigits(env.Ledger().Profit(), 2))
}

var errStop = errors.New("stop")

// replayer re-executes logged ticks on an env restored from a snapshot and
// checks every digest.
type replayer struct {
	env     *warehouse.Env
	episode int

	stopTick    int
	stopEpisode int

	checked int
	resets  int
}

func (r *replayer) run(entries []warehouse.TickLogEntry) error {
	startEp, startTick := r.episode, r.env.Tick()
	for _, e := range entries {
		// Everything up to the snapshot is already folded into the env.
		if e.Episode < startEp || (e.Episode == startEp && (e.Reset != nil || e.Tick < startTick)) {
			continue
		}
		if err := r.apply(e); err != nil {
			if errors.Is(err, errStop) {
				return nil
			}
			return err
		}
	}
	return nil
}

func (r *replayer) apply(e warehouse.TickLogEntry) error {
	if r.stopEpisode >= 0 && e.Episode > r.stopEpisode {
		return errStop
	}
	if e.Reset != nil {
		if _, err := r.env.Reset(e.Reset.Seed); err != nil {
			return fmt.Errorf("reset episode %d: %w", e.Episode, err)
		}
		r.episode = e.Episode
		r.resets++
		if got := r.env.Digest(); got != e.Digest {
			return fmt.Errorf("digest mismatch after reset of episode %d: got=%s want=%s", e.Episode, got, e.Digest)
		}
		return nil
	}
	if e.Episode != r.episode {
		return fmt.Errorf("episode %d has steps before its reset", e.Episode)
	}
	if r.stopTick > 0 && (r.stopEpisode < 0 || e.Episode == r.stopEpisode) && e.Tick > r.stopTick {
		return errStop
	}
	if e.Tick != r.env.Tick() {
		return fmt.Errorf("tick mismatch in episode %d: want=%d got=%d", e.Episode, r.env.Tick(), e.Tick)
	}
	var a warehouse.Action
	if e.Action != nil {
		a = *e.Action
	}
	r.env.Step(a)
	r.checked++
	if got := r.env.Digest(); got != e.Digest {
		return fmt.Errorf("digest mismatch at episode %d tick %d: got=%s want=%s", e.Episode, e.Tick, got, e.Digest)
	}
	return nil
}
