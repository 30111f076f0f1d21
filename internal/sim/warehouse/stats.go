package warehouse

import "warehouse.ai/internal/persistence/snapshot"

const (
	statsBucketTicks = 50
	statsWindowTicks = 500
)

type StatsBucket struct {
	Completed int
	Cancelled int
	Picks     int
	Swaps     int
	Revenue   float64
}

// Stats keeps a rolling window of throughput counters split into fixed-size
// tick buckets.
type Stats struct {
	bucketTicks int
	windowTicks int

	buckets []StatsBucket
	curIdx  int
	curBase int // start tick (inclusive) of current bucket
}

func NewStats(bucketTicks, windowTicks int) *Stats {
	if bucketTicks <= 0 {
		bucketTicks = statsBucketTicks
	}
	if windowTicks < bucketTicks {
		windowTicks = bucketTicks
	}
	n := max(windowTicks/bucketTicks, 1)
	return &Stats{
		bucketTicks: bucketTicks,
		windowTicks: n * bucketTicks,
		buckets:     make([]StatsBucket, n),
	}
}

func (s *Stats) rotate(now int) {
	// Move forward until now is in [curBase, curBase+bucketTicks).
	for now >= s.curBase+s.bucketTicks {
		s.curIdx = (s.curIdx + 1) % len(s.buckets)
		s.buckets[s.curIdx] = StatsBucket{}
		s.curBase += s.bucketTicks
	}
}

func (s *Stats) RecordCompleted(now int, revenue float64) {
	if s == nil {
		return
	}
	s.rotate(now)
	s.buckets[s.curIdx].Completed++
	s.buckets[s.curIdx].Revenue += revenue
}

func (s *Stats) RecordCancelled(now, n int) {
	if s == nil || n == 0 {
		return
	}
	s.rotate(now)
	s.buckets[s.curIdx].Cancelled += n
}

func (s *Stats) RecordPick(now int) {
	if s == nil {
		return
	}
	s.rotate(now)
	s.buckets[s.curIdx].Picks++
}

func (s *Stats) RecordSwap(now int) {
	if s == nil {
		return
	}
	s.rotate(now)
	s.buckets[s.curIdx].Swaps++
}

func (s *Stats) WindowTicks() int {
	if s == nil {
		return 0
	}
	return s.windowTicks
}

func (s *Stats) Summarize(now int) StatsBucket {
	if s == nil {
		return StatsBucket{}
	}
	s.rotate(now)
	var out StatsBucket
	for _, b := range s.buckets {
		out.Completed += b.Completed
		out.Cancelled += b.Cancelled
		out.Picks += b.Picks
		out.Swaps += b.Swaps
		out.Revenue += b.Revenue
	}
	return out
}

func (s *Stats) export() *snapshot.StatsV1 {
	out := &snapshot.StatsV1{
		BucketTicks: s.bucketTicks,
		WindowTicks: s.windowTicks,
		CurIdx:      s.curIdx,
		CurBase:     s.curBase,
		Buckets:     make([]snapshot.StatsBucketV1, len(s.buckets)),
	}
	for i, b := range s.buckets {
		out.Buckets[i] = snapshot.StatsBucketV1(b)
	}
	return out
}

func statsFromSnapshot(v *snapshot.StatsV1) *Stats {
	if v == nil || v.BucketTicks <= 0 || len(v.Buckets) == 0 {
		return NewStats(statsBucketTicks, statsWindowTicks)
	}
	s := &Stats{
		bucketTicks: v.BucketTicks,
		windowTicks: v.WindowTicks,
		buckets:     make([]StatsBucket, len(v.Buckets)),
		curIdx:      v.CurIdx % len(v.Buckets),
		curBase:     v.CurBase,
	}
	for i, b := range v.Buckets {
		s.buckets[i] = StatsBucket(b)
	}
	return s
}
