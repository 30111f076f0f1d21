package orders

import (
	"fmt"
	"math"
	"math/rand/v2"

	"warehouse.ai/internal/sim/grid"
	"warehouse.ai/internal/sim/tuning"
)

// Draft is a generated order not yet placed in a queue.
type Draft struct {
	Items []grid.ItemType
	Value float64
}

// Generator is the demand model: Poisson arrivals per tick, item popularity
// split into hot/warm/cold tiers by item id, and a symmetric affinity matrix
// that pulls multi-item orders toward paired items. The affinity matrix is
// fixed per seed and independent of the co-occurrence the grid observes.
type Generator struct {
	cfg      tuning.Orders
	numItems int

	src *rand.PCG
	rng *rand.Rand

	hotEnd     int
	warmEnd    int
	popularity []float64
	affinity   []float64 // numItems x numItems
	sizeW      []float64
}

func NewGenerator(cfg tuning.Orders, numItems int, seed uint64) (*Generator, error) {
	if numItems <= 0 {
		return nil, fmt.Errorf("generator: num items must be positive, got %d", numItems)
	}
	g := &Generator{cfg: cfg, numItems: numItems}
	g.src = rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
	g.rng = rand.New(g.src)
	g.buildPopularity()
	g.buildAffinity(seed)
	maxItems := min(cfg.MaxItems, numItems)
	if maxItems < 1 {
		maxItems = 1
	}
	g.sizeW = make([]float64, maxItems)
	for n := 1; n <= maxItems; n++ {
		g.sizeW[n-1] = 1 / float64(n)
	}
	return g, nil
}

// Reseed restarts the arrival stream and rebuilds the affinity matrix.
func (g *Generator) Reseed(seed uint64) {
	g.src.Seed(seed, seed^0x9e3779b97f4a7c15)
	g.buildAffinity(seed)
}

func (g *Generator) buildPopularity() {
	n := g.numItems
	g.hotEnd = int(float64(n) * g.cfg.HotFraction)
	g.warmEnd = int(float64(n) * g.cfg.WarmFraction)
	if g.warmEnd < g.hotEnd {
		g.warmEnd = g.hotEnd
	}
	g.popularity = make([]float64, n)
	total := 0.0
	for i := 0; i < n; i++ {
		w := g.cfg.ColdWeight
		switch {
		case i < g.hotEnd:
			w = g.cfg.HotWeight
		case i < g.warmEnd:
			w = g.cfg.WarmWeight
		}
		g.popularity[i] = w
		total += w
	}
	if total <= 0 {
		for i := range g.popularity {
			g.popularity[i] = 1 / float64(n)
		}
		return
	}
	for i := range g.popularity {
		g.popularity[i] /= total
	}
}

// buildAffinity uses its own stream so the demand model does not shift when
// the arrival stream is restored from a snapshot.
func (g *Generator) buildAffinity(seed uint64) {
	n := g.numItems
	g.affinity = make([]float64, n*n)
	for i := range g.affinity {
		g.affinity[i] = 1
	}
	if n < 2 || g.cfg.AffinityBoost <= 0 {
		return
	}
	r := rand.New(rand.NewPCG(seed^0xa5a5a5a5a5a5a5a5, seed+1))
	for k := 0; k < g.cfg.AffinityPairs; k++ {
		a := weightedPick(r, g.popularity)
		b := r.IntN(n - 1)
		if b >= a {
			b++
		}
		g.affinity[a*n+b] = g.cfg.AffinityBoost
		g.affinity[b*n+a] = g.cfg.AffinityBoost
	}
}

// Tick draws this tick's arrivals.
func (g *Generator) Tick() []Draft {
	k := poisson(g.rng, g.cfg.ArrivalRate)
	if k == 0 {
		return nil
	}
	out := make([]Draft, 0, k)
	for i := 0; i < k; i++ {
		out = append(out, g.draw())
	}
	return out
}

func (g *Generator) draw() Draft {
	size := weightedPick(g.rng, g.sizeW) + 1
	items := make([]grid.ItemType, 0, size)
	chosen := make([]bool, g.numItems)

	first := weightedPick(g.rng, g.popularity)
	items = append(items, grid.ItemType(first))
	chosen[first] = true

	w := make([]float64, g.numItems)
	for len(items) < size {
		for j := 0; j < g.numItems; j++ {
			if chosen[j] {
				w[j] = 0
				continue
			}
			best := 0.0
			for _, it := range items {
				if a := g.affinity[int(it)*g.numItems+j]; a > best {
					best = a
				}
			}
			w[j] = g.popularity[j] * best
		}
		next := weightedPick(g.rng, w)
		if next < 0 || chosen[next] {
			break
		}
		items = append(items, grid.ItemType(next))
		chosen[next] = true
	}
	return Draft{Items: items, Value: g.cfg.BaseValue + g.cfg.ItemValue*float64(len(items))}
}

func (g *Generator) Popularity() []float64 { return append([]float64(nil), g.popularity...) }

func (g *Generator) Affinity(a, b grid.ItemType) float64 {
	if a < 0 || b < 0 || int(a) >= g.numItems || int(b) >= g.numItems {
		return 0
	}
	return g.affinity[int(a)*g.numItems+int(b)]
}

// AffinityMatrix returns a copy of the demand model's pair affinities.
func (g *Generator) AffinityMatrix() [][]float64 {
	out := make([][]float64, g.numItems)
	for i := range out {
		out[i] = append([]float64(nil), g.affinity[i*g.numItems:(i+1)*g.numItems]...)
	}
	return out
}

// Tiers returns the exclusive upper bounds of the hot and warm item id ranges.
func (g *Generator) Tiers() (hotEnd, warmEnd int) { return g.hotEnd, g.warmEnd }

func (g *Generator) Tier(t grid.ItemType) string {
	switch {
	case int(t) < g.hotEnd:
		return "hot"
	case int(t) < g.warmEnd:
		return "warm"
	default:
		return "cold"
	}
}

// State serializes the arrival stream position.
func (g *Generator) State() ([]byte, error) { return g.src.MarshalBinary() }

func (g *Generator) SetState(b []byte) error {
	if err := g.src.UnmarshalBinary(b); err != nil {
		return fmt.Errorf("generator state: %w", err)
	}
	return nil
}

func poisson(r *rand.Rand, lambda float64) int {
	if lambda <= 0 {
		return 0
	}
	l := math.Exp(-lambda)
	k, p := 0, 1.0
	for {
		p *= r.Float64()
		if p <= l {
			return k
		}
		k++
	}
}

// weightedPick returns an index drawn proportionally to w, or -1 when every
// weight is zero.
func weightedPick(r *rand.Rand, w []float64) int {
	total := 0.0
	for _, x := range w {
		if x > 0 {
			total += x
		}
	}
	if total <= 0 {
		return -1
	}
	u := r.Float64() * total
	last := -1
	for i, x := range w {
		if x <= 0 {
			continue
		}
		last = i
		if u < x {
			return i
		}
		u -= x
	}
	return last
}
