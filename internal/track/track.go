// Package track associates clusters across frames into persistent targets
// and selects the active one. Update is a pure function of its inputs.
package track

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/GriffinCanCode/huetrack/internal/cluster"
)

// Config holds association and selection parameters.
type Config struct {
	// AssociationDistance is the largest centroid jump still treated as the
	// same target.
	AssociationDistance float64
	// SmoothingFactor is the weight of a new observation in (0,1]; 1 disables
	// smoothing.
	SmoothingFactor float64
	// MaxUnmatchedFrames is how many consecutive frames a target may go unseen
	// before it is dropped.
	MaxUnmatchedFrames int
	// SizeWeight favours larger targets: score -= SizeWeight*sqrt(pixels).
	SizeWeight float64
	// HysteresisMargin is how much better an alternative must score to take
	// over from the active target.
	HysteresisMargin float64
}

// DefaultConfig returns the tracker defaults.
func DefaultConfig() Config {
	return Config{
		AssociationDistance: 48,
		SmoothingFactor:     0.6,
		MaxUnmatchedFrames:  5,
		HysteresisMargin:    12,
	}
}

// Target is a cluster followed across frames.
type Target struct {
	ID        uint64
	Cluster   cluster.Cluster // last matched observation
	Position  r2.Vec          // smoothed centroid
	FirstSeen time.Time
	LastSeen  time.Time
	Unmatched int // consecutive frames without a match
	Score     float64
}

// State is the tracker state carried between frames. Targets are ordered by
// ID. ActiveID is zero when no target is active.
type State struct {
	Targets  []Target
	ActiveID uint64
	NextID   uint64
}

// Active returns the active target, if any.
func (s State) Active() (Target, bool) {
	for _, t := range s.Targets {
		if t.ID == s.ActiveID && s.ActiveID != 0 {
			return t, true
		}
	}
	return Target{}, false
}

// Tracker applies Config to successive frames.
type Tracker struct {
	cfg Config
}

// New creates a Tracker.
func New(cfg Config) *Tracker {
	return &Tracker{cfg: cfg}
}

// Config returns the tracker's configuration.
func (tr *Tracker) Config() Config { return tr.cfg }

type pair struct {
	target, cluster int
	dist            float64
}

// Update associates clusters with prev's targets and picks the active target
// relative to reference. prev is not modified. The returned pointer, when
// non-nil, points into the returned state.
func (tr *Tracker) Update(clusters []cluster.Cluster, prev State, reference r2.Vec) (*Target, State) {
	next := State{
		Targets:  make([]Target, len(prev.Targets), len(prev.Targets)+len(clusters)),
		NextID:   max(prev.NextID, 1),
		ActiveID: 0,
	}
	copy(next.Targets, prev.Targets)

	pairs := make([]pair, 0, len(clusters))
	for ti := range next.Targets {
		for ci := range clusters {
			d := r2.Norm(r2.Sub(clusters[ci].Centroid, next.Targets[ti].Position))
			if d <= tr.cfg.AssociationDistance {
				pairs = append(pairs, pair{target: ti, cluster: ci, dist: d})
			}
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		a, b := pairs[i], pairs[j]
		if a.dist != b.dist {
			return a.dist < b.dist
		}
		if a.target != b.target {
			return a.target < b.target
		}
		return a.cluster < b.cluster
	})

	targetMatched := make([]bool, len(next.Targets))
	clusterMatched := make([]bool, len(clusters))
	alpha := tr.cfg.SmoothingFactor
	for _, p := range pairs {
		if targetMatched[p.target] || clusterMatched[p.cluster] {
			continue
		}
		targetMatched[p.target] = true
		clusterMatched[p.cluster] = true

		t := &next.Targets[p.target]
		c := clusters[p.cluster]
		t.Position = r2.Add(r2.Scale(alpha, c.Centroid), r2.Scale(1-alpha, t.Position))
		t.Cluster = c
		t.LastSeen = c.Timestamp
		t.Unmatched = 0
	}

	kept := next.Targets[:0]
	for i, t := range next.Targets {
		if !targetMatched[i] {
			t.Unmatched++
			if t.Unmatched > tr.cfg.MaxUnmatchedFrames {
				continue
			}
		}
		kept = append(kept, t)
	}
	next.Targets = kept

	for ci, c := range clusters {
		if clusterMatched[ci] {
			continue
		}
		next.Targets = append(next.Targets, Target{
			ID:        next.NextID,
			Cluster:   c,
			Position:  c.Centroid,
			FirstSeen: c.Timestamp,
			LastSeen:  c.Timestamp,
		})
		next.NextID++
	}

	active := tr.selectActive(next.Targets, prev.ActiveID, reference)
	if active >= 0 {
		next.ActiveID = next.Targets[active].ID
		return &next.Targets[active], next
	}
	return nil, next
}

// selectActive scores every target and returns the index of the winner, or
// -1 when there are no targets. The previous active target keeps the role
// unless another scores better by more than the hysteresis margin.
func (tr *Tracker) selectActive(targets []Target, prevActive uint64, reference r2.Vec) int {
	best, incumbent := -1, -1
	for i := range targets {
		t := &targets[i]
		t.Score = tr.score(t, reference)
		if best < 0 || t.Score < targets[best].Score {
			best = i
		}
		if prevActive != 0 && t.ID == prevActive {
			incumbent = i
		}
	}
	if incumbent >= 0 && targets[incumbent].Score-tr.cfg.HysteresisMargin <= targets[best].Score {
		return incumbent
	}
	return best
}

// score is lower for better candidates.
func (tr *Tracker) score(t *Target, reference r2.Vec) float64 {
	s := r2.Norm(r2.Sub(t.Position, reference))
	if tr.cfg.SizeWeight != 0 {
		s -= tr.cfg.SizeWeight * math.Sqrt(float64(t.Cluster.Pixels))
	}
	return s
}
