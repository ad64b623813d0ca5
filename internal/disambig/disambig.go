// Package disambig resolves truncated 2-character forwarding-path prefixes to
// full node identities. A prefix has only 256 possible values while a real
// deployment has hundreds of candidate nodes, so collisions are the norm; the
// resolver weighs position statistics, co-occurrence, geographic plausibility
// and recency to rank the collision members of each prefix.
//
// Raw path observations cannot tell collision members apart, so counting is
// split into two stages: evidence is shared across all candidates of a prefix
// at accumulation time and disambiguated at scoring time (see the weighted
// redistribution boost). Exactly attributable observations (direct packets,
// single-hop paths stamped by the declared source) are additionally credited
// to the one candidate they identify.
package disambig

import (
	"github.com/rs/zerolog"

	"meshmap/core-go/internal/config"
	"meshmap/core-go/internal/mesh"
)

// positionBuckets caps the tracked hop positions: 1-hop through 5-hop-plus.
const positionBuckets = 5

// neutralGeoScore is the geographic factor for candidates with no usable
// geographic observations at all.
const neutralGeoScore = 0.3

// unknownRecencyScore is the recency factor for registry entries that carry
// no last-seen timestamp.
const unknownRecencyScore = 0.5

// Candidate is one (prefix, node) pairing's accumulated evidence. Built fresh
// per Build call; counters only ever increment during a single pass.
type Candidate struct {
	Node    mesh.KnownNode `json:"node"`
	IsLocal bool           `json:"is_local,omitempty"`

	// Shared counters: credited to every collision member of the prefix.
	PositionCounts   [positionBuckets]int `json:"position_counts"`
	TotalAppearances int                  `json:"total_appearances"`
	Adjacency        map[mesh.Prefix]int  `json:"adjacency,omitempty"`

	// Attributed counters: credited only when the observation identifies
	// this exact node.
	DirectPos1 int `json:"direct_pos1"`

	// Geographic evidence from position-1 source proximity.
	geoSum   float64
	geoCount int

	// Anchor evidence accumulated across position-1 and interior scoring,
	// discounted by anchor confidence. posEvidence splits it per bucket for
	// the positional overrides.
	anchorSum   float64
	anchorCount int
	posEvidence [positionBuckets]float64

	PositionScore     float64 `json:"position_score"`
	CooccurrenceScore float64 `json:"cooccurrence_score"`
	GeographicScore   float64 `json:"geographic_score"`
	RecencyScore      float64 `json:"recency_score"`
	Combined          float64 `json:"combined"`
}

// PositionBest is the best candidate for one specific hop position, with a
// confidence local to that position.
type PositionBest struct {
	Node       mesh.NodeID `json:"node"`
	Confidence float64     `json:"confidence"`
}

// Result is the per-prefix disambiguation output. Candidates are ranked by
// combined score descending with node id as the fixed tie-break, so output is
// deterministic for a fixed input set.
type Result struct {
	Prefix      mesh.Prefix          `json:"prefix"`
	Candidates  []*Candidate         `json:"candidates"`
	BestMatch   mesh.NodeID          `json:"best_match"`
	Confidence  float64              `json:"confidence"`
	Unambiguous bool                 `json:"unambiguous"`
	ByPosition  map[int]PositionBest `json:"by_position,omitempty"`
}

// Lookup maps every observed-or-seeded prefix to its disambiguation result.
// Immutable once built; consumers must treat it as read-only.
type Lookup map[mesh.Prefix]*Result

// Context carries the positional hints available at a specific resolution
// site. Position counts from the path tail, 1-based; zero means unknown.
// Affinity, when supplied, breaks ties at sites with no positional or
// adjacency context at all.
type Context struct {
	Position  int
	Adjacent  []mesh.Prefix
	IsLastHop bool
	Affinity  map[mesh.NodeID]float64
}

// Disambiguator builds prefix lookups. Safe for concurrent use; all state
// lives in the per-call accumulators.
type Disambiguator struct {
	cfg config.Engine
	log zerolog.Logger
}

// New returns a Disambiguator with the given tunables and diagnostics sink.
func New(cfg config.Engine, log zerolog.Logger) *Disambiguator {
	return &Disambiguator{cfg: cfg, log: log}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func bucketFor(position int) int {
	b := position - 1
	if b >= positionBuckets {
		b = positionBuckets - 1
	}
	if b < 0 {
		b = 0
	}
	return b
}
