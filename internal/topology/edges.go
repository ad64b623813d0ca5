package topology

import (
	"math"
	"sort"

	"meshmap/core-go/internal/mesh"
)

// edgeStrengthSaturation is the observation count at which an edge's derived
// strength stops growing.
const edgeStrengthSaturation = 10

// EdgeKey canonicalizes an undirected node pair by sorting the endpoint ids,
// so (A,B) and (B,A) always collide into one accumulator.
func EdgeKey(a, b mesh.NodeID) string {
	if b < a {
		a, b = b, a
	}
	return string(a) + "|" + string(b)
}

// Edge is a finalized undirected link between two resolved nodes. Immutable
// once produced.
type Edge struct {
	Key            string      `json:"key"`
	A              mesh.NodeID `json:"a"`
	B              mesh.NodeID `json:"b"`
	Count          int         `json:"count"`
	AvgConfidence  float64     `json:"avg_confidence"`
	Strength       float64     `json:"strength"`
	MinHopDistance int         `json:"min_hop_distance"`
	HubAdjacent    bool        `json:"hub_adjacent"`
	Validated      bool        `json:"validated"`
	CertainCount   int         `json:"certain_count"`
	UncertainCount int         `json:"uncertain_count"`
}

// edgeAccumulator gathers one node pair's observations during a build.
// Discarded once edges are finalized.
type edgeAccumulator struct {
	a, b           mesh.NodeID
	count          int
	confidenceSum  float64
	hopHistogram   map[int]int
	minHop         int
	certainCount   int
	uncertainCount int
}

type edgeSet struct {
	byKey map[string]*edgeAccumulator
}

func newEdgeSet() *edgeSet {
	return &edgeSet{byKey: make(map[string]*edgeAccumulator)}
}

// observe records one observation of an undirected link at the given hop
// distance from the observer.
func (s *edgeSet) observe(a, b mesh.NodeID, confidence float64, hopDistance int, certain bool) {
	if a == b || a == "" || b == "" {
		return
	}
	if b < a {
		a, b = b, a
	}
	key := EdgeKey(a, b)
	acc, ok := s.byKey[key]
	if !ok {
		acc = &edgeAccumulator{a: a, b: b, hopHistogram: make(map[int]int), minHop: hopDistance}
		s.byKey[key] = acc
	}
	acc.count++
	acc.confidenceSum += confidence
	acc.hopHistogram[hopDistance]++
	if hopDistance < acc.minHop {
		acc.minHop = hopDistance
	}
	if certain {
		acc.certainCount++
	} else {
		acc.uncertainCount++
	}
}

// finalize converts accumulators into the full edge list (sorted by key) and
// the validated subset (certain count meets the threshold), the latter sorted
// by certain count descending with a fixed priority lift for hub-adjacent
// edges so downstream rendering caps never truncate them out.
func (s *edgeSet) finalize(minValidations, hubPriority int, hubs map[mesh.NodeID]bool) ([]Edge, []Edge) {
	keys := make([]string, 0, len(s.byKey))
	for k := range s.byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	edges := make([]Edge, 0, len(keys))
	for _, k := range keys {
		acc := s.byKey[k]
		avg := acc.confidenceSum / float64(acc.count)
		e := Edge{
			Key:            k,
			A:              acc.a,
			B:              acc.b,
			Count:          acc.count,
			AvgConfidence:  avg,
			Strength:       clamp01(avg * math.Min(1, float64(acc.count)/edgeStrengthSaturation)),
			MinHopDistance: acc.minHop,
			HubAdjacent:    hubs[acc.a] || hubs[acc.b],
			Validated:      acc.certainCount >= minValidations,
			CertainCount:   acc.certainCount,
			UncertainCount: acc.uncertainCount,
		}
		edges = append(edges, e)
	}

	validated := make([]Edge, 0)
	for _, e := range edges {
		if e.Validated {
			validated = append(validated, e)
		}
	}
	priority := func(e Edge) int {
		p := e.CertainCount
		if e.HubAdjacent {
			p += hubPriority
		}
		return p
	}
	sort.SliceStable(validated, func(i, j int) bool {
		pi, pj := priority(validated[i]), priority(validated[j])
		if pi != pj {
			return pi > pj
		}
		return validated[i].Key < validated[j].Key
	})

	return edges, validated
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
