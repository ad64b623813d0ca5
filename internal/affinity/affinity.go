// Package affinity builds the per-node routing affinity statistics exposed
// for UI ranking and consumed as a tie-break input by the non-position-aware
// resolution path. Intentionally simpler than the disambiguation scoring:
// both must exist side by side.
package affinity

import (
	"meshmap/core-go/internal/config"
	"meshmap/core-go/internal/geo"
	"meshmap/core-go/internal/mesh"
)

const hopBuckets = 5

// Affinity is one node's accumulated routing behavior.
type Affinity struct {
	NodeID           mesh.NodeID     `json:"node_id"`
	TotalAppearances int             `json:"total_appearances"`
	HopHistogram     [hopBuckets]int `json:"hop_histogram"`
	DirectForwards   int             `json:"direct_forwards"`

	// TypicalHopPosition is the histogram mode, 1-based; 0 when the node was
	// never observed in a path.
	TypicalHopPosition int     `json:"typical_hop_position"`
	HopConsistency     float64 `json:"hop_consistency"`
	FrequencyScore     float64 `json:"frequency_score"`
	ProximityScore     float64 `json:"proximity_score"`
	Combined           float64 `json:"combined"`
}

// Scorer computes affinity maps.
type Scorer struct {
	cfg config.Engine
}

// New returns a Scorer using the supplied tunables.
func New(cfg config.Engine) *Scorer {
	return &Scorer{cfg: cfg}
}

// Build accumulates affinity statistics for every known node across the
// packet set. Path elements credit every node sharing the prefix (raw
// observations cannot distinguish collision members); direct packets credit
// the declared source exactly.
func (s *Scorer) Build(packets []mesh.PacketRecord, nodes []mesh.KnownNode, local *mesh.LocalNode) map[mesh.NodeID]*Affinity {
	byPrefix := make(map[mesh.Prefix][]*Affinity)
	byID := make(map[mesh.NodeID]*Affinity, len(nodes))

	for _, n := range nodes {
		if n.ID == "" {
			continue
		}
		if _, ok := byID[n.ID]; ok {
			continue
		}
		a := &Affinity{NodeID: n.ID}
		if local != nil && local.HasCoords() && n.HasCoords() {
			a.ProximityScore = geo.ProximityScore(
				geo.Distance(*n.Lat, *n.Lon, *local.Lat, *local.Lon),
				s.cfg.Bands,
				s.cfg.FarScore,
			)
		}
		byID[n.ID] = a
		p := n.ID.Prefix()
		byPrefix[p] = append(byPrefix[p], a)
	}

	var localPrefix mesh.Prefix
	if local != nil {
		localPrefix = local.ID.Prefix()
	}

	for _, pkt := range packets {
		path := mesh.StripLocalHop(pkt.Path, localPrefix)
		if len(path) == 0 {
			if a, ok := byID[pkt.SrcNode]; ok {
				a.TotalAppearances++
				a.HopHistogram[0]++
				a.DirectForwards++
			}
			continue
		}
		for i, elem := range path {
			position := len(path) - i
			b := position - 1
			if b >= hopBuckets {
				b = hopBuckets - 1
			}
			for _, a := range byPrefix[elem] {
				a.TotalAppearances++
				a.HopHistogram[b]++
				if position == 1 {
					a.DirectForwards++
				}
			}
		}
	}

	s.derive(byID)
	return byID
}

func (s *Scorer) derive(byID map[mesh.NodeID]*Affinity) {
	maxTotal := 0
	for _, a := range byID {
		if a.TotalAppearances > maxTotal {
			maxTotal = a.TotalAppearances
		}
	}

	w := s.cfg.Affinity
	for _, a := range byID {
		if a.TotalAppearances > 0 {
			mode, modeCount := 0, 0
			for b, n := range a.HopHistogram {
				if n > modeCount {
					mode, modeCount = b, n
				}
			}
			a.TypicalHopPosition = mode + 1
			a.HopConsistency = float64(modeCount) / float64(a.TotalAppearances)
		}
		if maxTotal > 0 {
			a.FrequencyScore = float64(a.TotalAppearances) / float64(maxTotal)
		}
		a.Combined = a.ProximityScore*w.Proximity +
			a.HopConsistency*w.HopConsistency +
			a.FrequencyScore*w.Frequency
	}
}
