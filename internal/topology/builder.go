// Package topology reconstructs the mesh network graph from resolved packet
// paths: edge accumulation with certainty classification, a centrality proxy,
// and hub designation.
package topology

import (
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"meshmap/core-go/internal/config"
	"meshmap/core-go/internal/disambig"
	"meshmap/core-go/internal/mesh"
)

// Topology is the complete output snapshot of one build. Immutable; a
// recomputation produces a new instance, it never mutates an old one.
type Topology struct {
	Edges      []Edge                  `json:"edges"`
	Validated  []Edge                  `json:"validated"`
	EdgeIndex  map[string]*Edge        `json:"-"`
	Centrality map[mesh.NodeID]float64 `json:"centrality"`
	Hubs       []mesh.NodeID           `json:"hubs"`

	PacketCount    int       `json:"packet_count"`
	SkippedPackets int       `json:"skipped_packets"`
	BuiltAt        time.Time `json:"built_at"`
}

// Builder walks the packet set and produces Topology snapshots.
type Builder struct {
	cfg config.Engine
	log zerolog.Logger
}

// New returns a Builder with the given tunables and diagnostics sink.
func New(cfg config.Engine, log zerolog.Logger) *Builder {
	return &Builder{cfg: cfg, log: log}
}

// nodeStats backs the centrality proxy: the interior-to-total appearance
// ratio stands in for true betweenness, which the consuming visualization
// does not need.
type nodeStats struct {
	pathsIn  int
	interior int
	total    int
}

// Build constructs a topology snapshot. lookup must come from the same
// packet set (the two passes are sequentially dependent). Packets are
// processed in timestamp order so the result is identical regardless of
// input arrival order; a malformed or unresolvable packet is skipped, never
// fatal.
func (b *Builder) Build(ref time.Time, packets []mesh.PacketRecord, nodes []mesh.KnownNode, local *mesh.LocalNode, lookup disambig.Lookup) *Topology {
	sorted := append([]mesh.PacketRecord(nil), packets...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Timestamp != sorted[j].Timestamp {
			return sorted[i].Timestamp < sorted[j].Timestamp
		}
		return sorted[i].SrcNode < sorted[j].SrcNode
	})

	known := make(map[mesh.NodeID]bool, len(nodes))
	for _, n := range nodes {
		known[n.ID] = true
	}

	var localPrefix mesh.Prefix
	if local != nil {
		localPrefix = local.ID.Prefix()
	}

	edges := newEdgeSet()
	stats := make(map[mesh.NodeID]*nodeStats)
	skipped := 0

	for _, pkt := range sorted {
		if !b.processPacket(pkt, localPrefix, local, known, lookup, edges, stats) {
			skipped++
		}
	}

	centrality := deriveCentrality(stats)
	hubs := b.designateHubs(stats, centrality, len(sorted))

	hubSet := make(map[mesh.NodeID]bool, len(hubs))
	for _, h := range hubs {
		hubSet[h] = true
	}

	all, validated := edges.finalize(b.cfg.MinValidations, b.cfg.HubEdgePriority, hubSet)

	index := make(map[string]*Edge, len(all))
	for i := range all {
		index[all[i].Key] = &all[i]
	}

	topo := &Topology{
		Edges:          all,
		Validated:      validated,
		EdgeIndex:      index,
		Centrality:     centrality,
		Hubs:           hubs,
		PacketCount:    len(sorted),
		SkippedPackets: skipped,
		BuiltAt:        ref,
	}

	b.log.Info().
		Int("packets", len(sorted)).
		Int("skipped", skipped).
		Int("edges", len(all)).
		Int("validated", len(validated)).
		Int("hubs", len(hubs)).
		Msg("topology built")

	return topo
}

// processPacket runs the three edge inferences for one packet and feeds the
// centrality stats. Returns false when the packet contributed nothing.
func (b *Builder) processPacket(
	pkt mesh.PacketRecord,
	localPrefix mesh.Prefix,
	local *mesh.LocalNode,
	known map[mesh.NodeID]bool,
	lookup disambig.Lookup,
	edges *edgeSet,
	stats map[mesh.NodeID]*nodeStats,
) bool {
	path := mesh.StripLocalHop(pkt.Path, localPrefix)

	if len(path) == 0 {
		// Direct packet: the source itself is our radio neighbor.
		if pkt.SrcNode == "" || local == nil {
			return false
		}
		if !known[pkt.SrcNode] {
			return false
		}
		edges.observe(pkt.SrcNode, local.ID, 1.0, 0, true)
		return true
	}

	thr := b.cfg.CertaintyThreshold

	// Resolve the whole path once with positional context.
	type hop struct {
		id   mesh.NodeID
		conf float64
	}
	resolved := make([]hop, len(path))
	for i, elem := range path {
		rctx := disambig.Context{Position: len(path) - i}
		if i > 0 {
			rctx.Adjacent = append(rctx.Adjacent, path[i-1])
		}
		if i < len(path)-1 {
			rctx.Adjacent = append(rctx.Adjacent, path[i+1])
		} else {
			rctx.IsLastHop = true
		}
		id, conf := lookup.Resolve(elem, rctx)
		resolved[i] = hop{id: id, conf: conf}
	}

	contributed := false

	// Source to first hop: the source handed the packet to the path's first
	// repeater, which is an edge even though the source never appears in the
	// path itself.
	if pkt.SrcNode != "" && resolved[0].id != "" && resolved[0].id != pkt.SrcNode {
		certain := resolved[0].conf >= thr && known[pkt.SrcNode]
		edges.observe(pkt.SrcNode, resolved[0].id, resolved[0].conf, len(path), certain)
		contributed = true
	}

	// Last hop to observer: hop distance 0 by definition.
	if local != nil {
		last := resolved[len(resolved)-1]
		if last.id != "" && last.id != local.ID {
			edges.observe(last.id, local.ID, last.conf, 0, last.conf >= thr)
			contributed = true
		}
	}

	// Consecutive pairs along the path.
	for i := 0; i+1 < len(resolved); i++ {
		a, c := resolved[i], resolved[i+1]
		if a.id == "" || c.id == "" || a.id == c.id {
			continue
		}
		pairConf := a.conf * c.conf
		certain := a.conf >= thr && c.conf >= thr
		if !certain && pairConf < b.cfg.HopConfidenceFloor {
			// Too weak to keep even as an uncertain observation.
			continue
		}
		hopDist := len(path) - i - 2
		if hopDist < 0 {
			hopDist = 0
		}
		edges.observe(a.id, c.id, pairConf, hopDist+1, certain)
		contributed = true
	}

	// Centrality bookkeeping over the resolved path.
	seen := make(map[mesh.NodeID]bool, len(resolved))
	for i, h := range resolved {
		if h.id == "" {
			continue
		}
		st, ok := stats[h.id]
		if !ok {
			st = &nodeStats{}
			stats[h.id] = st
		}
		st.total++
		if i > 0 && i < len(resolved)-1 {
			st.interior++
		}
		if !seen[h.id] {
			st.pathsIn++
			seen[h.id] = true
		}
		contributed = true
	}

	return contributed
}

// deriveCentrality normalizes each node's interior-appearance ratio against
// the maximum observed so scores land in [0,1].
func deriveCentrality(stats map[mesh.NodeID]*nodeStats) map[mesh.NodeID]float64 {
	raw := make(map[mesh.NodeID]float64, len(stats))
	maxRatio := 0.0
	for id, st := range stats {
		if st.total == 0 {
			continue
		}
		r := float64(st.interior) / float64(st.total)
		raw[id] = r
		if r > maxRatio {
			maxRatio = r
		}
	}
	if maxRatio == 0 {
		return raw
	}
	for id, r := range raw {
		raw[id] = r / maxRatio
	}
	return raw
}

// designateHubs keeps nodes that relay enough traffic: a minimum appearance
// count scaled with the packet volume, and a normalized centrality of at
// least the configured floor. Ranked by centrality descending.
func (b *Builder) designateHubs(stats map[mesh.NodeID]*nodeStats, centrality map[mesh.NodeID]float64, packetCount int) []mesh.NodeID {
	minAppearances := b.cfg.MinValidations
	if scaled := int(math.Ceil(b.cfg.HubPacketShare * float64(packetCount))); scaled > minAppearances {
		minAppearances = scaled
	}
	if minAppearances < 1 {
		minAppearances = 1
	}

	hubs := make([]mesh.NodeID, 0)
	for id, st := range stats {
		if st.pathsIn < minAppearances {
			continue
		}
		if centrality[id] < b.cfg.HubCentralityMin {
			continue
		}
		hubs = append(hubs, id)
	}
	sort.SliceStable(hubs, func(i, j int) bool {
		ci, cj := centrality[hubs[i]], centrality[hubs[j]]
		if ci != cj {
			return ci > cj
		}
		return hubs[i] < hubs[j]
	})
	return hubs
}
