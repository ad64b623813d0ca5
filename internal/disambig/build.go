package disambig

import (
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"meshmap/core-go/internal/geo"
	"meshmap/core-go/internal/mesh"
)

// Build constructs the prefix lookup from the full packet set and the known
// node registry. ref anchors recency and staleness so that repeated builds
// over the same inputs are bit-identical. local, when non-nil, seeds the
// observer itself as a candidate and strips its trailing hop from every path.
func (d *Disambiguator) Build(ref time.Time, packets []mesh.PacketRecord, nodes []mesh.KnownNode, local *mesh.LocalNode) Lookup {
	st := d.seed(ref, nodes, local)

	for _, pkt := range packets {
		st.accumulate(pkt)
	}

	// Provisional ranking (no anchor evidence yet) gives the geographic pass
	// its current-best-guess anchors. Single pass, no fixed-point iteration:
	// confidently resolved neighbors pull ambiguous ones toward them, and a
	// second propagation pass has not been shown to improve accuracy.
	d.scoreAll(st, false)
	leaders := st.provisionalLeaders()

	for _, pkt := range packets {
		d.accumulateGeo(st, pkt, leaders)
	}

	d.scoreAll(st, true)
	return d.finalizeAll(st)
}

type buildState struct {
	cfg         *Disambiguator
	ref         time.Time
	byPrefix    map[mesh.Prefix][]*Candidate
	byID        map[mesh.NodeID]*Candidate
	local       *mesh.LocalNode
	localPrefix mesh.Prefix
}

// provisionalLeader is a prefix's current best guess plus the ambiguity
// discount applied when it serves as a geographic anchor.
type provisionalLeader struct {
	cand       *Candidate
	confidence float64
}

func (d *Disambiguator) seed(ref time.Time, nodes []mesh.KnownNode, local *mesh.LocalNode) *buildState {
	st := &buildState{
		cfg:      d,
		ref:      ref,
		byPrefix: make(map[mesh.Prefix][]*Candidate),
		byID:     make(map[mesh.NodeID]*Candidate),
		local:    local,
	}

	add := func(n mesh.KnownNode, isLocal bool) {
		if n.ID == "" {
			return
		}
		if _, exists := st.byID[n.ID]; exists {
			return
		}
		c := &Candidate{
			Node:      n,
			IsLocal:   isLocal,
			Adjacency: make(map[mesh.Prefix]int),
		}
		p := n.ID.Prefix()
		st.byPrefix[p] = append(st.byPrefix[p], c)
		st.byID[n.ID] = c
	}

	for _, n := range nodes {
		add(n, false)
	}
	if local != nil {
		add(mesh.KnownNode{ID: local.ID, Lat: local.Lat, Lon: local.Lon, IsDirectContact: true}, true)
		st.localPrefix = local.ID.Prefix()
	}

	// Staleness filter: a node not heard from inside the window is no longer
	// a plausible forwarder and must not win over fresh candidates, however
	// strong its positional evidence. It stays only when the prefix has no
	// fresh member at all. Local node and unknown last-seen are exempt.
	for p, cands := range st.byPrefix {
		fresh := cands[:0:0]
		for _, c := range cands {
			if !st.isStale(c) {
				fresh = append(fresh, c)
			}
		}
		if len(fresh) == 0 || len(fresh) == len(cands) {
			continue
		}
		for _, c := range cands {
			if st.isStale(c) {
				delete(st.byID, c.Node.ID)
			}
		}
		st.byPrefix[p] = fresh
	}

	// Deterministic candidate order inside each prefix.
	for _, cands := range st.byPrefix {
		sort.Slice(cands, func(i, j int) bool { return cands[i].Node.ID < cands[j].Node.ID })
	}
	return st
}

func (st *buildState) isStale(c *Candidate) bool {
	if c.IsLocal || c.Node.LastSeen == nil {
		return false
	}
	return st.ref.Sub(*c.Node.LastSeen) > st.cfg.cfg.StalenessWindow
}

// accumulate runs the shared evidence pass for one packet: position histogram
// and adjacency counters for every collision member, plus the exactly
// attributable counters.
func (st *buildState) accumulate(pkt mesh.PacketRecord) {
	path := mesh.StripLocalHop(pkt.Path, st.localPrefix)

	if len(path) == 0 {
		// Direct packet: the declared source transmitted straight to the
		// observer. This observation identifies one exact node.
		if c, ok := st.byID[pkt.SrcNode]; ok {
			c.PositionCounts[0]++
			c.TotalAppearances++
			c.DirectPos1++
		}
		return
	}

	for i, elem := range path {
		position := len(path) - i
		b := bucketFor(position)
		for _, c := range st.byPrefix[elem] {
			c.PositionCounts[b]++
			c.TotalAppearances++
			if i > 0 {
				c.Adjacency[path[i-1]]++
			}
			if i < len(path)-1 {
				c.Adjacency[path[i+1]]++
			}
		}
		// A single-hop path stamped with the source's own prefix pins the
		// forwarder: credit the source candidate directly.
		if position == 1 && len(path) == 1 && pkt.SrcNode != "" && elem == pkt.SrcNode.Prefix() {
			if c, ok := st.byID[pkt.SrcNode]; ok {
				c.DirectPos1++
			}
		}
	}
}

// accumulateGeo runs the per-candidate geographic evidence pass for one
// packet. Position-1 elements are scored against the declared source's
// coordinates; interior elements against the currently leading candidate of
// the adjacent (observer-side) path element, discounted by that leader's own
// ambiguity.
func (d *Disambiguator) accumulateGeo(st *buildState, pkt mesh.PacketRecord, leaders map[mesh.Prefix]provisionalLeader) {
	path := mesh.StripLocalHop(pkt.Path, st.localPrefix)
	if len(path) == 0 {
		return
	}

	srcLat, srcLon, srcOK := st.sourceCoords(pkt)

	for i, elem := range path {
		position := len(path) - i
		b := bucketFor(position)

		if position == 1 {
			if !srcOK {
				continue
			}
			for _, c := range st.byPrefix[elem] {
				if !c.Node.HasCoords() {
					continue
				}
				band := geo.ProximityScore(geo.Distance(*c.Node.Lat, *c.Node.Lon, srcLat, srcLon), d.cfg.Bands, d.cfg.FarScore)
				score := band * st.observerFactor(c)
				c.geoSum += score
				c.geoCount++
				c.anchorSum += score
				c.anchorCount++
				c.posEvidence[b] += score
			}
			continue
		}

		// Interior hop: anchor on the next element toward the observer.
		anchor, ok := leaders[path[i+1]]
		if !ok || anchor.cand == nil || !anchor.cand.Node.HasCoords() {
			continue
		}
		for _, c := range st.byPrefix[elem] {
			if !c.Node.HasCoords() || c == anchor.cand {
				continue
			}
			band := geo.ProximityScore(
				geo.Distance(*c.Node.Lat, *c.Node.Lon, *anchor.cand.Node.Lat, *anchor.cand.Node.Lon),
				d.cfg.Bands,
				d.cfg.FarScore,
			)
			score := band * st.observerFactor(c) * anchor.confidence
			c.anchorSum += score
			c.anchorCount++
			c.posEvidence[b] += score
		}
	}
}

func (st *buildState) sourceCoords(pkt mesh.PacketRecord) (float64, float64, bool) {
	if pkt.HasCoords() {
		return *pkt.Lat, *pkt.Lon, true
	}
	if c, ok := st.byID[pkt.SrcNode]; ok && c.Node.HasCoords() {
		return *c.Node.Lat, *c.Node.Lon, true
	}
	return 0, 0, false
}

// observerFactor scales geographic plausibility by the candidate's own
// distance to the observer: a forwarder we heard from is more plausible the
// closer it sits to us.
func (st *buildState) observerFactor(c *Candidate) float64 {
	if st.local == nil || !st.local.HasCoords() || !c.Node.HasCoords() {
		return 1.0
	}
	prox := geo.ProximityScore(
		geo.Distance(*c.Node.Lat, *c.Node.Lon, *st.local.Lat, *st.local.Lon),
		st.cfg.cfg.Bands,
		st.cfg.cfg.FarScore,
	)
	return 0.5 + 0.5*prox
}

// provisionalLeaders snapshots each prefix's current best guess along with
// the anchor-confidence multiplier derived from its lead over the runner-up.
func (st *buildState) provisionalLeaders() map[mesh.Prefix]provisionalLeader {
	floor := st.cfg.cfg.Boosts.AnchorConfidenceFloor
	out := make(map[mesh.Prefix]provisionalLeader, len(st.byPrefix))
	for p, cands := range st.byPrefix {
		if len(cands) == 0 {
			continue
		}
		ranked := rankCandidates(cands)
		lead := provisionalLeader{cand: ranked[0], confidence: 1.0}
		if len(ranked) > 1 {
			gap := ranked[0].Combined - ranked[1].Combined
			if gap < 0 {
				gap = 0
			}
			lead.confidence = clamp01(gap + floor)
		}
		out[p] = lead
	}
	return out
}

// finalizeAll scores and ranks every prefix. The per-prefix candidate lists
// are independent once accumulation is done, so finalize runs them in
// parallel; each goroutine writes only its own slot and the merge order is
// fixed by the sorted prefix list.
func (d *Disambiguator) finalizeAll(st *buildState) Lookup {
	prefixes := make([]mesh.Prefix, 0, len(st.byPrefix))
	for p := range st.byPrefix {
		prefixes = append(prefixes, p)
	}
	sort.Slice(prefixes, func(i, j int) bool { return prefixes[i] < prefixes[j] })

	results := make([]*Result, len(prefixes))
	var g errgroup.Group
	for i, p := range prefixes {
		i, p := i, p
		g.Go(func() error {
			results[i] = d.finalizePrefix(p, st.byPrefix[p])
			return nil
		})
	}
	_ = g.Wait()

	lookup := make(Lookup, len(prefixes))
	for i, p := range prefixes {
		if results[i] != nil {
			lookup[p] = results[i]
		}
	}
	return lookup
}

// rankCandidates returns candidates sorted by combined score descending with
// node id ascending as the fixed tie-break.
func rankCandidates(cands []*Candidate) []*Candidate {
	ranked := append([]*Candidate(nil), cands...)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Combined != ranked[j].Combined {
			return ranked[i].Combined > ranked[j].Combined
		}
		return ranked[i].Node.ID < ranked[j].Node.ID
	})
	return ranked
}
