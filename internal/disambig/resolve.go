package disambig

import "meshmap/core-go/internal/mesh"

// Blend applied when only adjacency context is available at a resolution
// site: combined score still dominates, neighbor overlap breaks ties.
const (
	resolveBlendCombined  = 0.7
	resolveBlendAdjacency = 0.3
)

// Resolve returns the most likely node behind a prefix at a specific
// resolution site, with a 0-1 confidence. An empty NodeID means the prefix
// has no candidates at all.
//
// Last-hop sites always take the global best match: position 1 is the most
// evidence-rich position and must not be diluted by positional overrides.
// Interior sites prefer the per-position override when one exists, but never
// report less confidence than the global signal. With only adjacency hints,
// candidates are re-ranked by a blend of combined score and neighbor
// overlap; with only an affinity map, by a blend of combined score and
// affinity.
func (l Lookup) Resolve(prefix mesh.Prefix, rctx Context) (mesh.NodeID, float64) {
	res, ok := l[prefix]
	if !ok || len(res.Candidates) == 0 {
		return "", 0
	}

	if rctx.IsLastHop || rctx.Position == 1 {
		return res.BestMatch, res.Confidence
	}

	if rctx.Position > 1 && res.ByPosition != nil {
		pos := rctx.Position
		if pos > positionBuckets {
			pos = positionBuckets
		}
		if pb, ok := res.ByPosition[pos]; ok {
			conf := pb.Confidence
			if res.Confidence > conf {
				conf = res.Confidence
			}
			return pb.Node, conf
		}
	}

	if len(rctx.Adjacent) > 0 && len(res.Candidates) > 1 {
		return resolveByAdjacency(res, rctx.Adjacent)
	}

	if len(rctx.Affinity) > 0 && len(res.Candidates) > 1 {
		return resolveByAffinity(res, rctx.Affinity)
	}

	return res.BestMatch, res.Confidence
}

// resolveByAffinity re-ranks by a blend of combined score and the simpler
// per-node affinity score. Positional and adjacency context, when available,
// always take precedence over this path.
func resolveByAffinity(res *Result, affinity map[mesh.NodeID]float64) (mesh.NodeID, float64) {
	bestIdx, secondIdx := -1, -1
	var bestScore, secondScore float64
	for i, c := range res.Candidates {
		score := c.Combined*resolveBlendCombined + affinity[c.Node.ID]*resolveBlendAdjacency
		switch {
		case bestIdx < 0 || score > bestScore:
			secondIdx, secondScore = bestIdx, bestScore
			bestIdx, bestScore = i, score
		case secondIdx < 0 || score > secondScore:
			secondIdx, secondScore = i, score
		}
	}

	winner := res.Candidates[bestIdx]
	if winner.Node.ID == res.BestMatch {
		return res.BestMatch, res.Confidence
	}

	conf := 0.0
	if bestScore > 0 && secondIdx >= 0 {
		conf = clamp01((bestScore - secondScore) / bestScore)
	}
	return winner.Node.ID, conf
}

func resolveByAdjacency(res *Result, adjacent []mesh.Prefix) (mesh.NodeID, float64) {
	maxOverlap := 0
	overlaps := make([]int, len(res.Candidates))
	for i, c := range res.Candidates {
		n := 0
		for _, a := range adjacent {
			n += c.Adjacency[a]
		}
		overlaps[i] = n
		if n > maxOverlap {
			maxOverlap = n
		}
	}
	if maxOverlap == 0 {
		return res.BestMatch, res.Confidence
	}

	bestIdx, secondIdx := -1, -1
	var bestScore, secondScore float64
	for i, c := range res.Candidates {
		score := c.Combined*resolveBlendCombined +
			(float64(overlaps[i])/float64(maxOverlap))*resolveBlendAdjacency
		switch {
		case bestIdx < 0 || score > bestScore:
			secondIdx, secondScore = bestIdx, bestScore
			bestIdx, bestScore = i, score
		case secondIdx < 0 || score > secondScore:
			secondIdx, secondScore = i, score
		}
	}

	winner := res.Candidates[bestIdx]
	if winner.Node.ID == res.BestMatch {
		return res.BestMatch, res.Confidence
	}

	conf := 0.0
	if bestScore > 0 && secondIdx >= 0 {
		conf = clamp01((bestScore - secondScore) / bestScore)
	}
	return winner.Node.ID, conf
}
