package disambig

import (
	"math"

	"meshmap/core-go/internal/mesh"
)

// scoreAll synthesizes the combined score for every candidate. The anchor
// bonus is only folded in on the final pass; the provisional pass runs
// without it so anchors reflect pre-geographic evidence.
func (d *Disambiguator) scoreAll(st *buildState, withAnchor bool) {
	maxTotal := 0
	maxAdj := 0
	for _, cands := range st.byPrefix {
		for _, c := range cands {
			if c.TotalAppearances > maxTotal {
				maxTotal = c.TotalAppearances
			}
			if adj := adjacencyTotal(c); adj > maxAdj {
				maxAdj = adj
			}
		}
	}

	for _, cands := range st.byPrefix {
		for _, c := range cands {
			d.scoreCandidate(st, c, maxTotal, maxAdj, withAnchor)
		}
	}
}

func (d *Disambiguator) scoreCandidate(st *buildState, c *Candidate, maxTotal, maxAdj int, withAnchor bool) {
	w := d.cfg.Combine
	pw := d.cfg.Position

	c.PositionScore = 0
	if c.TotalAppearances > 0 {
		maxBucket := 0
		for _, n := range c.PositionCounts {
			if n > maxBucket {
				maxBucket = n
			}
		}
		consistency := float64(maxBucket) / float64(c.TotalAppearances)
		frequency := 0.0
		if maxTotal > 0 {
			frequency = float64(c.TotalAppearances) / float64(maxTotal)
		}
		c.PositionScore = consistency*pw.Consistency + frequency*pw.Frequency
	}

	c.CooccurrenceScore = 0
	if maxAdj > 0 {
		c.CooccurrenceScore = float64(adjacencyTotal(c)) / float64(maxAdj)
	}

	c.GeographicScore = neutralGeoScore
	if c.geoCount > 0 {
		c.GeographicScore = clamp01(c.geoSum / float64(c.geoCount))
	}
	if c.Node.IsDirectContact && c.GeographicScore < d.cfg.Boosts.DirectContactGeoFloor {
		c.GeographicScore = d.cfg.Boosts.DirectContactGeoFloor
	}

	c.RecencyScore = d.recencyScore(st, c)

	combined := c.PositionScore*w.Position +
		c.CooccurrenceScore*w.Cooccurrence +
		c.GeographicScore*w.Geographic +
		c.RecencyScore*w.Recency

	if withAnchor && c.anchorCount > 0 {
		avg := c.anchorSum / float64(c.anchorCount)
		saturation := math.Min(float64(c.anchorCount)/float64(d.cfg.Boosts.AnchorSaturationCount), 1)
		combined += avg * saturation * d.cfg.Boosts.AnchorBonusWeight
	}

	c.Combined = clamp01(combined)
}

func (d *Disambiguator) recencyScore(st *buildState, c *Candidate) float64 {
	if c.IsLocal {
		return 1.0
	}
	if c.Node.LastSeen == nil {
		return unknownRecencyScore
	}
	hours := st.ref.Sub(*c.Node.LastSeen).Hours()
	if hours < 0 {
		hours = 0
	}
	return clamp01(math.Exp(-hours / d.cfg.RecencyDecayHours))
}

func adjacencyTotal(c *Candidate) int {
	total := 0
	for _, n := range c.Adjacency {
		total += n
	}
	return total
}

// finalizePrefix ranks a prefix's candidates, derives the match confidence,
// applies the three independent confidence boosts, and computes the
// per-position overrides.
func (d *Disambiguator) finalizePrefix(p mesh.Prefix, cands []*Candidate) *Result {
	if len(cands) == 0 {
		return nil
	}

	ranked := rankCandidates(cands)
	best := ranked[0]

	res := &Result{
		Prefix:      p,
		Candidates:  ranked,
		BestMatch:   best.Node.ID,
		Unambiguous: len(ranked) == 1,
	}

	if res.Unambiguous {
		res.Confidence = 1.0
	} else {
		second := ranked[1]
		if best.Combined > 0 {
			res.Confidence = clamp01((best.Combined - second.Combined) / best.Combined)
		}
		res.Confidence = clamp01(res.Confidence + d.confidenceBoosts(p, best, second, ranked))
	}

	res.ByPosition = d.positionOverrides(ranked)
	return res
}

// confidenceBoosts returns the additive confidence adjustment from the three
// independent boost rules. Each is logged at debug level through the
// injected diagnostics sink.
func (d *Disambiguator) confidenceBoosts(p mesh.Prefix, best, second *Candidate, ranked []*Candidate) float64 {
	b := d.cfg.Boosts
	boost := 0.0

	// Dominant forwarder: enough exactly-attributed position-1 observations
	// between the top two, and the leader holds a decisive share of them.
	combinedDirect := best.DirectPos1 + second.DirectPos1
	if combinedDirect >= b.DominantMinCombined && best.DirectPos1 >= b.DominantMinAbsolute {
		ratio := float64(best.DirectPos1) / float64(combinedDirect)
		if ratio >= b.DominantShare {
			add := b.DominantBase + (ratio-b.DominantShare)*b.DominantScale
			boost += add
			d.log.Debug().Str("prefix", string(p)).Str("node", string(best.Node.ID)).
				Float64("ratio", ratio).Float64("boost", add).Msg("dominant forwarder boost")
		}
	}

	// Weighted redistribution: raw position-1 counts are shared across
	// collision members, so split them proportionally to combined score and
	// re-apply a relaxed dominance test.
	sharedPos1 := best.PositionCounts[0]
	if sharedPos1 >= b.WeightedMinShared {
		scoreSum := 0.0
		for _, c := range ranked {
			scoreSum += c.Combined
		}
		if scoreSum > 0 {
			share := best.Combined / scoreSum
			if share >= b.WeightedShare {
				add := b.WeightedBase + (share-b.WeightedShare)*b.WeightedScale
				boost += add
				d.log.Debug().Str("prefix", string(p)).Str("node", string(best.Node.ID)).
					Float64("share", share).Float64("boost", add).Msg("weighted redistribution boost")
			}
		}
	}

	// Geographic evidence gap: the leader's accumulated anchor evidence
	// clearly outweighs the runner-up's.
	if best.anchorCount >= b.GeoGapMinCount && best.anchorSum > 0 {
		runner := second.anchorSum
		if runner < 0.001 {
			runner = 0.001
		}
		ratio := best.anchorSum / runner
		if ratio >= b.GeoGapRatio {
			add := math.Min(b.GeoGapMax, (ratio-b.GeoGapRatio)*b.GeoGapScale)
			boost += add
			d.log.Debug().Str("prefix", string(p)).Str("node", string(best.Node.ID)).
				Float64("ratio", ratio).Float64("boost", add).Msg("geo evidence gap boost")
		}
	}

	return boost
}

// positionOverrides picks, for each tracked hop position, the candidate with
// the most evidence mass at that position specifically. The globally best
// candidate for a prefix is not always the right answer for one position:
// collision members often occupy different typical depths.
func (d *Disambiguator) positionOverrides(ranked []*Candidate) map[int]PositionBest {
	out := make(map[int]PositionBest)
	for b := 0; b < positionBuckets; b++ {
		var winner *Candidate
		var winnerMass float64
		var totalMass float64
		for _, c := range ranked {
			mass := float64(c.PositionCounts[b]) + c.posEvidence[b]
			totalMass += mass
			if mass <= 0 {
				continue
			}
			if winner == nil || mass > winnerMass ||
				(mass == winnerMass && c.Combined > winner.Combined) ||
				(mass == winnerMass && c.Combined == winner.Combined && c.Node.ID < winner.Node.ID) {
				winner = c
				winnerMass = mass
			}
		}
		if winner == nil {
			continue
		}
		conf := 0.0
		if totalMass > 0 {
			conf = clamp01(winnerMass / totalMass)
		}
		out[b+1] = PositionBest{Node: winner.Node.ID, Confidence: conf}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
