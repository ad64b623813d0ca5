// Package config holds the engine tunables. Every scoring weight and
// threshold is a named constant with a default; a YAML file can override any
// subset. The weight sets have shifted across deployments, so they are
// configuration, not inline literals.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"meshmap/core-go/internal/geo"
)

// CombineWeights splits the combined disambiguation score across the four
// independent evidence factors. Must sum to 1.
type CombineWeights struct {
	Position     float64 `yaml:"position"`
	Cooccurrence float64 `yaml:"cooccurrence"`
	Geographic   float64 `yaml:"geographic"`
	Recency      float64 `yaml:"recency"`
}

// PositionWeights splits the position factor between hop-position consistency
// and normalized appearance frequency.
type PositionWeights struct {
	Consistency float64 `yaml:"consistency"`
	Frequency   float64 `yaml:"frequency"`
}

// AffinityWeights splits the affinity score used by the legacy tie-break path
// and exposed for UI ranking.
type AffinityWeights struct {
	Proximity      float64 `yaml:"proximity"`
	HopConsistency float64 `yaml:"hop_consistency"`
	Frequency      float64 `yaml:"frequency"`
}

// Boosts parameterizes the three independent confidence boosts applied after
// per-prefix ranking, plus the anchor-evidence bonus.
type Boosts struct {
	// Dominant forwarder: attributed position-1 observations between the top
	// two candidates.
	DominantMinCombined int     `yaml:"dominant_min_combined"`
	DominantMinAbsolute int     `yaml:"dominant_min_absolute"`
	DominantShare       float64 `yaml:"dominant_share"`
	DominantBase        float64 `yaml:"dominant_base"`
	DominantScale       float64 `yaml:"dominant_scale"`

	// Score-weighted redistribution of the shared position-1 counts.
	WeightedMinShared int     `yaml:"weighted_min_shared"`
	WeightedShare     float64 `yaml:"weighted_share"`
	WeightedBase      float64 `yaml:"weighted_base"`
	WeightedScale     float64 `yaml:"weighted_scale"`

	// Geographic evidence gap between best and runner-up.
	GeoGapRatio    float64 `yaml:"geo_gap_ratio"`
	GeoGapMinCount int     `yaml:"geo_gap_min_count"`
	GeoGapMax      float64 `yaml:"geo_gap_max"`
	GeoGapScale    float64 `yaml:"geo_gap_scale"`

	// Anchor-evidence bonus added to the combined score.
	AnchorSaturationCount int     `yaml:"anchor_saturation_count"`
	AnchorBonusWeight     float64 `yaml:"anchor_bonus_weight"`
	AnchorConfidenceFloor float64 `yaml:"anchor_confidence_floor"`

	// Geographic score floor for known direct radio contacts.
	DirectContactGeoFloor float64 `yaml:"direct_contact_geo_floor"`
}

// Engine is the complete tunable surface of the disambiguation and topology
// core.
type Engine struct {
	Combine  CombineWeights  `yaml:"combine"`
	Position PositionWeights `yaml:"position"`
	Affinity AffinityWeights `yaml:"affinity"`
	Boosts   Boosts          `yaml:"boosts"`

	Bands    []geo.Band `yaml:"bands"`
	FarScore float64    `yaml:"far_score"`

	// Candidates whose last_seen is older than this never win disambiguation.
	StalenessWindow time.Duration `yaml:"staleness_window"`
	// Recency decay constant in hours: exp(-hours_since_seen / constant).
	RecencyDecayHours float64 `yaml:"recency_decay_hours"`

	MinValidations     int     `yaml:"min_validations"`
	CertaintyThreshold float64 `yaml:"certainty_threshold"`
	HopConfidenceFloor float64 `yaml:"hop_confidence_floor"`
	HubCentralityMin   float64 `yaml:"hub_centrality_min"`
	HubPacketShare     float64 `yaml:"hub_packet_share"`
	HubEdgePriority    int     `yaml:"hub_edge_priority"`
}

// Default returns the engine configuration currently specified for the
// product. Callers should treat these values as the specification.
func Default() Engine {
	return Engine{
		Combine: CombineWeights{
			Position:     0.15,
			Cooccurrence: 0.15,
			Geographic:   0.40,
			Recency:      0.30,
		},
		Position: PositionWeights{
			Consistency: 0.6,
			Frequency:   0.4,
		},
		Affinity: AffinityWeights{
			Proximity:      0.3,
			HopConsistency: 0.3,
			Frequency:      0.4,
		},
		Boosts: Boosts{
			DominantMinCombined: 20,
			DominantMinAbsolute: 10,
			DominantShare:       0.80,
			DominantBase:        0.30,
			DominantScale:       1.5,

			WeightedMinShared: 20,
			WeightedShare:     0.60,
			WeightedBase:      0.15,
			WeightedScale:     0.75,

			GeoGapRatio:    1.5,
			GeoGapMinCount: 10,
			GeoGapMax:      0.3,
			GeoGapScale:    0.2,

			AnchorSaturationCount: 50,
			AnchorBonusWeight:     0.3,
			AnchorConfidenceFloor: 0.3,

			DirectContactGeoFloor: 0.95,
		},
		Bands:    append([]geo.Band(nil), geo.DefaultBands...),
		FarScore: geo.DefaultFarScore,

		StalenessWindow:   14 * 24 * time.Hour,
		RecencyDecayHours: 12,

		MinValidations:     5,
		CertaintyThreshold: 0.6,
		HopConfidenceFloor: 0.25,
		HubCentralityMin:   0.5,
		HubPacketShare:     0.01,
		HubEdgePriority:    1000,
	}
}

// Load reads a YAML engine configuration from path. Missing or zero fields
// fall back to defaults; a missing file is not an error when path is empty.
func Load(path string) (Engine, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read engine config: %w", err)
	}

	var overlay Engine
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return cfg, fmt.Errorf("parse engine config: %w", err)
	}

	cfg.merge(overlay)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (e *Engine) merge(o Engine) {
	mergeFloat(&e.Combine.Position, o.Combine.Position)
	mergeFloat(&e.Combine.Cooccurrence, o.Combine.Cooccurrence)
	mergeFloat(&e.Combine.Geographic, o.Combine.Geographic)
	mergeFloat(&e.Combine.Recency, o.Combine.Recency)
	mergeFloat(&e.Position.Consistency, o.Position.Consistency)
	mergeFloat(&e.Position.Frequency, o.Position.Frequency)
	mergeFloat(&e.Affinity.Proximity, o.Affinity.Proximity)
	mergeFloat(&e.Affinity.HopConsistency, o.Affinity.HopConsistency)
	mergeFloat(&e.Affinity.Frequency, o.Affinity.Frequency)

	mergeInt(&e.Boosts.DominantMinCombined, o.Boosts.DominantMinCombined)
	mergeInt(&e.Boosts.DominantMinAbsolute, o.Boosts.DominantMinAbsolute)
	mergeFloat(&e.Boosts.DominantShare, o.Boosts.DominantShare)
	mergeFloat(&e.Boosts.DominantBase, o.Boosts.DominantBase)
	mergeFloat(&e.Boosts.DominantScale, o.Boosts.DominantScale)
	mergeInt(&e.Boosts.WeightedMinShared, o.Boosts.WeightedMinShared)
	mergeFloat(&e.Boosts.WeightedShare, o.Boosts.WeightedShare)
	mergeFloat(&e.Boosts.WeightedBase, o.Boosts.WeightedBase)
	mergeFloat(&e.Boosts.WeightedScale, o.Boosts.WeightedScale)
	mergeFloat(&e.Boosts.GeoGapRatio, o.Boosts.GeoGapRatio)
	mergeInt(&e.Boosts.GeoGapMinCount, o.Boosts.GeoGapMinCount)
	mergeFloat(&e.Boosts.GeoGapMax, o.Boosts.GeoGapMax)
	mergeFloat(&e.Boosts.GeoGapScale, o.Boosts.GeoGapScale)
	mergeInt(&e.Boosts.AnchorSaturationCount, o.Boosts.AnchorSaturationCount)
	mergeFloat(&e.Boosts.AnchorBonusWeight, o.Boosts.AnchorBonusWeight)
	mergeFloat(&e.Boosts.AnchorConfidenceFloor, o.Boosts.AnchorConfidenceFloor)
	mergeFloat(&e.Boosts.DirectContactGeoFloor, o.Boosts.DirectContactGeoFloor)

	if len(o.Bands) > 0 {
		e.Bands = o.Bands
	}
	mergeFloat(&e.FarScore, o.FarScore)
	if o.StalenessWindow > 0 {
		e.StalenessWindow = o.StalenessWindow
	}
	mergeFloat(&e.RecencyDecayHours, o.RecencyDecayHours)
	mergeInt(&e.MinValidations, o.MinValidations)
	mergeFloat(&e.CertaintyThreshold, o.CertaintyThreshold)
	mergeFloat(&e.HopConfidenceFloor, o.HopConfidenceFloor)
	mergeFloat(&e.HubCentralityMin, o.HubCentralityMin)
	mergeFloat(&e.HubPacketShare, o.HubPacketShare)
	mergeInt(&e.HubEdgePriority, o.HubEdgePriority)
}

// Validate rejects configurations the scoring math cannot absorb.
func (e Engine) Validate() error {
	sum := e.Combine.Position + e.Combine.Cooccurrence + e.Combine.Geographic + e.Combine.Recency
	if sum < 0.99 || sum > 1.01 {
		return fmt.Errorf("combine weights must sum to 1, got %.3f", sum)
	}
	if e.CertaintyThreshold < 0 || e.CertaintyThreshold > 1 {
		return fmt.Errorf("certainty_threshold must be in [0,1], got %.3f", e.CertaintyThreshold)
	}
	if e.HopConfidenceFloor < 0 || e.HopConfidenceFloor > e.CertaintyThreshold {
		return fmt.Errorf("hop_confidence_floor must be in [0,%.2f], got %.3f", e.CertaintyThreshold, e.HopConfidenceFloor)
	}
	if e.MinValidations < 1 {
		return fmt.Errorf("min_validations must be >= 1, got %d", e.MinValidations)
	}
	if e.RecencyDecayHours <= 0 {
		return fmt.Errorf("recency_decay_hours must be positive, got %.3f", e.RecencyDecayHours)
	}
	for i := 1; i < len(e.Bands); i++ {
		if e.Bands[i].MaxMeters <= e.Bands[i-1].MaxMeters {
			return fmt.Errorf("bands must have ascending max_meters")
		}
	}
	return nil
}

func mergeFloat(dst *float64, v float64) {
	if v != 0 {
		*dst = v
	}
}

func mergeInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}
