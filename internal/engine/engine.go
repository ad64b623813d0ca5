// Package engine composes prefix disambiguation, affinity scoring and
// topology construction into a single batch build. Every build is a full
// recompute over the packet set; a new snapshot supersedes the previous one
// and old snapshots are never mutated.
package engine

import (
	"time"

	"github.com/rs/zerolog"

	"meshmap/core-go/internal/affinity"
	"meshmap/core-go/internal/config"
	"meshmap/core-go/internal/disambig"
	"meshmap/core-go/internal/mesh"
	"meshmap/core-go/internal/topology"
)

// Snapshot is one build's complete, immutable output.
type Snapshot struct {
	Prefixes disambig.Lookup                    `json:"prefixes"`
	Topology *topology.Topology                 `json:"topology"`
	Affinity map[mesh.NodeID]*affinity.Affinity `json:"affinity"`

	PacketCount int       `json:"packet_count"`
	NodeCount   int       `json:"node_count"`
	BuiltAt     time.Time `json:"built_at"`
}

// Engine runs batch builds. Safe for concurrent use; each Build works on its
// own accumulators.
type Engine struct {
	cfg config.Engine
	log zerolog.Logger

	disambig *disambig.Disambiguator
	affinity *affinity.Scorer
	topology *topology.Builder
}

// New wires the three stages with shared tunables and a shared diagnostics
// sink.
func New(cfg config.Engine, log zerolog.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		log:      log,
		disambig: disambig.New(cfg, log),
		affinity: affinity.New(cfg),
		topology: topology.New(cfg, log),
	}
}

// Build produces a snapshot for the given packet set against the node
// registry. ref anchors recency and staleness decisions so a build is
// reproducible for a fixed input.
func (e *Engine) Build(ref time.Time, packets []mesh.PacketRecord, nodes []mesh.KnownNode, local *mesh.LocalNode) *Snapshot {
	start := time.Now()

	lookup := e.disambig.Build(ref, packets, nodes, local)
	topo := e.topology.Build(ref, packets, nodes, local, lookup)
	aff := e.affinity.Build(packets, nodes, local)

	e.log.Info().
		Int("packets", len(packets)).
		Int("nodes", len(nodes)).
		Int("prefixes", len(lookup)).
		Dur("elapsed", time.Since(start)).
		Msg("snapshot built")

	return &Snapshot{
		Prefixes:    lookup,
		Topology:    topo,
		Affinity:    aff,
		PacketCount: len(packets),
		NodeCount:   len(nodes),
		BuiltAt:     ref,
	}
}
