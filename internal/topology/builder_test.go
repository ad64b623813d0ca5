package topology

import (
	"reflect"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"meshmap/core-go/internal/config"
	"meshmap/core-go/internal/disambig"
	"meshmap/core-go/internal/mesh"
)

var testRef = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func buildLookup(t *testing.T, packets []mesh.PacketRecord, nodes []mesh.KnownNode, local *mesh.LocalNode) disambig.Lookup {
	t.Helper()
	return disambig.New(config.Default(), zerolog.Nop()).Build(testRef, packets, nodes, local)
}

func TestBuild_UnambiguousSingleHop(t *testing.T) {
	local := &mesh.LocalNode{ID: "EE000001"}
	nodes := []mesh.KnownNode{{ID: "AB000001"}}
	packets := []mesh.PacketRecord{
		{SrcNode: "FF000001", Path: []mesh.Prefix{"AB"}, Timestamp: 100},
	}

	b := New(config.Default(), zerolog.Nop())
	topo := b.Build(testRef, packets, nodes, local, buildLookup(t, packets, nodes, local))

	e, ok := topo.EdgeIndex[EdgeKey("AB000001", "EE000001")]
	if !ok {
		t.Fatalf("expected last-hop edge to the observer, have %v", topo.EdgeIndex)
	}
	if e.CertainCount != 1 || e.Count != 1 {
		t.Fatalf("sole candidate resolves at full confidence, got %+v", e)
	}
	if e.MinHopDistance != 0 {
		t.Fatalf("observer edge is at hop distance 0, got %d", e.MinHopDistance)
	}
	if e.Validated || len(topo.Validated) != 0 {
		t.Fatalf("one observation must not validate an edge")
	}
}

func TestBuild_ValidationThreshold(t *testing.T) {
	local := &mesh.LocalNode{ID: "EE000001"}
	nodes := []mesh.KnownNode{{ID: "AB000001"}, {ID: "FF000001"}}

	var packets []mesh.PacketRecord
	for i := 0; i < 5; i++ {
		packets = append(packets, mesh.PacketRecord{
			SrcNode:   "FF000001",
			Path:      []mesh.Prefix{"AB"},
			Timestamp: uint64(100 + i),
		})
	}

	b := New(config.Default(), zerolog.Nop())
	topo := b.Build(testRef, packets, nodes, local, buildLookup(t, packets, nodes, local))

	e := topo.EdgeIndex[EdgeKey("AB000001", "EE000001")]
	if e == nil || !e.Validated || e.CertainCount != 5 {
		t.Fatalf("five certain observations must validate the edge, got %+v", e)
	}
	for _, v := range topo.Validated {
		if v.CertainCount < config.Default().MinValidations {
			t.Fatalf("validated edge below threshold: %+v", v)
		}
	}
}

func TestBuild_HubDesignation(t *testing.T) {
	local := &mesh.LocalNode{ID: "EE000001"}
	leaves := []mesh.Prefix{"10", "20", "30", "40", "50", "60", "70", "80", "90", "A0"}

	nodes := []mesh.KnownNode{
		{ID: "AB000001"},
		{ID: "CD000001"},
		{ID: "FF000001"},
	}
	for _, lf := range leaves {
		nodes = append(nodes, mesh.KnownNode{ID: mesh.NodeID(string(lf) + "000001")})
	}

	var packets []mesh.PacketRecord
	ts := uint64(100)
	for _, lf := range leaves {
		for i := 0; i < 5; i++ {
			packets = append(packets, mesh.PacketRecord{
				SrcNode:   "FF000001",
				Path:      []mesh.Prefix{lf, "AB", "CD"},
				Timestamp: ts,
			})
			ts++
		}
	}

	b := New(config.Default(), zerolog.Nop())
	topo := b.Build(testRef, packets, nodes, local, buildLookup(t, packets, nodes, local))

	if len(topo.Hubs) != 1 || topo.Hubs[0] != "AB000001" {
		t.Fatalf("relay interior to every path must be the sole hub, got %v", topo.Hubs)
	}
	if topo.Centrality["AB000001"] != 1.0 {
		t.Fatalf("hub centrality should normalize to 1.0, got %f", topo.Centrality["AB000001"])
	}
	if topo.Centrality["CD000001"] != 0 {
		t.Fatalf("terminal gateway has no interior appearances, got %f", topo.Centrality["CD000001"])
	}

	// Hub-adjacent edges rank ahead of the busier observer edge.
	if len(topo.Validated) == 0 {
		t.Fatalf("expected validated edges")
	}
	if topo.Validated[0].Key != EdgeKey("AB000001", "CD000001") {
		t.Fatalf("hub edge with the most certain observations ranks first, got %+v", topo.Validated[0])
	}
	if e := topo.EdgeIndex[EdgeKey("CD000001", "EE000001")]; e == nil || !e.Validated {
		t.Fatalf("gateway to observer edge must validate, got %+v", e)
	}
}

func TestBuild_DeterministicAcrossInputOrder(t *testing.T) {
	local := &mesh.LocalNode{ID: "EE000001"}
	nodes := []mesh.KnownNode{
		{ID: "AB000001"}, {ID: "CD000001"}, {ID: "FF000001"},
	}
	packets := []mesh.PacketRecord{
		{SrcNode: "FF000001", Path: []mesh.Prefix{"CD", "AB"}, Timestamp: 103},
		{SrcNode: "FF000001", Path: []mesh.Prefix{"AB"}, Timestamp: 101},
		{SrcNode: "FF000001", Path: []mesh.Prefix{"CD", "AB"}, Timestamp: 102},
	}
	reversed := make([]mesh.PacketRecord, len(packets))
	for i, p := range packets {
		reversed[len(packets)-1-i] = p
	}

	b := New(config.Default(), zerolog.Nop())
	first := b.Build(testRef, packets, nodes, local, buildLookup(t, packets, nodes, local))
	second := b.Build(testRef, reversed, nodes, local, buildLookup(t, reversed, nodes, local))

	if !reflect.DeepEqual(first, second) {
		t.Fatalf("input order must not affect the topology:\n%+v\nvs\n%+v", first, second)
	}
}

func TestBuild_WeakPairsDropped(t *testing.T) {
	local := &mesh.LocalNode{ID: "EE000001"}

	// Hand-built lookup with two low-confidence prefixes: the consecutive-pair
	// confidence product falls under the floor while the terminal edges stay.
	lookup := disambig.Lookup{
		"AB": {
			Prefix:     "AB",
			Candidates: []*disambig.Candidate{{Node: mesh.KnownNode{ID: "AB000001"}}},
			BestMatch:  "AB000001",
			Confidence: 0.4,
		},
		"CD": {
			Prefix:     "CD",
			Candidates: []*disambig.Candidate{{Node: mesh.KnownNode{ID: "CD000001"}}},
			BestMatch:  "CD000001",
			Confidence: 0.4,
		},
	}
	packets := []mesh.PacketRecord{
		{SrcNode: "FF000001", Path: []mesh.Prefix{"AB", "CD"}, Timestamp: 100},
	}

	b := New(config.Default(), zerolog.Nop())
	topo := b.Build(testRef, packets, nil, local, lookup)

	if _, ok := topo.EdgeIndex[EdgeKey("AB000001", "CD000001")]; ok {
		t.Fatalf("pair confidence 0.16 is under the floor and must be dropped")
	}
	e := topo.EdgeIndex[EdgeKey("CD000001", "EE000001")]
	if e == nil || e.CertainCount != 0 || e.UncertainCount != 1 {
		t.Fatalf("observer edge survives as an uncertain observation, got %+v", e)
	}
	if _, ok := topo.EdgeIndex[EdgeKey("AB000001", "FF000001")]; !ok {
		t.Fatalf("source to first-hop edge must survive")
	}
}

func TestBuild_DirectPackets(t *testing.T) {
	local := &mesh.LocalNode{ID: "EE000001"}
	nodes := []mesh.KnownNode{{ID: "AA000001"}}
	packets := []mesh.PacketRecord{
		{SrcNode: "AA000001", Timestamp: 100},
		{SrcNode: "BB000001", Timestamp: 101},
	}

	b := New(config.Default(), zerolog.Nop())
	topo := b.Build(testRef, packets, nodes, local, buildLookup(t, packets, nodes, local))

	e := topo.EdgeIndex[EdgeKey("AA000001", "EE000001")]
	if e == nil || e.CertainCount != 1 || e.MinHopDistance != 0 {
		t.Fatalf("direct packet from a known node creates a certain observer edge, got %+v", e)
	}
	if topo.PacketCount != 2 || topo.SkippedPackets != 1 {
		t.Fatalf("direct packet from an unknown source is skipped, got count=%d skipped=%d",
			topo.PacketCount, topo.SkippedPackets)
	}
}
