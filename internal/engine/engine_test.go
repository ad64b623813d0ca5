package engine

import (
	"reflect"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"meshmap/core-go/internal/config"
	"meshmap/core-go/internal/mesh"
)

var testRef = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testFixture() ([]mesh.PacketRecord, []mesh.KnownNode, *mesh.LocalNode) {
	local := &mesh.LocalNode{ID: "EE000001"}
	nodes := []mesh.KnownNode{
		{ID: "AB000001"},
		{ID: "CD000001"},
		{ID: "FF000001"},
	}
	packets := []mesh.PacketRecord{
		{SrcNode: "FF000001", Path: []mesh.Prefix{"CD", "AB"}, Timestamp: 100},
		{SrcNode: "FF000001", Path: []mesh.Prefix{"AB"}, Timestamp: 101},
		{SrcNode: "AB000001", Timestamp: 102},
	}
	return packets, nodes, local
}

func TestBuild_ComposesAllStages(t *testing.T) {
	packets, nodes, local := testFixture()
	e := New(config.Default(), zerolog.Nop())

	snap := e.Build(testRef, packets, nodes, local)

	if snap.Topology == nil || snap.Prefixes == nil || snap.Affinity == nil {
		t.Fatalf("snapshot must carry all three stage outputs: %+v", snap)
	}
	if snap.PacketCount != 3 || snap.NodeCount != 3 {
		t.Fatalf("unexpected counts: %+v", snap)
	}
	if !snap.BuiltAt.Equal(testRef) {
		t.Fatalf("snapshot timestamp must be the reference time, got %v", snap.BuiltAt)
	}
	if _, ok := snap.Prefixes["AB"]; !ok {
		t.Fatalf("expected a disambiguation result for prefix AB")
	}
	if _, ok := snap.Affinity["CD000001"]; !ok {
		t.Fatalf("expected an affinity entry for every registry node")
	}
}

func TestBuild_Deterministic(t *testing.T) {
	packets, nodes, local := testFixture()
	e := New(config.Default(), zerolog.Nop())

	first := e.Build(testRef, packets, nodes, local)
	second := e.Build(testRef, packets, nodes, local)

	if first == second {
		t.Fatalf("each build must produce a fresh snapshot")
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("identical inputs must produce identical snapshots")
	}
}
