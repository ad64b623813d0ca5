package mesh

import (
	"strings"
	"time"
)

// NodeID is the full public-key hash identifying a mesh node. Stable for the
// lifetime of a computation run; never recycled.
type NodeID string

// Prefix is the truncated 2-hex-character path element recorded by repeaters.
// Many nodes can share one prefix (256 possible values), so a prefix alone
// never identifies a node.
type Prefix string

// Prefix returns the truncated identifier this node stamps into forwarding
// paths: the first two characters of its hash, uppercased.
func (id NodeID) Prefix() Prefix {
	s := string(id)
	if len(s) < 2 {
		return Prefix(strings.ToUpper(s))
	}
	return Prefix(strings.ToUpper(s[:2]))
}

// PacketRecord is one captured packet as supplied by the packet store.
// Path is ordered first-hop to last-hop; the last element is the node that
// transmitted the packet to the local observer. Records are immutable.
type PacketRecord struct {
	SrcNode   NodeID   `json:"src_node"`
	Path      []Prefix `json:"path"`
	Timestamp uint64   `json:"timestamp"`
	Lat       *float64 `json:"lat,omitempty"`
	Lon       *float64 `json:"lon,omitempty"`
}

// HasCoords reports whether the packet carries a declared source position.
func (p PacketRecord) HasCoords() bool {
	return p.Lat != nil && p.Lon != nil
}

// KnownNode is a registry entry for a node the observer has previously heard
// from directly. Owned by the neighbor registry; read-only to the engine.
type KnownNode struct {
	ID              NodeID     `json:"id"`
	Lat             *float64   `json:"lat,omitempty"`
	Lon             *float64   `json:"lon,omitempty"`
	LastSeen        *time.Time `json:"last_seen,omitempty"`
	IsDirectContact bool       `json:"is_direct_contact"`
}

// HasCoords reports whether the node has a known position.
func (n KnownNode) HasCoords() bool {
	return n.Lat != nil && n.Lon != nil
}

// LocalNode identifies the observing node itself, with an optional position.
type LocalNode struct {
	ID  NodeID
	Lat *float64
	Lon *float64
}

// HasCoords reports whether the observer position is known.
func (l LocalNode) HasCoords() bool {
	return l.Lat != nil && l.Lon != nil
}
