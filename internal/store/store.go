// Package store loads captured packet records and the known-node registry
// from Postgres. It is a read-only consumer; capture and registry ingestion
// happen elsewhere.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"meshmap/core-go/internal/db"
	"meshmap/core-go/internal/mesh"
)

// ErrNoDatabase is returned when the service runs without a configured
// database. Callers treat it as an empty, not failed, load.
var ErrNoDatabase = errors.New("store: no database configured")

const (
	packetQuery = `SELECT src_node, path, "timestamp", lat, lon FROM packets ORDER BY "timestamp", src_node`
	nodeQuery   = `SELECT node_id, lat, lon, last_seen, is_direct_contact FROM nodes ORDER BY node_id`
)

type Store struct {
	pool *db.Pool
}

func New(pool *db.Pool) *Store {
	return &Store{pool: pool}
}

// Packets returns every captured packet record. Paths are stored as JSON
// arrays of prefix strings; malformed rows degrade to an empty path rather
// than failing the load.
func (s *Store) Packets(ctx context.Context) ([]mesh.PacketRecord, error) {
	q := s.pool.Querier()
	if q == nil {
		return nil, ErrNoDatabase
	}

	rows, err := q.Query(ctx, packetQuery)
	if err != nil {
		return nil, fmt.Errorf("store: query packets: %w", err)
	}
	defer rows.Close()

	var packets []mesh.PacketRecord
	for rows.Next() {
		var (
			src      string
			rawPath  *string
			ts       int64
			lat, lon *float64
		)
		if err := rows.Scan(&src, &rawPath, &ts, &lat, &lon); err != nil {
			return nil, fmt.Errorf("store: scan packet: %w", err)
		}
		rec := mesh.PacketRecord{
			SrcNode:   mesh.NodeID(src),
			Timestamp: uint64(ts),
			Lat:       lat,
			Lon:       lon,
		}
		if rawPath != nil {
			rec.Path = mesh.ParsePath(*rawPath)
		}
		packets = append(packets, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: read packets: %w", err)
	}
	return packets, nil
}

// KnownNodes returns the node registry.
func (s *Store) KnownNodes(ctx context.Context) ([]mesh.KnownNode, error) {
	q := s.pool.Querier()
	if q == nil {
		return nil, ErrNoDatabase
	}

	rows, err := q.Query(ctx, nodeQuery)
	if err != nil {
		return nil, fmt.Errorf("store: query nodes: %w", err)
	}
	defer rows.Close()

	var nodes []mesh.KnownNode
	for rows.Next() {
		var (
			id       string
			lat, lon *float64
			lastSeen *time.Time
			direct   bool
		)
		if err := rows.Scan(&id, &lat, &lon, &lastSeen, &direct); err != nil {
			return nil, fmt.Errorf("store: scan node: %w", err)
		}
		nodes = append(nodes, mesh.KnownNode{
			ID:              mesh.NodeID(id),
			Lat:             lat,
			Lon:             lon,
			LastSeen:        lastSeen,
			IsDirectContact: direct,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: read nodes: %w", err)
	}
	return nodes, nil
}

// Load fetches both inputs of one rebuild.
func (s *Store) Load(ctx context.Context) ([]mesh.PacketRecord, []mesh.KnownNode, error) {
	packets, err := s.Packets(ctx)
	if err != nil {
		return nil, nil, err
	}
	nodes, err := s.KnownNodes(ctx)
	if err != nil {
		return nil, nil, err
	}
	return packets, nodes, nil
}
