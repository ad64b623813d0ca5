package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"meshmap/core-go/internal/db"
	"meshmap/core-go/internal/engine"
	"meshmap/core-go/internal/mesh"
	"meshmap/core-go/internal/metrics"
)

// SnapshotProvider hands out the current engine snapshot and accepts rebuild
// requests. *rebuildworker.Worker satisfies this.
type SnapshotProvider interface {
	Current() *engine.Snapshot
	Trigger()
}

type Handler struct {
	log       zerolog.Logger
	pool      *db.Pool
	snapshots SnapshotProvider
	metrics   *metrics.Metrics
}

func NewHandler(log zerolog.Logger, pool *db.Pool, snapshots SnapshotProvider, m *metrics.Metrics) *Handler {
	return &Handler{log: log, pool: pool, snapshots: snapshots, metrics: m}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))
	r.Use(h.accessLog)

	// Health
	r.Get("/healthz", h.handleHealthz)
	r.Get("/readyz", h.handleReadyZ)

	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())

	// API
	r.Route("/api", func(r chi.Router) {
		r.Route("/v1", func(r chi.Router) {
			r.Route("/topology", func(r chi.Router) {
				r.Get("/", h.handleTopology)
				r.Get("/validated", h.handleValidatedEdges)
				r.Get("/hubs", h.handleHubs)
			})

			r.Route("/prefixes", func(r chi.Router) {
				r.Get("/", h.handleListPrefixes)
				r.Get("/{prefix}", h.handleGetPrefix)
			})

			r.Get("/affinity", h.handleAffinity)
			r.Post("/rebuild", h.handleRebuild)
		})
	})

	return r
}

func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		h.metrics.ObserveHTTPRequest(r.Method, r.URL.Path, ww.Status(), time.Since(start))
		h.log.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Msg("http_request")
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, msg string, details map[string]any) {
	resp := map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": msg,
		},
	}
	if details != nil {
		resp["error"].(map[string]any)["details"] = details
	}
	h.writeJSON(w, status, resp)
}

// snapshot returns the current snapshot or writes a 503 and returns nil.
func (h *Handler) snapshot(w http.ResponseWriter) *engine.Snapshot {
	if h.snapshots != nil {
		if snap := h.snapshots.Current(); snap != nil {
			return snap
		}
	}
	h.writeError(w, http.StatusServiceUnavailable, "snapshot_unavailable", "no topology snapshot built yet", nil)
	return nil
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleReadyZ(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if h.pool != nil {
		if err := h.pool.Ping(ctx); err != nil {
			h.writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database not ready", map[string]any{"error": err.Error()})
			return
		}
	}

	if h.snapshots == nil || h.snapshots.Current() == nil {
		h.writeError(w, http.StatusServiceUnavailable, "snapshot_unavailable", "no topology snapshot built yet", nil)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"ready": true})
}

func (h *Handler) handleTopology(w http.ResponseWriter, r *http.Request) {
	snap := h.snapshot(w)
	if snap == nil {
		return
	}
	h.writeJSON(w, http.StatusOK, snap.Topology)
}

func (h *Handler) handleValidatedEdges(w http.ResponseWriter, r *http.Request) {
	snap := h.snapshot(w)
	if snap == nil {
		return
	}
	h.writeJSON(w, http.StatusOK, snap.Topology.Validated)
}

type hubEntry struct {
	Node       mesh.NodeID `json:"node"`
	Centrality float64     `json:"centrality"`
}

func (h *Handler) handleHubs(w http.ResponseWriter, r *http.Request) {
	snap := h.snapshot(w)
	if snap == nil {
		return
	}
	resp := make([]hubEntry, 0, len(snap.Topology.Hubs))
	for _, id := range snap.Topology.Hubs {
		resp = append(resp, hubEntry{Node: id, Centrality: snap.Topology.Centrality[id]})
	}
	h.writeJSON(w, http.StatusOK, resp)
}

type prefixSummary struct {
	Prefix      mesh.Prefix `json:"prefix"`
	BestMatch   mesh.NodeID `json:"best_match"`
	Confidence  float64     `json:"confidence"`
	Unambiguous bool        `json:"unambiguous"`
	Candidates  int         `json:"candidates"`
}

func (h *Handler) handleListPrefixes(w http.ResponseWriter, r *http.Request) {
	snap := h.snapshot(w)
	if snap == nil {
		return
	}
	resp := make([]prefixSummary, 0, len(snap.Prefixes))
	for p, res := range snap.Prefixes {
		resp = append(resp, prefixSummary{
			Prefix:      p,
			BestMatch:   res.BestMatch,
			Confidence:  res.Confidence,
			Unambiguous: res.Unambiguous,
			Candidates:  len(res.Candidates),
		})
	}
	sort.Slice(resp, func(i, j int) bool { return resp[i].Prefix < resp[j].Prefix })
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetPrefix(w http.ResponseWriter, r *http.Request) {
	raw := strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "prefix")))
	if !validPrefix(raw) {
		h.writeError(w, http.StatusBadRequest, "invalid_prefix", "prefix must be two hex characters", map[string]any{"prefix": raw})
		return
	}

	snap := h.snapshot(w)
	if snap == nil {
		return
	}
	res, ok := snap.Prefixes[mesh.Prefix(raw)]
	if !ok {
		h.writeError(w, http.StatusNotFound, "not_found", "prefix has no candidates", map[string]any{"prefix": raw})
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleAffinity(w http.ResponseWriter, r *http.Request) {
	snap := h.snapshot(w)
	if snap == nil {
		return
	}
	h.writeJSON(w, http.StatusOK, snap.Affinity)
}

func (h *Handler) handleRebuild(w http.ResponseWriter, r *http.Request) {
	if h.snapshots == nil {
		h.writeError(w, http.StatusServiceUnavailable, "worker_unavailable", "rebuild worker not running", nil)
		return
	}
	h.snapshots.Trigger()
	h.writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted"})
}

func validPrefix(s string) bool {
	if len(s) != 2 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}
