package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"meshmap/core-go/internal/config"
	"meshmap/core-go/internal/engine"
	"meshmap/core-go/internal/mesh"
	"meshmap/core-go/internal/metrics"
)

type fakeProvider struct {
	snap      *engine.Snapshot
	triggered int
}

func (f *fakeProvider) Current() *engine.Snapshot { return f.snap }
func (f *fakeProvider) Trigger()                  { f.triggered++ }

func testSnapshot(t *testing.T) *engine.Snapshot {
	t.Helper()
	local := &mesh.LocalNode{ID: "EE000001"}
	nodes := []mesh.KnownNode{{ID: "AB000001"}, {ID: "FF000001"}}
	packets := []mesh.PacketRecord{
		{SrcNode: "FF000001", Path: []mesh.Prefix{"AB"}, Timestamp: 100},
		{SrcNode: "FF000001", Path: []mesh.Prefix{"AB"}, Timestamp: 101},
	}
	ref := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return engine.New(config.Default(), zerolog.Nop()).Build(ref, packets, nodes, local)
}

func newTestHandler(t *testing.T, p SnapshotProvider) http.Handler {
	t.Helper()
	return NewHandler(zerolog.Nop(), nil, p, metrics.New()).Router()
}

func doRequest(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, path, nil))
	return rr
}

func TestHealthz(t *testing.T) {
	h := newTestHandler(t, &fakeProvider{})
	rr := doRequest(t, h, http.MethodGet, "/healthz")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestReadyz_NoSnapshot(t *testing.T) {
	h := newTestHandler(t, &fakeProvider{})
	rr := doRequest(t, h, http.MethodGet, "/readyz")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before the first rebuild, got %d", rr.Code)
	}
}

func TestReadyz_WithSnapshot(t *testing.T) {
	h := newTestHandler(t, &fakeProvider{snap: testSnapshot(t)})
	rr := doRequest(t, h, http.MethodGet, "/readyz")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestTopology(t *testing.T) {
	h := newTestHandler(t, &fakeProvider{snap: testSnapshot(t)})
	rr := doRequest(t, h, http.MethodGet, "/api/v1/topology")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Edges       []json.RawMessage `json:"edges"`
		PacketCount int               `json:"packet_count"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.PacketCount != 2 || len(resp.Edges) == 0 {
		t.Fatalf("unexpected topology payload: %s", rr.Body.String())
	}
}

func TestTopology_NoSnapshot(t *testing.T) {
	h := newTestHandler(t, &fakeProvider{})
	rr := doRequest(t, h, http.MethodGet, "/api/v1/topology")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestListPrefixes_SortedSummaries(t *testing.T) {
	h := newTestHandler(t, &fakeProvider{snap: testSnapshot(t)})
	rr := doRequest(t, h, http.MethodGet, "/api/v1/prefixes")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var resp []prefixSummary
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp) == 0 {
		t.Fatalf("expected at least one prefix summary")
	}
	for i := 1; i < len(resp); i++ {
		if resp[i-1].Prefix > resp[i].Prefix {
			t.Fatalf("summaries must be sorted by prefix: %v", resp)
		}
	}
}

func TestGetPrefix(t *testing.T) {
	h := newTestHandler(t, &fakeProvider{snap: testSnapshot(t)})

	rr := doRequest(t, h, http.MethodGet, "/api/v1/prefixes/ab")
	if rr.Code != http.StatusOK {
		t.Fatalf("lowercase prefix must normalize, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		BestMatch string `json:"best_match"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.BestMatch != "AB000001" {
		t.Fatalf("expected best match AB000001, got %q", resp.BestMatch)
	}

	if rr := doRequest(t, h, http.MethodGet, "/api/v1/prefixes/ZZ"); rr.Code != http.StatusBadRequest {
		t.Fatalf("non-hex prefix must 400, got %d", rr.Code)
	}
	if rr := doRequest(t, h, http.MethodGet, "/api/v1/prefixes/09"); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown prefix must 404, got %d", rr.Code)
	}
}

func TestRebuild_Triggers(t *testing.T) {
	p := &fakeProvider{snap: testSnapshot(t)}
	h := newTestHandler(t, p)

	rr := doRequest(t, h, http.MethodPost, "/api/v1/rebuild")
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rr.Code)
	}
	if p.triggered != 1 {
		t.Fatalf("expected one trigger, got %d", p.triggered)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestHandler(t, &fakeProvider{})
	rr := doRequest(t, h, http.MethodGet, "/metrics")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}
