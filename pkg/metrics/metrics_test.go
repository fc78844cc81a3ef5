package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestObserveEndpoint(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.ObserveEndpoint("POST /createRequest", 200, 10*time.Millisecond)
	r.ObserveEndpoint("POST /createRequest", 500, 30*time.Millisecond)

	snap := r.Snapshot()
	stat, ok := snap.Endpoints["POST /createRequest"]
	if !ok {
		t.Fatal("endpoint missing from snapshot")
	}
	if stat.Count != 2 || stat.ErrorCount != 1 {
		t.Fatalf("unexpected counts: %+v", stat)
	}
	if stat.MaxMillis != 30 {
		t.Fatalf("expected max 30ms, got %d", stat.MaxMillis)
	}
	if stat.AverageMillis != 20 {
		t.Fatalf("expected average 20ms, got %v", stat.AverageMillis)
	}
	if stat.LastStatusCode != 500 {
		t.Fatalf("expected last status 500, got %d", stat.LastStatusCode)
	}
}

func TestCounters(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.IncCallback("request_status")
	r.IncCallback("request_status")
	r.IncRelay("forwarded")
	r.IncRelay("dropped")
	r.IncUpstream("create_request", true)
	r.IncUpstream("create_request", false)

	snap := r.Snapshot()
	if snap.Callbacks["request_status"] != 2 {
		t.Fatalf("unexpected callbacks: %v", snap.Callbacks)
	}
	if snap.Relay["forwarded"] != 1 || snap.Relay["dropped"] != 1 {
		t.Fatalf("unexpected relay: %v", snap.Relay)
	}
	if snap.Upstream["create_request_ok"] != 1 || snap.Upstream["create_request_error"] != 1 {
		t.Fatalf("unexpected upstream: %v", snap.Upstream)
	}
}

func TestSnapshotIsDetached(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.IncCallback("error")
	snap := r.Snapshot()
	snap.Callbacks["error"] = 99
	if r.Snapshot().Callbacks["error"] != 1 {
		t.Fatal("snapshot mutation leaked into registry")
	}
}

func TestJSONHandler(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.IncCallback("incoming_request")

	rec := httptest.NewRecorder()
	r.Handler()(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var snap Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.Callbacks["incoming_request"] != 1 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.GeneratedAt == "" {
		t.Fatal("expected generated_at timestamp")
	}
}

func TestPrometheusHandler(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.IncCallback("request_status")
	r.IncRelay("forwarded")
	r.IncUpstream("set_callback_urls", true)
	r.ObserveEndpoint("GET /ws", 200, time.Millisecond)

	rec := httptest.NewRecorder()
	r.PrometheusHandler()(rec, httptest.NewRequest(http.MethodGet, "/metrics/prometheus", nil))
	body := rec.Body.String()

	for _, want := range []string{
		`gateway_callbacks_total{kind="request_status"} 1`,
		`gateway_relay_total{outcome="forwarded"} 1`,
		`gateway_upstream_total{op="set_callback_urls_ok"} 1`,
		`gateway_http_requests_total{endpoint="GET /ws"} 1`,
		"# TYPE gateway_callbacks_total counter",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("output missing %q:\n%s", want, body)
		}
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("unexpected content type %q", ct)
	}
}
