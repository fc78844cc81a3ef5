package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/crossknight/examples/pkg/httpx"
)

type Registry struct {
	mu        sync.RWMutex
	endpoint  map[string]*EndpointStat
	callbacks map[string]int64
	relay     map[string]int64
	upstream  map[string]int64
}

type EndpointStat struct {
	Count          int64   `json:"count"`
	ErrorCount     int64   `json:"error_count"`
	TotalMillis    int64   `json:"total_millis"`
	MaxMillis      int64   `json:"max_millis"`
	AverageMillis  float64 `json:"average_millis"`
	LastStatusCode int     `json:"last_status_code"`
}

type Snapshot struct {
	GeneratedAt string                  `json:"generated_at"`
	Endpoints   map[string]EndpointStat `json:"endpoints"`
	Callbacks   map[string]int64        `json:"callbacks"`
	Relay       map[string]int64        `json:"relay"`
	Upstream    map[string]int64        `json:"upstream"`
}

func NewRegistry() *Registry {
	return &Registry{
		endpoint:  map[string]*EndpointStat{},
		callbacks: map[string]int64{},
		relay:     map[string]int64{},
		upstream:  map[string]int64{},
	}
}

// ObserveEndpoint records one handled HTTP request.
func (r *Registry) ObserveEndpoint(key string, status int, elapsed time.Duration) {
	ms := elapsed.Milliseconds()
	r.mu.Lock()
	defer r.mu.Unlock()
	stat, ok := r.endpoint[key]
	if !ok {
		stat = &EndpointStat{}
		r.endpoint[key] = stat
	}
	stat.Count++
	if status >= 500 {
		stat.ErrorCount++
	}
	stat.TotalMillis += ms
	if ms > stat.MaxMillis {
		stat.MaxMillis = ms
	}
	stat.AverageMillis = float64(stat.TotalMillis) / float64(stat.Count)
	stat.LastStatusCode = status
}

// IncCallback counts one ingested callback by kind.
func (r *Registry) IncCallback(kind string) {
	r.mu.Lock()
	r.callbacks[kind]++
	r.mu.Unlock()
}

// IncRelay counts a realtime relay outcome ("forwarded", "dropped", ...).
func (r *Registry) IncRelay(outcome string) {
	r.mu.Lock()
	r.relay[outcome]++
	r.mu.Unlock()
}

// IncUpstream counts an outbound platform call by operation and result.
func (r *Registry) IncUpstream(op string, ok bool) {
	suffix := "_error"
	if ok {
		suffix = "_ok"
	}
	r.mu.Lock()
	r.upstream[op+suffix]++
	r.mu.Unlock()
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap := Snapshot{
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Endpoints:   make(map[string]EndpointStat, len(r.endpoint)),
		Callbacks:   make(map[string]int64, len(r.callbacks)),
		Relay:       make(map[string]int64, len(r.relay)),
		Upstream:    make(map[string]int64, len(r.upstream)),
	}
	for k, v := range r.endpoint {
		snap.Endpoints[k] = *v
	}
	for k, v := range r.callbacks {
		snap.Callbacks[k] = v
	}
	for k, v := range r.relay {
		snap.Relay[k] = v
	}
	for k, v := range r.upstream {
		snap.Upstream[k] = v
	}
	return snap
}

// Handler serves the snapshot as JSON.
func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteJSON(w, 200, r.Snapshot())
	}
}

// PrometheusHandler serves the counters in Prometheus text format.
func (r *Registry) PrometheusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		snap := r.Snapshot()
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeCounterFamily(w, "gateway_callbacks_total", "Callbacks ingested by kind.", "kind", snap.Callbacks)
		writeCounterFamily(w, "gateway_relay_total", "Realtime relay outcomes.", "outcome", snap.Relay)
		writeCounterFamily(w, "gateway_upstream_total", "Outbound platform calls by operation and result.", "op", snap.Upstream)
		fmt.Fprintf(w, "# HELP gateway_http_requests_total HTTP requests handled per endpoint.\n")
		fmt.Fprintf(w, "# TYPE gateway_http_requests_total counter\n")
		for _, key := range sortedKeysEndpoint(snap.Endpoints) {
			stat := snap.Endpoints[key]
			fmt.Fprintf(w, "gateway_http_requests_total{endpoint=%q} %d\n", key, stat.Count)
			fmt.Fprintf(w, "gateway_http_request_errors_total{endpoint=%q} %d\n", key, stat.ErrorCount)
		}
	}
}

func writeCounterFamily(w http.ResponseWriter, name, help, label string, values map[string]int64) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s counter\n", name)
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%s{%s=%q} %d\n", name, label, k, values[k])
	}
}

func sortedKeysEndpoint(m map[string]EndpointStat) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
