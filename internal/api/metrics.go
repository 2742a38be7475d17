package api

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/VenkatGGG/leasehold/internal/lease"
	"github.com/VenkatGGG/leasehold/pkg/httpx"
)

type operationKey struct {
	op      string
	outcome string
}

// operationMetrics counts lease operations by outcome since process start.
type operationMetrics struct {
	mu          sync.Mutex
	counts      map[operationKey]int
	rateLimited int
}

func newOperationMetrics() *operationMetrics {
	return &operationMetrics{counts: make(map[operationKey]int)}
}

func (m *operationMetrics) observe(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(lease.Kind(err))
	}
	m.mu.Lock()
	m.counts[operationKey{op: op, outcome: outcome}]++
	m.mu.Unlock()
}

func (m *operationMetrics) observeRateLimited() {
	m.mu.Lock()
	m.rateLimited++
	m.mu.Unlock()
}

func (m *operationMetrics) snapshot() (map[operationKey]int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[operationKey]int, len(m.counts))
	for key, count := range m.counts {
		out[key] = count
	}
	return out, m.rateLimited
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	counts, rateLimited := s.metrics.snapshot()
	keys := make([]operationKey, 0, len(counts))
	for key := range counts {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].op != keys[j].op {
			return keys[i].op < keys[j].op
		}
		return keys[i].outcome < keys[j].outcome
	})

	var b strings.Builder
	fmt.Fprintln(&b, "# HELP leasehold_operations_total Lease operations by outcome")
	fmt.Fprintln(&b, "# TYPE leasehold_operations_total counter")
	for _, key := range keys {
		fmt.Fprintf(&b, `leasehold_operations_total{op="%s",outcome="%s"} %d`+"\n",
			metricLabelEscape(key.op), metricLabelEscape(key.outcome), counts[key])
	}

	fmt.Fprintln(&b, "# HELP leasehold_rate_limited_total Requests rejected by the rate limiter")
	fmt.Fprintln(&b, "# TYPE leasehold_rate_limited_total counter")
	fmt.Fprintf(&b, "leasehold_rate_limited_total %d\n", rateLimited)

	fmt.Fprintln(&b, "# HELP leasehold_watchers Open websocket watch connections")
	fmt.Fprintln(&b, "# TYPE leasehold_watchers gauge")
	fmt.Fprintf(&b, "leasehold_watchers %d\n", s.watchers.Load())

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(b.String()))
}

func metricLabelEscape(value string) string {
	escaped := strings.ReplaceAll(value, `\`, `\\`)
	return strings.ReplaceAll(escaped, `"`, `\"`)
}
