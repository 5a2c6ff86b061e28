package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func render(t *testing.T, r *Registry) string {
	t.Helper()
	var sb strings.Builder
	require.NoError(t, r.Write(&sb, "test"))
	return sb.String()
}

func TestRegistry_SameNameReturnsSameSeries(t *testing.T) {
	r := NewRegistry()
	a := r.Counter("test_total", "help")
	b := r.Counter("test_total", "other help")
	assert.Same(t, a, b)

	a.Inc()
	b.Add(2)
	assert.Equal(t, int64(3), a.Value())
	assert.Equal(t, 1, strings.Count(render(t, r), "# TYPE test_total counter"))
}

func TestRegistry_KindMismatchPanics(t *testing.T) {
	r := NewRegistry()
	r.Counter("x", "")
	assert.Panics(t, func() { r.Gauge("x", "") })
}

func TestHistogram_CumulativeBuckets(t *testing.T) {
	r := NewRegistry()
	h := r.Histogram("test_latency_seconds", "latency", 5, 1)
	for _, v := range []float64{0.5, 1, 3, 10} {
		h.Observe(v)
	}
	h.ObserveSince(time.Now())
	assert.Equal(t, uint64(5), h.Count())

	out := render(t, r)
	assert.Contains(t, out, `test_latency_seconds_bucket{le="1"} 3`)
	assert.Contains(t, out, `test_latency_seconds_bucket{le="5"} 4`)
	assert.Contains(t, out, `test_latency_seconds_bucket{le="+Inf"} 5`)
	assert.Contains(t, out, "test_latency_seconds_count 5")
	assert.Less(t, strings.Index(out, `le="1"`), strings.Index(out, `le="5"`))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.Notifications.Inc()
	m.InFlight.Inc()
	m.InFlight.Dec()
	m.RepliesSent.Add(2)

	scrape := func() *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		return rec
	}
	rec := scrape()
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain"))

	body := rec.Body.String()
	assert.Contains(t, body, "# TYPE mailagent_uptime_seconds gauge")
	assert.Contains(t, body, "mailagent_notifications_total 1")
	assert.Contains(t, body, "mailagent_replies_sent_total 2")
	assert.Contains(t, body, "mailagent_notifications_in_flight 0")
	assert.Contains(t, body, "# TYPE mailagent_llm_latency_seconds histogram")
	assert.Less(t, strings.Index(body, "notifications_total"), strings.Index(body, "replies_sent_total"),
		"registration order")

	// Everything after the uptime sample is stable across scrapes.
	tail := func(s string) string { return s[strings.Index(s, "# HELP mailagent_notifications_total"):] }
	assert.Equal(t, tail(body), tail(scrape().Body.String()))
}
