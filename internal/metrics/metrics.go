// Package metrics exposes ingest counters and process gauges in Prometheus
// text format at /metrics, built directly from client_model metric families.
package metrics

import (
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"

	"github.com/trusttag/trusttag/internal/store"
	"github.com/trusttag/trusttag/internal/verdict"
)

// Registry accumulates ingest observations and renders the scrape payload.
// Safe for concurrent use.
type Registry struct {
	start   time.Time
	store   *store.Store // nil when the store is offline
	viewers func() int   // nil when no hub is wired

	mu       sync.Mutex
	readings map[verdict.Status]int64
}

// New creates a Registry. st and viewers may be nil.
func New(st *store.Store, viewers func() int) *Registry {
	return &Registry{
		start:    time.Now(),
		store:    st,
		viewers:  viewers,
		readings: make(map[verdict.Status]int64),
	}
}

// ObserveIngest records one processed reading and its resulting status.
func (r *Registry) ObserveIngest(status verdict.Status) {
	r.mu.Lock()
	r.readings[status]++
	r.mu.Unlock()
}

// ServeHTTP renders all metric families in Prometheus text format.
func (r *Registry) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	families := r.gather()

	format := expfmt.NewFormat(expfmt.TypeTextPlain)
	w.Header().Set("Content-Type", string(format))
	enc := expfmt.NewEncoder(w, format)
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			slog.Error("metrics: encode failed", "family", mf.GetName(), "err", err)
			return
		}
	}
}

func (r *Registry) gather() []*dto.MetricFamily {
	r.mu.Lock()
	statuses := make([]verdict.Status, 0, len(r.readings))
	for s := range r.readings {
		statuses = append(statuses, s)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i] < statuses[j] })

	readings := &dto.MetricFamily{
		Name: proto.String("trusttag_readings_total"),
		Help: proto.String("Readings processed, by resulting status."),
		Type: dto.MetricType_COUNTER.Enum(),
	}
	for _, s := range statuses {
		readings.Metric = append(readings.Metric, &dto.Metric{
			Label: []*dto.LabelPair{{
				Name:  proto.String("status"),
				Value: proto.String(string(s)),
			}},
			Counter: &dto.Counter{Value: proto.Float64(float64(r.readings[s]))},
		})
	}
	r.mu.Unlock()

	families := []*dto.MetricFamily{
		readings,
		gauge("trusttag_uptime_seconds", "Seconds since process start.", time.Since(r.start).Seconds()),
	}

	if r.store != nil {
		if n, err := r.store.Count(); err == nil {
			families = append(families, gauge("trusttag_packages", "Tracked packages in the store.", float64(n)))
		}
	}
	if r.viewers != nil {
		families = append(families, gauge("trusttag_viewers", "Connected WebSocket viewers.", float64(r.viewers())))
	}
	return families
}

func gauge(name, help string, v float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name: proto.String(name),
		Help: proto.String(help),
		Type: dto.MetricType_GAUGE.Enum(),
		Metric: []*dto.Metric{{
			Gauge: &dto.Gauge{Value: proto.Float64(v)},
		}},
	}
}
