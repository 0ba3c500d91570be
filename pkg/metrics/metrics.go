// Package metrics exports Prometheus instruments for the user data engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "vuser"

// Sync actions as reported in the "action" label.
const (
	ActionPushed     = "pushed"
	ActionAdopted    = "adopted"
	ActionRefreshed  = "refreshed"
	ActionSuperseded = "superseded"
	ActionFailed     = "failed"
)

// Recorder receives engine events. A nil *Metrics is a valid no-op Recorder.
type Recorder interface {
	Load(err error)
	Store(err error)
	Sync(action string)
	CacheSize(n int)
}

type Metrics struct {
	loads     *prometheus.CounterVec
	stores    *prometheus.CounterVec
	syncs     *prometheus.CounterVec
	cacheSize prometheus.Gauge
}

// New creates the instruments and registers them with reg when it is not nil.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loads_total",
			Help:      "Remote loads, by result.",
		}, []string{"result"}),
		stores: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stores_total",
			Help:      "Remote stores, by result.",
		}, []string{"result"}),
		syncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_keys_total",
			Help:      "Keys reconciled by sync, by action taken.",
		}, []string{"action"}),
		cacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_entries",
			Help:      "Number of keys held in the local cache.",
		}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.loads, m.stores, m.syncs, m.cacheSize} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) Load(err error) {
	if m == nil {
		return
	}
	m.loads.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) Store(err error) {
	if m == nil {
		return
	}
	m.stores.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) Sync(action string) {
	if m == nil {
		return
	}
	m.syncs.WithLabelValues(action).Inc()
}

func (m *Metrics) CacheSize(n int) {
	if m == nil {
		return
	}
	m.cacheSize.Set(float64(n))
}
