package chat

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts synchronizer activity. A nil *Metrics disables counting, so
// tests and tools can run without a registry.
type Metrics struct {
	sends         prometheus.Counter
	sendFailures  prometheus.Counter
	reconciles    prometheus.Counter
	realtimeEvent *prometheus.CounterVec
	duplicates    prometheus.Counter
	pagesLoaded   prometheus.Counter
}

// NewMetrics registers the synchronizer counters on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sends: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "loom", Subsystem: "sync",
			Name: "sends_total", Help: "Messages submitted through the optimistic send pipeline.",
		}),
		sendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "loom", Subsystem: "sync",
			Name: "send_failures_total", Help: "Sends whose gateway persist call failed.",
		}),
		reconciles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "loom", Subsystem: "sync",
			Name: "reconciles_total", Help: "Optimistic placeholders reconciled to authoritative rows.",
		}),
		realtimeEvent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loom", Subsystem: "sync",
			Name: "realtime_events_total", Help: "Realtime change events applied, by kind.",
		}, []string{"kind"}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "loom", Subsystem: "sync",
			Name: "duplicates_dropped_total", Help: "Change events ignored because the id was already present.",
		}),
		pagesLoaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "loom", Subsystem: "sync",
			Name: "pages_loaded_total", Help: "History pages fetched by the pagination controller.",
		}),
	}
	reg.MustRegister(m.sends, m.sendFailures, m.reconciles, m.realtimeEvent, m.duplicates, m.pagesLoaded)
	return m
}

func (m *Metrics) incSend() {
	if m != nil {
		m.sends.Inc()
	}
}

func (m *Metrics) incSendFailure() {
	if m != nil {
		m.sendFailures.Inc()
	}
}

func (m *Metrics) incReconcile() {
	if m != nil {
		m.reconciles.Inc()
	}
}

func (m *Metrics) incRealtime(kind ChangeKind) {
	if m != nil {
		m.realtimeEvent.WithLabelValues(string(kind)).Inc()
	}
}

func (m *Metrics) incDuplicate() {
	if m != nil {
		m.duplicates.Inc()
	}
}

func (m *Metrics) incPage() {
	if m != nil {
		m.pagesLoaded.Inc()
	}
}
