package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Gauges are sampled on every scrape.
type Gauges struct {
	Connections func() float64
	QueuedJobs  func() float64
	BusyWorkers func() float64
}

// Metrics records relay activity into the Evaluator and a private
// Prometheus registry.
type Metrics struct {
	Eval *Evaluator

	reg          *prometheus.Registry
	translations *prometheus.HistogramVec
	deliveries   *prometheus.CounterVec
	broadcasts   *prometheus.CounterVec
	recipients   prometheus.Histogram
}

func New(eval *Evaluator, g Gauges) *Metrics {
	m := &Metrics{
		Eval: eval,
		reg:  prometheus.NewRegistry(),
		translations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "relay",
			Name:      "translation_seconds",
			Help:      "Provider translation latency per language pair.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"source", "target"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "deliveries_total",
			Help:      "Frames handed to client connections.",
		}, []string{"result"}),
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "broadcasts_total",
			Help:      "Events broadcast to local clients.",
		}, []string{"origin"}),
		recipients: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "relay",
			Name:      "broadcast_recipients",
			Help:      "Local recipients per broadcast.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 6),
		}),
	}
	m.reg.MustRegister(
		m.translations, m.deliveries, m.broadcasts, m.recipients,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	gauge := func(name, help string, f func() float64) {
		if f == nil {
			return
		}
		m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{Namespace: "relay", Name: name, Help: help}, f))
	}
	gauge("connections", "Live client connections on this node.", g.Connections)
	gauge("translate_queue_depth", "Translation jobs waiting for a worker.", g.QueuedJobs)
	gauge("translate_busy_workers", "Translation workers running a job.", g.BusyWorkers)
	return m
}

func (m *Metrics) ObserveTranslation(sourceLang, targetLang string, latency time.Duration) {
	m.Eval.Record(latency)
	m.translations.WithLabelValues(sourceLang, targetLang).Observe(latency.Seconds())
}

func (m *Metrics) ObserveDelivery(err error) {
	if err != nil {
		m.deliveries.WithLabelValues("error").Inc()
		return
	}
	m.deliveries.WithLabelValues("ok").Inc()
}

func (m *Metrics) ObserveBroadcast(remote bool, recipients int) {
	origin := "local"
	if remote {
		origin = "remote"
	}
	m.broadcasts.WithLabelValues(origin).Inc()
	m.recipients.Observe(float64(recipients))
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
