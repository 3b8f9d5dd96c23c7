package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements Collector backed by Prometheus counters.
// Registration is deferred to first use so an unused collector never touches
// the registry.
type PrometheusCollector struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	recordsFetched    prometheus.Counter
	recordsMatched    prometheus.Counter
	batchesForwarded  prometheus.Counter
	messagesForwarded prometheus.Counter
	idlePolls         prometheus.Counter
	commitResults     *prometheus.CounterVec
}

var _ Collector = (*PrometheusCollector)(nil)

// NewPrometheus creates a Prometheus-backed collector. A nil registerer falls
// back to prometheus.DefaultRegisterer; an empty namespace defaults to
// "ktail".
func NewPrometheus(reg prometheus.Registerer, namespace string) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "ktail"
	}

	return &PrometheusCollector{reg: reg, namespace: namespace}
}

func (p *PrometheusCollector) ensureRegistered() {
	p.once.Do(func() {
		p.recordsFetched = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "consumer",
			Name:      "records_fetched_total",
			Help:      "Total records fetched from the broker, filtered or not.",
		})
		p.recordsMatched = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "consumer",
			Name:      "records_matched_total",
			Help:      "Total records that passed the active filter list.",
		})
		p.batchesForwarded = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "consumer",
			Name:      "batches_forwarded_total",
			Help:      "Total batches forwarded to the sink.",
		})
		p.messagesForwarded = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "consumer",
			Name:      "messages_forwarded_total",
			Help:      "Total messages forwarded to the sink.",
		})
		p.idlePolls = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "consumer",
			Name:      "idle_polls_total",
			Help:      "Total polls that returned no records.",
		})
		p.commitResults = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "consumer",
			Name:      "commit_results_total",
			Help:      "Total offset commit outcomes by result (success|failure).",
		}, []string{"result"})

		p.reg.MustRegister(p.recordsFetched)
		p.reg.MustRegister(p.recordsMatched)
		p.reg.MustRegister(p.batchesForwarded)
		p.reg.MustRegister(p.messagesForwarded)
		p.reg.MustRegister(p.idlePolls)
		p.reg.MustRegister(p.commitResults)
	})
}

func (p *PrometheusCollector) RecordsFetched(n int) {
	p.ensureRegistered()
	p.recordsFetched.Add(float64(n))
}

func (p *PrometheusCollector) RecordsMatched(n int) {
	p.ensureRegistered()
	p.recordsMatched.Add(float64(n))
}

func (p *PrometheusCollector) BatchForwarded(size int) {
	p.ensureRegistered()
	p.batchesForwarded.Inc()
	p.messagesForwarded.Add(float64(size))
}

func (p *PrometheusCollector) IdlePoll() {
	p.ensureRegistered()
	p.idlePolls.Inc()
}

func (p *PrometheusCollector) CommitSucceeded() {
	p.ensureRegistered()
	p.commitResults.WithLabelValues("success").Inc()
}

func (p *PrometheusCollector) CommitFailed() {
	p.ensureRegistered()
	p.commitResults.WithLabelValues("failure").Inc()
}
