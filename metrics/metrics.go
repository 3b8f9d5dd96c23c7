// Package metrics defines the instrumentation hooks the tail engine emits
// into, with a no-op default and a Prometheus-backed implementation.
package metrics

// Collector receives counters from a running tail task. Implementations must
// be safe for concurrent use: commit outcomes are reported from the commit
// completion callback, not the poll goroutine.
type Collector interface {
	RecordsFetched(n int)
	RecordsMatched(n int)
	BatchForwarded(size int)
	IdlePoll()
	CommitSucceeded()
	CommitFailed()
}

// NopCollector discards every observation.
type NopCollector struct{}

var _ Collector = (*NopCollector)(nil)

func NewNop() *NopCollector { return &NopCollector{} }

func (*NopCollector) RecordsFetched(int) {}
func (*NopCollector) RecordsMatched(int) {}
func (*NopCollector) BatchForwarded(int) {}
func (*NopCollector) IdlePoll()          {}
func (*NopCollector) CommitSucceeded()   {}
func (*NopCollector) CommitFailed()      {}
