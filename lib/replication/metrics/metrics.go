// Package metrics exposes an ActiveDurabilityMonitor's Stats as
// Prometheus gauges via github.com/VictoriaMetrics/metrics — present in
// the module's dependency set from day one but never wired into any
// actual metric before this package.
package metrics

import (
	"fmt"
	"io"

	vm "github.com/VictoriaMetrics/metrics"

	"github.com/ValentinKolb/dKV/lib/durability"
)

// PartitionMetrics registers the durability gauges for a single partition
// label against a private metrics.Set, so multiple partitions on the same
// process don't collide on gauge names.
type PartitionMetrics struct {
	set *vm.Set
}

// NewPartitionMetrics creates and registers the gauges for partition,
// sourcing every value from a fresh AddStats() snapshot at scrape time.
func NewPartitionMetrics(partition string, monitor *durability.ActiveDurabilityMonitor) *PartitionMetrics {
	set := vm.NewSet()

	label := fmt.Sprintf(`{partition=%q}`, partition)

	set.NewGauge(`durability_high_prepared_seqno`+label, func() float64 {
		return float64(monitor.GetHighPreparedSeqno())
	})
	set.NewGauge(`durability_high_completed_seqno`+label, func() float64 {
		return float64(monitor.GetHighCompletedSeqno())
	})
	set.NewGauge(`durability_num_tracked`+label, func() float64 {
		return float64(monitor.AddStats().NumTracked)
	})
	set.NewGauge(`durability_num_accepted`+label, func() float64 {
		return float64(monitor.AddStats().NumAccepted)
	})
	set.NewGauge(`durability_num_committed`+label, func() float64 {
		return float64(monitor.AddStats().NumCommitted)
	})
	set.NewGauge(`durability_num_aborted`+label, func() float64 {
		return float64(monitor.AddStats().NumAborted)
	})

	vm.RegisterSet(set)
	return &PartitionMetrics{set: set}
}

// WritePrometheus writes this partition's gauges in Prometheus exposition
// format, for mounting behind the server's metrics endpoint.
func (p *PartitionMetrics) WritePrometheus(w io.Writer) {
	p.set.WritePrometheus(w)
}

// Unregister removes this partition's gauges, used when a partition is
// torn down (e.g. a shard moves off this node).
func (p *PartitionMetrics) Unregister() {
	vm.UnregisterSet(p.set, true)
}
