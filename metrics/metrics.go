// Package metrics exposes Prometheus counters for page faults, evictions,
// and swap I/O -- instrumentation of the core's own behavior, not a
// feature spec.md's Non-goals exclude (Non-goals bind functionality,
// ambient concerns like instrumentation are carried regardless). Grounded
// on talyz-systemd_exporter's systemd/systemd.go collector-registration
// shape (prometheus.NewDesc + prometheus.MustNewConstMetric, a
// Collector that snapshots a handful of atomic counters on Collect).
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

/// Counters accumulates the numbers the stress-test runner (cmd/pgvmstress)
/// reports at the end of a scenario; each field is updated with
/// sync/atomic so concurrent fault/eviction paths never race on it.
type Counters struct {
	PageFaults     uint64
	Evictions      uint64
	SwapOuts       uint64
	SwapIns        uint64
	FileReads      uint64
	WriteBacks     uint64
}

// Each Inc* method is nil-safe: callers that have no Counters to report to
// (most unit tests) pass a nil *Counters rather than standing up a dummy.
func (c *Counters) IncFault() {
	if c != nil {
		atomic.AddUint64(&c.PageFaults, 1)
	}
}
func (c *Counters) IncEviction() {
	if c != nil {
		atomic.AddUint64(&c.Evictions, 1)
	}
}
func (c *Counters) IncSwapOut() {
	if c != nil {
		atomic.AddUint64(&c.SwapOuts, 1)
	}
}
func (c *Counters) IncSwapIn() {
	if c != nil {
		atomic.AddUint64(&c.SwapIns, 1)
	}
}
func (c *Counters) IncFileRead() {
	if c != nil {
		atomic.AddUint64(&c.FileReads, 1)
	}
}
func (c *Counters) IncWriteBack() {
	if c != nil {
		atomic.AddUint64(&c.WriteBacks, 1)
	}
}

var (
	faultDesc  = prometheus.NewDesc("govmcore_page_faults_total", "Total page faults resolved.", nil, nil)
	evictDesc  = prometheus.NewDesc("govmcore_evictions_total", "Total frame evictions performed.", nil, nil)
	swOutDesc  = prometheus.NewDesc("govmcore_swap_outs_total", "Total pages written to swap.", nil, nil)
	swInDesc   = prometheus.NewDesc("govmcore_swap_ins_total", "Total pages read back from swap.", nil, nil)
	readDesc   = prometheus.NewDesc("govmcore_file_reads_total", "Total lazy-load reads from a backing file.", nil, nil)
	writebDesc = prometheus.NewDesc("govmcore_writebacks_total", "Total dirty-page write-backs to a backing file.", nil, nil)
)

/// Collector adapts Counters to prometheus.Collector.
type Collector struct {
	C *Counters
}

func (Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- faultDesc
	ch <- evictDesc
	ch <- swOutDesc
	ch <- swInDesc
	ch <- readDesc
	ch <- writebDesc
}

func (col Collector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(faultDesc, prometheus.CounterValue, float64(atomic.LoadUint64(&col.C.PageFaults)))
	ch <- prometheus.MustNewConstMetric(evictDesc, prometheus.CounterValue, float64(atomic.LoadUint64(&col.C.Evictions)))
	ch <- prometheus.MustNewConstMetric(swOutDesc, prometheus.CounterValue, float64(atomic.LoadUint64(&col.C.SwapOuts)))
	ch <- prometheus.MustNewConstMetric(swInDesc, prometheus.CounterValue, float64(atomic.LoadUint64(&col.C.SwapIns)))
	ch <- prometheus.MustNewConstMetric(readDesc, prometheus.CounterValue, float64(atomic.LoadUint64(&col.C.FileReads)))
	ch <- prometheus.MustNewConstMetric(writebDesc, prometheus.CounterValue, float64(atomic.LoadUint64(&col.C.WriteBacks)))
}
