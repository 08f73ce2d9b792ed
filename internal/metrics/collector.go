// Package metrics exposes the core's per-flow statistics and the RMT's
// deferred-queue drop counter as Prometheus metrics, following the Describe/Collect pattern
// the example pack's TCPInfoCollector uses for per-connection gauges.
package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/samsneelam1981/rlite-go/internal/flow"
)

// RMTStats is the narrow view Collector needs into an RMT, kept as an
// interface so this package does not need to import rmt directly.
type RMTStats interface {
	Drops() uint64
}

// Collector is a prometheus.Collector over every registered flow's
// Stats plus the shared RMT's deferred-queue drop counter. Flow
// registration and removal are independent of Prometheus scrape timing:
// Collect takes a stable snapshot of the registered set under its own
// lock before reading each flow's (lock-free) Stats.
type Collector struct {
	mu    sync.Mutex
	flows map[string]*flow.Flow
	rmt   RMTStats

	txPDUs, txBytes, rxPDUs, rxBytes, rxErr, retransmissions, drops *prometheus.Desc
	cwqLen, rtxqLen, seqqLen                                        *prometheus.Desc
	rmtDrops                                                        *prometheus.Desc
}

var flowLabels = []string{"handle", "local_cep", "remote_cep", "remote_addr"}

// New builds a Collector reporting on rmt's dropped-PDU counter in
// addition to whatever flows are later registered with AddFlow.
func New(rmt RMTStats) *Collector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc("rlite_flow_"+name, help, flowLabels, nil)
	}
	return &Collector{
		flows:           make(map[string]*flow.Flow),
		rmt:             rmt,
		txPDUs:          desc("tx_pdus_total", "Data PDUs transmitted on this flow."),
		txBytes:         desc("tx_bytes_total", "Payload bytes transmitted on this flow."),
		rxPDUs:          desc("rx_pdus_total", "Data PDUs received on this flow."),
		rxBytes:         desc("rx_bytes_total", "Payload bytes received on this flow."),
		rxErr:           desc("rx_errors_total", "PDUs dropped on receipt (duplicate, gap, or reorder overflow)."),
		retransmissions: desc("retransmissions_total", "PDUs resent by the retransmission timer."),
		drops:           desc("drops_total", "PDUs dropped for any reason, counted on the flow."),
		cwqLen:          desc("cwq_length", "Current closed-window queue length."),
		rtxqLen:         desc("rtxq_length", "Current retransmission queue length."),
		seqqLen:         desc("seqq_length", "Current sequencing (reorder) queue length."),
		rmtDrops: prometheus.NewDesc(
			"rlite_rmt_drops_total",
			"PDUs dropped for deferred-transmission queue overflow.",
			nil, nil,
		),
	}
}

// AddFlow registers f so its stats appear in the next Collect.
func (c *Collector) AddFlow(f *flow.Flow) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flows[f.Handle] = f
}

// RemoveFlow unregisters the flow with the given handle, called when a
// flow is destroyed.
func (c *Collector) RemoveFlow(handle string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.flows, handle)
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.txPDUs
	ch <- c.txBytes
	ch <- c.rxPDUs
	ch <- c.rxBytes
	ch <- c.rxErr
	ch <- c.retransmissions
	ch <- c.drops
	ch <- c.cwqLen
	ch <- c.rtxqLen
	ch <- c.seqqLen
	ch <- c.rmtDrops
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	snapshot := make([]*flow.Flow, 0, len(c.flows))
	for _, f := range c.flows {
		snapshot = append(snapshot, f)
	}
	c.mu.Unlock()

	for _, f := range snapshot {
		stats := f.StatsSnapshot()
		cwq, rtxq, seqq := f.QueueLens()
		labels := []string{
			f.Handle,
			strconv.FormatUint(f.LocalCEP, 10),
			strconv.FormatUint(f.RemoteCEP, 10),
			strconv.FormatUint(f.RemoteAddr, 10),
		}

		ch <- prometheus.MustNewConstMetric(c.txPDUs, prometheus.CounterValue, float64(stats.TxPDUs), labels...)
		ch <- prometheus.MustNewConstMetric(c.txBytes, prometheus.CounterValue, float64(stats.TxBytes), labels...)
		ch <- prometheus.MustNewConstMetric(c.rxPDUs, prometheus.CounterValue, float64(stats.RxPDUs), labels...)
		ch <- prometheus.MustNewConstMetric(c.rxBytes, prometheus.CounterValue, float64(stats.RxBytes), labels...)
		ch <- prometheus.MustNewConstMetric(c.rxErr, prometheus.CounterValue, float64(stats.RxErr), labels...)
		ch <- prometheus.MustNewConstMetric(c.retransmissions, prometheus.CounterValue, float64(stats.Retransmissions), labels...)
		ch <- prometheus.MustNewConstMetric(c.drops, prometheus.CounterValue, float64(stats.Drops), labels...)
		ch <- prometheus.MustNewConstMetric(c.cwqLen, prometheus.GaugeValue, float64(cwq), labels...)
		ch <- prometheus.MustNewConstMetric(c.rtxqLen, prometheus.GaugeValue, float64(rtxq), labels...)
		ch <- prometheus.MustNewConstMetric(c.seqqLen, prometheus.GaugeValue, float64(seqq), labels...)
	}

	if c.rmt != nil {
		ch <- prometheus.MustNewConstMetric(c.rmtDrops, prometheus.CounterValue, float64(c.rmt.Drops()))
	}
}
