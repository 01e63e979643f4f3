package obfuscation

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsOnce sync.Once
	gauges      *prometheus.GaugeVec
)

// gaugeNames are the counter dimensions exported alongside pkg/worker's
// metrics under the same registry.
var gaugeNames = []string{"packets_out", "packets_in", "fake_packets", "padding_bytes", "fake_bytes"}

func registerMetrics() {
	metricsOnce.Do(func() {
		gauges = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "corenet",
			Subsystem: "obfuscation",
			Name:      "counters",
			Help:      "Wire-level obfuscation counters by dimension.",
		}, []string{"dimension"})
		prometheus.MustRegister(gauges)
	})
}

// PublishMetrics snapshots e's atomic counters into the shared prometheus
// registry; callers invoke this periodically (e.g. from the same ticker
// that drives pkg/worker's activity check).
func (e *Engine) PublishMetrics() {
	registerMetrics()
	gauges.WithLabelValues("packets_out").Set(float64(e.counters.PacketsOut.Load()))
	gauges.WithLabelValues("packets_in").Set(float64(e.counters.PacketsIn.Load()))
	gauges.WithLabelValues("fake_packets").Set(float64(e.counters.FakePackets.Load()))
	gauges.WithLabelValues("padding_bytes").Set(float64(e.counters.PaddingBytes.Load()))
	gauges.WithLabelValues("fake_bytes").Set(float64(e.counters.FakeBytes.Load()))
}
