package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/downfa11-org/bufferserver/util"
)

func init() {
	prometheus.MustRegister(RecordsAppended, RecordsDistributed, RecordsFiltered, RecordsDrained, DrainLatency, CatchUpDuration)
	prometheus.MustRegister(ConsumerDrops, ConsumerSendFailures, ActiveGroups, ActiveConsumers)
}

func StartMetricsServer(port int) {
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		addr := fmt.Sprintf(":%d", port)
		util.Info("📈 Prometheus exporter listening on %s", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			util.Error("Failed to start metrics server: %v", err)
		}
	}()
}

// ObserveDrain records one drain pass of a group cursor.
func ObserveDrain(records int, elapsedSeconds float64) {
	if records <= 0 {
		return
	}
	RecordsDrained.Add(float64(records))
	DrainLatency.Observe(elapsedSeconds)
}
