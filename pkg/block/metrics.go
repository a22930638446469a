package block

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registered on the default registry, which the CometBFT node's
// instrumentation listener already exposes; no extra HTTP server needed.
var (
	metricBlockHeight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chaincore",
		Subsystem: "block",
		Name:      "height",
		Help:      "Height of the most recently finalized block.",
	})
	metricTxs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chaincore",
		Subsystem: "block",
		Name:      "txs_total",
		Help:      "Transactions finalized, by outcome.",
	}, []string{"result"})
	metricGasUsed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chaincore",
		Subsystem: "block",
		Name:      "gas_used_total",
		Help:      "Total gas consumed by finalized transactions.",
	})
	metricCrons = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chaincore",
		Subsystem: "block",
		Name:      "crons_total",
		Help:      "Cronjobs fired during block finalization, by outcome.",
	}, []string{"result"})
)

func recordBlockMetrics(height uint64, out *Outcome) {
	metricBlockHeight.Set(float64(height))
	for _, txr := range out.Txs {
		metricTxs.WithLabelValues(resultLabel(txr.Success)).Inc()
		metricGasUsed.Add(float64(txr.GasUsed))
	}
	for _, cr := range out.Crons {
		metricCrons.WithLabelValues(resultLabel(cr.Error == "")).Inc()
	}
}

func resultLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
