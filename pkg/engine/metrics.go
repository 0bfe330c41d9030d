package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ReadycheckPoolCurrent tracks the latest sampled amount for a pool
	ReadycheckPoolCurrent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "readycheck_pool_current",
			Help: "Latest sampled amount for a resource pool",
		},
		[]string{"pool_id"},
	)

	// ReadycheckLearnedRate tracks the conservative per-tick rate for a bucket
	ReadycheckLearnedRate = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "readycheck_learned_rate",
			Help: "Conservative learned regen amount per tick for a pool phase",
		},
		[]string{"pool_id", "phase"},
	)

	// ReadycheckPredictionSeconds tracks the last predicted wait per ability
	ReadycheckPredictionSeconds = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "readycheck_prediction_seconds",
			Help: "Last predicted seconds until an ability is affordable",
		},
		[]string{"ability_id"},
	)

	// ReadycheckTicksTotal counts regen ticks attributed to a pool phase
	ReadycheckTicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "readycheck_ticks_total",
			Help: "Total regen ticks observed per pool phase",
		},
		[]string{"pool_id", "phase"},
	)

	// ReadycheckGainsFilteredTotal counts gains excluded from rate learning
	ReadycheckGainsFilteredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "readycheck_gains_filtered_total",
			Help: "Total observed gains filtered out of rate learning",
		},
		[]string{"pool_id", "kind"},
	)
)

func init() {
	// Register metrics with the default registry
	prometheus.MustRegister(ReadycheckPoolCurrent)
	prometheus.MustRegister(ReadycheckLearnedRate)
	prometheus.MustRegister(ReadycheckPredictionSeconds)
	prometheus.MustRegister(ReadycheckTicksTotal)
	prometheus.MustRegister(ReadycheckGainsFilteredTotal)
}
