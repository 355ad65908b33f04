package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the service
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// OptimizationRuns counts optimization runs by outcome (ok, failed, matrix_unavailable)
	OptimizationRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "optimization_runs_total", Help: "Optimization runs by outcome."},
		[]string{"outcome"},
	)
	// OptimizationDuration records wall time of successful runs in seconds
	OptimizationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "optimization_duration_seconds", Help: "Optimization run duration in seconds.", Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}},
	)
	// OptimizationGenerations records generations run per optimization
	OptimizationGenerations = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "optimization_generations", Help: "Generations per optimization run.", Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500}},
	)
	// BestFitness is the fitness of the latest finished run
	BestFitness = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "optimization_best_fitness", Help: "Best fitness of the latest optimization run."},
	)
	// UnservedReservations is the unserved count of the latest finished run
	UnservedReservations = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "optimization_unserved_reservations", Help: "Unserved reservations in the latest optimization run."},
	)
	// RejectedInputs counts reservations and vehicles rejected by validation
	RejectedInputs = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "optimization_rejected_inputs_total", Help: "Inputs rejected before optimization."},
		[]string{"kind"},
	)
	// Insertions counts dynamic reservation insertions by outcome (ok, rejected, invalid)
	Insertions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "reservation_insertions_total", Help: "Dynamic reservation insertions by outcome."},
		[]string{"outcome"},
	)
	// MatrixFetches counts cost matrix fetches by provider and outcome
	MatrixFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "matrix_fetches_total", Help: "Cost matrix fetches by provider and outcome."},
		[]string{"provider", "outcome"},
	)
)

// RegisterDefault registers collectors to the service registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(OptimizationRuns)
		Registry.MustRegister(OptimizationDuration)
		Registry.MustRegister(OptimizationGenerations)
		Registry.MustRegister(BestFitness)
		Registry.MustRegister(UnservedReservations)
		Registry.MustRegister(RejectedInputs)
		Registry.MustRegister(Insertions)
		Registry.MustRegister(MatrixFetches)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
