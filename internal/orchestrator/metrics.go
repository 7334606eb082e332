package orchestrator

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestlake_runs_total",
			Help: "Total number of orchestrator runs by final status",
		},
		[]string{"status"},
	)

	runDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ingestlake_run_duration_seconds",
			Help:    "Wall-clock duration of a complete orchestrator run",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600, 7200},
		},
	)

	batchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ingestlake_batch_duration_seconds",
			Help:    "Time spent raw-loading and staging one batch",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"phase"},
	)

	rowsReadTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestlake_rows_read_total",
			Help: "Total rows read from extract files during raw load",
		},
		[]string{"extract_type"},
	)

	rowsIngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestlake_rows_ingested_total",
			Help: "Total rows upserted into raw or stg tables",
		},
		[]string{"extract_type", "zone"},
	)

	rowsRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestlake_rows_rejected_total",
			Help: "Total rows rejected by the staging transformer, by category",
		},
		[]string{"extract_type", "category"},
	)

	filesProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestlake_files_processed_total",
			Help: "Total extract files reaching a terminal raw-load status",
		},
		[]string{"extract_type", "outcome"},
	)

	activeWorkers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ingestlake_active_workers",
			Help: "Number of in-flight workers in a bounded pool",
		},
		[]string{"pool"},
	)

	lastRunTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ingestlake_last_run_timestamp_seconds",
			Help: "Unix timestamp of the most recently completed run",
		},
	)
)

// poolGauge tracks the number of workers currently holding a semaphore
// slot in a bounded pool, for activeWorkers. It exists because
// golang.org/x/sync/semaphore exposes no introspection of its own.
type poolGauge struct {
	pool string
	mu   sync.Mutex
	n    int
}

func newPoolGauge(pool string) *poolGauge {
	return &poolGauge{pool: pool}
}

func (g *poolGauge) inc() {
	g.mu.Lock()
	g.n++
	activeWorkers.WithLabelValues(g.pool).Set(float64(g.n))
	g.mu.Unlock()
}

func (g *poolGauge) dec() {
	g.mu.Lock()
	g.n--
	activeWorkers.WithLabelValues(g.pool).Set(float64(g.n))
	g.mu.Unlock()
}

func recordRunOutcome(status string, duration time.Duration, completedAt time.Time) {
	runsTotal.WithLabelValues(status).Inc()
	runDuration.Observe(duration.Seconds())
	lastRunTimestamp.Set(float64(completedAt.Unix()))
}

func recordBatchPhaseDuration(phase string, duration time.Duration) {
	batchDuration.WithLabelValues(phase).Observe(duration.Seconds())
}
