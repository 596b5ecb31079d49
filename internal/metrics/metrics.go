package metrics

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Event Store metrics
	storeOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncd_store_operations_total",
			Help: "Total number of event store operations by kind",
		},
		[]string{"operation"},
	)

	storeOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "syncd_store_operation_duration_seconds",
			Help:    "Duration of event store operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	storeErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncd_store_errors_total",
			Help: "Total number of event store errors by kind",
		},
		[]string{"operation"},
	)

	// Realtime sync metrics
	finalizedBlockNumber = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "syncd_finalized_block_number",
			Help: "Current local finality checkpoint, per network",
		},
		[]string{"network"},
	)

	latestBlockNumber = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "syncd_latest_block_number",
			Help: "Most recently accepted local head block number, per network",
		},
		[]string{"network"},
	)

	blocksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncd_blocks_processed_total",
			Help: "Total number of blocks classified by the realtime sync service",
		},
		[]string{"network", "classification"},
	)

	reorgsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncd_reorgs_detected_total",
			Help: "Total number of reorgs detected, by depth class",
		},
		[]string{"network", "depth_class"},
	)

	reorgDepth = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "syncd_reorg_depth_blocks",
			Help:    "Depth (in blocks) of detected reorgs",
			Buckets: prometheus.LinearBuckets(1, 2, 10),
		},
		[]string{"network"},
	)

	finalityAdvances = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncd_finality_advances_total",
			Help: "Total number of times the finality checkpoint advanced",
		},
		[]string{"network"},
	)

	// Task queue metrics
	queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "syncd_queue_depth",
			Help: "Current number of pending tasks in the realtime sync queue",
		},
	)

	queueTasksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncd_queue_tasks_processed_total",
			Help: "Total number of tasks drained from the queue, by outcome",
		},
		[]string{"outcome"},
	)

	// System metrics
	Uptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "syncd_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)

	Errors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncd_errors_total",
			Help: "Total number of errors by component and severity",
		},
		[]string{"component", "severity"},
	)

	ComponentHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "syncd_component_health",
			Help: "Component health status (1=healthy, 0=unhealthy)",
		},
		[]string{"component"},
	)

	Goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "syncd_goroutines",
			Help: "Number of active goroutines",
		},
	)

	MemoryUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "syncd_memory_usage_bytes",
			Help: "Memory usage statistics",
		},
		[]string{"type"},
	)

	startTime = time.Now()
)

func StoreOperationInc(operation string) {
	storeOperations.WithLabelValues(operation).Inc()
}

func StoreOperationDuration(operation string, duration time.Duration) {
	storeOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func StoreErrorInc(operation string) {
	storeErrors.WithLabelValues(operation).Inc()
}

func FinalizedBlockNumberSet(network string, blockNum uint64) {
	finalizedBlockNumber.WithLabelValues(network).Set(float64(blockNum))
}

func LatestBlockNumberSet(network string, blockNum uint64) {
	latestBlockNumber.WithLabelValues(network).Set(float64(blockNum))
}

func BlocksProcessedInc(network, classification string) {
	blocksProcessed.WithLabelValues(network, classification).Inc()
}

// ReorgDetectedInc records a detected reorg. depthClass should be "shallow"
// or "deep" per the realtime sync service's classification.
func ReorgDetectedInc(network, depthClass string) {
	reorgsDetected.WithLabelValues(network, depthClass).Inc()
}

func ReorgDepthLog(network string, depth int) {
	reorgDepth.WithLabelValues(network).Observe(float64(depth))
}

func FinalityAdvanceInc(network string) {
	finalityAdvances.WithLabelValues(network).Inc()
}

func QueueDepthSet(depth int) {
	queueDepth.Set(float64(depth))
}

func QueueTaskProcessedInc(outcome string) {
	queueTasksProcessed.WithLabelValues(outcome).Inc()
}

func ComponentHealthSet(component string, healthy bool) {
	boolAsFloat := float64(1)
	if !healthy {
		boolAsFloat = 0
	}

	ComponentHealth.WithLabelValues(component).Set(boolAsFloat)
}

// UpdateSystemMetrics updates runtime system metrics.
// This should be called periodically (e.g., every 15 seconds).
func UpdateSystemMetrics() {
	Uptime.Set(time.Since(startTime).Seconds())
	Goroutines.Set(float64(runtime.NumGoroutine()))

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	MemoryUsage.WithLabelValues("alloc").Set(float64(m.Alloc))
	MemoryUsage.WithLabelValues("total_alloc").Set(float64(m.TotalAlloc))
	MemoryUsage.WithLabelValues("sys").Set(float64(m.Sys))
	MemoryUsage.WithLabelValues("heap_inuse").Set(float64(m.HeapInuse))
}
